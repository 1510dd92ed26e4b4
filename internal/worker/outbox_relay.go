package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/infrastructure/broker"
	"github.com/chatpongdeepet/iot-shop/internal/metrics"
)

const relayBatch = 50

type outboxStore interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id int64) error
}

// OutboxRelay publishes events written by the order commit transaction.
// Delivery is at least once; consumers dedupe on the order id.
type OutboxRelay struct {
	store     outboxStore
	publisher broker.Publisher
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewOutboxRelay(store outboxStore, publisher broker.Publisher, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *OutboxRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxRelay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		metrics:   m,
		logger:    logger.Named("outbox"),
	}
}

func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Warn("outbox relay pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce publishes one batch in insertion order and returns how many events
// were marked processed. It stops at the first publish failure so later
// events never overtake an earlier one.
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.FetchUnprocessed(ctx, relayBatch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, event := range events {
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.metrics.OutboxEvent("failed")
			return sent, err
		}
		if err := r.store.MarkProcessed(ctx, event.ID); err != nil {
			r.metrics.OutboxEvent("unmarked")
			return sent, err
		}
		r.metrics.OutboxEvent("published")
		r.logger.Debug("event published",
			zap.Int64("event_id", event.ID),
			zap.String("event_type", event.EventType),
			zap.String("aggregate_id", event.AggregateID),
		)
		sent++
	}
	return sent, nil
}
