package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/metrics"
)

type memOutbox struct {
	events    []domain.OutboxEvent
	processed []int64
}

func (m *memOutbox) FetchUnprocessed(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	if len(m.events) > limit {
		return m.events[:limit], nil
	}
	return m.events, nil
}

func (m *memOutbox) MarkProcessed(_ context.Context, id int64) error {
	m.processed = append(m.processed, id)
	return nil
}

type fakePublisher struct {
	failOn    int64
	published []int64
}

func (p *fakePublisher) Publish(_ context.Context, e domain.OutboxEvent) error {
	if e.ID == p.failOn {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, e.ID)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func outboxEvents(ids ...int64) []domain.OutboxEvent {
	events := make([]domain.OutboxEvent, 0, len(ids))
	for _, id := range ids {
		events = append(events, domain.OutboxEvent{ID: id, AggregateID: "order", EventType: domain.EventOrderCreated})
	}
	return events
}

func TestOutboxRelay_PublishesAndMarks(t *testing.T) {
	store := &memOutbox{events: outboxEvents(1, 2, 3)}
	pub := &fakePublisher{}
	m := metrics.New(prometheus.NewRegistry())
	relay := NewOutboxRelay(store, pub, 0, m, zaptest.NewLogger(t))

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{1, 2, 3}, pub.published)
	assert.Equal(t, []int64{1, 2, 3}, store.processed)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OutboxPublished.WithLabelValues("published")))
}

func TestOutboxRelay_StopsAtFirstFailure(t *testing.T) {
	store := &memOutbox{events: outboxEvents(1, 2, 3)}
	pub := &fakePublisher{failOn: 2}
	m := metrics.New(prometheus.NewRegistry())
	relay := NewOutboxRelay(store, pub, 0, m, nil)

	n, err := relay.RunOnce(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, store.processed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxPublished.WithLabelValues("failed")))
}
