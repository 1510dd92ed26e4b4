package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/service"
)

const reconcileBatch = 100

type pendingSessions interface {
	FindPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]domain.CheckoutSession, error)
}

type sessionExpirer interface {
	Expire(ctx context.Context, session *domain.CheckoutSession) error
}

type sessionVerifier interface {
	VerifySession(ctx context.Context, session *domain.CheckoutSession) (*service.VerifyResult, error)
}

// ReconcileStats summarizes one pass over the stuck pending sessions.
type ReconcileStats struct {
	Scanned  int
	Expired  int
	Verified int
	Failed   int
	Errors   int
}

// ReconciliationWorker settles checkout sessions whose user never came back
// to the verify page: it expires the ones past their deadline and asks the
// provider about the rest.
type ReconciliationWorker struct {
	sessions pendingSessions
	checkout sessionExpirer
	verifier sessionVerifier
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewReconciliationWorker(
	sessions pendingSessions,
	checkout sessionExpirer,
	verifier sessionVerifier,
	interval time.Duration,
	grace time.Duration,
	logger *zap.Logger,
) *ReconciliationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationWorker{
		sessions: sessions,
		checkout: checkout,
		verifier: verifier,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		logger:   logger.Named("reconciliation"),
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("reconciliation worker started",
		zap.Duration("interval", rw.interval),
		zap.Duration("grace", rw.grace),
	)

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := rw.RunOnce(ctx); err != nil {
				rw.logger.Error("reconciliation failed", zap.Error(err))
			}
		}
	}
}

// RunOnce handles pending sessions older than the grace period. Per-session
// errors are logged and counted; the session is retried on the next pass.
func (rw *ReconciliationWorker) RunOnce(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats
	now := rw.now()

	stuck, err := rw.sessions.FindPendingCreatedBefore(ctx, now.Add(-rw.grace), reconcileBatch)
	if err != nil {
		return stats, err
	}
	if len(stuck) == 0 {
		return stats, nil
	}
	rw.logger.Info("found pending checkout sessions", zap.Int("count", len(stuck)))

	for i := range stuck {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		session := &stuck[i]
		stats.Scanned++
		log := rw.logger.With(
			zap.String("session_id", session.ID.String()),
			zap.String("external_ref", session.ExternalRef),
		)

		if session.IsExpiredAt(now) {
			err := rw.checkout.Expire(ctx, session)
			switch {
			case err == nil:
				stats.Expired++
			case errors.Is(err, domain.ErrInvalidTransition):
				// settled by another path since it was listed
				log.Debug("session already settled", zap.String("status", string(session.Status)))
			default:
				stats.Errors++
				log.Warn("expire session", zap.Error(err))
			}
			continue
		}

		res, err := rw.verifier.VerifySession(ctx, session)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrSessionExpired):
			stats.Expired++
			continue
		case errors.Is(err, domain.ErrOutOfStock):
			// paid but unfulfillable; stays pending for manual follow-up
			stats.Errors++
			log.Error("paid session cannot be fulfilled", zap.Error(err))
			continue
		default:
			stats.Errors++
			log.Warn("verify session", zap.Error(err))
			continue
		}

		switch res.Session.Status {
		case domain.SessionVerified:
			stats.Verified++
			log.Info("recovered paid session", zap.Stringer("order_id", res.Order.ID))
		case domain.SessionFailed:
			stats.Failed++
		}
	}
	return stats, nil
}
