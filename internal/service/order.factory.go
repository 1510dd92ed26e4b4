package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/repo"
)

// OrderFactory turns a paid checkout session into an order.
type OrderFactory interface {
	// Commit re-validates stock, decrements it, creates the order, empties the
	// cart and marks the session verified in one transaction. Committing a
	// session that already has an order returns that order.
	Commit(ctx context.Context, session *domain.CheckoutSession) (*domain.Order, error)
}

type orderFactory struct {
	db          *sql.DB
	ledger      repo.StockLedger
	orderRepo   repo.OrderRepo
	cartRepo    repo.CartRepo
	sessionRepo repo.SessionRepo
	outboxRepo  repo.OutboxRepo
	carts       CartService
	settings
}

func NewOrderFactory(
	db *sql.DB,
	ledger repo.StockLedger,
	orderRepo repo.OrderRepo,
	cartRepo repo.CartRepo,
	sessionRepo repo.SessionRepo,
	outboxRepo repo.OutboxRepo,
	carts CartService,
	opts ...Option,
) OrderFactory {
	return &orderFactory{
		db:          db,
		ledger:      ledger,
		orderRepo:   orderRepo,
		cartRepo:    cartRepo,
		sessionRepo: sessionRepo,
		outboxRepo:  outboxRepo,
		carts:       carts,
		settings:    newSettings(opts),
	}
}

func (f *orderFactory) Commit(ctx context.Context, session *domain.CheckoutSession) (order *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "order.commit")
	span.SetAttributes(attribute.String("session.id", session.ID.String()))
	defer func() { endSpan(span, err) }()

	start := f.now()

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	status, err := f.sessionRepo.LockStatus(ctx, tx, session.ID)
	if err != nil {
		return nil, err
	}
	switch status {
	case domain.SessionPending:
	case domain.SessionVerified:
		_ = tx.Rollback()
		return f.committed(ctx, session)
	case domain.SessionExpired:
		return nil, domain.ErrSessionExpired
	default:
		return nil, fmt.Errorf("%w: cannot commit %s session %s", domain.ErrInvalidTransition, status, session.ID)
	}

	if err := f.ledger.Revalidate(ctx, tx, session.Items); err != nil {
		return nil, err
	}
	for _, line := range session.Items {
		if err := f.ledger.ReserveAndDecrement(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return nil, err
		}
	}

	order = domain.NewOrderFromSession(session, f.now())
	if err := f.orderRepo.CreateOrder(ctx, tx, order); err != nil {
		if errors.Is(err, domain.ErrAlreadyCommitted) {
			_ = tx.Rollback()
			return f.committed(ctx, session)
		}
		return nil, err
	}

	if err := f.cartRepo.Empty(ctx, tx, session.CartID); err != nil {
		return nil, err
	}

	moved, err := f.sessionRepo.Transition(ctx, tx, session.ID, domain.SessionVerified)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, fmt.Errorf("%w: session %s left pending while locked", domain.ErrInvalidTransition, session.ID)
	}

	payload, err := json.Marshal(domain.NewOrderCreatedPayload(order))
	if err != nil {
		return nil, fmt.Errorf("encode order event: %w", err)
	}
	if err := f.outboxRepo.Insert(ctx, tx, &domain.OutboxEvent{
		AggregateID: order.ID.String(),
		EventType:   domain.EventOrderCreated,
		Payload:     payload,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	session.Status = domain.SessionVerified

	f.metrics.OrderCommitted(f.now().Sub(start).Seconds())
	f.log(ctx).Info("order committed",
		zap.String("order_id", order.ID.String()),
		zap.String("session_id", session.ID.String()),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.TotalPrice.StringFixed(2)),
	)

	if err := f.carts.Refresh(ctx, session.UserID); err != nil {
		f.log(ctx).Warn("refresh cart after commit", zap.Int64("user_id", session.UserID), zap.Error(err))
	}
	return order, nil
}

// committed loads the order produced by an earlier commit of session.
func (f *orderFactory) committed(ctx context.Context, session *domain.CheckoutSession) (*domain.Order, error) {
	order, err := f.orderRepo.FindBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("session %s is verified but has no order", session.ID)
	}
	session.Status = domain.SessionVerified
	return order, nil
}
