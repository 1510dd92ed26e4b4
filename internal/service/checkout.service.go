package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/infrastructure/payment"
	"github.com/chatpongdeepet/iot-shop/internal/repo"
)

// CheckoutService is the CheckoutSessionManager.
type CheckoutService interface {
	// CreateSession returns the cart's live pending session if there is one,
	// otherwise snapshots the cart and registers a new session with the provider.
	CreateSession(ctx context.Context, userID int64) (*domain.CheckoutSession, error)
	// Expire moves a pending session past its deadline to expired.
	Expire(ctx context.Context, session *domain.CheckoutSession) error
}

type checkoutService struct {
	cartRepo    repo.CartRepo
	productRepo repo.ProductRepo
	sessionRepo repo.SessionRepo
	provider    payment.Provider
	ttl         time.Duration
	currency    string
	settings
}

func NewCheckoutService(
	cartRepo repo.CartRepo,
	productRepo repo.ProductRepo,
	sessionRepo repo.SessionRepo,
	provider payment.Provider,
	ttl time.Duration,
	currency string,
	opts ...Option,
) CheckoutService {
	return &checkoutService{
		cartRepo:    cartRepo,
		productRepo: productRepo,
		sessionRepo: sessionRepo,
		provider:    provider,
		ttl:         ttl,
		currency:    currency,
		settings:    newSettings(opts),
	}
}

func (s *checkoutService) CreateSession(ctx context.Context, userID int64) (session *domain.CheckoutSession, err error) {
	ctx, span := tracer.Start(ctx, "checkout.create_session")
	span.SetAttributes(attribute.Int64("user.id", userID))
	defer func() {
		s.metrics.CheckoutSession(resultLabel(err))
		endSpan(span, err)
	}()

	cart, err := s.cartRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil || cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	existing, err := s.sessionRepo.FindPendingByCart(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.IsExpiredAt(s.now()) {
			return s.ensureRedirect(ctx, existing)
		}
		if err := s.Expire(ctx, existing); err != nil {
			return nil, err
		}
	}

	products, err := s.productRepo.FindByIDs(ctx, cart.ProductIDs())
	if err != nil {
		return nil, err
	}
	lines, err := domain.SnapshotCart(cart, products)
	if err != nil {
		return nil, err
	}
	var shortages []domain.Shortage
	for _, l := range lines {
		if p := products[l.ProductID]; !p.Covers(l.Quantity) {
			shortages = append(shortages, domain.Shortage{ProductID: l.ProductID, Requested: l.Quantity, Available: p.Stock})
		}
	}
	if len(shortages) > 0 {
		return nil, domain.InsufficientStock(shortages...)
	}

	now := s.now()
	session = &domain.CheckoutSession{
		ID:          uuid.New(),
		CartID:      cart.ID,
		UserID:      userID,
		Items:       lines,
		TotalPrice:  domain.SumLines(lines),
		Currency:    s.currency,
		Status:      domain.SessionPending,
		ExternalRef: domain.NewExternalRef(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		UpdatedAt:   now,
	}

	// the partial unique index admits one pending row per cart; a concurrent
	// creator that loses the insert returns the winner's session
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		if errors.Is(err, domain.ErrPendingSessionExists) {
			winner, findErr := s.sessionRepo.FindPendingByCart(ctx, cart.ID)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				return s.ensureRedirect(ctx, winner)
			}
		}
		return nil, err
	}

	redirect, err := s.handoff(ctx, session)
	if err == nil {
		err = s.sessionRepo.SetRedirectRef(ctx, session.ID, redirect)
	}
	if err != nil {
		s.discard(ctx, session)
		return nil, err
	}
	session.RedirectRef = redirect

	s.log(ctx).Info("checkout session created",
		zap.String("session_id", session.ID.String()),
		zap.String("external_ref", session.ExternalRef),
		zap.Int64("user_id", userID),
		zap.String("total", session.TotalPrice.StringFixed(2)),
	)
	return session, nil
}

// ensureRedirect completes the provider handoff for a pending session another
// request claimed but has not finished registering. The provider is
// idempotent per external ref, so both requests receive the same redirect.
func (s *checkoutService) ensureRedirect(ctx context.Context, session *domain.CheckoutSession) (*domain.CheckoutSession, error) {
	if session.RedirectRef != "" {
		return session, nil
	}
	redirect, err := s.handoff(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := s.sessionRepo.SetRedirectRef(ctx, session.ID, redirect); err != nil {
		return nil, err
	}
	session.RedirectRef = redirect
	return session, nil
}

// handoff registers session with the provider and returns its redirect ref.
func (s *checkoutService) handoff(ctx context.Context, session *domain.CheckoutSession) (string, error) {
	redirect, err := s.provider.CreateSession(ctx, payment.PayableSession{
		ExternalRef: session.ExternalRef,
		Amount:      domain.MinorUnits(session.TotalPrice),
		Currency:    session.Currency,
		ExpiresAt:   session.ExpiresAt,
		Lines:       session.Items,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
		return "", err
	}
	return redirect, nil
}

// discard drops a claimed pending row whose handoff could not be recorded.
func (s *checkoutService) discard(ctx context.Context, session *domain.CheckoutSession) {
	if err := s.sessionRepo.Discard(context.WithoutCancel(ctx), session.ID); err != nil {
		s.log(ctx).Error("discard checkout session", zap.String("session_id", session.ID.String()), zap.Error(err))
	}
}

func (s *checkoutService) Expire(ctx context.Context, session *domain.CheckoutSession) error {
	if !session.IsExpiredAt(s.now()) {
		return fmt.Errorf("%w: session %s has not reached its deadline", domain.ErrInvalidTransition, session.ID)
	}

	moved, err := s.sessionRepo.Transition(ctx, nil, session.ID, domain.SessionExpired)
	if err != nil {
		return err
	}
	if !moved {
		current, err := s.sessionRepo.FindByID(ctx, session.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrSessionNotFound
		}
		session.Status = current.Status
		if current.Status == domain.SessionExpired {
			return nil
		}
		return fmt.Errorf("%w: session %s is %s", domain.ErrInvalidTransition, session.ID, current.Status)
	}

	session.Status = domain.SessionExpired
	s.log(ctx).Info("checkout session expired",
		zap.String("session_id", session.ID.String()),
		zap.String("external_ref", session.ExternalRef),
	)
	return nil
}
