package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/infrastructure/payment"
	"github.com/chatpongdeepet/iot-shop/internal/repo"
)

type VerifyResult struct {
	Session        *domain.CheckoutSession
	ProviderStatus domain.ProviderStatus
	// Order is set once the session is verified.
	Order *domain.Order
}

// PaymentVerifier reconciles a checkout session with the provider. Verify is
// safe to call any number of times for the same external ref.
type PaymentVerifier interface {
	Verify(ctx context.Context, externalRef string) (*VerifyResult, error)
	VerifySession(ctx context.Context, session *domain.CheckoutSession) (*VerifyResult, error)
}

type paymentVerifier struct {
	sessionRepo repo.SessionRepo
	orderRepo   repo.OrderRepo
	provider    payment.Provider
	checkout    CheckoutService
	factory     OrderFactory
	settings
}

func NewPaymentVerifier(
	sessionRepo repo.SessionRepo,
	orderRepo repo.OrderRepo,
	provider payment.Provider,
	checkout CheckoutService,
	factory OrderFactory,
	opts ...Option,
) PaymentVerifier {
	return &paymentVerifier{
		sessionRepo: sessionRepo,
		orderRepo:   orderRepo,
		provider:    provider,
		checkout:    checkout,
		factory:     factory,
		settings:    newSettings(opts),
	}
}

func (v *paymentVerifier) Verify(ctx context.Context, externalRef string) (*VerifyResult, error) {
	session, err := v.sessionRepo.FindByExternalRef(ctx, externalRef)
	if err != nil {
		return nil, err
	}
	if session == nil {
		v.metrics.Verification("not_found")
		return nil, domain.ErrSessionNotFound
	}
	return v.VerifySession(ctx, session)
}

func (v *paymentVerifier) VerifySession(ctx context.Context, session *domain.CheckoutSession) (result *VerifyResult, err error) {
	ctx, span := tracer.Start(ctx, "payment.verify")
	span.SetAttributes(
		attribute.String("session.id", session.ID.String()),
		attribute.String("session.external_ref", session.ExternalRef),
	)
	defer func() {
		outcome := resultLabel(err)
		if err == nil {
			outcome = string(result.Session.Status)
		}
		v.metrics.Verification(outcome)
		endSpan(span, err)
	}()

	if session.Status != domain.SessionPending {
		return v.settled(ctx, session)
	}

	if session.IsExpiredAt(v.now()) {
		if err := v.checkout.Expire(ctx, session); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return nil, err
		}
		if session.Status != domain.SessionExpired {
			return v.settled(ctx, session)
		}
		return nil, domain.ErrSessionExpired
	}

	status, err := v.provider.SessionStatus(ctx, session.ExternalRef)
	if err != nil {
		if !errors.Is(err, domain.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("provider.status", status.String()))

	switch status {
	case domain.ProviderCompleted:
		order, err := v.factory.Commit(ctx, session)
		if err != nil {
			return nil, err
		}
		return &VerifyResult{Session: session, ProviderStatus: status, Order: order}, nil

	case domain.ProviderCancelled:
		moved, err := v.sessionRepo.Transition(ctx, nil, session.ID, domain.SessionFailed)
		if err != nil {
			return nil, err
		}
		if !moved {
			return v.reload(ctx, session)
		}
		session.Status = domain.SessionFailed
		v.log(ctx).Info("checkout session failed",
			zap.String("session_id", session.ID.String()),
			zap.String("external_ref", session.ExternalRef),
		)
		return &VerifyResult{Session: session, ProviderStatus: status}, nil

	case domain.ProviderPending:
		return &VerifyResult{Session: session, ProviderStatus: status}, nil
	}

	v.log(ctx).Error("unrecognized provider status",
		zap.String("session_id", session.ID.String()),
		zap.String("external_ref", session.ExternalRef),
	)
	return nil, fmt.Errorf("%w for session %s", domain.ErrUnrecognizedProviderStatus, session.ExternalRef)
}

// settled answers for a session that already left pending, without calling the provider.
func (v *paymentVerifier) settled(ctx context.Context, session *domain.CheckoutSession) (*VerifyResult, error) {
	switch session.Status {
	case domain.SessionVerified:
		order, err := v.orderRepo.FindBySession(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		return &VerifyResult{Session: session, ProviderStatus: domain.ProviderCompleted, Order: order}, nil
	case domain.SessionFailed:
		return &VerifyResult{Session: session, ProviderStatus: domain.ProviderCancelled}, nil
	case domain.SessionExpired:
		return nil, domain.ErrSessionExpired
	}
	return nil, fmt.Errorf("%w: unexpected status %s", domain.ErrInvalidTransition, session.Status)
}

func (v *paymentVerifier) reload(ctx context.Context, session *domain.CheckoutSession) (*VerifyResult, error) {
	current, err := v.sessionRepo.FindByID(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrSessionNotFound
	}
	return v.settled(ctx, current)
}
