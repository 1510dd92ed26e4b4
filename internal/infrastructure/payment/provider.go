package payment

import (
	"context"
	"time"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
)

// PayableSession is what the provider needs to collect a payment.
type PayableSession struct {
	ExternalRef string
	Amount      int64 // minor units
	Currency    string
	ExpiresAt   time.Time
	Lines       []domain.LineItem
}

// Provider is the external payment service. Implementations return
// domain.ErrProviderUnavailable for transient failures.
type Provider interface {
	CreateSession(ctx context.Context, req PayableSession) (redirectRef string, err error)
	SessionStatus(ctx context.Context, externalRef string) (domain.ProviderStatus, error)
}
