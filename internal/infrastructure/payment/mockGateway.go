package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
)

type mockSession struct {
	amount   int64
	currency string
	status   string // raw provider value, parsed on read
}

// MockGateway is an in-process provider. Sessions start "unpaid" and are
// settled through Complete or Cancel.
type MockGateway struct {
	mu          sync.RWMutex
	sessions    map[string]*mockSession
	baseURL     string
	unavailable bool
}

func NewMockGateway(baseURL string) *MockGateway {
	return &MockGateway{sessions: make(map[string]*mockSession), baseURL: baseURL}
}

func (g *MockGateway) CreateSession(ctx context.Context, req PayableSession) (string, error) {
	if err := g.check(ctx); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// idempotent per external ref
	if _, exists := g.sessions[req.ExternalRef]; !exists {
		g.sessions[req.ExternalRef] = &mockSession{amount: req.Amount, currency: req.Currency, status: "unpaid"}
	}
	return g.redirect(req.ExternalRef), nil
}

func (g *MockGateway) SessionStatus(ctx context.Context, externalRef string) (domain.ProviderStatus, error) {
	if err := g.check(ctx); err != nil {
		return domain.ProviderUnknown, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[externalRef]
	if !ok {
		return domain.ProviderUnknown, nil
	}
	return domain.ParseProviderStatus(s.status), nil
}

func (g *MockGateway) Complete(externalRef string) error {
	return g.settle(externalRef, "paid")
}

func (g *MockGateway) Cancel(externalRef string) error {
	return g.settle(externalRef, "canceled")
}

// SetRawStatus forces an arbitrary provider value, including ones this
// service does not recognize.
func (g *MockGateway) SetRawStatus(externalRef, raw string) error {
	return g.settle(externalRef, raw)
}

// SetUnavailable makes every call fail as if the provider were unreachable.
func (g *MockGateway) SetUnavailable(down bool) {
	g.mu.Lock()
	g.unavailable = down
	g.mu.Unlock()
}

func (g *MockGateway) settle(externalRef, raw string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[externalRef]
	if !ok {
		return fmt.Errorf("mock provider session %s: %w", externalRef, domain.ErrNotFound)
	}
	s.status = raw
	return nil
}

func (g *MockGateway) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.unavailable {
		return fmt.Errorf("%w: connection refused", domain.ErrProviderUnavailable)
	}
	return nil
}

func (g *MockGateway) redirect(externalRef string) string {
	return fmt.Sprintf("%s/mock-pay/%s", g.baseURL, externalRef)
}
