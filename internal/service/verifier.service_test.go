package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
)

// checkoutCart fills user's cart with qty of product and opens a session.
func checkoutCart(t *testing.T, h *harness, userID int64, p domain.Product, qty int) *domain.CheckoutSession {
	t.Helper()
	ctx := context.Background()
	_, err := h.carts.AddItem(ctx, userID, p.ID, qty)
	require.NoError(t, err)
	s, err := h.checkout.CreateSession(ctx, userID)
	require.NoError(t, err)
	return s
}

func TestVerify_CompletedCommitsOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedProduct(t, "A", 100, 5)
	s := checkoutCart(t, h, 1, a, 3)

	require.NoError(t, h.gateway.Complete(s.ExternalRef))
	res, err := h.verifier.Verify(ctx, s.ExternalRef)
	require.NoError(t, err)

	assert.Equal(t, domain.SessionVerified, res.Session.Status)
	assert.Equal(t, domain.ProviderCompleted, res.ProviderStatus)
	require.NotNil(t, res.Order)
	assert.True(t, res.Order.TotalPrice.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, s.ID, res.Order.SessionID)
	assert.Equal(t, 2, h.stock(t, a.ID))

	view, err := h.carts.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
	assert.Nil(t, view.Session)

	assert.Equal(t, 1, h.count(t, `SELECT count(*) FROM outbox_events WHERE event_type = $1 AND aggregate_id = $2`,
		domain.EventOrderCreated, res.Order.ID.String()))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OrdersCommitted))
}

func TestVerify_RepeatedCallsAreNoOps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedProduct(t, "A", 100, 5)
	s := checkoutCart(t, h, 1, a, 3)
	require.NoError(t, h.gateway.Complete(s.ExternalRef))

	first, err := h.verifier.Verify(ctx, s.ExternalRef)
	require.NoError(t, err)

	// a settled session never asks the provider again
	h.gateway.SetUnavailable(true)
	second, err := h.verifier.Verify(ctx, s.ExternalRef)
	require.NoError(t, err)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, h.count(t, `SELECT count(*) FROM orders`))
	assert.Equal(t, 2, h.stock(t, a.ID))
}

func TestVerify_ConcurrentDeliveriesProduceOneOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedProduct(t, "A", 100, 5)
	s := checkoutCart(t, h, 1, a, 3)
	require.NoError(t, h.gateway.Complete(s.ExternalRef))

	const deliveries = 10
	results := make([]*domain.Order, deliveries)
	errs := make([]error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.verifier.Verify(ctx, s.ExternalRef)
			errs[i] = err
			if err == nil {
				results[i] = res.Order
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
	}
	assert.Equal(t, 1, h.count(t, `SELECT count(*) FROM orders`))
	assert.Equal(t, 2, h.stock(t, a.ID))
}

func TestVerify_ConcurrentBuyersNeverOversell(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedProduct(t, "A", 100, 5)

	buyers := []int64{1, 2, 3}
	sessions := make([]*domain.CheckoutSession, len(buyers))
	for i, user := range buyers {
		sessions[i] = checkoutCart(t, h, user, a, 3)
		require.NoError(t, h.gateway.Complete(sessions[i].ExternalRef))
	}

	errs := make([]error, len(buyers))
	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.verifier.Verify(ctx, sessions[i].ExternalRef)
		}(i)
	}
	wg.Wait()

	var committed, outOfStock int
	for i, err := range errs {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, domain.ErrOutOfStock):
			outOfStock++
			// loser keeps its cart and its pending session
			view, cartErr := h.carts.GetCart(ctx, buyers[i])
			require.NoError(t, cartErr)
			assert.Equal(t, 3, view.Lines[0].Quantity)
			stored, findErr := h.sessions.FindByID(ctx, sessions[i].ID)
			require.NoError(t, findErr)
			assert.Equal(t, domain.SessionPending, stored.Status)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 2, outOfStock)
	assert.Equal(t, 2, h.stock(t, a.ID))
	assert.Equal(t, 1, h.count(t, `SELECT count(*) FROM orders`))
}

func TestVerify_CommitOutOfStockIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedProduct(t, "A", 100, 5)
	b := h.seedProduct(t, "B", 10, 5)

	_, err := h.carts.AddItem(ctx, 1, a.ID, 2)
	require.NoError(t, err)
	s := checkoutCart(t, h, 1, b, 4)
	require.NoError(t, h.gateway.Complete(s.ExternalRef))

	_, err = h.db.ExecContext(ctx, `UPDATE products SET stock = 3 WHERE id = $1`, b.ID)
	require.NoError(t, err)

	_, err = h.verifier.Verify(ctx, s.ExternalRef)
	var se *domain.StockError
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.Equal(t, []domain.Shortage{{ProductID: b.ID, Requested: 4, Available: 3}}, se.Shortages)

	assert.Equal(t, 5, h.stock(t, a.ID))
	assert.Equal(t, 3, h.stock(t, b.ID))
	assert.Zero(t, h.count(t, `SELECT count(*) FROM orders`))
	assert.Zero(t, h.count(t, `SELECT count(*) FROM outbox_events`))
	view, err := h.carts.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 2)
}

func TestVerify_CancelledMarksFailedAndKeepsCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedProduct(t, "A", 100, 5)
	s := checkoutCart(t, h, 1, a, 3)
	require.NoError(t, h.gateway.Cancel(s.ExternalRef))

	res, err := h.verifier.Verify(ctx, s.ExternalRef)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionFailed, res.Session.Status)
	assert.Nil(t, res.Order)

	view, err := h.carts.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, view.Lines[0].Quantity)
	assert.Equal(t, 5, h.stock(t, a.ID))

	// the user may restart checkout
	retry, err := h.checkout.CreateSession(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, retry.ID)
}

func TestVerify_PendingChangesNothing(t *testing.T) {
	h := newHarness(t)
	a := h.seedProduct(t, "A", 100, 5)
	s := checkoutCart(t, h, 1, a, 3)

	res, err := h.verifier.Verify(context.Background(), s.ExternalRef)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderPending, res.ProviderStatus)
	assert.Equal(t, domain.SessionPending, res.Session.Status)
	assert.Zero(t, h.count(t, `SELECT count(*) FROM orders`))
}

func TestVerify_ExpiredSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedProduct(t, "A", 100, 5)
	s := checkoutCart(t, h, 1, a, 3)

	h.clock.Advance(sessionTTL)
	_, err := h.verifier.Verify(ctx, s.ExternalRef)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	// stays expired, even if the provider later reports payment
	require.NoError(t, h.gateway.Complete(s.ExternalRef))
	_, err = h.verifier.Verify(ctx, s.ExternalRef)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	view, err := h.carts.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, view.Lines[0].Quantity)
	assert.Equal(t, 5, h.stock(t, a.ID))

	fresh, err := h.checkout.CreateSession(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, fresh.ID)
}

func TestVerify_ProviderFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedProduct(t, "A", 100, 5)
	s := checkoutCart(t, h, 1, a, 3)

	h.gateway.SetUnavailable(true)
	_, err := h.verifier.Verify(ctx, s.ExternalRef)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	h.gateway.SetUnavailable(false)
	require.NoError(t, h.gateway.SetRawStatus(s.ExternalRef, "partially_refunded"))
	_, err = h.verifier.Verify(ctx, s.ExternalRef)
	assert.ErrorIs(t, err, domain.ErrUnrecognizedProviderStatus)

	stored, err := h.sessions.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionPending, stored.Status)
	assert.Equal(t, 5, h.stock(t, a.ID))
}

func TestVerify_UnknownExternalRef(t *testing.T) {
	h := newHarness(t)

	_, err := h.verifier.Verify(context.Background(), "cs_does_not_exist")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFactoryCommit_AlreadyCommittedReturnsSameOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedProduct(t, "A", 100, 5)
	s := checkoutCart(t, h, 1, a, 2)

	first, err := h.factory.Commit(ctx, s)
	require.NoError(t, err)

	stale := *s
	stale.Status = domain.SessionPending
	second, err := h.factory.Commit(ctx, &stale)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, h.stock(t, a.ID))
}

func TestOrderService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.seedProduct(t, "A", 100, 5)
	s := checkoutCart(t, h, 1, a, 1)
	require.NoError(t, h.gateway.Complete(s.ExternalRef))
	res, err := h.verifier.Verify(ctx, s.ExternalRef)
	require.NoError(t, err)

	list, err := h.orders.ListOrders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.Order.ID, list[0].ID)

	got, err := h.orders.GetOrder(ctx, 1, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, got.ID)

	_, err = h.orders.GetOrder(ctx, 2, res.Order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
