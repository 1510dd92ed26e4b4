package repo_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/repo"
)

func TestOrderRepo_CreateAndFind(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	orders := repo.NewOrderRepo(db)
	p := seedProduct(t, db, "A", 100, 5)
	s := newSession(seedCart(t, db, 1, p, 3), 1, p, 3)
	require.NoError(t, repo.NewSessionRepo(db).Create(ctx, s))

	order := domain.NewOrderFromSession(s, time.Now().UTC())
	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		return orders.CreateOrder(ctx, tx, order)
	}))

	got, err := orders.FindBySession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, order.ID, got.ID)
	assert.True(t, got.TotalPrice.Equal(order.TotalPrice))
	require.Len(t, got.Items, 1)
	assert.Equal(t, 3, got.Items[0].Quantity)

	byID, err := orders.FindById(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, byID.SessionID)
}

func TestOrderRepo_OneOrderPerSession(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	orders := repo.NewOrderRepo(db)
	p := seedProduct(t, db, "A", 100, 5)
	s := newSession(seedCart(t, db, 1, p, 1), 1, p, 1)
	require.NoError(t, repo.NewSessionRepo(db).Create(ctx, s))

	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		return orders.CreateOrder(ctx, tx, domain.NewOrderFromSession(s, time.Now()))
	}))
	err := inTx(t, db, func(tx *sql.Tx) error {
		return orders.CreateOrder(ctx, tx, domain.NewOrderFromSession(s, time.Now()))
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyCommitted)
}

func TestOrderRepo_ListByUserNewestFirst(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	orders := repo.NewOrderRepo(db)
	sessions := repo.NewSessionRepo(db)
	p := seedProduct(t, db, "A", 100, 50)
	cartID := seedCart(t, db, 1, p, 1)

	var ids []string
	for i := 0; i < 3; i++ {
		s := newSession(cartID, 1, p, i+1)
		require.NoError(t, sessions.Create(ctx, s))
		o := domain.NewOrderFromSession(s, time.Now().UTC().Add(time.Duration(i)*time.Minute))
		require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
			if err := orders.CreateOrder(ctx, tx, o); err != nil {
				return err
			}
			_, err := sessions.Transition(ctx, tx, s.ID, domain.SessionVerified)
			return err
		}))
		ids = append(ids, o.ID.String())
	}

	list, err := orders.ListByUser(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID.String())
	assert.Equal(t, ids[1], list[1].ID.String())

	other, err := orders.ListByUser(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestOutboxRepo_Lifecycle(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	outbox := repo.NewOutboxRepo(db)

	payload, _ := json.Marshal(map[string]string{"order_id": "o-1"})
	ev := &domain.OutboxEvent{AggregateID: "o-1", EventType: domain.EventOrderCreated, Payload: payload}
	require.NoError(t, outbox.Insert(ctx, nil, ev))
	assert.NotZero(t, ev.ID)

	pending, err := outbox.FetchUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, string(payload), string(pending[0].Payload))

	require.NoError(t, outbox.MarkProcessed(ctx, ev.ID))
	pending, err = outbox.FetchUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
