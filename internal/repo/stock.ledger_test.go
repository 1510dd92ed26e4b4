package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/repo"
)

func TestStockLedger_CheckAvailable(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	ledger := repo.NewStockLedger(db)
	p := seedProduct(t, db, "ESP32", 100, 5)

	assert.NoError(t, ledger.CheckAvailable(ctx, p.ID, 5))

	err := ledger.CheckAvailable(ctx, p.ID, 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	var se *domain.StockError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []domain.Shortage{{ProductID: p.ID, Requested: 6, Available: 5}}, se.Shortages)

	assert.ErrorIs(t, ledger.CheckAvailable(ctx, 9999, 1), domain.ErrProductNotFound)
}

func TestStockLedger_RevalidateNamesEveryShortage(t *testing.T) {
	db := setupDB(t)
	ledger := repo.NewStockLedger(db)
	a := seedProduct(t, db, "A", 100, 5)
	b := seedProduct(t, db, "B", 50, 1)
	c := seedProduct(t, db, "C", 10, 0)

	lines := []domain.LineItem{
		{ProductID: a.ID, Quantity: 3},
		{ProductID: b.ID, Quantity: 2},
		{ProductID: c.ID, Quantity: 1},
	}
	err := inTx(t, db, func(tx *sql.Tx) error {
		return ledger.Revalidate(context.Background(), tx, lines)
	})

	assert.ErrorIs(t, err, domain.ErrOutOfStock)
	var se *domain.StockError
	require.True(t, errors.As(err, &se))
	assert.ElementsMatch(t, []domain.Shortage{
		{ProductID: b.ID, Requested: 2, Available: 1},
		{ProductID: c.ID, Requested: 1, Available: 0},
	}, se.Shortages)
}

func TestStockLedger_ReserveAndDecrement(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	ledger := repo.NewStockLedger(db)
	p := seedProduct(t, db, "Relay", 20, 5)

	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		return ledger.ReserveAndDecrement(ctx, tx, p.ID, 3)
	}))

	err := inTx(t, db, func(tx *sql.Tx) error {
		return ledger.ReserveAndDecrement(ctx, tx, p.ID, 3)
	})
	assert.ErrorIs(t, err, domain.ErrOutOfStock)

	got, err := repo.NewProductRepo(db).FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)
}

func TestStockLedger_ConcurrentDecrementsNeverOversell(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	ledger := repo.NewStockLedger(db)
	p := seedProduct(t, db, "Servo", 30, 10)

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := inTx(t, db, func(tx *sql.Tx) error {
				return ledger.ReserveAndDecrement(ctx, tx, p.ID, 1)
			})
			if err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	got, err := repo.NewProductRepo(db).FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(10), succeeded.Load())
	assert.Equal(t, 0, got.Stock)
}

func TestStockLedger_RevalidateLockAdmitsCartInserts(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	ledger := repo.NewStockLedger(db)
	p := seedProduct(t, db, "ESP32", 100, 5)

	commitTx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer commitTx.Rollback()
	require.NoError(t, ledger.Revalidate(ctx, commitTx, []domain.LineItem{{ProductID: p.ID, Quantity: 1}}))

	// a cart line referencing the locked product must not wait for the commit
	addCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	addTx, err := db.BeginTx(addCtx, nil)
	require.NoError(t, err)
	defer addTx.Rollback()
	_, err = repo.NewCartRepo(db).AddItem(addCtx, addTx, 2, p.ID, 1)
	require.NoError(t, err)
	require.NoError(t, addTx.Commit())
}
