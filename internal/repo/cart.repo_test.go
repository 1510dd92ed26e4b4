package repo_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/repo"
)

func TestCartRepo_FindByUser_None(t *testing.T) {
	db := setupDB(t)

	cart, err := repo.NewCartRepo(db).FindByUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, cart)
}

func TestCartRepo_AddItemMergesLines(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	carts := repo.NewCartRepo(db)
	p := seedProduct(t, db, "A", 100, 10)

	for _, q := range []int{2, 3} {
		require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
			_, err := carts.AddItem(ctx, tx, 7, p.ID, q)
			return err
		}))
	}

	cart, err := carts.FindByUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.Equal(t, int64(2), cart.Version)
}

func TestCartRepo_CompareAndBump(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	carts := repo.NewCartRepo(db)
	p := seedProduct(t, db, "A", 100, 10)

	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		_, err := carts.AddItem(ctx, tx, 7, p.ID, 1)
		return err
	}))

	err := inTx(t, db, func(tx *sql.Tx) error {
		_, err := carts.CompareAndBump(ctx, tx, 7, 1)
		return err
	})
	require.NoError(t, err)

	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := carts.CompareAndBump(ctx, tx, 7, 1)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := carts.CompareAndBump(ctx, tx, 8, 0)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestCartRepo_ItemMutationsAndEmpty(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	carts := repo.NewCartRepo(db)
	a := seedProduct(t, db, "A", 100, 10)
	b := seedProduct(t, db, "B", 100, 10)

	var cartID int64
	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		var err error
		if cartID, err = carts.AddItem(ctx, tx, 7, a.ID, 1); err != nil {
			return err
		}
		_, err = carts.AddItem(ctx, tx, 7, b.ID, 1)
		return err
	}))
	cart, err := carts.FindByUser(ctx, 7)
	require.NoError(t, err)
	itemA, itemB := cart.Items[0].ID, cart.Items[1].ID

	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		return carts.SetItemQuantity(ctx, tx, cartID, itemA, 4)
	}))
	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		return carts.DeleteItem(ctx, tx, cartID, itemB)
	}))
	assert.ErrorIs(t, inTx(t, db, func(tx *sql.Tx) error {
		return carts.DeleteItem(ctx, tx, cartID, itemB)
	}), domain.ErrItemNotFound)

	cart, err = carts.FindByUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 4, cart.Items[0].Quantity)

	before := cart.Version
	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		return carts.Empty(ctx, tx, cartID)
	}))
	cart, err = carts.FindByUser(ctx, 7)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, before+1, cart.Version)
}
