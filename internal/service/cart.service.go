package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chatpongdeepet/iot-shop/internal/cache"
	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/repo"
)

// CartService is the CartStore: the single authoritative cart per user.
type CartService interface {
	GetCart(ctx context.Context, userID int64) (*domain.CartView, error)
	AddItem(ctx context.Context, userID, productID int64, quantity int) (*domain.CartView, error)
	UpdateQuantity(ctx context.Context, userID, version, itemID int64, quantity int) (*domain.CartView, error)
	RemoveItem(ctx context.Context, userID, version, itemID int64) (*domain.CartView, error)
	// Refresh reloads the cart from the database into the cache.
	Refresh(ctx context.Context, userID int64) error
}

type cartService struct {
	db          *sql.DB
	cartRepo    repo.CartRepo
	productRepo repo.ProductRepo
	sessionRepo repo.SessionRepo
	ledger      repo.StockLedger
	cache       cache.CartCache
	group       singleflight.Group
	settings
}

func NewCartService(
	db *sql.DB,
	cartRepo repo.CartRepo,
	productRepo repo.ProductRepo,
	sessionRepo repo.SessionRepo,
	ledger repo.StockLedger,
	cartCache cache.CartCache,
	opts ...Option,
) CartService {
	if cartCache == nil {
		cartCache = cache.NopCache{}
	}
	return &cartService{
		db:          db,
		cartRepo:    cartRepo,
		productRepo: productRepo,
		sessionRepo: sessionRepo,
		ledger:      ledger,
		cache:       cartCache,
		settings:    newSettings(opts),
	}
}

func (s *cartService) GetCart(ctx context.Context, userID int64) (*domain.CartView, error) {
	cart, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.price(ctx, cart)
}

func (s *cartService) AddItem(ctx context.Context, userID, productID int64, quantity int) (view *domain.CartView, err error) {
	defer func() { s.metrics.CartMutation("add", resultLabel(err)) }()

	if err := domain.ValidateQuantity(quantity); err != nil {
		return nil, err
	}
	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, domain.ErrProductNotFound
	}

	current, err := s.cartRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	merged := quantity
	if current != nil {
		if it, ok := current.ItemForProduct(productID); ok {
			merged += it.Quantity
		}
	}
	if err := s.ledger.CheckAvailable(ctx, productID, merged); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := s.cartRepo.AddItem(ctx, tx, userID, productID, quantity); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.refresh(ctx, userID)
}

func (s *cartService) UpdateQuantity(ctx context.Context, userID, version, itemID int64, quantity int) (view *domain.CartView, err error) {
	defer func() { s.metrics.CartMutation("update", resultLabel(err)) }()

	if err := domain.ValidateQuantity(quantity); err != nil {
		return nil, err
	}
	cart, err := s.cartRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, domain.ErrItemNotFound
	}
	item, ok := cart.Item(itemID)
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	if err := s.ledger.CheckAvailable(ctx, item.ProductID, quantity); err != nil {
		return nil, err
	}

	err = s.mutate(ctx, userID, version, func(tx *sql.Tx, cartID int64) error {
		return s.cartRepo.SetItemQuantity(ctx, tx, cartID, itemID, quantity)
	})
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, userID)
}

func (s *cartService) RemoveItem(ctx context.Context, userID, version, itemID int64) (view *domain.CartView, err error) {
	defer func() { s.metrics.CartMutation("remove", resultLabel(err)) }()

	err = s.mutate(ctx, userID, version, func(tx *sql.Tx, cartID int64) error {
		return s.cartRepo.DeleteItem(ctx, tx, cartID, itemID)
	})
	if errors.Is(err, domain.ErrCartNotFound) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, userID)
}

func (s *cartService) Refresh(ctx context.Context, userID int64) error {
	_, err := s.refresh(ctx, userID)
	return err
}

// mutate applies fn after a compare-and-swap on the cart version.
func (s *cartService) mutate(ctx context.Context, userID, version int64, fn func(tx *sql.Tx, cartID int64) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cartID, err := s.cartRepo.CompareAndBump(ctx, tx, userID, version)
	if err != nil {
		return err
	}
	if err := fn(tx, cartID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *cartService) load(ctx context.Context, userID int64) (*domain.Cart, error) {
	cart, err := s.cache.Get(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log(ctx).Warn("cart cache read failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	// the shared load outlives any single waiter's cancellation
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		return s.fetch(shared, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// refresh runs after a committed mutation. A cached copy that cannot be
// replaced is dropped so readers fall back to the database.
func (s *cartService) refresh(ctx context.Context, userID int64) (*domain.CartView, error) {
	cart, err := s.fetch(ctx, userID)
	if err != nil {
		if delErr := s.cache.Delete(context.WithoutCancel(ctx), userID); delErr != nil {
			s.log(ctx).Warn("cart cache delete failed", zap.Int64("user_id", userID), zap.Error(delErr))
		}
		return nil, err
	}
	return s.price(ctx, cart)
}

// fetch reads the cart from the database and writes it through to the cache.
func (s *cartService) fetch(ctx context.Context, userID int64) (*domain.Cart, error) {
	cart, err := s.cartRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		cart = domain.NewEmptyCart(userID)
	}
	if err := s.cache.Set(ctx, cart); err != nil {
		s.log(ctx).Warn("cart cache write failed", zap.Int64("user_id", userID), zap.Error(err))
		if delErr := s.cache.Delete(ctx, userID); delErr != nil {
			s.log(ctx).Warn("cart cache delete failed", zap.Int64("user_id", userID), zap.Error(delErr))
		}
	}
	return cart, nil
}

func (s *cartService) price(ctx context.Context, cart *domain.Cart) (*domain.CartView, error) {
	products, err := s.productRepo.FindByIDs(ctx, cart.ProductIDs())
	if err != nil {
		return nil, err
	}

	var pending *domain.CheckoutSession
	if cart.ID != 0 {
		pending, err = s.sessionRepo.FindPendingByCart(ctx, cart.ID)
		if err != nil {
			return nil, err
		}
		if pending != nil && pending.IsExpiredAt(s.now()) {
			pending = nil
		}
	}

	var locked map[int64]decimal.Decimal
	if pending != nil {
		locked = pending.LockedPrices()
	}
	view, err := domain.PriceCart(cart, products, locked)
	if err != nil {
		return nil, err
	}
	view.Session = pending
	return view, nil
}
