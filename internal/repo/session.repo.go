package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
)

type SessionRepo interface {
	// Create fails with domain.ErrPendingSessionExists when the cart already
	// has a pending session.
	Create(ctx context.Context, s *domain.CheckoutSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.CheckoutSession, error)
	FindByExternalRef(ctx context.Context, ref string) (*domain.CheckoutSession, error)
	FindPendingByCart(ctx context.Context, cartID int64) (*domain.CheckoutSession, error)
	FindPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]domain.CheckoutSession, error)
	SetRedirectRef(ctx context.Context, id uuid.UUID, redirectRef string) error
	// Discard removes a pending session that never reached the provider.
	Discard(ctx context.Context, id uuid.UUID) error
	// Transition moves a pending session to a terminal status. It reports false
	// when the session was no longer pending. tx may be nil.
	Transition(ctx context.Context, tx *sql.Tx, id uuid.UUID, to domain.SessionStatus) (bool, error)
	// LockStatus takes a row lock on the session for the rest of tx.
	LockStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID) (domain.SessionStatus, error)
}

type sessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

const sessionColumns = `id, cart_id, user_id, items, total_price, currency, status, external_ref, redirect_ref, created_at, expires_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*domain.CheckoutSession, error) {
	var s domain.CheckoutSession
	var items []byte
	err := row.Scan(
		&s.ID,
		&s.CartID,
		&s.UserID,
		&items,
		&s.TotalPrice,
		&s.Currency,
		&s.Status,
		&s.ExternalRef,
		&s.RedirectRef,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &s.Items); err != nil {
		return nil, fmt.Errorf("decode session items: %w", err)
	}
	return &s, nil
}

func (r *sessionRepo) Create(ctx context.Context, s *domain.CheckoutSession) error {
	items, err := json.Marshal(s.Items)
	if err != nil {
		return fmt.Errorf("encode session items: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO checkout_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.CartID, s.UserID, string(items), s.TotalPrice, s.Currency, s.Status,
		s.ExternalRef, s.RedirectRef, s.CreatedAt, s.ExpiresAt, s.UpdatedAt,
	)
	if isUniqueViolation(err, "checkout_sessions_pending_cart") {
		return domain.ErrPendingSessionExists
	}
	if err != nil {
		return fmt.Errorf("create checkout session: %w", err)
	}
	return nil
}

func (r *sessionRepo) findOne(ctx context.Context, where string, arg any) (*domain.CheckoutSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find checkout session: %w", err)
	}
	return s, nil
}

func (r *sessionRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.CheckoutSession, error) {
	return r.findOne(ctx, `id = $1`, id)
}

func (r *sessionRepo) FindByExternalRef(ctx context.Context, ref string) (*domain.CheckoutSession, error) {
	return r.findOne(ctx, `external_ref = $1`, ref)
}

func (r *sessionRepo) FindPendingByCart(ctx context.Context, cartID int64) (*domain.CheckoutSession, error) {
	return r.findOne(ctx, `cart_id = $1 AND status = 'pending'`, cartID)
}

func (r *sessionRepo) FindPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]domain.CheckoutSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM checkout_sessions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("find pending sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.CheckoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *sessionRepo) SetRedirectRef(ctx context.Context, id uuid.UUID, redirectRef string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE checkout_sessions SET redirect_ref = $2, updated_at = now() WHERE id = $1`, id, redirectRef)
	if err != nil {
		return fmt.Errorf("set redirect ref: %w", err)
	}
	return nil
}

func (r *sessionRepo) Discard(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM checkout_sessions WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("discard checkout session: %w", err)
	}
	return nil
}

func (r *sessionRepo) Transition(ctx context.Context, tx *sql.Tx, id uuid.UUID, to domain.SessionStatus) (bool, error) {
	if !domain.SessionPending.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: pending -> %s", domain.ErrInvalidTransition, to)
	}
	res, err := on(r.db, tx).ExecContext(ctx,
		`UPDATE checkout_sessions SET status = $2, updated_at = now() WHERE id = $1 AND status = 'pending'`,
		id, to,
	)
	if err != nil {
		return false, fmt.Errorf("transition checkout session to %s: %w", to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *sessionRepo) LockStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID) (domain.SessionStatus, error) {
	var status domain.SessionStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM checkout_sessions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock checkout session: %w", err)
	}
	return status, nil
}
