// Package dbtest starts a throwaway Postgres for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chatpongdeepet/iot-shop/internal/database"
)

type Postgres struct {
	DB        *sql.DB
	URL       string
	container *postgres.PostgresContainer
}

// Start runs postgres:16-alpine, applies migrations and returns a connected handle.
// A host without a reachable Docker daemon yields an error, so callers can skip.
func Start(ctx context.Context) (p *Postgres, err error) {
	err = recoverDocker(func() error {
		p, err = start(ctx)
		return err
	})
	return p, err
}

// recoverDocker turns the panic testcontainers raises when it cannot locate a
// Docker host into an error.
func recoverDocker(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker unavailable: %v", r)
		}
	}()
	return fn()
}

func start(ctx context.Context) (*Postgres, error) {
	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("storefront"),
		postgres.WithUsername("storefront"),
		postgres.WithPassword("storefront"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = ctr.Terminate(context.Background())
		return nil, fmt.Errorf("connection string: %w", err)
	}

	if err := database.Migrate(url); err != nil {
		_ = ctr.Terminate(context.Background())
		return nil, err
	}

	db, err := database.NewPostgres(ctx, url)
	if err != nil {
		_ = ctr.Terminate(context.Background())
		return nil, err
	}

	return &Postgres{DB: db, URL: url, container: ctr}, nil
}

// Reset removes every row so each test starts from an empty schema.
func (p *Postgres) Reset(ctx context.Context) error {
	_, err := p.DB.ExecContext(ctx, `
		TRUNCATE outbox_events, order_items, orders, checkout_sessions, cart_items, carts, products
		RESTART IDENTITY CASCADE`)
	return err
}

func (p *Postgres) Close() {
	_ = p.DB.Close()
	_ = p.container.Terminate(context.Background())
}
