package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chatpongdeepet/iot-shop/internal/cache"
	"github.com/chatpongdeepet/iot-shop/internal/config"
	"github.com/chatpongdeepet/iot-shop/internal/database"
	"github.com/chatpongdeepet/iot-shop/internal/infrastructure/broker"
	"github.com/chatpongdeepet/iot-shop/internal/infrastructure/payment"
	"github.com/chatpongdeepet/iot-shop/internal/logging"
	"github.com/chatpongdeepet/iot-shop/internal/metrics"
	"github.com/chatpongdeepet/iot-shop/internal/repo"
	"github.com/chatpongdeepet/iot-shop/internal/server"
	"github.com/chatpongdeepet/iot-shop/internal/service"
	"github.com/chatpongdeepet/iot-shop/internal/worker"
)

func main() {
	seed := flag.Bool("seed", false, "insert demo products when the catalog is empty")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New("storefront", cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger, *seed); err != nil {
		logger.Fatal("storefront stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, seed bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(cfg.DB.URL()); err != nil {
		return err
	}
	db, err := database.NewPostgres(ctx, cfg.DB.URL())
	if err != nil {
		return err
	}
	dbService := database.New(db, cfg.DB.Database, logger)
	defer dbService.Close()

	productRepo := repo.NewProductRepo(db)
	if seed {
		if err := seedProducts(ctx, db, productRepo, logger); err != nil {
			return err
		}
	}
	cartRepo := repo.NewCartRepo(db)
	sessionRepo := repo.NewSessionRepo(db)
	orderRepo := repo.NewOrderRepo(db)
	outboxRepo := repo.NewOutboxRepo(db)
	ledger := repo.NewStockLedger(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	cartCache := newCartCache(ctx, cfg.Redis, logger)

	gateway := payment.NewMockGateway(cfg.FrontendURL)
	opts := []service.Option{service.WithLogger(logger), service.WithMetrics(m)}

	carts := service.NewCartService(db, cartRepo, productRepo, sessionRepo, ledger, cartCache, opts...)
	checkout := service.NewCheckoutService(cartRepo, productRepo, sessionRepo, gateway, cfg.SessionTTL, cfg.Currency, opts...)
	factory := service.NewOrderFactory(db, ledger, orderRepo, cartRepo, sessionRepo, outboxRepo, carts, opts...)
	verifier := service.NewPaymentVerifier(sessionRepo, orderRepo, gateway, checkout, factory, opts...)
	orders := service.NewOrderService(orderRepo)

	var wg sync.WaitGroup
	reconciler := worker.NewReconciliationWorker(sessionRepo, checkout, verifier, cfg.ReconcileInterval, cfg.ReconcileGrace, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()

	if cfg.Kafka.Enabled() {
		publisher := broker.NewKafkaPublisher(cfg.Kafka.Topic, cfg.Kafka.Brokers...)
		defer publisher.Close()
		relay := worker.NewOutboxRelay(outboxRepo, publisher, cfg.OutboxInterval, m, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
	} else {
		logger.Info("KAFKA_BROKERS not set, outbox events stay in the database")
	}

	routerCfg := server.Config{
		Carts:       carts,
		Checkout:    checkout,
		Verifier:    verifier,
		Orders:      orders,
		Health:      dbService,
		Gatherer:    registry,
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
	}
	if !cfg.IsProduction() {
		routerCfg.MockProvider = gateway
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	wg.Wait()
	return nil
}

// newCartCache falls back to no caching when Redis is not configured or
// unreachable at startup.
func newCartCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) cache.CartCache {
	if !cfg.Enabled() {
		logger.Info("REDIS_ADDR not set, cart cache disabled")
		return cache.NopCache{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, cart cache disabled", zap.String("addr", cfg.Addr), zap.Error(err))
		_ = client.Close()
		return cache.NopCache{}
	}
	return cache.NewRedisCache(client)
}
