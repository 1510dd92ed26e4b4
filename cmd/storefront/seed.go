package main

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/repo"
)

var demoProducts = []domain.Product{
	{Name: "ESP32 DevKit V1", Price: decimal.RequireFromString("189.00"), Stock: 40},
	{Name: "DHT22 Temperature Sensor", Price: decimal.RequireFromString("95.00"), Stock: 60},
	{Name: "Raspberry Pi Pico W", Price: decimal.RequireFromString("249.00"), Stock: 25},
	{Name: "0.96in OLED Display", Price: decimal.RequireFromString("79.50"), Stock: 35},
	{Name: "5V Relay Module", Price: decimal.RequireFromString("45.00"), Stock: 5},
}

func seedProducts(ctx context.Context, db *sql.DB, products repo.ProductRepo, logger *zap.Logger) error {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM products`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		logger.Info("catalog already seeded", zap.Int("products", n))
		return nil
	}
	for _, p := range demoProducts {
		if err := products.Create(ctx, &p); err != nil {
			return err
		}
		logger.Info("seeded product", zap.Int64("product_id", p.ID), zap.String("name", p.Name))
	}
	return nil
}
