package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/auth"
	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/config"
	"github.com/pulsecrm/delivery/internal/db"
	"github.com/pulsecrm/delivery/internal/models"
	"github.com/pulsecrm/delivery/internal/repositories"
	"github.com/pulsecrm/delivery/internal/segment"
	"go.uber.org/zap"
)

const batchSize = 500

func main() {
	var (
		customers = flag.Int("customers", 1000, "customers to publish")
		orders    = flag.Int("orders", 3000, "orders to publish for existing customers")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		operator  = flag.String("operator", "", "print an API token for this operator email")
	)
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if *operator != "" {
		token, err := auth.GenerateJWT(cfg.JWTSecret, uuid.New(), *operator, cfg.JWTExpiration)
		if err != nil {
			log.Fatal("failed to sign operator token", zap.Error(err))
		}
		fmt.Println(token)
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()
	b := broker.New(rdb, log)

	gen := newGenerator(*seed, time.Now())

	for _, batch := range chunk(gen.customers(*customers), batchSize) {
		payload := models.BulkCustomerPayload{BatchID: uuid.NewString(), Customers: batch}
		if _, err := b.Publish(ctx, broker.ChannelCustomerBulkIngestion, payload); err != nil {
			log.Fatal("failed to publish customers", zap.Error(err))
		}
		log.Info("customers published", zap.String("batch_id", payload.BatchID), zap.Int("count", len(batch)))
	}

	if *orders == 0 {
		return
	}

	// Orders reference customers that are already stored. Customers published
	// above are written asynchronously and may not be visible yet.
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	existing, err := repositories.NewCustomerRepo(pool).ListMatching(ctx, segment.Filter{})
	if err != nil {
		log.Fatal("failed to list customers", zap.Error(err))
	}
	ids := make([]uuid.UUID, len(existing))
	for i, c := range existing {
		ids[i] = c.ID
	}
	if len(ids) == 0 {
		log.Warn("no stored customers yet, skipping orders")
		return
	}

	for _, batch := range chunk(gen.orders(ids, *orders), batchSize) {
		payload := models.BulkOrderPayload{BatchID: uuid.NewString(), Orders: batch}
		if _, err := b.Publish(ctx, broker.ChannelOrderBulkIngestion, payload); err != nil {
			log.Fatal("failed to publish orders", zap.Error(err))
		}
		log.Info("orders published", zap.String("batch_id", payload.BatchID), zap.Int("count", len(batch)))
	}
}
