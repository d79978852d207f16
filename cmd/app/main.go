package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tourtastic/tourtastic/config"
	"github.com/tourtastic/tourtastic/internal/auth"
	"github.com/tourtastic/tourtastic/internal/bootstrap"
	"github.com/tourtastic/tourtastic/internal/cache"
	"github.com/tourtastic/tourtastic/internal/kafka"
	"github.com/tourtastic/tourtastic/internal/provider"
	"github.com/tourtastic/tourtastic/internal/repository"
	"github.com/tourtastic/tourtastic/internal/service/booking"
	"github.com/tourtastic/tourtastic/internal/service/search"
	"github.com/tourtastic/tourtastic/internal/service/webhook"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	redisCache := cache.NewRedisCache(cfg.Redis)
	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	session := provider.NewSession()
	client := provider.NewClient(cfg.Provider, session)
	if err := client.Login(ctx); err != nil {
		log.Fatalf("provider login: %v", err)
	}
	defer client.Logout()

	bookingRepo := repository.NewBookingRepository(pool)
	webhookRepo := repository.NewWebhookEventRepository(pool)

	searchService := search.NewSearchService(
		redisCache,
		client,
		time.Duration(cfg.Search.TTLSeconds)*time.Second,
		time.Duration(cfg.Search.PollIntervalSeconds)*time.Second,
		cfg.Search.MaxPolls,
	)
	bookingService := booking.NewBookingService(bookingRepo, redisCache, producer, cfg.Kafka.NotificationsTopic)
	webhookService := webhook.NewWebhookService(
		bookingService,
		bookingRepo,
		webhookRepo,
		redisCache,
		time.Duration(cfg.Webhook.LockTTLSeconds)*time.Second,
	)

	authManager := auth.NewManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.AccessTTLMinutes)*time.Minute)

	if err := bootstrap.Run(ctx, cfg, searchService, bookingService, webhookService, authManager); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
