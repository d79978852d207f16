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
	"github.com/tourtastic/tourtastic/internal/email"
	"github.com/tourtastic/tourtastic/internal/kafka"
	"github.com/tourtastic/tourtastic/internal/repository"
)

// webhookEventRetention bounds how long processed callback keys are kept.
// Providers retry for at most a couple of days, so a week is plenty.
const webhookEventRetention = 7 * 24 * time.Hour

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	webhookRepo := repository.NewWebhookEventRepository(pool)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic)
	defer consumer.Close()

	emailSender := email.NewSender()

	go func() {
		if err := consumer.Consume(ctx, emailSender.Send); err != nil {
			log.Printf("consumer stopped: %v", err)
		}
	}()

	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-cleanupTicker.C:
			removed, err := webhookRepo.CleanupBefore(ctx, time.Now().Add(-webhookEventRetention))
			if err != nil {
				log.Printf("cleanup webhook events error: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("removed %d old webhook events", removed)
			}
		case s := <-sig:
			log.Printf("received signal %v, shutting down", s)
			return
		}
	}
}
