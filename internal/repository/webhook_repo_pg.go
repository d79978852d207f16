package repository

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEventRepository records processed provider callbacks so replays are
// detected before any transition runs.
type WebhookEventRepository interface {
	// Seen reports whether the idempotency key was already recorded.
	Seen(ctx context.Context, key string) (bool, error)
	// MarkProcessed inserts the idempotency key; returns false when the key
	// was already present (duplicate delivery).
	MarkProcessed(ctx context.Context, key string) (bool, error)
	CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PGWebhookEventRepository struct {
	db *pgxpool.Pool
}

func NewWebhookEventRepository(db *pgxpool.Pool) WebhookEventRepository {
	return &PGWebhookEventRepository{db: db}
}

func (r *PGWebhookEventRepository) Seen(ctx context.Context, key string) (bool, error) {
	keyHash := fmt.Sprintf("%x", sha256.Sum256([]byte(key)))

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM webhook_events WHERE key_hash=$1)`, keyHash).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PGWebhookEventRepository) MarkProcessed(ctx context.Context, key string) (bool, error) {
	keyHash := fmt.Sprintf("%x", sha256.Sum256([]byte(key)))

	cmd, err := r.db.Exec(ctx, `INSERT INTO webhook_events (key_hash, received_at) VALUES ($1, $2)
		ON CONFLICT (key_hash) DO NOTHING`, keyHash, time.Now())
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *PGWebhookEventRepository) CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM webhook_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

var _ WebhookEventRepository = (*PGWebhookEventRepository)(nil)
