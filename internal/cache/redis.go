package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tourtastic/tourtastic/config"
	"github.com/tourtastic/tourtastic/internal/domain"
)

const (
	metaFieldCriteria  = "criteria"
	metaFieldComplete  = "complete"
	metaFieldCreatedAt = "created_at"
	metaFieldExpiresAt = "expires_at"
)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
	}
}

// CreateSearch stores a fresh search record. Both keys carry an absolute
// deadline (EXPIREAT), so the record vanishes exactly at ExpiresAt no matter
// how often it is read.
func (c *RedisCache) CreateSearch(ctx context.Context, rec *domain.SearchRecord) error {
	criteria, err := json.Marshal(rec.Criteria)
	if err != nil {
		return err
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, searchMetaKey(rec.ID), map[string]interface{}{
		metaFieldCriteria:  criteria,
		metaFieldComplete:  "0",
		metaFieldCreatedAt: rec.CreatedAt.Format(time.RFC3339Nano),
		metaFieldExpiresAt: rec.ExpiresAt.Format(time.RFC3339Nano),
	})
	pipe.ExpireAt(ctx, searchMetaKey(rec.ID), rec.ExpiresAt)
	_, err = pipe.Exec(ctx)
	return err
}

// AppendOffers adds offers to a search, deduping on the provider-assigned
// offer ID via HSETNX. Returns how many offers were actually new.
func (c *RedisCache) AppendOffers(ctx context.Context, searchID string, offers []domain.Offer) (int, error) {
	expiresAt, err := c.searchDeadline(ctx, searchID)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, offer := range offers {
		payload, err := json.Marshal(offer)
		if err != nil {
			return added, err
		}
		ok, err := c.client.HSetNX(ctx, searchOffersKey(searchID), offer.ID, payload).Result()
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}

	if err := c.client.ExpireAt(ctx, searchOffersKey(searchID), expiresAt).Err(); err != nil {
		return added, err
	}
	return added, nil
}

func (c *RedisCache) MarkComplete(ctx context.Context, searchID string) error {
	if _, err := c.searchDeadline(ctx, searchID); err != nil {
		return err
	}
	return c.client.HSet(ctx, searchMetaKey(searchID), metaFieldComplete, "1").Err()
}

func (c *RedisCache) GetSearch(ctx context.Context, searchID string) (*domain.SearchRecord, error) {
	meta, err := c.client.HGetAll(ctx, searchMetaKey(searchID)).Result()
	if err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, fmt.Errorf("search %s: %w", searchID, domain.ErrNotFound)
	}

	rec := &domain.SearchRecord{ID: searchID, Complete: meta[metaFieldComplete] == "1"}
	if err := json.Unmarshal([]byte(meta[metaFieldCriteria]), &rec.Criteria); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, meta[metaFieldCreatedAt]); err != nil {
		return nil, err
	}
	if rec.ExpiresAt, err = time.Parse(time.RFC3339Nano, meta[metaFieldExpiresAt]); err != nil {
		return nil, err
	}
	// Belt and braces against lazy eviction: past the deadline the record is
	// gone even if redis has not reclaimed the key yet.
	if time.Now().After(rec.ExpiresAt) {
		return nil, fmt.Errorf("search %s expired: %w", searchID, domain.ErrNotFound)
	}

	raw, err := c.client.HGetAll(ctx, searchOffersKey(searchID)).Result()
	if err != nil {
		return nil, err
	}
	rec.Offers = make([]domain.Offer, 0, len(raw))
	for _, payload := range raw {
		var offer domain.Offer
		if err := json.Unmarshal([]byte(payload), &offer); err != nil {
			return nil, err
		}
		rec.Offers = append(rec.Offers, offer)
	}
	sort.Slice(rec.Offers, func(i, j int) bool {
		if rec.Offers[i].DepartureTime.Equal(rec.Offers[j].DepartureTime) {
			return rec.Offers[i].ID < rec.Offers[j].ID
		}
		return rec.Offers[i].DepartureTime.Before(rec.Offers[j].DepartureTime)
	})
	return rec, nil
}

// AcquireBookingLock serializes status writers on a single booking.
func (c *RedisCache) AcquireBookingLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, bookingLockKey(bookingID), "locked", ttl).Result()
}

func (c *RedisCache) ReleaseBookingLock(ctx context.Context, bookingID string) error {
	return c.client.Del(ctx, bookingLockKey(bookingID)).Err()
}

func (c *RedisCache) searchDeadline(ctx context.Context, searchID string) (time.Time, error) {
	val, err := c.client.HGet(ctx, searchMetaKey(searchID), metaFieldExpiresAt).Result()
	if err == redis.Nil {
		return time.Time{}, fmt.Errorf("search %s: %w", searchID, domain.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, val)
}

func searchMetaKey(id string) string {
	return fmt.Sprintf("search:%s:meta", id)
}

func searchOffersKey(id string) string {
	return fmt.Sprintf("search:%s:offers", id)
}

func bookingLockKey(id string) string {
	return fmt.Sprintf("lock:booking:%s", id)
}
