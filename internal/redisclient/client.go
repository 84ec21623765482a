package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"access-reconciler/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/store_snapshot.lua
var storeSnapshotScript string

const snapshotKey = "snapshot:inputs"

// generationField formats a generation so that string order matches numeric
// order for every non-negative int64.
func generationField(gen int64) string {
	return fmt.Sprintf("%020d", gen)
}

type Client struct {
	rdb         *redis.Client
	storeScript *redis.Script
	snapshotTTL time.Duration
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int, snapshotTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		storeScript: redis.NewScript(storeSnapshotScript),
		snapshotTTL: snapshotTTL,
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// StoreSnapshot caches the inputs if their generation is newer than the
// cached one. Returns false when a newer snapshot is already cached.
func (c *Client) StoreSnapshot(ctx context.Context, in models.SnapshotInputs) (bool, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return false, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	result, err := c.storeScript.Run(ctx, c.rdb, []string{snapshotKey},
		generationField(in.Generation), payload, c.snapshotTTL.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("store snapshot script failed: %w", err)
	}

	stored, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return stored == 1, nil
}

// LoadSnapshot returns the cached inputs, or false if nothing is cached
func (c *Client) LoadSnapshot(ctx context.Context) (models.SnapshotInputs, bool, error) {
	var in models.SnapshotInputs

	data, err := c.rdb.HGet(ctx, snapshotKey, "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return in, false, nil
	}
	if err != nil {
		return in, false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	if err := json.Unmarshal(data, &in); err != nil {
		return in, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return in, true, nil
}

// MarkProcessed records an event id, returning false if it was already seen
func (c *Client) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", eventID), "1", ttl).Result()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
