// Package gradebook provides implementations of the reconcile.Gradebook
// system of record.
package gradebook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bytegrader/bgctl/pkg/models"
	"github.com/bytegrader/bgctl/pkg/reconcile"
)

const appPrefix = "bgctl:"

const (
	latestAttemptKeyPrefix = appPrefix + "attempt:"    // attempt:{username}:{assignment} -> JSON
	resultsKeyPrefix       = appPrefix + "results:"    // results:{username}:{assignment} -> list of JSON entries
	assignmentKeyPrefix    = appPrefix + "assignment:" // assignment:{id}:{field} -> scalar
)

// resultEntry is one row in the per-user result history.
type resultEntry struct {
	Score      float64   `json:"score"`
	Passed     bool      `json:"passed"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RedisGradebook stores graded attempts in Redis. Result submissions
// append to a per-user history list; the latest attempt is a single key
// overwritten on every write, so only the most recent attempt is retained
// for display.
type RedisGradebook struct {
	client *redis.Client
}

// NewRedis creates a gradebook backed by the given Redis instance.
func NewRedis(addr, password string, db int) *RedisGradebook {
	return &RedisGradebook{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// NewRedisWithClient wraps an existing client, mainly for tests.
func NewRedisWithClient(client *redis.Client) *RedisGradebook {
	return &RedisGradebook{client: client}
}

// Close releases the underlying connection pool.
func (g *RedisGradebook) Close() error {
	return g.client.Close()
}

// Ping verifies connectivity to the store.
func (g *RedisGradebook) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// SubmitResult appends a graded attempt to the user's result history.
func (g *RedisGradebook) SubmitResult(ctx context.Context, username, assignmentID string, score float64, passed bool) error {
	entry, err := json.Marshal(resultEntry{Score: score, Passed: passed, RecordedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	key := fmt.Sprintf("%s%s:%s", resultsKeyPrefix, username, assignmentID)
	if err := g.client.RPush(ctx, key, entry).Err(); err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}
	return nil
}

// StoreLatestAttempt overwrites the stored attempt for the user and
// assignment.
func (g *RedisGradebook) StoreLatestAttempt(ctx context.Context, username, assignmentID string, attempt models.Attempt) error {
	encoded, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to encode attempt: %w", err)
	}
	key := fmt.Sprintf("%s%s:%s", latestAttemptKeyPrefix, username, assignmentID)
	if err := g.client.Set(ctx, key, encoded, 0).Err(); err != nil {
		return fmt.Errorf("failed to store attempt: %w", err)
	}
	return nil
}

// LatestAttempt returns the stored attempt, or nil when none exists.
func (g *RedisGradebook) LatestAttempt(ctx context.Context, username, assignmentID string) (*models.Attempt, error) {
	key := fmt.Sprintf("%s%s:%s", latestAttemptKeyPrefix, username, assignmentID)
	encoded, err := g.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}
	var attempt models.Attempt
	if err := json.Unmarshal([]byte(encoded), &attempt); err != nil {
		return nil, fmt.Errorf("failed to decode attempt: %w", err)
	}
	return &attempt, nil
}

// PassingThreshold returns the assignment's configured passing score, or
// the default when unset or unreadable.
func (g *RedisGradebook) PassingThreshold(ctx context.Context, assignmentID string) float64 {
	key := fmt.Sprintf("%s%s:passing_threshold", assignmentKeyPrefix, assignmentID)
	raw, err := g.client.Get(ctx, key).Result()
	if err != nil {
		return reconcile.DefaultPassingThreshold
	}
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return reconcile.DefaultPassingThreshold
	}
	return threshold
}

// MaxFileSizeMB returns the assignment's configured submission size limit,
// or the default when unset or unreadable.
func (g *RedisGradebook) MaxFileSizeMB(ctx context.Context, assignmentID string) int {
	key := fmt.Sprintf("%s%s:max_file_size_mb", assignmentKeyPrefix, assignmentID)
	raw, err := g.client.Get(ctx, key).Result()
	if err != nil {
		return reconcile.DefaultMaxFileSizeMB
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return reconcile.DefaultMaxFileSizeMB
	}
	return limit
}
