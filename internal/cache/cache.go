// Package cache provides the score-cache contract and its backends. The cache
// is a disposable projection: every value in it can be recomputed from the
// authoritative stores, so backends may drop entries at any time and callers
// must treat failures as misses, never as fatal errors.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is the key-value contract the engine consumes. Values are JSON-coded
// by the backend. DeleteByPrefix backs per-user score invalidation.
type Cache interface {
	// Get unmarshals the cached value for key into dest.
	// Returns ErrMiss when the key is absent or expired.
	Get(ctx context.Context, key string, dest any) error

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// DeleteByPrefix removes every key with the given prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// ScoreKey builds the cache key for a (user, article) score.
func ScoreKey(userID, articleID string) string {
	return "score:" + userID + ":" + articleID
}

// UserScorePrefix builds the prefix covering all of a user's cached scores.
func UserScorePrefix(userID string) string {
	return "score:" + userID + ":"
}
