// Package persistence provides the storage contracts and PostgreSQL
// implementations for the personalization engine: per-user keyword patterns
// keyed by (user, keyword) and feedback keyed by (user, article).
package persistence

import (
	"attune/internal/core"
	"context"
	"time"
)

// PatternRepository handles per-user keyword pattern persistence.
type PatternRepository interface {
	// Upsert applies a single atomic increment-or-create: absent rows are
	// created with weight=delta and feedback_count=1, existing rows get
	// weight += delta, feedback_count += 1 and updated_at = now. The whole
	// operation is one storage-level statement, never read-then-write.
	Upsert(ctx context.Context, userID, keyword string, delta float64, now time.Time) error

	// ListByUser returns all patterns owned by the user.
	ListByUser(ctx context.Context, userID string) ([]core.Pattern, error)

	// ListUsers returns the id of every user with at least one pattern,
	// for sweep-style maintenance across the whole store.
	ListUsers(ctx context.Context) ([]string, error)

	// SetDecayedWeight overwrites a pattern's weight and records how many
	// decay periods have been applied, without touching updated_at. The
	// period counter is what keeps repeated decay runs idempotent for a
	// fixed elapsed time; Upsert resets it alongside updated_at.
	SetDecayedWeight(ctx context.Context, userID, keyword string, weight float64, periods int) error

	// Delete removes the given keywords for the user.
	Delete(ctx context.Context, userID string, keywords []string) error

	// DeleteAll removes every pattern owned by the user.
	DeleteAll(ctx context.Context, userID string) error
}

// FeedbackRepository handles feedback persistence, one row per (user, article).
type FeedbackRepository interface {
	// Get retrieves the feedback for a (user, article) pair.
	// Returns ErrNotFound if no feedback exists.
	Get(ctx context.Context, userID, articleID string) (*core.Feedback, error)

	// Upsert writes feedback for the pair, overwriting any prior row unless
	// the existing row is explicit and the new one is implicit (explicit
	// wins; the implicit write is discarded at the storage layer).
	Upsert(ctx context.Context, fb *core.Feedback) error

	// CountByUser returns the number of feedback rows owned by the user.
	CountByUser(ctx context.Context, userID string) (int, error)

	// DeleteAll removes every feedback row owned by the user.
	DeleteAll(ctx context.Context, userID string) error
}

// ArticleRepository exposes article text to the engine. The aggregation side
// of the application owns article ingestion; the engine only reads.
type ArticleRepository interface {
	// GetText returns the text of a single article.
	// Returns ErrNotFound if the article does not exist.
	GetText(ctx context.Context, articleID string) (core.ArticleText, error)

	// GetTexts returns the texts for the given articles in one round trip.
	// Missing articles are simply absent from the result map.
	GetTexts(ctx context.Context, articleIDs []string) (map[string]core.ArticleText, error)
}

// Database bundles the repositories behind one connection.
type Database interface {
	Patterns() PatternRepository
	Feedback() FeedbackRepository
	Articles() ArticleRepository
	Ping(ctx context.Context) error
	Close() error
}
