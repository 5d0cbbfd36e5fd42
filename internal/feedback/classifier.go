// Package feedback converts explicit ratings and implicit reading telemetry
// into persisted feedback signals. Explicit feedback always wins: once a user
// has rated an article, implicit signals for that article are discarded.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"attune/internal/core"
	"attune/internal/keywords"
	"attune/internal/logger"
	"attune/internal/persistence"
)

const (
	// ExplicitPositive and ExplicitNegative are the only accepted explicit values.
	ExplicitPositive = 1.0
	ExplicitNegative = -1.0

	// CompletionRatio is the timeSpent/estimatedTime ratio treated as a full read.
	CompletionRatio = 0.90
	// CompletionValue is the implicit value recorded for a completed read.
	CompletionValue = 0.5
	// BounceValue is the implicit value recorded for a bounce.
	BounceValue = -0.5

	// DefaultBounceThreshold is the ratio below which a read counts as a
	// bounce when the user has no configured threshold.
	DefaultBounceThreshold = 0.25
)

// ErrInvalidValue is returned when an explicit rating is not one of the two
// defined sentinels.
var ErrInvalidValue = errors.New("explicit feedback value must be +1.0 or -1.0")

// Preferences resolves per-user settings to concrete values. The cascading
// feed/category/user resolution happens outside the engine; this interface
// only ever yields a single resolved number.
type Preferences interface {
	BounceThreshold(ctx context.Context, userID string) (float64, error)
}

// StaticPreferences serves one threshold for every user.
type StaticPreferences struct {
	Threshold float64
}

func (p StaticPreferences) BounceThreshold(ctx context.Context, userID string) (float64, error) {
	if p.Threshold <= 0 {
		return DefaultBounceThreshold, nil
	}
	return p.Threshold, nil
}

// Classifier records feedback with explicit-over-implicit precedence.
type Classifier struct {
	feedback persistence.FeedbackRepository
	articles persistence.ArticleRepository
	prefs    Preferences
	clock    core.Clock
	log      *slog.Logger
}

// NewClassifier creates a feedback classifier.
func NewClassifier(feedback persistence.FeedbackRepository, articles persistence.ArticleRepository, prefs Preferences, clock core.Clock) *Classifier {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if prefs == nil {
		prefs = StaticPreferences{Threshold: DefaultBounceThreshold}
	}
	return &Classifier{
		feedback: feedback,
		articles: articles,
		prefs:    prefs,
		clock:    clock,
		log:      logger.Get(),
	}
}

// RecordExplicit persists a thumbs up/down for the (user, article) pair,
// unconditionally overwriting any prior feedback.
func (c *Classifier) RecordExplicit(ctx context.Context, userID, articleID string, value float64) (*core.Feedback, error) {
	if value != ExplicitPositive && value != ExplicitNegative {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidValue, value)
	}

	now := c.clock.Now()
	fb := &core.Feedback{
		ID:        uuid.NewString(),
		UserID:    userID,
		ArticleID: articleID,
		Kind:      core.FeedbackExplicit,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Keep the original identity when overwriting an existing row.
	if existing, err := c.feedback.Get(ctx, userID, articleID); err == nil {
		fb.ID = existing.ID
		fb.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing feedback: %w", err)
	}

	if err := c.feedback.Upsert(ctx, fb); err != nil {
		return nil, err
	}

	c.log.Debug("Recorded explicit feedback", "user_id", userID, "article_id", articleID, "value", value)
	return fb, nil
}

// RecordView registers an article open and returns the reading-time estimate
// the client uses to time the session. Nothing is persisted yet.
func (c *Classifier) RecordView(ctx context.Context, userID, articleID string) (*core.ViewReceipt, error) {
	article, err := c.articles.GetText(ctx, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load article %s: %w", articleID, err)
	}

	return &core.ViewReceipt{
		ViewedAt:      c.clock.Now(),
		EstimatedTime: keywords.EstimateReadingTime(article.Text()),
	}, nil
}

// RecordExit classifies a finished reading session. A near-complete read
// (ratio >= 0.90) records +0.5, a bounce below the user's threshold records
// -0.5, anything in between yields no feedback and returns (nil, nil). When
// explicit feedback already exists for the pair, the existing record is
// returned unchanged.
func (c *Classifier) RecordExit(ctx context.Context, userID, articleID string, timeSpent, estimatedTime int) (*core.Feedback, error) {
	if estimatedTime <= 0 {
		return nil, fmt.Errorf("estimated time must be positive, got %d", estimatedTime)
	}
	if timeSpent < 0 {
		return nil, fmt.Errorf("time spent must not be negative, got %d", timeSpent)
	}

	existing, err := c.feedback.Get(ctx, userID, articleID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing feedback: %w", err)
	}
	if existing != nil && existing.Kind == core.FeedbackExplicit {
		// Explicit wins; the implicit attempt is a no-op.
		return existing, nil
	}

	ratio := float64(timeSpent) / float64(estimatedTime)
	value, ok := c.classifyRatio(ctx, userID, ratio)
	if !ok {
		return nil, nil
	}

	now := c.clock.Now()
	fb := &core.Feedback{
		ID:            uuid.NewString(),
		UserID:        userID,
		ArticleID:     articleID,
		Kind:          core.FeedbackImplicit,
		Value:         value,
		TimeSpent:     timeSpent,
		EstimatedTime: estimatedTime,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if existing != nil {
		fb.ID = existing.ID
		fb.CreatedAt = existing.CreatedAt
	}

	if err := c.feedback.Upsert(ctx, fb); err != nil {
		return nil, err
	}

	c.log.Debug("Recorded implicit feedback",
		"user_id", userID, "article_id", articleID, "ratio", ratio, "value", value)
	return fb, nil
}

// classifyRatio maps a reading ratio to an implicit feedback value. The
// second return is false when the ratio carries no signal.
func (c *Classifier) classifyRatio(ctx context.Context, userID string, ratio float64) (float64, bool) {
	if ratio >= CompletionRatio {
		return CompletionValue, true
	}

	threshold, err := c.prefs.BounceThreshold(ctx, userID)
	if err != nil {
		c.log.Warn("Failed to resolve bounce threshold, using default", "user_id", userID, "error", err.Error())
		threshold = DefaultBounceThreshold
	}
	if ratio < threshold {
		return BounceValue, true
	}
	return 0, false
}
