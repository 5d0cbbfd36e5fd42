// Package services exposes the personalization engine as one facade wiring
// the feedback classifier, pattern store maintenance and relevance scoring
// over shared storage and cache connections.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"attune/internal/cache"
	"attune/internal/core"
	"attune/internal/feedback"
	"attune/internal/keywords"
	"attune/internal/logger"
	"attune/internal/patterns"
	"attune/internal/persistence"
	"attune/internal/relevance"
)

// statsTopN bounds the strongest-pattern lists in GetPatternStats.
const statsTopN = 5

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	// MaxPatterns caps stored patterns per user (default 100).
	MaxPatterns int
	// BounceThreshold is the system-wide default reading-ratio below which a
	// session counts as a bounce (default 0.25). Ignored when Preferences is
	// set.
	BounceThreshold float64
	// ScoreCacheTTL bounds how long computed scores are served from cache.
	ScoreCacheTTL time.Duration
	// Preferences resolves per-user bounce thresholds.
	Preferences feedback.Preferences
	// Clock is injectable for decay testing.
	Clock core.Clock
}

// Engine is the personalization facade the surrounding application consumes.
type Engine struct {
	db          persistence.Database
	cache       cache.Cache
	classifier  *feedback.Classifier
	updater     *patterns.Updater
	decay       *patterns.Decay
	cleaner     *patterns.Cleaner
	scorer      *relevance.Scorer
	maxPatterns int
	log         *slog.Logger
}

// NewEngine wires the engine over the given storage and cache. A nil cache
// disables score caching and invalidation; everything else still works.
func NewEngine(db persistence.Database, c cache.Cache, opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = core.SystemClock{}
	}
	prefs := opts.Preferences
	if prefs == nil {
		prefs = feedback.StaticPreferences{Threshold: opts.BounceThreshold}
	}
	maxPatterns := opts.MaxPatterns
	if maxPatterns <= 0 {
		maxPatterns = patterns.DefaultMaxPatterns
	}

	var invalidate patterns.InvalidateFunc
	if c != nil {
		invalidate = func(ctx context.Context, userID string) error {
			return c.DeleteByPrefix(ctx, cache.UserScorePrefix(userID))
		}
	}

	extractor := keywords.NewExtractor()
	decay := patterns.NewDecay(db.Patterns(), clock)
	cleaner := patterns.NewCleaner(db.Patterns())
	return &Engine{
		db:          db,
		cache:       c,
		classifier:  feedback.NewClassifier(db.Feedback(), db.Articles(), prefs, clock),
		updater:     patterns.NewUpdater(db.Patterns(), db.Articles(), extractor, decay, cleaner, maxPatterns, invalidate, clock),
		decay:       decay,
		cleaner:     cleaner,
		scorer:      relevance.NewScorer(db.Patterns(), db.Articles(), extractor, c, opts.ScoreCacheTTL, clock),
		maxPatterns: maxPatterns,
		log:         logger.Get(),
	}
}

// RecordExplicitFeedback persists a thumbs up/down and folds it into the
// user's patterns. The feedback row is authoritative: it is returned even when
// the pattern update afterwards fails, alongside the error.
func (e *Engine) RecordExplicitFeedback(ctx context.Context, userID, articleID string, value float64) (*core.Feedback, error) {
	fb, err := e.classifier.RecordExplicit(ctx, userID, articleID, value)
	if err != nil {
		return nil, err
	}

	if _, err := e.updater.UpdateUserPatterns(ctx, userID, articleID, fb.Value); err != nil {
		return fb, fmt.Errorf("feedback recorded but pattern update failed: %w", err)
	}
	return fb, nil
}

// RecordArticleView registers an article open and returns the reading-time
// estimate the client times the session against.
func (e *Engine) RecordArticleView(ctx context.Context, userID, articleID string) (*core.ViewReceipt, error) {
	return e.classifier.RecordView(ctx, userID, articleID)
}

// RecordArticleExit classifies a finished reading session. Only a freshly
// recorded implicit signal feeds the pattern store; a middle-ground session
// returns (nil, nil) and an existing explicit record is returned untouched.
func (e *Engine) RecordArticleExit(ctx context.Context, userID, articleID string, timeSpent, estimatedTime int) (*core.Feedback, error) {
	fb, err := e.classifier.RecordExit(ctx, userID, articleID, timeSpent, estimatedTime)
	if err != nil || fb == nil {
		return fb, err
	}
	if fb.Kind != core.FeedbackImplicit {
		return fb, nil
	}

	if _, err := e.updater.UpdateUserPatterns(ctx, userID, articleID, fb.Value); err != nil {
		return fb, fmt.Errorf("feedback recorded but pattern update failed: %w", err)
	}
	return fb, nil
}

// UpdateUserPatterns folds a feedback value for an article into the user's
// pattern store directly, without recording a feedback row.
func (e *Engine) UpdateUserPatterns(ctx context.Context, userID, articleID string, feedbackValue float64) (*patterns.UpdateReport, error) {
	return e.updater.UpdateUserPatterns(ctx, userID, articleID, feedbackValue)
}

// ApplyPatternDecay weakens the user's stale patterns. Cached scores are
// dropped afterwards so the next read reflects the decayed weights; this
// makes the out-of-band sweep safe to interleave with the synchronous
// maintenance that follows each feedback event.
func (e *Engine) ApplyPatternDecay(ctx context.Context, userID string) error {
	if err := e.decay.Apply(ctx, userID); err != nil {
		return err
	}
	e.invalidateScores(ctx, userID)
	return nil
}

// CleanupPatterns removes noise patterns and trims the user's store to
// maxPatterns rows. maxPatterns <= 0 selects the engine's configured cap.
// Cached scores are dropped when anything was removed.
func (e *Engine) CleanupPatterns(ctx context.Context, userID string, maxPatterns int) (int, error) {
	if maxPatterns <= 0 {
		maxPatterns = e.maxPatterns
	}
	removed, err := e.cleaner.Cleanup(ctx, userID, maxPatterns)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		e.invalidateScores(ctx, userID)
	}
	return removed, nil
}

// SweepAllUsers runs decay and cleanup for every user with stored patterns,
// the scheduler-driven counterpart to per-feedback maintenance. Per-user
// failures are collected rather than aborting the sweep; the count of users
// swept cleanly is returned either way.
func (e *Engine) SweepAllUsers(ctx context.Context, maxPatterns int) (int, error) {
	users, err := e.db.Patterns().ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	var errs []error
	swept := 0
	for _, userID := range users {
		if err := e.ApplyPatternDecay(ctx, userID); err != nil {
			errs = append(errs, fmt.Errorf("decay %s: %w", userID, err))
			continue
		}
		if _, err := e.CleanupPatterns(ctx, userID, maxPatterns); err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", userID, err))
			continue
		}
		swept++
	}
	return swept, errors.Join(errs...)
}

// ScoreArticle predicts the article's relevance for the user.
func (e *Engine) ScoreArticle(ctx context.Context, userID, articleID string) (*core.ArticleScore, error) {
	return e.scorer.ScoreArticle(ctx, userID, articleID)
}

// ScoreArticleBatch scores many articles for one user, identically to calling
// ScoreArticle per article.
func (e *Engine) ScoreArticleBatch(ctx context.Context, userID string, articleIDs []string) (map[string]*core.ArticleScore, error) {
	return e.scorer.ScoreArticleBatch(ctx, userID, articleIDs)
}

// GetPatternStats summarizes the user's learned profile.
func (e *Engine) GetPatternStats(ctx context.Context, userID string) (*core.PatternStats, error) {
	pats, err := e.db.Patterns().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	count, err := e.db.Feedback().CountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count feedback: %w", err)
	}

	stats := &core.PatternStats{
		UserID:        userID,
		PatternCount:  len(pats),
		FeedbackCount: count,
	}
	var positive, negative []core.Pattern
	for _, p := range pats {
		if p.UpdatedAt.After(stats.LastUpdated) {
			stats.LastUpdated = p.UpdatedAt
		}
		if p.Weight > 0 {
			positive = append(positive, p)
		} else if p.Weight < 0 {
			negative = append(negative, p)
		}
	}
	sort.Slice(positive, func(i, j int) bool { return positive[i].Weight > positive[j].Weight })
	sort.Slice(negative, func(i, j int) bool { return negative[i].Weight < negative[j].Weight })
	stats.TopPositive = topN(positive, statsTopN)
	stats.TopNegative = topN(negative, statsTopN)
	return stats, nil
}

// ResetUserPatterns forgets everything learned about the user: patterns,
// feedback history and cached scores.
func (e *Engine) ResetUserPatterns(ctx context.Context, userID string) error {
	if err := e.db.Patterns().DeleteAll(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete patterns: %w", err)
	}
	if err := e.db.Feedback().DeleteAll(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete feedback: %w", err)
	}
	e.invalidateScores(ctx, userID)

	e.log.Info("Reset user personalization", "user_id", userID)
	return nil
}

// invalidateScores drops the user's cached scores. Failure is logged, never
// fatal: a stale entry only lives until its TTL.
func (e *Engine) invalidateScores(ctx context.Context, userID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.DeleteByPrefix(ctx, cache.UserScorePrefix(userID)); err != nil {
		e.log.Warn("Failed to invalidate score cache", "user_id", userID, "error", err.Error())
	}
}

func topN(pats []core.Pattern, n int) []core.Pattern {
	if len(pats) > n {
		pats = pats[:n]
	}
	return pats
}
