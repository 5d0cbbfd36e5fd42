// Package patterns maintains the per-user keyword preference store: applying
// feedback deltas, decaying stale weights and keeping the store bounded.
package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"attune/internal/core"
	"attune/internal/keywords"
	"attune/internal/logger"
	"attune/internal/persistence"
)

// dampening keeps any single feedback event from dominating a pattern.
const dampening = 0.1

// updateMaxKeywords is how many keywords of an article feed the update.
const updateMaxKeywords = keywords.DefaultMaxKeywords

// InvalidateFunc drops all cached scores for a user. The cache layer supplies
// it; a nil hook disables invalidation.
type InvalidateFunc func(ctx context.Context, userID string) error

// UpdateReport lists the per-keyword outcomes of one pattern update. Keyword
// writes are independent, so one storage hiccup does not erase an otherwise
// successful update; callers see exactly which keywords were applied.
type UpdateReport struct {
	Updated []string
	Failed  map[string]error
}

// Ok reports whether every keyword write succeeded.
func (r *UpdateReport) Ok() bool {
	return len(r.Failed) == 0
}

// Updater merges feedback events into the pattern store.
type Updater struct {
	patterns    persistence.PatternRepository
	articles    persistence.ArticleRepository
	extractor   *keywords.Extractor
	decay       *Decay
	cleaner     *Cleaner
	maxPatterns int
	invalidate  InvalidateFunc
	clock       core.Clock
	log         *slog.Logger
}

// NewUpdater creates a pattern updater. maxPatterns <= 0 selects the default
// cap of 100.
func NewUpdater(
	patterns persistence.PatternRepository,
	articles persistence.ArticleRepository,
	extractor *keywords.Extractor,
	decay *Decay,
	cleaner *Cleaner,
	maxPatterns int,
	invalidate InvalidateFunc,
	clock core.Clock,
) *Updater {
	if extractor == nil {
		extractor = keywords.NewExtractor()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	if maxPatterns <= 0 {
		maxPatterns = DefaultMaxPatterns
	}
	return &Updater{
		patterns:    patterns,
		articles:    articles,
		extractor:   extractor,
		decay:       decay,
		cleaner:     cleaner,
		maxPatterns: maxPatterns,
		invalidate:  invalidate,
		clock:       clock,
		log:         logger.Get(),
	}
}

// UpdateUserPatterns extracts the article's top keywords and merges
// feedbackValue-weighted deltas into the user's pattern store. Each keyword
// write is an independent atomic increment-or-create issued concurrently; the
// report carries one outcome per keyword. Decay, cleanup and score-cache
// invalidation run synchronously afterwards.
func (u *Updater) UpdateUserPatterns(ctx context.Context, userID, articleID string, feedbackValue float64) (*UpdateReport, error) {
	article, err := u.articles.GetText(ctx, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load article %s: %w", articleID, err)
	}

	kws := u.extractor.Extract(article.Text(), updateMaxKeywords)
	report := &UpdateReport{Failed: make(map[string]error)}
	if len(kws) == 0 || feedbackValue == 0 {
		// Degenerate text or neutral feedback: nothing to learn.
		return report, nil
	}

	now := u.clock.Now()
	results := make([]error, len(kws))
	var wg sync.WaitGroup
	for i, kw := range kws {
		delta := feedbackValue * kw.Score * dampening
		wg.Add(1)
		go func(i int, word string, delta float64) {
			defer wg.Done()
			results[i] = u.patterns.Upsert(ctx, userID, word, delta, now)
		}(i, kw.Word, delta)
	}
	wg.Wait()

	for i, kw := range kws {
		if err := results[i]; err != nil {
			report.Failed[kw.Word] = err
			continue
		}
		report.Updated = append(report.Updated, kw.Word)
	}
	if len(report.Failed) > 0 {
		u.log.Warn("Partial pattern update",
			"user_id", userID, "article_id", articleID,
			"updated", len(report.Updated), "failed", len(report.Failed))
	}

	if err := u.maintain(ctx, userID); err != nil {
		return report, err
	}
	return report, nil
}

// maintain runs decay, cleanup and cache invalidation after an update.
// Invalidation failure is logged, never fatal: a stale cache entry only lives
// until its TTL.
func (u *Updater) maintain(ctx context.Context, userID string) error {
	if err := u.decay.Apply(ctx, userID); err != nil {
		return fmt.Errorf("pattern decay failed: %w", err)
	}
	if _, err := u.cleaner.Cleanup(ctx, userID, u.maxPatterns); err != nil {
		return fmt.Errorf("pattern cleanup failed: %w", err)
	}

	if u.invalidate != nil {
		if err := u.invalidate(ctx, userID); err != nil {
			u.log.Warn("Failed to invalidate score cache", "user_id", userID, "error", err.Error())
		}
	}
	return nil
}
