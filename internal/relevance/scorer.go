// Package relevance predicts how interesting an article is to a user by
// matching the user's learned keyword patterns against the article's extracted
// keywords. Scores are cached per (user, article) and invalidated whenever the
// pattern store changes; the cache is an optimization, never a dependency.
package relevance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"attune/internal/cache"
	"attune/internal/core"
	"attune/internal/keywords"
	"attune/internal/logger"
	"attune/internal/persistence"
)

const (
	// scoreMaxKeywords is the extraction cap used for scoring. Wider than the
	// update cap so weak pattern matches still register.
	scoreMaxKeywords = 30

	// sensitivity controls how quickly the logistic normalization saturates
	// toward 0 or 1 as evidence accumulates.
	sensitivity = 5.0

	// maxMatches caps the contributors reported with a score.
	maxMatches = 5

	// neutralScore is returned for users with no patterns yet.
	neutralScore = 0.5

	// DefaultCacheTTL bounds how long a computed score may be served stale.
	DefaultCacheTTL = 15 * time.Minute
)

// Explanation score bands.
const (
	bandHigh     = 0.70
	bandModerate = 0.50
	bandLow      = 0.30
)

// Scorer computes relevance scores with a cache-aside strategy.
type Scorer struct {
	patterns  persistence.PatternRepository
	articles  persistence.ArticleRepository
	extractor *keywords.Extractor
	cache     cache.Cache
	ttl       time.Duration
	clock     core.Clock
	log       *slog.Logger
}

// NewScorer creates a relevance scorer. A nil cache disables caching; ttl <= 0
// selects the default.
func NewScorer(
	patterns persistence.PatternRepository,
	articles persistence.ArticleRepository,
	extractor *keywords.Extractor,
	c cache.Cache,
	ttl time.Duration,
	clock core.Clock,
) *Scorer {
	if extractor == nil {
		extractor = keywords.NewExtractor()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Scorer{
		patterns:  patterns,
		articles:  articles,
		extractor: extractor,
		cache:     c,
		ttl:       ttl,
		clock:     clock,
		log:       logger.Get(),
	}
}

// ScoreArticle returns the relevance score for one (user, article) pair,
// serving from cache when possible. A user with no patterns gets the neutral
// score; an unknown article surfaces NotFound.
func (s *Scorer) ScoreArticle(ctx context.Context, userID, articleID string) (*core.ArticleScore, error) {
	if cached := s.cacheGet(ctx, userID, articleID); cached != nil {
		return cached, nil
	}

	pats, err := s.patterns.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns for scoring: %w", err)
	}

	article, err := s.articles.GetText(ctx, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load article %s: %w", articleID, err)
	}

	score := s.compute(userID, article, pats)
	s.cachePut(ctx, score)
	return score, nil
}

// ScoreArticleBatch scores many articles for one user. Results are identical
// to scoring each article individually; the batch only saves round trips:
// cache hits are collected first, then patterns and the missing article texts
// are each fetched once and the misses computed through the single-item path.
func (s *Scorer) ScoreArticleBatch(ctx context.Context, userID string, articleIDs []string) (map[string]*core.ArticleScore, error) {
	out := make(map[string]*core.ArticleScore, len(articleIDs))
	var misses []string
	for _, id := range articleIDs {
		if _, done := out[id]; done {
			continue
		}
		if cached := s.cacheGet(ctx, userID, id); cached != nil {
			out[id] = cached
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	pats, err := s.patterns.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns for scoring: %w", err)
	}

	texts, err := s.articles.GetTexts(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("failed to load articles: %w", err)
	}

	for _, id := range misses {
		article, ok := texts[id]
		if !ok {
			return nil, fmt.Errorf("failed to load article %s: %w", id, persistence.ErrNotFound)
		}
		score := s.compute(userID, article, pats)
		s.cachePut(ctx, score)
		out[id] = score
	}
	return out, nil
}

// compute is the single scoring algorithm both entry points share.
func (s *Scorer) compute(userID string, article core.ArticleText, pats []core.Pattern) *core.ArticleScore {
	now := s.clock.Now()
	if len(pats) == 0 {
		return &core.ArticleScore{
			UserID:           userID,
			ArticleID:        article.ID,
			Score:            neutralScore,
			MatchingPatterns: []core.PatternMatch{},
			Explanation:      "No patterns yet: neutral score until feedback accumulates",
			ComputedAt:       now,
		}
	}

	kws := s.extractor.Extract(article.Text(), scoreMaxKeywords)
	relevanceOf := make(map[string]float64, len(kws))
	for _, kw := range kws {
		relevanceOf[kw.Word] = kw.Score
	}

	total := 0.0
	var matches []core.PatternMatch
	for _, p := range pats {
		rel, ok := relevanceOf[p.Keyword]
		if !ok {
			continue
		}
		contribution := p.Weight * rel
		total += contribution
		matches = append(matches, core.PatternMatch{
			Keyword:      p.Keyword,
			Weight:       p.Weight,
			Contribution: contribution,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		ci, cj := math.Abs(matches[i].Contribution), math.Abs(matches[j].Contribution)
		if ci != cj {
			return ci > cj
		}
		return matches[i].Keyword < matches[j].Keyword
	})
	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}
	if matches == nil {
		matches = []core.PatternMatch{}
	}

	score := 1 / (1 + math.Exp(-sensitivity*total))
	return &core.ArticleScore{
		UserID:           userID,
		ArticleID:        article.ID,
		Score:            score,
		MatchingPatterns: matches,
		Explanation:      explain(score, matches),
		ComputedAt:       now,
	}
}

// explain renders a short human-readable rationale from the score band and
// the strongest contributors.
func explain(score float64, matches []core.PatternMatch) string {
	switch {
	case score >= bandHigh:
		if topics := contributors(matches, true); topics != "" {
			return "Highly relevant: matches your interest in " + topics
		}
		return "Highly relevant to your reading history"
	case score >= bandModerate:
		return "Moderately relevant to your interests"
	case score >= bandLow:
		if topics := contributors(matches, false); topics != "" {
			return "Less relevant: overlaps topics you skip (" + topics + ")"
		}
		return "Less relevant to your interests"
	default:
		if topics := contributors(matches, false); topics != "" {
			return "Not relevant: matches disliked topics (" + topics + ")"
		}
		return "Not relevant to your interests"
	}
}

// contributors joins the keywords of up to three matches with the requested
// contribution sign. Matches arrive ordered by |contribution|.
func contributors(matches []core.PatternMatch, positive bool) string {
	var topics []string
	for _, m := range matches {
		if positive == (m.Contribution > 0) && m.Contribution != 0 {
			topics = append(topics, m.Keyword)
		}
		if len(topics) == 3 {
			break
		}
	}
	return strings.Join(topics, ", ")
}

func (s *Scorer) cacheGet(ctx context.Context, userID, articleID string) *core.ArticleScore {
	if s.cache == nil {
		return nil
	}
	var cached core.ArticleScore
	err := s.cache.Get(ctx, cache.ScoreKey(userID, articleID), &cached)
	if err == nil {
		return &cached
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("Score cache read failed", "user_id", userID, "article_id", articleID, "error", err.Error())
	}
	return nil
}

func (s *Scorer) cachePut(ctx context.Context, score *core.ArticleScore) {
	if s.cache == nil {
		return
	}
	key := cache.ScoreKey(score.UserID, score.ArticleID)
	if err := s.cache.Set(ctx, key, score, s.ttl); err != nil {
		s.log.Warn("Score cache write failed", "user_id", score.UserID, "article_id", score.ArticleID, "error", err.Error())
	}
}
