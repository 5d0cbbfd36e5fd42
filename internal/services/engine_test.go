package services

import (
	"context"
	"math"
	"testing"
	"time"

	"attune/internal/cache"
	"attune/internal/core"
	"attune/internal/persistence"
)

// memDB is an in-memory persistence.Database mirroring the Postgres semantics
// the engine depends on: atomic pattern increments and explicit-over-implicit
// feedback precedence.
type memDB struct {
	patterns *memPatternRepo
	feedback *memFeedbackRepo
	articles *memArticleRepo
}

func newMemDB() *memDB {
	return &memDB{
		patterns: &memPatternRepo{rows: make(map[string]*core.Pattern)},
		feedback: &memFeedbackRepo{rows: make(map[string]*core.Feedback)},
		articles: &memArticleRepo{texts: make(map[string]core.ArticleText)},
	}
}

func (db *memDB) Patterns() persistence.PatternRepository  { return db.patterns }
func (db *memDB) Feedback() persistence.FeedbackRepository { return db.feedback }
func (db *memDB) Articles() persistence.ArticleRepository  { return db.articles }
func (db *memDB) Ping(ctx context.Context) error           { return nil }
func (db *memDB) Close() error                             { return nil }

type memPatternRepo struct {
	rows map[string]*core.Pattern
}

func (r *memPatternRepo) key(userID, keyword string) string { return userID + "|" + keyword }

func (r *memPatternRepo) Upsert(ctx context.Context, userID, keyword string, delta float64, now time.Time) error {
	if p, ok := r.rows[r.key(userID, keyword)]; ok {
		p.Weight += delta
		p.FeedbackCount++
		p.DecayPeriods = 0
		p.UpdatedAt = now
		return nil
	}
	r.rows[r.key(userID, keyword)] = &core.Pattern{
		UserID: userID, Keyword: keyword, Weight: delta, FeedbackCount: 1, UpdatedAt: now,
	}
	return nil
}

func (r *memPatternRepo) ListByUser(ctx context.Context, userID string) ([]core.Pattern, error) {
	var out []core.Pattern
	for _, p := range r.rows {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memPatternRepo) ListUsers(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var users []string
	for _, p := range r.rows {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			users = append(users, p.UserID)
		}
	}
	return users, nil
}

func (r *memPatternRepo) SetDecayedWeight(ctx context.Context, userID, keyword string, weight float64, periods int) error {
	if p, ok := r.rows[r.key(userID, keyword)]; ok {
		p.Weight = weight
		p.DecayPeriods = periods
	}
	return nil
}

func (r *memPatternRepo) Delete(ctx context.Context, userID string, keywords []string) error {
	for _, kw := range keywords {
		delete(r.rows, r.key(userID, kw))
	}
	return nil
}

func (r *memPatternRepo) DeleteAll(ctx context.Context, userID string) error {
	for key, p := range r.rows {
		if p.UserID == userID {
			delete(r.rows, key)
		}
	}
	return nil
}

type memFeedbackRepo struct {
	rows map[string]*core.Feedback
}

func (r *memFeedbackRepo) key(userID, articleID string) string { return userID + "|" + articleID }

func (r *memFeedbackRepo) Get(ctx context.Context, userID, articleID string) (*core.Feedback, error) {
	if fb, ok := r.rows[r.key(userID, articleID)]; ok {
		cp := *fb
		return &cp, nil
	}
	return nil, persistence.ErrNotFound
}

func (r *memFeedbackRepo) Upsert(ctx context.Context, fb *core.Feedback) error {
	key := r.key(fb.UserID, fb.ArticleID)
	if existing, ok := r.rows[key]; ok {
		// Explicit wins: an implicit write over an explicit row is discarded.
		if existing.Kind == core.FeedbackExplicit && fb.Kind != core.FeedbackExplicit {
			return nil
		}
	}
	cp := *fb
	r.rows[key] = &cp
	return nil
}

func (r *memFeedbackRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	n := 0
	for _, fb := range r.rows {
		if fb.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *memFeedbackRepo) DeleteAll(ctx context.Context, userID string) error {
	for key, fb := range r.rows {
		if fb.UserID == userID {
			delete(r.rows, key)
		}
	}
	return nil
}

type memArticleRepo struct {
	texts map[string]core.ArticleText
}

func (r *memArticleRepo) GetText(ctx context.Context, articleID string) (core.ArticleText, error) {
	a, ok := r.texts[articleID]
	if !ok {
		return core.ArticleText{}, persistence.ErrNotFound
	}
	return a, nil
}

func (r *memArticleRepo) GetTexts(ctx context.Context, articleIDs []string) (map[string]core.ArticleText, error) {
	out := make(map[string]core.ArticleText)
	for _, id := range articleIDs {
		if a, ok := r.texts[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

// settableClock lets a test move time forward between operations.
type settableClock struct {
	t time.Time
}

func (c *settableClock) Now() time.Time { return c.t }

func newTestEngine(db *memDB, c cache.Cache, now time.Time) *Engine {
	return NewEngine(db, c, Options{Clock: fixedClock{t: now}})
}

func seedArticle(db *memDB, id, content string) {
	db.articles.texts[id] = core.ArticleText{ID: id, Content: content}
}

// rustArticle repeats rust enough (8 of 10 tokens, banded relevance 1.2) that
// an explicit +1.0 lands a 0.12 pattern, above the 0.1 noise cutoff.
const rustArticle = "rust rust rust rust rust rust rust rust borrow checker"

func TestRecordExplicitFeedback_BuildsPatterns(t *testing.T) {
	db := newMemDB()
	seedArticle(db, "a1", rustArticle)
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(db, cache.NewMemoryCache(0), now)

	fb, err := e.RecordExplicitFeedback(context.Background(), "u1", "a1", 1.0)
	if err != nil {
		t.Fatalf("RecordExplicitFeedback failed: %v", err)
	}
	if fb.Kind != core.FeedbackExplicit || fb.Value != 1.0 {
		t.Errorf("feedback = %+v, expected explicit +1.0", fb)
	}

	p, ok := db.patterns.rows["u1|rust"]
	if !ok {
		t.Fatal("rust pattern not created")
	}
	// delta = 1.0 * 1.2 * 0.1
	if math.Abs(p.Weight-0.12) > 1e-9 {
		t.Errorf("rust weight = %f, expected 0.12", p.Weight)
	}
}

func TestRecordExplicitFeedback_RejectsArbitraryValues(t *testing.T) {
	db := newMemDB()
	seedArticle(db, "a1", rustArticle)
	e := newTestEngine(db, nil, time.Now())

	if _, err := e.RecordExplicitFeedback(context.Background(), "u1", "a1", 0.7); err == nil {
		t.Fatal("expected rejection of value 0.7")
	}
	if len(db.patterns.rows) != 0 {
		t.Error("rejected feedback must not touch patterns")
	}
}

func TestRecordArticleExit_CompletionStrengthensPattern(t *testing.T) {
	db := newMemDB()
	seedArticle(db, "a1", rustArticle)
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	// An implicit event alone (delta 0.5 * 1.2 * 0.1 = 0.06) falls below the
	// noise cutoff; it only ever reinforces an established pattern.
	db.patterns.rows["u1|rust"] = &core.Pattern{UserID: "u1", Keyword: "rust", Weight: 0.3, FeedbackCount: 2, UpdatedAt: now}
	e := newTestEngine(db, cache.NewMemoryCache(0), now)

	fb, err := e.RecordArticleExit(context.Background(), "u1", "a1", 95, 100)
	if err != nil {
		t.Fatalf("RecordArticleExit failed: %v", err)
	}
	if fb == nil || fb.Kind != core.FeedbackImplicit || fb.Value != 0.5 {
		t.Fatalf("feedback = %+v, expected implicit +0.5", fb)
	}
	p := db.patterns.rows["u1|rust"]
	if math.Abs(p.Weight-0.36) > 1e-9 {
		t.Errorf("rust weight = %f, expected 0.36", p.Weight)
	}
	if p.FeedbackCount != 3 {
		t.Errorf("feedback count = %d, expected 3", p.FeedbackCount)
	}
}

func TestRecordArticleExit_MiddleGroundIsNeutral(t *testing.T) {
	db := newMemDB()
	seedArticle(db, "a1", rustArticle)
	e := newTestEngine(db, nil, time.Now())

	fb, err := e.RecordArticleExit(context.Background(), "u1", "a1", 50, 100)
	if err != nil {
		t.Fatalf("RecordArticleExit failed: %v", err)
	}
	if fb != nil {
		t.Errorf("feedback = %+v, expected none for a middle-ground session", fb)
	}
	if len(db.patterns.rows) != 0 {
		t.Error("middle-ground session must not touch patterns")
	}
}

func TestRecordArticleExit_ExplicitWinsWithoutReapplying(t *testing.T) {
	db := newMemDB()
	seedArticle(db, "a1", rustArticle)
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(db, cache.NewMemoryCache(0), now)
	ctx := context.Background()

	if _, err := e.RecordExplicitFeedback(ctx, "u1", "a1", 1.0); err != nil {
		t.Fatalf("RecordExplicitFeedback failed: %v", err)
	}
	before := db.patterns.rows["u1|rust"].Weight

	fb, err := e.RecordArticleExit(ctx, "u1", "a1", 10, 100)
	if err != nil {
		t.Fatalf("RecordArticleExit failed: %v", err)
	}
	if fb.Kind != core.FeedbackExplicit || fb.Value != 1.0 {
		t.Errorf("feedback = %+v, expected the untouched explicit record", fb)
	}
	if after := db.patterns.rows["u1|rust"].Weight; after != before {
		t.Errorf("weight changed %f -> %f; a blocked implicit must not reapply", before, after)
	}
}

func TestScoreArticle_ReflectsFeedback(t *testing.T) {
	db := newMemDB()
	seedArticle(db, "a1", rustArticle)
	seedArticle(db, "a2", "rust release notes rust tooling rust async")
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(db, cache.NewMemoryCache(0), now)
	ctx := context.Background()

	neutral, err := e.ScoreArticle(ctx, "u1", "a2")
	if err != nil {
		t.Fatalf("ScoreArticle failed: %v", err)
	}
	if neutral.Score != 0.5 {
		t.Fatalf("score before any feedback = %f, expected 0.5", neutral.Score)
	}

	if _, err := e.RecordExplicitFeedback(ctx, "u1", "a1", 1.0); err != nil {
		t.Fatalf("RecordExplicitFeedback failed: %v", err)
	}

	// Feedback invalidated the cached neutral score, so a2 is recomputed
	// against the fresh rust pattern.
	scored, err := e.ScoreArticle(ctx, "u1", "a2")
	if err != nil {
		t.Fatalf("ScoreArticle failed: %v", err)
	}
	if scored.Score <= 0.5 {
		t.Errorf("score after positive rust feedback = %f, expected > 0.5", scored.Score)
	}
	if len(scored.MatchingPatterns) == 0 {
		t.Error("expected rust to appear in matching patterns")
	}
}

func TestScoreArticleBatch_MatchesSingle(t *testing.T) {
	db := newMemDB()
	seedArticle(db, "a1", rustArticle)
	seedArticle(db, "a2", "rust release notes rust tooling rust async")
	seedArticle(db, "a3", "gardening tips for the summer season")
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(db, cache.NewMemoryCache(0), now)
	ctx := context.Background()

	if _, err := e.RecordExplicitFeedback(ctx, "u1", "a1", 1.0); err != nil {
		t.Fatalf("RecordExplicitFeedback failed: %v", err)
	}

	ids := []string{"a1", "a2", "a3"}
	batch, err := e.ScoreArticleBatch(ctx, "u1", ids)
	if err != nil {
		t.Fatalf("ScoreArticleBatch failed: %v", err)
	}
	for _, id := range ids {
		single, err := e.ScoreArticle(ctx, "u1", id)
		if err != nil {
			t.Fatalf("ScoreArticle(%s) failed: %v", id, err)
		}
		if batch[id] == nil || batch[id].Score != single.Score {
			t.Errorf("batch[%s] diverged from single scoring", id)
		}
	}
}

func TestGetPatternStats(t *testing.T) {
	db := newMemDB()
	seedArticle(db, "a1", rustArticle)
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	db.patterns.rows["u1|rust"] = &core.Pattern{UserID: "u1", Keyword: "rust", Weight: 0.8, FeedbackCount: 3, UpdatedAt: now}
	db.patterns.rows["u1|politics"] = &core.Pattern{UserID: "u1", Keyword: "politics", Weight: -0.6, FeedbackCount: 2, UpdatedAt: now.Add(-time.Hour)}
	db.feedback.rows["u1|a1"] = &core.Feedback{UserID: "u1", ArticleID: "a1", Kind: core.FeedbackExplicit, Value: 1.0}

	e := newTestEngine(db, nil, now)
	stats, err := e.GetPatternStats(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPatternStats failed: %v", err)
	}
	if stats.PatternCount != 2 || stats.FeedbackCount != 1 {
		t.Errorf("counts = %d patterns / %d feedback, expected 2 / 1", stats.PatternCount, stats.FeedbackCount)
	}
	if len(stats.TopPositive) != 1 || stats.TopPositive[0].Keyword != "rust" {
		t.Errorf("top positive = %+v, expected [rust]", stats.TopPositive)
	}
	if len(stats.TopNegative) != 1 || stats.TopNegative[0].Keyword != "politics" {
		t.Errorf("top negative = %+v, expected [politics]", stats.TopNegative)
	}
	if !stats.LastUpdated.Equal(now) {
		t.Errorf("last updated = %v, expected %v", stats.LastUpdated, now)
	}
}

func TestApplyPatternDecay_InvalidatesScoreCache(t *testing.T) {
	db := newMemDB()
	seedArticle(db, "a1", rustArticle)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &settableClock{t: start}
	e := NewEngine(db, cache.NewMemoryCache(0), Options{Clock: clock})
	ctx := context.Background()

	if _, err := e.RecordExplicitFeedback(ctx, "u1", "a1", 1.0); err != nil {
		t.Fatalf("RecordExplicitFeedback failed: %v", err)
	}
	before, err := e.ScoreArticle(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("ScoreArticle failed: %v", err)
	}

	later := start.Add(31 * 24 * time.Hour)
	clock.t = later
	if err := e.ApplyPatternDecay(ctx, "u1"); err != nil {
		t.Fatalf("ApplyPatternDecay failed: %v", err)
	}
	if w := db.patterns.rows["u1|rust"].Weight; math.Abs(w-0.108) > 1e-9 {
		t.Fatalf("rust weight after decay = %f, expected 0.108", w)
	}

	// The sweep changed the pattern store, so the pre-decay cache entry must
	// not be served; the next read recomputes against the decayed weight.
	after, err := e.ScoreArticle(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("ScoreArticle after decay failed: %v", err)
	}
	if !after.ComputedAt.Equal(later) {
		t.Errorf("stale cached score served after decay: computed at %v", after.ComputedAt)
	}
	if after.Score >= before.Score {
		t.Errorf("score after decay = %f, expected below pre-decay %f", after.Score, before.Score)
	}
}

func TestCleanupPatterns_InvalidatesScoreCache(t *testing.T) {
	db := newMemDB()
	seedArticle(db, "a1", rustArticle)
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	db.patterns.rows["u1|rust"] = &core.Pattern{UserID: "u1", Keyword: "rust", Weight: 0.05, FeedbackCount: 1, UpdatedAt: now}
	e := newTestEngine(db, cache.NewMemoryCache(0), now)
	ctx := context.Background()

	before, err := e.ScoreArticle(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("ScoreArticle failed: %v", err)
	}
	if before.Score <= 0.5 {
		t.Fatalf("score with the noise pattern = %f, expected > 0.5", before.Score)
	}

	removed, err := e.CleanupPatterns(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("CleanupPatterns failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, expected 1", removed)
	}

	after, err := e.ScoreArticle(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("ScoreArticle after cleanup failed: %v", err)
	}
	if after.Score != 0.5 {
		t.Errorf("score after cleanup = %f, expected neutral 0.5 (cache invalidated)", after.Score)
	}
}

func TestSweepAllUsers(t *testing.T) {
	db := newMemDB()
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	db.patterns.rows["u1|rust"] = &core.Pattern{UserID: "u1", Keyword: "rust", Weight: 1.0, FeedbackCount: 1, UpdatedAt: now.Add(-31 * 24 * time.Hour)}
	db.patterns.rows["u2|golang"] = &core.Pattern{UserID: "u2", Keyword: "golang", Weight: 0.05, FeedbackCount: 1, UpdatedAt: now}
	e := newTestEngine(db, cache.NewMemoryCache(0), now)

	swept, err := e.SweepAllUsers(context.Background(), 0)
	if err != nil {
		t.Fatalf("SweepAllUsers failed: %v", err)
	}
	if swept != 2 {
		t.Errorf("swept = %d users, expected 2", swept)
	}

	if w := db.patterns.rows["u1|rust"].Weight; math.Abs(w-0.9) > 1e-9 {
		t.Errorf("u1 rust weight = %f, expected decayed 0.9", w)
	}
	if _, ok := db.patterns.rows["u2|golang"]; ok {
		t.Error("u2's noise pattern should have been cleaned up")
	}
}

func TestResetUserPatterns(t *testing.T) {
	db := newMemDB()
	seedArticle(db, "a1", rustArticle)
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	c := cache.NewMemoryCache(0)
	e := newTestEngine(db, c, now)
	ctx := context.Background()

	if _, err := e.RecordExplicitFeedback(ctx, "u1", "a1", 1.0); err != nil {
		t.Fatalf("RecordExplicitFeedback failed: %v", err)
	}
	if _, err := e.ScoreArticle(ctx, "u1", "a1"); err != nil {
		t.Fatalf("ScoreArticle failed: %v", err)
	}

	if err := e.ResetUserPatterns(ctx, "u1"); err != nil {
		t.Fatalf("ResetUserPatterns failed: %v", err)
	}

	if len(db.patterns.rows) != 0 {
		t.Error("patterns survived the reset")
	}
	if len(db.feedback.rows) != 0 {
		t.Error("feedback survived the reset")
	}
	var cached core.ArticleScore
	if err := c.Get(ctx, cache.ScoreKey("u1", "a1"), &cached); err == nil {
		t.Error("cached score survived the reset")
	}

	// The profile starts over from the neutral steady state.
	score, err := e.ScoreArticle(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("ScoreArticle after reset failed: %v", err)
	}
	if score.Score != 0.5 {
		t.Errorf("score after reset = %f, expected neutral 0.5", score.Score)
	}
}
