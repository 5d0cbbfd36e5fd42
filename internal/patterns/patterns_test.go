package patterns

// Shared in-memory fakes for the package tests. The pattern repo mirrors the
// Postgres semantics: Upsert is an atomic increment-or-create that resets the
// decay counter, SetDecayedWeight leaves updated_at alone.

import (
	"context"
	"errors"
	"sync"
	"time"

	"attune/internal/core"
	"attune/internal/persistence"
)

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

type memPatternRepo struct {
	mu   sync.Mutex
	rows map[string]*core.Pattern // keyed userID|keyword

	// failKeywords injects per-keyword write failures.
	failKeywords map[string]error
}

func newMemPatternRepo() *memPatternRepo {
	return &memPatternRepo{rows: make(map[string]*core.Pattern)}
}

func (r *memPatternRepo) key(userID, keyword string) string {
	return userID + "|" + keyword
}

func (r *memPatternRepo) Upsert(ctx context.Context, userID, keyword string, delta float64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.failKeywords[keyword]; ok {
		return err
	}

	key := r.key(userID, keyword)
	if p, ok := r.rows[key]; ok {
		p.Weight += delta
		p.FeedbackCount++
		p.DecayPeriods = 0
		p.UpdatedAt = now
		return nil
	}
	r.rows[key] = &core.Pattern{
		UserID:        userID,
		Keyword:       keyword,
		Weight:        delta,
		FeedbackCount: 1,
		UpdatedAt:     now,
	}
	return nil
}

func (r *memPatternRepo) ListByUser(ctx context.Context, userID string) ([]core.Pattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []core.Pattern
	for _, p := range r.rows {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memPatternRepo) ListUsers(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

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
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.rows[r.key(userID, keyword)]; ok {
		p.Weight = weight
		p.DecayPeriods = periods
	}
	return nil
}

func (r *memPatternRepo) Delete(ctx context.Context, userID string, keywords []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, kw := range keywords {
		delete(r.rows, r.key(userID, kw))
	}
	return nil
}

func (r *memPatternRepo) DeleteAll(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, p := range r.rows {
		if p.UserID == userID {
			delete(r.rows, key)
		}
	}
	return nil
}

func (r *memPatternRepo) get(userID, keyword string) *core.Pattern {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.rows[r.key(userID, keyword)]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (r *memPatternRepo) seed(p core.Pattern) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := p
	r.rows[r.key(p.UserID, p.Keyword)] = &cp
}

func (r *memPatternRepo) count(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, p := range r.rows {
		if p.UserID == userID {
			n++
		}
	}
	return n
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

var errInjected = errors.New("storage unavailable")
