package patterns

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestCleanup_RemovesNoiseWeights(t *testing.T) {
	repo := newMemPatternRepo()
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	repo.seed(patternAt("u1", "rust", 0.05, now))
	repo.seed(patternAt("u1", "golang", -0.09, now))
	repo.seed(patternAt("u1", "python", 0.5, now))

	c := NewCleaner(repo)
	removed, err := c.Cleanup(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, expected 2", removed)
	}
	if repo.get("u1", "rust") != nil {
		t.Error("rust (0.05) should have been removed as noise")
	}
	if repo.get("u1", "golang") != nil {
		t.Error("golang (-0.09) should have been removed as noise")
	}
	if repo.get("u1", "python") == nil {
		t.Error("python (0.5) should survive")
	}
}

func TestCleanup_ExactThresholdSurvives(t *testing.T) {
	repo := newMemPatternRepo()
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	repo.seed(patternAt("u1", "rust", 0.1, now))
	repo.seed(patternAt("u1", "golang", -0.1, now))

	c := NewCleaner(repo)
	removed, err := c.Cleanup(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, expected 0 (|weight| = 0.1 is not noise)", removed)
	}
}

func TestCleanup_TrimsToStrongestByAbsoluteWeight(t *testing.T) {
	repo := newMemPatternRepo()
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	// 12 patterns with |weight| 0.2 .. 1.3; negatives mixed in so trimming
	// ranks by magnitude, not signed value.
	for i := 0; i < 12; i++ {
		w := 0.2 + float64(i)*0.1
		if i%2 == 1 {
			w = -w
		}
		repo.seed(patternAt("u1", fmt.Sprintf("kw%02d", i), w, now))
	}

	c := NewCleaner(repo)
	removed, err := c.Cleanup(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, expected 2", removed)
	}
	if repo.count("u1") != 10 {
		t.Errorf("pattern count = %d, expected 10", repo.count("u1"))
	}
	// The two weakest (|0.2| and |0.3|) are the ones trimmed.
	if repo.get("u1", "kw00") != nil {
		t.Error("kw00 (0.2) should have been trimmed")
	}
	if repo.get("u1", "kw01") != nil {
		t.Error("kw01 (-0.3) should have been trimmed")
	}
	if repo.get("u1", "kw11") == nil {
		t.Error("kw11 (-1.3) should survive the trim")
	}
}

func TestCleanup_NothingToRemove(t *testing.T) {
	repo := newMemPatternRepo()
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	repo.seed(patternAt("u1", "rust", 0.8, now))

	c := NewCleaner(repo)
	removed, err := c.Cleanup(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, expected 0", removed)
	}
}

func TestCleanup_ScopedToUser(t *testing.T) {
	repo := newMemPatternRepo()
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	repo.seed(patternAt("u1", "rust", 0.01, now))
	repo.seed(patternAt("u2", "rust", 0.01, now))

	c := NewCleaner(repo)
	if _, err := c.Cleanup(context.Background(), "u1", 0); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if repo.get("u2", "rust") == nil {
		t.Error("cleanup for u1 must not touch u2's patterns")
	}
}
