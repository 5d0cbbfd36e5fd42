package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"attune/internal/core"
	"attune/internal/logger"
	"attune/internal/persistence"
)

const (
	// NoiseThreshold bounds the open interval of weights considered noise.
	// Patterns with |weight| < 0.1 are deleted; exactly +/-0.1 survives.
	NoiseThreshold = 0.1

	// DefaultMaxPatterns caps stored patterns per user, keeping storage and
	// scoring cost O(maxPatterns) regardless of feedback volume.
	DefaultMaxPatterns = 100
)

// Cleaner keeps each user's pattern store small: noise-weight patterns are
// dropped, and the remainder is trimmed to the strongest maxPatterns.
type Cleaner struct {
	patterns persistence.PatternRepository
	log      *slog.Logger
}

// NewCleaner creates a pattern cleaner.
func NewCleaner(patterns persistence.PatternRepository) *Cleaner {
	return &Cleaner{
		patterns: patterns,
		log:      logger.Get(),
	}
}

// Cleanup removes noise and trims the user's pattern store to maxPatterns
// rows with the greatest |weight|. It returns the number of patterns removed.
func (c *Cleaner) Cleanup(ctx context.Context, userID string, maxPatterns int) (int, error) {
	if maxPatterns <= 0 {
		maxPatterns = DefaultMaxPatterns
	}

	pats, err := c.patterns.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list patterns for cleanup: %w", err)
	}

	var doomed []string
	var survivors []core.Pattern
	for _, p := range pats {
		if math.Abs(p.Weight) < NoiseThreshold {
			doomed = append(doomed, p.Keyword)
			continue
		}
		survivors = append(survivors, p)
	}

	if len(survivors) > maxPatterns {
		sort.Slice(survivors, func(i, j int) bool {
			return math.Abs(survivors[i].Weight) > math.Abs(survivors[j].Weight)
		})
		for _, p := range survivors[maxPatterns:] {
			doomed = append(doomed, p.Keyword)
		}
	}

	if len(doomed) == 0 {
		return 0, nil
	}
	if err := c.patterns.Delete(ctx, userID, doomed); err != nil {
		return 0, fmt.Errorf("failed to delete patterns: %w", err)
	}

	c.log.Debug("Cleaned up patterns", "user_id", userID, "removed", len(doomed))
	return len(doomed), nil
}
