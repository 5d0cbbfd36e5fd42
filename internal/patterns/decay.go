package patterns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"attune/internal/core"
	"attune/internal/logger"
	"attune/internal/persistence"
)

const (
	// decayPeriodDays is the pattern age at which decay starts applying.
	decayPeriodDays = 30
	// decayFactor is the per-period geometric decay multiplier.
	decayFactor = 0.9
)

// Decay weakens stale patterns to model preference drift. The decayed weight
// is a pure function of the elapsed time since the last feedback-driven
// update: weight * 0.9^floor(days/30). updated_at is left untouched; the
// pattern instead tracks how many 30-day periods have already been applied,
// so repeated runs are idempotent for a fixed elapsed time. Only a new
// feedback event resets the clock.
type Decay struct {
	patterns persistence.PatternRepository
	clock    core.Clock
	log      *slog.Logger
}

// NewDecay creates a decay engine.
func NewDecay(patterns persistence.PatternRepository, clock core.Clock) *Decay {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Decay{
		patterns: patterns,
		clock:    clock,
		log:      logger.Get(),
	}
}

// Apply decays every pattern of the user that has not been updated for at
// least 30 days. Per-pattern write failures are isolated and reported
// together rather than aborting the run.
func (d *Decay) Apply(ctx context.Context, userID string) error {
	pats, err := d.patterns.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list patterns for decay: %w", err)
	}

	now := d.clock.Now()
	var errs []error
	decayed := 0
	for _, p := range pats {
		days := now.Sub(p.UpdatedAt).Hours() / 24
		periods := int(math.Floor(days / decayPeriodDays))
		if periods <= p.DecayPeriods {
			// Not stale enough, or this window was already applied.
			continue
		}

		newWeight := p.Weight * math.Pow(decayFactor, float64(periods-p.DecayPeriods))
		if err := d.patterns.SetDecayedWeight(ctx, userID, p.Keyword, newWeight, periods); err != nil {
			errs = append(errs, fmt.Errorf("decay %q: %w", p.Keyword, err))
			continue
		}
		decayed++
	}

	if decayed > 0 {
		d.log.Debug("Applied pattern decay", "user_id", userID, "decayed", decayed)
	}
	return errors.Join(errs...)
}
