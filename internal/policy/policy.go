package policy

import (
	"context"
	"time"

	"github.com/Ca3de/CRET-Scan/internal/store"
	"github.com/Ca3de/CRET-Scan/internal/timeutil"
)

// DefaultWeeklyWarnThresholdHours is the accumulated trailing-week total at
// which a new session requires an operator override.
const DefaultWeeklyWarnThresholdHours = 5.0

// UsageStore is the slice of the tracking store the evaluator reads from.
type UsageStore interface {
	SumHoursInWindow(ctx context.Context, associateID string, from, to time.Time) (float64, error)
	CountClosedSessionsSince(ctx context.Context, associateID string, since time.Time) (store.DayUsage, error)
}

// Evaluator computes the policy gates for a start-of-visit decision. It is
// stateless: every call reads fresh store data, so callers may (and must)
// re-evaluate after pausing for human input.
type Evaluator struct {
	store     UsageStore
	threshold float64
	loc       *time.Location
}

func NewEvaluator(st UsageStore, threshold float64, loc *time.Location) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultWeeklyWarnThresholdHours
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{store: st, threshold: threshold, loc: loc}
}

// ExceedsWeeklyThreshold reports whether the associate's closed hours over
// the trailing seven days meet or exceed the warning threshold, along with
// the accumulated total.
func (e *Evaluator) ExceedsWeeklyThreshold(ctx context.Context, associateID string, now time.Time) (bool, float64, error) {
	total, err := e.store.SumHoursInWindow(ctx, associateID, timeutil.WeekAgo(now), now)
	if err != nil {
		return false, 0, err
	}
	return total >= e.threshold, total, nil
}

// AlreadyCompletedToday counts the associate's completed sessions whose
// start falls on the current calendar day in the configured location.
func (e *Evaluator) AlreadyCompletedToday(ctx context.Context, associateID string, now time.Time) (store.DayUsage, error) {
	return e.store.CountClosedSessionsSince(ctx, associateID, timeutil.Midnight(now, e.loc))
}
