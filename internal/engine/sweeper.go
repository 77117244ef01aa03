package engine

import (
	"context"
	"errors"
	"time"

	"github.com/Ca3de/CRET-Scan/internal/models"
	"github.com/Ca3de/CRET-Scan/internal/store"
)

const (
	// DefaultStaleAfter is how long a session may stay open before it is
	// presumed forgotten.
	DefaultStaleAfter = 11 * time.Hour
	// DefaultCreditHours is the standard day credited to a forgotten
	// session: closed at start + 10h, not at sweep time.
	DefaultCreditHours = 10 * time.Hour
)

// SweepStore is the slice of the tracking store the sweeper touches.
type SweepStore interface {
	ListOpenSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]models.CretSession, error)
	CloseSession(ctx context.Context, sessionID string, endTime time.Time) (models.CretSession, error)
}

type SweepFailure struct {
	SessionID string `json:"session_id"`
	Err       error  `json:"-"`
	Message   string `json:"message"`
}

type SweepResult struct {
	Closed   int            `json:"closed"`
	Failures []SweepFailure `json:"failures,omitempty"`
}

// Sweeper force-closes sessions left open past the stale cutoff. It has no
// scheduler of its own; callers invoke Sweep on a ticker or before reading
// the active list.
type Sweeper struct {
	store      SweepStore
	staleAfter time.Duration
	credit     time.Duration
	now        func() time.Time
}

func NewSweeper(st SweepStore, staleAfter, credit time.Duration, now func() time.Time) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if credit <= 0 {
		credit = DefaultCreditHours
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{store: st, staleAfter: staleAfter, credit: credit, now: now}
}

// Sweep closes every open session older than the stale cutoff at its start
// time plus the standard credit. A session that another sweep or scan
// closed first is skipped silently; any other close failure is collected
// and the remaining sessions are still processed.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	cutoff := s.now().Add(-s.staleAfter)
	sessions, err := s.store.ListOpenSessionsOlderThan(ctx, cutoff)
	if err != nil {
		return SweepResult{}, err
	}

	var result SweepResult
	for _, session := range sessions {
		_, err := s.store.CloseSession(ctx, session.ID, session.StartTime.Add(s.credit))
		if err != nil {
			if errors.Is(err, store.ErrNoActiveSession) || errors.Is(err, store.ErrSessionNotFound) {
				continue
			}
			result.Failures = append(result.Failures, SweepFailure{
				SessionID: session.ID,
				Err:       err,
				Message:   err.Error(),
			})
			continue
		}
		result.Closed++
	}
	return result, nil
}
