package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ca3de/CRET-Scan/internal/models"
	"github.com/Ca3de/CRET-Scan/internal/store"

	"github.com/google/uuid"
)

func (m *memStore) ListOpenSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]models.CretSession, error) {
	var sessions []models.CretSession
	for _, session := range m.sessions {
		if session.EndTime == nil && session.StartTime.Before(cutoff) {
			sessions = append(sessions, *session)
		}
	}
	return sessions, nil
}

func TestSweepClosesAtStartPlusCredit(t *testing.T) {
	st := newMemStore()
	associate := st.addAssociate("12345", "Dana Reyes")
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	start := now.Add(-12 * time.Hour)
	session := &models.CretSession{ID: uuid.NewString(), AssociateID: associate.ID, StartTime: start}
	st.sessions[session.ID] = session

	sweeper := NewSweeper(st, 0, 0, func() time.Time { return now })
	result, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Closed != 1 || len(result.Failures) != 0 {
		t.Fatalf("expected 1 closed, got %+v", result)
	}

	closed := st.sessions[session.ID]
	wantEnd := start.Add(10 * time.Hour)
	if closed.EndTime == nil || !closed.EndTime.Equal(wantEnd) {
		t.Fatalf("expected end %v, got %v", wantEnd, closed.EndTime)
	}
	if closed.HoursUsed == nil || *closed.HoursUsed != 10 {
		t.Fatalf("expected 10 credited hours, got %v", closed.HoursUsed)
	}

	// Re-running immediately is a no-op.
	again, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.Closed != 0 || len(again.Failures) != 0 {
		t.Fatalf("expected idempotent second sweep, got %+v", again)
	}
	if !st.sessions[session.ID].EndTime.Equal(wantEnd) {
		t.Fatalf("second sweep changed end time to %v", st.sessions[session.ID].EndTime)
	}
}

func TestSweepLeavesFreshSessionsOpen(t *testing.T) {
	st := newMemStore()
	associate := st.addAssociate("12345", "Dana Reyes")
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	session := &models.CretSession{ID: uuid.NewString(), AssociateID: associate.ID, StartTime: now.Add(-2 * time.Hour)}
	st.sessions[session.ID] = session

	result, err := NewSweeper(st, 0, 0, func() time.Time { return now }).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Closed != 0 {
		t.Fatalf("expected no closes, got %+v", result)
	}
	if session.EndTime != nil {
		t.Fatal("fresh session should stay open")
	}
}

type flakySweepStore struct {
	sessions []models.CretSession
	failID   string
	closed   []string
}

func (f *flakySweepStore) ListOpenSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]models.CretSession, error) {
	return f.sessions, nil
}

func (f *flakySweepStore) CloseSession(ctx context.Context, sessionID string, endTime time.Time) (models.CretSession, error) {
	if sessionID == f.failID {
		return models.CretSession{}, errors.New("connection reset")
	}
	f.closed = append(f.closed, sessionID)
	return models.CretSession{ID: sessionID, EndTime: &endTime}, nil
}

func TestSweepContinuesPastFailures(t *testing.T) {
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	st := &flakySweepStore{
		sessions: []models.CretSession{
			{ID: "s-1", StartTime: now.Add(-13 * time.Hour)},
			{ID: "s-2", StartTime: now.Add(-12 * time.Hour)},
			{ID: "s-3", StartTime: now.Add(-14 * time.Hour)},
		},
		failID: "s-2",
	}

	result, err := NewSweeper(st, 0, 0, func() time.Time { return now }).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Closed != 2 {
		t.Fatalf("expected 2 closed, got %d", result.Closed)
	}
	if len(result.Failures) != 1 || result.Failures[0].SessionID != "s-2" {
		t.Fatalf("expected failure for s-2, got %+v", result.Failures)
	}
	if len(st.closed) != 2 {
		t.Fatalf("expected the remaining sessions closed, got %v", st.closed)
	}
}

func TestSweepRacedCloseIsNoOp(t *testing.T) {
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	st := &racedSweepStore{
		sessions: []models.CretSession{{ID: "s-1", StartTime: now.Add(-12 * time.Hour)}},
	}

	result, err := NewSweeper(st, 0, 0, func() time.Time { return now }).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Closed != 0 || len(result.Failures) != 0 {
		t.Fatalf("expected raced close to be a silent no-op, got %+v", result)
	}
}

type racedSweepStore struct {
	sessions []models.CretSession
}

func (r *racedSweepStore) ListOpenSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]models.CretSession, error) {
	return r.sessions, nil
}

func (r *racedSweepStore) CloseSession(ctx context.Context, sessionID string, endTime time.Time) (models.CretSession, error) {
	return models.CretSession{}, store.ErrNoActiveSession
}
