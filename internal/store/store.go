package store

import (
	"context"
	"time"

	"github.com/Ca3de/CRET-Scan/internal/models"
)

type CreateAssociateInput struct {
	BadgeID string
	Login   string
	Name    string
}

// AssociateUpsert is one roster row for bulk import, keyed by badge id.
type AssociateUpsert struct {
	BadgeID string
	Login   string
	Name    string
}

type CreateSessionInput struct {
	AssociateID string
	CreatedBy   string
	StartTime   time.Time
}

// DayUsage summarizes an associate's completed sessions over a window.
type DayUsage struct {
	Count      int     `json:"count"`
	TotalHours float64 `json:"total_hours"`
}

// SessionRecord is a session joined with its associate's identity, for
// listings.
type SessionRecord struct {
	models.CretSession
	BadgeID string `json:"badge_id"`
	Login   string `json:"login"`
	Name    string `json:"name,omitempty"`
}

type TrackingStore interface {
	FindAssociate(ctx context.Context, identifier string) (models.Associate, bool, error)
	CreateAssociate(ctx context.Context, input CreateAssociateInput) (models.Associate, error)
	UpdateAssociateName(ctx context.Context, associateID, name string) (models.Associate, error)
	ListAssociates(ctx context.Context) ([]models.Associate, error)
	BulkUpsertAssociates(ctx context.Context, rows []AssociateUpsert) (int, error)
	FindOpenSession(ctx context.Context, associateID string) (models.CretSession, bool, error)
	CreateSession(ctx context.Context, input CreateSessionInput) (models.CretSession, error)
	CloseSession(ctx context.Context, sessionID string, endTime time.Time) (models.CretSession, error)
	SetOverride(ctx context.Context, sessionID, reason string) (models.CretSession, error)
	SumHoursInWindow(ctx context.Context, associateID string, from, to time.Time) (float64, error)
	CountClosedSessionsSince(ctx context.Context, associateID string, since time.Time) (DayUsage, error)
	ListOpenSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]models.CretSession, error)
	ListActiveSessions(ctx context.Context) ([]SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	ListAssociateSessions(ctx context.Context, associateID string, limit int) ([]models.CretSession, error)
	EditSession(ctx context.Context, sessionID string, startTime time.Time, endTime *time.Time) (models.CretSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
}
