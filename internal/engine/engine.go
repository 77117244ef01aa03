// Package engine decides what a badge scan means: open a new CRET session,
// close the one in progress, or pause for operator input before committing.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Ca3de/CRET-Scan/internal/models"
	"github.com/Ca3de/CRET-Scan/internal/policy"
	"github.com/Ca3de/CRET-Scan/internal/store"
)

// State tags where a scan transaction is in its lifecycle. Committed and
// Cancelled are terminal; the confirm states pause for human input.
type State string

const (
	StateResolving      State = "resolving"
	StateNameRequired   State = "name_required"
	StateReady          State = "ready"
	StateSameDayConfirm State = "same_day_confirm"
	StateWarningConfirm State = "warning_confirm"
	StateCommitted      State = "committed"
	StateCancelled      State = "cancelled"
)

const (
	ActionStart = "start"
	ActionEnd   = "end"
)

var (
	ErrEmptyInput             = errors.New("scan input is empty")
	ErrCancelled              = errors.New("scan cancelled")
	ErrNameRequired           = errors.New("associate name is required")
	ErrOverrideReasonRequired = errors.New("override reason is required")
)

// Store is the slice of the tracking store a scan transaction touches.
type Store interface {
	FindAssociate(ctx context.Context, identifier string) (models.Associate, bool, error)
	CreateAssociate(ctx context.Context, input store.CreateAssociateInput) (models.Associate, error)
	UpdateAssociateName(ctx context.Context, associateID, name string) (models.Associate, error)
	FindOpenSession(ctx context.Context, associateID string) (models.CretSession, bool, error)
	CreateSession(ctx context.Context, input store.CreateSessionInput) (models.CretSession, error)
	CloseSession(ctx context.Context, sessionID string, endTime time.Time) (models.CretSession, error)
	SetOverride(ctx context.Context, sessionID, reason string) (models.CretSession, error)
}

type NamePrompt struct {
	Identifier string
	Associate  *models.Associate
}

type SameDayPrompt struct {
	Associate  models.Associate
	Count      int
	TotalHours float64
}

type WarningPrompt struct {
	Associate  models.Associate
	TotalHours float64
}

// Prompter supplies the three human-in-the-loop answers. Each method may
// return ErrCancelled to abandon the scan with no writes committed past
// that point.
type Prompter interface {
	PromptName(ctx context.Context, prompt NamePrompt) (string, error)
	ConfirmSameDay(ctx context.Context, prompt SameDayPrompt) (bool, error)
	ConfirmWarning(ctx context.Context, prompt WarningPrompt) (string, error)
}

// Result is the terminal outcome of one scan transaction.
type Result struct {
	State         State               `json:"state"`
	Action        string              `json:"action,omitempty"`
	Associate     models.Associate    `json:"associate"`
	Session       *models.CretSession `json:"session,omitempty"`
	HoursUsed     float64             `json:"hours_used,omitempty"`
	Overridden    bool                `json:"overridden,omitempty"`
	OverrideSaved bool                `json:"override_saved,omitempty"`
}

type Engine struct {
	store  Store
	policy *policy.Evaluator
	now    func() time.Time
}

func New(st Store, pol *policy.Evaluator, now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{store: st, policy: pol, now: now}
}

// Scan runs one transaction for the raw scanner input. The engine carries no
// state between calls: every step re-reads the store so that concurrent
// scans and the sweeper can interleave safely.
func (e *Engine) Scan(ctx context.Context, identifier, operator string, prompt Prompter) (Result, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Result{}, ErrEmptyInput
	}

	associate, found, err := e.store.FindAssociate(ctx, identifier)
	if err != nil {
		return Result{}, err
	}

	if !found || strings.TrimSpace(associate.Name) == "" {
		associate, err = e.captureName(ctx, identifier, associate, found, prompt)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return Result{State: StateCancelled}, nil
			}
			return Result{}, err
		}
	}

	return e.toggle(ctx, associate, operator, prompt)
}

func (e *Engine) captureName(ctx context.Context, identifier string, associate models.Associate, found bool, prompt Prompter) (models.Associate, error) {
	namePrompt := NamePrompt{Identifier: identifier}
	if found {
		namePrompt.Associate = &associate
	}
	name, err := prompt.PromptName(ctx, namePrompt)
	if err != nil {
		return models.Associate{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Associate{}, ErrNameRequired
	}

	if found {
		return e.store.UpdateAssociateName(ctx, associate.ID, name)
	}
	// The scan format cannot tell badge ids from logins, so a brand-new
	// associate gets the identifier as both.
	return e.store.CreateAssociate(ctx, store.CreateAssociateInput{
		BadgeID: identifier,
		Login:   identifier,
		Name:    name,
	})
}

// toggle implements the close-wins rule: an associate with an open session
// is leaving, no matter what the policy gates would say about starting.
func (e *Engine) toggle(ctx context.Context, associate models.Associate, operator string, prompt Prompter) (Result, error) {
	open, found, err := e.store.FindOpenSession(ctx, associate.ID)
	if err != nil {
		return Result{}, err
	}
	if found {
		closed, err := e.store.CloseSession(ctx, open.ID, e.now())
		if err == nil {
			hours := 0.0
			if closed.HoursUsed != nil {
				hours = *closed.HoursUsed
			}
			return Result{
				State:     StateCommitted,
				Action:    ActionEnd,
				Associate: associate,
				Session:   &closed,
				HoursUsed: hours,
			}, nil
		}
		if !errors.Is(err, store.ErrNoActiveSession) && !errors.Is(err, store.ErrSessionNotFound) {
			return Result{}, err
		}
		// Lost a race with another close or an admin edit; the associate
		// has no open session after all, so fall through to the start path.
	}

	return e.start(ctx, associate, operator, prompt)
}

func (e *Engine) start(ctx context.Context, associate models.Associate, operator string, prompt Prompter) (Result, error) {
	usage, err := e.policy.AlreadyCompletedToday(ctx, associate.ID, e.now())
	if err != nil {
		return Result{}, err
	}
	if usage.Count > 0 {
		confirmed, err := prompt.ConfirmSameDay(ctx, SameDayPrompt{
			Associate:  associate,
			Count:      usage.Count,
			TotalHours: usage.TotalHours,
		})
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return Result{State: StateCancelled, Associate: associate}, nil
			}
			return Result{}, err
		}
		if !confirmed {
			return Result{State: StateCancelled, Associate: associate}, nil
		}
	}

	// The weekly gate is evaluated here, after any same-day pause, never
	// reusing an earlier reading: hours may have accrued while waiting.
	exceeds, total, err := e.policy.ExceedsWeeklyThreshold(ctx, associate.ID, e.now())
	if err != nil {
		return Result{}, err
	}

	reason := ""
	if exceeds {
		reason, err = prompt.ConfirmWarning(ctx, WarningPrompt{Associate: associate, TotalHours: total})
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return Result{State: StateCancelled, Associate: associate}, nil
			}
			return Result{}, err
		}
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return Result{}, ErrOverrideReasonRequired
		}
	}

	session, err := e.store.CreateSession(ctx, store.CreateSessionInput{
		AssociateID: associate.ID,
		CreatedBy:   operator,
		StartTime:   e.now(),
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{
		State:     StateCommitted,
		Action:    ActionStart,
		Associate: associate,
		Session:   &session,
	}
	if exceeds {
		result.Overridden = true
		updated, err := e.store.SetOverride(ctx, session.ID, reason)
		switch {
		case err == nil:
			result.OverrideSaved = true
			result.Session = &updated
		case errors.Is(err, store.ErrNoActiveSession), errors.Is(err, store.ErrSessionNotFound):
			// Soft failure: a concurrent scan or edit closed the session
			// between create and the override write. The start stands.
		default:
			return Result{}, err
		}
	}
	return result, nil
}
