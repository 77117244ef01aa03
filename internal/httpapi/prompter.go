package httpapi

import (
	"context"
	"strings"

	"github.com/Ca3de/CRET-Scan/internal/engine"
)

// promptRequired surfaces an engine pause as a 409 so the station can
// re-post the scan with the answer filled in.
type promptRequired struct {
	code    string
	message string
	context map[string]interface{}
}

func (p *promptRequired) Error() string { return p.message }

// requestPrompter answers the engine's prompts from fields of the scan
// request body. A missing answer aborts the transaction with a
// promptRequired error; cancel=true abandons it.
type requestPrompter struct {
	req scanRequest
}

func (p *requestPrompter) PromptName(ctx context.Context, prompt engine.NamePrompt) (string, error) {
	if p.req.Cancel {
		return "", engine.ErrCancelled
	}
	if strings.TrimSpace(p.req.Name) == "" {
		return "", &promptRequired{
			code:    "name_required",
			message: "associate is not on file; re-post the scan with a name",
			context: map[string]interface{}{"identifier": prompt.Identifier},
		}
	}
	return p.req.Name, nil
}

func (p *requestPrompter) ConfirmSameDay(ctx context.Context, prompt engine.SameDayPrompt) (bool, error) {
	if p.req.Cancel {
		return false, engine.ErrCancelled
	}
	if !p.req.ConfirmSameDay {
		return false, &promptRequired{
			code:    "same_day_confirm_required",
			message: "associate already completed a session today; re-post with confirm_same_day=true to start another",
			context: map[string]interface{}{
				"completed_today": prompt.Count,
				"total_hours":     prompt.TotalHours,
			},
		}
	}
	return true, nil
}

func (p *requestPrompter) ConfirmWarning(ctx context.Context, prompt engine.WarningPrompt) (string, error) {
	if p.req.Cancel {
		return "", engine.ErrCancelled
	}
	if strings.TrimSpace(p.req.OverrideReason) == "" {
		return "", &promptRequired{
			code:    "warning_confirm_required",
			message: "weekly hours threshold reached; re-post with an override_reason to start anyway",
			context: map[string]interface{}{"weekly_hours": prompt.TotalHours},
		}
	}
	return p.req.OverrideReason, nil
}
