package models

import "time"

// CretSession is one continuous visit to the CRET area. A nil EndTime
// marks the session as open; HoursUsed is set when the session closes.
type CretSession struct {
	ID              string     `json:"id"`
	AssociateID     string     `json:"associate_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	HoursUsed       *float64   `json:"hours_used,omitempty"`
	CreatedBy       string     `json:"created_by"`
	OverrideWarning bool       `json:"override_warning"`
	OverrideReason  *string    `json:"override_reason,omitempty"`
}

// Open reports whether the session has no recorded end time.
func (s CretSession) Open() bool {
	return s.EndTime == nil
}
