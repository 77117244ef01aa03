package models

// Associate is a tracked person identified by badge id or login. An empty
// Name means the associate has been scanned but not yet onboarded.
type Associate struct {
	ID      string `json:"id"`
	BadgeID string `json:"badge_id"`
	Login   string `json:"login"`
	Name    string `json:"name,omitempty"`
}
