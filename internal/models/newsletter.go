package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a newsletter
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	// StatusPaused is recognized but nothing transitions into or out of it yet.
	StatusPaused Status = "paused"
)

// Statuses lists every known status
var Statuses = []Status{StatusDraft, StatusScheduled, StatusSending, StatusSent, StatusPaused}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus converts a string into a Status
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown newsletter status %q", s)
	}
	return st, nil
}

// Stats holds aggregate delivery counters of a newsletter
type Stats struct {
	Sent          int `json:"sent"`
	Opened        int `json:"opened"`
	UniqueOpened  int `json:"unique_opened"`
	Clicked       int `json:"clicked"`
	UniqueClicked int `json:"unique_clicked"`
	Bounced       int `json:"bounced"`
}

// StatsDelta is an increment applied atomically to Stats
type StatsDelta struct {
	Sent          int
	Opened        int
	UniqueOpened  int
	Clicked       int
	UniqueClicked int
	Bounced       int
}

// Apply adds the delta to s
func (d StatsDelta) Apply(s *Stats) {
	s.Sent += d.Sent
	s.Opened += d.Opened
	s.UniqueOpened += d.UniqueOpened
	s.Clicked += d.Clicked
	s.UniqueClicked += d.UniqueClicked
	s.Bounced += d.Bounced
}

// Newsletter represents a single composed message and its delivery statistics
type Newsletter struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"` // HTML markup
	CategoryID     string     `json:"category_id,omitempty"`
	GroupIDs       []string   `json:"group_ids"`
	Status         Status     `json:"status"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	SendAttempts   int        `json:"send_attempts"`
	Stats          Stats      `json:"stats"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsDue reports whether a scheduled newsletter should be sent at now
func (n *Newsletter) IsDue(now time.Time) bool {
	return n.Status == StatusScheduled && n.ScheduledAt != nil && !n.ScheduledAt.After(now)
}

// NewsletterUpdate carries editor changes to a newsletter.
// Nil fields are left unchanged.
type NewsletterUpdate struct {
	Subject    *string   `json:"subject,omitempty"`
	Body       *string   `json:"body,omitempty"`
	CategoryID *string   `json:"category_id,omitempty"`
	GroupIDs   *[]string `json:"group_ids,omitempty"`
}

// ChangesContent reports whether the update touches fields frozen after sending
func (u NewsletterUpdate) ChangesContent() bool {
	return u.Subject != nil || u.Body != nil || u.GroupIDs != nil
}
