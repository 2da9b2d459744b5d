package models

import "time"

// EventType is the kind of tracking callback
type EventType string

const (
	EventOpen  EventType = "open"
	EventClick EventType = "click"
)

// TrackingEvent records a single open or click callback. Events are append-only.
type TrackingEvent struct {
	ID             string    `json:"id"`
	NewsletterID   string    `json:"newsletter_id"`
	RecipientID    string    `json:"recipient_id"`
	RecipientEmail string    `json:"recipient_email,omitempty"`
	Type           EventType `json:"type"`
	LinkURL        string    `json:"link_url,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	UserAgent      string    `json:"user_agent,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
}
