// Package tracking records open and click callbacks and maintains the
// per-newsletter engagement counters.
package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Startup-Consulting-Inc/newsletter/internal/audit"
	"github.com/Startup-Consulting-Inc/newsletter/internal/metrics"
	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
)

// Store is the persistence used by the tracker
type Store interface {
	HasTrackingEvent(ctx context.Context, newsletterID, recipientID string, typ models.EventType) (bool, error)
	AppendTrackingEvent(ctx context.Context, ev *models.TrackingEvent) error
	IncrementStats(ctx context.Context, id string, delta models.StatsDelta) error
	GetRecipient(ctx context.Context, id string) (*models.Recipient, error)
}

// Meta describes the client behind a callback
type Meta struct {
	UserAgent string
	IPAddress string
}

// Tracker records tracking events.
//
// Uniqueness is decided by looking for an earlier event before appending the
// new one. The check and the counter update are separate transactions, so two
// simultaneous first opens by the same recipient may both count as unique.
type Tracker struct {
	store   Store
	auditor audit.Auditor
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker creates a tracker
func NewTracker(store Store, auditor audit.Auditor, logger *slog.Logger) *Tracker {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Tracker{store: store, auditor: auditor, logger: logger, now: time.Now}
}

// RecordOpen records an open of newsletterID by recipientID. It reports
// whether this was the recipient's first recorded open.
func (t *Tracker) RecordOpen(ctx context.Context, newsletterID, recipientID string, meta Meta) (bool, error) {
	return t.record(ctx, models.EventOpen, newsletterID, recipientID, "", meta)
}

// RecordClick records a click on linkURL. It reports whether this was the
// recipient's first recorded click on the newsletter.
func (t *Tracker) RecordClick(ctx context.Context, newsletterID, recipientID, linkURL string, meta Meta) (bool, error) {
	return t.record(ctx, models.EventClick, newsletterID, recipientID, linkURL, meta)
}

func (t *Tracker) record(ctx context.Context, typ models.EventType, newsletterID, recipientID, linkURL string, meta Meta) (bool, error) {
	seen, err := t.store.HasTrackingEvent(ctx, newsletterID, recipientID, typ)
	if err != nil {
		return false, fmt.Errorf("failed to check previous %s events: %w", typ, err)
	}
	unique := !seen

	ev := &models.TrackingEvent{
		NewsletterID: newsletterID,
		RecipientID:  recipientID,
		Type:         typ,
		LinkURL:      linkURL,
		Timestamp:    t.now().UTC(),
		UserAgent:    meta.UserAgent,
		IPAddress:    meta.IPAddress,
	}
	if r, err := t.store.GetRecipient(ctx, recipientID); err == nil {
		ev.RecipientEmail = r.Email
	}

	if err := t.store.AppendTrackingEvent(ctx, ev); err != nil {
		return unique, fmt.Errorf("failed to store %s event: %w", typ, err)
	}

	if err := t.store.IncrementStats(ctx, newsletterID, statsDelta(typ, unique)); err != nil {
		return unique, fmt.Errorf("failed to update %s counters: %w", typ, err)
	}

	action := audit.ActionOpen
	if typ == models.EventClick {
		action = audit.ActionClick
	}
	details := map[string]any{"recipient_id": recipientID, "unique": unique}
	if linkURL != "" {
		details["url"] = linkURL
	}
	if err := t.auditor.Record(ctx, audit.Event{
		Action:     action,
		EntityType: "newsletter",
		EntityID:   newsletterID,
		Details:    details,
	}); err != nil {
		t.logger.Warn("failed to record audit event", "action", action, "error", err)
	}

	metrics.IncTrackingEvent(string(typ), unique)
	return unique, nil
}

func statsDelta(typ models.EventType, unique bool) models.StatsDelta {
	u := 0
	if unique {
		u = 1
	}
	if typ == models.EventClick {
		return models.StatsDelta{Clicked: 1, UniqueClicked: u}
	}
	return models.StatsDelta{Opened: 1, UniqueOpened: u}
}
