package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
)

// HasTrackingEvent reports whether any event of the given type was recorded
// for the newsletter and recipient
func (s *BoltStore) HasTrackingEvent(ctx context.Context, newsletterID, recipientID string, typ models.EventType) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := prefixKey(newsletterID, recipientID, string(typ))
		k, _ := tx.Bucket(bucketEventIndex).Cursor().Seek(prefix)
		found = k != nil && bytes.HasPrefix(k, prefix)
		return nil
	})
	return found, err
}

// AppendTrackingEvent stores a tracking event. Events are never updated.
func (s *BoltStore) AppendTrackingEvent(ctx context.Context, ev *models.TrackingEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		key := makeIndexKey(ev.Timestamp, ev.ID)
		if err := putJSON(tx.Bucket(bucketEvents), key, ev); err != nil {
			return fmt.Errorf("failed to store tracking event: %w", err)
		}
		idx := compositeKey(ev.NewsletterID, ev.RecipientID, string(ev.Type), ev.ID)
		if err := tx.Bucket(bucketEventIndex).Put(idx, key); err != nil {
			return fmt.Errorf("failed to update tracking index: %w", err)
		}
		return nil
	})
}

// ListTrackingEvents returns the events of a newsletter in chronological order
func (s *BoltStore) ListTrackingEvents(ctx context.Context, newsletterID string) ([]*models.TrackingEvent, error) {
	var events []*models.TrackingEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(k, v []byte) error {
			var ev models.TrackingEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return nil
			}
			if newsletterID == "" || ev.NewsletterID == newsletterID {
				events = append(events, &ev)
			}
			return nil
		})
	})
	return events, err
}
