package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
)

// CreateNewsletter stores a new newsletter. Missing ID, status and timestamps are filled in.
func (s *BoltStore) CreateNewsletter(ctx context.Context, n *models.Newsletter) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = models.StatusDraft
	}
	now := s.now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNewsletters)
		if b.Get([]byte(n.ID)) != nil {
			return fmt.Errorf("newsletter %s: %w", n.ID, ErrDuplicate)
		}
		return putJSON(b, []byte(n.ID), n)
	})
}

// GetNewsletter retrieves a newsletter by ID
func (s *BoltStore) GetNewsletter(ctx context.Context, id string) (*models.Newsletter, error) {
	var n *models.Newsletter
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = getNewsletter(tx, id)
		return err
	})
	return n, err
}

// UpdateNewsletter applies fn to the stored newsletter inside one write transaction.
// If fn returns an error nothing is written.
func (s *BoltStore) UpdateNewsletter(ctx context.Context, id string, fn func(n *models.Newsletter) error) (*models.Newsletter, error) {
	var updated *models.Newsletter
	err := s.db.Update(func(tx *bolt.Tx) error {
		n, err := getNewsletter(tx, id)
		if err != nil {
			return err
		}
		if err := fn(n); err != nil {
			return err
		}
		n.ID = id
		n.UpdatedAt = s.now()
		if err := putJSON(tx.Bucket(bucketNewsletters), []byte(id), n); err != nil {
			return err
		}
		updated = n
		return nil
	})
	return updated, err
}

// SetStatusIf moves the newsletter from expected to next, failing with
// ErrStatusMismatch when the stored status is different. Moving to
// sending counts a send attempt.
func (s *BoltStore) SetStatusIf(ctx context.Context, id string, expected, next models.Status) (*models.Newsletter, error) {
	return s.UpdateNewsletter(ctx, id, func(n *models.Newsletter) error {
		if n.Status != expected {
			return fmt.Errorf("newsletter %s is %s, expected %s: %w", id, n.Status, expected, ErrStatusMismatch)
		}
		n.Status = next
		if next == models.StatusSending {
			n.SendAttempts++
		}
		return nil
	})
}

// CompleteSend writes the terminal sent state together with the delivery counters
func (s *BoltStore) CompleteSend(ctx context.Context, id string, sent, bounced int, sentAt time.Time) (*models.Newsletter, error) {
	return s.UpdateNewsletter(ctx, id, func(n *models.Newsletter) error {
		if n.Status != models.StatusSending {
			return fmt.Errorf("newsletter %s is %s, expected %s: %w", id, n.Status, models.StatusSending, ErrStatusMismatch)
		}
		n.Status = models.StatusSent
		n.SentAt = &sentAt
		n.Stats.Sent = sent
		n.Stats.Bounced = bounced
		return nil
	})
}

// Rollback returns a newsletter stuck in sending to the given status.
// Stats are left untouched.
func (s *BoltStore) Rollback(ctx context.Context, id string, to models.Status) (*models.Newsletter, error) {
	return s.SetStatusIf(ctx, id, models.StatusSending, to)
}

// ListDue returns scheduled newsletters whose scheduled time is not after now,
// oldest schedule first
func (s *BoltStore) ListDue(ctx context.Context, now time.Time) ([]*models.Newsletter, error) {
	var due []*models.Newsletter
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNewsletters).ForEach(func(k, v []byte) error {
			var n models.Newsletter
			if err := json.Unmarshal(v, &n); err != nil {
				return nil
			}
			if n.IsDue(now) {
				due = append(due, &n)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
	})
	return due, nil
}

// ListNewsletters returns all newsletters, optionally filtered by status, newest first
func (s *BoltStore) ListNewsletters(ctx context.Context, status models.Status) ([]*models.Newsletter, error) {
	var list []*models.Newsletter
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNewsletters).ForEach(func(k, v []byte) error {
			var n models.Newsletter
			if err := json.Unmarshal(v, &n); err != nil {
				return nil
			}
			if status != "" && n.Status != status {
				return nil
			}
			list = append(list, &n)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

// IncrementStats adds delta to the newsletter counters in a single write transaction.
// Status and content are not validated so counters keep moving after sending.
func (s *BoltStore) IncrementStats(ctx context.Context, id string, delta models.StatsDelta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		n, err := getNewsletter(tx, id)
		if err != nil {
			return err
		}
		delta.Apply(&n.Stats)
		return putJSON(tx.Bucket(bucketNewsletters), []byte(id), n)
	})
}

func getNewsletter(tx *bolt.Tx, id string) (*models.Newsletter, error) {
	data := tx.Bucket(bucketNewsletters).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("newsletter %s: %w", id, ErrNotFound)
	}
	var n models.Newsletter
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal newsletter: %w", err)
	}
	return &n, nil
}
