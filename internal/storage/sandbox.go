package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// CapturedMessage is a newsletter message held back by the sandbox relay
type CapturedMessage struct {
	ID           string    `json:"id"`
	NewsletterID string    `json:"newsletter_id"`
	RecipientID  string    `json:"recipient_id,omitempty"`
	From         string    `json:"from"`
	To           []string  `json:"to"`
	Subject      string    `json:"subject"`
	Data         []byte    `json:"data,omitempty"`
	Size         int       `json:"size"`
	CapturedAt   time.Time `json:"captured_at"`
	SimulatedErr string    `json:"simulated_error,omitempty"`
}

// SandboxFilter narrows ListCaptured results
type SandboxFilter struct {
	NewsletterID string
	Limit        int
	Offset       int
}

// SaveCaptured stores a captured message
func (s *BoltStore) SaveCaptured(ctx context.Context, msg *CapturedMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CapturedAt.IsZero() {
		msg.CapturedAt = s.now()
	}
	msg.Size = len(msg.Data)
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSandbox), makeIndexKey(msg.CapturedAt, msg.ID), msg)
	})
}

// GetCaptured retrieves a captured message by ID
func (s *BoltStore) GetCaptured(ctx context.Context, id string) (*CapturedMessage, error) {
	var msg *CapturedMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m CapturedMessage
			if err := json.Unmarshal(v, &m); err != nil {
				continue
			}
			if m.ID == id {
				msg = &m
				return nil
			}
		}
		return ErrNotFound
	})
	return msg, err
}

// ListCaptured returns captured messages newest first, without raw data
func (s *BoltStore) ListCaptured(ctx context.Context, filter SandboxFilter) ([]*CapturedMessage, error) {
	messages := []*CapturedMessage{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var m CapturedMessage
			if err := json.Unmarshal(v, &m); err != nil {
				continue
			}
			if filter.NewsletterID != "" && m.NewsletterID != filter.NewsletterID {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			m.Data = nil
			messages = append(messages, &m)
			if filter.Limit > 0 && len(messages) >= filter.Limit {
				break
			}
		}
		return nil
	})
	return messages, err
}

// CountCaptured returns the number of captured messages, optionally only
// those of one newsletter
func (s *BoltStore) CountCaptured(ctx context.Context, newsletterID string) (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandbox)
		if newsletterID == "" {
			count = b.Stats().KeyN
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var m CapturedMessage
			if err := json.Unmarshal(v, &m); err == nil && m.NewsletterID == newsletterID {
				count++
			}
			return nil
		})
	})
	return count, err
}

// ClearCaptured removes captured messages, optionally only those of one newsletter
func (s *BoltStore) ClearCaptured(ctx context.Context, newsletterID string) (int, error) {
	var count int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandbox)
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if newsletterID != "" {
				var m CapturedMessage
				if err := json.Unmarshal(v, &m); err != nil || m.NewsletterID != newsletterID {
					return nil
				}
			}
			keys = append(keys, append([]byte(nil), k...))
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}
