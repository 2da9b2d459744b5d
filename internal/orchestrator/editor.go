package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
	"github.com/Startup-Consulting-Inc/newsletter/internal/storage"
)

// Create stores a new draft newsletter
func (s *Service) Create(ctx context.Context, n *models.Newsletter) (*models.Newsletter, error) {
	if strings.TrimSpace(n.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidArgument)
	}
	n.Status = models.StatusDraft
	n.ScheduledAt = nil
	n.SentAt = nil
	n.SendAttempts = 0
	n.Stats = models.Stats{}
	if n.GroupIDs == nil {
		n.GroupIDs = []string{}
	}

	if err := s.store.CreateNewsletter(ctx, n); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, fmt.Errorf("failed to create newsletter: %w", err)
	}
	s.logger.Info("newsletter created", "newsletter_id", n.ID)
	return n, nil
}

// Get returns a newsletter by ID
func (s *Service) Get(ctx context.Context, id string) (*models.Newsletter, error) {
	n, err := s.store.GetNewsletter(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return n, nil
}

// Update applies editor changes. Subject, body and groups are frozen once
// the newsletter is sent.
func (s *Service) Update(ctx context.Context, id string, upd models.NewsletterUpdate) (*models.Newsletter, error) {
	if upd.Subject != nil && strings.TrimSpace(*upd.Subject) == "" {
		return nil, fmt.Errorf("%w: subject cannot be empty", ErrInvalidArgument)
	}

	n, err := s.store.UpdateNewsletter(ctx, id, func(n *models.Newsletter) error {
		switch n.Status {
		case models.StatusSent:
			if upd.ChangesContent() {
				return ErrImmutable
			}
		case models.StatusSending:
			return fmt.Errorf("%w: newsletter is sending", ErrConflict)
		}

		if upd.Subject != nil {
			n.Subject = *upd.Subject
		}
		if upd.Body != nil {
			n.Body = *upd.Body
		}
		if upd.CategoryID != nil {
			n.CategoryID = *upd.CategoryID
		}
		if upd.GroupIDs != nil {
			n.GroupIDs = append([]string{}, (*upd.GroupIDs)...)
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return n, nil
}

// Schedule sets a draft or scheduled newsletter to go out at the given time
func (s *Service) Schedule(ctx context.Context, id string, at time.Time) (*models.Newsletter, error) {
	if !at.After(s.now()) {
		return nil, ErrInvalidSchedule
	}
	at = at.UTC()

	n, err := s.store.UpdateNewsletter(ctx, id, func(n *models.Newsletter) error {
		switch n.Status {
		case models.StatusDraft, models.StatusScheduled:
		case models.StatusSent:
			return ErrAlreadySent
		default:
			return fmt.Errorf("%w: newsletter is %s", ErrConflict, n.Status)
		}
		n.Status = models.StatusScheduled
		n.ScheduledAt = &at
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	s.logger.Info("newsletter scheduled", "newsletter_id", id, "scheduled_at", at)
	return n, nil
}

func mapStoreError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
