// Package orchestrator drives a newsletter through its send lifecycle:
// draft or scheduled, sending, then sent.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Startup-Consulting-Inc/newsletter/internal/audit"
	"github.com/Startup-Consulting-Inc/newsletter/internal/metrics"
	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
	"github.com/Startup-Consulting-Inc/newsletter/internal/storage"
)

// Trigger identifies who started a send
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// Store is the newsletter persistence used by the orchestrator
type Store interface {
	CreateNewsletter(ctx context.Context, n *models.Newsletter) error
	GetNewsletter(ctx context.Context, id string) (*models.Newsletter, error)
	UpdateNewsletter(ctx context.Context, id string, fn func(n *models.Newsletter) error) (*models.Newsletter, error)
	SetStatusIf(ctx context.Context, id string, expected, next models.Status) (*models.Newsletter, error)
	CompleteSend(ctx context.Context, id string, sent, bounced int, sentAt time.Time) (*models.Newsletter, error)
	Rollback(ctx context.Context, id string, to models.Status) (*models.Newsletter, error)
}

// Resolver expands group IDs into recipients
type Resolver interface {
	Resolve(ctx context.Context, groupIDs []string) ([]models.Recipient, error)
}

// Dispatcher delivers a newsletter to a recipient list
type Dispatcher interface {
	Dispatch(ctx context.Context, n *models.Newsletter, recipients []models.Recipient) (*models.SendResult, error)
}

// RelayChecker validates and probes the outbound relay
type RelayChecker interface {
	Validate() error
	Verify(ctx context.Context) error
}

// SendOutcome summarizes a completed send
type SendOutcome struct {
	NewsletterID string                  `json:"newsletter_id"`
	Total        int                     `json:"total"`
	Sent         int                     `json:"sent"`
	Failed       int                     `json:"failed"`
	Errors       []models.RecipientError `json:"errors,omitempty"`
	Message      string                  `json:"message"`
}

// Service implements sending and the editor operations on newsletters
type Service struct {
	store      Store
	resolver   Resolver
	dispatcher Dispatcher
	relay      RelayChecker
	auditor    audit.Auditor
	retry      RetryPolicy
	logger     *slog.Logger
	now        func() time.Time
}

// New creates the orchestrator service
func New(store Store, resolver Resolver, dispatcher Dispatcher, r RelayChecker, auditor audit.Auditor, logger *slog.Logger) *Service {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Service{
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		relay:      r,
		auditor:    auditor,
		retry:      UnboundedRetry{},
		logger:     logger,
		now:        time.Now,
	}
}

// SetRetryPolicy replaces the policy applied to failed scheduled sends
func (s *Service) SetRetryPolicy(p RetryPolicy) {
	s.retry = p
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Send delivers the newsletter to all recipients of its groups.
//
// Nothing is written when the newsletter is missing, already sent, the relay
// configuration is invalid or another send won the status race. Once the
// status is sending, any failure before completion rolls it back: to draft
// for manual sends, to scheduled or draft for scheduled sends depending on
// the retry policy. A started dispatch is not interrupted by ctx.
func (s *Service) Send(ctx context.Context, id string, trigger Trigger) (*SendOutcome, error) {
	logger := s.logger.With("newsletter_id", id, "trigger", string(trigger))

	n, err := s.store.GetNewsletter(ctx, id)
	if err != nil {
		metrics.IncSends(string(trigger), "rejected")
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load newsletter: %w", err)
	}

	if n.Status == models.StatusSent {
		metrics.IncSends(string(trigger), "rejected")
		return nil, ErrAlreadySent
	}

	if err := s.relay.Validate(); err != nil {
		metrics.IncSends(string(trigger), "rejected")
		return nil, fmt.Errorf("%w: %v", ErrConfigurationInvalid, err)
	}

	expected, err := startStatus(n.Status, trigger)
	if err != nil {
		metrics.IncSends(string(trigger), "rejected")
		return nil, err
	}

	n, err = s.store.SetStatusIf(ctx, id, expected, models.StatusSending)
	if err != nil {
		metrics.IncSends(string(trigger), "rejected")
		if errors.Is(err, storage.ErrStatusMismatch) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, fmt.Errorf("failed to mark newsletter sending: %w", err)
	}
	logger.Info("newsletter sending", "attempt", n.SendAttempts)

	outcome, err := s.run(ctx, n, trigger, logger)
	if err != nil {
		s.rollback(ctx, n, trigger, logger)
		metrics.IncSends(string(trigger), "failed")
		return nil, err
	}
	return outcome, nil
}

// startStatus returns the status a send must move away from
func startStatus(current models.Status, trigger Trigger) (models.Status, error) {
	switch trigger {
	case TriggerScheduled:
		if current != models.StatusScheduled {
			return "", fmt.Errorf("%w: newsletter is %s, not scheduled", ErrConflict, current)
		}
		return current, nil
	case TriggerManual:
		if current != models.StatusDraft && current != models.StatusScheduled {
			return "", fmt.Errorf("%w: newsletter is %s", ErrConflict, current)
		}
		return current, nil
	default:
		return "", fmt.Errorf("%w: unknown trigger %q", ErrInvalidArgument, trigger)
	}
}

// run performs the pipeline after the newsletter was marked sending
func (s *Service) run(ctx context.Context, n *models.Newsletter, trigger Trigger, logger *slog.Logger) (*SendOutcome, error) {
	if err := s.relay.Verify(ctx); err != nil {
		return nil, fmt.Errorf("email service verification failed: %w", err)
	}

	recipients, err := s.resolver.Resolve(ctx, n.GroupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	// the batch plan runs to completion once started
	dctx := context.WithoutCancel(ctx)

	result, err := s.dispatcher.Dispatch(dctx, n, recipients)
	if err != nil {
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}

	if _, err := s.store.CompleteSend(dctx, n.ID, result.SuccessCount, result.FailureCount, s.now()); err != nil {
		return nil, fmt.Errorf("failed to mark newsletter sent: %w", err)
	}

	for _, re := range result.Errors {
		s.record(dctx, audit.Event{
			Action:     audit.ActionBounce,
			EntityType: "newsletter",
			EntityID:   n.ID,
			Details:    map[string]any{"email": re.Email, "error": re.Error},
		})
	}
	s.record(dctx, audit.Event{
		Action:     audit.ActionNewsletterSent,
		EntityType: "newsletter",
		EntityID:   n.ID,
		Details: map[string]any{
			"trigger": string(trigger),
			"total":   result.Total,
			"sent":    result.SuccessCount,
			"failed":  result.FailureCount,
		},
	})

	res := "success"
	if !result.Success {
		res = "partial"
	}
	metrics.IncSends(string(trigger), res)

	logger.Info("newsletter sent",
		"total", result.Total,
		"sent", result.SuccessCount,
		"failed", result.FailureCount,
	)

	return &SendOutcome{
		NewsletterID: n.ID,
		Total:        result.Total,
		Sent:         result.SuccessCount,
		Failed:       result.FailureCount,
		Errors:       result.Errors,
		Message:      outcomeMessage(result),
	}, nil
}

func outcomeMessage(r *models.SendResult) string {
	if r.Success {
		return fmt.Sprintf("Newsletter sent to %d recipients", r.SuccessCount)
	}
	return fmt.Sprintf("Newsletter sent to %d of %d recipients (%d failed)", r.SuccessCount, r.Total, r.FailureCount)
}

// rollback returns the newsletter from sending to the status the trigger allows
func (s *Service) rollback(ctx context.Context, n *models.Newsletter, trigger Trigger, logger *slog.Logger) {
	to := models.StatusDraft
	if trigger == TriggerScheduled && s.retry.Retry(n.SendAttempts) {
		to = models.StatusScheduled
	}

	if _, err := s.store.Rollback(context.WithoutCancel(ctx), n.ID, to); err != nil {
		logger.Error("failed to roll back newsletter status", "to", string(to), "error", err)
		return
	}
	logger.Warn("newsletter send rolled back", "to", string(to), "attempts", n.SendAttempts)
}

func (s *Service) record(ctx context.Context, ev audit.Event) {
	if err := s.auditor.Record(ctx, ev); err != nil {
		s.logger.Warn("failed to record audit event", "action", ev.Action, "error", err)
	}
}
