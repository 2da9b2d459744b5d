// Package scheduler periodically sends newsletters whose scheduled time has come.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Startup-Consulting-Inc/newsletter/internal/audit"
	"github.com/Startup-Consulting-Inc/newsletter/internal/metrics"
	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
	"github.com/Startup-Consulting-Inc/newsletter/internal/orchestrator"
)

// DueLister lists scheduled newsletters whose time has come
type DueLister interface {
	ListDue(ctx context.Context, now time.Time) ([]*models.Newsletter, error)
}

// Sender sends a newsletter
type Sender interface {
	Send(ctx context.Context, id string, trigger orchestrator.Trigger) (*orchestrator.SendOutcome, error)
}

// RunSummary is the result of one scheduler run
type RunSummary struct {
	Found  int `json:"found"`
	Sent   int `json:"sent"`
	Errors int `json:"errors"`
}

// Scheduler runs due newsletters on a fixed interval
type Scheduler struct {
	store    DueLister
	sender   Sender
	auditor  audit.Auditor
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler. A zero interval defaults to five minutes.
func New(store DueLister, sender Sender, auditor audit.Auditor, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Scheduler{
		store:    store,
		sender:   sender,
		auditor:  auditor,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// SetClock replaces the time source
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start starts the ticker loop
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop stops the loop and waits for a run in progress to finish. It is safe
// to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.logger.Info("scheduler stopped")
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce sends every due newsletter one after another. Failures of one
// newsletter, including panics, do not affect the others.
func (s *Scheduler) RunOnce(ctx context.Context) RunSummary {
	var summary RunSummary

	due, err := s.store.ListDue(ctx, s.now())
	if err != nil {
		s.logger.Error("failed to list due newsletters", "error", err)
		summary.Errors++
	}
	summary.Found = len(due)

	for _, n := range due {
		if err := s.sendOne(ctx, n.ID); err != nil {
			summary.Errors++
			s.logger.Error("scheduled send failed", "newsletter_id", n.ID, "error", err)
			continue
		}
		summary.Sent++
	}

	metrics.ObserveSchedulerRun(summary.Found)

	if err := s.auditor.Record(ctx, audit.Event{
		Action:     audit.ActionSchedulerRun,
		EntityType: "scheduler",
		Details: map[string]any{
			"found":  summary.Found,
			"sent":   summary.Sent,
			"errors": summary.Errors,
		},
	}); err != nil {
		s.logger.Warn("failed to record audit event", "action", audit.ActionSchedulerRun, "error", err)
	}

	if summary.Found > 0 || summary.Errors > 0 {
		s.logger.Info("scheduler run finished", "found", summary.Found, "sent", summary.Sent, "errors", summary.Errors)
	} else {
		s.logger.Debug("scheduler run finished, nothing due")
	}
	return summary
}

func (s *Scheduler) sendOne(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = s.sender.Send(ctx, id, orchestrator.TriggerScheduled)
	return err
}
