// Package dispatch delivers a newsletter to its recipients in paced batches.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Startup-Consulting-Inc/newsletter/internal/compose"
	"github.com/Startup-Consulting-Inc/newsletter/internal/metrics"
	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
	"github.com/Startup-Consulting-Inc/newsletter/internal/relay"
)

// Config contains dispatcher configuration
type Config struct {
	BatchSize   int
	Concurrency int
	BatchDelay  time.Duration
}

// SleepFunc waits between batches
type SleepFunc func(ctx context.Context, d time.Duration) error

// Dispatcher composes, builds and relays one message per recipient
type Dispatcher struct {
	cfg        Config
	compositor *compose.Compositor
	builder    *relay.Builder
	relay      relay.Relay
	logger     *slog.Logger
	sleep      SleepFunc
}

// New creates a dispatcher
func New(cfg Config, compositor *compose.Compositor, builder *relay.Builder, r relay.Relay, logger *slog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	return &Dispatcher{
		cfg:        cfg,
		compositor: compositor,
		builder:    builder,
		relay:      r,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// SetSleep replaces the pause between batches
func (d *Dispatcher) SetSleep(fn SleepFunc) {
	d.sleep = fn
}

// inFlight is the number of concurrent delivery attempts allowed
func (d *Dispatcher) inFlight() int {
	n := min(d.cfg.BatchSize, d.cfg.Concurrency)
	if conns := d.relay.Limits().MaxConnections; conns > 0 && conns < n {
		n = conns
	}
	return n
}

// Dispatch sends n to every recipient. Failed recipients are recorded in the
// result and never stop the run. An error is returned only when ctx ends
// between batches; the result then covers the recipients attempted so far.
func (d *Dispatcher) Dispatch(ctx context.Context, n *models.Newsletter, recipients []models.Recipient) (*models.SendResult, error) {
	start := time.Now()
	result := &models.SendResult{Total: len(recipients)}
	logger := d.logger.With("newsletter_id", n.ID)

	limit := d.inFlight()
	batches := (len(recipients) + d.cfg.BatchSize - 1) / d.cfg.BatchSize
	logger.Info("dispatch started",
		"recipients", len(recipients),
		"batches", batches,
		"in_flight", limit,
	)

	var err error
	for i := 0; i < len(recipients); i += d.cfg.BatchSize {
		if i > 0 && d.cfg.BatchDelay > 0 {
			if err = d.sleep(ctx, d.cfg.BatchDelay); err != nil {
				break
			}
		}

		end := min(i+d.cfg.BatchSize, len(recipients))
		errs := d.runBatch(ctx, n, recipients[i:end], limit)

		for j, sendErr := range errs {
			r := recipients[i+j]
			if sendErr == nil {
				result.SuccessCount++
				continue
			}
			result.FailureCount++
			result.Errors = append(result.Errors, models.RecipientError{Email: r.Email, Error: sendErr.Error()})
			logger.Warn("delivery failed",
				"recipient_id", r.ID,
				"temporary", relay.IsTemporaryError(sendErr),
				"error", sendErr,
			)
		}
	}

	result.Success = result.FailureCount == 0
	metrics.AddRecipients(result.SuccessCount, result.FailureCount)
	metrics.ObserveDispatch(time.Since(start))

	logger.Info("dispatch finished",
		"total", result.Total,
		"sent", result.SuccessCount,
		"failed", result.FailureCount,
		"duration", time.Since(start),
	)

	if err != nil {
		// recipients never attempted are neither sent nor failed
		result.Success = false
		return result, fmt.Errorf("dispatch interrupted: %w", err)
	}
	return result, nil
}

// runBatch delivers to batch with at most limit attempts in flight and
// returns one error slot per recipient
func (d *Dispatcher) runBatch(ctx context.Context, n *models.Newsletter, batch []models.Recipient, limit int) []error {
	errs := make([]error, len(batch))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i := range batch {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = d.deliver(ctx, n, batch[i])
		}(i)
	}

	wg.Wait()
	return errs
}

func (d *Dispatcher) deliver(ctx context.Context, n *models.Newsletter, r models.Recipient) error {
	composed, err := d.compositor.Compose(n.Body, n.ID, r)
	if err != nil {
		return fmt.Errorf("failed to compose message: %w", err)
	}

	msg, err := d.builder.Build(relay.Content{
		NewsletterID:   n.ID,
		RecipientID:    r.ID,
		To:             r.Email,
		Subject:        d.compositor.ComposeSubject(n.Subject, r),
		HTML:           composed.HTML,
		Text:           composed.Text,
		UnsubscribeURL: composed.UnsubscribeURL,
	})
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	return d.relay.Send(ctx, msg)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
