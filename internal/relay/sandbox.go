package relay

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"

	"github.com/Startup-Consulting-Inc/newsletter/internal/storage"
)

// CaptureStore persists messages held back by the sandbox relay
type CaptureStore interface {
	SaveCaptured(ctx context.Context, msg *storage.CapturedMessage) error
}

// simulatedErrors are picked from when error simulation fires
var simulatedErrors = []string{
	"550 5.1.1 User not found",
	"451 4.3.0 Temporary failure",
	"452 4.2.2 Mailbox full",
	"421 4.7.0 Service not available",
}

// SandboxRelay stores messages instead of sending them
type SandboxRelay struct {
	store            CaptureStore
	logger           *slog.Logger
	maxConnections   int
	errorProbability float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewSandboxRelay creates a sandbox relay. errorProbability (0..1) enables
// random simulated delivery failures.
func NewSandboxRelay(store CaptureStore, maxConnections int, errorProbability float64, logger *slog.Logger) *SandboxRelay {
	if maxConnections <= 0 {
		maxConnections = 10
	}
	return &SandboxRelay{
		store:            store,
		logger:           logger,
		maxConnections:   maxConnections,
		errorProbability: errorProbability,
		rand:             rand.New(rand.NewSource(rand.Int63())),
	}
}

// SetRand replaces the random source used for error simulation
func (r *SandboxRelay) SetRand(src *rand.Rand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = src
}

// Name implements Relay
func (r *SandboxRelay) Name() string { return "sandbox" }

// Limits implements Relay
func (r *SandboxRelay) Limits() Limits {
	return Limits{MaxConnections: r.maxConnections}
}

// Validate implements Relay
func (r *SandboxRelay) Validate() error {
	if r.errorProbability < 0 || r.errorProbability > 1 {
		return fmt.Errorf("sandbox error probability %v out of range [0,1]", r.errorProbability)
	}
	if r.store == nil {
		return fmt.Errorf("sandbox relay has no store")
	}
	return nil
}

// Verify implements Relay
func (r *SandboxRelay) Verify(ctx context.Context) error { return nil }

// Send implements Relay
func (r *SandboxRelay) Send(ctx context.Context, msg *Message) error {
	captured := &storage.CapturedMessage{
		NewsletterID: msg.NewsletterID,
		RecipientID:  msg.RecipientID,
		From:         msg.From,
		To:           []string{msg.To},
		Subject:      msg.Subject,
		Data:         msg.Data,
	}

	simulated := r.pickSimulatedError()
	captured.SimulatedErr = simulated

	if err := r.store.SaveCaptured(ctx, captured); err != nil {
		if simulated == "" {
			return fmt.Errorf("sandbox: failed to save message: %w", err)
		}
		r.logger.Error("sandbox: failed to save message", "error", err)
	}

	if simulated != "" {
		r.logger.Info("sandbox: simulated failure",
			"newsletter_id", msg.NewsletterID,
			"recipient_id", msg.RecipientID,
			"error", simulated,
		)
		return &DeliveryError{
			Temporary: strings.HasPrefix(simulated, "4"),
			Message:   simulated,
		}
	}

	r.logger.Info("sandbox: message captured",
		"id", captured.ID,
		"newsletter_id", msg.NewsletterID,
		"to", msg.To,
	)
	return nil
}

// Close implements Relay
func (r *SandboxRelay) Close() error { return nil }

func (r *SandboxRelay) pickSimulatedError() string {
	if r.errorProbability <= 0 {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rand.Float64() >= r.errorProbability {
		return ""
	}
	return simulatedErrors[r.rand.Intn(len(simulatedErrors))]
}
