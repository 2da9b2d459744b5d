// Package audit records newsletter lifecycle and tracking events to one or more sinks.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Startup-Consulting-Inc/newsletter/internal/storage"
)

// Actions emitted by the pipeline
const (
	ActionNewsletterSent = "newsletter_sent"
	ActionBounce         = "bounce"
	ActionSchedulerRun   = "scheduler_run"
	ActionOpen           = "email_open"
	ActionClick          = "email_click"
	ActionUnsubscribe    = "unsubscribe"
)

// Event is a single audit record
type Event struct {
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]any
	Time       time.Time
}

// Auditor records audit events
type Auditor interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards every event
type Nop struct{}

// Record implements Auditor
func (Nop) Record(ctx context.Context, ev Event) error { return nil }

// LogSink writes events to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging at info level
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements Auditor
func (s *LogSink) Record(ctx context.Context, ev Event) error {
	s.logger.InfoContext(ctx, "audit",
		"action", ev.Action,
		"entity_type", ev.EntityType,
		"entity_id", ev.EntityID,
		"details", ev.Details,
	)
	return nil
}

// AuditStore persists audit entries
type AuditStore interface {
	AppendAudit(ctx context.Context, e *storage.AuditEntry) error
}

// StoreSink writes events into the document store
type StoreSink struct {
	store AuditStore
}

// NewStoreSink creates a store backed sink
func NewStoreSink(store AuditStore) *StoreSink {
	return &StoreSink{store: store}
}

// Record implements Auditor
func (s *StoreSink) Record(ctx context.Context, ev Event) error {
	return s.store.AppendAudit(ctx, &storage.AuditEntry{
		Action:     ev.Action,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Details:    ev.Details,
		CreatedAt:  ev.Time,
	})
}

// RedisSink appends events to a Redis stream
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink creates a stream sink. The stream is trimmed approximately to maxLen
// entries when maxLen is positive.
func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

// Record implements Auditor
func (s *RedisSink) Record(ctx context.Context, ev Event) error {
	details := "{}"
	if len(ev.Details) > 0 {
		data, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		details = string(data)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"action":      ev.Action,
			"entity_type": ev.EntityType,
			"entity_id":   ev.EntityID,
			"details":     details,
			"time":        ev.Time.UTC().Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append audit event to stream %s: %w", s.stream, err)
	}
	return nil
}

// Multi fans events out to several sinks. Sink failures are logged and never
// returned, so auditing cannot fail the operation being audited.
type Multi struct {
	sinks  []Auditor
	logger *slog.Logger
	now    func() time.Time
}

// NewMulti creates a fan-out auditor
func NewMulti(logger *slog.Logger, sinks ...Auditor) *Multi {
	return &Multi{sinks: sinks, logger: logger, now: time.Now}
}

// Record implements Auditor
func (m *Multi) Record(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = m.now()
	}
	for _, sink := range m.sinks {
		if err := sink.Record(ctx, ev); err != nil {
			m.logger.Warn("audit sink failed",
				"action", ev.Action,
				"entity_id", ev.EntityID,
				"error", err,
			)
		}
	}
	return nil
}
