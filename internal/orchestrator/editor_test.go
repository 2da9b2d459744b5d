package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
)

func strPtr(s string) *string { return &s }

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, &models.Newsletter{Subject: "  "})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	n, err := f.svc.Create(ctx, &models.Newsletter{
		Subject: "Weekly",
		Body:    "<p>x</p>",
		Status:  models.StatusSent,
		Stats:   models.Stats{Sent: 99},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, models.StatusDraft, n.Status)
	assert.Equal(t, models.Stats{}, n.Stats)
	assert.Equal(t, []string{}, n.GroupIDs)

	got, err := f.svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly", got.Subject)

	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("draft", func(t *testing.T) {
		f := newFixture(t)
		n := f.newsletter(t, models.StatusDraft)
		groups := []string{"g2", "g3"}

		got, err := f.svc.Update(ctx, n.ID, models.NewsletterUpdate{Subject: strPtr("New"), GroupIDs: &groups})
		require.NoError(t, err)
		assert.Equal(t, "New", got.Subject)
		assert.Equal(t, groups, got.GroupIDs)
		assert.Equal(t, "<p>Hi</p>", got.Body)
	})

	t.Run("sent content is immutable", func(t *testing.T) {
		f := newFixture(t)
		n := f.newsletter(t, models.StatusDraft)
		_, err := f.svc.Send(ctx, n.ID, TriggerManual)
		require.NoError(t, err)

		_, err = f.svc.Update(ctx, n.ID, models.NewsletterUpdate{Body: strPtr("<p>changed</p>")})
		assert.ErrorIs(t, err, ErrImmutable)

		got, err := f.svc.Update(ctx, n.ID, models.NewsletterUpdate{CategoryID: strPtr("news")})
		require.NoError(t, err)
		assert.Equal(t, "news", got.CategoryID)
		assert.Equal(t, "<p>Hi</p>", got.Body)
		assert.Equal(t, 2, got.Stats.Sent)
	})

	t.Run("sending", func(t *testing.T) {
		f := newFixture(t)
		n := f.newsletter(t, models.StatusSending)
		_, err := f.svc.Update(ctx, n.ID, models.NewsletterUpdate{Subject: strPtr("x")})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("empty subject", func(t *testing.T) {
		f := newFixture(t)
		n := f.newsletter(t, models.StatusDraft)
		_, err := f.svc.Update(ctx, n.ID, models.NewsletterUpdate{Subject: strPtr("")})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Update(ctx, "missing", models.NewsletterUpdate{Subject: strPtr("x")})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSchedule(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	f := newFixture(t)
	f.svc.SetClock(func() time.Time { return now })
	n := f.newsletter(t, models.StatusDraft)

	_, err := f.svc.Schedule(ctx, n.ID, now)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	_, err = f.svc.Schedule(ctx, n.ID, now.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	at := now.Add(time.Hour)
	got, err := f.svc.Schedule(ctx, n.ID, at)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, got.Status)
	require.NotNil(t, got.ScheduledAt)
	assert.True(t, got.ScheduledAt.Equal(at))

	// rescheduling is allowed
	_, err = f.svc.Schedule(ctx, n.ID, at.Add(time.Hour))
	require.NoError(t, err)

	sent := f.newsletter(t, models.StatusSent)
	_, err = f.svc.Schedule(ctx, sent.ID, at)
	assert.ErrorIs(t, err, ErrAlreadySent)

	_, err = f.svc.Schedule(ctx, "missing", at)
	assert.ErrorIs(t, err, ErrNotFound)
}
