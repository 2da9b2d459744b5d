package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Startup-Consulting-Inc/newsletter/internal/audit"
	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
	"github.com/Startup-Consulting-Inc/newsletter/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Record(ctx context.Context, ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type fixture struct {
	store     *storage.BoltStore
	auditor   *recordingAuditor
	tracker   *Tracker
	router    chi.Router
	newsID    string
	recipient *models.Recipient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	n := &models.Newsletter{Subject: "Hi", Status: models.StatusSent}
	require.NoError(t, store.CreateNewsletter(ctx, n))
	require.NoError(t, store.CreateGroup(ctx, &models.RecipientGroup{ID: "g1", Name: "Readers"}))
	rec := &models.Recipient{GroupID: "g1", Email: "ada@example.org"}
	require.NoError(t, store.AddRecipient(ctx, rec))

	auditor := &recordingAuditor{}
	tracker := NewTracker(store, auditor, testLogger())
	router := chi.NewRouter()
	NewHandler(tracker, store, auditor, testLogger()).Mount(router)

	return &fixture{store: store, auditor: auditor, tracker: tracker, router: router, newsID: n.ID, recipient: rec}
}

func (f *fixture) stats(t *testing.T) models.Stats {
	t.Helper()
	n, err := f.store.GetNewsletter(context.Background(), f.newsID)
	require.NoError(t, err)
	return n.Stats
}

func (f *fixture) get(path string, q url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path+"?"+q.Encode(), nil)
	req.Header.Set("User-Agent", "TestMail/1.0")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestRecordOpenUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unique, err := f.tracker.RecordOpen(ctx, f.newsID, f.recipient.ID, Meta{UserAgent: "ua"})
	require.NoError(t, err)
	assert.True(t, unique)

	unique, err = f.tracker.RecordOpen(ctx, f.newsID, f.recipient.ID, Meta{UserAgent: "ua"})
	require.NoError(t, err)
	assert.False(t, unique)

	s := f.stats(t)
	assert.Equal(t, 2, s.Opened)
	assert.Equal(t, 1, s.UniqueOpened)
	assert.Equal(t, 0, s.Clicked)

	events, err := f.store.ListTrackingEvents(ctx, f.newsID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ada@example.org", events[0].RecipientEmail)
	assert.Equal(t, models.EventOpen, events[0].Type)

	require.Len(t, f.auditor.events, 2)
	assert.Equal(t, audit.ActionOpen, f.auditor.events[0].Action)
	assert.Equal(t, true, f.auditor.events[0].Details["unique"])
}

func TestRecordClickIndependentOfOpens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.RecordOpen(ctx, f.newsID, f.recipient.ID, Meta{})
	require.NoError(t, err)

	unique, err := f.tracker.RecordClick(ctx, f.newsID, f.recipient.ID, "https://example.com/a", Meta{})
	require.NoError(t, err)
	assert.True(t, unique)
	unique, err = f.tracker.RecordClick(ctx, f.newsID, f.recipient.ID, "https://example.com/b", Meta{})
	require.NoError(t, err)
	assert.False(t, unique)

	s := f.stats(t)
	assert.Equal(t, models.Stats{Opened: 1, UniqueOpened: 1, Clicked: 2, UniqueClicked: 1}, s)
}

func TestRecordUnknownRecipientStillCounts(t *testing.T) {
	f := newFixture(t)

	unique, err := f.tracker.RecordOpen(context.Background(), f.newsID, "ghost", Meta{})
	require.NoError(t, err)
	assert.True(t, unique)

	events, err := f.store.ListTrackingEvents(context.Background(), f.newsID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].RecipientEmail)
}

func TestConcurrentOpensKeepTotals(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.tracker.RecordOpen(context.Background(), f.newsID, f.recipient.ID, Meta{})
		}()
	}
	wg.Wait()

	s := f.stats(t)
	assert.Equal(t, 20, s.Opened)
	// check-then-increment is not transactional: at least one unique open,
	// possibly more under contention
	assert.GreaterOrEqual(t, s.UniqueOpened, 1)
	assert.LessOrEqual(t, s.UniqueOpened, 20)
}

func TestHandleOpen(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/trackOpen", url.Values{"nid": {f.newsID}, "rid": {f.recipient.ID}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, pixelGIF, rec.Body.Bytes())

	events, err := f.store.ListTrackingEvents(context.Background(), f.newsID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "203.0.113.7", events[0].IPAddress)
	assert.Equal(t, "TestMail/1.0", events[0].UserAgent)
}

func TestHandleMissingParameters(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path string
		q    url.Values
	}{
		{"/trackOpen", url.Values{"nid": {f.newsID}}},
		{"/trackOpen", url.Values{"rid": {f.recipient.ID}}},
		{"/trackClick", url.Values{"nid": {f.newsID}, "rid": {f.recipient.ID}}},
		{"/trackClick", url.Values{"url": {"https://example.com"}}},
		{"/unsubscribe", url.Values{}},
	}

	for _, tt := range tests {
		t.Run(tt.path+"?"+tt.q.Encode(), func(t *testing.T) {
			rec := f.get(tt.path, tt.q)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "Missing parameters")
		})
	}

	events, err := f.store.ListTrackingEvents(context.Background(), f.newsID)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, models.Stats{}, f.stats(t))
}

func TestHandleClick(t *testing.T) {
	f := newFixture(t)
	dest := "https://example.com/post?a=1&b=2"

	rec := f.get("/trackClick", url.Values{"nid": {f.newsID}, "rid": {f.recipient.ID}, "url": {dest}})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, dest, rec.Header().Get("Location"))

	events, err := f.store.ListTrackingEvents(context.Background(), f.newsID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, dest, events[0].LinkURL)
}

func TestHandleClickDestinations(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		dest     string
		want     int
		location string
	}{
		{"mailto:ada@example.org", http.StatusFound, "mailto:ada@example.org"},
		{"tel:+15550100", http.StatusFound, "tel:+15550100"},
		{"/archive/2026", http.StatusFound, "/archive/2026"},
		{"http://example.com/plain", http.StatusFound, "http://example.com/plain"},
		{"javascript:alert(1)", http.StatusBadRequest, ""},
		{" JavaScript:alert(1)", http.StatusBadRequest, ""},
		{"java\tscript:alert(1)", http.StatusBadRequest, ""},
		{"data:text/html;base64,PHNjcmlwdD4=", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			rec := f.get("/trackClick", url.Values{"nid": {f.newsID}, "rid": {f.recipient.ID}, "url": {tt.dest}})
			assert.Equal(t, tt.want, rec.Code)
			if tt.location != "" {
				assert.Equal(t, tt.location, rec.Header().Get("Location"))
			}
		})
	}

	// only the redirected destinations are recorded
	assert.Equal(t, 4, f.stats(t).Clicked)
}

type brokenStore struct{}

func (brokenStore) HasTrackingEvent(ctx context.Context, nid, rid string, typ models.EventType) (bool, error) {
	return false, errors.New("database unavailable")
}
func (brokenStore) AppendTrackingEvent(ctx context.Context, ev *models.TrackingEvent) error {
	return errors.New("database unavailable")
}
func (brokenStore) IncrementStats(ctx context.Context, id string, delta models.StatsDelta) error {
	return errors.New("database unavailable")
}
func (brokenStore) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	return nil, errors.New("database unavailable")
}

func TestHandlersFailOpen(t *testing.T) {
	router := chi.NewRouter()
	NewHandler(NewTracker(brokenStore{}, nil, testLogger()), nil, nil, testLogger()).Mount(router)

	req := httptest.NewRequest(http.MethodGet, "/trackOpen?nid=n1&rid=r1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))

	req = httptest.NewRequest(http.MethodGet, "/trackClick?nid=n1&rid=r1&url="+url.QueryEscape("https://example.com/x"), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/x", rec.Header().Get("Location"))
}

type panickingStore struct{ brokenStore }

func (panickingStore) HasTrackingEvent(ctx context.Context, nid, rid string, typ models.EventType) (bool, error) {
	var n *models.Newsletter
	return n.Status == models.StatusSent, nil
}

func TestHandlersSurvivePanics(t *testing.T) {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	NewHandler(NewTracker(panickingStore{}, nil, testLogger()), nil, nil, testLogger()).Mount(router)

	req := httptest.NewRequest(http.MethodGet, "/trackOpen?nid=n1&rid=r1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, pixelGIF, rec.Body.Bytes())

	req = httptest.NewRequest(http.MethodGet, "/trackClick?nid=n1&rid=r1&url="+url.QueryEscape("https://example.com/x"), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/x", rec.Header().Get("Location"))
}

func TestHandleUnsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.get("/unsubscribe", url.Values{"rid": {f.recipient.ID}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ada@example.org has been unsubscribed")

	_, err := f.store.GetRecipient(ctx, f.recipient.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	g, err := f.store.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 0, g.MemberCount)

	require.Len(t, f.auditor.events, 1)
	assert.Equal(t, audit.ActionUnsubscribe, f.auditor.events[0].Action)

	// a second visit renders the page without side effects
	rec = f.get("/unsubscribe", url.Values{"rid": {f.recipient.ID}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "You have been unsubscribed")
	assert.Len(t, f.auditor.events, 1)
}
