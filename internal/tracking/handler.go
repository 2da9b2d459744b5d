package tracking

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Startup-Consulting-Inc/newsletter/internal/audit"
	"github.com/Startup-Consulting-Inc/newsletter/internal/metrics"
	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
	"github.com/Startup-Consulting-Inc/newsletter/internal/storage"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Unsubscriber removes a recipient from its group
type Unsubscriber interface {
	RemoveRecipient(ctx context.Context, id string) (*models.Recipient, error)
}

// Handler serves the public tracking endpoints
type Handler struct {
	tracker      *Tracker
	unsubscriber Unsubscriber
	auditor      audit.Auditor
	logger       *slog.Logger
}

// NewHandler creates the tracking HTTP handler
func NewHandler(tracker *Tracker, unsubscriber Unsubscriber, auditor audit.Auditor, logger *slog.Logger) *Handler {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Handler{tracker: tracker, unsubscriber: unsubscriber, auditor: auditor, logger: logger}
}

// Mount registers the tracking routes on r
func (h *Handler) Mount(r chi.Router) {
	r.Get("/trackOpen", h.HandleOpen)
	r.Get("/trackClick", h.HandleClick)
	r.Get("/unsubscribe", h.HandleUnsubscribe)
}

// HandleOpen records an open and always answers with the tracking pixel
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nid, rid := q.Get("nid"), q.Get("rid")
	if nid == "" || rid == "" {
		http.Error(w, "Missing parameters", http.StatusBadRequest)
		return
	}

	h.record(models.EventOpen, nid, rid, func() error {
		_, err := h.tracker.RecordOpen(r.Context(), nid, rid, meta(r))
		return err
	})

	servePixel(w)
}

// HandleClick records a click and redirects to the original link even when
// recording fails
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nid, rid, dest := q.Get("nid"), q.Get("rid"), q.Get("url")
	if nid == "" || rid == "" || dest == "" {
		http.Error(w, "Missing parameters", http.StatusBadRequest)
		return
	}
	if isScriptURL(dest) {
		http.Error(w, "Invalid url", http.StatusBadRequest)
		return
	}

	h.record(models.EventClick, nid, rid, func() error {
		_, err := h.tracker.RecordClick(r.Context(), nid, rid, dest, meta(r))
		return err
	})

	http.Redirect(w, r, dest, http.StatusFound)
}

// record runs fn and swallows its failure, panics included, so the caller
// always reaches its fixed response
func (h *Handler) record(typ models.EventType, nid, rid string, fn func() error) {
	defer func() {
		if v := recover(); v != nil {
			metrics.IncTrackingErrors(string(typ))
			h.logger.Error("panic while recording "+string(typ),
				"newsletter_id", nid,
				"recipient_id", rid,
				"panic", v,
			)
		}
	}()

	if err := fn(); err != nil {
		metrics.IncTrackingErrors(string(typ))
		h.logger.Error("failed to record "+string(typ), "newsletter_id", nid, "recipient_id", rid, "error", err)
	}
}

// HandleUnsubscribe removes the recipient and renders a confirmation page.
// Unknown recipients get the same page.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	rid := r.URL.Query().Get("rid")
	if rid == "" {
		http.Error(w, "Missing parameters", http.StatusBadRequest)
		return
	}

	removed, err := h.unsubscriber.RemoveRecipient(r.Context(), rid)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.logger.Info("unsubscribe for unknown recipient", "recipient_id", rid)
	case err != nil:
		h.logger.Error("failed to unsubscribe recipient", "recipient_id", rid, "error", err)
		http.Error(w, "Unable to process request, please try again later", http.StatusInternalServerError)
		return
	default:
		if err := h.auditor.Record(r.Context(), audit.Event{
			Action:     audit.ActionUnsubscribe,
			EntityType: "recipient",
			EntityID:   rid,
			Details:    map[string]any{"email": removed.Email, "group_id": removed.GroupID},
		}); err != nil {
			h.logger.Warn("failed to record audit event", "action", audit.ActionUnsubscribe, "error", err)
		}
		h.logger.Info("recipient unsubscribed", "recipient_id", rid, "group_id", removed.GroupID)
	}

	email := ""
	if removed != nil {
		email = removed.Email
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(unsubscribePage(email)))
}

func unsubscribePage(email string) string {
	who := "You have"
	if email != "" {
		who = html.EscapeString(email) + " has"
	}
	return `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>` + who + ` been unsubscribed</h1>
		<p>You will no longer receive emails from us.</p>
	</body></html>`
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

// isScriptURL reports whether s would run code instead of navigating.
// Browsers ignore whitespace and control characters inside the scheme.
func isScriptURL(s string) bool {
	cleaned := strings.Map(func(r rune) rune {
		if r <= ' ' {
			return -1
		}
		return r
	}, s)
	scheme, _, ok := strings.Cut(strings.ToLower(cleaned), ":")
	if !ok {
		return false
	}
	switch scheme {
	case "javascript", "vbscript", "data":
		return true
	}
	return false
}

func meta(r *http.Request) Meta {
	return Meta{UserAgent: r.UserAgent(), IPAddress: realIP(r)}
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
