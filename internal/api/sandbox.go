package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Startup-Consulting-Inc/newsletter/internal/storage"
)

// SandboxMessageResponse represents a captured message in API responses
type SandboxMessageResponse struct {
	ID           string    `json:"id"`
	NewsletterID string    `json:"newsletter_id"`
	RecipientID  string    `json:"recipient_id,omitempty"`
	From         string    `json:"from"`
	To           []string  `json:"to"`
	Subject      string    `json:"subject"`
	Size         int       `json:"size"`
	CapturedAt   time.Time `json:"captured_at"`
	SimulatedErr string    `json:"simulated_error,omitempty"`
}

// SandboxMessageDetail includes the raw message
type SandboxMessageDetail struct {
	SandboxMessageResponse
	Data string `json:"data"`
}

// SandboxListResponse is the response for GET /api/v1/sandbox/messages.
// Total counts every matching message, not just the returned page.
type SandboxListResponse struct {
	Messages []*SandboxMessageResponse `json:"messages"`
	Total    int                       `json:"total"`
}

// handleListCaptured handles GET /api/v1/sandbox/messages
func (s *Server) handleListCaptured(w http.ResponseWriter, r *http.Request) {
	filter := storage.SandboxFilter{
		NewsletterID: r.URL.Query().Get("newsletter_id"),
		Limit:        100, // Default limit
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			filter.Limit = l
			if filter.Limit > 1000 {
				filter.Limit = 1000
			}
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			filter.Offset = o
			if filter.Offset > 1000000 {
				filter.Offset = 1000000
			}
		}
	}

	msgs, err := s.store.ListCaptured(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	total, err := s.store.CountCaptured(r.Context(), filter.NewsletterID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := SandboxListResponse{
		Messages: make([]*SandboxMessageResponse, 0, len(msgs)),
		Total:    total,
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, toSandboxResponse(m))
	}
	sendJSON(w, http.StatusOK, resp)
}

// handleGetCaptured handles GET /api/v1/sandbox/messages/{id}
func (s *Server) handleGetCaptured(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetCaptured(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, SandboxMessageDetail{
		SandboxMessageResponse: *toSandboxResponse(m),
		Data:                   string(m.Data),
	})
}

// handleClearCaptured handles DELETE /api/v1/sandbox/messages
func (s *Server) handleClearCaptured(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.ClearCaptured(r.Context(), r.URL.Query().Get("newsletter_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

// handleListAudit handles GET /api/v1/audit
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	filter := storage.AuditFilter{
		Action:   r.URL.Query().Get("action"),
		EntityID: r.URL.Query().Get("entity_id"),
		Limit:    100,
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 && l <= 1000 {
			filter.Limit = l
		}
	}

	entries, err := s.store.ListAudit(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*storage.AuditEntry{}
	}
	sendJSON(w, http.StatusOK, entries)
}

func toSandboxResponse(m *storage.CapturedMessage) *SandboxMessageResponse {
	return &SandboxMessageResponse{
		ID:           m.ID,
		NewsletterID: m.NewsletterID,
		RecipientID:  m.RecipientID,
		From:         m.From,
		To:           m.To,
		Subject:      m.Subject,
		Size:         m.Size,
		CapturedAt:   m.CapturedAt,
		SimulatedErr: m.SimulatedErr,
	}
}
