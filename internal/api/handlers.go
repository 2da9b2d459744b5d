package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
	"github.com/Startup-Consulting-Inc/newsletter/internal/orchestrator"
	"github.com/Startup-Consulting-Inc/newsletter/internal/storage"
)

// Error codes returned in ErrorResponse.Code
const (
	codeUnauthenticated    = "unauthenticated"
	codeNotFound           = "not-found"
	codeFailedPrecondition = "failed-precondition"
	codeInvalidArgument    = "invalid-argument"
	codeInternal           = "internal"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SendStats summarizes one send request
type SendStats struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// SendResponse is the response for POST /api/v1/newsletters/{id}/send
type SendResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Stats   SendStats               `json:"stats"`
	Errors  []models.RecipientError `json:"errors,omitempty"`
}

// ScheduleRequest is the body of POST /api/v1/newsletters/{id}/schedule
type ScheduleRequest struct {
	ScheduledAt string `json:"scheduled_at"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleListNewsletters handles GET /api/v1/newsletters
func (s *Server) handleListNewsletters(w http.ResponseWriter, r *http.Request) {
	var status models.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			sendError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
			return
		}
		status = st
	}

	list, err := s.store.ListNewsletters(r.Context(), status)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Newsletter{}
	}
	sendJSON(w, http.StatusOK, list)
}

// handleCreateNewsletter handles POST /api/v1/newsletters
func (s *Server) handleCreateNewsletter(w http.ResponseWriter, r *http.Request) {
	var req models.Newsletter
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, codeInvalidArgument, "Invalid JSON: "+err.Error())
		return
	}

	n, err := s.service.Create(r.Context(), &req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, n)
}

// handleGetNewsletter handles GET /api/v1/newsletters/{id}
func (s *Server) handleGetNewsletter(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, n)
}

// handleUpdateNewsletter handles PUT /api/v1/newsletters/{id}
func (s *Server) handleUpdateNewsletter(w http.ResponseWriter, r *http.Request) {
	var upd models.NewsletterUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		sendError(w, http.StatusBadRequest, codeInvalidArgument, "Invalid JSON: "+err.Error())
		return
	}

	n, err := s.service.Update(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, n)
}

// handleSendNewsletter handles POST /api/v1/newsletters/{id}/send
func (s *Server) handleSendNewsletter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	outcome, err := s.service.Send(r.Context(), id, orchestrator.TriggerManual)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.logger.Info("manual send completed",
		"newsletter_id", id,
		"caller", Caller(r.Context()),
		"sent", outcome.Sent,
		"failed", outcome.Failed,
	)

	sendJSON(w, http.StatusOK, SendResponse{
		Success: true,
		Message: outcome.Message,
		Stats: SendStats{
			Total:  outcome.Total,
			Sent:   outcome.Sent,
			Failed: outcome.Failed,
		},
		Errors: outcome.Errors,
	})
}

// handleScheduleNewsletter handles POST /api/v1/newsletters/{id}/schedule
func (s *Server) handleScheduleNewsletter(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, codeInvalidArgument, "Invalid JSON: "+err.Error())
		return
	}

	at, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		sendError(w, http.StatusBadRequest, codeInvalidArgument, "scheduled_at must be an RFC 3339 timestamp")
		return
	}

	n, err := s.service.Schedule(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, n)
}

// handleListEvents handles GET /api/v1/newsletters/{id}/events
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.service.Get(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	events, err := s.store.ListTrackingEvents(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []*models.TrackingEvent{}
	}
	sendJSON(w, http.StatusOK, events)
}

// writeServiceError maps domain errors onto HTTP statuses
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, codeInternal

	switch {
	case errors.Is(err, orchestrator.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		status, code = http.StatusNotFound, codeNotFound
	case errors.Is(err, orchestrator.ErrAlreadySent),
		errors.Is(err, orchestrator.ErrConflict),
		errors.Is(err, orchestrator.ErrImmutable),
		errors.Is(err, orchestrator.ErrNoRecipients),
		errors.Is(err, orchestrator.ErrConfigurationInvalid),
		errors.Is(err, storage.ErrDuplicate):
		status, code = http.StatusPreconditionFailed, codeFailedPrecondition
	case errors.Is(err, orchestrator.ErrInvalidSchedule),
		errors.Is(err, orchestrator.ErrInvalidArgument):
		status, code = http.StatusBadRequest, codeInvalidArgument
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		sendError(w, status, code, "Internal error")
		return
	}
	sendError(w, status, code, err.Error())
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, code, message string) {
	sendJSON(w, status, ErrorResponse{Error: message, Code: code})
}
