package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Startup-Consulting-Inc/newsletter/internal/email"
	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
)

const maxImportSize = 10 << 20

// CreateGroupRequest is the body of POST /api/v1/groups
type CreateGroupRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// AddRecipientRequest is the body of POST /api/v1/groups/{id}/recipients
type AddRecipientRequest struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// handleCreateGroup handles POST /api/v1/groups
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, codeInvalidArgument, "Invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		sendError(w, http.StatusBadRequest, codeInvalidArgument, "name is required")
		return
	}

	g := &models.RecipientGroup{ID: req.ID, Name: req.Name}
	if err := s.store.CreateGroup(r.Context(), g); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, g)
}

// handleGetGroup handles GET /api/v1/groups/{id}
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.store.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, g)
}

// handleListRecipients handles GET /api/v1/groups/{id}/recipients
func (s *Server) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	members, err := s.store.ListGroupMembers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, members)
}

// handleAddRecipient handles POST /api/v1/groups/{id}/recipients
func (s *Server) handleAddRecipient(w http.ResponseWriter, r *http.Request) {
	var req AddRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, codeInvalidArgument, "Invalid JSON: "+err.Error())
		return
	}
	if !email.Valid(req.Email) {
		sendError(w, http.StatusBadRequest, codeInvalidArgument, "Invalid email address")
		return
	}

	rec := &models.Recipient{
		ID:        req.ID,
		GroupID:   chi.URLParam(r, "id"),
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	if err := s.store.AddRecipient(r.Context(), rec); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, rec)
}

// handleImportRecipients handles POST /api/v1/groups/{id}/import.
// Accepts a raw CSV body or a multipart form with a "file" field.
func (s *Server) handleImportRecipients(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)

	var reader io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportSize); err != nil {
			sendError(w, http.StatusBadRequest, codeInvalidArgument, "Invalid form: "+err.Error())
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			sendError(w, http.StatusBadRequest, codeInvalidArgument, "file is required")
			return
		}
		defer file.Close()
		reader = file
	}

	groupID := chi.URLParam(r, "id")
	if _, err := s.store.GetGroup(r.Context(), groupID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	result, err := s.store.ImportRecipients(r.Context(), groupID, reader)
	if err != nil {
		sendError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		return
	}

	s.logger.Info("recipients imported",
		"group_id", groupID,
		"imported", result.Imported,
		"skipped", result.Skipped,
	)
	sendJSON(w, http.StatusOK, result)
}

// handleRemoveRecipient handles DELETE /api/v1/groups/{id}/recipients/{rid}
func (s *Server) handleRemoveRecipient(w http.ResponseWriter, r *http.Request) {
	groupID, rid := chi.URLParam(r, "id"), chi.URLParam(r, "rid")

	rec, err := s.store.GetRecipient(r.Context(), rid)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if rec.GroupID != groupID {
		sendError(w, http.StatusNotFound, codeNotFound, "Recipient not found in group")
		return
	}

	if _, err := s.store.RemoveRecipient(r.Context(), rid); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
