package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/acroflow/acroflow/internal/api/fillagent"
	"github.com/acroflow/acroflow/internal/domain"
	"github.com/acroflow/acroflow/internal/session"
)

const maxUploadBytes = 32 << 20

type sessionResponse struct {
	SessionID      string                   `json:"session_id"`
	AgentSessionID string                   `json:"agent_session_id,omitempty"`
	UserSessionID  string                   `json:"user_session_id,omitempty"`
	Fields         []domain.FormField       `json:"fields"`
	FieldCount     int                      `json:"field_count"`
	Messages       []domain.Message         `json:"messages"`
	AppliedEdits   map[string]string        `json:"applied_edits"`
	ContextDocs    []domain.ContextDocument `json:"context_docs,omitempty"`
	IsProcessing   bool                     `json:"is_processing"`
	CurrentStatus  string                   `json:"current_status,omitempty"`
	ParseStatus    string                   `json:"parse_status,omitempty"`
	PreviewMode    domain.PreviewMode       `json:"preview_mode"`
	HasFilledPDF   bool                     `json:"has_filled_pdf"`
	HasOriginalPDF bool                     `json:"has_original_pdf"`
}

func toSessionResponse(v session.View) sessionResponse {
	return sessionResponse{
		SessionID:      v.SessionID,
		AgentSessionID: v.Identity.AgentSessionID,
		UserSessionID:  v.Identity.UserSessionID,
		Fields:         v.Fields,
		FieldCount:     len(v.Fields),
		Messages:       v.Messages,
		AppliedEdits:   v.AppliedEdits,
		ContextDocs:    v.ContextDocs,
		IsProcessing:   v.IsProcessing,
		CurrentStatus:  v.CurrentStatus,
		ParseStatus:    v.ParseStatus,
		PreviewMode:    v.PreviewMode,
		HasFilledPDF:   v.HasFilledPDF,
		HasOriginalPDF: v.HasOriginal,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	m := session.New(s.backend, s.snapshots, session.WithLogger(s.logger))
	s.mu.Lock()
	s.sessions[m.SessionID()] = m
	s.mu.Unlock()

	s.writeJSON(w, http.StatusCreated, toSessionResponse(m.View()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	m := s.manager(r, chi.URLParam(r, "sessionID"))
	s.writeJSON(w, http.StatusOK, toSessionResponse(m.View()))
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	oldID := chi.URLParam(r, "sessionID")
	m := s.manager(r, oldID)

	fresh, err := m.Reset(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.replaceSession(oldID, fresh)
	s.writeJSON(w, http.StatusOK, toSessionResponse(fresh.View()))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	m := s.manager(r, chi.URLParam(r, "sessionID"))

	filename, data, err := readUpload(r, "file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := m.AnalyzeDocument(r.Context(), filename, data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	m := s.manager(r, chi.URLParam(r, "sessionID"))

	var req struct {
		Instruction string `json:"instruction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Instruction == "" {
		http.Error(w, "instruction is required", http.StatusBadRequest)
		return
	}

	msg, err := m.SubmitTurn(r.Context(), req.Instruction)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleUploadContextFiles(w http.ResponseWriter, r *http.Request) {
	m := s.manager(r, chi.URLParam(r, "sessionID"))

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	parseMode := r.FormValue("parse_mode")
	if parseMode == "" {
		parseMode = "auto"
	}

	var files []fillagent.UploadFile
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				http.Error(w, "unreadable upload", http.StatusBadRequest)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				http.Error(w, "unreadable upload", http.StatusBadRequest)
				return
			}
			files = append(files, fillagent.UploadFile{Filename: fh.Filename, Data: data})
		}
	}
	if len(files) == 0 {
		http.Error(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	docs, err := m.UploadContextFiles(r.Context(), files, parseMode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"files": docs})
}

func (s *Server) handleFilledPDF(w http.ResponseWriter, r *http.Request) {
	m := s.manager(r, chi.URLParam(r, "sessionID"))
	s.servePDF(w, m.FilledPDF())
}

func (s *Server) handleOriginalPDF(w http.ResponseWriter, r *http.Request) {
	m := s.manager(r, chi.URLParam(r, "sessionID"))
	s.servePDF(w, m.OriginalPDF())
}

func (s *Server) servePDF(w http.ResponseWriter, pdf []byte) {
	if len(pdf) == 0 {
		http.Error(w, "no PDF available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

func readUpload(r *http.Request, field string) (string, []byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, errors.New("invalid multipart body")
	}
	f, fh, err := r.FormFile(field)
	if err != nil {
		return "", nil, errors.New(field + " upload is required")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, errors.New("unreadable upload")
	}
	return fh.Filename, data, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTurnInFlight), errors.Is(err, domain.ErrSessionBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrNoFieldsLoaded):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
