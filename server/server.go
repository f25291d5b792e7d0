// Package server exposes the engine over HTTP. It is a thin boundary:
// request decoding, status mapping and JSON encoding live here, every
// rule about threads lives in the engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/clearledger-ai/invoiceflow"
)

// Options configures a new Server.
type Options struct {
	Engine *invoiceflow.Engine
	Logger *slog.Logger
}

// Server handles the invoice processing API.
type Server struct {
	engine *invoiceflow.Engine
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Server over an engine.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		engine: opts.Engine,
		logger: opts.Logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/threads", s.handleCreateThread)
	s.mux.HandleFunc("GET /api/threads/{id}", s.handleGetThread)
	s.mux.HandleFunc("GET /api/threads/{id}/log", s.handleGetLog)
	s.mux.HandleFunc("GET /api/reviews/pending", s.handlePendingReviews)
	s.mux.HandleFunc("POST /api/reviews/decision", s.handleDecision)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the routed handler for mounting on an http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type createThreadRequest struct {
	InvoicePayload map[string]any `json:"invoice_payload"`
}

type decisionRequest struct {
	ThreadID   string `json:"thread_id"`
	Decision   string `json:"decision"`
	ReviewerID string `json:"reviewer_id"`
	Notes      string `json:"notes"`
}

// handleCreateThread persists the thread and kicks off execution in the
// background; the response carries the initial RUNNING checkpoint.
func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, invoiceflow.NewValidationError("request body must be JSON"))
		return
	}
	if len(req.InvoicePayload) == 0 {
		s.writeError(w, invoiceflow.NewValidationError("invoice_payload is required"))
		return
	}

	thread, err := s.engine.Create(r.Context(), map[string]any{
		"invoice_payload": req.InvoicePayload,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	go func() {
		if err := s.engine.Run(context.Background(), thread.ID); err != nil {
			s.logger.Error("background run ended with error", "thread_id", thread.ID, "error", err)
		}
	}()

	s.writeJSON(w, http.StatusCreated, thread)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := s.engine.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, thread)
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	// A missing thread is a 404 even though its log would just be empty.
	if _, err := s.engine.Status(r.Context(), threadID); err != nil {
		s.writeError(w, err)
		return
	}
	transitions, err := s.engine.Transitions(r.Context(), threadID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if transitions == nil {
		transitions = []*invoiceflow.Transition{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"thread_id":   threadID,
		"transitions": transitions,
	})
}

func (s *Server) handlePendingReviews(w http.ResponseWriter, r *http.Request) {
	threads, err := s.engine.PendingReviews(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if threads == nil {
		threads = []*invoiceflow.Thread{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pending": threads})
}

// handleDecision resumes a paused thread and drives it until the next
// pause or terminal status. Execution continues even if the client
// disconnects mid-drive.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, invoiceflow.NewValidationError("request body must be JSON"))
		return
	}
	if req.ThreadID == "" {
		s.writeError(w, invoiceflow.NewValidationError("thread_id is required"))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	err := s.engine.Resume(ctx, req.ThreadID, invoiceflow.Decision{
		Decision:   req.Decision,
		ReviewerID: req.ReviewerID,
		Notes:      req.Notes,
	})
	if err != nil && !isThreadOutcome(err) {
		s.writeError(w, err)
		return
	}

	thread, err := s.engine.Status(ctx, req.ThreadID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, thread)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// isThreadOutcome reports whether the error describes the thread's own
// failure rather than a problem with the request. A resumed thread that
// subsequently fails a step is still a successful decision submission;
// the caller reads the FAILED status off the returned thread.
func isThreadOutcome(err error) bool {
	var appErr *invoiceflow.Error
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Kind {
	case invoiceflow.KindConflict, invoiceflow.KindValidation, invoiceflow.KindNotFound:
		return false
	default:
		return true
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case invoiceflow.IsValidation(err):
		status = http.StatusBadRequest
	case invoiceflow.IsNotFound(err):
		status = http.StatusNotFound
	case invoiceflow.IsConflict(err):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]any{"error": err.Error()})
}
