// Package remote carries sync traffic between machines as JSON over HTTP.
//
// The server exposes one resource:
//
//	GET  /actions?from=<id>&after=<id>&limit=<n>   first-parent history page, newest first
//	POST /actions                                  submit actions, oldest first
//
// A history starts at from, or at the current action without it. after pages
// on from the last action of the previous page.
//
// Client implements machine.Remote against that resource.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/avcs/internal/dag"
	"github.com/roach88/avcs/internal/ir"
)

// DefaultPageSize is the page size used when a request names none.
const DefaultPageSize = 100

// MaxPageSize caps the page size a client may ask for.
const MaxPageSize = 1000

// FormatHeader carries the action encoding version on every response.
const FormatHeader = "Avcs-Format"

// Peer is the machine side served over HTTP.
type Peer[T, U any] interface {
	Page(ctx context.Context, fromID, afterID string, limit int) ([]dag.Action[T, U], error)
	Receive(ctx context.Context, actions []dag.Action[T, U]) (dag.Action[T, U], error)
}

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Code     dag.ErrorCode `json:"code,omitempty"`
	Message  string        `json:"message"`
	ActionID string        `json:"action_id,omitempty"`
}

// receiveResponse reports the receiving side's current action.
type receiveResponse struct {
	Current string `json:"current"`
}

// Server serves a Peer.
type Server[T, U any] struct {
	peer   Peer[T, U]
	logger *slog.Logger
}

// NewServer creates a Server. A nil logger uses slog.Default().
func NewServer[T, U any](peer Peer[T, U], logger *slog.Logger) *Server[T, U] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server[T, U]{peer: peer, logger: logger}
}

// Routes mounts the sync resource on r.
func (s *Server[T, U]) Routes(r chi.Router) {
	r.Get("/actions", s.page)
	r.Post("/actions", s.receive)
}

// Handler returns a router serving only the sync resource.
func (s *Server[T, U]) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

func (s *Server[T, U]) page(w http.ResponseWriter, r *http.Request) {
	limit := DefaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = min(n, MaxPageSize)
	}
	q := r.URL.Query()
	actions, err := s.peer.Page(r.Context(), q.Get("from"), q.Get("after"), limit)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if actions == nil {
		actions = []dag.Action[T, U]{}
	}
	s.writeJSON(w, http.StatusOK, actions)
}

func (s *Server[T, U]) receive(w http.ResponseWriter, r *http.Request) {
	var actions []dag.Action[T, U]
	if err := json.NewDecoder(r.Body).Decode(&actions); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode actions: %w", err))
		return
	}
	cur, err := s.peer.Receive(r.Context(), actions)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.logger.Info("actions received", "count", len(actions), "current", cur.ID)
	s.writeJSON(w, http.StatusOK, receiveResponse{Current: cur.ID})
}

func (s *Server[T, U]) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(FormatHeader, ir.FormatVersion)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", "error", err)
	}
}

func (s *Server[T, U]) writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Message: err.Error()}
	var de *dag.Error
	if errors.As(err, &de) {
		body.Code = de.Code
		body.Message = de.Message
		body.ActionID = de.ActionID
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("sync request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, body)
}

func statusFor(err error) int {
	var de *dag.Error
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	switch de.Code {
	case dag.ErrCodeNotFound:
		return http.StatusNotFound
	case dag.ErrCodeInvalidAction:
		return http.StatusBadRequest
	case dag.ErrCodeUnknownBranch, dag.ErrCodeNoCommonAncestor, dag.ErrCodeConflictResolution:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
