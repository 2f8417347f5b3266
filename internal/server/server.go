// internal/server/server.go

// Package server exposes the session API over HTTP and the attach
// protocol over WebSocket. It validates nothing about ownership: the
// identity collaborator in front of it supplies owner ids verbatim.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/sessionhub/internal/adapter"
	"github.com/user/sessionhub/internal/replay"
	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

// Server is the HTTP handler for the session API.
type Server struct {
	registry types.SessionRegistry
	events   types.EventStore
	hub      *replay.Coordinator
	uow      *store.UnitOfWork
	adapters *adapter.Registry
	mux      *http.ServeMux
}

func New(registry types.SessionRegistry, events types.EventStore, hub *replay.Coordinator, uow *store.UnitOfWork, adapters *adapter.Registry) *Server {
	s := &Server{
		registry: registry,
		events:   events,
		hub:      hub,
		uow:      uow,
		adapters: adapters,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)
	s.mux.HandleFunc("GET /api/sessions/{id}/attach", s.handleAttach)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	kind := types.SessionKind(r.URL.Query().Get("kind"))
	sessions, err := s.registry.List(r.Context(), kind)
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"sessions": sessions})
}

// createSessionRequest is the JSON body for POST /api/sessions.
type createSessionRequest struct {
	Kind     types.SessionKind `json:"kind"`
	OwnerID  string            `json:"owner_id"`
	Metadata json.RawMessage   `json:"metadata"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		http.Error(w, `{"error":"kind is required"}`, http.StatusBadRequest)
		return
	}

	sess, err := s.registry.Create(r.Context(), req.Kind, req.OwnerID, req.Metadata)
	if err != nil {
		slog.Error("create session failed", "kind", req.Kind, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	// A kind without a local driver is still a valid session: an external
	// adapter may be producing its events.
	if driver, derr := s.adapters.For(req.Kind); derr == nil {
		if err := driver.Start(r.Context(), sess); err != nil {
			slog.Error("start driver failed", "session_id", sess.ID, "kind", req.Kind, "error", err)
			http.Error(w, `{"error":"failed to start session process"}`, http.StatusInternalServerError)
			return
		}
		// Re-read: the driver moved the status.
		if updated, gerr := s.registry.Get(r.Context(), sess.ID); gerr == nil {
			sess = updated
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))
	sess, err := s.registry.Get(r.Context(), id)
	if errors.Is(err, store.ErrSessionNotFound) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("get session failed", "session_id", id, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))

	// Stop the backing process first, if this daemon owns one.
	if sess, err := s.registry.Get(r.Context(), id); err == nil {
		if driver, derr := s.adapters.For(sess.Kind); derr == nil {
			if serr := driver.Stop(id); serr != nil {
				slog.Warn("stop driver failed during delete", "session_id", id, "error", serr)
			}
		}
	}

	err := s.uow.PurgeSession(r.Context(), id)
	if errors.Is(err, store.ErrSessionNotFound) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("delete session failed", "session_id", id, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))
	afterSeq := int64(0)
	if v := r.URL.Query().Get("after_seq"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid after_seq"}`, http.StatusBadRequest)
			return
		}
		afterSeq = parsed
	}

	events, err := s.events.Since(r.Context(), id, afterSeq)
	if err != nil {
		slog.Error("query events failed", "session_id", id, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"events": events})
}
