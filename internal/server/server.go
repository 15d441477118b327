// Package server exposes the messaging core over HTTP and WebSocket.
//
// Mutations map to POST/DELETE endpoints; reads are mediated by the live
// query engine (a one-shot read is subscribe, take the initial result,
// cancel). The /ws endpoint streams live results for long-lived
// subscriptions.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Ayu0607/pulse-chat/internal/live"
	"github.com/Ayu0607/pulse-chat/internal/store"
)

// Server wires the live engine to the HTTP surface.
type Server struct {
	engine     *live.Engine
	apiKeyHash string // bcrypt hash; empty disables auth
}

// New creates a Server over the given engine. apiKeyHash is a bcrypt hash
// of the API bearer key; pass "" to disable authentication.
func New(engine *live.Engine, apiKeyHash string) *Server {
	return &Server{engine: engine, apiKeyHash: apiKeyHash}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireKey)

	api.HandleFunc("/users", s.handleUpsertUser).Methods(http.MethodPost)
	api.HandleFunc("/users", s.handleAllUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/online", s.handleSetOnline).Methods(http.MethodPost)
	api.HandleFunc("/users/me", s.handleCurrentUser).Methods(http.MethodGet)
	api.HandleFunc("/users/search", s.handleSearchUsers).Methods(http.MethodGet)

	api.HandleFunc("/conversations", s.handleGetOrCreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations", s.handleConversationList).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", s.handleConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", s.handleDeleteConversation).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{id}/read", s.handleMarkRead).Methods(http.MethodPost)

	api.HandleFunc("/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleMessageList).Methods(http.MethodGet)

	api.HandleFunc("/typing", s.handleSetTyping).Methods(http.MethodPost)
	api.HandleFunc("/typing", s.handleActiveTypers).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	return r
}

// readOnce executes a query through the engine and releases the
// subscription immediately: the engine mediates every read, even
// one-shots.
func (s *Server) readOnce(r *http.Request, q live.Query) (any, error) {
	res, sub := s.engine.Subscribe(r.Context(), q)
	sub.Cancel()
	return res.Value, res.Err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeStoreError maps store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	slog.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

// decode parses a JSON request body into dst.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}
