// Package server exposes the queue and account stores over a local HTTP
// control plane: JSON endpoints for queue and account operations, a
// websocket event stream, and the embedded dashboard.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/claudeutils/claude-queue/embedded"
	"github.com/claudeutils/claude-queue/internal/accounts"
	"github.com/claudeutils/claude-queue/internal/queue"
	"github.com/claudeutils/claude-queue/internal/types"
)

// Server is the HTTP control plane over one queue processor and one
// account store.
type Server struct {
	queue    *queue.Processor
	accounts *accounts.Store
	hub      *Hub
	httpSrv  *http.Server
}

// New assembles the server. The hub must be the same one wired into the
// processor as its broadcaster.
func New(addr string, proc *queue.Processor, accts *accounts.Store, hub *Hub) *Server {
	s := &Server{
		queue:    proc,
		accounts: accts,
		hub:      hub,
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed for handler tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/queue/status", s.handleQueueStatus).Methods(http.MethodGet)
	r.HandleFunc("/queue/prompts", s.handleListPrompts).Methods(http.MethodGet)
	r.HandleFunc("/queue/prompts", s.handleAddPrompt).Methods(http.MethodPost)
	r.HandleFunc("/queue/prompts/{id}", s.handleGetPrompt).Methods(http.MethodGet)
	r.HandleFunc("/queue/prompts/{id}", s.handleCancelPrompt).Methods(http.MethodDelete)

	r.HandleFunc("/accounts", s.handleListAccounts).Methods(http.MethodGet)
	r.HandleFunc("/accounts/save", s.handleSaveAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/new", s.handleNewAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/use/{name}", s.handleUseAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{name}", s.handleGetAccount).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{name}", s.handleDeleteAccount).Methods(http.MethodDelete)

	r.Handle("/events", s.hub)

	dashboard, err := fs.Sub(embedded.DashboardFS, "dashboard")
	if err == nil {
		r.PathPrefix("/").Handler(http.FileServer(http.FS(dashboard)))
	}
	return r
}

// ListenAndServe blocks until the context is cancelled or the listener
// fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.hub.Subscribers(),
		"time":        time.Now().UTC(),
	})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.GetStats())
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	filter := types.PromptStatus(r.URL.Query().Get("status"))
	if filter != "" && !filter.Valid() {
		writeError(w, http.StatusBadRequest, &types.UnknownStatusError{Status: string(filter)})
		return
	}
	writeJSON(w, http.StatusOK, s.queue.ListPrompts(filter))
}

// addPromptRequest is the POST /queue/prompts body.
type addPromptRequest struct {
	Content          string   `json:"content"`
	Priority         int      `json:"priority"`
	WorkingDirectory string   `json:"working_directory,omitempty"`
	ContextFiles     []string `json:"context_files,omitempty"`
	MaxRetries       int      `json:"max_retries,omitempty"`
	EstimatedTokens  int      `json:"estimated_tokens,omitempty"`
}

func (s *Server) handleAddPrompt(w http.ResponseWriter, r *http.Request) {
	var req addPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.queue.Enqueue(queue.EnqueueRequest{
		Content:          req.Content,
		Priority:         req.Priority,
		WorkingDirectory: req.WorkingDirectory,
		ContextFiles:     req.ContextFiles,
		MaxRetries:       req.MaxRetries,
		EstimatedTokens:  req.EstimatedTokens,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "prompt_id": id})
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	prompt, err := s.queue.GetPrompt(mux.Vars(r)["id"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

func (s *Server) handleCancelPrompt(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Cancel(mux.Vars(r)["id"]); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	includeBackups := r.URL.Query().Get("backups") == "true"
	infos, err := s.accounts.List(includeBackups)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	active, err := s.accounts.Active()
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   active,
		"accounts": infos,
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	info, err := s.accounts.GetInfo(mux.Vars(r)["name"])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSaveAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.accounts.Save(req.Name); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"saved": req.Name})
}

func (s *Server) handleNewAccount(w http.ResponseWriter, _ *http.Request) {
	backup, err := s.accounts.New()
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"backup": backup})
}

func (s *Server) handleUseAccount(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.accounts.Use(name); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": name})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Delete(mux.Vars(r)["name"]); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// writeMappedError translates store and queue errors to HTTP status
// codes.
func writeMappedError(w http.ResponseWriter, err error) {
	var unknownStatus *types.UnknownStatusError
	switch {
	case errors.Is(err, types.ErrPromptNotFound),
		errors.Is(err, accounts.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, types.ErrPromptTerminal),
		errors.Is(err, accounts.ErrAccountExists):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, types.ErrEmptyContent),
		errors.Is(err, accounts.ErrInvalidName),
		errors.Is(err, accounts.ErrNoCredentials),
		errors.As(err, &unknownStatus):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
