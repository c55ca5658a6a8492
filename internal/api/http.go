// Package api exposes engine.Engine's operations over HTTP, grounded on
// the teacher's gorilla/mux HTTPTrigger router-building style.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/logimos/reactor/internal/engine"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server wraps an engine.Engine with an HTTP API. Not part of the engine
// core — it only calls engine.Engine's exported methods.
type Server struct {
	logger *zap.Logger
	engine *engine.Engine
	server *http.Server
	router *mux.Router
	port   int
}

// NewServer builds an API server bound to port, serving eng.
func NewServer(eng *engine.Engine, port int, logger *zap.Logger) *Server {
	s := &Server{
		logger: logger,
		engine: eng,
		router: mux.NewRouter(),
		port:   port,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/workflows/{name}/executions", s.handleExecute).Methods(http.MethodPost)
	s.router.HandleFunc("/workflows/{name}/executions/{id}/resume", s.handleResume).Methods(http.MethodPost)
	s.router.HandleFunc("/executions/{id}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc("/executions", s.handleFind).Methods(http.MethodGet)
}

// Start begins serving and blocks until the server stops or errors.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         formatAddr(s.port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.logger.Info("starting api server", zap.Int("port", s.port))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type execRequest struct {
	ExecutionID string                 `json:"executionId,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req execRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}

	execution, err := s.engine.Execute(r.Context(), name, engine.ExecuteOptions{
		ExecutionID: req.ExecutionID,
		Data:        req.Data,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, execution)
}

type resumeRequest struct {
	Data        map[string]interface{} `json:"data,omitempty"`
	Strategy    string                 `json:"strategy"`
	TargetState string                 `json:"targetState,omitempty"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, id := vars["name"], vars["id"]

	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	execution, err := s.engine.Resume(r.Context(), name, id, engine.ResumeOptions{
		Data:        req.Data,
		Strategy:    engine.ResumeStrategy(req.Strategy),
		TargetState: req.TargetState,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, execution)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	execution, err := s.engine.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, execution)
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := engine.Filter{
		WorkflowName: q.Get("workflow"),
		Status:       engine.ExecutionStatus(q.Get("status")),
	}
	executions, err := s.engine.Find(filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, executions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Warn("api request failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func formatAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
