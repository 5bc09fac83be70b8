// Package server exposes the orchestrator over HTTP for the polling UI:
// JSON endpoints for starting, polling, and cancelling runs, a websocket
// variant of the status stream, and static serving of run artifacts.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nebelbild/data-analysis/pkg/model"
	"github.com/nebelbild/data-analysis/pkg/orchestrator"
	"github.com/nebelbild/data-analysis/pkg/store"
)

// Server handles the HTTP API.
type Server struct {
	orch       *orchestrator.Orchestrator
	runs       store.RunStore
	gateway    model.Gateway
	outputRoot string
}

// New creates the API server. runs may be nil when persistence is disabled;
// the history endpoints then answer 404.
func New(orch *orchestrator.Orchestrator, runs store.RunStore, gateway model.Gateway, outputRoot string) *Server {
	return &Server{
		orch:       orch,
		runs:       runs,
		gateway:    gateway,
		outputRoot: outputRoot,
	}
}

// Handler returns the routed HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions/{id}/analyses", s.handleStart)
	mux.HandleFunc("GET /api/sessions/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleTeardown)
	mux.HandleFunc("GET /api/sessions/{id}/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}/threads", s.handleListThreads)
	mux.HandleFunc("GET /api/models", s.handleListModels)
	mux.HandleFunc("GET /api/sessions/{id}/watch", s.handleWatch)

	mux.Handle("GET /output/", http.StripPrefix("/output/",
		http.FileServer(http.Dir(s.outputRoot))))

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Encoding response failed", "error", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}
