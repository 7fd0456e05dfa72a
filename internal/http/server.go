// Package http serves the bridge's health, metrics and command history
// endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/journal"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
)

const (
	defaultCommandLimit = 50
	maxCommandLimit     = 500
)

// CommandLister returns recent journaled commands
type CommandLister interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Server is the optional HTTP endpoint
type Server struct {
	server *http.Server
}

// NewRouter wires /health, and /metrics and /commands when their
// providers are non-nil.
func NewRouter(health *HealthHandler, metrics http.Handler, commands CommandLister) *mux.Router {
	router := mux.NewRouter()

	router.Handle("/health", health).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	if commands != nil {
		router.HandleFunc("/commands", commandsHandler(commands)).Methods(http.MethodGet)
	}
	router.HandleFunc("/", indexHandler).Methods(http.MethodGet)

	return router
}

// NewServer creates a server on port for router
func NewServer(router *mux.Router, port int) *Server {
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start listens in the background
func (s *Server) Start() {
	go func() {
		logger.LogInfo("🌐 HTTP server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError("❌ HTTP server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func commandsHandler(commands CommandLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultCommandLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, map[string]string{"error": "limit must be a positive integer"}, http.StatusBadRequest)
				return
			}
			limit = min(n, maxCommandLimit)
		}

		entries, err := commands.Recent(r.Context(), limit)
		if err != nil {
			logger.LogError("❌ Failed to read command journal: %v", err)
			writeJSON(w, map[string]string{"error": "journal unavailable"}, http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]interface{}{
			"commands": entries,
			"count":    len(entries),
		}, http.StatusOK)
	}
}

func indexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<html>
<head><title>Sofar MQTT Bridge</title></head>
<body>
<h1>Sofar MQTT Bridge</h1>
<ul>
<li><a href="/health">Health Check</a></li>
<li><a href="/metrics">Metrics</a></li>
<li><a href="/commands">Command history</a></li>
</ul>
</body>
</html>`)
}

func writeJSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.LogDebug("Failed to encode response: %v", err)
	}
}
