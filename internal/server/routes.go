package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Processes
	mux.HandleFunc("/api/processes/", s.handleProcessRoutes) // GET /{n}, GET /{n}/status

	// API routes - Webhooks
	mux.HandleFunc("/api/webhooks/validate", s.app.WebhookHandler.ValidateHandler)
	mux.HandleFunc("/api/webhooks/test-connectivity", s.app.WebhookHandler.TestConnectivityHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Catch-all for unknown endpoints
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleProcessRoutes dispatches /api/processes/{processNumber}[/status].
// Process numbers contain dots and dashes, so the path is split manually
// instead of registering per-process patterns.
func (s *Server) handleProcessRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/processes/")
	if rest == "" || rest == r.URL.Path {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	if processNumber, ok := strings.CutSuffix(rest, "/status"); ok {
		s.app.ProcessHandler.StatusHandler(w, r, processNumber)
		return
	}

	if strings.Contains(rest, "/") {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	s.app.ProcessHandler.GetProcessHandler(w, r, rest)
}
