// Package manage implements the Management API (C9): the side-channel
// HTTP server exposing health, metrics, an OpenAPI document and explorer,
// and GET/POST of the routing table. Grounded on the teacher's app package
// for its health/metrics endpoint conventions (app/health_standard.go,
// app/metrics_endpoint.go), simplified from its runtime schema-generating
// openapi package (dropped — see DESIGN.md) to a hand-built document since
// this surface is six fixed endpoints.
package manage

import (
	"embed"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/maegashira/maegashira/internal/merr"
	"github.com/maegashira/maegashira/internal/routing"
)

//go:embed explorer.html
var explorerFS embed.FS

// MetricsHandler serves the cluster's /metrics endpoint; implemented by
// (*metrics.Registry).Handler() or (*metrics.Aggregator).Registry.Handler().
type MetricsHandler interface {
	ServeHTTP(http.ResponseWriter, *http.Request)
}

// Server is the Management API's HTTP handler (§4.9).
type Server struct {
	Store   *routing.Store
	Metrics MetricsHandler
	APIKey  string
	Log     *slog.Logger
}

// Handler builds the routed http.Handler for the Management listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleOpenAPI)
	mux.HandleFunc("GET /explorer", s.handleExplorer)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /routes", s.withBearer(s.handleGetRoutes))
	mux.HandleFunc("POST /routes", s.withBearer(s.handlePostRoutes))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.Metrics == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.Metrics.ServeHTTP(w, r)
}

func (s *Server) handleExplorer(w http.ResponseWriter, r *http.Request) {
	data, err := explorerFS.ReadFile("explorer.html")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, openAPIDocument())
}

func (s *Server) handleGetRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.Get())
}

func (s *Server) handlePostRoutes(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to read request body"})
		return
	}

	// Validate the raw bytes before decoding into routing.Table: a struct
	// decode silently drops unknown JSON keys, which would make the
	// schema's additionalProperties:false rules unobservable (§4.1).
	if errs := routing.ValidateJSON(body); len(errs) > 0 {
		details := make([]string, len(errs))
		for i, e := range errs {
			details[i] = e.String()
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid routing table", "details": details})
		return
	}

	var candidate routing.Table
	if err := json.Unmarshal(body, &candidate); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed routing table JSON"})
		return
	}

	if err := s.Store.Set(candidate); err != nil {
		me, ok := err.(*merr.Error)
		if !ok {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, me.HTTPStatus(), map[string]any{"error": me.Message, "details": me.Details()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "OK"})
}

// withBearer gates next behind the Authorization: Bearer <key> scheme of
// §4.9, returning the three distinct 401 bodies the spec specifies.
func (s *Server) withBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeText(w, http.StatusUnauthorized, `Not authorized. Missing "Authorization" header`)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeText(w, http.StatusUnauthorized, "Missing API key")
			return
		}
		if token != s.APIKey {
			writeText(w, http.StatusUnauthorized, "API key invalid")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
