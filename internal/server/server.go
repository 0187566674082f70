// Package server exposes the chat assistant over HTTP.
package server

import (
	"log/slog"
	"net/http"
)

// Config holds the handlers' dependencies. MCP is optional.
type Config struct {
	Chat        Replier
	VectorStore HealthChecker
	Sessions    Pinger
	MCP         http.Handler
	Logger      *slog.Logger
}

// NewMux wires the routes:
//
//	GET  /        landing page
//	POST /chat    one chat turn
//	GET  /health  vector store and session database status
//	     /mcp     MCP streamable HTTP, when configured
func NewMux(cfg *Config) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", NewLandingHandler())
	mux.Handle("POST /chat", NewChatHandler(cfg.Chat, cfg.Logger))
	mux.Handle("GET /health", NewHealthHandler(cfg.VectorStore, cfg.Sessions))
	if cfg.MCP != nil {
		mux.Handle("/mcp", cfg.MCP)
	}
	return mux
}

// WithCORS allows any origin, which the browser frontend relies on.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
