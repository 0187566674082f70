package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	VectorStore string `json:"vector_store"`
	Sessions    string `json:"sessions"`
	Timestamp   string `json:"timestamp"`
}

// HealthChecker is implemented by the vector store.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Pinger is implemented by the session store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler reports vector store and session database reachability.
// Any failure answers 503.
func NewHealthHandler(vectors HealthChecker, sessions Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:      "healthy",
			VectorStore: "connected",
			Sessions:    "connected",
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}
		status := http.StatusOK

		if err := vectors.Health(ctx); err != nil {
			response.Status = "unhealthy"
			response.VectorStore = "disconnected"
			status = http.StatusServiceUnavailable
		}
		if err := sessions.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Sessions = "disconnected"
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, response)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
