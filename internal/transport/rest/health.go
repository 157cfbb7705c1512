package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
	DurationMs int64          `json:"duration_ms"`
}

// LedgerChecker is the capability probe against the external ledger provider.
type LedgerChecker interface {
	IsAuthenticated(ctx context.Context) bool
}

// SessionCounter reports how many sessions are currently pending.
type SessionCounter interface {
	ActiveSessions() int
}

type HealthHandler struct {
	ledger   LedgerChecker
	sessions SessionCounter
}

func NewHealthHandler(ledger LedgerChecker, sessions SessionCounter) *HealthHandler {
	return &HealthHandler{ledger: ledger, sessions: sessions}
}

// HandleLiveness → just says service is up
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "OK"}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleReadiness → checks the ledger provider session. Unauthenticated means
// new payments could never be confirmed, so the service reports unhealthy.
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	authenticated := h.ledger.IsAuthenticated(ctx)

	entry := CheckEntry{
		Status:     HealthHealthy,
		CheckedAt:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if !authenticated {
		entry.Status = HealthUnhealthy
		entry.Message = "ledger provider session is not authenticated"
	}

	resp := HealthResponse{
		Status:     entry.Status,
		CheckedAt:  time.Now(),
		Components: map[string]CheckEntry{"ledger_provider": entry},
	}
	if h.sessions != nil {
		resp.Components["sessions"] = CheckEntry{
			Status:    HealthHealthy,
			CheckedAt: time.Now(),
			Details:   map[string]any{"active": h.sessions.ActiveSessions()},
		}
	}

	statusCode := http.StatusOK
	if entry.Status == HealthUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
