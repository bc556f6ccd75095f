package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

type HealthChecker struct {
	mu                 sync.RWMutex
	haltState          string
	lastReconciliation time.Time
	lastFill           time.Time
	equity             float64
	isConnected        bool
	errors             []string
}

type HealthStatus struct {
	Status             string    `json:"status"`
	Timestamp          time.Time `json:"timestamp"`
	HaltState          string    `json:"halt_state"`
	LastReconciliation time.Time `json:"last_reconciliation"`
	LastFill           time.Time `json:"last_fill,omitempty"`
	Equity             float64   `json:"equity"`
	IsConnected        bool      `json:"is_connected"`
	Uptime             string    `json:"uptime"`
	Errors             []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		haltState: "RECONCILING",
		errors:    make([]string, 0),
	}
}

// SetHaltState records the current kill switch state
func (h *HealthChecker) SetHaltState(state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.haltState = state
}

// SetConnected records exchange connectivity
func (h *HealthChecker) SetConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isConnected = connected
}

// RecordReconciliation records a completed reconciliation pass
func (h *HealthChecker) RecordReconciliation(at time.Time, equity float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastReconciliation = at
	h.equity = equity
}

// RecordFill records the time of the most recent fill
func (h *HealthChecker) RecordFill(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastFill = at
}

// AddError appends a recent error for diagnostics, keeping the last ten
func (h *HealthChecker) AddError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > 10 {
		h.errors = h.errors[len(h.errors)-10:]
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.isConnected || time.Since(h.lastReconciliation) > 5*time.Minute {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if h.haltState == "HALTED_AUTO" {
		status = "halted"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	health := HealthStatus{
		Status:             status,
		Timestamp:          time.Now(),
		HaltState:          h.haltState,
		LastReconciliation: h.lastReconciliation,
		LastFill:           h.lastFill,
		Equity:             h.equity,
		IsConnected:        h.isConnected,
		Uptime:             time.Since(startTime).String(),
		Errors:             h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
