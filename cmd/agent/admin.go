package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ducminhle1904/futures-exec-agent/internal/executor"
	"github.com/ducminhle1904/futures-exec-agent/internal/monitoring"
	"github.com/ducminhle1904/futures-exec-agent/internal/signal"
)

// adminServer exposes metrics, health and the operator controls over HTTP.
// Operator commands go through the coordinator's command channel, so they
// serialize with intent handling like everything else.
type adminServer struct {
	addr   string
	coord  *executor.Coordinator
	health *monitoring.HealthChecker
	stream *signal.Stream
}

func newAdminServer(addr string, coord *executor.Coordinator, health *monitoring.HealthChecker, stream *signal.Stream) *adminServer {
	return &adminServer{addr: addr, coord: coord, health: health, stream: stream}
}

func (a *adminServer) serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.NewMetricsHandler())
	mux.Handle("/health", a.health)
	mux.HandleFunc("/halt", a.handleHalt)
	mux.HandleFunc("/resume", a.handleResume)
	mux.HandleFunc("/close-all", a.handleCloseAll)
	mux.HandleFunc("/intent", a.handleIntent)
	mux.HandleFunc("/status", a.handleStatus)

	srv := &http.Server{
		Addr:         a.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type operatorRequest struct {
	Reason string `json:"reason"`
	By     string `json:"by"`
}

func decodeOperator(r *http.Request) operatorRequest {
	req := operatorRequest{By: "operator"}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.By == "" {
		req.By = "operator"
	}
	return req
}

func (a *adminServer) handleHalt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	req := decodeOperator(r)
	if req.Reason == "" {
		req.Reason = "operator_halt"
	}
	a.respond(w, a.coord.Halt(r.Context(), req.Reason, req.By))
}

func (a *adminServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	req := decodeOperator(r)
	a.respond(w, a.coord.Resume(r.Context(), req.By))
}

func (a *adminServer) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	req := decodeOperator(r)
	if req.Reason == "" {
		req.Reason = "operator close-all"
	}
	a.respond(w, a.coord.CloseAll(r.Context(), req.Reason))
}

// handleIntent accepts a trade intent as JSON and publishes it to the same
// stream stdin intents arrive on.
func (a *adminServer) handleIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var intent signal.TradeIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		http.Error(w, fmt.Sprintf("invalid intent: %v", err), http.StatusBadRequest)
		return
	}
	if err := intent.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.respond(w, a.stream.Publish(intent))
}

func (a *adminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.coord.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (a *adminServer) respond(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
