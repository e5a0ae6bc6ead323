package work

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jonesrussell/gogen/internal/circuitbreaker"
	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/metrics"
	"github.com/jonesrussell/gogen/internal/worker"
)

const (
	opsReadTimeout  = 10 * time.Second
	opsWriteTimeout = 10 * time.Second
	opsIdleTimeout  = 60 * time.Second
)

// opsServer serves the operational HTTP endpoints: Prometheus metrics on
// /metrics, worker health on /healthz and circuit breaker state on
// /breakers.
type opsServer struct {
	server *http.Server
	logger logger.Logger
}

func newOpsServer(
	addr string,
	provider *metrics.Provider,
	monitor *worker.HealthMonitor,
	registry *circuitbreaker.Registry,
	log logger.Logger,
) *opsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.Handler())
	mux.HandleFunc("/healthz", healthHandler(monitor))
	mux.HandleFunc("/breakers", breakersHandler(registry))
	mux.HandleFunc("/breakers/reset", breakersResetHandler(registry, log))

	return &opsServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  opsReadTimeout,
			WriteTimeout: opsWriteTimeout,
			IdleTimeout:  opsIdleTimeout,
		},
		logger: log,
	}
}

// Start serves in the background; the returned channel receives at most one
// fatal error.
func (o *opsServer) Start() <-chan error {
	errChan := make(chan error, 1)
	go func() {
		if err := o.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	return errChan
}

// Stop shuts the server down, waiting for in-flight requests up to the
// context deadline.
func (o *opsServer) Stop(ctx context.Context) {
	if err := o.server.Shutdown(ctx); err != nil {
		o.logger.Warn("failed to stop ops server", logger.Error(err))
	}
}

type healthResponse struct {
	Status           string `json:"status"`
	PoolState        string `json:"pool_state"`
	TotalWorkers     int    `json:"total_workers"`
	HealthyWorkers   int    `json:"healthy_workers"`
	UnhealthyWorkers int    `json:"unhealthy_workers"`
	BusyWorkers      int    `json:"busy_workers"`
	IdleWorkers      int    `json:"idle_workers"`
}

// healthHandler reports pool health. Degraded still answers 200 so the
// process is not restarted while most workers are fine.
func healthHandler(monitor *worker.HealthMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		check := monitor.Check()

		status := http.StatusOK
		if check.Status == worker.HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, healthResponse{
			Status:           string(check.Status),
			PoolState:        check.PoolState.String(),
			TotalWorkers:     check.TotalWorkers,
			HealthyWorkers:   check.HealthyWorkers,
			UnhealthyWorkers: check.UnhealthyWorkers,
			BusyWorkers:      check.BusyWorkers,
			IdleWorkers:      check.IdleWorkers,
		})
	}
}

type breakerResponse struct {
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	OpenedAt     time.Time `json:"opened_at,omitzero"`
}

func breakersHandler(registry *circuitbreaker.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := registry.AllStats()

		resp := make(map[string]breakerResponse, len(stats))
		for name, s := range stats {
			resp[name] = breakerResponse{
				State:        s.State.String(),
				FailureCount: s.FailureCount,
				SuccessCount: s.SuccessCount,
				OpenedAt:     s.OpenedAt,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// breakersResetHandler forces every breaker back to closed. Useful after a
// backend outage is confirmed fixed and the operator does not want to wait
// out the open timeout.
func breakersResetHandler(registry *circuitbreaker.Registry, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		registry.ResetAll()
		log.Info("circuit breakers reset via ops endpoint")
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
