package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knova/knova/internal/inference"
)

// health is a liveness probe. Returns 200 OK with {"status":"ok"}.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// BreakerReporter reports the inference circuit state for readiness output.
// Satisfied by *inference.Client.
type BreakerReporter interface {
	BreakerState() inference.CircuitState
}

// readiness checks downstream dependencies. An open inference circuit is
// reported but does not fail readiness: the service still answers in
// degraded mode.
func readiness(pool *pgxpool.Pool, breaker BreakerReporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{"status": "ok"}

		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				status["status"] = "degraded"
				status["database"] = "unreachable"
				writeJSON(w, http.StatusServiceUnavailable, status)
				return
			}
			stats := pool.Stat()
			status["database"] = map[string]any{
				"total_conns": stats.TotalConns(),
				"idle_conns":  stats.IdleConns(),
			}
		}

		if breaker != nil {
			state := breaker.BreakerState()
			status["inference_circuit"] = state.String()
			if state != inference.CircuitClosed {
				status["status"] = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, status)
	})
}
