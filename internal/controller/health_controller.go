package controller

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

func PostgresPinger(pool *pgxpool.Pool) Pinger {
	return pool.Ping
}

func RedisPinger(client *redis.Client) Pinger {
	return func(ctx context.Context) error { return client.Ping(ctx).Err() }
}

// HealthController serves the probe endpoints. Backends are not probed:
// an unreachable node must not take the API out of rotation.
type HealthController struct {
	checks map[string]Pinger
}

func NewHealthController(checks map[string]Pinger) *HealthController {
	return &HealthController{checks: checks}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "alive"})
}

// Readiness pings every dependency in parallel and reports each one.
func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		status = make(map[string]string, len(h.checks))
		ready  = true
	)
	var g errgroup.Group
	for name, ping := range h.checks {
		g.Go(func() error {
			result := "up"
			if err := ping(ctx); err != nil {
				result = "down"
			}
			mu.Lock()
			status[name] = result
			ready = ready && result == "up"
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "not ready", Checks: status})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ready", Checks: status})
}
