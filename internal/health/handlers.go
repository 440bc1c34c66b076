// Package health exposes liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/mena-commerce/nbe-checkout/internal/common"
)

// Checker probes the service's hard dependencies.
type Checker struct {
	PingDB    func(ctx context.Context) error
	PingRedis func(ctx context.Context) error
}

// Live reports process liveness. It never checks dependencies.
func (c Checker) Live(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports readiness: the service can take traffic only when Postgres and
// Redis respond.
func (c Checker) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if c.PingDB != nil {
		if err := c.PingDB(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if c.PingRedis != nil {
		if err := c.PingRedis(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	common.JSON(w, status, map[string]any{"status": state, "checks": checks})
}
