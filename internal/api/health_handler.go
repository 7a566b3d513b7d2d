package api

import (
	"context"
	"net/http"
	"time"

	"github.com/phrazzld/mailpipe/internal/api/shared"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/redact"
)

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// healthTimeout bounds the database ping.
const healthTimeout = 2 * time.Second

// HealthHandler handles GET /health. It answers 503 when the database
// cannot be reached.
func HealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			logger.FromContext(r.Context()).Warn("health check failed", "error", redact.Error(err))
			shared.RespondWithJSON(w, r, http.StatusServiceUnavailable, HealthResponse{
				Status:   "degraded",
				Database: "unreachable",
			})
			return
		}
		shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok", Database: "ok"})
	}
}
