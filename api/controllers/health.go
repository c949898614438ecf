package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/foundermark/friended-backend/api/responses"
	"github.com/foundermark/friended-backend/pkg/config"
	"github.com/foundermark/friended-backend/pkg/db"
	pkgerrors "github.com/foundermark/friended-backend/pkg/errors"
	"github.com/foundermark/friended-backend/pkg/logger"
	"github.com/foundermark/friended-backend/pkg/redis"
	"github.com/foundermark/friended-backend/pkg/storage/gcs"
)

const readyCheckTimeout = 5 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Friended-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings each wired dependency. A nil pinger is treated as
// intentionally absent rather than unhealthy.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger, gcsP gcs.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Friended-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		check := func(name string, ping func(context.Context) error) {
			if err := ping(ctx); err != nil {
				checks[name] = "unhealthy"
				healthy = false
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", name), "readiness check failed", err)
				}
				return
			}
			checks[name] = "ok"
		}

		if dbP != nil {
			check("db", dbP.Ping)
		}
		if redisP != nil {
			check("redis", redisP.Ping)
		}
		if gcsP != nil {
			check("gcs", gcsP.Ping)
		}

		if !healthy {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks))
			return
		}

		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
