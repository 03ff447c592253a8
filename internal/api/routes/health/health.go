// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/ahrav/flawtracker/internal/api/errs"
	"github.com/ahrav/flawtracker/pkg/common/logger"
	"github.com/ahrav/flawtracker/pkg/web"
)

const checkTimeout = time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build string
	Log   *logger.Logger
	// Dependencies are pinged by the readiness probe, keyed by name.
	Dependencies map[string]Pinger
}

// Routes binds all the health check endpoints.
func Routes(app *web.App, cfg Config) {
	app.HandlerFunc(http.MethodGet, "", "/v1/health", liveness(cfg))
	app.HandlerFunc(http.MethodGet, "", "/v1/readiness", readiness(cfg))
}

type livenessResponse struct {
	Status     string `json:"status"`
	Build      string `json:"build"`
	Host       string `json:"host,omitempty"`
	GOMAXPROCS int    `json:"GOMAXPROCS"`
}

func (lr livenessResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(lr)
	return data, "application/json", err
}

// readyResponse lists the outcome of every dependency check.
type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (rr readyResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(rr)
	return data, "application/json", err
}

func liveness(cfg Config) web.HandlerFunc {
	host, _ := os.Hostname()
	return func(ctx context.Context, r *http.Request) web.Encoder {
		return livenessResponse{
			Status:     "up",
			Build:      cfg.Build,
			Host:       host,
			GOMAXPROCS: runtime.GOMAXPROCS(0),
		}
	}
}

func readiness(cfg Config) web.HandlerFunc {
	names := make([]string, 0, len(cfg.Dependencies))
	for name := range cfg.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(ctx context.Context, r *http.Request) web.Encoder {
		resp := readyResponse{Status: "ready", Checks: make(map[string]string, len(names))}

		var failed []string
		for _, name := range names {
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := cfg.Dependencies[name].Ping(checkCtx)
			cancel()

			if err != nil {
				cfg.Log.Info(ctx, "readiness failure", "dependency", name, "err", err)
				resp.Checks[name] = "unavailable"
				failed = append(failed, name)
				continue
			}
			resp.Checks[name] = "ok"
		}

		if len(failed) > 0 {
			return errs.Newf(errs.Unavailable, "not ready: %v", failed)
		}
		return resp
	}
}

