// Package routes binds every API route group.
package routes

import (
	"github.com/ahrav/flawtracker/internal/api/mux"
	"github.com/ahrav/flawtracker/internal/api/routes/flaws"
	"github.com/ahrav/flawtracker/internal/api/routes/health"
	"github.com/ahrav/flawtracker/pkg/web"
)

// Routes returns the mux.RouteAdder binding the health probes and the flaw
// API.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements mux.RouteAdder.
func (add) Add(app *web.App, cfg mux.Config) {
	deps := make(map[string]health.Pinger)
	if cfg.DB != nil {
		deps["database"] = cfg.DB
	}
	health.Routes(app, health.Config{
		Build:        cfg.Build,
		Log:          cfg.Log,
		Dependencies: deps,
	})

	flaws.Routes(app, flaws.Config{
		Log:     cfg.Log,
		Flaws:   cfg.Flaws,
		Metrics: cfg.Metrics,
	})
}
