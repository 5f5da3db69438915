// Package pages holds the page objects for astarfinancial.com.au: the home
// page link check and the three form funnels.
package pages

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/v0xg/astarcheck/internal/artifacts"
	"github.com/v0xg/astarcheck/internal/browser"
	"github.com/v0xg/astarcheck/internal/config"
	"github.com/v0xg/astarcheck/internal/logging"
	"github.com/v0xg/astarcheck/internal/walker"
)

// Runner executes flows on one page, capturing failure artifacts and an
// optional step trail.
type Runner struct {
	Page      browser.Page
	Config    *config.Config
	Artifacts *artifacts.Writer // nil disables artifacts
	Logger    zerolog.Logger
}

// NewRunner wires a runner from configuration.
func NewRunner(page browser.Page, cfg *config.Config, logger zerolog.Logger) *Runner {
	r := &Runner{Page: page, Config: cfg, Logger: logger}
	if cfg.Artifacts.Enabled {
		r.Artifacts = artifacts.NewWriter(cfg.Artifacts, logging.Component(logger, "artifacts"))
	}
	return r
}

// Run walks flow. On failure the page is captured before the error is
// returned.
func (r *Runner) Run(ctx context.Context, flow walker.Flow) (*walker.Result, error) {
	opts := walker.OptionsFromConfig(r.Config)

	var trail *artifacts.Trail
	if r.Artifacts != nil && r.Config.Artifacts.Trail {
		trail = artifacts.NewTrail(r.Config.Artifacts.ThumbnailWidth, r.Logger)
		opts.Observer = trail.Observe
	}

	w := walker.New(r.Page, opts, logging.Component(r.Logger, "walker"))
	res, err := w.Run(ctx, flow)

	if trail != nil {
		if _, terr := r.Artifacts.WriteTrail(flow.Name, trail); terr != nil {
			r.Logger.Warn().Err(terr).Str("flow", flow.Name).Msg("Failed to write step trail")
		}
	}
	if err != nil && r.Artifacts != nil && ctx.Err() == nil {
		if _, cerr := r.Artifacts.CaptureFailure(ctx, r.Page, flow.Name); cerr != nil {
			r.Logger.Warn().Err(cerr).Str("flow", flow.Name).Msg("Failed to capture failure artifacts")
		}
	}
	return res, err
}
