// Package crawl verifies every link in the site's link structure: it reveals
// nested links by hovering their dropdown, clicks them, times the response,
// checks the resulting title and returns to the baseline page.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/v0xg/astarcheck/internal/browser"
	"github.com/v0xg/astarcheck/internal/config"
	"github.com/v0xg/astarcheck/internal/errs"
	"github.com/v0xg/astarcheck/internal/linkstore"
	"github.com/v0xg/astarcheck/internal/locator"
)

// SettleMode is how the verifier waits after activation.
type SettleMode string

const (
	// SettleFixed sleeps for SettleDelay.
	SettleFixed SettleMode = "fixed"
	// SettleQuiescence waits for the page to go quiet, at most SettleDelay.
	SettleQuiescence SettleMode = "quiescence"
)

// PopupPolicy is how links that open a new tab are treated.
type PopupPolicy string

const (
	// PopupsInline strips target so the link opens in the crawl page.
	PopupsInline PopupPolicy = "inline"
	// PopupsSkip records the link as skipped.
	PopupsSkip PopupPolicy = "skip"
)

// Options tunes the verifier.
type Options struct {
	NavigationTimeout time.Duration
	RestoreTimeout    time.Duration
	SettleDelay       time.Duration
	SettleMode        SettleMode
	Activation        browser.ClickMode
	Popups            PopupPolicy
	TargetHint        string
	// RateLimit caps edges started per second; zero is unlimited.
	RateLimit float64
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		NavigationTimeout: 20 * time.Second,
		RestoreTimeout:    20 * time.Second,
		SettleDelay:       500 * time.Millisecond,
		SettleMode:        SettleFixed,
		Activation:        browser.ClickForce,
		Popups:            PopupsInline,
	}
}

// OptionsFromConfig converts the crawl section of the configuration.
func OptionsFromConfig(cfg config.CrawlConfig) (Options, error) {
	mode, err := browser.ParseClickMode(cfg.Activation)
	if err != nil {
		return Options{}, errs.Wrap(errs.InvalidConfig, "crawl.activation", err)
	}
	return Options{
		NavigationTimeout: cfg.NavigationTimeout,
		RestoreTimeout:    cfg.RestoreTimeout,
		SettleDelay:       cfg.SettleDelay,
		SettleMode:        SettleMode(cfg.SettleMode),
		Activation:        mode,
		Popups:            PopupPolicy(cfg.Popups),
		TargetHint:        cfg.TargetHint,
		RateLimit:         cfg.RateLimit,
	}, nil
}

// Verifier walks edges on one page, always starting from the baseline.
type Verifier struct {
	page     browser.Page
	locator  *locator.Locator
	baseline string
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// NewVerifier returns a verifier that treats baseline as the page every
// edge starts from. The page should already be at baseline.
func NewVerifier(page browser.Page, baseline string, opts Options, logger zerolog.Logger) *Verifier {
	return &Verifier{
		page:     page,
		locator:  locator.New(logger),
		baseline: baseline,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Run verifies edges strictly in order. Per-link problems are recorded and
// the crawl continues; a failed return to the baseline stops it, and the
// partial report is returned along with the error.
func (v *Verifier) Run(ctx context.Context, edges []linkstore.Edge) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Baseline:  v.baseline,
		StartedAt: v.now(),
		Results:   make([]Result, 0, len(edges)),
	}
	v.logger.Info().Str("run_id", report.RunID).Int("links", len(edges)).Msg("Verifying links")

	var limiter *rate.Limiter
	if v.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(v.opts.RateLimit), 1)
	}

	var fatal error
	for _, edge := range edges {
		if err := ctx.Err(); err != nil {
			fatal = err
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				fatal = err
				break
			}
		}
		res, err := v.Verify(ctx, edge)
		report.Results = append(report.Results, res)
		if err != nil {
			fatal = err
			break
		}
	}

	report.FinishedAt = v.now()
	if fatal != nil {
		report.Aborted = true
		report.AbortError = fatal.Error()
		v.logger.Error().Err(fatal).Int("processed", len(report.Results)).Msg("Link verification aborted")
		return report, fatal
	}

	counts := report.Counts()
	v.logger.Info().
		Int("visited", counts[StatusVisited]).
		Int("failed", counts[StatusFailed]).
		Int("skipped", len(report.Results)-counts[StatusVisited]-counts[StatusFailed]).
		Dur("elapsed", report.Duration()).
		Msg("Link verification finished")
	return report, nil
}

// Verify processes one edge and restores the baseline afterwards. The error
// is non-nil only when the baseline could not be restored.
func (v *Verifier) Verify(ctx context.Context, edge linkstore.Edge) (Result, error) {
	res := v.verify(ctx, edge)
	if err := v.restore(ctx); err != nil {
		if res.Error == "" {
			res.Error = err.Error()
		}
		return res, err
	}
	return res, nil
}

func (v *Verifier) verify(ctx context.Context, edge linkstore.Edge) Result {
	log := v.logger.With().Str("href", edge.Child).Str("parent", edge.Parent).Logger()
	res := Result{ChildHref: edge.Child, ParentHref: edge.Parent}

	if linkstore.IsPlaceholder(edge.Child) {
		log.Warn().Msg("Skipping placeholder link")
		res.Status, res.Reason = StatusSkippedPlaceholder, ReasonPlaceholder
		return res
	}
	log.Info().Msg("Testing child link")

	if edge.Parent != "" {
		parent, found, err := v.locator.Locate(ctx, v.page, edge.Parent, v.opts.TargetHint)
		if err != nil {
			return v.fail(log, res, err)
		}
		if !found {
			log.Warn().Msg("Parent dropdown not found or not interactable")
			res.Status, res.Reason = StatusSkippedNotInteractable, ReasonParentNotInteractable
			return res
		}
		log.Debug().Msg("Hovering over parent dropdown")
		if err := parent.Hover(ctx); err != nil {
			return v.fail(log, res, err)
		}
	}

	child, found, err := v.locator.Locate(ctx, v.page, edge.Child, v.opts.TargetHint)
	if err != nil {
		return v.fail(log, res, err)
	}
	if !found {
		log.Warn().Msg("Child link not interactable")
		res.Status, res.Reason = StatusSkippedNotInteractable, ReasonChildNotInteractable
		return res
	}

	if target, ok, err := child.Attribute(ctx, "target"); err != nil {
		return v.fail(log, res, err)
	} else if ok && target != "" && target != "_self" {
		if v.opts.Popups == PopupsSkip {
			log.Warn().Str("target", target).Msg("Link opens a new window, skipping")
			res.Status, res.Reason = StatusSkippedPopup, ReasonPopup
			return res
		}
		if err := child.RemoveAttribute(ctx, "target"); err != nil {
			return v.fail(log, res, err)
		}
	}

	start := v.now()
	res.Activated = true
	err = v.activate(ctx, child, edge.Child)
	if err == nil {
		err = v.settle(ctx)
	}
	elapsed := v.now().Sub(start).Milliseconds()
	res.ResponseTimeMS = &elapsed
	if err != nil {
		return v.fail(log, res, err)
	}
	log.Info().Int64("response_ms", elapsed).Msg("Link responded")

	title, err := v.page.Title(ctx)
	if err != nil {
		return v.fail(log, res, err)
	}
	if title == "" {
		return v.fail(log, res, errs.New(errs.EmptyTitle, "page title is empty"))
	}
	res.Title = title
	res.Status = StatusVisited
	log.Info().Str("title", title).Msg("Link verified")
	return res
}

// activate clicks el while waiting for the location to become href. Both
// must finish before it returns.
func (v *Verifier) activate(ctx context.Context, el browser.Element, href string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return v.page.WaitForLocation(gctx, href, v.opts.NavigationTimeout)
	})
	g.Go(func() error {
		if err := el.Click(gctx, v.opts.Activation); err != nil {
			return fmt.Errorf("click %s: %w", href, err)
		}
		return nil
	})
	return g.Wait()
}

func (v *Verifier) settle(ctx context.Context) error {
	if v.opts.SettleMode == SettleQuiescence {
		return v.page.Settle(ctx, v.opts.SettleDelay)
	}
	return browser.Sleep(ctx, v.opts.SettleDelay)
}

func (v *Verifier) fail(log zerolog.Logger, res Result, err error) Result {
	res.Status = StatusFailed
	res.Error = err.Error()
	switch {
	case errs.Is(err, errs.NavigationTimeout):
		res.Reason = ReasonNavigationTimeout
	case errs.Is(err, errs.EmptyTitle):
		res.Reason = ReasonEmptyTitle
	default:
		res.Reason = ReasonOther
	}
	log.Error().
		Err(err).
		Str("reason", string(res.Reason)).
		Str("category", string(errs.Categorize(err))).
		Msg("Error testing link")
	return res
}

// restore returns to the baseline when the page has left it.
func (v *Verifier) restore(ctx context.Context) error {
	if current, err := v.page.URL(ctx); err == nil && browser.SameLocation(current, v.baseline) {
		return nil
	}
	err := v.page.Navigate(ctx, v.baseline, browser.WaitDOMContentLoaded, v.opts.RestoreTimeout)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errs.Wrap(errs.RestorationFailure, "navigate back to "+v.baseline, err)
}
