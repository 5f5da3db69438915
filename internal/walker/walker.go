// Package walker runs form flows: fixed sequences of steps that fill in a
// multi-page wizard and stop at a checkpoint such as an OTP prompt.
package walker

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/v0xg/astarcheck/internal/browser"
	"github.com/v0xg/astarcheck/internal/config"
	"github.com/v0xg/astarcheck/internal/errs"
	"github.com/v0xg/astarcheck/internal/locator"
)

// Event describes a completed or skipped step.
type Event struct {
	Flow    string
	Index   int
	Step    Step
	Page    browser.Page
	Element browser.Element // nil for navigate steps and skipped steps
	Skipped bool
}

// Observer is told about every step as it finishes.
type Observer func(ctx context.Context, ev Event)

// Options tunes the walker.
type Options struct {
	BaseURL           string
	StepTimeout       time.Duration
	PollInterval      time.Duration
	NavigationTimeout time.Duration
	Observer          Observer
}

// OptionsFromConfig builds walker options from the suite configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:           cfg.BaseURL,
		StepTimeout:       cfg.Walker.StepTimeout,
		PollInterval:      cfg.Walker.PollInterval,
		NavigationTimeout: cfg.DefaultTimeout,
	}
}

// Result summarises a run.
type Result struct {
	Flow              string
	Completed         int
	Skipped           []string
	ReachedCheckpoint bool
	Checkpoint        string
}

// Walker drives flows on one page.
type Walker struct {
	page    browser.Page
	locator *locator.Locator
	opts    Options
	logger  zerolog.Logger
}

// New returns a walker for page.
func New(page browser.Page, opts Options, logger zerolog.Logger) *Walker {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	return &Walker{page: page, locator: locator.New(logger), opts: opts, logger: logger}
}

// Page returns the page the walker drives.
func (w *Walker) Page() browser.Page { return w.page }

// Run executes the flow's steps in order. The first step whose condition
// does not hold ends the run with an assertion error naming the step.
func (w *Walker) Run(ctx context.Context, flow Flow) (*Result, error) {
	log := w.logger.With().Str("flow", flow.Name).Logger()
	res := &Result{Flow: flow.Name}
	log.Info().Int("steps", len(flow.Steps)).Msg("Starting flow")

	for i, step := range flow.Steps {
		el, skipped, err := w.runStep(ctx, step)
		if err != nil {
			err = errs.Wrap(errs.CodeOf(err), fmt.Sprintf("%s: step %d %q", flow.Name, i+1, step.Name), err)
			log.Error().Err(err).Int("step", i+1).Str("name", step.Name).Msg("Flow failed")
			return res, err
		}

		if skipped {
			res.Skipped = append(res.Skipped, step.Name)
			log.Warn().Int("step", i+1).Str("name", step.Name).Msg("Optional step not present, skipping")
		} else {
			res.Completed++
			log.Info().Int("step", i+1).Str("name", step.Name).Msg("Step completed")
		}
		if w.opts.Observer != nil {
			w.opts.Observer(ctx, Event{Flow: flow.Name, Index: i, Step: step, Page: w.page, Element: el, Skipped: skipped})
		}

		if step.Checkpoint && !skipped {
			res.ReachedCheckpoint = true
			res.Checkpoint = step.Name
			log.Info().Str("checkpoint", step.Name).Msg("Checkpoint reached, stopping flow")
			return res, nil
		}
	}

	log.Info().Int("completed", res.Completed).Msg("Flow finished")
	return res, nil
}

func (w *Walker) runStep(ctx context.Context, step Step) (browser.Element, bool, error) {
	if len(step.Expect) > 0 {
		if _, err := w.waitFor(ctx, step, step.Expect, "precondition"); err != nil {
			return nil, false, err
		}
	}

	var el browser.Element
	switch step.Kind {
	case KindNavigate:
		if err := w.navigateWithRetry(ctx, step); err != nil {
			return nil, false, err
		}

	case KindAssert:
		var err error
		if el, err = w.waitFor(ctx, step, step.Target, "target"); err != nil {
			return nil, false, err
		}

	case KindClick, KindFill, KindSelect:
		var err error
		if step.Optional {
			var found bool
			el, found, err = w.locator.First(ctx, w.page, step.Target...)
			if err != nil {
				return nil, false, err
			}
			if !found {
				return nil, true, nil
			}
		} else if el, err = w.waitFor(ctx, step, step.Target, "target"); err != nil {
			return nil, false, err
		}
		if err := act(ctx, el, step); err != nil {
			return el, false, fmt.Errorf("%s %s: %w", step.Kind, describe(step.Target), err)
		}

	default:
		return nil, false, fmt.Errorf("unknown step kind %q", step.Kind)
	}

	if step.Pause > 0 {
		if err := browser.Sleep(ctx, step.Pause); err != nil {
			return el, false, err
		}
	}

	if len(step.Then) > 0 {
		if _, err := w.waitFor(ctx, step, step.Then, "postcondition"); err != nil {
			return el, false, err
		}
	}
	return el, false, nil
}

func act(ctx context.Context, el browser.Element, step Step) error {
	switch step.Kind {
	case KindClick:
		return el.Click(ctx, browser.ClickStandard)
	case KindFill:
		return el.Fill(ctx, step.Value)
	case KindSelect:
		return el.SelectIndex(ctx, step.Index)
	}
	return nil
}

func (w *Walker) navigateWithRetry(ctx context.Context, step Step) error {
	attempts := max(step.Attempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = w.navigate(ctx, step); err == nil || ctx.Err() != nil {
			return err
		}
		if attempt < attempts {
			w.logger.Warn().Err(err).Int("attempt", attempt).Str("url", step.URL).Msg("Navigation failed, retrying")
			if serr := browser.Sleep(ctx, step.RetryWait); serr != nil {
				return serr
			}
		}
	}
	return err
}

func (w *Walker) navigate(ctx context.Context, step Step) error {
	target := step.URL
	if w.opts.BaseURL != "" {
		base, err := url.Parse(w.opts.BaseURL)
		if err != nil {
			return errs.Wrap(errs.Navigation, "bad base url", err)
		}
		ref, err := url.Parse(step.URL)
		if err != nil {
			return errs.Wrap(errs.Navigation, "bad url "+step.URL, err)
		}
		target = base.ResolveReference(ref).String()
	}

	if err := w.page.Navigate(ctx, target, browser.WaitLoad, w.opts.NavigationTimeout); err != nil {
		return err
	}
	if step.TitlePattern == nil {
		return nil
	}
	return w.poll(ctx, w.timeout(step), func() (bool, error) {
		title, err := w.page.Title(ctx)
		if err != nil {
			return false, err
		}
		return step.TitlePattern.MatchString(title), nil
	}, func(last error) error {
		title, _ := w.page.Title(ctx)
		return errs.Wrap(errs.Assertion, fmt.Sprintf("title %q does not match %s", title, step.TitlePattern), last)
	})
}

func (w *Walker) timeout(step Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return w.opts.StepTimeout
}

// waitFor polls until one of sels has an interactable match.
func (w *Walker) waitFor(ctx context.Context, step Step, sels []browser.Selector, what string) (browser.Element, error) {
	var el browser.Element
	d := w.timeout(step)
	err := w.poll(ctx, d, func() (bool, error) {
		found, ok, err := w.locator.First(ctx, w.page, sels...)
		if ok {
			el = found
		}
		return ok, err
	}, func(last error) error {
		return errs.Wrap(errs.Assertion,
			fmt.Sprintf("%s %s not visible within %s", what, describe(sels), d), last)
	})
	return el, err
}

// poll calls check until it reports true or d passes. Check errors are
// retried, since the page may be mid-navigation.
func (w *Walker) poll(ctx context.Context, d time.Duration, check func() (bool, error), timeout func(last error) error) error {
	deadline := time.Now().Add(d)
	var last error
	for {
		ok, err := check()
		if ok {
			return nil
		}
		last = err
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return timeout(last)
		}
		if err := browser.Sleep(ctx, w.opts.PollInterval); err != nil {
			return err
		}
	}
}
