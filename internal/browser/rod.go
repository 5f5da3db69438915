package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/v0xg/astarcheck/internal/errs"
)

// RodBrowser drives Chromium over CDP with go-rod.
type RodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     Options
	logger   zerolog.Logger
}

// LaunchRod starts a local Chromium and connects to it.
func LaunchRod(ctx context.Context, opts Options) (*RodBrowser, error) {
	opts.applyDefaults()

	bin := opts.ChromePath
	if bin == "" {
		bin, _ = launcher.LookPath()
	}
	l := launcher.New().Bin(bin).Headless(opts.Headless)
	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}
	l = l.Set("window-size", fmt.Sprintf("%d,%d", opts.Width, opts.Height))

	u, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}

	return &RodBrowser{
		browser:  b,
		launcher: l,
		opts:     opts,
		logger:   opts.Logger.With().Str("driver", "rod").Logger(),
	}, nil
}

// NewPage opens a blank tab sized to the configured viewport and starts
// forwarding its diagnostics.
func (b *RodBrowser) NewPage(ctx context.Context) (Page, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.Width,
		Height:            b.opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	rp := &rodPage{page: page, opts: b.opts}
	go rp.forwardDiagnostics()
	return rp, nil
}

// Close shuts the browser down and removes the launcher's temp profile.
func (b *RodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	return err
}

type rodPage struct {
	page *rod.Page
	opts Options
}

// forwardDiagnostics reports uncaught exceptions and console errors to
// opts.Diagnostics for the life of the page.
func (p *rodPage) forwardDiagnostics() {
	p.page.EachEvent(
		func(e *proto.RuntimeExceptionThrown) {
			msg := e.ExceptionDetails.Text
			if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
				msg = e.ExceptionDetails.Exception.Description
			}
			p.opts.Diagnostics(Diagnostic{Kind: "pageerror", Message: msg, URL: e.ExceptionDetails.URL})
		},
		func(e *proto.RuntimeConsoleAPICalled) {
			if e.Type != proto.RuntimeConsoleAPICalledTypeError {
				return
			}
			// Join the console arguments the way DevTools prints them
			msg := ""
			for i, arg := range e.Args {
				if i > 0 {
					msg += " "
				}
				if arg.Description != "" {
					msg += arg.Description
				} else {
					msg += arg.Value.String()
				}
			}
			p.opts.Diagnostics(Diagnostic{Kind: "console", Message: msg})
		},
	)()
}

// Navigate loads url and blocks until the lifecycle event named by until
// fires. Running out of time is a NavigationTimeout.
func (p *rodPage) Navigate(ctx context.Context, url string, until WaitUntil, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.opts.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	page := p.page.Context(ctx)

	// Register the waiter before navigating so the event cannot be missed
	var wait func()
	switch until {
	case WaitDOMContentLoaded:
		wait = page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	case WaitNetworkIdle:
		wait = page.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	default:
		wait = page.WaitNavigation(proto.PageLifecycleEventNameLoad)
	}

	if err := page.Navigate(url); err != nil {
		return navigationError(url, timeout, err)
	}
	wait()
	if ctx.Err() != nil {
		return navigationError(url, timeout, ctx.Err())
	}
	return nil
}

func navigationError(url string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.NavigationTimeout, fmt.Sprintf("navigate to %s exceeded %s", url, timeout), err)
	}
	return errs.Wrap(errs.Navigation, fmt.Sprintf("navigate to %s", url), err)
}

// WaitForLocation polls the location until it matches target.
func (p *rodPage) WaitForLocation(ctx context.Context, target string, timeout time.Duration) error {
	return PollLocation(ctx, p.URL, target, timeout)
}

// URL reads window.location so client-side route changes are seen.
func (p *rodPage) URL(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => window.location.href`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// Title returns document.title.
func (p *rodPage) Title(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.title`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// Settle waits for network idle, giving up silently after max since pages
// with persistent connections never go idle.
func (p *rodPage) Settle(ctx context.Context, max time.Duration) error {
	// Wait for network idle, bounded by max
	p.page.Context(ctx).Timeout(max).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	return ctx.Err()
}

// Screenshot captures a PNG. A full capture stitches the page beyond the
// viewport, as the failure handler needs.
func (p *rodPage) Screenshot(ctx context.Context, full bool) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(full, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// HTML returns the serialized document.
func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

// Find resolves sel against the whole document. CSS goes straight to CDP,
// the other kinds run the in-page resolver.
func (p *rodPage) Find(ctx context.Context, sel Selector) ([]Element, error) {
	page := p.page.Context(ctx)
	var (
		els rod.Elements
		err error
	)
	if sel.Kind == KindCSS {
		els, err = page.Elements(sel.Value)
	} else {
		els, err = page.ElementsByJS(queryEval(sel))
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", sel, err)
	}
	return wrapRodElements(els, p.opts), nil
}

type rodElement struct {
	el   *rod.Element
	opts Options
}

func wrapRodElements(els rod.Elements, opts Options) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el, opts: opts})
	}
	return out
}

// Find resolves sel within the element's subtree.
func (e *rodElement) Find(ctx context.Context, sel Selector) ([]Element, error) {
	el := e.el.Context(ctx)
	var (
		els rod.Elements
		err error
	)
	if sel.Kind == KindCSS {
		els, err = el.Elements(sel.Value)
	} else {
		// Run the resolver with this bound to the element
		els, err = el.Page().Context(ctx).ElementsByJS(queryEval(sel).This(el.Object))
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", sel, err)
	}
	return wrapRodElements(els, e.opts), nil
}

func (e *rodElement) ScrollIntoView(ctx context.Context) error {
	return e.el.Context(ctx).ScrollIntoView()
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}

// Enabled treats aria-disabled="true" like the disabled property.
func (e *rodElement) Enabled(ctx context.Context) (bool, error) {
	res, err := e.el.Context(ctx).Eval(`() => !this.disabled && this.getAttribute('aria-disabled') !== 'true'`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// Attribute reports whether name is present and its value.
func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) RemoveAttribute(ctx context.Context, name string) error {
	_, err := e.el.Context(ctx).Eval(`(name) => this.removeAttribute(name)`, name)
	return err
}

func (e *rodElement) Hover(ctx context.Context) error {
	return e.el.Context(ctx).Hover()
}

// Click activates the element. Script mode calls click() in the page,
// force mode sends a mouse click at the centre without actionability checks.
func (e *rodElement) Click(ctx context.Context, mode ClickMode) error {
	el := e.el.Context(ctx)
	switch mode {
	case ClickScript:
		_, err := el.Eval(`() => this.click()`)
		return err
	case ClickForce:
		x, y, err := e.Center(ctx)
		if err != nil {
			return err
		}
		// Move then click at the element centre
		mouse := el.Page().Context(ctx).Mouse
		if err := mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
			return err
		}
		return mouse.Click(proto.InputMouseButtonLeft, 1)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Fill clears the field and types value.
func (e *rodElement) Fill(ctx context.Context, value string) error {
	el := e.el.Context(ctx)
	if _, err := el.Eval(`() => { this.value = ''; this.dispatchEvent(new Event('input', {bubbles: true})) }`); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	// Type value
	return el.Input(value)
}

// SelectIndex picks the option at index and fires input and change.
func (e *rodElement) SelectIndex(ctx context.Context, index int) error {
	res, err := e.el.Context(ctx).Eval(`(i) => {
		if (!this.options || i < 0 || i >= this.options.length) return false;
		this.selectedIndex = i;
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	}`, index)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		return fmt.Errorf("select has no option at index %d", index)
	}
	return nil
}

// Center averages the first content quad.
func (e *rodElement) Center(ctx context.Context) (float64, float64, error) {
	box, err := e.el.Context(ctx).Shape()
	if err != nil {
		return 0, 0, err
	}
	if len(box.Quads) == 0 {
		return 0, 0, errs.New(errs.NotInteractable, "element has no shape")
	}
	quad := box.Quads[0]
	x := (quad[0] + quad[2] + quad[4] + quad[6]) / 4
	y := (quad[1] + quad[3] + quad[5] + quad[7]) / 4
	return x, y, nil
}

func queryEval(sel Selector) *rod.EvalOptions {
	return rod.Eval(queryJS, string(sel.Kind), sel.Value, sel.Name, sel.Exact, sel.Regex)
}
