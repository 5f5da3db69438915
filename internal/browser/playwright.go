package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/v0xg/astarcheck/internal/errs"
)

// PlaywrightBrowser drives Chromium through the Playwright driver.
type PlaywrightBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    Options
}

// LaunchPlaywright starts the Playwright driver and a Chromium instance.
// With a user data dir the browser runs on a persistent context.
func LaunchPlaywright(ctx context.Context, opts Options) (*PlaywrightBrowser, error) {
	opts.applyDefaults()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	viewport := &playwright.Size{Width: opts.Width, Height: opts.Height}
	var exe *string
	if opts.ChromePath != "" {
		exe = playwright.String(opts.ChromePath)
	}

	b := &PlaywrightBrowser{pw: pw, opts: opts}
	if opts.UserDataDir != "" {
		bctx, err := pw.Chromium.LaunchPersistentContext(opts.UserDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless:       playwright.Bool(opts.Headless),
			ExecutablePath: exe,
			Viewport:       viewport,
		})
		if err != nil {
			_ = pw.Stop()
			return nil, fmt.Errorf("launch chromium: %w", err)
		}
		b.context = bctx
		return b, nil
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless:       playwright.Bool(opts.Headless),
		ExecutablePath: exe,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{Viewport: viewport})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	b.browser = browser
	b.context = bctx
	return b, nil
}

func (b *PlaywrightBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	page.SetDefaultTimeout(float64(b.opts.DefaultTimeout.Milliseconds()))

	diag := b.opts.Diagnostics
	page.OnPageError(func(err error) {
		diag(Diagnostic{Kind: "pageerror", Message: err.Error(), URL: page.URL()})
	})
	page.OnConsole(func(msg playwright.ConsoleMessage) {
		if msg.Type() == "error" {
			diag(Diagnostic{Kind: "console", Message: msg.Text(), URL: page.URL()})
		}
	})

	return &pwPage{page: page, opts: b.opts}, nil
}

func (b *PlaywrightBrowser) Close() error {
	var errList []error
	if err := b.context.Close(); err != nil {
		errList = append(errList, err)
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	if err := b.pw.Stop(); err != nil {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}

type pwPage struct {
	page playwright.Page
	opts Options
}

// ms converts a duration to the float milliseconds Playwright expects,
// bounded by the context deadline.
func ms(ctx context.Context, d time.Duration) *float64 {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d || d <= 0 {
			d = left
		}
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return playwright.Float(float64(d.Milliseconds()))
}

// Navigate goes to url and waits for the load state named by until.
// Playwright's timeout error becomes NavigationTimeout.
func (p *pwPage) Navigate(ctx context.Context, url string, until WaitUntil, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.opts.DefaultTimeout
	}
	state := playwright.WaitUntilStateLoad
	switch until {
	case WaitDOMContentLoaded:
		state = playwright.WaitUntilStateDomcontentloaded
	case WaitNetworkIdle:
		state = playwright.WaitUntilStateNetworkidle
	}

	// Navigate and wait for the load state
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: state,
		Timeout:   ms(ctx, timeout),
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return errs.Wrap(errs.NavigationTimeout, fmt.Sprintf("navigate to %s exceeded %s", url, timeout), err)
	}
	return errs.Wrap(errs.Navigation, fmt.Sprintf("navigate to %s", url), err)
}

func (p *pwPage) WaitForLocation(ctx context.Context, target string, timeout time.Duration) error {
	return PollLocation(ctx, p.URL, target, timeout)
}

// URL returns the main frame's URL.
func (p *pwPage) URL(ctx context.Context) (string, error) {
	return p.page.URL(), ctx.Err()
}

func (p *pwPage) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Title()
}

// Settle waits for network idle, bounded by max. Timing out is not an error.
func (p *pwPage) Settle(ctx context.Context, max time.Duration) error {
	err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: ms(ctx, max),
	})
	if err != nil && !errors.Is(err, playwright.ErrTimeout) {
		return err
	}
	return ctx.Err()
}

// Screenshot captures a PNG of the viewport or, when full is set, of the
// whole page.
func (p *pwPage) Screenshot(ctx context.Context, full bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.page.Screenshot(playwright.PageScreenshotOptions{
		Type:     playwright.ScreenshotTypePng,
		FullPage: playwright.Bool(full),
	})
}

func (p *pwPage) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Content()
}

func (p *pwPage) Close() error {
	return p.page.Close()
}

func (p *pwPage) Find(ctx context.Context, sel Selector) ([]Element, error) {
	return findLocators(ctx, p.page.Locator(":root"), sel, p.opts)
}

// findLocators maps sel onto Playwright's getBy* locators under root and
// expands the result into one element per match.
func findLocators(ctx context.Context, root playwright.Locator, sel Selector, opts Options) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Roles match on the accessible name, everything else on Value
	var text any = sel.Value
	if sel.Kind == KindRole {
		text = sel.Name
	}
	if sel.Regex {
		re, err := regexp.Compile("(?i)" + fmt.Sprint(text))
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", sel, err)
		}
		text = re
	}
	exact := playwright.Bool(sel.Exact)

	var loc playwright.Locator
	switch sel.Kind {
	case KindRole:
		ro := playwright.LocatorGetByRoleOptions{Exact: exact}
		if sel.Name != "" {
			ro.Name = text
		}
		loc = root.GetByRole(playwright.AriaRole(sel.Value), ro)
	case KindText:
		loc = root.GetByText(text, playwright.LocatorGetByTextOptions{Exact: exact})
	case KindPlaceholder:
		loc = root.GetByPlaceholder(text, playwright.LocatorGetByPlaceholderOptions{Exact: exact})
	case KindLabel:
		loc = root.GetByLabel(text, playwright.LocatorGetByLabelOptions{Exact: exact})
	default:
		loc = root.Locator(sel.Value)
	}

	all, err := loc.All()
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", sel, err)
	}
	out := make([]Element, 0, len(all))
	for _, l := range all {
		out = append(out, &pwElement{loc: l, opts: opts})
	}
	return out, nil
}

type pwElement struct {
	loc  playwright.Locator
	opts Options
}

func (e *pwElement) timeout(ctx context.Context) *float64 {
	return ms(ctx, e.opts.DefaultTimeout)
}

func (e *pwElement) Find(ctx context.Context, sel Selector) ([]Element, error) {
	return findLocators(ctx, e.loc, sel, e.opts)
}

func (e *pwElement) ScrollIntoView(ctx context.Context) error {
	return e.loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: e.timeout(ctx)})
}

func (e *pwElement) Visible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return e.loc.IsVisible()
}

func (e *pwElement) Enabled(ctx context.Context) (bool, error) {
	return e.loc.IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: e.timeout(ctx)})
}

// Attribute reads the attribute in the page; a null result means absent.
func (e *pwElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.loc.Evaluate(`(el, name) => el.getAttribute(name)`, name, playwright.LocatorEvaluateOptions{Timeout: e.timeout(ctx)})
	if err != nil {
		return "", false, err
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (e *pwElement) RemoveAttribute(ctx context.Context, name string) error {
	_, err := e.loc.Evaluate(`(el, name) => el.removeAttribute(name)`, name, playwright.LocatorEvaluateOptions{Timeout: e.timeout(ctx)})
	return err
}

func (e *pwElement) Hover(ctx context.Context) error {
	return e.loc.Hover(playwright.LocatorHoverOptions{Timeout: e.timeout(ctx)})
}

// Click activates the element. Force mode skips Playwright's
// actionability checks.
func (e *pwElement) Click(ctx context.Context, mode ClickMode) error {
	switch mode {
	case ClickScript:
		_, err := e.loc.Evaluate(`el => el.click()`, nil, playwright.LocatorEvaluateOptions{Timeout: e.timeout(ctx)})
		return err
	case ClickForce:
		return e.loc.Click(playwright.LocatorClickOptions{Force: playwright.Bool(true), Timeout: e.timeout(ctx)})
	}
	return e.loc.Click(playwright.LocatorClickOptions{Timeout: e.timeout(ctx)})
}

func (e *pwElement) Fill(ctx context.Context, value string) error {
	return e.loc.Fill(value, playwright.LocatorFillOptions{Timeout: e.timeout(ctx)})
}

func (e *pwElement) SelectIndex(ctx context.Context, index int) error {
	_, err := e.loc.SelectOption(playwright.SelectOptionValues{Indexes: &[]int{index}},
		playwright.LocatorSelectOptionOptions{Timeout: e.timeout(ctx)})
	return err
}

// Center returns the middle of the bounding box.
func (e *pwElement) Center(ctx context.Context) (float64, float64, error) {
	box, err := e.loc.BoundingBox(playwright.LocatorBoundingBoxOptions{Timeout: e.timeout(ctx)})
	if err != nil {
		return 0, 0, err
	}
	if box == nil {
		return 0, 0, errs.New(errs.NotInteractable, "element has no bounding box")
	}
	return box.X + box.Width/2, box.Y + box.Height/2, nil
}
