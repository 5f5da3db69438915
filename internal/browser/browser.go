// Package browser is the automation surface the suite drives: a small set of
// interfaces over a real browser, with rod and playwright implementations.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// WaitUntil names the load milestone a navigation waits for.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// ClickMode selects how an element is activated.
type ClickMode int

const (
	// ClickStandard waits for the element to be interactable before clicking.
	ClickStandard ClickMode = iota
	// ClickForce dispatches a mouse click at the element's centre without
	// occlusion or interactability checks.
	ClickForce
	// ClickScript calls element.click() in the page.
	ClickScript
)

// ParseClickMode maps config names to a ClickMode.
func ParseClickMode(s string) (ClickMode, error) {
	switch strings.ToLower(s) {
	case "", "force":
		return ClickForce, nil
	case "script":
		return ClickScript, nil
	case "standard":
		return ClickStandard, nil
	}
	return ClickForce, fmt.Errorf("unknown activation mode %q", s)
}

func (m ClickMode) String() string {
	switch m {
	case ClickForce:
		return "force"
	case ClickScript:
		return "script"
	}
	return "standard"
}

// SelectorKind is how a Selector matches elements.
type SelectorKind string

const (
	KindCSS         SelectorKind = "css"
	KindRole        SelectorKind = "role"
	KindText        SelectorKind = "text"
	KindPlaceholder SelectorKind = "placeholder"
	KindLabel       SelectorKind = "label"
)

// Selector identifies elements. Text matching is case-insensitive substring
// unless Exact is set; Regex treats the matched string (Name for roles,
// Value otherwise) as a case-insensitive pattern.
type Selector struct {
	Kind  SelectorKind
	Value string
	Name  string // accessible name, role kind only
	Exact bool
	Regex bool
}

// CSS selects by CSS selector.
func CSS(selector string) Selector { return Selector{Kind: KindCSS, Value: selector} }

// Role selects by ARIA role and accessible name.
func Role(role, name string) Selector { return Selector{Kind: KindRole, Value: role, Name: name} }

// RoleExact selects by ARIA role and an exactly matching accessible name.
func RoleExact(role, name string) Selector {
	return Selector{Kind: KindRole, Value: role, Name: name, Exact: true}
}

// RolePattern selects by ARIA role and an accessible name matching pattern.
func RolePattern(role, pattern string) Selector {
	return Selector{Kind: KindRole, Value: role, Name: pattern, Regex: true}
}

// Text selects elements whose own text contains text.
func Text(text string) Selector { return Selector{Kind: KindText, Value: text} }

// TextPattern selects elements whose own text matches the pattern.
func TextPattern(pattern string) Selector {
	return Selector{Kind: KindText, Value: pattern, Regex: true}
}

// Placeholder selects inputs by placeholder text.
func Placeholder(text string) Selector { return Selector{Kind: KindPlaceholder, Value: text} }

// Label selects form controls by their label text.
func Label(text string) Selector { return Selector{Kind: KindLabel, Value: text} }

func (s Selector) String() string {
	switch s.Kind {
	case KindCSS:
		return s.Value
	case KindRole:
		switch {
		case s.Name == "":
			return "role=" + s.Value
		case s.Regex:
			return "role=" + s.Value + "[name=/" + s.Name + "/i]"
		}
		return fmt.Sprintf("role=%s[name=%q]", s.Value, s.Name)
	case KindText:
		if s.Regex {
			return "text=/" + s.Value + "/i"
		}
		return fmt.Sprintf("text=%q", s.Value)
	}
	return fmt.Sprintf("%s=%q", s.Kind, s.Value)
}

// Scope is a page or an element that can be searched.
type Scope interface {
	// Find returns every element matching sel in DOM order.
	Find(ctx context.Context, sel Selector) ([]Element, error)
}

// Element is a handle to one DOM element.
type Element interface {
	Scope
	ScrollIntoView(ctx context.Context) error
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	RemoveAttribute(ctx context.Context, name string) error
	Hover(ctx context.Context) error
	Click(ctx context.Context, mode ClickMode) error
	Fill(ctx context.Context, value string) error
	SelectIndex(ctx context.Context, index int) error
	// Center returns the element's centre in viewport coordinates.
	Center(ctx context.Context) (x, y float64, err error)
}

// Page is one browsing context.
type Page interface {
	Scope
	Navigate(ctx context.Context, url string, until WaitUntil, timeout time.Duration) error
	// WaitForLocation blocks until the current location matches target
	// (see SameLocation) or timeout elapses.
	WaitForLocation(ctx context.Context, target string, timeout time.Duration) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// Settle waits for the page to go quiet, bounded by max.
	Settle(ctx context.Context, max time.Duration) error
	// Screenshot captures the viewport, or the whole scrollable page when
	// full is set.
	Screenshot(ctx context.Context, full bool) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Browser opens pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Diagnostic is a page error or console error reported by the browser.
type Diagnostic struct {
	Kind    string // "pageerror" or "console"
	Message string
	URL     string
}

// Options configures a driver.
type Options struct {
	Driver         string
	Headless       bool
	Width          int
	Height         int
	ChromePath     string
	UserDataDir    string
	DefaultTimeout time.Duration
	Logger         zerolog.Logger
	// Diagnostics receives page errors and console errors; nil logs them.
	Diagnostics func(Diagnostic)
}

func (o *Options) applyDefaults() {
	if o.Width == 0 {
		o.Width = 1280
	}
	if o.Height == 0 {
		o.Height = 720
	}
	if o.DefaultTimeout == 0 {
		o.DefaultTimeout = 30 * time.Second
	}
	if o.Diagnostics == nil {
		logger := o.Logger
		o.Diagnostics = func(d Diagnostic) {
			logger.Error().Str("kind", d.Kind).Str("url", d.URL).Msg(d.Message)
		}
	}
}

// Launch starts the browser named by opts.Driver.
func Launch(ctx context.Context, opts Options) (Browser, error) {
	opts.applyDefaults()
	switch strings.ToLower(opts.Driver) {
	case "", "rod":
		b, err := LaunchRod(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "playwright":
		b, err := LaunchPlaywright(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown browser driver %q", opts.Driver)
}
