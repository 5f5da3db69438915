// Package locator finds the first visible, enabled element for a link href,
// falling back through progressively looser selectors.
package locator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/v0xg/astarcheck/internal/browser"
)

// Strategy turns an href key and optional target hint into a selector. It
// reports false when it does not apply.
type Strategy struct {
	Name  string
	Build func(key, hint string) (browser.Selector, bool)
}

// ExactWithHint matches the href exactly and the target attribute to hint.
var ExactWithHint = Strategy{
	Name: "exact+hint",
	Build: func(key, hint string) (browser.Selector, bool) {
		if hint == "" {
			return browser.Selector{}, false
		}
		return browser.CSS(fmt.Sprintf(`a[href="%s"][target="%s"]`, quote(key), quote(hint))), true
	},
}

// Exact matches the href exactly.
var Exact = Strategy{
	Name: "exact",
	Build: func(key, _ string) (browser.Selector, bool) {
		return browser.CSS(fmt.Sprintf(`a[href="%s"]`, quote(key))), true
	},
}

// Suffix matches hrefs ending with key, covering relative keys against
// absolute markup.
var Suffix = Strategy{
	Name: "suffix",
	Build: func(key, _ string) (browser.Selector, bool) {
		return browser.CSS(fmt.Sprintf(`a[href$="%s"]`, quote(key))), true
	},
}

// DefaultStrategies is the fallback chain used when none is configured.
var DefaultStrategies = []Strategy{ExactWithHint, Exact, Suffix}

func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// Locator resolves elements within a page or page region.
type Locator struct {
	Strategies []Strategy
	Logger     zerolog.Logger
}

// New returns a locator using the default strategy chain.
func New(logger zerolog.Logger) *Locator {
	return &Locator{Strategies: DefaultStrategies, Logger: logger}
}

// Locate returns the first interactable element for key. Strategies are
// tried in order and the next one is used only when the previous matched
// nothing at all. found is false, with a nil error, when nothing usable
// exists; err is set only when the scope itself could not be queried.
func (l *Locator) Locate(ctx context.Context, scope browser.Scope, key, hint string) (el browser.Element, found bool, err error) {
	strategies := l.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}

	for _, s := range strategies {
		sel, ok := s.Build(key, hint)
		if !ok {
			continue
		}
		candidates, err := scope.Find(ctx, sel)
		if err != nil {
			return nil, false, fmt.Errorf("locate %s: %w", key, err)
		}
		if len(candidates) == 0 {
			l.Logger.Debug().Str("href", key).Str("strategy", s.Name).Msg("No matches, falling back")
			continue
		}
		el, ok := l.firstInteractable(ctx, candidates, key)
		return el, ok, nil
	}
	return nil, false, nil
}

// First returns the first interactable element matching any of sels, tried
// in order.
func (l *Locator) First(ctx context.Context, scope browser.Scope, sels ...browser.Selector) (browser.Element, bool, error) {
	for _, sel := range sels {
		candidates, err := scope.Find(ctx, sel)
		if err != nil {
			return nil, false, fmt.Errorf("locate %s: %w", sel, err)
		}
		if el, ok := l.firstInteractable(ctx, candidates, sel.String()); ok {
			return el, true, nil
		}
	}
	return nil, false, nil
}

func (l *Locator) firstInteractable(ctx context.Context, candidates []browser.Element, key string) (browser.Element, bool) {
	for i, el := range candidates {
		ok, err := Interactable(ctx, el)
		if err != nil {
			l.Logger.Debug().Err(err).Str("target", key).Int("candidate", i).Msg("Skipping candidate")
			continue
		}
		if ok {
			return el, true
		}
	}
	return nil, false
}

// Interactable scrolls el into view and reports whether it is visible and
// enabled.
func Interactable(ctx context.Context, el browser.Element) (bool, error) {
	if err := el.ScrollIntoView(ctx); err != nil {
		return false, err
	}
	visible, err := el.Visible(ctx)
	if err != nil || !visible {
		return false, err
	}
	return el.Enabled(ctx)
}
