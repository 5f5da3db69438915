package walker

import (
	"regexp"
	"strings"
	"time"

	"github.com/v0xg/astarcheck/internal/browser"
)

// Kind is what a step does.
type Kind string

const (
	KindNavigate Kind = "navigate"
	KindClick    Kind = "click"
	KindFill     Kind = "fill"
	KindSelect   Kind = "select"
	KindAssert   Kind = "assert"
)

// Step is one form interaction: wait for Expect, act on Target, wait for Then.
type Step struct {
	Name string
	Kind Kind
	// Target lists alternative selectors; the first interactable match is used.
	Target []browser.Selector
	// Value is typed by fill steps.
	Value string
	// Index is the option chosen by select steps.
	Index int
	// URL and TitlePattern drive navigate steps.
	URL          string
	TitlePattern *regexp.Regexp
	// Expect must be visible before the action, Then after it.
	Expect []browser.Selector
	Then   []browser.Selector
	// Optional steps are skipped when the target is not present.
	Optional bool
	// Checkpoint ends the flow successfully once the step passes.
	Checkpoint bool
	// Pause is an extra wait after the action.
	Pause time.Duration
	// Timeout overrides the walker's step timeout.
	Timeout time.Duration
	// Attempts and RetryWait retry a failing navigate step.
	Attempts  int
	RetryWait time.Duration
}

// Flow is a named, ordered list of steps.
type Flow struct {
	Name  string
	Steps []Step
}

// Navigate opens url and waits for a title matching pattern, if given.
func Navigate(name, url string, pattern *regexp.Regexp) Step {
	return Step{Name: name, Kind: KindNavigate, URL: url, TitlePattern: pattern}
}

// Click clicks the first interactable target.
func Click(name string, targets ...browser.Selector) Step {
	return Step{Name: name, Kind: KindClick, Target: targets}
}

// Fill types value into the first interactable target.
func Fill(name, value string, targets ...browser.Selector) Step {
	return Step{Name: name, Kind: KindFill, Value: value, Target: targets}
}

// Select picks option index in the first interactable target.
func Select(name string, index int, targets ...browser.Selector) Step {
	return Step{Name: name, Kind: KindSelect, Index: index, Target: targets}
}

// Assert waits until one of targets is visible.
func Assert(name string, targets ...browser.Selector) Step {
	return Step{Name: name, Kind: KindAssert, Target: targets}
}

// ExpectVisible sets the precondition.
func (s Step) ExpectVisible(sels ...browser.Selector) Step {
	s.Expect = sels
	return s
}

// ThenVisible sets the postcondition.
func (s Step) ThenVisible(sels ...browser.Selector) Step {
	s.Then = sels
	return s
}

// AsOptional marks the step as skippable.
func (s Step) AsOptional() Step {
	s.Optional = true
	return s
}

// AsCheckpoint marks the step as the flow's stopping point.
func (s Step) AsCheckpoint() Step {
	s.Checkpoint = true
	return s
}

// WithPause adds a wait after the action.
func (s Step) WithPause(d time.Duration) Step {
	s.Pause = d
	return s
}

// WithTimeout overrides the step timeout.
func (s Step) WithTimeout(d time.Duration) Step {
	s.Timeout = d
	return s
}

// WithRetry makes a navigate step try up to attempts times, waiting between.
func (s Step) WithRetry(attempts int, wait time.Duration) Step {
	s.Attempts = attempts
	s.RetryWait = wait
	return s
}

func describe(sels []browser.Selector) string {
	parts := make([]string, len(sels))
	for i, s := range sels {
		parts[i] = s.String()
	}
	return strings.Join(parts, " | ")
}
