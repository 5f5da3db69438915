// Package errs defines the coded errors shared by the link verifier, the
// link structure store and the form walkers.
package errs

import (
	"errors"
	"strings"
)

// Code classifies a failure.
type Code string

const (
	// NotInteractable means no matching element was visible and enabled.
	NotInteractable Code = "not_interactable"
	// NavigationTimeout means an activation never produced the expected location.
	NavigationTimeout Code = "navigation_timeout"
	// EmptyTitle means the page reached after activation had no title.
	EmptyTitle Code = "empty_title"
	// RestorationFailure means the baseline location could not be restored.
	RestorationFailure Code = "restoration_failure"
	// FetchFailure means the navigation markup could not be fetched.
	FetchFailure Code = "fetch_failure"
	// Unclassified covers anything else raised while processing one link.
	Unclassified Code = "unclassified"
	// Assertion means a walker pre or postcondition did not hold.
	Assertion Code = "assertion"
	// Navigation means a page could not be opened.
	Navigation Code = "navigation"
	// InvalidConfig means the configuration failed validation.
	InvalidConfig Code = "invalid_config"
)

// Error is a coded error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Err: cause}
}

// CodeOf returns the outermost code in the chain, defaulting to Unclassified.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) && coded.Code != "" {
		return coded.Code
	}
	return Unclassified
}

// Is reports whether err carries code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		var coded *Error
		if !errors.As(err, &coded) {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.Err
	}
	return false
}

// Category is a coarse bucket derived from the error text, attached to log lines.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryTimeout    Category = "timeout"
	CategoryConnection Category = "connection"
	CategoryUnknown    Category = "unknown"
)

// Categorize buckets err by the markers browsers put in their messages.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ERR_CONNECTION"):
		return CategoryConnection
	case strings.Contains(msg, "net::"):
		return CategoryNetwork
	case strings.Contains(strings.ToLower(msg), "timeout"), strings.Contains(msg, "deadline exceeded"):
		return CategoryTimeout
	}
	return CategoryUnknown
}
