package crawl

import (
	"time"
)

// Status is the outcome of verifying one edge.
type Status string

const (
	StatusVisited                Status = "visited"
	StatusSkippedNotInteractable Status = "skipped_not_interactable"
	StatusSkippedPlaceholder     Status = "skipped_placeholder"
	StatusSkippedPopup           Status = "skipped_popup"
	StatusFailed                 Status = "failed"
)

// Skipped reports whether the edge was passed over without activation.
func (s Status) Skipped() bool {
	switch s {
	case StatusSkippedNotInteractable, StatusSkippedPlaceholder, StatusSkippedPopup:
		return true
	}
	return false
}

// Reason qualifies a skipped or failed status.
type Reason string

const (
	ReasonParentNotInteractable Reason = "parent_not_interactable"
	ReasonChildNotInteractable  Reason = "child_not_interactable"
	ReasonPlaceholder           Reason = "placeholder"
	ReasonPopup                 Reason = "popup"
	ReasonNavigationTimeout     Reason = "navigation_timeout"
	ReasonEmptyTitle            Reason = "empty_title"
	ReasonOther                 Reason = "other"
)

// Result records what happened to one edge.
type Result struct {
	ChildHref  string `json:"child_href"`
	ParentHref string `json:"parent_href,omitempty"`
	Status     Status `json:"status"`
	Reason     Reason `json:"reason,omitempty"`
	// ResponseTimeMS covers activation plus settle. It is nil until
	// activation was attempted, so a genuine 0 still reaches the report.
	ResponseTimeMS *int64 `json:"response_time_ms,omitempty"`
	Title          string `json:"title,omitempty"`
	Error          string `json:"error,omitempty"`
	// Activated is true when the child was clicked.
	Activated bool `json:"activated"`
}

// Report is the outcome of one crawl run.
type Report struct {
	RunID      string    `json:"run_id"`
	Baseline   string    `json:"baseline"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Result  `json:"results"`
	Aborted    bool      `json:"aborted"`
	AbortError string    `json:"abort_error,omitempty"`
}

// Counts tallies results by status.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Failures returns the failed results in crawl order.
func (r *Report) Failures() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
