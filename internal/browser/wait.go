package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/v0xg/astarcheck/internal/errs"
)

// PollInterval is how often WaitForLocation re-reads the current URL.
var PollInterval = 100 * time.Millisecond

// SameLocation reports whether current is the location target points at.
// A relative target is resolved against current. Scheme and host compare
// case-insensitively, a trailing slash on the path is ignored, and the
// fragment only matters when target has one.
func SameLocation(current, target string) bool {
	cur, err := url.Parse(strings.TrimSpace(current))
	if err != nil {
		return false
	}
	want, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return false
	}
	want = cur.ResolveReference(want)

	if !strings.EqualFold(cur.Scheme, want.Scheme) || !strings.EqualFold(cur.Host, want.Host) {
		return false
	}
	if trimSlash(cur.EscapedPath()) != trimSlash(want.EscapedPath()) {
		return false
	}
	if cur.RawQuery != want.RawQuery {
		return false
	}
	if want.Fragment != "" && cur.Fragment != want.Fragment {
		return false
	}
	return true
}

func trimSlash(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

// PollLocation calls current until its result matches target or timeout
// elapses. Read errors are retried until the deadline.
func PollLocation(ctx context.Context, current func(context.Context) (string, error), target string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	last := ""
	for {
		if u, err := current(ctx); err == nil {
			last = u
			if SameLocation(u, target) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.NavigationTimeout,
				fmt.Sprintf("location did not become %s within %s (last %s)", target, timeout, last), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
