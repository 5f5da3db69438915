package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/v0xg/astarcheck/internal/browser"
	"github.com/v0xg/astarcheck/internal/browser/browsertest"
	"github.com/v0xg/astarcheck/internal/config"
	"github.com/v0xg/astarcheck/internal/errs"
	"github.com/v0xg/astarcheck/internal/linkstore"
)

func TestMain(m *testing.M) {
	browser.PollInterval = 2 * time.Millisecond
	goleak.VerifyTestMain(m)
}

const baseline = "https://site.test/"

const homeHTML = `<html><head><title>Astar Financial</title></head><body>
<nav><ul>
  <li class="nav-item dropdown">
    <a class="nav-link dropdown-toggle" href="/products">Products</a>
    <ul class="dropdown-menu" data-reveal-by="/products">
      <li><a class="dropdown-item" href="/products/loans">Loans</a></li>
    </ul>
  </li>
  <li><a href="/about">About</a></li>
  <li><a href="/stall" data-stall>Stall</a></li>
  <li><a href="/moved" data-navigate="/elsewhere">Moved</a></li>
  <li><a href="/untitled">Untitled</a></li>
  <li><a href="/blog" target="_blank">Blog</a></li>
  <li><a href="/boom" data-click-error="socket hang up">Boom</a></li>
  <li><a href="/off" disabled>Off</a></li>
</ul></nav>
</body></html>`

func titled(title string) string {
	return "<html><head><title>" + title + "</title></head><body><h1>" + title + "</h1></body></html>"
}

func newSite() *browsertest.Browser {
	return browsertest.New(baseline, map[string]string{
		"/":               homeHTML,
		"/about":          titled("About Us"),
		"/products/loans": titled("Loans"),
		"/elsewhere":      titled("Elsewhere"),
		"/untitled":       "<html><head></head><body>no title</body></html>",
		"/blog":           titled("Blog"),
	})
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.NavigationTimeout = 40 * time.Millisecond
	opts.RestoreTimeout = time.Second
	opts.SettleDelay = 0
	return opts
}

func setup(t *testing.T, opts Options) (*Verifier, *browsertest.Page) {
	t.Helper()
	page := newSite().Open()
	require.NoError(t, page.Navigate(context.Background(), baseline, browser.WaitLoad, time.Second))
	return NewVerifier(page, baseline, opts, zerolog.Nop()), page
}

func currentURL(t *testing.T, p *browsertest.Page) string {
	t.Helper()
	u, err := p.URL(context.Background())
	require.NoError(t, err)
	return u
}

func TestDirectLinkVerified(t *testing.T) {
	v, page := setup(t, testOptions())

	report, err := v.Run(context.Background(), []linkstore.Edge{{Child: "/about"}})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	assert.Equal(t, StatusVisited, res.Status)
	assert.Equal(t, "About Us", res.Title)
	require.NotNil(t, res.ResponseTimeMS)
	assert.GreaterOrEqual(t, *res.ResponseTimeMS, int64(0))
	assert.True(t, res.Activated)
	assert.Equal(t, baseline, currentURL(t, page), "baseline restored")
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.Aborted)
}

func TestParentMissingSkipsAndContinues(t *testing.T) {
	v, _ := setup(t, testOptions())

	report, err := v.Run(context.Background(), []linkstore.Edge{
		{Child: "/hidden-page", Parent: "/missing-products"},
		{Child: "/about"},
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	assert.Equal(t, StatusSkippedNotInteractable, report.Results[0].Status)
	assert.Equal(t, ReasonParentNotInteractable, report.Results[0].Reason)
	assert.False(t, report.Results[0].Activated)
	assert.Nil(t, report.Results[0].ResponseTimeMS, "no timing without activation")
	assert.Equal(t, StatusVisited, report.Results[1].Status)
}

func TestZeroResponseTimeIsReported(t *testing.T) {
	v, _ := setup(t, testOptions())
	frozen := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	v.now = func() time.Time { return frozen }

	report, err := v.Run(context.Background(), []linkstore.Edge{
		{Child: "/about"},
		{Child: "/off"},
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	visited := report.Results[0]
	require.NotNil(t, visited.ResponseTimeMS)
	assert.Equal(t, int64(0), *visited.ResponseTimeMS)
	data, err := json.Marshal(visited)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"response_time_ms":0`)

	data, err = json.Marshal(report.Results[1])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "response_time_ms")
}

func TestPlaceholderExcludedByStore(t *testing.T) {
	st := linkstore.New(linkstore.PolicyLast)
	require.NoError(t, st.UnmarshalJSON([]byte(`{"#": "/products"}`)))

	v, page := setup(t, testOptions())
	report, err := v.Run(context.Background(), st.Edges())
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Empty(t, page.Finds())
}

func TestNavigationTimeoutThenRestore(t *testing.T) {
	v, page := setup(t, testOptions())

	report, err := v.Run(context.Background(), []linkstore.Edge{{Child: "/moved"}, {Child: "/stall"}})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	for _, res := range report.Results {
		assert.Equal(t, StatusFailed, res.Status, res.ChildHref)
		assert.Equal(t, ReasonNavigationTimeout, res.Reason, res.ChildHref)
		assert.True(t, res.Activated)
	}

	visits := page.Visits()
	assert.Equal(t, []string{
		baseline,
		"https://site.test/elsewhere",
		baseline,
	}, visits, "restore only navigates when the page left the baseline")
}

func TestNestedLinkRevealedByHover(t *testing.T) {
	v, page := setup(t, testOptions())

	report, err := v.Run(context.Background(), []linkstore.Edge{{Child: "/products/loans", Parent: "/products"}})
	require.NoError(t, err)
	require.Equal(t, StatusVisited, report.Results[0].Status)
	assert.Equal(t, "Loans", report.Results[0].Title)
	assert.Equal(t, []string{"hover /products", "click /products/loans"}, page.Actions())
}

func TestChildNotInteractable(t *testing.T) {
	v, _ := setup(t, testOptions())

	report, err := v.Run(context.Background(), []linkstore.Edge{{Child: "/off"}, {Child: "/nowhere"}})
	require.NoError(t, err)
	for _, res := range report.Results {
		assert.Equal(t, StatusSkippedNotInteractable, res.Status)
		assert.Equal(t, ReasonChildNotInteractable, res.Reason)
	}
}

func TestPlaceholderNeverLocated(t *testing.T) {
	v, page := setup(t, testOptions())

	report, err := v.Run(context.Background(), []linkstore.Edge{{Child: "#", Parent: "/products"}, {Child: " # "}})
	require.NoError(t, err)
	for _, res := range report.Results {
		assert.Equal(t, StatusSkippedPlaceholder, res.Status)
		assert.Equal(t, ReasonPlaceholder, res.Reason)
	}
	assert.Empty(t, page.Finds())
	assert.Empty(t, page.Actions())
}

func TestEmptyTitleFails(t *testing.T) {
	v, page := setup(t, testOptions())

	report, err := v.Run(context.Background(), []linkstore.Edge{{Child: "/untitled"}})
	require.NoError(t, err)
	res := report.Results[0]
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ReasonEmptyTitle, res.Reason)
	assert.Equal(t, baseline, currentURL(t, page))
}

func TestUnexpectedClickErrorIsIsolated(t *testing.T) {
	v, _ := setup(t, testOptions())

	report, err := v.Run(context.Background(), []linkstore.Edge{{Child: "/boom"}, {Child: "/about"}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, report.Results[0].Status)
	assert.Equal(t, ReasonOther, report.Results[0].Reason)
	assert.Contains(t, report.Results[0].Error, "socket hang up")
	assert.Equal(t, StatusVisited, report.Results[1].Status)
	assert.Len(t, report.Failures(), 1)
}

func TestPopupPolicies(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		v, page := setup(t, testOptions())
		report, err := v.Run(context.Background(), []linkstore.Edge{{Child: "/blog"}})
		require.NoError(t, err)
		assert.Equal(t, StatusVisited, report.Results[0].Status)
		assert.Equal(t, "Blog", report.Results[0].Title)
		assert.Empty(t, page.Popups())
	})
	t.Run("skip", func(t *testing.T) {
		opts := testOptions()
		opts.Popups = PopupsSkip
		v, page := setup(t, opts)
		report, err := v.Run(context.Background(), []linkstore.Edge{{Child: "/blog"}})
		require.NoError(t, err)
		assert.Equal(t, StatusSkippedPopup, report.Results[0].Status)
		assert.Equal(t, ReasonPopup, report.Results[0].Reason)
		assert.NotContains(t, page.Actions(), "click /blog")
	})
}

func TestRestorationFailureAborts(t *testing.T) {
	v, page := setup(t, testOptions())
	page.NavigateErr = func(url string) error {
		return errors.New("net::ERR_CONNECTION_RESET")
	}

	report, err := v.Run(context.Background(), []linkstore.Edge{
		{Child: "/about"},
		{Child: "/products/loans", Parent: "/products"},
		{Child: "/blog"},
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RestorationFailure))
	assert.Equal(t, errs.CategoryConnection, errs.Categorize(err))

	require.Len(t, report.Results, 1, "no edge is processed after a failed restore")
	assert.Equal(t, StatusVisited, report.Results[0].Status)
	assert.True(t, report.Aborted)
	assert.Contains(t, report.AbortError, "navigate back to")
	assert.NotContains(t, strings.Join(page.Actions(), ","), "hover /products")
}

func TestSettleQuiescence(t *testing.T) {
	opts := testOptions()
	opts.SettleMode = SettleQuiescence
	opts.SettleDelay = 10 * time.Millisecond
	v, _ := setup(t, opts)

	report, err := v.Run(context.Background(), []linkstore.Edge{{Child: "/about"}})
	require.NoError(t, err)
	assert.Equal(t, StatusVisited, report.Results[0].Status)
}

func TestCancelledContextAborts(t *testing.T) {
	v, _ := setup(t, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := v.Run(ctx, []linkstore.Edge{{Child: "/about"}})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Aborted)
	assert.Empty(t, report.Results)
}

func TestRateLimitBoundsRun(t *testing.T) {
	opts := testOptions()
	opts.RateLimit = 0.001
	v, _ := setup(t, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	report, err := v.Run(ctx, []linkstore.Edge{{Child: "/about"}, {Child: "/about"}})
	require.Error(t, err)
	assert.True(t, report.Aborted)
	require.Len(t, report.Results, 1, "first edge uses the burst, second would wait past the deadline")
	assert.Equal(t, StatusVisited, report.Results[0].Status)
}

// Every edge yields exactly one result, in input order, and the status
// depends only on the edge.
func TestResultsFollowEdgeOrder(t *testing.T) {
	want := map[string]Status{
		"/about":          StatusVisited,
		"/products/loans": StatusVisited,
		"/stall":          StatusFailed,
		"/untitled":       StatusFailed,
		"#":               StatusSkippedPlaceholder,
		"/off":            StatusSkippedNotInteractable,
		"/hidden":         StatusSkippedNotInteractable,
	}
	parents := map[string]string{"/products/loans": "/products", "/hidden": "/gone"}
	hrefs := make([]string, 0, len(want))
	for h := range want {
		hrefs = append(hrefs, h)
	}

	opts := testOptions()
	opts.NavigationTimeout = 10 * time.Millisecond

	rapid.Check(t, func(t *rapid.T) {
		picked := rapid.SliceOfN(rapid.SampledFrom(hrefs), 0, 6).Draw(t, "edges")
		edges := make([]linkstore.Edge, len(picked))
		for i, h := range picked {
			edges[i] = linkstore.Edge{Child: h, Parent: parents[h]}
		}

		page := newSite().Open()
		if err := page.Navigate(context.Background(), baseline, browser.WaitLoad, time.Second); err != nil {
			t.Fatal(err)
		}
		report, err := NewVerifier(page, baseline, opts, zerolog.Nop()).Run(context.Background(), edges)
		if err != nil {
			t.Fatal(err)
		}
		if len(report.Results) != len(edges) {
			t.Fatalf("got %d results for %d edges", len(report.Results), len(edges))
		}
		for i, res := range report.Results {
			if res.ChildHref != edges[i].Child {
				t.Fatalf("result %d is %q, want %q", i, res.ChildHref, edges[i].Child)
			}
			if res.Status != want[res.ChildHref] {
				t.Fatalf("%s: status %s, want %s", res.ChildHref, res.Status, want[res.ChildHref])
			}
		}
		if u, _ := page.URL(context.Background()); !browser.SameLocation(u, baseline) {
			t.Fatalf("crawl ended at %s", u)
		}
	})
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.Default().Crawl)
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), opts)

	cfg := config.Default().Crawl
	cfg.Activation = "script"
	cfg.Popups = "skip"
	opts, err = OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, browser.ClickScript, opts.Activation)
	assert.Equal(t, PopupsSkip, opts.Popups)

	cfg.Activation = "double"
	_, err = OptionsFromConfig(cfg)
	assert.Equal(t, errs.InvalidConfig, errs.CodeOf(err))
}

func TestReportCounts(t *testing.T) {
	r := &Report{Results: []Result{
		{Status: StatusVisited}, {Status: StatusVisited}, {Status: StatusFailed}, {Status: StatusSkippedPopup},
	}}
	counts := r.Counts()
	assert.Equal(t, 2, counts[StatusVisited])
	assert.Equal(t, 1, counts[StatusFailed])
	assert.True(t, StatusSkippedPopup.Skipped())
	assert.False(t, StatusFailed.Skipped())
}
