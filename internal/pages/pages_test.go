package pages

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/v0xg/astarcheck/internal/browser"
	"github.com/v0xg/astarcheck/internal/browser/browsertest"
	"github.com/v0xg/astarcheck/internal/config"
	"github.com/v0xg/astarcheck/internal/crawl"
	"github.com/v0xg/astarcheck/internal/errs"
	"github.com/v0xg/astarcheck/internal/fakedata"
	"github.com/v0xg/astarcheck/internal/linkstore"
)

func TestMain(m *testing.M) {
	if liveEnabled() {
		// Driver goroutines outlive Close on a real browser.
		os.Exit(m.Run())
	}
	browser.PollInterval = 2 * time.Millisecond
	goleak.VerifyTestMain(m)
}

const base = "https://astar.test/"

const homeHTML = `<html><head><title>Home | Astar Financial</title></head><body>
<ul class="navbar">
  <li class="nav-item dropdown">
    <a class="nav-link dropdown-toggle" href="/home-loans">Home Loans</a>
    <ul class="dropdown-menu" data-reveal-by="/home-loans">
      <li><a class="dropdown-item" href="/refinance-home-loan">Refinance</a></li>
      <li><a class="dropdown-item" href="#">Coming soon</a></li>
    </ul>
  </li>
  <li class="nav-item dropdown">
    <a class="nav-link dropdown-toggle" href="/about">About</a>
    <ul class="dropdown-menu" data-reveal-by="/about">
      <li><a class="dropdown-item" href="/missing-page">Team</a></li>
    </ul>
  </li>
</ul></body></html>`

const applyHTML = `<html><head><title>Apply Now - Astar Financial</title></head><body>
<section id="a1"><button data-show="#a2" data-hide="#a1">I want to buy a home</button></section>
<section id="a2" hidden>
  <label for="price">Expected Purchase</label><input id="price" name="price" type="text">
  <button data-show="#a3" data-hide="#a2">Next</button>
</section>
<section id="a3" hidden>
  <label for="deposit">Deposits</label><input id="deposit" name="deposit" type="text">
  <button data-show="#a4" data-hide="#a3">Next</button>
</section>
<section id="a4" hidden>
  <button>Just exploring options</button><button>Yes</button><button>No</button>
  <button>-6 Months</button><button>Established home</button><button>I will live there</button>
  <button>Excellent</button><button>I'm an employee</button>
  <input name="first" placeholder="First Name"><input name="last" placeholder="Last Name">
  <input name="email" placeholder="Email Address"><input name="mobile" placeholder="Mobile Number">
  <button data-show="#sms" data-hide="#a4">Assess my options</button>
</section>
<section id="sms" hidden><h2>SMS Verification!</h2></section>
</body></html>`

const bookHTML = `<html><head><title>Book Appointment | Astar Financial</title></head><body>
<form id="book">
  <input type="date" name="date">
  <label for="slot">Select Time Slot</label><select id="slot" name="slot"><option>--</option><option>9:00</option></select>
  <label for="type">Select Loan Type</label><select id="type" name="type"><option>--</option><option>Home</option></select>
  <input type="tel" name="phone" aria-label="+">
  <button type="button" data-show="#otp" data-hide="#book">Get OTP</button>
</form>
<div id="otp" hidden><h3>Verify Your OTP</h3></div>
</body></html>`

const refinanceHTML = `<html><head><title>Refinance | Astar Financial</title></head><body>
<h1>Refinance your home loan</h1>
<a href="/refinance-home-loan?start=1">Refinance now</a>
<section id="intro"><button data-show="#r1" data-hide="#intro">Start</button></section>
<section id="r1" hidden><input id="LoanAmount" name="loan" type="text"><button data-show="#r2" data-hide="#r1">Next</button></section>
<section id="r2" hidden><input name="value" placeholder="Property value"><button data-show="#r3" data-hide="#r2">Next</button></section>
<section id="r3" hidden><button>Just exploring options</button><button data-show="#r4" data-hide="#r3">Next</button></section>
<section id="r4" hidden><button>Yes</button><button>No</button><button data-show="#r5" data-hide="#r4">Continue</button></section>
<section id="r5" hidden><button>-6 Months</button><button data-show="#r6" data-hide="#r5">Next</button></section>
<section id="r6" hidden><button>Excellent</button><button data-show="#r7" data-hide="#r6">Next</button></section>
<section id="r7" hidden><button>I'm an employee</button><button data-show="#r8" data-hide="#r7">Next</button></section>
<section id="r8" hidden>
  <input name="FirstName"><input name="LastName"><input type="email" name="mail"><input type="tel" name="phone">
  <button data-show="#otp" data-hide="#r8">Proceed</button>
</section>
<section id="otp" hidden><p>Enter the verification code we sent you</p></section>
</body></html>`

func newSite(overrides map[string]string) *browsertest.Browser {
	pages := map[string]string{
		"/":                    homeHTML,
		"/apply-now":           applyHTML,
		"/book-appointment":    bookHTML,
		"/refinance-home-loan": refinanceHTML,
		"/home-loans":          "<html><head><title>Home Loans</title></head><body></body></html>",
		"/about":               "<html><head><title>About</title></head><body></body></html>",
	}
	for k, v := range overrides {
		pages[k] = v
	}
	return browsertest.New(base, pages)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = base
	cfg.DefaultTimeout = time.Second
	cfg.Walker.StepTimeout = 50 * time.Millisecond
	cfg.Walker.PollInterval = time.Millisecond
	cfg.Crawl.SettleDelay = time.Millisecond
	cfg.Crawl.NavigationTimeout = 20 * time.Millisecond
	cfg.Artifacts.Dir = filepath.Join(t.TempDir(), "results")
	cfg.Artifacts.ThumbnailWidth = 32
	cfg.Links.CachePath = filepath.Join(t.TempDir(), "linkStructure.json")
	return cfg
}

func TestApplyLoanReachesSMSVerification(t *testing.T) {
	cfg := testConfig(t)
	cfg.Artifacts.Trail = true
	page := newSite(nil).Open()

	res, err := NewApplyLoanPage(NewRunner(page, cfg, zerolog.Nop()), fakedata.New(9)).Apply(context.Background())
	require.NoError(t, err)
	assert.True(t, res.ReachedCheckpoint)
	assert.Equal(t, "sms verification", res.Checkpoint)

	actions := page.Actions()
	assert.Equal(t, "click I want to buy a home", actions[0])
	assert.Equal(t, "click Assess my options", actions[len(actions)-1])
	assert.Contains(t, actions, "click I'm an employee")

	trails, _ := filepath.Glob(filepath.Join(cfg.Artifacts.Dir, "apply-trail-*.gif"))
	assert.Len(t, trails, 1)
}

func TestApplyLoanFlowInputs(t *testing.T) {
	flow := NewApplyLoanPage(&Runner{}, fakedata.New(3)).Flow()
	var price, deposit int
	for _, s := range flow.Steps {
		switch s.Name {
		case "purchase price":
			price = atoi(t, s.Value)
		case "deposit":
			deposit = atoi(t, s.Value)
		case "first home buyer":
			require.Len(t, s.Target, 1)
			assert.Contains(t, []string{"Yes", "No"}, s.Target[0].Name)
			assert.True(t, s.Target[0].Exact)
		}
	}
	assert.GreaterOrEqual(t, price, 500_000)
	assert.LessOrEqual(t, price, 2_000_000)
	assert.Equal(t, price/4, deposit)
	assert.True(t, flow.Steps[len(flow.Steps)-1].Checkpoint)
}

func TestBookAppointmentReachesOTP(t *testing.T) {
	cfg := testConfig(t)
	page := newSite(nil).Open()
	gen := fakedata.New(5).WithClock(func() time.Time { return time.Date(2025, 6, 30, 9, 0, 0, 0, time.UTC) })

	res, err := NewBookAppointmentPage(NewRunner(page, cfg, zerolog.Nop()), gen).Book(context.Background())
	require.NoError(t, err)
	assert.True(t, res.ReachedCheckpoint)

	actions := page.Actions()
	require.Len(t, actions, 5)
	assert.Equal(t, "fill date=2025-07-01", actions[0])
	assert.Equal(t, []string{"select slot=1", "select type=1"}, actions[1:3])
	assert.True(t, strings.HasPrefix(actions[3], "fill phone=04"))
	assert.Equal(t, "click Get OTP", actions[4])
}

func TestRefinanceReachesOTPScreen(t *testing.T) {
	cfg := testConfig(t)
	page := newSite(nil).Open()

	res, err := NewRefinanceLoanPage(NewRunner(page, cfg, zerolog.Nop()), fakedata.New(11)).Refinance(context.Background())
	require.NoError(t, err)
	assert.True(t, res.ReachedCheckpoint)
	assert.Equal(t, "otp screen", res.Checkpoint)
	assert.Empty(t, res.Skipped)

	actions := page.Actions()
	assert.Equal(t, "click /refinance-home-loan?start=1", actions[0])
	assert.Equal(t, "click Start", actions[1])
	assert.True(t, strings.HasPrefix(actions[2], "fill loan="), "attribute match ignores case")
	assert.True(t, strings.HasPrefix(actions[4], "fill value="), "matched by placeholder")
	assert.Contains(t, actions, "click No")
	assert.True(t, slices.ContainsFunc(actions, func(a string) bool { return strings.HasPrefix(a, "fill FirstName=") }))
	assert.True(t, slices.ContainsFunc(actions, func(a string) bool { return strings.HasPrefix(a, "fill LastName=") }))
	assert.NotContains(t, actions, "click Yes")
}

func TestFailureCapturesArtifacts(t *testing.T) {
	cfg := testConfig(t)
	broken := strings.Replace(applyHTML, "SMS Verification!", "Something went wrong", 1)
	page := newSite(map[string]string{"/apply-now": broken}).Open()

	res, err := NewApplyLoanPage(NewRunner(page, cfg, zerolog.Nop()), fakedata.New(1)).Apply(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Assertion))
	assert.Contains(t, err.Error(), `"sms verification"`)
	assert.False(t, res.ReachedCheckpoint)

	for _, pattern := range []string{"apply-error-*.png", "apply-error-*-thumb.png", "apply-error-*.html"} {
		matches, _ := filepath.Glob(filepath.Join(cfg.Artifacts.Dir, pattern))
		assert.NotEmpty(t, matches, pattern)
	}
}

func TestArtifactsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Artifacts.Enabled = false
	page := newSite(map[string]string{"/book-appointment": "<html><head><title>Oops</title></head></html>"}).Open()

	_, err := NewBookAppointmentPage(NewRunner(page, cfg, zerolog.Nop()), fakedata.New(1)).Book(context.Background())
	require.Error(t, err)
	assert.NoDirExists(t, cfg.Artifacts.Dir)
}

type stubFetcher struct {
	body  string
	calls int
}

func (f *stubFetcher) Fetch(context.Context, string) (io.ReadCloser, error) {
	f.calls++
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestHomePageVerifyLinks(t *testing.T) {
	cfg := testConfig(t)
	page := newSite(nil).Open()
	fetcher := &stubFetcher{body: homeHTML}
	store := &linkstore.Store{
		Path:    cfg.Links.CachePath,
		Fetcher: fetcher,
		Markup:  linkstore.DefaultMarkup,
		Logger:  zerolog.Nop(),
	}
	home := NewHomePage(page, cfg, store, zerolog.Nop())

	require.NoError(t, home.Navigate(context.Background()))
	report, err := home.VerifyLinks(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	assert.Equal(t, "/refinance-home-loan", report.Results[0].ChildHref)
	assert.Equal(t, crawl.StatusVisited, report.Results[0].Status)
	assert.Equal(t, "Refinance | Astar Financial", report.Results[0].Title)

	// The 404 page has a title, so an unknown path still counts as visited;
	// what matters is the crawl returns to the baseline.
	assert.Equal(t, "/missing-page", report.Results[1].ChildHref)
	assert.Equal(t, 1, fetcher.calls)
	assert.FileExists(t, cfg.Links.CachePath)

	url, err := page.URL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, base, url)
}

func TestHomePageRefreshFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Links.Refresh = true
	fetcher := &stubFetcher{body: homeHTML}
	store := &linkstore.Store{
		Path:    cfg.Links.CachePath,
		Fetcher: fetcher,
		Markup:  linkstore.DefaultMarkup,
		Logger:  zerolog.Nop(),
	}
	home := NewHomePage(newSite(nil).Open(), cfg, store, zerolog.Nop())
	require.NoError(t, home.Navigate(context.Background()))

	for range 2 {
		_, err := home.VerifyLinks(context.Background(), false)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, fetcher.calls, "links.refresh bypasses the cache on every run")
}

func TestHomePageWrongTitle(t *testing.T) {
	cfg := testConfig(t)
	page := newSite(map[string]string{"/": "<html><head><title>Parked domain</title></head></html>"}).Open()
	err := NewHomePage(page, cfg, nil, zerolog.Nop()).Navigate(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Navigation))
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		require.True(t, r >= '0' && r <= '9', s)
		n = n*10 + int(r-'0')
	}
	return n
}
