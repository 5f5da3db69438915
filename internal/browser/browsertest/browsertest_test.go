package browsertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/astarcheck/internal/browser"
)

const home = `<html><head><title>Home</title></head><body>
<nav>
  <a href="/products" class="trigger">Products</a>
  <ul data-reveal-by="/products"><li><a href="/products/loans">Loans</a></li></ul>
  <a href="/about">About <span>us</span></a>
  <a href="/gone" disabled>Gone</a>
</nav>
<form>
  <label for="email">Email address</label><input id="email" name="email" type="email">
  <input name="mobile" placeholder="Mobile number">
  <select name="slot"><option>Pick</option><option>9am</option></select>
  <button type="button" data-show="#next">Continue</button>
  <section id="next" hidden><h2>Step two</h2></section>
</form>
</body></html>`

func newPage(t *testing.T) *Page {
	t.Helper()
	b := New("https://site.test/", map[string]string{
		"/":               home,
		"/about":          `<html><head><title>About</title></head><body></body></html>`,
		"/products/loans": `<html><head><title>Loans</title></head><body></body></html>`,
	})
	p := b.Open()
	require.NoError(t, p.Navigate(context.Background(), "/", browser.WaitLoad, time.Second))
	return p
}

func one(t *testing.T, p *Page, sel browser.Selector) browser.Element {
	t.Helper()
	els, err := p.Find(context.Background(), sel)
	require.NoError(t, err)
	require.Len(t, els, 1, sel.String())
	return els[0]
}

func TestRevealByHover(t *testing.T) {
	ctx := context.Background()
	p := newPage(t)

	child := one(t, p, browser.CSS(`a[href="/products/loans"]`))
	visible, err := child.Visible(ctx)
	require.NoError(t, err)
	assert.False(t, visible)

	require.NoError(t, one(t, p, browser.CSS(`a[href="/products"]`)).Hover(ctx))
	visible, err = child.Visible(ctx)
	require.NoError(t, err)
	assert.True(t, visible)

	require.NoError(t, child.Click(ctx, browser.ClickForce))
	title, err := p.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Loans", title)
	assert.Equal(t, []string{"hover /products", "click /products/loans"}, p.Actions())
}

func TestSelectorKinds(t *testing.T) {
	ctx := context.Background()
	p := newPage(t)

	_ = one(t, p, browser.Label("email address"))
	_ = one(t, p, browser.Placeholder("mobile"))
	_ = one(t, p, browser.Role("combobox", ""))
	_ = one(t, p, browser.Role("button", "continue"))

	about := one(t, p, browser.Text("About us"))
	href, ok, err := about.Attribute(ctx, "href")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/about", href)

	enabled, err := one(t, p, browser.CSS(`a[href="/gone"]`)).Enabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestShowOnClickAndSelect(t *testing.T) {
	ctx := context.Background()
	p := newPage(t)

	heading := one(t, p, browser.Role("heading", "Step two"))
	visible, _ := heading.Visible(ctx)
	assert.False(t, visible)

	require.NoError(t, one(t, p, browser.Role("button", "Continue")).Click(ctx, browser.ClickStandard))
	visible, _ = heading.Visible(ctx)
	assert.True(t, visible)

	slot := one(t, p, browser.CSS(`select[name="slot"]`))
	require.NoError(t, slot.SelectIndex(ctx, 1))
	assert.Error(t, slot.SelectIndex(ctx, 5))
}

func TestNavigationDetachesElements(t *testing.T) {
	ctx := context.Background()
	p := newPage(t)

	about := one(t, p, browser.CSS(`a[href="/about"]`))
	require.NoError(t, about.Click(ctx, browser.ClickForce))
	require.NoError(t, p.WaitForLocation(ctx, "/about", time.Second))

	assert.ErrorIs(t, about.ScrollIntoView(ctx), ErrDetached)
	u, _ := p.URL(ctx)
	assert.Equal(t, "https://site.test/about", u)
}
