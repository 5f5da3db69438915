// Package browsertest provides an in-memory browser.Browser backed by static
// HTML documents, for exercising the crawler and walkers without Chromium.
//
// The fake understands a few data attributes that stand in for scripted
// behaviour on a real site:
//
//	data-reveal-by="<href>"  subtree is hidden until an element with that href is hovered
//	data-stall               clicking a link does nothing
//	data-show="<css>"        after click, fill or select, unhide matching elements
//	data-hide="<css>"        after click, fill or select, hide matching elements
//	data-navigate="<url>"    clicking navigates to url, overriding any href
//	data-click-error="<msg>" clicking returns an error
//	data-detached            scrolling the element into view fails
//
// Elements with a hidden attribute, or inside one, are not visible.
package browsertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/v0xg/astarcheck/internal/browser"
	"github.com/v0xg/astarcheck/internal/errs"
)

// Screenshot dimensions. The full page is twice the viewport height.
const (
	ViewportWidth  = 64
	ViewportHeight = 48
	FullPageHeight = 2 * ViewportHeight
)

// NotFoundHTML is served for paths the site does not define.
const NotFoundHTML = `<html><head></head><body><h1>Not Found</h1></body></html>`

// Browser is a fake browser serving a fixed site.
type Browser struct {
	base  *url.URL
	pages map[string]string

	mu     sync.Mutex
	opened []*Page
	closed bool
}

// New returns a browser serving pages, keyed by path, under base.
func New(base string, pages map[string]string) *Browser {
	u, err := url.Parse(base)
	if err != nil {
		panic(fmt.Sprintf("browsertest: bad base %q: %v", base, err))
	}
	return &Browser{base: u, pages: pages}
}

// NewPage opens a blank page.
func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := b.Open()
	return p, nil
}

// Open is NewPage returning the concrete fake, for tests that need its hooks.
func (b *Browser) Open() *Page {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader("<html><head></head><body></body></html>"))
	p := &Page{
		browser:  b,
		url:      "about:blank",
		doc:      doc,
		revealed: map[string]bool{},
	}
	b.mu.Lock()
	b.opened = append(b.opened, p)
	b.mu.Unlock()
	return p
}

// Close marks the browser closed.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) lookup(u *url.URL) string {
	if !strings.EqualFold(u.Host, b.base.Host) {
		return NotFoundHTML
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if doc, ok := b.pages[path]; ok {
		return doc
	}
	if doc, ok := b.pages[strings.TrimRight(path, "/")]; ok {
		return doc
	}
	if doc, ok := b.pages[strings.TrimRight(path, "/")+"/"]; ok {
		return doc
	}
	return NotFoundHTML
}

// Page is a fake browsing context. Its exported hooks and logs are safe to
// read after the code under test returns.
type Page struct {
	browser *Browser

	// NavigateErr, when set, is consulted before every explicit Navigate.
	NavigateErr func(url string) error

	mu       sync.Mutex
	url      string
	doc      *goquery.Document
	revealed map[string]bool
	finds    []browser.Selector
	actions  []string
	popups   []string
	visits   []string
	closed   bool
}

// Finds returns every selector passed to Find, in call order.
func (p *Page) Finds() []browser.Selector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Selector(nil), p.finds...)
}

// Actions returns a log of hovers, clicks, fills and selects such as
// "click /about" or "fill email=a@b.c".
func (p *Page) Actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.actions...)
}

// Popups returns hrefs of links that would have opened a new tab.
func (p *Page) Popups() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.popups...)
}

// Visits returns every URL the page loaded, explicit or by click.
func (p *Page) Visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visits...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Navigate(ctx context.Context, target string, _ browser.WaitUntil, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hook := p.NavigateErr; hook != nil {
		if err := hook(target); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(target)
}

// load replaces the document. Callers hold p.mu.
func (p *Page) load(target string) error {
	base, _ := url.Parse(p.url)
	ref, err := url.Parse(target)
	if err != nil {
		return errs.Wrap(errs.Navigation, "bad url "+target, err)
	}
	var u *url.URL
	if base != nil && base.Scheme != "about" {
		u = base.ResolveReference(ref)
	} else {
		u = p.browser.base.ResolveReference(ref)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.browser.lookup(u)))
	if err != nil {
		return errs.Wrap(errs.Navigation, "parse "+u.String(), err)
	}
	p.doc = doc
	p.url = u.String()
	p.revealed = map[string]bool{}
	p.visits = append(p.visits, p.url)
	return nil
}

func (p *Page) WaitForLocation(ctx context.Context, target string, timeout time.Duration) error {
	return browser.PollLocation(ctx, p.URL, target, timeout)
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, ctx.Err()
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.TrimSpace(p.doc.Find("title").First().Text()), ctx.Err()
}

func (p *Page) Settle(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Screenshot returns a small gradient PNG. The viewport is 64x48 and the
// full page is twice as tall.
func (p *Page) Screenshot(ctx context.Context, full bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	height := ViewportHeight
	if full {
		height = FullPageHeight
	}
	img := image.NewRGBA(image.Rect(0, 0, ViewportWidth, height))
	for y := 0; y < height; y++ {
		for x := 0; x < ViewportWidth; x++ {
			img.Set(x, y, color.RGBA{R: 0x20, G: 0x40, B: uint8(x * 4), A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.doc.Html()
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Page) Find(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finds = append(p.finds, sel)
	return p.find(p.doc.Selection, sel)
}

// find runs sel below root. Callers hold p.mu.
func (p *Page) find(root *goquery.Selection, sel browser.Selector) ([]browser.Element, error) {
	match, err := matcher(sel)
	if err != nil {
		return nil, err
	}

	var nodes []*html.Node
	switch sel.Kind {
	case browser.KindCSS:
		var findErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					findErr = fmt.Errorf("invalid selector %q: %v", sel.Value, r)
				}
			}()
			nodes = root.Find(sel.Value).Nodes
		}()
		if findErr != nil {
			return nil, findErr
		}
	case browser.KindRole:
		css, ok := roleSelectors[sel.Value]
		if !ok {
			css = fmt.Sprintf(`[role=%q]`, sel.Value)
		}
		root.Find(css).Each(func(_ int, s *goquery.Selection) {
			if sel.Name == "" || match(p.accessibleName(s), sel.Name) {
				nodes = append(nodes, s.Nodes[0])
			}
		})
	case browser.KindText:
		scope := "*"
		if root == p.doc.Selection {
			scope = "body *"
		}
		var hits []*html.Node
		root.Find(scope).Each(func(_ int, s *goquery.Selection) {
			switch goquery.NodeName(s) {
			case "script", "style", "noscript", "head", "title":
				return
			}
			if match(s.Text(), sel.Value) {
				hits = append(hits, s.Nodes[0])
			}
		})
		for _, n := range hits {
			innermost := true
			for _, other := range hits {
				if other != n && contains(n, other) {
					innermost = false
					break
				}
			}
			if innermost {
				nodes = append(nodes, n)
			}
		}
	case browser.KindPlaceholder:
		root.Find("[placeholder]").Each(func(_ int, s *goquery.Selection) {
			if match(s.AttrOr("placeholder", ""), sel.Value) {
				nodes = append(nodes, s.Nodes[0])
			}
		})
	case browser.KindLabel:
		seen := map[*html.Node]bool{}
		add := func(n *html.Node) {
			if n != nil && !seen[n] {
				seen[n] = true
				nodes = append(nodes, n)
			}
		}
		root.Find("label").Each(func(_ int, l *goquery.Selection) {
			if !match(l.Text(), sel.Value) {
				return
			}
			if id, ok := l.Attr("for"); ok {
				if c := p.doc.Find("#" + cssEscape(id)); c.Length() > 0 {
					add(c.Nodes[0])
					return
				}
			}
			if c := l.Find("input, select, textarea"); c.Length() > 0 {
				add(c.Nodes[0])
			}
		})
		root.Find("[aria-label]").Each(func(_ int, s *goquery.Selection) {
			if match(s.AttrOr("aria-label", ""), sel.Value) {
				add(s.Nodes[0])
			}
		})
	default:
		return nil, fmt.Errorf("unsupported selector kind %q", sel.Kind)
	}

	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Element{page: p, node: n})
	}
	return out, nil
}

var roleSelectors = map[string]string{
	"button":     "button, input[type=submit], input[type=button], input[type=reset], [role=button]",
	"link":       "a[href], [role=link]",
	"textbox":    "input:not([type]), input[type=text], input[type=email], input[type=tel], input[type=url], input[type=search], input[type=password], textarea, [role=textbox]",
	"combobox":   "select:not([multiple]), [role=combobox]",
	"checkbox":   "input[type=checkbox], [role=checkbox]",
	"radio":      "input[type=radio], [role=radio]",
	"spinbutton": "input[type=number], [role=spinbutton]",
	"heading":    "h1, h2, h3, h4, h5, h6, [role=heading]",
	"option":     "option, [role=option]",
}

var space = regexp.MustCompile(`\s+`)

func normalize(s string) string {
	return strings.TrimSpace(space.ReplaceAllString(s, " "))
}

func matcher(sel browser.Selector) (func(text, want string) bool, error) {
	if sel.Regex {
		pattern := sel.Value
		if sel.Kind == browser.KindRole {
			pattern = sel.Name
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, err
		}
		return func(text, _ string) bool { return re.MatchString(normalize(text)) }, nil
	}
	if sel.Exact {
		return func(text, want string) bool { return normalize(text) == want }, nil
	}
	return func(text, want string) bool {
		return strings.Contains(strings.ToLower(normalize(text)), strings.ToLower(want))
	}, nil
}

func (p *Page) accessibleName(s *goquery.Selection) string {
	if v := s.AttrOr("aria-label", ""); v != "" {
		return v
	}
	if s.Is("input, select, textarea") {
		if id, ok := s.Attr("id"); ok {
			if l := p.doc.Find(`label[for="` + id + `"]`); l.Length() > 0 {
				return l.Text()
			}
		}
		if l := s.Closest("label"); l.Length() > 0 {
			return l.Text()
		}
		if s.Is("input[type=submit], input[type=button], input[type=reset]") {
			return s.AttrOr("value", "")
		}
		return s.AttrOr("placeholder", s.AttrOr("title", ""))
	}
	if t := s.Text(); normalize(t) != "" {
		return t
	}
	return s.AttrOr("title", "")
}

func cssEscape(id string) string {
	var b strings.Builder
	for _, r := range id {
		if !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func contains(ancestor, n *html.Node) bool {
	for c := n.Parent; c != nil; c = c.Parent {
		if c == ancestor {
			return true
		}
	}
	return false
}

// ErrDetached is returned when an element is no longer in the page.
var ErrDetached = errors.New("element is detached from the document")

// Element is a node in the fake page.
type Element struct {
	page *Page
	node *html.Node
}

func (e *Element) sel() *goquery.Selection {
	return e.page.doc.FindNodes(e.node)
}

// attached reports whether the node is in the current document. Callers hold page.mu.
func (e *Element) attached() bool {
	root := e.node
	for root.Parent != nil {
		root = root.Parent
	}
	return len(e.page.doc.Nodes) > 0 && root == e.page.doc.Nodes[0]
}

func (e *Element) attr(name string) (string, bool) {
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// visible checks the node and its ancestors. Callers hold page.mu.
func (e *Element) visible() bool {
	if !e.attached() {
		return false
	}
	for n := e.node; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		for _, a := range n.Attr {
			switch a.Key {
			case "hidden":
				return false
			case "style":
				if strings.Contains(strings.ReplaceAll(a.Val, " ", ""), "display:none") {
					return false
				}
			case "data-reveal-by":
				if !e.page.revealed[a.Val] {
					return false
				}
			}
		}
		if n.Data == "input" {
			for _, a := range n.Attr {
				if a.Key == "type" && a.Val == "hidden" {
					return false
				}
			}
		}
	}
	return true
}

func (e *Element) Find(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	e.page.finds = append(e.page.finds, sel)
	if !e.attached() {
		return nil, ErrDetached
	}
	return e.page.find(e.sel(), sel)
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if _, ok := e.attr("data-detached"); ok || !e.attached() {
		return ErrDetached
	}
	return ctx.Err()
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return e.visible(), ctx.Err()
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if _, ok := e.attr("disabled"); ok {
		return false, ctx.Err()
	}
	if v, _ := e.attr("aria-disabled"); v == "true" {
		return false, ctx.Err()
	}
	return true, ctx.Err()
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	v, ok := e.attr(name)
	return v, ok, ctx.Err()
}

func (e *Element) RemoveAttribute(ctx context.Context, name string) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	e.sel().RemoveAttr(name)
	return ctx.Err()
}

func (e *Element) Hover(ctx context.Context) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if !e.visible() {
		return errs.New(errs.NotInteractable, "hover target is not visible")
	}
	href, _ := e.attr("href")
	if href != "" {
		e.page.revealed[href] = true
	}
	e.page.actions = append(e.page.actions, "hover "+href)
	return ctx.Err()
}

func (e *Element) Click(ctx context.Context, mode browser.ClickMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()

	if !e.attached() {
		return ErrDetached
	}
	if mode == browser.ClickStandard && !e.visible() {
		return errs.New(errs.NotInteractable, "click target is not visible")
	}
	if msg, ok := e.attr("data-click-error"); ok {
		return errors.New(msg)
	}

	label, _ := e.attr("href")
	if label == "" {
		label = normalize(e.sel().Text())
	}
	e.page.actions = append(e.page.actions, "click "+label)

	e.applyToggles()
	if _, ok := e.attr("data-stall"); ok {
		return nil
	}
	if to, ok := e.attr("data-navigate"); ok {
		return e.page.load(to)
	}
	if e.node.Data == "a" {
		href, ok := e.attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return nil
		}
		if target, _ := e.attr("target"); target == "_blank" {
			e.page.popups = append(e.page.popups, href)
			return nil
		}
		return e.page.load(href)
	}
	return nil
}

// applyToggles applies data-show and data-hide. Callers hold page.mu.
func (e *Element) applyToggles() {
	if css, ok := e.attr("data-show"); ok {
		e.page.doc.Find(css).RemoveAttr("hidden")
	}
	if css, ok := e.attr("data-hide"); ok {
		e.page.doc.Find(css).SetAttr("hidden", "")
	}
}

func (e *Element) Fill(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if !e.visible() {
		return errs.New(errs.NotInteractable, "fill target is not visible")
	}
	if e.node.Data != "input" && e.node.Data != "textarea" {
		return fmt.Errorf("cannot fill <%s>", e.node.Data)
	}
	e.sel().SetAttr("value", value)
	name, _ := e.attr("name")
	e.page.actions = append(e.page.actions, "fill "+name+"="+value)
	e.applyToggles()
	return nil
}

func (e *Element) SelectIndex(ctx context.Context, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if e.node.Data != "select" {
		return fmt.Errorf("cannot select on <%s>", e.node.Data)
	}
	options := e.sel().Find("option")
	if index < 0 || index >= options.Length() {
		return fmt.Errorf("select has no option at index %d", index)
	}
	options.RemoveAttr("selected")
	options.Eq(index).SetAttr("selected", "")
	name, _ := e.attr("name")
	e.page.actions = append(e.page.actions, fmt.Sprintf("select %s=%d", name, index))
	e.applyToggles()
	return nil
}

// Center places elements on a grid by document order.
func (e *Element) Center(ctx context.Context) (float64, float64, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if !e.attached() {
		return 0, 0, ErrDetached
	}
	idx := 0
	e.page.doc.Find("*").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if s.Nodes[0] == e.node {
			idx = i
			return false
		}
		return true
	})
	return float64(10 + (idx%8)*8), float64(10 + (idx/8)%5*8), ctx.Err()
}
