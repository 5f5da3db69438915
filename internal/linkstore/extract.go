package linkstore

import (
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
)

// Markup names the selectors that identify dropdown navigation.
type Markup struct {
	// Container wraps one dropdown: its trigger and its submenu.
	Container string
	// Trigger is the dropdown's own link, searched within Container.
	Trigger string
	// Items are the submenu links, searched within Container.
	Items string
	// TopLevel are directly visible navigation links, used when
	// top-level links are included.
	TopLevel string
}

// DefaultMarkup matches Bootstrap-style navbars.
var DefaultMarkup = Markup{
	Container: "li.nav-item.dropdown",
	Trigger:   "a.nav-link.dropdown-toggle",
	Items:     "ul.dropdown-menu a.dropdown-item",
	TopLevel:  "a.nav-link:not(.dropdown-toggle)",
}

// Extract scans navigation markup top to bottom and pairs each submenu link
// with its dropdown trigger. Placeholder and empty child hrefs are dropped.
// With includeTopLevel, plain navigation links become parentless edges
// unless they already appear under a dropdown.
func Extract(r io.Reader, m Markup, policy Policy, includeTopLevel bool) (*Structure, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse navigation markup: %w", err)
	}

	s := New(policy)
	doc.Find(m.Container).Each(func(_ int, container *goquery.Selection) {
		parent := container.Find(m.Trigger).First().AttrOr("href", "")
		container.Find(m.Items).Each(func(_ int, item *goquery.Selection) {
			s.Add(item.AttrOr("href", ""), parent)
		})
	})

	if includeTopLevel && m.TopLevel != "" {
		doc.Find(m.TopLevel).Each(func(_ int, link *goquery.Selection) {
			if link.Closest(m.Container).Length() > 0 {
				return
			}
			s.addMissing(link.AttrOr("href", ""), "")
		})
	}
	return s, nil
}
