// Package linkstore builds, caches and loads the site's link structure: the
// mapping from each navigable child href to the dropdown trigger that has to
// be hovered before the child can be reached.
package linkstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Placeholder is the href dropdown triggers use when they lead nowhere.
const Placeholder = "#"

// Policy decides which parent wins when a child appears under more than one
// dropdown.
type Policy string

const (
	// PolicyLast keeps the parent seen last in document order.
	PolicyLast Policy = "last"
	// PolicyFirst keeps the parent seen first.
	PolicyFirst Policy = "first"
)

// Edge is one link to verify. Parent is empty when the child is directly
// visible on the baseline page.
type Edge struct {
	Child  string `json:"child"`
	Parent string `json:"parent,omitempty"`
}

// IsPlaceholder reports whether href points nowhere.
func IsPlaceholder(href string) bool {
	return strings.TrimSpace(href) == Placeholder
}

// Structure is an ordered set of edges keyed by child href. A key keeps its
// first insertion position even when a later parent replaces its value.
type Structure struct {
	policy  Policy
	order   []string
	parents map[string]string
}

// New returns an empty structure. An empty policy means PolicyLast.
func New(policy Policy) *Structure {
	if policy == "" {
		policy = PolicyLast
	}
	return &Structure{policy: policy, parents: map[string]string{}}
}

// FromEdges builds a structure from edges, applying the same filtering as Add.
func FromEdges(policy Policy, edges ...Edge) *Structure {
	s := New(policy)
	for _, e := range edges {
		s.Add(e.Child, e.Parent)
	}
	return s
}

// Add records child under parent. Empty and placeholder children are
// dropped and Add reports false; duplicates follow the policy.
func (s *Structure) Add(child, parent string) bool {
	child = strings.TrimSpace(child)
	if child == "" || IsPlaceholder(child) {
		return false
	}
	parent = strings.TrimSpace(parent)

	if _, ok := s.parents[child]; ok {
		if s.policy == PolicyLast {
			s.parents[child] = parent
		}
		return true
	}
	s.order = append(s.order, child)
	s.parents[child] = parent
	return true
}

// addMissing records child only if it is not already present.
func (s *Structure) addMissing(child, parent string) {
	if _, ok := s.parents[strings.TrimSpace(child)]; ok {
		return
	}
	s.Add(child, parent)
}

// Len returns the number of edges.
func (s *Structure) Len() int { return len(s.order) }

// Parent returns the parent recorded for child.
func (s *Structure) Parent(child string) (string, bool) {
	p, ok := s.parents[child]
	return p, ok
}

// Edges returns the edges in iteration order.
func (s *Structure) Edges() []Edge {
	edges := make([]Edge, 0, len(s.order))
	for _, child := range s.order {
		edges = append(edges, Edge{Child: child, Parent: s.parents[child]})
	}
	return edges
}

// MarshalJSON writes the cache format: one object, child hrefs as keys and
// parent hrefs as values, in iteration order.
func (s *Structure) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, child := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(child)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.parents[child])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the cache format, keeping key order. Null parents load
// as empty and placeholder keys are dropped.
func (s *Structure) UnmarshalJSON(data []byte) error {
	fresh := New(s.policy)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("link structure must be a JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		child, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key %v", tok)
		}
		var parent *string
		if err := dec.Decode(&parent); err != nil {
			return fmt.Errorf("value for %q: %w", child, err)
		}
		if parent == nil {
			fresh.Add(child, "")
		} else {
			fresh.Add(child, *parent)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = *fresh
	return nil
}
