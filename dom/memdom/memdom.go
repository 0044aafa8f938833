// Package memdom implements dom.Document over a parsed static HTML tree.
// It exists for tests and for offline mapping against captured page HTML:
// the scanner, rules engine and fill executor run against memdom exactly
// as they do against a live page, and every dispatched event is recorded
// so write ordering can be asserted.
//
// Same-origin iframes are modelled through the srcdoc attribute; open
// shadow roots through declarative <template shadowrootmode="open">.
package memdom

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/formfill/dom"
)

// Dispatched is one recorded event for test instrumentation.
type Dispatched struct {
	Handle    string
	Type      dom.EventType
	InputType string // "insertText" for input events
}

// state is the mutable side of a memdom tree: live values, selections and
// the event log. One state is shared by a document and all of its frames
// and shadow roots so a fill run leaves a single coherent trace.
type state struct {
	mu       sync.Mutex
	handles  map[*html.Node]string
	nextID   int
	values   map[*html.Node]string
	valueSet map[*html.Node]bool
	checked  map[*html.Node]bool
	chkSet   map[*html.Node]bool
	selected map[*html.Node]string // selected option value, "" = none
	selSet   map[*html.Node]bool
	events   []Dispatched
}

func newState() *state {
	return &state{
		handles:  make(map[*html.Node]string),
		values:   make(map[*html.Node]string),
		valueSet: make(map[*html.Node]bool),
		checked:  make(map[*html.Node]bool),
		chkSet:   make(map[*html.Node]bool),
		selected: make(map[*html.Node]string),
		selSet:   make(map[*html.Node]bool),
	}
}

func (s *state) handle(n *html.Node) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[n]; ok {
		return h
	}
	s.nextID++
	h := "n" + strconv.Itoa(s.nextID)
	s.handles[n] = h
	return h
}

func (s *state) record(ev Dispatched) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

// Document is an in-memory dom.Document.
type Document struct {
	root   *html.Node // subtree root: body for a full document
	origin string
	st     *state
}

var _ dom.Document = (*Document)(nil)

// Parse builds a Document from an HTML string. The origin is used for
// iframe same-origin checks and should look like "https://host".
func Parse(src, origin string) (*Document, error) {
	node, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("memdom: parse: %w", err)
	}
	body := findFirst(node, "body")
	if body == nil {
		body = node
	}
	return &Document{root: body, origin: origin, st: newState()}, nil
}

// MustParse is Parse for tests with known-good markup.
func MustParse(src, origin string) *Document {
	d, err := Parse(src, origin)
	if err != nil {
		panic(err)
	}
	return d
}

// Events returns all dispatched events in order.
func (d *Document) Events() []Dispatched {
	d.st.mu.Lock()
	defer d.st.mu.Unlock()
	out := make([]Dispatched, len(d.st.events))
	copy(out, d.st.events)
	return out
}

// EventsFor returns the dispatched events for one element handle, in order.
func (d *Document) EventsFor(handle string) []Dispatched {
	var out []Dispatched
	for _, ev := range d.Events() {
		if ev.Handle == handle {
			out = append(out, ev)
		}
	}
	return out
}

// ResetEvents clears the event log.
func (d *Document) ResetEvents() {
	d.st.mu.Lock()
	d.st.events = nil
	d.st.mu.Unlock()
}

func (d *Document) Root() dom.Element { return &element{d: d, n: d.root} }

func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	return d.queryFrom(d.root, selector)
}

func (d *Document) queryFrom(root *html.Node, selector string) ([]dom.Element, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("memdom: selector %q: %w", selector, err)
	}
	var out []dom.Element
	d.walk(root, func(n *html.Node) {
		if n != root && sel.Match(n) {
			out = append(out, &element{d: d, n: n})
		}
	})
	return out, nil
}

// walk visits element nodes in document order, skipping template subtrees
// (shadow content is reachable only through ShadowRoots).
func (d *Document) walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
		if n.Data == "template" && n != d.root {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.walk(c, fn)
	}
}

func (d *Document) ElementByID(id string) dom.Element {
	var found *html.Node
	d.walk(d.root, func(n *html.Node) {
		if found == nil && attrVal(n, "id") == id {
			found = n
		}
	})
	if found == nil {
		return nil
	}
	return &element{d: d, n: found}
}

func (d *Document) Origin() string { return d.origin }

// Frames returns srcdoc iframes as same-origin subdocuments. Iframes with
// a src URL on a different origin are silently omitted; same-origin src
// frames are omitted too since memdom cannot load them.
func (d *Document) Frames() []dom.Document {
	var out []dom.Document
	d.walk(d.root, func(n *html.Node) {
		if n.Data != "iframe" {
			return
		}
		if srcdoc := attrVal(n, "srcdoc"); srcdoc != "" {
			sub, err := html.Parse(strings.NewReader(srcdoc))
			if err != nil {
				return
			}
			body := findFirst(sub, "body")
			if body == nil {
				body = sub
			}
			out = append(out, &Document{root: body, origin: d.origin, st: d.st})
			return
		}
		if src := attrVal(n, "src"); src != "" && !sameOrigin(src, d.origin) {
			return // cross-origin, expected limitation
		}
	})
	return out
}

// ShadowRoots returns declarative open shadow roots under this document.
func (d *Document) ShadowRoots() []dom.Document {
	var out []dom.Document
	d.walk(d.root, func(n *html.Node) {
		// When this document is itself a shadow root, its root template
		// node must not enumerate as a nested root.
		if n == d.root {
			return
		}
		if n.Data == "template" && attrVal(n, "shadowrootmode") == "open" {
			out = append(out, &Document{root: n, origin: d.origin, st: d.st})
		}
	})
	return out
}

func sameOrigin(raw, origin string) bool {
	base, err := url.Parse(origin + "/")
	if err != nil {
		return false
	}
	u, err := base.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme+"://"+u.Host == origin
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findFirst(c, tag); f != nil {
			return f
		}
	}
	return nil
}

func attrVal(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}
