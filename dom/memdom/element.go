package memdom

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/formfill/dom"
)

// element implements dom.Element over one html.Node.
type element struct {
	d *Document
	n *html.Node
}

var _ dom.Element = (*element)(nil)

func (e *element) Handle() string { return e.d.st.handle(e.n) }

func (e *element) Tag() string { return strings.ToLower(e.n.Data) }

func (e *element) Attr(name string) (string, bool) {
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *element) kind() dom.Kind {
	typ, _ := e.Attr("type")
	return dom.KindOf(e.Tag(), typ)
}

func (e *element) Value() string {
	st := e.d.st
	switch e.kind() {
	case dom.KindCheckbox, dom.KindRadio:
		if !e.Checked() {
			return ""
		}
		if v, ok := e.Attr("value"); ok {
			return v
		}
		return "on"
	case dom.KindSelect:
		return e.selectedValue()
	case dom.KindTextarea:
		st.mu.Lock()
		set, v := st.valueSet[e.n], st.values[e.n]
		st.mu.Unlock()
		if set {
			return v
		}
		return strings.TrimSpace(rawText(e.n))
	default:
		st.mu.Lock()
		set, v := st.valueSet[e.n], st.values[e.n]
		st.mu.Unlock()
		if set {
			return v
		}
		v, _ = e.Attr("value")
		return v
	}
}

func (e *element) SetValue(v string) error {
	st := e.d.st
	if e.kind() == dom.KindSelect {
		// Mirrors native select.value: an unmatched value clears selection.
		match := ""
		for _, opt := range e.SelectOptions() {
			if opt.Value == v {
				match = v
				break
			}
		}
		st.mu.Lock()
		st.selected[e.n] = match
		st.selSet[e.n] = true
		st.mu.Unlock()
		return nil
	}
	st.mu.Lock()
	st.values[e.n] = v
	st.valueSet[e.n] = true
	st.mu.Unlock()
	return nil
}

func (e *element) Checked() bool {
	st := e.d.st
	st.mu.Lock()
	set, v := st.chkSet[e.n], st.checked[e.n]
	st.mu.Unlock()
	if set {
		return v
	}
	return hasAttr(e.n, "checked")
}

func (e *element) SetChecked(v bool) error {
	st := e.d.st
	st.mu.Lock()
	st.checked[e.n] = v
	st.chkSet[e.n] = true
	st.mu.Unlock()
	return nil
}

func (e *element) SelectOptions() []dom.Option {
	if e.kind() != dom.KindSelect {
		return nil
	}
	var opts []dom.Option
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "option" {
				text := strings.TrimSpace(rawText(c))
				val := attrVal(c, "value")
				if !hasAttr(c, "value") {
					val = text
				}
				opts = append(opts, dom.Option{Value: val, Text: text})
				continue
			}
			walk(c)
		}
	}
	walk(e.n)
	return opts
}

func (e *element) selectedValue() string {
	st := e.d.st
	st.mu.Lock()
	set, v := st.selSet[e.n], st.selected[e.n]
	st.mu.Unlock()
	if set {
		return v
	}
	opts := e.SelectOptions()
	var walk func(*html.Node) string
	walk = func(n *html.Node) string {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "option" && hasAttr(c, "selected") {
				if hasAttr(c, "value") {
					return attrVal(c, "value")
				}
				return strings.TrimSpace(rawText(c))
			}
			if v := walk(c); v != "" {
				return v
			}
		}
		return ""
	}
	if v := walk(e.n); v != "" {
		return v
	}
	// Native selects default to their first option.
	if len(opts) > 0 {
		return opts[0].Value
	}
	return ""
}

func (e *element) ClearSelection() error {
	st := e.d.st
	st.mu.Lock()
	st.selected[e.n] = ""
	st.selSet[e.n] = true
	st.mu.Unlock()
	return nil
}

func (e *element) Dispatch(ev dom.EventType) error {
	d := Dispatched{Handle: e.Handle(), Type: ev}
	if ev == dom.EventInput {
		d.InputType = "insertText"
	}
	e.d.st.record(d)
	return nil
}

func (e *element) CheckValidity() bool {
	if e.Disabled() {
		return true
	}
	val := e.Value()
	switch e.kind() {
	case dom.KindSelect:
		return val != "" || !e.Required()
	case dom.KindCheckbox, dom.KindRadio:
		return !e.Required() || e.Checked()
	}
	if e.Required() && strings.TrimSpace(val) == "" {
		return false
	}
	if val == "" {
		return true
	}
	typ, _ := e.Attr("type")
	switch strings.ToLower(typ) {
	case "email":
		at := strings.Index(val, "@")
		if at <= 0 || at == len(val)-1 {
			return false
		}
	case "url":
		if !strings.HasPrefix(val, "http://") && !strings.HasPrefix(val, "https://") {
			return false
		}
	case "number":
		if _, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err != nil {
			return false
		}
	}
	if pat, ok := e.Attr("pattern"); ok && pat != "" {
		re, err := regexp.Compile("^(?:" + pat + ")$")
		if err == nil && !re.MatchString(val) {
			return false
		}
	}
	if ml, ok := e.Attr("maxlength"); ok {
		if n, err := strconv.Atoi(ml); err == nil && len([]rune(val)) > n {
			return false
		}
	}
	return true
}

// Visible applies the scan-time visibility rule: not display:none or
// visibility:hidden on the element or an ancestor, no hidden attribute,
// and a non-empty bounding box.
func (e *element) Visible() bool {
	for n := e.n; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if hasAttr(n, "hidden") {
			return false
		}
		style := strings.ReplaceAll(attrVal(n, "style"), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return !e.BoundingRect().Empty()
}

func (e *element) Disabled() bool { return hasAttr(e.n, "disabled") }

func (e *element) Required() bool {
	if hasAttr(e.n, "required") {
		return true
	}
	return attrVal(e.n, "aria-required") == "true"
}

// BoundingRect synthesises a box from width/height attributes, defaulting
// to a plausible control size. Style-hidden elements get an empty box.
func (e *element) BoundingRect() dom.Rect {
	for n := e.n; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		style := strings.ReplaceAll(attrVal(n, "style"), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return dom.Rect{}
		}
	}
	w, h := 120.0, 24.0
	if v, ok := e.Attr("width"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			w = f
		}
	}
	if v, ok := e.Attr("height"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			h = f
		}
	}
	return dom.Rect{Width: w, Height: h}
}

func (e *element) Parent() dom.Element {
	if e.n == e.d.root {
		return nil
	}
	for n := e.n.Parent; n != nil; n = n.Parent {
		if n.Type == html.ElementNode {
			if n == e.d.root.Parent {
				return nil
			}
			return &element{d: e.d, n: n}
		}
	}
	return nil
}

func (e *element) PrevSibling() dom.Element {
	for n := e.n.PrevSibling; n != nil; n = n.PrevSibling {
		if n.Type == html.ElementNode {
			return &element{d: e.d, n: n}
		}
	}
	return nil
}

// Text returns text content with nested form controls excluded.
func (e *element) Text() string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "input", "textarea", "select", "button", "script", "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func (e *element) QueryAll(selector string) ([]dom.Element, error) {
	return e.d.queryFrom(e.n, selector)
}

// rawText concatenates all text nodes under n verbatim.
func rawText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
