package browser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/formfill/dom"
)

// pageDocument binds a live Rod page (or one of its same-origin iframe
// documents / open shadow roots) to dom.Document.
type pageDocument struct {
	page   *rod.Page
	root   *rod.Element
	origin string
	log    *slog.Logger
}

var _ dom.Document = (*pageDocument)(nil)

func newPageDocument(page *rod.Page) (*pageDocument, error) {
	body, err := page.Element("body")
	if err != nil {
		return nil, fmt.Errorf("browser: page has no body: %w", err)
	}
	res, err := page.Eval(`() => location.origin`)
	if err != nil {
		return nil, fmt.Errorf("browser: read origin: %w", err)
	}
	return &pageDocument{
		page:   page,
		root:   body,
		origin: res.Value.Str(),
		log:    slog.Default(),
	}, nil
}

func (d *pageDocument) wrap(el *rod.Element) dom.Element {
	return &pageElement{d: d, el: el}
}

func (d *pageDocument) Root() dom.Element { return d.wrap(d.root) }

func (d *pageDocument) QueryAll(selector string) ([]dom.Element, error) {
	els, err := d.root.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		out = append(out, d.wrap(el))
	}
	return out, nil
}

func (d *pageDocument) ElementByID(id string) dom.Element {
	els, err := d.QueryAll(fmt.Sprintf(`[id=%q]`, id))
	if err != nil || len(els) == 0 {
		return nil
	}
	return els[0]
}

func (d *pageDocument) Origin() string { return d.origin }

// Frames enumerates same-origin iframe documents. Cross-origin frames are
// skipped silently; CDP denies access to them and that is an expected
// environment limitation, not an error.
func (d *pageDocument) Frames() []dom.Document {
	iframes, err := d.root.Elements("iframe")
	if err != nil {
		d.log.Debug("browser: enumerate iframes", "err", err)
		return nil
	}

	var out []dom.Document
	for _, ifr := range iframes {
		fp, err := ifr.Frame()
		if err != nil {
			continue
		}
		sub, err := newPageDocument(fp)
		if err != nil {
			continue
		}
		if sub.origin != d.origin {
			continue
		}
		out = append(out, sub)
	}
	return out
}

// ShadowRoots enumerates open shadow roots directly under this document.
func (d *pageDocument) ShadowRoots() []dom.Document {
	hosts, err := d.root.Elements("*")
	if err != nil {
		d.log.Debug("browser: enumerate shadow hosts", "err", err)
		return nil
	}

	var out []dom.Document
	for _, host := range hosts {
		sr, err := host.ShadowRoot()
		if err != nil || sr == nil {
			continue
		}
		out = append(out, &pageDocument{page: d.page, root: sr, origin: d.origin, log: d.log})
	}
	return out
}

// pageElement is one live form control on a Rod page. CDP evaluation
// failures on read paths degrade to zero values; the scan layer treats a
// broken element as skippable, never fatal.
type pageElement struct {
	d  *pageDocument
	el *rod.Element
}

var _ dom.Element = (*pageElement)(nil)

func (e *pageElement) Handle() string {
	return string(e.el.Object.ObjectID)
}

func (e *pageElement) Tag() string {
	res, err := e.el.Eval(`() => this.tagName.toLowerCase()`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func (e *pageElement) Attr(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func (e *pageElement) Value() string {
	res, err := e.el.Eval(`() => {
		if (this instanceof HTMLInputElement && (this.type === 'checkbox' || this.type === 'radio')) {
			return this.checked ? this.value : '';
		}
		return this.value ?? '';
	}`)
	if err != nil {
		e.d.log.Debug("browser: read value", "err", err)
		return ""
	}
	return res.Value.Str()
}

// SetValue writes through the platform's native value setter so that
// frameworks shadowing the value property (React controlled components)
// still see the change on the next input event.
func (e *pageElement) SetValue(v string) error {
	_, err := e.el.Eval(`(v) => {
		const proto = this.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype
			: this.tagName === 'SELECT' ? HTMLSelectElement.prototype
			: HTMLInputElement.prototype;
		const desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) {
			desc.set.call(this, v);
		} else {
			this.value = v;
		}
	}`, v)
	if err != nil {
		return fmt.Errorf("browser: set value: %w", err)
	}
	return nil
}

func (e *pageElement) Checked() bool {
	res, err := e.el.Eval(`() => !!this.checked`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

func (e *pageElement) SetChecked(v bool) error {
	_, err := e.el.Eval(`(v) => {
		const desc = Object.getOwnPropertyDescriptor(HTMLInputElement.prototype, 'checked');
		if (desc && desc.set) {
			desc.set.call(this, v);
		} else {
			this.checked = v;
		}
	}`, v)
	if err != nil {
		return fmt.Errorf("browser: set checked: %w", err)
	}
	return nil
}

func (e *pageElement) SelectOptions() []dom.Option {
	res, err := e.el.Eval(`() => {
		if (!(this instanceof HTMLSelectElement)) return '[]';
		return JSON.stringify(Array.from(this.options).map(o => ({value: o.value, text: o.text})));
	}`)
	if err != nil {
		e.d.log.Debug("browser: read options", "err", err)
		return nil
	}
	var opts []dom.Option
	if err := json.Unmarshal([]byte(res.Value.Str()), &opts); err != nil {
		return nil
	}
	return opts
}

func (e *pageElement) ClearSelection() error {
	_, err := e.el.Eval(`() => { this.selectedIndex = -1; }`)
	if err != nil {
		return fmt.Errorf("browser: clear selection: %w", err)
	}
	return nil
}

// Dispatch fires a bubbling, cancelable event. Input events carry
// inputType "insertText" and re-invoke the native value setter first, the
// combination framework change-detection needs to notice external writes.
func (e *pageElement) Dispatch(ev dom.EventType) error {
	_, err := e.el.Eval(`(type) => {
		if (type === 'input') {
			const proto = this.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype
				: this.tagName === 'SELECT' ? HTMLSelectElement.prototype
				: HTMLInputElement.prototype;
			const desc = Object.getOwnPropertyDescriptor(proto, 'value');
			if (desc && desc.set && this.value !== undefined) {
				desc.set.call(this, this.value);
			}
			this.dispatchEvent(new InputEvent('input', { bubbles: true, cancelable: true, inputType: 'insertText' }));
			return;
		}
		if (type === 'blur') {
			this.dispatchEvent(new FocusEvent('blur', { bubbles: true, cancelable: true }));
			return;
		}
		this.dispatchEvent(new Event(type, { bubbles: true, cancelable: true }));
	}`, string(ev))
	if err != nil {
		return fmt.Errorf("browser: dispatch %s: %w", ev, err)
	}
	return nil
}

func (e *pageElement) CheckValidity() bool {
	res, err := e.el.Eval(`() => typeof this.checkValidity === 'function' ? this.checkValidity() : true`)
	if err != nil {
		return true
	}
	return res.Value.Bool()
}

func (e *pageElement) Visible() bool {
	res, err := e.el.Eval(`() => {
		const s = window.getComputedStyle(this);
		if (s.display === 'none' || s.visibility === 'hidden') return false;
		const r = this.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	}`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

func (e *pageElement) Disabled() bool {
	res, err := e.el.Eval(`() => !!this.disabled`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

func (e *pageElement) Required() bool {
	res, err := e.el.Eval(`() => !!this.required`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

func (e *pageElement) BoundingRect() dom.Rect {
	res, err := e.el.Eval(`() => {
		const r = this.getBoundingClientRect();
		return JSON.stringify({x: r.x, y: r.y, width: r.width, height: r.height});
	}`)
	if err != nil {
		return dom.Rect{}
	}
	var rect dom.Rect
	if err := json.Unmarshal([]byte(res.Value.Str()), &rect); err != nil {
		return dom.Rect{}
	}
	return rect
}

func (e *pageElement) Parent() dom.Element {
	if e.el.Object.ObjectID == e.d.root.Object.ObjectID {
		return nil
	}
	p, err := e.el.Parent()
	if err != nil {
		return nil
	}
	return e.d.wrap(p)
}

func (e *pageElement) PrevSibling() dom.Element {
	p, err := e.el.Previous()
	if err != nil {
		return nil
	}
	return e.d.wrap(p)
}

// Text returns the element's text with nested form controls excluded,
// whitespace-normalized. This is what nearby-label resolution reads.
func (e *pageElement) Text() string {
	res, err := e.el.Eval(`() => {
		const clone = this.cloneNode(true);
		clone.querySelectorAll('input, textarea, select, button').forEach(n => n.remove());
		return clone.textContent || '';
	}`)
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(res.Value.Str()), " ")
}

func (e *pageElement) QueryAll(selector string) ([]dom.Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		out = append(out, e.d.wrap(el))
	}
	return out, nil
}
