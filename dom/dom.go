// Package dom defines the form-control boundary that formfill operates on.
// Scanning, mapping and filling are written against these interfaces; the
// browser package binds them to a live Chrome page via Rod, and memdom
// binds them to parsed static HTML for tests and offline mapping.
//
// Element kinds form a closed set. The fill executor dispatches on Kind in
// a single switch; nothing else in the pipeline branches on element shape.
package dom

import "strings"

// Kind classifies a form control into the closed set of shapes the fill
// executor knows how to write.
type Kind int

const (
	KindUnknown Kind = iota
	KindText         // text-like <input>: text, email, tel, url, search, password, number, untyped
	KindTextarea
	KindSelect
	KindCheckbox
	KindRadio
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindTextarea:
		return "textarea"
	case KindSelect:
		return "select"
	case KindCheckbox:
		return "checkbox"
	case KindRadio:
		return "radio"
	default:
		return "unknown"
	}
}

// KindOf derives the Kind from an element's tag and type attribute.
// Unrecognised shapes (custom web components, buttons) map to KindUnknown.
func KindOf(tag, typ string) Kind {
	switch strings.ToLower(tag) {
	case "textarea":
		return KindTextarea
	case "select":
		return KindSelect
	case "input":
		switch strings.ToLower(typ) {
		case "checkbox":
			return KindCheckbox
		case "radio":
			return KindRadio
		case "", "text", "email", "tel", "url", "search", "password", "number":
			return KindText
		default:
			return KindUnknown
		}
	default:
		return KindUnknown
	}
}

// EventType names the DOM events the fill executor dispatches. Events are
// bubbling and cancelable; EventInput additionally carries
// inputType="insertText" for frameworks that inspect it.
type EventType string

const (
	EventInput  EventType = "input"
	EventChange EventType = "change"
	EventBlur   EventType = "blur"
)

// Rect is an element's bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Option is one entry of a <select>.
type Option struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// Element is one live form control (or a node on the path to one).
// Implementations hold a reference into their owning document; an Element
// is only valid for the lifetime of that document snapshot.
type Element interface {
	// Handle is a document-unique node identity. Two Elements with equal
	// handles refer to the same underlying node.
	Handle() string

	Tag() string
	Attr(name string) (string, bool)

	// Value returns the control's current live value. Checkbox and radio
	// inputs return their value attribute only while checked.
	Value() string
	SetValue(v string) error

	Checked() bool
	SetChecked(v bool) error

	// SelectOptions lists a <select>'s options; nil for other elements.
	SelectOptions() []Option
	// ClearSelection deselects all options (selectedIndex = -1).
	ClearSelection() error

	// Dispatch fires a bubbling, cancelable event of the given type.
	Dispatch(ev EventType) error

	// CheckValidity runs native constraint validation.
	CheckValidity() bool

	Visible() bool
	Disabled() bool
	Required() bool
	BoundingRect() Rect

	// Parent returns the parent element, nil at the root.
	Parent() Element
	// PrevSibling returns the previous element sibling, nil if none.
	PrevSibling() Element
	// Text returns the element's text content with nested form controls
	// excluded, which is what label resolution wants.
	Text() string

	// QueryAll evaluates a CSS selector scoped to this element's subtree.
	QueryAll(selector string) ([]Element, error)
}

// Document is one scannable DOM tree: the top page, a same-origin iframe
// document, or an open shadow root.
type Document interface {
	// Root returns the scan root (body for a full document).
	Root() Element
	// QueryAll evaluates a CSS selector against the whole document.
	QueryAll(selector string) ([]Element, error)
	// ElementByID resolves an id, nil when absent.
	ElementByID(id string) Element
	// Origin is the document's origin ("https://host") for same-origin checks.
	Origin() string
	// Frames enumerates same-origin iframe documents. Cross-origin frames
	// are omitted; access failures are an expected environment limitation,
	// never an error.
	Frames() []Document
	// ShadowRoots enumerates open shadow roots directly under this document.
	ShadowRoots() []Document
}
