// Package scan enumerates fillable form controls on a page and turns each
// one into a normalized Candidate snapshot: label, placeholder, name, type,
// current value, visibility, geometry and a re-locatable CSS selector.
//
// A scan pass is self-contained. Candidates are never mutated after
// creation and are superseded entirely by the next scan; generated ids
// embed a per-scanner counter so ids from different passes never collide.
package scan

import (
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/hazyhaar/formfill/dom"
)

// fieldSelectors is the fixed set of form-control selectors a scan targets.
// Untyped inputs default to text per the HTML spec.
var fieldSelectors = []string{
	`input[type="text"]`,
	`input[type="email"]`,
	`input[type="tel"]`,
	`input[type="url"]`,
	`input[type="search"]`,
	`input[type="password"]`,
	`input[type="number"]`,
	`input:not([type])`,
	`textarea`,
	`select`,
}

// attrAllowlist is the raw attribute set preserved on each candidate.
var attrAllowlist = []string{
	"name", "id", "type", "placeholder", "aria-label", "aria-labelledby",
	"aria-describedby", "data-testid", "data-qa", "class",
}

// Candidate is a scan-time snapshot of one fillable control. It holds a
// live reference to the element; the reference is only valid until the
// page mutates significantly, at which point callers should re-scan.
type Candidate struct {
	ID          string            `json:"id"`
	El          dom.Element       `json:"-"`
	Kind        dom.Kind          `json:"kind"`
	Selector    string            `json:"selector"`
	Label       string            `json:"label,omitempty"`
	Placeholder string            `json:"placeholder,omitempty"`
	Name        string            `json:"name,omitempty"`
	Type        string            `json:"type,omitempty"`
	Value       string            `json:"value"`
	Required    bool              `json:"isRequired"`
	Visible     bool              `json:"isVisible"`
	Rect        dom.Rect          `json:"boundingRect"`
	Attrs       map[string]string `json:"attributes,omitempty"`
}

// Options controls a scan pass. The zero value scans visible, enabled
// controls in the top document only.
type Options struct {
	IncludeHidden   bool
	IncludeDisabled bool
	// MaxDepth bounds shadow-tree recursion. Default 10.
	MaxDepth int
	ShadowDOM bool
	Iframes   bool
}

func (o *Options) defaults() {
	if o.MaxDepth <= 0 {
		o.MaxDepth = 10
	}
}

// Scanner produces Candidates from dom.Documents. Safe for reuse across
// scans; the only state is the id-disambiguation counter.
type Scanner struct {
	logger  *slog.Logger
	scanSeq atomic.Int64
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the scanner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// New creates a Scanner.
func New(opts ...Option) *Scanner {
	s := &Scanner{logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan enumerates candidates in doc, optionally recursing into open shadow
// roots and same-origin iframes. A single element's construction failure is
// logged and skipped; it never aborts the pass.
func (s *Scanner) Scan(doc dom.Document, opts Options) []Candidate {
	opts.defaults()
	seq := s.scanSeq.Add(1)

	out := s.scanDoc(doc, doc.Root(), opts, opts.MaxDepth, seq)

	if opts.Iframes {
		for _, frame := range doc.Frames() {
			out = append(out, s.scanDoc(frame, frame.Root(), opts, opts.MaxDepth, seq)...)
		}
	}
	return out
}

// ScanContainer scans a single container element within doc. Iframes are
// never followed from a container scan.
func (s *Scanner) ScanContainer(doc dom.Document, container dom.Element, opts Options) []Candidate {
	opts.defaults()
	seq := s.scanSeq.Add(1)
	return s.scanDoc(doc, container, opts, opts.MaxDepth, seq)
}

func (s *Scanner) scanDoc(doc dom.Document, root dom.Element, opts Options, depth int, seq int64) []Candidate {
	var out []Candidate
	seen := make(map[string]bool)

	for _, sel := range fieldSelectors {
		els, err := root.QueryAll(sel)
		if err != nil {
			s.logger.Warn("scan: selector failed", "selector", sel, "error", err)
			continue
		}
		for _, el := range els {
			h := el.Handle()
			if seen[h] {
				continue
			}
			seen[h] = true

			if !opts.IncludeHidden && !el.Visible() {
				continue
			}
			if !opts.IncludeDisabled && el.Disabled() {
				continue
			}

			cand, err := s.buildCandidate(doc, el, seq)
			if err != nil {
				s.logger.Warn("scan: candidate construction failed",
					"selector", sel, "error", err)
				continue
			}
			out = append(out, cand)
		}
	}

	if opts.ShadowDOM && depth > 0 {
		for _, shadow := range doc.ShadowRoots() {
			out = append(out, s.scanDoc(shadow, shadow.Root(), opts, depth-1, seq)...)
		}
	}
	return out
}

func (s *Scanner) buildCandidate(doc dom.Document, el dom.Element, seq int64) (Candidate, error) {
	selector := GenerateSelector(el)
	name, _ := el.Attr("name")
	typ, _ := el.Attr("type")
	placeholder, _ := el.Attr("placeholder")

	attrs := make(map[string]string)
	for _, a := range attrAllowlist {
		if v, ok := el.Attr(a); ok && v != "" {
			attrs[a] = v
		}
	}

	return Candidate{
		ID:          s.candidateID(el, selector, seq),
		El:          el,
		Kind:        dom.KindOf(el.Tag(), typ),
		Selector:    selector,
		Label:       resolveLabel(doc, el),
		Placeholder: placeholder,
		Name:        name,
		Type:        typ,
		Value:       el.Value(),
		Required:    el.Required(),
		Visible:     el.Visible(),
		Rect:        el.BoundingRect(),
		Attrs:       attrs,
	}, nil
}

// candidateID prefers the element's native id, then a name-derived id,
// then a hash of the generated selector scoped to this scan pass.
func (s *Scanner) candidateID(el dom.Element, selector string, seq int64) string {
	if id, ok := el.Attr("id"); ok && id != "" {
		return id
	}
	if name, ok := el.Attr("name"); ok && name != "" {
		return "name-" + name
	}
	return "candidate-" + strconv.FormatInt(seq, 10) + "-" + hashString(selector)
}

// GenerateSelector builds a best-effort CSS selector path for el, walking
// at most 5 ancestor levels and stopping early when an id anchors the path.
func GenerateSelector(el dom.Element) string {
	var path []string
	for cur := el; cur != nil && len(path) < 5; cur = cur.Parent() {
		tag := cur.Tag()
		if tag == "body" || tag == "html" {
			break
		}
		sel := tag
		if id, ok := cur.Attr("id"); ok && id != "" {
			path = append([]string{sel + "#" + id}, path...)
			break
		}
		if class, ok := cur.Attr("class"); ok {
			classes := strings.Fields(class)
			if len(classes) > 0 {
				sel += "." + strings.Join(classes, ".")
			}
		}
		if name, ok := cur.Attr("name"); ok && name != "" {
			sel += `[name="` + name + `"]`
		}
		if typ, ok := cur.Attr("type"); ok && typ != "" {
			sel += `[type="` + typ + `"]`
		}
		path = append([]string{sel}, path...)
	}
	return strings.Join(path, " > ")
}

// resolveLabel resolves the candidate's label in priority order:
// label[for], enclosing label, aria-label, aria-labelledby target text,
// nearby sibling or parent-sibling text.
func resolveLabel(doc dom.Document, el dom.Element) string {
	if id, ok := el.Attr("id"); ok && id != "" {
		if labels, err := doc.QueryAll(`label[for="` + id + `"]`); err == nil && len(labels) > 0 {
			if text := labels[0].Text(); text != "" {
				return text
			}
		}
	}

	for cur := el.Parent(); cur != nil; cur = cur.Parent() {
		if cur.Tag() == "label" {
			if text := cur.Text(); text != "" {
				return text
			}
			break
		}
	}

	if v, ok := el.Attr("aria-label"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}

	if ref, ok := el.Attr("aria-labelledby"); ok && ref != "" {
		if target := doc.ElementByID(ref); target != nil {
			if text := target.Text(); text != "" {
				return text
			}
		}
	}

	return nearbyText(el)
}

// nearbyText looks for short text in previous siblings, then in the
// parent's previous siblings. Long runs are ignored as non-labels.
func nearbyText(el dom.Element) string {
	const maxLabelLen = 100
	for sib := el.PrevSibling(); sib != nil; sib = sib.PrevSibling() {
		if text := sib.Text(); text != "" && len(text) < maxLabelLen {
			return text
		}
	}
	if parent := el.Parent(); parent != nil {
		for sib := parent.PrevSibling(); sib != nil; sib = sib.PrevSibling() {
			if text := sib.Text(); text != "" && len(text) < maxLabelLen {
				return text
			}
		}
	}
	return ""
}

// hashString mirrors the 32-bit string hash used for generated ids,
// rendered in base 36.
func hashString(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return strconv.FormatUint(uint64(h.Sum32()), 36)
}
