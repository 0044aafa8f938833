// Package suggest produces ranked value suggestions for a focused form
// field. Four independent sources feed the ranking: the profile value the
// field most likely wants, alternate renderings of that value, reusable
// text snippets for long-form fields, and values the user recently
// committed into the same field.
//
// The engine shares its field classifier with the mapping heuristics in
// package rules, so a field that maps to basics.email during autofill
// suggests the same profile value on focus.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/formfill/dom"
	"github.com/hazyhaar/formfill/idgen"
	"github.com/hazyhaar/formfill/profile"
	"github.com/hazyhaar/formfill/rules"
	"github.com/hazyhaar/formfill/scan"
)

const (
	maxSuggestions  = 3
	maxRecentValues = 5
)

// Type is a suggestion's source.
type Type string

const (
	TypeProfile Type = "profile"
	TypeFormat  Type = "format"
	TypeSnippet Type = "snippet"
	TypeRecent  Type = "recent"
)

// Suggestion is one ranked candidate value.
type Suggestion struct {
	ID          string  `json:"id"`
	Type        Type    `json:"type"`
	Label       string  `json:"label"`
	Value       string  `json:"value"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category,omitempty"` // snippet provenance
}

// Context is the input to one Generate call.
type Context struct {
	Field   scan.Candidate
	Profile profile.Profile
	Domain  string
}

// Result is a ranked, capped suggestion set. Total counts suggestions
// before the cap; HasMore reports whether the cap trimmed any.
type Result struct {
	Suggestions []Suggestion  `json:"suggestions"`
	Total       int           `json:"total"`
	HasMore     bool          `json:"hasMore"`
	Duration    time.Duration `json:"timing"`
}

// Snippet is a reusable text template for long-form answers. Variables
// are profile dot-paths substituted into {{path}} placeholders.
type Snippet struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Template    string    `json:"template"`
	Variables   []string  `json:"variables,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store persists user snippets and recent values across sessions. Default
// snippets are never persisted.
type Store interface {
	PutSnippet(ctx context.Context, s Snippet) error
	DeleteSnippet(ctx context.Context, id string) (bool, error)
	LoadSnippets(ctx context.Context) ([]Snippet, error)
	SaveRecent(ctx context.Context, fieldKey, value string) error
	LoadRecents(ctx context.Context) (map[string][]string, error)
}

// Engine generates suggestions. The snippet library and the per-field
// recent-value lists are its only mutable state.
type Engine struct {
	mu       sync.Mutex
	snippets []Snippet
	recents  map[string][]string

	store Store
	ids   idgen.Generator
	log   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets write-through persistence for snippets and recents.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithIDGenerator sets the snippet id generator.
func WithIDGenerator(g idgen.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

// New creates an Engine pre-loaded with the default snippet library.
func New(opts ...Option) *Engine {
	e := &Engine{
		recents: make(map[string][]string),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.ids == nil {
		e.ids = idgen.Prefixed("snippet_", idgen.UUIDv7())
	}
	e.snippets = defaultSnippets()
	return e
}

// LoadPersisted merges stored snippets and recent values into the engine.
// Stored snippets follow the defaults in listing order.
func (e *Engine) LoadPersisted(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snips, err := e.store.LoadSnippets(ctx)
	if err != nil {
		return fmt.Errorf("suggest: load snippets: %w", err)
	}
	recents, err := e.store.LoadRecents(ctx)
	if err != nil {
		return fmt.Errorf("suggest: load recents: %w", err)
	}
	e.mu.Lock()
	e.snippets = append(e.snippets, snips...)
	for k, vs := range recents {
		if len(vs) > maxRecentValues {
			vs = vs[:maxRecentValues]
		}
		e.recents[k] = vs
	}
	e.mu.Unlock()
	return nil
}

// Generate produces at most three suggestions for the field, ranked by
// descending confidence across all four sources.
func (e *Engine) Generate(c Context) Result {
	start := time.Now()

	var all []Suggestion
	all = append(all, e.profileSuggestions(c)...)
	all = append(all, e.formatSuggestions(c)...)
	if c.Field.Kind == dom.KindTextarea {
		all = append(all, e.snippetSuggestions(c)...)
	}
	all = append(all, e.recentSuggestions(c)...)

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Confidence > all[j].Confidence
	})

	total := len(all)
	capped := all
	if len(capped) > maxSuggestions {
		capped = capped[:maxSuggestions]
	}
	return Result{
		Suggestions: capped,
		Total:       total,
		HasMore:     total > maxSuggestions,
		Duration:    time.Since(start),
	}
}

func hintsOf(f scan.Candidate) rules.FieldHints {
	return rules.FieldHints{
		Label:       f.Label,
		Placeholder: f.Placeholder,
		Name:        f.Name,
		Type:        f.Type,
	}
}

func (e *Engine) profileSuggestions(c Context) []Suggestion {
	field := rules.GuessField(hintsOf(c.Field))
	if field == "" {
		return nil
	}
	value, ok := profile.GetString(c.Profile, field)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	return []Suggestion{{
		ID:          "profile-" + field,
		Type:        TypeProfile,
		Label:       displayName(field),
		Value:       value,
		Confidence:  0.9,
		Description: "From " + field,
	}}
}

func (e *Engine) formatSuggestions(c Context) []Suggestion {
	field := rules.GuessField(hintsOf(c.Field))
	if field == "" {
		return nil
	}
	value, ok := profile.GetString(c.Profile, field)
	if !ok || value == "" {
		return nil
	}

	var out []Suggestion

	if strings.EqualFold(c.Field.Type, "email") && strings.Contains(field, "email") {
		if local, _, found := strings.Cut(value, "@"); found && local != "" {
			out = append(out, Suggestion{
				ID:          "format-email-local",
				Type:        TypeFormat,
				Label:       "Local part only",
				Value:       local,
				Confidence:  0.6,
				Description: "Email without domain",
			})
		}
	}

	if strings.EqualFold(c.Field.Type, "tel") && strings.Contains(field, "phone") {
		for i, f := range phoneFormats(value) {
			out = append(out, Suggestion{
				ID:          fmt.Sprintf("format-phone-%d", i),
				Type:        TypeFormat,
				Label:       f.label,
				Value:       f.value,
				Confidence:  0.7,
				Description: f.description,
			})
		}
	}

	if strings.Contains(strings.ToLower(field), "name") {
		for i, f := range nameFormats(value) {
			out = append(out, Suggestion{
				ID:          fmt.Sprintf("format-name-%d", i),
				Type:        TypeFormat,
				Label:       f.label,
				Value:       f.value,
				Confidence:  0.8,
				Description: f.description,
			})
		}
	}

	return out
}

func (e *Engine) snippetSuggestions(c Context) []Suggestion {
	var out []Suggestion
	for _, sn := range e.relevantSnippets(c.Field) {
		rendered, ok := renderSnippet(sn, c.Profile)
		if !ok {
			e.log.Debug("suggest: snippet skipped, unresolved variables", "snippet", sn.Name)
			continue
		}
		out = append(out, Suggestion{
			ID:          "snippet-" + sn.ID,
			Type:        TypeSnippet,
			Label:       sn.Name,
			Value:       rendered,
			Confidence:  0.7,
			Description: sn.Description,
			Category:    sn.Category,
		})
	}
	return out
}

func (e *Engine) recentSuggestions(c Context) []Suggestion {
	e.mu.Lock()
	recent := append([]string(nil), e.recents[fieldKey(c.Field)]...)
	e.mu.Unlock()

	var out []Suggestion
	for i, v := range recent {
		if strings.TrimSpace(v) == "" {
			continue
		}
		label := v
		if len(label) > 20 {
			label = label[:20] + "..."
		}
		out = append(out, Suggestion{
			ID:          fmt.Sprintf("recent-%d", i),
			Type:        TypeRecent,
			Label:       "Recent: " + label,
			Value:       v,
			Confidence:  0.5 - float64(i)*0.1,
			Description: "Recently used value",
		})
	}
	return out
}

// RecordUsedValue remembers a committed value for the field's key, most
// recent first, deduplicated and capped at five entries.
func (e *Engine) RecordUsedValue(ctx context.Context, field scan.Candidate, value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	key := fieldKey(field)

	e.mu.Lock()
	recent := e.recents[key]
	filtered := make([]string, 0, len(recent)+1)
	filtered = append(filtered, value)
	for _, v := range recent {
		if v != value {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) > maxRecentValues {
		filtered = filtered[:maxRecentValues]
	}
	e.recents[key] = filtered
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveRecent(ctx, key, value); err != nil {
			return fmt.Errorf("suggest: persist recent value: %w", err)
		}
	}
	return nil
}

// AddSnippet stores a user snippet. ID and timestamps are assigned here.
func (e *Engine) AddSnippet(ctx context.Context, name, category, template string, variables []string, description string) (Snippet, error) {
	now := time.Now().UTC()
	sn := Snippet{
		ID:          e.ids(),
		Name:        name,
		Category:    category,
		Template:    template,
		Variables:   variables,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if e.store != nil {
		if err := e.store.PutSnippet(ctx, sn); err != nil {
			return Snippet{}, fmt.Errorf("suggest: persist snippet: %w", err)
		}
	}
	e.mu.Lock()
	e.snippets = append(e.snippets, sn)
	e.mu.Unlock()
	return sn, nil
}

// DeleteSnippet removes a snippet by id. The bool reports whether one was
// actually removed.
func (e *Engine) DeleteSnippet(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	idx := -1
	for i, sn := range e.snippets {
		if sn.ID == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		e.snippets = append(e.snippets[:idx], e.snippets[idx+1:]...)
	}
	e.mu.Unlock()

	if idx < 0 {
		return false, nil
	}
	if e.store != nil {
		if _, err := e.store.DeleteSnippet(ctx, id); err != nil {
			return true, fmt.Errorf("suggest: delete persisted snippet: %w", err)
		}
	}
	return true, nil
}

// Snippets returns the library in listing order.
func (e *Engine) Snippets() []Snippet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Snippet(nil), e.snippets...)
}

// SnippetsByCategory filters the library by category.
func (e *Engine) SnippetsByCategory(category string) []Snippet {
	var out []Snippet
	for _, sn := range e.Snippets() {
		if sn.Category == category {
			out = append(out, sn)
		}
	}
	return out
}

// Hooks are the focus/blur callbacks a host wires into its own event
// source. The engine itself never touches browser events.
type Hooks struct {
	// OnFocus is invoked with the focused field's descriptor.
	OnFocus func(field scan.Candidate)
	// OnBlur is invoked when focus leaves a field, with the value the
	// user committed (empty when nothing was entered).
	OnBlur func(field scan.Candidate, committed string)
}

// Bind builds the hooks for a page session: focus generates suggestions
// and hands them to deliver; blur records the committed value.
func (e *Engine) Bind(prof func() profile.Profile, domain string, deliver func(scan.Candidate, Result)) Hooks {
	return Hooks{
		OnFocus: func(field scan.Candidate) {
			deliver(field, e.Generate(Context{Field: field, Profile: prof(), Domain: domain}))
		},
		OnBlur: func(field scan.Candidate, committed string) {
			if err := e.RecordUsedValue(context.Background(), field, committed); err != nil {
				e.log.Warn("suggest: record committed value", "err", err)
			}
		},
	}
}

// relevantSnippets picks at most three snippets whose category matches
// what the field's label and placeholder suggest it wants.
func (e *Engine) relevantSnippets(f scan.Candidate) []Snippet {
	label := strings.ToLower(f.Label)
	placeholder := strings.ToLower(f.Placeholder)

	var categories []string
	switch {
	case strings.Contains(label, "cover") || strings.Contains(label, "letter") || strings.Contains(placeholder, "cover"):
		categories = []string{"cover-letter", "introduction"}
	case strings.Contains(label, "why") || strings.Contains(label, "motivation") || strings.Contains(placeholder, "why"):
		categories = []string{"motivation", "why-company"}
	case strings.Contains(label, "experience") || strings.Contains(label, "background"):
		categories = []string{"experience", "background"}
	case strings.Contains(label, "availability") || strings.Contains(label, "notice"):
		categories = []string{"availability", "timing"}
	default:
		categories = []string{"general", "introduction"}
	}

	var out []Snippet
	for _, sn := range e.Snippets() {
		for _, cat := range categories {
			if sn.Category == cat {
				out = append(out, sn)
				break
			}
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

// renderSnippet substitutes {{variable}} placeholders from the profile.
// A snippet whose variables cannot all be resolved is not renderable.
func renderSnippet(sn Snippet, prof profile.Profile) (string, bool) {
	rendered := sn.Template
	for _, v := range sn.Variables {
		value, ok := profile.GetString(prof, v)
		if !ok || value == "" {
			return "", false
		}
		rendered = strings.ReplaceAll(rendered, "{{"+v+"}}", value)
	}
	return rendered, true
}

// fieldKey identifies a field across visits for recent-value tracking.
func fieldKey(f scan.Candidate) string {
	typ := f.Type
	if typ == "" {
		typ = "text"
	}
	name := f.Name
	if name == "" {
		name = f.ID
	}
	return typ + "-" + name
}

// displayName renders the last dot-path segment as a label, splitting
// camelCase: "firstName" becomes "First Name".
func displayName(field string) string {
	parts := strings.Split(field, ".")
	last := parts[len(parts)-1]
	if last == "" {
		return field
	}
	var b strings.Builder
	for i, r := range last {
		if i == 0 {
			if r >= 'a' && r <= 'z' {
				r -= 'a' - 'A'
			}
			b.WriteRune(r)
			continue
		}
		if r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

type format struct {
	label, value, description string
}

func phoneFormats(phone string) []format {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case len(d) == 10:
		return []format{
			{
				label:       "US Format",
				value:       fmt.Sprintf("(%s) %s-%s", d[:3], d[3:6], d[6:]),
				description: "Standard US phone format",
			},
			{
				label:       "International",
				value:       fmt.Sprintf("+1 %s %s %s", d[:3], d[3:6], d[6:]),
				description: "International format",
			},
		}
	case len(d) == 11 && d[0] == '1':
		return []format{{
			label:       "Without Country Code",
			value:       d[1:],
			description: "US number without +1",
		}}
	default:
		return nil
	}
}

func nameFormats(fullName string) []format {
	parts := strings.Fields(fullName)
	if len(parts) < 2 {
		return nil
	}
	first := parts[0]
	last := strings.Join(parts[1:], " ")

	return []format{
		{label: "First Last", value: first + " " + last, description: "Standard format"},
		{label: "Last, First", value: last + ", " + first, description: "Last name first"},
		{label: "First Initial", value: first[:1] + ". " + last, description: "With first initial"},
	}
}
