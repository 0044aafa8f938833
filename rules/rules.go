// Package rules maps scanned field candidates to profile attributes. Two
// sources feed the verdict: persisted per-domain rules (user-authored
// overrides first, then built-in seeds for known ATS platforms), and a
// keyword/type heuristic classifier for whatever rules leave uncovered.
//
// Mapping is deterministic: for a fixed candidate set, profile and domain,
// repeated calls return the same mappings with the same confidences.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/formfill/dom"
	"github.com/hazyhaar/formfill/idgen"
	"github.com/hazyhaar/formfill/profile"
	"github.com/hazyhaar/formfill/scan"
)

// Rule is one mapping instruction: on this domain, the element matched by
// this CSS selector receives this profile field.
type Rule struct {
	ID           string    `json:"id"`
	Domain       string    `json:"domain"` // exact host or wildcard "*.example.com"
	Field        string    `json:"field"`  // profile dot-path
	Selector     string    `json:"selector"`
	Confidence   float64   `json:"confidence"`
	UserOverride bool      `json:"isUserOverride"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Mapping is the engine's verdict for one candidate.
type Mapping struct {
	ID            string  `json:"id"` // == candidate id
	Field         string  `json:"field"`
	Selector      string  `json:"selector"`
	Label         string  `json:"label,omitempty"`
	Placeholder   string  `json:"placeholder,omitempty"`
	Value         string  `json:"value"`
	Confidence    float64 `json:"confidence"`
	Mapped        bool    `json:"isMapped"`
	Conflict      bool    `json:"isConflict"`
	OriginalValue string  `json:"originalValue,omitempty"`
	RuleID        string  `json:"ruleId,omitempty"` // empty for pure heuristic matches
}

// Stats summarises one mapping pass.
type Stats struct {
	Total         int     `json:"total"`
	Mapped        int     `json:"mapped"`
	Unmapped      int     `json:"unmapped"`
	Conflicts     int     `json:"conflicts"`
	AvgConfidence float64 `json:"avgConfidence"`
}

// Result is the outcome of MapFields.
type Result struct {
	Mappings  []Mapping        `json:"mappings"`
	Unmapped  []scan.Candidate `json:"unmappedCandidates"`
	Conflicts []Mapping        `json:"conflicts"`
	Stats     Stats            `json:"stats"`
}

// Store persists user rules. The engine consults its in-memory cache at
// mapping time and writes through on add/remove.
type Store interface {
	Append(ctx context.Context, r Rule) error
	Remove(ctx context.Context, ruleID, domain string) (bool, error)
	LoadAll(ctx context.Context) ([]Rule, error)
}

// Engine resolves candidates to mappings. The user-rule cache is the only
// mutable state; seeds are fixed at construction.
type Engine struct {
	mu    sync.RWMutex
	user  []Rule // insertion order, consulted before seeds
	seeds []Rule
	store Store
	ids   idgen.Generator
	log   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore attaches a persistence backend for user rules.
func WithStore(s Store) Option { return func(e *Engine) { e.store = s } }

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithIDGenerator overrides the rule ID strategy.
func WithIDGenerator(g idgen.Generator) Option { return func(e *Engine) { e.ids = g } }

// New creates an Engine with the built-in seed rules loaded. Call
// LoadPersisted to hydrate user rules from the store.
func New(opts ...Option) *Engine {
	e := &Engine{
		seeds: seedRules(),
		ids:   idgen.Prefixed("rule_", idgen.UUIDv7()),
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// LoadPersisted replaces the user-rule cache with the store's contents.
// A no-op without a store.
func (e *Engine) LoadPersisted(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	loaded, err := e.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("rules: load persisted: %w", err)
	}
	e.mu.Lock()
	e.user = loaded
	e.mu.Unlock()
	e.log.Info("rules: user rules loaded", "count", len(loaded))
	return nil
}

// MapFields resolves each candidate against the rules for domain, then
// heuristically classifies whatever rules left unused. A mapping is only
// emitted when the profile actually holds a value for the resolved field.
func (e *Engine) MapFields(doc dom.Document, candidates []scan.Candidate, prof profile.Profile, domain string) Result {
	domainRules := e.RulesForDomain(domain)
	used := make(map[string]bool, len(candidates))
	var mappings []Mapping

	// Pass 1: rule-driven. Each candidate satisfies at most one rule.
	for _, rule := range domainRules {
		match, score := e.bestCandidateForRule(doc, rule, candidates, used)
		if match == nil {
			continue
		}
		value, ok := profile.GetString(prof, rule.Field)
		if !ok {
			continue // profile has nothing for this field; candidate stays free
		}
		mappings = append(mappings, Mapping{
			ID:          match.ID,
			Field:       rule.Field,
			Selector:    match.Selector,
			Label:       match.Label,
			Placeholder: match.Placeholder,
			Value:       value,
			Confidence:  score,
			Mapped:      true,
			RuleID:      rule.ID,
		})
		used[match.ID] = true
	}

	// Pass 2: heuristic classification of still-unused candidates.
	var unmapped []scan.Candidate
	for i := range candidates {
		c := &candidates[i]
		if used[c.ID] {
			continue
		}
		m, ok := e.heuristicMapping(c, prof, domainRules)
		if !ok {
			unmapped = append(unmapped, *c)
			continue
		}
		mappings = append(mappings, m)
		used[c.ID] = true
	}

	// Conflict detection: mapped candidates that already held a value.
	byID := make(map[string]*scan.Candidate, len(candidates))
	for i := range candidates {
		byID[candidates[i].ID] = &candidates[i]
	}
	var conflicts []Mapping
	for i := range mappings {
		cand := byID[mappings[i].ID]
		if cand != nil && strings.TrimSpace(cand.Value) != "" {
			mappings[i].Conflict = true
			mappings[i].OriginalValue = cand.Value
			conflicts = append(conflicts, mappings[i])
		}
	}

	return Result{
		Mappings:  mappings,
		Unmapped:  unmapped,
		Conflicts: conflicts,
		Stats:     computeStats(mappings, unmapped, conflicts),
	}
}

// heuristicMapping classifies one candidate through the canonical keyword
// table. A guess is only accepted above the 0.3 confidence floor, when no
// domain rule already claims the guessed field, and when the profile holds
// a value for it.
func (e *Engine) heuristicMapping(c *scan.Candidate, prof profile.Profile, domainRules []Rule) (Mapping, bool) {
	hints := FieldHints{Label: c.Label, Placeholder: c.Placeholder, Name: c.Name, Type: c.Type}
	guess := GuessField(hints)
	if guess == "" {
		return Mapping{}, false
	}
	for _, r := range domainRules {
		if r.Field == guess {
			return Mapping{}, false // an explicit rule owns this field
		}
	}
	conf := FieldConfidence(hints, guess)
	if conf <= 0.3 {
		return Mapping{}, false
	}
	value, ok := profile.GetString(prof, guess)
	if !ok {
		return Mapping{}, false
	}
	return Mapping{
		ID:          c.ID,
		Field:       guess,
		Selector:    c.Selector,
		Label:       c.Label,
		Placeholder: c.Placeholder,
		Value:       value,
		Confidence:  conf,
		Mapped:      true,
	}, true
}

// bestCandidateForRule picks the unused candidate with the highest
// selector-confidence × rule-confidence score, or nil.
func (e *Engine) bestCandidateForRule(doc dom.Document, rule Rule, candidates []scan.Candidate, used map[string]bool) (*scan.Candidate, float64) {
	matched := e.selectorMatchSet(doc, rule.Selector)
	if len(matched) == 0 {
		return nil, 0
	}
	selConf := selectorConfidence(rule.Selector)

	var best *scan.Candidate
	bestScore := 0.0
	for i := range candidates {
		c := &candidates[i]
		if used[c.ID] || c.El == nil || !matched[c.El.Handle()] {
			continue
		}
		score := selConf * rule.Confidence
		if best == nil || score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best, bestScore
}

// selectorMatchSet evaluates a rule selector against the live document and
// returns the handles of matched elements. Malformed selectors are treated
// as zero matches, never as errors.
func (e *Engine) selectorMatchSet(doc dom.Document, selector string) map[string]bool {
	els, err := doc.QueryAll(selector)
	if err != nil {
		e.log.Debug("rules: selector rejected", "selector", selector, "error", err)
		return nil
	}
	out := make(map[string]bool, len(els))
	for _, el := range els {
		out[el.Handle()] = true
	}
	return out
}

var (
	reSelectorID    = regexp.MustCompile(`#[a-zA-Z][\w-]*`)
	reSelectorClass = regexp.MustCompile(`\.[a-zA-Z][\w-]*`)
	reSelectorAttr  = regexp.MustCompile(`\[[^\]]+\]`)
	reSelectorElem  = regexp.MustCompile(`^[a-zA-Z][\w-]*`)
)

// selectorConfidence rewards specificity: ID selectors score highest, then
// classes and attributes, then a bare tag. The result sits in [0.5, 0.9].
func selectorConfidence(selector string) float64 {
	score := 0.0
	score += float64(len(reSelectorID.FindAllString(selector, -1))) * 100
	score += float64(len(reSelectorClass.FindAllString(selector, -1))) * 10
	score += float64(len(reSelectorAttr.FindAllString(selector, -1))) * 10
	score += float64(len(reSelectorElem.FindAllString(selector, -1))) * 1
	specificity := math.Min(1, score/200)
	return math.Min(0.9, 0.5+specificity*0.4)
}

func computeStats(mappings []Mapping, unmapped []scan.Candidate, conflicts []Mapping) Stats {
	st := Stats{
		Total:     len(mappings) + len(unmapped),
		Mapped:    len(mappings),
		Unmapped:  len(unmapped),
		Conflicts: len(conflicts),
	}
	if len(mappings) > 0 {
		sum := 0.0
		for _, m := range mappings {
			sum += m.Confidence
		}
		st.AvgConfidence = sum / float64(len(mappings))
	}
	return st
}

// RulesForDomain returns the rules applicable to a host: user rules first,
// then seeds, each group in original order.
func (e *Engine) RulesForDomain(domain string) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Rule
	for _, r := range e.user {
		if MatchDomain(r.Domain, domain) {
			out = append(out, r)
		}
	}
	for _, r := range e.seeds {
		if MatchDomain(r.Domain, domain) {
			out = append(out, r)
		}
	}
	return out
}

// AddUserRule creates, caches and persists a user override rule.
// A non-positive confidence defaults to 1.0.
func (e *Engine) AddUserRule(ctx context.Context, domain, field, selector string, confidence float64) (Rule, error) {
	if confidence <= 0 {
		confidence = 1.0
	}
	now := time.Now().UTC()
	r := Rule{
		ID:           e.ids(),
		Domain:       domain,
		Field:        field,
		Selector:     selector,
		Confidence:   confidence,
		UserOverride: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if e.store != nil {
		if err := e.store.Append(ctx, r); err != nil {
			return Rule{}, fmt.Errorf("rules: persist rule: %w", err)
		}
	}
	e.mu.Lock()
	e.user = append(e.user, r)
	e.mu.Unlock()
	return r, nil
}

// RemoveUserRule removes a user rule by id and domain. The bool reports
// whether a rule was actually removed.
func (e *Engine) RemoveUserRule(ctx context.Context, ruleID, domain string) (bool, error) {
	e.mu.Lock()
	idx := -1
	for i, r := range e.user {
		if r.ID == ruleID && r.Domain == domain && r.UserOverride {
			idx = i
			break
		}
	}
	if idx >= 0 {
		e.user = append(e.user[:idx], e.user[idx+1:]...)
	}
	e.mu.Unlock()

	if idx < 0 {
		return false, nil
	}
	if e.store != nil {
		if _, err := e.store.Remove(ctx, ruleID, domain); err != nil {
			return true, fmt.Errorf("rules: remove persisted rule: %w", err)
		}
	}
	return true, nil
}

// UserRules returns a copy of all cached user rules.
func (e *Engine) UserRules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.user))
	copy(out, e.user)
	return out
}
