package rules

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/hazyhaar/formfill/dom/memdom"
	"github.com/hazyhaar/formfill/profile"
	"github.com/hazyhaar/formfill/scan"
)

var testProfile = profile.Profile{
	"basics": map[string]any{
		"fullName": "Dana Smith",
		"email":    "dana@example.com",
		"phone":    "5551234567",
		"location": map[string]any{"city": "Lyon"},
		"links":    map[string]any{"linkedin": "https://linkedin.com/in/dana"},
	},
}

const greenhousePage = `<form>
	<label for="name">Full Name</label>
	<input id="name" type="text" name="applicant[name]">
	<label for="email">Email</label>
	<input id="email" type="email" name="applicant[email]">
	<label for="phone">Phone</label>
	<input id="phone" type="tel" name="phone">
	<label for="li">LinkedIn Profile</label>
	<input id="li" type="text" name="urls[linkedin]">
</form>`

func scanPage(t *testing.T, src, origin string) (*memdom.Document, []scan.Candidate) {
	t.Helper()
	doc := memdom.MustParse(src, origin)
	cands := scan.New().Scan(doc, scan.Options{})
	if len(cands) == 0 {
		t.Fatal("scan produced no candidates")
	}
	return doc, cands
}

func TestMapFields_SeedRules(t *testing.T) {
	doc, cands := scanPage(t, greenhousePage, "https://boards.greenhouse.io")
	res := New().MapFields(doc, cands, testProfile, "boards.greenhouse.io")

	if res.Stats.Mapped != 4 {
		t.Fatalf("mapped: got %d, want 4 (stats %+v)", res.Stats.Mapped, res.Stats)
	}
	byField := make(map[string]Mapping)
	for _, m := range res.Mappings {
		byField[m.Field] = m
	}

	name := byField["basics.fullName"]
	if name.Value != "Dana Smith" || name.RuleID != "greenhouse-name" {
		t.Fatalf("fullName mapping: %+v", name)
	}
	email := byField["basics.email"]
	if email.Value != "dana@example.com" || email.RuleID != "greenhouse-email" {
		t.Fatalf("email mapping: %+v", email)
	}
	// Seed-driven mappings carry the seed confidence scaled by selector
	// specificity, never above the rule's own confidence.
	if email.Confidence <= 0 || email.Confidence > 1.0 {
		t.Fatalf("email confidence out of range: %v", email.Confidence)
	}
	if byField["basics.links.linkedin"].RuleID != "greenhouse-linkedin" {
		t.Fatalf("linkedin mapping: %+v", byField["basics.links.linkedin"])
	}
}

func TestMapFields_Deterministic(t *testing.T) {
	doc, cands := scanPage(t, greenhousePage, "https://boards.greenhouse.io")
	e := New()

	first := e.MapFields(doc, cands, testProfile, "boards.greenhouse.io")
	second := e.MapFields(doc, cands, testProfile, "boards.greenhouse.io")

	if !reflect.DeepEqual(first.Mappings, second.Mappings) {
		t.Fatal("repeated mapping produced different mappings")
	}
	if !reflect.DeepEqual(first.Stats, second.Stats) {
		t.Fatalf("stats drifted: %+v vs %+v", first.Stats, second.Stats)
	}
}

func TestMapFields_HeuristicFallback(t *testing.T) {
	// Unknown domain: no rules apply, only the keyword classifier.
	doc, cands := scanPage(t, `<form>
		<label for="e">Email</label><input id="e" type="email" name="contact_email">
		<label for="c">City</label><input id="c" type="text" name="city">
		<label for="x">Favourite color</label><input id="x" type="text" name="color">
	</form>`, "https://careers.example.com")

	res := New().MapFields(doc, cands, testProfile, "careers.example.com")

	byField := make(map[string]Mapping)
	for _, m := range res.Mappings {
		byField[m.Field] = m
	}
	if m, ok := byField["basics.email"]; !ok || m.Value != "dana@example.com" {
		t.Fatalf("email heuristic: %+v", m)
	}
	if m := byField["basics.email"]; m.RuleID != "" {
		t.Fatalf("heuristic mapping must not carry a rule id: %+v", m)
	}
	if m, ok := byField["basics.location.city"]; !ok || m.Value != "Lyon" {
		t.Fatalf("city heuristic: %+v", m)
	}
	// "Favourite color" matches nothing and stays unmapped.
	if len(res.Unmapped) != 1 || res.Unmapped[0].Name != "color" {
		t.Fatalf("unmapped: %+v", res.Unmapped)
	}
}

func TestMapFields_SkipsFieldsAbsentFromProfile(t *testing.T) {
	doc, cands := scanPage(t,
		`<label for="g">GitHub</label><input id="g" type="text" name="github">`,
		"https://careers.example.com")

	res := New().MapFields(doc, cands, testProfile, "careers.example.com")
	if len(res.Mappings) != 0 {
		t.Fatalf("mappings for absent profile field: %+v", res.Mappings)
	}
	if len(res.Unmapped) != 1 {
		t.Fatalf("unmapped: got %d, want 1", len(res.Unmapped))
	}
}

func TestMapFields_ConflictDetection(t *testing.T) {
	doc, cands := scanPage(t,
		`<label for="email">Email</label>
		 <input id="email" type="email" name="applicant[email]" value="old@example.com">`,
		"https://boards.greenhouse.io")

	res := New().MapFields(doc, cands, testProfile, "boards.greenhouse.io")
	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts: got %d, want 1", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if !c.Conflict || c.OriginalValue != "old@example.com" || c.Value != "dana@example.com" {
		t.Fatalf("conflict mapping: %+v", c)
	}
	if res.Stats.Conflicts != 1 {
		t.Fatalf("stats conflicts: got %d", res.Stats.Conflicts)
	}
}

func TestMapFields_UserRuleBeatsSeed(t *testing.T) {
	doc, cands := scanPage(t, greenhousePage, "https://boards.greenhouse.io")
	e := New()
	// Point the email field at the name input, overriding the seed.
	if _, err := e.AddUserRule(context.Background(),
		"boards.greenhouse.io", "basics.email", `input#name`, 1.0); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	res := e.MapFields(doc, cands, testProfile, "boards.greenhouse.io")
	for _, m := range res.Mappings {
		if m.Field == "basics.email" {
			if m.ID != "name" {
				t.Fatalf("user rule ignored: email mapped to %q", m.ID)
			}
			return
		}
	}
	t.Fatal("no email mapping produced")
}

func TestMapFields_EachCandidateMappedOnce(t *testing.T) {
	doc, cands := scanPage(t, greenhousePage, "https://boards.greenhouse.io")
	res := New().MapFields(doc, cands, testProfile, "boards.greenhouse.io")

	seen := make(map[string]bool)
	for _, m := range res.Mappings {
		if seen[m.ID] {
			t.Fatalf("candidate %q mapped twice", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestMapFields_MalformedRuleSelector(t *testing.T) {
	doc, cands := scanPage(t,
		`<label for="e">Email</label><input id="e" type="email" name="email">`,
		"https://careers.example.com")
	e := New()
	if _, err := e.AddUserRule(context.Background(),
		"careers.example.com", "basics.email", "input[[broken", 1.0); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	// The broken selector matches nothing; an explicit rule for the field
	// also disables the heuristic for it, so the candidate stays unmapped.
	res := e.MapFields(doc, cands, testProfile, "careers.example.com")
	if len(res.Mappings) != 0 {
		t.Fatalf("mappings: %+v", res.Mappings)
	}
}

func TestGuessField(t *testing.T) {
	cases := []struct {
		name  string
		hints FieldHints
		want  string
	}{
		{"email type", FieldHints{Type: "email"}, "basics.email"},
		{"tel type", FieldHints{Type: "tel"}, "basics.phone"},
		{"first name label", FieldHints{Label: "First Name"}, "basics.firstName"},
		{"surname", FieldHints{Label: "Surname"}, "basics.lastName"},
		{"specific beats generic", FieldHints{Label: "First name", Name: "name"}, "basics.firstName"},
		{"full name", FieldHints{Label: "Full Name"}, "basics.fullName"},
		{"linkedin", FieldHints{Placeholder: "LinkedIn URL"}, "basics.links.linkedin"},
		{"city", FieldHints{Name: "city"}, "basics.location.city"},
		{"work auth", FieldHints{Label: "Are you eligible to work in the US?"}, "answers.workAuthorizationUS"},
		{"no match", FieldHints{Label: "Favourite color"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GuessField(tc.hints); got != tc.want {
				t.Fatalf("guess: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFieldConfidence(t *testing.T) {
	if got := FieldConfidence(FieldHints{Name: "email"}, "basics.email"); got != 0.9 {
		t.Fatalf("exact name match: got %v, want 0.9", got)
	}
	if got := FieldConfidence(FieldHints{Type: "email"}, "basics.email"); got != 0.8 {
		t.Fatalf("type-backed match: got %v, want 0.8", got)
	}
	if got := FieldConfidence(FieldHints{Label: "phon number"}, "basics.phone"); got != 0.6 {
		t.Fatalf("partial match: got %v, want 0.6", got)
	}
	if got := FieldConfidence(FieldHints{Label: "x"}, "basics.phone"); got != 0.3 {
		t.Fatalf("floor: got %v, want 0.3", got)
	}
	if got := FieldConfidence(FieldHints{}, ""); got != 0 {
		t.Fatalf("empty field: got %v, want 0", got)
	}
}

func TestMatchDomain(t *testing.T) {
	cases := []struct {
		pattern, host string
		want          bool
	}{
		{"boards.greenhouse.io", "boards.greenhouse.io", true},
		{"boards.greenhouse.io", "jobs.greenhouse.io", false},
		{"*.myworkdayjobs.com", "acme.myworkdayjobs.com", true},
		{"*.myworkdayjobs.com", "a.b.myworkdayjobs.com", true},
		{"*.myworkdayjobs.com", "myworkdayjobs.com", false},
		{"*.myworkdayjobs.com", "evilmyworkdayjobs.com", false},
	}
	for _, tc := range cases {
		if got := MatchDomain(tc.pattern, tc.host); got != tc.want {
			t.Fatalf("MatchDomain(%q, %q): got %v, want %v", tc.pattern, tc.host, got, tc.want)
		}
	}
}

func TestRulesForDomain_UserFirst(t *testing.T) {
	e := New()
	r, err := e.AddUserRule(context.Background(),
		"boards.greenhouse.io", "basics.email", "#custom", 1.0)
	if err != nil {
		t.Fatalf("add rule: %v", err)
	}

	got := e.RulesForDomain("boards.greenhouse.io")
	if len(got) == 0 || got[0].ID != r.ID {
		t.Fatalf("user rule not first: %+v", got)
	}
	if !got[0].UserOverride {
		t.Fatal("user rule not flagged as override")
	}
	// Seeds follow.
	foundSeed := false
	for _, rule := range got[1:] {
		if rule.ID == "greenhouse-email" {
			foundSeed = true
		}
	}
	if !foundSeed {
		t.Fatal("seed rules missing from domain rules")
	}
}

func TestAddRemoveUserRule(t *testing.T) {
	e := New()
	ctx := context.Background()

	r, err := e.AddUserRule(ctx, "careers.example.com", "basics.phone", "#phone", 0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if r.Confidence != 1.0 {
		t.Fatalf("default confidence: got %v, want 1.0", r.Confidence)
	}
	if r.ID == "" || r.CreatedAt.IsZero() {
		t.Fatalf("rule not initialised: %+v", r)
	}

	removed, err := e.RemoveUserRule(ctx, r.ID, "careers.example.com")
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	if got := len(e.UserRules()); got != 0 {
		t.Fatalf("user rules after remove: got %d", got)
	}

	removed, err = e.RemoveUserRule(ctx, r.ID, "careers.example.com")
	if err != nil || removed {
		t.Fatalf("second remove: removed=%v err=%v", removed, err)
	}
}

// fakeStore records mutations and serves LoadAll.
type fakeStore struct {
	rules   []Rule
	failAdd bool
}

func (f *fakeStore) Append(_ context.Context, r Rule) error {
	if f.failAdd {
		return errors.New("disk full")
	}
	f.rules = append(f.rules, r)
	return nil
}

func (f *fakeStore) Remove(_ context.Context, ruleID, domain string) (bool, error) {
	for i, r := range f.rules {
		if r.ID == ruleID && r.Domain == domain {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) LoadAll(context.Context) ([]Rule, error) { return f.rules, nil }

func TestStore_WriteThrough(t *testing.T) {
	st := &fakeStore{}
	e := New(WithStore(st))
	ctx := context.Background()

	r, err := e.AddUserRule(ctx, "careers.example.com", "basics.email", "#e", 1.0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(st.rules) != 1 || st.rules[0].ID != r.ID {
		t.Fatalf("store not written: %+v", st.rules)
	}

	if _, err := e.RemoveUserRule(ctx, r.ID, "careers.example.com"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(st.rules) != 0 {
		t.Fatalf("store rule not removed: %+v", st.rules)
	}
}

func TestStore_AddFailureLeavesCacheUntouched(t *testing.T) {
	e := New(WithStore(&fakeStore{failAdd: true}))
	if _, err := e.AddUserRule(context.Background(), "d", "f", "#s", 1.0); err == nil {
		t.Fatal("expected persist error")
	}
	if got := len(e.UserRules()); got != 0 {
		t.Fatalf("cache grew despite persist failure: %d", got)
	}
}

func TestLoadPersisted(t *testing.T) {
	st := &fakeStore{rules: []Rule{
		{ID: "r1", Domain: "careers.example.com", Field: "basics.email", Selector: "#e", Confidence: 1, UserOverride: true},
	}}
	e := New(WithStore(st))
	if err := e.LoadPersisted(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := len(e.UserRules()); got != 1 {
		t.Fatalf("loaded rules: got %d, want 1", got)
	}
}
