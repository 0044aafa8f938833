package scan

import (
	"strings"
	"testing"

	"github.com/hazyhaar/formfill/dom"
	"github.com/hazyhaar/formfill/dom/memdom"
)

const applicationForm = `<form>
	<label for="name">Full Name</label>
	<input id="name" type="text" name="applicant[name]" required>

	<label for="email">Email Address</label>
	<input id="email" type="email" name="applicant[email]">

	<div class="field">
		<span>Phone</span>
		<input type="tel" name="phone">
	</div>

	<label>Cover Letter <textarea name="cover_letter"></textarea></label>

	<select name="country">
		<option value="">Select...</option>
		<option value="fr">France</option>
	</select>

	<input type="checkbox" name="remote_ok">
	<input type="radio" name="source" value="referral">
	<input type="submit" value="Apply">
	<button type="button">Cancel</button>
</form>`

func TestScan_FindsFillableControls(t *testing.T) {
	doc := memdom.MustParse(applicationForm, "https://boards.greenhouse.io")
	cands := New().Scan(doc, Options{})

	if len(cands) != 5 {
		t.Fatalf("candidates: got %d, want 5", len(cands))
	}

	byName := make(map[string]Candidate)
	for _, c := range cands {
		byName[c.Name] = c
	}
	for _, name := range []string{"applicant[name]", "applicant[email]", "phone", "cover_letter", "country"} {
		if _, ok := byName[name]; !ok {
			t.Fatalf("missing candidate %q", name)
		}
	}
	// Checkboxes, radios and buttons are not scan targets.
	for _, name := range []string{"remote_ok", "source"} {
		if _, ok := byName[name]; ok {
			t.Fatalf("unexpected candidate %q", name)
		}
	}
}

func TestScan_CandidateSnapshot(t *testing.T) {
	doc := memdom.MustParse(applicationForm, "https://boards.greenhouse.io")
	cands := New().Scan(doc, Options{})

	var email Candidate
	for _, c := range cands {
		if c.Name == "applicant[email]" {
			email = c
		}
	}
	if email.ID != "email" {
		t.Fatalf("id: got %q, want native id", email.ID)
	}
	if email.Kind != dom.KindText {
		t.Fatalf("kind: got %v", email.Kind)
	}
	if email.Label != "Email Address" {
		t.Fatalf("label: got %q", email.Label)
	}
	if email.Type != "email" {
		t.Fatalf("type: got %q", email.Type)
	}
	if !email.Visible {
		t.Fatal("visible: got false")
	}
	if email.Attrs["name"] != "applicant[email]" {
		t.Fatalf("attrs: got %v", email.Attrs)
	}
}

func TestScan_LabelResolution(t *testing.T) {
	doc := memdom.MustParse(applicationForm, "https://boards.greenhouse.io")
	cands := New().Scan(doc, Options{})

	want := map[string]string{
		"applicant[name]": "Full Name",    // label[for]
		"phone":           "Phone",        // nearby sibling text
		"cover_letter":    "Cover Letter", // enclosing label
	}
	for _, c := range cands {
		if w, ok := want[c.Name]; ok && c.Label != w {
			t.Fatalf("%s label: got %q, want %q", c.Name, c.Label, w)
		}
	}
}

func TestScan_AriaLabels(t *testing.T) {
	doc := memdom.MustParse(`
		<input type="text" name="a" aria-label="Given name">
		<span id="ref">City of residence</span>
		<input type="text" name="b" aria-labelledby="ref">
	`, "https://example.com")
	cands := New().Scan(doc, Options{})
	if len(cands) != 2 {
		t.Fatalf("candidates: got %d", len(cands))
	}
	byName := map[string]string{}
	for _, c := range cands {
		byName[c.Name] = c.Label
	}
	if byName["a"] != "Given name" {
		t.Fatalf("aria-label: got %q", byName["a"])
	}
	if byName["b"] != "City of residence" {
		t.Fatalf("aria-labelledby: got %q", byName["b"])
	}
}

func TestScan_HiddenAndDisabled(t *testing.T) {
	src := `
		<input type="text" name="shown">
		<input type="text" name="hid" hidden>
		<input type="text" name="off" disabled>
	`
	doc := memdom.MustParse(src, "https://example.com")
	s := New()

	cands := s.Scan(doc, Options{})
	if len(cands) != 1 || cands[0].Name != "shown" {
		t.Fatalf("default scan: got %d candidates", len(cands))
	}

	cands = s.Scan(doc, Options{IncludeHidden: true})
	if len(cands) != 2 {
		t.Fatalf("with hidden: got %d, want 2", len(cands))
	}

	cands = s.Scan(doc, Options{IncludeHidden: true, IncludeDisabled: true})
	if len(cands) != 3 {
		t.Fatalf("with hidden and disabled: got %d, want 3", len(cands))
	}
}

func TestScan_Idempotent(t *testing.T) {
	doc := memdom.MustParse(applicationForm, "https://boards.greenhouse.io")
	s := New()

	first := s.Scan(doc, Options{})
	second := s.Scan(doc, Options{})

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Selector != second[i].Selector {
			t.Fatalf("candidate %d selector drifted: %q vs %q",
				i, first[i].Selector, second[i].Selector)
		}
		if first[i].ID != second[i].ID {
			t.Fatalf("candidate %d id drifted: %q vs %q", i, first[i].ID, second[i].ID)
		}
	}
}

func TestScan_GeneratedIDsUniquePerPass(t *testing.T) {
	// No id, no name: ids fall back to a per-pass hash.
	doc := memdom.MustParse(`<input type="text"><input type="search">`, "https://example.com")
	cands := New().Scan(doc, Options{})
	if len(cands) != 2 {
		t.Fatalf("candidates: got %d", len(cands))
	}
	for _, c := range cands {
		if !strings.HasPrefix(c.ID, "candidate-") {
			t.Fatalf("generated id: got %q", c.ID)
		}
	}
	if cands[0].ID == cands[1].ID {
		t.Fatalf("ids collide: %q", cands[0].ID)
	}
}

func TestScan_ShadowDOM(t *testing.T) {
	doc := memdom.MustParse(`
		<input type="text" name="top">
		<div><template shadowrootmode="open">
			<input type="text" name="shadowed">
		</template></div>
	`, "https://example.com")
	s := New()

	if got := len(s.Scan(doc, Options{})); got != 1 {
		t.Fatalf("without shadow: got %d, want 1", got)
	}
	cands := s.Scan(doc, Options{ShadowDOM: true})
	if len(cands) != 2 {
		t.Fatalf("with shadow: got %d, want 2", len(cands))
	}
}

func TestScan_Iframes(t *testing.T) {
	doc := memdom.MustParse(`
		<input type="text" name="top">
		<iframe srcdoc="&lt;input type='text' name='framed'&gt;"></iframe>
	`, "https://example.com")
	s := New()

	if got := len(s.Scan(doc, Options{})); got != 1 {
		t.Fatalf("without iframes: got %d, want 1", got)
	}
	if got := len(s.Scan(doc, Options{Iframes: true})); got != 2 {
		t.Fatalf("with iframes: got %d, want 2", got)
	}
}

func TestScanContainer(t *testing.T) {
	doc := memdom.MustParse(`
		<div id="step-1"><input type="text" name="inside"></div>
		<div id="step-2"><input type="text" name="outside"></div>
	`, "https://example.com")
	container := doc.ElementByID("step-1")
	if container == nil {
		t.Fatal("container not found")
	}
	cands := New().ScanContainer(doc, container, Options{})
	if len(cands) != 1 || cands[0].Name != "inside" {
		t.Fatalf("container scan: got %+v", cands)
	}
}

func TestGenerateSelector(t *testing.T) {
	doc := memdom.MustParse(`
		<div class="outer">
			<div class="field row"><input type="email" name="mail"></div>
		</div>
		<form id="apply"><input type="text" name="anchored"></form>
	`, "https://example.com")

	els, _ := doc.QueryAll(`input[name="mail"]`)
	got := GenerateSelector(els[0])
	want := `div.outer > div.field.row > input[name="mail"][type="email"]`
	if got != want {
		t.Fatalf("selector: got %q, want %q", got, want)
	}

	els, _ = doc.QueryAll(`input[name="anchored"]`)
	got = GenerateSelector(els[0])
	want = `form#apply > input[name="anchored"][type="text"]`
	if got != want {
		t.Fatalf("id-anchored selector: got %q, want %q", got, want)
	}
}

func TestGenerateSelector_Relocates(t *testing.T) {
	doc := memdom.MustParse(applicationForm, "https://boards.greenhouse.io")
	for _, c := range New().Scan(doc, Options{}) {
		els, err := doc.QueryAll(c.Selector)
		if err != nil {
			t.Fatalf("%s: selector %q invalid: %v", c.Name, c.Selector, err)
		}
		found := false
		for _, el := range els {
			if el.Handle() == c.El.Handle() {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s: selector %q does not relocate the element", c.Name, c.Selector)
		}
	}
}

func TestCandidateID_Fallbacks(t *testing.T) {
	doc := memdom.MustParse(`
		<input id="has-id" type="text" name="n1">
		<input type="text" name="n2">
	`, "https://example.com")
	cands := New().Scan(doc, Options{})
	byName := map[string]string{}
	for _, c := range cands {
		byName[c.Name] = c.ID
	}
	if byName["n1"] != "has-id" {
		t.Fatalf("native id: got %q", byName["n1"])
	}
	if byName["n2"] != "name-n2" {
		t.Fatalf("name-derived id: got %q", byName["n2"])
	}
}
