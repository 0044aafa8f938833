package memdom

import (
	"testing"

	"github.com/hazyhaar/formfill/dom"
)

func TestQueryAll(t *testing.T) {
	d := MustParse(`<form>
		<input type="text" name="first">
		<input type="email" name="email">
		<textarea name="notes"></textarea>
	</form>`, "https://example.com")

	els, err := d.QueryAll("input")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(els) != 2 {
		t.Fatalf("inputs: got %d, want 2", len(els))
	}

	els, err = d.QueryAll(`input[type="email"], textarea`)
	if err != nil {
		t.Fatalf("query group: %v", err)
	}
	if len(els) != 2 {
		t.Fatalf("group match: got %d, want 2", len(els))
	}

	if _, err := d.QueryAll("input[["); err == nil {
		t.Fatal("bad selector: expected error")
	}
}

func TestElementByID(t *testing.T) {
	d := MustParse(`<input id="email" type="email">`, "https://example.com")
	if el := d.ElementByID("email"); el == nil || el.Tag() != "input" {
		t.Fatalf("ElementByID: got %v", el)
	}
	if el := d.ElementByID("missing"); el != nil {
		t.Fatalf("missing id: got %v, want nil", el)
	}
}

func TestValue_TextInput(t *testing.T) {
	d := MustParse(`<input type="text" name="city" value="Lyon">`, "https://example.com")
	el, _ := d.QueryAll("input")

	if got := el[0].Value(); got != "Lyon" {
		t.Fatalf("initial value: got %q", got)
	}
	if err := el[0].SetValue("Paris"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := el[0].Value(); got != "Paris" {
		t.Fatalf("after set: got %q", got)
	}
	// Writes stick even when set to empty.
	el[0].SetValue("")
	if got := el[0].Value(); got != "" {
		t.Fatalf("after clear: got %q", got)
	}
}

func TestValue_Textarea(t *testing.T) {
	d := MustParse(`<textarea name="bio">  hello there  </textarea>`, "https://example.com")
	el, _ := d.QueryAll("textarea")

	if got := el[0].Value(); got != "hello there" {
		t.Fatalf("initial text: got %q", got)
	}
	el[0].SetValue("rewritten")
	if got := el[0].Value(); got != "rewritten" {
		t.Fatalf("after set: got %q", got)
	}
}

func TestSelect(t *testing.T) {
	d := MustParse(`<select name="country">
		<option value="">Choose</option>
		<option value="fr">France</option>
		<option value="de" selected>Germany</option>
	</select>`, "https://example.com")
	el, _ := d.QueryAll("select")
	sel := el[0]

	if got := sel.Value(); got != "de" {
		t.Fatalf("selected attr: got %q, want de", got)
	}

	opts := sel.SelectOptions()
	if len(opts) != 3 {
		t.Fatalf("options: got %d, want 3", len(opts))
	}
	if opts[1].Value != "fr" || opts[1].Text != "France" {
		t.Fatalf("option 1: got %+v", opts[1])
	}

	if err := sel.SetValue("fr"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := sel.Value(); got != "fr" {
		t.Fatalf("after set: got %q", got)
	}

	// Unmatched values clear the selection, like the native property.
	sel.SetValue("xx")
	if got := sel.Value(); got != "" {
		t.Fatalf("unmatched set: got %q, want empty", got)
	}
}

func TestSelect_DefaultsToFirstOption(t *testing.T) {
	d := MustParse(`<select><option value="a">A</option><option value="b">B</option></select>`,
		"https://example.com")
	el, _ := d.QueryAll("select")
	if got := el[0].Value(); got != "a" {
		t.Fatalf("default: got %q, want a", got)
	}
}

func TestCheckbox(t *testing.T) {
	d := MustParse(`<input type="checkbox" name="remote" value="yes">`, "https://example.com")
	el, _ := d.QueryAll("input")
	cb := el[0]

	if cb.Checked() {
		t.Fatal("fresh checkbox should be unchecked")
	}
	if got := cb.Value(); got != "" {
		t.Fatalf("unchecked value: got %q, want empty", got)
	}
	cb.SetChecked(true)
	if !cb.Checked() {
		t.Fatal("SetChecked(true) did not stick")
	}
	if got := cb.Value(); got != "yes" {
		t.Fatalf("checked value: got %q, want yes", got)
	}
}

func TestDispatch_RecordsEvents(t *testing.T) {
	d := MustParse(`<input type="text" name="q">`, "https://example.com")
	els, _ := d.QueryAll("input")
	el := els[0]

	el.Dispatch(dom.EventInput)
	el.Dispatch(dom.EventChange)
	el.Dispatch(dom.EventBlur)

	evs := d.EventsFor(el.Handle())
	if len(evs) != 3 {
		t.Fatalf("events: got %d, want 3", len(evs))
	}
	if evs[0].Type != dom.EventInput || evs[0].InputType != "insertText" {
		t.Fatalf("input event: got %+v", evs[0])
	}
	if evs[1].Type != dom.EventChange || evs[1].InputType != "" {
		t.Fatalf("change event: got %+v", evs[1])
	}

	d.ResetEvents()
	if got := len(d.Events()); got != 0 {
		t.Fatalf("after reset: got %d events", got)
	}
}

func TestCheckValidity(t *testing.T) {
	cases := []struct {
		name  string
		html  string
		value string
		want  bool
	}{
		{"required empty", `<input type="text" required>`, "", false},
		{"required filled", `<input type="text" required>`, "x", true},
		{"optional empty", `<input type="text">`, "", true},
		{"email bad", `<input type="email">`, "not-an-email", false},
		{"email good", `<input type="email">`, "a@b.com", true},
		{"url bad", `<input type="url">`, "example.com", false},
		{"url good", `<input type="url">`, "https://example.com", true},
		{"number bad", `<input type="number">`, "abc", false},
		{"number good", `<input type="number">`, "42.5", true},
		{"pattern miss", `<input type="text" pattern="[0-9]{5}">`, "123", false},
		{"pattern hit", `<input type="text" pattern="[0-9]{5}">`, "12345", true},
		{"maxlength over", `<input type="text" maxlength="3">`, "abcd", false},
		{"maxlength under", `<input type="text" maxlength="3">`, "abc", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := MustParse(tc.html, "https://example.com")
			els, _ := d.QueryAll("input")
			if tc.value != "" {
				els[0].SetValue(tc.value)
			}
			if got := els[0].CheckValidity(); got != tc.want {
				t.Fatalf("validity: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCheckValidity_RequiredSelect(t *testing.T) {
	d := MustParse(`<select required><option value="">Choose</option><option value="a">A</option></select>`,
		"https://example.com")
	els, _ := d.QueryAll("select")
	if els[0].CheckValidity() {
		t.Fatal("empty required select should be invalid")
	}
	els[0].SetValue("a")
	if !els[0].CheckValidity() {
		t.Fatal("selected required select should be valid")
	}
}

func TestVisible(t *testing.T) {
	d := MustParse(`
		<input type="text" name="shown">
		<input type="text" name="hid" hidden>
		<div style="display: none"><input type="text" name="in-hidden-div"></div>
		<input type="text" name="styled" style="visibility:hidden">
	`, "https://example.com")
	els, _ := d.QueryAll("input")
	if len(els) != 4 {
		t.Fatalf("inputs: got %d", len(els))
	}
	want := map[string]bool{"shown": true, "hid": false, "in-hidden-div": false, "styled": false}
	for _, el := range els {
		name, _ := el.Attr("name")
		if got := el.Visible(); got != want[name] {
			t.Fatalf("%s: visible=%v, want %v", name, got, want[name])
		}
	}
}

func TestLabelText_ExcludesControls(t *testing.T) {
	d := MustParse(`<label>Full  name <input type="text"></label>`, "https://example.com")
	els, _ := d.QueryAll("label")
	if got := els[0].Text(); got != "Full name" {
		t.Fatalf("label text: got %q", got)
	}
}

func TestFrames_Srcdoc(t *testing.T) {
	d := MustParse(`
		<iframe srcdoc="&lt;input type='text' name='inner'&gt;"></iframe>
		<iframe src="https://other.example.org/form"></iframe>
	`, "https://example.com")

	frames := d.Frames()
	if len(frames) != 1 {
		t.Fatalf("frames: got %d, want 1 (cross-origin omitted)", len(frames))
	}
	els, err := frames[0].QueryAll("input")
	if err != nil || len(els) != 1 {
		t.Fatalf("frame inputs: got %d, err %v", len(els), err)
	}
	name, _ := els[0].Attr("name")
	if name != "inner" {
		t.Fatalf("frame input name: got %q", name)
	}
}

func TestShadowRoots(t *testing.T) {
	d := MustParse(`
		<div>
			<template shadowrootmode="open"><input type="text" name="shadowed"></template>
		</div>
		<template><input type="text" name="inert"></template>
	`, "https://example.com")

	// Template content is not reachable from the top document.
	top, _ := d.QueryAll("input")
	if len(top) != 0 {
		t.Fatalf("top-level inputs: got %d, want 0", len(top))
	}

	roots := d.ShadowRoots()
	if len(roots) != 1 {
		t.Fatalf("shadow roots: got %d, want 1", len(roots))
	}
	els, _ := roots[0].QueryAll("input")
	if len(els) != 1 {
		t.Fatalf("shadow inputs: got %d, want 1", len(els))
	}
}

func TestShadowRoots_ExcludesOwnRoot(t *testing.T) {
	d := MustParse(`
		<div>
			<template shadowrootmode="open">
				<input type="text" name="outer">
				<span><template shadowrootmode="open"><input type="text" name="inner"></template></span>
			</template>
		</div>
	`, "https://example.com")

	roots := d.ShadowRoots()
	if len(roots) != 1 {
		t.Fatalf("shadow roots: got %d, want 1", len(roots))
	}

	// A shadow-root document lists only roots nested below it, never
	// its own root template.
	nested := roots[0].ShadowRoots()
	if len(nested) != 1 {
		t.Fatalf("nested shadow roots: got %d, want 1", len(nested))
	}
	if again := nested[0].ShadowRoots(); len(again) != 0 {
		t.Fatalf("innermost shadow roots: got %d, want 0", len(again))
	}
}

func TestHandle_StableIdentity(t *testing.T) {
	d := MustParse(`<input id="a"><input id="b">`, "https://example.com")
	els1, _ := d.QueryAll("input")
	els2, _ := d.QueryAll("input")
	if els1[0].Handle() != els2[0].Handle() {
		t.Fatal("same node must produce the same handle")
	}
	if els1[0].Handle() == els1[1].Handle() {
		t.Fatal("distinct nodes must produce distinct handles")
	}
}
