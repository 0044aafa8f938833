package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hazyhaar/formfill/connectivity"
	"github.com/hazyhaar/formfill/dom/memdom"
	"github.com/hazyhaar/formfill/profile"
	"github.com/hazyhaar/formfill/report"
)

const greenhouseForm = `<html><body><form>
<label for="name">Full Name</label>
<input id="name" name="applicant[name]" type="text">
<label for="email">Email</label>
<input id="email" type="email" name="email">
<label for="phone">Phone</label>
<input id="phone" type="tel" name="phone">
</form></body></html>`

func testProfile() profile.Profile {
	return profile.Profile{
		"basics": map[string]any{
			"fullName": "Dana Smith",
			"email":    "dana@example.com",
			"phone":    "5551234567",
		},
	}
}

func newTestEngine(t *testing.T, cfg Config, sinks ...report.Sink) *Engine {
	t.Helper()
	if cfg.Profiles == nil {
		cfg.Profiles = profile.Static{P: testProfile()}
	}
	return New(cfg, nil, sinks...)
}

func TestScanHTML(t *testing.T) {
	e := newTestEngine(t, Config{})

	res, err := e.ScanHTML(context.Background(), []byte(greenhouseForm), "https://boards.greenhouse.io")
	if err != nil {
		t.Fatal(err)
	}
	if res.Domain != "boards.greenhouse.io" {
		t.Fatalf("domain: got %q", res.Domain)
	}
	if len(res.Candidates) != 3 {
		t.Fatalf("candidates: got %d, want 3", len(res.Candidates))
	}
	if res.Mapping.Stats.Mapped != 3 {
		t.Fatalf("mapped: got %d, want 3", res.Mapping.Stats.Mapped)
	}
}

func TestScanHTML_EmitsReports(t *testing.T) {
	var scans, mappings int
	sink := report.NewCallback(
		func(_ context.Context, _ report.ScanReport) error { scans++; return nil },
		func(_ context.Context, _ report.MappingReport) error { mappings++; return nil },
		nil,
	)
	e := newTestEngine(t, Config{}, sink)

	if _, err := e.ScanHTML(context.Background(), []byte(greenhouseForm), "https://boards.greenhouse.io"); err != nil {
		t.Fatal(err)
	}
	if scans != 1 || mappings != 1 {
		t.Fatalf("reports: got %d scans, %d mappings", scans, mappings)
	}
}

func TestAutofillDoc(t *testing.T) {
	var fills int
	sink := report.NewCallback(nil, nil,
		func(_ context.Context, _ report.FillReport) error { fills++; return nil })
	e := newTestEngine(t, Config{}, sink)

	doc := memdom.MustParse(greenhouseForm, "https://boards.greenhouse.io")
	res, err := e.autofillDoc(context.Background(), doc, "boards.greenhouse.io", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.FilledCount != 3 {
		t.Fatalf("filled: got %d, want 3", res.FilledCount)
	}
	if res.TotalFields != 3 {
		t.Fatalf("total: got %d, want 3", res.TotalFields)
	}
	if fills != 1 {
		t.Fatalf("fill reports: got %d", fills)
	}

	els, _ := doc.QueryAll("#email")
	if got := els[0].Value(); got != "dana@example.com" {
		t.Fatalf("email value: got %q", got)
	}
	els, _ = doc.QueryAll("#phone")
	if got := els[0].Value(); got != "(555) 123-4567" {
		t.Fatalf("phone value: got %q", got)
	}
}

func TestAllowedHost(t *testing.T) {
	e := newTestEngine(t, Config{
		AllowedDomains: []string{"boards.greenhouse.io", "*.myworkdayjobs.com"},
	})

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://boards.greenhouse.io/acme/jobs/1", false},
		{"https://acme.myworkdayjobs.com/careers", false},
		{"https://evil.example.com/form", true},
		{"not a url", true},
	}
	for _, tt := range tests {
		_, err := e.allowedHost(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("allowedHost(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestAllowedHost_EmptyAllowsAll(t *testing.T) {
	e := newTestEngine(t, Config{})
	host, err := e.allowedHost("https://anything.example.com/x")
	if err != nil {
		t.Fatal(err)
	}
	if host != "anything.example.com" {
		t.Fatalf("host: got %q", host)
	}
}

func TestFindCandidate(t *testing.T) {
	e := newTestEngine(t, Config{})
	doc := memdom.MustParse(greenhouseForm, "https://boards.greenhouse.io")

	cand, err := e.findCandidate(doc, "#email")
	if err != nil {
		t.Fatal(err)
	}
	if cand.Type != "email" {
		t.Fatalf("type: got %q", cand.Type)
	}

	if _, err := e.findCandidate(doc, "#missing"); err == nil {
		t.Fatal("expected error for unmatched selector")
	}
}

func TestConnectivity_ProfileGetActive(t *testing.T) {
	e := newTestEngine(t, Config{})
	router := connectivity.New()
	defer router.Close()
	e.RegisterConnectivity(router)

	resp, err := router.Call(context.Background(), "profile_get_active", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(resp), "dana@example.com") {
		t.Fatalf("profile payload: got %s", resp)
	}
}

func TestConnectivity_RulesAddRemove(t *testing.T) {
	e := newTestEngine(t, Config{})
	router := connectivity.New()
	defer router.Close()
	e.RegisterConnectivity(router)

	addPayload := []byte(`{"domain":"jobs.example.com","field":"basics.email","selector":"#email","confidence":0.95}`)
	resp, err := router.Call(context.Background(), "rules_add", addPayload)
	if err != nil {
		t.Fatal(err)
	}
	var rule struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &rule); err != nil {
		t.Fatal(err)
	}
	if rule.ID == "" {
		t.Fatal("rule id not assigned")
	}

	rmPayload := []byte(`{"rule_id":"` + rule.ID + `","domain":"jobs.example.com"}`)
	resp, err = router.Call(context.Background(), "rules_remove", rmPayload)
	if err != nil {
		t.Fatal(err)
	}
	var rm struct {
		Removed bool `json:"removed"`
	}
	if err := json.Unmarshal(resp, &rm); err != nil {
		t.Fatal(err)
	}
	if !rm.Removed {
		t.Fatal("rule not removed")
	}
}

func TestConnectivity_BadPayload(t *testing.T) {
	e := newTestEngine(t, Config{})
	router := connectivity.New()
	defer router.Close()
	e.RegisterConnectivity(router)

	if _, err := router.Call(context.Background(), "rules_add", []byte("{broken")); err == nil {
		t.Fatal("expected unmarshal error")
	}
}
