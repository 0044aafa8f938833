// Package engine is the top-level autofill orchestrator. It owns the
// browser manager and the pipeline services (scanner, rules engine, fill
// runner, suggestion engine) and exposes the end-to-end operations:
// scan a page, autofill it, suggest values for one field.
//
// The engine executes, it does not render. Scan, mapping and fill outcomes
// are emitted to report sinks (stdout, webhook, callback) for consumers
// like a control UI to display.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/formfill/browser"
	"github.com/hazyhaar/formfill/dom"
	"github.com/hazyhaar/formfill/dom/memdom"
	"github.com/hazyhaar/formfill/fill"
	"github.com/hazyhaar/formfill/observability"
	"github.com/hazyhaar/formfill/profile"
	"github.com/hazyhaar/formfill/report"
	"github.com/hazyhaar/formfill/rules"
	"github.com/hazyhaar/formfill/scan"
	"github.com/hazyhaar/formfill/suggest"
)

// Config assembles an Engine. Zero-value fields fall back to defaults;
// Profiles is the only required collaborator.
type Config struct {
	Browser browser.Config

	// Profiles supplies the active profile for mapping and suggestions.
	Profiles profile.Source

	// RuleStore persists user rules across restarts. Nil keeps rules
	// in memory only.
	RuleStore rules.Store

	// SuggestStore persists snippets and recent values. Nil keeps them
	// in memory only.
	SuggestStore suggest.Store

	// AllowedDomains restricts which hosts Autofill will touch. Patterns
	// follow rule-domain matching ("boards.greenhouse.io",
	// "*.myworkdayjobs.com"). Empty allows every host.
	AllowedDomains []string

	// Fill controls write pacing, events, retries and validation.
	Fill fill.Options

	// Scan controls hidden-field inclusion and frame/shadow recursion.
	Scan scan.Options

	// Metrics and Audit are optional observability backends.
	Metrics *observability.MetricsManager
	Audit   *observability.AuditLogger
}

// AutofillResult is the end-to-end outcome reported to callers.
type AutofillResult struct {
	FilledCount int               `json:"filledCount"`
	TotalFields int               `json:"totalFields"`
	Mappings    []rules.Mapping   `json:"mappings"`
	Errors      []fill.FieldError `json:"errors,omitempty"`
}

// ScanResult pairs the raw candidates with the mapping verdict for a page.
type ScanResult struct {
	Domain     string           `json:"domain"`
	Candidates []scan.Candidate `json:"candidates"`
	Mapping    rules.Result     `json:"mapping"`
}

// Engine orchestrates the autofill pipeline. Create one per process.
type Engine struct {
	cfg     Config
	mgr     *browser.Manager
	scanner *scan.Scanner
	rules   *rules.Engine
	filler  *fill.Runner
	suggest *suggest.Engine
	reports *report.Router
	logger  *slog.Logger
}

// New creates an Engine from configuration.
func New(cfg Config, logger *slog.Logger, sinks ...report.Sink) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Profiles == nil {
		cfg.Profiles = profile.Static{P: profile.Profile{}}
	}
	bcfg := cfg.Browser
	if bcfg.Logger == nil {
		bcfg.Logger = logger
	}

	ruleOpts := []rules.Option{rules.WithLogger(logger)}
	if cfg.RuleStore != nil {
		ruleOpts = append(ruleOpts, rules.WithStore(cfg.RuleStore))
	}
	sugOpts := []suggest.Option{suggest.WithLogger(logger)}
	if cfg.SuggestStore != nil {
		sugOpts = append(sugOpts, suggest.WithStore(cfg.SuggestStore))
	}

	return &Engine{
		cfg:     cfg,
		mgr:     browser.NewManager(bcfg),
		scanner: scan.New(scan.WithLogger(logger)),
		rules:   rules.New(ruleOpts...),
		filler:  fill.New(fill.WithLogger(logger)),
		suggest: suggest.New(sugOpts...),
		reports: report.NewRouter(logger, sinks...),
		logger:  logger,
	}
}

// Start launches the browser and loads persisted rules and snippets.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.mgr.Start(ctx); err != nil {
		return fmt.Errorf("engine: start browser: %w", err)
	}
	if err := e.rules.LoadPersisted(ctx); err != nil {
		e.logger.Warn("engine: load persisted rules failed", "error", err)
	}
	if err := e.suggest.LoadPersisted(ctx); err != nil {
		e.logger.Warn("engine: load persisted snippets failed", "error", err)
	}
	return nil
}

// Stop shuts down the report sinks and the browser.
func (e *Engine) Stop() {
	if err := e.reports.Close(); err != nil {
		e.logger.Warn("engine: close reports failed", "error", err)
	}
	if err := e.mgr.Close(); err != nil {
		e.logger.Warn("engine: close browser failed", "error", err)
	}
}

// Rules exposes the rules engine for rule administration.
func (e *Engine) Rules() *rules.Engine { return e.rules }

// Suggestions exposes the suggestion engine for snippet administration.
func (e *Engine) Suggestions() *suggest.Engine { return e.suggest }

// Filler exposes the fill runner for undo and history introspection.
func (e *Engine) Filler() *fill.Runner { return e.filler }

// Autofill runs the full pipeline on a live page: navigate, scan, map,
// fill. Partial failure is data, not an error: per-field failures land in
// the result's Errors. The returned error covers pipeline-level failures
// only (navigation, a fill already in progress, cancellation).
func (e *Engine) Autofill(ctx context.Context, pageURL string) (AutofillResult, error) {
	host, err := e.allowedHost(pageURL)
	if err != nil {
		return AutofillResult{}, err
	}

	sess, err := browser.OpenSession(ctx, e.mgr, pageURL, e.cfg.Browser.Stealth)
	if err != nil {
		return AutofillResult{}, fmt.Errorf("engine: open page: %w", err)
	}
	defer sess.Close()

	doc, err := sess.Document(ctx)
	if err != nil {
		return AutofillResult{}, fmt.Errorf("engine: page document: %w", err)
	}

	return e.autofillDoc(ctx, doc, host, pageURL)
}

// Scan scans and maps a live page without writing anything.
func (e *Engine) Scan(ctx context.Context, pageURL string) (ScanResult, error) {
	host, err := e.allowedHost(pageURL)
	if err != nil {
		return ScanResult{}, err
	}

	sess, err := browser.OpenSession(ctx, e.mgr, pageURL, e.cfg.Browser.Stealth)
	if err != nil {
		return ScanResult{}, fmt.Errorf("engine: open page: %w", err)
	}
	defer sess.Close()

	doc, err := sess.Document(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("engine: page document: %w", err)
	}

	return e.scanDoc(ctx, doc, host, pageURL)
}

// ScanHTML scans and maps static HTML without a browser. origin supplies
// the domain used for rule lookup ("https://boards.greenhouse.io").
func (e *Engine) ScanHTML(ctx context.Context, html []byte, origin string) (ScanResult, error) {
	doc, err := memdom.Parse(string(html), origin)
	if err != nil {
		return ScanResult{}, fmt.Errorf("engine: parse html: %w", err)
	}
	host := hostOf(origin)
	return e.scanDoc(ctx, doc, host, "")
}

// Suggest generates ranked suggestions for one field on a live page,
// addressed by CSS selector.
func (e *Engine) Suggest(ctx context.Context, pageURL, selector string) (suggest.Result, error) {
	host, err := e.allowedHost(pageURL)
	if err != nil {
		return suggest.Result{}, err
	}

	sess, err := browser.OpenSession(ctx, e.mgr, pageURL, e.cfg.Browser.Stealth)
	if err != nil {
		return suggest.Result{}, fmt.Errorf("engine: open page: %w", err)
	}
	defer sess.Close()

	doc, err := sess.Document(ctx)
	if err != nil {
		return suggest.Result{}, fmt.Errorf("engine: page document: %w", err)
	}

	cand, err := e.findCandidate(doc, selector)
	if err != nil {
		return suggest.Result{}, err
	}

	prof, err := e.cfg.Profiles.Active(ctx)
	if err != nil {
		return suggest.Result{}, fmt.Errorf("engine: active profile: %w", err)
	}

	return e.suggest.Generate(suggest.Context{
		Field:   cand,
		Profile: prof,
		Domain:  host,
	}), nil
}

func (e *Engine) scanDoc(ctx context.Context, doc dom.Document, host, pageURL string) (ScanResult, error) {
	start := time.Now()
	cands := e.scanner.Scan(doc, e.cfg.Scan)

	if err := e.reports.SendScan(ctx, report.ScanReport{
		Domain: host, URL: pageURL, Candidates: cands, At: start,
	}); err != nil {
		e.logger.Warn("engine: scan report failed", "error", err)
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.RecordSimple(observability.MetricScanDurationMs,
			float64(time.Since(start).Milliseconds()), "milliseconds")
		e.cfg.Metrics.RecordSimple(observability.MetricScanFieldsFound,
			float64(len(cands)), "count")
	}

	prof, err := e.cfg.Profiles.Active(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("engine: active profile: %w", err)
	}

	mapped := e.rules.MapFields(doc, cands, prof, host)
	if err := e.reports.SendMapping(ctx, report.MappingReport{
		Domain: host, URL: pageURL, Result: mapped, At: time.Now(),
	}); err != nil {
		e.logger.Warn("engine: mapping report failed", "error", err)
	}

	return ScanResult{Domain: host, Candidates: cands, Mapping: mapped}, nil
}

func (e *Engine) autofillDoc(ctx context.Context, doc dom.Document, host, pageURL string) (AutofillResult, error) {
	start := time.Now()

	scanned, err := e.scanDoc(ctx, doc, host, pageURL)
	if err != nil {
		return AutofillResult{}, err
	}

	fillRes, err := e.filler.Run(ctx, scanned.Candidates, scanned.Mapping.Mappings, e.cfg.Fill)

	if sendErr := e.reports.SendFill(ctx, report.FillReport{
		Domain: host, URL: pageURL, Result: fillRes, At: time.Now(),
	}); sendErr != nil {
		e.logger.Warn("engine: fill report failed", "error", sendErr)
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.RecordSimple(observability.MetricAutofillDurationMs,
			float64(time.Since(start).Milliseconds()), "milliseconds")
		e.cfg.Metrics.RecordSimple(observability.MetricFieldsFilledCount,
			float64(fillRes.Filled), "count")
		e.cfg.Metrics.RecordSimple(observability.MetricFieldsFailedCount,
			float64(fillRes.Failed), "count")
	}
	if e.cfg.Audit != nil {
		e.cfg.Audit.LogAsync(e.cfg.Audit.NewAuditEntry("engine", "autofill",
			map[string]any{"url": pageURL, "domain": host},
			map[string]any{"filled": fillRes.Filled, "failed": fillRes.Failed},
			err, time.Since(start)))
	}

	res := AutofillResult{
		FilledCount: fillRes.Filled,
		TotalFields: len(scanned.Candidates),
		Mappings:    scanned.Mapping.Mappings,
		Errors:      fillRes.Errors,
	}
	if err != nil {
		return res, fmt.Errorf("engine: fill: %w", err)
	}

	e.logger.Info("engine: autofill complete",
		"domain", host, "filled", fillRes.Filled,
		"total", len(scanned.Candidates), "failed", fillRes.Failed)
	return res, nil
}

// findCandidate scans the document and resolves selector to the matching
// candidate by node identity.
func (e *Engine) findCandidate(doc dom.Document, selector string) (scan.Candidate, error) {
	els, err := doc.QueryAll(selector)
	if err != nil || len(els) == 0 {
		return scan.Candidate{}, fmt.Errorf("engine: no element matches %q", selector)
	}
	want := els[0].Handle()

	for _, c := range e.scanner.Scan(doc, e.cfg.Scan) {
		if c.El != nil && c.El.Handle() == want {
			return c, nil
		}
	}
	return scan.Candidate{}, fmt.Errorf("engine: element %q is not a fillable field", selector)
}

func (e *Engine) allowedHost(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("engine: invalid url %q", pageURL)
	}
	host := u.Hostname()
	if len(e.cfg.AllowedDomains) == 0 {
		return host, nil
	}
	for _, pattern := range e.cfg.AllowedDomains {
		if rules.MatchDomain(pattern, host) {
			return host, nil
		}
	}
	return "", fmt.Errorf("engine: domain %q not in allowlist", host)
}

func hostOf(origin string) string {
	if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
}
