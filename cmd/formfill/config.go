package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/formfill/browser"
	"github.com/hazyhaar/formfill/engine"
	"github.com/hazyhaar/formfill/fill"
	"github.com/hazyhaar/formfill/report"
	"github.com/hazyhaar/formfill/scan"
)

// config is the top-level formfill configuration, loaded from YAML.
// Absent keys keep the defaults from defaultConfig.
type config struct {
	Browser        browserConfig `yaml:"browser"`
	AllowedDomains []string      `yaml:"allowed_domains"`
	Fill           fillConfig    `yaml:"fill"`
	Scan           scanConfig    `yaml:"scan"`
	Sinks          []sinkConfig  `yaml:"sinks"`

	// Profile is the path to the active profile JSON document.
	Profile string `yaml:"profile"`

	// RulesDB persists user rules, snippets and recent values.
	RulesDB string `yaml:"rules_db"`

	// RoutesDB enables hot-reloadable service routing when set.
	RoutesDB string `yaml:"routes_db"`

	// ObservabilityDB enables metrics and audit persistence when set.
	ObservabilityDB string `yaml:"observability_db"`
}

// browserConfig controls Chrome lifecycle.
type browserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// fillConfig controls write pacing and retries.
type fillConfig struct {
	Delay          time.Duration `yaml:"delay"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	SkipValidation bool          `yaml:"skip_validation"`
	NoEvents       bool          `yaml:"no_events"`
}

// scanConfig controls field discovery.
type scanConfig struct {
	IncludeHidden   bool `yaml:"include_hidden"`
	IncludeDisabled bool `yaml:"include_disabled"`
	ShadowDOM       bool `yaml:"shadow_dom"`
	Iframes         bool `yaml:"iframes"`
}

// sinkConfig defines a report output backend.
type sinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// defaultConfig returns the configuration used when no file is given.
// The domain allowlist covers the hosted job-board platforms the seed
// rules target.
func defaultConfig() *config {
	return &config{
		AllowedDomains: []string{
			"boards.greenhouse.io",
			"jobs.lever.co",
			"*.myworkdayjobs.com",
			"jobs.ashbyhq.com",
		},
		Fill: fillConfig{
			Delay:         50 * time.Millisecond,
			RetryAttempts: 2,
		},
		Scan: scanConfig{
			ShadowDOM: true,
			Iframes:   true,
		},
		Profile: "profile.json",
		RulesDB: "db/formfill.db",
	}
}

// loadConfig overlays a YAML file onto the defaults. Keys absent from
// the file keep their default values.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *config) browserOptions() browser.Config {
	stealth := browser.LevelHeadless
	if c.Browser.Stealth == "headful" {
		stealth = browser.LevelHeadful
	}
	return browser.Config{
		RemoteURL:        c.Browser.Remote,
		MemoryLimit:      c.Browser.MemoryLimit,
		RecycleInterval:  c.Browser.RecycleInterval,
		ResourceBlocking: c.Browser.ResourceBlocking,
		Stealth:          stealth,
		XvfbDisplay:      c.Browser.XvfbDisplay,
	}
}

func (c *config) fillOptions() fill.Options {
	return fill.Options{
		Delay:          c.Fill.Delay,
		DispatchEvents: !c.Fill.NoEvents,
		RetryAttempts:  c.Fill.RetryAttempts,
		SkipValidation: c.Fill.SkipValidation,
	}
}

func (c *config) scanOptions() scan.Options {
	return scan.Options{
		IncludeHidden:   c.Scan.IncludeHidden,
		IncludeDisabled: c.Scan.IncludeDisabled,
		ShadowDOM:       c.Scan.ShadowDOM,
		Iframes:         c.Scan.Iframes,
	}
}

// engineConfig assembles the engine configuration minus the stores and
// observability backends, which main wires depending on what is enabled.
func (c *config) engineConfig() engine.Config {
	return engine.Config{
		Browser:        c.browserOptions(),
		AllowedDomains: c.AllowedDomains,
		Fill:           c.fillOptions(),
		Scan:           c.scanOptions(),
	}
}

// buildSinks instantiates the configured report sinks. Unknown types
// are rejected so typos fail fast instead of silently dropping reports.
func buildSinks(cfgs []sinkConfig) ([]report.Sink, error) {
	var sinks []report.Sink
	for _, sc := range cfgs {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, report.NewStdout(os.Stdout))
		case "webhook":
			if sc.URL == "" {
				return nil, fmt.Errorf("webhook sink requires url")
			}
			sinks = append(sinks, report.NewWebhook(sc.URL))
		default:
			return nil, fmt.Errorf("unknown sink type %q", sc.Type)
		}
	}
	return sinks, nil
}
