// Package report defines output backends for autofill outcomes. Each
// pipeline stage (scan, mapping, fill) emits a report; sinks deliver them
// to different backends (stdout JSON lines, webhook, in-process callback).
package report

import (
	"context"
	"time"

	"github.com/hazyhaar/formfill/fill"
	"github.com/hazyhaar/formfill/rules"
	"github.com/hazyhaar/formfill/scan"
)

// ScanReport describes one completed scan pass.
type ScanReport struct {
	Domain     string           `json:"domain"`
	URL        string           `json:"url,omitempty"`
	Candidates []scan.Candidate `json:"candidates"`
	At         time.Time        `json:"at"`
}

// MappingReport describes one mapping pass.
type MappingReport struct {
	Domain string       `json:"domain"`
	URL    string       `json:"url,omitempty"`
	Result rules.Result `json:"result"`
	At     time.Time    `json:"at"`
}

// FillReport describes one fill run.
type FillReport struct {
	Domain string      `json:"domain"`
	URL    string      `json:"url,omitempty"`
	Result fill.Result `json:"result"`
	At     time.Time   `json:"at"`
}

// Sink is the output interface. Implementations deliver reports to
// different backends.
type Sink interface {
	SendScan(ctx context.Context, r ScanReport) error
	SendMapping(ctx context.Context, r MappingReport) error
	SendFill(ctx context.Context, r FillReport) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
