package report

import "context"

// ScanFunc is called for each scan report (in-process, zero serialisation).
type ScanFunc func(ctx context.Context, r ScanReport) error

// MappingFunc is called for each mapping report.
type MappingFunc func(ctx context.Context, r MappingReport) error

// FillFunc is called for each fill report.
type FillFunc func(ctx context.Context, r FillReport) error

// Callback delivers reports via Go function calls. This is the local
// path — when the consumer lives in the same binary, reports arrive as
// in-memory calls with zero serialisation overhead.
type Callback struct {
	onScan    ScanFunc
	onMapping MappingFunc
	onFill    FillFunc
}

// NewCallback creates a Callback sink. Any handler may be nil.
func NewCallback(onScan ScanFunc, onMapping MappingFunc, onFill FillFunc) *Callback {
	return &Callback{onScan: onScan, onMapping: onMapping, onFill: onFill}
}

func (c *Callback) SendScan(ctx context.Context, r ScanReport) error {
	if c.onScan != nil {
		return c.onScan(ctx, r)
	}
	return nil
}

func (c *Callback) SendMapping(ctx context.Context, r MappingReport) error {
	if c.onMapping != nil {
		return c.onMapping(ctx, r)
	}
	return nil
}

func (c *Callback) SendFill(ctx context.Context, r FillReport) error {
	if c.onFill != nil {
		return c.onFill(ctx, r)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
