package report

import (
	"context"
	"log/slog"
)

// Router fans out reports to all configured sinks. One sink error does
// not block the others — errors are logged and the first encountered is
// returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) SendScan(ctx context.Context, rep ScanReport) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendScan(ctx, rep); err != nil {
			r.logger.Warn("report: send scan failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendMapping(ctx context.Context, rep MappingReport) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendMapping(ctx, rep); err != nil {
			r.logger.Warn("report: send mapping failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendFill(ctx context.Context, rep FillReport) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendFill(ctx, rep); err != nil {
			r.logger.Warn("report: send fill failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
