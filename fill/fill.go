// Package fill writes mapped profile values into live form controls. A
// Runner processes mappings in descending confidence order, paces writes,
// dispatches the DOM events host-page frameworks listen for, validates
// each write, and keeps an undo history of successful writes.
//
// Only one fill run may be in flight per Runner; a second concurrent call
// fails fast with ErrRunning instead of interleaving writes.
package fill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/formfill/dom"
	"github.com/hazyhaar/formfill/rules"
	"github.com/hazyhaar/formfill/scan"
)

// ErrRunning is returned when Run is called while another run is in flight.
var ErrRunning = errors.New("fill: run already in progress")

var (
	errValidation  = errors.New("validation failed")
	errUnsupported = errors.New("unsupported element kind")
	errNoOption    = errors.New("no matching option")
	errNotFound    = errors.New("candidate not found")
)

// Options controls one fill run.
type Options struct {
	// Delay paces successive writes. No delay after the last write.
	Delay time.Duration
	// DispatchEvents fires input/change/blur events around each write.
	DispatchEvents bool
	// RetryAttempts is the number of extra attempts after a failed write.
	// Validation failures and unsupported elements are never retried.
	RetryAttempts int
	// SkipValidation disables constraint validation and allows writes to
	// fields flagged as conflicts.
	SkipValidation bool
}

// DefaultOptions returns the standard fill options: 50 ms pacing, events
// on, two retries, validation enforced.
func DefaultOptions() Options {
	return Options{
		Delay:          50 * time.Millisecond,
		DispatchEvents: true,
		RetryAttempts:  2,
	}
}

// FieldError records one field's failure inside an otherwise-continuing run.
type FieldError struct {
	FieldID  string `json:"fieldId"`
	Field    string `json:"field,omitempty"`
	Selector string `json:"selector,omitempty"`
	Message  string `json:"error"`
}

// Result is the outcome of a fill run. Success means at least one field
// was written; partial failure is still reported as success alongside the
// per-field error detail.
type Result struct {
	Success  bool          `json:"success"`
	Filled   int           `json:"filled"`
	Failed   int           `json:"failed"`
	Errors   []FieldError  `json:"errors,omitempty"`
	Duration time.Duration `json:"timing"`
}

// Operation is one successful write kept in the undo history.
type Operation struct {
	FieldID     string
	Field       string
	Kind        dom.Kind
	Value       string // value written
	PrevValue   string // value before the write
	PrevChecked bool

	el dom.Element
}

// Runner executes fill runs. The undo history is the only state beyond
// the mutual-exclusion flag; a Runner's lifetime is the page session.
type Runner struct {
	log     *slog.Logger
	running atomic.Bool

	mu      sync.Mutex
	history []Operation
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// New creates a Runner.
func New(opts ...RunnerOption) *Runner {
	r := &Runner{log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Running reports whether a fill run is currently in flight.
func (r *Runner) Running() bool { return r.running.Load() }

// Run writes every actionable mapping into its candidate element, highest
// confidence first. Conflicting mappings are skipped unless
// opts.SkipValidation is set. A per-field failure is recorded and the run
// continues; only re-entrancy (ErrRunning) and context cancellation abort.
// On cancellation the partial result is returned alongside ctx.Err().
func (r *Runner) Run(ctx context.Context, candidates []scan.Candidate, mappings []rules.Mapping, opts Options) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrRunning
	}
	defer r.running.Store(false)

	start := time.Now()
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}

	byID := make(map[string]scan.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	work := make([]rules.Mapping, 0, len(mappings))
	for _, m := range mappings {
		if !m.Mapped || m.Value == "" {
			continue
		}
		if m.Conflict && !opts.SkipValidation {
			r.log.Debug("fill: skipping conflicting field", "fieldId", m.ID, "field", m.Field)
			continue
		}
		work = append(work, m)
	}
	// Highest confidence first so the most-trusted values land before any
	// overlapping low-confidence write, and survive partial failures.
	sort.SliceStable(work, func(i, j int) bool {
		return work[i].Confidence > work[j].Confidence
	})

	var res Result
	for i, m := range work {
		if err := ctx.Err(); err != nil {
			res.Success = res.Filled > 0
			res.Duration = time.Since(start)
			return res, fmt.Errorf("fill: run cancelled: %w", err)
		}

		err := r.fillOne(byID, m, opts)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, FieldError{
				FieldID:  m.ID,
				Field:    m.Field,
				Selector: m.Selector,
				Message:  err.Error(),
			})
			r.log.Warn("fill: field failed", "fieldId", m.ID, "field", m.Field, "err", err)
		} else {
			res.Filled++
		}

		if i < len(work)-1 && opts.Delay > 0 {
			if err := sleepCtx(ctx, opts.Delay); err != nil {
				res.Success = res.Filled > 0
				res.Duration = time.Since(start)
				return res, fmt.Errorf("fill: run cancelled: %w", err)
			}
		}
	}

	res.Success = res.Filled > 0
	res.Duration = time.Since(start)
	return res, nil
}

// fillOne resolves the candidate, writes with retry, and records the
// operation in the undo history on success.
func (r *Runner) fillOne(byID map[string]scan.Candidate, m rules.Mapping, opts Options) error {
	cand, ok := byID[m.ID]
	if !ok || cand.El == nil {
		return errNotFound
	}

	prevChecked := cand.El.Checked()

	var err error
	for attempt := 0; attempt <= opts.RetryAttempts; attempt++ {
		err = r.writeField(cand, m.Value, opts)
		if err == nil {
			break
		}
		// Only transient write errors are worth a second pass.
		if errors.Is(err, errValidation) || errors.Is(err, errUnsupported) || errors.Is(err, errNoOption) {
			break
		}
		r.log.Debug("fill: retrying field", "fieldId", cand.ID, "attempt", attempt+1, "err", err)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.history = append(r.history, Operation{
		FieldID:     cand.ID,
		Field:       m.Field,
		Kind:        cand.Kind,
		Value:       m.Value,
		PrevValue:   cand.Value,
		PrevChecked: prevChecked,
		el:          cand.El,
	})
	r.mu.Unlock()
	return nil
}

func (r *Runner) writeField(cand scan.Candidate, value string, opts Options) error {
	switch cand.Kind {
	case dom.KindText, dom.KindTextarea:
		return writeText(cand, value, opts)
	case dom.KindSelect:
		return writeSelect(cand.El, value, opts)
	case dom.KindCheckbox, dom.KindRadio:
		return writeChecked(cand.El, value, opts)
	default:
		return errUnsupported
	}
}

// writeText clears the field, writes the value (phone-formatted for tel
// inputs), dispatches the events frameworks listen for, and validates.
// A failed validation rolls the field back to its pre-write value.
func writeText(cand scan.Candidate, value string, opts Options) error {
	el := cand.El
	orig := el.Value()

	if strings.EqualFold(cand.Type, "tel") {
		value = FormatPhone(value)
	}

	if err := el.SetValue(""); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if err := dispatch(el, opts.DispatchEvents, dom.EventInput, dom.EventChange); err != nil {
		return err
	}

	if err := el.SetValue(value); err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	if err := dispatch(el, opts.DispatchEvents, dom.EventInput, dom.EventChange); err != nil {
		return err
	}

	if !opts.SkipValidation && !el.CheckValidity() {
		el.SetValue(orig)
		dispatch(el, opts.DispatchEvents, dom.EventInput, dom.EventChange)
		return fmt.Errorf("%w for value %q", errValidation, value)
	}

	return dispatch(el, opts.DispatchEvents, dom.EventBlur)
}

// writeSelect matches the value against the select's options: exact value
// or exact visible text first, then case-insensitive substring on either.
func writeSelect(el dom.Element, value string, opts Options) error {
	options := el.SelectOptions()

	match := ""
	found := false
	for _, o := range options {
		if o.Value == value || o.Text == value {
			match, found = o.Value, true
			break
		}
	}
	if !found {
		lw := strings.ToLower(value)
		for _, o := range options {
			if strings.Contains(strings.ToLower(o.Value), lw) ||
				strings.Contains(strings.ToLower(o.Text), lw) {
				match, found = o.Value, true
				break
			}
		}
	}
	if !found {
		return fmt.Errorf("%w for %q", errNoOption, value)
	}

	if err := el.SetValue(match); err != nil {
		return fmt.Errorf("select option: %w", err)
	}
	return dispatch(el, opts.DispatchEvents, dom.EventChange)
}

func writeChecked(el dom.Element, value string, opts Options) error {
	if err := el.SetChecked(parseBool(value)); err != nil {
		return fmt.Errorf("set checked: %w", err)
	}
	return dispatch(el, opts.DispatchEvents, dom.EventChange)
}

// parseBool interprets a mapping value as a check state. The vocabulary
// is fixed; anything else unchecks.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1", "on", "checked":
		return true
	default:
		return false
	}
}

func dispatch(el dom.Element, enabled bool, events ...dom.EventType) error {
	if !enabled {
		return nil
	}
	for _, ev := range events {
		if err := el.Dispatch(ev); err != nil {
			return fmt.Errorf("dispatch %s: %w", ev, err)
		}
	}
	return nil
}

// FormatPhone renders a phone number for a tel input: 10 digits become
// "(xxx) xxx-xxxx", 11 digits with a leading 1 become "+1 (xxx) xxx-xxxx",
// anything else is returned unchanged.
func FormatPhone(v string) string {
	var digits strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case len(d) == 10:
		return fmt.Sprintf("(%s) %s-%s", d[:3], d[3:6], d[6:])
	case len(d) == 11 && d[0] == '1':
		return fmt.Sprintf("+1 (%s) %s-%s", d[1:4], d[4:7], d[7:])
	default:
		return v
	}
}

// UndoLast restores the most recent successful write's pre-fill value and
// removes it from the history. It reports false, without error, when the
// history is empty.
func (r *Runner) UndoLast() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return false, nil
	}

	// Peek, restore, then pop. A failed restore leaves the operation in
	// the history so it can be retried.
	op := r.history[len(r.history)-1]
	switch op.Kind {
	case dom.KindCheckbox, dom.KindRadio:
		if err := op.el.SetChecked(op.PrevChecked); err != nil {
			return false, fmt.Errorf("fill: undo %s: %w", op.FieldID, err)
		}
	default:
		if err := op.el.SetValue(op.PrevValue); err != nil {
			return false, fmt.Errorf("fill: undo %s: %w", op.FieldID, err)
		}
	}
	if err := dispatch(op.el, true, dom.EventInput, dom.EventChange); err != nil {
		return false, fmt.Errorf("fill: undo %s: %w", op.FieldID, err)
	}
	r.history = r.history[:len(r.history)-1]
	return true, nil
}

// ClearAll resets every given candidate to empty/unselected, regardless of
// fill history. Per-field errors are logged and skipped; the return value
// counts the fields actually cleared.
func (r *Runner) ClearAll(candidates []scan.Candidate, opts Options) int {
	cleared := 0
	for _, c := range candidates {
		if c.El == nil {
			continue
		}
		var err error
		switch c.Kind {
		case dom.KindText, dom.KindTextarea:
			if err = c.El.SetValue(""); err == nil {
				err = dispatch(c.El, opts.DispatchEvents, dom.EventInput, dom.EventChange)
			}
		case dom.KindSelect:
			if err = c.El.ClearSelection(); err == nil {
				err = dispatch(c.El, opts.DispatchEvents, dom.EventChange)
			}
		case dom.KindCheckbox, dom.KindRadio:
			if err = c.El.SetChecked(false); err == nil {
				err = dispatch(c.El, opts.DispatchEvents, dom.EventChange)
			}
		default:
			continue
		}
		if err != nil {
			r.log.Warn("fill: clear failed", "fieldId", c.ID, "err", err)
			continue
		}
		cleared++
	}
	return cleared
}

// History returns a copy of the undo history, oldest first.
func (r *Runner) History() []Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Operation, len(r.history))
	copy(out, r.history)
	return out
}

// ClearHistory drops the undo history without touching the DOM.
func (r *Runner) ClearHistory() {
	r.mu.Lock()
	r.history = nil
	r.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
