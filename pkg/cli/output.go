package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"mercator-hq/governor/pkg/config"
	"mercator-hq/governor/pkg/limits"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is a rendered table (default).
	FormatText OutputFormat = "text"
	// FormatJSON is indented JSON output.
	FormatJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", NewConfigError("output", fmt.Sprintf("unknown format %q: must be 'text' or 'json'", s))
	}
}

// Formatter formats command output.
type Formatter interface {
	Inspections(w io.Writer, results []limits.Inspection) error
	FieldErrors(w io.Writer, errs []config.FieldError) error
}

// NewFormatter creates a new formatter for the specified format.
func NewFormatter(format OutputFormat) Formatter {
	if format == FormatJSON {
		return &JSONFormatter{Indent: true}
	}
	return &TableFormatter{}
}

// TableFormatter renders results as tables.
type TableFormatter struct {
	// Now is used to render time until a breaker reopens. Default: time.Now
	Now func() time.Time
}

// Inspections renders one row per source.
func (f *TableFormatter) Inspections(w io.Writer, results []limits.Inspection) error {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Source", "Tokens", "Capacity", "Refill/s", "Breaker", "Failures", "Trials", "Reopens In"})

	for _, in := range results {
		b := in.Breaker
		reopens := "-"
		if !b.OpenedAt.IsZero() {
			if d := b.ReopensAt().Sub(now()); d > 0 {
				reopens = d.Round(time.Second).String()
			} else {
				reopens = "now"
			}
		}
		t.AppendRow(table.Row{
			in.Source,
			strconv.FormatFloat(in.Bucket.Tokens, 'f', 2, 64),
			in.Bucket.Capacity,
			strconv.FormatFloat(in.Bucket.RefillRate, 'f', -1, 64),
			b.State.String(),
			b.ConsecutiveFailures,
			fmt.Sprintf("%d/%d", b.TrialsInFlight, b.TrialBudget),
			reopens,
		})
	}

	t.Render()
	return nil
}

// FieldErrors renders validation errors, or a success line if there are
// none.
func (f *TableFormatter) FieldErrors(w io.Writer, errs []config.FieldError) error {
	if len(errs) == 0 {
		_, err := fmt.Fprintln(w, "configuration is valid")
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Field", "Problem"})
	for _, e := range errs {
		t.AppendRow(table.Row{e.Field, e.Message})
	}
	t.Render()
	return nil
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

type inspectionJSON struct {
	Source  string              `json:"source"`
	Config  limits.SourceConfig `json:"config"`
	Tokens  float64             `json:"tokens"`
	Breaker string              `json:"breaker_state"`

	ConsecutiveFailures int        `json:"consecutive_failures"`
	TrialsInFlight      int        `json:"trials_in_flight"`
	ReopensAt           *time.Time `json:"reopens_at,omitempty"`
}

// Inspections writes one object per source.
func (f *JSONFormatter) Inspections(w io.Writer, results []limits.Inspection) error {
	out := make([]inspectionJSON, 0, len(results))
	for _, in := range results {
		row := inspectionJSON{
			Source:              in.Source,
			Config:              in.Config,
			Tokens:              in.Bucket.Tokens,
			Breaker:             in.Breaker.State.String(),
			ConsecutiveFailures: in.Breaker.ConsecutiveFailures,
			TrialsInFlight:      in.Breaker.TrialsInFlight,
		}
		if !in.Breaker.OpenedAt.IsZero() {
			reopens := in.Breaker.ReopensAt()
			row.ReopensAt = &reopens
		}
		out = append(out, row)
	}
	return f.encode(w, out)
}

// FieldErrors writes the errors as an array of {field, message}.
func (f *JSONFormatter) FieldErrors(w io.Writer, errs []config.FieldError) error {
	type fieldError struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	}
	out := make([]fieldError, 0, len(errs))
	for _, e := range errs {
		out = append(out, fieldError{Field: e.Field, Message: e.Message})
	}
	return f.encode(w, map[string]any{"valid": len(errs) == 0, "errors": out})
}

func (f *JSONFormatter) encode(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}
