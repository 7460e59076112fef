package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"mercator-hq/governor/pkg/config"
	"mercator-hq/governor/pkg/limits"
	"mercator-hq/governor/pkg/limits/breaker"
)

func testInspections(now time.Time) []limits.Inspection {
	return []limits.Inspection{
		{
			Source: "api.example.com",
			Config: limits.DefaultSourceConfig(),
			Bucket: limits.BucketView{Capacity: 10, Tokens: 7.5, RefillRate: 1},
			Breaker: breaker.Snapshot{
				State:       breaker.Closed,
				TrialBudget: 1,
			},
		},
		{
			Source: "cdn.example.com",
			Config: limits.DefaultSourceConfig(),
			Bucket: limits.BucketView{Capacity: 10, Tokens: 0, RefillRate: 0.5},
			Breaker: breaker.Snapshot{
				State:               breaker.Open,
				ConsecutiveFailures: 5,
				OpenedAt:            now.Add(-10 * time.Second),
				Cooldown:            30 * time.Second,
				TrialBudget:         1,
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"json", FormatJSON, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
			if err != nil && ExitCode(err) != ExitConfig {
				t.Errorf("Expected config exit code, got %d", ExitCode(err))
			}
		})
	}
}

func TestTableFormatter_Inspections(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := &TableFormatter{Now: func() time.Time { return now }}

	var buf bytes.Buffer
	if err := f.Inspections(&buf, testInspections(now)); err != nil {
		t.Fatalf("Inspections failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"SOURCE", "api.example.com", "7.50", "closed", "cdn.example.com", "open", "20s"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestTableFormatter_FieldErrors(t *testing.T) {
	f := &TableFormatter{}

	var buf bytes.Buffer
	if err := f.FieldErrors(&buf, nil); err != nil {
		t.Fatalf("FieldErrors failed: %v", err)
	}
	if !strings.Contains(buf.String(), "configuration is valid") {
		t.Errorf("Expected success line, got %q", buf.String())
	}

	buf.Reset()
	errs := []config.FieldError{{Field: "store.backend", Message: "unknown backend"}}
	if err := f.FieldErrors(&buf, errs); err != nil {
		t.Fatalf("FieldErrors failed: %v", err)
	}
	if !strings.Contains(buf.String(), "store.backend") || !strings.Contains(buf.String(), "unknown backend") {
		t.Errorf("Expected error row, got:\n%s", buf.String())
	}
}

func TestJSONFormatter_Inspections(t *testing.T) {
	now := time.Now()
	f := NewFormatter(FormatJSON)

	var buf bytes.Buffer
	if err := f.Inspections(&buf, testInspections(now)); err != nil {
		t.Fatalf("Inspections failed: %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(decoded))
	}
	if decoded[1]["breaker_state"] != "open" {
		t.Errorf("Expected open breaker, got %v", decoded[1]["breaker_state"])
	}
	if _, ok := decoded[0]["reopens_at"]; ok {
		t.Error("Expected no reopens_at for a closed breaker")
	}
	if _, ok := decoded[1]["reopens_at"]; !ok {
		t.Error("Expected reopens_at for an open breaker")
	}
}

func TestJSONFormatter_FieldErrors(t *testing.T) {
	f := &JSONFormatter{}

	var buf bytes.Buffer
	errs := []config.FieldError{{Field: "server.listen_address", Message: "invalid"}}
	if err := f.FieldErrors(&buf, errs); err != nil {
		t.Fatalf("FieldErrors failed: %v", err)
	}

	var decoded struct {
		Valid  bool `json:"valid"`
		Errors []struct {
			Field string `json:"field"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if decoded.Valid {
		t.Error("Expected valid=false")
	}
	if len(decoded.Errors) != 1 || decoded.Errors[0].Field != "server.listen_address" {
		t.Errorf("Unexpected errors: %+v", decoded.Errors)
	}
}
