package outcome

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
)

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want Outcome
	}{
		{200, Success},
		{204, Success},
		{304, Success},
		{400, PermanentFailure},
		{403, PermanentFailure},
		{404, PermanentFailure},
		{408, TransientFailure},
		{429, RateLimitSignal},
		{500, TransientFailure},
		{502, TransientFailure},
		{503, TransientFailure},
		{0, TransientFailure},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			if got := FromHTTPStatus(tt.code); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

type statusError struct{ code int }

func (e statusError) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusError) StatusCode() int { return e.code }

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, Success},
		{"deadline", context.DeadlineExceeded, TransientFailure},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), TransientFailure},
		{"unexpected eof", io.ErrUnexpectedEOF, TransientFailure},
		{"rate limited", fmt.Errorf("fetch: %w", ErrRateLimited), RateLimitSignal},
		{"permanent", fmt.Errorf("fetch: %w", ErrPermanent), PermanentFailure},
		{"status 429", statusError{429}, RateLimitSignal},
		{"status 404", fmt.Errorf("wrapped: %w", statusError{404}), PermanentFailure},
		{"unknown", errors.New("something odd"), TransientFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromError(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(200, nil); got != Success {
		t.Errorf("Expected success, got %v", got)
	}
	if got := Classify(200, context.DeadlineExceeded); got != TransientFailure {
		t.Errorf("Expected error to win over status, got %v", got)
	}
	if got := Classify(429, nil); got != RateLimitSignal {
		t.Errorf("Expected rate limit signal, got %v", got)
	}
}

func TestOutcome_Retryable(t *testing.T) {
	for _, o := range []Outcome{Success, TransientFailure, RateLimitSignal} {
		if !o.Retryable() {
			t.Errorf("Expected %v to be retryable", o)
		}
	}
	if PermanentFailure.Retryable() {
		t.Error("Expected permanent failure to be non-retryable")
	}
}

func TestParse(t *testing.T) {
	for _, o := range []Outcome{Success, TransientFailure, PermanentFailure, RateLimitSignal} {
		parsed, err := Parse(o.String())
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", o.String(), err)
		}
		if parsed != o {
			t.Errorf("Expected %v, got %v", o, parsed)
		}
	}

	if got, err := Parse(" Rate_Limit_Signal "); err != nil || got != RateLimitSignal {
		t.Errorf("Expected case-insensitive parse, got %v, %v", got, err)
	}
	if _, err := Parse("flaky"); err == nil {
		t.Error("Expected error for unknown outcome")
	}
	if Outcome(42).Valid() {
		t.Error("Expected out of range outcome to be invalid")
	}
	if _, err := Outcome(42).MarshalText(); err == nil {
		t.Error("Expected MarshalText to reject invalid outcome")
	}
}
