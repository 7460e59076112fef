// Package outcome normalizes what a worker observed after a permitted
// request into the fixed taxonomy the breaker understands.
//
// Callers classify at the boundary so the core never looks at raw status
// codes or transport errors:
//
//	resp, err := client.Do(req)
//	o := outcome.Classify(statusOf(resp), err)
//	feedback, _ := manager.Report(ctx, source, decision, o)
//	if !feedback.Retryable {
//	    // drop the job
//	}
package outcome

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Outcome is the result of one permitted request.
type Outcome int

const (
	// Success means the source answered normally.
	Success Outcome = iota

	// TransientFailure covers timeouts, 5xx responses and connection
	// errors. It counts toward opening the breaker.
	TransientFailure

	// PermanentFailure covers 4xx responses other than rate limiting. It
	// does not count toward the breaker and should not be retried.
	PermanentFailure

	// RateLimitSignal means the source explicitly limited us (429). It
	// forces the breaker open.
	RateLimitSignal
)

var names = [...]string{
	Success:          "success",
	TransientFailure: "transient_failure",
	PermanentFailure: "permanent_failure",
	RateLimitSignal:  "rate_limit_signal",
}

// String returns the snake_case name of the outcome.
func (o Outcome) String() string {
	if o < 0 || int(o) >= len(names) {
		return fmt.Sprintf("outcome(%d)", int(o))
	}
	return names[o]
}

// Valid reports whether o is one of the defined outcomes.
func (o Outcome) Valid() bool {
	return o >= Success && o <= RateLimitSignal
}

// Retryable reports whether the caller may retry the request later.
func (o Outcome) Retryable() bool {
	return o != PermanentFailure
}

// Parse converts a name produced by String back into an Outcome.
func Parse(s string) (Outcome, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for i, name := range names {
		if name == normalized {
			return Outcome(i), nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("invalid outcome %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Errors callers can wrap to force a classification.
var (
	// ErrRateLimited marks an error as an explicit rate-limit signal.
	ErrRateLimited = errors.New("rate limited by source")

	// ErrPermanent marks an error as non-retryable.
	ErrPermanent = errors.New("permanent failure")
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// FromHTTPStatus classifies an HTTP status code.
func FromHTTPStatus(code int) Outcome {
	switch {
	case code == http.StatusTooManyRequests:
		return RateLimitSignal
	case code >= 200 && code < 400:
		return Success
	case code == http.StatusRequestTimeout:
		return TransientFailure
	case code >= 400 && code < 500:
		return PermanentFailure
	default:
		// 5xx, 1xx and anything unrecognized
		return TransientFailure
	}
}

// FromError classifies a transport or application error. A nil error is a
// Success. Unknown errors are treated as transient.
func FromError(err error) Outcome {
	if err == nil {
		return Success
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return RateLimitSignal
	case errors.Is(err, ErrPermanent):
		return PermanentFailure
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		return FromHTTPStatus(coder.StatusCode())
	}

	// Timeouts and connection errors land here with anything unrecognized.
	return TransientFailure
}

// Classify combines a status code and an error from one request. A non-nil
// error wins; otherwise the status code decides.
func Classify(code int, err error) Outcome {
	if err != nil {
		return FromError(err)
	}
	return FromHTTPStatus(code)
}
