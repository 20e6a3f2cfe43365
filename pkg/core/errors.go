package core

import (
	"context"
	"errors"
	"fmt"
)

// TransportError is a provider-side failure from the model API. Temporary
// failures (rate limits, 5xx-class responses) are retried by the client
// pool; permanent ones surface to the sample runner.
type TransportError struct {
	Provider   string
	StatusCode int
	Temporary  bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transport error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// LimitError marks an attempt aborted because a sample limit was reached.
type LimitError struct {
	Kind LimitKind
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded", e.Kind)
}

// SandboxError is a failure starting or communicating with a sandbox
// environment.
type SandboxError struct {
	Provider string
	Err      error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("sandbox %s: %v", e.Provider, e.Err)
}

func (e *SandboxError) Unwrap() error { return e.Err }

// CorruptLogError marks a log file that could not be parsed during
// resume. It aborts resume for that file only.
type CorruptLogError struct {
	Path string
	Err  error
}

func (e *CorruptLogError) Error() string {
	return fmt.Sprintf("corrupt log %s: %v", e.Path, e.Err)
}

func (e *CorruptLogError) Unwrap() error { return e.Err }

// ErrAttemptTimeout marks a single attempt that ran past its timeout.
// The attempt is abandoned; the sample may still retry.
var ErrAttemptTimeout = errors.New("attempt timeout exceeded")

// IsRetryableTransport reports whether err is a transport failure the
// client pool should retry.
func IsRetryableTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Temporary
}

// ClassifyOutcome maps an attempt error to its outcome. A nil error is a
// success; cancellation and timeout are distinguished from ordinary
// errors, and limit errors carry the limit kind that tripped.
func ClassifyOutcome(ctx context.Context, err error) (AttemptOutcome, LimitKind) {
	if err == nil {
		return OutcomeSuccess, ""
	}
	var le *LimitError
	if errors.As(err, &le) {
		return OutcomeLimit, le.Kind
	}
	if cause := context.Cause(ctx); cause != nil && errors.As(cause, &le) {
		return OutcomeLimit, le.Kind
	}
	if errors.Is(err, ErrAttemptTimeout) {
		return OutcomeTimeout, ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return OutcomeCanceled, ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout, ""
	}
	return OutcomeError, ""
}
