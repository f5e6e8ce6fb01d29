// Package llmclient defines the abstract LLM collaborator: a single
// Invoke contract the core depends on, plus adapters exercising
// real vendor HTTP surfaces the way gomind's ai package layers OpenAI,
// Bedrock, and mock providers behind one core.AIClient interface.
//
// The core (worker, coordinator packages) only ever imports Client; the
// concrete adapter is chosen at composition time in cmd/facilityd.
package llmclient

import (
	"context"
	"errors"
	"time"
)

// TransientError marks an LLM failure a caller should fall back from but
// that does not indicate a permanently broken configuration (timeouts,
// rate limits, transport hiccups).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "llm transient error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks an LLM failure that retrying or falling back will not
// fix (bad credentials, malformed request shape).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "llm fatal error: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is or wraps a *TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err is or wraps a *FatalError.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// Options configures a single Invoke call.
type Options struct {
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	Model       string
}

// DefaultOptions returns the conservative defaults workers use absent a
// more specific override.
func DefaultOptions() Options {
	return Options{Temperature: 0.3, MaxTokens: 800, Timeout: 30 * time.Second}
}

// Client is the single capability the core depends on: invoke a prompt and
// get text back, or a classified error.
type Client interface {
	Invoke(ctx context.Context, prompt string, options Options) (string, error)
}
