package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind int8

const (
	// KindRateLimit covers 429 and quota exhaustion. Retryable.
	KindRateLimit ErrorKind = iota
	// KindTransient covers 5xx, EOF, resets and timeouts. Retryable.
	KindTransient
	// KindEmptyResponse covers HTTP 200 with no content. Retryable.
	KindEmptyResponse
	// KindAuth covers 401/403 and bad API keys. Not retryable.
	KindAuth
	// KindBadPrompt covers malformed or rejected requests. Not retryable.
	KindBadPrompt
	// KindUnknown is the default for unclassified errors.
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	case KindEmptyResponse:
		return "empty_response"
	case KindAuth:
		return "auth"
	case KindBadPrompt:
		return "bad_prompt"
	default:
		return "unknown"
	}
}

var ErrNotInitialized = errors.New("llm provider not initialized")

// Error is a classified provider error.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm error (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the error class is worth another attempt.
// Blocklist approach: retry everything except the explicitly terminal kinds.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindAuth, KindBadPrompt:
		return false
	default:
		return true
	}
}

// IsRetryable classifies err if needed and reports retryability. A classified
// error answers by its kind, whatever it wraps: a rate-limited call that
// timed out is still a rate limit. Bare context errors stay terminal; whether
// the caller's own context is done is the caller's check, not this one.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return Classify(err).Retryable()
}

// KindOf returns the classified kind, KindUnknown for plain errors.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

// Classify maps a raw provider error onto the taxonomy by signature matching.
// SDKs surface most of these as opaque strings, so this is substring based.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	msg := strings.ToLower(err.Error())
	kind := KindUnknown
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "quota"):
		kind = KindRateLimit
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		kind = KindTransient
	case strings.Contains(msg, "empty response"),
		strings.Contains(msg, "empty json response"):
		kind = KindEmptyResponse
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "api key"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "permission"):
		kind = KindAuth
	case strings.Contains(msg, "400"),
		strings.Contains(msg, "invalid_argument"),
		strings.Contains(msg, "prompt"):
		kind = KindBadPrompt
	}
	return &Error{Kind: kind, Err: err}
}
