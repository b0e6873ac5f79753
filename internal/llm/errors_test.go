package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryableKindWinsOverWrappedContextError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "rate limit wrapping a deadline error",
			err:  &Error{Kind: KindRateLimit, Err: context.DeadlineExceeded},
			want: true,
		},
		{
			name: "transient wrapping a deadline error",
			err:  &Error{Kind: KindTransient, Err: context.DeadlineExceeded},
			want: true,
		},
		{
			name: "auth wrapping a deadline error",
			err:  &Error{Kind: KindAuth, Err: context.DeadlineExceeded},
			want: false,
		},
		{
			name: "bare cancellation",
			err:  context.Canceled,
			want: false,
		},
		{
			name: "bare deadline",
			err:  context.DeadlineExceeded,
			want: false,
		},
		{
			name: "plain sdk timeout string",
			err:  errors.New("Post \"https://example\": net/http: timeout awaiting response"),
			want: true,
		},
		{
			name: "plain auth string",
			err:  errors.New("401 unauthorized"),
			want: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		msg  string
		want ErrorKind
	}{
		{"googleapi: Error 429: rate limit exceeded", KindRateLimit},
		{"rpc error: code = ResourceExhausted desc = quota", KindRateLimit},
		{"503 service unavailable", KindTransient},
		{"unexpected EOF", KindTransient},
		{"context deadline exceeded (Client.Timeout)", KindTransient},
		{"empty response from model", KindEmptyResponse},
		{"API key not valid", KindAuth},
		{"400 INVALID_ARGUMENT", KindBadPrompt},
		{"something inexplicable", KindUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.msg, func(t *testing.T) {
			if got := Classify(errors.New(tc.msg)).Kind; got != tc.want {
				t.Errorf("Classify(%q) = %s, want %s", tc.msg, got, tc.want)
			}
		})
	}
}

func TestClassifyKeepsExistingClassification(t *testing.T) {
	orig := &Error{Kind: KindAuth, Err: errors.New("bad key")}
	wrapped := fmt.Errorf("generate: %w", orig)
	if got := Classify(wrapped); got.Kind != KindAuth {
		t.Errorf("expected wrapped classification to survive, got %s", got.Kind)
	}
}
