package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Datastore transience differs from API rate limiting: writes get a smaller,
// shorter retry than generative calls. Exhaustion is surfaced to the caller,
// which records the fault and skips the step.
const (
	writeAttempts = 3
	writeBackoff  = 200 * time.Millisecond
)

var ErrDuplicateTask = errors.New("a backlog task already references this proposal")

func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !persistenceRetryable(err) {
			return err
		}
		if s.Log != nil {
			s.Log.Warnf("%s: attempt %d/%d failed: %v", op, attempt, writeAttempts, err)
		}
		if attempt < writeAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(writeBackoff * time.Duration(attempt)):
			}
		}
	}
	return err
}

// persistenceRetryable matches sqlite contention signatures. Constraint
// violations and logical errors are terminal.
func persistenceRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateTask) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") ||
		strings.Contains(msg, "locked") ||
		strings.Contains(msg, "interrupted") ||
		strings.Contains(msg, "i/o")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}
