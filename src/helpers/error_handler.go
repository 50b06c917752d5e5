package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"card-market-tracker/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

// TrackerError is the common shape of the pipeline's typed errors.
type TrackerError struct {
	Message string
	Cause   error
}

func (e *TrackerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *TrackerError) Unwrap() error {
	return e.Cause
}

type ConfigurationError struct{ TrackerError }

// PipelineError aborts a run (catalog, storage, sink failures).
type PipelineError struct{ TrackerError }

// IntegrityError flags data that contradicts the stored history.
type IntegrityError struct{ TrackerError }

// PhaseError fails one collector phase as a whole.
type PhaseError struct {
	Phase string
	Cause error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Cause)
}

func (e *PhaseError) Unwrap() error {
	return e.Cause
}

// -----------------------------------------------------------------------------
// Per-entity collection errors
// -----------------------------------------------------------------------------

type CollectionErrorKind string

const (
	KindTransport CollectionErrorKind = "transport"
	KindQuota     CollectionErrorKind = "quota"
	KindParse     CollectionErrorKind = "parse"
	KindUnmatched CollectionErrorKind = "unmatched"
	KindTimeout   CollectionErrorKind = "timeout"
)

// CollectionError is recorded against one entity and never aborts the phase.
type CollectionError struct {
	EntityID string
	Kind     CollectionErrorKind
	Cause    error
}

func (e *CollectionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s error for %s", e.Kind, e.EntityID)
	}
	return fmt.Sprintf("%s error for %s: %v", e.Kind, e.EntityID, e.Cause)
}

func (e *CollectionError) Unwrap() error {
	return e.Cause
}

// HTTPStatusError carries a non-2xx answer back to the caller.
type HTTPStatusError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("bad status: %d", e.StatusCode)
}

// -----------------------------------------------------------------------------

func NewCollectionError(entityID string, kind CollectionErrorKind, cause error) *CollectionError {
	return &CollectionError{EntityID: entityID, Kind: kind, Cause: cause}
}

// -----------------------------------------------------------------------------

func NewPipelineError(message string, cause error) *PipelineError {
	return &PipelineError{TrackerError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------

func NewIntegrityError(format string, args ...interface{}) *IntegrityError {
	return &IntegrityError{TrackerError{Message: fmt.Sprintf(format, args...)}}
}

// -----------------------------------------------------------------------------

func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{TrackerError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------

// KindOf classifies an arbitrary collection failure, defaulting to transport.
func KindOf(err error) CollectionErrorKind {
	var ce *CollectionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransport
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// Permanent marks an error that RetryWithBackoff must not retry.
type Permanent struct{ Err error }

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// -----------------------------------------------------------------------------

// RetryWithBackoff attempts fn up to maxRetries times with exponential backoff.
// It stops early when ctx is done or fn returns a *Permanent error.
func RetryWithBackoff[T any](ctx context.Context, log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var perm *Permanent
		if errors.As(err, &perm) {
			return zero, perm.Err
		}
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * (1 << attempt)
		if log != nil {
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries, operation, err, delay)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}
