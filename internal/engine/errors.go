package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Load failure classes. Each is matched by errors.Is against a *LoadError.
var (
	ErrLoadTimeout  = errors.New("engine load timed out")
	ErrLoadNotFound = errors.New("engine artifacts not found")
	ErrLoadFailed   = errors.New("engine load failed")
)

// ErrArtifactNotFound is wrapped by fetchers when a mirror does not have an artifact.
var ErrArtifactNotFound = errors.New("artifact not found")

// FailureKind classifies a single mirror failure.
type FailureKind string

// Mirror failure kinds.
const (
	FailureTimeout  FailureKind = "timeout"
	FailureNotFound FailureKind = "not_found"
	FailureOther    FailureKind = "other"
)

// MirrorFailure records why one mirror could not supply the engine.
type MirrorFailure struct {
	Mirror string      `json:"mirror"`
	Kind   FailureKind `json:"kind"`
	Err    error       `json:"-"`
}

// LoadError is returned when no mirror could supply a working engine.
type LoadError struct {
	// Kind is one of ErrLoadTimeout, ErrLoadNotFound or ErrLoadFailed.
	Kind     error
	Failures []MirrorFailure
}

func (e *LoadError) Error() string {
	n := len(e.Failures)
	switch {
	case errors.Is(e.Kind, ErrLoadNotFound):
		return fmt.Sprintf("%v on any of %d mirrors", ErrLoadNotFound, n)
	case errors.Is(e.Kind, ErrLoadTimeout):
		if n == 0 {
			return fmt.Sprintf("%v before any mirror was tried", ErrLoadTimeout)
		}
		return fmt.Sprintf("%v after %d mirror attempts", ErrLoadTimeout, n)
	default:
		if last := e.Last(); last != nil {
			return fmt.Sprintf("%v: %v", e.Kind, last.Err)
		}
		return fmt.Sprintf("%v: no mirrors configured", e.Kind)
	}
}

// Unwrap exposes the classification sentinel and the last mirror's error.
func (e *LoadError) Unwrap() []error {
	errs := []error{e.Kind}
	if last := e.Last(); last != nil && last.Err != nil {
		errs = append(errs, last.Err)
	}
	return errs
}

// Last returns the final mirror failure, if any.
func (e *LoadError) Last() *MirrorFailure {
	if len(e.Failures) == 0 {
		return nil
	}
	return &e.Failures[len(e.Failures)-1]
}

// classifyFailure decides whether a mirror failed by timing out, by not
// having the artifacts, or for some other reason. mirrorCtx is the context
// the attempt ran under.
func classifyFailure(mirrorCtx context.Context, err error) FailureKind {
	if errors.Is(err, ErrArtifactNotFound) {
		return FailureNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(mirrorCtx.Err(), context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureOther
}

// newLoadError summarises all mirror failures. budgetExpired is true when the
// global load deadline cut the attempt short.
func newLoadError(failures []MirrorFailure, budgetExpired bool) *LoadError {
	e := &LoadError{Kind: ErrLoadFailed, Failures: failures}
	switch {
	case budgetExpired:
		e.Kind = ErrLoadTimeout
		return e
	case len(failures) == 0:
		return e
	}

	allTimeout, allNotFound := true, true
	for _, f := range failures {
		allTimeout = allTimeout && f.Kind == FailureTimeout
		allNotFound = allNotFound && f.Kind == FailureNotFound
	}
	switch {
	case allTimeout:
		e.Kind = ErrLoadTimeout
	case allNotFound:
		e.Kind = ErrLoadNotFound
	}
	return e
}
