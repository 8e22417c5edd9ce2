package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/audex/internal/diagnostics"
	"github.com/jmylchreest/audex/internal/engine"
	"github.com/jmylchreest/audex/internal/progress"
)

// Kind classifies an extraction failure.
type Kind string

// Failure kinds. KindUnknown covers errors outside the taxonomy, such as a
// caller cancelling its context.
const (
	KindUnknown           Kind = ""
	KindLoadTimeout       Kind = "load_timeout"
	KindLoadNotFound      Kind = "load_not_found"
	KindLoadFailed        Kind = "load_failed"
	KindExtractionTimeout Kind = "extraction_timeout"
	KindExtractionMemory  Kind = "extraction_memory"
	KindInvalidOutput     Kind = "extraction_invalid_output"
	KindUnsupported       Kind = "unsupported_environment"
)

// Sentinels for errors.Is. The load sentinels are the engine loader's own.
var (
	ErrLoadTimeout             = engine.ErrLoadTimeout
	ErrLoadNotFound            = engine.ErrLoadNotFound
	ErrLoadFailed              = engine.ErrLoadFailed
	ErrExtractionTimeout       = errors.New("extraction timed out")
	ErrExtractionMemory        = errors.New("extraction ran out of memory")
	ErrExtractionInvalidOutput = errors.New("extraction produced no usable audio")
	ErrUnsupportedEnvironment  = errors.New("audio extraction is not supported in this environment")
	ErrQueueClosed             = errors.New("extraction queue closed")
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindLoadTimeout, ErrLoadTimeout},
	{KindLoadNotFound, ErrLoadNotFound},
	{KindLoadFailed, ErrLoadFailed},
	{KindExtractionTimeout, ErrExtractionTimeout},
	{KindExtractionMemory, ErrExtractionMemory},
	{KindInvalidOutput, ErrExtractionInvalidOutput},
	{KindUnsupported, ErrUnsupportedEnvironment},
}

// Sentinel returns the sentinel error for k, or nil for KindUnknown.
func (k Kind) Sentinel() error {
	for _, ks := range kindSentinels {
		if ks.kind == k {
			return ks.err
		}
	}
	return nil
}

// Message is a short, user-facing explanation of the failure kind.
func (k Kind) Message() string {
	switch k {
	case KindLoadTimeout:
		return "The audio engine took too long to download. Check your connection and try again."
	case KindLoadNotFound:
		return "The audio engine is temporarily unavailable. Try again later."
	case KindLoadFailed:
		return "The audio engine could not be loaded."
	case KindExtractionTimeout:
		return "Extraction took too long. The file may be too large or complex."
	case KindExtractionMemory:
		return "Not enough memory to extract audio from this file."
	case KindInvalidOutput:
		return "No usable audio track could be extracted from this file."
	case KindUnsupported:
		return "Audio extraction is not supported on this system."
	default:
		return "Audio extraction failed."
	}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnknown {
		return e.Kind
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindUnknown
}

// Error is a classified extraction failure.
type Error struct {
	Kind  Kind
	Stage progress.Stage
	Err   error
	// Diagnostics is set when the job asked for diagnostics.
	Diagnostics *diagnostics.Report
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError classifies cause as kind. The kind's sentinel is added to the
// chain unless cause already carries it.
func newError(kind Kind, stage progress.Stage, cause error) *Error {
	err := cause
	if sentinel := kind.Sentinel(); sentinel != nil {
		switch {
		case cause == nil:
			err = sentinel
		case !errors.Is(cause, sentinel):
			err = fmt.Errorf("%w: %w", sentinel, cause)
		}
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// classify maps an error from an engine call made under the job context.
// ok is false when the error has no kind of its own.
func classify(jobCtx context.Context, err error) (Kind, bool) {
	switch {
	case errors.Is(err, engine.ErrOutOfMemory):
		return KindExtractionMemory, true
	case errors.Is(err, context.DeadlineExceeded) && errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return KindExtractionTimeout, true
	}
	return KindUnknown, false
}
