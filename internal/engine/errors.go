package engine

import (
	"errors"
	"fmt"
)

// Stage names the native resource whose acquisition failed during Load.
type Stage string

const (
	StageModel   Stage = "model"
	StageContext Stage = "context"
	StageBatch   Stage = "batch"
	StageSampler Stage = "sampler"
)

// Kind classifies engine errors.
type Kind int

const (
	KindNotLoaded Kind = iota + 1
	KindAlreadyLoaded
	KindLoadFailed
	KindSpeculativeInitFailed
)

// Error is returned by Engine operations.
type Error struct {
	Kind  Kind
	Stage Stage // set for KindLoadFailed
	Err   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotLoaded:
		return "engine: no model loaded"
	case KindAlreadyLoaded:
		return "engine: model already loaded"
	case KindLoadFailed:
		if e.Err != nil {
			return fmt.Sprintf("engine: load failed at %s: %v", e.Stage, e.Err)
		}
		return fmt.Sprintf("engine: load failed at %s", e.Stage)
	case KindSpeculativeInitFailed:
		if e.Err != nil {
			return "engine: speculative init failed: " + e.Err.Error()
		}
		return "engine: speculative init failed"
	default:
		return "engine: unknown error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

func errNotLoaded() error     { return &Error{Kind: KindNotLoaded} }
func errAlreadyLoaded() error { return &Error{Kind: KindAlreadyLoaded} }

func errLoadFailed(stage Stage, cause error) error {
	return &Error{Kind: KindLoadFailed, Stage: stage, Err: cause}
}

func errSpecInit(cause error) error {
	return &Error{Kind: KindSpeculativeInitFailed, Err: cause}
}

func isKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// IsNotLoaded reports whether err indicates a call made while Unloaded.
func IsNotLoaded(err error) bool { return isKind(err, KindNotLoaded) }

// IsAlreadyLoaded reports whether err indicates Load while Loaded.
func IsAlreadyLoaded(err error) bool { return isKind(err, KindAlreadyLoaded) }

// IsSpeculativeInitFailed reports whether speculative initialization failed.
func IsSpeculativeInitFailed(err error) bool { return isKind(err, KindSpeculativeInitFailed) }

// LoadFailedStage returns the failing stage when err is a load failure.
func LoadFailedStage(err error) (Stage, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindLoadFailed {
		return e.Stage, true
	}
	return "", false
}

// dependencyUnavailableError signals that the native runtime is not compiled
// into this binary so the HTTP layer can answer 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err (or its cause) indicates a
// missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var d dependencyUnavailableError
	return errors.As(err, &d)
}
