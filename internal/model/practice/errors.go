package practice

import (
	"context"
	"errors"
	"fmt"
)

// Failure kinds surfaced to the session channel.
var (
	ErrNoFragments      = errors.New("no_fragments")
	ErrExternalTool     = errors.New("external_tool_failure")
	ErrMissingInput     = errors.New("missing_input")
	ErrEngineInvocation = errors.New("engine_invocation_failure")
	ErrMalformedOutput  = errors.New("malformed_output")
	ErrTimeout          = errors.New("timeout")
)

var failureKinds = []error{
	ErrNoFragments,
	ErrExternalTool,
	ErrMissingInput,
	ErrEngineInvocation,
	ErrMalformedOutput,
	ErrTimeout,
}

// StageError records which pipeline stage failed and why.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

// NewStageError classifies err into one of the failure kinds. Errors that
// match none of them are attributed to the stage's natural kind.
func NewStageError(stage Stage, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return &StageError{Stage: stage, Kind: se.Kind, Err: se.Err}
	}
	return &StageError{Stage: stage, Kind: Classify(stage, err), Err: err}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s failed: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// KindName is the wire name of the failure kind.
func (e *StageError) KindName() string {
	if e.Kind == nil {
		return ""
	}
	return e.Kind.Error()
}

// Classify maps an arbitrary error raised while running stage to a failure kind.
func Classify(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	for _, kind := range failureKinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	switch stage {
	case StageFinalizing:
		return ErrNoFragments
	case StageAnalyzing:
		return ErrEngineInvocation
	case StageAggregating:
		return ErrMalformedOutput
	default:
		return ErrExternalTool
	}
}
