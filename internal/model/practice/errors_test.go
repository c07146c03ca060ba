package practice

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		stage Stage
		err   error
		want  error
	}{
		{"wrapped missing input", StageTranscoding, fmt.Errorf("stat: %w", ErrMissingInput), ErrMissingInput},
		{"deadline", StageAnalyzing, fmt.Errorf("run: %w", context.DeadlineExceeded), ErrTimeout},
		{"plain merge error", StageMerging, errors.New("boom"), ErrExternalTool},
		{"plain engine error", StageAnalyzing, errors.New("boom"), ErrEngineInvocation},
		{"explicit malformed", StageAnalyzing, ErrMalformedOutput, ErrMalformedOutput},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.stage, tc.err); got != tc.want {
				t.Fatalf("Classify() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewStageError(StageMerging, fmt.Errorf("ffmpeg concat: %w: %w", ErrExternalTool, cause))

	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("expected errors.Is external tool failure")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is underlying cause")
	}
	if err.KindName() != "external_tool_failure" {
		t.Fatalf("unexpected kind name %q", err.KindName())
	}

	rewrapped := NewStageError(StageTranscoding, err)
	if rewrapped.Stage != StageTranscoding || rewrapped.Kind != ErrExternalTool {
		t.Fatalf("rewrap lost classification: %+v", rewrapped)
	}
}
