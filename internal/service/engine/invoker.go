package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zhouzirui/aaroh/backend/internal/model/practice"
	"github.com/zhouzirui/aaroh/backend/internal/service/subprocess"
)

// Config names the recognition engine executable.
type Config struct {
	Command string
	Args    []string
}

// DefaultConfig runs the bundled prediction script.
func DefaultConfig() Config {
	return Config{
		Command: "python3",
		Args:    []string{"python-model/predict.py"},
	}
}

// Invoker runs the external recognition engine and validates what it prints.
type Invoker struct {
	cfg    Config
	run    subprocess.Runner
	logger *slog.Logger
}

// NewInvoker creates an Invoker. A nil runner executes real subprocesses.
func NewInvoker(cfg Config, runner subprocess.Runner, logger *slog.Logger) *Invoker {
	if cfg.Command == "" {
		cfg = DefaultConfig()
	}
	if runner == nil {
		runner = subprocess.Exec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{cfg: cfg, run: runner, logger: logger.With(slog.String("component", "engine"))}
}

// Compare scores subjectPath against referencePath.
func (i *Invoker) Compare(ctx context.Context, referencePath, subjectPath string) (practice.AnalysisResult, error) {
	return i.analyze(ctx, ModeCompare, referencePath, subjectPath)
}

// Reference extracts the chord map of a single recording.
func (i *Invoker) Reference(ctx context.Context, path string) (practice.AnalysisResult, error) {
	return i.analyze(ctx, ModeReference, path)
}

func (i *Invoker) analyze(ctx context.Context, mode Mode, paths ...string) (practice.AnalysisResult, error) {
	args := make([]string, 0, len(i.cfg.Args)+len(paths))
	args = append(args, i.cfg.Args...)
	args = append(args, paths...)

	started := time.Now()
	res, err := i.run(ctx, i.cfg.Command, args...)
	if err != nil {
		i.logger.Error("engine invocation failed",
			slog.Int("exit_code", res.ExitCode),
			slog.String("stderr", res.StderrText()),
			slog.String("error", err.Error()),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return practice.AnalysisResult{}, fmt.Errorf("engine: %w: %w", practice.ErrTimeout, ctxErr)
		}
		return practice.AnalysisResult{}, fmt.Errorf("engine: %w: %w", practice.ErrEngineInvocation, err)
	}

	if stderr := res.StderrText(); stderr != "" {
		i.logger.Warn("engine wrote to stderr", slog.String("stderr", stderr))
	}

	result, err := Parse(res.Stdout, mode)
	if err != nil {
		i.logger.Error("engine output rejected", slog.String("error", err.Error()), slog.Int("stdout_bytes", len(res.Stdout)))
		return practice.AnalysisResult{}, err
	}

	i.logger.Info("engine analysis complete",
		slog.Int("events", len(result.Events)),
		slog.Float64("accuracy", result.Accuracy),
		slog.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}
