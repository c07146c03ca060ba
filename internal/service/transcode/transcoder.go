package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zhouzirui/aaroh/backend/internal/model/practice"
	"github.com/zhouzirui/aaroh/backend/internal/service/subprocess"
)

const (
	manifestName  = "inputs.txt"
	containerName = "merged.webm"
	pcmName       = "final.wav"
)

// Config fixes the ffmpeg binary and the canonical output format.
type Config struct {
	FFmpegPath string
	AudioCodec string
	SampleRate int
	Channels   int
}

// DefaultConfig matches what the recognition engine loads without resampling.
func DefaultConfig() Config {
	return Config{
		FFmpegPath: "ffmpeg",
		AudioCodec: "libopus",
		SampleRate: 22050,
		Channels:   1,
	}
}

// Transcoder merges a session's fragments and converts the result to PCM WAV.
type Transcoder struct {
	cfg    Config
	run    subprocess.Runner
	logger *slog.Logger
}

// New creates a Transcoder. A nil runner executes real subprocesses.
func New(cfg Config, runner subprocess.Runner, logger *slog.Logger) *Transcoder {
	defaults := DefaultConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = defaults.FFmpegPath
	}
	if cfg.AudioCodec == "" {
		cfg.AudioCodec = defaults.AudioCodec
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaults.Channels
	}
	if runner == nil {
		runner = subprocess.Exec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{cfg: cfg, run: runner, logger: logger.With(slog.String("component", "transcoder"))}
}

// Merge concatenates fragments, in the order given, into one audio container
// inside dir and returns its path.
func (t *Transcoder) Merge(ctx context.Context, dir string, fragments []practice.FragmentRef) (string, error) {
	if len(fragments) == 0 {
		return "", practice.ErrNoFragments
	}

	manifest := filepath.Join(dir, manifestName)
	if err := os.WriteFile(manifest, []byte(buildManifest(fragments)), 0o644); err != nil {
		return "", fmt.Errorf("write concat manifest: %w: %w", practice.ErrMissingInput, err)
	}

	output := filepath.Join(dir, containerName)
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", manifest,
		"-vn", "-c:a", t.cfg.AudioCodec,
		output,
	}

	if err := t.invoke(ctx, "concat", args); err != nil {
		return "", err
	}
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("merged container %s: %w", output, practice.ErrMissingInput)
	}

	t.logger.Info("fragments merged", slog.String("output", output), slog.Int("fragments", len(fragments)))
	return output, nil
}

// Transcode converts the merged container into canonical 16-bit PCM WAV next
// to it and returns the new path.
func (t *Transcoder) Transcode(ctx context.Context, containerPath string) (string, error) {
	if _, err := os.Stat(containerPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("container %s: %w", containerPath, practice.ErrMissingInput)
		}
		return "", fmt.Errorf("stat container: %w: %w", practice.ErrMissingInput, err)
	}

	output := filepath.Join(filepath.Dir(containerPath), pcmName)
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", containerPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(t.cfg.Channels),
		"-ar", strconv.Itoa(t.cfg.SampleRate),
		"-f", "wav",
		output,
	}

	if err := t.invoke(ctx, "pcm", args); err != nil {
		return "", err
	}
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("pcm output %s: %w", output, practice.ErrMissingInput)
	}

	t.logger.Info("container transcoded", slog.String("output", output))
	return output, nil
}

func (t *Transcoder) invoke(ctx context.Context, pass string, args []string) error {
	res, err := t.run(ctx, t.cfg.FFmpegPath, args...)
	if err == nil {
		return nil
	}

	t.logger.Error("ffmpeg failed",
		slog.String("pass", pass),
		slog.Int("exit_code", res.ExitCode),
		slog.String("stderr", res.StderrText()),
		slog.String("error", err.Error()),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ffmpeg %s: %w: %w", pass, practice.ErrTimeout, ctxErr)
	}
	return fmt.Errorf("ffmpeg %s: %w: %w", pass, practice.ErrExternalTool, err)
}

// buildManifest renders the concat demuxer input list. Single quotes inside
// paths are closed, escaped and reopened as the demuxer expects.
func buildManifest(fragments []practice.FragmentRef) string {
	var b strings.Builder
	for _, frag := range fragments {
		path := filepath.ToSlash(frag.Path)
		path = strings.ReplaceAll(path, "'", `'\''`)
		b.WriteString("file '")
		b.WriteString(path)
		b.WriteString("'\n")
	}
	return b.String()
}
