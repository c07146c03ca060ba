package config

import (
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "STORAGE_ROOT", "CLEANUP_INTERVAL", "CLEANUP_MAX_AGE",
		"FFMPEG_PATH", "FFMPEG_AUDIO_CODEC", "PCM_SAMPLE_RATE", "PCM_CHANNELS",
		"MERGE_TIMEOUT", "TRANSCODE_TIMEOUT", "ENGINE_COMMAND", "REFERENCE_AUDIO",
		"ANALYZE_TIMEOUT", "ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "Model",
		"ARK_TEMPERATURE", "ARK_TOP_P", "ARK_MAX_TOKENS", "AI_COACH_ENABLED", "AI_COACH_TIMEOUT",
		"NATS_URL", "NATS_TOKEN", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Storage.CleanupInterval != 5*time.Minute || cfg.Storage.CleanupMaxAge != 7*time.Minute {
		t.Fatalf("unexpected cleanup defaults %+v", cfg.Storage)
	}
	if cfg.Transcoder.SampleRate != 22050 || cfg.Transcoder.Channels != 1 || cfg.Transcoder.FFmpegPath != "ffmpeg" {
		t.Fatalf("unexpected transcoder defaults %+v", cfg.Transcoder)
	}
	if cfg.Transcoder.MergeTimeout != time.Minute || cfg.Engine.AnalyzeTimeout != 2*time.Minute {
		t.Fatalf("unexpected timeout defaults")
	}
	if cfg.Engine.Command != "python3" || !slices.Equal(cfg.Engine.Args, []string{filepath.Join("python-model", "predict.py")}) {
		t.Fatalf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.AI.Enabled() {
		t.Fatal("AI must be disabled without credentials")
	}
	if cfg.Events.Enabled() {
		t.Fatal("events must be disabled without NATS_URL")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("CLEANUP_INTERVAL", "0")
	t.Setenv("ANALYZE_TIMEOUT", "90s")
	t.Setenv("MERGE_TIMEOUT", "30")
	t.Setenv("PCM_SAMPLE_RATE", "16000")
	t.Setenv("ENGINE_COMMAND", "/usr/bin/python")
	t.Setenv("ENGINE_ARGS", "-u model/predict.py")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("Model", "doubao")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
	if cfg.Storage.CleanupInterval != 0 {
		t.Fatalf("expected cleanup disabled, got %v", cfg.Storage.CleanupInterval)
	}
	if cfg.Engine.AnalyzeTimeout != 90*time.Second || cfg.Transcoder.MergeTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts analyze=%v merge=%v", cfg.Engine.AnalyzeTimeout, cfg.Transcoder.MergeTimeout)
	}
	if cfg.Transcoder.SampleRate != 16000 {
		t.Fatalf("unexpected sample rate %d", cfg.Transcoder.SampleRate)
	}
	if !slices.Equal(cfg.Engine.Args, []string{"-u", "model/predict.py"}) {
		t.Fatalf("unexpected engine args %v", cfg.Engine.Args)
	}
	if !cfg.AI.Enabled() || !cfg.Events.Enabled() {
		t.Fatal("expected AI and events enabled")
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lower-cased format, got %s", cfg.Logging.Format)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":             "80 80",
		"CLEANUP_MAX_AGE":  "soon",
		"ANALYZE_TIMEOUT":  "-5",
		"PCM_SAMPLE_RATE":  "fast",
		"PCM_CHANNELS":     "6",
		"AI_COACH_ENABLED": "maybe",
		"ARK_TEMPERATURE":  "hot",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("SOME_TIMEOUT", "1m30s")
	got, err := parseDurationEnv("SOME_TIMEOUT", time.Second)
	if err != nil || got != 90*time.Second {
		t.Fatalf("got %v, %v", got, err)
	}

	t.Setenv("SOME_TIMEOUT", "")
	got, err = parseDurationEnv("SOME_TIMEOUT", time.Second)
	if err != nil || got != time.Second {
		t.Fatalf("expected default, got %v, %v", got, err)
	}
}
