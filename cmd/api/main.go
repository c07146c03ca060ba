package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/aaroh/backend/internal/config"
	"github.com/zhouzirui/aaroh/backend/internal/handler"
	"github.com/zhouzirui/aaroh/backend/internal/metrics"
	"github.com/zhouzirui/aaroh/backend/internal/service/chunkstore"
	"github.com/zhouzirui/aaroh/backend/internal/service/coach"
	"github.com/zhouzirui/aaroh/backend/internal/service/engine"
	"github.com/zhouzirui/aaroh/backend/internal/service/events"
	"github.com/zhouzirui/aaroh/backend/internal/service/session"
	"github.com/zhouzirui/aaroh/backend/internal/service/transcode"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Warn("failed to load .env file, continuing with system environment variables only",
			slog.String("error", envErr.Error()))
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	store, err := chunkstore.New(cfg.Storage.Root)
	if err != nil {
		logger.Error("failed to prepare storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	media := transcode.New(transcode.Config{
		FFmpegPath: cfg.Transcoder.FFmpegPath,
		AudioCodec: cfg.Transcoder.AudioCodec,
		SampleRate: cfg.Transcoder.SampleRate,
		Channels:   cfg.Transcoder.Channels,
	}, nil, logger)

	invoker := engine.NewInvoker(engine.Config{
		Command: cfg.Engine.Command,
		Args:    cfg.Engine.Args,
	}, nil, logger)

	// Initialize coach service (optional LLM note next to the static guidance)
	var coachSvc session.Coach
	if cfg.AI.Enabled() && cfg.AI.CoachEnabled {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize chat model, coaching notes disabled", slog.String("error", err.Error()))
		} else if svc, err := coach.NewService(ctx, chatModel, coach.Config{Enabled: true}, logger); err != nil {
			logger.Warn("failed to initialize coach service", slog.String("error", err.Error()))
		} else {
			coachSvc = svc
			logger.Info("coach service enabled", slog.String("model", cfg.AI.Model))
		}
	} else {
		logger.Info("Ark 凭证未配置或教练功能关闭，跳过 AI 教练初始化")
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.Events.Enabled() {
		nc, err := events.Connect(cfg.Events.URL, cfg.Events.Token, logger)
		if err != nil {
			logger.Warn("failed to connect to NATS, session events disabled", slog.String("error", err.Error()))
		} else {
			publisher = nc
			logger.Info("session events enabled", slog.String("url", cfg.Events.URL))
		}
	}
	defer publisher.Close()

	coordinator := session.NewCoordinator(session.Config{
		ReferencePath:    cfg.Engine.ReferencePath,
		MergeTimeout:     cfg.Transcoder.MergeTimeout,
		TranscodeTimeout: cfg.Transcoder.TranscodeTimeout,
		AnalyzeTimeout:   cfg.Engine.AnalyzeTimeout,
		CoachTimeout:     cfg.AI.CoachTimeout,
	}, session.Deps{
		Store:    store,
		Media:    media,
		Analyzer: invoker,
		Coach:    coachSvc,
		Events:   publisher,
		Metrics:  m,
		Logger:   logger,
	})

	sweeper := chunkstore.NewSweeper(store.Root(), cfg.Storage.CleanupInterval, cfg.Storage.CleanupMaxAge, logger)
	sweeper.OnSweep = m.RecordSwept
	go sweeper.Run(ctx)

	router := handler.NewRouter(handler.Options{
		Coordinator: coordinator,
		Sessions:    coordinator,
		Metrics:     m,
		Logger:      logger,
	})

	startServer(ctx, logger, cfg.Server, router)

	logger.Info("waiting for in-flight sessions")
	coordinator.Wait()
	logger.Info("service stopped")
}

func startServer(ctx context.Context, logger *slog.Logger, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("Aaroh practice backend listening", slog.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// initLogger creates the structured logger from configuration.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}
