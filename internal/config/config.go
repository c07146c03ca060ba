package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Transcoder TranscoderConfig
	Engine     EngineConfig
	AI         AIConfig
	Events     EventsConfig
	Logging    LoggingConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	transcoder, err := loadTranscoderConfig()
	if err != nil {
		return nil, err
	}

	engine, err := loadEngineConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		Storage:    storage,
		Transcoder: transcoder,
		Engine:     engine,
		AI:         ai,
		Events:     loadEventsConfig(),
		Logging:    loadLoggingConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StorageConfig 描述录音分片的存储位置与清理策略。
type StorageConfig struct {
	Root            string
	CleanupInterval time.Duration
	CleanupMaxAge   time.Duration
}

func loadStorageConfig() (StorageConfig, error) {
	interval, err := parseDurationEnv("CLEANUP_INTERVAL", 5*time.Minute)
	if err != nil {
		return StorageConfig{}, err
	}
	maxAge, err := parseDurationEnv("CLEANUP_MAX_AGE", 7*time.Minute)
	if err != nil {
		return StorageConfig{}, err
	}
	if interval > 0 && maxAge <= 0 {
		return StorageConfig{}, fmt.Errorf("CLEANUP_MAX_AGE must be positive when cleanup is enabled")
	}

	return StorageConfig{
		Root:            getEnvOrDefault("STORAGE_ROOT", filepath.Join("uploads", "sessions")),
		CleanupInterval: interval,
		CleanupMaxAge:   maxAge,
	}, nil
}

// TranscoderConfig 描述 ffmpeg 调用参数。
type TranscoderConfig struct {
	FFmpegPath       string
	AudioCodec       string
	SampleRate       int
	Channels         int
	MergeTimeout     time.Duration
	TranscodeTimeout time.Duration
}

func loadTranscoderConfig() (TranscoderConfig, error) {
	sampleRate := 22050
	if override, err := parseOptionalIntEnv("PCM_SAMPLE_RATE"); err != nil {
		return TranscoderConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return TranscoderConfig{}, fmt.Errorf("invalid PCM_SAMPLE_RATE value %d", *override)
		}
		sampleRate = *override
	}

	channels := 1
	if override, err := parseOptionalIntEnv("PCM_CHANNELS"); err != nil {
		return TranscoderConfig{}, err
	} else if override != nil {
		if *override < 1 || *override > 2 {
			return TranscoderConfig{}, fmt.Errorf("invalid PCM_CHANNELS value %d", *override)
		}
		channels = *override
	}

	mergeTimeout, err := parseDurationEnv("MERGE_TIMEOUT", 60*time.Second)
	if err != nil {
		return TranscoderConfig{}, err
	}
	transcodeTimeout, err := parseDurationEnv("TRANSCODE_TIMEOUT", 60*time.Second)
	if err != nil {
		return TranscoderConfig{}, err
	}

	return TranscoderConfig{
		FFmpegPath:       getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),
		AudioCodec:       getEnvOrDefault("FFMPEG_AUDIO_CODEC", "libopus"),
		SampleRate:       sampleRate,
		Channels:         channels,
		MergeTimeout:     mergeTimeout,
		TranscodeTimeout: transcodeTimeout,
	}, nil
}

// EngineConfig 描述和弦识别引擎的调用方式。
type EngineConfig struct {
	Command        string
	Args           []string
	ReferencePath  string
	AnalyzeTimeout time.Duration
}

func loadEngineConfig() (EngineConfig, error) {
	timeout, err := parseDurationEnv("ANALYZE_TIMEOUT", 120*time.Second)
	if err != nil {
		return EngineConfig{}, err
	}

	args := []string{filepath.Join("python-model", "predict.py")}
	if raw, ok := os.LookupEnv("ENGINE_ARGS"); ok {
		// 显式设置为空字符串表示不附加任何参数。
		args = strings.Fields(raw)
	}

	return EngineConfig{
		Command:        getEnvOrDefault("ENGINE_COMMAND", "python3"),
		Args:           args,
		ReferencePath:  getEnvOrDefault("REFERENCE_AUDIO", filepath.Join("uploads", "ideal.wav")),
		AnalyzeTimeout: timeout,
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	CoachEnabled bool
	CoachTimeout time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	coachEnabled, err := parseBoolEnv("AI_COACH_ENABLED", true)
	if err != nil {
		return AIConfig{}, err
	}

	coachTimeout, err := parseDurationEnv("AI_COACH_TIMEOUT", 15*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("Model")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		CoachEnabled: coachEnabled,
		CoachTimeout: coachTimeout,
	}, nil
}

// EventsConfig 描述 NATS 事件总线，URL 为空时不发布事件。
type EventsConfig struct {
	URL   string
	Token string
}

// Enabled 表示是否配置了事件总线。
func (c EventsConfig) Enabled() bool {
	return c.URL != ""
}

func loadEventsConfig() EventsConfig {
	return EventsConfig{
		URL:   strings.TrimSpace(os.Getenv("NATS_URL")),
		Token: strings.TrimSpace(os.Getenv("NATS_TOKEN")),
	}
}

// LoggingConfig 描述日志级别与输出格式。
type LoggingConfig struct {
	Level  string
	Format string
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv 支持 Go duration 字符串（如 "90s"）或纯数字秒数；"0" 表示禁用。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, value)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, value)
	}
	return val, nil
}
