// Package config loads service configuration from the environment, with an
// optional YAML file providing the base values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration is constructed once at startup and passed to the components
// that need it.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	STT           STTConfig           `yaml:"stt"`
	Audio         AudioConfig         `yaml:"audio"`
	Translation   TranslationConfig   `yaml:"translation"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Registry      RegistryConfig      `yaml:"registry"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Principal   string `yaml:"principal"`
	Environment string `yaml:"environment"`
	HTTPPort    string `yaml:"httpPort"`
	GRPCPort    string `yaml:"grpcPort"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// STTConfig configures the recognition engine.
type STTConfig struct {
	Provider           string        `yaml:"provider"` // mock, remote
	ModelID            string        `yaml:"modelId"`
	SupportedLanguages []string      `yaml:"supportedLanguages"`
	Device             string        `yaml:"device"` // cuda, cpu
	InferenceURL       string        `yaml:"inferenceUrl"`
	InferenceTimeout   time.Duration `yaml:"inferenceTimeout"`
	VocabPath          string        `yaml:"vocabPath"`
}

// AudioConfig configures upload limits and the decode step.
type AudioConfig struct {
	FFmpegPath     string        `yaml:"ffmpegPath"`
	ScratchDir     string        `yaml:"scratchDir"`
	MaxUploadBytes int64         `yaml:"maxUploadBytes"`
	MaxDuration    time.Duration `yaml:"maxDuration"`
}

// TranslationConfig configures the best-effort translation step.
type TranslationConfig struct {
	Provider      string        `yaml:"provider"` // gemini, openai, none
	Model         string        `yaml:"model"`
	GeminiAPIKey  string        `yaml:"-"`
	OpenAIAPIKey  string        `yaml:"-"`
	OpenAIBaseURL string        `yaml:"openaiBaseUrl"`
	GeminiBaseURL string        `yaml:"geminiBaseUrl"`
	Timeout       time.Duration `yaml:"timeout"`
}

type KafkaConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	Principal string   `yaml:"principal"`
}

// RegistryConfig configures optional Eureka registration.
type RegistryConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	AppName           string        `yaml:"appName"`
	InstanceHost      string        `yaml:"instanceHost"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
}

type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Defaults returns the configuration used when neither a file nor the
// environment provides a value.
func Defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Name:        "STT Service",
			Version:     "1.0.0",
			Principal:   "svc-stt",
			HTTPPort:    "8000",
			GRPCPort:    "50051",
			MetricsAddr: ":9090",
		},
		STT: STTConfig{
			Provider:           "mock",
			ModelID:            "facebook/mms-1b-all",
			SupportedLanguages: []string{"wol", "ful"},
			Device:             "cuda",
			InferenceTimeout:   60 * time.Second,
		},
		Audio: AudioConfig{
			FFmpegPath:     "ffmpeg",
			MaxUploadBytes: 25 * 1024 * 1024,
			MaxDuration:    10 * time.Minute,
		},
		Translation: TranslationConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  15 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic: "stt.transcription.completed",
		},
		Registry: RegistryConfig{
			URL:               "http://localhost:8761/eureka",
			AppName:           "STT-SERVICE",
			HeartbeatInterval: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration. Values from STT_CONFIG_FILE (if set) replace
// the defaults, then environment variables replace both. Malformed
// environment values fall back to the current value.
func Load() *Configuration {
	cfg := Defaults()
	if path := os.Getenv("STT_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			// Config is loaded before logging exists.
			fmt.Fprintf(os.Stderr, "config: ignoring %s: %v\n", path, err)
		}
	}

	s := &cfg.Service
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.Environment = envOrDefault("ENV", s.Environment)
	s.HTTPPort = envOrDefault("HTTP_PORT", s.HTTPPort)
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)
	s.MetricsAddr = envOrDefault("METRICS_ADDR", s.MetricsAddr)

	st := &cfg.STT
	st.Provider = envOrDefault("STT_PROVIDER", st.Provider)
	st.ModelID = envOrDefault("STT_MODEL_ID", st.ModelID)
	st.SupportedLanguages = envOrDefaultList("STT_SUPPORTED_LANGUAGES", st.SupportedLanguages)
	st.Device = envOrDefault("STT_DEVICE", st.Device)
	st.InferenceURL = envOrDefault("STT_INFERENCE_URL", st.InferenceURL)
	st.InferenceTimeout = envOrDefaultDuration("STT_INFERENCE_TIMEOUT", st.InferenceTimeout)
	st.VocabPath = envOrDefault("STT_VOCAB_PATH", st.VocabPath)

	a := &cfg.Audio
	a.FFmpegPath = envOrDefault("AUDIO_FFMPEG_PATH", a.FFmpegPath)
	a.ScratchDir = envOrDefault("AUDIO_SCRATCH_DIR", a.ScratchDir)
	a.MaxUploadBytes = envOrDefaultInt64("AUDIO_MAX_UPLOAD_BYTES", a.MaxUploadBytes)
	a.MaxDuration = envOrDefaultDuration("AUDIO_MAX_DURATION", a.MaxDuration)

	t := &cfg.Translation
	t.Provider = envOrDefault("TRANSLATION_PROVIDER", t.Provider)
	t.Model = envOrDefault("TRANSLATION_MODEL", t.Model)
	t.GeminiAPIKey = envOrDefault("GEMINI_API_KEY", t.GeminiAPIKey)
	t.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", t.OpenAIAPIKey)
	t.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", t.OpenAIBaseURL)
	t.GeminiBaseURL = envOrDefault("GEMINI_BASE_URL", t.GeminiBaseURL)
	t.Timeout = envOrDefaultDuration("TRANSLATION_TIMEOUT", t.Timeout)

	k := &cfg.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	k.Brokers = envOrDefaultList("KAFKA_BROKERS", k.Brokers)
	k.Topic = envOrDefault("STT_KAFKA_TOPIC", k.Topic)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	r := &cfg.Registry
	r.Enabled = envOrDefaultBool("REGISTRY_ENABLED", r.Enabled)
	r.URL = envOrDefault("REGISTRY_URL", r.URL)
	r.AppName = envOrDefault("REGISTRY_APP_NAME", r.AppName)
	r.InstanceHost = envOrDefault("REGISTRY_INSTANCE_HOST", r.InstanceHost)
	r.HeartbeatInterval = envOrDefaultDuration("REGISTRY_HEARTBEAT_INTERVAL", r.HeartbeatInterval)

	o := &cfg.Observability
	o.LogLevel = envOrDefault("LOG_LEVEL", o.LogLevel)
	o.LogFormat = envOrDefault("LOG_FORMAT", o.LogFormat)

	return cfg
}

func (c *Configuration) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty entries.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
