package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	LLM       LLMConfig       `yaml:"llm"`
	TTS       TTSConfig       `yaml:"tts"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type LLMConfig struct {
	Provider     string  `yaml:"provider"` // ark | mock
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	Thinking     bool    `yaml:"thinking"`
	SystemPrompt string  `yaml:"system_prompt"`
	HistoryTurns int     `yaml:"history_turns"`
}

type TTSConfig struct {
	Provider      string        `yaml:"provider"` // doubao | mock
	URL           string        `yaml:"url"`
	AppID         string        `yaml:"app_id"`
	AccessToken   string        `yaml:"access_token"`
	ResourceID    string        `yaml:"resource_id"`
	UserID        string        `yaml:"user_id"`
	Voice         string        `yaml:"voice"`
	Format        string        `yaml:"format"`
	SampleRate    int           `yaml:"sample_rate"`
	Speed         float64       `yaml:"speed"`
	Loudness      int           `yaml:"loudness"`
	AckTimeout    time.Duration `yaml:"ack_timeout"`
	AudioTimeout  time.Duration `yaml:"audio_timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name"`
	TraceExporter string `yaml:"trace_exporter"` // none | stdout | otlp
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
}

const defaultSystemPrompt = "你是一个友好的语音助手，请用口语化的短句回答，每句话都以标点结尾，不要使用列表和表情符号。"

// Default 返回内置默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8000", MetricsPath: "/metrics"},
		Log:    LogConfig{Level: "info", Format: "text"},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "streamtts",
			TopicPrefix: "xiaozhi/tts",
		},
		LLM: LLMConfig{
			Provider:     "mock",
			BaseURL:      "https://ark.cn-beijing.volces.com/api/v3",
			Model:        "doubao-seed-1-6-flash-250828",
			Temperature:  0.8,
			MaxTokens:    500,
			Thinking:     true,
			SystemPrompt: defaultSystemPrompt,
			HistoryTurns: 10,
		},
		TTS: TTSConfig{
			Provider:      "mock",
			URL:           "wss://openspeech.bytedance.com/api/v3/tts/bidirection",
			ResourceID:    "volc.service_type.10029",
			UserID:        "streamtts",
			Voice:         "zh_female_meilinvyou_emo_v2_mars_bigtts",
			Format:        "wav",
			SampleRate:    24000,
			Speed:         1.0,
			AckTimeout:    10 * time.Second,
			AudioTimeout:  30 * time.Second,
			MaxConcurrent: 8,
		},
		Telemetry: TelemetryConfig{ServiceName: "streamtts", TraceExporter: "none"},
	}
}

// Load 依次应用默认值、YAML 文件（path 非空时）和环境变量，然后校验
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvString("SERVER_PORT", c.Server.Port)
	c.Log.Level = strings.ToLower(getEnvString("LOG_LEVEL", c.Log.Level))
	c.Log.Format = strings.ToLower(getEnvString("LOG_FORMAT", c.Log.Format))

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
		c.MQTT.Enabled = true
	}
	c.MQTT.ClientID = getEnvString("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getEnvString("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnvString("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.TopicPrefix = getEnvString("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)

	c.LLM.Provider = getEnvString("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.APIKey = getEnvString("ARK_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = getEnvString("ARK_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = getEnvString("LLM_MODEL", c.LLM.Model)

	c.TTS.Provider = getEnvString("TTS_PROVIDER", c.TTS.Provider)
	c.TTS.AppID = getEnvString("DOUBAO_TTS_APPID", c.TTS.AppID)
	c.TTS.AccessToken = getEnvString("DOUBAO_TTS_ACCESS_TOKEN", c.TTS.AccessToken)
	c.TTS.ResourceID = getEnvString("DOUBAO_TTS_RESOURCE_ID", c.TTS.ResourceID)
	c.TTS.Voice = getEnvString("DOUBAO_TTS_VOICE_TYPE", c.TTS.Voice)
	c.TTS.URL = getEnvString("DOUBAO_TTS_URL", c.TTS.URL)
	c.TTS.Speed = getEnvFloat("TTS_SPEED", c.TTS.Speed)
	c.TTS.MaxConcurrent = getEnvInt("TTS_MAX_CONCURRENT", c.TTS.MaxConcurrent)
	c.TTS.AckTimeout = getEnvDuration("TTS_ACK_TIMEOUT", c.TTS.AckTimeout)
	c.TTS.AudioTimeout = getEnvDuration("TTS_AUDIO_TIMEOUT", c.TTS.AudioTimeout)

	c.Telemetry.TraceExporter = getEnvString("TRACE_EXPORTER", c.Telemetry.TraceExporter)
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Telemetry.OTLPEndpoint = endpoint
		if c.Telemetry.TraceExporter == "none" {
			c.Telemetry.TraceExporter = "otlp"
		}
	}
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return errors.New("SERVER_PORT must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Log.Level] {
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.Log.Format] {
		return errors.New("LOG_FORMAT must be one of: text, json")
	}

	switch c.LLM.Provider {
	case "mock":
	case "ark":
		if c.LLM.APIKey == "" {
			return errors.New("ARK_API_KEY is required when LLM_PROVIDER=ark")
		}
	default:
		return fmt.Errorf("unknown LLM provider %q", c.LLM.Provider)
	}

	switch c.TTS.Provider {
	case "mock":
	case "doubao":
		if c.TTS.AppID == "" || c.TTS.AccessToken == "" {
			return errors.New("DOUBAO_TTS_APPID and DOUBAO_TTS_ACCESS_TOKEN are required when TTS_PROVIDER=doubao")
		}
	default:
		return fmt.Errorf("unknown TTS provider %q", c.TTS.Provider)
	}

	if c.TTS.Speed <= 0 {
		return errors.New("TTS_SPEED must be positive")
	}
	if c.TTS.AckTimeout <= 0 || c.TTS.AudioTimeout <= 0 {
		return errors.New("TTS timeouts must be positive")
	}
	if c.TTS.MaxConcurrent < 0 {
		return errors.New("TTS_MAX_CONCURRENT must be non-negative")
	}

	switch c.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if c.Telemetry.OTLPEndpoint == "" {
			return errors.New("OTEL_EXPORTER_OTLP_ENDPOINT is required for the otlp trace exporter")
		}
	default:
		return fmt.Errorf("unknown trace exporter %q", c.Telemetry.TraceExporter)
	}
	return nil
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
