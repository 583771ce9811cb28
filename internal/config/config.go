package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// Server
	HTTPAddr string
	LogLevel string

	// Provider selection per stage
	TextProvider   string // gemini, gemini-rest, openai, anthropic
	ImageProvider  string // gemini, gemini-rest, openai, none
	SpeechProvider string // gemini, gemini-rest, openai, cloudtts, none
	SpeechVoices   string // Language=voice overrides, e.g. "German=Fenrir,Bahasa=Leda"

	// Gemini API
	GeminiAPIKey      string
	GeminiAPIEndpoint string // if set, overrides default Gemini API base URL
	GeminiModelText   string
	GeminiModelImage  string
	GeminiModelImagen string // used by gemini-rest for illustrations
	GeminiModelTTS    string

	// OpenAI API
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModelText  string
	OpenAIModelImage string
	OpenAIModelTTS   string

	// Anthropic API
	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string

	// Google Cloud Text-to-Speech
	GoogleTTSAPIKey   string
	GoogleTTSEndpoint string

	// Retry and timeouts
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	RetryAttemptTimeout time.Duration
	StageTimeout        time.Duration

	// Playback
	PlaybackOutput string // speaker or none

	// Kafka (disabled when no brokers are set)
	KafkaBrokers     []string
	KafkaTopicEvents string

	// Observability
	SentryDSN         string
	SentryEnvironment string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TextProvider:   getEnv("TEXT_PROVIDER", "gemini"),
		ImageProvider:  getEnv("IMAGE_PROVIDER", "gemini"),
		SpeechProvider: getEnv("SPEECH_PROVIDER", "gemini"),
		SpeechVoices:   getEnv("SPEECH_VOICES", ""),

		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiAPIEndpoint: getEnv("GEMINI_API_ENDPOINT", ""),
		GeminiModelText:   getEnv("GEMINI_MODEL_TEXT", "gemini-2.5-flash"),
		GeminiModelImage:  getEnv("GEMINI_MODEL_IMAGE", "gemini-2.5-flash-image"),
		GeminiModelImagen: getEnv("GEMINI_MODEL_IMAGEN", "imagen-3.0-generate-002"),
		GeminiModelTTS:    getEnv("GEMINI_MODEL_TTS", "gemini-2.5-flash-preview-tts"),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		OpenAIModelText:  getEnv("OPENAI_MODEL_TEXT", "gpt-4o-mini"),
		OpenAIModelImage: getEnv("OPENAI_MODEL_IMAGE", "dall-e-3"),
		OpenAIModelTTS:   getEnv("OPENAI_MODEL_TTS", "tts-1"),

		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", ""),

		GoogleTTSAPIKey:   getEnv("GOOGLE_TTS_API_KEY", ""),
		GoogleTTSEndpoint: getEnv("GOOGLE_TTS_ENDPOINT", ""),

		RetryMaxAttempts:    clampMin(getEnvInt("RETRY_MAX_ATTEMPTS", 3), 1),
		RetryBaseDelay:      getEnvDuration("RETRY_BASE_DELAY", time.Second),
		RetryAttemptTimeout: getEnvDuration("RETRY_ATTEMPT_TIMEOUT", 60*time.Second),
		StageTimeout:        getEnvDuration("STAGE_TIMEOUT", 3*time.Minute),

		PlaybackOutput: getEnv("PLAYBACK_OUTPUT", "none"),

		KafkaBrokers:     getEnvList("KAFKA_BROKERS"),
		KafkaTopicEvents: getEnv("KAFKA_TOPIC_EVENTS", "magicstory.events.v1"),

		SentryDSN:         getEnv("SENTRY_DSN", ""),
		SentryEnvironment: getEnv("SENTRY_ENVIRONMENT", "development"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// clampMin returns v if v >= min, otherwise min. Used to ensure config values are in valid range.
func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
