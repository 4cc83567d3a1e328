package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the companion voice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// VoiceProvider selects the backend set: auto, cloud, platform, mock.
	VoiceProvider string

	// ContinuationDelay is how long a reported pause must last before the
	// utterance is considered finished. FinalCommitDelay is the settle window
	// after the recognizer stops before the commit is trusted. Independent
	// knobs on purpose.
	ContinuationDelay time.Duration
	FinalCommitDelay  time.Duration

	Locale string
	// PreferredVoice is the default voice keyword; "AUTO" defers to the
	// persona gender.
	PreferredVoice string

	CloudSpeechAPIKey       string
	CloudSpeechRegion       string
	CloudSpeechWSBaseURL    string
	CloudSpeechTTSBaseURL   string
	CloudSpeechOutputFormat string

	PlatformSpeechCommand string
	PlatformWhisperCLI    string
	PlatformWhisperModel  string
	AudioPlayerCommand    string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "iris"),
		AllowAnyOrigin:   false,
		VoiceProvider:    envOrDefault("VOICE_PROVIDER", "auto"),
		// Two seconds of silence ends a turn; one more second lets the
		// recognizer wind down before the text is committed.
		ContinuationDelay: 2000 * time.Millisecond,
		FinalCommitDelay:  1000 * time.Millisecond,
		Locale:            envOrDefault("VOICE_LOCALE", "en"),
		PreferredVoice:    envOrDefault("VOICE_PREFERRED", "AUTO"),
		CloudSpeechAPIKey: stringsTrimSpace("CLOUD_SPEECH_API_KEY"),
		CloudSpeechRegion: envOrDefault("CLOUD_SPEECH_REGION", "westus"),
		// Empty base URLs are derived from the region at backend construction.
		CloudSpeechWSBaseURL:    stringsTrimSpace("CLOUD_SPEECH_WS_BASE_URL"),
		CloudSpeechTTSBaseURL:   stringsTrimSpace("CLOUD_SPEECH_TTS_BASE_URL"),
		CloudSpeechOutputFormat: envOrDefault("CLOUD_SPEECH_OUTPUT_FORMAT", "riff-16khz-16bit-mono-pcm"),
		PlatformSpeechCommand:   stringsTrimSpace("PLATFORM_SPEECH_COMMAND"),
		PlatformWhisperCLI:      envOrDefault("PLATFORM_WHISPER_CLI", "whisper-cli"),
		PlatformWhisperModel:    stringsTrimSpace("PLATFORM_WHISPER_MODEL_PATH"),
		AudioPlayerCommand:      stringsTrimSpace("AUDIO_PLAYER_COMMAND"),
		DatabaseURL:             stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ContinuationDelay, err = durationFromEnv("VOICE_CONTINUATION_DELAY", cfg.ContinuationDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.FinalCommitDelay, err = durationFromEnv("VOICE_FINAL_COMMIT_DELAY", cfg.FinalCommitDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ContinuationDelay <= 0 {
		return Config{}, fmt.Errorf("VOICE_CONTINUATION_DELAY must be positive")
	}
	if cfg.FinalCommitDelay <= 0 {
		return Config{}, fmt.Errorf("VOICE_FINAL_COMMIT_DELAY must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.VoiceProvider)) {
	case "auto", "cloud", "platform", "mock":
	default:
		return Config{}, fmt.Errorf("VOICE_PROVIDER must be one of auto, cloud, platform, mock")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
