package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.VoiceProvider != "auto" {
		t.Fatalf("VoiceProvider = %q, want %q", cfg.VoiceProvider, "auto")
	}
	if cfg.ContinuationDelay != 2000*time.Millisecond {
		t.Fatalf("ContinuationDelay = %v, want 2s", cfg.ContinuationDelay)
	}
	if cfg.FinalCommitDelay != 1000*time.Millisecond {
		t.Fatalf("FinalCommitDelay = %v, want 1s", cfg.FinalCommitDelay)
	}
	if cfg.PreferredVoice != "AUTO" {
		t.Fatalf("PreferredVoice = %q, want AUTO", cfg.PreferredVoice)
	}
}

func TestLoadIndependentSilenceDelays(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICE_CONTINUATION_DELAY", "750ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ContinuationDelay != 750*time.Millisecond {
		t.Fatalf("ContinuationDelay = %v, want 750ms", cfg.ContinuationDelay)
	}
	// The other timer keeps its own default.
	if cfg.FinalCommitDelay != 1000*time.Millisecond {
		t.Fatalf("FinalCommitDelay = %v, want 1s", cfg.FinalCommitDelay)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICE_PROVIDER", "telepathy")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject unknown VOICE_PROVIDER")
	}
}

func TestLoadRejectsNonPositiveDelay(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICE_FINAL_COMMIT_DELAY", "-1s")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject non-positive VOICE_FINAL_COMMIT_DELAY")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"VOICE_PROVIDER",
		"VOICE_CONTINUATION_DELAY",
		"VOICE_FINAL_COMMIT_DELAY",
		"VOICE_LOCALE",
		"VOICE_PREFERRED",
		"CLOUD_SPEECH_API_KEY",
		"CLOUD_SPEECH_REGION",
		"CLOUD_SPEECH_WS_BASE_URL",
		"CLOUD_SPEECH_TTS_BASE_URL",
		"CLOUD_SPEECH_OUTPUT_FORMAT",
		"PLATFORM_SPEECH_COMMAND",
		"PLATFORM_WHISPER_CLI",
		"PLATFORM_WHISPER_MODEL_PATH",
		"AUDIO_PLAYER_COMMAND",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
