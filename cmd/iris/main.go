package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/martasollai/iris/internal/config"
	"github.com/martasollai/iris/internal/history"
	"github.com/martasollai/iris/internal/httpapi"
	"github.com/martasollai/iris/internal/observability"
	"github.com/martasollai/iris/internal/session"
	"github.com/martasollai/iris/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer store.Close()

	var (
		recognizers           []voice.RecognizerBackend
		cloudSynth            voice.SynthesizerBackend
		platformSynth         voice.SynthesizerBackend
		resolvedVoiceProvider string
	)

	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if voiceMode == "" {
		voiceMode = "auto"
	}

	cloud := voice.NewCloudBackend(voice.CloudConfig{
		APIKey:        cfg.CloudSpeechAPIKey,
		Region:        cfg.CloudSpeechRegion,
		Locale:        cfg.Locale,
		WSBaseURL:     cfg.CloudSpeechWSBaseURL,
		TTSBaseURL:    cfg.CloudSpeechTTSBaseURL,
		OutputFormat:  cfg.CloudSpeechOutputFormat,
		PlayerCommand: cfg.AudioPlayerCommand,
	})
	platformRec := voice.NewPlatformRecognizer(voice.PlatformRecognizerConfig{
		WhisperCLI:       cfg.PlatformWhisperCLI,
		WhisperModelPath: cfg.PlatformWhisperModel,
		Language:         cfg.Locale,
	})
	platformTTS := voice.NewPlatformSynthesizer(cfg.PlatformSpeechCommand)

	switch voiceMode {
	case "cloud":
		if !cloud.Available() {
			log.Fatalf("VOICE_PROVIDER=cloud but CLOUD_SPEECH_API_KEY is not set")
		}
		recognizers = []voice.RecognizerBackend{cloud}
		cloudSynth = cloud
		resolvedVoiceProvider = "cloud"
		log.Printf("voice provider: cloud speech (%s)", cfg.CloudSpeechRegion)
	case "platform":
		recognizers = []voice.RecognizerBackend{platformRec}
		platformSynth = platformTTS
		resolvedVoiceProvider = "platform"
		log.Printf("voice provider: platform (%s)", platformTTS.Name())
	case "mock":
		recognizers = []voice.RecognizerBackend{voice.NewMockRecognizerBackend()}
		platformSynth = voice.NewMockSynthesizerBackend("mock_speech", voice.NewCatalog().All())
		resolvedVoiceProvider = "mock"
		log.Printf("voice provider: mock")
	case "auto":
		// Priority order: cloud first, platform as the fallback. Each router
		// skips unavailable backends on its own, so both are always wired.
		recognizers = []voice.RecognizerBackend{cloud, platformRec}
		cloudSynth = cloud
		platformSynth = platformTTS
		resolvedVoiceProvider = "auto"
		log.Printf("voice provider: auto (cloud available=%v, platform available=%v)",
			cloud.Available(), platformTTS.Available())
	default:
		log.Fatalf("invalid VOICE_PROVIDER: %q (expected auto|cloud|platform|mock)", cfg.VoiceProvider)
	}

	// Ensure API handlers report which backend set is active.
	cfg.VoiceProvider = resolvedVoiceProvider

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	seg := voice.NewTurnSegmenter(voice.SegmenterConfig{
		ContinuationDelay: cfg.ContinuationDelay,
		FinalCommitDelay:  cfg.FinalCommitDelay,
	}, voice.Callbacks{}, metrics)
	recognition := voice.NewRecognitionRouter(seg, metrics, recognizers...)

	catalog := voice.NewCatalog()
	resolver := voice.NewResolver(catalog, cfg.Locale)
	synthesis := voice.NewSynthesisRouter(cloudSynth, platformSynth, resolver, metrics)

	svc := voice.NewService(seg, recognition, synthesis, catalog, sessions, store, metrics)

	api := httpapi.New(cfg, sessions, svc, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	recognition.StopSession()
	svc.StopSpeaking()

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
