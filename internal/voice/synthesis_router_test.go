package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/martasollai/iris/internal/persona"
)

func cloudVoices() []VoiceProfile {
	return NewCatalog().All()
}

func platformVoices() []VoiceProfile {
	return []VoiceProfile{
		{Keyword: "Samantha", BackendName: "Samantha", Locale: "en-US", Gender: persona.GenderFemale},
		{Keyword: "Alex", BackendName: "Alex", Locale: "en-US", Gender: persona.GenderMale},
	}
}

func newSynthHarness() (*SynthesisRouter, *MockSynthesizerBackend, *MockSynthesizerBackend) {
	cloud := NewMockSynthesizerBackend("cloud_speech", cloudVoices())
	platform := NewMockSynthesizerBackend("platform_speech", platformVoices())
	router := NewSynthesisRouter(cloud, platform, NewResolver(NewCatalog(), "en"), nil)
	return router, cloud, platform
}

func TestSynthesisRouterPrefersCloud(t *testing.T) {
	router, cloud, platform := newSynthHarness()

	if err := router.Speak(context.Background(), "hello", VoiceHintAuto, persona.GenderFemale); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if got := cloud.Spoken(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("cloud spoke %v", got)
	}
	if got := platform.Spoken(); len(got) != 0 {
		t.Fatalf("platform spoke %v, want nothing", got)
	}
	if v := cloud.LastVoice(); v.Gender != persona.GenderFemale {
		t.Fatalf("resolved voice = %+v, want female bucket", v)
	}
}

func TestSynthesisRouterFallsBackToPlatformOnce(t *testing.T) {
	router, cloud, platform := newSynthHarness()
	cloud.FailWith(newTransientError("tts_bad_status", errors.New("HTTP 503")))

	if err := router.Speak(context.Background(), "fallback please", "", persona.GenderUnknown); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if got := platform.Spoken(); len(got) != 1 || got[0] != "fallback please" {
		t.Fatalf("platform spoke %v", got)
	}
}

func TestSynthesisRouterPlatformFailureSurfaces(t *testing.T) {
	router, cloud, platform := newSynthHarness()
	cloud.SetAvailable(false)
	platform.FailWith(newTransientError("platform_speech_failed", errors.New("engine crashed")))

	err := router.Speak(context.Background(), "doomed", "", persona.GenderUnknown)
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v, want BackendError", err)
	}
	if be.Kind != KindTransient {
		t.Fatalf("kind = %q, want %q", be.Kind, KindTransient)
	}
}

func TestSynthesisRouterUnsupportedWhenNoBackends(t *testing.T) {
	router, cloud, platform := newSynthHarness()
	cloud.SetAvailable(false)
	platform.SetAvailable(false)

	err := router.Speak(context.Background(), "void", "", persona.GenderUnknown)
	var be *BackendError
	if !errors.As(err, &be) || be.Code != "synthesis_unsupported" {
		t.Fatalf("error = %v, want synthesis_unsupported", err)
	}
}

func TestSynthesisRouterSupersedesInFlightRequest(t *testing.T) {
	router, cloud, _ := newSynthHarness()
	cloud.Block(true)

	var wg sync.WaitGroup
	firstErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr <- router.Speak(context.Background(), "first", "", persona.GenderUnknown)
	}()

	// Let the first request reach the blocking playback.
	time.Sleep(30 * time.Millisecond)

	cloud.Block(false)
	if err := router.Speak(context.Background(), "second", "", persona.GenderUnknown); err != nil {
		t.Fatalf("second Speak() error = %v", err)
	}

	wg.Wait()
	if err := <-firstErr; err != nil {
		t.Fatalf("superseded Speak() error = %v, want nil", err)
	}
	if got := cloud.Spoken(); len(got) != 1 || got[0] != "second" {
		t.Fatalf("cloud spoke %v, want only the superseding request", got)
	}
}

func TestSynthesisRouterStopSpeakingStopsBothBackends(t *testing.T) {
	router, cloud, platform := newSynthHarness()
	cloud.Block(true)

	done := make(chan error, 1)
	go func() {
		done <- router.Speak(context.Background(), "interrupt me", "", persona.GenderUnknown)
	}()
	time.Sleep(30 * time.Millisecond)

	router.StopSpeaking()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stopped Speak() error = %v, want nil", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("Speak did not return after StopSpeaking")
	}
	if cloud.StopCalls() == 0 {
		t.Fatalf("cloud StopSpeaking not called")
	}
	if platform.StopCalls() == 0 {
		t.Fatalf("platform StopSpeaking not called")
	}
}

func TestSynthesisRouterCallerCancellationSurfaces(t *testing.T) {
	router, cloud, _ := newSynthHarness()
	cloud.Block(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- router.Speak(ctx, "cancelled by caller", "", persona.GenderUnknown)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("Speak did not return after cancellation")
	}
}

func TestSynthesisRouterExplicitHintOverridesGender(t *testing.T) {
	router, cloud, _ := newSynthHarness()

	if err := router.Speak(context.Background(), "hint test", "Ryan", persona.GenderFemale); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if v := cloud.LastVoice(); v.BackendName != "en-GB-RyanNeural" {
		t.Fatalf("resolved voice = %q, want en-GB-RyanNeural", v.BackendName)
	}
}
