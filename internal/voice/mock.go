package voice

import (
	"context"
	"sync"
)

// MockRecognizerBackend is a scriptable recognizer used in tests and in the
// "mock" provider mode. Events are injected with Emit* and the session ends
// when Stop is called or EndSession is invoked.
type MockRecognizerBackend struct {
	mu       sync.Mutex
	name     string
	sessions int
	current  *mockRecognizerSession
}

func NewMockRecognizerBackend() *MockRecognizerBackend {
	return &MockRecognizerBackend{name: "mock_recognizer"}
}

func (b *MockRecognizerBackend) Name() string    { return b.name }
func (b *MockRecognizerBackend) Available() bool { return true }

func (b *MockRecognizerBackend) Start(_ context.Context) (RecognizerSession, <-chan RecognizerEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions++
	s := &mockRecognizerSession{events: make(chan RecognizerEvent, 64)}
	b.current = s
	return s, s.events, nil
}

// SessionCount returns how many sessions were started.
func (b *MockRecognizerBackend) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions
}

// EmitInterim injects an interim transcript event into the live session.
func (b *MockRecognizerBackend) EmitInterim(text string) { b.emit(RecognizerEvent{Type: RecognizerEventInterim, Text: text}) }

// EmitFinal injects a final transcript event.
func (b *MockRecognizerBackend) EmitFinal(text string) { b.emit(RecognizerEvent{Type: RecognizerEventFinal, Text: text}) }

// EmitPause injects a speech-end belief event.
func (b *MockRecognizerBackend) EmitPause() { b.emit(RecognizerEvent{Type: RecognizerEventPause}) }

// EmitError injects a recognition error.
func (b *MockRecognizerBackend) EmitError(code string) {
	b.emit(RecognizerEvent{Type: RecognizerEventError, Code: code})
}

// EndSession closes the live session's event channel, simulating the
// backend's own end signal.
func (b *MockRecognizerBackend) EndSession() {
	b.mu.Lock()
	s := b.current
	b.current = nil
	b.mu.Unlock()
	if s != nil {
		s.end()
	}
}

func (b *MockRecognizerBackend) emit(evt RecognizerEvent) {
	b.mu.Lock()
	s := b.current
	b.mu.Unlock()
	if s != nil {
		s.emit(evt)
	}
}

type mockRecognizerSession struct {
	mu     sync.Mutex
	events chan RecognizerEvent
	seq    uint64
	ended  bool
}

func (s *mockRecognizerSession) SendAudio(_ context.Context, _ []byte, _ int) error { return nil }

func (s *mockRecognizerSession) Stop() error {
	s.end()
	return nil
}

func (s *mockRecognizerSession) emit(evt RecognizerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.seq++
	evt.Sequence = s.seq
	s.events <- evt
}

func (s *mockRecognizerSession) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	close(s.events)
}

// MockSynthesizerBackend records speak calls and can be scripted to fail or
// to block until stopped.
type MockSynthesizerBackend struct {
	mu         sync.Mutex
	name       string
	available  bool
	voices     []VoiceProfile
	speakErr   error
	blocking   bool
	spoken     []string
	stopCalls  int
	lastVoice  VoiceProfile
	playCancel context.CancelFunc
}

func NewMockSynthesizerBackend(name string, voices []VoiceProfile) *MockSynthesizerBackend {
	return &MockSynthesizerBackend{name: name, available: true, voices: voices}
}

func (b *MockSynthesizerBackend) Name() string { return b.name }

func (b *MockSynthesizerBackend) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

// SetAvailable toggles the configured/reachable state.
func (b *MockSynthesizerBackend) SetAvailable(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.available = v
}

// FailWith makes every Speak call return err.
func (b *MockSynthesizerBackend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.speakErr = err
}

// Block makes Speak hang until StopSpeaking or context cancellation.
func (b *MockSynthesizerBackend) Block(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocking = v
}

func (b *MockSynthesizerBackend) Voices() []VoiceProfile {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]VoiceProfile, len(b.voices))
	copy(out, b.voices)
	return out
}

func (b *MockSynthesizerBackend) Speak(ctx context.Context, text string, voice VoiceProfile) error {
	b.mu.Lock()
	if b.speakErr != nil {
		err := b.speakErr
		b.mu.Unlock()
		return err
	}
	b.lastVoice = voice
	blocking := b.blocking
	var playCtx context.Context
	if blocking {
		playCtx, b.playCancel = context.WithCancel(ctx)
	}
	b.mu.Unlock()

	if blocking {
		<-playCtx.Done()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}

	b.mu.Lock()
	b.spoken = append(b.spoken, text)
	b.mu.Unlock()
	return nil
}

func (b *MockSynthesizerBackend) StopSpeaking() {
	b.mu.Lock()
	b.stopCalls++
	cancel := b.playCancel
	b.playCancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Spoken returns the texts whose playback ran to completion.
func (b *MockSynthesizerBackend) Spoken() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.spoken))
	copy(out, b.spoken)
	return out
}

// StopCalls returns how many times StopSpeaking was invoked.
func (b *MockSynthesizerBackend) StopCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopCalls
}

// LastVoice returns the voice used by the most recent Speak call.
func (b *MockSynthesizerBackend) LastVoice() VoiceProfile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastVoice
}
