package voice

import (
	"context"

	"github.com/martasollai/iris/internal/persona"
)

// RecognizerEventType identifies events a recognizer backend emits during one
// recognition session.
type RecognizerEventType string

const (
	// RecognizerEventInterim is a tentative transcript fragment, subject to
	// revision by the backend.
	RecognizerEventInterim RecognizerEventType = "interim"
	// RecognizerEventFinal is a transcript fragment the backend will not
	// revise further.
	RecognizerEventFinal RecognizerEventType = "final"
	// RecognizerEventPause means the backend believes the speaker stopped,
	// independent of interim/final classification.
	RecognizerEventPause RecognizerEventType = "pause"
	RecognizerEventError RecognizerEventType = "error"
)

// RecognizerEvent is the uniform event shape every recognizer backend is
// translated into. Sequence ordering is guaranteed within one session.
type RecognizerEvent struct {
	Type     RecognizerEventType
	Text     string
	Sequence uint64
	Code     string
	Detail   string
}

// RecognizerSession is one live recognition stream. The backend closes the
// event channel when the session has fully ended; that close is the
// completion signal routers and the segmenter rely on.
type RecognizerSession interface {
	SendAudio(ctx context.Context, pcm16 []byte, sampleRate int) error
	// Stop requests termination. It must be idempotent and safe to call on an
	// already-ended session.
	Stop() error
}

// RecognizerBackend is a concrete recognition engine behind the router.
type RecognizerBackend interface {
	Name() string
	// Available reports whether the backend is configured and usable; the
	// router consults this once at session start, never mid-session.
	Available() bool
	Start(ctx context.Context) (RecognizerSession, <-chan RecognizerEvent, error)
}

// SynthesizerBackend is a concrete synthesis engine behind the router.
// Speak blocks until audio playback completes, the context is cancelled, or
// playback fails.
type SynthesizerBackend interface {
	Name() string
	Available() bool
	// Voices enumerates the voices actually present on this backend.
	Voices() []VoiceProfile
	Speak(ctx context.Context, text string, voice VoiceProfile) error
	// StopSpeaking halts any in-flight playback. Calling it when nothing is
	// playing is a no-op.
	StopSpeaking()
}

// SpeakRequest is one synthesis request. A new request supersedes any prior
// in-flight one; there is no queue.
type SpeakRequest struct {
	Text      string
	VoiceHint string
	Gender    persona.Gender
	RequestID uint64
}

// VoiceHintAuto lets the resolver pick a voice from the persona gender bucket.
const VoiceHintAuto = "AUTO"
