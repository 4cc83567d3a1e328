package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/martasollai/iris/internal/audio"
	"github.com/martasollai/iris/internal/persona"
)

// PlatformSynthesizer shells out to the OS speech engine: `say` on macOS,
// `espeak`/`espeak-ng` elsewhere. It is the always-works fallback behind the
// cloud voice, with a much smaller voice inventory.
type PlatformSynthesizer struct {
	command string

	mu     sync.Mutex
	cancel context.CancelFunc
}

var platformSpeechCandidates = []string{"say", "espeak-ng", "espeak"}

func NewPlatformSynthesizer(command string) *PlatformSynthesizer {
	command = strings.TrimSpace(command)
	if command == "" {
		for _, candidate := range platformSpeechCandidates {
			if p, err := exec.LookPath(candidate); err == nil && strings.TrimSpace(p) != "" {
				command = p
				break
			}
		}
	} else if p, err := exec.LookPath(command); err == nil {
		command = p
	}
	return &PlatformSynthesizer{command: command}
}

func (s *PlatformSynthesizer) Name() string { return "platform_speech" }

func (s *PlatformSynthesizer) Available() bool {
	return s != nil && strings.TrimSpace(s.command) != ""
}

// Voices reports the small built-in inventory of the OS engine. The names
// match what `say -v` and espeak's voice files actually ship.
func (s *PlatformSynthesizer) Voices() []VoiceProfile {
	if !s.Available() {
		return nil
	}
	if filepath.Base(s.command) == "say" {
		return []VoiceProfile{
			{Keyword: "Samantha", BackendName: "Samantha", Locale: "en-US", Gender: persona.GenderFemale},
			{Keyword: "Karen", BackendName: "Karen", Locale: "en-AU", Gender: persona.GenderFemale},
			{Keyword: "Moira", BackendName: "Moira", Locale: "en-IE", Gender: persona.GenderFemale},
			{Keyword: "Alex", BackendName: "Alex", Locale: "en-US", Gender: persona.GenderMale},
			{Keyword: "Daniel", BackendName: "Daniel", Locale: "en-GB", Gender: persona.GenderMale},
			{Keyword: "Rishi", BackendName: "Rishi", Locale: "en-IN", Gender: persona.GenderMale},
		}
	}
	return []VoiceProfile{
		{Keyword: "female", BackendName: "en+f3", Locale: "en", Gender: persona.GenderFemale},
		{Keyword: "male", BackendName: "en+m3", Locale: "en", Gender: persona.GenderMale},
	}
}

// Speak blocks until the engine finishes speaking or ctx is cancelled.
func (s *PlatformSynthesizer) Speak(ctx context.Context, text string, voice VoiceProfile) error {
	if !s.Available() {
		return newConfigurationError("no_platform_speech", "no platform speech command found on PATH")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	speakCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	var args []string
	if filepath.Base(s.command) == "say" {
		if voice.BackendName != "" {
			args = append(args, "-v", voice.BackendName)
		}
	} else if voice.BackendName != "" {
		args = append(args, "-v", voice.BackendName)
	}
	args = append(args, text)

	cmd := exec.CommandContext(speakCtx, s.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if speakCtx.Err() != nil {
			return speakCtx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return newTransientError("platform_speech_failed", fmt.Errorf("%s", detail))
	}
	return nil
}

func (s *PlatformSynthesizer) StopSpeaking() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// PlatformRecognizer transcribes buffered microphone audio with a local
// whisper.cpp CLI. It has no streaming hypotheses, so pauses are inferred
// from signal energy: a run of quiet frames emits a pause event and queues
// the buffered audio for transcription.
type PlatformRecognizer struct {
	cliPath   string
	modelPath string
	language  string

	silenceAfter time.Duration
}

type PlatformRecognizerConfig struct {
	WhisperCLI       string
	WhisperModelPath string
	Language         string
	// SilenceAfter is how much continuous low-energy audio counts as a pause.
	SilenceAfter time.Duration
}

func NewPlatformRecognizer(cfg PlatformRecognizerConfig) *PlatformRecognizer {
	cli := strings.TrimSpace(cfg.WhisperCLI)
	if cli == "" {
		cli = "whisper-cli"
	}
	cliPath, err := exec.LookPath(cli)
	if err != nil {
		cliPath = ""
	}
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = "en"
	}
	silence := cfg.SilenceAfter
	if silence <= 0 {
		silence = 700 * time.Millisecond
	}
	return &PlatformRecognizer{
		cliPath:      cliPath,
		modelPath:    strings.TrimSpace(cfg.WhisperModelPath),
		language:     language,
		silenceAfter: silence,
	}
}

func (r *PlatformRecognizer) Name() string { return "platform_speech" }

func (r *PlatformRecognizer) Available() bool {
	if r == nil || r.cliPath == "" || r.modelPath == "" {
		return false
	}
	_, err := os.Stat(r.modelPath)
	return err == nil
}

func (r *PlatformRecognizer) Start(ctx context.Context) (RecognizerSession, <-chan RecognizerEvent, error) {
	if !r.Available() {
		return nil, nil, newConfigurationError("missing_whisper", "whisper CLI or model not available")
	}
	events := make(chan RecognizerEvent, 256)
	baseCtx, cancel := context.WithCancel(ctx)
	s := &platformRecognizerSession{
		rec:        r,
		events:     events,
		baseCtx:    baseCtx,
		baseCancel: cancel,
		workCh:     make(chan []byte, 1),
		workerDone: make(chan struct{}),
	}
	go s.worker()
	return s, events, nil
}

type platformRecognizerSession struct {
	rec    *PlatformRecognizer
	events chan RecognizerEvent
	seq    uint64

	mu            sync.Mutex
	pcm           []byte
	sampleRate    int
	quietBytes    int
	pauseEmitted  bool
	speechStarted bool
	closed        bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	workCh     chan []byte
	workerDone chan struct{}
}

// rmsSpeechThreshold is the amplitude floor below which a frame counts as
// silence. Tuned for typical laptop microphones at 16 kHz.
const rmsSpeechThreshold = 450.0

func (s *platformRecognizerSession) SendAudio(_ context.Context, pcm16 []byte, sampleRate int) error {
	if len(pcm16) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	loud := chunkRMS(pcm16) >= rmsSpeechThreshold

	var emitPause bool
	var queued []byte
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.sampleRate = sampleRate
	s.pcm = append(s.pcm, pcm16...)

	// Cap buffered audio so a hot mic cannot grow memory unbounded.
	const maxBufferedSeconds = 60
	if maxBytes := sampleRate * 2 * maxBufferedSeconds; len(s.pcm) > maxBytes {
		s.pcm = s.pcm[len(s.pcm)-maxBytes:]
	}

	if loud {
		s.speechStarted = true
		s.quietBytes = 0
		s.pauseEmitted = false
	} else if s.speechStarted && !s.pauseEmitted {
		s.quietBytes += len(pcm16)
		silenceBytes := int(float64(sampleRate*2) * s.rec.silenceAfter.Seconds())
		if silenceBytes > 0 && s.quietBytes >= silenceBytes {
			s.pauseEmitted = true
			s.speechStarted = false
			s.quietBytes = 0
			emitPause = true
			queued = make([]byte, len(s.pcm))
			copy(queued, s.pcm)
			s.pcm = s.pcm[:0]
		}
	}
	s.mu.Unlock()

	if emitPause {
		s.enqueue(queued)
		s.emit(RecognizerEvent{Type: RecognizerEventPause})
	}
	return nil
}

func (s *platformRecognizerSession) Stop() error {
	var tail []byte
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tail = make([]byte, len(s.pcm))
	copy(tail, s.pcm)
	s.pcm = nil
	s.mu.Unlock()

	// Flush any trailing audio before the worker drains and closes.
	if len(tail) > 0 {
		s.enqueue(tail)
	}
	close(s.workCh)
	<-s.workerDone
	s.baseCancel()
	return nil
}

func (s *platformRecognizerSession) enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	// Stop may close workCh between our closed check and this send.
	defer func() { _ = recover() }()
	select {
	case s.workCh <- pcm:
	default:
		// Drop the older pending buffer; the newest audio wins.
		select {
		case <-s.workCh:
		default:
		}
		select {
		case s.workCh <- pcm:
		default:
		}
	}
}

func (s *platformRecognizerSession) worker() {
	defer close(s.events)
	defer close(s.workerDone)

	for pcm := range s.workCh {
		if s.baseCtx.Err() != nil {
			return
		}
		s.mu.Lock()
		rate := s.sampleRate
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(s.baseCtx, 25*time.Second)
		text, err := s.rec.transcribe(ctx, pcm, rate)
		cancel()

		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			s.emit(RecognizerEvent{Type: RecognizerEventError, Code: "platform_stt_failed", Detail: err.Error()})
			continue
		}
		if text == "" {
			continue
		}
		s.emit(RecognizerEvent{Type: RecognizerEventFinal, Text: text})
	}
}

func (s *platformRecognizerSession) emit(evt RecognizerEvent) {
	// The worker closes events once drained; a straggling pause emit from
	// SendAudio must not panic.
	defer func() { _ = recover() }()
	evt.Sequence = atomic.AddUint64(&s.seq, 1)
	select {
	case s.events <- evt:
	default:
	}
}

func (r *PlatformRecognizer) transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	tmpDir, err := os.MkdirTemp("", "iris-whisper-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "audio.wav")
	if err := audio.WriteWAVPCM16LEFile(wavPath, pcm, sampleRate); err != nil {
		return "", err
	}
	outPrefix := filepath.Join(tmpDir, "out")

	args := []string{
		"-m", r.modelPath,
		"-f", wavPath,
		"-l", r.language,
		"-otxt",
		"-of", outPrefix,
		"-nt",
	}
	cmd := exec.CommandContext(ctx, r.cliPath, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", context.Canceled
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 8<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(8<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("whisper failed: %s", detail)
	}

	b, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func chunkRMS(pcm16 []byte) float64 {
	n := len(pcm16) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm16[i*2:]))
		sum += float64(sample) * float64(sample)
	}
	return math.Sqrt(sum / float64(n))
}
