package voice

import (
	"strings"
	"sync"
	"time"

	"github.com/martasollai/iris/internal/observability"
)

// SegmenterState is the turn-segmentation state machine position.
type SegmenterState string

const (
	StateIdle         SegmenterState = "idle"
	StateListening    SegmenterState = "listening"
	StatePendingPause SegmenterState = "pending_pause"
	StateCommitting   SegmenterState = "committing"
)

const (
	defaultContinuationDelay = 2000 * time.Millisecond
	defaultFinalCommitDelay  = 1000 * time.Millisecond
)

// SegmenterConfig carries the two silence-evaluation knobs. They are
// deliberately independent: the continuation delay absorbs short mid-sentence
// pauses the backend misreports as end-of-speech, and the final-commit delay
// is a settle window after the backend's own end signal before trusting that
// no new session will spuriously reactivate.
type SegmenterConfig struct {
	ContinuationDelay time.Duration
	FinalCommitDelay  time.Duration
}

func (c SegmenterConfig) withDefaults() SegmenterConfig {
	if c.ContinuationDelay <= 0 {
		c.ContinuationDelay = defaultContinuationDelay
	}
	if c.FinalCommitDelay <= 0 {
		c.FinalCommitDelay = defaultFinalCommitDelay
	}
	return c
}

// Callbacks are invoked by the voice pipeline outside its internal lock.
// All fields are optional; nil is allowed.
type Callbacks struct {
	// OnInterimText fires for live preview; many times per turn.
	OnInterimText func(text string)
	// OnUtteranceCommitted fires exactly once per turn. Source is "auto" for
	// silence-detected commits and "manual" for user-initiated stops.
	OnUtteranceCommitted func(text, source string)
	OnListeningStateChanged func(active bool)
	OnRecognitionError      func(code string)
}

// TurnSegmenter decides, from a stream of interim/final transcript events and
// recognizer lifecycle events, when a spoken utterance is done and should be
// committed. It produces exactly one committed-utterance callback per turn.
type TurnSegmenter struct {
	mu  sync.Mutex
	cfg SegmenterConfig
	cb  Callbacks

	metrics *observability.Metrics

	// stopSession asks the active recognition session to terminate; the
	// backend's end signal later flips sessionActive false.
	stopSession func()

	state          SegmenterState
	accumulated    string
	speechObserved bool
	sessionActive  bool
	pauseAt        time.Time

	continuation    *time.Timer
	continuationGen uint64
	finalTimer      *time.Timer
	finalGen        uint64
}

func NewTurnSegmenter(cfg SegmenterConfig, cb Callbacks, metrics *observability.Metrics) *TurnSegmenter {
	return &TurnSegmenter{
		cfg:     cfg.withDefaults(),
		cb:      cb,
		metrics: metrics,
		state:   StateIdle,
	}
}

// SetStopRequester injects the router hook that terminates the live backend
// session. Must be set before the first session starts.
func (s *TurnSegmenter) SetStopRequester(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopSession = fn
}

// SetCallbacks replaces the UI callback set, e.g. when a new client
// connection takes over the pipeline.
func (s *TurnSegmenter) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
}

// State returns the current state machine position.
func (s *TurnSegmenter) State() SegmenterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionStarted marks a fresh recognition session live. Any timers from a
// previous session are dead at this point.
func (s *TurnSegmenter) SessionStarted() {
	s.mu.Lock()
	s.cancelContinuationLocked()
	s.cancelFinalLocked()
	s.accumulated = ""
	s.speechObserved = false
	s.sessionActive = true
	s.state = StateListening
	cb := s.cb.OnListeningStateChanged
	s.mu.Unlock()

	if cb != nil {
		cb(true)
	}
}

// SessionEnded records that the backend session is fully inactive. A pending
// final-commit timer stays armed: this is exactly the settle window it
// guards.
func (s *TurnSegmenter) SessionEnded() {
	s.mu.Lock()
	wasActive := s.sessionActive
	s.sessionActive = false
	if s.state != StateCommitting {
		s.state = StateIdle
	}
	cb := s.cb.OnListeningStateChanged
	s.mu.Unlock()

	if wasActive && cb != nil {
		cb(false)
	}
}

// OnInterim handles a tentative transcript fragment. In PendingPause it
// proves speech is continuing, so the continuation timer is cancelled and the
// machine returns to Listening. Interim text is previewed but never appended
// to the utterance buffer.
func (s *TurnSegmenter) OnInterim(text string) {
	s.mu.Lock()
	if s.state != StateListening && s.state != StatePendingPause {
		s.mu.Unlock()
		return
	}
	if s.state == StatePendingPause {
		s.cancelContinuationLocked()
		s.state = StateListening
	}
	s.speechObserved = true
	cb := s.cb.OnInterimText
	s.mu.Unlock()

	if cb != nil && strings.TrimSpace(text) != "" {
		cb(text)
	}
}

// OnFinal appends a finalized fragment to the utterance buffer and surfaces
// the growing text as a preview. It does not cancel a running pending-pause
// timer: a final segment can arrive as part of a pause that is already being
// evaluated.
func (s *TurnSegmenter) OnFinal(text string) {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	if s.state == StateIdle || text == "" {
		s.mu.Unlock()
		return
	}
	if s.accumulated == "" {
		s.accumulated = text
	} else {
		s.accumulated += " " + text
	}
	s.speechObserved = true
	preview := s.accumulated
	cb := s.cb.OnInterimText
	s.mu.Unlock()

	if cb != nil {
		cb(preview)
	}
}

// OnPause handles the backend's belief that the speaker stopped. A fresh
// pause supersedes a stale one: any running timers are cancelled and the
// continuation timer restarts from now.
func (s *TurnSegmenter) OnPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return
	}
	s.cancelContinuationLocked()
	s.cancelFinalLocked()
	s.state = StatePendingPause
	s.pauseAt = time.Now()

	s.continuationGen++
	gen := s.continuationGen
	s.continuation = time.AfterFunc(s.cfg.ContinuationDelay, func() {
		s.continuationFired(gen)
	})
}

func (s *TurnSegmenter) continuationFired(gen uint64) {
	s.mu.Lock()
	if gen != s.continuationGen || s.state != StatePendingPause {
		s.mu.Unlock()
		return
	}
	s.continuation = nil

	if strings.TrimSpace(s.accumulated) == "" || !s.speechObserved {
		// Silence with nothing said: keep listening, no commit cycle.
		s.state = StateListening
		s.mu.Unlock()
		return
	}

	s.state = StateCommitting
	stop := s.stopSession

	s.finalGen++
	fgen := s.finalGen
	s.finalTimer = time.AfterFunc(s.cfg.FinalCommitDelay, func() {
		s.finalFired(fgen)
	})
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (s *TurnSegmenter) finalFired(gen uint64) {
	s.mu.Lock()
	if gen != s.finalGen || s.state != StateCommitting {
		s.mu.Unlock()
		return
	}
	s.finalTimer = nil

	if s.sessionActive {
		// The session reactivated under us; this firing is stale. Discard
		// silently, never a duplicate commit.
		s.state = StateListening
		if s.metrics != nil {
			s.metrics.StaleTimerDiscards.Inc()
		}
		s.mu.Unlock()
		return
	}

	text := strings.TrimSpace(s.accumulated)
	s.accumulated = ""
	s.speechObserved = false
	s.state = StateIdle
	pauseAt := s.pauseAt
	cb := s.cb.OnUtteranceCommitted
	s.mu.Unlock()

	if text == "" {
		return
	}
	if s.metrics != nil {
		s.metrics.CommitEvents.WithLabelValues("auto").Inc()
		if !pauseAt.IsZero() {
			s.metrics.ObserveCommitLatency(time.Since(pauseAt))
		}
	}
	if cb != nil {
		cb(text, "auto")
	}
}

// Stop is the user-initiated stop: both timers are cancelled, the buffer is
// captured synchronously, the backend session is asked to terminate, and a
// non-empty capture commits immediately. Manual stop is never slower than
// automatic silence detection.
func (s *TurnSegmenter) Stop() {
	s.mu.Lock()
	s.cancelContinuationLocked()
	s.cancelFinalLocked()
	text := strings.TrimSpace(s.accumulated)
	s.accumulated = ""
	s.speechObserved = false
	s.state = StateIdle
	stop := s.stopSession
	cb := s.cb.OnUtteranceCommitted
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if text == "" {
		return
	}
	if s.metrics != nil {
		s.metrics.CommitEvents.WithLabelValues("manual").Inc()
	}
	if cb != nil {
		cb(text, "manual")
	}
}

// OnError aborts the current session: timers cancelled, buffer cleared, no
// commit emitted.
func (s *TurnSegmenter) OnError(code string) {
	s.mu.Lock()
	s.cancelContinuationLocked()
	s.cancelFinalLocked()
	s.accumulated = ""
	s.speechObserved = false
	s.sessionActive = false
	s.state = StateIdle
	cb := s.cb.OnRecognitionError
	s.mu.Unlock()

	if cb != nil {
		cb(code)
	}
}

// cancelContinuationLocked is idempotent; cancelling an already-fired or
// already-cancelled timer is a no-op.
func (s *TurnSegmenter) cancelContinuationLocked() {
	s.continuationGen++
	if s.continuation != nil {
		s.continuation.Stop()
		s.continuation = nil
	}
}

func (s *TurnSegmenter) cancelFinalLocked() {
	s.finalGen++
	if s.finalTimer != nil {
		s.finalTimer.Stop()
		s.finalTimer = nil
	}
}
