package voice

import (
	"context"
	"sync"

	"github.com/martasollai/iris/internal/observability"
)

// RecognitionRouter selects a recognizer backend at session start and exposes
// a uniform start/stop/toggle surface to the rest of the pipeline. Backends
// are tried in priority order (cloud first, then platform); switching
// backends requires a fresh session.
type RecognitionRouter struct {
	mu       sync.Mutex
	backends []RecognizerBackend
	seg      *TurnSegmenter
	metrics  *observability.Metrics

	active  RecognizerBackend
	session RecognizerSession
	done    chan struct{}
}

func NewRecognitionRouter(seg *TurnSegmenter, metrics *observability.Metrics, backends ...RecognizerBackend) *RecognitionRouter {
	r := &RecognitionRouter{
		backends: backends,
		seg:      seg,
		metrics:  metrics,
	}
	seg.SetStopRequester(r.StopSession)
	return r
}

// Start opens a new recognition session. An already-active session is
// terminated first and its completion awaited; there are never two live
// sessions.
func (r *RecognitionRouter) Start(ctx context.Context) error {
	r.mu.Lock()
	prev := r.session
	prevDone := r.done
	r.mu.Unlock()

	if prev != nil {
		_ = prev.Stop()
		if prevDone != nil {
			select {
			case <-prevDone:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	backend := r.pickBackend()
	if backend == nil {
		return ErrRecognitionUnsupported
	}

	session, events, err := backend.Start(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ProviderErrors.WithLabelValues(backend.Name(), "start_failed").Inc()
		}
		return classifyBackendError("recognition_start_failed", err)
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.active = backend
	r.session = session
	r.done = done
	r.mu.Unlock()

	r.seg.SessionStarted()
	go r.pump(backend.Name(), events, done)
	return nil
}

// StopSession requests termination of the live backend session. Safe to call
// when nothing is active.
func (r *RecognitionRouter) StopSession() {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session != nil {
		_ = session.Stop()
	}
}

// Toggle stops listening when a session is live (committing any captured
// text immediately) and starts a fresh session otherwise. It returns the
// resulting listening state.
func (r *RecognitionRouter) Toggle(ctx context.Context) (bool, error) {
	if r.Listening() {
		r.seg.Stop()
		return false, nil
	}
	if err := r.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Listening reports whether a recognition session is live.
func (r *RecognitionRouter) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// ActiveBackendName returns the live backend's name, or empty when idle.
func (r *RecognitionRouter) ActiveBackendName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ""
	}
	return r.active.Name()
}

// SendAudio forwards a captured audio chunk to the live session. Chunks that
// race a session teardown are dropped.
func (r *RecognitionRouter) SendAudio(ctx context.Context, pcm16 []byte, sampleRate int) error {
	r.mu.Lock()
	session := r.session
	name := ""
	if r.active != nil {
		name = r.active.Name()
	}
	r.mu.Unlock()
	if session == nil {
		return nil
	}
	if err := session.SendAudio(ctx, pcm16, sampleRate); err != nil {
		if r.metrics != nil {
			r.metrics.ProviderErrors.WithLabelValues(name, "send_audio_failed").Inc()
		}
		return classifyBackendError("send_audio_failed", err)
	}
	return nil
}

func (r *RecognitionRouter) pickBackend() RecognizerBackend {
	for _, b := range r.backends {
		if b.Available() {
			return b
		}
	}
	return nil
}

// pump translates backend events into segmenter calls. The backend closing
// its event channel is the session completion signal.
func (r *RecognitionRouter) pump(backendName string, events <-chan RecognizerEvent, done chan struct{}) {
	for evt := range events {
		switch evt.Type {
		case RecognizerEventInterim:
			r.seg.OnInterim(evt.Text)
		case RecognizerEventFinal:
			r.seg.OnFinal(evt.Text)
		case RecognizerEventPause:
			r.seg.OnPause()
		case RecognizerEventError:
			if r.metrics != nil {
				r.metrics.ProviderErrors.WithLabelValues(backendName, evt.Code).Inc()
			}
			r.seg.OnError(evt.Code)
		}
	}

	r.mu.Lock()
	r.session = nil
	r.active = nil
	r.done = nil
	r.mu.Unlock()
	r.seg.SessionEnded()
	close(done)
}
