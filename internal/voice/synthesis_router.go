package voice

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/martasollai/iris/internal/observability"
	"github.com/martasollai/iris/internal/persona"
)

// SynthesisRouter chooses between the cloud and platform synthesizers per
// speak request. Cloud failures fall through to the platform backend exactly
// once; platform failures surface to the caller. A new speak request cancels
// the previous in-flight one before starting ("cancel-then-start", no queue).
type SynthesisRouter struct {
	mu       sync.Mutex
	cloud    SynthesizerBackend
	platform SynthesizerBackend
	resolver *Resolver
	metrics  *observability.Metrics

	nextRequestID uint64
	inflightID    uint64
	inflight      context.CancelFunc
}

func NewSynthesisRouter(cloud, platform SynthesizerBackend, resolver *Resolver, metrics *observability.Metrics) *SynthesisRouter {
	return &SynthesisRouter{
		cloud:    cloud,
		platform: platform,
		resolver: resolver,
		metrics:  metrics,
	}
}

// Speak synthesizes and plays text. It returns nil when playback completed or
// was superseded cleanly by a newer request, and an error on unrecoverable
// synthesis failure.
func (r *SynthesisRouter) Speak(ctx context.Context, text, voiceHint string, gender persona.Gender) error {
	req, reqCtx := r.begin(ctx, text, voiceHint, gender)
	defer r.finish(req.RequestID)

	err := r.speakOnce(reqCtx, req)
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// Superseded by a newer request: resolve cleanly.
		return nil
	}
	return err
}

// begin cancels any in-flight request synchronously (last caller wins) and
// registers the new one.
func (r *SynthesisRouter) begin(ctx context.Context, text, voiceHint string, gender persona.Gender) (SpeakRequest, context.Context) {
	r.mu.Lock()
	prevCancel := r.inflight
	r.nextRequestID++
	req := SpeakRequest{
		Text:      text,
		VoiceHint: voiceHint,
		Gender:    gender,
		RequestID: r.nextRequestID,
	}
	reqCtx, cancel := context.WithCancel(ctx)
	r.inflight = cancel
	r.inflightID = req.RequestID
	r.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		// Halt whichever backend was mid-utterance before the new request
		// touches either one.
		r.stopBackends()
		if r.metrics != nil {
			r.metrics.SessionEvents.WithLabelValues("speak_superseded").Inc()
		}
	}
	return req, reqCtx
}

func (r *SynthesisRouter) finish(requestID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflightID == requestID {
		if r.inflight != nil {
			r.inflight()
		}
		r.inflight = nil
		r.inflightID = 0
	}
}

func (r *SynthesisRouter) speakOnce(ctx context.Context, req SpeakRequest) error {
	cloudConfigured := r.cloud != nil && r.cloud.Available()
	platformConfigured := r.platform != nil && r.platform.Available()

	if !cloudConfigured && !platformConfigured {
		return ErrSynthesisUnsupported
	}

	if cloudConfigured {
		err := r.speakOn(ctx, r.cloud, req)
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		// Any cloud failure (configuration, HTTP, playback) is recovered
		// locally: log it and fall through to the platform backend exactly
		// once. No retry loop, no further tiers.
		log.Printf("cloud synthesis failed, falling back to platform: %v", err)
		if r.metrics != nil {
			r.metrics.SynthesisFallbacks.Inc()
			r.metrics.ProviderErrors.WithLabelValues(r.cloud.Name(), errorCode(err)).Inc()
		}
		if !platformConfigured {
			return classifyBackendError("synthesis_failed", err)
		}
	}

	if err := r.speakOn(ctx, r.platform, req); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		if r.metrics != nil {
			r.metrics.ProviderErrors.WithLabelValues(r.platform.Name(), errorCode(err)).Inc()
		}
		return classifyBackendError("synthesis_failed", err)
	}
	return nil
}

func (r *SynthesisRouter) speakOn(ctx context.Context, backend SynthesizerBackend, req SpeakRequest) error {
	voice, _ := r.resolver.Resolve(req.VoiceHint, req.Gender, backend.Voices())
	// A zero VoiceProfile means "backend default"; backends treat an empty
	// BackendName that way.
	return backend.Speak(ctx, req.Text, voice)
}

// StopSpeaking cancels the in-flight request and stops both backends
// unconditionally, guarding against a backend switch mid-utterance. Safe to
// call when nothing is playing.
func (r *SynthesisRouter) StopSpeaking() {
	r.mu.Lock()
	cancel := r.inflight
	r.inflight = nil
	r.inflightID = 0
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.stopBackends()
}

func (r *SynthesisRouter) stopBackends() {
	if r.cloud != nil {
		r.cloud.StopSpeaking()
	}
	if r.platform != nil {
		r.platform.StopSpeaking()
	}
}
