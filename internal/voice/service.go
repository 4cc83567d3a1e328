package voice

import (
	"context"
	"encoding/base64"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/martasollai/iris/internal/history"
	"github.com/martasollai/iris/internal/observability"
	"github.com/martasollai/iris/internal/persona"
	"github.com/martasollai/iris/internal/protocol"
	"github.com/martasollai/iris/internal/reliability"
	"github.com/martasollai/iris/internal/session"
)

const historySaveTimeout = 2 * time.Second

// Service ties the segmenter and both routers into one voice pipeline and is
// the only surface the HTTP layer talks to. A single pipeline serves one
// microphone and one speaker; concurrent client connections share it.
type Service struct {
	seg         *TurnSegmenter
	recognition *RecognitionRouter
	synthesis   *SynthesisRouter
	catalog     *Catalog
	sessions    *session.Manager
	store       history.Store
	metrics     *observability.Metrics

	mu          sync.Mutex
	personaDesc string
	gender      persona.Gender
	voiceHint   string
}

func NewService(
	seg *TurnSegmenter,
	recognition *RecognitionRouter,
	synthesis *SynthesisRouter,
	catalog *Catalog,
	sessions *session.Manager,
	store history.Store,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		seg:         seg,
		recognition: recognition,
		synthesis:   synthesis,
		catalog:     catalog,
		sessions:    sessions,
		store:       store,
		metrics:     metrics,
		gender:      persona.GenderUnknown,
		voiceHint:   VoiceHintAuto,
	}
}

// SetPersona installs a persona description, classifies its gender, and
// remembers the preferred voice hint. It returns the classified gender so
// callers can echo it back to the client.
func (s *Service) SetPersona(description, voiceHint string) persona.Gender {
	gender := persona.Classify(description)
	voiceHint = strings.TrimSpace(voiceHint)
	if voiceHint == "" {
		voiceHint = VoiceHintAuto
	}

	s.mu.Lock()
	s.personaDesc = description
	s.gender = gender
	s.voiceHint = voiceHint
	s.mu.Unlock()
	return gender
}

// Persona returns the current description, classified gender, and voice hint.
func (s *Service) Persona() (string, persona.Gender, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.personaDesc, s.gender, s.voiceHint
}

func (s *Service) StartRecognition(ctx context.Context) error {
	return s.recognition.Start(ctx)
}

// StopRecognition commits any captured text synchronously and terminates the
// backend session.
func (s *Service) StopRecognition() {
	s.seg.Stop()
}

func (s *Service) ToggleRecognition(ctx context.Context) (bool, error) {
	return s.recognition.Toggle(ctx)
}

func (s *Service) Listening() bool {
	return s.recognition.Listening()
}

func (s *Service) ActiveRecognizer() string {
	return s.recognition.ActiveBackendName()
}

func (s *Service) PushAudio(ctx context.Context, pcm16 []byte, sampleRate int) error {
	return s.recognition.SendAudio(ctx, pcm16, sampleRate)
}

// Speak voices text with the current persona. An explicit voiceHint overrides
// the persona's; empty falls back to it.
func (s *Service) Speak(ctx context.Context, text, voiceHint string) error {
	s.mu.Lock()
	gender := s.gender
	if strings.TrimSpace(voiceHint) == "" {
		voiceHint = s.voiceHint
	}
	s.mu.Unlock()

	start := time.Now()
	err := s.synthesis.Speak(ctx, text, voiceHint, gender)
	if err == nil && s.metrics != nil {
		s.metrics.ObserveStage("speak_to_audio", time.Since(start))
	}
	return err
}

func (s *Service) StopSpeaking() {
	s.synthesis.StopSpeaking()
}

// Voices merges the voice inventories of both synthesizer backends,
// deduplicated by backend voice name, cloud entries first.
func (s *Service) Voices() []VoiceProfile {
	seen := make(map[string]bool)
	var out []VoiceProfile
	for _, backend := range []SynthesizerBackend{s.synthesis.cloud, s.synthesis.platform} {
		if backend == nil || !backend.Available() {
			continue
		}
		for _, v := range backend.Voices() {
			if seen[v.BackendName] {
				continue
			}
			seen[v.BackendName] = true
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Keyword < out[j].Keyword })
	return out
}

// History returns the most recent transcript entries for a user.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]history.UtteranceRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Recent(ctx, userID, limit)
}

// RunConnection drives one websocket client: inbound protocol messages map to
// pipeline operations, pipeline callbacks map to outbound protocol messages.
// It blocks until ctx is done or inbound closes.
func (s *Service) RunConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	s.seg.SetCallbacks(Callbacks{
		OnInterimText: func(text string) {
			s.send(outbound, protocol.InterimText{
				Type:      protocol.TypeInterimText,
				SessionID: sess.ID,
				Text:      text,
				TSMs:      time.Now().UnixMilli(),
			})
		},
		OnUtteranceCommitted: func(text, source string) {
			s.saveUtterance(sess, text, source)
			s.send(outbound, protocol.UtteranceCommitted{
				Type:      protocol.TypeUtteranceCommit,
				SessionID: sess.ID,
				Text:      text,
				Source:    source,
				TSMs:      time.Now().UnixMilli(),
			})
		},
		OnListeningStateChanged: func(active bool) {
			_ = s.sessions.SetListening(sess.ID, active)
			s.send(outbound, protocol.ListeningState{
				Type:      protocol.TypeListeningState,
				SessionID: sess.ID,
				Active:    active,
				Backend:   s.recognition.ActiveBackendName(),
			})
		},
		OnRecognitionError: func(code string) {
			s.send(outbound, protocol.RecognitionError{
				Type:      protocol.TypeRecognitionError,
				SessionID: sess.ID,
				Code:      code,
				Retryable: reliability.IsRetryableRealtimeMessageType(code),
			})
		},
	})
	defer s.seg.SetCallbacks(Callbacks{})

	lastSampleHz := 16000

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.ClientAudioChunk:
				if m.SampleRate > 0 {
					lastSampleHz = m.SampleRate
				}
				_ = s.sessions.Touch(sess.ID)
				pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
				if err != nil || len(pcm) == 0 {
					continue
				}
				if err := s.PushAudio(ctx, pcm, lastSampleHz); err != nil {
					s.send(outbound, protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: sess.ID,
						Code:      errorCode(err),
						Source:    "recognition",
						Retryable: true,
						Detail:    err.Error(),
					})
				}
			case protocol.ClientControl:
				_ = s.sessions.Touch(sess.ID)
				s.handleControl(ctx, sess, m, outbound)
			case protocol.ClientSpeak:
				_ = s.sessions.Touch(sess.ID)
				go s.speakForConnection(ctx, sess, m.Text, m.VoiceHint, outbound)
			}
		}
	}
}

func (s *Service) handleControl(ctx context.Context, sess *session.Session, m protocol.ClientControl, outbound chan<- any) {
	switch m.Action {
	case protocol.ActionStartListening:
		if err := s.StartRecognition(ctx); err != nil {
			s.send(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sess.ID,
				Code:      errorCode(err),
				Source:    "recognition",
				Retryable: false,
				Detail:    err.Error(),
			})
		}
	case protocol.ActionStopListening:
		s.StopRecognition()
	case protocol.ActionToggleListening:
		if _, err := s.ToggleRecognition(ctx); err != nil {
			s.send(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sess.ID,
				Code:      errorCode(err),
				Source:    "recognition",
				Retryable: false,
				Detail:    err.Error(),
			})
		}
	case protocol.ActionStopSpeaking:
		s.StopSpeaking()
		s.send(outbound, protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sess.ID,
			Code:      "speaking_stopped",
		})
	case protocol.ActionSetPersona:
		gender := s.SetPersona(m.Persona, m.VoiceHint)
		_ = s.sessions.SetPersona(sess.ID, m.Persona, m.VoiceHint)
		s.send(outbound, protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sess.ID,
			Code:      "persona_set",
			Detail:    string(gender),
		})
	default:
		s.send(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sess.ID,
			Code:      "unknown_action",
			Source:    "protocol",
			Retryable: false,
			Detail:    m.Action,
		})
	}
}

// speakForConnection runs a speak request off the inbound loop so audio
// playback never blocks message handling. Supersession is handled inside the
// synthesis router.
func (s *Service) speakForConnection(ctx context.Context, sess *session.Session, text, voiceHint string, outbound chan<- any) {
	err := s.Speak(ctx, text, voiceHint)
	result := protocol.SpeakResult{
		Type:      protocol.TypeSpeakResult,
		SessionID: sess.ID,
		OK:        err == nil,
	}
	if err != nil {
		result.Code = errorCode(err)
		result.Detail = err.Error()
	} else {
		s.saveReply(sess, text)
	}
	s.send(outbound, result)
}

func (s *Service) saveUtterance(sess *session.Session, text, source string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
	defer cancel()
	err := s.store.Save(ctx, history.UtteranceRecord{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Role:      history.RoleUser,
		Text:      text,
		Source:    source,
	})
	if err != nil {
		log.Printf("history save failed: %v", err)
	}
}

func (s *Service) saveReply(sess *session.Session, text string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
	defer cancel()
	err := s.store.Save(ctx, history.UtteranceRecord{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Role:      history.RoleAssistant,
		Text:      text,
	})
	if err != nil {
		log.Printf("history save failed: %v", err)
	}
}

// send delivers an outbound message without ever blocking the pipeline for
// long. Committed utterances and errors get a bounded wait; previews are
// dropped under backpressure.
func (s *Service) send(outbound chan<- any, msg any) {
	msgType, critical := outboundMessageMeta(msg)
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues("outbound", msgType).Inc()
	}

	if critical {
		timer := time.NewTimer(600 * time.Millisecond)
		defer timer.Stop()
		select {
		case outbound <- msg:
		case <-timer.C:
			if s.metrics != nil {
				s.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
			}
		}
		return
	}

	select {
	case outbound <- msg:
	default:
		if s.metrics != nil {
			s.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
		}
	}
}

func outboundMessageMeta(msg any) (string, bool) {
	switch msg.(type) {
	case protocol.UtteranceCommitted:
		return string(protocol.TypeUtteranceCommit), true
	case protocol.ErrorEvent:
		return string(protocol.TypeErrorEvent), true
	case protocol.RecognitionError:
		return string(protocol.TypeRecognitionError), true
	case protocol.SpeakResult:
		return string(protocol.TypeSpeakResult), true
	case protocol.ListeningState:
		return string(protocol.TypeListeningState), true
	case protocol.InterimText:
		return string(protocol.TypeInterimText), false
	case protocol.SystemEvent:
		return string(protocol.TypeSystemEvent), false
	default:
		return "unknown", false
	}
}
