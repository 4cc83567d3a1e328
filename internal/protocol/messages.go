package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeClientSpeak      MessageType = "client_speak"
	TypeInterimText      MessageType = "interim_text"
	TypeUtteranceCommit  MessageType = "utterance_committed"
	TypeListeningState   MessageType = "listening_state"
	TypeRecognitionError MessageType = "recognition_error"
	TypeSpeakResult      MessageType = "speak_result"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Control actions accepted in a client_control message.
const (
	ActionStartListening  = "start_listening"
	ActionStopListening   = "stop_listening"
	ActionToggleListening = "toggle_listening"
	ActionStopSpeaking    = "stop_speaking"
	ActionSetPersona      = "set_persona"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	// Persona carries the persona description for set_persona.
	Persona string `json:"persona,omitempty"`
	// VoiceHint carries the preferred voice keyword for set_persona; "AUTO"
	// defers to the persona gender.
	VoiceHint string `json:"voice_hint,omitempty"`
}

type ClientSpeak struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	VoiceHint string      `json:"voice_hint,omitempty"`
}

type InterimText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type UtteranceCommitted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	// Source is "auto" for silence-detected commits, "manual" for user stops.
	Source string `json:"source"`
	TSMs   int64  `json:"ts_ms"`
}

type ListeningState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Active    bool        `json:"active"`
	Backend   string      `json:"backend,omitempty"`
}

type RecognitionError struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	// Retryable hints whether restarting listening is likely to help.
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail,omitempty"`
}

type SpeakResult struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	OK        bool        `json:"ok"`
	Code      string      `json:"code,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	case TypeClientSpeak:
		var msg ClientSpeak
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_speak")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
