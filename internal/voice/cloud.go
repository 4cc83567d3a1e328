package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/martasollai/iris/internal/audio"
	"github.com/martasollai/iris/internal/persona"
	"github.com/martasollai/iris/internal/reliability"
)

type CloudConfig struct {
	APIKey       string
	Region       string
	Locale       string
	WSBaseURL    string
	TTSBaseURL   string
	OutputFormat string
	// PlayerCommand overrides the audio playback CLI; empty auto-detects.
	PlayerCommand string
}

// CloudBackend is a thin adapter over the cloud speech service: a streaming
// websocket for recognition and a REST endpoint for synthesis. The acoustic
// model behind it is an opaque black box.
type CloudBackend struct {
	cfg    CloudConfig
	player *audioPlayer

	voicesMu sync.Mutex
	voices   []VoiceProfile
}

func NewCloudBackend(cfg CloudConfig) *CloudBackend {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "westus"
	}
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = fmt.Sprintf("wss://%s.stt.speech.microsoft.com", region)
	}
	if strings.TrimSpace(cfg.TTSBaseURL) == "" {
		cfg.TTSBaseURL = fmt.Sprintf("https://%s.tts.speech.microsoft.com", region)
	}
	if strings.TrimSpace(cfg.Locale) == "" {
		cfg.Locale = "en-US"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "riff-16khz-16bit-mono-pcm"
	}
	cfg.Region = region
	return &CloudBackend{cfg: cfg, player: newAudioPlayerWithCommand(cfg.PlayerCommand)}
}

func (b *CloudBackend) Name() string { return "cloud_speech" }

// Available means credentials are present. Reachability failures surface as
// transient errors on Start/Speak, which the routers handle.
func (b *CloudBackend) Available() bool {
	return strings.TrimSpace(b.cfg.APIKey) != ""
}

func (b *CloudBackend) Start(ctx context.Context) (RecognizerSession, <-chan RecognizerEvent, error) {
	if !b.Available() {
		return nil, nil, newConfigurationError("missing_cloud_credentials", "cloud speech API key is not set")
	}

	u, err := url.Parse(strings.TrimRight(b.cfg.WSBaseURL, "/") + "/speech/recognition/conversation/cognitiveservices/v1")
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	q.Set("language", b.cfg.Locale)
	q.Set("format", "detailed")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Ocp-Apim-Subscription-Key", b.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, newTransientError("stt_dial_failed", err)
	}

	events := make(chan RecognizerEvent, 256)
	s := &cloudRecognizerSession{conn: conn, events: events}
	go s.readLoop()
	return s, events, nil
}

type cloudRecognizerSession struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	closeOnce  sync.Once
	events     chan RecognizerEvent
	seq        uint64
	headerSent bool
}

func (s *cloudRecognizerSession) SendAudio(_ context.Context, pcm16 []byte, sampleRate int) error {
	if len(pcm16) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.headerSent {
		// The streaming endpoint learns the PCM format from a zero-length
		// RIFF header sent before the first raw frame.
		header, err := audio.EncodeWAVPCM16LE(nil, sampleRate)
		if err != nil {
			return err
		}
		if err := s.conn.WriteMessage(websocket.BinaryMessage, header); err != nil {
			return err
		}
		s.headerSent = true
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm16)
}

func (s *cloudRecognizerSession) Stop() error {
	s.writeMu.Lock()
	err := s.conn.WriteJSON(map[string]any{"type": "audio.end"})
	s.writeMu.Unlock()
	if err != nil {
		// Connection already torn down. Only readLoop closes the event
		// channel (it may be mid-emit); closing the conn unblocks it.
		_ = s.conn.Close()
	}
	return nil
}

func (s *cloudRecognizerSession) readLoop() {
	defer s.safeClose()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		switch asString(raw["type"]) {
		case "speech.hypothesis":
			s.emit(RecognizerEvent{Type: RecognizerEventInterim, Text: asString(raw["text"])})
		case "speech.phrase":
			text := asString(raw["displayText"])
			if text == "" {
				text = asString(raw["text"])
			}
			s.emit(RecognizerEvent{Type: RecognizerEventFinal, Text: text})
		case "speech.endDetected":
			s.emit(RecognizerEvent{Type: RecognizerEventPause})
		case "turn.end":
			return
		case "speech.startDetected", "turn.start", "":
			// control events, ignore
		default:
			code := asString(raw["type"])
			if strings.Contains(code, "forbidden") || strings.Contains(code, "unauthorized") {
				code = "permission_denied"
			}
			s.emit(RecognizerEvent{Type: RecognizerEventError, Code: code, Detail: asString(raw["message"])})
		}
	}
}

func (s *cloudRecognizerSession) emit(evt RecognizerEvent) {
	s.seq++
	evt.Sequence = s.seq
	s.events <- evt
}

func (s *cloudRecognizerSession) safeClose() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		close(s.events)
	})
}

// Voices fetches the backend voice list once and caches it; on fetch failure
// the built-in catalog identities are assumed present.
func (b *CloudBackend) Voices() []VoiceProfile {
	b.voicesMu.Lock()
	defer b.voicesMu.Unlock()
	if b.voices != nil {
		return b.voices
	}
	voices, err := b.fetchVoices()
	if err != nil || len(voices) == 0 {
		voices = NewCatalog().All()
	}
	b.voices = voices
	return b.voices
}

func (b *CloudBackend) fetchVoices() ([]VoiceProfile, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(b.cfg.TTSBaseURL, "/")+"/cognitiveservices/voices/list", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", b.cfg.APIKey)

	client := &http.Client{Timeout: 8 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if reliability.IsRetryableHTTPStatus(res.StatusCode) {
		// Catalog metadata, not a live utterance: one immediate re-fetch is
		// cheap and usually rides out a transient 5xx.
		res.Body.Close()
		res, err = client.Do(req)
		if err != nil {
			return nil, err
		}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("voices list: HTTP %d", res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var parsed []struct {
		ShortName string `json:"ShortName"`
		LocalName string `json:"LocalName"`
		Locale    string `json:"Locale"`
		Gender    string `json:"Gender"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	out := make([]VoiceProfile, 0, len(parsed))
	for _, v := range parsed {
		g := persona.GenderUnknown
		switch strings.ToLower(v.Gender) {
		case "female":
			g = persona.GenderFemale
		case "male":
			g = persona.GenderMale
		}
		out = append(out, VoiceProfile{
			Keyword:     v.LocalName,
			BackendName: v.ShortName,
			Locale:      v.Locale,
			Gender:      g,
		})
	}
	return out, nil
}

// Speak synthesizes text via the REST endpoint and plays the returned audio
// locally, returning when playback completes.
func (b *CloudBackend) Speak(ctx context.Context, text string, voice VoiceProfile) error {
	if !b.Available() {
		return newConfigurationError("missing_cloud_credentials", "cloud speech API key is not set")
	}
	voiceName := strings.TrimSpace(voice.BackendName)
	if voiceName == "" {
		voiceName = "en-US-JennyNeural"
	}
	locale := strings.TrimSpace(voice.Locale)
	if locale == "" {
		locale = b.cfg.Locale
	}

	ssml := fmt.Sprintf(
		`<speak version='1.0' xml:lang='%s'><voice name='%s'>%s</voice></speak>`,
		locale, voiceName, escapeSSML(text))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(b.cfg.TTSBaseURL, "/")+"/cognitiveservices/v1",
		strings.NewReader(ssml))
	if err != nil {
		return err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", b.cfg.APIKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", b.cfg.OutputFormat)

	res, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
	if err != nil {
		return newTransientError("tts_request_failed", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		detail := fmt.Sprintf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
		switch reliability.ClassifyHTTPStatus(res.StatusCode) {
		case reliability.FailurePermission:
			return newPermissionError("cloud_access_denied", detail)
		case reliability.FailureConfiguration:
			return newConfigurationError("tts_bad_request", detail)
		default:
			return newTransientError("tts_bad_status", fmt.Errorf("%s", detail))
		}
	}

	audio, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return newTransientError("tts_read_failed", err)
	}
	if len(audio) == 0 {
		return newTransientError("tts_empty_audio", fmt.Errorf("synthesis returned no audio"))
	}

	return b.player.Play(ctx, audio)
}

func (b *CloudBackend) StopSpeaking() {
	b.player.Stop()
}

func escapeSSML(text string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(text)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
