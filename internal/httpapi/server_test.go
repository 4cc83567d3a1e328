package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/martasollai/iris/internal/config"
	"github.com/martasollai/iris/internal/history"
	"github.com/martasollai/iris/internal/observability"
	"github.com/martasollai/iris/internal/protocol"
	"github.com/martasollai/iris/internal/session"
	"github.com/martasollai/iris/internal/voice"
)

type stubVoiceService struct {
	voices   []voice.VoiceProfile
	speakErr error
	spoken   []string
	records  []history.UtteranceRecord
	stopped  int
}

func (s *stubVoiceService) RunConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if _, isControl := msg.(protocol.ClientControl); isControl {
				outbound <- protocol.ListeningState{
					Type:      protocol.TypeListeningState,
					SessionID: sess.ID,
					Active:    true,
					Backend:   "mock",
				}
			}
		}
	}
}

func (s *stubVoiceService) Speak(_ context.Context, text, _ string) error {
	if s.speakErr != nil {
		return s.speakErr
	}
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *stubVoiceService) StopSpeaking() { s.stopped++ }

func (s *stubVoiceService) Voices() []voice.VoiceProfile { return s.voices }

func (s *stubVoiceService) History(_ context.Context, userID string, limit int) ([]history.UtteranceRecord, error) {
	out := make([]history.UtteranceRecord, 0, limit)
	for _, rec := range s.records {
		if rec.UserID == userID && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, svc VoiceService) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		VoiceProvider:            "mock",
		PreferredVoice:           "AUTO",
		AllowAnyOrigin:           true,
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test_httpapi")
	srv := New(cfg, sessions, svc, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func createSession(t *testing.T, ts *httptest.Server, userID string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	res, err := http.Post(ts.URL+"/v1/voice/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	id, _ := created["session_id"].(string)
	if id == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return id
}

func TestCreateAndEndSession(t *testing.T) {
	ts := newTestServer(t, &stubVoiceService{})

	sessionID := createSession(t, ts, "user-1")

	endRes, err := http.Post(ts.URL+"/v1/voice/session/"+sessionID+"/end", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	again, err := http.Post(ts.URL+"/v1/voice/session/"+sessionID+"/end", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("second end request error = %v", err)
	}
	defer again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Fatalf("second end status = %d, want %d", again.StatusCode, http.StatusNotFound)
	}
}

func TestListVoices(t *testing.T) {
	svc := &stubVoiceService{voices: voice.NewCatalog().All()}
	ts := newTestServer(t, svc)

	res, err := http.Get(ts.URL + "/v1/voice/voices")
	if err != nil {
		t.Fatalf("list voices request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list voices status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var parsed listVoicesResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode voices response: %v", err)
	}
	if parsed.DefaultVoice != "AUTO" {
		t.Fatalf("default voice = %q, want %q", parsed.DefaultVoice, "AUTO")
	}
	if len(parsed.Voices) != len(svc.voices) {
		t.Fatalf("voices = %d, want %d", len(parsed.Voices), len(svc.voices))
	}
}

func TestSpeakRejectsEmptyText(t *testing.T) {
	ts := newTestServer(t, &stubVoiceService{})

	body, _ := json.Marshal(map[string]string{"text": "   "})
	res, err := http.Post(ts.URL+"/v1/voice/speak", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("speak request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("speak status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestSpeakSuccess(t *testing.T) {
	svc := &stubVoiceService{}
	ts := newTestServer(t, svc)

	body, _ := json.Marshal(map[string]string{"text": "hello there", "voice_hint": "ryan"})
	res, err := http.Post(ts.URL+"/v1/voice/speak", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("speak request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("speak status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(svc.spoken) != 1 || svc.spoken[0] != "hello there" {
		t.Fatalf("spoken = %v, want [hello there]", svc.spoken)
	}
}

func TestSpeakBackendFailureSurfacesCode(t *testing.T) {
	svc := &stubVoiceService{
		speakErr: &voice.BackendError{Kind: voice.KindPermission, Code: "audio_device_denied"},
	}
	ts := newTestServer(t, svc)

	body, _ := json.Marshal(map[string]string{"text": "hello"})
	res, err := http.Post(ts.URL+"/v1/voice/speak", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("speak request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("speak status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
	var parsed errorResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if parsed.Code != "audio_device_denied" {
		t.Fatalf("error code = %q, want %q", parsed.Code, "audio_device_denied")
	}
}

func TestHistoryEndpoint(t *testing.T) {
	svc := &stubVoiceService{
		records: []history.UtteranceRecord{
			{UserID: "user-7", Role: history.RoleUser, Text: "turn on the lights"},
			{UserID: "user-7", Role: history.RoleAssistant, Text: "done"},
			{UserID: "someone-else", Role: history.RoleUser, Text: "unrelated"},
		},
	}
	ts := newTestServer(t, svc)

	res, err := http.Get(ts.URL + "/v1/history?user_id=user-7&limit=10")
	if err != nil {
		t.Fatalf("history request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var parsed struct {
		UserID     string                    `json:"user_id"`
		Utterances []history.UtteranceRecord `json:"utterances"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode history response: %v", err)
	}
	if parsed.UserID != "user-7" {
		t.Fatalf("user_id = %q, want %q", parsed.UserID, "user-7")
	}
	if len(parsed.Utterances) != 2 {
		t.Fatalf("utterances = %d, want 2", len(parsed.Utterances))
	}
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	ts := newTestServer(t, &stubVoiceService{})

	res, err := http.Get(ts.URL + "/v1/history?limit=zero")
	if err != nil {
		t.Fatalf("history request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("history status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestSessionWSRequiresSessionID(t *testing.T) {
	ts := newTestServer(t, &stubVoiceService{})

	res, err := http.Get(ts.URL + "/v1/voice/session/ws")
	if err != nil {
		t.Fatalf("ws request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("ws status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestSessionWSRoundTrip(t *testing.T) {
	ts := newTestServer(t, &stubVoiceService{})
	sessionID := createSession(t, ts, "user-ws")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/session/ws?session_id=" + sessionID
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error = %v", err)
	}
	if res != nil {
		defer res.Body.Close()
	}
	defer conn.Close()

	control, _ := json.Marshal(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sessionID,
		Action:    protocol.ActionStartListening,
	})
	if err := conn.WriteMessage(websocket.TextMessage, control); err != nil {
		t.Fatalf("ws write error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got protocol.ListeningState
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ws read error = %v", err)
	}
	if got.Type != protocol.TypeListeningState {
		t.Fatalf("message type = %q, want %q", got.Type, protocol.TypeListeningState)
	}
	if !got.Active {
		t.Fatalf("listening state active = false, want true")
	}
}

func TestSessionWSRejectsUnknownSession(t *testing.T) {
	ts := newTestServer(t, &stubVoiceService{})

	res, err := http.Get(ts.URL + "/v1/voice/session/ws?session_id=nope")
	if err != nil {
		t.Fatalf("ws request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("ws status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestPerfLatencyEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubVoiceService{})

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("perf request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("perf status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var parsed observability.StageSnapshot
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode perf response: %v", err)
	}
}
