package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "a gruff old sea captain", "")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Persona != "a gruff old sea captain" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}

	if _, err := m.End(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second End() error = %v, want ErrNotFound", err)
	}
}

func TestManagerSetPersona(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "", "")
	if err := m.SetPersona(s.ID, "gender: female, a cheerful teacher", "Jenny"); err != nil {
		t.Fatalf("SetPersona() error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Persona != "gender: female, a cheerful teacher" {
		t.Fatalf("Persona = %q", got.Persona)
	}
	if got.VoiceHint != "Jenny" {
		t.Fatalf("VoiceHint = %q, want %q", got.VoiceHint, "Jenny")
	}
}

func TestManagerSetListening(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "", "")
	if err := m.SetListening(s.ID, true); err != nil {
		t.Fatalf("SetListening() error = %v", err)
	}
	got, _ := m.Get(s.ID)
	if !got.Listening {
		t.Fatalf("Listening = false, want true")
	}

	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	got, _ = m.Get(s.ID)
	if got.Listening {
		t.Fatalf("Listening should clear on End")
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("u1", "", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}
