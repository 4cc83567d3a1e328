package voice

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// audioPlayer plays WAV bytes through whatever command-line player the host
// has. Playback is single-flight; starting a new clip while one is playing
// kills the old process first.
type audioPlayer struct {
	command string

	mu     sync.Mutex
	cancel context.CancelFunc
}

var playerCandidates = []string{"afplay", "paplay", "aplay", "play", "ffplay"}

func newAudioPlayer() *audioPlayer {
	for _, candidate := range playerCandidates {
		if p, err := exec.LookPath(candidate); err == nil && strings.TrimSpace(p) != "" {
			return &audioPlayer{command: p}
		}
	}
	return &audioPlayer{}
}

func newAudioPlayerWithCommand(command string) *audioPlayer {
	command = strings.TrimSpace(command)
	if command == "" {
		return newAudioPlayer()
	}
	if p, err := exec.LookPath(command); err == nil {
		command = p
	}
	return &audioPlayer{command: command}
}

func (p *audioPlayer) Available() bool {
	return p != nil && strings.TrimSpace(p.command) != ""
}

// Play writes wav to a temp file, runs the player, and blocks until playback
// finishes or ctx is cancelled.
func (p *audioPlayer) Play(ctx context.Context, wav []byte) error {
	if !p.Available() {
		return newConfigurationError("no_audio_player", "no audio player command found on PATH")
	}
	if len(wav) == 0 {
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "iris-play-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "clip.wav")
	if err := os.WriteFile(wavPath, wav, 0o644); err != nil {
		return err
	}

	playCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.mu.Unlock()
	}()

	args := []string{wavPath}
	if filepath.Base(p.command) == "ffplay" {
		args = []string{"-nodisp", "-autoexit", "-loglevel", "quiet", wavPath}
	}
	cmd := exec.CommandContext(playCtx, p.command, args...)
	if err := cmd.Run(); err != nil {
		if playCtx.Err() != nil {
			return playCtx.Err()
		}
		return fmt.Errorf("audio playback failed: %w", err)
	}
	return nil
}

// Stop kills any in-flight playback. Safe to call when idle.
func (p *audioPlayer) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
