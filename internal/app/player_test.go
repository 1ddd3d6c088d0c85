// ABOUTME: Tests for the playlist player
// ABOUTME: Drives a real engine over synthetic tracks and a recording output
package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-engine/internal/audiotest"
	"github.com/Resonate-Protocol/resonate-engine/pkg/playback"
	"github.com/Resonate-Protocol/resonate-engine/pkg/resonate"
)

const waitTimeout = 5 * time.Second

func newTestEngine(t *testing.T, tracks map[string]audiotest.Track, delay time.Duration) (*resonate.Engine, *audiotest.Output) {
	t.Helper()
	lib := audiotest.NewLibrary()
	for uri, track := range tracks {
		lib.Add(uri, track)
	}
	out := audiotest.NewOutput(8, delay)
	engine, err := resonate.NewEngine(resonate.Config{
		Output:            out,
		Sources:           lib.Sources(),
		Decoders:          lib.Decoders(),
		SamplesPerChannel: 100,
		BufferCount:       8,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		out.Close()
	})
	return engine, out
}

func runPlayer(t *testing.T, p *Player) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestNewValidation(t *testing.T) {
	engine, _ := newTestEngine(t, nil, 0)

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"no transport", Config{Tracks: []string{"test://a"}}, true},
		{"no tracks", Config{Transport: engine}, true},
		{"valid", Config{Transport: engine, Tracks: []string{"test://a"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.config.Gain != playback.UnityGain {
				t.Errorf("expected unity gain default, got %+v", p.config.Gain)
			}
		})
	}
}

func TestPlaylistPlaysEveryTrackInOrder(t *testing.T) {
	engine, out := newTestEngine(t, map[string]audiotest.Track{
		"test://a": {Frames: 4900},
		"test://b": {Frames: 2900},
		"test://c": {Frames: 400},
	}, time.Millisecond)

	p, err := New(Config{Transport: engine, Tracks: []string{"test://a", "test://b", "test://c"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, done := runPlayer(t, p)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean finish, got %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("playlist did not finish")
	}

	samples := out.Samples()
	if len(samples) != 16400 {
		t.Fatalf("expected 16400 samples, got %d", len(samples))
	}
	for i, start := range []int{0, 9800, 15600} {
		if samples[start] != audiotest.RampSample(0) {
			t.Errorf("track %d: expected ramp start at %d, got %f", i, start, samples[start])
		}
	}
	if got := p.Current(); got != 2 {
		t.Errorf("expected current index 2, got %d", got)
	}
}

func TestPlaylistSkipsUnplayableTracks(t *testing.T) {
	engine, out := newTestEngine(t, map[string]audiotest.Track{
		"test://a": {Frames: 500},
		"test://c": {Frames: 500},
	}, 0)

	p, _ := New(Config{Transport: engine, Tracks: []string{"test://missing", "test://a", "test://c"}})
	_, done := runPlayer(t, p)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean finish, got %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("playlist did not finish")
	}
	if got := len(out.Samples()); got != 2000 {
		t.Errorf("expected 2000 samples, got %d", got)
	}
}

func TestPlaylistNothingPlayable(t *testing.T) {
	engine, _ := newTestEngine(t, nil, 0)

	p, _ := New(Config{Transport: engine, Tracks: []string{"test://x", "test://y"}})
	err := p.Run(context.Background())
	if !errors.Is(err, ErrEmptyPlaylist) {
		t.Errorf("expected ErrEmptyPlaylist, got %v", err)
	}
}

func TestPlaylistNextAndJump(t *testing.T) {
	engine, _ := newTestEngine(t, map[string]audiotest.Track{
		"test://a": {Frames: 20000},
		"test://b": {Frames: 20000},
		"test://c": {Frames: 20000},
	}, time.Millisecond)

	p, _ := New(Config{Transport: engine, Tracks: []string{"test://a", "test://b", "test://c"}})
	cancel, done := runPlayer(t, p)

	if !audiotest.WaitFor(waitTimeout, func() bool { return engine.URI() == "test://a" }) {
		t.Fatalf("expected test://a playing, got %q", engine.URI())
	}

	if err := p.Next(); err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if !audiotest.WaitFor(waitTimeout, func() bool { return engine.URI() == "test://b" }) {
		t.Fatalf("expected test://b after next, got %q", engine.URI())
	}
	if got := p.Current(); got != 1 {
		t.Errorf("expected index 1, got %d", got)
	}

	if err := p.Jump(0); err != nil {
		t.Fatalf("jump failed: %v", err)
	}
	if !audiotest.WaitFor(waitTimeout, func() bool { return engine.URI() == "test://a" }) {
		t.Fatalf("expected test://a after jump, got %q", engine.URI())
	}
	if err := p.Jump(7); err == nil {
		t.Error("expected out of range jump to fail")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("run did not return after cancel")
	}
	if got := engine.PlaybackState(); got != playback.PlaybackStopped {
		t.Errorf("expected stopped after cancel, got %s", got)
	}
}

func TestPlaylistNextAtEnd(t *testing.T) {
	tests := []struct {
		name    string
		repeat  bool
		wantErr bool
	}{
		{"stops at end", false, true},
		{"repeat wraps", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestEngine(t, map[string]audiotest.Track{
				"test://a": {Frames: 20000},
			}, time.Millisecond)

			p, _ := New(Config{Transport: engine, Tracks: []string{"test://a"}, Repeat: tt.repeat})
			runPlayer(t, p)
			if !audiotest.WaitFor(waitTimeout, func() bool { return engine.URI() == "test://a" }) {
				t.Fatalf("expected test://a playing, got %q", engine.URI())
			}

			err := p.Next()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPlaylistControls(t *testing.T) {
	engine, _ := newTestEngine(t, map[string]audiotest.Track{
		"test://a": {Frames: 20000},
	}, time.Millisecond)

	var mu sync.Mutex
	var last Status
	p, _ := New(Config{
		Transport: engine,
		Tracks:    []string{"test://a"},
		OnChange: func(s Status) {
			mu.Lock()
			last = s
			mu.Unlock()
		},
	})
	runPlayer(t, p)

	if !audiotest.WaitFor(waitTimeout, func() bool { return engine.PlaybackState() == playback.PlaybackPlaying }) {
		t.Fatalf("expected playing, got %s", engine.PlaybackState())
	}

	if !p.TogglePause() {
		t.Fatal("expected pause to succeed")
	}
	if got := engine.PlaybackState(); got != playback.PlaybackPaused {
		t.Errorf("expected paused, got %s", got)
	}
	if !p.TogglePause() {
		t.Fatal("expected resume to succeed")
	}

	p.AdjustVolume(-0.25)
	if got := engine.Volume(); got != 0.75 {
		t.Errorf("expected volume 0.75, got %f", got)
	}
	p.AdjustVolume(2)
	if got := engine.Volume(); got != 1 {
		t.Errorf("expected volume clamped to 1, got %f", got)
	}

	p.ToggleMute()
	if !engine.IsMuted() {
		t.Error("expected muted")
	}

	pos, err := p.Seek(5)
	if err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if pos < 5 {
		t.Errorf("expected position past 5s, got %f", pos)
	}

	if err := p.ToggleTransport(); err != nil {
		t.Fatalf("toggle transport failed: %v", err)
	}
	if got := engine.CurrentType(); got != playback.TransportCrossfade {
		t.Errorf("expected crossfade, got %s", got)
	}
	if !audiotest.WaitFor(waitTimeout, func() bool { return engine.PlaybackState() == playback.PlaybackPlaying }) {
		t.Errorf("expected playback to continue after the switch, got %s", engine.PlaybackState())
	}
	if got := engine.Position(); got < 4 {
		t.Errorf("expected position kept near 5s after the switch, got %f", got)
	}

	ok := audiotest.WaitFor(waitTimeout, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.Transport == "crossfade" && last.Muted
	})
	if !ok {
		mu.Lock()
		t.Errorf("expected status with crossfade and mute, got %+v", last)
		mu.Unlock()
	}
}

func TestStatusSnapshot(t *testing.T) {
	engine, _ := newTestEngine(t, nil, 0)

	p, _ := New(Config{Transport: engine, Tracks: []string{"test://a", "test://b"}, Repeat: true})
	s := p.Status()
	if s.Index != 0 || s.Count != 2 {
		t.Errorf("expected index 0 of 2, got %d of %d", s.Index, s.Count)
	}
	if s.URI != "test://a" {
		t.Errorf("expected test://a, got %s", s.URI)
	}
	if s.Transport != "gapless" {
		t.Errorf("expected gapless, got %s", s.Transport)
	}
	if !s.Repeat {
		t.Error("expected repeat in status")
	}
	if s.State != playback.PlaybackStopped {
		t.Errorf("expected stopped, got %s", s.State)
	}
}
