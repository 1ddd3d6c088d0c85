// ABOUTME: Tests for configuration loading and the preferences store
// ABOUTME: Uses temporary files to cover defaults, overrides and persistence
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-engine/pkg/playback"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Output != "oto" || cfg.Transport != "gapless" || cfg.Volume != 1 {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	if cfg.Broadcast.Port != 8927 {
		t.Errorf("expected broadcast port 8927, got %d", cfg.Broadcast.Port)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
output: broadcast
transport: crossfade
crossfade_duration: 3s
volume: 0.5
limiter: true
broadcast:
  port: 9000
  mdns: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Output != "broadcast" {
		t.Errorf("expected output broadcast, got %s", cfg.Output)
	}
	if cfg.CrossfadeDuration != 3*time.Second {
		t.Errorf("expected 3s crossfade, got %v", cfg.CrossfadeDuration)
	}
	if cfg.Volume != 0.5 || !cfg.Limiter {
		t.Errorf("expected volume 0.5 and limiter, got %v %v", cfg.Volume, cfg.Limiter)
	}
	if cfg.Broadcast.Port != 9000 || cfg.Broadcast.MDNS {
		t.Errorf("expected port 9000 without mdns, got %+v", cfg.Broadcast)
	}
	// untouched keys keep their defaults
	if cfg.Broadcast.Name != "Resonate Engine" || cfg.BufferCount != 32 {
		t.Errorf("expected defaults for unset keys, got %+v", cfg)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		errContains string
	}{
		{"bad yaml", "output: [", "parse config"},
		{"bad transport", "transport: shuffle", "unknown transport"},
		{"bad volume", "volume: 2", "volume"},
		{"bad port", "broadcast:\n  port: 70000", "port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("expected error containing %q, got %v", tt.errContains, err)
			}
		})
	}
}

func TestParseTransport(t *testing.T) {
	tests := []struct {
		in   string
		want playback.TransportType
	}{
		{"", playback.TransportGapless},
		{"gapless", playback.TransportGapless},
		{"crossfade", playback.TransportCrossfade},
	}
	for _, tt := range tests {
		got, err := ParseTransport(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseTransport(%q): expected %v, got %v (%v)", tt.in, tt.want, got, err)
		}
	}
}

func TestStatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")

	s, err := OpenState(path)
	if err != nil {
		t.Fatalf("OpenState failed: %v", err)
	}
	if got := s.Int(playback.PrefTransportType, 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
	if err := s.SetInt(playback.PrefTransportType, int(playback.TransportCrossfade)); err != nil {
		t.Fatalf("SetInt failed: %v", err)
	}

	reopened, err := OpenState(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if got := reopened.Int(playback.PrefTransportType, 0); got != int(playback.TransportCrossfade) {
		t.Errorf("expected persisted crossfade, got %d", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the state file, got %d entries", len(entries))
	}
}

func TestStateRejectsCorruptFile(t *testing.T) {
	if _, err := OpenState(writeFile(t, "state.yaml", "- not a map")); err == nil {
		t.Error("expected error for corrupt state")
	}
}

var _ playback.Preferences = (*State)(nil)
