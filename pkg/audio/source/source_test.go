// ABOUTME: Tests for data source registry and implementations
// ABOUTME: Uses temp files and httptest servers with Range support
package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTypeFromName(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"/music/a.MP3", "mp3"},
		{"track.flac?token=1", "flac"},
		{"song.oga", "ogg"},
		{"noext", ""},
	}
	for _, tt := range tests {
		if got := TypeFromName(tt.name); got != tt.expected {
			t.Errorf("TypeFromName(%q): expected %q, got %q", tt.name, tt.expected, got)
		}
	}
}

func TestTypeFromMIME(t *testing.T) {
	if got := TypeFromMIME("audio/mpeg; charset=binary"); got != "mp3" {
		t.Errorf("expected mp3, got %q", got)
	}
	if got := TypeFromMIME("text/html"); got != "" {
		t.Errorf("expected empty type, got %q", got)
	}
}

func TestRegistryNoSource(t *testing.T) {
	reg := NewRegistry(NewHTTPFactory(nil))
	_, err := reg.Open(context.Background(), "/tmp/a.mp3")
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}

type stubFactory struct {
	name  string
	calls *[]string
}

func (s stubFactory) CanRead(string) bool { return true }
func (s stubFactory) Open(context.Context, string) (DataSource, error) {
	*s.calls = append(*s.calls, s.name)
	return nil, errors.New("stub")
}

func TestRegistryOrder(t *testing.T) {
	var calls []string
	reg := NewRegistry(stubFactory{"first", &calls})
	reg.Register(stubFactory{"second", &calls})

	_, _ = reg.Open(context.Background(), "x")
	if len(calls) != 1 || calls[0] != "first" {
		t.Errorf("expected first factory only, got %v", calls)
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "clip.wav")
	data := []byte("0123456789")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	reg := NewDefaultRegistry(nil)
	src, err := reg.Open(context.Background(), "file://"+p)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer src.Close()

	if src.Type() != "wav" {
		t.Errorf("expected wav, got %q", src.Type())
	}
	if src.Length() != int64(len(data)) {
		t.Errorf("expected length %d, got %d", len(data), src.Length())
	}

	if _, err := src.Seek(4, io.SeekStart); err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	buf := make([]byte, 3)
	if _, err := io.ReadFull(src, buf); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf) != "456" {
		t.Errorf("expected 456, got %q", buf)
	}

	src.Interrupt()
	if _, err := src.Read(buf); !errors.Is(err, ErrInterrupted) {
		t.Errorf("expected ErrInterrupted, got %v", err)
	}
}

func newContentServer(t *testing.T, data []byte, contentType string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		http.ServeContent(w, r, "track", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSourceReadAndSeek(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefghij"), 100)
	srv := newContentServer(t, data, "audio/flac")

	src, err := NewHTTPFactory(srv.Client()).Open(context.Background(), srv.URL+"/stream")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer src.Close()

	if src.Type() != "flac" {
		t.Errorf("expected flac, got %q", src.Type())
	}
	if src.Length() != int64(len(data)) {
		t.Errorf("expected length %d, got %d", len(data), src.Length())
	}

	head := make([]byte, 5)
	if _, err := io.ReadFull(src, head); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(head) != "abcde" {
		t.Errorf("expected abcde, got %q", head)
	}

	pos, err := src.Seek(-3, io.SeekEnd)
	if err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if pos != int64(len(data)-3) {
		t.Errorf("expected position %d, got %d", len(data)-3, pos)
	}
	tail, err := io.ReadAll(src)
	if err != nil {
		t.Fatalf("read tail failed: %v", err)
	}
	if string(tail) != "hij" {
		t.Errorf("expected hij, got %q", tail)
	}
}

func TestHTTPSourceTypeFromPath(t *testing.T) {
	srv := newContentServer(t, []byte("x"), "application/octet-stream")

	src, err := NewHTTPFactory(srv.Client()).Open(context.Background(), srv.URL+"/song.mp3?sig=1")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer src.Close()

	if src.Type() != "mp3" {
		t.Errorf("expected mp3 from path, got %q", src.Type())
	}
}

func TestHTTPSourceStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := NewHTTPFactory(srv.Client()).Open(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestHTTPSourceInterrupt(t *testing.T) {
	srv := newContentServer(t, []byte("0123456789"), "audio/mpeg")

	src, err := NewHTTPFactory(srv.Client()).Open(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer src.Close()

	src.Interrupt()
	if _, err := src.Read(make([]byte, 4)); !errors.Is(err, ErrInterrupted) {
		t.Errorf("expected ErrInterrupted, got %v", err)
	}
}
