// ABOUTME: Tests for the broadcast server
// ABOUTME: Connects real protocol clients through httptest and checks the stream
package broadcast

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-engine/internal/audiotest"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/protocol"
)

const waitTimeout = 5 * time.Second

type releaseCounter struct {
	mu    sync.Mutex
	count int
}

func (r *releaseCounter) OnBufferProcessed(*audio.Buffer) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer(Config{Name: "Test Broadcast"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, strings.TrimPrefix(ts.URL, "http://")
}

func connect(t *testing.T, addr string, name string, formats ...protocol.AudioFormat) *protocol.Client {
	t.Helper()
	c := protocol.NewClient(protocol.Config{ServerAddr: addr, Name: name, SupportedFormats: formats})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func waitStreamStart(t *testing.T, c *protocol.Client) protocol.StreamStart {
	t.Helper()
	select {
	case start := <-c.StreamStart:
		return start
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for stream/start")
	}
	return protocol.StreamStart{}
}

func playTone(t *testing.T, srv *Server, frames int, provider *releaseCounter) {
	t.Helper()
	buf := audio.NewBuffer(frames * 2)
	buf.SetFormat(48000, 2)
	for i := 0; i < frames*2; i++ {
		buf.Append(float32(i%480)/480 - 0.5)
	}
	if err := srv.Output().Play(buf, provider); err != nil {
		t.Fatalf("play failed: %v", err)
	}
}

func TestHandshakeNegotiatesFormat(t *testing.T) {
	tests := []struct {
		name      string
		formats   []protocol.AudioFormat
		wantCodec string
		wantDepth int
	}{
		{
			name:      "opus preferred",
			formats:   protocol.DefaultFormats(),
			wantCodec: "opus",
			wantDepth: 16,
		},
		{
			name:      "pcm 24-bit",
			formats:   []protocol.AudioFormat{{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 24}},
			wantCodec: "pcm",
			wantDepth: 24,
		},
		{
			name:      "nothing matches",
			formats:   []protocol.AudioFormat{{Codec: "flac", SampleRate: 96000, Channels: 2, BitDepth: 24}},
			wantCodec: "pcm",
			wantDepth: 16,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, addr := startServer(t)
			c := connect(t, addr, "listener", tt.formats...)

			if c.Server().ServerID != srv.ID() {
				t.Errorf("expected server id %s, got %s", srv.ID(), c.Server().ServerID)
			}

			start := waitStreamStart(t, c)
			if start.Format.Codec != tt.wantCodec || start.Format.BitDepth != tt.wantDepth {
				t.Errorf("expected %s/%d, got %s/%d", tt.wantCodec, tt.wantDepth, start.Format.Codec, start.Format.BitDepth)
			}
			if start.Format.SampleRate != DefaultSampleRate || start.Format.Channels != DefaultChannels {
				t.Errorf("expected %dHz %dch, got %dHz %dch", DefaultSampleRate, DefaultChannels,
					start.Format.SampleRate, start.Format.Channels)
			}
		})
	}
}

func TestClientsListsListeners(t *testing.T) {
	srv, addr := startServer(t)
	connect(t, addr, "kitchen")
	connect(t, addr, "office")

	if !audiotest.WaitFor(waitTimeout, func() bool { return len(srv.Clients()) == 2 }) {
		t.Fatalf("expected 2 clients, got %d", len(srv.Clients()))
	}

	names := map[string]bool{}
	for _, c := range srv.Clients() {
		names[c.Name] = true
		if c.State != "synchronized" {
			t.Errorf("expected state synchronized, got %s", c.State)
		}
	}
	if !names["kitchen"] || !names["office"] {
		t.Errorf("expected kitchen and office, got %v", names)
	}
}

func TestDuplicateClientRejected(t *testing.T) {
	srv, addr := startServer(t)
	first := protocol.NewClient(protocol.Config{ServerAddr: addr, ClientID: "same", Name: "a"})
	if err := first.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer first.Close()

	second := protocol.NewClient(protocol.Config{ServerAddr: addr, ClientID: "same", Name: "b"})
	if err := second.Connect(context.Background()); err == nil {
		second.Close()
		t.Fatal("expected duplicate client to be rejected")
	}

	if got := len(srv.Clients()); got != 1 {
		t.Errorf("expected 1 client, got %d", got)
	}
}

func TestPCMChunksCarryAudio(t *testing.T) {
	srv, addr := startServer(t)
	c := connect(t, addr, "pcm", protocol.AudioFormat{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16})
	start := waitStreamStart(t, c)

	dec, err := protocol.NewPacketDecoder(start.Format)
	if err != nil {
		t.Fatalf("decoder failed: %v", err)
	}

	provider := &releaseCounter{}
	playTone(t, srv, 4800, provider)

	var last int64
	var total, loud int
	deadline := time.After(waitTimeout)
	for total < 4800*2 {
		select {
		case chunk := <-c.AudioChunks:
			if chunk.Timestamp <= last {
				t.Fatalf("expected increasing timestamps, got %d after %d", chunk.Timestamp, last)
			}
			last = chunk.Timestamp
			samples, err := dec.Decode(chunk.Data)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			total += len(samples)
			for _, s := range samples {
				if s != 0 {
					loud++
				}
			}
		case <-deadline:
			t.Fatalf("timed out after %d samples", total)
		}
	}

	if loud == 0 {
		t.Error("expected non-silent audio")
	}
	if !audiotest.WaitFor(waitTimeout, func() bool {
		provider.mu.Lock()
		defer provider.mu.Unlock()
		return provider.count == 1
	}) {
		t.Error("expected buffer to be released after playback")
	}
}

func TestOpusChunksAreStampedAhead(t *testing.T) {
	srv, addr := startServer(t)
	c := connect(t, addr, "opus")
	waitStreamStart(t, c)

	playTone(t, srv, 9600, &releaseCounter{})

	var stamps []int64
	deadline := time.After(waitTimeout)
	for len(stamps) < 5 {
		select {
		case chunk := <-c.AudioChunks:
			stamps = append(stamps, chunk.Timestamp)
		case <-deadline:
			t.Fatalf("timed out after %d chunks", len(stamps))
		}
	}

	if stamps[0] < BufferAhead.Microseconds()/2 {
		t.Errorf("expected first chunk stamped ahead of the clock, got %dµs", stamps[0])
	}
	for i := 1; i < len(stamps); i++ {
		if d := stamps[i] - stamps[i-1]; d != 20000 {
			t.Errorf("expected 20000µs between opus packets, got %d", d)
		}
	}
}

func TestStopSendsStreamClear(t *testing.T) {
	srv, addr := startServer(t)
	c := connect(t, addr, "listener")
	waitStreamStart(t, c)

	provider := &releaseCounter{}
	playTone(t, srv, 48000, provider)
	srv.Output().Stop()

	select {
	case <-c.StreamClear:
	case <-time.After(waitTimeout):
		t.Fatal("expected stream/clear after Stop")
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.count != 1 {
		t.Errorf("expected flushed buffer to be released, got %d releases", provider.count)
	}
}

func TestStateUpdates(t *testing.T) {
	srv, addr := startServer(t)
	c := connect(t, addr, "listener")
	waitStreamStart(t, c)

	// initial snapshot
	select {
	case st := <-c.ServerState:
		if st.PlaybackState != "stopped" {
			t.Errorf("expected initial state stopped, got %s", st.PlaybackState)
		}
	case <-time.After(waitTimeout):
		t.Fatal("expected initial server/state")
	}

	srv.SetTrack("file:///a.flac", "A", 3.5)
	srv.SetPlaybackState("playing")
	srv.SetPlaybackState("playing")

	var got []protocol.ServerState
	timeout := time.After(500 * time.Millisecond)
collect:
	for {
		select {
		case st := <-c.ServerState:
			got = append(got, st)
		case <-timeout:
			break collect
		}
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 state updates, got %d", len(got))
	}
	last := got[1]
	if last.URI != "file:///a.flac" || last.Duration != 3500 || last.PlaybackState != "playing" {
		t.Errorf("unexpected state: %+v", last)
	}
	if last.Title == nil || *last.Title != "A" {
		t.Errorf("expected title A, got %v", last.Title)
	}
}

func TestTimeSync(t *testing.T) {
	_, addr := startServer(t)
	c := connect(t, addr, "listener")

	if err := c.SendTimeSync(42); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case resp := <-c.TimeSyncResp:
		if resp.ClientTransmitted != 42 {
			t.Errorf("expected echoed 42, got %d", resp.ClientTransmitted)
		}
		if resp.ServerTransmitted < resp.ServerReceived {
			t.Errorf("expected transmit after receive, got %d < %d", resp.ServerTransmitted, resp.ServerReceived)
		}
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for server/time")
	}
}

func TestEncoderFallback(t *testing.T) {
	tests := []struct {
		name      string
		channels  int
		format    audio.Format
		wantCodec string
		wantErr   bool
	}{
		{"opus", 0, audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2}, "opus", false},
		{"unsupported codec", 0, audio.Format{Codec: "flac", SampleRate: 48000, Channels: 2}, "pcm", false},
		{"bad opus rate", 0, audio.Format{Codec: "opus", SampleRate: 44100, Channels: 2}, "pcm", false},
		{"fallback impossible", -1, audio.Format{Codec: "flac", SampleRate: 48000, Channels: 2}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(Config{Channels: tt.channels})
			defer srv.Close()

			enc, err := srv.encoderFor(tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got encoder %s", enc.Format())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer enc.Close()
			if got := enc.Format().Codec; got != tt.wantCodec {
				t.Errorf("expected codec %s, got %s", tt.wantCodec, got)
			}
			if got := enc.Format().SampleRate; got != DefaultSampleRate {
				t.Errorf("expected %d Hz, got %d", DefaultSampleRate, got)
			}
		})
	}
}
