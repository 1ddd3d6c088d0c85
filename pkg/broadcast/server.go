// ABOUTME: Broadcast server streaming engine audio to WebSocket listeners
// ABOUTME: Handles the handshake, codec negotiation and timestamped chunk delivery
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-engine/internal/discovery"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-engine/pkg/protocol"
)

const (
	DefaultPort       = 8927
	DefaultSampleRate = 48000
	DefaultChannels   = 2

	// BufferAhead is how far ahead of the server clock chunks are stamped
	BufferAhead = 500 * time.Millisecond

	// ChunkPeriod is how often audio is pulled and sent
	ChunkPeriod = 20 * time.Millisecond

	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	sendQueueSize = 100
)

// Config configures a broadcast server
type Config struct {
	// Port to listen on (default: 8927)
	Port int

	// Name of the server for identification
	Name string

	// Path of the WebSocket endpoint (default: /resonate)
	Path string

	// SampleRate and Channels of the broadcast (default: 48kHz stereo)
	SampleRate int
	Channels   int

	// EnableMDNS enables mDNS service advertisement
	EnableMDNS bool
}

// Server is a broadcast sink
type Server struct {
	config   Config
	serverID string
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	out      *sinkOutput

	clients   map[string]*client
	clientsMu sync.RWMutex

	clockStart time.Time

	stateMu     sync.Mutex
	state       protocol.ServerState
	lastPublish time.Time

	addrMu sync.Mutex
	addr   net.Addr
}

// ClientInfo describes a connected listener
type ClientInfo struct {
	ID     string
	Name   string
	State  string
	Volume int
	Muted  bool
	Codec  string
}

// NewServer creates a broadcast server
func NewServer(config Config) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Name == "" {
		config.Name = "Resonate Engine"
	}
	if config.Path == "" {
		config.Path = protocol.DefaultPath
	}
	if config.SampleRate == 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.Channels == 0 {
		config.Channels = DefaultChannels
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// listeners are on the local network
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[string]*client),
		clockStart: time.Now(),
		state:      protocol.ServerState{PlaybackState: "stopped"},
	}

	s.out = &sinkOutput{
		Clocked: output.NewClocked(output.ClockedConfig{
			Name:       "broadcast",
			SampleRate: config.SampleRate,
			Channels:   config.Channels,
			Period:     ChunkPeriod,
			Sink:       s.broadcastAudio,
		}),
		server: s,
	}
	s.mux.HandleFunc(config.Path, s.handleWebSocket)

	return s
}

// ID returns the server id sent in server/hello
func (s *Server) ID() string { return s.serverID }

// Output returns the output that feeds the broadcast
func (s *Server) Output() output.Output { return s.out }

// Handler serves the WebSocket endpoint
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the listen address once Run is serving
func (s *Server) Addr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// Run serves listeners until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}

	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	log.Info().
		Str("name", s.config.Name).
		Str("server_id", s.serverID).
		Str("addr", ln.Addr().String()).
		Msg("broadcast server listening")

	if s.config.EnableMDNS {
		mgr := discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        ln.Addr().(*net.TCPAddr).Port,
			Path:        s.config.Path,
		})
		if err := mgr.Advertise(); err != nil {
			log.Warn().Err(err).Msg("failed to start mDNS advertisement")
		}
		defer mgr.Stop()
	}

	httpServer := &http.Server{Handler: s.mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("broadcast server shutting down")

		s.sendAll(protocol.TypeStreamEnd, protocol.StreamEnd{})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown error")
		}
		s.closeClients()
		return nil
	})

	return g.Wait()
}

// Close stops the audio clock and disconnects every listener
func (s *Server) Close() error {
	s.closeClients()
	return s.out.Clocked.Close()
}

// Clients returns information about all connected listeners
func (s *Server) Clients() []ClientInfo {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	clients := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		c.mu.Lock()
		clients = append(clients, ClientInfo{
			ID:     c.id,
			Name:   c.name,
			State:  c.state,
			Volume: c.volume,
			Muted:  c.muted,
			Codec:  c.format.Codec,
		})
		c.mu.Unlock()
	}
	return clients
}

// clockMicros returns the server clock in microseconds
func (s *Server) clockMicros() int64 {
	return time.Since(s.clockStart).Microseconds()
}

// broadcastAudio encodes one clock period for every listener
func (s *Server) broadcastAudio(samples []float32, sampleRate, channels int) {
	now := s.clockMicros()

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, c := range s.clients {
		c.mu.Lock()
		if c.encoder == nil {
			c.mu.Unlock()
			continue
		}
		packets, err := c.encoder.Encode(samples)
		if err != nil {
			c.mu.Unlock()
			log.Warn().Err(err).Str("client", c.name).Msg("encode failed")
			continue
		}

		// restamp after a stall so chunks never arrive late
		if c.nextTimestamp < now+int64(ChunkPeriod/time.Microsecond) {
			c.nextTimestamp = now + BufferAhead.Microseconds()
		}

		frames := make([][]byte, 0, len(packets))
		for _, p := range packets {
			frames = append(frames, protocol.EncodeChunk(c.nextTimestamp, p))
			c.nextTimestamp += c.packetMicros(len(p), sampleRate, channels)
		}
		c.mu.Unlock()

		for _, f := range frames {
			if !c.enqueue(f) {
				log.Debug().Str("client", c.name).Msg("send queue full, dropping chunk")
			}
		}
	}
}

// clearListeners tells every listener to drop buffered audio
func (s *Server) clearListeners() {
	s.clientsMu.RLock()
	for _, c := range s.clients {
		c.mu.Lock()
		c.nextTimestamp = 0
		c.mu.Unlock()
	}
	s.clientsMu.RUnlock()

	s.sendAll(protocol.TypeStreamClear, protocol.StreamClear{})
}

func (s *Server) sendAll(msgType string, payload interface{}) {
	msg := protocol.Message{Type: msgType, Payload: payload}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.enqueue(msg)
	}
}

func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.conn.Close()
	}
}

// negotiateFormat picks the first listener format the server can produce
func (s *Server) negotiateFormat(supported []protocol.AudioFormat) audio.Format {
	for _, f := range supported {
		if f.SampleRate != s.config.SampleRate || f.Channels != s.config.Channels {
			continue
		}
		switch f.Codec {
		case "opus":
			return audio.Format{Codec: "opus", SampleRate: f.SampleRate, Channels: f.Channels, BitDepth: 16}
		case "pcm":
			if f.BitDepth == 16 || f.BitDepth == 24 {
				return f.ToFormat()
			}
		}
	}
	return audio.Format{Codec: "pcm", SampleRate: s.config.SampleRate, Channels: s.config.Channels, BitDepth: 16}
}

// sinkOutput is the broadcast's output: a clocked output that also tells
// listeners to drop audio when the engine flushes
type sinkOutput struct {
	*output.Clocked
	server *Server
}

func (o *sinkOutput) Stop() {
	o.Clocked.Stop()
	o.server.clearListeners()
}

func (o *sinkOutput) Close() error {
	return o.server.Close()
}

var _ output.Output = (*sinkOutput)(nil)
