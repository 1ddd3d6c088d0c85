// ABOUTME: WebSocket client for the broadcast protocol
// ABOUTME: Handles connection, handshake, and message routing to channels
package protocol

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// DefaultPath is the WebSocket endpoint served by broadcast servers
const DefaultPath = "/resonate"

const handshakeTimeout = 5 * time.Second

// Config holds client configuration
type Config struct {
	// ServerAddr is host:port of the broadcast server
	ServerAddr string

	// Path overrides the endpoint (default: /resonate)
	Path string

	// ClientID identifies this listener (default: random uuid)
	ClientID string

	// Name is shown in the server's client list
	Name string

	// SupportedFormats in order of preference (default: opus then pcm at 48kHz stereo)
	SupportedFormats []AudioFormat

	// BufferCapacity in bytes advertised to the server
	BufferCapacity int
}

// Client is a broadcast listener connection
type Client struct {
	config Config
	conn   *websocket.Conn
	mu     sync.RWMutex
	writes sync.Mutex

	// Message channels
	AudioChunks  chan AudioChunk
	TimeSyncResp chan ServerTime
	StreamStart  chan StreamStart
	StreamClear  chan StreamClear
	StreamEnd    chan StreamEnd
	ServerState  chan ServerState

	server    ServerHello
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// DefaultFormats lists what a listener can decode
func DefaultFormats() []AudioFormat {
	return []AudioFormat{
		{Codec: "opus", Channels: 2, SampleRate: 48000, BitDepth: 16},
		{Codec: "pcm", Channels: 2, SampleRate: 48000, BitDepth: 16},
	}
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if config.Name == "" {
		config.Name = "Resonate Listener"
	}
	if len(config.SupportedFormats) == 0 {
		config.SupportedFormats = DefaultFormats()
	}
	if config.BufferCapacity == 0 {
		config.BufferCapacity = 1 << 20
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:       config,
		AudioChunks:  make(chan AudioChunk, 100),
		TimeSyncResp: make(chan ServerTime, 10),
		StreamStart:  make(chan StreamStart, 1),
		StreamClear:  make(chan StreamClear, 10),
		StreamEnd:    make(chan StreamEnd, 1),
		ServerState:  make(chan ServerState, 10),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Connect dials the server and performs the handshake
func (c *Client) Connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	log.Info().Str("url", u.String()).Msg("connecting")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return nil
}

func (c *Client) handshake() error {
	hello := ClientHello{
		ClientID:         c.config.ClientID,
		Name:             c.config.Name,
		Version:          ProtocolVersion,
		SupportedFormats: c.config.SupportedFormats,
		BufferCapacity:   c.config.BufferCapacity,
	}
	if err := c.send(TypeClientHello, hello); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	env, err := ParseEnvelope(data)
	if err != nil {
		return err
	}
	if env.Type != TypeServerHello {
		return fmt.Errorf("expected server/hello, got %s", env.Type)
	}

	var server ServerHello
	if err := env.Decode(&server); err != nil {
		return err
	}

	c.mu.Lock()
	c.server = server
	c.mu.Unlock()

	log.Info().Str("server", server.Name).Str("server_id", server.ServerID).Msg("handshake complete")

	return c.SendState(ClientState{State: "synchronized", Volume: 100})
}

// Server returns the server/hello received during the handshake
func (c *Client) Server() ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

func (c *Client) send(msgType string, payload interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return fmt.Errorf("not connected")
	}

	c.writes.Lock()
	defer c.writes.Unlock()
	return c.conn.WriteJSON(Message{Type: msgType, Payload: payload})
}

func (c *Client) readMessages() {
	defer c.Close()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				log.Debug().Err(err).Msg("read error")
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleBinaryMessage(data)
		case websocket.TextMessage:
			c.handleJSONMessage(data)
		}
	}
}

func (c *Client) handleBinaryMessage(data []byte) {
	chunk, err := DecodeChunk(data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping binary message")
		return
	}

	select {
	case c.AudioChunks <- chunk:
	case <-c.ctx.Done():
	}
}

func (c *Client) handleJSONMessage(data []byte) {
	env, err := ParseEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping message")
		return
	}

	log.Debug().Str("type", env.Type).Msg("received message")

	switch env.Type {
	case TypeServerTime:
		var msg ServerTime
		if env.Decode(&msg) == nil {
			deliver(c.ctx, c.TimeSyncResp, msg)
		}
	case TypeStreamStart:
		var msg StreamStart
		if err := env.Decode(&msg); err != nil {
			log.Warn().Err(err).Msg("bad stream/start")
			return
		}
		deliver(c.ctx, c.StreamStart, msg)
	case TypeStreamClear:
		deliver(c.ctx, c.StreamClear, StreamClear{})
	case TypeStreamEnd:
		deliver(c.ctx, c.StreamEnd, StreamEnd{})
	case TypeServerState:
		var msg ServerState
		if env.Decode(&msg) != nil {
			return
		}
		select {
		case c.ServerState <- msg:
		case <-time.After(100 * time.Millisecond):
			log.Debug().Msg("server state channel full, dropping message")
		}
	default:
		log.Debug().Str("type", env.Type).Msg("unknown message type")
	}
}

func deliver[T any](ctx context.Context, ch chan T, msg T) {
	select {
	case ch <- msg:
	case <-ctx.Done():
	}
}

// SendState sends a client/state message
func (c *Client) SendState(state ClientState) error {
	return c.send(TypeClientState, state)
}

// SendGoodbye sends a client/goodbye message before disconnecting
func (c *Client) SendGoodbye(reason string) error {
	return c.send(TypeClientGoodbye, ClientGoodbye{Reason: reason})
}

// SendTimeSync sends a client/time message
func (c *Client) SendTimeSync(t1 int64) error {
	return c.send(TypeClientTime, ClientTime{ClientTransmitted: t1})
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		log.Debug().Msg("connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
