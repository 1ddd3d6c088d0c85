// ABOUTME: Per-listener connection handling for the broadcast server
// ABOUTME: Runs the handshake, the writer goroutine and incoming message dispatch
package broadcast

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-engine/pkg/protocol"
)

// client is a connected listener
type client struct {
	id   string
	name string
	conn *websocket.Conn

	mu            sync.Mutex
	state         string
	volume        int
	muted         bool
	format        audio.Format
	encoder       encode.Encoder
	nextTimestamp int64

	send chan interface{}
	done chan struct{}
}

// enqueue hands a message to the writer, false when the queue is full or
// the client is gone
func (c *client) enqueue(msg interface{}) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// packetMicros is the playback duration of one encoded packet
func (c *client) packetMicros(size, sampleRate, channels int) int64 {
	switch c.format.Codec {
	case "opus":
		return int64(time.Second/time.Microsecond) / encode.OpusFrameDivisor
	default:
		frames := size / (c.format.BitDepth / 8) / channels
		return int64(frames) * 1_000_000 / int64(sampleRate)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	log.Debug().Str("remote", r.RemoteAddr).Msg("new websocket connection")
	s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(writeDeadline))
	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Debug().Err(err).Msg("error reading hello")
		return
	}
	conn.SetReadDeadline(time.Time{})

	env, err := protocol.ParseEnvelope(data)
	if err != nil || env.Type != protocol.TypeClientHello {
		log.Warn().Err(err).Str("type", env.Type).Msg("expected client/hello")
		return
	}

	var hello protocol.ClientHello
	if err := env.Decode(&hello); err != nil {
		log.Warn().Err(err).Msg("bad client/hello")
		return
	}
	if hello.ClientID == "" || hello.Name == "" {
		log.Warn().Msg("client hello missing required fields")
		return
	}

	c := &client{
		id:     hello.ClientID,
		name:   hello.Name,
		conn:   conn,
		state:  "synchronized",
		volume: 100,
		send:   make(chan interface{}, sendQueueSize),
		done:   make(chan struct{}),
	}

	s.clientsMu.Lock()
	if _, exists := s.clients[c.id]; exists {
		s.clientsMu.Unlock()
		log.Warn().Str("client_id", c.id).Msg("client already connected, rejecting duplicate")
		return
	}
	s.clients[c.id] = c
	s.clientsMu.Unlock()

	log.Info().Str("client", c.name).Str("client_id", c.id).Msg("client connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.clientWriter(c)
	}()
	defer func() {
		s.removeClient(c)
		wg.Wait()
	}()

	c.enqueue(protocol.Message{
		Type: protocol.TypeServerHello,
		Payload: protocol.ServerHello{
			ServerID: s.serverID,
			Name:     s.config.Name,
			Version:  protocol.ProtocolVersion,
		},
	})
	s.startStream(c, hello.SupportedFormats)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", c.name).Msg("websocket error")
			}
			return
		}
		s.handleClientMessage(c, data)
	}
}

// encoderFor creates an encoder for format, falling back to 16-bit PCM at
// the broadcast's rate
func (s *Server) encoderFor(format audio.Format) (encode.Encoder, error) {
	enc, err := encode.New(format)
	if err == nil {
		return enc, nil
	}
	log.Warn().Err(err).Str("codec", format.Codec).Msg("encoder failed, falling back to pcm")

	fallback := audio.Format{Codec: "pcm", SampleRate: s.config.SampleRate, Channels: s.config.Channels, BitDepth: 16}
	enc, err = encode.NewPCM(fallback)
	if err != nil {
		return nil, fmt.Errorf("pcm fallback: %w", err)
	}
	return enc, nil
}

// startStream negotiates the codec and announces the stream
func (s *Server) startStream(c *client, supported []protocol.AudioFormat) {
	enc, err := s.encoderFor(s.negotiateFormat(supported))
	if err != nil {
		log.Error().Err(err).Str("client", c.name).Msg("no usable encoder, not streaming")
		return
	}

	c.mu.Lock()
	c.format = enc.Format()
	c.encoder = enc
	c.mu.Unlock()

	log.Info().Str("client", c.name).Str("format", c.format.String()).Msg("stream started")

	c.enqueue(protocol.Message{
		Type:    protocol.TypeStreamStart,
		Payload: protocol.StreamStart{Format: protocol.FromFormat(c.format)},
	})
	c.enqueue(protocol.Message{Type: protocol.TypeServerState, Payload: s.snapshotState()})
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c.id)
	s.clientsMu.Unlock()

	close(c.done)

	c.mu.Lock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	c.mu.Unlock()

	log.Info().Str("client", c.name).Msg("client disconnected")
}

// clientWriter owns all writes to the connection
func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			var err error
			switch v := msg.(type) {
			case []byte:
				err = c.conn.WriteMessage(websocket.BinaryMessage, v)
			default:
				var data []byte
				data, err = json.Marshal(v)
				if err == nil {
					err = c.conn.WriteMessage(websocket.TextMessage, data)
				}
			}
			if err != nil {
				log.Debug().Err(err).Str("client", c.name).Msg("write failed")
				c.conn.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (s *Server) handleClientMessage(c *client, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		log.Debug().Err(err).Str("client", c.name).Msg("dropping message")
		return
	}

	switch env.Type {
	case protocol.TypeClientTime:
		received := s.clockMicros()
		var t protocol.ClientTime
		if env.Decode(&t) != nil {
			return
		}
		c.enqueue(protocol.Message{
			Type: protocol.TypeServerTime,
			Payload: protocol.ServerTime{
				ClientTransmitted: t.ClientTransmitted,
				ServerReceived:    received,
				ServerTransmitted: s.clockMicros(),
			},
		})

	case protocol.TypeClientState:
		var st protocol.ClientState
		if env.Decode(&st) != nil {
			return
		}
		c.mu.Lock()
		c.state = st.State
		c.volume = st.Volume
		c.muted = st.Muted
		c.mu.Unlock()

	case protocol.TypeClientGoodbye:
		var bye protocol.ClientGoodbye
		env.Decode(&bye)
		log.Info().Str("client", c.name).Str("reason", bye.Reason).Msg("client goodbye")

	default:
		log.Debug().Str("type", env.Type).Msg("unknown message type")
	}
}
