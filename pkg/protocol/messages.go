// ABOUTME: Broadcast protocol message type definitions
// ABOUTME: Defines the JSON envelope and payload structs exchanged with listeners
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// ProtocolVersion is the protocol version spoken by this package
const ProtocolVersion = 1

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeClientState   = "client/state"
	TypeClientTime    = "client/time"
	TypeClientGoodbye = "client/goodbye"
	TypeServerHello   = "server/hello"
	TypeServerTime    = "server/time"
	TypeServerState   = "server/state"
	TypeStreamStart   = "stream/start"
	TypeStreamClear   = "stream/clear"
	TypeStreamEnd     = "stream/end"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Envelope is a received message whose payload has not been decoded yet
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ParseEnvelope decodes the outer message
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid message: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("invalid message: missing type")
	}
	return env, nil
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// ClientHello is sent by listeners to initiate the handshake
type ClientHello struct {
	ClientID         string        `json:"client_id"`
	Name             string        `json:"name"`
	Version          int           `json:"version"`
	SupportedFormats []AudioFormat `json:"supported_formats"`
	BufferCapacity   int           `json:"buffer_capacity,omitempty"` // bytes
}

// AudioFormat describes an audio format on the wire
type AudioFormat struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
}

// ToFormat converts to the engine's format type
func (f AudioFormat) ToFormat() audio.Format {
	return audio.Format{Codec: f.Codec, SampleRate: f.SampleRate, Channels: f.Channels, BitDepth: f.BitDepth}
}

// FromFormat converts from the engine's format type
func FromFormat(f audio.Format) AudioFormat {
	return AudioFormat{Codec: f.Codec, SampleRate: f.SampleRate, Channels: f.Channels, BitDepth: f.BitDepth}
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ClientState reports a listener's state
type ClientState struct {
	State  string `json:"state"` // "synchronized" or "error"
	Volume int    `json:"volume"`
	Muted  bool   `json:"muted"`
}

// StreamStart announces the format of the binary chunks that follow
type StreamStart struct {
	Format AudioFormat `json:"format"`
}

// StreamClear tells listeners to drop buffered audio
type StreamClear struct{}

// StreamEnd tells listeners no more audio follows
type StreamEnd struct{}

// ServerState carries what the engine is playing
type ServerState struct {
	Timestamp     int64   `json:"timestamp"`      // server clock µs when valid
	PlaybackState string  `json:"playback_state"` // "playing", "paused", "stopped"
	URI           string  `json:"uri,omitempty"`
	Title         *string `json:"title,omitempty"`
	Position      int     `json:"position"` // ms
	Duration      int     `json:"duration"` // ms, 0 = unknown
}

// ClientGoodbye is sent before graceful disconnect
type ClientGoodbye struct {
	Reason string `json:"reason"` // "shutdown", "user_request"
}

// ClientTime is sent for clock synchronization
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"` // µs
}

// ServerTime is the response to client/time
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
	ServerReceived    int64 `json:"server_received"`
	ServerTransmitted int64 `json:"server_transmitted"`
}
