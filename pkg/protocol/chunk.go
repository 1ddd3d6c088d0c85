// ABOUTME: Binary audio chunk framing
// ABOUTME: Encodes and decodes the type byte plus timestamp header of audio frames
package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// ChunkHeaderSize is the binary header: 1 type byte + 8 byte timestamp
	ChunkHeaderSize = 1 + 8

	// AudioChunkMessageType is the binary message type ID for audio chunks
	AudioChunkMessageType = 4
)

// AudioChunk is a timestamped encoded audio packet
type AudioChunk struct {
	Timestamp int64 // playback time, server clock µs
	Data      []byte
}

// EncodeChunk frames an encoded packet for sending
func EncodeChunk(timestamp int64, data []byte) []byte {
	chunk := make([]byte, ChunkHeaderSize+len(data))
	chunk[0] = AudioChunkMessageType
	binary.BigEndian.PutUint64(chunk[1:ChunkHeaderSize], uint64(timestamp))
	copy(chunk[ChunkHeaderSize:], data)
	return chunk
}

// DecodeChunk parses a binary frame. Data aliases frame.
func DecodeChunk(frame []byte) (AudioChunk, error) {
	if len(frame) < ChunkHeaderSize {
		return AudioChunk{}, fmt.Errorf("binary message too short: %d bytes", len(frame))
	}
	if frame[0] != AudioChunkMessageType {
		return AudioChunk{}, fmt.Errorf("unknown binary message type: %d", frame[0])
	}
	return AudioChunk{
		Timestamp: int64(binary.BigEndian.Uint64(frame[1:ChunkHeaderSize])),
		Data:      frame[ChunkHeaderSize:],
	}, nil
}
