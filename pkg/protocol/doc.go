// ABOUTME: Resonate broadcast wire protocol package
// ABOUTME: Defines protocol messages, binary chunk framing and the WebSocket client
// Package protocol implements the wire protocol spoken between a broadcast
// server and its listeners.
//
// Control messages are JSON envelopes sent as WebSocket text frames. Audio
// travels in binary frames: one type byte, a big-endian int64 playback
// timestamp in server-clock microseconds, then one encoded packet.
//
// Example:
//
//	client := protocol.NewClient(protocol.Config{ServerAddr: "localhost:8927", Name: "kitchen"})
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	for chunk := range client.AudioChunks {
//		samples, _ := decoder.Decode(chunk.Data)
//	}
package protocol
