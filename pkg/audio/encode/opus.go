// ABOUTME: Opus audio encoder
// ABOUTME: Buffers 16-bit PCM in a ring until a 20ms frame is ready, then encodes it
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/smallnest/ringbuffer"
	"gopkg.in/hraban/opus.v2"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// OpusFrameDivisor gives the frame size: sampleRate / 50 = 20ms
const OpusFrameDivisor = 50

// maxOpusPacket is the largest packet libopus produces
const maxOpusPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder   *opus.Encoder
	format    audio.Format
	frameSize int // samples per channel per frame
	pending   *ringbuffer.RingBuffer
	frame     []byte
	pcm       []int16
	scratch   []byte
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format) (*OpusEncoder, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	// 64 kbps per channel
	if err := encoder.SetBitrate(64000 * format.Channels); err != nil {
		log.Warn().Err(err).Msg("failed to set opus bitrate")
	}

	frameSize := format.SampleRate / OpusFrameDivisor
	frameBytes := frameSize * format.Channels * 2
	format.BitDepth = 16

	return &OpusEncoder{
		encoder:   encoder,
		format:    format,
		frameSize: frameSize,
		// room for a few frames of jitter between pulls
		pending: ringbuffer.New(frameBytes * 8),
		frame:   make([]byte, frameBytes),
		pcm:     make([]int16, frameSize*format.Channels),
		scratch: make([]byte, maxOpusPacket),
	}, nil
}

// FrameSize returns the samples per channel in one packet
func (e *OpusEncoder) FrameSize() int { return e.frameSize }

// Encode buffers samples and encodes every complete frame
func (e *OpusEncoder) Encode(samples []float32) ([][]byte, error) {
	raw := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(audio.FloatToInt16(sample)))
	}

	var packets [][]byte
	for len(raw) > 0 {
		n, err := e.pending.Write(raw)
		if err != nil && n == 0 && e.pending.Length() < len(e.frame) {
			return packets, fmt.Errorf("opus frame buffer: %w", err)
		}
		raw = raw[n:]

		for e.pending.Length() >= len(e.frame) {
			if _, err := e.pending.Read(e.frame); err != nil {
				return packets, fmt.Errorf("opus frame buffer: %w", err)
			}
			for i := range e.pcm {
				e.pcm[i] = int16(binary.LittleEndian.Uint16(e.frame[i*2:]))
			}

			n, err := e.encoder.Encode(e.pcm, e.scratch)
			if err != nil {
				return packets, fmt.Errorf("opus encode failed: %w", err)
			}
			packets = append(packets, append([]byte(nil), e.scratch[:n]...))
		}
	}
	return packets, nil
}

// Buffered returns the samples waiting for a complete frame
func (e *OpusEncoder) Buffered() int {
	return e.pending.Length() / 2
}

// Format describes the packets produced
func (e *OpusEncoder) Format() audio.Format { return e.format }

// Close drops buffered samples
func (e *OpusEncoder) Close() error {
	e.pending.Reset()
	return nil
}
