// ABOUTME: PCM audio encoder
// ABOUTME: Encodes float32 samples to 16-bit or 24-bit little-endian bytes
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	format audio.Format
}

// NewPCM creates a new PCM encoder
func NewPCM(format audio.Format) (*PCMEncoder, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("%w: pcm %d Hz, %d channels", audio.ErrUnsupportedFormat, format.SampleRate, format.Channels)
	}
	if format.BitDepth != 16 && format.BitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}
	return &PCMEncoder{format: format}, nil
}

// Encode converts samples to one PCM packet
func (e *PCMEncoder) Encode(samples []float32) ([][]byte, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	if e.format.BitDepth == 24 {
		output := make([]byte, len(samples)*3)
		for i, sample := range samples {
			b := audio.SampleTo24Bit(audio.FloatToInt24(sample))
			copy(output[i*3:], b[:])
		}
		return [][]byte{output}, nil
	}

	output := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(output[i*2:], uint16(audio.FloatToInt16(sample)))
	}
	return [][]byte{output}, nil
}

// Format describes the packets produced
func (e *PCMEncoder) Format() audio.Format { return e.format }

// Close releases resources
func (e *PCMEncoder) Close() error { return nil }
