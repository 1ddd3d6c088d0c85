// ABOUTME: Encoder interface definition and codec dispatch
// ABOUTME: Common interface for all audio encoders
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// Encoder encodes interleaved float32 samples into packets
type Encoder interface {
	// Encode consumes samples and returns every packet that became complete
	Encode(samples []float32) ([][]byte, error)

	// Format describes the packets produced
	Format() audio.Format

	// Close releases encoder resources
	Close() error
}

// New creates an encoder for format.Codec
func New(format audio.Format) (Encoder, error) {
	switch format.Codec {
	case "pcm":
		enc, err := NewPCM(format)
		if err != nil {
			return nil, err
		}
		return enc, nil
	case "opus":
		enc, err := NewOpus(format)
		if err != nil {
			return nil, err
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("%w: encoder for %q", audio.ErrUnsupportedFormat, format.Codec)
	}
}
