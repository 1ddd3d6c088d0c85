// ABOUTME: Decoders for received audio packets
// ABOUTME: Turns opus or pcm chunk payloads back into normalised float32 samples
package protocol

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// PacketDecoder converts one chunk payload into interleaved samples
type PacketDecoder interface {
	Decode(packet []byte) ([]float32, error)
}

// NewPacketDecoder returns a decoder for the announced stream format
func NewPacketDecoder(format AudioFormat) (PacketDecoder, error) {
	switch format.Codec {
	case "pcm":
		if format.BitDepth != 16 && format.BitDepth != 24 {
			return nil, fmt.Errorf("%w: pcm bit depth %d", audio.ErrUnsupportedFormat, format.BitDepth)
		}
		return pcmDecoder{bitDepth: format.BitDepth}, nil
	case "opus":
		dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
		if err != nil {
			return nil, fmt.Errorf("failed to create opus decoder: %w", err)
		}
		// 120ms is the longest opus frame
		maxFrame := format.SampleRate * 120 / 1000
		return &opusDecoder{
			decoder:  dec,
			channels: format.Channels,
			pcm:      make([]int16, maxFrame*format.Channels),
		}, nil
	default:
		return nil, fmt.Errorf("%w: codec %q", audio.ErrUnsupportedFormat, format.Codec)
	}
}

type pcmDecoder struct {
	bitDepth int
}

func (d pcmDecoder) Decode(packet []byte) ([]float32, error) {
	width := d.bitDepth / 8
	if len(packet)%width != 0 {
		return nil, fmt.Errorf("%w: pcm packet of %d bytes", audio.ErrDecode, len(packet))
	}

	samples := make([]float32, len(packet)/width)
	for i := range samples {
		if width == 3 {
			v := audio.SampleFrom24Bit([3]byte{packet[i*3], packet[i*3+1], packet[i*3+2]})
			samples[i] = audio.IntToFloat(v, 24)
		} else {
			samples[i] = audio.Int16ToFloat(int16(binary.LittleEndian.Uint16(packet[i*2:])))
		}
	}
	return samples, nil
}

type opusDecoder struct {
	decoder  *opus.Decoder
	channels int
	pcm      []int16
}

func (d *opusDecoder) Decode(packet []byte) ([]float32, error) {
	n, err := d.decoder.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("%w: opus: %w", audio.ErrDecode, err)
	}

	samples := make([]float32, n*d.channels)
	for i := range samples {
		samples[i] = audio.Int16ToFloat(d.pcm[i])
	}
	return samples, nil
}
