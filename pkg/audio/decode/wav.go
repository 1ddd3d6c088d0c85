// ABOUTME: WAV audio decoder
// ABOUTME: Decodes integer PCM WAV via go-audio/wav into float32 buffers
package decode

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/source"
)

const (
	wavBlockFrames = 4096

	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAVFactory creates WAV decoders
type WAVFactory struct{}

// CanHandle claims wav
func (WAVFactory) CanHandle(contentType string) bool {
	return matchType(contentType, "wav")
}

// CreateDecoder creates a new WAV decoder
func (WAVFactory) CreateDecoder() Decoder {
	return &WAVDecoder{}
}

// WAVDecoder decodes 16, 24 and 32-bit integer WAV
type WAVDecoder struct {
	decoder    *wav.Decoder
	src        source.DataSource
	ints       *goaudio.IntBuffer
	sampleRate int
	channels   int
	bitDepth   int
	blockAlign int64
	dataStart  int64
	frames     int64
	frame      int64
}

// fullReader never returns a short read mid-stream so samples stay aligned
type fullReader struct {
	io.ReadSeeker
}

func (r fullReader) Read(p []byte) (int, error) {
	n, err := io.ReadFull(r.ReadSeeker, p)
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return n, err
}

// Open validates the header and positions the reader at the PCM data
func (d *WAVDecoder) Open(src source.DataSource) error {
	decoder := wav.NewDecoder(fullReader{src})
	if !decoder.IsValidFile() {
		return fmt.Errorf("invalid wav file")
	}
	if f := decoder.WavAudioFormat; f != wavFormatPCM && f != wavFormatExtensible {
		return fmt.Errorf("unsupported wav encoding: %d", f)
	}
	if err := decoder.FwdToPCM(); err != nil {
		return fmt.Errorf("failed to find wav data: %w", err)
	}

	d.bitDepth = int(decoder.BitDepth)
	switch d.bitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 32)", d.bitDepth)
	}

	start, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("failed to locate wav data: %w", err)
	}

	d.decoder = decoder
	d.src = src
	d.sampleRate = int(decoder.SampleRate)
	d.channels = int(decoder.NumChans)
	d.blockAlign = int64(d.channels * d.bitDepth / 8)
	d.dataStart = start
	if d.blockAlign > 0 {
		d.frames = int64(decoder.PCMSize) / d.blockAlign
	}
	d.ints = &goaudio.IntBuffer{
		Data:           make([]int, wavBlockFrames*d.channels),
		Format:         &goaudio.Format{NumChannels: d.channels, SampleRate: d.sampleRate},
		SourceBitDepth: d.bitDepth,
	}
	return nil
}

// GetBuffer decodes the next block
func (d *WAVDecoder) GetBuffer(buf *audio.Buffer) error {
	n, err := d.decoder.PCMBuffer(d.ints)
	n -= n % d.channels
	// trailing chunks after the data chunk are not audio
	if d.frames > 0 {
		if left := int(d.frames-d.frame) * d.channels; n > left {
			n = max(left, 0)
		}
	}
	if n == 0 {
		if err != nil && err != io.EOF {
			return fmt.Errorf("wav decode error: %w", err)
		}
		return io.EOF
	}

	d.frame += int64(n / d.channels)
	buf.SetFormat(d.sampleRate, d.channels)
	out := buf.Resize(n)
	for i := range out {
		out[i] = audio.IntToFloat(int32(d.ints.Data[i]), d.bitDepth)
	}
	return nil
}

// SetPosition seeks by byte offset into the PCM chunk
func (d *WAVDecoder) SetPosition(seconds, totalSeconds float64) (float64, error) {
	if d.sampleRate == 0 || d.blockAlign == 0 {
		return -1, audio.ErrSeekFailed
	}
	seconds = clampSeek(seconds, totalSeconds)
	frame := int64(seconds * float64(d.sampleRate))
	if d.frames > 0 && frame > d.frames {
		frame = d.frames
	}
	if _, err := d.src.Seek(d.dataStart+frame*d.blockAlign, io.SeekStart); err != nil {
		return -1, fmt.Errorf("%w: %w", audio.ErrSeekFailed, err)
	}
	d.frame = frame
	return float64(frame) / float64(d.sampleRate), nil
}

// Duration derives the length from the data size
func (d *WAVDecoder) Duration() float64 {
	if d.frames == 0 || d.sampleRate == 0 {
		return -1
	}
	return float64(d.frames) / float64(d.sampleRate)
}

// Close releases decoder resources
func (d *WAVDecoder) Close() error {
	return nil
}
