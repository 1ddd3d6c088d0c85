// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for audio playback backends and the buffer completion callback
package output

import (
	"errors"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
)

// ErrBufferFull means the output cannot accept the buffer yet; retry after
// a buffer completes
var ErrBufferFull = errors.New("output buffer full")

// BufferProvider receives buffers back once an output is done with them
type BufferProvider interface {
	OnBufferProcessed(buf *audio.Buffer)
}

// Output represents an audio output device.
//
// Outputs open lazily for the format of the first buffer they receive.
// Buffers are played in the order they were accepted and each accepted
// buffer is handed back to its provider exactly once, either after it was
// played or when Stop discards it.
type Output interface {
	// Name identifies the backend
	Name() string

	// Play queues buf. Returns ErrBufferFull when the queue is full; any
	// other error is a device failure wrapping audio.ErrOutput.
	Play(buf *audio.Buffer, provider BufferProvider) error

	// Pause and Resume suspend and continue the device
	Pause()
	Resume()

	// Stop discards queued audio and releases every discarded buffer
	Stop()

	// Drain marks the end of input; queued audio keeps playing
	Drain()

	// SetVolume sets the software volume (0.0-1.0)
	SetVolume(volume float64)
	Volume() float64

	// Latency reports the seconds of audio queued ahead of the speaker
	Latency() float64

	// Close releases output resources
	Close() error
}
