// ABOUTME: Reusable PCM sample container passed between stream, player and output
// ABOUTME: Holds interleaved float32 samples plus format and a position tag
package audio

// Buffer holds interleaved float32 PCM samples.
//
// A Buffer is owned by exactly one component at a time and carries no lock;
// ownership moves by explicit handoff (stream -> player -> output -> stream).
type Buffer struct {
	samples    []float32
	count      int
	channels   int
	sampleRate int
	position   float64
}

// NewBuffer allocates a buffer able to hold capacity samples without growing
func NewBuffer(capacity int) *Buffer {
	return &Buffer{samples: make([]float32, capacity)}
}

// Samples returns the valid samples. The slice aliases the buffer's storage.
func (b *Buffer) Samples() []float32 {
	return b.samples[:b.count]
}

// SampleCount returns the number of valid samples across all channels
func (b *Buffer) SampleCount() int {
	return b.count
}

// Capacity returns the number of samples the buffer holds before growing
func (b *Buffer) Capacity() int {
	return len(b.samples)
}

// Channels returns the channel count
func (b *Buffer) Channels() int {
	return b.channels
}

// SampleRate returns the sample rate in Hz
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}

// Position returns the playback position of the first sample in seconds
func (b *Buffer) Position() float64 {
	return b.position
}

// SetPosition tags the buffer with the position of its first sample
func (b *Buffer) SetPosition(seconds float64) {
	b.position = seconds
}

// SetFormat sets the sample rate and channel count
func (b *Buffer) SetFormat(sampleRate, channels int) {
	b.sampleRate = sampleRate
	b.channels = channels
}

// CopyFormat takes sample rate, channel count and position from src
func (b *Buffer) CopyFormat(src *Buffer) {
	b.sampleRate = src.sampleRate
	b.channels = src.channels
	b.position = src.position
}

// Frames returns the number of sample frames (samples per channel)
func (b *Buffer) Frames() int {
	if b.channels == 0 {
		return 0
	}
	return b.count / b.channels
}

// Duration returns the buffer length in seconds
func (b *Buffer) Duration() float64 {
	if b.sampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.sampleRate)
}

// Resize sets the number of valid samples, growing storage when needed, and
// returns the resized sample slice for the caller to fill
func (b *Buffer) Resize(count int) []float32 {
	if count > len(b.samples) {
		grown := make([]float32, count)
		copy(grown, b.samples[:b.count])
		b.samples = grown
	}
	b.count = count
	return b.samples[:count]
}

// Copy overwrites this buffer with count samples of src starting at offset
// and resets format and position from src. Samples past the copied range are
// not reachable afterwards.
func (b *Buffer) Copy(src *Buffer, offset, count int) {
	if offset < 0 {
		offset = 0
	}
	if offset+count > src.count {
		count = src.count - offset
	}
	if count < 0 {
		count = 0
	}
	copy(b.Resize(count), src.samples[offset:offset+count])
	b.CopyFormat(src)
}

// Append adds samples after the current contents
func (b *Buffer) Append(samples ...float32) {
	start := b.count
	copy(b.Resize(start + len(samples))[start:], samples)
}

// Reset empties the buffer while keeping its storage
func (b *Buffer) Reset() {
	b.count = 0
	b.position = 0
}
