// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats and sample conversion helpers
package audio

import "fmt"

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Format describes audio stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// String renders the format for logs and the TUI
func (f Format) String() string {
	return fmt.Sprintf("%s %dHz %dch %d-bit", f.Codec, f.SampleRate, f.Channels, f.BitDepth)
}

// Clamp limits a sample to the [-1, 1] range
func Clamp(sample float32) float32 {
	if sample > 1 {
		return 1
	}
	if sample < -1 {
		return -1
	}
	return sample
}

// FloatToInt16 converts a normalised sample to 16-bit PCM
func FloatToInt16(sample float32) int16 {
	return int16(Clamp(sample) * 32767)
}

// Int16ToFloat converts 16-bit PCM to a normalised sample
func Int16ToFloat(sample int16) float32 {
	return float32(sample) / 32768
}

// FloatToInt24 converts a normalised sample to 24-bit PCM held in an int32
func FloatToInt24(sample float32) int32 {
	return int32(Clamp(sample) * Max24Bit)
}

// IntToFloat converts a signed integer sample of the given bit depth to a
// normalised sample
func IntToFloat(sample int32, bitDepth int) float32 {
	if bitDepth <= 0 || bitDepth > 32 {
		return 0
	}
	return float32(float64(sample) / float64(uint64(1)<<(bitDepth-1)))
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}
