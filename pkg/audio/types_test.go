// ABOUTME: Tests for audio types
// ABOUTME: Tests sample conversion functions
package audio

import "testing"

func TestFloatToInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    float32
		expected int16
	}{
		{"zero", 0, 0},
		{"full scale", 1, 32767},
		{"negative full scale", -1, -32767},
		{"half", 0.5, 16383},
		{"clipped high", 1.5, 32767},
		{"clipped low", -2, -32767},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FloatToInt16(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestInt16ToFloat(t *testing.T) {
	if got := Int16ToFloat(-32768); got != -1 {
		t.Errorf("expected -1, got %v", got)
	}
	if got := Int16ToFloat(16384); got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
}

func TestIntToFloat(t *testing.T) {
	tests := []struct {
		name     string
		sample   int32
		bitDepth int
		expected float32
	}{
		{"16-bit half", 16384, 16, 0.5},
		{"24-bit min", Min24Bit, 24, -1},
		{"8-bit quarter", 32, 8, 0.25},
		{"invalid depth", 100, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IntToFloat(tt.sample, tt.bitDepth)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestFloatToInt24(t *testing.T) {
	if got := FloatToInt24(1); got != Max24Bit {
		t.Errorf("expected %d, got %d", Max24Bit, got)
	}
	if got := FloatToInt24(-3); got != -Max24Bit {
		t.Errorf("expected %d, got %d", -Max24Bit, got)
	}
}

func TestSampleTo24Bit(t *testing.T) {
	tests := []struct {
		name     string
		input    int32
		expected [3]byte
	}{
		{"zero", 0, [3]byte{0, 0, 0}},
		{"positive", 0x123456, [3]byte{0x56, 0x34, 0x12}},
		{"negative", -256, [3]byte{0x00, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleTo24Bit(tt.input)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
			if back := SampleFrom24Bit(result); back != tt.input {
				t.Errorf("round trip: expected %d, got %d", tt.input, back)
			}
		})
	}
}

func TestFormatString(t *testing.T) {
	f := Format{Codec: "flac", SampleRate: 96000, Channels: 2, BitDepth: 24}
	if got := f.String(); got != "flac 96000Hz 2ch 24-bit" {
		t.Errorf("unexpected format string %q", got)
	}
}
