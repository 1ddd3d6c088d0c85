// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts audio between sample rates and channel layouts
// Package resample provides sample rate and channel layout conversion.
//
// Resampler uses linear interpolation and carries the last frame of each
// chunk into the next one, so chunked input resamples without seams.
// Converter combines channel mapping with a Resampler to bring buffers of
// any format to a fixed device or mixer format.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	out := make([]float32, r.OutputSamplesNeeded(len(in)))
//	n := r.Resample(in, out)
package resample
