// ABOUTME: Engine assembly for the playback library
// ABOUTME: Builds registries, DSP, output and the master transport from one Config
package resonate

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/dsp"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/source"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/stream"
	"github.com/Resonate-Protocol/resonate-engine/pkg/playback"
)

// Config holds engine configuration
type Config struct {
	// Output plays the audio. When nil, OutputName is looked up in Outputs
	// and the engine owns (and closes) the created output.
	Output output.Output

	// OutputName selects a backend from Outputs (default: "oto")
	OutputName string

	// Outputs maps backend names to constructors (default: oto, malgo, null)
	Outputs *output.Registry

	// Sources and Decoders resolve URIs (default: file + HTTP, all codecs)
	Sources  *source.Registry
	Decoders *decode.Registry

	// HTTPClient is used by the default HTTP source (default: http.DefaultClient)
	HTTPClient *http.Client

	// Preferences persists the transport type (default: in memory)
	Preferences playback.Preferences

	// Transport is used when Preferences holds no transport type yet
	Transport playback.TransportType

	// PreampDB applies a fixed gain stage; Limiter clips the result
	PreampDB float64
	Limiter  bool

	// SamplesPerChannel and BufferCount size each stream's buffer pool
	SamplesPerChannel int
	BufferCount       int

	// CrossfadeDuration is the overlap between tracks (default: 1.5s)
	CrossfadeDuration time.Duration

	// Volume is the initial volume (default: 1)
	Volume float64

	// Visualizer receives every played buffer, e.g. a spectrum.Analyzer
	Visualizer playback.Visualizer
}

// Engine is a ready-to-use MasterTransport plus the resources it owns
type Engine struct {
	*playback.MasterTransport

	config     Config
	ownsOutput bool
}

// NewEngine assembles an engine
func NewEngine(config Config) (*Engine, error) {
	if config.OutputName == "" {
		config.OutputName = "oto"
	}
	if config.Outputs == nil {
		config.Outputs = output.NewDefaultRegistry()
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Sources == nil {
		config.Sources = source.NewDefaultRegistry(config.HTTPClient)
	}
	if config.Decoders == nil {
		config.Decoders = decode.NewDefaultRegistry()
	}
	if config.Preferences == nil {
		config.Preferences = playback.NewMemoryPreferences()
	}

	e := &Engine{config: config}

	out := config.Output
	var newOutput func() output.Output
	if out == nil {
		out = config.Outputs.Select(config.OutputName)
		e.ownsOutput = true
		newOutput = func() output.Output { return config.Outputs.Select(config.OutputName) }
	}

	// seed the stored transport type on first run
	if config.Preferences.Int(playback.PrefTransportType, -1) == -1 && config.Transport != playback.TransportGapless {
		if err := config.Preferences.SetInt(playback.PrefTransportType, int(config.Transport)); err != nil {
			log.Warn().Err(err).Msg("failed to store transport type")
		}
	}

	e.MasterTransport = playback.NewMasterTransport(playback.TransportConfig{
		Player: playback.PlayerConfig{
			Sources:  config.Sources,
			Decoders: config.Decoders,
			Stream: stream.Config{
				SamplesPerChannel: config.SamplesPerChannel,
				BufferCount:       config.BufferCount,
				DSP:               buildDSP(config),
			},
			Visualizer: config.Visualizer,
		},
		Output:            out,
		NewOutput:         newOutput,
		CrossfadeDuration: config.CrossfadeDuration,
		Volume:            config.Volume,
	}, config.Preferences)

	log.Info().
		Str("output", out.Name()).
		Str("transport", e.CurrentType().String()).
		Msg("engine ready")

	return e, nil
}

func buildDSP(config Config) []dsp.DSP {
	var stages []dsp.DSP
	if config.PreampDB != 0 {
		stages = append(stages, dsp.NewPreamp(config.PreampDB))
	}
	if config.Limiter {
		stages = append(stages, dsp.Limiter{})
	}
	return stages
}

// Close stops playback and closes the output when the engine created it
func (e *Engine) Close() error {
	out := e.Output()
	err := e.MasterTransport.Close()
	if e.ownsOutput {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
