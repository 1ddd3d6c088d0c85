// ABOUTME: Entry point for the resonate-engine player
// ABOUTME: Parses CLI flags, assembles the engine and plays the given tracks
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-engine/internal/app"
	"github.com/Resonate-Protocol/resonate-engine/internal/config"
	"github.com/Resonate-Protocol/resonate-engine/internal/ui"
	"github.com/Resonate-Protocol/resonate-engine/internal/version"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/spectrum"
	"github.com/Resonate-Protocol/resonate-engine/pkg/broadcast"
	"github.com/Resonate-Protocol/resonate-engine/pkg/resonate"
)

const broadcastOutput = "broadcast"

var (
	configPath  = flag.String("config", "resonate-engine.yaml", "Config file path")
	outputName  = flag.String("output", "", "Output backend: oto, malgo, null or broadcast")
	transport   = flag.String("transport", "", "Transport when none is stored: gapless or crossfade")
	crossfade   = flag.Duration("crossfade", 0, "Crossfade overlap")
	volume      = flag.Float64("volume", 0, "Initial volume in [0, 1]")
	logFile     = flag.String("log-file", "", "Log file path")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	port        = flag.Int("port", 0, "Broadcast port")
	name        = flag.String("name", "", "Broadcast server name")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement of the broadcast")
	repeat      = flag.Bool("repeat", false, "Repeat the playlist")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	streamLogs  = flag.Bool("stream-logs", false, "Alias for -no-tui")
	profileMode = flag.String("profile", "", "Write a profile: cpu, mem, block or mutex")
	listOutputs = flag.Bool("list-outputs", false, "List output backends and exit")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <file-or-url>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}
	if *listOutputs {
		names := append(output.NewDefaultRegistry().Names(), broadcastOutput)
		fmt.Println(strings.Join(names, "\n"))
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	useTUI := !(*noTUI || *streamLogs)

	closeLog, err := setupLogging(cfg, useTUI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if stop := startProfile(*profileMode); stop != nil {
		defer stop()
	}

	if err := run(cfg, flag.Args(), useTUI); err != nil {
		log.Error().Err(err).Msg("player failed")
		closeLog()
		os.Exit(1)
	}
}

// applyFlags overrides config values with the flags given on the command line
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.Output = *outputName
		case "transport":
			cfg.Transport = *transport
		case "crossfade":
			cfg.CrossfadeDuration = *crossfade
		case "volume":
			cfg.Volume = *volume
		case "log-file":
			cfg.LogFile = *logFile
		case "log-level":
			cfg.LogLevel = *logLevel
		case "port":
			cfg.Broadcast.Port = *port
		case "name":
			cfg.Broadcast.Name = *name
		case "no-mdns":
			cfg.Broadcast.MDNS = !*noMDNS
		}
	})
}

// setupLogging logs to the file always and to the console when the TUI is off
func setupLogging(cfg config.Config, useTUI bool) (func(), error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(level)

	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	var w io.Writer = f
	if !useTUI {
		w = zerolog.MultiLevelWriter(f, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()

	return func() { _ = f.Close() }, nil
}

func startProfile(mode string) func() {
	var opt func(*profile.Profile)
	switch mode {
	case "":
		return nil
	case "cpu":
		opt = profile.CPUProfile
	case "mem":
		opt = profile.MemProfile
	case "block":
		opt = profile.BlockProfile
	case "mutex":
		opt = profile.MutexProfile
	default:
		log.Warn().Str("mode", mode).Msg("unknown profile mode, profiling disabled")
		return nil
	}
	p := profile.Start(opt, profile.ProfilePath("."), profile.NoShutdownHook, profile.Quiet)
	return p.Stop
}

func run(cfg config.Config, tracks []string, useTUI bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state, err := config.OpenState(cfg.StateFile)
	if err != nil {
		return err
	}
	kind, _ := config.ParseTransport(cfg.Transport)

	engineCfg := resonate.Config{
		OutputName:        cfg.Output,
		Preferences:       state,
		Transport:         kind,
		PreampDB:          cfg.PreampDB,
		Limiter:           cfg.Limiter,
		SamplesPerChannel: cfg.SamplesPerChannel,
		BufferCount:       cfg.BufferCount,
		CrossfadeDuration: cfg.CrossfadeDuration,
		Volume:            cfg.Volume,
	}

	var analyzer *spectrum.Analyzer
	if useTUI {
		analyzer = spectrum.NewAnalyzer(spectrum.DefaultSize)
		engineCfg.Visualizer = analyzer
	}

	var srv *broadcast.Server
	if cfg.Output == broadcastOutput {
		srv = broadcast.NewServer(broadcast.Config{
			Port:       cfg.Broadcast.Port,
			Name:       cfg.Broadcast.Name,
			EnableMDNS: cfg.Broadcast.MDNS,
		})
		engineCfg.Output = srv.Output()
	}

	engine, err := resonate.NewEngine(engineCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn().Err(err).Msg("engine close failed")
		}
	}()

	var tui *ui.TUI
	playlist, err := app.New(app.Config{
		Tracks:    tracks,
		Transport: engine,
		Repeat:    *repeat,
		OnChange: func(s app.Status) {
			if tui != nil {
				tui.Update(s)
			}
		},
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("version", version.Version).
		Int("tracks", len(tracks)).
		Str("output", cfg.Output).
		Msg("starting player")

	g, gctx := errgroup.WithContext(ctx)

	var clients func() []broadcast.ClientInfo
	if srv != nil {
		unfollow := srv.Follow(engine)
		defer unfollow()
		clients = srv.Clients
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if useTUI {
		tui = ui.New(gctx, playlist, clients, analyzer.Bins)
		g.Go(func() error {
			defer cancel()
			return tui.Run()
		})
	}

	g.Go(func() error {
		defer cancel()
		err := playlist.Run(gctx)
		if tui != nil {
			tui.Quit()
		}
		if errors.Is(err, app.ErrEmptyPlaylist) {
			return fmt.Errorf("nothing to play: %w", err)
		}
		return err
	})

	err = g.Wait()
	log.Info().Msg("player stopped")
	return err
}
