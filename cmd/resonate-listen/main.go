// ABOUTME: Entry point for the broadcast listener
// ABOUTME: Finds a resonate-engine broadcast and plays it on a local output
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/internal/discovery"
	"github.com/Resonate-Protocol/resonate-engine/internal/listen"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-engine/pkg/protocol"
)

var (
	serverAddr = flag.String("server", "", "Server address host:port (skip mDNS)")
	path       = flag.String("path", protocol.DefaultPath, "WebSocket path on the server")
	name       = flag.String("name", "", "Listener name (default: hostname-resonate-listen)")
	outputName = flag.String("output", "oto", "Output backend: oto, malgo or null")
	lead       = flag.Duration("lead", 100*time.Millisecond, "Release audio this early to cover output latency")
	volume     = flag.Float64("volume", 1, "Output volume in [0, 1]")
	wait       = flag.Duration("discover-timeout", 5*time.Second, "How long to browse for servers")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	listenerName := *name
	if listenerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		listenerName = fmt.Sprintf("%s-resonate-listen", hostname)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr, wsPath := *serverAddr, *path
	if addr == "" {
		log.Info().Dur("timeout", *wait).Msg("browsing for servers")
		servers, err := discovery.Lookup(*wait)
		if err != nil {
			log.Fatal().Err(err).Msg("discovery failed")
		}
		if len(servers) == 0 {
			log.Fatal().Msg("no server found, use -server")
		}
		addr, wsPath = servers[0].Addr(), servers[0].Path
		log.Info().Str("server", servers[0].Name).Str("addr", addr).Msg("discovered server")
	}

	out, err := output.NewDefaultRegistry().Create(*outputName)
	if err != nil {
		log.Fatal().Err(err).Msg("no such output")
	}
	defer out.Close()
	out.SetVolume(*volume)

	listener, err := listen.NewListener(listen.Config{
		ServerAddr: addr,
		Path:       wsPath,
		Name:       listenerName,
		Output:     out,
		Lead:       *lead,
		OnState: func(s protocol.ServerState) {
			ev := log.Info().Str("state", s.PlaybackState)
			if s.URI != "" {
				ev = ev.Str("uri", s.URI)
			}
			ev.Msg("server state")
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid listener config")
	}

	log.Info().Str("name", listenerName).Str("output", out.Name()).Msg("listening")
	if err := listener.Run(ctx); err != nil {
		log.Error().Err(err).Msg("listener stopped")
		os.Exit(1)
	}

	stats := listener.Stats()
	log.Info().
		Int64("received", stats.Received).
		Int64("played", stats.Played).
		Int64("dropped", stats.Dropped).
		Msg("listener stopped")
}
