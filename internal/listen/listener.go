// ABOUTME: Plays a network broadcast on a local output
// ABOUTME: Connects, keeps the clock in sync, decodes chunks and schedules them
package listen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-engine/pkg/protocol"
)

// ErrDisconnected is returned by Run when the server closes the connection
var ErrDisconnected = errors.New("disconnected from server")

const playRetry = 5 * time.Millisecond

// Config holds listener configuration
type Config struct {
	// ServerAddr is host:port of the broadcast server; required
	ServerAddr string

	// Path of the WebSocket endpoint (default: /resonate)
	Path string

	// Name shown on the server
	Name string

	// Output plays the received audio; required
	Output output.Output

	// Lead releases chunks this early to cover output latency (default: 100ms)
	Lead time.Duration

	// SyncInterval between clock sync requests (default: 1s)
	SyncInterval time.Duration

	// OnState is called with every server/state
	OnState func(protocol.ServerState)
}

// Listener receives a broadcast and plays it
type Listener struct {
	config    Config
	clock     *ClockSync
	scheduler *Scheduler

	mu      sync.Mutex
	format  protocol.AudioFormat
	decoder protocol.PacketDecoder
	free    []*audio.Buffer
	ctx     context.Context
}

// NewListener creates a listener
func NewListener(config Config) (*Listener, error) {
	if config.ServerAddr == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if config.Output == nil {
		return nil, fmt.Errorf("output is required")
	}
	if config.Lead <= 0 {
		config.Lead = 100 * time.Millisecond
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = time.Second
	}

	l := &Listener{
		config: config,
		clock:  NewClockSync(),
		ctx:    context.Background(),
	}
	l.scheduler = NewScheduler(l.clock, config.Lead, l.play)
	return l, nil
}

// Clock returns the server clock estimate
func (l *Listener) Clock() *ClockSync { return l.clock }

// Stats returns scheduler statistics
func (l *Listener) Stats() Stats { return l.scheduler.Stats() }

// Format returns the announced stream format
func (l *Listener) Format() protocol.AudioFormat {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.format
}

// Run plays the broadcast until ctx is cancelled or the server goes away
func (l *Listener) Run(ctx context.Context) error {
	client := protocol.NewClient(protocol.Config{
		ServerAddr: l.config.ServerAddr,
		Path:       l.config.Path,
		Name:       l.config.Name,
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	g, gctx := errgroup.WithContext(ctx)

	l.mu.Lock()
	l.ctx = gctx
	l.mu.Unlock()

	g.Go(func() error {
		l.scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return l.syncClock(gctx, client)
	})
	g.Go(func() error {
		return l.receive(gctx, client)
	})

	err := g.Wait()
	l.config.Output.Stop()
	if ctx.Err() != nil {
		client.SendGoodbye("shutdown")
		return nil
	}
	return err
}

func (l *Listener) syncClock(ctx context.Context, client *protocol.Client) error {
	ticker := time.NewTicker(l.config.SyncInterval)
	defer ticker.Stop()

	for {
		if err := client.SendTimeSync(ClientMicros()); err != nil {
			select {
			case <-client.Done():
				return nil
			default:
				return fmt.Errorf("time sync: %w", err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if q := l.clock.CheckQuality(); q == QualityLost && l.clock.Synced() {
				log.Warn().Msg("clock sync lost")
			}
		}
	}
}

func (l *Listener) receive(ctx context.Context, client *protocol.Client) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-client.Done():
			return ErrDisconnected

		case resp := <-client.TimeSyncResp:
			l.clock.ProcessSyncResponse(resp.ClientTransmitted, resp.ServerReceived, resp.ServerTransmitted, ClientMicros())

		case start := <-client.StreamStart:
			if err := l.startStream(start.Format); err != nil {
				return err
			}

		case chunk := <-client.AudioChunks:
			l.handleChunk(chunk)

		case <-client.StreamClear:
			l.scheduler.Clear()
			l.config.Output.Stop()

		case <-client.StreamEnd:
			log.Info().Msg("stream ended")
			l.config.Output.Drain()

		case st := <-client.ServerState:
			if l.config.OnState != nil {
				l.config.OnState(st)
			}
		}
	}
}

func (l *Listener) startStream(format protocol.AudioFormat) error {
	dec, err := protocol.NewPacketDecoder(format)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.format = format
	l.decoder = dec
	l.mu.Unlock()

	l.scheduler.Clear()
	log.Info().Str("format", format.ToFormat().String()).Msg("stream started")
	return nil
}

func (l *Listener) handleChunk(chunk protocol.AudioChunk) {
	l.mu.Lock()
	dec := l.decoder
	l.mu.Unlock()

	if dec == nil {
		return
	}
	samples, err := dec.Decode(chunk.Data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable chunk")
		return
	}
	l.scheduler.Schedule(chunk.Timestamp, samples)
}

// play hands a due chunk to the output, retrying while it is full
func (l *Listener) play(c Chunk) {
	l.mu.Lock()
	format := l.format
	ctx := l.ctx
	var buf *audio.Buffer
	if n := len(l.free); n > 0 {
		buf = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		buf = audio.NewBuffer(len(c.Samples))
	}
	l.mu.Unlock()

	buf.Reset()
	buf.SetFormat(format.SampleRate, format.Channels)
	buf.Append(c.Samples...)

	for {
		err := l.config.Output.Play(buf, l)
		if err == nil {
			return
		}
		if !errors.Is(err, output.ErrBufferFull) {
			log.Warn().Err(err).Msg("output error")
			l.OnBufferProcessed(buf)
			return
		}
		select {
		case <-ctx.Done():
			l.OnBufferProcessed(buf)
			return
		case <-time.After(playRetry):
		}
	}
}

// OnBufferProcessed returns played buffers to the pool
func (l *Listener) OnBufferProcessed(buf *audio.Buffer) {
	l.mu.Lock()
	l.free = append(l.free, buf)
	l.mu.Unlock()
}
