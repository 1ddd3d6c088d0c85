// ABOUTME: Player couples one decoded stream to one output through a decode goroutine
// ABOUTME: Handles staging, pause, seek, next-track preparation and lifecycle events
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/resonate-engine/pkg/audio"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/source"
	"github.com/Resonate-Protocol/resonate-engine/pkg/audio/stream"
)

// DefaultRetryInterval is how long a player waits before offering a buffer
// to a full output again when no buffer completed in between
const DefaultRetryInterval = 10 * time.Millisecond

// PlayerConfig holds player configuration
type PlayerConfig struct {
	// Sources and Decoders resolve URIs; both are required
	Sources  *source.Registry
	Decoders *decode.Registry

	// Stream configures chunking, buffer count and DSP
	Stream stream.Config

	// AlmostDoneLead is how long before the end EventAlmostDone fires.
	// Zero fires it when decoding reaches the end.
	AlmostDoneLead time.Duration

	// RetryInterval bounds the wait after output.ErrBufferFull (default: 10ms)
	RetryInterval time.Duration

	// Visualizer, when set, sees every buffer this player got played
	Visualizer Visualizer
}

// streamProvider is one opened track. It receives played buffers back from
// the output so they return to the stream that produced them.
type streamProvider struct {
	player   *Player
	stream   *stream.Stream
	uri      string
	gain     Gain
	scale    float32
	duration float64 // guarded by player.mu
}

func (sp *streamProvider) OnBufferProcessed(buf *audio.Buffer) {
	sp.player.onBufferProcessed(sp, buf)
}

type seekResult struct {
	position float64
	err      error
}

type seekRequest struct {
	seconds float64
	reply   chan seekResult
}

// Player plays one track, optionally followed by a prepared next track, on
// one output
type Player struct {
	id       string
	config   PlayerConfig
	out      output.Output
	listener PlayerListener

	ctx       context.Context
	cancel    context.CancelFunc
	wake      chan struct{}
	play      chan struct{}
	playOnce  sync.Once
	seekReq   chan seekRequest
	done      chan struct{}
	destroyed sync.Once

	// owned by the decode goroutine
	seekGen int

	mu         sync.Mutex
	state      PlayerState
	current    *streamProvider
	audible    *streamProvider
	next       *streamProvider
	volume     float64
	position   float64
	pending    int
	started    bool
	almostDone bool
	seeking    bool
	dead       bool
	launched   bool
	err        error
}

// NewPlayer creates an idle player writing to out. listener may be nil.
func NewPlayer(config PlayerConfig, out output.Output, listener PlayerListener) *Player {
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if listener == nil {
		listener = PlayerListenerFunc(func(*Player, PlayerEvent) {})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Player{
		id:       uuid.New().String(),
		config:   config,
		out:      out,
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		play:     make(chan struct{}),
		seekReq:  make(chan seekRequest),
		done:     make(chan struct{}),
		volume:   1,
		state:    PlayerIdle,
	}
}

// ID returns the player's unique id
func (p *Player) ID() string { return p.id }

// Output returns the output the player writes to
func (p *Player) Output() output.Output { return p.out }

func (p *Player) openStream(uri string, gain Gain) (*streamProvider, error) {
	s := stream.New(p.config.Sources, p.config.Decoders, p.config.Stream)
	if err := s.Open(p.ctx, uri); err != nil {
		return nil, err
	}
	return &streamProvider{
		player:   p,
		stream:   s,
		uri:      uri,
		gain:     gain,
		scale:    float32(gain.Linear()),
		duration: s.Duration(),
	}, nil
}

// Start opens uri and launches the decode goroutine. Open failures are
// returned here and produce no events. With StartStaged the track is
// decoded ahead but stays silent until Play.
func (p *Player) Start(uri string, gain Gain, mode StartMode) error {
	p.mu.Lock()
	if p.state != PlayerIdle {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: start in state %s", audio.ErrInvalidState, state)
	}
	p.state = PlayerOpening
	p.mu.Unlock()

	sp, err := p.openStream(uri, gain)

	p.mu.Lock()
	if err == nil && p.dead {
		err = fmt.Errorf("%w: destroyed while opening", audio.ErrInvalidState)
		sp.stream.Close()
	}
	if err != nil {
		if !p.dead {
			p.state = PlayerError
		}
		p.err = err
		p.mu.Unlock()
		log.Debug().Err(err).Str("player", p.id).Str("uri", uri).Msg("open failed")
		return err
	}

	p.current = sp
	p.audible = sp
	p.launched = true
	staged := mode == StartStaged
	if staged {
		p.state = PlayerPrepared
	} else {
		p.state = PlayerPlaying
	}
	p.mu.Unlock()

	log.Debug().Str("player", p.id).Str("uri", uri).Bool("staged", staged).Msg("player started")

	p.emit(PlayerEvent{Type: EventOpened, URI: uri})
	go p.run(staged)
	return nil
}

// Play makes a staged player audible. Returns false when the player was
// not staged.
func (p *Player) Play() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlayerPrepared {
		return false
	}
	p.state = PlayerPlaying
	p.playOnce.Do(func() { close(p.play) })
	return true
}

// PrepareNextTrack opens uri so the decode goroutine continues with it
// without a gap once the current track ends
func (p *Player) PrepareNextTrack(uri string, gain Gain) error {
	sp, err := p.openStream(uri, gain)
	if err != nil {
		return err
	}
	if err := sp.stream.Prefill(); err != nil {
		sp.stream.Close()
		return err
	}

	p.mu.Lock()
	switch p.state {
	case PlayerPrepared, PlayerPlaying, PlayerPaused:
	default:
		state := p.state
		p.mu.Unlock()
		sp.stream.Close()
		return fmt.Errorf("%w: prepare next track in state %s", audio.ErrInvalidState, state)
	}
	old := p.next
	p.next = sp
	p.mu.Unlock()

	if old != nil {
		old.stream.Close()
	}
	p.emit(PlayerEvent{Type: EventOpened, URI: uri})
	return nil
}

// Pause suspends decoding and the output. It returns false, without side
// effects, unless the player was playing.
func (p *Player) Pause() bool {
	p.mu.Lock()
	if p.state != PlayerPlaying {
		p.mu.Unlock()
		return false
	}
	p.state = PlayerPaused
	p.mu.Unlock()

	p.out.Pause()
	return true
}

// Resume continues a paused player. It returns false, without side effects,
// unless the player was paused.
func (p *Player) Resume() bool {
	p.mu.Lock()
	if p.state != PlayerPaused {
		p.mu.Unlock()
		return false
	}
	p.state = PlayerPlaying
	p.mu.Unlock()

	p.out.Resume()
	p.signal()
	return true
}

// SetPosition seeks to seconds, clamped to [0, duration]. The seek runs on
// the decode goroutine: queued audio is flushed, the stream is repositioned
// and decoding continues from there. On failure the position is unchanged
// and the error wraps audio.ErrSeekFailed.
func (p *Player) SetPosition(seconds float64) (float64, error) {
	p.mu.Lock()
	duration := -1.0
	if p.audible != nil {
		duration = p.audible.duration
	}
	launched := p.launched
	p.mu.Unlock()

	if !launched {
		return -1, fmt.Errorf("%w: player not started", audio.ErrSeekFailed)
	}
	if seconds < 0 {
		seconds = 0
	}
	if duration > 0 && seconds > duration {
		seconds = duration
	}

	req := seekRequest{seconds: seconds, reply: make(chan seekResult, 1)}
	select {
	case p.seekReq <- req:
	case <-p.done:
		return -1, fmt.Errorf("%w: player stopped", audio.ErrSeekFailed)
	}

	res := <-req.reply
	return res.position, res.err
}

// SetVolume sets the output volume, clamped to [0, 1]
func (p *Player) SetVolume(volume float64) {
	volume = clamp01(volume)
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	p.out.SetVolume(volume)
}

// Volume returns the volume last set on the player
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Position returns the position of the last played sample in seconds
func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Duration returns the audible track's length, or -1 when unknown
func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audible == nil {
		return -1
	}
	return p.audible.duration
}

// URI returns the audible track's URI
func (p *Player) URI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audible == nil {
		return ""
	}
	return p.audible.uri
}

// Gain returns the audible track's gain
func (p *Player) Gain() Gain {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audible == nil {
		return UnityGain
	}
	return p.audible.gain
}

// State returns the lifecycle state
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the error that moved the player into PlayerError
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Destroy stops the decode goroutine and interrupts pending I/O without
// waiting. With Flush, audio this player queued at the output is discarded;
// with NoFlush it plays out.
func (p *Player) Destroy(mode DestroyMode) {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return
	}
	p.dead = true
	p.state = PlayerDestroyed
	flush := mode == Flush && p.pending > 0
	streams := []*streamProvider{p.current, p.next}
	launched := p.launched
	p.mu.Unlock()

	p.cancel()
	for _, sp := range streams {
		if sp != nil {
			sp.stream.Interrupt()
		}
	}
	if flush {
		p.out.Stop()
	}

	if !launched {
		p.emitDestroyed()
		return
	}
	select {
	case <-p.done:
		p.emitDestroyed()
	default:
	}
}

// Stop destroys the player, flushing its audio, and waits for the decode
// goroutine to exit
func (p *Player) Stop() {
	p.Destroy(Flush)

	p.mu.Lock()
	launched := p.launched
	p.mu.Unlock()
	if launched {
		<-p.done
	}
}

// Done is closed when the decode goroutine exited
func (p *Player) Done() <-chan struct{} {
	return p.done
}

func (p *Player) emitDestroyed() {
	p.destroyed.Do(func() {
		p.listener.OnPlayerEvent(p, PlayerEvent{Type: EventDestroyed, URI: p.URI(), Position: p.Position()})
	})
}

// emit delivers an event unless the player was destroyed
func (p *Player) emit(ev PlayerEvent) {
	p.mu.Lock()
	dead := p.dead
	p.mu.Unlock()
	if dead {
		return
	}
	p.listener.OnPlayerEvent(p, ev)
}

func (p *Player) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// onBufferProcessed runs on the output's goroutine
func (p *Player) onBufferProcessed(sp *streamProvider, buf *audio.Buffer) {
	p.mu.Lock()
	p.pending--
	if p.seeking || p.dead || p.state == PlayerError {
		p.mu.Unlock()
		sp.stream.RecycleBuffer(buf)
		p.signal()
		return
	}

	var events []PlayerEvent
	if sp != p.audible {
		p.audible = sp
		p.almostDone = false
		events = append(events, PlayerEvent{Type: EventTrackChanged, URI: sp.uri})
	}
	p.position = buf.Position() + buf.Duration()
	if !p.started {
		p.started = true
		events = append(events, PlayerEvent{Type: EventStarted, URI: sp.uri, Position: p.position})
	}
	events = append(events, PlayerEvent{Type: EventBufferProcessed, URI: sp.uri, Position: p.position})

	lead := p.config.AlmostDoneLead.Seconds()
	if !p.almostDone && lead > 0 && sp.duration > 0 && p.position >= sp.duration-lead {
		p.almostDone = true
		events = append(events, PlayerEvent{Type: EventAlmostDone, URI: sp.uri, Position: p.position})
	}
	p.mu.Unlock()

	if p.config.Visualizer != nil {
		p.config.Visualizer.Write(buf)
	}
	sp.stream.RecycleBuffer(buf)
	p.signal()

	for _, ev := range events {
		p.emit(ev)
	}
}

// run is the decode goroutine
func (p *Player) run(staged bool) {
	defer func() {
		p.release()
		close(p.done)

		p.mu.Lock()
		dead := p.dead
		p.mu.Unlock()
		if dead {
			p.emitDestroyed()
		}
	}()

	if staged {
		if err := p.current.stream.Prefill(); err != nil {
			p.fail(err)
			return
		}
		if !p.waitPlay() {
			return
		}
	}

	for {
		if !p.waitWhilePaused() {
			return
		}

		p.mu.Lock()
		sp := p.current
		p.mu.Unlock()

		buf, err := sp.stream.NextBuffer()
		if errors.Is(err, io.EOF) {
			if p.advance() {
				continue
			}
			if !p.finish() {
				return
			}
			continue
		}
		if err != nil {
			p.fail(err)
			return
		}

		p.mu.Lock()
		if sp.duration < 0 {
			sp.duration = sp.stream.Duration()
		}
		p.mu.Unlock()

		if sp.scale != 1 {
			samples := buf.Samples()
			for i := range samples {
				samples[i] *= sp.scale
			}
		}

		if !p.send(sp, buf) {
			return
		}
	}
}

// waitPlay blocks a staged player until Play, serving seeks meanwhile
func (p *Player) waitPlay() bool {
	for {
		select {
		case <-p.ctx.Done():
			return false
		case <-p.play:
			return true
		case req := <-p.seekReq:
			p.handleSeek(req)
		}
	}
}

// waitWhilePaused serves pending seeks and blocks while paused
func (p *Player) waitWhilePaused() bool {
	for {
		select {
		case req := <-p.seekReq:
			p.handleSeek(req)
			continue
		default:
		}

		p.mu.Lock()
		paused := p.state == PlayerPaused
		p.mu.Unlock()
		if !paused {
			return p.ctx.Err() == nil
		}
		if !p.wait(0) {
			return false
		}
	}
}

// wait blocks until woken, a seek was served, the timeout passed or the
// player was cancelled. Returns false on cancel.
func (p *Player) wait(timeout time.Duration) bool {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-p.ctx.Done():
		return false
	case <-p.wake:
	case req := <-p.seekReq:
		p.handleSeek(req)
	case <-timer:
	}
	return true
}

// send offers buf to the output until accepted. A seek served while waiting
// discards buf. Returns false when the player must exit.
func (p *Player) send(sp *streamProvider, buf *audio.Buffer) bool {
	gen := p.seekGen
	for {
		err := p.out.Play(buf, sp)
		if err == nil {
			p.mu.Lock()
			p.pending++
			p.mu.Unlock()
			return true
		}
		if !errors.Is(err, output.ErrBufferFull) {
			sp.stream.RecycleBuffer(buf)
			if !errors.Is(err, audio.ErrOutput) {
				err = fmt.Errorf("%w: %w", audio.ErrOutput, err)
			}
			p.fail(err)
			return false
		}

		if !p.wait(p.config.RetryInterval) {
			sp.stream.RecycleBuffer(buf)
			return false
		}
		if p.seekGen != gen {
			sp.stream.RecycleBuffer(buf)
			return true
		}
	}
}

// advance switches to the prepared next track at end of stream
func (p *Player) advance() bool {
	p.mu.Lock()
	next := p.next
	if next == nil {
		p.mu.Unlock()
		return false
	}
	old := p.current
	p.current = next
	p.next = nil
	p.mu.Unlock()

	log.Debug().Str("player", p.id).Str("from", old.uri).Str("to", next.uri).Msg("continuing with next track")
	old.stream.Close()
	return true
}

// finish waits for the output to play everything and reports the end.
// Returns true when a seek or a newly prepared track resumes decoding.
func (p *Player) finish() bool {
	p.mu.Lock()
	fire := !p.almostDone
	p.almostDone = true
	uri := p.current.uri
	position := p.position
	p.mu.Unlock()

	if fire {
		p.emit(PlayerEvent{Type: EventAlmostDone, URI: uri, Position: position})
	}
	p.out.Drain()

	gen := p.seekGen
	for {
		p.mu.Lock()
		pending := p.pending
		hasNext := p.next != nil
		p.mu.Unlock()
		if hasNext {
			return true
		}
		if pending <= 0 {
			break
		}
		if !p.wait(0) {
			return false
		}
		if p.seekGen != gen {
			return true
		}
	}

	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return false
	}
	p.state = PlayerFinished
	position = p.position
	p.mu.Unlock()

	log.Debug().Str("player", p.id).Str("uri", uri).Msg("playback finished")
	p.emit(PlayerEvent{Type: EventFinished, URI: uri, Position: position})
	return false
}

// fail moves the player to PlayerError and flushes its audio
func (p *Player) fail(err error) {
	if p.ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	p.state = PlayerError
	p.err = err
	uri := p.current.uri
	pending := p.pending
	p.mu.Unlock()

	if pending > 0 {
		p.out.Stop()
	}

	log.Error().Err(err).Str("player", p.id).Str("uri", uri).Msg("playback error")
	p.emit(PlayerEvent{Type: EventError, URI: uri, Err: err})
}

// handleSeek runs on the decode goroutine
func (p *Player) handleSeek(req seekRequest) {
	p.mu.Lock()
	p.seeking = true
	pending := p.pending
	sp := p.current
	p.mu.Unlock()

	if pending > 0 {
		p.out.Stop()
	}
	for pending > 0 {
		select {
		case <-p.ctx.Done():
			p.mu.Lock()
			p.seeking = false
			p.mu.Unlock()
			req.reply <- seekResult{-1, fmt.Errorf("%w: player destroyed", audio.ErrSeekFailed)}
			return
		case <-p.wake:
		case <-time.After(p.config.RetryInterval):
		}
		p.mu.Lock()
		pending = p.pending
		p.mu.Unlock()
	}

	reached, err := sp.stream.SetPosition(req.seconds)

	var changed *streamProvider
	p.mu.Lock()
	p.seeking = false
	if err == nil {
		p.position = reached
		p.almostDone = false
		if p.state == PlayerFinished {
			p.state = PlayerPlaying
		}
		if p.audible != sp {
			p.audible = sp
			changed = sp
		}
	}
	p.mu.Unlock()

	p.seekGen++
	if err != nil {
		log.Warn().Err(err).Str("player", p.id).Float64("seconds", req.seconds).Msg("seek failed")
	}
	if changed != nil {
		p.emit(PlayerEvent{Type: EventTrackChanged, URI: changed.uri})
	}
	req.reply <- seekResult{reached, err}
}

// release closes every stream; runs on the decode goroutine after its loop
func (p *Player) release() {
	p.mu.Lock()
	streams := []*streamProvider{p.current, p.next}
	p.next = nil
	p.mu.Unlock()

	for _, sp := range streams {
		if sp != nil {
			sp.stream.Close()
		}
	}
}
