// Package session wires a capture engine and a playback engine to a remote
// [Peer] for full-duplex voice exchange.
//
// A [Session] forwards every captured frame to the peer, enqueues every chunk
// the peer sends for playback, mutes capture while playback is audible (when
// configured), and turns peer interruptions into an immediate playback stop
// followed by a [Peer.Truncate] carrying how much of the stream was heard.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxduplex/internal/observe"
	"github.com/MrWong99/voxduplex/pkg/audio"
)

// ErrRunning is returned by [Session.Start] when the session is already running.
var ErrRunning = errors.New("session: already running")

// outboundFrames is the number of captured frames buffered for the peer.
const outboundFrames = 64

// Peer is the remote party of a session.
type Peer interface {
	// Send delivers one captured frame. It may block; the session calls it
	// from a dedicated goroutine.
	Send(ctx context.Context, f audio.Frame) error

	// Chunks yields audio to play. The channel is closed by Close.
	Chunks() <-chan audio.Chunk

	// Interruptions signals that the peer wants playback stopped.
	Interruptions() <-chan struct{}

	// Truncate tells the peer how much of the interrupted stream was heard.
	Truncate(ctx context.Context, ir audio.Interruption) error

	// Close releases the peer.
	Close() error
}

// Config controls session behaviour.
type Config struct {
	// MuteWhilePlaying pauses capture from the first audible chunk of a
	// playback burst until the burst ends or is interrupted.
	MuteWhilePlaying bool

	// MaxRetries, Backoff and MaxBackoff bound capture recovery after a
	// device failure. Zero values take the defaults 10, 1s and 30s.
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration

	// SendFailures consecutive Send errors stop sending to the peer for
	// SendCooldown, after which one frame probes the link. Zero values take
	// the defaults 5 and 2s.
	SendFailures int
	SendCooldown time.Duration
}

// Option configures a [Session].
type Option func(*Session)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// Session connects one recorder and one player to one peer.
// All exported methods are safe for concurrent use.
type Session struct {
	rec     audio.Recorder
	play    audio.Player
	peer    Peer
	cfg     Config
	metrics *observe.Metrics
	baseLog *slog.Logger
	log     *slog.Logger

	out    chan audio.Frame
	failed chan error

	mu        sync.Mutex
	id        string
	running   bool
	muted     bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a stopped session.
func New(rec audio.Recorder, play audio.Player, peer Peer, cfg Config, opts ...Option) *Session {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.SendFailures <= 0 {
		cfg.SendFailures = defaultSendFailures
	}
	if cfg.SendCooldown <= 0 {
		cfg.SendCooldown = defaultSendCooldown
	}
	s := &Session{
		rec:    rec,
		play:   play,
		peer:   peer,
		cfg:    cfg,
		log:    slog.Default(),
		out:    make(chan audio.Frame, outboundFrames),
		failed: make(chan error, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.baseLog = s.log
	return s
}

// Start begins capture, connects playback and starts exchanging audio with
// the peer. The session keeps running after ctx is cancelled; only its values
// are inherited. Call [Session.Stop] to end it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}

	if err := s.rec.Begin(ctx); err != nil {
		return fmt.Errorf("session: begin capture: %w", err)
	}
	if err := s.play.Connect(ctx); err != nil {
		_ = s.rec.End()
		return fmt.Errorf("session: connect playback: %w", err)
	}
	s.play.OnPlay(s.onPlay)
	s.play.OnEnded(s.onEnded)
	if err := s.rec.Record(s.forward); err != nil {
		s.play.OnPlay(nil)
		s.play.OnEnded(nil)
		_ = s.play.Close()
		_ = s.rec.End()
		return fmt.Errorf("session: record: %w", err)
	}

	s.id = uuid.NewString()
	s.running = true
	s.muted = false
	s.startedAt = time.Now()
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.log = s.baseLog.With("session_id", s.id)

	s.wg.Add(4)
	go s.sendLoop(s.ctx)
	go s.receiveLoop(s.ctx)
	go s.interruptLoop(s.ctx)
	go s.recoverLoop(s.ctx)

	s.metrics.ActiveSessions.Add(s.ctx, 1)
	s.log.Info("session: started", "mute_while_playing", s.cfg.MuteWhilePlaying)
	return nil
}

// Stop ends capture, interrupts and closes playback, and closes the peer.
// Peer.Send must honour context cancellation for Stop to return.
// Stop on a stopped session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	started := s.startedAt
	s.mu.Unlock()

	s.play.OnPlay(nil)
	s.play.OnEnded(nil)
	cancel()
	s.wg.Wait()

	var errs []error
	if err := s.rec.End(); err != nil {
		errs = append(errs, fmt.Errorf("end capture: %w", err))
	}
	for len(s.out) > 0 {
		<-s.out
	}
	s.play.Interrupt()
	if err := s.play.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close playback: %w", err))
	}
	if err := s.peer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close peer: %w", err))
	}

	s.metrics.ActiveSessions.Add(context.Background(), -1)
	s.log.Info("session: stopped", "duration", time.Since(started).Round(time.Millisecond))
	if len(errs) > 0 {
		return fmt.Errorf("session: stop: %w", errors.Join(errs...))
	}
	return nil
}

// Running reports whether the session has been started and not stopped.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Muted reports whether capture is paused because playback is audible.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// ID returns the identifier of the current or last run, or "" before Start.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Interrupt stops playback as if the peer had interrupted it and forwards
// the truncation to the peer. It returns what was cut.
func (s *Session) Interrupt(ctx context.Context) audio.Interruption {
	ir := s.play.Interrupt()
	s.metrics.Interruptions.Add(ctx, 1)
	s.unmute()
	if ir.StreamID == "" {
		return ir
	}
	start := time.Now()
	if err := s.peer.Truncate(ctx, ir); err != nil {
		s.metrics.RecordPeerError(ctx, "truncate")
		s.log.Warn("session: truncate failed", "stream_id", ir.StreamID, "offset", ir.Offset, "err", err)
		return ir
	}
	s.metrics.TruncateDuration.Record(ctx, time.Since(start).Seconds())
	s.log.Debug("session: playback interrupted", "stream_id", ir.StreamID, "offset", ir.Offset)
	return ir
}

// forward runs on the capture delivery goroutine and must not block or take
// s.mu: Pause waits for it while onPlay may hold the playback scheduler.
func (s *Session) forward(f audio.Frame) {
	select {
	case s.out <- f:
	default:
		s.log.Warn("session: peer is not keeping up, dropping frame", "samples", len(f.Mono))
		s.metrics.RecordPeerError(context.Background(), "send")
	}
}

func (s *Session) sendLoop(ctx context.Context) {
	defer s.wg.Done()
	brk := newSendBreaker(s.cfg.SendFailures, s.cfg.SendCooldown)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.out:
			if !brk.allow() {
				s.metrics.RecordPeerError(ctx, "send_skipped")
				continue
			}
			if err := s.peer.Send(ctx, f); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.metrics.RecordPeerError(ctx, "send")
				if brk.failure() {
					s.log.Warn("session: peer link failing, pausing sends", "cooldown", s.cfg.SendCooldown, "err", err)
				} else {
					s.log.Debug("session: send failed", "err", err)
				}
				continue
			}
			if brk.success() {
				s.log.Info("session: peer link recovered")
			}
			s.metrics.FramesForwarded.Add(ctx, 1)
		}
	}
}

func (s *Session) receiveLoop(ctx context.Context) {
	defer s.wg.Done()
	chunks := s.peer.Chunks()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-chunks:
			if !ok {
				s.log.Info("session: peer closed its audio stream")
				return
			}
			s.metrics.ChunksReceived.Add(ctx, 1)
			s.play.Enqueue(c)
		}
	}
}

func (s *Session) interruptLoop(ctx context.Context) {
	defer s.wg.Done()
	irs := s.peer.Interruptions()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-irs:
			if !ok {
				return
			}
			s.Interrupt(ctx)
		}
	}
}

// onPlay runs on the playback scheduler goroutine.
func (s *Session) onPlay() {
	if !s.cfg.MuteWhilePlaying {
		return
	}
	s.mu.Lock()
	if !s.running || s.muted {
		s.mu.Unlock()
		return
	}
	s.muted = true
	s.mu.Unlock()

	s.rec.Pause()
	s.metrics.RecordMute(context.Background(), true)
	s.log.Debug("session: capture muted for playback")
}

// onEnded runs on the playback scheduler goroutine.
func (s *Session) onEnded() {
	s.unmute()
}

func (s *Session) unmute() {
	s.mu.Lock()
	if !s.running || !s.muted {
		s.mu.Unlock()
		return
	}
	s.muted = false
	s.mu.Unlock()

	if err := s.rec.Record(s.forward); err != nil {
		s.log.Warn("session: resume capture failed", "err", err)
		return
	}
	s.metrics.RecordMute(context.Background(), false)
	s.log.Debug("session: capture resumed")
}
