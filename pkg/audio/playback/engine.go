// Package playback implements the playback engine: it accepts variable-size
// PCM chunks from a network source and renders them through an [audio.Host]
// output stream as continuous audio, with short fades at every chunk boundary.
//
// A scheduler goroutine moves chunks from the FIFO queue to the renderer,
// keeping a configurable number of chunks scheduled ahead of the one playing
// so consecutive chunks join without gaps. When the queue runs dry the
// scheduler waits a short grace period before it declares the playback burst
// ended, which absorbs network jitter between chunks of the same response.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxduplex/pkg/audio"
	"github.com/MrWong99/voxduplex/pkg/audio/spectrum"
)

// meterName is the instrumentation scope of the playback metrics.
const meterName = "github.com/MrWong99/voxduplex/pkg/audio/playback"

// Compile-time interface assertion.
var _ audio.Player = (*Engine)(nil)

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMeterProvider sets the meter provider used for playback metrics.
// Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		if mp != nil {
			e.mp = mp
		}
	}
}

// Engine is the playback engine. It implements [audio.Player].
//
// All exported methods are safe for concurrent use. OnPlay and OnEnded
// callbacks run on the scheduler goroutine; they may call back into the
// engine but must not block for long.
type Engine struct {
	host audio.Host
	cfg  Config
	log  *slog.Logger
	mp   metric.MeterProvider

	mu         sync.Mutex
	queue      chunkQueue
	seq        uint64
	inflight   []*voice // handed to the renderer, oldest first
	active     bool     // a burst is in progress
	connected  bool
	closed     bool
	outRate    int
	fade       time.Duration
	grace      time.Duration
	lastStream string // stream of the most recently scheduled voice
	lastEnd    int    // stream offset after the most recently scheduled voice
	onPlay     func()
	onEnded    func()

	gen      atomic.Uint64
	voices   chan *voice
	done     chan struct{}
	stream   audio.Stream
	analyzer atomic.Pointer[spectrum.Analyzer]

	notify  chan struct{}
	quit    chan struct{}
	stopped chan struct{}

	chunks     metric.Int64Counter
	bursts     metric.Int64Counter
	interrupts metric.Int64Counter
}

// New creates a playback engine for host and starts its scheduler goroutine.
// Chunks may be enqueued before [Engine.Connect]; they start playing once the
// output is connected. Call [Engine.Close] to release resources.
func New(host audio.Host, cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		host:    host,
		cfg:     cfg,
		log:     slog.Default(),
		mp:      otel.GetMeterProvider(),
		outRate: cfg.SampleRate,
		fade:    cfg.FadeWindow,
		grace:   cfg.GracePeriod,
		voices:  make(chan *voice, cfg.Lookahead+1),
		done:    make(chan struct{}, 1),
		notify:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	e.initMetrics()
	go e.schedule()
	return e
}

func (e *Engine) initMetrics() {
	m := e.mp.Meter(meterName)
	var err error
	if e.chunks, err = m.Int64Counter("voxduplex.playback.chunks",
		metric.WithDescription("Chunks handed to the renderer or skipped. Use with attribute status."),
		metric.WithUnit("{chunk}"),
	); err != nil {
		e.log.Warn("playback: failed to create chunks counter", "err", err)
	}
	if e.bursts, err = m.Int64Counter("voxduplex.playback.bursts",
		metric.WithDescription("Transitions from idle to playing."),
		metric.WithUnit("{burst}"),
	); err != nil {
		e.log.Warn("playback: failed to create bursts counter", "err", err)
	}
	if e.interrupts, err = m.Int64Counter("voxduplex.playback.interrupts",
		metric.WithDescription("Interrupt calls that cut audible playback."),
		metric.WithUnit("{interrupt}"),
	); err != nil {
		e.log.Warn("playback: failed to create interrupts counter", "err", err)
	}
	if _, err = m.Int64ObservableGauge("voxduplex.playback.queue_depth",
		metric.WithDescription("Chunks waiting to be scheduled."),
		metric.WithUnit("{chunk}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(e.QueueLen()))
			return nil
		}),
	); err != nil {
		e.log.Warn("playback: failed to create queue depth gauge", "err", err)
	}
}

// Connect opens the default output device and attaches the output analyser.
// If the device refuses the configured rate the stream is opened at the
// device's native rate and chunks are resampled to it.
//
// Returns an error wrapping [audio.ErrDeviceUnavailable] when there is no
// output device, [audio.ErrInitialization] when the stream cannot be
// constructed, and [audio.ErrInvalidState] when already connected or closed.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.connected || e.closed {
		return fmt.Errorf("playback: connect in state %s: %w", e.stateLocked(), audio.ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("playback: connect: %w", err)
	}

	dev, err := e.host.DefaultOutput()
	if err != nil {
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("playback: connect: %w", err)
	}

	channels := e.cfg.Channels
	if dev.MaxChannels > 0 {
		channels = min(channels, dev.MaxChannels)
	}
	analyzer := spectrum.New()
	r := &renderer{
		channels: channels,
		mono:     make([]float32, e.cfg.BlockSize),
		gen:      &e.gen,
		voices:   e.voices,
		done:     e.done,
		tap:      analyzer.Write,
	}
	p := audio.StreamParams{
		SampleRate:      e.cfg.SampleRate,
		Channels:        channels,
		FramesPerBuffer: e.cfg.BlockSize,
	}

	stream, err := e.host.OpenOutput(p, r.render)
	if err != nil && int(dev.DefaultSampleRate) > 0 && int(dev.DefaultSampleRate) != p.SampleRate {
		e.log.Warn("playback: output rate refused, using device rate",
			"rate", p.SampleRate, "device_rate", dev.DefaultSampleRate, "err", err)
		p.SampleRate = int(dev.DefaultSampleRate)
		stream, err = e.host.OpenOutput(p, r.render)
	}
	if err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return fmt.Errorf("playback: connect: %w", err)
		}
		return fmt.Errorf("playback: connect: %w: %w", audio.ErrInitialization, err)
	}
	r.channels = max(stream.Format().Channels, 1)
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("playback: connect: start stream: %w: %w", audio.ErrInitialization, err)
	}

	e.stream = stream
	e.outRate = stream.Format().SampleRate
	e.analyzer.Store(analyzer)
	e.connected = true
	e.log.Info("playback: output ready",
		"device", dev.Name,
		"format", stream.Format(),
		"fade_window", e.fade,
		"grace_period", e.grace,
	)
	e.wake()
	return nil
}

// Enqueue appends c to the playback queue. Playback starts immediately when
// the engine is idle and connected. Enqueue after Close is a no-op.
func (e *Engine) Enqueue(c audio.Chunk) {
	if c.Arrived.IsZero() {
		c.Arrived = time.Now()
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.seq++
	e.queue.push(entry{chunk: c, seq: e.seq})
	e.mu.Unlock()
	e.wake()
}

// Add16BitPCM enqueues data as a chunk of streamID at the configured rate.
func (e *Engine) Add16BitPCM(data []int16, streamID string) {
	e.Enqueue(audio.Chunk{StreamID: streamID, Samples: data})
}

// Add16BitPCMBytes enqueues little-endian PCM bytes as a chunk of streamID.
// A payload with an odd byte count cannot be scheduled; it is logged and
// dropped without affecting queued chunks.
func (e *Engine) Add16BitPCMBytes(data []byte, streamID string) {
	samples, err := audio.BytesToSamples(data)
	if err != nil {
		e.skip(streamID, 0, fmt.Errorf("%w: %w", audio.ErrChunkScheduling, err))
		return
	}
	e.Add16BitPCM(samples, streamID)
}

// Interrupt stops playback immediately: the queue is cleared, scheduled
// chunks are invalidated, and the renderer outputs silence from its next
// block. The engine becomes idle without a grace period and OnEnded does not
// fire. The result names the stream that was audible and how many of its
// samples, at the configured rate, had been rendered; it is the null identity
// when nothing was playing.
func (e *Engine) Interrupt() audio.Interruption {
	e.mu.Lock()
	var res audio.Interruption
	if v := e.audibleLocked(); v != nil {
		res = audio.Interruption{
			StreamID: v.streamID,
			Offset:   e.toConfigRate(v.base + int(v.played.Load())),
		}
	}
	wasActive := e.active
	e.gen.Add(1)
	e.drainVoices()
	e.inflight = nil
	dropped := e.queue.clear()
	e.active = false
	e.lastStream, e.lastEnd = "", 0
	e.mu.Unlock()

	if wasActive {
		if e.interrupts != nil {
			e.interrupts.Add(context.Background(), 1)
		}
		e.log.Debug("playback: interrupted",
			"stream_id", res.StreamID, "offset", res.Offset, "dropped_chunks", dropped)
	}
	e.wake()
	return res
}

// Frequencies returns the spectrum of the rendered output, or
// [audio.EmptySpectrum] when the engine is not connected.
func (e *Engine) Frequencies() audio.Spectrum {
	a := e.analyzer.Load()
	if a == nil {
		return audio.EmptySpectrum()
	}
	return a.Sample()
}

// OnPlay registers fn to be called once at the start of every playback burst.
// Only one callback is active at a time; nil clears it.
func (e *Engine) OnPlay(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPlay = fn
}

// OnEnded registers fn to be called once when a burst ends and the grace
// period passed without a new chunk. Only one callback is active at a time;
// nil clears it.
func (e *Engine) OnEnded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = fn
}

// SetFadeWindow changes the fade length for chunks scheduled from now on.
// Zero disables fading.
func (e *Engine) SetFadeWindow(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fade = max(d, 0)
}

// SetGracePeriod changes the end-of-burst grace period. It applies to the
// next time the queue runs dry.
func (e *Engine) SetGracePeriod(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.grace = max(d, 0)
}

// QueueLen returns the number of chunks not yet handed to the renderer.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// State returns the current lifecycle state.
func (e *Engine) State() audio.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() audio.State {
	switch {
	case e.closed:
		return audio.StateStopped
	case !e.connected:
		return audio.StateUninitialized
	case e.active:
		return audio.StateActive
	default:
		return audio.StateIdle
	}
}

// Close stops the scheduler, discards queued chunks and releases the output
// stream. Close is idempotent; subsequent calls are no-ops and return nil.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.gen.Add(1)
	e.drainVoices()
	e.inflight = nil
	e.queue.clear()
	e.active = false
	stream := e.stream
	e.stream = nil
	e.mu.Unlock()

	close(e.quit)
	<-e.stopped
	e.analyzer.Store(nil)

	if stream == nil {
		return nil
	}
	if err := errors.Join(stream.Stop(), stream.Close()); err != nil {
		return fmt.Errorf("playback: close: %w", err)
	}
	return nil
}

// wake nudges the scheduler goroutine without blocking.
func (e *Engine) wake() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// audibleLocked returns the in-flight voice the renderer is currently playing:
// the oldest one not yet fully rendered, or the newest when all are finished
// but not yet retired. In the second case the caller reports the finished
// stream at its full length, which is exactly what was heard, so the peer can
// truncate to it without loss. Must be called with e.mu held.
func (e *Engine) audibleLocked() *voice {
	for _, v := range e.inflight {
		if int(v.played.Load()) < len(v.samples) {
			return v
		}
	}
	if n := len(e.inflight); n > 0 {
		return e.inflight[n-1]
	}
	return nil
}

// drainVoices empties the renderer's hand-off channel. Must be called with
// e.mu held after the generation was bumped.
func (e *Engine) drainVoices() {
	for {
		select {
		case <-e.voices:
		default:
			return
		}
	}
}

func (e *Engine) toConfigRate(n int) int {
	if e.outRate == e.cfg.SampleRate || e.outRate <= 0 {
		return n
	}
	return int(int64(n) * int64(e.cfg.SampleRate) / int64(e.outRate))
}

// retirePoll bounds how long a finished voice can stay in flight when the
// renderer's completion nudge was lost.
const retirePoll = 20 * time.Millisecond

// schedule is the background goroutine that moves chunks to the renderer,
// retires completed voices and runs the grace timer. It runs until Close.
func (e *Engine) schedule() {
	defer close(e.stopped)

	grace := time.NewTimer(time.Hour)
	grace.Stop()
	defer grace.Stop()
	var graceC <-chan time.Time

	poll := time.NewTicker(retirePoll)
	defer poll.Stop()

	for {
		select {
		case <-e.quit:
			return
		case <-e.notify:
		case <-e.done:
		case <-poll.C:
			if !e.busy() {
				continue
			}
		case <-graceC:
			graceC = nil
			e.endBurst()
			continue
		}

		started, drained, d := e.advance()
		if started {
			e.mu.Lock()
			fn := e.onPlay
			e.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
		switch {
		case drained && graceC == nil:
			grace.Reset(d)
			graceC = grace.C
		case !drained && graceC != nil:
			grace.Stop()
			graceC = nil
		}
	}
}

// advance hands queued chunks to the renderer up to the lookahead limit. It
// reports whether a new burst started, and whether the burst has run dry and
// the grace timer of length d should run.
func (e *Engine) advance() (started, drained bool, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected || e.closed {
		return false, false, 0
	}
	e.retireLocked()
	gen := e.gen.Load()
	for e.queue.Len() > 0 && len(e.inflight) < cap(e.voices) {
		ent := e.queue.pop()
		v, err := e.prepare(ent, gen)
		if err != nil {
			e.skip(ent.chunk.StreamID, ent.seq, err)
			continue
		}
		if !e.active {
			e.active = true
			started = true
		}
		e.inflight = append(e.inflight, v)
		e.voices <- v
		if e.chunks != nil {
			e.chunks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", "scheduled")))
		}
	}
	if started && e.bursts != nil {
		e.bursts.Add(context.Background(), 1)
	}
	drained = e.active && e.queue.Len() == 0 && len(e.inflight) == 0
	return started, drained, e.grace
}

// prepare converts a queued chunk into a voice. Must be called with e.mu held.
func (e *Engine) prepare(ent entry, gen uint64) (*voice, error) {
	c := ent.chunk
	if len(c.Samples) == 0 {
		return nil, fmt.Errorf("%w: empty chunk", audio.ErrChunkScheduling)
	}
	samples := c.Samples
	rate := c.SampleRate
	if rate <= 0 {
		rate = e.cfg.SampleRate
	}
	if rate != e.outRate {
		samples = audio.ResampleMono16(samples, rate, e.outRate)
		if len(samples) == 0 {
			return nil, fmt.Errorf("%w: chunk of %d samples at %d Hz too short to resample to %d Hz",
				audio.ErrChunkScheduling, len(c.Samples), rate, e.outRate)
		}
	}

	buf := make([]float32, len(samples))
	audio.DecodePCM16(buf, samples)
	applyEnvelope(buf, int(e.fade*time.Duration(e.outRate)/time.Second))

	base := 0
	if c.StreamID == e.lastStream {
		base = e.lastEnd
	}
	e.lastStream, e.lastEnd = c.StreamID, base+len(buf)

	return &voice{
		gen:      gen,
		seq:      ent.seq,
		streamID: c.StreamID,
		samples:  buf,
		base:     base,
	}, nil
}

// busy reports whether voices are in flight.
func (e *Engine) busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight) > 0
}

// retireLocked removes fully rendered voices from the in-flight list. The
// renderer plays voices in order, so only a prefix can be finished. Must be
// called with e.mu held.
func (e *Engine) retireLocked() {
	n := 0
	for _, v := range e.inflight {
		if int(v.played.Load()) < len(v.samples) {
			break
		}
		n++
	}
	if n > 0 {
		e.inflight = append(e.inflight[:0], e.inflight[n:]...)
	}
}

// endBurst runs when the grace timer fires. The burst ends only if nothing
// arrived in the meantime.
func (e *Engine) endBurst() {
	e.mu.Lock()
	if !e.active || e.queue.Len() > 0 || len(e.inflight) > 0 {
		e.mu.Unlock()
		return
	}
	e.active = false
	e.lastStream, e.lastEnd = "", 0
	fn := e.onEnded
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// skip logs and counts a chunk that cannot be scheduled.
func (e *Engine) skip(streamID string, seq uint64, err error) {
	e.log.Warn("playback: skipping chunk", "stream_id", streamID, "seq", seq, "err", err)
	if e.chunks != nil {
		e.chunks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", "skipped")))
	}
}
