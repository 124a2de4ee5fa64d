// Package capture implements the capture engine: it pulls samples off an
// input device through an [audio.Host] and delivers them to a consumer as
// fixed-size mono PCM16 [audio.Frame]s.
//
// Two interchangeable processing paths feed a common frame assembler. The
// real-time path processes small blocks on the host's callback thread; the
// blocking path reads larger hardware blocks on a dedicated goroutine and is
// used when the callback path cannot be set up. Frame delivery, ordering and
// flush semantics are identical on both paths.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxduplex/pkg/audio"
	"github.com/MrWong99/voxduplex/pkg/audio/spectrum"
)

// meterName is the instrumentation scope of the capture metrics.
const meterName = "github.com/MrWong99/voxduplex/pkg/audio/capture"

// Compile-time interface assertion.
var _ audio.Recorder = (*Engine)(nil)

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

// WithMeterProvider sets the meter provider used for capture metrics.
// Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		if mp != nil {
			e.mp = mp
		}
	}
}

// WithFailureHandler registers fn to be called, on its own goroutine, when
// the input stream fails permanently while the engine is begun. The error
// wraps [audio.ErrDeviceUnavailable]. The engine stays begun; the handler
// typically calls [Engine.End] and begins again.
func WithFailureHandler(fn func(error)) Option {
	return func(e *Engine) {
		e.onFail = fn
	}
}

// Engine is the capture engine. It implements [audio.Recorder].
//
// All exported methods are safe for concurrent use. The consumer callback
// runs on the engine's delivery goroutine and must not call back into the
// engine's control methods.
type Engine struct {
	host   audio.Host
	cfg    Config
	log    *slog.Logger
	mp     metric.MeterProvider
	onFail func(error)

	mu       sync.Mutex // serialises control operations
	state    atomic.Int32
	path     path
	asm      *assembler
	analyzer atomic.Pointer[spectrum.Analyzer]

	frames   metric.Int64Counter
	dropped  metric.Int64ObservableCounter
	lostPrev atomic.Uint64 // dropped samples of previous Begin/End cycles
}

// New creates a capture engine for host. The device is not touched until
// [Engine.Begin].
func New(host audio.Host, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		host: host,
		cfg:  cfg.withDefaults(),
		log:  slog.Default(),
		mp:   otel.GetMeterProvider(),
	}
	for _, o := range opts {
		o(e)
	}
	e.initMetrics()
	return e
}

func (e *Engine) initMetrics() {
	m := e.mp.Meter(meterName)
	var err error
	e.frames, err = m.Int64Counter("voxduplex.capture.frames",
		metric.WithDescription("Frames delivered to the consumer."),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		e.log.Warn("capture: failed to create frames counter", "err", err)
	}
	e.dropped, err = m.Int64ObservableCounter("voxduplex.capture.dropped_samples",
		metric.WithDescription("Captured samples discarded because the consumer fell behind or a transition was in progress."),
		metric.WithUnit("{sample}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(e.droppedSamples()))
			return nil
		}),
	)
	if err != nil {
		e.log.Warn("capture: failed to create dropped samples counter", "err", err)
	}
}

// Begin acquires the default input device and prepares a processing path.
//
// In [ModeAuto] the real-time path is tried first; if it cannot be set up the
// failure is logged as [audio.ErrTransformUnavailable] and the blocking path
// is used instead. Begin returns an error wrapping [audio.ErrDeviceUnavailable]
// when there is no input device, [audio.ErrInitialization] when no path can be
// constructed, and [audio.ErrInvalidState] unless the engine is uninitialised
// or stopped.
func (e *Engine) Begin(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.State(); st != audio.StateUninitialized && st != audio.StateStopped {
		return fmt.Errorf("capture: begin in state %s: %w", st, audio.ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("capture: begin: %w", err)
	}

	dev, err := e.host.DefaultInput()
	if err != nil {
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("capture: begin: %w", err)
	}

	asm := newAssembler(e.cfg.FrameSize, e.cfg.FrameBuffers)
	asm.onDeliver = func(int) {
		if e.frames != nil {
			e.frames.Add(context.Background(), 1)
		}
	}
	analyzer := spectrum.New()
	sink := func(samples []float32) {
		analyzer.Write(samples)
		asm.write(samples)
	}

	p, err := e.openPath(dev, sink)
	if err != nil {
		return fmt.Errorf("capture: begin: %w: %w", audio.ErrInitialization, err)
	}
	asm.run()
	if err := p.start(); err != nil {
		asm.stop()
		if cerr := p.close(); cerr != nil {
			e.log.Warn("capture: failed to close input stream", "err", cerr)
		}
		return fmt.Errorf("capture: begin: start stream: %w: %w", audio.ErrInitialization, err)
	}

	e.path = p
	e.asm = asm
	e.analyzer.Store(analyzer)
	e.state.Store(int32(audio.StateIdle))
	e.log.Info("capture: input ready",
		"device", dev.Name,
		"mode", p.mode(),
		"device_format", p.format(),
		"frame_rate", e.cfg.SampleRate,
		"frame_size", e.cfg.FrameSize,
	)
	return nil
}

// openPath selects and opens a processing path according to the configured mode.
func (e *Engine) openPath(dev audio.DeviceInfo, sink func([]float32)) (path, error) {
	channels := e.cfg.Channels
	if dev.MaxChannels > 0 {
		channels = min(channels, dev.MaxChannels)
	}

	if e.cfg.Mode != ModeBlocking {
		p, err := e.openRealtime(dev, channels, sink)
		if err == nil {
			return p, nil
		}
		err = fmt.Errorf("%w: %w", audio.ErrTransformUnavailable, err)
		if e.cfg.Mode == ModeRealtime {
			return nil, err
		}
		e.log.Warn("capture: real-time path unavailable, falling back to blocking reads", "err", err)
	}
	return e.openBlocking(dev, channels, sink)
}

func (e *Engine) params(channels, block int) audio.StreamParams {
	return audio.StreamParams{
		SampleRate:       e.cfg.SampleRate,
		Channels:         channels,
		FramesPerBuffer:  block,
		EchoCancellation: !e.cfg.DisableEchoCancellation,
		NoiseSuppression: !e.cfg.DisableNoiseSuppression,
		AutoGainControl:  !e.cfg.DisableAutoGainControl,
	}
}

func (e *Engine) openRealtime(dev audio.DeviceInfo, channels int, sink func([]float32)) (path, error) {
	rp := &realtimePath{}
	s, err := openAtRate(e.params(channels, e.cfg.BlockSize), dev, func(p audio.StreamParams) (audio.Stream, error) {
		return e.host.OpenInput(p, rp.process)
	})
	if err != nil {
		return nil, err
	}
	rp.stream = s
	front, err := newFrontEnd(s.Format(), e.cfg.SampleRate, e.cfg.BlockSize, sink)
	if err != nil {
		_ = rp.close()
		return nil, err
	}
	rp.front = front
	return rp, nil
}

func (e *Engine) openBlocking(dev audio.DeviceInfo, channels int, sink func([]float32)) (path, error) {
	block := e.cfg.FallbackBlockSize
	s, err := openAtRate(e.params(channels, block), dev, e.host.OpenBlockingInput)
	if err != nil {
		return nil, err
	}
	front, err := newFrontEnd(s.Format(), e.cfg.SampleRate, block, sink)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return &blockingPath{
		stream: s,
		front:  front,
		buf:    make([]float32, block*max(s.Format().Channels, 1)),
		log:    e.log,
		onFail: e.onFail,
	}, nil
}

// Record starts delivering frames to onFrame, replacing any previously
// registered consumer. Calling Record while already recording only swaps the
// consumer. Returns [audio.ErrInvalidState] before Begin or after End.
func (e *Engine) Record(onFrame func(audio.Frame)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch st := e.State(); st {
	case audio.StateIdle:
		e.asm.setConsumer(onFrame)
		e.asm.start()
		e.state.Store(int32(audio.StateActive))
		return nil
	case audio.StateActive:
		e.asm.setConsumer(onFrame)
		return nil
	default:
		return fmt.Errorf("capture: record in state %s: %w", st, audio.ErrInvalidState)
	}
}

// Pause stops frame delivery. The partially filled frame, if any, is
// delivered as a final short frame before Pause returns. Pause while not
// recording is a no-op.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != audio.StateActive {
		return
	}
	e.asm.flush()
	e.state.Store(int32(audio.StateIdle))
}

// End stops and releases the input stream. Partial and undelivered frames are
// discarded. End is a no-op unless the engine has been begun.
func (e *Engine) End() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.State(); st == audio.StateUninitialized || st == audio.StateStopped {
		return nil
	}

	e.asm.active.Store(false)
	err := e.path.close()
	e.asm.stop()
	e.lostPrev.Add(e.asm.droppedSamples.Load())

	e.analyzer.Store(nil)
	e.path = nil
	e.asm = nil
	e.state.Store(int32(audio.StateStopped))
	if err != nil {
		return fmt.Errorf("capture: end: %w", err)
	}
	return nil
}

// Frequencies returns the spectrum of the live input, or
// [audio.EmptySpectrum] when the engine has not been begun.
func (e *Engine) Frequencies() audio.Spectrum {
	a := e.analyzer.Load()
	if a == nil {
		return audio.EmptySpectrum()
	}
	return a.Sample()
}

// Recording reports whether frames are currently being delivered.
func (e *Engine) Recording() bool {
	return e.State() == audio.StateActive
}

// State returns the current lifecycle state.
func (e *Engine) State() audio.State {
	return audio.State(e.state.Load())
}

// Mode returns the processing path in use, or [ModeAuto] when no path is open.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.path == nil {
		return ModeAuto
	}
	return e.path.mode()
}

// DroppedFrames returns the number of complete frames discarded since Begin
// because every frame buffer was still waiting for the consumer.
func (e *Engine) DroppedFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.asm == nil {
		return 0
	}
	return e.asm.droppedFrames.Load()
}

func (e *Engine) droppedSamples() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.lostPrev.Load()
	if e.asm != nil {
		n += e.asm.droppedSamples.Load()
	}
	return n
}
