package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxduplex/pkg/audio"
	"github.com/MrWong99/voxduplex/pkg/audio/capture"
	"github.com/MrWong99/voxduplex/pkg/audio/mock"
)

// frameLog collects delivered frames.
type frameLog struct {
	mu     sync.Mutex
	frames [][]int16
}

func (l *frameLog) add(f audio.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f.Mono)
}

func (l *frameLog) snapshot() [][]int16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]int16(nil), l.frames...)
}

// waitFor blocks until at least n frames have been delivered.
func (l *frameLog) waitFor(t *testing.T, n int) [][]int16 {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := l.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, got %d", n, len(l.snapshot()))
	return nil
}

// ramp returns n float samples whose PCM16 values count up from start.
func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = audio.ToFloat32(int16((start + i) % 30000))
	}
	return out
}

// push feeds samples to a callback stream in blocks of size block.
func push(t *testing.T, s *mock.InputStream, samples []float32, block int) {
	t.Helper()
	for len(samples) > 0 {
		n := min(block, len(samples))
		if !s.Push(samples[:n]) {
			t.Fatal("push on stopped stream")
		}
		samples = samples[n:]
	}
}

func newEngine(t *testing.T, host *mock.Host, cfg capture.Config, opts ...capture.Option) *capture.Engine {
	t.Helper()
	e := capture.New(host, cfg, opts...)
	t.Cleanup(func() { _ = e.End() })
	return e
}

func TestBegin_NoInputDevice(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &mock.Host{NoInput: true}, capture.Config{})
	err := e.Begin(context.Background())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("Begin error = %v, want ErrDeviceUnavailable", err)
	}
	if e.Recording() {
		t.Error("Recording() = true after failed Begin")
	}
	if got := e.State(); got != audio.StateUninitialized {
		t.Errorf("State() = %s, want UNINITIALIZED", got)
	}
	if err := e.Record(func(audio.Frame) {}); !errors.Is(err, audio.ErrInvalidState) {
		t.Errorf("Record after failed Begin = %v, want ErrInvalidState", err)
	}
}

func TestBegin_Twice(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &mock.Host{}, capture.Config{})
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := e.Begin(context.Background()); !errors.Is(err, audio.ErrInvalidState) {
		t.Errorf("second Begin = %v, want ErrInvalidState", err)
	}
}

func TestBegin_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newEngine(t, &mock.Host{}, capture.Config{})
	if err := e.Begin(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Begin = %v, want context.Canceled", err)
	}
}

func TestBegin_RequestsProcessingHints(t *testing.T) {
	t.Parallel()

	host := &mock.Host{}
	e := newEngine(t, host, capture.Config{DisableNoiseSuppression: true})
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	p := host.LastInput().Params()
	if !p.EchoCancellation || !p.AutoGainControl {
		t.Errorf("hints not requested: %+v", p)
	}
	if p.NoiseSuppression {
		t.Error("noise suppression requested despite being disabled")
	}
	if p.SampleRate != capture.DefaultSampleRate || p.FramesPerBuffer != capture.DefaultBlockSize {
		t.Errorf("params = %+v", p)
	}
}

func TestRecord_BeforeBegin(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &mock.Host{}, capture.Config{})
	if err := e.Record(func(audio.Frame) {}); !errors.Is(err, audio.ErrInvalidState) {
		t.Errorf("Record = %v, want ErrInvalidState", err)
	}
}

func TestRealtime_FramesExactSizeAndFlushOnPause(t *testing.T) {
	t.Parallel()

	host := &mock.Host{}
	e := newEngine(t, host, capture.Config{})
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if got := e.Mode(); got != capture.ModeRealtime {
		t.Fatalf("Mode() = %s, want realtime", got)
	}

	var log frameLog
	if err := e.Record(log.add); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !e.Recording() {
		t.Fatal("Recording() = false after Record")
	}

	// 100 blocks of 128 = 12800 samples: 13 full frames and 320 left over.
	push(t, host.LastInput(), ramp(0, 12800), 128)
	log.waitFor(t, 13)

	e.Pause()
	frames := log.snapshot()
	if len(frames) != 14 {
		t.Fatalf("got %d frames after Pause, want 14", len(frames))
	}
	for i, f := range frames[:13] {
		if len(f) != 960 {
			t.Errorf("frame %d has %d samples, want 960", i, len(f))
		}
	}
	if got := len(frames[13]); got != 320 {
		t.Errorf("flush frame has %d samples, want 320", got)
	}

	// Strict capture order across frame boundaries.
	next := 0
	for i, f := range frames {
		for j, s := range f {
			if int(s) != next%30000 {
				t.Fatalf("frame %d sample %d = %d, want %d", i, j, s, next%30000)
			}
			next++
		}
	}

	if e.Recording() {
		t.Error("Recording() = true after Pause")
	}
}

func TestPause_NothingBuffered(t *testing.T) {
	t.Parallel()

	host := &mock.Host{}
	e := newEngine(t, host, capture.Config{FrameSize: 100})
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	e.Pause() // idle: no-op

	var log frameLog
	if err := e.Record(log.add); err != nil {
		t.Fatalf("Record: %v", err)
	}
	push(t, host.LastInput(), ramp(0, 200), 100)
	log.waitFor(t, 2)
	e.Pause()
	if got := len(log.snapshot()); got != 2 {
		t.Errorf("got %d frames, want 2 (no empty flush frame)", got)
	}
}

func TestPause_DiscardsLaterInput(t *testing.T) {
	t.Parallel()

	host := &mock.Host{}
	e := newEngine(t, host, capture.Config{FrameSize: 100})
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var log frameLog
	if err := e.Record(log.add); err != nil {
		t.Fatalf("Record: %v", err)
	}
	push(t, host.LastInput(), ramp(0, 50), 50)
	e.Pause()
	push(t, host.LastInput(), ramp(50, 500), 100)

	// Resume: the accumulator starts empty.
	if err := e.Record(log.add); err != nil {
		t.Fatalf("Record: %v", err)
	}
	push(t, host.LastInput(), ramp(1000, 100), 100)
	frames := log.waitFor(t, 2)
	if len(frames[0]) != 50 {
		t.Errorf("flush frame has %d samples, want 50", len(frames[0]))
	}
	if len(frames[1]) != 100 || frames[1][0] != 1000 {
		t.Errorf("frame after resume starts at %d with %d samples, want 1000 with 100", frames[1][0], len(frames[1]))
	}
}

func TestRecord_ReplacesConsumer(t *testing.T) {
	t.Parallel()

	host := &mock.Host{}
	e := newEngine(t, host, capture.Config{FrameSize: 100})
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var first, second frameLog
	if err := e.Record(first.add); err != nil {
		t.Fatalf("Record: %v", err)
	}
	push(t, host.LastInput(), ramp(0, 100), 100)
	first.waitFor(t, 1)

	if err := e.Record(second.add); err != nil {
		t.Fatalf("second Record: %v", err)
	}
	push(t, host.LastInput(), ramp(100, 100), 100)
	second.waitFor(t, 1)
	if got := len(first.snapshot()); got != 1 {
		t.Errorf("first consumer got %d frames, want 1", got)
	}
}

func TestBlockingFallback(t *testing.T) {
	t.Parallel()

	host := &mock.Host{RealtimeError: errors.New("no callback support")}
	e := newEngine(t, host, capture.Config{})
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if got := e.Mode(); got != capture.ModeBlocking {
		t.Fatalf("Mode() = %s, want blocking", got)
	}
	s := host.LastBlockingInput()
	if s == nil {
		t.Fatal("no blocking stream opened")
	}
	if got := s.Params().FramesPerBuffer; got != capture.DefaultFallbackBlockSize {
		t.Errorf("FramesPerBuffer = %d, want %d", got, capture.DefaultFallbackBlockSize)
	}

	var log frameLog
	if err := e.Record(log.add); err != nil {
		t.Fatalf("Record: %v", err)
	}
	samples := ramp(0, 3*4096)
	for i := range 3 {
		if !s.Push(samples[i*4096 : (i+1)*4096]) {
			t.Fatal("block queue full")
		}
	}
	log.waitFor(t, 12)
	e.Pause()

	frames := log.snapshot()
	if len(frames) != 13 {
		t.Fatalf("got %d frames, want 13", len(frames))
	}
	if got := len(frames[12]); got != 3*4096-12*960 {
		t.Errorf("flush frame has %d samples, want %d", got, 3*4096-12*960)
	}
	next := 0
	for _, f := range frames {
		for _, v := range f {
			if int(v) != next {
				t.Fatalf("sample %d = %d, out of order", next, v)
			}
			next++
		}
	}
}

func TestForcedModes(t *testing.T) {
	t.Parallel()

	t.Run("blocking", func(t *testing.T) {
		t.Parallel()
		host := &mock.Host{}
		e := newEngine(t, host, capture.Config{Mode: capture.ModeBlocking})
		if err := e.Begin(context.Background()); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		if host.LastInput() != nil {
			t.Error("callback stream opened in blocking mode")
		}
		if got := e.Mode(); got != capture.ModeBlocking {
			t.Errorf("Mode() = %s, want blocking", got)
		}
	})

	t.Run("realtime unavailable", func(t *testing.T) {
		t.Parallel()
		host := &mock.Host{RealtimeError: errors.New("no callback support")}
		e := newEngine(t, host, capture.Config{Mode: capture.ModeRealtime})
		err := e.Begin(context.Background())
		if !errors.Is(err, audio.ErrInitialization) {
			t.Errorf("Begin = %v, want ErrInitialization", err)
		}
		if !errors.Is(err, audio.ErrTransformUnavailable) {
			t.Errorf("Begin = %v, want ErrTransformUnavailable in chain", err)
		}
		if host.LastBlockingInput() != nil {
			t.Error("fell back despite forced realtime mode")
		}
	})
}

func TestBegin_NoPathAvailable(t *testing.T) {
	t.Parallel()

	host := &mock.Host{
		RealtimeError: errors.New("no callback support"),
		BlockingError: errors.New("device busy"),
	}
	e := newEngine(t, host, capture.Config{})
	if err := e.Begin(context.Background()); !errors.Is(err, audio.ErrInitialization) {
		t.Fatalf("Begin = %v, want ErrInitialization", err)
	}
	if e.Recording() {
		t.Error("Recording() = true after failed Begin")
	}
}

func TestStereoInputDownmixed(t *testing.T) {
	t.Parallel()

	host := &mock.Host{InputChannels: 2}
	e := newEngine(t, host, capture.Config{Channels: 2, FrameSize: 64})
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var log frameLog
	if err := e.Record(log.add); err != nil {
		t.Fatalf("Record: %v", err)
	}
	block := make([]float32, 128) // 64 stereo frames
	for i := 0; i < len(block); i += 2 {
		block[i], block[i+1] = 0.75, 0.25
	}
	push(t, host.LastInput(), block, 128)
	frames := log.waitFor(t, 1)
	want := audio.ToPCM16(0.5)
	for i, s := range frames[0] {
		if s != want {
			t.Fatalf("sample %d = %d, want %d", i, s, want)
		}
	}
}

func TestNativeRateResampled(t *testing.T) {
	t.Parallel()

	host := &mock.Host{InputRate: 48000, InputChannels: 1}
	e := newEngine(t, host, capture.Config{})
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if len(host.InputParams) != 2 || host.InputParams[0].SampleRate != 16000 || host.InputParams[1].SampleRate != 48000 {
		t.Fatalf("open attempts = %+v, want 16000 then 48000", host.InputParams)
	}

	var log frameLog
	if err := e.Record(log.add); err != nil {
		t.Fatalf("Record: %v", err)
	}
	second := make([]float32, 48000)
	for i := range second {
		second[i] = 0.25
	}
	push(t, host.LastInput(), second, 128)
	frames := log.waitFor(t, 16)
	want := audio.ToPCM16(0.25)
	for i, f := range frames {
		if len(f) != 960 {
			t.Errorf("frame %d has %d samples", i, len(f))
		}
		for _, s := range f {
			if s != want {
				t.Fatalf("frame %d: sample %d, want %d", i, s, want)
			}
		}
	}
}

func TestEnd_DiscardsAndAllowsRestart(t *testing.T) {
	t.Parallel()

	host := &mock.Host{}
	e := newEngine(t, host, capture.Config{})
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var log frameLog
	if err := e.Record(log.add); err != nil {
		t.Fatalf("Record: %v", err)
	}
	push(t, host.LastInput(), ramp(0, 500), 128)
	stream := host.LastInput()

	if err := e.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if got := len(log.snapshot()); got != 0 {
		t.Errorf("End delivered %d frames, want 0", got)
	}
	if !stream.Closed() {
		t.Error("input stream not closed by End")
	}
	if e.Recording() || e.State() != audio.StateStopped {
		t.Errorf("after End: Recording=%v State=%s", e.Recording(), e.State())
	}
	if got := e.Frequencies(); len(got.Values) != 1 || got.Values[0] != 0 {
		t.Errorf("Frequencies after End = %v, want [0]", got.Values)
	}
	if err := e.End(); err != nil {
		t.Errorf("second End: %v", err)
	}

	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin after End: %v", err)
	}
	if host.LastInput() == stream {
		t.Error("Begin after End reused the closed stream")
	}
}

func TestFrequencies(t *testing.T) {
	t.Parallel()

	host := &mock.Host{}
	e := newEngine(t, host, capture.Config{})
	if got := e.Frequencies(); len(got.Values) != 1 || got.Values[0] != 0 {
		t.Errorf("Frequencies before Begin = %v, want [0]", got.Values)
	}
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if got := len(e.Frequencies().Values); got != 1024 {
		t.Errorf("Frequencies has %d bins, want 1024", got)
	}
}

func TestDroppedFrames_SlowConsumer(t *testing.T) {
	t.Parallel()

	host := &mock.Host{}
	e := newEngine(t, host, capture.Config{FrameSize: 100, FrameBuffers: 1})
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	gate := make(chan struct{})
	entered := make(chan struct{}, 16)
	if err := e.Record(func(audio.Frame) {
		entered <- struct{}{}
		<-gate
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	push(t, host.LastInput(), ramp(0, 100), 100)
	<-entered // consumer is now stuck on the first frame
	push(t, host.LastInput(), ramp(100, 1000), 100)

	if got := e.DroppedFrames(); got == 0 {
		t.Error("DroppedFrames() = 0, want > 0 with a stalled consumer")
	}
	close(gate)
}

func TestFramesMetric(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	host := &mock.Host{}
	e := newEngine(t, host, capture.Config{FrameSize: 100}, capture.WithMeterProvider(mp))
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var log frameLog
	if err := e.Record(log.add); err != nil {
		t.Fatalf("Record: %v", err)
	}
	push(t, host.LastInput(), ramp(0, 300), 100)
	log.waitFor(t, 3)
	e.Pause() // waits for the delivery goroutine to drain

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "voxduplex.capture.frames" {
				continue
			}
			found = true
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 {
				t.Fatalf("unexpected data %T", m.Data)
			}
			if got := sum.DataPoints[0].Value; got != 3 {
				t.Errorf("frames = %d, want 3", got)
			}
		}
	}
	if !found {
		t.Error("voxduplex.capture.frames not recorded")
	}
}

func TestBlockingPath_FailureHandler(t *testing.T) {
	t.Parallel()

	failed := make(chan error, 1)
	host := &mock.Host{RealtimeError: errors.New("no callback support")}
	e := newEngine(t, host, capture.Config{}, capture.WithFailureHandler(func(err error) { failed <- err }))
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	s := host.LastBlockingInput()
	for range 8 {
		if !s.Fail(errors.New("device unplugged")) {
			t.Fatal("error queue full")
		}
	}

	select {
	case err := <-failed:
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			t.Errorf("failure %v does not wrap ErrDeviceUnavailable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure handler not called")
	}

	if err := e.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin after failure: %v", err)
	}
	if host.LastBlockingInput() == s {
		t.Error("Begin reused the failed stream")
	}
}

func TestBlockingPath_TransientErrorsTolerated(t *testing.T) {
	t.Parallel()

	failed := make(chan error, 1)
	host := &mock.Host{RealtimeError: errors.New("no callback support")}
	e := newEngine(t, host, capture.Config{}, capture.WithFailureHandler(func(err error) { failed <- err }))
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var log frameLog
	if err := e.Record(log.add); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s := host.LastBlockingInput()
	for range 7 {
		s.Fail(errors.New("overrun"))
	}
	s.Push(ramp(0, 4096))
	log.waitFor(t, 4)

	select {
	case err := <-failed:
		t.Fatalf("failure handler called after transient errors: %v", err)
	default:
	}
}
