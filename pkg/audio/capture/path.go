package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxduplex/pkg/audio"
)

// maxReadErrors is the number of consecutive failed reads after which the
// blocking path gives up.
const maxReadErrors = 8

// path is a processing path: it owns an input stream and feeds every block it
// receives through the shared front end. Exactly one path is active per Begin.
type path interface {
	mode() Mode
	format() audio.Format
	start() error
	close() error
}

// frontEnd converts interleaved device blocks into mono samples at the frame
// rate and hands them to the analyser and the assembler. All buffers are
// sized at construction; process never allocates.
type frontEnd struct {
	channels  int
	block     int // mono samples per sub-block
	mono      []float32
	resampler *audio.Resampler
	resampled []float32
	sink      func([]float32)
}

func newFrontEnd(granted audio.Format, targetRate, block int, sink func([]float32)) (*frontEnd, error) {
	f := &frontEnd{
		channels: max(granted.Channels, 1),
		block:    block,
		mono:     make([]float32, block),
		sink:     sink,
	}
	if granted.SampleRate != targetRate {
		r, err := audio.NewResampler(granted.SampleRate, targetRate)
		if err != nil {
			return nil, err
		}
		f.resampler = r
		f.resampled = make([]float32, r.MaxOutput(block))
	}
	return f, nil
}

func (f *frontEnd) process(in []float32) {
	step := f.block * f.channels
	for len(in) > 0 {
		part := in[:min(step, len(in))]
		in = in[len(part):]

		n := audio.DownmixInto(f.mono, part, f.channels)
		samples := f.mono[:n]
		if f.resampler != nil {
			m := f.resampler.Process(f.resampled, samples)
			samples = f.resampled[:m]
		}
		f.sink(samples)
	}
}

// realtimePath runs the front end directly on the host's callback thread.
type realtimePath struct {
	stream audio.Stream
	front  *frontEnd
}

func (p *realtimePath) mode() Mode           { return ModeRealtime }
func (p *realtimePath) format() audio.Format { return p.stream.Format() }
func (p *realtimePath) start() error         { return p.stream.Start() }

func (p *realtimePath) process(in []float32) {
	if p.front != nil {
		p.front.process(in)
	}
}

func (p *realtimePath) close() error {
	return errors.Join(p.stream.Stop(), p.stream.Close())
}

// blockingPath polls a blocking stream from a dedicated goroutine.
type blockingPath struct {
	stream   audio.BlockingInputStream
	front    *frontEnd
	buf      []float32
	log      *slog.Logger
	onFail   func(error)
	stopping atomic.Bool
	wg       sync.WaitGroup
}

func (p *blockingPath) mode() Mode           { return ModeBlocking }
func (p *blockingPath) format() audio.Format { return p.stream.Format() }

func (p *blockingPath) start() error {
	if err := p.stream.Start(); err != nil {
		return err
	}
	p.wg.Add(1)
	go p.loop()
	return nil
}

func (p *blockingPath) loop() {
	defer p.wg.Done()
	failures := 0
	for {
		err := p.stream.Read(p.buf)
		if p.stopping.Load() {
			return
		}
		if err != nil {
			failures++
			if failures >= maxReadErrors {
				p.log.Error("capture: giving up on input stream", "failures", failures, "err", err)
				if p.onFail != nil {
					// Off this goroutine: the handler may close the path, which waits for it.
					go p.onFail(fmt.Errorf("capture: input stream failed %d times: %w: %w", failures, audio.ErrDeviceUnavailable, err))
				}
				return
			}
			p.log.Warn("capture: input read failed", "err", err)
			continue
		}
		failures = 0
		p.front.process(p.buf)
	}
}

func (p *blockingPath) close() error {
	p.stopping.Store(true)
	err := p.stream.Stop()
	p.wg.Wait()
	return errors.Join(err, p.stream.Close())
}

// openAtRate opens a stream at the configured rate and, if the device refuses
// it, once more at the device's native rate. The caller resamples whatever
// rate was granted.
func openAtRate[S audio.Stream](p audio.StreamParams, dev audio.DeviceInfo, open func(audio.StreamParams) (S, error)) (S, error) {
	s, err := open(p)
	if err == nil {
		return s, nil
	}
	native := int(dev.DefaultSampleRate)
	if native <= 0 || native == p.SampleRate {
		return s, err
	}
	p.SampleRate = native
	s, nerr := open(p)
	if nerr != nil {
		return s, errors.Join(err, fmt.Errorf("at native rate %d Hz: %w", native, nerr))
	}
	return s, nil
}
