// Package portaudio provides the production [audio.Host] backed by the
// PortAudio library via github.com/gordonklaus/portaudio.
//
// PortAudio has no portable switch for echo cancellation, noise suppression
// or automatic gain control; those [audio.StreamParams] hints are logged and
// otherwise ignored. Applications that need them should pick an OS input
// device that applies them (for example a communications endpoint).
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxduplex/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Host = (*Host)(nil)

// Host is an [audio.Host] on the system's default PortAudio devices.
type Host struct {
	mu     sync.Mutex
	closed bool
}

// New initialises PortAudio. Every successful New must be paired with
// [Host.Close]; PortAudio reference-counts initialisation.
func New() (*Host, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrInitialization, err)
	}
	return &Host{}, nil
}

// DefaultInput implements [audio.Host].
func (h *Host) DefaultInput() (audio.DeviceInfo, error) {
	d, err := pa.DefaultInputDevice()
	if err != nil {
		return audio.DeviceInfo{}, fmt.Errorf("portaudio: default input: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	return audio.DeviceInfo{
		Name:              d.Name,
		MaxChannels:       d.MaxInputChannels,
		DefaultSampleRate: d.DefaultSampleRate,
		LowLatency:        d.DefaultLowInputLatency,
	}, nil
}

// DefaultOutput implements [audio.Host].
func (h *Host) DefaultOutput() (audio.DeviceInfo, error) {
	d, err := pa.DefaultOutputDevice()
	if err != nil {
		return audio.DeviceInfo{}, fmt.Errorf("portaudio: default output: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	return audio.DeviceInfo{
		Name:              d.Name,
		MaxChannels:       d.MaxOutputChannels,
		DefaultSampleRate: d.DefaultSampleRate,
		LowLatency:        d.DefaultLowOutputLatency,
	}, nil
}

// OpenInput implements [audio.Host].
func (h *Host) OpenInput(p audio.StreamParams, process func(in []float32)) (audio.Stream, error) {
	params, err := h.inputParams(p)
	if err != nil {
		return nil, err
	}
	s, err := pa.OpenStream(params, process)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input at %s: %w", formatOf(p), err)
	}
	return &stream{s: s, format: grantedFormat(s, p)}, nil
}

// OpenBlockingInput implements [audio.Host].
func (h *Host) OpenBlockingInput(p audio.StreamParams) (audio.BlockingInputStream, error) {
	params, err := h.inputParams(p)
	if err != nil {
		return nil, err
	}
	buf := make([]float32, max(p.FramesPerBuffer, 1)*max(p.Channels, 1))
	s, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open blocking input at %s: %w", formatOf(p), err)
	}
	return &blockingStream{stream: stream{s: s, format: grantedFormat(s, p)}, buf: buf}, nil
}

// OpenOutput implements [audio.Host].
func (h *Host) OpenOutput(p audio.StreamParams, render func(out []float32)) (audio.Stream, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	dev, err := pa.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("portaudio: default output: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	params := pa.StreamParameters{
		Output: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: max(p.Channels, 1),
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(p.SampleRate),
		FramesPerBuffer: p.FramesPerBuffer,
	}
	s, err := pa.OpenStream(params, render)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output at %s: %w", formatOf(p), err)
	}
	return &stream{s: s, format: grantedFormat(s, p)}, nil
}

// Close terminates PortAudio. Streams must be closed first. Close is idempotent.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

func (h *Host) checkOpen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("portaudio: host closed")
	}
	return nil
}

func (h *Host) inputParams(p audio.StreamParams) (pa.StreamParameters, error) {
	if err := h.checkOpen(); err != nil {
		return pa.StreamParameters{}, err
	}
	dev, err := pa.DefaultInputDevice()
	if err != nil {
		return pa.StreamParameters{}, fmt.Errorf("portaudio: default input: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if p.EchoCancellation || p.NoiseSuppression || p.AutoGainControl {
		slog.Debug("portaudio: input processing hints are not supported and are ignored",
			"echo_cancellation", p.EchoCancellation,
			"noise_suppression", p.NoiseSuppression,
			"auto_gain_control", p.AutoGainControl,
		)
	}
	return pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: max(p.Channels, 1),
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(p.SampleRate),
		FramesPerBuffer: p.FramesPerBuffer,
	}, nil
}

func formatOf(p audio.StreamParams) audio.Format {
	return audio.Format{SampleRate: p.SampleRate, Channels: max(p.Channels, 1)}
}

// grantedFormat reports the rate PortAudio actually opened the stream at.
func grantedFormat(s *pa.Stream, p audio.StreamParams) audio.Format {
	f := formatOf(p)
	if info := s.Info(); info != nil && info.SampleRate > 0 {
		f.SampleRate = int(info.SampleRate)
	}
	return f
}

// stream adapts a callback-driven *portaudio.Stream to [audio.Stream].
type stream struct {
	s      *pa.Stream
	format audio.Format
}

func (s *stream) Start() error         { return s.s.Start() }
func (s *stream) Stop() error          { return s.s.Stop() }
func (s *stream) Close() error         { return s.s.Close() }
func (s *stream) Format() audio.Format { return s.format }

// blockingStream adapts a buffer-bound *portaudio.Stream to
// [audio.BlockingInputStream].
type blockingStream struct {
	stream
	buf []float32
}

// Read implements [audio.BlockingInputStream]. Overflowed input is not an
// error: the block is still delivered.
func (s *blockingStream) Read(buf []float32) error {
	if err := s.s.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
		return err
	}
	copy(buf, s.buf)
	return nil
}
