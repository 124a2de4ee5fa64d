// Package audio defines the data model, sample codec, and hardware abstraction
// shared by the voxduplex capture and playback engines.
//
// The primary abstractions are:
//
//   - [Host]: opens input and output streams on the local audio hardware.
//   - [Recorder]: turns a continuous input stream into fixed-size PCM [Frame]s.
//   - [Player]: renders variable-size PCM [Chunk]s as continuous output.
//
// Implementations of [Host] are provided by adapter packages (audio/portaudio
// for real devices, audio/mock for tests and headless runs). The engines live
// in audio/capture and audio/playback.
//
// This package lives under pkg/ because external code (alternative hosts,
// custom orchestrators) is expected to implement and consume these interfaces.
package audio

import "time"

// DeviceInfo describes the default device a [Host] would open.
type DeviceInfo struct {
	// Name is the human-readable device name reported by the driver.
	Name string

	// MaxChannels is the number of channels the device supports in the
	// relevant direction.
	MaxChannels int

	// DefaultSampleRate is the device's native rate in Hz.
	DefaultSampleRate float64

	// LowLatency is the driver's suggested latency for interactive use.
	LowLatency time.Duration
}

// StreamParams requests a stream configuration. Hosts may refuse parameters
// they cannot honour by returning an error from the Open* call.
type StreamParams struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int

	// FramesPerBuffer is the hardware block size in frames (samples per channel).
	FramesPerBuffer int

	// EchoCancellation, NoiseSuppression and AutoGainControl are best-effort
	// hints. Hosts that cannot apply them ignore them.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Stream is an open hardware stream.
type Stream interface {
	// Start begins delivering (input) or requesting (output) blocks.
	Start() error

	// Stop halts the stream. Buffered output may be discarded.
	Stop() error

	// Close releases the stream. It is safe to call Close after Stop.
	Close() error

	// Format reports the format actually granted by the device.
	Format() Format
}

// BlockingInputStream is an input [Stream] that is polled instead of pushing
// blocks to a callback.
type BlockingInputStream interface {
	Stream

	// Read blocks until one hardware block is available and copies it, as
	// interleaved samples, into buf. len(buf) must equal FramesPerBuffer ×
	// Channels of the granted format.
	Read(buf []float32) error
}

// Host opens streams on the local audio hardware.
//
// The process and render callbacks passed to OpenInput and OpenOutput run on
// the host's real-time thread. They must not block, must not allocate in the
// steady state, and must finish well within one block period. Buffers passed
// to them are only valid for the duration of the call.
//
// Implementations must be safe for concurrent use.
type Host interface {
	// DefaultInput describes the default capture device. Returns an error
	// wrapping [ErrDeviceUnavailable] when none is present.
	DefaultInput() (DeviceInfo, error)

	// DefaultOutput describes the default output device. Returns an error
	// wrapping [ErrDeviceUnavailable] when none is present.
	DefaultOutput() (DeviceInfo, error)

	// OpenInput opens a callback-driven capture stream on the default input
	// device. process receives interleaved samples.
	OpenInput(p StreamParams, process func(in []float32)) (Stream, error)

	// OpenBlockingInput opens a polled capture stream on the default input device.
	OpenBlockingInput(p StreamParams) (BlockingInputStream, error)

	// OpenOutput opens a callback-driven output stream on the default output
	// device. render must fill out completely with interleaved samples.
	OpenOutput(p StreamParams, render func(out []float32)) (Stream, error)

	// Close releases the host. Streams must be closed first.
	Close() error
}
