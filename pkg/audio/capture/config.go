package capture

import "fmt"

// Defaults applied by [Config.withDefaults].
const (
	DefaultSampleRate        = 16000
	DefaultChannels          = 1
	DefaultFrameSize         = 960 // 60 ms at 16 kHz
	DefaultBlockSize         = 128
	DefaultFallbackBlockSize = 4096
	DefaultFrameBuffers      = 32
)

// Mode selects the processing path used to pull samples off the device.
type Mode int

const (
	// ModeAuto prefers [ModeRealtime] and falls back to [ModeBlocking] when the
	// callback path cannot be set up.
	ModeAuto Mode = iota

	// ModeRealtime processes small blocks directly on the host's real-time
	// callback thread.
	ModeRealtime

	// ModeBlocking reads larger hardware blocks on a dedicated goroutine.
	ModeBlocking
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeRealtime:
		return "realtime"
	case ModeBlocking:
		return "blocking"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a configuration string into a [Mode]. The empty string
// means [ModeAuto].
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "auto":
		return ModeAuto, nil
	case "realtime":
		return ModeRealtime, nil
	case "blocking":
		return ModeBlocking, nil
	default:
		return ModeAuto, fmt.Errorf("capture: unknown mode %q (want auto, realtime or blocking)", s)
	}
}

// Config holds the capture parameters. Zero fields take the package defaults.
type Config struct {
	// SampleRate of delivered frames in Hz.
	SampleRate int

	// Channels requested from the device. Input is always downmixed to mono.
	Channels int

	// FrameSize is the number of mono samples per delivered [audio.Frame].
	FrameSize int

	// BlockSize is the hardware block size of the real-time path.
	BlockSize int

	// FallbackBlockSize is the hardware block size of the blocking path.
	FallbackBlockSize int

	// FrameBuffers is the number of frames that may be in flight between the
	// processing path and the delivery goroutine.
	FrameBuffers int

	// Mode forces a processing path. The default is [ModeAuto].
	Mode Mode

	// DisableEchoCancellation, DisableNoiseSuppression and
	// DisableAutoGainControl turn off the corresponding device hints, which are
	// requested by default.
	DisableEchoCancellation bool
	DisableNoiseSuppression bool
	DisableAutoGainControl  bool
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.FrameSize <= 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.FallbackBlockSize <= 0 {
		c.FallbackBlockSize = DefaultFallbackBlockSize
	}
	if c.FrameBuffers <= 0 {
		c.FrameBuffers = DefaultFrameBuffers
	}
	return c
}
