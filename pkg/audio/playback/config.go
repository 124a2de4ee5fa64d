package playback

import "time"

// Defaults applied by [Config.withDefaults].
const (
	DefaultSampleRate  = 24000
	DefaultChannels    = 1
	DefaultFadeWindow  = 10 * time.Millisecond
	DefaultGracePeriod = 5 * time.Millisecond
	DefaultBlockSize   = 256
	DefaultLookahead   = 1
)

// Config holds the playback parameters. Zero fields take the package defaults.
type Config struct {
	// SampleRate of enqueued chunks that do not carry their own rate, and the
	// rate requested from the device.
	SampleRate int

	// Channels requested from the device. Chunks are mono and duplicated
	// across channels.
	Channels int

	// FadeWindow is the length of the fade-in at the start of every chunk and
	// of the fade-out at the end of chunks longer than twice the window.
	FadeWindow time.Duration

	// GracePeriod is how long the engine waits on an empty queue before it
	// declares the burst ended.
	GracePeriod time.Duration

	// BlockSize is the hardware block size of the output stream.
	BlockSize int

	// Lookahead is the number of chunks handed to the renderer ahead of the
	// one currently playing. At least one keeps consecutive chunks gapless.
	Lookahead int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.FadeWindow <= 0 {
		c.FadeWindow = DefaultFadeWindow
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.Lookahead <= 0 {
		c.Lookahead = DefaultLookahead
	}
	return c
}
