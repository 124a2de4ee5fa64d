// Package config provides the configuration schema, loader, hot-reload watcher
// and audio host registry for voxduplex.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxduplex/pkg/audio/capture"
	"github.com/MrWong99/voxduplex/pkg/audio/playback"
)

// LogLevel controls log verbosity for the voxduplex server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the corresponding [slog.Level]. Unknown or empty levels map
// to [slog.LevelInfo].
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PeerKind selects the remote party a session exchanges audio with.
type PeerKind string

// PeerLoopback echoes captured utterances back through playback.
const PeerLoopback PeerKind = "loopback"

// IsValid reports whether p is a recognised peer kind.
func (p PeerKind) IsValid() bool {
	return p == PeerLoopback
}

// Config is the root configuration structure for voxduplex.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health, metrics and spectrum
	// endpoints (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the audio host implementation.
type AudioConfig struct {
	// Host names a factory registered in the [Registry] ("portaudio", "null").
	Host string `yaml:"host"`
}

// CaptureConfig mirrors [capture.Config] in YAML form.
type CaptureConfig struct {
	SampleRate        int    `yaml:"sample_rate"`
	Channels          int    `yaml:"channels"`
	FrameSize         int    `yaml:"frame_size"`
	BlockSize         int    `yaml:"block_size"`
	FallbackBlockSize int    `yaml:"fallback_block_size"`
	Mode              string `yaml:"mode"`

	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control"`
}

// Engine converts c into the engine configuration. c must have passed
// [Validate]; an unknown mode maps to [capture.ModeAuto].
func (c CaptureConfig) Engine() capture.Config {
	mode, _ := capture.ParseMode(c.Mode)
	return capture.Config{
		SampleRate:              c.SampleRate,
		Channels:                c.Channels,
		FrameSize:               c.FrameSize,
		BlockSize:               c.BlockSize,
		FallbackBlockSize:       c.FallbackBlockSize,
		Mode:                    mode,
		DisableEchoCancellation: !c.EchoCancellation,
		DisableNoiseSuppression: !c.NoiseSuppression,
		DisableAutoGainControl:  !c.AutoGainControl,
	}
}

// PlaybackConfig mirrors [playback.Config] in YAML form. FadeWindow and
// GracePeriod are hot-reloadable.
type PlaybackConfig struct {
	SampleRate  int           `yaml:"sample_rate"`
	Channels    int           `yaml:"channels"`
	FadeWindow  time.Duration `yaml:"fade_window"`
	GracePeriod time.Duration `yaml:"grace_period"`
	BlockSize   int           `yaml:"block_size"`
}

// Engine converts p into the engine configuration.
func (p PlaybackConfig) Engine() playback.Config {
	return playback.Config{
		SampleRate:  p.SampleRate,
		Channels:    p.Channels,
		FadeWindow:  p.FadeWindow,
		GracePeriod: p.GracePeriod,
		BlockSize:   p.BlockSize,
	}
}

// SessionConfig controls how capture and playback are wired to the peer.
type SessionConfig struct {
	// Peer selects the remote party.
	Peer PeerKind `yaml:"peer"`

	// MuteWhilePlaying pauses capture while playback is audible, so the
	// peer never hears its own output.
	MuteWhilePlaying bool `yaml:"mute_while_playing"`

	// LoopbackUtterance is the length of audio the loopback peer collects
	// before echoing it back.
	LoopbackUtterance time.Duration `yaml:"loopback_utterance"`
}

// Default returns the configuration used for every key a YAML document does
// not set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Audio: AudioConfig{Host: "portaudio"},
		Capture: CaptureConfig{
			SampleRate:        capture.DefaultSampleRate,
			Channels:          capture.DefaultChannels,
			FrameSize:         capture.DefaultFrameSize,
			BlockSize:         capture.DefaultBlockSize,
			FallbackBlockSize: capture.DefaultFallbackBlockSize,
			Mode:              capture.ModeAuto.String(),
			EchoCancellation:  true,
			NoiseSuppression:  true,
			AutoGainControl:   true,
		},
		Playback: PlaybackConfig{
			SampleRate:  playback.DefaultSampleRate,
			Channels:    playback.DefaultChannels,
			FadeWindow:  playback.DefaultFadeWindow,
			GracePeriod: playback.DefaultGracePeriod,
			BlockSize:   playback.DefaultBlockSize,
		},
		Session: SessionConfig{
			Peer:              PeerLoopback,
			MuteWhilePlaying:  true,
			LoopbackUtterance: 3 * time.Second,
		},
	}
}
