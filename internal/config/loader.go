package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxduplex/pkg/audio/capture"
)

// KnownHosts lists the audio host names registered by the voxduplex binary.
// Used by [Validate] to warn about unrecognised host names.
var KnownHosts = []string{"portaudio", "null"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio host
	if cfg.Audio.Host == "" {
		errs = append(errs, errors.New("audio.host is required"))
	} else if !slices.Contains(KnownHosts, cfg.Audio.Host) {
		slog.Warn("unknown audio host; it must be registered before startup",
			"name", cfg.Audio.Host,
			"known", KnownHosts,
		)
	}

	// Capture
	c := cfg.Capture
	errs = append(errs, checkRate("capture.sample_rate", c.SampleRate))
	errs = append(errs, checkRange("capture.channels", c.Channels, 0, 32))
	errs = append(errs, checkRange("capture.frame_size", c.FrameSize, 0, 1<<20))
	errs = append(errs, checkRange("capture.block_size", c.BlockSize, 0, 1<<16))
	errs = append(errs, checkRange("capture.fallback_block_size", c.FallbackBlockSize, 0, 1<<16))
	if _, err := capture.ParseMode(c.Mode); err != nil {
		errs = append(errs, fmt.Errorf("capture.mode %q is invalid; valid values: auto, realtime, blocking", c.Mode))
	}

	// Playback
	p := cfg.Playback
	errs = append(errs, checkRate("playback.sample_rate", p.SampleRate))
	errs = append(errs, checkRange("playback.channels", p.Channels, 0, 32))
	errs = append(errs, checkRange("playback.block_size", p.BlockSize, 0, 1<<16))
	errs = append(errs, checkDuration("playback.fade_window", p.FadeWindow, time.Second))
	errs = append(errs, checkDuration("playback.grace_period", p.GracePeriod, 10*time.Second))

	// Session
	if cfg.Session.Peer != "" && !cfg.Session.Peer.IsValid() {
		errs = append(errs, fmt.Errorf("session.peer %q is invalid; valid values: loopback", cfg.Session.Peer))
	}
	errs = append(errs, checkDuration("session.loopback_utterance", cfg.Session.LoopbackUtterance, time.Minute))
	if cfg.Session.LoopbackUtterance > 0 && cfg.Session.LoopbackUtterance < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("session.loopback_utterance %s is shorter than 100ms", cfg.Session.LoopbackUtterance))
	}

	return errors.Join(errs...)
}

// checkRate accepts zero (engine default) or a rate in [8000, 192000] Hz.
func checkRate(key string, rate int) error {
	if rate == 0 {
		return nil
	}
	if rate < 8000 || rate > 192000 {
		return fmt.Errorf("%s %d is out of range [8000, 192000]", key, rate)
	}
	return nil
}

func checkRange(key string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s %d is out of range [%d, %d]", key, v, lo, hi)
	}
	return nil
}

func checkDuration(key string, d, limit time.Duration) error {
	if d < 0 || d > limit {
		return fmt.Errorf("%s %s is out of range [0s, %s]", key, d, limit)
	}
	return nil
}
