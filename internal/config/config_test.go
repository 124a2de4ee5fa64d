package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxduplex/internal/config"
	"github.com/MrWong99/voxduplex/pkg/audio"
	"github.com/MrWong99/voxduplex/pkg/audio/capture"
	"github.com/MrWong99/voxduplex/pkg/audio/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

audio:
  host: "null"

capture:
  sample_rate: 16000
  channels: 2
  frame_size: 480
  block_size: 256
  fallback_block_size: 2048
  mode: blocking
  echo_cancellation: false
  noise_suppression: true
  auto_gain_control: true

playback:
  sample_rate: 24000
  channels: 2
  fade_window: 20ms
  grace_period: 50ms
  block_size: 512

session:
  peer: loopback
  mute_while_playing: false
  loopback_utterance: 2s
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Audio.Host != "null" {
		t.Errorf("audio.host: got %q, want %q", cfg.Audio.Host, "null")
	}
	if cfg.Capture.FrameSize != 480 || cfg.Capture.Channels != 2 {
		t.Errorf("capture: got frame_size=%d channels=%d", cfg.Capture.FrameSize, cfg.Capture.Channels)
	}
	if cfg.Playback.FadeWindow != 20*time.Millisecond {
		t.Errorf("playback.fade_window: got %s, want 20ms", cfg.Playback.FadeWindow)
	}
	if cfg.Playback.GracePeriod != 50*time.Millisecond {
		t.Errorf("playback.grace_period: got %s, want 50ms", cfg.Playback.GracePeriod)
	}
	if cfg.Session.MuteWhilePlaying {
		t.Error("session.mute_while_playing: got true, want false")
	}
	if cfg.Session.LoopbackUtterance != 2*time.Second {
		t.Errorf("session.loopback_utterance: got %s, want 2s", cfg.Session.LoopbackUtterance)
	}
}

func TestLoadFromReader_EmptyIsDefault(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
		want := config.Default()
		if *cfg != *want {
			t.Errorf("config for %q differs from defaults:\n got %+v\nwant %+v", doc, *cfg, *want)
		}
	}
}

func TestLoadFromReader_PartialKeepsDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("capture:\n  frame_size: 320\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.FrameSize != 320 {
		t.Errorf("frame_size: got %d, want 320", cfg.Capture.FrameSize)
	}
	if cfg.Capture.SampleRate != capture.DefaultSampleRate {
		t.Errorf("sample_rate: got %d, want default %d", cfg.Capture.SampleRate, capture.DefaultSampleRate)
	}
	if !cfg.Capture.EchoCancellation {
		t.Error("echo_cancellation should default to true")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("capture:\n  framesize: 320\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/voxduplex.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// ── Conversion ────────────────────────────────────────────────────────────────

func TestCaptureConfig_Engine(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ec := cfg.Capture.Engine()
	if ec.Mode != capture.ModeBlocking {
		t.Errorf("Mode: got %v, want blocking", ec.Mode)
	}
	if !ec.DisableEchoCancellation {
		t.Error("DisableEchoCancellation: got false, want true")
	}
	if ec.DisableNoiseSuppression || ec.DisableAutoGainControl {
		t.Error("noise suppression and AGC should stay enabled")
	}
	if ec.FrameSize != 480 || ec.FallbackBlockSize != 2048 {
		t.Errorf("sizes: got frame=%d fallback=%d", ec.FrameSize, ec.FallbackBlockSize)
	}
}

func TestPlaybackConfig_Engine(t *testing.T) {
	p := config.PlaybackConfig{SampleRate: 22050, Channels: 2, FadeWindow: time.Millisecond, GracePeriod: time.Second, BlockSize: 64}
	ec := p.Engine()
	if ec.SampleRate != 22050 || ec.Channels != 2 || ec.FadeWindow != time.Millisecond || ec.GracePeriod != time.Second || ec.BlockSize != 64 {
		t.Errorf("Engine() = %+v", ec)
	}
}

func TestLogLevel_Level(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want string
	}{
		{config.LogDebug, "DEBUG"},
		{config.LogInfo, "INFO"},
		{config.LogWarn, "WARN"},
		{config.LogError, "ERROR"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		if got := tt.in.Level().String(); got != tt.want {
			t.Errorf("LogLevel(%q).Level() = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		key  string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"empty host", "audio:\n  host: \"\"\n", "audio.host"},
		{"capture rate", "capture:\n  sample_rate: 4000\n", "capture.sample_rate"},
		{"negative frame size", "capture:\n  frame_size: -1\n", "capture.frame_size"},
		{"capture mode", "capture:\n  mode: turbo\n", "capture.mode"},
		{"playback channels", "playback:\n  channels: 64\n", "playback.channels"},
		{"negative fade", "playback:\n  fade_window: -1ms\n", "playback.fade_window"},
		{"huge grace", "playback:\n  grace_period: 1m\n", "playback.grace_period"},
		{"peer", "session:\n  peer: websocket\n", "session.peer"},
		{"short utterance", "session:\n  loopback_utterance: 10ms\n", "session.loopback_utterance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error should mention %s, got: %v", tt.key, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Server.LogLevel = "loud"
	cfg.Capture.Mode = "fast"
	cfg.Playback.SampleRate = 1

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, key := range []string{"log_level", "capture.mode", "playback.sample_rate"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("joined error should mention %s, got: %v", key, err)
		}
	}
}

func TestValidate_UnknownHostIsWarningOnly(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.Host = "alsa"
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unknown host should only warn, got: %v", err)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_UnknownHost(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateHost(config.AudioConfig{Host: "jack"})
	if !errors.Is(err, config.ErrHostNotRegistered) {
		t.Fatalf("expected ErrHostNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredHost(t *testing.T) {
	reg := config.NewRegistry()
	want := &mock.Host{}
	var got config.AudioConfig
	reg.RegisterHost("null", func(cfg config.AudioConfig) (audio.Host, error) {
		got = cfg
		return want, nil
	})

	h, err := reg.CreateHost(config.AudioConfig{Host: "null"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != want {
		t.Error("CreateHost returned a different host")
	}
	if got.Host != "null" {
		t.Errorf("factory received host %q", got.Host)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	boom := errors.New("no sound card")
	reg.RegisterHost("portaudio", func(config.AudioConfig) (audio.Host, error) { return nil, boom })

	_, err := reg.CreateHost(config.AudioConfig{Host: "portaudio"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
}

func TestRegistry_Hosts(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterHost("portaudio", nil)
	reg.RegisterHost("null", nil)
	reg.RegisterHost("null", nil)

	got := reg.Hosts()
	if len(got) != 2 || got[0] != "null" || got[1] != "portaudio" {
		t.Errorf("Hosts() = %v, want [null portaudio]", got)
	}
}
