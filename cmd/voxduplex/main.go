// Command voxduplex runs full-duplex voice audio I/O on the local machine.
//
// Without -play or -record it runs the application: a session between the
// default audio devices and the configured peer, plus the HTTP endpoints.
// With -play it plays a WAV file and exits when playback ends. With -record
// it records the default input into a WAV file for -duration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxduplex/internal/app"
	"github.com/MrWong99/voxduplex/internal/config"
	"github.com/MrWong99/voxduplex/internal/observe"
	"github.com/MrWong99/voxduplex/internal/wavfile"
	"github.com/MrWong99/voxduplex/pkg/audio"
	"github.com/MrWong99/voxduplex/pkg/audio/capture"
	"github.com/MrWong99/voxduplex/pkg/audio/mock"
	"github.com/MrWong99/voxduplex/pkg/audio/playback"
	"github.com/MrWong99/voxduplex/pkg/audio/portaudio"
)

// version is set at build time with -ldflags "-X main.version=…".
var version = "dev"

// playChunkSamples splits WAV files into chunks the way a streaming peer would.
const playChunkSamples = 4800

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	playPath := flag.String("play", "", "play a WAV file through the playback engine and exit")
	recordPath := flag.String("record", "", "record the default input into a WAV file and exit")
	duration := flag.Duration("duration", 5*time.Second, "recording length for -record")
	flag.Parse()

	if *playPath != "" && *recordPath != "" {
		fmt.Fprintln(os.Stderr, "voxduplex: -play and -record are mutually exclusive")
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "voxduplex: config file %q not found\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "voxduplex: %v\n", err)
			}
			return 1
		}
		cfg = loaded
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxduplex starting",
		"version", version,
		"config", *configPath,
		"audio_host", cfg.Audio.Host,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Audio host ────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinHosts(reg)

	host, err := reg.CreateHost(cfg.Audio)
	if err != nil {
		slog.Error("failed to create audio host", "host", cfg.Audio.Host, "available", reg.Hosts(), "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *playPath != "":
		return exitCode(playFile(ctx, host, cfg, *playPath))
	case *recordPath != "":
		return exitCode(recordFile(ctx, host, cfg, *recordPath, *duration))
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		_ = host.Close()
		return 1
	}

	opts := []app.Option{app.WithLevelVar(level)}
	if *configPath != "" {
		opts = append(opts, app.WithConfigWatch(*configPath, 0))
	}
	application, err := app.New(cfg, host, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = host.Close()
		return 1
	}

	slog.Info("voxduplex ready, press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Host wiring ───────────────────────────────────────────────────────────────

// registerBuiltinHosts wires the audio hosts that ship with voxduplex into reg.
func registerBuiltinHosts(reg *config.Registry) {
	reg.RegisterHost("portaudio", func(config.AudioConfig) (audio.Host, error) {
		h, err := portaudio.New()
		if err != nil {
			return nil, err
		}
		return h, nil
	})

	// null runs the engines against wall-clock paced silence, for machines
	// without audio hardware.
	reg.RegisterHost("null", func(config.AudioConfig) (audio.Host, error) {
		return &mock.Host{Paced: true}, nil
	})

	for _, name := range reg.Hosts() {
		slog.Debug("registered audio host", "name", name)
	}
}

// ── One-shot modes ────────────────────────────────────────────────────────────

// playFile plays path through a playback engine and returns when playback
// ends or ctx is cancelled.
func playFile(ctx context.Context, host audio.Host, cfg *config.Config, path string) (err error) {
	defer func() { err = errors.Join(err, host.Close()) }()

	chunks, err := wavfile.ReadChunks(path, playChunkSamples, uuid.NewString())
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return fmt.Errorf("voxduplex: %s holds no audio", path)
	}

	eng := playback.New(host, cfg.Playback.Engine())
	ended := make(chan struct{}, 1)
	eng.OnEnded(func() {
		select {
		case ended <- struct{}{}:
		default:
		}
	})
	if err := eng.Connect(ctx); err != nil {
		return err
	}
	defer func() { err = errors.Join(err, eng.Close()) }()

	var total time.Duration
	for _, c := range chunks {
		eng.Enqueue(c)
		total += c.Duration(cfg.Playback.SampleRate)
	}
	slog.Info("playing", "path", path, "chunks", len(chunks), "duration", total.Round(time.Millisecond))

	select {
	case <-ended:
		slog.Info("playback finished")
	case <-ctx.Done():
		ir := eng.Interrupt()
		slog.Info("playback interrupted", "stream_id", ir.StreamID, "offset", ir.Offset)
	}
	return nil
}

// recordFile records the default input into path for d or until ctx is
// cancelled.
func recordFile(ctx context.Context, host audio.Host, cfg *config.Config, path string, d time.Duration) (err error) {
	defer func() { err = errors.Join(err, host.Close()) }()

	ccfg := cfg.Capture.Engine()
	rate := ccfg.SampleRate
	if rate <= 0 {
		rate = capture.DefaultSampleRate
	}
	w, err := wavfile.NewWriter(path, rate)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, w.Close()) }()

	eng := capture.New(host, ccfg)
	if err := eng.Begin(ctx); err != nil {
		return err
	}
	err = eng.Record(func(f audio.Frame) {
		if werr := w.WriteFrame(f); werr != nil {
			slog.Warn("record: write frame", "err", werr)
		}
	})
	if err != nil {
		return errors.Join(err, eng.End())
	}
	slog.Info("recording", "path", path, "duration", d, "mode", eng.Mode())

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	// Pause flushes the partial frame to the writer before End discards state.
	eng.Pause()
	if err := eng.End(); err != nil {
		return err
	}
	slog.Info("recording finished", "samples", w.Samples(), "dropped_frames", eng.DroppedFrames())
	return nil
}

func exitCode(err error) int {
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("voxduplex failed", "err", err)
		return 1
	}
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger whose level can be changed at runtime
// through the returned LevelVar.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(level.Level())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}
