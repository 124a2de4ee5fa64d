// Package app wires the voxduplex subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the capture and playback
// engines on an audio host and joins them to a peer in a session, Run starts
// the session and serves the HTTP endpoints until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, pass a mock [audio.Host] and inject a peer or metrics via
// functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxduplex/internal/config"
	"github.com/MrWong99/voxduplex/internal/health"
	"github.com/MrWong99/voxduplex/internal/observe"
	"github.com/MrWong99/voxduplex/internal/session"
	"github.com/MrWong99/voxduplex/pkg/audio"
	"github.com/MrWong99/voxduplex/pkg/audio/capture"
	"github.com/MrWong99/voxduplex/pkg/audio/playback"
)

// httpShutdownTimeout bounds how long Run waits for in-flight requests.
const httpShutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	host    audio.Host
	rec     *capture.Engine
	play    *playback.Engine
	peer    session.Peer
	sess    *session.Session
	health  *health.Handler
	metrics *observe.Metrics
	level   *slog.LevelVar

	configPath    string
	watchInterval time.Duration
	watcher       *config.Watcher

	mu  sync.Mutex
	cfg *config.Config

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithPeer injects the remote party instead of creating one from config.
func WithPeer(p session.Peer) Option {
	return func(a *App) { a.peer = p }
}

// WithMetrics sets the application metrics. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets hot reload change the log level of the handler that
// owns lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigWatch makes Run poll path and apply hot-reloadable changes.
// A non-positive interval uses [config.DefaultWatchInterval].
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App on host. Nothing touches the hardware until Run.
func New(cfg *config.Config, host audio.Host, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if host == nil {
		return nil, errors.New("app: nil audio host")
	}
	a := &App{cfg: cfg, host: host}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.rec = capture.New(host, cfg.Capture.Engine(),
		capture.WithFailureHandler(a.onCaptureFailure),
	)
	a.play = playback.New(host, cfg.Playback.Engine())

	if a.peer == nil {
		peer, err := newPeer(cfg)
		if err != nil {
			return nil, err
		}
		a.peer = peer
	}

	a.sess = session.New(a.rec, a.play, a.peer, session.Config{
		MuteWhilePlaying: cfg.Session.MuteWhilePlaying,
	}, session.WithMetrics(a.metrics))

	a.health = health.New(
		health.EngineChecker("capture", a.rec.State),
		health.EngineChecker("playback", a.play.State),
	)
	return a, nil
}

func newPeer(cfg *config.Config) (session.Peer, error) {
	switch cfg.Session.Peer {
	case config.PeerLoopback, "":
		return session.NewLoopbackPeer(
			orDefault(cfg.Capture.SampleRate, capture.DefaultSampleRate),
			orDefault(cfg.Playback.SampleRate, playback.DefaultSampleRate),
			cfg.Session.LoopbackUtterance,
		), nil
	default:
		return nil, fmt.Errorf("app: unknown peer %q", cfg.Session.Peer)
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// orDefaultDuration mirrors the engine defaults, where zero means "use the default".
func orDefaultDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// onCaptureFailure runs when the capture device gave up. The session is
// built after the capture engine, so this cannot be a method value of it.
func (a *App) onCaptureFailure(err error) {
	a.sess.NotifyCaptureFailure(err)
}

// Session returns the running session.
func (a *App) Session() *session.Session { return a.sess }

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the session and, when a listen address is configured, the HTTP
// server. It blocks until ctx is cancelled and returns context.Canceled (or
// the cause), or the first error of a failed subsystem.
func (a *App) Run(ctx context.Context) error {
	if err := a.sess.Start(ctx); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, func(_, next *config.Config) {
			a.ApplyConfig(next)
		}, config.WithInterval(a.watchInterval))
		if err != nil {
			slog.Warn("app: config hot reload disabled", "path", a.configPath, "err", err)
		} else {
			a.mu.Lock()
			a.watcher = w
			a.mu.Unlock()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if addr := a.Config().Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("app: http server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("app running", "session_id", a.sess.ID())
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyConfig applies the hot-reloadable fields of next and logs the changes
// that need a restart. It returns what differed from the config in effect.
func (a *App) ApplyConfig(next *config.Config) config.ConfigDiff {
	a.mu.Lock()
	prev := a.cfg
	d := config.Diff(prev, next)
	if d.Changed() {
		// Restart-only fields stay as they were until the process restarts.
		merged := *prev
		merged.Server.LogLevel = next.Server.LogLevel
		merged.Playback.FadeWindow = next.Playback.FadeWindow
		merged.Playback.GracePeriod = next.Playback.GracePeriod
		a.cfg = &merged
	}
	a.mu.Unlock()

	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Level())
		}
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.FadeWindowChanged {
		a.play.SetFadeWindow(orDefaultDuration(d.NewFadeWindow, playback.DefaultFadeWindow))
		slog.Info("app: playback fade window changed", "fade_window", d.NewFadeWindow)
	}
	if d.GracePeriodChanged {
		a.play.SetGracePeriod(orDefaultDuration(d.NewGracePeriod, playback.DefaultGracePeriod))
		slog.Info("app: playback grace period changed", "grace_period", d.NewGracePeriod)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart", "keys", d.RestartRequired)
	}
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the process as draining, stops the session and releases the
// audio host. It respects the context deadline: if ctx expires first, the
// remaining steps are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		a.health.SetDraining()

		a.mu.Lock()
		w := a.watcher
		a.mu.Unlock()
		if w != nil {
			w.Stop()
		}

		steps := []struct {
			name string
			fn   func() error
		}{
			{"session", a.sess.Stop},
			{"audio host", a.host.Close},
		}
		var errs []error
		for i, s := range steps {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(steps)-i)
				errs = append(errs, err)
				break
			}
			if err := s.fn(); err != nil {
				slog.Warn("shutdown step failed", "step", s.name, "err", err)
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			}
		}
		shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
