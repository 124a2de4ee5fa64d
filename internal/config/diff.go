package config

import "time"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; everything else is
// summarised in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	FadeWindowChanged bool
	NewFadeWindow     time.Duration

	GracePeriodChanged bool
	NewGracePeriod     time.Duration

	// RestartRequired lists the changed keys that only take effect after a
	// restart, in schema order.
	RestartRequired []string
}

// Changed reports whether anything differs between the two configs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.FadeWindowChanged || d.GracePeriodChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Playback.FadeWindow != new.Playback.FadeWindow {
		d.FadeWindowChanged = true
		d.NewFadeWindow = new.Playback.FadeWindow
	}
	if old.Playback.GracePeriod != new.Playback.GracePeriod {
		d.GracePeriodChanged = true
		d.NewGracePeriod = new.Playback.GracePeriod
	}

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("audio", old.Audio != new.Audio)
	restart("capture", old.Capture != new.Capture)

	// Playback minus the tunables handled above.
	op, np := old.Playback, new.Playback
	op.FadeWindow, op.GracePeriod = 0, 0
	np.FadeWindow, np.GracePeriod = 0, 0
	restart("playback", op != np)

	restart("session", old.Session != new.Session)
	return d
}
