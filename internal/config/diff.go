package config

import "time"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields carry their new value; every other changed section
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     int

	AdvisoryIntervalChanged bool
	NewAdvisoryInterval     time.Duration

	// RestartRequired names the config keys that changed but only take
	// effect after a restart, e.g. "matcher" or "document.path".
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdChanged || d.AdvisoryIntervalChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Hot-reloadable.
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Throttle.Threshold != new.Throttle.Threshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Throttle.Threshold
	}
	if old.Advisory.MinInterval != new.Advisory.MinInterval {
		d.AdvisoryIntervalChanged = true
		d.NewAdvisoryInterval = new.Advisory.MinInterval
	}

	// Restart required.
	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Throttle.MaxRoundAge != new.Throttle.MaxRoundAge {
		d.RestartRequired = append(d.RestartRequired, "throttle.max_round_age")
	}
	if old.Matcher != new.Matcher {
		d.RestartRequired = append(d.RestartRequired, "matcher")
	}
	if old.Caption != new.Caption {
		d.RestartRequired = append(d.RestartRequired, "caption")
	}
	if old.Document != new.Document {
		d.RestartRequired = append(d.RestartRequired, "document.path")
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
