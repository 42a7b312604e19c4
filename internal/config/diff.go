package config

// Diff describes what changed between two configs, restricted to the fields
// that can be applied without restarting the daemon. Everything else
// (listener address, providers, history backend) needs a restart.
type Diff struct {
	// LogLevelChanged is set when server.log_level changed; NewLogLevel
	// holds the new value.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RecordingChanged is set when any capture default changed. New values
	// apply to the next recording session; a running session keeps the
	// settings it started with.
	RecordingChanged bool

	// ScheduleChanged is set when the reminder lead or poll interval
	// changed.
	ScheduleChanged bool
}

// Compare returns what changed between old and new.
func Compare(old, new *Config) Diff {
	var d Diff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Recording != new.Recording {
		d.RecordingChanged = true
	}
	if old.Schedule != new.Schedule {
		d.ScheduleChanged = true
	}
	return d
}
