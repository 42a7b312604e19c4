package config_test

import (
	"strings"
	"testing"

	"talkwise/internal/config"
)

func loadYAML(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestCompareNoChanges(t *testing.T) {
	t.Parallel()

	old := loadYAML(t, "{}")
	new := loadYAML(t, "{}")

	d := config.Compare(old, new)
	if d.LogLevelChanged || d.RecordingChanged || d.ScheduleChanged {
		t.Errorf("identical configs produced diff %+v", d)
	}
}

func TestCompareLogLevel(t *testing.T) {
	t.Parallel()

	old := loadYAML(t, "server:\n  log_level: info\n")
	new := loadYAML(t, "server:\n  log_level: debug\n")

	d := config.Compare(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged should be set")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestCompareRecordingAndSchedule(t *testing.T) {
	t.Parallel()

	old := loadYAML(t, "{}")
	new := loadYAML(t, "recording:\n  source: system\nschedule:\n  reminder_lead: 5m\n")

	d := config.Compare(old, new)
	if !d.RecordingChanged {
		t.Error("RecordingChanged should be set")
	}
	if !d.ScheduleChanged {
		t.Error("ScheduleChanged should be set")
	}
	if d.LogLevelChanged {
		t.Error("LogLevelChanged should not be set")
	}
}
