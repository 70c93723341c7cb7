package config

import "reflect"

// ConfigDiff describes what changed between two configs. Fields that can be
// applied at runtime are reported individually; everything else lands in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SilenceDebounceChanged bool
	NewSilenceDebounce     int

	MaxRecordingFramesChanged bool
	NewMaxRecordingFrames     int

	SystemPromptChanged bool
	NewSystemPrompt     string

	// RestartRequired lists top-level sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SilenceDebounceChanged && !d.MaxRecordingFramesChanged &&
		!d.SystemPromptChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Endpoint.SilenceDebounceFrames != new.Endpoint.SilenceDebounceFrames {
		d.SilenceDebounceChanged = true
		d.NewSilenceDebounce = new.Endpoint.SilenceDebounceFrames
	}
	if old.Endpoint.MaxRecordingFrames != new.Endpoint.MaxRecordingFrames {
		d.MaxRecordingFramesChanged = true
		d.NewMaxRecordingFrames = new.Endpoint.MaxRecordingFrames
	}
	if old.Assistant.SystemPrompt != new.Assistant.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.Assistant.SystemPrompt
	}

	// Compare the remaining fields with the hot-reloadable ones masked out.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.Endpoint.SilenceDebounceFrames, n.Endpoint.SilenceDebounceFrames = 0, 0
	o.Endpoint.MaxRecordingFrames, n.Endpoint.MaxRecordingFrames = 0, 0
	o.Assistant.SystemPrompt, n.Assistant.SystemPrompt = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", o.Server, n.Server},
		{"audio", o.Audio, n.Audio},
		{"wake", o.Wake, n.Wake},
		{"endpoint", o.Endpoint, n.Endpoint},
		{"providers", o.Providers, n.Providers},
		{"assistant", o.Assistant, n.Assistant},
		{"pipeline", o.Pipeline, n.Pipeline},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
