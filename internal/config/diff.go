package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else sets RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// OverridesChanged is true when any of the greeting, reset greeting,
	// fallback notice, or voice label overrides changed.
	OverridesChanged bool

	ExportDirChanged bool
	NewExportDir     string

	// RestartRequired is true when a field that cannot be hot-reloaded
	// changed (service origin, character selection, listener addresses,
	// audio device).
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Chat.Greeting != new.Chat.Greeting ||
		old.Chat.ResetGreeting != new.Chat.ResetGreeting ||
		old.Chat.FallbackNotice != new.Chat.FallbackNotice ||
		old.Chat.VoiceLabel != new.Chat.VoiceLabel {
		d.OverridesChanged = true
	}

	if old.Export.Dir != new.Export.Dir {
		d.ExportDirChanged = true
		d.NewExportDir = new.Export.Dir
	}

	if old.Chat.Origin != new.Chat.Origin ||
		old.Chat.CharacterID != new.Chat.CharacterID ||
		old.Chat.ExchangeTimeout != new.Chat.ExchangeTimeout ||
		old.Server.MetricsAddr != new.Server.MetricsAddr ||
		old.Server.UIAddr != new.Server.UIAddr ||
		old.Audio != new.Audio {
		d.RestartRequired = true
	}

	return d
}
