package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// anything that requires rebuilding providers sets RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is true if the VAD engine name or tuning changed.
	// Applies to new sessions only; running sessions keep their settings.
	VADChanged bool

	// RouterChanged is true if any router tuning field changed.
	RouterChanged bool

	// RestartRequired is true if the server, primary, or secondary sections
	// changed. Those rebuild listeners or provider clients and cannot be
	// applied to a running process.
	RestartRequired bool
}

// Empty reports whether the diff contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VADChanged && !d.RouterChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
	}

	if old.Router != new.Router {
		d.RouterChanged = true
	}

	if serverChanged(old.Server, new.Server) ||
		old.Client != new.Client ||
		!entryEqual(old.Primary, new.Primary) ||
		secondaryChanged(old.Secondary, new.Secondary) {
		d.RestartRequired = true
	}

	return d
}

// serverChanged ignores the log level, which is tracked separately.
func serverChanged(old, new ServerConfig) bool {
	if old.ListenAddr != new.ListenAddr {
		return true
	}
	if (old.TLS == nil) != (new.TLS == nil) {
		return true
	}
	if old.TLS != nil && *old.TLS != *new.TLS {
		return true
	}
	return false
}

func secondaryChanged(old, new SecondaryConfig) bool {
	if !entryEqual(old.ProviderEntry, new.ProviderEntry) {
		return true
	}
	if old.Breaker != new.Breaker {
		return true
	}
	if len(old.Fallbacks) != len(new.Fallbacks) {
		return true
	}
	for i := range old.Fallbacks {
		if !entryEqual(old.Fallbacks[i], new.Fallbacks[i]) {
			return true
		}
	}
	return false
}

// entryEqual compares provider entries field by field. The Options map makes
// ProviderEntry uncomparable with ==, and its values can be nested maps, so
// Options are compared with reflect.DeepEqual.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
