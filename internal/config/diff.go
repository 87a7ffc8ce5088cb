package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (listen address, backends, providers) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TribunalChanged is true if any engine setting changed. Generation
	// parameters (turn_timeout, temperature, max_tokens) are not included.
	TribunalChanged bool

	// EventsChanged is true if the events file path changed. Edits to the
	// file itself are picked up by reloading the casebook, not by Diff.
	EventsChanged bool

	// PortraitsChanged is true if the portrait map or directory changed.
	PortraitsChanged bool

	// RestartRequired lists the top-level sections whose changes are
	// ignored until the process restarts.
	RestartRequired []string
}

// Empty reports whether d contains nothing to apply.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TribunalChanged && !d.EventsChanged &&
		!d.PortraitsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Tribunal.Settings() != new.Tribunal.Settings() {
		d.TribunalChanged = true
	}

	d.EventsChanged = old.Casebook.EventsFile != new.Casebook.EventsFile

	oc, nc := old.Characters, new.Characters
	if oc.PortraitDir != nc.PortraitDir || !maps.Equal(oc.Portraits, nc.Portraits) {
		d.PortraitsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFormat != new.Server.LogFormat ||
		!slices.Equal(old.Server.CORSOrigins, new.Server.CORSOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	ot, nt := old.Tribunal, new.Tribunal
	if ot.TurnTimeout != nt.TurnTimeout || ot.Temperature != nt.Temperature || ot.MaxTokens != nt.MaxTokens {
		d.RestartRequired = append(d.RestartRequired, "tribunal")
	}
	if oc.File != nc.File || oc.Backend != nc.Backend {
		d.RestartRequired = append(d.RestartRequired, "characters")
	}
	if old.Discovery != new.Discovery || old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}

	return d
}
