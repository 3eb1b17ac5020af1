// Package features provides feature flags for gating optional
// functionality, resolved from config file values over compiled-in
// defaults. Flags are read through the config carried on the invocation
// context rather than package state, so tests see no cross-test leakage.
package features

// Feature represents a known feature flag with its default value.
type Feature struct {
	Name        string
	Default     bool
	Description string
}

// Known feature flags - add new features here.
var (
	// TailApproximation enables the bounded tail read with approximate
	// message counts for oversized transcripts.
	TailApproximation = Feature{
		Name:        "tail_approximation",
		Default:     true,
		Description: "Approximate message counts for oversized transcripts via tail reads",
	}

	// DiagnosticsDB enables recording fetch failures to the local
	// diagnostics database.
	DiagnosticsDB = Feature{
		Name:        "diagnostics_db",
		Default:     true,
		Description: "Record data-source failures to the diagnostics database",
	}

	// WatchMode enables the transcript-follow development mode.
	WatchMode = Feature{
		Name:        "watch_mode",
		Default:     true,
		Description: "Allow re-running the pipeline on transcript changes",
	}
)

// allFeatures is the registry of all known features.
var allFeatures = []Feature{
	TailApproximation,
	DiagnosticsDB,
	WatchMode,
}

// defaultValues provides O(1) lookup for feature defaults.
var defaultValues = buildDefaultMap()

func buildDefaultMap() map[string]bool {
	m := make(map[string]bool, len(allFeatures))
	for _, f := range allFeatures {
		m[f.Name] = f.Default
	}
	return m
}

// IsKnownFeature returns true if the feature name is registered.
func IsKnownFeature(name string) bool {
	_, ok := defaultValues[name]
	return ok
}

// Enabled checks a flag against config values, falling back to the
// compiled-in default. Unknown features default to disabled.
func Enabled(flags map[string]bool, name string) bool {
	if flags != nil {
		if enabled, ok := flags[name]; ok {
			return enabled
		}
	}
	return defaultValues[name]
}

// ListAll returns all known features with metadata.
func ListAll() []Feature {
	result := make([]Feature, len(allFeatures))
	copy(result, allFeatures)
	return result
}
