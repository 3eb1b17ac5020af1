package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// loadConfig is the JSON intermediary that uses string durations, so the
// file reads "10s" rather than nanosecond integers.
type loadConfig struct {
	BaseDir    string                        `json:"baseDir,omitempty"`
	Deadline   string                        `json:"deadline,omitempty"`
	Scanner    loadScannerConfig             `json:"scanner,omitempty"`
	Results    loadResultCacheConfig         `json:"results,omitempty"`
	Store      loadStoreConfig               `json:"store,omitempty"`
	Locks      loadLockConfig                `json:"locks,omitempty"`
	Categories map[string]loadCategoryConfig `json:"categories,omitempty"`
	Billing    loadBillingConfig             `json:"billing,omitempty"`
	Quota      loadQuotaConfig               `json:"quota,omitempty"`
	Git        loadGitConfig                 `json:"git,omitempty"`
	Transcript loadTranscriptConfig          `json:"transcript,omitempty"`
	Features   FeaturesConfig                `json:"features,omitempty"`
}

type loadScannerConfig struct {
	TailThresholdBytes int64 `json:"tailThresholdBytes,omitempty"`
	TailReadBytes      int64 `json:"tailReadBytes,omitempty"`
	LargeDeltaBytes    int64 `json:"largeDeltaBytes,omitempty"`
	AvgLineBytes       int64 `json:"avgLineBytes,omitempty"`
	MaxFindings        int   `json:"maxFindings,omitempty"`
}

type loadResultCacheConfig struct {
	TTL        string `json:"ttl,omitempty"`
	MaxEntries int    `json:"maxEntries,omitempty"`
	MaxBytes   int    `json:"maxBytes,omitempty"`
}

type loadStoreConfig struct {
	MirrorTTL string `json:"mirrorTTL,omitempty"`
}

type loadLockConfig struct {
	StaleAge string `json:"staleAge,omitempty"`
}

type loadCategoryConfig struct {
	TTL string `json:"ttl,omitempty"`
}

type loadBillingConfig struct {
	Command   []string `json:"command,omitempty"`
	Timeout   string   `json:"timeout,omitempty"`
	TermGrace string   `json:"termGrace,omitempty"`
}

type loadQuotaConfig struct {
	Path    string `json:"path,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type loadGitConfig struct {
	Timeout string `json:"timeout,omitempty"`
}

type loadTranscriptConfig struct {
	Timeout string `json:"timeout,omitempty"`
}

// parseDuration returns the parsed duration, or fallback when the string
// is empty or malformed.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Load reads the config from the default location, returning defaults if
// no file exists.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config from the given path. A missing file yields
// the defaults; a malformed file yields defaults with an error so the
// caller can warn without aborting.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var lc loadConfig
	if err := json.Unmarshal(data, &lc); err != nil {
		return cfg, err
	}

	applyLoadConfig(cfg, &lc)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyLoadConfig(cfg *Config, lc *loadConfig) {
	if lc.BaseDir != "" {
		cfg.BaseDir = expandHome(lc.BaseDir)
	}
	cfg.Deadline = parseDuration(lc.Deadline, cfg.Deadline)

	if lc.Scanner.TailThresholdBytes > 0 {
		cfg.Scanner.TailThresholdBytes = lc.Scanner.TailThresholdBytes
	}
	if lc.Scanner.TailReadBytes > 0 {
		cfg.Scanner.TailReadBytes = lc.Scanner.TailReadBytes
	}
	if lc.Scanner.LargeDeltaBytes > 0 {
		cfg.Scanner.LargeDeltaBytes = lc.Scanner.LargeDeltaBytes
	}
	if lc.Scanner.AvgLineBytes > 0 {
		cfg.Scanner.AvgLineBytes = lc.Scanner.AvgLineBytes
	}
	if lc.Scanner.MaxFindings > 0 {
		cfg.Scanner.MaxFindings = lc.Scanner.MaxFindings
	}

	cfg.Results.TTL = parseDuration(lc.Results.TTL, cfg.Results.TTL)
	if lc.Results.MaxEntries > 0 {
		cfg.Results.MaxEntries = lc.Results.MaxEntries
	}
	if lc.Results.MaxBytes > 0 {
		cfg.Results.MaxBytes = lc.Results.MaxBytes
	}

	cfg.Store.MirrorTTL = parseDuration(lc.Store.MirrorTTL, cfg.Store.MirrorTTL)
	cfg.Locks.StaleAge = parseDuration(lc.Locks.StaleAge, cfg.Locks.StaleAge)

	for name, cat := range lc.Categories {
		cfg.Categories[name] = CategoryConfig{
			TTL: parseDuration(cat.TTL, cfg.Categories[name].TTL),
		}
	}

	if len(lc.Billing.Command) > 0 {
		cfg.Billing.Command = lc.Billing.Command
	}
	cfg.Billing.Timeout = parseDuration(lc.Billing.Timeout, cfg.Billing.Timeout)
	cfg.Billing.TermGrace = parseDuration(lc.Billing.TermGrace, cfg.Billing.TermGrace)

	if lc.Quota.Path != "" {
		cfg.Quota.Path = expandHome(lc.Quota.Path)
	}
	cfg.Quota.Timeout = parseDuration(lc.Quota.Timeout, cfg.Quota.Timeout)
	cfg.Git.Timeout = parseDuration(lc.Git.Timeout, cfg.Git.Timeout)
	cfg.Transcript.Timeout = parseDuration(lc.Transcript.Timeout, cfg.Transcript.Timeout)

	if lc.Features.Flags != nil {
		cfg.Features.Flags = lc.Features.Flags
	}
}

// Save writes the config to the default location.
func Save(cfg *Config) error {
	path := ConfigPath()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	lc := toLoadConfig(cfg)
	data, err := json.MarshalIndent(lc, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func toLoadConfig(cfg *Config) loadConfig {
	cats := make(map[string]loadCategoryConfig, len(cfg.Categories))
	for name, cat := range cfg.Categories {
		cats[name] = loadCategoryConfig{TTL: cat.TTL.String()}
	}
	return loadConfig{
		BaseDir:  cfg.BaseDir,
		Deadline: cfg.Deadline.String(),
		Scanner: loadScannerConfig{
			TailThresholdBytes: cfg.Scanner.TailThresholdBytes,
			TailReadBytes:      cfg.Scanner.TailReadBytes,
			LargeDeltaBytes:    cfg.Scanner.LargeDeltaBytes,
			AvgLineBytes:       cfg.Scanner.AvgLineBytes,
			MaxFindings:        cfg.Scanner.MaxFindings,
		},
		Results: loadResultCacheConfig{
			TTL:        cfg.Results.TTL.String(),
			MaxEntries: cfg.Results.MaxEntries,
			MaxBytes:   cfg.Results.MaxBytes,
		},
		Store:      loadStoreConfig{MirrorTTL: cfg.Store.MirrorTTL.String()},
		Locks:      loadLockConfig{StaleAge: cfg.Locks.StaleAge.String()},
		Categories: cats,
		Billing: loadBillingConfig{
			Command:   cfg.Billing.Command,
			Timeout:   cfg.Billing.Timeout.String(),
			TermGrace: cfg.Billing.TermGrace.String(),
		},
		Quota:      loadQuotaConfig{Path: cfg.Quota.Path, Timeout: cfg.Quota.Timeout.String()},
		Git:        loadGitConfig{Timeout: cfg.Git.Timeout.String()},
		Transcript: loadTranscriptConfig{Timeout: cfg.Transcript.Timeout.String()},
		Features:   cfg.Features,
	}
}

// expandHome expands a leading ~ to the user home directory.
func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
