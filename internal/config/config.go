package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	// BaseDir is the fixed state directory: checkpoints, shared cache
	// files, lock files, diagnostics.
	BaseDir string `json:"baseDir"`
	// Deadline bounds one whole invocation.
	Deadline time.Duration `json:"deadline"`

	Scanner    ScannerConfig             `json:"scanner"`
	Results    ResultCacheConfig         `json:"results"`
	Store      StoreConfig               `json:"store"`
	Locks      LockConfig                `json:"locks"`
	Categories map[string]CategoryConfig `json:"categories"`
	Billing    BillingConfig             `json:"billing"`
	Quota      QuotaConfig               `json:"quota"`
	Git        GitConfig                 `json:"git"`
	Transcript TranscriptConfig          `json:"transcript"`
	Features   FeaturesConfig            `json:"features"`
}

// ScannerConfig tunes the incremental transcript scanner.
type ScannerConfig struct {
	// TailThresholdBytes switches full scans to a bounded tail read.
	TailThresholdBytes int64 `json:"tailThresholdBytes"`
	// TailReadBytes is how much of the file tail a tail scan reads.
	TailReadBytes int64 `json:"tailReadBytes"`
	// LargeDeltaBytes demotes an incremental scan to a full/tail scan.
	LargeDeltaBytes int64 `json:"largeDeltaBytes"`
	// AvgLineBytes is the assumed average transcript line size used to
	// approximate message counts on tail scans.
	AvgLineBytes int64 `json:"avgLineBytes"`
	// MaxFindings caps retained findings per extractor.
	MaxFindings int `json:"maxFindings"`
}

// ResultCacheConfig bounds the in-process result cache.
type ResultCacheConfig struct {
	TTL        time.Duration `json:"ttl"`
	MaxEntries int           `json:"maxEntries"`
	MaxBytes   int           `json:"maxBytes"`
}

// StoreConfig tunes the shared tier-3 cache store.
type StoreConfig struct {
	// MirrorTTL is how long an in-memory mirror of a cache file is
	// trusted before re-reading from disk.
	MirrorTTL time.Duration `json:"mirrorTTL"`
}

// LockConfig tunes cross-process lock reclaim.
type LockConfig struct {
	// StaleAge reclaims a lock old enough that the holding invocation
	// cannot still be running, even if its PID has been reused.
	StaleAge time.Duration `json:"staleAge"`
}

// CategoryConfig declares one freshness category.
type CategoryConfig struct {
	TTL time.Duration `json:"ttl"`
}

// BillingConfig configures the metering subprocess.
type BillingConfig struct {
	// Command is the metering argv. The command must emit one JSON
	// document on stdout describing the active billing period.
	Command []string      `json:"command"`
	Timeout time.Duration `json:"timeout"`
	// TermGrace is how long after a timeout the subprocess gets to exit
	// on SIGTERM before it is killed.
	TermGrace time.Duration `json:"termGrace"`
}

// QuotaConfig locates the user-managed quota document.
type QuotaConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// GitConfig configures the working-tree source.
type GitConfig struct {
	Timeout time.Duration `json:"timeout"`
}

// TranscriptConfig configures the transcript source.
type TranscriptConfig struct {
	Timeout time.Duration `json:"timeout"`
}

// FeaturesConfig holds feature flag settings.
type FeaturesConfig struct {
	Flags map[string]bool `json:"flags"`
}

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".pulse")
	return &Config{
		BaseDir:  base,
		Deadline: 2 * time.Second,
		Scanner: ScannerConfig{
			TailThresholdBytes: 8 * 1024 * 1024,
			TailReadBytes:      256 * 1024,
			LargeDeltaBytes:    1024 * 1024,
			AvgLineBytes:       700,
			MaxFindings:        20,
		},
		Results: ResultCacheConfig{
			TTL:        10 * time.Second,
			MaxEntries: 100,
			MaxBytes:   10 * 1024 * 1024,
		},
		Store: StoreConfig{
			MirrorTTL: 10 * time.Second,
		},
		Locks: LockConfig{
			StaleAge: 10 * time.Minute,
		},
		Categories: map[string]CategoryConfig{
			"billing": {TTL: 2 * time.Minute},
			"quota":   {TTL: 5 * time.Minute},
		},
		Billing: BillingConfig{
			Command:   []string{"pulse-meter", "--json"},
			Timeout:   10 * time.Second,
			TermGrace: 2 * time.Second,
		},
		Quota: QuotaConfig{
			Path:    filepath.Join(base, "quota.yaml"),
			Timeout: time.Second,
		},
		Git: GitConfig{
			Timeout: 800 * time.Millisecond,
		},
		Transcript: TranscriptConfig{
			Timeout: time.Second,
		},
		Features: FeaturesConfig{
			Flags: make(map[string]bool),
		},
	}
}

// Validate fixes out-of-range values instead of rejecting the config; a
// broken config file must never stop an invocation.
func (c *Config) Validate() error {
	def := Default()
	if c.BaseDir == "" {
		c.BaseDir = def.BaseDir
	}
	if c.Deadline <= 0 {
		c.Deadline = def.Deadline
	}
	if c.Scanner.TailThresholdBytes <= 0 {
		c.Scanner.TailThresholdBytes = def.Scanner.TailThresholdBytes
	}
	if c.Scanner.TailReadBytes <= 0 {
		c.Scanner.TailReadBytes = def.Scanner.TailReadBytes
	}
	if c.Scanner.LargeDeltaBytes <= 0 {
		c.Scanner.LargeDeltaBytes = def.Scanner.LargeDeltaBytes
	}
	if c.Scanner.AvgLineBytes <= 0 {
		c.Scanner.AvgLineBytes = def.Scanner.AvgLineBytes
	}
	if c.Scanner.MaxFindings <= 0 {
		c.Scanner.MaxFindings = def.Scanner.MaxFindings
	}
	if c.Results.TTL <= 0 {
		c.Results.TTL = def.Results.TTL
	}
	if c.Results.MaxEntries <= 0 {
		c.Results.MaxEntries = def.Results.MaxEntries
	}
	if c.Results.MaxBytes <= 0 {
		c.Results.MaxBytes = def.Results.MaxBytes
	}
	if c.Store.MirrorTTL <= 0 {
		c.Store.MirrorTTL = def.Store.MirrorTTL
	}
	if c.Locks.StaleAge <= 0 {
		c.Locks.StaleAge = def.Locks.StaleAge
	}
	if len(c.Categories) == 0 {
		c.Categories = def.Categories
	}
	for name, cat := range c.Categories {
		if cat.TTL <= 0 {
			if d, ok := def.Categories[name]; ok {
				c.Categories[name] = d
			} else {
				c.Categories[name] = CategoryConfig{TTL: time.Minute}
			}
		}
	}
	if len(c.Billing.Command) == 0 {
		c.Billing.Command = def.Billing.Command
	}
	if c.Billing.Timeout <= 0 {
		c.Billing.Timeout = def.Billing.Timeout
	}
	if c.Billing.TermGrace <= 0 {
		c.Billing.TermGrace = def.Billing.TermGrace
	}
	if c.Quota.Path == "" {
		c.Quota.Path = filepath.Join(c.BaseDir, "quota.yaml")
	}
	if c.Quota.Timeout <= 0 {
		c.Quota.Timeout = def.Quota.Timeout
	}
	if c.Git.Timeout <= 0 {
		c.Git.Timeout = def.Git.Timeout
	}
	if c.Transcript.Timeout <= 0 {
		c.Transcript.Timeout = def.Transcript.Timeout
	}
	if c.Features.Flags == nil {
		c.Features.Flags = make(map[string]bool)
	}
	return nil
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".config", "pulse", "config.json")
}
