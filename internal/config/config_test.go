package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.BaseDir == "" {
		t.Error("BaseDir should have a default")
	}
	if cfg.Deadline != 2*time.Second {
		t.Errorf("Deadline = %v, want 2s", cfg.Deadline)
	}
	if cfg.Scanner.TailThresholdBytes != 8*1024*1024 {
		t.Errorf("TailThresholdBytes = %d, want 8MiB", cfg.Scanner.TailThresholdBytes)
	}
	if _, ok := cfg.Categories["billing"]; !ok {
		t.Error("billing category should exist by default")
	}
	if _, ok := cfg.Categories["quota"]; !ok {
		t.Error("quota category should exist by default")
	}
	if len(cfg.Billing.Command) == 0 {
		t.Error("billing command should have a default")
	}
}

func TestValidateRepairs(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	def := Default()
	if cfg.Deadline != def.Deadline {
		t.Errorf("Deadline = %v, want repaired to %v", cfg.Deadline, def.Deadline)
	}
	if cfg.Scanner.AvgLineBytes != def.Scanner.AvgLineBytes {
		t.Errorf("AvgLineBytes = %d, want %d", cfg.Scanner.AvgLineBytes, def.Scanner.AvgLineBytes)
	}
	if len(cfg.Categories) == 0 {
		t.Error("empty categories should be repaired to defaults")
	}
	if cfg.Features.Flags == nil {
		t.Error("Flags map should be allocated")
	}
}

func TestValidateRepairsUnknownCategoryTTL(t *testing.T) {
	cfg := Default()
	cfg.Categories["custom"] = CategoryConfig{TTL: 0}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Categories["custom"].TTL <= 0 {
		t.Errorf("custom TTL = %v, want a positive repair value", cfg.Categories["custom"].TTL)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should load defaults without error, got %v", err)
	}
	if cfg.Deadline != Default().Deadline {
		t.Errorf("Deadline = %v, want default", cfg.Deadline)
	}
}

func TestLoadFromMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err == nil {
		t.Error("malformed config should surface an error")
	}
	if cfg == nil || cfg.Deadline != Default().Deadline {
		t.Errorf("malformed config should still yield usable defaults, got %+v", cfg)
	}
}

func TestLoadFromOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{
		"baseDir": "/var/lib/pulse",
		"deadline": "5s",
		"scanner": {"avgLineBytes": 900},
		"categories": {"billing": {"ttl": "1m"}},
		"billing": {"command": ["custom-meter"], "timeout": "3s"},
		"features": {"flags": {"watch-mode": false}}
	}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.BaseDir != "/var/lib/pulse" {
		t.Errorf("BaseDir = %q", cfg.BaseDir)
	}
	if cfg.Deadline != 5*time.Second {
		t.Errorf("Deadline = %v, want 5s", cfg.Deadline)
	}
	if cfg.Scanner.AvgLineBytes != 900 {
		t.Errorf("AvgLineBytes = %d, want 900", cfg.Scanner.AvgLineBytes)
	}
	if cfg.Categories["billing"].TTL != time.Minute {
		t.Errorf("billing TTL = %v, want 1m", cfg.Categories["billing"].TTL)
	}
	// Untouched categories keep their defaults.
	if cfg.Categories["quota"].TTL != 5*time.Minute {
		t.Errorf("quota TTL = %v, want default 5m", cfg.Categories["quota"].TTL)
	}
	if len(cfg.Billing.Command) != 1 || cfg.Billing.Command[0] != "custom-meter" {
		t.Errorf("billing command = %v", cfg.Billing.Command)
	}
	if cfg.Billing.Timeout != 3*time.Second {
		t.Errorf("billing timeout = %v, want 3s", cfg.Billing.Timeout)
	}
	if enabled, ok := cfg.Features.Flags["watch-mode"]; !ok || enabled {
		t.Errorf("flags = %v, want watch-mode false", cfg.Features.Flags)
	}
}

func TestLoadFromBadDurationFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"deadline": "soon"}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Deadline != Default().Deadline {
		t.Errorf("Deadline = %v, want default for unparsable duration", cfg.Deadline)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in       string
		fallback time.Duration
		want     time.Duration
	}{
		{"10s", time.Second, 10 * time.Second},
		{"", time.Second, time.Second},
		{"garbage", time.Minute, time.Minute},
		{"1h30m", 0, 90 * time.Minute},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, tt.fallback); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := expandHome("~/state"); got != filepath.Join(home, "state") {
		t.Errorf("expandHome = %q", got)
	}
	if got := expandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("expandHome should leave absolute paths alone, got %q", got)
	}
}
