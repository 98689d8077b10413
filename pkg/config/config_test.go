package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if cfg.Framework.LogLevel != "info" {
		t.Fatalf("default log level = %q", cfg.Framework.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults fail validation: %v", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Framework.LogLevel = "debug"
	cfg.Metrics.ListenAddr = ":9999"
	cfg.Safety.MaxDuration = 30 * time.Minute
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Framework.LogLevel != "debug" || loaded.Metrics.ListenAddr != ":9999" {
		t.Fatalf("round trip lost values: %+v", loaded)
	}
	if loaded.Safety.MaxDuration != 30*time.Minute {
		t.Fatalf("duration round trip: %v", loaded.Safety.MaxDuration)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.Setenv("NETBENCH_TEST_DIR", "/var/reports")
	defer os.Unsetenv("NETBENCH_TEST_DIR")

	content := "reporting:\n  output_dir: ${NETBENCH_TEST_DIR}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Reporting.OutputDir != "/var/reports" {
		t.Fatalf("env not expanded: %q", cfg.Reporting.OutputDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Reporting.OutputDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty output_dir accepted")
	}

	cfg = DefaultConfig()
	cfg.Execution.DefaultDurationSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero default duration accepted")
	}

	cfg = DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled metrics without listen_addr accepted")
	}

	cfg = DefaultConfig()
	cfg.Bitrate.MinKbps = 8000
	cfg.Bitrate.MaxKbps = 1000
	if err := cfg.Validate(); err == nil {
		t.Fatal("inverted bitrate bounds accepted")
	}

	cfg = DefaultConfig()
	cfg.Bitrate.StepKbps = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero bitrate step accepted")
	}
}
