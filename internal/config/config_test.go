package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file error = %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 5*time.Second || cfg.ChangeDebounce != 300*time.Millisecond {
		t.Fatalf("timings = %s %s", cfg.RequestTimeout, cfg.ChangeDebounce)
	}
	if cfg.CompletionDebounce != 150*time.Millisecond {
		t.Fatalf("completion_debounce = %s", cfg.CompletionDebounce)
	}
	if cfg.TerminalCols != 80 || cfg.TerminalRows != 24 || cfg.SearchMinQuery != 2 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Correlation != CorrelationID || cfg.ConfigPath != path {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadParsesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, `
server_url: wss://ide.example.com/ws
token: secret
request_timeout: 2s
change_debounce: 150ms
correlation: next
terminal_cols: 132
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "wss://ide.example.com/ws" || cfg.Token != "secret" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.RequestTimeout != 2*time.Second || cfg.ChangeDebounce != 150*time.Millisecond {
		t.Fatalf("timings = %s %s", cfg.RequestTimeout, cfg.ChangeDebounce)
	}
	if cfg.Correlation != CorrelationNext || cfg.TerminalCols != 132 || cfg.TerminalRows != 24 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SlogLevel().String() != "DEBUG" {
		t.Fatalf("level = %s", cfg.SlogLevel())
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("REMOTEIDE_TOKEN", "from-env")
	path := writeConfig(t, "token: from-file\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Token != "from-env" {
		t.Fatalf("Token = %q, want from-env", cfg.Token)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tests := []struct {
		content string
		want    string
	}{
		{"server_url: http://example.com\n", "server_url"},
		{"correlation: fifo\n", "correlation"},
		{"search_min_query: 0\n", "search_min_query"},
		{"terminal_rows: 0\n", "terminal size"},
		{"log_level: loud\n", "log_level"},
	}
	for _, tt := range tests {
		path := writeConfig(t, tt.content)
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Load(%q) error = %v, want mention of %s", tt.content, err, tt.want)
		}
	}
}

func TestSaveWritesLoadableFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	cfg.ConfigPath = filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg.Token = "abc"
	cfg.SearchDebounce = 450 * time.Millisecond

	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(cfg.ConfigPath)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(cfg.ConfigPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Token != "abc" || loaded.SearchDebounce != 450*time.Millisecond {
		t.Fatalf("round trip lost values: %+v", loaded)
	}
}
