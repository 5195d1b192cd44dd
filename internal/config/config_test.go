package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMinimal(t *testing.T) {
	path := writeConfig(t, `
anthropic:
  api_key: sk-test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Listen.Port != 8090 {
		t.Errorf("Listen.Port = %d, want default 8090", cfg.Listen.Port)
	}
	if cfg.Redis.Address != "localhost:6379" {
		t.Errorf("Redis.Address = %q, want default localhost:6379", cfg.Redis.Address)
	}
	if cfg.Agent.MaxSteps != 30 {
		t.Errorf("Agent.MaxSteps = %d, want default 30", cfg.Agent.MaxSteps)
	}
	if cfg.Agent.SessionTTLMinutes != 60 {
		t.Errorf("Agent.SessionTTLMinutes = %d, want default 60", cfg.Agent.SessionTTLMinutes)
	}
}

func TestLoadMissingAnthropicKey(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 9000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() without anthropic.api_key should fail")
	}
}

func TestLoadBadLogLevel(t *testing.T) {
	path := writeConfig(t, `
anthropic:
  api_key: sk-test
log_level: shouty
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with invalid log_level should fail")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	if _, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("FindConfig() with missing explicit path should fail")
	}
}
