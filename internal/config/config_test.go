package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsApplied(t *testing.T) {
	cfg := Default()

	if cfg.Display.Number != 4 {
		t.Errorf("display number = %d, want 4", cfg.Display.Number)
	}
	if cfg.Display.VNCPort != 5904 {
		t.Errorf("vnc port = %d, want 5904", cfg.Display.VNCPort)
	}
	if cfg.Display.WidthPx != 1024 || cfg.Display.HeightPx != 768 {
		t.Errorf("resolution = %dx%d, want 1024x768", cfg.Display.WidthPx, cfg.Display.HeightPx)
	}
	if cfg.Services.NoVNC.Port != 6080 {
		t.Errorf("novnc port = %d, want 6080", cfg.Services.NoVNC.Port)
	}
	if cfg.Environment.EntryPort != 8083 {
		t.Errorf("entry port = %d, want 8083", cfg.Environment.EntryPort)
	}
	if cfg.Evaluator.Timeout != 5*time.Minute {
		t.Errorf("timeout = %v, want 5m", cfg.Evaluator.Timeout)
	}
	if cfg.Evaluator.MaxTurns != 10 {
		t.Errorf("max turns = %d, want 10", cfg.Evaluator.MaxTurns)
	}
	if !cfg.Services.Static.Enabled {
		t.Error("static service should be enabled by default")
	}
	if !cfg.Services.NoVNC.Enabled {
		t.Error("novnc bridge should be enabled by default")
	}
}

func TestServicesCanBeDisabled(t *testing.T) {
	cfg, err := Parse([]byte("services:\n  static:\n    enabled: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Services.Static.Enabled {
		t.Error("explicit enabled: false should disable the static service")
	}
	if !cfg.Services.NoVNC.Enabled {
		t.Error("novnc bridge should stay enabled when not named")
	}
}

func TestVNCPortFollowsDisplayNumber(t *testing.T) {
	cfg, err := Parse([]byte("display:\n  number: 6\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Display.VNCPort != 5906 {
		t.Errorf("vnc port = %d, want 5906", cfg.Display.VNCPort)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("MCPWORLD_TEST_KEY", "sk-ant-test-value")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "llm:\n  api_key: ${MCPWORLD_TEST_KEY}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-ant-test-value" {
		t.Errorf("api key = %q, want expanded env value", cfg.LLM.APIKey)
	}
}

func TestUIPortFromStreamlitEnv(t *testing.T) {
	t.Setenv("STREAMLIT_SERVER_PORT", "9001")
	cfg := Default()
	if cfg.Services.UIPort != 9001 {
		t.Errorf("ui port = %d, want 9001", cfg.Services.UIPort)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"bad provider", func(c *Config) { c.LLM.Provider = "openai" }, true},
		{"bad resolution", func(c *Config) { c.Display.WidthPx = 0 }, true},
		{"bad vnc port", func(c *Config) { c.Display.VNCPort = 70000 }, true},
		{"negative timeout", func(c *Config) { c.Evaluator.Timeout = -time.Second }, true},
		{"novnc disabled ignores port", func(c *Config) {
			c.Services.NoVNC.Enabled = false
			c.Services.NoVNC.Port = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDisplayEnv(t *testing.T) {
	cfg := Default()
	if got := cfg.DisplayEnv(); got != ":4" {
		t.Errorf("DisplayEnv() = %q, want \":4\"", got)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("display: [not a map")); err == nil {
		t.Error("expected parse error")
	}
}
