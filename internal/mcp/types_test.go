package mcp

import (
	"testing"
	"time"
)

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{
			name:    "valid stdio",
			cfg:     ServerConfig{ID: "fs", Transport: TransportStdio, Command: "mcp-filesystem", Args: []string{"--root", "/tmp"}},
			wantErr: false,
		},
		{
			name:    "missing ID",
			cfg:     ServerConfig{Transport: TransportStdio, Command: "mcp-filesystem"},
			wantErr: true,
		},
		{
			name:    "missing command",
			cfg:     ServerConfig{ID: "fs", Transport: TransportStdio},
			wantErr: true,
		},
		{
			name:    "command path traversal",
			cfg:     ServerConfig{ID: "fs", Transport: TransportStdio, Command: "../../bin/sh"},
			wantErr: true,
		},
		{
			name:    "shell metachars in args",
			cfg:     ServerConfig{ID: "fs", Transport: TransportStdio, Command: "server", Args: []string{"a; rm -rf /"}},
			wantErr: true,
		},
		{
			name:    "command substitution in args",
			cfg:     ServerConfig{ID: "fs", Transport: TransportStdio, Command: "server", Args: []string{"$(whoami)"}},
			wantErr: true,
		},
		{
			name:    "valid http",
			cfg:     ServerConfig{ID: "web", Transport: TransportHTTP, URL: "https://localhost:9000/mcp"},
			wantErr: false,
		},
		{
			name:    "http missing URL",
			cfg:     ServerConfig{ID: "web", Transport: TransportHTTP},
			wantErr: true,
		},
		{
			name:    "http bad scheme",
			cfg:     ServerConfig{ID: "web", Transport: TransportHTTP, URL: "ftp://host/mcp"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfigCallTimeout(t *testing.T) {
	var cfg ServerConfig
	if got := cfg.CallTimeout(); got != 30*time.Second {
		t.Errorf("default CallTimeout() = %v, want 30s", got)
	}

	cfg.Timeout = 5 * time.Second
	if got := cfg.CallTimeout(); got != 5*time.Second {
		t.Errorf("CallTimeout() = %v, want 5s", got)
	}
}

func TestToolCallResultText(t *testing.T) {
	result := &ToolCallResult{
		Content: []ToolResultContent{
			{Type: "text", Text: "line one"},
			{Type: "image", Data: "aGVsbG8=", MimeType: "image/png"},
			{Type: "text", Text: "line two"},
		},
	}

	want := "line one\n[image]\nline two"
	if got := result.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}
