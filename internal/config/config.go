// Package config loads and validates the MCPWorld harness configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the harness.
type Config struct {
	Display     DisplayConfig     `yaml:"display"`
	Environment EnvironmentConfig `yaml:"environment"`
	Services    ServicesConfig    `yaml:"services"`
	LLM         LLMConfig         `yaml:"llm"`
	Evaluator   EvaluatorConfig   `yaml:"evaluator"`
	Tasks       TasksConfig       `yaml:"tasks"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DisplayConfig describes the X display the agent operates on.
type DisplayConfig struct {
	// Number is the X display number (":4" means Number=4).
	Number int `yaml:"number"`
	// WidthPx and HeightPx are the desktop resolution in pixels.
	WidthPx  int `yaml:"width_px"`
	HeightPx int `yaml:"height_px"`
	// VNCPort is the TCP port of the VNC server (5900 + display number).
	VNCPort int `yaml:"vnc_port"`
}

// EnvironmentConfig describes the containerized desktop environment.
type EnvironmentConfig struct {
	// Image is the Docker image for the desktop environment.
	Image string `yaml:"image"`
	// ContainerName names the launched container.
	ContainerName string `yaml:"container_name"`
	// EntryPort is the main entry HTTP port (8081 or 8083 depending on
	// the image variant).
	EntryPort int `yaml:"entry_port"`
	// GPU enables GPU passthrough (`--gpus all`).
	GPU bool `yaml:"gpu"`
	// LegacyNvidiaRuntime uses `--runtime=nvidia` instead of `--gpus all`
	// for older Docker daemons.
	LegacyNvidiaRuntime bool `yaml:"legacy_nvidia_runtime"`
	// ExtraPorts maps additional host:container port pairs.
	ExtraPorts map[int]int `yaml:"extra_ports"`
}

// ServicesConfig describes the supervised auxiliary services.
type ServicesConfig struct {
	NoVNC  NoVNCConfig  `yaml:"novnc"`
	Static StaticConfig `yaml:"static"`
	UIPort int          `yaml:"ui_port"`
}

// NoVNCConfig configures the browser VNC bridge.
type NoVNCConfig struct {
	Enabled bool `yaml:"enabled"`
	// Port is the websocket listen port for browser clients.
	Port int `yaml:"port"`
}

// StaticConfig configures the static content HTTPS server.
type StaticConfig struct {
	Enabled bool `yaml:"enabled"`
	// Port is the TLS listen port.
	Port int `yaml:"port"`
	// Dir is the directory served.
	Dir string `yaml:"dir"`
	// CertFile and KeyFile hold the TLS pair; when missing, a self-signed
	// pair is generated at these paths.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LLMConfig configures the model provider used by the agent loop.
type LLMConfig struct {
	// Provider is the LLM backend ("anthropic").
	Provider string `yaml:"provider"`
	// APIKey authenticates against the provider. Usually supplied via
	// ${ANTHROPIC_API_KEY} expansion rather than a literal.
	APIKey string `yaml:"api_key"`
	// Model is the default model name.
	Model string `yaml:"model"`
	// MaxTokens caps each model response.
	MaxTokens int `yaml:"max_tokens"`
	// MaxRetries bounds retry attempts for transient API failures.
	MaxRetries int `yaml:"max_retries"`
	// BaseURL overrides the provider endpoint (proxies, test servers).
	BaseURL string `yaml:"base_url"`
}

// EvaluatorConfig configures the white-box evaluation engine.
type EvaluatorConfig struct {
	// LogDir receives per-run event logs and result files.
	LogDir string `yaml:"log_dir"`
	// ResultsDB is the SQLite database path for run history.
	ResultsDB string `yaml:"results_db"`
	// Timeout is the default per-run wall clock limit.
	Timeout time.Duration `yaml:"timeout"`
	// MaxTurns is the default conversation turn cap.
	MaxTurns int `yaml:"max_turns"`
}

// TasksConfig configures the task suite.
type TasksConfig struct {
	// Dir is the root directory of task definitions (category/id.yaml).
	Dir string `yaml:"dir"`
	// Watch reloads task definitions when files change.
	Watch bool `yaml:"watch"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Environment variables in
// the file are expanded before parsing, so secrets can be referenced as
// ${ANTHROPIC_API_KEY}.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration bytes, expands environment variables, and
// applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := newConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a configuration with all defaults applied and no file
// input. Used when no config file is present.
func Default() *Config {
	cfg := newConfig()
	applyDefaults(cfg)
	return cfg
}

// newConfig returns a config with the on-by-default booleans set before
// unmarshalling. The YAML document overwrites them only when it names
// them, so "enabled: false" still disables a service.
func newConfig() *Config {
	cfg := &Config{}
	cfg.Services.NoVNC.Enabled = true
	cfg.Services.Static.Enabled = true
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Display.Number == 0 {
		cfg.Display.Number = 4
	}
	if cfg.Display.WidthPx == 0 {
		cfg.Display.WidthPx = 1024
	}
	if cfg.Display.HeightPx == 0 {
		cfg.Display.HeightPx = 768
	}
	if cfg.Display.VNCPort == 0 {
		cfg.Display.VNCPort = 5900 + cfg.Display.Number
	}

	if cfg.Environment.Image == "" {
		cfg.Environment.Image = "mcpworld/desktop:latest"
	}
	if cfg.Environment.ContainerName == "" {
		cfg.Environment.ContainerName = "mcpworld-desktop"
	}
	if cfg.Environment.EntryPort == 0 {
		cfg.Environment.EntryPort = 8083
	}

	if cfg.Services.NoVNC.Port == 0 {
		cfg.Services.NoVNC.Port = 6080
	}
	if cfg.Services.Static.Port == 0 {
		cfg.Services.Static.Port = 8083
	}
	if cfg.Services.Static.Dir == "" {
		cfg.Services.Static.Dir = "static_content"
	}
	if cfg.Services.Static.CertFile == "" {
		cfg.Services.Static.CertFile = "server.pem"
	}
	if cfg.Services.Static.KeyFile == "" {
		cfg.Services.Static.KeyFile = "key.pem"
	}
	if cfg.Services.UIPort == 0 {
		cfg.Services.UIPort = uiPortFromEnv()
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-3-7-sonnet-20250219"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 4
	}

	if cfg.Evaluator.LogDir == "" {
		cfg.Evaluator.LogDir = "logs_computer_use_eval"
	}
	if cfg.Evaluator.ResultsDB == "" {
		cfg.Evaluator.ResultsDB = "mcpworld_runs.db"
	}
	if cfg.Evaluator.Timeout == 0 {
		cfg.Evaluator.Timeout = 5 * time.Minute
	}
	if cfg.Evaluator.MaxTurns == 0 {
		cfg.Evaluator.MaxTurns = 10
	}

	if cfg.Tasks.Dir == "" {
		cfg.Tasks.Dir = "tasks"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// uiPortFromEnv honors STREAMLIT_SERVER_PORT for compatibility with the
// original environment images, defaulting to 8501.
func uiPortFromEnv() int {
	if raw := strings.TrimSpace(os.Getenv("STREAMLIT_SERVER_PORT")); raw != "" {
		var port int
		if _, err := fmt.Sscanf(raw, "%d", &port); err == nil && port > 0 {
			return port
		}
	}
	return 8501
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Display.Number < 0 {
		return fmt.Errorf("display number must not be negative")
	}
	if c.Display.WidthPx <= 0 || c.Display.HeightPx <= 0 {
		return fmt.Errorf("display resolution must be positive")
	}
	if err := validatePort("vnc_port", c.Display.VNCPort); err != nil {
		return err
	}
	if err := validatePort("entry_port", c.Environment.EntryPort); err != nil {
		return err
	}
	if c.Services.NoVNC.Enabled {
		if err := validatePort("novnc.port", c.Services.NoVNC.Port); err != nil {
			return err
		}
	}
	if c.Services.Static.Enabled {
		if err := validatePort("static.port", c.Services.Static.Port); err != nil {
			return err
		}
	}
	if c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	if c.Evaluator.Timeout < 0 {
		return fmt.Errorf("evaluator timeout must not be negative")
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s out of range: %d", name, port)
	}
	return nil
}

// DisplayEnv returns the DISPLAY value for the configured display, e.g. ":4".
func (c *Config) DisplayEnv() string {
	return fmt.Sprintf(":%d", c.Display.Number)
}
