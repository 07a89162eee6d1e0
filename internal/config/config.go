package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = "7783"
	DefaultConfigFile      = "editor_config.json"
	DefaultUpstreamBaseURL = "https://openrouter.ai/api/v1"
	DefaultAITimeout       = 120
	DefaultHousekeeping    = "@every 10m"
	DefaultScratchRetain   = "24h"
)

// Settings is the server-level configuration. It is separate from the
// editor config document that the web client reads and writes.
type Settings struct {
	Host             string `yaml:"host"`
	Port             string `yaml:"port"`
	DataDir          string `yaml:"data_dir"`
	ConfigFile       string `yaml:"config_file"`
	WebDir           string `yaml:"web_dir"`
	UpstreamBaseURL  string `yaml:"upstream_base_url"`
	AITimeoutSeconds int    `yaml:"ai_timeout_seconds"`
	Interpreter      string `yaml:"interpreter"`
	// CaptureOutput pipes script output into the run snapshot. Captured
	// runs do not outlive the server.
	CaptureOutput    bool     `yaml:"capture_output"`
	LogLevel         string   `yaml:"log_level"`
	LogFormat        string   `yaml:"log_format"`
	Ignore           []string `yaml:"ignore"`
	ScratchDir       string   `yaml:"scratch_dir"`
	ScratchRetention string   `yaml:"scratch_retention"`
	Housekeeping     string   `yaml:"housekeeping"`
}

func Default() Settings {
	return Settings{
		Host:             DefaultHost,
		Port:             DefaultPort,
		DataDir:          ".",
		ConfigFile:       DefaultConfigFile,
		UpstreamBaseURL:  DefaultUpstreamBaseURL,
		AITimeoutSeconds: DefaultAITimeout,
		LogLevel:         "info",
		LogFormat:        "console",
		ScratchDir:       filepath.Join(os.TempDir(), "codepad-scratch"),
		ScratchRetention: DefaultScratchRetain,
		Housekeeping:     DefaultHousekeeping,
	}
}

// Load layers defaults, the optional YAML settings file and the environment.
// An explicitly named settings file must exist.
func Load(path string) (Settings, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read settings file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Settings{}, fmt.Errorf("parse settings file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Settings) {
	cfg.Host = envOr("EDITOR_HOST", cfg.Host)
	cfg.Port = envOr("EDITOR_PORT", cfg.Port)
	cfg.DataDir = envOr("EDITOR_DATA_DIR", cfg.DataDir)
	cfg.ConfigFile = envOr("EDITOR_CONFIG_FILE", cfg.ConfigFile)
	cfg.WebDir = envOr("EDITOR_WEB_DIR", cfg.WebDir)
	cfg.UpstreamBaseURL = envOr("EDITOR_UPSTREAM_BASE_URL", cfg.UpstreamBaseURL)
	cfg.AITimeoutSeconds = envInt("EDITOR_AI_TIMEOUT_SECONDS", cfg.AITimeoutSeconds)
	cfg.Interpreter = envOr("EDITOR_INTERPRETER", cfg.Interpreter)
	cfg.CaptureOutput = envBool("EDITOR_RUN_CAPTURE", cfg.CaptureOutput)
	cfg.LogLevel = envOr("EDITOR_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("EDITOR_LOG_FORMAT", cfg.LogFormat)
	cfg.ScratchDir = envOr("EDITOR_SCRATCH_DIR", cfg.ScratchDir)
	cfg.ScratchRetention = envOr("EDITOR_SCRATCH_RETENTION", cfg.ScratchRetention)
	cfg.Housekeeping = envOr("EDITOR_HOUSEKEEPING", cfg.Housekeeping)
	if raw := strings.TrimSpace(os.Getenv("EDITOR_IGNORE")); raw != "" {
		cfg.Ignore = splitList(raw)
	}
}

func (c Settings) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host is required")
	}
	port, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if c.AITimeoutSeconds <= 0 {
		return fmt.Errorf("ai_timeout_seconds must be > 0, got %d", c.AITimeoutSeconds)
	}
	if _, err := c.ScratchRetentionDuration(); err != nil {
		return err
	}
	return nil
}

func (c Settings) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// BaseURL is the address the presentation shell should load.
func (c Settings) BaseURL() string {
	return "http://" + c.Addr()
}

// ConfigPath resolves the editor config document against the data dir.
func (c Settings) ConfigPath() string {
	file := strings.TrimSpace(c.ConfigFile)
	if file == "" {
		file = DefaultConfigFile
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(c.DataDir, file)
}

func (c Settings) AITimeout() time.Duration {
	return time.Duration(c.AITimeoutSeconds) * time.Second
}

func (c Settings) ScratchRetentionDuration() (time.Duration, error) {
	raw := strings.TrimSpace(c.ScratchRetention)
	if raw == "" {
		raw = DefaultScratchRetain
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid scratch_retention %q: %w", c.ScratchRetention, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("scratch_retention must be positive, got %s", d)
	}
	return d, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
