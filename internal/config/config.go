// Package config loads and validates the wearlink YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	BLE         BLEConfig         `yaml:"ble"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// GatewayConfig holds the WebSocket gateway settings.
type GatewayConfig struct {
	Listen         string `yaml:"listen"`
	Path           string `yaml:"path"`
	RateLimitRPM   int    `yaml:"rate_limit_rpm"`   // 0 disables limiting
	RateLimitBurst int    `yaml:"rate_limit_burst"` // max burst per client
}

// BLEConfig holds device operator and Bluetooth manager settings.
type BLEConfig struct {
	Backend          string        `yaml:"backend"` // "radio" or "sim"
	Adapter          string        `yaml:"adapter"` // BlueZ adapter name, e.g. hci0
	ScanTimeout      time.Duration `yaml:"scan_timeout"`
	MinScanInterval  time.Duration `yaml:"min_scan_interval"`
	RSSIDelta        int           `yaml:"rssi_delta"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	ScanEnabled      bool          `yaml:"scan_enabled"`
	PowerSave        bool          `yaml:"power_save"`
	Retry            RetryConfig   `yaml:"retry"`
}

// RetryConfig controls connect retries.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// PermissionsConfig selects how permission checks are answered.
type PermissionsConfig struct {
	Mode              string   `yaml:"mode"` // "policy" or "prompt"
	PlatformVersion   int      `yaml:"platform_version"`
	Granted           []string `yaml:"granted"`
	Restricted        []string `yaml:"restricted"`
	DeniedPermanently []string `yaml:"denied_permanently"`
}

// CredentialsConfig selects where bound-device credentials are persisted.
type CredentialsConfig struct {
	Backend           string `yaml:"backend"` // "file" or "keyring"
	Path              string `yaml:"path"`
	KeyringService    string `yaml:"keyring_service"`
	ClearOnDisconnect bool   `yaml:"clear_on_disconnect"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "wearlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Gateway: GatewayConfig{
			Listen:         "127.0.0.1:8765",
			Path:           "/ws",
			RateLimitRPM:   600,
			RateLimitBurst: 20,
		},
		BLE: BLEConfig{
			Backend:          "radio",
			Adapter:          "hci0",
			ScanTimeout:      60 * time.Second,
			MinScanInterval:  time.Minute,
			RSSIDelta:        10,
			OperationTimeout: 30 * time.Second,
			ScanEnabled:      true,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: time.Second,
				MaxDelay:     10 * time.Second,
			},
		},
		Permissions: PermissionsConfig{
			Mode:            "policy",
			PlatformVersion: 31,
			Granted:         []string{"BLUETOOTH_SCAN", "BLUETOOTH_CONNECT", "ACCESS_FINE_LOCATION"},
		},
		Credentials: CredentialsConfig{
			Backend:        "file",
			Path:           filepath.Join(DefaultConfigDir(), "credentials.yaml"),
			KeyringService: "wearlink",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in credentials.path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Credentials.Path = expandTilde(cfg.Credentials.Path)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. Returns the written path, or "" if a file already existed.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}

	content := append([]byte("# wearlink configuration\n"), data...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Gateway.Listen == "" {
		return fmt.Errorf("gateway.listen must not be empty")
	}
	if !strings.HasPrefix(c.Gateway.Path, "/") {
		return fmt.Errorf("gateway.path must start with \"/\", got %q", c.Gateway.Path)
	}
	if c.Gateway.RateLimitRPM < 0 {
		return fmt.Errorf("gateway.rate_limit_rpm must be >= 0")
	}

	switch c.BLE.Backend {
	case "radio", "sim":
	default:
		return fmt.Errorf("ble.backend must be \"radio\" or \"sim\", got %q", c.BLE.Backend)
	}
	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}
	if c.BLE.MinScanInterval < 0 {
		return fmt.Errorf("ble.min_scan_interval must be >= 0")
	}
	if c.BLE.RSSIDelta <= 0 {
		return fmt.Errorf("ble.rssi_delta must be > 0")
	}
	if c.BLE.OperationTimeout <= 0 {
		return fmt.Errorf("ble.operation_timeout must be > 0")
	}
	if c.BLE.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("ble.retry.max_attempts must be > 0")
	}
	if c.BLE.Retry.InitialDelay < 0 || c.BLE.Retry.MaxDelay < c.BLE.Retry.InitialDelay {
		return fmt.Errorf("ble.retry delays must satisfy 0 <= initial_delay <= max_delay")
	}

	switch c.Permissions.Mode {
	case "policy", "prompt":
	default:
		return fmt.Errorf("permissions.mode must be \"policy\" or \"prompt\", got %q", c.Permissions.Mode)
	}
	if c.Permissions.PlatformVersion <= 0 {
		return fmt.Errorf("permissions.platform_version must be > 0")
	}

	switch c.Credentials.Backend {
	case "file":
		if c.Credentials.Path == "" {
			return fmt.Errorf("credentials.path must not be empty for the file backend")
		}
	case "keyring":
		if c.Credentials.KeyringService == "" {
			return fmt.Errorf("credentials.keyring_service must not be empty for the keyring backend")
		}
	default:
		return fmt.Errorf("credentials.backend must be \"file\" or \"keyring\", got %q", c.Credentials.Backend)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
