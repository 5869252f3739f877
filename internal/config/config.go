package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultRetries = 3
	DefaultMeterID = 1
	DefaultPacing  = time.Second
)

// Config holds the application configuration
type Config struct {
	BaseURL      string     `yaml:"base_url"`            // Primary (login) host, e.g. "https://www.ruvie.co.kr"
	MeterBaseURL string     `yaml:"meter_base_url"`      // Data host serving the readings table
	Username     string     `yaml:"username,omitempty"`
	Password     string     `yaml:"password,omitempty"`
	MeterID      int        `yaml:"meter_id,omitempty"`  // "eg" query parameter (fallback: 1)
	Timeout      int        `yaml:"timeout,omitempty"`   // Request timeout in seconds (fallback: 30)
	Retries      *int       `yaml:"retries,omitempty"`   // Passed through, not acted on by the client
	PacingMillis int        `yaml:"pacing_ms,omitempty"` // Delay between months (fallback: 1000)
	Debug        bool       `yaml:"debug,omitempty"`
	MQTT         MQTTConfig `yaml:"mqtt,omitempty"`
}

// MQTTConfig holds the Home Assistant MQTT publishing configuration
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`                 // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"` // fallback: "remote_meter"
	ClientID    string `yaml:"client_id,omitempty"`    // fallback: "remotemeter"
}

// Cookie represents a session cookie handed to the capture browser
type Cookie struct {
	Name     string  `yaml:"name"`
	Value    string  `yaml:"value"`
	Domain   string  `yaml:"domain"`
	Path     string  `yaml:"path"`
	Expires  float64 `yaml:"expires,omitempty"`
	HTTPOnly bool    `yaml:"httpOnly,omitempty"`
	Secure   bool    `yaml:"secure,omitempty"`
}

// ConfigurationError reports a missing or malformed setting
type ConfigurationError struct {
	Key     string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Message)
}

// Environment variables that override the config file
const (
	EnvBaseURL      = "RUVIE_BASE_URL"
	EnvMeterBaseURL = "METER_BASE_URL"
	EnvUsername     = "RUVIE_USERNAME"
	EnvPassword     = "RUVIE_PASSWORD"
	EnvDebug        = "DEBUG"
	EnvTimeout      = "REQUEST_TIMEOUT"
	EnvRetries      = "REQUEST_RETRIES"
	EnvMeterID      = "METER_ID"
)

// Load reads the config file, merges <name>.local.<ext> over it, loads .env
// and applies environment overrides. A missing file is not an error.
// The result is not validated; call Validate before using it.
func Load(configPath string) (*Config, error) {
	cfg, err := readFile(configPath)
	if err != nil {
		return nil, err
	}

	localPath := LocalPath(configPath)
	local, err := readFile(localPath)
	if err != nil {
		return nil, err
	}
	if *local != (Config{}) {
		if err := mergo.Merge(cfg, *local, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging %s: %w", localPath, err)
		}
		slog.Debug("merged config with local overrides", "local", localPath)
	}

	// .env only fills variables that aren't already set
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return &cfg, nil
}

// LocalPath returns the override file path for configPath, e.g.
// config.yaml -> config.local.yaml
func LocalPath(configPath string) string {
	ext := filepath.Ext(configPath)
	return strings.TrimSuffix(configPath, ext) + ".local" + ext
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.BaseURL = v
	}
	if v, ok := lookup(EnvMeterBaseURL); ok && v != "" {
		c.MeterBaseURL = v
	}
	if v, ok := lookup(EnvUsername); ok && v != "" {
		c.Username = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		c.Password = v
	}
	if v, ok := lookup(EnvDebug); ok && v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			c.Debug = true
		default:
			c.Debug = false
		}
	}
	if v, ok := lookup(EnvTimeout); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return &ConfigurationError{Key: EnvTimeout, Message: fmt.Sprintf("expected a positive number of seconds, got %q", v)}
		}
		c.Timeout = n
	}
	if v, ok := lookup(EnvRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return &ConfigurationError{Key: EnvRetries, Message: fmt.Sprintf("expected a non-negative integer, got %q", v)}
		}
		c.Retries = &n
	}
	if v, ok := lookup(EnvMeterID); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return &ConfigurationError{Key: EnvMeterID, Message: fmt.Sprintf("expected a positive integer, got %q", v)}
		}
		c.MeterID = n
	}
	return nil
}

// Validate checks that both hosts are configured
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return &ConfigurationError{Key: EnvBaseURL, Message: "base_url is not set"}
	}
	if c.MeterBaseURL == "" {
		return &ConfigurationError{Key: EnvMeterBaseURL, Message: "meter_base_url is not set"}
	}
	return nil
}

// Save writes the config to file. The file is replaced atomically and
// readable only by the owner since it may hold the portal password.
func Save(configPath string, cfg *Config) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(configPath)+".*")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if err := os.Rename(tmp.Name(), configPath); err != nil {
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// SaveCredentials stores the portal login in configPath. Only the file
// itself is rewritten; local overrides and environment values are not
// copied into it.
func SaveCredentials(configPath, username, password string) error {
	cfg, err := readFile(configPath)
	if err != nil {
		return err
	}
	cfg.Username = username
	cfg.Password = password
	return Save(configPath, cfg)
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// GetTimeout returns the request timeout with a default of 30 seconds
func (c *Config) GetTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.Timeout) * time.Second
}

// GetRetries returns the configured retry count with a default of 3
func (c *Config) GetRetries() int {
	if c.Retries == nil {
		return DefaultRetries
	}
	return *c.Retries
}

// GetMeterID returns the meter id with a default of 1
func (c *Config) GetMeterID() int {
	if c.MeterID <= 0 {
		return DefaultMeterID
	}
	return c.MeterID
}

// GetPacing returns the delay between month fetches with a default of 1 second
func (c *Config) GetPacing() time.Duration {
	if c.PacingMillis <= 0 {
		return DefaultPacing
	}
	return time.Duration(c.PacingMillis) * time.Millisecond
}
