// Package config loads and validates the host process's YAML configuration:
// the devices to open, the pipes to wire between them, the monitors to
// attach, and the optional status API. Files are searched in a set of
// default locations, unmarshalled with yaml.v3 and validated with
// go-playground struct tags.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default config file locations, searched in order when no path is given.
var configPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./whad.yaml",
	"./whad.yml",
	"~/.config/whad/config.yaml",
	"/etc/whad/config.yaml",
}

// Config is the top-level host configuration.
type Config struct {
	Devices  []DeviceConfig  `yaml:"devices" json:"devices"`
	Pipes    []PipeConfig    `yaml:"pipes" json:"pipes"`
	Monitors []MonitorConfig `yaml:"monitors" json:"monitors"`
	API      APIConfig       `yaml:"api" json:"api"`
	Logging  LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig   `yaml:"metrics" json:"metrics"`
	Bonds    BondConfig      `yaml:"bonds" json:"bonds"`
}

// DeviceConfig names one dongle to open at startup.
type DeviceConfig struct {
	Name string `yaml:"name" json:"name" validate:"required,alphanum"`

	// Transport selects "serial" or "unixsocket".
	Transport string `yaml:"transport" json:"transport" validate:"required,oneof=serial unixsocket"`

	// Address is a serial device path or a unix socket path.
	Address string `yaml:"address" json:"address" validate:"required"`

	// BaudRate applies to the serial transport only.
	BaudRate int `yaml:"baud_rate" json:"baud_rate"`
}

// PipeConfig wires two configured devices into a bridge.
type PipeConfig struct {
	Name   string `yaml:"name" json:"name" validate:"required"`
	Input  string `yaml:"input" json:"input" validate:"required"`
	Output string `yaml:"output" json:"output" validate:"required"`
	Domain string `yaml:"domain" json:"domain" validate:"required"`

	// RawPDU forces raw-PDU mode regardless of what each side negotiates.
	RawPDU bool `yaml:"raw_pdu" json:"raw_pdu"`

	// PendingQueueCap bounds packets buffered while the far side is
	// disconnected; above the cap the oldest packets are dropped.
	PendingQueueCap int `yaml:"pending_queue_cap" json:"pending_queue_cap"`
}

// MonitorConfig attaches a monitor to a device's connector.
type MonitorConfig struct {
	Name   string `yaml:"name" json:"name" validate:"required"`
	Device string `yaml:"device" json:"device" validate:"required"`
	Domain string `yaml:"domain" json:"domain"`
	Type   string `yaml:"type" json:"type" validate:"required,oneof=pcap"`
	Path   string `yaml:"path" json:"path" validate:"required"`
}

// APIConfig holds the optional introspection/control HTTP+WS surface.
type APIConfig struct {
	Enabled bool       `yaml:"enabled" json:"enabled"`
	Addr    string     `yaml:"addr" json:"addr"`
	Auth    AuthConfig `yaml:"auth" json:"auth"`
}

// AuthConfig holds API bearer-token authentication settings.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// BondConfig configures the SMP bonding material store.
type BondConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Load reads configuration from path, or searches the default locations if
// path is empty, falling back to DefaultConfig if none exist.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}

	for _, p := range configPaths {
		if len(p) > 0 && p[0] == '~' {
			home, err := os.UserHomeDir()
			if err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}

	return DefaultConfig(), nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies struct-tag validation to cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a Config with no devices configured and
// conservative ambient defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Metrics: MetricsConfig{Enabled: false, Endpoint: "/metrics", Interval: 10 * time.Second},
		API:     APIConfig{Enabled: false, Addr: ":8080"},
		Bonds:   BondConfig{Enabled: false, Path: "./whad-bonds.db"},
	}
}
