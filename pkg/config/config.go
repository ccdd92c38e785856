package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/challengectl/challengectl/pkg/freq"
	"github.com/challengectl/challengectl/pkg/types"
)

// Duration wraps time.Duration so YAML configs can say "30s" or "5m"
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Tunables are the operational timing knobs. Zero values fall back to the
// defaults below; environment variables override file values.
type Tunables struct {
	PollInterval       Duration `yaml:"poll_interval"`
	HeartbeatInterval  Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout   Duration `yaml:"heartbeat_timeout"`
	AssignmentTTL      Duration `yaml:"assignment_ttl"`
	StaleSweepInterval Duration `yaml:"stale_sweep_interval"`
	TokenSweepInterval Duration `yaml:"token_sweep_interval"`
	SessionTimeout     Duration `yaml:"session_timeout"`
}

// DefaultTunables returns the stock timing configuration
func DefaultTunables() Tunables {
	return Tunables{
		PollInterval:       Duration(10 * time.Second),
		HeartbeatInterval:  Duration(30 * time.Second),
		HeartbeatTimeout:   Duration(90 * time.Second),
		AssignmentTTL:      Duration(5 * time.Minute),
		StaleSweepInterval: Duration(30 * time.Second),
		TokenSweepInterval: Duration(60 * time.Second),
		SessionTimeout:     Duration(24 * time.Hour),
	}
}

func (t *Tunables) applyDefaults() {
	def := DefaultTunables()
	if t.PollInterval == 0 {
		t.PollInterval = def.PollInterval
	}
	if t.HeartbeatInterval == 0 {
		t.HeartbeatInterval = def.HeartbeatInterval
	}
	if t.HeartbeatTimeout == 0 {
		t.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if t.AssignmentTTL == 0 {
		t.AssignmentTTL = def.AssignmentTTL
	}
	if t.StaleSweepInterval == 0 {
		t.StaleSweepInterval = def.StaleSweepInterval
	}
	if t.TokenSweepInterval == 0 {
		t.TokenSweepInterval = def.TokenSweepInterval
	}
	if t.SessionTimeout == 0 {
		t.SessionTimeout = def.SessionTimeout
	}
}

func (t *Tunables) applyEnv() error {
	overrides := map[string]*Duration{
		"CHALLENGECTL_POLL_INTERVAL":        &t.PollInterval,
		"CHALLENGECTL_HEARTBEAT_INTERVAL":   &t.HeartbeatInterval,
		"CHALLENGECTL_HEARTBEAT_TIMEOUT":    &t.HeartbeatTimeout,
		"CHALLENGECTL_ASSIGNMENT_TTL":       &t.AssignmentTTL,
		"CHALLENGECTL_STALE_SWEEP_INTERVAL": &t.StaleSweepInterval,
		"CHALLENGECTL_TOKEN_SWEEP_INTERVAL": &t.TokenSweepInterval,
		"CHALLENGECTL_SESSION_TIMEOUT":      &t.SessionTimeout,
	}
	for name, field := range overrides {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", name, v, err)
		}
		*field = Duration(parsed)
	}
	return nil
}

// TLSConfig controls the controller listener. When enabled without cert
// paths, a self-signed certificate is generated under the data directory.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Controller is the controller process configuration
type Controller struct {
	Listen   string    `yaml:"listen"`
	DataDir  string    `yaml:"data_dir"`
	LogLevel string    `yaml:"log_level"`
	LogJSON  bool      `yaml:"log_json"`
	TLS      TLSConfig `yaml:"tls"`
	Manifest string    `yaml:"manifest"`
	Tunables Tunables  `yaml:"tunables"`
}

// DefaultController returns a controller config with stock values
func DefaultController() *Controller {
	return &Controller{
		Listen:   "127.0.0.1:8440",
		DataDir:  "./challengectl-data",
		LogLevel: "info",
		Tunables: DefaultTunables(),
	}
}

// LoadController reads a controller config file, filling defaults and
// applying environment overrides. An empty path yields pure defaults.
func LoadController(path string) (*Controller, error) {
	cfg := DefaultController()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultController().Listen
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultController().DataDir
	}
	cfg.Tunables.applyDefaults()
	if err := cfg.Tunables.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DeviceConfig describes one SDR device in the agent config file
type DeviceConfig struct {
	Name        string   `yaml:"name"`
	Driver      string   `yaml:"driver"`
	Serial      string   `yaml:"serial"`
	Frequencies []string `yaml:"frequencies"`
}

// ToDevice parses the frequency strings into a device descriptor
func (d DeviceConfig) ToDevice() (types.Device, error) {
	dev := types.Device{
		Name:   d.Name,
		Driver: d.Driver,
		Serial: d.Serial,
	}
	if dev.Name == "" {
		return dev, fmt.Errorf("device name is required")
	}
	var set freq.Set
	for _, spec := range d.Frequencies {
		parsed, err := freq.Parse(spec)
		if err != nil {
			return dev, fmt.Errorf("device %s: %w", d.Name, err)
		}
		set = append(set, parsed...)
	}
	if set.Empty() {
		return dev, fmt.Errorf("device %s declares no transmit frequencies", d.Name)
	}
	dev.Frequencies = set.Normalize()
	return dev, nil
}

// Agent is the runner agent configuration
type Agent struct {
	ControllerURL      string            `yaml:"controller_url"`
	Name               string            `yaml:"name"`
	EnrollmentToken    string            `yaml:"enrollment_token"`
	StateDir           string            `yaml:"state_dir"`
	CacheDir           string            `yaml:"cache_dir"`
	PollInterval       Duration          `yaml:"poll_interval"`
	HeartbeatInterval  Duration          `yaml:"heartbeat_interval"`
	SpectrumPaint      bool              `yaml:"spectrum_paint"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify"`
	LogLevel           string            `yaml:"log_level"`
	LogJSON            bool              `yaml:"log_json"`
	Devices            []DeviceConfig    `yaml:"devices"`
	Tools              map[string]string `yaml:"tools"`
}

// LoadAgent reads and validates an agent config file
func LoadAgent(path string) (*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Agent
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.ControllerURL == "" {
		return nil, fmt.Errorf("controller_url is required")
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "./runner-state"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.StateDir, "cache")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultTunables().PollInterval
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultTunables().HeartbeatInterval
	}
	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("at least one device is required")
	}
	for _, d := range cfg.Devices {
		if _, err := d.ToDevice(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
