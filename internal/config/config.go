// internal/config/config.go
//
// Runtime configuration for the runway monitor. Values come from built-in
// defaults, then an optional YAML or TOML file, then RUNWAY_* environment
// variables; the CLI applies its flags last.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/signalsfoundry/runway-monitor/internal/logging"
	"github.com/signalsfoundry/runway-monitor/internal/session"
	"github.com/signalsfoundry/runway-monitor/internal/sim/state"
	"github.com/signalsfoundry/runway-monitor/internal/wire"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultRunways and DefaultPlanes match the backend's stock scenario.
	DefaultRunways = 3
	DefaultPlanes  = 10

	DefaultHTTPAddr = ":8080"
	DefaultGRPCAddr = ":50051"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvBackendHost    = "RUNWAY_BACKEND_HOST"
	EnvBackendPort    = "RUNWAY_BACKEND_PORT"
	EnvPriorities     = "RUNWAY_PRIORITIES"
	EnvRunways        = "RUNWAY_RUNWAYS"
	EnvUnknownPlanes  = "RUNWAY_UNKNOWN_PLANES"
	EnvStatusHTTPAddr = "RUNWAY_STATUS_HTTP_ADDR"
	EnvStatusGRPCAddr = "RUNWAY_STATUS_GRPC_ADDR"
)

// Backend describes how to reach the scheduler process.
type Backend struct {
	Host           string        `yaml:"host" toml:"host"`
	Port           int           `yaml:"port" toml:"port"`
	MaxAttempts    int           `yaml:"max_attempts" toml:"max_attempts"`
	RetryInterval  time.Duration `yaml:"retry_interval" toml:"retry_interval"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" toml:"attempt_timeout"`
	PollTimeout    time.Duration `yaml:"poll_timeout" toml:"poll_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive" toml:"keep_alive"`
}

// Session holds the parameters sent in CONFIG at session start.
type Session struct {
	Runways       int    `yaml:"runways" toml:"runways"`
	Planes        int    `yaml:"planes" toml:"planes"`
	Priorities    []int  `yaml:"priorities" toml:"priorities"`
	UnknownPlanes string `yaml:"unknown_planes" toml:"unknown_planes"`
	QueueSize     int    `yaml:"queue_size" toml:"queue_size"`
}

// Status configures the read-only status listeners. An empty address
// disables that listener.
type Status struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// Logging mirrors logging.Config.
type Logging struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Config is the complete runtime configuration.
type Config struct {
	Backend Backend `yaml:"backend" toml:"backend"`
	Session Session `yaml:"session" toml:"session"`
	Status  Status  `yaml:"status" toml:"status"`
	Logging Logging `yaml:"logging" toml:"logging"`
}

// Default returns the stock configuration: the local backend on its fixed
// port, three runways and ten planes with priorities 1..10.
func Default() Config {
	ws := wire.DefaultSettings()
	priorities := make([]int, DefaultPlanes)
	for i := range priorities {
		priorities[i] = i + 1
	}
	return Config{
		Backend: Backend{
			Host:           ws.Host,
			Port:           ws.Port,
			MaxAttempts:    ws.MaxAttempts,
			RetryInterval:  ws.RetryInterval,
			AttemptTimeout: ws.AttemptTimeout,
			PollTimeout:    ws.PollTimeout,
			KeepAlive:      ws.KeepAlive,
		},
		Session: Session{
			Runways:       DefaultRunways,
			Planes:        DefaultPlanes,
			Priorities:    priorities,
			UnknownPlanes: state.PolicyTolerant.String(),
			QueueSize:     session.DefaultQueueSize,
		},
		Status: Status{
			HTTPAddr: DefaultHTTPAddr,
			GRPCAddr: DefaultGRPCAddr,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. The decoder is picked by extension:
// .yaml/.yml or .toml. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		_, err = toml.Decode(string(data), &cfg)
	default:
		return cfg, fmt.Errorf("config: unsupported file type %q", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// A priority list without an explicit plane count defines the fleet.
	if len(cfg.Session.Priorities) > 0 && !definesPlanes(data, filepath.Ext(path)) {
		cfg.Session.Planes = len(cfg.Session.Priorities)
	}
	return cfg, nil
}

func definesPlanes(data []byte, ext string) bool {
	var explicit struct {
		Session struct {
			Planes *int `yaml:"planes" toml:"planes"`
		} `yaml:"session" toml:"session"`
	}
	switch strings.ToLower(ext) {
	case ".toml":
		_, _ = toml.Decode(string(data), &explicit)
	default:
		_ = yaml.Unmarshal(data, &explicit)
	}
	return explicit.Session.Planes != nil
}

// ApplyEnv overlays RUNWAY_* environment variables. Setting RUNWAY_PRIORITIES
// also sets the plane count to the number of priorities given.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvBackendHost); v != "" {
		c.Backend.Host = v
	}
	if v := os.Getenv(EnvBackendPort); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &wire.ConfigurationError{Field: "backend.port", Reason: fmt.Sprintf("%s=%q is not an integer", EnvBackendPort, v)}
		}
		c.Backend.Port = port
	}
	if v := os.Getenv(EnvRunways); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &wire.ConfigurationError{Field: "session.runways", Reason: fmt.Sprintf("%s=%q is not an integer", EnvRunways, v)}
		}
		c.Session.Runways = n
	}
	if v := os.Getenv(EnvPriorities); v != "" {
		if err := c.SetPriorities(v); err != nil {
			return err
		}
	}
	if v := os.Getenv(EnvUnknownPlanes); v != "" {
		c.Session.UnknownPlanes = v
	}
	if v, ok := os.LookupEnv(EnvStatusHTTPAddr); ok {
		c.Status.HTTPAddr = v
	}
	if v, ok := os.LookupEnv(EnvStatusGRPCAddr); ok {
		c.Status.GRPCAddr = v
	}
	return nil
}

// SetPriorities replaces the priority list from a comma-separated string and
// sizes the fleet to match.
func (c *Config) SetPriorities(list string) error {
	prios, err := ParsePriorities(list)
	if err != nil {
		return err
	}
	c.Session.Priorities = prios
	c.Session.Planes = len(prios)
	return nil
}

// ParsePriorities parses "2,1,3" into []int{2, 1, 3}. Uniqueness is left to
// Validate.
func ParsePriorities(list string) ([]int, error) {
	parts := strings.Split(list, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil {
			return nil, &wire.ConfigurationError{Field: "priorities", Reason: fmt.Sprintf("%q is not an integer", part)}
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, &wire.ConfigurationError{Field: "priorities", Reason: "empty list"}
	}
	return out, nil
}

// Validate reports the first problem as a *wire.ConfigurationError.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Backend.Host) == "" {
		return &wire.ConfigurationError{Field: "backend.host", Reason: "must not be empty"}
	}
	if c.Backend.Port <= 0 || c.Backend.Port > 65535 {
		return &wire.ConfigurationError{Field: "backend.port", Reason: fmt.Sprintf("%d is outside 1..65535", c.Backend.Port)}
	}
	if c.Backend.MaxAttempts < 0 {
		return &wire.ConfigurationError{Field: "backend.max_attempts", Reason: "must not be negative"}
	}
	if c.Session.QueueSize < 0 {
		return &wire.ConfigurationError{Field: "session.queue_size", Reason: "must not be negative"}
	}
	if _, err := state.ParseUnknownPlanePolicy(c.Session.UnknownPlanes); err != nil {
		return &wire.ConfigurationError{Field: "session.unknown_planes", Reason: err.Error()}
	}
	return wire.ValidateConfig(c.Session.Runways, c.Session.Planes, c.Session.Priorities)
}

// WireSettings converts the backend section for wire.NewConnector.
func (c Config) WireSettings() wire.Settings {
	return wire.Settings{
		Host:           c.Backend.Host,
		Port:           c.Backend.Port,
		MaxAttempts:    c.Backend.MaxAttempts,
		RetryInterval:  c.Backend.RetryInterval,
		AttemptTimeout: c.Backend.AttemptTimeout,
		PollTimeout:    c.Backend.PollTimeout,
		KeepAlive:      c.Backend.KeepAlive,
	}
}

// SessionSettings converts the configuration for session.NewMonitor. Call
// Validate first; an unparsable policy falls back to tolerant.
func (c Config) SessionSettings() session.Settings {
	policy, err := state.ParseUnknownPlanePolicy(c.Session.UnknownPlanes)
	if err != nil {
		policy = state.PolicyTolerant
	}
	return session.Settings{
		Wire:          c.WireSettings(),
		Runways:       c.Session.Runways,
		UnknownPlanes: policy,
		QueueSize:     c.Session.QueueSize,
	}
}

// LoggingConfig converts the logging section.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}
