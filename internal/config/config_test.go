package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/signalsfoundry/runway-monitor/internal/sim/state"
	"github.com/signalsfoundry/runway-monitor/internal/wire"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Backend.Host != "127.0.0.1" || cfg.Backend.Port != 54321 {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if cfg.Session.Runways != 3 || cfg.Session.Planes != 10 || len(cfg.Session.Priorities) != 10 {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if cfg.Backend.RetryInterval != 100*time.Millisecond || cfg.Backend.MaxAttempts != 100 {
		t.Fatalf("retry = %v x %d", cfg.Backend.RetryInterval, cfg.Backend.MaxAttempts)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "runway.yaml", `
backend:
  host: scheduler.local
  port: 6000
  retry_interval: 250ms
session:
  runways: 2
  priorities: [2, 1]
  unknown_planes: strict
status:
  http_addr: ""
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Host != "scheduler.local" || cfg.Backend.Port != 6000 || cfg.Backend.RetryInterval != 250*time.Millisecond {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if cfg.Session.Planes != 2 || !reflect.DeepEqual(cfg.Session.Priorities, []int{2, 1}) {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if cfg.Status.HTTPAddr != "" || cfg.Status.GRPCAddr != DefaultGRPCAddr {
		t.Fatalf("status = %+v", cfg.Status)
	}
	if got := cfg.SessionSettings().UnknownPlanes; got != state.PolicyStrict {
		t.Fatalf("policy = %v", got)
	}
	if cfg.LoggingConfig().Level != "debug" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	// Untouched keys keep their defaults.
	if cfg.Backend.MaxAttempts != wire.DefaultMaxAttempts {
		t.Fatalf("max_attempts = %d", cfg.Backend.MaxAttempts)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "runway.toml", `
[backend]
port = 7000
poll_timeout = "2s"

[session]
runways = 4
planes = 3
priorities = [3, 1, 2]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Port != 7000 || cfg.Backend.PollTimeout != 2*time.Second {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if cfg.Session.Runways != 4 || cfg.Session.Planes != 3 {
		t.Fatalf("session = %+v", cfg.Session)
	}
	ws := cfg.WireSettings()
	if ws.Address() != "127.0.0.1:7000" {
		t.Fatalf("address = %s", ws.Address())
	}
}

func TestLoadKeepsExplicitPlaneCount(t *testing.T) {
	path := writeFile(t, "runway.yml", "session:\n  planes: 3\n  priorities: [1, 2]\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var cerr *wire.ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &cerr) || cerr.Field != "priorities" {
		t.Fatalf("Validate = %v, want priorities error", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file loaded")
	}
	if _, err := Load(writeFile(t, "runway.json", "{}")); err == nil {
		t.Fatalf("unsupported extension loaded")
	}
	if _, err := Load(writeFile(t, "bad.toml", "[backend\nport=")); err == nil {
		t.Fatalf("malformed toml loaded")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvBackendHost, "10.0.0.5")
	t.Setenv(EnvBackendPort, "6100")
	t.Setenv(EnvPriorities, "2, 1")
	t.Setenv(EnvRunways, "1")
	t.Setenv(EnvUnknownPlanes, "strict")
	t.Setenv(EnvStatusHTTPAddr, "")
	t.Setenv(EnvStatusGRPCAddr, "127.0.0.1:0")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Backend.Host != "10.0.0.5" || cfg.Backend.Port != 6100 {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if cfg.Session.Runways != 1 || cfg.Session.Planes != 2 || !reflect.DeepEqual(cfg.Session.Priorities, []int{2, 1}) {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if cfg.Session.UnknownPlanes != "strict" || cfg.Status.HTTPAddr != "" || cfg.Status.GRPCAddr != "127.0.0.1:0" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv(EnvBackendPort, "http")
	cfg := Default()
	var cerr *wire.ConfigurationError
	if err := cfg.ApplyEnv(); !errors.As(err, &cerr) || cerr.Field != "backend.port" {
		t.Fatalf("ApplyEnv = %v", err)
	}
}

func TestParsePriorities(t *testing.T) {
	got, err := ParsePriorities(" 3,1 ,2,")
	if err != nil || !reflect.DeepEqual(got, []int{3, 1, 2}) {
		t.Fatalf("ParsePriorities = %v, %v", got, err)
	}
	for _, in := range []string{"", " , ", "1,x"} {
		if _, err := ParsePriorities(in); err == nil {
			t.Fatalf("ParsePriorities(%q) accepted", in)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"empty host", func(c *Config) { c.Backend.Host = " " }, "backend.host"},
		{"port", func(c *Config) { c.Backend.Port = 70000 }, "backend.port"},
		{"runways", func(c *Config) { c.Session.Runways = 0 }, "runways"},
		{"planes", func(c *Config) { c.Session.Planes = 0 }, "planes"},
		{"count mismatch", func(c *Config) { c.Session.Planes = 2 }, "priorities"},
		{"duplicate", func(c *Config) { c.Session.Planes, c.Session.Priorities = 2, []int{1, 1} }, "priorities"},
		{"non-positive", func(c *Config) { c.Session.Planes, c.Session.Priorities = 2, []int{0, 1} }, "priorities"},
		{"policy", func(c *Config) { c.Session.UnknownPlanes = "lenient" }, "session.unknown_planes"},
		{"queue", func(c *Config) { c.Session.QueueSize = -1 }, "session.queue_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(&cfg)
			var cerr *wire.ConfigurationError
			if err := cfg.Validate(); !errors.As(err, &cerr) || cerr.Field != tt.field {
				t.Fatalf("Validate = %v, want field %q", err, tt.field)
			}
		})
	}
}
