// Package config loads rendermesh settings from a TOML file, applies
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dreamware/rendermesh/internal/liveness"
)

// Environment variables that override file settings.
const (
	EnvConfig   = "RENDERMESH_CONFIG"
	EnvBackend  = "RENDERMESH_BACKEND"
	EnvListen   = "RENDERMESH_LISTEN"
	EnvLogLevel = "RENDERMESH_LOG_LEVEL"
)

var ErrInvalid = errors.New("invalid configuration")

type Backend struct {
	URL     string        `toml:"url"`
	Timeout time.Duration `toml:"timeout"`
}

type Poll struct {
	// Interval applies to every poller. It must stay well below the
	// liveness staleness window.
	Interval time.Duration `toml:"interval"`
}

type Failover struct {
	// AutoReelect requests a re-election as soon as the leader goes down
	// instead of waiting for the operator.
	AutoReelect bool `toml:"auto_reelect"`
}

type Server struct {
	Listen string `toml:"listen"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Config is the top-level configuration.
type Config struct {
	Log      Log      `toml:"log"`
	Backend  Backend  `toml:"backend"`
	Server   Server   `toml:"server"`
	Poll     Poll     `toml:"poll"`
	Failover Failover `toml:"failover"`
	Metrics  Metrics  `toml:"metrics"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend:  Backend{URL: "http://localhost:5050/api", Timeout: 5 * time.Second},
		Poll:     Poll{Interval: 2000 * time.Millisecond},
		Failover: Failover{AutoReelect: false},
		Server:   Server{Listen: ":8090"},
		Log:      Log{Level: "info", Format: "text"},
		Metrics:  Metrics{Enabled: true},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file. Keys missing from the
// file keep their default values.
//
// Parameters:
//   - path: TOML file, may be empty
//
// Returns:
//   - Config: the effective configuration
//   - error: decode failure, unknown keys or a validation error
//
// Example:
//
//	cfg, err := config.Load(os.Getenv(config.EnvConfig))
//	if err != nil {
//	    log.Fatalf("config: %v", err)
//	}
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Backend.URL = getenv(EnvBackend, c.Backend.URL)
	c.Server.Listen = getenv(EnvListen, c.Server.Listen)
	c.Log.Level = getenv(EnvLogLevel, c.Log.Level)
}

// Validate checks the invariants the rest of the system relies on.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Backend.URL) == "" {
		problems = append(problems, "backend.url is empty")
	}
	if c.Backend.Timeout <= 0 {
		problems = append(problems, "backend.timeout must be positive")
	}
	if c.Poll.Interval <= 0 {
		problems = append(problems, "poll.interval must be positive")
	} else if 2*c.Poll.Interval >= liveness.StalenessWindow {
		problems = append(problems, fmt.Sprintf("poll.interval %v leaves no margin below the %v staleness window", c.Poll.Interval, liveness.StalenessWindow))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not text or json", c.Log.Format))
	}
	if c.Server.Listen == "" {
		problems = append(problems, "server.listen is empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
