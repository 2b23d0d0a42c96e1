// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package config holds the tunables of the routing and session core,
// loadable from a TOML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so that TOML values can be written as
// human-readable strings like "60s" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Config is the routing core's configuration. The zero value is not usable;
// start from Default.
type Config struct {
	// Domain is the XMPP domain this server is authoritative for.
	Domain string `toml:"domain"`

	Routing RoutingConfig `toml:"routing"`
	Session SessionConfig `toml:"session"`
	Logging LoggingConfig `toml:"logging"`
}

// RoutingConfig tunes the stanza routers.
type RoutingConfig struct {
	// AdminRecipients is a comma or space separated list of bare JIDs or
	// bare usernames that receive messages addressed to the server's own
	// domain. When empty, the server's admin accounts are used.
	AdminRecipients string `toml:"admin_recipients"`

	// RouteAllResources delivers messages addressed to a bare JID to every
	// highest-priority available resource instead of picking a single best
	// one.
	RouteAllResources bool `toml:"route_all_resources"`

	// ResultTimeout is how long an IQ result listener waits for an answer
	// before its timeout callback fires.
	ResultTimeout Duration `toml:"result_timeout"`

	// ResultSweepInterval is how often timed-out result listeners are
	// purged. A listener can outlive its timeout by at most one interval,
	// never less than the timeout itself.
	ResultSweepInterval Duration `toml:"result_sweep_interval"`
}

// SessionConfig tunes the session registry.
type SessionConfig struct {
	// ServerIdleTimeout closes incoming and outgoing server sessions that
	// have been inactive for this long.
	ServerIdleTimeout Duration `toml:"server_idle_timeout"`

	// ServerIdleSweepInterval is how often idle server sessions are
	// checked.
	ServerIdleSweepInterval Duration `toml:"server_idle_sweep_interval"`
}

// LoggingConfig configures the logger package.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Routing: RoutingConfig{
			ResultTimeout:       Duration{60 * time.Second},
			ResultSweepInterval: Duration{5 * time.Second},
		},
		Session: SessionConfig{
			ServerIdleTimeout:       Duration{30 * time.Minute},
			ServerIdleSweepInterval: Duration{5 * time.Minute},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("config: domain must not be empty")
	}
	if c.Routing.ResultTimeout.Duration <= 0 {
		return fmt.Errorf("config: result_timeout must be positive")
	}
	if c.Routing.ResultSweepInterval.Duration <= 0 {
		return fmt.Errorf("config: result_sweep_interval must be positive")
	}
	if c.Session.ServerIdleTimeout.Duration <= 0 {
		return fmt.Errorf("config: server_idle_timeout must be positive")
	}
	return nil
}

// AdminRecipientList splits the configured admin recipients on commas and
// whitespace.
func (c RoutingConfig) AdminRecipientList() []string {
	fields := strings.FieldsFunc(c.AdminRecipients, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
