// Package config handles saiagent daemon configuration.
//
// Configuration is loaded with overlay semantics:
//
//  1. Start with built-in defaults (embedded via go:embed from default.toml)
//  2. Overlay with config file values (if file exists)
//  3. CLI flags and environment variables override at runtime (handled by CLI layer)
//
// The TOML decoder only sets fields present in the file, leaving
// unspecified fields at their default values. If the config file exists
// but is invalid, Load returns an error rather than silently falling
// back to defaults.
package config

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/frobware/go-saiagent/logging"
)

//go:embed default.toml
var defaultConfigTOML string

// DefaultConfigPath is the default path to the saiagent config file.
const DefaultConfigPath = "/etc/saiagent/saiagent.toml"

// Config is the top-level saiagent configuration.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Switch  SwitchConfig  `toml:"switch"`
	Server  ServerConfig  `toml:"server"`
	State   StateConfig   `toml:"state"`
}

// LoggingConfig controls logging behaviour.
type LoggingConfig struct {
	// Level is the log spec (e.g., "info" or "info,manager=debug").
	Level string `toml:"level"`
	// Format is the output format: "text" or "json".
	Format string `toml:"format"`
	// Components provides an alternative way to specify per-component levels.
	Components map[string]logging.Level `toml:"components"`
}

// ToSpec converts the LoggingConfig to a log spec string. Components
// are appended to Level, so a [logging.components] table refines the
// level rather than being shadowed by the default one.
func (c *LoggingConfig) ToSpec() string {
	if len(c.Components) == 0 {
		return c.Level
	}
	base := c.Level
	if base == "" {
		base = "info"
	}
	parts := []string{base}
	for _, component := range slices.Sorted(maps.Keys(c.Components)) {
		parts = append(parts, component+"="+c.Components[component].String())
	}
	return strings.Join(parts, ",")
}

// ASIC families. Families that cannot change a port's lane
// configuration in place recreate the whole port group instead.
const (
	AsicGeneric  = "generic"
	AsicTomahawk = "tomahawk"
	AsicTrident  = "trident"
)

// SwitchConfig describes the switch the agent programs.
type SwitchConfig struct {
	// Index identifies the switch within the host. Warm boot state is
	// persisted per index.
	Index uint32 `toml:"index"`
	// AsicFamily selects hardware quirks.
	AsicFamily string `toml:"asic_family"`
	// MaxVariableWidthEcmp overrides the ECMP width reported by the
	// adapter. Zero means ask the adapter.
	MaxVariableWidthEcmp uint32 `toml:"max_variable_width_ecmp"`
	// WarmBoot enables warm boot when persisted state exists.
	WarmBoot bool `toml:"warm_boot"`
	// StatsInterval is how often port counters are collected.
	StatsInterval Duration `toml:"stats_interval"`
}

// PortGroupRecreate reports whether the family recreates port groups
// on lane configuration changes.
func (c *SwitchConfig) PortGroupRecreate() bool {
	return c.AsicFamily == AsicTomahawk
}

// ServerConfig controls the diagnostic endpoints. Empty addresses
// disable the listener.
type ServerConfig struct {
	// Socket is the gRPC unix socket path. Empty uses the runtime
	// directory default.
	Socket string `toml:"socket"`
	// TCP is an optional gRPC TCP address such as "localhost:50051".
	TCP string `toml:"tcp"`
	// Metrics is the Prometheus listen address such as ":9100".
	Metrics string `toml:"metrics"`
}

// StateConfig locates the intended state file.
type StateConfig struct {
	File string `toml:"file"`
}

// Duration is a time.Duration written as a string in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the default configuration from the embedded default.toml.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		// default.toml is embedded at build time; fall back to a
		// minimal safe config.
		return Config{
			Logging: LoggingConfig{Level: "info", Format: "text"},
			Switch:  SwitchConfig{AsicFamily: AsicGeneric, WarmBoot: true, StatsInterval: Duration{10 * time.Second}},
		}
	}
	return cfg
}

// Load reads configuration from a file path with overlay semantics.
//
// Behaviour:
//   - File missing: returns default configuration (no error)
//   - File exists and valid: overlays file values onto defaults
//   - File exists but invalid: returns error (fail fast)
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Switch.AsicFamily {
	case AsicGeneric, AsicTomahawk, AsicTrident:
	default:
		return fmt.Errorf("switch.asic_family: unknown family %q", c.Switch.AsicFamily)
	}
	if c.Switch.StatsInterval.Duration < 0 {
		return fmt.Errorf("switch.stats_interval: must not be negative")
	}
	if _, err := logging.ParseSpec(c.Logging.ToSpec()); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		return fmt.Errorf("logging.format: %w", err)
	}
	return nil
}
