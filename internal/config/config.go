// Package config provides configuration management for the dbgsync server.
//
// Configuration controls:
//   - Capability mode (readonly vs full): determines which tools are available
//   - Source directories: where bare file names reported by the debugger are
//     looked up
//   - Engine settings: dial and request timeouts, variable expansion depth
//   - Safety limits: maximum sessions and session idle timeout
//   - Logging: level, development mode and encoding
//
// Configuration can be loaded from a JSON or YAML file, chosen by extension,
// or use sensible defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	dbgerrors "github.com/ctagard/dbgsync/internal/errors"
	"github.com/ctagard/dbgsync/internal/sourcedirs"
)

// CapabilityMode defines the level of debugging capabilities exposed
type CapabilityMode string

const (
	ModeReadOnly CapabilityMode = "readonly" // Only inspection tools
	ModeFull     CapabilityMode = "full"     // All tools enabled
)

// Duration is a time.Duration that decodes from a string such as "30m" or
// from a number of nanoseconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch x := v.(type) {
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(x)
	case int:
		*d = Duration(x)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// Config holds the server configuration
type Config struct {
	Mode CapabilityMode `json:"mode" yaml:"mode"`

	// Source lookup
	SourceDirs       []string `json:"sourceDirs" yaml:"sourceDirs"`
	WorkspaceFolder  string   `json:"workspaceFolder" yaml:"workspaceFolder"`
	WatchSourceDirs  bool     `json:"watchSourceDirs" yaml:"watchSourceDirs"`
	CacheResolutions bool     `json:"cacheResolutions" yaml:"cacheResolutions"`

	// ShowBackendErrors surfaces backend error events as session notices
	ShowBackendErrors bool `json:"showBackendErrors" yaml:"showBackendErrors"`

	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Limits for safety
	MaxSessions    int      `json:"maxSessions" yaml:"maxSessions"`
	SessionTimeout Duration `json:"sessionTimeout" yaml:"sessionTimeout"`
}

// EngineConfig holds debug adapter connection settings
type EngineConfig struct {
	DialTimeout    Duration `json:"dialTimeout" yaml:"dialTimeout"`
	RequestTimeout Duration `json:"requestTimeout" yaml:"requestTimeout"`
	// VariableDepth is how many levels of members are fetched per variable
	VariableDepth int `json:"variableDepth" yaml:"variableDepth"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
	Encoding    string `json:"encoding" yaml:"encoding"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:              ModeFull,
		CacheResolutions:  true,
		ShowBackendErrors: true,
		MaxSessions:       10,
		SessionTimeout:    Duration(30 * time.Minute),
		Engine: EngineConfig{
			DialTimeout:    Duration(5 * time.Second),
			RequestTimeout: Duration(10 * time.Second),
			VariableDepth:  2,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// LoadConfig loads configuration from a JSON or YAML file. Files ending in
// .yaml or .yml are read as YAML, anything else as JSON.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Mode != ModeReadOnly && c.Mode != ModeFull {
		err = multierr.Append(err, dbgerrors.ConfigInvalid("mode", fmt.Sprintf("must be %q or %q, got %q", ModeReadOnly, ModeFull, c.Mode)))
	}
	if c.MaxSessions < 0 {
		err = multierr.Append(err, dbgerrors.ConfigInvalid("maxSessions", "must not be negative"))
	}
	if c.SessionTimeout < 0 {
		err = multierr.Append(err, dbgerrors.ConfigInvalid("sessionTimeout", "must not be negative"))
	}
	if c.Engine.DialTimeout <= 0 {
		err = multierr.Append(err, dbgerrors.ConfigInvalid("engine.dialTimeout", "must be positive"))
	}
	if c.Engine.RequestTimeout <= 0 {
		err = multierr.Append(err, dbgerrors.ConfigInvalid("engine.requestTimeout", "must be positive"))
	}
	if c.Engine.VariableDepth < 0 {
		err = multierr.Append(err, dbgerrors.ConfigInvalid("engine.variableDepth", "must not be negative"))
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		err = multierr.Append(err, dbgerrors.ConfigInvalid("logging.encoding", fmt.Sprintf("must be json or console, got %q", c.Logging.Encoding)))
	}
	return err
}

// ResolvedSourceDirs expands variables and list separators in SourceDirs.
func (c *Config) ResolvedSourceDirs() ([]string, error) {
	return sourcedirs.Expand(c.SourceDirs, &sourcedirs.Context{WorkspaceFolder: c.WorkspaceFolder})
}

// CanUseControlTools returns true if tools that drive the debugger are enabled
func (c *Config) CanUseControlTools() bool {
	return c.Mode == ModeFull
}
