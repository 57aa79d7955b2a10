// Package config handles loading, validating, and defaulting the engine
// configuration: run mode, diagnostic logging, the output modules, and the
// optional metrics endpoint.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Run mode constants.
const (
	RunModeInline  = "inline"
	RunModePassive = "passive"
)

// Output module configuration keys. Standalone modules are keyed by their
// own name; sub-modules nest under the eve-log multiplexer.
const (
	EveLogKey              = "eve-log"
	FlowStartStandaloneKey = "flow_start-json-log"
)

// DefaultOutputBufferSize is the initial scratch and sink buffer capacity.
const DefaultOutputBufferSize = 65535

// OutputNode is the typed configuration handed to an output module
// constructor. Filenames are resolved against DefaultLogDir by Load.
type OutputNode struct {
	Enabled      bool     `yaml:"enabled"`
	Filename     string   `yaml:"filename"`
	BufferSize   int      `yaml:"buffer-size"`
	RotateReopen bool     `yaml:"rotate-reopen"`
	Types        []string `yaml:"types"`
}

// LoggingConfig configures the diagnostic (not event) logger.
type LoggingConfig struct {
	Format string `yaml:"format"` // json, console
	Level  string `yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint. An empty listen address
// disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Config is the top-level engine configuration.
type Config struct {
	Version       int                    `yaml:"version"`
	RunMode       string                 `yaml:"run-mode"` // inline, passive
	DefaultLogDir string                 `yaml:"default-log-dir"`
	SensorName    string                 `yaml:"sensor-name"`
	Logging       LoggingConfig          `yaml:"logging"`
	Outputs       map[string]*OutputNode `yaml:"outputs"`
	Metrics       MetricsConfig          `yaml:"metrics"`
}

// Inline reports whether the engine is configured for inline (IPS) operation.
func (c *Config) Inline() bool {
	return c.RunMode == RunModeInline
}

// Output returns the configuration node for key, or nil when absent.
func (c *Config) Output(key string) *OutputNode {
	return c.Outputs[key]
}

// EveTypes returns the logger type list of the eve-log node, nil when the
// node is absent or disabled.
func (c *Config) EveTypes() []string {
	node := c.Output(EveLogKey)
	if node == nil || !node.Enabled {
		return nil
	}
	return node.Types
}

// Load reads, parses, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	// Resolve relative output filenames against the log directory.
	for _, node := range cfg.Outputs {
		if node != nil && node.Filename != "" && !filepath.IsAbs(node.Filename) {
			node.Filename = filepath.Join(cfg.DefaultLogDir, node.Filename)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Defaults returns the built-in configuration: passive mode, eve-log enabled
// with the flow_start type, standalone logger disabled.
func Defaults() *Config {
	cfg := &Config{
		Outputs: map[string]*OutputNode{
			EveLogKey: {
				Enabled: true,
				Types:   []string{"flow_start"},
			},
			FlowStartStandaloneKey: {},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.RunMode == "" {
		c.RunMode = RunModePassive
	}
	if c.DefaultLogDir == "" {
		c.DefaultLogDir = "."
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Outputs == nil {
		c.Outputs = map[string]*OutputNode{}
	}
	// Only fill in unset buffer sizes; negative values must survive into
	// Validate so they can be rejected.
	if eve := c.Outputs[EveLogKey]; eve != nil {
		if eve.Filename == "" {
			eve.Filename = "eve.json"
		}
		if eve.BufferSize == 0 {
			eve.BufferSize = DefaultOutputBufferSize
		}
	}
	if fs := c.Outputs[FlowStartStandaloneKey]; fs != nil && fs.BufferSize == 0 {
		fs.BufferSize = DefaultOutputBufferSize
	}
}

// knownEveTypes lists the sub-module loggers the eve-log multiplexer can host.
var knownEveTypes = map[string]bool{
	"flow_start": true,
}

// Validate checks enum fields and output node consistency.
func (c *Config) Validate() error {
	switch c.RunMode {
	case RunModeInline, RunModePassive:
	default:
		return fmt.Errorf("run-mode must be %q or %q, got %q", RunModeInline, RunModePassive, c.RunMode)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\", got %q", c.Logging.Format)
	}

	for key, node := range c.Outputs {
		if node == nil {
			continue
		}
		if node.BufferSize < 0 {
			return fmt.Errorf("outputs.%s.buffer-size must not be negative", key)
		}
		if key == EveLogKey {
			for _, typ := range node.Types {
				if !knownEveTypes[typ] {
					return fmt.Errorf("outputs.eve-log.types: unknown logger %q", typ)
				}
			}
		}
	}

	return nil
}
