package densefeed

import (
	"github.com/hazyhaar/densefeed/densefeed/internal/config"
)

// Config is the top-level densefeed configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to open and transform.
type PageConfig = config.PageConfig

// TransformConfig tunes the transform pipeline.
type TransformConfig = config.TransformConfig

// DiagnosticsConfig tunes the diagnostics engine.
type DiagnosticsConfig = config.DiagnosticsConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config { return config.Default() }
