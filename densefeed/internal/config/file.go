// Package config handles densefeed configuration from a YAML file and an
// optional SQLite sites table.
package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/densefeed/role"
)

// Config is the top-level densefeed configuration.
type Config struct {
	Browser     BrowserConfig     `yaml:"browser"`
	Match       []string          `yaml:"match"`
	Pages       []PageConfig      `yaml:"pages"`
	Database    string            `yaml:"database"`
	Transform   TransformConfig   `yaml:"transform"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Sinks       []SinkConfig      `yaml:"sinks"`
	Control     ControlConfig     `yaml:"control"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig is a page to open and transform.
type PageConfig struct {
	ID          string `yaml:"id"`
	URL         string `yaml:"url"`
	Performance bool   `yaml:"performance"`
	Debug       bool   `yaml:"debug"`
}

// TransformConfig tunes the transform pipeline.
type TransformConfig struct {
	Throttle       time.Duration     `yaml:"throttle"`
	ScrollThrottle time.Duration     `yaml:"scroll_throttle"`
	CacheTTL       time.Duration     `yaml:"cache_ttl"`
	Selectors      map[string]string `yaml:"selectors"` // role name -> selector
}

// DiagnosticsConfig tunes the diagnostics engine.
type DiagnosticsConfig struct {
	Interval time.Duration `yaml:"interval"`
	AutoRun  *bool         `yaml:"auto_run"`
	Panel    *bool         `yaml:"panel"`
}

// AutoRunEnabled reports whether passes run on the interval. Default: true.
func (d DiagnosticsConfig) AutoRunEnabled() bool { return d.AutoRun == nil || *d.AutoRun }

// PanelEnabled reports whether the overlay is rendered. Default: true.
func (d DiagnosticsConfig) PanelEnabled() bool { return d.Panel == nil || *d.Panel }

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | callback
}

// ControlConfig enables the loopback control surfaces.
type ControlConfig struct {
	MCP    bool   `yaml:"mcp"`
	Listen string `yaml:"listen"`
}

// DefaultMatch lists the hosts a page must be served from to be transformed.
var DefaultMatch = []string{"x.com", "twitter.com"}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if _, err := cfg.Roles(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if len(c.Match) == 0 {
		c.Match = slices.Clone(DefaultMatch)
	}
	if c.Transform.Throttle <= 0 {
		c.Transform.Throttle = 50 * time.Millisecond
	}
	if c.Transform.ScrollThrottle <= 0 {
		c.Transform.ScrollThrottle = 100 * time.Millisecond
	}
	if c.Transform.CacheTTL <= 0 {
		c.Transform.CacheTTL = 30 * time.Second
	}
	if c.Diagnostics.Interval <= 0 {
		c.Diagnostics.Interval = 5 * time.Second
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page-%d", i+1)
		}
	}
}

// Roles returns the default selector map with the configured overrides.
func (c *Config) Roles() (role.Map, error) {
	m := role.Default()
	for name, sel := range c.Transform.Selectors {
		r, err := role.Parse(name)
		if err != nil {
			return role.Map{}, fmt.Errorf("config: selectors: %w", err)
		}
		m = m.With(r, sel)
	}
	return m, nil
}

// Matches reports whether rawURL is served from one of the match hosts or
// a subdomain of one.
func (c *Config) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, m := range c.Match {
		m = strings.ToLower(m)
		if host == m || strings.HasSuffix(host, "."+m) {
			return true
		}
	}
	return false
}
