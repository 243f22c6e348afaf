// Package config loads workbench.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/SceneWorkbench/internal/layout"
)

// FileName is the config file looked up when no path is given.
const FileName = "workbench.yaml"

type Config struct {
	Version   int `yaml:"version"`
	Workbench struct {
		ScenesDir     string `yaml:"scenes_dir"`
		WatchFiles    *bool  `yaml:"watch_files"`
		WatchDebounce string `yaml:"watch_debounce"`
		LogLines      int    `yaml:"log_lines"`
	} `yaml:"workbench"`
	Network struct {
		HTTPAddr    string `yaml:"http_addr"`
		MQTTURL     string `yaml:"mqtt_url"`
		TopicPrefix string `yaml:"topic_prefix"`
		ClientID    string `yaml:"client_id"`
		TLSCert     string `yaml:"tls_cert"`
		TLSKey      string `yaml:"tls_key"`
	} `yaml:"network"`
	Layout struct {
		NodeWidth  float64 `yaml:"node_width"`
		NodeHeight float64 `yaml:"node_height"`
		RankSep    float64 `yaml:"rank_sep"`
		NodeSep    float64 `yaml:"node_sep"`
		Sweeps     int     `yaml:"sweeps"`
	} `yaml:"layout"`
	Scene struct {
		DeletePolicy string            `yaml:"delete_policy"`
		Shortcuts    map[string]string `yaml:"shortcuts"`
	} `yaml:"scene"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Journal struct {
		Postgres  bool   `yaml:"postgres"`
		Workspace string `yaml:"workspace"`
	} `yaml:"journal"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{Version: 1}
}

// Load reads a config file. A missing file at the default location yields
// the defaults; a missing explicit path is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = FileName
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return Parse(b)
}

// Parse decodes and checks a workbench.yaml document.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("invalid workbench.yaml: %w", err)
	}
	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported workbench.yaml version: %d", cfg.Version)
	}
	if _, err := time.ParseDuration(cfg.Workbench.WatchDebounce); cfg.Workbench.WatchDebounce != "" && err != nil {
		return nil, fmt.Errorf("invalid workbench.watch_debounce: %w", err)
	}
	return &cfg, nil
}

// ScenesDir returns the scenes root with a leading ~ expanded, defaulting to
// ~/.dcompose-workbench/scenes.
func (c *Config) ScenesDir() string {
	dir := c.Workbench.ScenesDir
	if dir == "" {
		dir = "~/.dcompose-workbench/scenes"
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	return dir
}

// WatchFiles reports whether open scenes reload on compose file edits.
// Defaults to true.
func (c *Config) WatchFiles() bool {
	if c.Workbench.WatchFiles == nil {
		return true
	}
	return *c.Workbench.WatchFiles
}

// WatchDebounce returns the file watcher debounce, zero meaning the
// watcher default.
func (c *Config) WatchDebounce() time.Duration {
	d, _ := time.ParseDuration(c.Workbench.WatchDebounce)
	return d
}

// LogLines returns how many lines a log tail keeps, defaulting to 1000.
func (c *Config) LogLines() int {
	if c.Workbench.LogLines <= 0 {
		return 1000
	}
	return c.Workbench.LogLines
}

// HTTPAddr returns the listen address, defaulting to :8080.
func (c *Config) HTTPAddr() string {
	if c.Network.HTTPAddr == "" {
		return ":8080"
	}
	return c.Network.HTTPAddr
}

// MQTTURL returns the broker URL. MQTT_URL overrides the file.
func (c *Config) MQTTURL() string {
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	if c.Network.MQTTURL == "" {
		return "tcp://localhost:1883"
	}
	return c.Network.MQTTURL
}

// TopicPrefix returns the first MQTT topic segment, defaulting to workbench.
func (c *Config) TopicPrefix() string {
	if c.Network.TopicPrefix == "" {
		return "workbench"
	}
	return c.Network.TopicPrefix
}

// ClientID returns the MQTT client id, defaulting to scene-workbench.
func (c *Config) ClientID() string {
	if c.Network.ClientID == "" {
		return "scene-workbench"
	}
	return c.Network.ClientID
}

// LayoutOptions returns the layout geometry; unset fields keep the layout
// defaults.
func (c *Config) LayoutOptions() layout.Options {
	opts := layout.DefaultOptions()
	if c.Layout.NodeWidth > 0 {
		opts.NodeWidth = c.Layout.NodeWidth
	}
	if c.Layout.NodeHeight > 0 {
		opts.NodeHeight = c.Layout.NodeHeight
	}
	if c.Layout.RankSep > 0 {
		opts.RankSep = c.Layout.RankSep
	}
	if c.Layout.NodeSep > 0 {
		opts.NodeSep = c.Layout.NodeSep
	}
	if c.Layout.Sweeps > 0 {
		opts.Sweeps = c.Layout.Sweeps
	}
	return opts
}

// DeletePolicy returns the configured multi-edge delete policy, or
// best_effort.
func (c *Config) DeletePolicy() string {
	if c.Scene.DeletePolicy == "" {
		return "best_effort"
	}
	return c.Scene.DeletePolicy
}

// LogLevel returns the configured log level, defaulting to info.
func (c *Config) LogLevel() string {
	if c.Log.Level == "" {
		return "info"
	}
	return c.Log.Level
}

// LogFormat returns text or json, defaulting to text.
func (c *Config) LogFormat() string {
	if c.Log.Format == "" {
		return "text"
	}
	return c.Log.Format
}

// JournalWorkspace names this workbench in the shared journal table,
// defaulting to the host name.
func (c *Config) JournalWorkspace() string {
	if c.Journal.Workspace != "" {
		return c.Journal.Workspace
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "workbench"
}
