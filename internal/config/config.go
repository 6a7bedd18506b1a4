// Package config loads the layered toolbox configuration: built-in defaults,
// an optional YAML file, then required tool paths discovered from
// whitelisted environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved toolbox configuration. It is constructed once and
// passed explicitly to whichever component needs it.
type Config struct {
	// Paths maps a tool name to its discovered or configured root path.
	Paths map[string]string

	// Requirements maps a tool name to subpaths that must exist under its
	// root for the path to be considered usable.
	Requirements map[string][]string

	// DetectPath lists the tool names probed in the environment.
	DetectPath []string

	v      *viper.Viper
	logger *slog.Logger
}

// Load builds the configuration in order: defaults, then the YAML file
// (explicit path, or ./config.yaml when present), then tool paths derived
// from environment variables, then validation of required subpaths.
// Validation problems are logged as warnings; only an unreadable config
// file is an error.
func Load(file string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("detect_path", []string{"schrodinger"})
	v.SetDefault("requirement", map[string][]string{"schrodinger": {"run"}})

	switch {
	case file != "":
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %q: %w", file, err)
		}
		logger.Debug("loaded config file", "path", file)
	case fileExists("config.yaml"):
		v.SetConfigFile("config.yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading ./config.yaml: %w", err)
		}
		logger.Debug("loaded config file", "path", "./config.yaml")
	default:
		logger.Debug("no config found from provided file or ./config.yaml")
	}

	cfg := &Config{
		Paths:        v.GetStringMapString("path"),
		Requirements: v.GetStringMapStringSlice("requirement"),
		DetectPath:   v.GetStringSlice("detect_path"),
		v:            v,
		logger:       logger,
	}
	if cfg.Paths == nil {
		cfg.Paths = make(map[string]string)
	}

	for _, name := range cfg.DetectPath {
		if p := pathFromEnv(name, logger); p != "" {
			cfg.Paths[name] = p
		} else if cfg.Paths[name] == "" {
			logger.Warn("tool path not found from either envvar or config", "tool", name)
		}
	}
	cfg.validate()
	return cfg, nil
}

// pathFromEnv probes the whitelisted variable names for a tool, accepting
// the first whose value exists on disk.
func pathFromEnv(name string, logger *slog.Logger) string {
	upper := strings.ToUpper(name)
	for _, candidate := range []string{upper, upper + "_HOME", upper + "_ROOT"} {
		if v := os.Getenv(candidate); v != "" && fileExists(v) {
			logger.Debug("found tool path from envvar", "tool", name, "envvar", candidate)
			return v
		}
	}
	return ""
}

func (c *Config) validate() {
	for tool, root := range c.Paths {
		if root == "" {
			continue
		}
		for _, sub := range c.Requirements[tool] {
			if !fileExists(filepath.Join(root, sub)) {
				c.logger.Warn("tool path does not meet its requirement",
					"tool", tool, "missing", filepath.Join(root, sub))
			}
		}
	}
}

// Get returns the string value at a dotted config key, or "" when unset.
func (c *Config) Get(key string) string {
	return c.v.GetString(key)
}

// Path returns the root path of a required tool, failing when it was not
// discovered from either config or environment.
func (c *Config) Path(tool string) (string, error) {
	if p := c.Paths[tool]; p != "" {
		return p, nil
	}
	return "", fmt.Errorf("config: path of %q is not configured, please check your config file or environment", tool)
}

// Settings returns the merged configuration tree for diagnostics.
func (c *Config) Settings() map[string]any {
	return c.v.AllSettings()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
