// Package config loads Grove's server configuration.
//
// Configuration is optional: without a config file Grove runs with
// defaults (data under ~/.grove, workspace "default"). Settings come from
// ~/.grove/config.yaml and can be overridden by environment variables,
// which is the usual way to point an MCP host at a different workspace.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvConfigPath = "GROVE_CONFIG"
	EnvDataDir    = "GROVE_DATA_DIR"
	EnvWorkspace  = "GROVE_WORKSPACE"
)

// Config holds all Grove settings.
type Config struct {
	// DataDir is where grove.db lives.
	DataDir string `yaml:"data_dir"`
	// DefaultWorkspace is used when a tool call omits the workspace.
	DefaultWorkspace string `yaml:"default_workspace"`
	// MaxLineageDepth caps how deep branch ancestry may go.
	MaxLineageDepth int `yaml:"max_lineage_depth"`
	// DefaultPageLimit applies when a request omits its limit.
	DefaultPageLimit int `yaml:"default_page_limit"`
	// MaxPageLimit is the hard page-size cap.
	MaxPageLimit int `yaml:"max_page_limit"`
}

// Default returns the configuration Grove uses with no config file.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:          filepath.Join(home, ".grove"),
		DefaultWorkspace: "default",
		MaxLineageDepth:  64,
		DefaultPageLimit: 100,
		MaxPageLimit:     500,
	}
}

// Load reads the config file (GROVE_CONFIG, or ~/.grove/config.yaml),
// fills unset fields with defaults, and applies environment overrides.
// A missing file is not an error; a malformed one is.
func Load() (Config, error) {
	cfg := Default()

	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvWorkspace); v != "" {
		cfg.DefaultWorkspace = v
	}

	if cfg.DataDir == "" {
		cfg.DataDir = Default().DataDir
	}
	if cfg.DefaultWorkspace == "" {
		cfg.DefaultWorkspace = Default().DefaultWorkspace
	}
	if cfg.MaxLineageDepth <= 0 {
		cfg.MaxLineageDepth = Default().MaxLineageDepth
	}
	if cfg.DefaultPageLimit <= 0 {
		cfg.DefaultPageLimit = Default().DefaultPageLimit
	}
	if cfg.MaxPageLimit <= 0 {
		cfg.MaxPageLimit = Default().MaxPageLimit
	}
	return cfg, nil
}
