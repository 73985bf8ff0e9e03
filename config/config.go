// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package config implements metabase configuration file parsing and
// validation: a YAML/env-driven file (default metabase.yaml) describing
// backend choice, index set, plugin list, cache policy, and logging,
// grounded on the teacher's parse-then-validate-then-inject-defaults
// pattern (config/config.go's validateAndInjectDefaults), reimplemented
// over github.com/spf13/viper and github.com/spf13/pflag rather than
// encoding/json+ast since metabase has no rego-reference config values to
// parse (see DESIGN.md).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full, validated configuration for a Manager.
type Config struct {
	Backend         Backend       `mapstructure:"backend"`
	Index           Index         `mapstructure:"index"`
	Plugins         []string      `mapstructure:"plugins"`
	ConflictPolicy  string        `mapstructure:"conflict_policy"`
	PluginErrorMode string        `mapstructure:"plugin_error_mode"`
	PluginTimeout   time.Duration `mapstructure:"plugin_timeout"`
	Logging         Logging       `mapstructure:"logging"`
	Sync            Sync          `mapstructure:"sync"`
}

// Backend selects and configures one of the three Storage Backend
// implementations.
type Backend struct {
	Kind string `mapstructure:"kind"` // "memory", "jsonfile", "sql"
	Path string `mapstructure:"path"` // jsonfile document path
	DSN  string `mapstructure:"dsn"`  // sql backend DSN
}

// Index configures the Index Registry.
type Index struct {
	Fields      []string `mapstructure:"fields"`
	CachePolicy string   `mapstructure:"cache_policy"` // "lru", "lfu", "none"
	CacheSize   int      `mapstructure:"cache_size"`
}

// Logging configures the Logging Adapter.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Sync configures the Sync Reconciler's optional continuous/scheduled
// modes.
type Sync struct {
	Filter string `mapstructure:"filter"` // gobwas/glob inclusion pattern
	Cron   string `mapstructure:"cron"`   // robfig/cron schedule expression
	Watch  bool   `mapstructure:"watch"`
}

var enumFields = map[string][]string{
	"backend.kind":      {"memory", "jsonfile", "sql"},
	"index.cache_policy": {"lru", "lfu", "none"},
	"conflict_policy":    {"priority", "merge", "first_only", "last_only"},
	"plugin_error_mode":  {"ignore", "warn", "raise"},
	"logging.level":      {"debug", "info", "warn", "error"},
	"logging.format":     {"text", "json", "json-pretty"},
}

// Load reads configPath (if non-empty), environment variables prefixed
// METABASE_, and flags (if non-nil), in increasing precedence order, then
// validates and injects defaults exactly the way the teacher's
// validateAndInjectDefaults does for its own config shape.
func Load(flags *pflag.FlagSet, configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("METABASE")
	v.AutomaticEnv()
	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validateAndInjectDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.kind", "memory")
	v.SetDefault("index.cache_policy", "lru")
	v.SetDefault("index.cache_size", 1024)
	v.SetDefault("conflict_policy", "priority")
	v.SetDefault("plugin_error_mode", "warn")
	v.SetDefault("plugin_timeout", 5*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (c *Config) validateAndInjectDefaults() error {
	if c.Index.CacheSize == 0 {
		c.Index.CacheSize = 1024
	}
	if c.PluginTimeout == 0 {
		c.PluginTimeout = 5 * time.Second
	}

	checks := map[string]string{
		"backend.kind":       c.Backend.Kind,
		"index.cache_policy": c.Index.CachePolicy,
		"conflict_policy":    c.ConflictPolicy,
		"plugin_error_mode":  c.PluginErrorMode,
		"logging.level":      c.Logging.Level,
		"logging.format":     c.Logging.Format,
	}
	for field, got := range checks {
		if !oneOf(got, enumFields[field]) {
			return fmt.Errorf("config: %s: invalid value %q, want one of %v", field, got, enumFields[field])
		}
	}

	if c.Backend.Kind == "jsonfile" && c.Backend.Path == "" {
		return fmt.Errorf("config: backend.path is required when backend.kind is %q", "jsonfile")
	}
	if c.Backend.Kind == "sql" && c.Backend.DSN == "" {
		return fmt.Errorf("config: backend.dsn is required when backend.kind is %q", "sql")
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
