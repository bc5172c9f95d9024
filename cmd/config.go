// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables that override config values,
// e.g. MIGRATOR_ORG or MIGRATOR_DATABASE_PATH.
const EnvPrefix = "MIGRATOR"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// bindFlags binds the flags of cmd to config keys, so "--max-depth" can override
// "graph.max_depth". Subcommands share one viper instance, so binding happens when the
// command runs, not when it is built.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) error {
	for key, flag := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q for key %s", flag, key)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// overrides lists the config keys a flag or an environment variable may set.
var overrides = map[string]func(v *viper.Viper, key string, cfg *configs.Config){
	"org":                 func(v *viper.Viper, k string, c *configs.Config) { c.Org = v.GetString(k) },
	"run_id":              func(v *viper.Viper, k string, c *configs.Config) { c.RunID = v.GetString(k) },
	"mode":                func(v *viper.Viper, k string, c *configs.Config) { c.Mode = configs.Mode(v.GetString(k)) },
	"source_config":       func(v *viper.Viper, k string, c *configs.Config) { c.SourceConfig = v.GetString(k) },
	"target_config":       func(v *viper.Viper, k string, c *configs.Config) { c.TargetConfig = v.GetString(k) },
	"apps":                func(v *viper.Viper, k string, c *configs.Config) { c.Apps = v.GetStringSlice(k) },
	"collections":         func(v *viper.Viper, k string, c *configs.Config) { c.Collections = v.GetStringSlice(k) },
	"exclude_collections": func(v *viper.Viper, k string, c *configs.Config) { c.ExcludeCollections = v.GetStringSlice(k) },
	"create_apps":         func(v *viper.Viper, k string, c *configs.Config) { c.CreateApps = v.GetBool(k) },
	"graph.max_depth":     func(v *viper.Viper, k string, c *configs.Config) { c.Graph.MaxDepth = v.GetInt(k) },
	"workers.entity":      func(v *viper.Viper, k string, c *configs.Config) { c.Workers.Entity = v.GetInt(k) },
	"workers.collection":  func(v *viper.Viper, k string, c *configs.Config) { c.Workers.Collection = v.GetInt(k) },
	"cache.backend":       func(v *viper.Viper, k string, c *configs.Config) { c.Cache.Backend = v.GetString(k) },
	"cache.path":          func(v *viper.Viper, k string, c *configs.Config) { c.Cache.Path = v.GetString(k) },
	"superuser.username":  func(v *viper.Viper, k string, c *configs.Config) { c.Superuser.Username = v.GetString(k) },
	"superuser.password":  func(v *viper.Viper, k string, c *configs.Config) { c.Superuser.Password = v.GetString(k) },
	"logging.level":       func(v *viper.Viper, k string, c *configs.Config) { c.Logging.Level = v.GetString(k) },
	"logging.address":     func(v *viper.Viper, k string, c *configs.Config) { c.Logging.Address = v.GetString(k) },
	"logging.file":        func(v *viper.Viper, k string, c *configs.Config) { c.Logging.File = v.GetString(k) },
	"database.path":       func(v *viper.Viper, k string, c *configs.Config) { c.Database.Path = v.GetString(k) },
	"database.remove_existing": func(v *viper.Viper, k string, c *configs.Config) {
		c.Database.RemoveExisting = v.GetBool(k)
	},
	"errors.dir":      func(v *viper.Viper, k string, c *configs.Config) { c.Errors.Dir = v.GetString(k) },
	"metrics.address": func(v *viper.Viper, k string, c *configs.Config) { c.Metrics.Address = v.GetString(k) },
}

// loadConfig reads the YAML config named by "config" (defaults when unset) and applies every
// flag or MIGRATOR_* variable that is set on top of it. With resolve, endpoint files are loaded
// and malformed mapping strings are reported to warn.
func loadConfig(v *viper.Viper, resolve bool, warn io.Writer) (*configs.Config, error) {
	cfg := configs.Default()
	if path := v.GetString("config"); path != "" {
		loaded, err := configs.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	for key, apply := range overrides {
		if v.IsSet(key) {
			apply(v, key, cfg)
		}
	}

	if !resolve {
		return cfg, nil
	}
	skipped, err := cfg.Resolve()
	for _, s := range skipped {
		fmt.Fprintf(warn, "Skipping malformed mapping %q\n", s)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configuration: %w", err)
	}
	return cfg, nil
}
