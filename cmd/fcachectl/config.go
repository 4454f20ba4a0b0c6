package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/joshuapare/vfscache/fcache"
)

// loadConfig builds the cache configuration from defaults, an optional
// config file and FCACHE_* environment variables, in increasing priority.
//
// Sizes may be written in human-readable form ("64MiB", "32 KiB").
func loadConfig(path string) (fcache.Config, error) {
	v := viper.New()
	setupViper(v, path)

	found, err := readConfigFile(v)
	if err != nil {
		return fcache.Config{}, err
	}
	if found {
		printVerbose(os.Stderr, "Using config file: %s\n", v.ConfigFileUsed())
	}

	var cfg fcache.Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return fcache.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fcache.Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// setupViper configures environment overrides and the config file location.
func setupViper(v *viper.Viper, path string) {
	// Environment variables use the FCACHE_ prefix, e.g. FCACHE_ARENA_SIZE=128MiB
	v.SetEnvPrefix("FCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so register every key.
	d := fcache.DefaultConfig()
	v.SetDefault("arena_size", d.ArenaSize)
	v.SetDefault("block_size", d.BlockSize)
	v.SetDefault("evict_attempts", d.EvictAttempts)
	v.SetDefault("cache_cost", d.CacheCost)
	v.SetDefault("protect_cached", d.ProtectCached)

	if path != "" {
		v.SetConfigFile(path)
		return
	}
	v.AddConfigPath(configDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the config file if there is one.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the decode hooks applied during Unmarshal.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
	)
}

// byteSizeDecodeHook parses strings such as "64MiB" into integer fields.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Int {
			return data, nil
		}
		return parseSize(data.(string))
	}
}

// parseSize parses a human-readable byte count that must fit an int.
func parseSize(s string) (int, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > math.MaxInt {
		return 0, fmt.Errorf("invalid size %q: larger than %d bytes", s, math.MaxInt)
	}
	return int(n), nil
}

// configDir returns $XDG_CONFIG_HOME/fcache, ~/.config/fcache, or ".".
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fcache")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "fcache")
}
