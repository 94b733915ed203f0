// Package config loads docasync CLI configuration.
//
// Sources, lowest priority first:
//  1. DefaultConfig
//  2. An optional config file (yaml, toml or json, picked by extension)
//  3. DOCASYNC_ environment variables (DOCASYNC_POOL_SIZE -> pool.size)
//
// Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kartikbazzad/bunbase/docasync/engine"
	"github.com/kartikbazzad/bunbase/docasync/internal/logger"
	"github.com/kartikbazzad/bunbase/docasync/workerpool"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCASYNC"

// Engine types understood by the CLI.
const (
	EngineSQLite = "sqlite"
	EnginePebble = "pebble"
)

type Config struct {
	Pool    PoolConfig    `mapstructure:"pool"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Log     logger.Config `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type PoolConfig struct {
	Size     int           `mapstructure:"size"`   // 0 = 2 * NumCPU
	Expiry   time.Duration `mapstructure:"expiry"` // idle worker lifetime
	PreAlloc bool          `mapstructure:"prealloc"`
}

type EngineConfig struct {
	Type      string `mapstructure:"type"` // sqlite | pebble
	Directory string `mapstructure:"directory"`
	Schema    string `mapstructure:"schema"` // JSON Schema applied on every save
	Sync      bool   `mapstructure:"sync"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the /metrics listener
}

func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			Size:   0,
			Expiry: workerpool.DefaultExpiry,
		},
		Engine: EngineConfig{
			Type:      EngineSQLite,
			Directory: "./data",
		},
		Log: logger.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// PoolOptions converts the pool section for workerpool.New.
func (c *Config) PoolOptions() workerpool.Options {
	return workerpool.Options{
		Size:           c.Pool.Size,
		ExpiryDuration: c.Pool.Expiry,
		PreAlloc:       c.Pool.PreAlloc,
	}
}

// OpenConfig converts the engine section for engine.Engine.Open.
func (c *Config) OpenConfig() engine.Config {
	return engine.Config{
		Directory: c.Engine.Directory,
		Schema:    c.Engine.Schema,
		Sync:      c.Engine.Sync,
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("pool.size", d.Pool.Size)
	v.SetDefault("pool.expiry", d.Pool.Expiry)
	v.SetDefault("pool.prealloc", d.Pool.PreAlloc)
	v.SetDefault("engine.type", d.Engine.Type)
	v.SetDefault("engine.directory", d.Engine.Directory)
	v.SetDefault("engine.schema", d.Engine.Schema)
	v.SetDefault("engine.sync", d.Engine.Sync)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.add_source", d.Log.AddSource)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Load reads defaults, then path (if non-empty), then the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Pool.Size < 0 {
		return fmt.Errorf("pool.size must not be negative, got %d", c.Pool.Size)
	}
	if c.Pool.Expiry < 0 {
		return fmt.Errorf("pool.expiry must not be negative, got %s", c.Pool.Expiry)
	}
	switch c.Engine.Type {
	case EngineSQLite, EnginePebble:
	default:
		return fmt.Errorf("engine.type must be %q or %q, got %q", EngineSQLite, EnginePebble, c.Engine.Type)
	}
	if c.Engine.Directory == "" {
		return fmt.Errorf("engine.directory is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
