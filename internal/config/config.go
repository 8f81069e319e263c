// Package config loads gcached settings from defaults, an optional YAML file,
// GCACHE_* environment variables and command-line flags, in rising precedence.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "GCACHE"

	minMessageBytes = 1 << 20
)

type Config struct {
	Listen          string      `mapstructure:"listen" yaml:"listen"`
	Admin           string      `mapstructure:"admin" yaml:"admin"`
	MaxMessageBytes int         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	Store           StoreConfig `mapstructure:"store" yaml:"store"`
	Log             LogConfig   `mapstructure:"log" yaml:"log"`
}

type StoreConfig struct {
	Shards             int           `mapstructure:"shards" yaml:"shards"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	PoolSize           int           `mapstructure:"pool_size" yaml:"pool_size"`
	PoolRefillInterval time.Duration `mapstructure:"pool_refill_interval" yaml:"pool_refill_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func Default() Config {
	return Config{
		Listen:          "0.0.0.0:7373",
		Admin:           ":7374",
		MaxMessageBytes: 10 << 20,
		Store: StoreConfig{
			Shards:             64,
			SweepInterval:      2 * time.Minute,
			PoolSize:           5000,
			PoolRefillInterval: 2 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// NewViper returns a viper instance primed with defaults and env binding.
// Callers bind their flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("listen", d.Listen)
	v.SetDefault("admin", d.Admin)
	v.SetDefault("max_message_bytes", d.MaxMessageBytes)
	v.SetDefault("store.shards", d.Store.Shards)
	v.SetDefault("store.sweep_interval", d.Store.SweepInterval)
	v.SetDefault("store.pool_size", d.Store.PoolSize)
	v.SetDefault("store.pool_refill_interval", d.Store.PoolRefillInterval)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when non-empty) into v, decodes and validates the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var err error
	err = multierr.Append(err, checkAddr("listen", c.Listen, false))
	err = multierr.Append(err, checkAddr("admin", c.Admin, true))
	if c.MaxMessageBytes < minMessageBytes {
		err = multierr.Append(err, fmt.Errorf("max_message_bytes must be at least %d, got %d", minMessageBytes, c.MaxMessageBytes))
	}
	if c.Store.Shards <= 0 {
		err = multierr.Append(err, fmt.Errorf("store.shards must be positive, got %d", c.Store.Shards))
	}
	if c.Store.SweepInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("store.sweep_interval must be positive, got %s", c.Store.SweepInterval))
	}
	if c.Store.PoolSize < 0 {
		err = multierr.Append(err, fmt.Errorf("store.pool_size must not be negative, got %d", c.Store.PoolSize))
	}
	if c.Store.PoolRefillInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("store.pool_refill_interval must be positive, got %s", c.Store.PoolRefillInterval))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		err = multierr.Append(err, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// checkAddr accepts host:port with a port in 1..65535. An empty optional
// address disables the listener.
func checkAddr(name, addr string, optional bool) error {
	if addr == "" && optional {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%s: port %q out of range 1..65535", name, port)
	}
	return nil
}

// YAML renders the effective config.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
