package internal

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// EngineConfig is the storage engine's tuning surface, loaded from YAML
// via viper exactly as the teacher's NovaSqlConfig was. PageSize is
// informational only (storage.PageSize is a compile-time constant);
// the rest drive runtime component construction in cmd/server.
type EngineConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Workdir  string `mapstructure:"workdir"`
		PageSize int    `mapstructure:"page_size"`
	} `mapstructure:"storage"`

	BufferPoolSize int `mapstructure:"buffer_pool_size"`

	Log struct {
		BufferSize     int `mapstructure:"buffer_size"`
		TimeoutSeconds int `mapstructure:"timeout_seconds"`
	} `mapstructure:"log"`

	StrictTwoPhaseLocking bool `mapstructure:"strict_two_phase_locking"`

	Server struct {
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"server"`
}

// LogTimeout is Log.TimeoutSeconds as a time.Duration, defaulting to one
// second when unset, matching wal.NewManager's own default.
func (c *EngineConfig) LogTimeout() time.Duration {
	if c.Log.TimeoutSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.Log.TimeoutSeconds) * time.Second
}

// Defaults fills in zero-valued fields with the tuning constants spec.md
// §6 lists, for use when no YAML file is supplied.
func (c *EngineConfig) Defaults() {
	if c.Storage.Workdir == "" {
		c.Storage.Workdir = "./data"
	}
	if c.Storage.PageSize <= 0 {
		c.Storage.PageSize = 4096
	}
	if c.BufferPoolSize <= 0 {
		c.BufferPoolSize = 64
	}
	if c.Log.BufferSize <= 0 {
		c.Log.BufferSize = 32 * 1024
	}
	if c.Log.TimeoutSeconds <= 0 {
		c.Log.TimeoutSeconds = 1
	}
}

func LoadConfig(path string) (*EngineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Defaults()

	return &cfg, nil
}
