// Package config loads the control-plane TOML configuration. Every field has
// a working default so the service runs with no config file at all.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/devplane/devplane/internal/logger"
)

// Config is the top-level TOML structure.
type Config struct {
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	App     AppConfig     `toml:"app" mapstructure:"app"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Store   StoreConfig   `toml:"store" mapstructure:"store"`
	Install InstallConfig `toml:"install" mapstructure:"install"`
	Prewarm PrewarmConfig `toml:"prewarm" mapstructure:"prewarm"`
}

type ServerConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

type AppConfig struct {
	Dir     string `toml:"dir" mapstructure:"dir"`
	Port    int    `toml:"port" mapstructure:"port"`
	PIDFile string `toml:"pid_file" mapstructure:"pid_file"`

	StopGrace  time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	KillSettle time.Duration `toml:"kill_settle" mapstructure:"kill_settle"`
}

type LogConfig struct {
	Level  string              `toml:"level" mapstructure:"level"`
	Color  bool                `toml:"color" mapstructure:"color"`
	Mirror logger.MirrorConfig `toml:"mirror" mapstructure:"mirror"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

type StoreConfig struct {
	// DSN selects the lifecycle store: postgres://..., sqlite://path, a bare
	// sqlite file path, or empty to disable persistence.
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type InstallConfig struct {
	ExtraArgs []string `toml:"extra_args" mapstructure:"extra_args"`
}

type PrewarmConfig struct {
	ReadyTimeout   time.Duration `toml:"ready_timeout" mapstructure:"ready_timeout"`
	ReadyInterval  time.Duration `toml:"ready_interval" mapstructure:"ready_interval"`
	RequestTimeout time.Duration `toml:"request_timeout" mapstructure:"request_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:  ServerConfig{Listen: ":8080"},
		App:     AppConfig{Dir: "/app", Port: 3000, PIDFile: "/tmp/devserver.pid"},
		Log:     LogConfig{Level: "info", Color: true},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads a TOML config file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.App.Dir == "" {
		return fmt.Errorf("app.dir must not be empty")
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("app.port %d out of range", c.App.Port)
	}
	if c.App.PIDFile == "" {
		return fmt.Errorf("app.pid_file must not be empty")
	}
	return nil
}
