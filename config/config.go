package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Defaults applied to worker definitions that leave a setting out.
const (
	DefaultLBFactor = 1
	DefaultHMax     = 25
	DefaultRetry    = 60 * time.Second
)

// ErrConfig wraps every configuration error.
var ErrConfig = errors.New("invalid configuration")

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	AdminAddress    string        `mapstructure:"admin_address"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

type StoreConfig struct {
	Dir     string `mapstructure:"dir"`
	Growth  int    `mapstructure:"growth"`
	BGrowth int    `mapstructure:"bgrowth"`
}

type MaintenanceConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type WorkerConfig struct {
	Name           string         `mapstructure:"name"`
	URL            string         `mapstructure:"url"`
	Route          string         `mapstructure:"route"`
	Redirect       string         `mapstructure:"redirect"`
	LBFactor       int            `mapstructure:"lbfactor"`
	LBSet          int            `mapstructure:"lbset"`
	Min            int            `mapstructure:"min"`
	SMax           int            `mapstructure:"smax"`
	HMax           int            `mapstructure:"hmax"`
	TTL            time.Duration  `mapstructure:"ttl"`
	Retry          *time.Duration `mapstructure:"retry"`
	Timeout        time.Duration  `mapstructure:"timeout"`
	ConnectTimeout time.Duration  `mapstructure:"connect_timeout"`
	Acquire        time.Duration  `mapstructure:"acquire"`
	Ping           time.Duration  `mapstructure:"ping"`
	Status         string         `mapstructure:"status"`
	KeepAlive      bool           `mapstructure:"keepalive"`
	DisableReuse   bool           `mapstructure:"disablereuse"`
}

type BalancerConfig struct {
	Name          string         `mapstructure:"name"`
	Method        string         `mapstructure:"method"`
	Sticky        string         `mapstructure:"sticky"`
	StickyPath    string         `mapstructure:"sticky_path"`
	SColonSep     bool           `mapstructure:"scolonsep"`
	StickyForce   bool           `mapstructure:"sticky_force"`
	ForceRecovery bool           `mapstructure:"force_recovery"`
	MaxAttempts   *int           `mapstructure:"max_attempts"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	Growth        *int           `mapstructure:"growth"`
	ErrorStatuses []int          `mapstructure:"error_statuses"`
	Members       []WorkerConfig `mapstructure:"members"`
}

type RouteConfig struct {
	Prefix string `mapstructure:"prefix"`
	Target string `mapstructure:"target"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Store       StoreConfig       `mapstructure:"store"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Workers     []WorkerConfig    `mapstructure:"workers"`
	Balancers   []BalancerConfig  `mapstructure:"balancers"`
	Routes      []RouteConfig     `mapstructure:"routes"`
}

// Load reads config.yaml from ./config or the working directory, applies
// environment overrides and validates the result.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	return decode(v)
}

// LoadFile reads the configuration from path.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		slog.Error("failed to read config file", slog.String("file", path), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.admin_address", "127.0.0.1:8081")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)
	v.SetDefault("store.dir", "")
	v.SetDefault("store.growth", 4)
	v.SetDefault("store.bgrowth", 5)
	v.SetDefault("maintenance.interval", "5s")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return &cfg, nil
}

// BalancerGrowth returns how many members b may gain at runtime.
func (c *Config) BalancerGrowth(b BalancerConfig) int {
	if b.Growth != nil {
		return *b.Growth
	}
	return c.Store.Growth
}

// WorkerSlots returns the number of worker slots the status store needs.
func (c *Config) WorkerSlots() int {
	n := len(c.Workers)
	for _, b := range c.Balancers {
		n += len(b.Members) + c.BalancerGrowth(b)
	}
	return n
}

// BalancerSlots returns the number of balancer slots the status store needs.
func (c *Config) BalancerSlots() int {
	return len(c.Balancers) + c.Store.BGrowth
}
