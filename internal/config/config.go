// Copyright 2025 James Ross
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Source holds the coordinates of the Redis instance the multiplexer pops
// items from.
type Source struct {
	Name     string `mapstructure:"name"`
	Hostname string `mapstructure:"hostname"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	SSL      bool   `mapstructure:"ssl"`
	Channel  string `mapstructure:"channel"`
}

// FilterConfig is the YAML shape of a filter spec (source-level or
// destination-level).
type FilterConfig struct {
	Regex   string `mapstructure:"filter"`
	Until   string `mapstructure:"filter_until"`
	Limit   int    `mapstructure:"filter_limit"`
	Replace string `mapstructure:"filter_replace"`
	HasRepl bool   `mapstructure:"-"`
}

// OrderingConfig is the YAML shape of the ordering spec. All three fields
// must be set together, or none.
type OrderingConfig struct {
	Regex      string `mapstructure:"ordering"`
	BufferTime int    `mapstructure:"ordering_buffer_time"`
	Limit      int    `mapstructure:"ordering_limit"`
}

// Limits is the per-destination admission watermark configuration. All
// four fields must be set together (and > 0), or none.
type Limits struct {
	CheckIntervalSecs int64  `mapstructure:"timelimit"`
	CheckIntervalPkts int64  `mapstructure:"checklimit"`
	SoftWatermark     int64  `mapstructure:"softlimit"`
	HardWatermark     int64  `mapstructure:"hardlimit"`
	TrimBlock         *int64 `mapstructure:"deleteblock"`
}

// Configured reports whether any of the four watermark fields is set.
func (l Limits) Configured() bool {
	return l.CheckIntervalSecs != 0 || l.CheckIntervalPkts != 0 || l.SoftWatermark != 0 || l.HardWatermark != 0
}

// ClientConfig is one destination's configuration: its coordinates, its own
// filter, and its admission limits.
type ClientConfig struct {
	Name     string       `mapstructure:"name"`
	Hostname string       `mapstructure:"hostname"`
	Port     int          `mapstructure:"port"`
	Password string       `mapstructure:"password"`
	SSL      bool         `mapstructure:"ssl"`
	Channel  string       `mapstructure:"channel"`
	Filter   FilterConfig `mapstructure:",squash"`
	Limits   Limits       `mapstructure:",squash"`
}

// ObservabilityConfig is the ambient logging/metrics surface, grounded on
// the teacher's observability block.
type ObservabilityConfig struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`
}

// Config is the immutable, fully-validated configuration for one
// multiplexer process.
type Config struct {
	Source        Source              `mapstructure:",squash"`
	Children      int                 `mapstructure:"children"`
	Mode          string              `mapstructure:"mode"`
	Filter        FilterConfig        `mapstructure:",squash"`
	Ordering      OrderingConfig      `mapstructure:",squash"`
	Pid           string              `mapstructure:"pid"`
	Status        string              `mapstructure:"status"`
	Clients       []ClientConfig      `mapstructure:"clients"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

const (
	ModeReplicant = "replicant"
	ModeSpreader  = "spreader"

	// DefaultCheckIntervalSecs rate-limits a destination's length check
	// when no watermark limits are configured.
	DefaultCheckIntervalSecs = 1
	// StatisticsSeconds is the window over which the supervisor rolls up
	// and reports rates.
	StatisticsSeconds = 10
)

func defaultConfig() *Config {
	return &Config{
		Children: 1,
		Mode:     ModeReplicant,
		Observability: ObservabilityConfig{
			MetricsPort: 9090,
			LogLevel:    "info",
		},
	}
}

// Load reads configuration from a YAML file and env overrides, applying
// defaults and then validating the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("children", def.Children)
	v.SetDefault("mode", def.Mode)
	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	finalizeFilter(&cfg.Filter)
	for i := range cfg.Clients {
		finalizeFilter(&cfg.Clients[i].Filter)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func finalizeFilter(f *FilterConfig) {
	f.HasRepl = f.Replace != ""
}

// Validate enforces every rule spec.md §6 "Configuration format" names.
func Validate(cfg *Config) error {
	if cfg.Mode != ModeReplicant && cfg.Mode != ModeSpreader {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeReplicant, ModeSpreader, cfg.Mode)
	}
	if cfg.Children < 1 {
		return fmt.Errorf("children must be >= 1")
	}
	if cfg.Source.Name == "" || cfg.Source.Hostname == "" || cfg.Source.Channel == "" {
		return fmt.Errorf("source name, hostname and channel must be non-empty")
	}
	if err := validateFilter(cfg.Filter, "filter"); err != nil {
		return err
	}
	if err := validateOrdering(cfg.Ordering); err != nil {
		return err
	}
	if len(cfg.Clients) == 0 {
		return fmt.Errorf("clients must be non-empty")
	}
	for i, c := range cfg.Clients {
		if c.Hostname == "" || c.Channel == "" {
			return fmt.Errorf("clients[%d] hostname and channel must be non-empty", i)
		}
		if c.Hostname == cfg.Source.Hostname && c.Port == cfg.Source.Port && c.Channel == cfg.Source.Channel {
			return fmt.Errorf("clients[%d] coincides with source on (hostname, port, channel)", i)
		}
		if err := validateFilter(c.Filter, fmt.Sprintf("clients[%d].filter", i)); err != nil {
			return err
		}
		if err := validateLimits(c.Limits, i); err != nil {
			return err
		}
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}

func validateFilter(f FilterConfig, label string) error {
	if f.Regex != "" {
		return nil
	}
	if f.Until != "" || f.Limit != 0 || f.Replace != "" {
		return fmt.Errorf("%s: until/limit/replace set without a regex", label)
	}
	return nil
}

func validateOrdering(o OrderingConfig) error {
	anySet := o.Regex != "" || o.BufferTime != 0 || o.Limit != 0
	allSet := o.Regex != "" && o.BufferTime != 0 && o.Limit != 0
	if anySet && !allSet {
		return fmt.Errorf("ordering, ordering_buffer_time and ordering_limit must all be set together")
	}
	if !anySet {
		return nil
	}
	if !strings.Contains(o.Regex, "(?P<ts>") {
		return fmt.Errorf("ordering regex must contain a named capture \"ts\"")
	}
	return nil
}

func validateLimits(l Limits, idx int) error {
	if !l.Configured() {
		return nil
	}
	if l.CheckIntervalSecs <= 0 || l.CheckIntervalPkts <= 0 || l.SoftWatermark <= 0 || l.HardWatermark <= 0 {
		return fmt.Errorf("clients[%d]: timelimit/checklimit/softlimit/hardlimit must all be set and > 0 together", idx)
	}
	return nil
}

// CheckInterval returns the interval the admission controller should rate
// limit length checks to, honoring DefaultCheckIntervalSecs when no
// watermarks are configured.
func (l Limits) CheckInterval() time.Duration {
	if !l.Configured() {
		return DefaultCheckIntervalSecs * time.Second
	}
	return time.Duration(l.CheckIntervalSecs) * time.Second
}
