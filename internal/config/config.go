package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultSettingsFile   = "/etc/netrule/settings.json"
	DefaultParseCacheSize = 4096
)

var DefaultReservedPorts = []int{22, 80, 443}

type EngineConfig struct {
	// MaxRules caps the rules scanned per evaluation; 0 is unlimited.
	MaxRules       int `yaml:"max-rules" json:"max_rules" validate:"gte=0"`
	ParseCacheSize int `yaml:"parse-cache-size" json:"parse_cache_size" validate:"gte=0"`
}

type Config struct {
	LogLevel string `yaml:"log-level" json:"log_level" validate:"oneof=debug info warn error"`
	LogFile  string `yaml:"log-file,omitempty" json:"log_file,omitempty"`

	APIServer       string `yaml:"api-server,omitempty" json:"api_server,omitempty" validate:"omitempty,hostname_port"`
	APIServerSecret string `yaml:"api-server-secret,omitempty" json:"-"`

	SettingsFile string `yaml:"settings-file" json:"settings_file" validate:"required"`
	StatsFile    string `yaml:"stats-file,omitempty" json:"stats_file,omitempty"`

	Engine EngineConfig `yaml:"engine" json:"engine"`

	ReservedPorts  []int    `yaml:"reserved-ports" json:"reserved_ports" validate:"dive,gte=1,lte=65535"`
	LocalAddresses []string `yaml:"local-addresses,omitempty" json:"local_addresses,omitempty" validate:"dive,ip|cidr"`
}

// SetDefaults registers the default value of every key on the global viper.
func SetDefaults() {
	viper.SetDefault("log-level", "info")
	viper.SetDefault("settings-file", DefaultSettingsFile)
	viper.SetDefault("engine.max-rules", 0)
	viper.SetDefault("engine.parse-cache-size", DefaultParseCacheSize)
	viper.SetDefault("reserved-ports", DefaultReservedPorts)
}

// BuildConfigFromViper decodes, normalises and validates the merged flag, env
// and file configuration.
func BuildConfigFromViper() (*Config, error) {
	var cfg Config
	err := viper.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToTimeDurationHookFunc(),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("viper.Unmarshal: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	for i, a := range cfg.LocalAddresses {
		cfg.LocalAddresses[i] = strings.TrimSpace(a)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) ReservedPortList() []uint16 {
	ports := make([]uint16, 0, len(c.ReservedPorts))
	for _, p := range c.ReservedPorts {
		ports = append(ports, uint16(p))
	}
	return ports
}

func (c *Config) LogValue() slog.Value {
	secret := ""
	if c.APIServerSecret != "" {
		secret = "***"
	}
	return slog.GroupValue(
		slog.String("log_level", c.LogLevel),
		slog.String("api_server", c.APIServer),
		slog.String("api_server_secret", secret),
		slog.String("settings_file", c.SettingsFile),
		slog.String("stats_file", c.StatsFile),
		slog.Int("max_rules", c.Engine.MaxRules),
		slog.Int("parse_cache_size", c.Engine.ParseCacheSize),
		slog.Any("reserved_ports", c.ReservedPorts),
		slog.Any("local_addresses", c.LocalAddresses),
	)
}
