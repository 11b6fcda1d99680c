package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zhukov-alex/flakeid/internal/idservice"
	"github.com/zhukov-alex/flakeid/internal/logger"
	"github.com/zhukov-alex/flakeid/internal/stamper"
	"github.com/zhukov-alex/flakeid/internal/transport"
)

// EnvPrefix prefixes environment overrides: generator.node_id is read from
// FLAKEID_GENERATOR_NODE_ID.
const EnvPrefix = "FLAKEID"

type Config struct {
	MetricsAddr string `mapstructure:"metrics_addr"`

	Generator idservice.Config `mapstructure:"generator"`
	Transport transport.Config `mapstructure:"transport"`
	Stamper   stamper.Config   `mapstructure:"stamper"`
	Logger    logger.Config    `mapstructure:"logger"`
}

func NewConfigInit(cfgFile *string) func() {
	return func() {
		if err := Load(viper.GetViper(), *cfgFile); err != nil {
			log.Fatalf("Failed to read config: %v\n", err)
		}
	}
}

// Load sets defaults and env bindings on v and reads path into it. An empty
// path leaves defaults and environment as the only sources.
func Load(v *viper.Viper, path string) error {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// node_id has no default; it must be bound to be seen by Unmarshal.
	if err := v.BindEnv("generator.node_id"); err != nil {
		return fmt.Errorf("bind env: %w", err)
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("generator.epoch", "")
	v.SetDefault("generator.timestamp_bits", 0)
	v.SetDefault("generator.node_bits", 0)
	v.SetDefault("generator.sequence_bits", 0)
	v.SetDefault("generator.max_batch", 4096)

	v.SetDefault("stamper.enabled", false)
	v.SetDefault("stamper.acks", "1")
	v.SetDefault("stamper.batch_size", 500)
	v.SetDefault("stamper.flush_interval", time.Second)
	v.SetDefault("stamper.in_channel_size", 1000)
	v.SetDefault("stamper.flush_messages", 500)
	v.SetDefault("stamper.flush_frequency", 100*time.Millisecond)
	v.SetDefault("stamper.channel_buffer_size", 1024)

	v.SetDefault("logger.level", "")
	v.SetDefault("logger.encoding", "json")
}

func New(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return &cfg, nil
}

// Generator validates only the generator section, for commands that mint or
// decode without serving. The whole tree is unmarshaled because UnmarshalKey
// does not see environment overrides of nested keys.
func Generator(v *viper.Viper) (*idservice.Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("generator config unmarshal error: %w", err)
	}
	if err := cfg.Generator.Validate(); err != nil {
		return nil, fmt.Errorf("generator config: %w", err)
	}
	return &cfg.Generator, nil
}

// Logger returns the logger section with environment overrides applied.
func Logger(v *viper.Viper) (*logger.Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("logger config unmarshal error: %w", err)
	}
	if err := cfg.Logger.Validate(); err != nil {
		return nil, fmt.Errorf("logger config: %w", err)
	}
	return &cfg.Logger, nil
}

func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config: %w", err)
	}
	if err := c.Generator.Validate(); err != nil {
		return fmt.Errorf("generator config: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}
	if err := c.Stamper.Validate(); err != nil {
		return fmt.Errorf("stamper config: %w", err)
	}
	if !c.Transport.Enabled() && !c.Stamper.Enabled {
		return fmt.Errorf("at least one of transport.tcp, transport.grpc, transport.http or stamper must be enabled")
	}
	if c.Stamper.Enabled && c.Stamper.BatchSize > c.Generator.MaxBatch {
		return fmt.Errorf("stamper.batch_size must not exceed generator.max_batch (%d)", c.Generator.MaxBatch)
	}
	return nil
}
