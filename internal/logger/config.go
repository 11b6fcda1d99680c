package logger

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level             string `mapstructure:"level"`    // overridden by LOG_LEVEL
	Encoding          string `mapstructure:"encoding"` // json or console
	EnableWriteToFile bool   `mapstructure:"enable_write_to_file"`
	FilePath          string `mapstructure:"file_path"`
	MaxSize           int    `mapstructure:"max_size"` // in MB
	MaxBackups        int    `mapstructure:"max_backups"`
	MaxAgeDays        int    `mapstructure:"max_age_days"`
	Compress          bool   `mapstructure:"compress"`
}

func (c *Config) Validate() error {
	if c.Level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
			return fmt.Errorf("level: %w", err)
		}
	}
	if c.Encoding != "" && c.Encoding != "json" && c.Encoding != "console" {
		return fmt.Errorf("encoding must be one of: json, console")
	}
	if c.EnableWriteToFile {
		if c.FilePath == "" {
			return fmt.Errorf("file_path is required")
		}
		if c.MaxSize <= 0 {
			return fmt.Errorf("max_size must be > 0")
		}
		if c.MaxBackups < 0 {
			return fmt.Errorf("max_backups must be >= 0")
		}
		if c.MaxAgeDays < 0 {
			return fmt.Errorf("max_age_days must be >= 0")
		}
	}
	return nil
}
