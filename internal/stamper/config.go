package stamper

import (
	"fmt"
	"time"
)

type Config struct {
	Enabled           bool          `mapstructure:"enabled"`
	Brokers           []string      `mapstructure:"brokers"`
	InputTopic        string        `mapstructure:"input_topic"`
	GroupID           string        `mapstructure:"group_id"`
	OutputTopic       string        `mapstructure:"output_topic"`
	Acks              string        `mapstructure:"acks"`
	BatchSize         int           `mapstructure:"batch_size"`
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
	InChannelSize     int           `mapstructure:"in_channel_size"`
	FlushMessages     int           `mapstructure:"flush_messages"`
	FlushFrequency    time.Duration `mapstructure:"flush_frequency"`
	ChannelBufferSize int           `mapstructure:"channel_buffer_size"`
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers must not be empty")
	}
	if c.InputTopic == "" {
		return fmt.Errorf("input_topic is required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("group_id is required")
	}
	if c.OutputTopic == "" {
		return fmt.Errorf("output_topic is required")
	}
	if c.OutputTopic == c.InputTopic {
		return fmt.Errorf("output_topic must differ from input_topic")
	}
	if c.Acks != "0" && c.Acks != "1" && c.Acks != "all" {
		return fmt.Errorf("acks must be one of: 0, 1, all")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be > 0")
	}
	if c.InChannelSize <= 0 {
		return fmt.Errorf("in_channel_size must be > 0")
	}
	if c.FlushMessages <= 0 {
		return fmt.Errorf("flush_messages must be > 0")
	}
	if c.FlushFrequency <= 0 {
		return fmt.Errorf("flush_frequency must be > 0")
	}
	if c.ChannelBufferSize <= 0 {
		return fmt.Errorf("channel_buffer_size must be > 0")
	}
	return nil
}
