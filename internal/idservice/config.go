package idservice

import (
	"fmt"
	"time"

	"github.com/zhukov-alex/flakeid/internal/snowflake"
)

type Config struct {
	// NodeID is optional; nil derives the node id from the machine.
	NodeID        *int64 `mapstructure:"node_id"`
	Epoch         string `mapstructure:"epoch"` // RFC3339, empty for snowflake.DefaultEpoch
	TimestampBits uint8  `mapstructure:"timestamp_bits"`
	NodeBits      uint8  `mapstructure:"node_bits"`
	SequenceBits  uint8  `mapstructure:"sequence_bits"`
	MaxBatch      int    `mapstructure:"max_batch"`
}

func (c *Config) Validate() error {
	layout := c.Layout()
	if err := layout.Validate(); err != nil {
		return err
	}
	if c.NodeID != nil && (*c.NodeID < 0 || *c.NodeID > layout.MaxNodeID()) {
		return fmt.Errorf("node_id must be between 0 and %d", layout.MaxNodeID())
	}
	if _, err := c.EpochTime(); err != nil {
		return err
	}
	if c.MaxBatch <= 0 {
		return fmt.Errorf("max_batch must be > 0")
	}
	return nil
}

// Layout falls back to snowflake.DefaultLayout when no bit width is set.
func (c *Config) Layout() snowflake.Layout {
	l := snowflake.Layout{
		TimestampBits: c.TimestampBits,
		NodeBits:      c.NodeBits,
		SequenceBits:  c.SequenceBits,
	}
	if l.IsZero() {
		return snowflake.DefaultLayout
	}
	return l
}

func (c *Config) EpochTime() (time.Time, error) {
	if c.Epoch == "" {
		return time.UnixMilli(snowflake.DefaultEpoch).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, c.Epoch)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch must be RFC3339: %w", err)
	}
	return t, nil
}

// Decoder returns the decoder matching the generators built from c.
func (c *Config) Decoder() (snowflake.Decoder, error) {
	epoch, err := c.EpochTime()
	if err != nil {
		return snowflake.Decoder{}, err
	}
	return snowflake.NewDecoder(c.Layout(), epoch), nil
}
