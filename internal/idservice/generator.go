package idservice

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/zhukov-alex/flakeid/internal/snowflake"
)

// NewGenerator builds the generator described by cfg. Without a configured
// node id the id is derived from the machine; a random fallback is logged
// because it may collide with other nodes.
func NewGenerator(logger *zap.Logger, cfg Config) (*snowflake.Generator, error) {
	epoch, err := cfg.EpochTime()
	if err != nil {
		return nil, err
	}
	layout := cfg.Layout()
	opts := []snowflake.Option{
		snowflake.WithEpoch(epoch),
		snowflake.WithLayout(layout),
	}

	nodeID, source := int64(0), "config"
	if cfg.NodeID != nil {
		nodeID = *cfg.NodeID
	} else {
		var fromHardware bool
		nodeID, fromHardware = snowflake.AutoNodeID(layout)
		source = "hardware_address"
		if !fromHardware {
			source = "random"
			logger.Warn("no hardware address found, using a random node id; set generator.node_id to avoid collisions",
				zap.Int64("node_id", nodeID))
		}
	}

	gen, err := snowflake.New(nodeID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}

	logger.Info("id generator ready",
		zap.Int64("node_id", nodeID),
		zap.String("node_id_source", source),
		zap.Time("epoch", epoch),
		zap.Uint8("timestamp_bits", layout.TimestampBits),
		zap.Uint8("node_bits", layout.NodeBits),
		zap.Uint8("sequence_bits", layout.SequenceBits),
	)
	return gen, nil
}
