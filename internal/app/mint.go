package app

import (
	"bufio"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zhukov-alex/flakeid/internal/config"
	"github.com/zhukov-alex/flakeid/internal/idservice"
	"github.com/zhukov-alex/flakeid/internal/logger"
	"github.com/zhukov-alex/flakeid/internal/snowflake"
)

const (
	FlagCount  = "count"
	FlagNodeID = "node-id"
)

// MintCmd prints freshly minted IDs, one per line.
func MintCmd(cmd *cobra.Command, _ []string) error {
	count, err := cmd.Flags().GetInt(FlagCount)
	if err != nil {
		return err
	}
	if count <= 0 {
		return fmt.Errorf("--%s must be > 0", FlagCount)
	}

	genCfg, err := config.Generator(viper.GetViper())
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if cmd.Flags().Changed(FlagNodeID) {
		nodeID, err := cmd.Flags().GetInt64(FlagNodeID)
		if err != nil {
			return err
		}
		genCfg.NodeID = &nodeID
	}

	logCfg, err := config.Logger(viper.GetViper())
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	l, err := logger.NewStderr(*logCfg, devMode())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer l.Sync()

	gen, err := mintGenerator(l, genCfg)
	if err != nil {
		return err
	}
	return mint(cmd.OutOrStdout(), gen, count)
}

// mintGenerator uses the process default generator unless the config pins a
// node id or deviates from the default layout or epoch.
func mintGenerator(l *zap.Logger, cfg *idservice.Config) (*snowflake.Generator, error) {
	epoch, err := cfg.EpochTime()
	if err != nil {
		return nil, err
	}
	if cfg.NodeID == nil && cfg.Layout() == snowflake.DefaultLayout && epoch.UnixMilli() == snowflake.DefaultEpoch {
		gen := snowflake.Default()
		l.Debug("using default generator", zap.Int64("node_id", gen.NodeID()))
		return gen, nil
	}
	return idservice.NewGenerator(l, *cfg)
}

func mint(w io.Writer, gen *snowflake.Generator, count int) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < count; i++ {
		id, err := gen.NextID()
		if err != nil {
			return fmt.Errorf("mint id %d of %d: %w", i+1, count, err)
		}
		fmt.Fprintln(bw, id)
	}
	return bw.Flush()
}
