package inspect

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhukov-alex/flakeid/internal/config"
	"github.com/zhukov-alex/flakeid/internal/logger"
)

const EnvStage = "ENVIRONMENT"

// InspectCmd decodes the IDs given as arguments, or read from stdin when
// there are none, using the generator layout and epoch from the config.
func InspectCmd(cmd *cobra.Command, args []string) error {
	genCfg, err := config.Generator(viper.GetViper())
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	decoder, err := genCfg.Decoder()
	if err != nil {
		return fmt.Errorf("generator config: %w", err)
	}

	logCfg, err := config.Logger(viper.GetViper())
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	var devMode = strings.ToLower(os.Getenv(EnvStage)) != "prod"
	l, err := logger.NewStderr(*logCfg, devMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer l.Sync()

	if len(args) == 0 {
		args, err = ReadIDs(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}
	if len(args) == 0 {
		return fmt.Errorf("no ids given")
	}

	return NewService(l, decoder).Describe(cmd.OutOrStdout(), args)
}
