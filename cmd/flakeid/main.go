package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/zhukov-alex/flakeid/internal/app"
	"github.com/zhukov-alex/flakeid/internal/config"
)

func main() {
	log.SetFlags(log.Llongfile | log.Ldate | log.Ltime | log.Lmicroseconds)

	var cfgFile string
	cobra.OnInitialize(config.NewConfigInit(&cfgFile))

	root := &cobra.Command{
		Use:   "flakeid",
		Short: "Snowflake ID generator",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to the configuration file (empty: defaults and FLAKEID_* environment only)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve IDs over the configured transports and run the Kafka stamper",
		RunE:  app.ServeCmd,
	}

	mint := &cobra.Command{
		Use:   "mint",
		Short: "Print freshly minted IDs",
		RunE:  app.MintCmd,
	}
	mint.Flags().Int(app.FlagCount, 1, "Number of IDs to mint")
	mint.Flags().Int64(app.FlagNodeID, 0, "Node id in [0, 1023]; overrides generator.node_id")

	root.AddCommand(serve, mint)

	if err := root.Execute(); err != nil {
		log.Fatalf("command error: %v", err)
	}
}
