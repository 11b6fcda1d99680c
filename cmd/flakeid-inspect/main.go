package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/zhukov-alex/flakeid/internal/config"
	"github.com/zhukov-alex/flakeid/internal/inspect"
)

func main() {
	log.SetFlags(log.Llongfile | log.Ldate | log.Ltime | log.Lmicroseconds)

	var cfgFile string
	cobra.OnInitialize(config.NewConfigInit(&cfgFile))

	cmd := &cobra.Command{
		Use:          "flakeid-inspect [ids...]",
		Short:        "Decode IDs into timestamp, node id and sequence",
		Long:         "Decode IDs given as arguments, or whitespace separated on stdin, using the generator layout and epoch from the config.",
		SilenceUsage: true,
		RunE:         inspect.InspectCmd,
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "Path to the configuration file (empty: defaults and FLAKEID_* environment only)")

	if err := cmd.Execute(); err != nil {
		log.Fatalf("command error: %v", err)
	}
}
