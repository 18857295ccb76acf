package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/netdash/internal/config"
	"firestige.xyz/netdash/internal/daemon"
)

var validateCmd = &cobra.Command{
	Use:   "validate [FILE]",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file (defaults to --config) without
starting anything. Environment overrides are applied.

Examples:
  netdash validate /etc/netdash/config.yml
  netdash validate -c config.yml`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := configFile
		if len(args) == 1 {
			path = args[0]
		}
		if err := runValidate(path); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

func runValidate(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	ec := daemon.EngineConfig(cfg)
	if cfg.Engine.Autostart {
		if err := ec.Validate(); err != nil {
			return err
		}
	}

	fmt.Printf("VALID: target %q, window %s x %d, flow cap %d, top %d\n",
		ec.Capture.Name(),
		cfg.Engine.WindowInterval,
		cfg.Engine.HistoryDepth,
		cfg.Engine.FlowCap,
		cfg.Engine.TopN,
	)
	return nil
}
