package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/netdash/internal/config"
	"firestige.xyz/netdash/internal/daemon"
)

var shutdownTimeout time.Duration

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Terminate the netdash daemon",
	Long: `Send SIGTERM to the daemon recorded in control.pid_file and wait for it
to exit. Capture is stopped and exporters are flushed first.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if err := daemon.Shutdown(cfg.Control.PIDFile, shutdownTimeout); err != nil {
			exitWithError("failed to shut down daemon", err)
		}
		fmt.Println("✓ Daemon stopped")
	},
}

func init() {
	shutdownCmd.Flags().DurationVarP(&shutdownTimeout, "wait", "w", 10*time.Second, "time to wait for the daemon to exit")
}
