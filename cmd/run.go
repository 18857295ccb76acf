package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/netdash/internal/config"
	"firestige.xyz/netdash/internal/daemon"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the netdash daemon in foreground",
	Long: `Run the netdash daemon process in foreground.

The daemon will:
  1. Load configuration from the config file and NETDASH_* env vars
  2. Initialize logging and metrics
  3. Start the HTTP API for control and snapshots
  4. Start Kafka/NATS snapshot exporters (if configured)
  5. Start capturing if engine.autostart is set or --iface is given
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)

Examples:
  netdash run -c /etc/netdash/config.yml
  netdash run --iface eth0 --filter "tcp port 443"`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(); err != nil {
			slog.Error("daemon failed", "error", err)
			os.Exit(1)
		}
	},
}

var (
	runIface  string
	runFilter string
)

func init() {
	runCmd.Flags().StringVarP(&runIface, "iface", "i", "", "capture interface (implies autostart)")
	runCmd.Flags().StringVarP(&runFilter, "filter", "f", "", "BPF filter expression")
}

func runDaemon() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if runIface != "" {
		cfg.Capture.Interface = runIface
		cfg.Capture.File = ""
		cfg.Engine.Autostart = true
	}
	if runFilter != "" {
		cfg.Capture.Filter = runFilter
	}

	d := daemon.NewWithConfig(cfg, configFile)
	if err := d.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
