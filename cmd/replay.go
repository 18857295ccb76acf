package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/netdash/internal/config"
	"firestige.xyz/netdash/internal/daemon"
	"firestige.xyz/netdash/internal/engine"
	"firestige.xyz/netdash/internal/publisher"
	"firestige.xyz/netdash/internal/source"
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Aggregate a pcap file and print the final snapshot",
	Long: `Replay a pcap capture file through the decoder and aggregator and print
the resulting snapshot. No daemon is needed.

Examples:
  netdash replay trace.pcap
  netdash replay trace.pcap --filter udp -o json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := validFormat(replayOutput); err != nil {
			exitWithError("invalid flag", err)
		}

		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		cfg.Capture.File = args[0]
		if replayFilter != "" {
			cfg.Capture.Filter = replayFilter
		}

		pub := publisher.New(publisher.Config{TopN: cfg.Engine.TopN, SubscriberBuffer: cfg.Engine.SubscriberBuffer})
		eng := engine.New(source.NewManager(), pub)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runReplay(ctx, eng, daemon.EngineConfig(cfg), os.Stdout, replayOutput); err != nil {
			exitWithError("replay failed", err)
		}
	},
}

var (
	replayFilter string
	replayOutput string
)

func init() {
	replayCmd.Flags().StringVarP(&replayFilter, "filter", "f", "", "BPF filter expression")
	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", formatTable, "output format: table|json|yaml")
}

// replayEngine is the engine surface replay needs.
type replayEngine interface {
	Start(cfg engine.Config) error
	Stop() error
	Done() <-chan struct{}
	Health() engine.Health
	Latest() *publisher.Snapshot
}

// runReplay starts eng, waits until capture ends or ctx is cancelled, and
// prints the final snapshot. A file that fails mid-read still prints what
// was read before the error is returned.
func runReplay(ctx context.Context, eng replayEngine, cfg engine.Config, out io.Writer, format string) error {
	if err := eng.Start(cfg); err != nil {
		return err
	}

	select {
	case <-eng.Done():
	case <-ctx.Done():
	}
	health := eng.Health()

	if err := eng.Stop(); err != nil {
		return err
	}
	snap := eng.Latest()
	if snap == nil {
		return fmt.Errorf("no snapshot produced")
	}
	if err := writeSnapshot(out, snap, format); err != nil {
		return err
	}
	if health.State == engine.StateUnavailable {
		return fmt.Errorf("replay incomplete: %s", health.Error)
	}
	return nil
}
