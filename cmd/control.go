package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/netdash/internal/api"
	"firestige.xyz/netdash/internal/publisher"
	"firestige.xyz/netdash/internal/source"
)

var outputFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine health",
	Long: `Query the daemon for the engine health state: idle, starting, capturing
or unavailable, with the capture target and the last error.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStatus(cmd.Context(), newClient(), os.Stdout, outputFormat); err != nil {
			exitWithError("failed to query status", err)
		}
	},
}

var snapshotWatch bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the latest traffic snapshot",
	Long: `Print the latest snapshot: totals, per-protocol counters, throughput,
top flows and top sources.

Examples:
  netdash snapshot
  netdash snapshot -o json
  netdash snapshot --watch`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var err error
		if snapshotWatch {
			err = runWatch(ctx, newClient(), os.Stdout, outputFormat)
		} else {
			err = runSnapshot(ctx, newClient(), os.Stdout, outputFormat)
		}
		if err != nil {
			exitWithError("failed to fetch snapshot", err)
		}
	},
}

var startReq api.StartRequest

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start capturing",
	Long: `Ask the daemon to start capturing. Flags override the configured target.

Examples:
  netdash start
  netdash start --iface eth1 --filter "udp port 53"
  netdash start --file /tmp/trace.pcap`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStart(cmd.Context(), newClient(), startReq, os.Stdout); err != nil {
			exitWithError("failed to start capture", err)
		}
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop capturing",
	Long: `Ask the daemon to stop capturing. A final snapshot is published and the
engine returns to idle. The daemon keeps running; use "netdash shutdown" to
terminate it.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStop(cmd.Context(), newClient(), os.Stdout); err != nil {
			exitWithError("failed to stop capture", err)
		}
	},
}

var interfacesLocal bool

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List capture interfaces",
	Long: `List the network interfaces available for capture on the daemon host,
or on this host with --local.`,
	Run: func(cmd *cobra.Command, args []string) {
		list := func(ctx context.Context) ([]source.Interface, error) { return source.Interfaces() }
		if !interfacesLocal {
			list = newClient().Interfaces
		}
		if err := runInterfaces(cmd.Context(), list, os.Stdout, outputFormat); err != nil {
			exitWithError("failed to list interfaces", err)
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, snapshotCmd, interfacesCmd} {
		c.Flags().StringVarP(&outputFormat, "output", "o", formatTable, "output format: table|json|yaml")
	}
	snapshotCmd.Flags().BoolVarP(&snapshotWatch, "watch", "w", false, "stream snapshots until interrupted")

	startCmd.Flags().StringVarP(&startReq.Interface, "iface", "i", "", "capture interface")
	startCmd.Flags().StringVarP(&startReq.Filter, "filter", "f", "", "BPF filter expression")
	startCmd.Flags().StringVar(&startReq.Backend, "backend", "", "capture backend: pcap|afpacket")
	startCmd.Flags().StringVar(&startReq.File, "file", "", "replay a pcap file instead of a live interface")

	interfacesCmd.Flags().BoolVar(&interfacesLocal, "local", false, "list interfaces on this host")
}

func runStatus(ctx context.Context, c Client, w io.Writer, format string) error {
	if err := validFormat(format); err != nil {
		return err
	}
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	return writeHealth(w, h, format)
}

func runSnapshot(ctx context.Context, c Client, w io.Writer, format string) error {
	if err := validFormat(format); err != nil {
		return err
	}
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		fmt.Fprintln(w, "No snapshot published yet.")
		return nil
	}
	return writeSnapshot(w, snap, format)
}

func runWatch(ctx context.Context, c Client, w io.Writer, format string) error {
	if err := validFormat(format); err != nil {
		return err
	}
	err := c.Stream(ctx, func(snap *publisher.Snapshot) error {
		if format == formatTable {
			fmt.Fprintln(w)
		}
		return writeSnapshot(w, snap, format)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runStart(ctx context.Context, c Client, req api.StartRequest, w io.Writer) error {
	h, err := c.Start(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ Capture started on %s (%s)\n", h.Target, h.State)
	return nil
}

func runStop(ctx context.Context, c Client, w io.Writer) error {
	if _, err := c.Stop(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "✓ Capture stopped")
	return nil
}

func runInterfaces(ctx context.Context, list func(context.Context) ([]source.Interface, error), w io.Writer, format string) error {
	if err := validFormat(format); err != nil {
		return err
	}
	ifaces, err := list(ctx)
	if err != nil {
		return err
	}
	if format != formatTable {
		return writeValue(w, ifaces, format)
	}
	for _, iface := range ifaces {
		fmt.Fprintf(w, "%s", iface.Name)
		if iface.Description != "" {
			fmt.Fprintf(w, " (%s)", iface.Description)
		}
		for _, a := range iface.Addresses {
			fmt.Fprintf(w, " %s", a)
		}
		fmt.Fprintln(w)
	}
	return nil
}
