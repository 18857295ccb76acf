package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/netdash/internal/core"
	"firestige.xyz/netdash/internal/engine"
	"firestige.xyz/netdash/internal/publisher"
)

// Output formats
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func validFormat(f string) error {
	switch f {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (must be table/json/yaml)", f)
	}
}

// writeValue renders v as JSON or YAML. YAML goes through the JSON
// encoding so both formats use the same field names.
func writeValue(w io.Writer, v any, format string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	if format != formatYAML {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func writeHealth(w io.Writer, h *engine.Health, format string) error {
	if format != formatTable {
		return writeValue(w, h, format)
	}
	fmt.Fprintf(w, "State:    %s\n", h.State)
	if h.Target != "" {
		fmt.Fprintf(w, "Target:   %s\n", h.Target)
	}
	fmt.Fprintf(w, "Since:    %s\n", h.Since.Format(time.RFC3339))
	fmt.Fprintf(w, "Frames:   %d\n", h.Frames)
	fmt.Fprintf(w, "Reopens:  %d\n", h.Reopens)
	if h.Drained {
		fmt.Fprintln(w, "Drained:  yes")
	}
	if h.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", h.Error)
	}
	return nil
}

func writeSnapshot(w io.Writer, s *publisher.Snapshot, format string) error {
	if format != formatTable {
		return writeValue(w, s, format)
	}

	fmt.Fprintf(w, "Snapshot #%d at %s (%d completed windows)\n",
		s.Seq, s.Time.Format(time.RFC3339), len(s.History))
	fmt.Fprintf(w, "Total: %d packets, %s", s.Totals.Packets, humanBytes(s.Totals.Bytes))
	if s.Totals.Malformed.Packets > 0 {
		fmt.Fprintf(w, ", %d malformed", s.Totals.Malformed.Packets)
	}
	fmt.Fprintln(w)
	if s.Throughput.Window > 0 {
		fmt.Fprintf(w, "Rate:  %s/s, %.1f pps over %s\n",
			humanBytes(uint64(s.Throughput.BytesPerSec)), s.Throughput.PacketsPerSec, s.Throughput.Window)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nPROTOCOL\tPACKETS\tBYTES")
	for _, p := range core.Protocols {
		if c, ok := s.Totals.Protocols[p]; ok {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", p, c.Packets, humanBytes(c.Bytes))
		}
	}

	if len(s.TopFlows) > 0 {
		fmt.Fprintln(tw, "\nFLOW\tPACKETS\tBYTES")
		for _, f := range s.TopFlows {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Key, f.Packets, humanBytes(f.Bytes))
		}
		if !s.Totals.Other.IsZero() {
			fmt.Fprintf(tw, "(evicted flows)\t%d\t%s\n", s.Totals.Other.Packets, humanBytes(s.Totals.Other.Bytes))
		}
	}

	if len(s.TopSources) > 0 {
		fmt.Fprintln(tw, "\nSOURCE\tHOSTNAME\tPACKETS\tBYTES\tFLOWS")
		for _, src := range s.TopSources {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\n",
				addrString(src.Addr), dash(src.Hostname), src.Packets, humanBytes(src.Bytes), src.Flows)
		}
	}
	return tw.Flush()
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return "-"
	}
	return a.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
