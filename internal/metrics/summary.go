package metrics

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
)

// PrintSummary writes the exit summary shown when the launcher stops
// waiting for its local processes.
func PrintSummary(w io.Writer, s *Summary, metricsAddr string) {
	const rule = "═══════════════════════════════════════════════════════════════════"

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "                     go-gsfd-swarm Exit Summary")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(s.Duration))
	fmt.Fprintf(w, "Target Nodes:           %d\n", s.TargetNodes)
	fmt.Fprintf(w, "Peak Active Processes:  %d\n", s.PeakActive)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Spawns:")
	for _, role := range []process.Role{process.RoleTracker, process.RoleNode} {
		fmt.Fprintf(w, "  %-8s started %-6d failed %d\n", role, s.Spawned[role], s.Failures[role])
	}
	fmt.Fprintln(w)

	if s.Exited > 0 {
		fmt.Fprintln(w, "Uptime Distribution:")
		fmt.Fprintf(w, "  P50 (median):         %s\n", formatDuration(s.UptimeP50))
		fmt.Fprintf(w, "  P95:                  %s\n", formatDuration(s.UptimeP95))
		fmt.Fprintf(w, "  P99:                  %s\n", formatDuration(s.UptimeP99))
		fmt.Fprintln(w)
	}

	if len(s.ExitCodes) > 0 {
		codes := make([]int, 0, len(s.ExitCodes))
		for code := range s.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		fmt.Fprintln(w, "Exit Codes:")
		for _, code := range codes {
			fmt.Fprintf(w, "  %3d %-16s %d\n", code, exitCodeLabel(code), s.ExitCodes[code])
		}
		fmt.Fprintln(w)
	}

	if metricsAddr != "" {
		fmt.Fprintf(w, "Metrics endpoint was: http://%s/metrics\n", metricsAddr)
	}
	fmt.Fprintln(w, rule)
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 130:
		return "(SIGINT)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}
