package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderProgress(),
		m.renderTracker(),
		m.renderNodeCounts(),
		m.renderFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders the per-node table.
func (m Model) renderDetailedView() string {
	sections := []string{
		m.renderHeader(),
		m.renderNodeTable(),
		m.renderFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" go-gsfd-swarm │ %s/%s │ Nodes: %d/%d │ Running: %d │ Elapsed: %s ",
		m.backend,
		m.deployment,
		m.snapshot.HandedOut,
		m.targetNodes,
		m.snapshot.Running,
		formatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	progressBar := RenderProgressBar(m.LaunchProgress(), barWidth)

	var status string
	switch {
	case m.launchErr != nil:
		status = statusError.Render("✗ " + m.launchErr.Error())
	case m.launchDone:
		status = statusOK.Render("✓ All nodes handed out")
	default:
		remaining := m.targetNodes - m.snapshot.HandedOut
		eta := time.Duration(remaining) * m.interval
		status = statusInfo.Render(fmt.Sprintf("Launching... %d/%d (about %s left)",
			m.snapshot.HandedOut, m.targetNodes, eta))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Launch Progress"),
		progressBar,
		status,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Tracker
// =============================================================================

func (m Model) renderTracker() string {
	rows := []string{sectionHeaderStyle.Render("Tracker")}

	tr := m.snapshot.Tracker
	if tr == nil {
		rows = append(rows, dimStyle.Render("starting..."))
	} else {
		rows = append(rows,
			RenderKeyValue("Status", StatusStyle(tr.Status).Render(statusText(*tr))),
			RenderKeyValue("Port", fmt.Sprintf("%d", tr.Port)),
		)
		if tr.ID != "" {
			rows = append(rows, RenderKeyValue("Uptime", formatDuration(tr.Uptime)))
		}
	}

	if len(m.snapshot.TrackerOutput) > 0 {
		rows = append(rows, subtitleStyle.Render("Recent output"))
		maxLen := m.width - 6
		for _, line := range m.snapshot.TrackerOutput {
			rows = append(rows, mutedStyle.Render(truncate(line, maxLen)))
		}
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Nodes
// =============================================================================

func (m Model) renderNodeCounts() string {
	var running, exited, clean, failed int
	for _, n := range m.snapshot.Nodes {
		switch n.Status {
		case "running":
			running++
		case "exited":
			exited++
			if n.ExitCode == 0 {
				clean++
			}
		case "failed":
			failed++
		}
	}

	failedValue := valueGoodStyle.Render("0")
	if failed > 0 {
		failedValue = valueBadStyle.Render(fmt.Sprintf("%d", failed))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Nodes"),
		RenderKeyValue("Running", fmt.Sprintf("%d", running)),
		RenderKeyValue("Exited", fmt.Sprintf("%d (%d clean)", exited, clean)),
		lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("Spawn failures:"), failedValue),
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func (m Model) renderNodeTable() string {
	if len(m.snapshot.Nodes) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No nodes launched yet. Press 'd' to toggle."),
		)
	}

	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-6s %-7s %-12s %-14s %-10s", "ID", "Port", "Handle", "Status", "Uptime"),
	)

	maxRows := m.height - 10
	if maxRows < 5 {
		maxRows = 5
	}

	var rows []string
	for i, n := range m.snapshot.Nodes {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more nodes", len(m.snapshot.Nodes)-maxRows)))
			break
		}

		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}

		uptime := "-"
		if n.Status != "failed" {
			uptime = formatDuration(n.Uptime)
		}
		row := fmt.Sprintf("%-6d %-7d %-12s %s %-10s",
			n.Identity,
			n.Port,
			truncate(n.ID, 12),
			StatusStyle(n.Status).Render(fmt.Sprintf("%-14s", statusText(n))),
			uptime,
		)
		rows = append(rows, rowStyle.Render(row))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Nodes"), header}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func statusText(r ProcessRow) string {
	if r.Status == "exited" {
		return fmt.Sprintf("exited (%d)", r.ExitCode)
	}
	return r.Status
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"d: toggle nodes",
		"r: refresh",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	}

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

func truncate(s string, n int) string {
	if n < 4 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
