package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// trackerOutputLines is how many tracker lines the dashboard shows.
const trackerOutputLines = 8

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// LaunchDoneMsg reports that the node schedule finished.
type LaunchDoneMsg struct {
	Err error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	targetNodes int
	deployment  string
	backend     string
	metricsAddr string
	interval    time.Duration

	// Current state
	snapshot     Snapshot
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool
	launchDone   bool
	launchErr    error

	// Display options
	width  int
	height int

	source Source

	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	TargetNodes   int
	Deployment    string
	Backend       string
	MetricsAddr   string
	StartInterval time.Duration
	Source        Source
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		targetNodes: cfg.TargetNodes,
		deployment:  cfg.Deployment,
		backend:     cfg.Backend,
		metricsAddr: cfg.MetricsAddr,
		interval:    cfg.StartInterval,
		source:      cfg.Source,
		snapshot:    Snapshot{Target: cfg.TargetNodes},
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			m.refresh()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case LaunchDoneMsg:
		m.launchDone = true
		m.launchErr = msg.Err
		m.refresh()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.source != nil {
		m.snapshot = m.source.Snapshot()
		if m.snapshot.LaunchDone {
			m.launchDone = true
			m.launchErr = m.snapshot.LaunchErr
		}
	}
	m.lastUpdate = time.Now()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.detailedView {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// HandedOut returns how many node identities have been used.
func (m Model) HandedOut() int {
	return m.snapshot.HandedOut
}

// LaunchProgress returns the schedule progress (0.0 to 1.0).
func (m Model) LaunchProgress() float64 {
	if m.targetNodes == 0 {
		return 1
	}
	return float64(m.snapshot.HandedOut) / float64(m.targetNodes)
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendLaunchDone tells the TUI the schedule finished.
func SendLaunchDone(p *tea.Program, err error) {
	if p != nil {
		p.Send(LaunchDoneMsg{Err: err})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
