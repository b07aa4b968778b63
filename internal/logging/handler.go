package logging

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single output line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept per process.
	MaxBufferedLines = 100
)

// OutputHandler consumes the stdout/stderr of a captured tracker or node
// process. It keeps the most recent lines in a ring buffer for the dashboard
// and forwards problem lines to the logger.
//
// Capture only happens when the dashboard owns the terminal; otherwise child
// processes inherit the launcher's stdio and no handler is created.
type OutputHandler struct {
	role     string
	identity int
	logger   *slog.Logger
	verbose  bool

	buffer []string
	bufIdx int
	total  int
	mu     sync.Mutex
}

// NewOutputHandler creates a handler for one process.
func NewOutputHandler(role string, identity int, logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		role:     role,
		identity: identity,
		logger:   logger,
		verbose:  verbose,
		buffer:   make([]string, MaxBufferedLines),
	}
}

// HandleReader reads lines from r until EOF. Run it in a goroutine. Lines
// longer than MaxLineLength are truncated and the rest of the line is
// discarded, so the writer is never blocked on a full pipe.
func (h *OutputHandler) HandleReader(r io.Reader) {
	br := bufio.NewReaderSize(r, MaxLineLength)
	var line []byte

	for {
		chunk, isPrefix, err := br.ReadLine()
		if len(line) <= MaxLineLength {
			line = append(line, chunk...)
		}
		if err != nil {
			if len(line) > 0 {
				h.HandleLine(string(line))
			}
			if err != io.EOF {
				_, _ = io.Copy(io.Discard, br)
			}
			return
		}
		if !isPrefix {
			h.HandleLine(string(line))
			line = line[:0]
		}
	}
}

// HandleLine records one line of process output.
func (h *OutputHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.total++
	h.mu.Unlock()

	level := classifyLine(line)
	if !h.verbose && level < slog.LevelWarn {
		return
	}
	h.logger.Log(context.Background(), level, "process_output",
		"role", h.role,
		"identity", h.identity,
		"line", line,
	)
}

// classifyLine picks a log level from JVM-style output.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	switch {
	case strings.Contains(lower, "exception"),
		strings.Contains(lower, "error"),
		strings.Contains(lower, "address already in use"),
		strings.Contains(lower, "connection refused"):
		return slog.LevelWarn
	case strings.HasPrefix(lower, "warn"), strings.Contains(lower, "[warn"):
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}
	return lines
}

// LineCount returns the number of lines seen so far, including evicted ones.
func (h *OutputHandler) LineCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}
