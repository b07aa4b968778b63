// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/config"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes the checks that apply to cfg. Host resource and port checks
// only make sense when the processes run on this machine.
func RunAll(cfg *config.Config) *Result {
	result := &Result{
		Checks: make([]Check, 0, 5),
		Passed: true,
	}

	if cfg.Backend != config.BackendLocal {
		return result
	}

	processes := cfg.Nodes + 1

	result.add(checkFileDescriptors(processes))
	result.add(checkProcessLimit(processes))
	result.add(checkJava(cfg.JavaPath))
	result.add(checkTrackerPort(cfg.TrackerHost, cfg.TrackerPort))
	result.add(checkNodePorts(cfg.TrackerHost, cfg.BasePort, cfg.Nodes))

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(processes int) Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	// The launcher holds stdio pipes for every child when the dashboard
	// captures output, plus its own listeners.
	required := processes*4 + 100
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d processes)", actual, required, processes),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(processes int) Check {
	// Each JVM starts a few dozen threads, and threads count against
	// RLIMIT_NPROC on Linux.
	required := processes*32 + 50

	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseMaxProcesses(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// parseMaxProcesses reads the soft "Max processes" limit from the contents
// of /proc/self/limits. It returns 0 when the line is missing.
func parseMaxProcesses(limits string) int {
	for _, line := range strings.Split(limits, "\n") {
		if !strings.HasPrefix(line, "Max processes") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return 0
		}
		if fields[2] == "unlimited" {
			return 1000000
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// checkJava verifies the Java runtime is available and working.
func checkJava(path string) Check {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Check{
			Name:    "java",
			Passed:  false,
			Message: fmt.Sprintf("not found at %q: %v", path, err),
		}
	}

	// java -version writes to stderr.
	output, err := exec.Command(resolved, "-version").CombinedOutput()
	if err != nil {
		return Check{
			Name:    "java",
			Passed:  false,
			Message: fmt.Sprintf("%s -version failed: %v", resolved, err),
		}
	}

	return Check{
		Name:    "java",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", resolved, parseJavaVersion(string(output))),
	}
}

// parseJavaVersion extracts the quoted version from the first line of
// `java -version`, e.g. `openjdk version "17.0.2" 2022-01-18`.
func parseJavaVersion(output string) string {
	line, _, _ := strings.Cut(output, "\n")
	start := strings.IndexByte(line, '"')
	if start < 0 {
		return "unknown"
	}
	end := strings.IndexByte(line[start+1:], '"')
	if end < 0 {
		return "unknown"
	}
	return line[start+1 : start+1+end]
}

// checkTrackerPort fails when something already listens on the tracker port.
func checkTrackerPort(host string, port int) Check {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if !portFree(addr) {
		return Check{
			Name:    "tracker_port",
			Passed:  false,
			Message: fmt.Sprintf("%s is already in use", addr),
		}
	}
	return Check{
		Name:    "tracker_port",
		Passed:  true,
		Message: fmt.Sprintf("%s is free", addr),
	}
}

// checkNodePorts warns about node ports that are already taken. A busy port
// only breaks one node, so this never fails the run.
func checkNodePorts(host string, basePort, nodes int) Check {
	if nodes == 0 {
		return Check{Name: "node_ports", Passed: true, Message: "no nodes"}
	}

	var busy []string
	for id := 1; id <= nodes; id++ {
		port := basePort + id
		if !portFree(net.JoinHostPort(host, strconv.Itoa(port))) {
			busy = append(busy, strconv.Itoa(port))
		}
	}

	first, last := basePort+1, basePort+nodes
	if len(busy) > 0 {
		return Check{
			Name:    "node_ports",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%d-%d: %d in use (%s)", first, last, len(busy), strings.Join(busy, ",")),
		}
	}
	return Check{
		Name:    "node_ports",
		Passed:  true,
		Message: fmt.Sprintf("%d-%d free", first, last),
	}
}

func portFree(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "java":
		return "install a Java runtime (apt install openjdk-17-jre) or pass --java"
	case "tracker_port":
		return "stop the previous run (ss -ltnp) or pass --tracker-port"
	default:
		return "see documentation"
	}
}
