// Package metrics provides Prometheus metrics for go-gsfd-swarm.
//
// All metrics are aggregate: per-role labels only, never per-node, so a
// large deployment does not blow up cardinality.
package metrics

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
)

var uptimePercentiles = []struct {
	label string
	q     float64
}{
	{"p50", 0.50},
	{"p95", 0.95},
	{"p99", 0.99},
}

// Collector records launch and process lifecycle events.
type Collector struct {
	info             *prometheus.GaugeVec
	targetNodes      prometheus.Gauge
	spawnedTotal     *prometheus.CounterVec
	spawnFailures    *prometheus.CounterVec
	exitsTotal       *prometheus.CounterVec
	activeProcesses  *prometheus.GaugeVec
	launchProgress   prometheus.Gauge
	uptimeSeconds    prometheus.Histogram
	uptimeQuantiles  *prometheus.GaugeVec
	launchElapsedSec prometheus.Gauge

	gatherer prometheus.Gatherer

	mu          sync.Mutex
	startTime   time.Time
	target      int
	nodesOut    int
	active      map[process.Role]int
	peakActive  int
	spawned     map[process.Role]int64
	failures    map[process.Role]int64
	exitCodes   map[int]int64
	uptimes     *tdigest.TDigest
	uptimeCount int
}

// CollectorConfig holds static labels and targets.
type CollectorConfig struct {
	Version     string
	Backend     string
	Deployment  string
	TargetNodes int
}

// NewCollector creates a Collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return newCollector(cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewCollectorWithRegistry creates a Collector on its own registry.
// Tests use this to avoid duplicate registration.
func NewCollectorWithRegistry(cfg CollectorConfig, registry *prometheus.Registry) *Collector {
	return newCollector(cfg, registry, registry)
}

func newCollector(cfg CollectorConfig, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gsfd_info",
			Help: "Information about the launcher (value always 1)",
		}, []string{"version", "backend", "deployment"}),

		targetNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gsfd_target_nodes",
			Help: "Configured number of nodes",
		}),

		spawnedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gsfd_processes_spawned_total",
			Help: "Processes successfully spawned, by role",
		}, []string{"role"}),

		spawnFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gsfd_spawn_failures_total",
			Help: "Spawn attempts that failed, by role",
		}, []string{"role"}),

		exitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gsfd_process_exits_total",
			Help: "Observed process exits by role and category (success, error, signal)",
		}, []string{"role", "category"}),

		activeProcesses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gsfd_active_processes",
			Help: "Processes spawned and not yet observed to exit, by role",
		}, []string{"role"}),

		launchProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gsfd_launch_progress",
			Help: "Fraction of node identities handed out (0.0 to 1.0)",
		}),

		uptimeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gsfd_process_uptime_seconds",
			Help:    "Process uptime at exit",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		uptimeQuantiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gsfd_process_uptime_quantile_seconds",
			Help: "Process uptime percentiles over exited processes (t-digest)",
		}, []string{"percentile"}),

		launchElapsedSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gsfd_launch_elapsed_seconds",
			Help: "Seconds since the launch started",
		}),

		gatherer:  gatherer,
		startTime: time.Now(),
		target:    cfg.TargetNodes,
		active:    make(map[process.Role]int),
		spawned:   make(map[process.Role]int64),
		failures:  make(map[process.Role]int64),
		exitCodes: make(map[int]int64),
		uptimes:   tdigest.NewWithCompression(100),
	}

	reg.MustRegister(
		c.info,
		c.targetNodes,
		c.spawnedTotal,
		c.spawnFailures,
		c.exitsTotal,
		c.activeProcesses,
		c.launchProgress,
		c.uptimeSeconds,
		c.uptimeQuantiles,
		c.launchElapsedSec,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Backend, cfg.Deployment).Set(1)
	c.targetNodes.Set(float64(cfg.TargetNodes))
	if cfg.TargetNodes == 0 {
		c.launchProgress.Set(1)
	}

	return c
}

// Gatherer returns the gatherer the collector is registered with.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.gatherer
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// ProcessSpawned records a successful spawn.
func (c *Collector) ProcessSpawned(h *process.Handle) {
	role := string(h.Role)
	c.spawnedTotal.WithLabelValues(role).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawned[h.Role]++
	c.active[h.Role]++
	c.activeProcesses.WithLabelValues(role).Set(float64(c.active[h.Role]))
	if total := c.totalActive(); total > c.peakActive {
		c.peakActive = total
	}
	if h.Role == process.RoleNode {
		c.nodeHandedOut()
	}
}

// SpawnFailed records a failed spawn. A failed node still consumes its
// identity, so it counts towards launch progress.
func (c *Collector) SpawnFailed(spec process.Spec, _ error) {
	c.spawnFailures.WithLabelValues(string(spec.Role)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[spec.Role]++
	if spec.Role == process.RoleNode {
		c.nodeHandedOut()
	}
}

// nodeHandedOut updates progress. Caller holds c.mu.
func (c *Collector) nodeHandedOut() {
	c.nodesOut++
	if c.target > 0 {
		c.launchProgress.Set(float64(c.nodesOut) / float64(c.target))
	}
	c.launchElapsedSec.Set(time.Since(c.startTime).Seconds())
}

// ProcessExited records an observed exit.
func (c *Collector) ProcessExited(h *process.Handle, exitCode int, uptime time.Duration) {
	role := string(h.Role)
	c.exitsTotal.WithLabelValues(role, exitCategory(exitCode)).Inc()
	c.uptimeSeconds.Observe(uptime.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.exitCodes[exitCode]++
	if c.active[h.Role] > 0 {
		c.active[h.Role]--
	}
	c.activeProcesses.WithLabelValues(role).Set(float64(c.active[h.Role]))

	c.uptimes.Add(uptime.Seconds(), 1)
	c.uptimeCount++
	for _, p := range uptimePercentiles {
		c.uptimeQuantiles.WithLabelValues(p.label).Set(c.uptimes.Quantile(p.q))
	}
}

func (c *Collector) totalActive() int {
	n := 0
	for _, v := range c.active {
		n += v
	}
	return n
}

// exitCategory classifies an exit code.
func exitCategory(code int) string {
	switch {
	case code == 0:
		return "success"
	case code > 128:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for the exit summary.
type Summary struct {
	Duration    time.Duration
	TargetNodes int
	Spawned     map[process.Role]int64
	Failures    map[process.Role]int64
	PeakActive  int
	ExitCodes   map[int]int64
	Exited      int
	UptimeP50   time.Duration
	UptimeP95   time.Duration
	UptimeP99   time.Duration
}

// GenerateSummary creates a summary of the run so far.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:    time.Since(c.startTime),
		TargetNodes: c.target,
		Spawned:     make(map[process.Role]int64),
		Failures:    make(map[process.Role]int64),
		PeakActive:  c.peakActive,
		ExitCodes:   make(map[int]int64),
		Exited:      c.uptimeCount,
	}
	for k, v := range c.spawned {
		s.Spawned[k] = v
	}
	for k, v := range c.failures {
		s.Failures[k] = v
	}
	for k, v := range c.exitCodes {
		s.ExitCodes[k] = v
	}
	if c.uptimeCount > 0 {
		s.UptimeP50 = seconds(c.uptimes.Quantile(0.50))
		s.UptimeP95 = seconds(c.uptimes.Quantile(0.95))
		s.UptimeP99 = seconds(c.uptimes.Quantile(0.99))
	}
	return s
}

// PeakActive returns the highest number of simultaneously running processes.
func (c *Collector) PeakActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
