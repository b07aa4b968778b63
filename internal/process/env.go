package process

import (
	"strconv"
	"strings"
	"time"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/config"
)

// Environment variables read by the artifact.
const (
	EnvNodes       = "NODES"
	EnvDuration    = "DURATION"
	EnvExperiments = "EXPERIMENTS"
	EnvInitialSeed = "INITIAL_SEED"
	EnvReportPath  = "REPORT_PATH"

	EnvID   = "ID"
	EnvPort = "PORT"
)

// Target says how to run the artifact: which binary, which jar, and from
// which working directory. Backends fill it in differently (host paths for
// local, mount paths inside a container).
type Target struct {
	Binary string
	Jar    string
	Dir    string
}

// TargetFor returns the local Target for an artifact directory.
func TargetFor(cfg *config.Config, dir string) Target {
	return Target{Binary: cfg.JavaPath, Jar: cfg.JarName, Dir: dir}
}

// TrackerEnv returns the environment injected into the tracker.
func TrackerEnv(cfg *config.Config) map[string]string {
	return map[string]string{
		EnvNodes:       strconv.Itoa(cfg.Nodes),
		EnvDuration:    FormatDuration(cfg.Duration),
		EnvExperiments: strings.Join(cfg.Experiments, ","),
		EnvInitialSeed: strconv.FormatInt(cfg.InitialSeed, 10),
		EnvReportPath:  cfg.ReportPath,
	}
}

// NodeEnv returns the environment injected into node identity.
func NodeEnv(identity, basePort int) map[string]string {
	return map[string]string{
		EnvID:   strconv.Itoa(identity),
		EnvPort: strconv.Itoa(NodePort(identity, basePort)),
	}
}

// NodePort is the port node identity listens on.
func NodePort(identity, basePort int) int {
	return basePort + identity
}

// TrackerSpec builds the tracker launch: `<java> -jar <jar> tracker`.
func TrackerSpec(cfg *config.Config, t Target) Spec {
	return Spec{
		Role:   RoleTracker,
		Port:   cfg.TrackerPort,
		Binary: t.Binary,
		Args:   []string{"-jar", t.Jar, string(RoleTracker)},
		Dir:    t.Dir,
		Env:    TrackerEnv(cfg),
	}
}

// NodeSpec builds the launch for node identity:
// `<java> -jar <jar> node <tracker-host> <tracker-port>`.
func NodeSpec(cfg *config.Config, t Target, identity int) Spec {
	return Spec{
		Role:     RoleNode,
		Identity: identity,
		Port:     NodePort(identity, cfg.BasePort),
		Binary:   t.Binary,
		Args: []string{
			"-jar", t.Jar, string(RoleNode),
			cfg.TrackerHost, strconv.Itoa(cfg.TrackerPort),
		},
		Dir: t.Dir,
		Env: NodeEnv(identity, cfg.BasePort),
	}
}

var durationUnits = []struct {
	unit   time.Duration
	suffix string
}{
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
}

// FormatDuration renders d as an integer count of the largest unit that
// divides it exactly: 10m, 90s, 1500ms. Sub-millisecond parts are dropped
// and zero is "0s".
func FormatDuration(d time.Duration) string {
	d = d.Truncate(time.Millisecond)
	if d == 0 {
		return "0s"
	}
	for _, u := range durationUnits {
		if d%u.unit == 0 {
			return strconv.FormatInt(int64(d/u.unit), 10) + u.suffix
		}
	}
	return d.String()
}
