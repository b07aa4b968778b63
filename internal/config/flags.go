package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. GSFD_NODES.
const EnvPrefix = "GSFD"

// flagBinding ties a command-line flag to its viper key.
type flagBinding struct {
	flag string
	key  string
}

var bindings = []flagBinding{
	{"nodes", "nodes"},
	{"duration", "duration"},
	{"experiments", "experiments"},
	{"seed", "initial_seed"},
	{"report-path", "report_path"},
	{"backend", "backend"},
	{"deployment", "deployment"},
	{"artifact-dir", "artifact_dir"},
	{"jar", "jar_name"},
	{"java", "java_path"},
	{"project-dir", "project_dir"},
	{"build-cmd", "build_command"},
	{"tracker-host", "tracker_host"},
	{"tracker-port", "tracker_port"},
	{"base-port", "base_port"},
	{"start-interval", "start_interval"},
	{"wait", "wait_for_exit"},
	{"docker-image", "docker_image"},
	{"report-dest", "report_dest"},
	{"state-db", "state_db"},
	{"metrics", "metrics_addr"},
	{"metrics-dump", "metrics_dump"},
	{"log-format", "log_format"},
	{"log-level", "log_level"},
	{"verbose", "verbose"},
	{"tui", "tui"},
	{"skip-preflight", "skip_preflight"},
}

// RegisterFlags adds every launcher flag to fs with defaults from DefaultConfig.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()

	// Experiment
	fs.Int("nodes", d.Nodes, "Number of node processes to launch (0 = tracker only)")
	fs.Duration("duration", d.Duration, "Experiment duration passed to the tracker")
	fs.StringSlice("experiments", d.Experiments, "Experiment identifiers (comma-separated)")
	fs.Int64("seed", d.InitialSeed, "Initial random seed passed to the tracker")
	fs.String("report-path", d.ReportPath, "Report path the tracker writes to")

	// Deployment
	fs.String("backend", d.Backend, "Execution backend: local, docker")
	fs.String("deployment", d.Deployment, "Deployment name used to label containers")

	// Artifact
	fs.String("artifact-dir", d.ArtifactDir, "Directory containing the built artifact")
	fs.String("jar", d.JarName, "Artifact file name inside the artifact directory")
	fs.String("java", d.JavaPath, "Java executable used to run the artifact")
	fs.String("project-dir", d.ProjectDir, "Project directory the build command runs in")
	fs.String("build-cmd", strings.Join(d.BuildCommand, " "), "Build command run before start, split on whitespace (empty = use prebuilt artifact)")

	// Topology
	fs.String("tracker-host", d.TrackerHost, "Tracker host passed to nodes")
	fs.Int("tracker-port", d.TrackerPort, "Tracker port passed to nodes")
	fs.Int("base-port", d.BasePort, "Node N listens on base-port + N")
	fs.Duration("start-interval", d.StartInterval, "Delay between node launches")
	fs.Bool("wait", d.WaitForExit, "Keep running until local processes exit")

	// Docker
	fs.String("docker-image", d.DockerImage, "Container image with a Java runtime")
	fs.String("report-dest", d.ReportDest, "Local directory download-report writes into")

	// Registry / observability
	fs.String("state-db", d.StateDB, "SQLite run registry path (empty = disabled)")
	fs.String("metrics", d.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.String("metrics-dump", d.MetricsDump, "Write a metrics snapshot to this file on exit")
	fs.String("log-format", d.LogFormat, "Log format: json, text")
	fs.String("log-level", d.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolP("verbose", "v", d.Verbose, "Verbose output (debug logging)")
	fs.Bool("tui", d.TUIEnabled, "Show the live launch dashboard")
	fs.Bool("skip-preflight", d.SkipPreflight, "Skip preflight checks")
}

// BindFlags binds the registered flags to v and enables GSFD_* environment overrides.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	for _, b := range bindings {
		f := fs.Lookup(b.flag)
		if f == nil {
			return fmt.Errorf("flag %q not registered", b.flag)
		}
		if err := v.BindPFlag(b.key, f); err != nil {
			return fmt.Errorf("bind %s: %w", b.flag, err)
		}
	}
	return nil
}

// FromViper builds a Config from v. Values come from flags, GSFD_* variables
// and an optional config file, in viper's usual precedence.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Experiments = splitList(cfg.Experiments)
	cfg.Backend = strings.ToLower(cfg.Backend)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	// A string is split on whitespace whether it came from --build-cmd,
	// GSFD_BUILD_COMMAND or a config file; a config-file list is kept as is.
	cfg.BuildCommand = dropEmpty(v.GetStringSlice("build_command"))

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList flattens entries that still carry commas, which happens when a
// list arrives through an environment variable or a scalar config value.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func dropEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
