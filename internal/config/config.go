// Package config provides configuration management for go-gsfd-swarm.
package config

import (
	"net"
	"path/filepath"
	"strconv"
	"time"
)

// Backend names understood by the launcher.
const (
	BackendLocal  = "local"
	BackendDocker = "docker"
)

// Config holds all configuration options for one launcher invocation.
// It is built once at startup and treated as read-only afterwards.
type Config struct {
	// Experiment (injected into the tracker environment)
	Nodes       int           `mapstructure:"nodes"`
	Duration    time.Duration `mapstructure:"duration"`
	Experiments []string      `mapstructure:"experiments"`
	InitialSeed int64         `mapstructure:"initial_seed"`
	ReportPath  string        `mapstructure:"report_path"`

	// Deployment
	Backend    string `mapstructure:"backend"` // local, docker
	Deployment string `mapstructure:"deployment"`

	// Artifact
	ArtifactDir  string   `mapstructure:"artifact_dir"`
	JarName      string   `mapstructure:"jar_name"`
	JavaPath     string   `mapstructure:"java_path"`
	ProjectDir   string   `mapstructure:"project_dir"`
	BuildCommand []string `mapstructure:"-"` // empty = prebuilt; decoded by FromViper

	// Topology
	TrackerHost   string        `mapstructure:"tracker_host"`
	TrackerPort   int           `mapstructure:"tracker_port"`
	BasePort      int           `mapstructure:"base_port"`
	StartInterval time.Duration `mapstructure:"start_interval"`
	WaitForExit   bool          `mapstructure:"wait_for_exit"`

	// Docker backend
	DockerImage string `mapstructure:"docker_image"`
	ReportDest  string `mapstructure:"report_dest"`

	// Run registry
	StateDB string `mapstructure:"state_db"` // empty = disabled

	// Observability
	MetricsAddr string `mapstructure:"metrics_addr"` // empty = disabled
	MetricsDump string `mapstructure:"metrics_dump"`
	LogFormat   string `mapstructure:"log_format"` // json, text
	LogLevel    string `mapstructure:"log_level"`
	Verbose     bool   `mapstructure:"verbose"`
	TUIEnabled  bool   `mapstructure:"tui"`

	// Diagnostics
	SkipPreflight bool `mapstructure:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Experiment
		Nodes:       5,
		Duration:    10 * time.Minute,
		Experiments: []string{},
		InitialSeed: 0,
		ReportPath:  "report.json",

		// Deployment
		Backend:    BackendLocal,
		Deployment: "gsfd",

		// Artifact
		ArtifactDir:  "build/libs",
		JarName:      "gsfd.jar",
		JavaPath:     "java",
		ProjectDir:   ".",
		BuildCommand: nil,

		// Topology
		TrackerHost:   "127.0.0.1",
		TrackerPort:   10000,
		BasePort:      10000,
		StartInterval: 2 * time.Second,
		WaitForExit:   true,

		// Docker
		DockerImage: "eclipse-temurin:17-jre",
		ReportDest:  ".",

		// Observability
		MetricsAddr: "127.0.0.1:17191",
		LogFormat:   "text",
		LogLevel:    "info",
	}
}

// TrackerAddr returns the host:port nodes are told to connect to.
func (c *Config) TrackerAddr() string {
	return net.JoinHostPort(c.TrackerHost, strconv.Itoa(c.TrackerPort))
}

// JarPath returns the artifact path relative to the artifact directory.
func (c *Config) JarPath(dir string) string {
	return filepath.Join(dir, c.JarName)
}
