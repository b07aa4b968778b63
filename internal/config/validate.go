package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error joining every problem found.
func Validate(cfg *Config) error {
	var errs []error

	// Zero nodes is a tracker-only deployment and is allowed
	if cfg.Nodes < 0 {
		errs = append(errs, ValidationError{
			Field:   "nodes",
			Message: fmt.Sprintf("must be >= 0 (got %d)", cfg.Nodes),
		})
	}

	if cfg.Duration < 0 {
		errs = append(errs, ValidationError{
			Field:   "duration",
			Message: "must not be negative",
		})
	}

	for i, e := range cfg.Experiments {
		if e == "" || strings.ContainsAny(e, ", \t") {
			errs = append(errs, ValidationError{
				Field:   "experiments",
				Message: fmt.Sprintf("entry %d (%q) must be non-empty and contain no commas or spaces", i, e),
			})
		}
	}

	if cfg.ReportPath == "" {
		errs = append(errs, ValidationError{
			Field:   "report_path",
			Message: "is required",
		})
	}

	validBackends := map[string]bool{BackendLocal: true, BackendDocker: true}
	if !validBackends[cfg.Backend] {
		errs = append(errs, ValidationError{
			Field:   "backend",
			Message: fmt.Sprintf("must be 'local' or 'docker' (got %q)", cfg.Backend),
		})
	}

	if cfg.Deployment == "" {
		errs = append(errs, ValidationError{
			Field:   "deployment",
			Message: "is required",
		})
	}

	if cfg.JarName == "" {
		errs = append(errs, ValidationError{
			Field:   "jar_name",
			Message: "is required",
		})
	}

	if cfg.TrackerHost == "" {
		errs = append(errs, ValidationError{
			Field:   "tracker_host",
			Message: "is required",
		})
	}

	if cfg.TrackerPort < 1 || cfg.TrackerPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "tracker_port",
			Message: fmt.Sprintf("must be in 1-65535 (got %d)", cfg.TrackerPort),
		})
	}

	// Highest node port is base_port + nodes
	if cfg.BasePort < 1 || cfg.BasePort+cfg.Nodes > 65535 {
		errs = append(errs, ValidationError{
			Field:   "base_port",
			Message: fmt.Sprintf("base_port + nodes must stay within 1-65535 (got %d + %d)", cfg.BasePort, cfg.Nodes),
		})
	}

	if cfg.StartInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "start_interval",
			Message: "must be positive",
		})
	}

	if cfg.Backend == BackendDocker && cfg.DockerImage == "" {
		errs = append(errs, ValidationError{
			Field:   "docker_image",
			Message: "is required for the docker backend",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
