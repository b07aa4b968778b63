// Package process defines what a tracker or node launch looks like: the
// argument and environment contract consumed by the experiment artifact, and
// the handle that tracks a spawned process.
package process

import (
	"sort"
	"strconv"
)

// Role identifies the part a process plays in the topology.
type Role string

const (
	RoleTracker Role = "tracker"
	RoleNode    Role = "node"
)

// Spec describes one process to launch. It is backend-neutral: the local
// supervisor turns it into an exec.Cmd, the docker backend into a container.
type Spec struct {
	Role     Role
	Identity int // 1-based for nodes, 0 for the tracker
	Port     int
	Binary   string
	Args     []string
	Dir      string
	Env      map[string]string
}

// EnvList renders Env as sorted KEY=VALUE pairs.
func (s Spec) EnvList() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}

// Command returns the binary followed by its arguments.
func (s Spec) Command() []string {
	return append([]string{s.Binary}, s.Args...)
}

// Name returns a short label such as "tracker" or "node-3".
func (s Spec) Name() string {
	if s.Role == RoleNode {
		return "node-" + strconv.Itoa(s.Identity)
	}
	return string(s.Role)
}
