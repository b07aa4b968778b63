package docker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/process"
)

// Container labels. Together they are the deployment inventory.
const (
	LabelDeployment = "gsfd.deployment"
	LabelRun        = "gsfd.run"
	LabelRole       = "gsfd.role"
	LabelIdentity   = "gsfd.identity"
)

// Paths inside the containers. The artifact mount is read-only, so the
// processes run from a writable working directory.
const (
	artifactMount    = "/artifact"
	containerWorkDir = "/work"
)

// containerSpawner runs each process.Spec as a detached container.
type containerSpawner struct {
	engine      engine
	image       string
	deployment  string
	runID       string
	artifactDir string
	now         func() time.Time
}

// Spawn implements orchestrator.Spawner.
func (s *containerSpawner) Spawn(ctx context.Context, spec process.Spec) (*process.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := s.engine.Run(ctx, s.containerSpec(spec))
	if err != nil {
		if id != "" {
			// A created but unstarted container still carries the
			// deployment labels and would block the next start.
			if rmErr := s.engine.Remove(context.WithoutCancel(ctx), id); rmErr != nil {
				err = errors.Join(err, fmt.Errorf("remove container %s: %w", shortID(id), rmErr))
			}
		}
		return nil, err
	}
	return process.NewHandle(shortID(id), spec, s.now()), nil
}

func (s *containerSpawner) containerSpec(spec process.Spec) containerSpec {
	return containerSpec{
		Name:        s.deployment + "-" + spec.Name(),
		Image:       s.image,
		Cmd:         spec.Command(),
		Env:         spec.EnvList(),
		WorkingDir:  spec.Dir,
		ArtifactDir: s.artifactDir,
		Labels: map[string]string{
			LabelDeployment: s.deployment,
			LabelRun:        s.runID,
			LabelRole:       string(spec.Role),
			LabelIdentity:   strconv.Itoa(spec.Identity),
		},
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
