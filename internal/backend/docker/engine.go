package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// containerSpec describes one container to run.
type containerSpec struct {
	Name        string
	Image       string
	Cmd         []string
	Env         []string
	WorkingDir  string
	Labels      map[string]string
	ArtifactDir string // host directory mounted read-only at artifactMount
}

// containerInfo is the subset of a container listing the backend uses.
type containerInfo struct {
	ID     string
	Name   string
	State  string
	Labels map[string]string
}

// engine is the part of the Docker API the backend needs.
type engine interface {
	EnsureImage(ctx context.Context, ref string) error
	// Run creates and starts a container. When the container was created but
	// could not be started, Run returns its id along with the error.
	Run(ctx context.Context, spec containerSpec) (id string, err error)
	List(ctx context.Context, labels map[string]string) ([]containerInfo, error)
	Remove(ctx context.Context, id string) error
	Logs(ctx context.Context, id string, follow bool) (io.ReadCloser, error)
	CopyFrom(ctx context.Context, id, path string) (io.ReadCloser, error)
	Close() error
}

// clientEngine implements engine with the Docker SDK.
type clientEngine struct {
	cli *client.Client
}

// newClientEngine connects using the standard environment (DOCKER_HOST etc).
func newClientEngine() (*clientEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &clientEngine{cli: cli}, nil
}

// EnsureImage pulls ref unless it is already present locally.
func (e *clientEngine) EnsureImage(ctx context.Context, ref string) error {
	if _, err := e.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Run creates and starts a container on the host network.
func (e *clientEngine) Run(ctx context.Context, spec containerSpec) (string, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		Env:        spec.Env,
		WorkingDir: spec.WorkingDir,
		Labels:     spec.Labels,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "host",
		Mounts: []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   spec.ArtifactDir,
			Target:   artifactMount,
			ReadOnly: true,
		}},
	}

	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return resp.ID, fmt.Errorf("start container %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

// List returns every container, running or not, carrying all of labels.
func (e *clientEngine) List(ctx context.Context, labels map[string]string) ([]containerInfo, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}
	list, err := e.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]containerInfo, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		out = append(out, containerInfo{
			ID:     c.ID,
			Name:   name,
			State:  string(c.State),
			Labels: c.Labels,
		})
	}
	return out, nil
}

// Remove force-removes a container, killing it if it is running.
func (e *clientEngine) Remove(ctx context.Context, id string) error {
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

// Logs returns the multiplexed stdout/stderr stream of a container.
func (e *clientEngine) Logs(ctx context.Context, id string, follow bool) (io.ReadCloser, error) {
	return e.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
	})
}

// CopyFrom returns a tar stream of path inside the container.
func (e *clientEngine) CopyFrom(ctx context.Context, id, path string) (io.ReadCloser, error) {
	rc, _, err := e.cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, fmt.Errorf("copy %s from %s: %w", path, id, err)
	}
	return rc, nil
}

func (e *clientEngine) Close() error {
	return e.cli.Close()
}
