// Package artifact locates the runnable jar that both tracker and nodes run.
// Building it is someone else's job: the Builder only shells out to an opaque
// command and then checks that the expected file appeared.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/config"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/logging"
)

// ErrNotFound is returned when the artifact file does not exist.
var ErrNotFound = errors.New("artifact not found")

// Locator resolves the directory holding the artifact.
type Locator interface {
	Locate(ctx context.Context) (dir string, err error)
}

// Prebuilt expects the artifact to already exist in Dir.
type Prebuilt struct {
	Dir string
	Jar string
}

// Locate checks that Dir/Jar is a regular file and returns Dir as an
// absolute path.
func (p Prebuilt) Locate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir, err := filepath.Abs(p.Dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p.Dir, err)
	}

	path := filepath.Join(dir, p.Jar)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrNotFound, path)
	}
	return dir, nil
}

// Builder runs Command in ProjectDir, then locates the artifact like Prebuilt.
type Builder struct {
	Command    []string
	ProjectDir string
	Output     Prebuilt
	Logger     *slog.Logger
	Stdout     io.Writer // nil = os.Stdout
	Stderr     io.Writer // nil = os.Stderr
}

// Locate runs the build and then checks its output.
func (b Builder) Locate(ctx context.Context) (string, error) {
	if len(b.Command) == 0 {
		return "", errors.New("empty build command")
	}
	logger := b.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	cmd := exec.CommandContext(ctx, b.Command[0], b.Command[1:]...)
	cmd.Dir = b.ProjectDir
	cmd.Stdout = writerOr(b.Stdout, os.Stdout)
	cmd.Stderr = writerOr(b.Stderr, os.Stderr)

	logger.Info("artifact_build_starting",
		"command", strings.Join(b.Command, " "),
		"dir", b.ProjectDir,
	)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("build %q: %w", strings.Join(b.Command, " "), err)
	}
	logger.Info("artifact_build_complete")

	return b.Output.Locate(ctx)
}

// NewLocator returns a Builder when a build command is configured, a
// Prebuilt otherwise. A relative artifact directory is taken relative to the
// project directory when building.
func NewLocator(cfg *config.Config, logger *slog.Logger) Locator {
	out := Prebuilt{Dir: cfg.ArtifactDir, Jar: cfg.JarName}
	if len(cfg.BuildCommand) == 0 {
		return out
	}
	if !filepath.IsAbs(out.Dir) {
		out.Dir = filepath.Join(cfg.ProjectDir, out.Dir)
	}
	return Builder{
		Command:    cfg.BuildCommand,
		ProjectDir: cfg.ProjectDir,
		Output:     out,
		Logger:     logger,
	}
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}
