// Package cli is the go-gsfd-swarm command tree. Each lifecycle command
// builds one backend from the configuration and hands it to the controller.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/backend"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/backend/docker"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/backend/local"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/config"
	"github.com/randomizedcoder/go-gsfd-swarm/internal/controller"
)

// App holds what every command shares.
type App struct {
	version  string
	stdout   io.Writer
	stderr   io.Writer
	v        *viper.Viper
	cfgFile  string
	backends *backend.Registry
}

// NewApp creates an App with the local and docker backends registered.
func NewApp(version string, stdout, stderr io.Writer) *App {
	reg := backend.NewRegistry()
	reg.Register(local.Name, local.Factory)
	reg.Register(docker.Name, docker.Factory)
	return &App{
		version:  version,
		stdout:   stdout,
		stderr:   stderr,
		v:        viper.New(),
		backends: reg,
	}
}

// RootCommand builds the command tree.
func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "go-gsfd-swarm",
		Short: "Launch a gsfd tracker and its nodes",
		Long: `go-gsfd-swarm deploys one tracker and N nodes of the gsfd experiment
artifact, starting the nodes one per interval so the tracker is not hit by
all of them at once.

Common workflows:

  Run an experiment locally and wait for it:
    go-gsfd-swarm start --nodes 3 --duration 10m --experiments e1 --seed 42

  Run it in containers, then collect the report:
    go-gsfd-swarm start --backend docker --deployment nightly
    go-gsfd-swarm download-report --backend docker --deployment nightly
    go-gsfd-swarm shutdown --backend docker --deployment nightly

Configuration:
  Every flag can also come from a config file (--config) or a GSFD_*
  environment variable, e.g. GSFD_NODES=8.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.readConfigFile()
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "Config file (yaml, json or toml)")
	config.RegisterFlags(root.PersistentFlags())
	if err := config.BindFlags(a.v, root.PersistentFlags()); err != nil {
		// Only reachable if the binding table and the flags disagree.
		panic(err)
	}

	root.AddCommand(
		a.startCommand(),
		a.operationCommand(controller.OpShutdown, "Stop every process of the deployment"),
		a.operationCommand(controller.OpDownloadReport, "Copy the tracker's report to this machine"),
		a.operationCommand(controller.OpWatchTrackerLogs, "Follow the tracker's output"),
		a.runsCommand(),
		a.versionCommand(),
	)
	return root
}

func (a *App) readConfigFile() error {
	if a.cfgFile == "" {
		return nil
	}
	a.v.SetConfigFile(a.cfgFile)
	if err := a.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", a.cfgFile, err)
	}
	return nil
}

// Execute runs the command line args and returns the process exit status.
func (a *App) Execute(ctx context.Context, args []string) int {
	root := a.RootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, backend.ErrUnsupported) {
		// Unsupported operations already printed their notice.
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return controller.ExitCode(err)
}
