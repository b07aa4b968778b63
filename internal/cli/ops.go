package cli

import (
	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/controller"
)

// operationCommand builds the command for a lifecycle operation other than
// start.
func (a *App) operationCommand(op controller.Operation, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(op),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOperation(cmd, op)
		},
	}
}

func (a *App) runOperation(cmd *cobra.Command, op controller.Operation) error {
	ctx := cmd.Context()
	s, err := a.openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	b, err := a.backends.New(s.cfg.Backend, s.deps(a))
	if err != nil {
		return err
	}
	defer closeBackend(b, s.logger)

	ctrl := controller.New(controller.Config{
		Backend: b,
		Logger:  s.logger,
		Stderr:  a.stderr,
	})
	return ctrl.Run(ctx, op)
}
