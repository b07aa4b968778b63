package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// errNoStateDB is returned by runs when no registry is configured.
var errNoStateDB = errors.New("no run registry configured (set --state-db)")

func (a *App) runsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run_id]",
		Short: "List recorded runs, or the processes of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if len(args) == 1 {
				return a.showRun(cmd, args[0])
			}
			return a.listRuns(cmd, limit)
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")
	return cmd
}

func (a *App) listRuns(cmd *cobra.Command, limit int) error {
	ctx := cmd.Context()
	s, err := a.openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()
	if s.store == nil {
		return errNoStateDB
	}

	runs, err := s.store.Runs(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.stdout, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tBACKEND\tDEPLOYMENT\tNODES\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.ID,
			r.Backend,
			r.Deployment,
			r.Nodes,
			r.StartedAt.Local().Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func (a *App) showRun(cmd *cobra.Command, id string) error {
	ctx := cmd.Context()
	s, err := a.openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()
	if s.store == nil {
		return errNoStateDB
	}

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	procs, err := s.store.Processes(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Run %s (%s/%s, %d nodes, started %s)\n\n",
		run.ID, run.Backend, run.Deployment, run.Nodes, run.StartedAt.Local().Format(time.RFC3339))

	w := tabwriter.NewWriter(a.stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ROLE\tID\tPORT\tHANDLE\tSTATUS\tERROR")
	for _, p := range procs {
		status := "running"
		switch {
		case p.Error != "":
			status = "failed"
		case p.Exited:
			status = fmt.Sprintf("exited (%d)", p.ExitCode)
		}
		errMsg := p.Error
		if len(errMsg) > 50 {
			errMsg = errMsg[:47] + "..."
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n", p.Role, p.Identity, p.Port, p.HandleID, status, errMsg)
	}
	return w.Flush()
}
