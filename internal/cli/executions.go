package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/loom/internal/database"
	"github.com/watzon/loom/internal/state"
	"github.com/watzon/loom/internal/workflow"
)

var executionsStatus string

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect execution runs",
}

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List execution runs, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStateStore(func(ctx context.Context, store *state.Store) error {
			execs, err := store.ListExecutions(ctx, workflow.Status(executionsStatus), 50, 0)
			if err != nil {
				return err
			}
			printExecutions(execs)
			return nil
		})
	},
}

var executionsRecoverableCmd = &cobra.Command{
	Use:   "recoverable",
	Short: "List runs orphaned by an unclean shutdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStateStore(func(ctx context.Context, store *state.Store) error {
			execs, err := store.ListRecoverable(ctx)
			if err != nil {
				return err
			}
			printExecutions(execs)
			return nil
		})
	},
}

func printExecutions(execs []*state.ExecutionState) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTEMPLATE\tSTATUS\tPROGRESS\tSTARTED")
	for _, e := range execs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
			e.ID, e.TemplateID, e.Status,
			len(e.CompletedNodes), e.TotalNodes,
			e.StartedAt.Format(time.RFC3339))
	}
	w.Flush()
}

func withStateStore(fn func(context.Context, *state.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(context.Background(), state.NewStore(db, cfg.Engine.MaxCheckpoints))
}

func init() {
	executionsListCmd.Flags().StringVar(&executionsStatus, "status", "", "filter by status (running, paused, completed, failed, cancelled)")
	executionsCmd.AddCommand(executionsListCmd)
	executionsCmd.AddCommand(executionsRecoverableCmd)
	rootCmd.AddCommand(executionsCmd)
}
