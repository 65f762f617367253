package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/loom/internal/database"
	"github.com/watzon/loom/internal/scheduler"
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Inspect and move schedule definitions",
}

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduleStore(func(ctx context.Context, store *scheduler.Store) error {
			scheds, err := store.List(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTEMPLATE\tCRON\tSTATUS\tENABLED\tRUNS\tNEXT RUN")
			for _, s := range scheds {
				next := "-"
				if s.NextRun != nil {
					next = s.NextRun.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
					s.ID, s.TemplateID, s.CronExpression, s.Status, s.Enabled, s.RunCount, next)
			}
			return w.Flush()
		})
	},
}

var schedulesExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export all schedules as a versioned JSON document",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduleStore(func(ctx context.Context, store *scheduler.Store) error {
			doc, err := store.Export(ctx)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}

			if len(args) == 0 {
				fmt.Println(string(data))
				return nil
			}
			return os.WriteFile(args[0], data, 0o644)
		})
	},
}

var schedulesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import schedules from a versioned JSON document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduleStore(func(ctx context.Context, store *scheduler.Store) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var doc scheduler.Document
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parsing schedules document: %w", err)
			}

			if err := store.Import(ctx, &doc); err != nil {
				return err
			}

			fmt.Printf("Imported %d schedules\n", len(doc.Schedules))
			return nil
		})
	},
}

func withScheduleStore(fn func(context.Context, *scheduler.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(context.Background(), scheduler.NewStore(db))
}

func init() {
	schedulesCmd.AddCommand(schedulesListCmd)
	schedulesCmd.AddCommand(schedulesExportCmd)
	schedulesCmd.AddCommand(schedulesImportCmd)
	rootCmd.AddCommand(schedulesCmd)
}
