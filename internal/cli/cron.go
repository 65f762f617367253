package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/loom/internal/cron"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Inspect cron expressions",
}

var cronNextCmd = &cobra.Command{
	Use:   "next <expression>",
	Short: "Show the next firing time of a cron expression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		expr, err := cron.Parse(args[0])
		if err != nil {
			return err
		}

		next, err := expr.Next(time.Now())
		if err != nil {
			return fmt.Errorf("%q: %w", args[0], err)
		}

		fmt.Printf("%s  (%s)\n", next.Format(time.RFC3339), expr.Describe())
		return nil
	},
}

var cronDescribeCmd = &cobra.Command{
	Use:   "describe <expression>",
	Short: "Describe a cron expression in plain language",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res := cron.Evaluate(args[0], time.Now())
		if !res.Valid {
			return res.Err
		}

		fmt.Println(res.Description)
		return nil
	},
}

func init() {
	cronCmd.AddCommand(cronNextCmd)
	cronCmd.AddCommand(cronDescribeCmd)
	rootCmd.AddCommand(cronCmd)
}
