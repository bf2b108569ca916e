package cli

import (
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/freaksdesign/PertScan/internal/db"
)

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the scan history schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSchemaDatabase(cmd.Context(), func(database *db.DB) error {
				applied, err := db.NewMigrator(database.DB).Up(cmd.Context())
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
				}
				for _, name := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
				}
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSchemaDatabase(cmd.Context(), func(database *db.DB) error {
				statuses, err := db.NewMigrator(database.DB).Status(cmd.Context())
				if err != nil {
					return err
				}

				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.Header("Migration", "Applied", "Applied At", "Modified")
				for _, s := range statuses {
					appliedAt := "-"
					if s.Applied {
						appliedAt = s.AppliedAt.Local().Format(time.RFC3339)
					}
					_ = table.Append([]string{
						s.Name,
						yesNo(s.Applied),
						appliedAt,
						yesNo(s.Modified),
					})
				}
				return table.Render()
			})
		},
	}

	var confirm bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Drop all scan history and re-apply migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return fmt.Errorf("reset deletes every saved scan; rerun with --yes to confirm")
			}
			return a.withSchemaDatabase(cmd.Context(), func(database *db.DB) error {
				applied, err := db.NewMigrator(database.DB).Reset(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema reset, %d migrations applied.\n", len(applied))
				return nil
			})
		},
	}
	reset.Flags().BoolVar(&confirm, "yes", false, "confirm dropping all data")

	cmd.AddCommand(up, status, reset)
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
