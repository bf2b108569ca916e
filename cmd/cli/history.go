package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/freaksdesign/PertScan/internal/db"
	"github.com/freaksdesign/PertScan/internal/errors"
)

func newHistoryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect saved scans",
		Long:  `History lists, shows and deletes scans saved with --save or by the API service.`,
	}
	cmd.AddCommand(
		newHistoryListCommand(a),
		newHistoryShowCommand(a),
		newHistoryDeleteCommand(a),
	)
	return cmd
}

func newHistoryListCommand(a *app) *cobra.Command {
	var (
		filters db.ScanFilters
		limit   int
		page    int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List saved scans, newest first",
		Example: "  pertscan history list --target 10.0.0.5 --status completed --limit 20",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if page < 1 {
				return errors.NewConfigFieldError(errors.CodeValidation, "page must be at least 1", "page", page)
			}
			if limit < 1 || limit > db.MaxListLimit {
				return errors.NewConfigFieldError(errors.CodeValidation,
					fmt.Sprintf("limit must be between 1 and %d", db.MaxListLimit), "limit", limit)
			}

			return a.withDatabase(cmd.Context(), func(database *db.DB) error {
				store := db.NewScanStore(database, db.WithStoreLogger(a.logger))
				records, total, err := store.ListScans(cmd.Context(), filters, (page-1)*limit, limit)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No saved scans found.")
					return nil
				}
				renderScanRecords(out, records)
				fmt.Fprintf(out, "\nShowing %d of %d scans (page %d)\n", len(records), total, page)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&filters.Target, "target", "", "only scans of this target")
	flags.StringVar(&filters.Status, "status", "", "only scans with this status (completed, canceled, failed)")
	flags.IntVar(&limit, "limit", db.DefaultListLimit, "scans per page")
	flags.IntVar(&page, "page", 1, "page number")
	return cmd
}

func newHistoryShowCommand(a *app) *cobra.Command {
	var openOnly bool

	cmd := &cobra.Command{
		Use:   "show <scan-id>",
		Short: "Show one saved scan with its port results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScanID(args[0])
			if err != nil {
				return err
			}

			return a.withDatabase(cmd.Context(), func(database *db.DB) error {
				rec, err := db.NewScanStore(database, db.WithStoreLogger(a.logger)).GetScan(cmd.Context(), id)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Scan:     %s\n", rec.ID)
				fmt.Fprintf(out, "Target:   %s\n", rec.Target)
				fmt.Fprintf(out, "Ports:    %s\n", rec.Request().Ports)
				fmt.Fprintf(out, "Status:   %s\n", rec.Status)
				fmt.Fprintf(out, "Started:  %s\n", rec.StartedAt.Format(time.RFC3339))
				fmt.Fprintf(out, "Duration: %s\n", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond))
				if rec.ErrorMessage != nil {
					fmt.Fprintf(out, "Error:    %s\n", *rec.ErrorMessage)
					return nil
				}
				fmt.Fprintf(out, "Open:     %d of %d\n\n", rec.OpenCount, rec.PortCount)

				results := rec.ResultSet()
				if openOnly {
					results = results.OpenPorts()
				}
				renderResults(out, results)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&openOnly, "open-only", false, "only show open ports")
	return cmd
}

func newHistoryDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <scan-id>",
		Short: "Delete a saved scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScanID(args[0])
			if err != nil {
				return err
			}

			return a.withDatabase(cmd.Context(), func(database *db.DB) error {
				if err := db.NewScanStore(database, db.WithStoreLogger(a.logger)).DeleteScan(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted scan %s\n", id)
				return nil
			})
		},
	}
}

func parseScanID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.NewConfigFieldError(errors.CodeValidation, "invalid scan id", "id", s)
	}
	return id, nil
}

func renderScanRecords(w io.Writer, records []*db.ScanRecord) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Target", "Ports", "Status", "Open", "Started")
	for _, rec := range records {
		_ = table.Append([]string{
			rec.ID.String(),
			rec.Target,
			rec.Request().Ports.String(),
			rec.Status,
			strconv.Itoa(rec.OpenCount) + "/" + strconv.Itoa(rec.PortCount),
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	_ = table.Render()
}
