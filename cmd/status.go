package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sdm-cli/internal/runlog"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List recent dataset runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		runs, err := runlog.Open(cfg.RunLog.Path)
		if err != nil {
			return err
		}
		defer runs.Close() //nolint:errcheck
		if err := runs.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := runs.List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRuns(os.Stdout, entries)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 50, "max number of runs to display")
	rootCmd.AddCommand(statusCmd)
}

// formatRuns writes a tabular list of run log entries to out.
func formatRuns(out io.Writer, entries []runlog.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDATASET\tSTATUS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t-------\t--------\t-----")

	for _, e := range entries {
		dur := ""
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		errMsg := e.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(e.ID),
			e.Dataset,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			errMsg,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
