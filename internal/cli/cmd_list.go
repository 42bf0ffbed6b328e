package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fractary/faber/internal/worklog"
)

// newListCmd creates the list command.
func newListCmd() *cobra.Command {
	var (
		status string
		workID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			logs, err := svc.ListWorkflows(worklog.ListFilter{
				Status: status,
				WorkID: workID,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(logs)
			}
			if len(logs) == 0 {
				fmt.Println("No workflows found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WORKFLOW\tWORK\tSTATUS\tPHASE\tSTARTED\tDURATION")
			for _, wf := range logs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					wf.WorkflowID,
					wf.WorkID,
					wf.Status,
					wf.CurrentPhase,
					wf.StartedAt.Local().Format("2006-01-02 15:04"),
					durationOf(wf))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status: running, completed, failed, cancelled")
	cmd.Flags().StringVar(&workID, "work", "", "filter by work item id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (default 50)")
	return cmd
}

func durationOf(wf *worklog.WorkflowLog) string {
	if wf.EndedAt == nil {
		return "-"
	}
	return wf.EndedAt.Sub(wf.StartedAt).Round(time.Second).String()
}
