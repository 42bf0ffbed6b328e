package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newViewCmd creates the view command.
func newViewCmd() *cobra.Command {
	var showEntries bool

	cmd := &cobra.Command{
		Use:   "view <workflow-id>",
		Short: "Inspect one workflow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			view, err := svc.ViewWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(view)
			}

			if st := view.State; st != nil {
				fmt.Printf("Workflow %s (work item %s)\n", st.WorkflowID, st.WorkID)
				fmt.Printf("  Current phase:    %s\n", st.CurrentPhase)
				fmt.Printf("  Completed phases: %s\n", strings.Join(st.CompletedPhases, ", "))
				if st.WorkType != "" {
					fmt.Printf("  Work type:        %s\n", st.WorkType)
				}
				if st.SpecPath != "" {
					fmt.Printf("  Spec:             %s (%s)\n", st.SpecPath, st.SpecID)
				}
				if st.BranchName != "" {
					fmt.Printf("  Branch:           %s\n", st.BranchName)
				}
				if st.EvaluationResult != "" {
					fmt.Printf("  Evaluation:       %s (retries %d)\n", st.EvaluationResult, st.RetryCount)
				}
				if st.PRURL != "" {
					fmt.Printf("  Pull request:     %s\n", st.PRURL)
				}
				if st.AwaitingApproval {
					fmt.Printf("  Awaiting approval: yes\n")
				}
				fmt.Printf("  Cost:             $%.4f (%d tokens)\n", st.TotalCostUSD, st.TotalTokens)
				if st.Error != "" {
					fmt.Printf("  Error:            %s (phase %s)\n", st.Error, st.ErrorPhase)
				}
			}

			if log := view.Log; log != nil {
				fmt.Printf("  Status:           %s\n", log.Status)
				if showEntries {
					fmt.Println("\nLog entries:")
					for _, entry := range log.Entries {
						fmt.Printf("  %s [%s] %s: %s\n",
							entry.Timestamp.Local().Format("15:04:05"),
							entry.Level, entry.Phase, entry.Message)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showEntries, "log", false, "include log entries")
	return cmd
}
