package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fractary/faber/internal/api"
)

// newResumeCmd creates the resume command.
func newResumeCmd() *cobra.Command {
	var (
		workflowPath string
		budget       float64
	)

	cmd := &cobra.Command{
		Use:   "resume <workflow-id>",
		Short: "Resume a checkpointed workflow",
		Long: `Resume a workflow from its last checkpoint. Execution restarts at the
first phase that has not completed; usage already spent counts against
the budget. A run resumed under a custom workflow must pass the same
--workflow document it started with.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := api.RunOptions{WorkflowPath: workflowPath}
			if cmd.Flags().Changed("budget") {
				opts.BudgetLimitUSD = &budget
			}

			result, runErr := svc.ResumeWorkflow(ctx, args[0], opts)
			if result != nil {
				printResult(result)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&workflowPath, "workflow", "", "custom workflow YAML the run was started with")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget limit in USD (0 = unlimited)")
	return cmd
}
