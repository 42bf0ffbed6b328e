package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fractary/faber/internal/api"
	"github.com/fractary/faber/internal/engine"
)

// newRunCmd creates the run command.
func newRunCmd() *cobra.Command {
	var (
		workflowPath string
		workflowID   string
		autonomy     string
		budget       float64
	)

	cmd := &cobra.Command{
		Use:   "run <work-id>",
		Short: "Run a workflow for a work item",
		Long: `Run the FABER pipeline (or a custom workflow) for a work item and
block until it completes, fails, or is cancelled. Ctrl-C requests a
cooperative cancellation; the run checkpoints so it can be resumed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if autonomy != "" {
				os.Setenv("FABER_AUTONOMY", autonomy)
			}
			svc, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := api.RunOptions{WorkflowPath: workflowPath, WorkflowID: workflowID}
			if cmd.Flags().Changed("budget") {
				opts.BudgetLimitUSD = &budget
			}

			result, runErr := svc.RunWorkflow(ctx, args[0], opts)
			if result != nil {
				printResult(result)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&workflowPath, "workflow", "", "custom workflow YAML to run instead of the default pipeline")
	cmd.Flags().StringVar(&workflowID, "workflow-id", "", "pin the workflow id (default: generated)")
	cmd.Flags().StringVar(&autonomy, "autonomy", "", "autonomy preset: assisted, guarded, autonomous")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget limit in USD for this run (0 = unlimited)")
	return cmd
}

// printResult renders a terminal workflow result.
func printResult(result *engine.Result) {
	if jsonOut {
		printJSON(result)
		return
	}

	fmt.Printf("Workflow %s: %s\n", result.WorkflowID, result.Status)
	if len(result.CompletedPhases) > 0 {
		fmt.Printf("  Phases:  %v\n", result.CompletedPhases)
	}
	if result.RetryCount > 0 {
		fmt.Printf("  Retries: %d\n", result.RetryCount)
	}
	if result.EvaluationResult != "" {
		fmt.Printf("  Evaluation: %s\n", result.EvaluationResult)
	}
	if result.BranchName != "" {
		fmt.Printf("  Branch:  %s\n", result.BranchName)
	}
	if result.PRURL != "" {
		fmt.Printf("  PR:      %s\n", result.PRURL)
	}
	fmt.Printf("  Cost:    $%.4f (%d tokens)\n", result.TotalCostUSD, result.TotalTokens)
	if result.Error != "" {
		fmt.Printf("  Error:   %s (phase %s)\n", result.Error, result.ErrorPhase)
	}
	if result.Status != engine.StatusCompleted {
		fmt.Printf("\nResume with: faber resume %s\n", result.WorkflowID)
	}
}
