package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCancelCmd creates the cancel command.
func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <workflow-id>",
		Short: "Cancel a workflow running in this process",
		Long: `Cancel signals a running workflow to stop at its next cooperative
point: between phases, between agent iterations, or while waiting on an
approval. The run checkpoints before exiting so it can be resumed.

A workflow started by another process is cancelled by interrupting that
process (Ctrl-C); this command only reaches runs inside the current one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if !svc.CancelWorkflow(args[0]) {
				return fmt.Errorf("no active run with id %s in this process", args[0])
			}
			fmt.Printf("Cancellation requested for %s\n", args[0])
			return nil
		},
	}
}
