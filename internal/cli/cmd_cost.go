package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// newCostCmd creates the cost command.
func newCostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cost <workflow-id>",
		Short: "Show the cost breakdown of a workflow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			summary, err := svc.CostSummary(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(summary)
			}

			fmt.Printf("Cost summary for %s\n", args[0])
			if v, ok := summary["total_cost_usd"].(float64); ok {
				fmt.Printf("  Total: $%.4f\n", v)
			}
			if v, ok := summary["total_tokens"].(float64); ok {
				fmt.Printf("  Tokens: %d\n", int64(v))
			}
			printBreakdown("By phase", summary["by_phase"])
			printBreakdown("By model", summary["by_model"])
			return nil
		},
	}
}

// printBreakdown renders one cost map from a persisted summary. JSON
// round-tripping makes the values float64 under map[string]any.
func printBreakdown(title string, v any) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("  %s:\n", title)
	for _, k := range keys {
		if cost, ok := m[k].(float64); ok {
			fmt.Printf("    %-24s $%.4f\n", k, cost)
		}
	}
}
