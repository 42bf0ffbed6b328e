package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newAgentsCmd creates the agents command.
func newAgentsCmd() *cobra.Command {
	var tags []string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agent definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			agents := svc.Agents(tags)
			if jsonOut {
				return printJSON(agents)
			}
			if len(agents) == 0 {
				fmt.Println("No agent definitions found under .fractary/agents/.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMODEL\tTOOLS\tDESCRIPTION")
			for _, a := range agents {
				fmt.Fprintf(w, "%s\t%s:%s\t%d\t%s\n",
					a.Name, a.LLM.Provider, a.LLM.Model, len(a.Tools), a.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tag", nil, "filter by tag (repeatable, OR semantics)")
	return cmd
}

// newToolsCmd creates the tools command.
func newToolsCmd() *cobra.Command {
	var tags []string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List tool definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			tools := svc.Tools(tags)
			if jsonOut {
				return printJSON(tools)
			}
			if len(tools) == 0 {
				fmt.Println("No tool definitions found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tTAGS\tDESCRIPTION")
			for _, t := range tools {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					t.Name, t.Implementation.Type, strings.Join(t.Tags, ","), t.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tag", nil, "filter by tag (repeatable, OR semantics)")
	return cmd
}
