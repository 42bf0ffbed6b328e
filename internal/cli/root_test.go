package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/internal/worklog"
)

func TestRootCommandWiring(t *testing.T) {
	want := []string{"run", "resume", "cancel", "list", "view", "cost", "agents", "tools", "version"}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, have[name], "missing subcommand %s", name)
	}

	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("json"))
}

func TestRunCommandFlags(t *testing.T) {
	cmd := newRunCmd()
	for _, flag := range []string{"workflow", "workflow-id", "autonomy", "budget"} {
		require.NotNil(t, cmd.Flags().Lookup(flag), "missing flag %s", flag)
	}
	assert.Error(t, cmd.Args(cmd, nil), "run requires a work id")
	assert.NoError(t, cmd.Args(cmd, []string{"142"}))
}

func TestDurationOf(t *testing.T) {
	started := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	ended := started.Add(95 * time.Second)

	assert.Equal(t, "-", durationOf(&worklog.WorkflowLog{StartedAt: started}))
	assert.Equal(t, "1m35s", durationOf(&worklog.WorkflowLog{StartedAt: started, EndedAt: &ended}))
}
