package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/internal/config"
	"github.com/fractary/faber/internal/errors"
)

func compileCfg() *config.Config {
	cfg := config.Default()
	cfg.MaxRetries = 3
	return cfg
}

func TestCompileResolvesReferences(t *testing.T) {
	doc := &Document{
		Name:    "hotfix",
		Version: "1.0",
		Models: map[string]string{
			"fast":    "anthropic:claude-3-5-haiku-20241022",
			"capable": "anthropic:claude-sonnet-4-20250514",
		},
		Config: map[string]any{
			"max_fix_attempts": float64(2),
			"deploy": map[string]any{
				"environment": "staging",
			},
		},
		Phases: []DocumentPhase{
			{
				Name:    "diagnose",
				Agent:   "debugger",
				Model:   "$models.capable",
				Outputs: []string{"root_cause", "fix_plan"},
			},
			{
				Name:  "fix",
				Agent: "fixer",
				Model: "$models.fast",
				Inputs: map[string]string{
					"plan":        "$diagnose.fix_plan",
					"environment": "$config.deploy.environment",
					"note":        "plain literal",
				},
				OnFailure: &DocumentRetry{
					RetryPhase: "diagnose",
					MaxRetries: "$config.max_fix_attempts",
				},
			},
		},
	}

	graph, err := Compile(doc, compileCfg())
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 2)

	diagnose := graph.Nodes[0]
	assert.Equal(t, "anthropic:claude-sonnet-4-20250514", diagnose.Model)
	assert.Equal(t, 50, diagnose.MaxIterations)

	fix := graph.Nodes[1]
	assert.Equal(t, "anthropic:claude-3-5-haiku-20241022", fix.Model)
	assert.Equal(t, "$diagnose.fix_plan", fix.Inputs["plan"], "phase refs stay for runtime resolution")
	assert.Equal(t, "staging", fix.Inputs["environment"])
	assert.Equal(t, "plain literal", fix.Inputs["note"])
	require.NotNil(t, fix.OnFailure)
	assert.Equal(t, "diagnose", fix.OnFailure.RetryPhase)
	assert.Equal(t, 2, fix.OnFailure.MaxRetries)
}

func TestCompileUnresolvedReferencesFail(t *testing.T) {
	base := func() *Document {
		return &Document{
			Name:   "wf",
			Models: map[string]string{"fast": "anthropic:claude-3-5-haiku-20241022"},
			Phases: []DocumentPhase{
				{Name: "one", Agent: "a", Outputs: []string{"report"}},
				{Name: "two", Agent: "b"},
			},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Document)
	}{
		{"unknown model", func(d *Document) { d.Phases[1].Model = "$models.huge" }},
		{"unknown config key", func(d *Document) {
			d.Phases[1].Inputs = map[string]string{"x": "$config.nope"}
		}},
		{"undeclared output", func(d *Document) {
			d.Phases[1].Inputs = map[string]string{"x": "$one.missing"}
		}},
		{"later phase reference", func(d *Document) {
			d.Phases[0].Inputs = map[string]string{"x": "$two.report"}
		}},
		{"self reference", func(d *Document) {
			d.Phases[0].Inputs = map[string]string{"x": "$one.report"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := base()
			tc.mutate(doc)
			_, err := Compile(doc, compileCfg())
			require.Error(t, err)
			fe := errors.AsFaberError(err)
			require.NotNil(t, fe)
			assert.Equal(t, errors.CodeWorkflowCompile, fe.Code)
		})
	}
}

func TestCompileStructuralValidation(t *testing.T) {
	cfg := compileCfg()

	_, err := Compile(&Document{Phases: []DocumentPhase{{Name: "a", Agent: "x"}}}, cfg)
	require.Error(t, err, "name is required")

	_, err = Compile(&Document{Name: "wf"}, cfg)
	require.Error(t, err, "phases are required")

	_, err = Compile(&Document{Name: "wf", Phases: []DocumentPhase{{Agent: "x"}}}, cfg)
	require.Error(t, err, "phase name is required")

	_, err = Compile(&Document{Name: "wf", Phases: []DocumentPhase{
		{Name: "a", Agent: "x"},
		{Name: "a", Agent: "y"},
	}}, cfg)
	require.Error(t, err, "duplicate phase names rejected")

	_, err = Compile(&Document{Name: "wf", Phases: []DocumentPhase{{Name: "a"}}}, cfg)
	require.Error(t, err, "agent or steps required")

	_, err = Compile(&Document{Name: "wf", Phases: []DocumentPhase{
		{Name: "a", Agent: "x", Steps: []string{"tool"}},
	}}, cfg)
	require.Error(t, err, "agent and steps are mutually exclusive")
}

func TestCompileRetryValidation(t *testing.T) {
	cfg := compileCfg()

	// Retry target must be the phase itself or earlier.
	_, err := Compile(&Document{Name: "wf", Phases: []DocumentPhase{
		{Name: "a", Agent: "x", OnFailure: &DocumentRetry{RetryPhase: "b"}},
		{Name: "b", Agent: "y"},
	}}, cfg)
	require.Error(t, err)

	// Omitted max_retries falls back to the configured default.
	graph, err := Compile(&Document{Name: "wf", Phases: []DocumentPhase{
		{Name: "a", Agent: "x"},
		{Name: "b", Agent: "y", OnFailure: &DocumentRetry{RetryPhase: "a"}},
	}}, cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.MaxRetries, graph.Nodes[1].OnFailure.MaxRetries)

	// Negative max_retries is rejected.
	_, err = Compile(&Document{Name: "wf", Phases: []DocumentPhase{
		{Name: "a", Agent: "x", OnFailure: &DocumentRetry{RetryPhase: "a", MaxRetries: -1}},
	}}, cfg)
	require.Error(t, err)
}

func TestLoadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hotfix.yaml")
	content := `
name: hotfix
version: "1.0"
models:
  fast: anthropic:claude-3-5-haiku-20241022
phases:
  - name: diagnose
    agent: debugger
    model: $models.fast
    outputs: [root_cause]
  - name: fix
    agent: fixer
    inputs:
      cause: $diagnose.root_cause
    human_approval: true
triggers:
  - event: issue.labeled
    filter: "label == 'hotfix'"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	doc, err := LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "hotfix", doc.Name)
	require.Len(t, doc.Phases, 2)
	assert.True(t, doc.Phases[1].HumanApproval)
	require.Len(t, doc.Triggers, 1)

	graph, err := Compile(doc, compileCfg())
	require.NoError(t, err)
	assert.Equal(t, "anthropic:claude-3-5-haiku-20241022", graph.Nodes[0].Model)
	assert.True(t, graph.Nodes[1].HumanApproval)

	_, err = LoadDocument(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
}
