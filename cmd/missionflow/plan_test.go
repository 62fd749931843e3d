package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/missionflow/workflow"
)

const samplePlan = `
mission_id: launch-42
steps:
  - id: search
    operation: SEARCH
    inputs:
      query:
        value: weather in Paris
    output_names: [report]
  - id: summarize
    operation: SUMMARIZE
    max_retries: 5
    dependencies:
      - source_step_id: search
        output_name: report
  - id: seeded
    operation: NOOP
    status: COMPLETED
    position: 10
`

func TestParsePlan_Defaults(t *testing.T) {
	plan, err := parsePlan([]byte(samplePlan), 3)
	require.NoError(t, err)

	assert.Equal(t, "launch-42", plan.MissionID)
	require.Len(t, plan.Steps, 3)

	search := plan.Steps[0]
	assert.Equal(t, workflow.StatusPending, search.Status)
	assert.Equal(t, 1, search.Position)
	assert.Equal(t, 3, search.MaxRetries)
	assert.Equal(t, "weather in Paris", search.Inputs["query"].Value)
	assert.Equal(t, []string{"report"}, search.OutputNames)

	summarize := plan.Steps[1]
	assert.Equal(t, 2, summarize.Position)
	assert.Equal(t, 5, summarize.MaxRetries)
	require.Len(t, summarize.Dependencies, 1)
	assert.Equal(t, "search", summarize.Dependencies[0].SourceStepID)

	seeded := plan.Steps[2]
	assert.Equal(t, workflow.StatusCompleted, seeded.Status)
	assert.Equal(t, 10, seeded.Position)
}

func TestParsePlan_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		plan    string
		wantErr string
	}{
		{"empty document", "", "plan is empty"},
		{"no steps", "mission_id: m1\n", "plan has no steps"},
		{"missing id", "steps:\n  - operation: SEARCH\n", "id is required"},
		{"missing operation", "steps:\n  - id: s1\n", "operation is required"},
		{
			"duplicate id",
			"steps:\n  - {id: s1, operation: A}\n  - {id: s1, operation: B}\n",
			"duplicate id",
		},
		{
			"unknown dependency",
			"steps:\n  - id: s1\n    operation: A\n    dependencies:\n      - {source_step_id: ghost, output_name: x}\n",
			"unknown dependency ghost",
		},
		{
			"incomplete dependency",
			"steps:\n  - id: s1\n    operation: A\n    dependencies:\n      - {source_step_id: s1}\n",
			"needs source_step_id and output_name",
		},
		{
			"runtime status",
			"steps:\n  - {id: s1, operation: A, status: RUNNING}\n",
			"cannot be declared in a plan",
		},
		{
			"negative retries",
			"steps:\n  - {id: s1, operation: A, max_retries: -1}\n",
			"max_retries must be >= 0",
		},
		{
			"unknown field",
			"steps:\n  - {id: s1, operation: A, retries: 2}\n",
			"failed to parse plan",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parsePlan([]byte(tt.plan), 3)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePlan), 0o600))

	plan, err := loadPlan(path, 1)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 3)

	_, err = loadPlan(filepath.Join(t.TempDir(), "missing.yaml"), 1)
	assert.ErrorContains(t, err, "failed to read plan file")
}
