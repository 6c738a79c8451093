package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "smallest valid scenario"
steps:
  - op: save
assertions:
  - type: trace_count
    op: save
    count: 1
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, OpSave, s.Steps[0].Op)
	assert.Empty(t, s.Tenant)
}

func TestParseScenario_Expectations(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: expectations
description: "step expectations decode"
steps:
  - op: load
    where: { owner: ada }
    sort: balance
    desc: true
    limit: 2
    expect_ids: [a1]
  - op: count
    expect_count: 0
  - op: save
    expect_writes: 3
assertions:
  - type: trace_order
    ops: [load, count]
`))
	require.NoError(t, err)

	load := s.Steps[0]
	assert.Equal(t, map[string]any{"owner": "ada"}, load.Where)
	assert.Equal(t, "balance", load.Sort)
	assert.True(t, load.Desc)
	assert.Equal(t, int64(2), load.Limit)
	assert.Equal(t, []string{"a1"}, load.ExpectIDs)

	require.NotNil(t, s.Steps[1].ExpectCount)
	assert.Equal(t, int64(0), *s.Steps[1].ExpectCount)
	require.NotNil(t, s.Steps[2].ExpectWrites)
	assert.Equal(t, 3, *s.Steps[2].ExpectWrites)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\ndescription: y\nstep: []\n",
			wantErr: "field step not found",
		},
		{
			name:    "missing name",
			yaml:    "description: y\nsteps: [{op: save}]\nassertions: [{type: trace_count, op: save}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: x\nsteps: [{op: save}]\nassertions: [{type: trace_count, op: save}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: x\ndescription: y\nassertions: [{type: trace_count, op: save}]\n",
			wantErr: "steps list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: x\ndescription: y\nsteps: [{op: save}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown op",
			yaml:    "name: x\ndescription: y\nsteps: [{op: flush}]\nassertions: [{type: trace_count, op: save}]\n",
			wantErr: `unknown op "flush"`,
		},
		{
			name:    "set without id",
			yaml:    "name: x\ndescription: y\nsteps: [{op: set, fields: {a: 1}}]\nassertions: [{type: trace_count, op: set}]\n",
			wantErr: "id is required for set",
		},
		{
			name:    "set without fields",
			yaml:    "name: x\ndescription: y\nsteps: [{op: set, id: a1}]\nassertions: [{type: trace_count, op: set}]\n",
			wantErr: "fields are required for set",
		},
		{
			name:    "unknown filter",
			yaml:    "name: x\ndescription: y\nsteps: [{op: disable_filter, filter: audit}]\nassertions: [{type: trace_count, op: save}]\n",
			wantErr: `unknown filter "audit"`,
		},
		{
			name:    "fail_next_save without collection",
			yaml:    "name: x\ndescription: y\nsteps: [{op: fail_next_save}]\nassertions: [{type: trace_count, op: save}]\n",
			wantErr: "collection is required for fail_next_save",
		},
		{
			name:    "seed without id",
			yaml:    "name: x\ndescription: y\nseed: {accounts: [{owner: ada}]}\nsteps: [{op: save}]\nassertions: [{type: trace_count, op: save}]\n",
			wantErr: "seed.accounts[0]: id is required",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\ndescription: y\nsteps: [{op: save}]\nassertions: [{type: eventually}]\n",
			wantErr: `unknown assertion type "eventually"`,
		},
		{
			name:    "final_state without expect",
			yaml:    "name: x\ndescription: y\nsteps: [{op: save}]\nassertions: [{type: final_state, collection: accounts}]\n",
			wantErr: "expect is required for final_state",
		},
		{
			name:    "trace_order without ops",
			yaml:    "name: x\ndescription: y\nsteps: [{op: save}]\nassertions: [{type: trace_order}]\n",
			wantErr: "ops list is required",
		},
		{
			name:    "negative count",
			yaml:    "name: x\ndescription: y\nsteps: [{op: save}]\nassertions: [{type: trace_count, op: save, count: -1}]\n",
			wantErr: "count must be non-negative",
		},
		{
			name:    "journal_count without collection",
			yaml:    "name: x\ndescription: y\nsteps: [{op: save}]\nassertions: [{type: journal_count}]\n",
			wantErr: "collection is required for journal_count",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarios(t *testing.T) {
	scenarios, err := LoadScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	var names []string
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"dirty_checking", "save_failure", "transactions"}, names)
}

func TestLoadScenarios_Errors(t *testing.T) {
	t.Run("empty dir", func(t *testing.T) {
		_, err := LoadScenarios(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no scenario files found")
	})

	t.Run("invalid file names the file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: x\n"), 0o644))
		_, err := LoadScenarios(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad.yaml")
	})
}
