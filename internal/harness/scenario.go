package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario defines a unit-of-work scenario: seed data, the steps to drive
// through a uow.Context and the assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Tenant enables the tenant filter scoped to this tenant.
	Tenant string `yaml:"tenant,omitempty"`

	// Actor is stamped on attached accounts by the audit interceptor.
	// Defaults to "harness".
	Actor string `yaml:"actor,omitempty"`

	// Seed holds documents written to the store before the run, keyed by
	// collection. Every document needs an id.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Steps run in order against one uow.Context.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and store contents.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation on the unit of work.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// ID selects the tracked account for set.
	ID string `yaml:"id,omitempty"`

	// Fields are account fields for attach and set, by JSON name.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Where holds equality conditions for load and count.
	Where map[string]any `yaml:"where,omitempty"`

	// Sort orders load results by this field, descending when Desc is set.
	Sort string `yaml:"sort,omitempty"`
	Desc bool   `yaml:"desc,omitempty"`

	// Limit caps load results.
	Limit int64 `yaml:"limit,omitempty"`

	// Filter names the filter for disable_filter.
	Filter string `yaml:"filter,omitempty"`

	// Collection names the collection for fail_next_save.
	Collection string `yaml:"collection,omitempty"`

	// ExpectError makes the step pass only if it fails with a message
	// containing this text.
	ExpectError string `yaml:"expect_error,omitempty"`

	// ExpectWrites checks the write count of save and commit.
	ExpectWrites *int `yaml:"expect_writes,omitempty"`

	// ExpectIDs checks the ids returned by load, in order.
	ExpectIDs []string `yaml:"expect_ids,omitempty"`

	// ExpectCount checks the result of count.
	ExpectCount *int64 `yaml:"expect_count,omitempty"`
}

// Step operations.
const (
	OpAttach        = "attach"
	OpLoad          = "load"
	OpCount         = "count"
	OpSet           = "set"
	OpSave          = "save"
	OpBegin         = "begin"
	OpCommit        = "commit"
	OpAbort         = "abort"
	OpDisableFilter = "disable_filter"
	OpRestoreFilter = "restore_filter"
	OpReset         = "reset"
	OpFailNextSave  = "fail_next_save"
)

var validOps = []string{
	OpAttach, OpLoad, OpCount, OpSet, OpSave, OpBegin, OpCommit, OpAbort,
	OpDisableFilter, OpRestoreFilter, OpReset, OpFailNextSave,
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Op is the step operation (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// IDs must all appear in one matching step (trace_contains).
	IDs []string `yaml:"ids,omitempty"`

	// Ops is the expected order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected number of occurrences (trace_count,
	// journal_count).
	Count int `yaml:"count,omitempty"`

	// Collection is the store collection (final_state, journal_count).
	Collection string `yaml:"collection,omitempty"`

	// Where selects the document (final_state). All fields must match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertJournalCount  = "journal_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", dir)
	}
	slices.Sort(paths)

	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for coll, docs := range s.Seed {
		for i, d := range docs {
			if id, _ := d["id"].(string); id == "" {
				return fmt.Errorf("seed.%s[%d]: id is required", coll, i)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	if !slices.Contains(validOps, st.Op) {
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}
	switch st.Op {
	case OpSet:
		if st.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for set", index)
		}
		if len(st.Fields) == 0 {
			return fmt.Errorf("steps[%d]: fields are required for set", index)
		}
	case OpDisableFilter:
		if !slices.Contains([]string{FilterSoftDelete, FilterTenant, FilterAll}, st.Filter) {
			return fmt.Errorf("steps[%d]: unknown filter %q", index, st.Filter)
		}
	case OpFailNextSave:
		if st.Collection == "" {
			return fmt.Errorf("steps[%d]: collection is required for fail_next_save", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertJournalCount:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for journal_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
