package harness

// TraceEvent records the outcome of one scenario step.
type TraceEvent struct {
	Step   int      `json:"step"`
	Op     string   `json:"op"`
	IDs    []string `json:"ids,omitempty"`
	Writes int      `json:"writes,omitempty"`
	Count  *int64   `json:"count,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// JournalEntry is one committed bulk write.
type JournalEntry struct {
	Collection    string   `json:"collection"`
	IDs           []string `json:"ids"`
	Transactional bool     `json:"transactional,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per executed step.
	Trace []TraceEvent `json:"trace"`

	// Journal lists the writes the store committed, in order.
	Journal []JournalEntry `json:"journal"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Journal: []JournalEntry{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
