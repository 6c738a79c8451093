package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/uow/internal/docstore"
	"github.com/roach88/uow/internal/docstore/memory"
	"github.com/roach88/uow/internal/pipeline"
	"github.com/roach88/uow/internal/testutil"
	"github.com/roach88/uow/internal/uow"
)

// errInjected is returned by writes armed with fail_next_save.
var errInjected = errors.New("injected write failure")

// Harness is the scenario execution engine. It owns one store and one
// unit of work for the duration of a run.
type Harness struct {
	store   *memory.Store
	uow     *uow.Context
	logger  *slog.Logger
	tracked map[string]*Account
	guards  []*pipeline.Guard
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store with deterministic
// IDs and timestamps. An error is returned only when the scenario cannot
// be set up; step and assertion failures are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st := memory.New()
	defer st.Close(ctx)

	for coll, docs := range scenario.Seed {
		seed := make([]docstore.Document, len(docs))
		for i, d := range docs {
			seed[i] = docstore.Document{ID: d["id"].(string), Value: d}
		}
		if err := st.Seed(coll, seed...); err != nil {
			return nil, fmt.Errorf("failed to seed %s: %w", coll, err)
		}
	}

	reg, err := newRegistry(scenario.Tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to register filters: %w", err)
	}
	actor := scenario.Actor
	if actor == "" {
		actor = "harness"
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	c, err := uow.New(ctx, st,
		uow.WithRegistry(reg),
		uow.WithServices(pipeline.ServiceMap{ServiceTenant: scenario.Tenant, ServiceActor: actor}),
		uow.WithIDGenerator(testutil.NewSequenceGenerator("id")),
		uow.WithClock(testutil.NewDeterministicClock()),
		uow.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unit of work: %w", err)
	}
	defer c.Close(ctx)

	h := &Harness{
		store:   st,
		uow:     c,
		logger:  logger,
		tracked: make(map[string]*Account),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}
	for i := len(h.guards) - 1; i >= 0; i-- {
		h.guards[i].Restore()
	}

	for _, w := range st.Journal() {
		result.Journal = append(result.Journal, JournalEntry{
			Collection:    w.Collection,
			IDs:           w.IDs,
			Transactional: w.Transactional,
		})
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, &AssertionContext{Store: st}) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeStep runs one step, records its trace event and checks the
// step's own expectations.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) {
	ev := TraceEvent{Step: i, Op: step.Op}
	err := h.apply(ctx, step, &ev)
	if err != nil {
		ev.Error = err.Error()
	}
	result.addEvent(ev)

	switch {
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got none", i, step.Op, step.ExpectError))
		return
	case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got %q", i, step.Op, step.ExpectError, err))
		return
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Op, err))
		return
	}

	if step.ExpectWrites != nil && ev.Writes != *step.ExpectWrites {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %d writes, got %d", i, step.Op, *step.ExpectWrites, ev.Writes))
	}
	if step.ExpectIDs != nil && !slices.Equal(step.ExpectIDs, ev.IDs) {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected ids %v, got %v", i, step.Op, step.ExpectIDs, ev.IDs))
	}
	if step.ExpectCount != nil && (ev.Count == nil || *ev.Count != *step.ExpectCount) {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected count %d, got %v", i, step.Op, *step.ExpectCount, derefCount(ev.Count)))
	}

	h.logger.Info("step completed", "step", i, "op", step.Op, "ids", ev.IDs, "writes", ev.Writes)
}

func (h *Harness) apply(ctx context.Context, step Step, ev *TraceEvent) error {
	switch step.Op {
	case OpAttach:
		a := &Account{}
		if err := patch(a, step.Fields); err != nil {
			return err
		}
		got, err := uow.Attach(h.uow, a)
		if err != nil {
			return err
		}
		h.tracked[got.ID] = got
		ev.IDs = []string{got.ID}

	case OpLoad:
		for a, err := range uow.Query[*Account](ctx, h.uow, queryOptions(step)...) {
			if err != nil {
				return err
			}
			h.tracked[a.ID] = a
			ev.IDs = append(ev.IDs, a.ID)
		}

	case OpCount:
		n, err := uow.Count[*Account](ctx, h.uow, queryOptions(step)...)
		if err != nil {
			return err
		}
		ev.Count = &n

	case OpSet:
		a, ok := h.tracked[step.ID]
		if !ok {
			return fmt.Errorf("account %s is not tracked", step.ID)
		}
		ev.IDs = []string{step.ID}
		return patch(a, step.Fields)

	case OpSave:
		n, err := h.uow.SaveChanges(ctx)
		ev.Writes = n
		return err

	case OpBegin:
		return h.uow.Begin(ctx)

	case OpCommit:
		n, err := h.uow.Commit(ctx)
		ev.Writes = n
		return err

	case OpAbort:
		return h.uow.Abort(ctx)

	case OpDisableFilter:
		var g *pipeline.Guard
		switch step.Filter {
		case FilterSoftDelete:
			g = uow.DisableFilter[SoftDeletable](h.uow)
		case FilterTenant:
			g = uow.DisableFilter[TenantScoped](h.uow)
		default:
			g = h.uow.DisableAllDataFilters()
		}
		h.guards = append(h.guards, g)

	case OpRestoreFilter:
		if len(h.guards) == 0 {
			return errors.New("no disabled filter to restore")
		}
		last := len(h.guards) - 1
		h.guards[last].Restore()
		h.guards = h.guards[:last]

	case OpReset:
		h.uow.Reset()
		clear(h.tracked)

	case OpFailNextSave:
		h.store.FailNextUpsert(step.Collection, errInjected)

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func queryOptions(step Step) []uow.QueryOption {
	var opts []uow.QueryOption
	for k, v := range step.Where {
		opts = append(opts, uow.Where(k, v))
	}
	if step.Sort != "" {
		opts = append(opts, uow.SortBy(step.Sort, step.Desc))
	}
	if step.Limit > 0 {
		opts = append(opts, uow.Limit(step.Limit))
	}
	return opts
}

// patch overwrites the named fields of a through its JSON encoding.
func patch(a *Account, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	if err := json.Unmarshal(raw, a); err != nil {
		return fmt.Errorf("apply fields: %w", err)
	}
	return nil
}

func derefCount(n *int64) any {
	if n == nil {
		return "none"
	}
	return *n
}
