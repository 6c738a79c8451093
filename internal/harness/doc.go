// Package harness runs unit-of-work scenarios described in YAML.
//
// A scenario seeds an in-memory document store, drives a uow.Context
// through a list of steps and then checks assertions against the recorded
// trace and the final store contents.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	tenant: acme
//	seed:
//	  accounts:
//	    - { id: a1, owner: ada, balance: 10, tenant: acme }
//	steps:
//	  - op: load
//	    where: { owner: ada }
//	  - op: set
//	    id: a1
//	    fields: { balance: 20 }
//	  - op: save
//	    expect_writes: 1
//	assertions:
//	  - type: final_state
//	    collection: accounts
//	    where: { id: a1 }
//	    expect: { balance: 20 }
//
// # Steps
//
//   - attach: attach a new account built from fields
//   - load: query accounts with where, sort, desc and limit
//   - count: count accounts with where
//   - set: patch fields of a tracked account
//   - save, commit: persist changes and record the number of writes
//   - begin, abort: open or roll back a transaction
//   - disable_filter: disable soft_delete, tenant or all filters
//   - restore_filter: restore the most recent disable_filter
//   - reset: drop all tracking state
//   - fail_next_save: make the next write to a collection fail
//
// A step with expect_error passes only when it fails with an error whose
// message contains that text.
//
// # Assertion Types
//
//   - trace_contains: a step with the op touched the given ids
//   - trace_order: ops appear in the given order
//   - trace_count: an op appears exactly N times
//   - final_state: exactly one stored document matches where and has the
//     expected fields
//   - journal_count: the store committed N writes to a collection
//
// # Deterministic Testing
//
// Every run uses a fresh store, testutil.DeterministicClock and a
// testutil.SequenceGenerator for entity IDs, so the same scenario always
// produces the same trace and journal. RunWithGolden compares both against
// testdata/golden/<name>.golden.
package harness
