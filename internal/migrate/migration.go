// Package migrate runs versioned, named migrations against a uow.Context.
//
// A migration's version comes from its name, which must have the shape
// prefix_<number>_<description>, for example "Migration_3_AddIndexes". The
// highest number recorded in the migration_history collection is the
// baseline; only migrations above it run, in ascending order, each inside
// its own store transaction together with its history record.
package migrate

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"github.com/roach88/uow/internal/uow"
)

// Migration is one versioned transformation of stored data.
type Migration interface {
	// Name returns prefix_<number>_<description>.
	Name() string

	// Upgrade applies the migration through c. Changes attached to c are
	// saved by the runner.
	Upgrade(ctx context.Context, c *uow.Context) error
}

// UpgradeFunc is the body of a migration.
type UpgradeFunc func(ctx context.Context, c *uow.Context) error

type funcMigration struct {
	name string
	fn   UpgradeFunc
}

// New returns a Migration named name that runs fn.
func New(name string, fn UpgradeFunc) Migration {
	return &funcMigration{name: name, fn: fn}
}

func (m *funcMigration) Name() string { return m.name }

func (m *funcMigration) Upgrade(ctx context.Context, c *uow.Context) error {
	if m.fn == nil {
		return nil
	}
	return m.fn(ctx, c)
}

var namePattern = regexp.MustCompile(`^([A-Za-z0-9]*)_([0-9]+)_(.+)$`)

// ParseName extracts the version number and description from a migration
// name of the form prefix_<number>_<description>. The prefix may be empty.
func ParseName(name string) (int64, string, error) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, "", &NameFormatError{Name: name, Reason: "expected [prefix]_<number>_<description>"}
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, "", &NameFormatError{Name: name, Reason: fmt.Sprintf("version %s out of range", m[2])}
	}
	if n < 1 {
		return 0, "", &NameFormatError{Name: name, Reason: "version must be positive"}
	}
	return n, m[3], nil
}

// step is a migration with its parsed version.
type step struct {
	migration   Migration
	number      int64
	description string
}

func (s step) name() string { return s.migration.Name() }

// plan parses every migration and orders them by number. Any bad name or
// duplicate number fails the whole plan.
func plan(migrations []Migration) ([]step, error) {
	steps := make([]step, 0, len(migrations))
	seen := make(map[int64]string, len(migrations))
	for _, m := range migrations {
		n, desc, err := ParseName(m.Name())
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[n]; ok {
			return nil, fmt.Errorf("%w: %d used by %s and %s", ErrDuplicateNumber, n, prev, m.Name())
		}
		seen[n] = m.Name()
		steps = append(steps, step{migration: m, number: n, description: desc})
	}
	slices.SortFunc(steps, func(a, b step) int {
		switch {
		case a.number < b.number:
			return -1
		case a.number > b.number:
			return 1
		}
		return 0
	})
	return steps, nil
}

// pending returns the steps numbered above baseline.
func pending(steps []step, baseline int64) []step {
	i, _ := slices.BinarySearchFunc(steps, baseline+1, func(s step, n int64) int {
		switch {
		case s.number < n:
			return -1
		case s.number > n:
			return 1
		}
		return 0
	})
	return steps[i:]
}
