package memory

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/uow/internal/docstore"
)

// normalizeWhere round-trips condition values through JSON so they compare
// equal to decoded document fields (numbers become float64 and so on).
func normalizeWhere(where map[string]any) (map[string]any, error) {
	if len(where) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(where)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matches(fields, where map[string]any) bool {
	for k, want := range where {
		got, ok := fields[k]
		if !ok {
			if want == nil {
				continue
			}
			return false
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func sortRows[R any](rows []R, fields func(R) map[string]any, id func(R) string, order []docstore.SortField) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := fields(rows[i]), fields(rows[j])
		for _, s := range order {
			c := compareValues(a[s.Field], b[s.Field])
			if c == 0 {
				continue
			}
			if s.Descending {
				return c > 0
			}
			return c < 0
		}
		return id(rows[i]) < id(rows[j])
	})
}

// rank orders JSON value kinds: null < bool < number < string < other.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(x, b.(string))
	}
	return 0
}
