package sqldoc

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/uow/internal/docstore"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// dialect isolates the SQL that differs between SQLite and Postgres.
type dialect interface {
	placeholder(n int) string
	createTable(table string) string
	upsert(table string) string
	// where renders the equality conditions starting at placeholder n.
	where(cond map[string]any, n int) (string, []any, error)
	orderBy(fields []docstore.SortField) (string, error)
	txOptions(opts docstore.SessionOptions) *sql.TxOptions
	// beginStatements run right after a session transaction starts.
	beginStatements(opts docstore.SessionOptions) []string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite:
		return sqliteDialect{}, nil
	case DriverPostgres:
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("sqldoc: unsupported driver %q", driver)
	}
}

func validateField(f string) error {
	if !fieldPattern.MatchString(f) {
		return fmt.Errorf("sqldoc: invalid field name %q", f)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type sqliteDialect struct{}

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) createTable(table string) string {
	return `CREATE TABLE IF NOT EXISTS "` + table + `" (id TEXT PRIMARY KEY, doc TEXT NOT NULL)`
}

func (sqliteDialect) upsert(table string) string {
	return `INSERT INTO "` + table + `" (id, doc) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`
}

func (sqliteDialect) where(cond map[string]any, _ int) (string, []any, error) {
	if len(cond) == 0 {
		return "", nil, nil
	}
	var clauses []string
	var args []any
	for _, k := range sortedKeys(cond) {
		if err := validateField(k); err != nil {
			return "", nil, err
		}
		expr := "json_extract(doc, '$." + k + "')"
		v, err := jsonValue(cond[k])
		if err != nil {
			return "", nil, fmt.Errorf("sqldoc: encode condition %s: %w", k, err)
		}
		switch v := v.(type) {
		case nil:
			clauses = append(clauses, expr+" IS NULL")
		case bool:
			// json_extract yields 1/0 for JSON booleans.
			b := 0
			if v {
				b = 1
			}
			clauses = append(clauses, expr+" = ?")
			args = append(args, b)
		case string, float64:
			clauses = append(clauses, expr+" = ?")
			args = append(args, v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return "", nil, fmt.Errorf("sqldoc: encode condition %s: %w", k, err)
			}
			clauses = append(clauses, expr+" = json(?)")
			args = append(args, string(raw))
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (sqliteDialect) orderBy(fields []docstore.SortField) (string, error) {
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		if err := validateField(f.Field); err != nil {
			return "", err
		}
		parts = append(parts, "json_extract(doc, '$."+f.Field+"') "+direction(f.Descending))
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func (sqliteDialect) txOptions(docstore.SessionOptions) *sql.TxOptions { return nil }

func (sqliteDialect) beginStatements(docstore.SessionOptions) []string { return nil }

type postgresDialect struct{}

func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) createTable(table string) string {
	return `CREATE TABLE IF NOT EXISTS "` + table + `" (id TEXT PRIMARY KEY, doc JSONB NOT NULL)`
}

func (postgresDialect) upsert(table string) string {
	return `INSERT INTO "` + table + `" (id, doc) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`
}

func (d postgresDialect) where(cond map[string]any, n int) (string, []any, error) {
	if len(cond) == 0 {
		return "", nil, nil
	}
	// Containment cannot express "null or missing", so null conditions get
	// their own clause.
	var clauses []string
	contains := make(map[string]any, len(cond))
	for _, k := range sortedKeys(cond) {
		if err := validateField(k); err != nil {
			return "", nil, err
		}
		v, err := jsonValue(cond[k])
		if err != nil {
			return "", nil, fmt.Errorf("sqldoc: encode condition %s: %w", k, err)
		}
		if v == nil {
			clauses = append(clauses, "(doc->'"+k+"' IS NULL OR doc->'"+k+"' = 'null'::jsonb)")
			continue
		}
		contains[k] = v
	}
	var args []any
	if len(contains) > 0 {
		raw, err := json.Marshal(contains)
		if err != nil {
			return "", nil, fmt.Errorf("sqldoc: encode conditions: %w", err)
		}
		clauses = append([]string{"doc @> " + d.placeholder(n) + "::jsonb"}, clauses...)
		args = append(args, string(raw))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (postgresDialect) orderBy(fields []docstore.SortField) (string, error) {
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		if err := validateField(f.Field); err != nil {
			return "", err
		}
		parts = append(parts, "doc->'"+f.Field+"' "+direction(f.Descending))
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func (postgresDialect) txOptions(opts docstore.SessionOptions) *sql.TxOptions {
	if opts.Majority {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}

func (postgresDialect) beginStatements(opts docstore.SessionOptions) []string {
	if opts.MaxCommitTime <= 0 {
		return nil
	}
	return []string{fmt.Sprintf("SET LOCAL statement_timeout = %d", opts.MaxCommitTime.Milliseconds())}
}

// jsonValue converts v to the shape it has inside a stored document.
func jsonValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func direction(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}
