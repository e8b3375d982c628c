package scylla

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gocql/gocql"
)

// fakeCQL is an in-memory stand-in for the handful of single-partition
// statement shapes the repository issues.
type fakeCQL struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]any
	failOn map[string]error
	ran    []string
}

var _ CQL = (*fakeCQL)(nil)

func newFakeCQL() *fakeCQL {
	return &fakeCQL{
		tables: map[string]map[string]map[string]any{},
		failOn: map[string]error{},
	}
}

func (f *fakeCQL) Exec(_ context.Context, stmt string, values ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(stmt); err != nil {
		return err
	}
	_, err := f.apply(stmt, values)
	return err
}

func (f *fakeCQL) ExecCAS(_ context.Context, stmt string, values ...any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(stmt); err != nil {
		return false, err
	}
	return f.apply(stmt, values)
}

func (f *fakeCQL) ExecBatch(_ context.Context, entries []BatchEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		if err, ok := f.failOn[e.Stmt]; ok {
			return err
		}
	}
	for _, e := range entries {
		f.ran = append(f.ran, e.Stmt)
		if _, err := f.apply(e.Stmt, e.Values); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCQL) Scan(_ context.Context, stmt string, values []any, dest ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(stmt); err != nil {
		return err
	}

	s := flatten(stmt)
	rest := strings.TrimPrefix(s, "SELECT ")
	from := strings.Index(rest, " FROM ")
	cols := splitColumns(rest[:from])
	table := strings.Fields(rest[from+len(" FROM "):])[0]

	row, ok := f.table(table)[fmt.Sprint(values[0])]
	if !ok {
		return gocql.ErrNotFound
	}
	if len(cols) != len(dest) {
		return fmt.Errorf("fake: %d columns scanned into %d destinations", len(cols), len(dest))
	}
	for i, c := range cols {
		v, ok := row[c]
		if !ok || v == nil {
			continue
		}
		target := reflect.ValueOf(dest[i]).Elem()
		target.Set(reflect.ValueOf(v).Convert(target.Type()))
	}
	return nil
}

func (f *fakeCQL) HealthCheck(_ context.Context) error { return nil }

func (f *fakeCQL) check(stmt string) error {
	f.ran = append(f.ran, stmt)
	return f.failOn[stmt]
}

func (f *fakeCQL) table(name string) map[string]map[string]any {
	t, ok := f.tables[name]
	if !ok {
		t = map[string]map[string]any{}
		f.tables[name] = t
	}
	return t
}

// has reports whether table holds a row under key.
func (f *fakeCQL) has(table, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.table(table)[key]
	return ok
}

func (f *fakeCQL) column(table, key, column string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.table(table)[key][column]
}

func (f *fakeCQL) lastSelect() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.ran) - 1; i >= 0; i-- {
		if strings.HasPrefix(f.ran[i], "SELECT") && strings.Contains(f.ran[i], "FROM accounts WHERE") {
			return f.ran[i]
		}
	}
	return ""
}

func (f *fakeCQL) apply(stmt string, values []any) (bool, error) {
	s := flatten(stmt)
	switch {
	case strings.HasPrefix(s, "INSERT INTO "):
		rest := strings.TrimPrefix(s, "INSERT INTO ")
		table := rest[:strings.Index(rest, " ")]
		cols := splitColumns(rest[strings.Index(rest, "(")+1 : strings.Index(rest, ")")])
		t := f.table(table)
		key := fmt.Sprint(values[0])
		if strings.HasSuffix(s, "IF NOT EXISTS") {
			if _, exists := t[key]; exists {
				return false, nil
			}
		}
		row := map[string]any{}
		for i, c := range cols {
			row[c] = values[i]
		}
		t[key] = row
		return true, nil

	case strings.HasPrefix(s, "DELETE FROM "):
		rest := strings.TrimPrefix(s, "DELETE FROM ")
		t := f.table(rest[:strings.Index(rest, " ")])
		key := fmt.Sprint(values[0])
		if i := strings.Index(rest, " IF "); i >= 0 {
			cond := strings.Fields(rest[i+len(" IF "):])[0]
			row, ok := t[key]
			if !ok || fmt.Sprint(row[cond]) != fmt.Sprint(values[1]) {
				return false, nil
			}
		}
		delete(t, key)
		return true, nil

	case strings.HasPrefix(s, "UPDATE "):
		rest := strings.TrimPrefix(s, "UPDATE ")
		t := f.table(rest[:strings.Index(rest, " ")])
		set := rest[strings.Index(rest, " SET ")+len(" SET ") : strings.Index(rest, " WHERE ")]
		keyCol := strings.Fields(rest[strings.Index(rest, " WHERE ")+len(" WHERE "):])[0]
		key := fmt.Sprint(values[len(values)-1])
		row, ok := t[key]
		if !ok {
			row = map[string]any{keyCol: key}
			t[key] = row
		}
		for i, assignment := range strings.Split(set, ",") {
			row[strings.Fields(assignment)[0]] = values[i]
		}
		return true, nil
	}
	return false, fmt.Errorf("fake: unsupported statement %q", s)
}

func flatten(stmt string) string {
	return strings.Join(strings.Fields(stmt), " ")
}

func splitColumns(list string) []string {
	parts := strings.Split(list, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
