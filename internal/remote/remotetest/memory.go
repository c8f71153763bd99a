// Package remotetest provides an in-memory remote.Client and remote.Functions
// for tests.
package remotetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"crm-backend/internal/remote"
)

// Row is one stored record, shaped like its JSON form.
type Row = map[string]interface{}

// DB is an in-memory remote.Client. Rows are stored the way they come back
// from the backend: JSON objects. Only eq, neq, is and in filters are
// supported.
type DB struct {
	mu      sync.Mutex
	tables  map[string][]Row
	selects map[string]int

	// Unique reports whether candidate collides with an existing row.
	Unique       map[string]func(existing, candidate Row) bool
	InsertErr    map[string]error
	SelectErr    map[string]error
	BeforeSelect func(table string)
}

func NewDB() *DB {
	return &DB{
		tables:    make(map[string][]Row),
		selects:   make(map[string]int),
		Unique:    make(map[string]func(existing, candidate Row) bool),
		InsertErr: make(map[string]error),
		SelectErr: make(map[string]error),
	}
}

var _ remote.Client = (*DB)(nil)

func toRows(v interface{}) ([]Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 && data[0] == '[' {
		var rs []Row
		err := json.Unmarshal(data, &rs)
		return rs, err
	}
	var r Row
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return []Row{r}, nil
}

func scalar(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case fmt.Stringer:
		return x.String()
	case float64:
		return fmt.Sprintf("%g", x)
	}
	return fmt.Sprint(v)
}

func matches(r Row, filters []remote.Filter) bool {
	for _, f := range filters {
		v := r[f.Column]
		switch f.Op {
		case remote.OpEq:
			if f.Value == nil {
				if v != nil {
					return false
				}
				continue
			}
			if scalar(v) != scalar(f.Value) {
				return false
			}
		case remote.OpNeq:
			if scalar(v) == scalar(f.Value) {
				return false
			}
		case remote.OpIs:
			if v != nil {
				return false
			}
		case remote.OpIn:
			found := false
			for _, want := range f.Values() {
				if scalar(v) == scalar(want) {
					found = true
				}
			}
			if !found {
				return false
			}
		default:
			panic("remotetest: unsupported op " + string(f.Op))
		}
	}
	return true
}

func less(a, b interface{}) bool {
	fa, okA := a.(float64)
	fb, okB := b.(float64)
	if okA && okB {
		return fa < fb
	}
	return scalar(a) < scalar(b)
}

func (f *DB) Select(ctx context.Context, table string, q remote.Query, dest interface{}) error {
	if f.BeforeSelect != nil {
		f.BeforeSelect(table)
	}
	f.mu.Lock()
	f.selects[table]++
	if err := f.SelectErr[table]; err != nil {
		f.mu.Unlock()
		return err
	}
	var out []Row
	for _, r := range f.tables[table] {
		if matches(r, q.Filters) {
			out = append(out, copyRow(r))
		}
	}
	f.mu.Unlock()

	for i := len(q.Order) - 1; i >= 0; i-- {
		o := q.Order[i]
		sort.SliceStable(out, func(a, b int) bool {
			if o.Desc {
				return less(out[b][o.Column], out[a][o.Column])
			}
			return less(out[a][o.Column], out[b][o.Column])
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return decode(out, dest)
}

func decode(rows []Row, dest interface{}) error {
	if rows == nil {
		rows = []Row{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return remote.DecodeRows(data, dest)
}

func (f *DB) Insert(ctx context.Context, table string, v interface{}, dest interface{}) error {
	rows, err := toRows(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	if err := f.InsertErr[table]; err != nil {
		f.mu.Unlock()
		return err
	}
	for i, r := range rows {
		for k, val := range r {
			if val == nil {
				delete(r, k)
			}
		}
		if _, ok := r["id"]; !ok {
			r["id"] = uuid.NewString()
		}
		if _, ok := r["created_at"]; !ok {
			r["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
		}
		if unique := f.Unique[table]; unique != nil {
			for _, existing := range f.tables[table] {
				if unique(existing, r) {
					f.mu.Unlock()
					return &remote.Error{Status: 409, Code: "23505", Message: "duplicate key value violates unique constraint"}
				}
			}
		}
		f.tables[table] = append(f.tables[table], r)
		rows[i] = copyRow(r)
	}
	f.mu.Unlock()
	if dest == nil {
		return nil
	}
	return decode(rows, dest)
}

func (f *DB) Update(ctx context.Context, table string, filters []remote.Filter, patch interface{}, dest interface{}) error {
	p, err := toRows(patch)
	if err != nil {
		return err
	}
	f.mu.Lock()
	var out []Row
	for _, r := range f.tables[table] {
		if !matches(r, filters) {
			continue
		}
		for k, v := range p[0] {
			r[k] = v
		}
		out = append(out, copyRow(r))
	}
	f.mu.Unlock()
	if dest == nil {
		return nil
	}
	return decode(out, dest)
}

func (f *DB) Delete(ctx context.Context, table string, filters []remote.Filter) error {
	if len(filters) == 0 {
		return errors.New("delete without filters")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.tables[table][:0]
	for _, r := range f.tables[table] {
		if !matches(r, filters) {
			kept = append(kept, r)
		}
	}
	f.tables[table] = kept
	return nil
}

func (f *DB) RPC(ctx context.Context, fn string, args interface{}, dest interface{}) error {
	return fmt.Errorf("rpc %s not supported", fn)
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Put stores a row directly and returns its id, generating one when absent.
func (f *DB) Put(table string, r Row) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := r["id"]; !ok {
		r["id"] = uuid.NewString()
	}
	f.tables[table] = append(f.tables[table], r)
	return r["id"].(string)
}

// Rows returns a copy of the table.
func (f *DB) Rows(table string) []Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Row, len(f.tables[table]))
	for i, r := range f.tables[table] {
		out[i] = copyRow(r)
	}
	return out
}

// Selects counts the reads of table.
func (f *DB) Selects(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selects[table]
}

// Invocation is one recorded function call.
type Invocation struct {
	Name string
	Body map[string]interface{}
}

// Functions records invocations and answers with Reply or Err.
type Functions struct {
	mu    sync.Mutex
	Calls []Invocation
	Err   error
	Reply string
}

func (f *Functions) Invoke(ctx context.Context, name string, body interface{}, dest interface{}) error {
	rs, err := toRows(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.Calls = append(f.Calls, Invocation{Name: name, Body: rs[0]})
	ferr, reply := f.Err, f.Reply
	f.mu.Unlock()
	if ferr != nil {
		return ferr
	}
	if reply == "" {
		reply = `{"success":true}`
	}
	if dest != nil {
		return json.Unmarshal([]byte(reply), dest)
	}
	return nil
}

