package database

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"crm-backend/internal/remote"
)

// Statements are rendered with sqlx named parameters (:p0, :row). sqlx reads
// "::" as an escaped colon, so casts are written as cast(x as type).

type builder struct {
	args map[string]interface{}
	n    int
}

func newBuilder() *builder {
	return &builder{args: make(map[string]interface{})}
}

func (b *builder) param(v interface{}) string {
	name := fmt.Sprintf("p%d", b.n)
	b.n++
	b.args[name] = normalize(v)
	return ":" + name
}

func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case time.Time:
		return x
	case uuid.UUID:
		return x.String()
	case *uuid.UUID:
		if x == nil {
			return nil
		}
		return x.String()
	case fmt.Stringer:
		return x.String()
	}
	return v
}

var comparisons = map[remote.Op]string{
	remote.OpEq:  "=",
	remote.OpNeq: "<>",
	remote.OpGt:  ">",
	remote.OpGte: ">=",
	remote.OpLt:  "<",
	remote.OpLte: "<=",
}

func (b *builder) where(filters []remote.Filter, alias string) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		if err := remote.CheckIdent("column", f.Column); err != nil {
			return "", err
		}
		col := alias + "." + f.Column

		switch f.Op {
		case remote.OpIn:
			vals := f.Values()
			if len(vals) == 0 {
				parts = append(parts, "false")
				continue
			}
			strs := make([]string, len(vals))
			for i, v := range vals {
				strs[i] = fmt.Sprint(normalize(v))
			}
			parts = append(parts, fmt.Sprintf("cast(%s as text) = any(%s)", col, b.param(strs)))
		case remote.OpIs:
			switch f.Value {
			case nil, "null":
				parts = append(parts, col+" is null")
			case true, "true":
				parts = append(parts, col+" is true")
			case false, "false":
				parts = append(parts, col+" is false")
			default:
				return "", fmt.Errorf("unsupported is value %v", f.Value)
			}
		case remote.OpILike:
			parts = append(parts, fmt.Sprintf("%s ilike %s", col, b.param(f.Value)))
		default:
			sym, ok := comparisons[f.Op]
			if !ok {
				return "", fmt.Errorf("unsupported filter op %q", f.Op)
			}
			if f.Value == nil && f.Op == remote.OpEq {
				parts = append(parts, col+" is null")
				continue
			}
			parts = append(parts, fmt.Sprintf("%s %s %s", col, sym, b.param(f.Value)))
		}
	}
	return " where " + strings.Join(parts, " and "), nil
}

func orderBy(order []remote.Order, alias string) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, len(order))
	for i, o := range order {
		dir := "asc"
		if o.Desc {
			dir = "desc"
		}
		parts[i] = fmt.Sprintf("%s.%s %s", alias, o.Column, dir)
	}
	return " order by " + strings.Join(parts, ", ")
}

func projection(columns, alias string) (string, error) {
	columns = strings.TrimSpace(columns)
	if columns == "" || columns == "*" {
		return "to_jsonb(" + alias + ")", nil
	}
	var pairs []string
	for _, c := range strings.Split(columns, ",") {
		c = strings.TrimSpace(c)
		if err := remote.CheckIdent("column", c); err != nil {
			return "", err
		}
		pairs = append(pairs, fmt.Sprintf("'%s', %s.%s", c, alias, c))
	}
	return "jsonb_build_object(" + strings.Join(pairs, ", ") + ")", nil
}

func buildSelect(table string, q remote.Query) (string, map[string]interface{}, error) {
	if err := remote.CheckIdent("table", table); err != nil {
		return "", nil, err
	}
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	b := newBuilder()
	where, err := b.where(q.Filters, "t")
	if err != nil {
		return "", nil, err
	}
	proj, err := projection(q.Columns, "t")
	if err != nil {
		return "", nil, err
	}
	order := orderBy(q.Order, "t")

	page := ""
	if q.Limit > 0 {
		page += fmt.Sprintf(" limit %d", q.Limit)
	}
	if q.Offset > 0 {
		page += fmt.Sprintf(" offset %d", q.Offset)
	}

	sql := fmt.Sprintf("select coalesce(jsonb_agg(%s%s), '[]') from (select * from %s t%s%s%s) t",
		proj, order, table, where, order, page)
	return sql, b.args, nil
}

// rowColumns marshals row to JSON and returns it with its sorted keys. A JSON
// array is accepted for multi-row inserts; its first element names the columns.
func rowColumns(row interface{}, dropNull bool) (string, []string, bool, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return "", nil, false, fmt.Errorf("encode row: %w", err)
	}

	var obj map[string]json.RawMessage
	many := false
	if len(data) > 0 && data[0] == '[' {
		var list []map[string]json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return "", nil, false, fmt.Errorf("row must be an object or a list of objects: %w", err)
		}
		if len(list) == 0 {
			return "", nil, false, fmt.Errorf("no rows to insert")
		}
		obj, many = list[0], true
	} else if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, false, fmt.Errorf("row must be an object: %w", err)
	}

	cols := make([]string, 0, len(obj))
	for k, v := range obj {
		if dropNull && string(v) == "null" {
			continue
		}
		if err := remote.CheckIdent("column", k); err != nil {
			return "", nil, false, err
		}
		cols = append(cols, k)
	}
	if len(cols) == 0 {
		return "", nil, false, fmt.Errorf("row has no columns")
	}
	sort.Strings(cols)
	return string(data), cols, many, nil
}

func buildInsert(table string, row interface{}) (string, map[string]interface{}, error) {
	if err := remote.CheckIdent("table", table); err != nil {
		return "", nil, err
	}
	data, cols, many, err := rowColumns(row, true)
	if err != nil {
		return "", nil, err
	}
	populate := "jsonb_populate_record"
	if many {
		populate = "jsonb_populate_recordset"
	}
	list := strings.Join(cols, ", ")
	sql := fmt.Sprintf("with changed as (insert into %s (%s) select %s from %s(cast(null as %s), cast(:row as jsonb)) returning *) "+
		"select coalesce(jsonb_agg(to_jsonb(changed)), '[]') from changed",
		table, list, list, populate, table)
	return sql, map[string]interface{}{"row": data}, nil
}

func buildUpdate(table string, filters []remote.Filter, patch interface{}) (string, map[string]interface{}, error) {
	if err := remote.CheckIdent("table", table); err != nil {
		return "", nil, err
	}
	if len(filters) == 0 {
		return "", nil, fmt.Errorf("refusing to update %s without filters", table)
	}
	data, cols, many, err := rowColumns(patch, false)
	if err != nil {
		return "", nil, err
	}
	if many {
		return "", nil, fmt.Errorf("update patch must be a single object")
	}
	b := newBuilder()
	where, err := b.where(filters, "t")
	if err != nil {
		return "", nil, err
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = r.%s", c, c)
	}
	b.args["row"] = data
	sql := fmt.Sprintf("with changed as (update %s as t set %s from jsonb_populate_record(cast(null as %s), cast(:row as jsonb)) as r%s returning t.*) "+
		"select coalesce(jsonb_agg(to_jsonb(changed)), '[]') from changed",
		table, strings.Join(sets, ", "), table, where)
	return sql, b.args, nil
}

func buildDelete(table string, filters []remote.Filter) (string, map[string]interface{}, error) {
	if err := remote.CheckIdent("table", table); err != nil {
		return "", nil, err
	}
	if len(filters) == 0 {
		return "", nil, fmt.Errorf("refusing to delete from %s without filters", table)
	}
	b := newBuilder()
	where, err := b.where(filters, "t")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("delete from %s as t%s", table, where), b.args, nil
}

// buildRPC calls fn with named arguments taken from the keys of args.
func buildRPC(fn string, args interface{}) (string, map[string]interface{}, error) {
	if err := remote.CheckIdent("function", fn); err != nil {
		return "", nil, err
	}
	named := map[string]interface{}{}
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return "", nil, fmt.Errorf("encode rpc args: %w", err)
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return "", nil, fmt.Errorf("rpc args must be an object: %w", err)
		}
		for k, v := range raw {
			var scalar interface{}
			if err := json.Unmarshal(v, &scalar); err != nil {
				return "", nil, err
			}
			switch scalar.(type) {
			case map[string]interface{}, []interface{}:
				named[k] = string(v)
			default:
				named[k] = scalar
			}
		}
	}

	keys := make([]string, 0, len(named))
	for k := range named {
		if err := remote.CheckIdent("argument", k); err != nil {
			return "", nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := newBuilder()
	params := make([]string, len(keys))
	for i, k := range keys {
		params[i] = fmt.Sprintf("%s => %s", k, b.param(named[k]))
	}
	sql := fmt.Sprintf("select coalesce(jsonb_agg(to_jsonb(r)), '[]') from %s(%s) as r", fn, strings.Join(params, ", "))
	return sql, b.args, nil
}
