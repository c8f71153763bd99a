package remote

import (
	"fmt"
	"strings"
)

type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpIs    Op = "is"
	OpILike Op = "ilike"
)

// Filter is a single column predicate. For OpIn, Value is a []interface{}
// or []string; for OpIs, Value is nil.
type Filter struct {
	Column string
	Op     Op
	Value  interface{}
}

func Eq(column string, value interface{}) Filter  { return Filter{Column: column, Op: OpEq, Value: value} }
func Neq(column string, value interface{}) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }
func Gte(column string, value interface{}) Filter { return Filter{Column: column, Op: OpGte, Value: value} }
func Lte(column string, value interface{}) Filter { return Filter{Column: column, Op: OpLte, Value: value} }
func IsNull(column string) Filter                 { return Filter{Column: column, Op: OpIs} }
func ILike(column, pattern string) Filter         { return Filter{Column: column, Op: OpILike, Value: pattern} }

func In(column string, values ...interface{}) Filter {
	return Filter{Column: column, Op: OpIn, Value: values}
}

// InStrings is In for a string slice.
func InStrings(column string, values []string) Filter {
	vs := make([]interface{}, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return In(column, vs...)
}

// String renders the filter the way PostgREST expects it in a query string value,
// e.g. "eq.42", "in.(a,b)", "is.null".
func (f Filter) String() string {
	switch f.Op {
	case OpIs:
		if f.Value == nil {
			return "is.null"
		}
		return fmt.Sprintf("is.%v", f.Value)
	case OpIn:
		vals := f.Values()
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = quoteInValue(fmt.Sprint(v))
		}
		return "in.(" + strings.Join(parts, ",") + ")"
	}
	return fmt.Sprintf("%s.%v", f.Op, f.Value)
}

// Values returns the operands of an OpIn filter.
func (f Filter) Values() []interface{} {
	switch v := f.Value.(type) {
	case []interface{}:
		return v
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case nil:
		return nil
	}
	return []interface{}{f.Value}
}

func quoteInValue(v string) string {
	if strings.ContainsAny(v, ",()\" ") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}

type Order struct {
	Column string
	Desc   bool
}

func (o Order) String() string {
	if o.Desc {
		return o.Column + ".desc"
	}
	return o.Column + ".asc"
}

// Query describes a select. Limit 0 means no limit.
type Query struct {
	Columns string
	Filters []Filter
	Order   []Order
	Limit   int
	Offset  int
}

func Where(filters ...Filter) Query {
	return Query{Filters: filters}
}

func (q Query) OrderBy(column string, desc bool) Query {
	q.Order = append(q.Order, Order{Column: column, Desc: desc})
	return q
}

func (q Query) WithLimit(limit int) Query {
	q.Limit = limit
	return q
}

// Validate checks every identifier used by the query.
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if err := CheckIdent("column", f.Column); err != nil {
			return err
		}
	}
	for _, o := range q.Order {
		if err := CheckIdent("column", o.Column); err != nil {
			return err
		}
	}
	return nil
}
