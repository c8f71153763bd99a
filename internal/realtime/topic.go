package realtime

import (
	"fmt"
	"strings"
)

// AllTables as a Topic table matches every change.
const AllTables = "*"

// Topic is what one physical channel listens to: a table, optionally narrowed
// to rows whose Column equals Value.
type Topic struct {
	Table  string
	Column string
	Value  string
}

func TableTopic(table string) Topic { return Topic{Table: table} }

func WorkspaceTopic(table, workspaceID string) Topic {
	return Topic{Table: table, Column: "workspace_id", Value: workspaceID}
}

func (t Topic) String() string {
	if t.Column == "" {
		return t.Table
	}
	return fmt.Sprintf("%s:%s=eq.%s", t.Table, t.Column, t.Value)
}

// ParseTopic reverses String.
func ParseTopic(s string) (Topic, error) {
	table, filter, found := strings.Cut(s, ":")
	if table == "" {
		return Topic{}, fmt.Errorf("topic %q: missing table", s)
	}
	if !found {
		return Topic{Table: table}, nil
	}
	col, val, ok := strings.Cut(filter, "=eq.")
	if !ok || col == "" {
		return Topic{}, fmt.Errorf("topic %q: only col=eq.value filters are supported", s)
	}
	return Topic{Table: table, Column: col, Value: val}, nil
}

func (t Topic) Matches(ev ChangeEvent) bool {
	if t.Table != AllTables && t.Table != ev.Table {
		return false
	}
	if t.Column == "" {
		return true
	}
	if t.Column == "workspace_id" && ev.WorkspaceID != "" {
		return ev.WorkspaceID == t.Value
	}
	v, ok := ev.Column(t.Column)
	return ok && v == t.Value
}

// RoutingKey is the AMQP routing key events for this topic are published
// under: <table>.<workspace_id>.
func RoutingKey(ev ChangeEvent) string {
	ws := ev.WorkspaceID
	if ws == "" {
		ws = "none"
	}
	return ev.Table + "." + ws
}

// bindingKey is the AMQP binding pattern that covers t. Filters other than
// workspace_id are applied after delivery.
func (t Topic) bindingKey() string {
	table := t.Table
	if table == AllTables {
		table = "*"
	}
	if t.Column == "workspace_id" {
		return table + "." + t.Value
	}
	return table + ".*"
}
