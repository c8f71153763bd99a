package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// FixedStatus is one of the built-in kanban columns every workspace has.
type FixedStatus int

const (
	StatusTodo FixedStatus = iota + 1
	StatusInProgress
	StatusReview
	StatusDone
)

var fixedStatusNames = map[FixedStatus]string{
	StatusTodo:       "todo",
	StatusInProgress: "in_progress",
	StatusReview:     "review",
	StatusDone:       "done",
}

var fixedStatusLabels = map[FixedStatus]string{
	StatusTodo:       "To do",
	StatusInProgress: "In progress",
	StatusReview:     "Review",
	StatusDone:       "Done",
}

// FixedStatuses returns the built-in columns in board order.
func FixedStatuses() []FixedStatus {
	return []FixedStatus{StatusTodo, StatusInProgress, StatusReview, StatusDone}
}

func (f FixedStatus) String() string {
	if name, ok := fixedStatusNames[f]; ok {
		return name
	}
	return fmt.Sprintf("FixedStatus(%d)", int(f))
}

func (f FixedStatus) Label() string {
	return fixedStatusLabels[f]
}

// JobStatus is either a built-in column or a workspace-defined custom column.
// The zero value is not a valid status.
type JobStatus struct {
	fixed  FixedStatus
	custom string
}

func Fixed(f FixedStatus) JobStatus { return JobStatus{fixed: f} }

func Custom(id string) JobStatus { return JobStatus{custom: id} }

// ParseJobStatus maps the stored string back to a status. Names of built-in
// columns win; anything else is treated as a custom column identifier.
func ParseJobStatus(s string) JobStatus {
	if s == "" {
		return JobStatus{}
	}
	for f, name := range fixedStatusNames {
		if name == s {
			return Fixed(f)
		}
	}
	return Custom(s)
}

func (s JobStatus) Fixed() (FixedStatus, bool) { return s.fixed, s.fixed != 0 }

func (s JobStatus) CustomID() (string, bool) { return s.custom, s.fixed == 0 && s.custom != "" }

func (s JobStatus) IsZero() bool { return s.fixed == 0 && s.custom == "" }

func (s JobStatus) String() string {
	if s.fixed != 0 {
		return s.fixed.String()
	}
	return s.custom
}

func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("job status: %w", err)
	}
	*s = ParseJobStatus(str)
	return nil
}

func (s JobStatus) Value() (driver.Value, error) {
	if s.IsZero() {
		return nil, nil
	}
	return s.String(), nil
}

func (s *JobStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = JobStatus{}
	case string:
		*s = ParseJobStatus(v)
	case []byte:
		*s = ParseJobStatus(string(v))
	default:
		return fmt.Errorf("job status: cannot scan %T", src)
	}
	return nil
}
