package domain

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"
)

// Layouts accepted for timestamps, tried in order. Servers may omit the zone;
// such values are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// State labels recorded by the server for a task.
const (
	StateNew       = "new"
	StateAccepted  = "accepted"
	StateCompleted = "completed"
	StateDeclined  = "declined"
	StateCancelled = "cancelled"
)

// Task priorities. The server keeps one dispatch queue per priority.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// TaskID identifies a task. Servers may send it as a JSON string or number;
// it is always encoded as a string.
type TaskID string

func (id TaskID) String() string { return string(id) }

func (id TaskID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

func (id *TaskID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("task id: %w", err)
		}
		*id = TaskID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	*id = TaskID(n.String())
	return nil
}

// Task is a unit of work created by a store manager.
type Task struct {
	ID        TaskID    `json:"id"`
	Title     string    `json:"title"`
	Priority  string    `json:"priority,omitempty"`
	CreatedAt time.Time `json:"creation_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

func (t *Task) UnmarshalJSON(b []byte) error {
	type plain Task
	var aux struct {
		plain
		CreatedAt json.RawMessage `json:"creation_at"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*t = Task(aux.plain)
	t.CreatedAt = parseTime(aux.CreatedAt)
	return nil
}

// StateRecord is one historical state transition of a task. By is nil when
// the transition was system-initiated.
type StateRecord struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
	By    *string   `json:"by"`
}

func (r *StateRecord) UnmarshalJSON(b []byte) error {
	type plain StateRecord
	var aux struct {
		plain
		At json.RawMessage `json:"at"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*r = StateRecord(aux.plain)
	r.At = parseTime(aux.At)
	return nil
}

// parseTime reads a JSON timestamp. Anything unreadable becomes the zero
// time; a bad date never rejects the event carrying it.
func parseTime(raw json.RawMessage) time.Time {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil || s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Actor returns the actor name or an empty string.
func (r StateRecord) Actor() string {
	if r.By == nil {
		return ""
	}
	return *r.By
}

// DisplayState turns a stored state label into the label shown to operators.
func DisplayState(state string) string {
	if state == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(state)
	if r == utf8.RuneError {
		return state
	}
	return string(unicode.ToUpper(r)) + state[size:]
}

// ValidPriority reports whether p names one of the dispatch queues.
func ValidPriority(p string) bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}
