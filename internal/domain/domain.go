package domain

import "encoding/json"

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Milestone is the scope a task can belong to. Dates are reporting-calendar
// days formatted as 2006-01-02.
type Milestone struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	Name      string  `json:"name"`
	StartDate *string `json:"start_date,omitempty" format:"date"`
	DueDate   *string `json:"due_date,omitempty" format:"date"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	MilestoneID *string `json:"milestone_id,omitempty"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type EventType string

const (
	EventCreated       EventType = "created"
	EventUpdated       EventType = "updated"
	EventStatusChanged EventType = "status_changed"
	EventDeleted       EventType = "deleted"
)

// CanonicalEventTypes is the set of task event types the burndown engine replays.
var CanonicalEventTypes = []EventType{EventCreated, EventUpdated, EventStatusChanged, EventDeleted}

func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventUpdated, EventStatusChanged, EventDeleted:
		return true
	}
	return false
}

// Event is one append-only audit row. DataBefore and DataAfter hold the JSON
// encoding of a TaskData snapshot, or nil.
type Event struct {
	ID         int64           `json:"id"`
	ProjectID  string          `json:"project_id"`
	Type       EventType       `json:"event_type"`
	TargetID   string          `json:"target_id"`
	ActorID    string          `json:"actor_id"`
	DataBefore json.RawMessage `json:"data_before,omitempty"`
	DataAfter  json.RawMessage `json:"data_after,omitempty"`
	OccurredAt string          `json:"occurred_at" format:"date-time"`
}

// TaskData is the task snapshot written into event payloads. MilestoneID is
// always emitted so that null means "unassigned" rather than "unknown".
type TaskData struct {
	Title       string  `json:"title,omitempty"`
	Status      string  `json:"status,omitempty"`
	MilestoneID *string `json:"milestone_id"`
}

// StatusData is the payload of status_changed events.
type StatusData struct {
	Status string `json:"status"`
}
