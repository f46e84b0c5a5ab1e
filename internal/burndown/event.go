package burndown

import (
	"bytes"
	"encoding/json"
	"time"

	"burnline/internal/domain"
)

// Event is a decoded task event bucketed into its reporting day.
type Event struct {
	ID     int64
	TaskID string
	At     time.Time
	Day    time.Time
	Change Change
}

// Change is one of Created, Updated, StatusChanged or Deleted.
type Change interface {
	change()
}

// Created carries the task's initial status and milestone. An empty Status
// means the payload did not assert one.
type Created struct {
	Status    string
	Milestone MilestoneRef
}

// Updated carries the milestone assignment around a task edit.
type Updated struct {
	Before MilestoneRef
	After  MilestoneRef
}

// StatusChanged carries the status transition. An empty To means the payload
// is unusable and the event is a no-op.
type StatusChanged struct {
	From string
	To   string
}

type Deleted struct{}

func (Created) change()       {}
func (Updated) change()       {}
func (StatusChanged) change() {}
func (Deleted) change()       {}

// MilestoneRef is a milestone_id field as seen in a payload. Known is false
// when the field was absent; ID is nil when it was explicitly null.
type MilestoneRef struct {
	Known bool
	ID    *string
}

// In reports whether the reference points at milestoneID.
func (r MilestoneRef) In(milestoneID string) bool {
	return r.Known && r.ID != nil && *r.ID == milestoneID
}

type payload struct {
	Status    string
	Milestone MilestoneRef
}

func parsePayload(raw json.RawMessage) payload {
	var p payload
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return p
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return p
	}
	if s, ok := fields["status"]; ok {
		_ = json.Unmarshal(s, &p.Status)
	}
	if m, ok := fields["milestone_id"]; ok {
		var id *string
		if err := json.Unmarshal(m, &id); err == nil {
			p.Milestone = MilestoneRef{Known: true, ID: id}
		}
	}
	return p
}

// Decode converts a stored event into its typed form. It reports false for
// events that cannot be placed on the calendar or are not task lifecycle
// events.
func Decode(e domain.Event) (Event, bool) {
	at, err := time.Parse(time.RFC3339Nano, e.OccurredAt)
	if err != nil {
		return Event{}, false
	}
	out := Event{ID: e.ID, TaskID: e.TargetID, At: at, Day: ToReportingDate(at)}
	before := parsePayload(e.DataBefore)
	after := parsePayload(e.DataAfter)
	switch e.Type {
	case domain.EventCreated:
		out.Change = Created{Status: after.Status, Milestone: after.Milestone}
	case domain.EventUpdated:
		out.Change = Updated{Before: before.Milestone, After: after.Milestone}
	case domain.EventStatusChanged:
		out.Change = StatusChanged{From: before.Status, To: after.Status}
	case domain.EventDeleted:
		out.Change = Deleted{}
	default:
		return Event{}, false
	}
	return out, true
}

// DecodeAll decodes events, dropping the ones Decode rejects. Store order is
// preserved.
func DecodeAll(events []domain.Event) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if d, ok := Decode(e); ok {
			out = append(out, d)
		}
	}
	return out
}
