package burndown

import (
	"time"

	"burnline/internal/domain"
)

// StateAtBoundary rebuilds every candidate task's state as of the start of
// boundary: all events on earlier reporting days are applied, later ones are
// not. events must be in store order.
//
// Tasks that never produced an event keep their current row state. Any task
// with at least one event anywhere in the log starts from the neutral
// baseline and is derived from replay alone.
func (s Settings) StateAtBoundary(tasks []domain.Task, events []Event, scope Scope, boundary time.Time) State {
	st := make(State, len(tasks))
	for _, t := range tasks {
		st[t.ID] = TaskState{InScope: scope.matchesCurrent(t.MilestoneID), Status: s.statusOr(t.Status)}
	}
	for _, e := range events {
		st[e.TaskID] = TaskState{InScope: false, Status: s.BaselineStatus}
	}
	day := ToReportingDate(boundary)
	for _, e := range events {
		if !e.Day.Before(day) {
			continue
		}
		s.replay(st, scope, e)
	}
	return st
}

func (s Settings) replay(st State, scope Scope, e Event) {
	cur := st[e.TaskID]
	switch c := e.Change.(type) {
	case Created:
		cur.Status = s.statusOr(c.Status)
		cur.InScope = scope.admits(c.Milestone)
	case Updated:
		if scope.WholeProject() {
			break
		}
		ms := *scope.MilestoneID
		if c.After.In(ms) && !c.Before.In(ms) {
			cur.InScope = true
		} else if c.After.Known && !c.After.In(ms) && c.Before.In(ms) {
			cur.InScope = false
		}
	case StatusChanged:
		if c.To != "" {
			cur.Status = c.To
		}
	case Deleted:
		cur.InScope = false
	}
	st[e.TaskID] = cur
}
