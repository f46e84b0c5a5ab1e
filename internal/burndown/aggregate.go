package burndown

import "time"

// Aggregate walks every reporting day from start through the earlier of end
// and today, applying that day's events to a copy of state0 and emitting one
// snapshot per day. state0 must be StateAtBoundary(..., start); it is not
// modified.
func (s Settings) Aggregate(state0 State, events []Event, scope Scope, start, end, today time.Time) []DailySnapshot {
	st := state0.clone()
	remaining, completed := st.Counts(s.DoneStatus)

	first := ToReportingDate(start)
	last := minDay(ToReportingDate(end), ToReportingDate(today))
	snapshots := []DailySnapshot{}

	i := 0
	for i < len(events) && events[i].Day.Before(first) {
		i++
	}
	for d := first; !d.After(last); d = NextReportingDay(d) {
		var day dayTally
		for i < len(events) && !events[i].Day.After(d) {
			if events[i].Day.Equal(d) {
				s.step(st, scope, events[i], &day, &remaining)
			}
			i++
		}
		remaining = remaining - day.completed + day.reopened + day.added
		completed += day.completed - day.reopened + day.carried
		snapshots = append(snapshots, DailySnapshot{
			Date:      DayKey(d),
			Remaining: max(0, remaining),
			Completed: max(0, completed),
			Added:     day.added,
			Reopened:  day.reopened,
		})
	}
	return snapshots
}

type dayTally struct {
	completed int
	reopened  int
	added     int
	// carried is the net number of done tasks moved into the scope by
	// reassignment; their completion travels with them.
	carried int
}

// step applies one event. Scope exits adjust remaining directly so the
// counter moves together with the membership change.
func (s Settings) step(st State, scope Scope, e Event, day *dayTally, remaining *int) {
	cur, ok := st[e.TaskID]
	if !ok {
		cur = TaskState{Status: s.BaselineStatus}
	}
	open := cur.Status != s.DoneStatus
	exit := func() {
		cur.InScope = false
		if open {
			*remaining--
		}
	}
	switch c := e.Change.(type) {
	case StatusChanged:
		if c.To == "" {
			break
		}
		if cur.InScope {
			wasDone, isDone := cur.Status == s.DoneStatus, c.To == s.DoneStatus
			switch {
			case !wasDone && isDone:
				day.completed++
			case wasDone && !isDone:
				day.reopened++
			}
		}
		cur.Status = c.To
	case Created:
		cur.Status = s.statusOr(c.Status)
		if scope.admits(c.Milestone) && !cur.InScope && cur.Status != s.DoneStatus {
			cur.InScope = true
			day.added++
		}
	case Updated:
		if scope.WholeProject() {
			break
		}
		ms := *scope.MilestoneID
		switch {
		case c.After.In(ms) && !c.Before.In(ms) && !cur.InScope:
			cur.InScope = true
			if open {
				day.added++
			} else {
				day.carried++
			}
		case c.After.Known && !c.After.In(ms) && c.Before.In(ms) && cur.InScope:
			exit()
			if !open {
				day.carried--
			}
		}
	case Deleted:
		if cur.InScope {
			exit()
		}
	}
	st[e.TaskID] = cur
}
