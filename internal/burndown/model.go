// Package burndown projects an append-only task event log into daily
// burndown series for one milestone or for a whole project.
//
// The package splits into a window resolver, a state reconstructor that
// replays events up to a boundary day, and a daily aggregator that walks
// forward one reporting day at a time. Only Engine.Compute performs I/O, via
// Source; everything else is a pure function of its inputs.
package burndown

import "time"

// Scope selects what a report aggregates: one milestone, or the whole project
// when MilestoneID is nil.
type Scope struct {
	ProjectID   string
	MilestoneID *string
}

func (s Scope) WholeProject() bool { return s.MilestoneID == nil }

// admits reports whether a task assigned to ref belongs to the scope.
func (s Scope) admits(ref MilestoneRef) bool {
	if s.WholeProject() {
		return true
	}
	return ref.In(*s.MilestoneID)
}

func (s Scope) matchesCurrent(milestoneID *string) bool {
	if s.WholeProject() {
		return true
	}
	return milestoneID != nil && *milestoneID == *s.MilestoneID
}

// TaskState is a task's membership and status at a point in time.
type TaskState struct {
	InScope bool
	Status  string
}

// State maps task ids to their reconstructed TaskState. Each computation
// builds its own.
type State map[string]TaskState

func (st State) clone() State {
	out := make(State, len(st))
	for id, ts := range st {
		out[id] = ts
	}
	return out
}

// Counts returns how many in-scope tasks are open and done.
func (st State) Counts(done string) (remaining, completed int) {
	for _, ts := range st {
		if !ts.InScope {
			continue
		}
		if ts.Status == done {
			completed++
		} else {
			remaining++
		}
	}
	return remaining, completed
}

// Settings holds the status vocabulary and window defaults.
type Settings struct {
	DoneStatus     string
	BaselineStatus string
	HorizonDays    int
}

func DefaultSettings() Settings {
	return Settings{DoneStatus: "done", BaselineStatus: "backlog", HorizonDays: 14}
}

func (s Settings) statusOr(status string) string {
	if status == "" {
		return s.BaselineStatus
	}
	return status
}

// Window is the resolved report range, both ends inclusive.
type Window struct {
	Start     time.Time
	End       time.Time
	ScopeName string
}

// DailySnapshot is one emitted day. Remaining and Completed are running
// totals, Added and Reopened are deltas for that day.
type DailySnapshot struct {
	Date      string `json:"date" format:"date"`
	Remaining int    `json:"remaining"`
	Completed int    `json:"completed"`
	Added     int    `json:"added"`
	Reopened  int    `json:"reopened"`
}

// Result is a full burndown report.
type Result struct {
	ProjectID         string          `json:"project_id"`
	ScopeID           *string         `json:"scope_id"`
	ScopeName         string          `json:"scope_name"`
	StartDate         string          `json:"start_date" format:"date"`
	EndDate           string          `json:"end_date" format:"date"`
	TotalTasksAtStart int             `json:"total_tasks_at_start"`
	DataAvailableFrom *string         `json:"data_available_from" format:"date"`
	DailySnapshots    []DailySnapshot `json:"daily_snapshots"`
}
