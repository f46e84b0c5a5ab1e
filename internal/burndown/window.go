package burndown

import (
	"errors"
	"time"

	"burnline/internal/domain"
)

// ErrUnknownMilestone is returned when the requested milestone is not part of
// the project.
var ErrUnknownMilestone = errors.New("milestone not found in project")

// ResolveWindow picks the report range for scope. today is the caller's
// notion of now; it only matters for the due-date fallback.
func (s Settings) ResolveWindow(project domain.Project, milestones []domain.Milestone, scope Scope, today time.Time) (Window, error) {
	horizon := ToReportingDate(today).AddDate(0, 0, s.HorizonDays)
	if !scope.WholeProject() {
		for _, m := range milestones {
			if m.ID == *scope.MilestoneID {
				return milestoneWindow(m, scope, horizon)
			}
		}
		return Window{}, ErrUnknownMilestone
	}
	return projectWindow(project, milestones, scope, horizon)
}

func milestoneWindow(m domain.Milestone, scope Scope, horizon time.Time) (Window, error) {
	start, hasStart := parseOptionalDate(m.StartDate)
	end, hasEnd := parseOptionalDate(m.DueDate)
	if !hasStart && !hasEnd {
		return Window{}, &MissingWindowError{ProjectID: scope.ProjectID, MilestoneID: m.ID, Reason: "neither start date nor due date is set"}
	}
	if !hasStart {
		created, ok := parseOptionalDate(&m.CreatedAt)
		if !ok {
			return Window{}, &MissingWindowError{ProjectID: scope.ProjectID, MilestoneID: m.ID, Reason: "no start date and creation time is unreadable"}
		}
		start = created
	}
	if !hasEnd {
		end = horizon
	}
	return Window{Start: start, End: end, ScopeName: m.Name}, nil
}

func projectWindow(project domain.Project, milestones []domain.Milestone, scope Scope, horizon time.Time) (Window, error) {
	if len(milestones) == 0 {
		return Window{}, &MissingWindowError{ProjectID: scope.ProjectID, Reason: "project has no milestones"}
	}
	var start, end, earliestCreated time.Time
	var dated int
	for _, m := range milestones {
		mStart, hasStart := parseOptionalDate(m.StartDate)
		mDue, hasDue := parseOptionalDate(m.DueDate)
		if !hasStart && !hasDue {
			continue
		}
		dated++
		if c, ok := parseOptionalDate(&m.CreatedAt); ok && (earliestCreated.IsZero() || c.Before(earliestCreated)) {
			earliestCreated = c
		}
		if hasStart && (start.IsZero() || mStart.Before(start)) {
			start = mStart
		}
		if hasDue && (end.IsZero() || mDue.After(end)) {
			end = mDue
		}
	}
	if dated == 0 {
		return Window{}, &MissingWindowError{ProjectID: scope.ProjectID, Reason: "no milestone has a start or due date"}
	}
	if start.IsZero() {
		start = earliestCreated
	}
	if start.IsZero() {
		return Window{}, &MissingWindowError{ProjectID: scope.ProjectID, Reason: "no milestone has a start date or readable creation time"}
	}
	if end.IsZero() {
		end = horizon
	}
	name := project.Name
	if name == "" {
		name = project.ID
	}
	return Window{Start: start, End: end, ScopeName: name}, nil
}

// parseOptionalDate treats nil, empty and unreadable values as absent.
func parseOptionalDate(v *string) (time.Time, bool) {
	if v == nil || *v == "" {
		return time.Time{}, false
	}
	d, err := ParseDate(*v)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
