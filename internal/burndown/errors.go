package burndown

import "fmt"

// MissingWindowError means the scope has no start or due date to anchor a
// report on.
type MissingWindowError struct {
	ProjectID   string
	MilestoneID string
	Reason      string
}

func (e *MissingWindowError) Error() string {
	if e.MilestoneID != "" {
		return fmt.Sprintf("milestone %s has no burndown window: %s; set a start date or due date", e.MilestoneID, e.Reason)
	}
	return fmt.Sprintf("project %s has no burndown window: %s; set a start date or due date", e.ProjectID, e.Reason)
}

// FetchError wraps a failure reading milestones, tasks or events.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func fetchErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FetchError{Op: op, Err: err}
}
