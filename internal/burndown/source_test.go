package burndown

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"burnline/internal/domain"
)

// memSource is an in-memory Source. Events are kept in insertion order and
// the log is expected to be appended chronologically.
type memSource struct {
	project    domain.Project
	milestones []domain.Milestone
	tasks      []domain.Task
	events     []domain.Event
	failOn     string
}

var errBoom = errors.New("boom")

func (m *memSource) fail(op string) error {
	if m.failOn == op {
		return errBoom
	}
	return nil
}

func (m *memSource) GetProject(_ context.Context, id string) (domain.Project, error) {
	return m.project, m.fail("project")
}

func (m *memSource) ListMilestones(_ context.Context, _ string) ([]domain.Milestone, error) {
	return m.milestones, m.fail("milestones")
}

func (m *memSource) ListScopeTasks(_ context.Context, _ string, milestoneID *string) ([]domain.Task, error) {
	var out []domain.Task
	for _, t := range m.tasks {
		if milestoneID == nil || (t.MilestoneID != nil && *t.MilestoneID == *milestoneID) {
			out = append(out, t)
		}
	}
	return out, m.fail("tasks")
}

func (m *memSource) DiscoverTaskIDs(_ context.Context, _ string, milestoneID *string) ([]string, error) {
	var out []string
	for _, e := range m.events {
		if milestoneID == nil {
			out = append(out, e.TargetID)
			continue
		}
		before, after := parsePayload(e.DataBefore), parsePayload(e.DataAfter)
		if before.Milestone.In(*milestoneID) || after.Milestone.In(*milestoneID) {
			out = append(out, e.TargetID)
		}
	}
	return out, m.fail("history")
}

func (m *memSource) ListTaskEvents(_ context.Context, _ string, ids []string, types []domain.EventType) ([]domain.Event, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	allowed := map[domain.EventType]bool{}
	for _, t := range types {
		allowed[t] = true
	}
	var out []domain.Event
	for _, e := range m.events {
		if want[e.TargetID] && allowed[e.Type] {
			out = append(out, e)
		}
	}
	return out, m.fail("events")
}

// logBuilder appends events with increasing ids.
type logBuilder struct {
	events []domain.Event
}

// at returns the UTC timestamp of hour h on a reporting-calendar day.
func at(t *testing.T, day string, h int) string {
	t.Helper()
	d, err := time.ParseInLocation("2006-01-02", day, ReportingZone)
	if err != nil {
		t.Fatalf("parse %s: %v", day, err)
	}
	return d.Add(time.Duration(h) * time.Hour).UTC().Format(time.RFC3339Nano)
}

func (b *logBuilder) add(typ domain.EventType, task, ts string, before, after any) {
	enc := func(v any) json.RawMessage {
		if v == nil {
			return nil
		}
		raw, _ := json.Marshal(v)
		return raw
	}
	b.events = append(b.events, domain.Event{
		ID:         int64(len(b.events) + 1),
		ProjectID:  "p1",
		Type:       typ,
		TargetID:   task,
		ActorID:    "tester",
		DataBefore: enc(before),
		DataAfter:  enc(after),
		OccurredAt: ts,
	})
}

func (b *logBuilder) created(task, ts, status string, milestone *string) {
	b.add(domain.EventCreated, task, ts, nil, domain.TaskData{Title: task, Status: status, MilestoneID: milestone})
}

func (b *logBuilder) status(task, ts, from, to string) {
	b.add(domain.EventStatusChanged, task, ts, domain.StatusData{Status: from}, domain.StatusData{Status: to})
}

func (b *logBuilder) moved(task, ts string, from, to *string) {
	b.add(domain.EventUpdated, task, ts, domain.TaskData{Title: task, MilestoneID: from}, domain.TaskData{Title: task, MilestoneID: to})
}

func (b *logBuilder) deleted(task, ts, status string, milestone *string) {
	b.add(domain.EventDeleted, task, ts, domain.TaskData{Title: task, Status: status, MilestoneID: milestone}, nil)
}

func strp(s string) *string { return &s }

func fixedNow(t *testing.T, day string) func() time.Time {
	t.Helper()
	d, err := time.ParseInLocation("2006-01-02", day, ReportingZone)
	if err != nil {
		t.Fatal(err)
	}
	return func() time.Time { return d.Add(12 * time.Hour) }
}
