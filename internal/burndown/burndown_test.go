package burndown

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"burnline/internal/domain"
)

func newTestEngine(t *testing.T, src *memSource, today string) Engine {
	t.Helper()
	e := New(src, DefaultSettings())
	e.Now = fixedNow(t, today)
	return e
}

func sprintMilestone(id, start, due string) domain.Milestone {
	m := domain.Milestone{ID: id, ProjectID: "p1", Name: "Sprint " + id, CreatedAt: "2023-12-20T00:00:00Z"}
	if start != "" {
		m.StartDate = strp(start)
	}
	if due != "" {
		m.DueDate = strp(due)
	}
	return m
}

func snaps(rows ...[5]any) []DailySnapshot {
	out := make([]DailySnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, DailySnapshot{Date: r[0].(string), Remaining: r[1].(int), Completed: r[2].(int), Added: r[3].(int), Reopened: r[4].(int)})
	}
	return out
}

func TestComputeCompletionWithinMilestone(t *testing.T) {
	m1 := strp("m1")
	var log logBuilder
	for _, id := range []string{"A", "B", "C"} {
		log.created(id, at(t, "2024-01-01", 9), "backlog", m1)
	}
	log.status("A", at(t, "2024-01-03", 10), "backlog", "done")
	src := &memSource{
		project:    domain.Project{ID: "p1", Name: "Apollo"},
		milestones: []domain.Milestone{sprintMilestone("m1", "2024-01-01", "2024-01-05")},
		events:     log.events,
	}

	res, err := newTestEngine(t, src, "2024-01-10").Compute(context.Background(), "p1", m1)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// Creation on the start day counts as scope added on day one.
	want := snaps(
		[5]any{"2024-01-01", 3, 0, 3, 0},
		[5]any{"2024-01-02", 3, 0, 0, 0},
		[5]any{"2024-01-03", 2, 1, 0, 0},
		[5]any{"2024-01-04", 2, 1, 0, 0},
		[5]any{"2024-01-05", 2, 1, 0, 0},
	)
	if diff := cmp.Diff(want, res.DailySnapshots); diff != "" {
		t.Fatalf("snapshots mismatch (-want +got):\n%s", diff)
	}
	if res.ScopeName != "Sprint m1" || res.StartDate != "2024-01-01" || res.EndDate != "2024-01-05" {
		t.Fatalf("unexpected header %+v", res)
	}
	if res.TotalTasksAtStart != 0 {
		t.Fatalf("expected no tasks before the start day, got %d", res.TotalTasksAtStart)
	}
	if res.DataAvailableFrom == nil || *res.DataAvailableFrom != "2024-01-01" {
		t.Fatalf("unexpected data_available_from %v", res.DataAvailableFrom)
	}
}

func TestComputeTasksCreatedBeforeWindow(t *testing.T) {
	m1 := strp("m1")
	var log logBuilder
	for _, id := range []string{"A", "B", "C"} {
		log.created(id, at(t, "2023-12-29", 9), "backlog", m1)
	}
	log.status("A", at(t, "2024-01-03", 10), "backlog", "done")
	src := &memSource{
		milestones: []domain.Milestone{sprintMilestone("m1", "2024-01-01", "2024-01-05")},
		events:     log.events,
	}
	res, err := newTestEngine(t, src, "2024-01-10").Compute(context.Background(), "p1", m1)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := snaps(
		[5]any{"2024-01-01", 3, 0, 0, 0},
		[5]any{"2024-01-02", 3, 0, 0, 0},
		[5]any{"2024-01-03", 2, 1, 0, 0},
		[5]any{"2024-01-04", 2, 1, 0, 0},
		[5]any{"2024-01-05", 2, 1, 0, 0},
	)
	if diff := cmp.Diff(want, res.DailySnapshots); diff != "" {
		t.Fatalf("snapshots mismatch (-want +got):\n%s", diff)
	}
	if res.TotalTasksAtStart != 3 {
		t.Fatalf("expected 3 tasks at start, got %d", res.TotalTasksAtStart)
	}
	if *res.DataAvailableFrom != "2023-12-29" {
		t.Fatalf("unexpected data_available_from %s", *res.DataAvailableFrom)
	}
}

func TestComputeReopen(t *testing.T) {
	m1 := strp("m1")
	var log logBuilder
	for _, id := range []string{"A", "B", "C"} {
		log.created(id, at(t, "2023-12-30", 9), "backlog", m1)
	}
	log.status("B", at(t, "2024-01-02", 11), "backlog", "done")
	log.status("B", at(t, "2024-01-04", 15), "done", "in_progress")
	src := &memSource{
		milestones: []domain.Milestone{sprintMilestone("m1", "2024-01-01", "2024-01-05")},
		events:     log.events,
	}
	res, err := newTestEngine(t, src, "2024-01-10").Compute(context.Background(), "p1", m1)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := snaps(
		[5]any{"2024-01-01", 3, 0, 0, 0},
		[5]any{"2024-01-02", 2, 1, 0, 0},
		[5]any{"2024-01-03", 2, 1, 0, 0},
		[5]any{"2024-01-04", 3, 0, 0, 1},
		[5]any{"2024-01-05", 3, 0, 0, 0},
	)
	if diff := cmp.Diff(want, res.DailySnapshots); diff != "" {
		t.Fatalf("snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeWholeProjectWindow(t *testing.T) {
	src := &memSource{
		project: domain.Project{ID: "p1", Name: "Apollo"},
		milestones: []domain.Milestone{
			sprintMilestone("m1", "2024-02-01", ""),
			sprintMilestone("m2", "", "2024-02-20"),
		},
	}
	res, err := newTestEngine(t, src, "2024-03-01").Compute(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.StartDate != "2024-02-01" || res.EndDate != "2024-02-20" {
		t.Fatalf("unexpected window %s..%s", res.StartDate, res.EndDate)
	}
	if res.ScopeName != "Apollo" || res.ScopeID != nil {
		t.Fatalf("unexpected scope %q %v", res.ScopeName, res.ScopeID)
	}
	if len(res.DailySnapshots) != 20 {
		t.Fatalf("expected 20 days, got %d", len(res.DailySnapshots))
	}
	if res.DataAvailableFrom != nil {
		t.Fatalf("expected no event data, got %s", *res.DataAvailableFrom)
	}
}

func TestComputeWholeProjectIgnoresUndatedMilestones(t *testing.T) {
	early := sprintMilestone("m0", "", "")
	early.CreatedAt = "2023-06-01T00:00:00Z"
	src := &memSource{
		project:    domain.Project{ID: "p1", Name: "Apollo"},
		milestones: []domain.Milestone{early, sprintMilestone("m1", "", "2024-01-03")},
	}
	res, err := newTestEngine(t, src, "2024-01-10").Compute(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// Start falls back to m1's creation day, not the undated m0's.
	if res.StartDate != "2023-12-20" || res.EndDate != "2024-01-03" {
		t.Fatalf("unexpected window %s..%s", res.StartDate, res.EndDate)
	}

	src.milestones = []domain.Milestone{early}
	_, err = newTestEngine(t, src, "2024-01-10").Compute(context.Background(), "p1", nil)
	var mwe *MissingWindowError
	if !errors.As(err, &mwe) {
		t.Fatalf("expected MissingWindowError when every milestone is undated, got %v", err)
	}
}

func TestComputeMissingWindow(t *testing.T) {
	src := &memSource{milestones: []domain.Milestone{sprintMilestone("m1", "", "")}}
	_, err := newTestEngine(t, src, "2024-01-10").Compute(context.Background(), "p1", strp("m1"))
	var mwe *MissingWindowError
	if !errors.As(err, &mwe) {
		t.Fatalf("expected MissingWindowError, got %v", err)
	}
	if mwe.MilestoneID != "m1" {
		t.Fatalf("unexpected milestone %q", mwe.MilestoneID)
	}

	_, err = newTestEngine(t, &memSource{}, "2024-01-10").Compute(context.Background(), "p1", nil)
	if !errors.As(err, &mwe) {
		t.Fatalf("expected MissingWindowError for project without milestones, got %v", err)
	}
}

func TestComputeUnknownMilestone(t *testing.T) {
	src := &memSource{milestones: []domain.Milestone{sprintMilestone("m1", "2024-01-01", "")}}
	_, err := newTestEngine(t, src, "2024-01-10").Compute(context.Background(), "p1", strp("nope"))
	if !errors.Is(err, ErrUnknownMilestone) {
		t.Fatalf("expected ErrUnknownMilestone, got %v", err)
	}
}

func TestComputeHardDeletedTask(t *testing.T) {
	m1 := strp("m1")
	var log logBuilder
	log.created("A", at(t, "2023-12-30", 9), "backlog", m1)
	log.created("D", at(t, "2023-12-30", 10), "todo", m1)
	log.deleted("D", at(t, "2024-01-03", 8), "todo", m1)
	src := &memSource{
		milestones: []domain.Milestone{sprintMilestone("m1", "2024-01-01", "2024-01-04")},
		// D is gone from the task table; only A has a current row.
		tasks:  []domain.Task{{ID: "A", ProjectID: "p1", MilestoneID: m1, Status: "backlog"}},
		events: log.events,
	}
	res, err := newTestEngine(t, src, "2024-01-10").Compute(context.Background(), "p1", m1)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := snaps(
		[5]any{"2024-01-01", 2, 0, 0, 0},
		[5]any{"2024-01-02", 2, 0, 0, 0},
		[5]any{"2024-01-03", 1, 0, 0, 0},
		[5]any{"2024-01-04", 1, 0, 0, 0},
	)
	if diff := cmp.Diff(want, res.DailySnapshots); diff != "" {
		t.Fatalf("snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeScopeExitMidWindow(t *testing.T) {
	m1, m2 := strp("m1"), strp("m2")
	var log logBuilder
	log.created("A", at(t, "2023-12-30", 9), "in_progress", m1)
	log.created("B", at(t, "2023-12-30", 9), "backlog", m1)
	log.moved("A", at(t, "2024-01-02", 14), m1, m2)
	src := &memSource{
		milestones: []domain.Milestone{sprintMilestone("m1", "2024-01-01", "2024-01-03"), sprintMilestone("m2", "2024-01-01", "2024-01-03")},
		tasks: []domain.Task{
			{ID: "A", ProjectID: "p1", MilestoneID: m2, Status: "in_progress"},
			{ID: "B", ProjectID: "p1", MilestoneID: m1, Status: "backlog"},
		},
		events: log.events,
	}
	eng := newTestEngine(t, src, "2024-01-10")
	res, err := eng.Compute(context.Background(), "p1", m1)
	if err != nil {
		t.Fatalf("compute m1: %v", err)
	}
	want := snaps(
		[5]any{"2024-01-01", 2, 0, 0, 0},
		[5]any{"2024-01-02", 1, 0, 0, 0},
		[5]any{"2024-01-03", 1, 0, 0, 0},
	)
	if diff := cmp.Diff(want, res.DailySnapshots); diff != "" {
		t.Fatalf("m1 snapshots mismatch (-want +got):\n%s", diff)
	}

	res, err = eng.Compute(context.Background(), "p1", m2)
	if err != nil {
		t.Fatalf("compute m2: %v", err)
	}
	want = snaps(
		[5]any{"2024-01-01", 0, 0, 0, 0},
		[5]any{"2024-01-02", 1, 0, 1, 0},
		[5]any{"2024-01-03", 1, 0, 0, 0},
	)
	if diff := cmp.Diff(want, res.DailySnapshots); diff != "" {
		t.Fatalf("m2 snapshots mismatch (-want +got):\n%s", diff)
	}

	// Moving between milestones never changes whole-project membership.
	res, err = eng.Compute(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("compute project: %v", err)
	}
	for _, s := range res.DailySnapshots {
		if s.Remaining != 2 || s.Added != 0 {
			t.Fatalf("unexpected project snapshot %+v", s)
		}
	}
}

func TestComputeFallsBackToCurrentStateWithoutEvents(t *testing.T) {
	m1 := strp("m1")
	src := &memSource{
		milestones: []domain.Milestone{sprintMilestone("m1", "2024-01-01", "2024-01-02")},
		tasks: []domain.Task{
			{ID: "legacy-open", ProjectID: "p1", MilestoneID: m1, Status: "todo"},
			{ID: "legacy-done", ProjectID: "p1", MilestoneID: m1, Status: "done"},
		},
	}
	res, err := newTestEngine(t, src, "2024-01-10").Compute(context.Background(), "p1", m1)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := snaps(
		[5]any{"2024-01-01", 1, 1, 0, 0},
		[5]any{"2024-01-02", 1, 1, 0, 0},
	)
	if diff := cmp.Diff(want, res.DailySnapshots); diff != "" {
		t.Fatalf("snapshots mismatch (-want +got):\n%s", diff)
	}
	if res.TotalTasksAtStart != 2 || res.DataAvailableFrom != nil {
		t.Fatalf("unexpected header %+v", res)
	}
}

func TestComputeStopsAtToday(t *testing.T) {
	src := &memSource{milestones: []domain.Milestone{sprintMilestone("m1", "2024-01-01", "2024-01-31")}}
	res, err := newTestEngine(t, src, "2024-01-03").Compute(context.Background(), "p1", strp("m1"))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(res.DailySnapshots) != 3 || res.DailySnapshots[2].Date != "2024-01-03" {
		t.Fatalf("expected series to stop at today, got %+v", res.DailySnapshots)
	}
	if res.EndDate != "2024-01-31" {
		t.Fatalf("end date should stay the due date, got %s", res.EndDate)
	}

	res, err = newTestEngine(t, src, "2023-12-01").Compute(context.Background(), "p1", strp("m1"))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(res.DailySnapshots) != 0 {
		t.Fatalf("expected empty series before the window, got %d", len(res.DailySnapshots))
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	m1 := strp("m1")
	var log logBuilder
	log.created("A", at(t, "2023-12-30", 1), "backlog", m1)
	log.created("B", at(t, "2024-01-01", 1), "backlog", nil)
	log.moved("B", at(t, "2024-01-01", 2), nil, m1)
	log.status("A", at(t, "2024-01-02", 3), "backlog", "done")
	log.status("B", at(t, "2024-01-02", 4), "backlog", "done")
	log.status("A", at(t, "2024-01-03", 5), "done", "todo")
	src := &memSource{
		milestones: []domain.Milestone{sprintMilestone("m1", "2024-01-01", "2024-01-04")},
		events:     log.events,
	}
	eng := newTestEngine(t, src, "2024-01-10")
	first, err := eng.Compute(context.Background(), "p1", m1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := eng.Compute(context.Background(), "p1", m1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("results differ:\n%s", diff)
	}
}

func TestComputeWrapsFetchErrors(t *testing.T) {
	for _, op := range []string{"project", "milestones", "tasks", "history", "events"} {
		t.Run(op, func(t *testing.T) {
			src := &memSource{
				milestones: []domain.Milestone{sprintMilestone("m1", "2024-01-01", "2024-01-02")},
				failOn:     op,
			}
			_, err := newTestEngine(t, src, "2024-01-10").Compute(context.Background(), "p1", strp("m1"))
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FetchError, got %v", err)
			}
			if !errors.Is(err, errBoom) {
				t.Fatalf("expected wrapped cause, got %v", err)
			}
		})
	}
}

func TestComputeHonorsCancellation(t *testing.T) {
	src := &memSource{milestones: []domain.Milestone{sprintMilestone("m1", "2024-01-01", "2024-01-02")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestEngine(t, src, "2024-01-10").Compute(ctx, "p1", strp("m1")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestComputeEachSkipsWindowlessMilestones(t *testing.T) {
	src := &memSource{milestones: []domain.Milestone{
		sprintMilestone("m1", "2024-01-01", "2024-01-02"),
		sprintMilestone("m2", "", ""),
		sprintMilestone("m3", "2024-01-02", "2024-01-03"),
	}}
	eng := newTestEngine(t, src, "2024-01-10")
	eng.Workers = 2
	results, err := eng.ComputeEach(context.Background(), "p1", []string{"m1", "m2", "m3"})
	if err != nil {
		t.Fatalf("compute each: %v", err)
	}
	var got []string
	for _, r := range results {
		got = append(got, *r.ScopeID)
	}
	if diff := cmp.Diff([]string{"m1", "m3"}, got); diff != "" {
		t.Fatalf("unexpected scopes (-want +got):\n%s", diff)
	}
}
