package burndown

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"burnline/internal/domain"
)

// Source is the read-only store the engine pulls from.
type Source interface {
	GetProject(ctx context.Context, projectID string) (domain.Project, error)
	ListMilestones(ctx context.Context, projectID string) ([]domain.Milestone, error)
	// ListScopeTasks returns the current rows of tasks assigned to the
	// milestone, or every project task when milestoneID is nil.
	ListScopeTasks(ctx context.Context, projectID string, milestoneID *string) ([]domain.Task, error)
	// DiscoverTaskIDs returns ids of tasks whose events ever referenced the
	// scope, including tasks that have since moved out or been deleted.
	DiscoverTaskIDs(ctx context.Context, projectID string, milestoneID *string) ([]string, error)
	// ListTaskEvents returns events for the given tasks ordered by
	// occurred_at, then insertion order.
	ListTaskEvents(ctx context.Context, projectID string, taskIDs []string, types []domain.EventType) ([]domain.Event, error)
}

// Engine computes burndown reports. It holds no per-report state and is safe
// for concurrent use.
type Engine struct {
	Source   Source
	Settings Settings
	Now      func() time.Time
	// Workers bounds ComputeEach parallelism; zero means one per milestone.
	Workers int
}

func New(src Source, settings Settings) Engine {
	return Engine{Source: src, Settings: settings, Now: time.Now}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Compute builds the burndown for one milestone, or for the whole project
// when milestoneID is nil. It either returns a complete Result or an error.
func (e Engine) Compute(ctx context.Context, projectID string, milestoneID *string) (Result, error) {
	today := e.now()
	scope := Scope{ProjectID: projectID, MilestoneID: milestoneID}

	var (
		project    domain.Project
		milestones []domain.Milestone
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := e.Source.GetProject(gctx, projectID)
		project = p
		return fetchErr("project", err)
	})
	g.Go(func() error {
		ms, err := e.Source.ListMilestones(gctx, projectID)
		milestones = ms
		return fetchErr("milestones", err)
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	window, err := e.Settings.ResolveWindow(project, milestones, scope, today)
	if err != nil {
		return Result{}, err
	}

	tasks, ids, err := e.candidates(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	raw, err := e.Source.ListTaskEvents(ctx, projectID, ids, domain.CanonicalEventTypes)
	if err != nil {
		return Result{}, fetchErr("events", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	events := DecodeAll(raw)
	sort.SliceStable(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })

	state0 := e.Settings.StateAtBoundary(tasks, events, scope, window.Start)
	remaining, completed := state0.Counts(e.Settings.DoneStatus)

	res := Result{
		ProjectID:         projectID,
		ScopeID:           milestoneID,
		ScopeName:         window.ScopeName,
		StartDate:         DayKey(window.Start),
		EndDate:           DayKey(window.End),
		TotalTasksAtStart: remaining + completed,
		DailySnapshots:    e.Settings.Aggregate(state0, events, scope, window.Start, window.End, today),
	}
	if len(events) > 0 {
		from := DayKey(events[0].Day)
		res.DataAvailableFrom = &from
	}
	return res, nil
}

// candidates fetches the scope's current tasks and the ids discovered in the
// event log concurrently and returns the tasks plus the union of ids.
func (e Engine) candidates(ctx context.Context, scope Scope) ([]domain.Task, []string, error) {
	var (
		tasks      []domain.Task
		historical []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ts, err := e.Source.ListScopeTasks(gctx, scope.ProjectID, scope.MilestoneID)
		tasks = ts
		return fetchErr("tasks", err)
	})
	g.Go(func() error {
		ids, err := e.Source.DiscoverTaskIDs(gctx, scope.ProjectID, scope.MilestoneID)
		historical = ids
		return fetchErr("task history", err)
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	seen := make(map[string]bool, len(tasks)+len(historical))
	ids := make([]string, 0, len(tasks)+len(historical))
	for _, t := range tasks {
		if !seen[t.ID] {
			seen[t.ID] = true
			ids = append(ids, t.ID)
		}
	}
	for _, id := range historical {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return tasks, ids, nil
}

// ComputeEach builds one report per milestone in parallel, in the order of
// milestoneIDs. Milestones without a window are left out; any other error
// aborts the whole batch.
func (e Engine) ComputeEach(ctx context.Context, projectID string, milestoneIDs []string) ([]Result, error) {
	results := make([]*Result, len(milestoneIDs))
	g, gctx := errgroup.WithContext(ctx)
	if e.Workers > 0 {
		g.SetLimit(e.Workers)
	}
	for i, id := range milestoneIDs {
		g.Go(func() error {
			res, err := e.Compute(gctx, projectID, &id)
			var mwe *MissingWindowError
			if errors.As(err, &mwe) {
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}
