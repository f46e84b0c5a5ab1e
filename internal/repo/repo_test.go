package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"burnline/internal/config"
	"burnline/internal/db"
	"burnline/internal/domain"
	"burnline/internal/events"
	"burnline/internal/migrate"
	"burnline/internal/repo"
)

func openRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))
	r := repo.Repo{DB: conn}
	inTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.InsertProject(ctx, tx, domain.Project{ID: "p1", Name: "P1", CreatedAt: "2024-01-01T00:00:00.000000000Z"}))
		require.NoError(t, r.InsertMilestone(ctx, tx, domain.Milestone{ID: "m1", ProjectID: "p1", Name: "M1", CreatedAt: "2024-01-01T00:00:00.000000000Z"}))
		require.NoError(t, r.InsertMilestone(ctx, tx, domain.Milestone{ID: "m2", ProjectID: "p1", Name: "M2", CreatedAt: "2024-01-02T00:00:00.000000000Z"}))
	})
	return r, ctx
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := r.DB.Begin()
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

type appender struct {
	w   events.Writer
	now time.Time
}

func newAppender() *appender {
	a := &appender{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	a.w = events.Writer{Now: func() time.Time { return a.now }}
	return a
}

func (a *appender) append(t *testing.T, r repo.Repo, typ domain.EventType, task string, before, after any) {
	t.Helper()
	inTx(t, r, func(tx *sql.Tx) {
		_, err := a.w.Append(context.Background(), tx, "p1", typ, task, "tester", before, after)
		require.NoError(t, err)
	})
}

func strp(s string) *string { return &s }

func TestDiscoverTaskIDsFindsTasksThatLeft(t *testing.T) {
	r, ctx := openRepo(t)
	a := newAppender()
	a.append(t, r, domain.EventCreated, "stay", nil, domain.TaskData{Status: "todo", MilestoneID: strp("m1")})
	a.append(t, r, domain.EventCreated, "moved", nil, domain.TaskData{Status: "todo", MilestoneID: strp("m1")})
	a.append(t, r, domain.EventUpdated, "moved", domain.TaskData{MilestoneID: strp("m1")}, domain.TaskData{MilestoneID: strp("m2")})
	a.append(t, r, domain.EventCreated, "joined", nil, domain.TaskData{Status: "todo"})
	a.append(t, r, domain.EventUpdated, "joined", domain.TaskData{}, domain.TaskData{MilestoneID: strp("m1")})
	a.append(t, r, domain.EventCreated, "other", nil, domain.TaskData{Status: "todo", MilestoneID: strp("m2")})
	a.append(t, r, domain.EventDeleted, "gone", domain.TaskData{Status: "todo", MilestoneID: strp("m1")}, nil)

	ids, err := r.DiscoverTaskIDs(ctx, "p1", strp("m1"))
	require.NoError(t, err)
	require.Equal(t, []string{"gone", "joined", "moved", "stay"}, ids)

	ids, err = r.DiscoverTaskIDs(ctx, "p1", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"gone", "joined", "moved", "other", "stay"}, ids)
}

func TestListTaskEventsOrdersByTimeThenInsertion(t *testing.T) {
	r, ctx := openRepo(t)
	a := newAppender()
	a.now = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	a.append(t, r, domain.EventStatusChanged, "A", domain.StatusData{Status: "todo"}, domain.StatusData{Status: "done"})
	a.now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a.append(t, r, domain.EventCreated, "A", nil, domain.TaskData{Status: "todo"})
	a.append(t, r, domain.EventCreated, "B", nil, domain.TaskData{Status: "todo"})
	a.append(t, r, domain.EventCreated, "C", nil, domain.TaskData{Status: "todo"})

	evts, err := r.ListTaskEvents(ctx, "p1", []string{"A", "B"}, domain.CanonicalEventTypes)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	require.Equal(t, "A", evts[0].TargetID)
	require.Equal(t, domain.EventCreated, evts[0].Type)
	require.Equal(t, "B", evts[1].TargetID)
	require.Equal(t, domain.EventStatusChanged, evts[2].Type)

	evts, err = r.ListTaskEvents(ctx, "p1", []string{"A"}, []domain.EventType{domain.EventStatusChanged})
	require.NoError(t, err)
	require.Len(t, evts, 1)

	evts, err = r.ListTaskEvents(ctx, "p1", nil, domain.CanonicalEventTypes)
	require.NoError(t, err)
	require.Empty(t, evts)
}

func TestTaskRowsAndScope(t *testing.T) {
	r, ctx := openRepo(t)
	inTx(t, r, func(tx *sql.Tx) {
		for i, id := range []string{"t1", "t2", "t3"} {
			task := domain.Task{ID: id, ProjectID: "p1", Title: id, Status: "todo",
				CreatedAt: time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC).Format(events.TimestampLayout)}
			task.UpdatedAt = task.CreatedAt
			if id != "t3" {
				task.MilestoneID = strp("m1")
			}
			require.NoError(t, r.InsertTask(ctx, tx, task))
		}
	})

	scoped, err := r.ListScopeTasks(ctx, "p1", strp("m1"))
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	all, err := r.ListScopeTasks(ctx, "p1", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "t3", all[0].ID, "newest first")

	page, err := r.ListTasks(ctx, repo.TaskFilters{ProjectID: "p1", Limit: 1, CursorCreatedAt: all[0].CreatedAt, CursorID: all[0].ID})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "t2", page[0].ID)

	unassigned, err := r.ListTasks(ctx, repo.TaskFilters{ProjectID: "p1", Unassigned: true})
	require.NoError(t, err)
	require.Len(t, unassigned, 1)
	require.Nil(t, unassigned[0].MilestoneID)

	// Deleting a milestone unassigns its tasks rather than removing them.
	_, err = r.DB.ExecContext(ctx, `DELETE FROM milestones WHERE id='m1'`)
	require.NoError(t, err)
	task, err := r.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Nil(t, task.MilestoneID)
}

func TestProjectConfigRoundTrip(t *testing.T) {
	r, ctx := openRepo(t)
	_, err := r.GetProjectConfig(ctx, "p1")
	require.ErrorIs(t, err, repo.ErrNotFound)

	cfg := config.Default("p1")
	cfg.Burndown.HorizonDays = 30
	require.NoError(t, r.UpsertProjectConfig(ctx, "p1", cfg))
	got, err := r.GetProjectConfig(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 30, got.Burndown.HorizonDays)
	require.Equal(t, cfg.Statuses, got.Statuses)

	p, err := r.SingleProject(ctx)
	require.NoError(t, err)
	require.Equal(t, "p1", p.ID)
}

func TestLatestEventsCursor(t *testing.T) {
	r, ctx := openRepo(t)
	a := newAppender()
	for _, id := range []string{"A", "B", "C"} {
		a.append(t, r, domain.EventCreated, id, nil, domain.TaskData{Status: "todo"})
	}
	first, err := r.LatestEvents(ctx, repo.EventFilters{ProjectID: "p1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, "C", first[0].TargetID)
	rest, err := r.LatestEvents(ctx, repo.EventFilters{ProjectID: "p1", Limit: 2, Cursor: first[1].ID})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "A", rest[0].TargetID)
}
