package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"burnline/internal/burndown"
	"burnline/internal/config"
	"burnline/internal/domain"
	"burnline/internal/events"
	"burnline/internal/repo"
)

// ErrInvalid marks input errors; callers map it to a client error.
var ErrInvalid = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	// Config, when set, is used for the project it names; other projects
	// read their stored config.
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) configFor(ctx context.Context, projectID string) (*config.Config, error) {
	if e.Config != nil && e.Config.Project.ID == projectID {
		return e.Config, nil
	}
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return config.Default(projectID), nil
	}
	return cfg, err
}

// InitProject creates a project together with its stored config.
func (e Engine) InitProject(ctx context.Context, projectID, name string, cfg *config.Config) (domain.Project, error) {
	if projectID == "" {
		projectID = uuid.NewString()
	}
	if cfg == nil {
		cfg = config.Default(projectID)
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	if name == "" {
		name = cfg.Project.Name
	}
	if name == "" {
		name = projectID
	}
	cfg.Project.Name = name
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{ID: projectID, Name: name, CreatedAt: events.FormatTimestamp(e.now())}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

type MilestoneCreateOptions struct {
	ID        string
	ProjectID string
	Name      string
	StartDate string
	DueDate   string
}

func (e Engine) CreateMilestone(ctx context.Context, opts MilestoneCreateOptions) (domain.Milestone, error) {
	if opts.ProjectID == "" {
		return domain.Milestone{}, invalidf("project is required")
	}
	if opts.Name == "" {
		return domain.Milestone{}, invalidf("name is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Milestone{}, err
	}
	start, err := normalizeDate("start date", opts.StartDate)
	if err != nil {
		return domain.Milestone{}, err
	}
	due, err := normalizeDate("due date", opts.DueDate)
	if err != nil {
		return domain.Milestone{}, err
	}
	if err := checkDateOrder(start, due); err != nil {
		return domain.Milestone{}, err
	}
	m := domain.Milestone{
		ID:        opts.ID,
		ProjectID: opts.ProjectID,
		Name:      opts.Name,
		StartDate: start,
		DueDate:   due,
		CreatedAt: events.FormatTimestamp(e.now()),
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertMilestone(ctx, tx, m); err != nil {
		return domain.Milestone{}, fmt.Errorf("insert milestone: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

// MilestoneUpdateOptions: nil leaves a field alone; an empty date clears it.
type MilestoneUpdateOptions struct {
	ID        string
	Name      *string
	StartDate *string
	DueDate   *string
}

func (e Engine) UpdateMilestone(ctx context.Context, opts MilestoneUpdateOptions) (domain.Milestone, error) {
	m, err := e.Repo.GetMilestone(ctx, opts.ID)
	if err != nil {
		return m, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return m, invalidf("name must not be empty")
		}
		m.Name = *opts.Name
	}
	if opts.StartDate != nil {
		if m.StartDate, err = normalizeDate("start date", *opts.StartDate); err != nil {
			return m, err
		}
	}
	if opts.DueDate != nil {
		if m.DueDate, err = normalizeDate("due date", *opts.DueDate); err != nil {
			return m, err
		}
	}
	if err := checkDateOrder(m.StartDate, m.DueDate); err != nil {
		return m, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateMilestone(ctx, tx, m); err != nil {
		return m, err
	}
	return m, tx.Commit()
}

func (e Engine) ListMilestones(ctx context.Context, projectID string) ([]domain.Milestone, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListMilestones(ctx, projectID)
}

// normalizeDate accepts a calendar date or an RFC 3339 timestamp and stores
// the reporting day it falls on.
func normalizeDate(field, in string) (*string, error) {
	in = strings.TrimSpace(in)
	if in == "" {
		return nil, nil
	}
	d, err := burndown.ParseDate(in)
	if err != nil {
		return nil, invalidf("%s %q: expected YYYY-MM-DD", field, in)
	}
	key := burndown.DayKey(d)
	return &key, nil
}

func checkDateOrder(start, due *string) error {
	if start != nil && due != nil && *due < *start {
		return invalidf("due date %s is before start date %s", *due, *start)
	}
	return nil
}

type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	MilestoneID string
	Title       string
	Status      string
	ActorID     string
}

// CreateTask inserts a task and records a created event carrying its
// initial status and milestone.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.ProjectID == "" {
		return domain.Task{}, invalidf("project is required")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, invalidf("title is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	cfg, err := e.configFor(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.Status == "" {
		opts.Status = cfg.Burndown.BaselineStatus
	}
	if !cfg.AllowsStatus(opts.Status) {
		return domain.Task{}, invalidf("unknown status %s", opts.Status)
	}
	milestoneID, err := e.checkMilestone(ctx, opts.ProjectID, opts.MilestoneID)
	if err != nil {
		return domain.Task{}, err
	}
	now := events.FormatTimestamp(e.now())
	t := domain.Task{
		ID:          opts.ID,
		ProjectID:   opts.ProjectID,
		MilestoneID: milestoneID,
		Title:       opts.Title,
		Status:      opts.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if _, err := e.writer().Append(ctx, tx, t.ProjectID, domain.EventCreated, t.ID, opts.ActorID, nil, snapshot(t)); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions: nil leaves a field alone; an empty MilestoneID
// unassigns the task.
type TaskUpdateOptions struct {
	ID          string
	Title       *string
	MilestoneID *string
	ActorID     string
}

// UpdateTask edits title and milestone. An updated event is written only
// when something changed.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	before := snapshot(t)
	changed := false
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return t, invalidf("title must not be empty")
		}
		if *opts.Title != t.Title {
			t.Title = *opts.Title
			changed = true
		}
	}
	if opts.MilestoneID != nil {
		next, err := e.checkMilestone(ctx, t.ProjectID, *opts.MilestoneID)
		if err != nil {
			return t, err
		}
		if !sameMilestone(t.MilestoneID, next) {
			t.MilestoneID = next
			changed = true
		}
	}
	if !changed {
		return t, nil
	}
	t.UpdatedAt = events.FormatTimestamp(e.now())
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if _, err := e.writer().Append(ctx, tx, t.ProjectID, domain.EventUpdated, t.ID, opts.ActorID, before, snapshot(t)); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// SetTaskStatus moves a task to status. Setting the current status is a
// no-op and writes no event.
func (e Engine) SetTaskStatus(ctx context.Context, id, status, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	cfg, err := e.configFor(ctx, t.ProjectID)
	if err != nil {
		return t, err
	}
	if !cfg.AllowsStatus(status) {
		return t, invalidf("unknown status %s", status)
	}
	if status == t.Status {
		return t, nil
	}
	from := t.Status
	t.Status = status
	t.UpdatedAt = events.FormatTimestamp(e.now())
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if _, err := e.writer().Append(ctx, tx, t.ProjectID, domain.EventStatusChanged, t.ID, actorID,
		domain.StatusData{Status: from}, domain.StatusData{Status: status}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// DeleteTask removes the row. The deleted event keeps the last snapshot so
// history can still place the task.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if _, err := e.writer().Append(ctx, tx, t.ProjectID, domain.EventDeleted, t.ID, actorID, snapshot(t), nil); err != nil {
		return err
	}
	return tx.Commit()
}

// Burndown computes the series for a milestone, or the whole project when
// milestoneID is nil, using the project's burndown settings.
func (e Engine) Burndown(ctx context.Context, projectID string, milestoneID *string) (burndown.Result, error) {
	cfg, err := e.configFor(ctx, projectID)
	if err != nil {
		return burndown.Result{}, err
	}
	be := burndown.New(e.Repo, Settings(cfg))
	be.Now = e.now
	return be.Compute(ctx, projectID, milestoneID)
}

// BurndownAll computes one series per milestone of the project, skipping
// milestones that have no dates to window them.
func (e Engine) BurndownAll(ctx context.Context, projectID string) ([]burndown.Result, error) {
	cfg, err := e.configFor(ctx, projectID)
	if err != nil {
		return nil, err
	}
	milestones, err := e.Repo.ListMilestones(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(milestones))
	for _, m := range milestones {
		ids = append(ids, m.ID)
	}
	be := burndown.New(e.Repo, Settings(cfg))
	be.Now = e.now
	be.Workers = 4
	return be.ComputeEach(ctx, projectID, ids)
}

// Settings maps the burndown section of a project config onto engine settings.
func Settings(cfg *config.Config) burndown.Settings {
	s := burndown.DefaultSettings()
	if cfg == nil {
		return s
	}
	if cfg.Burndown.DoneStatus != "" {
		s.DoneStatus = cfg.Burndown.DoneStatus
	}
	if cfg.Burndown.BaselineStatus != "" {
		s.BaselineStatus = cfg.Burndown.BaselineStatus
	}
	if cfg.Burndown.HorizonDays > 0 {
		s.HorizonDays = cfg.Burndown.HorizonDays
	}
	return s
}

func (e Engine) checkMilestone(ctx context.Context, projectID, milestoneID string) (*string, error) {
	if milestoneID == "" {
		return nil, nil
	}
	m, err := e.Repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, invalidf("milestone %s not found", milestoneID)
		}
		return nil, err
	}
	if m.ProjectID != projectID {
		return nil, invalidf("milestone %s not in project %s", milestoneID, projectID)
	}
	return &m.ID, nil
}

func snapshot(t domain.Task) domain.TaskData {
	return domain.TaskData{Title: t.Title, Status: t.Status, MilestoneID: t.MilestoneID}
}

func sameMilestone(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
