package server

import (
	"encoding/json"

	"burnline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type CreateMilestoneRequest struct {
	ID        string  `json:"id,omitempty"`
	Name      string  `json:"name"`
	StartDate *string `json:"start_date,omitempty" format:"date"`
	DueDate   *string `json:"due_date,omitempty" format:"date"`
}

// UpdateMilestoneRequest: an explicit null date clears it.
type UpdateMilestoneRequest struct {
	Name      *string `json:"name,omitempty"`
	StartDate *string `json:"start_date,omitempty" format:"date" nullable:"true"`
	DueDate   *string `json:"due_date,omitempty" format:"date" nullable:"true"`
}

type CreateTaskRequest struct {
	ID          string  `json:"id,omitempty"`
	Title       string  `json:"title"`
	Status      string  `json:"status,omitempty"`
	MilestoneID *string `json:"milestone_id,omitempty"`
}

// UpdateTaskRequest: an explicit null milestone_id unassigns the task.
type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	MilestoneID *string `json:"milestone_id,omitempty" nullable:"true"`
}

type SetTaskStatusRequest struct {
	Status string `json:"status"`
}

// Responses

type ProjectResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type MilestoneResponse struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	Name      string  `json:"name"`
	StartDate *string `json:"start_date" format:"date"`
	DueDate   *string `json:"due_date" format:"date"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	MilestoneID *string `json:"milestone_id"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	ProjectID  string         `json:"project_id"`
	Type       string         `json:"event_type"`
	TargetID   string         `json:"target_id"`
	ActorID    string         `json:"actor_id"`
	DataBefore map[string]any `json:"data_before"`
	DataAfter  map[string]any `json:"data_after"`
	OccurredAt string         `json:"occurred_at" format:"date-time"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt}
}

func milestoneResponse(m domain.Milestone) MilestoneResponse {
	return MilestoneResponse{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		Name:      m.Name,
		StartDate: m.StartDate,
		DueDate:   m.DueDate,
		CreatedAt: m.CreatedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		MilestoneID: t.MilestoneID,
		Title:       t.Title,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		ProjectID:  e.ProjectID,
		Type:       string(e.Type),
		TargetID:   e.TargetID,
		ActorID:    e.ActorID,
		DataBefore: decodePayload(e.DataBefore),
		DataAfter:  decodePayload(e.DataAfter),
		OccurredAt: e.OccurredAt,
	}
}

func decodePayload(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return m
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapMilestones(items []domain.Milestone) []MilestoneResponse {
	res := make([]MilestoneResponse, 0, len(items))
	for _, m := range items {
		res = append(res, milestoneResponse(m))
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}
