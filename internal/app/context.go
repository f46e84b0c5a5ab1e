package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"burnline/internal/config"
	"burnline/internal/domain"
	"burnline/internal/repo"
)

// ResolveProjectAndConfig picks the active project and makes sure it and its
// config exist in the DB. The project comes from the override, then
// burnline.yml in the workspace, then the only project in the DB. A
// burnline.yml for the chosen project replaces the stored config.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride string, r repo.Repo) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	projectID := projectOverride
	if projectID == "" && fileCfg != nil {
		projectID = fileCfg.Project.ID
	}
	if projectID == "" {
		p, err := r.SingleProject(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
		projectID = p.ID
	}
	if fileCfg != nil && fileCfg.Project.ID != projectID {
		fileCfg = nil
	}
	seedCfg := fileCfg
	if seedCfg == nil {
		seedCfg = config.Default(projectID)
	}

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProject(ctx, r, projectID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	if fileCfg != nil {
		if err := r.UpsertProjectConfig(ctx, projectID, fileCfg); err != nil {
			return "", nil, fmt.Errorf("store project config: %w", err)
		}
		return projectID, fileCfg, nil
	}
	cfg, err := r.GetProjectConfig(ctx, projectID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := r.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed project config: %w", err)
		}
		cfg = seedCfg
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}

func createProject(ctx context.Context, r repo.Repo, projectID string, seedCfg *config.Config) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	name := seedCfg.Project.Name
	if name == "" {
		name = projectID
	}
	p := domain.Project{ID: projectID, Name: name, CreatedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	if err := r.InsertProject(ctx, tx, p); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := r.UpsertProjectConfigTx(ctx, tx, projectID, seedCfg); err != nil {
		return fmt.Errorf("insert project config: %w", err)
	}
	return tx.Commit()
}
