package crm

import (
	"context"
	"fmt"
	"strings"

	"crm-backend/internal/cache"
	"crm-backend/internal/models"
	"crm-backend/internal/remote"
)

func (s *Service) statusesQuery(ws string) *cache.Query[[]models.CustomStatus] {
	return cache.NewQuery(s.qc, StatusesKey(ws), func(ctx context.Context) ([]models.CustomStatus, error) {
		var out []models.CustomStatus
		q := remote.Where(remote.Eq("workspace_id", ws)).OrderBy("position", false)
		if err := s.db.Select(ctx, "job_statuses", q, &out); err != nil {
			return nil, fmt.Errorf("list statuses: %w", err)
		}
		return out, nil
	}, listRead)
}

// ListStatuses returns the custom columns ordered by position.
func (s *Service) ListStatuses(ctx context.Context, ws string) cache.Result[[]models.CustomStatus] {
	return s.statusesQuery(ws).Get(ctx)
}

type createStatus struct {
	ws  string
	req models.CreateStatusRequest
}

// CreateStatus appends a custom column after the last one.
func (s *Service) CreateStatus(ctx context.Context, ws string, req models.CreateStatusRequest) (models.CustomStatus, error) {
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		ve := &models.ValidationError{}
		ve.Add("label", "required")
		return models.CustomStatus{}, ve
	}

	return mutate(ctx, s, createStatus{ws: ws, req: req}, func(ctx context.Context, in createStatus) (models.CustomStatus, error) {
		current := s.statusesQuery(in.ws).Fetch(ctx)
		if current.Err != nil {
			return models.CustomStatus{}, current.Err
		}
		position := 0
		for _, cs := range current.Data {
			if cs.Position >= position {
				position = cs.Position + 1
			}
		}

		var cs models.CustomStatus
		err := s.db.Insert(ctx, "job_statuses", map[string]interface{}{
			"workspace_id": in.ws,
			"label":        in.req.Label,
			"color":        in.req.Color,
			"position":     position,
		}, &cs)
		return cs, err
	}, cache.MutationOptions[createStatus, models.CustomStatus]{
		Invalidates: func(in createStatus, _ models.CustomStatus) []cache.Key { return []cache.Key{StatusesKey(in.ws)} },
		Success:     func(_ createStatus, cs models.CustomStatus) string { return fmt.Sprintf("Column %q created", cs.Label) },
		ErrorTitle:  "Could not create column",
		Workspace:   func(in createStatus) string { return in.ws },
	})
}

type patchStatus struct {
	ws, id string
	patch  map[string]interface{}
}

func (s *Service) UpdateStatus(ctx context.Context, ws, id string, req models.UpdateStatusRequest) (models.CustomStatus, error) {
	patch := map[string]interface{}{}
	if req.Label != nil {
		label := strings.TrimSpace(*req.Label)
		if label == "" {
			ve := &models.ValidationError{}
			ve.Add("label", "required")
			return models.CustomStatus{}, ve
		}
		patch["label"] = label
	}
	if req.Color != nil {
		patch["color"] = *req.Color
	}
	if req.Position != nil {
		patch["position"] = *req.Position
	}
	if len(patch) == 0 {
		ve := &models.ValidationError{}
		ve.Add("label", "nothing to update")
		return models.CustomStatus{}, ve
	}

	return mutate(ctx, s, patchStatus{ws: ws, id: id, patch: patch}, func(ctx context.Context, in patchStatus) (models.CustomStatus, error) {
		var cs models.CustomStatus
		err := s.db.Update(ctx, "job_statuses", []remote.Filter{remote.Eq("id", in.id), remote.Eq("workspace_id", in.ws)}, in.patch, &cs)
		return cs, err
	}, cache.MutationOptions[patchStatus, models.CustomStatus]{
		Invalidates: func(in patchStatus, _ models.CustomStatus) []cache.Key { return []cache.Key{StatusesKey(in.ws)} },
		ErrorTitle:  "Could not update column",
		Workspace:   func(in patchStatus) string { return in.ws },
	})
}

type statusRef struct {
	ws, id string
}

// DeleteStatus removes a custom column. It is refused while the jobs list
// still has a job in that column, or when that list cannot be read. The check
// is local, so a job moved in concurrently from another session can still be
// orphaned.
func (s *Service) DeleteStatus(ctx context.Context, ws, id string) error {
	_, err := mutate(ctx, s, statusRef{ws, id}, func(ctx context.Context, in statusRef) (struct{}, error) {
		jobs := s.jobsQuery(in.ws, guardRead).Fetch(ctx)
		if jobs.Err != nil {
			return struct{}{}, fmt.Errorf("check column jobs: %w", jobs.Err)
		}
		column := models.Custom(in.id)
		for _, j := range jobs.Data {
			if j.Status == column {
				return struct{}{}, models.ErrColumnNotEmpty
			}
		}
		return struct{}{}, s.db.Delete(ctx, "job_statuses", []remote.Filter{remote.Eq("id", in.id), remote.Eq("workspace_id", in.ws)})
	}, cache.MutationOptions[statusRef, struct{}]{
		Invalidates: func(in statusRef, _ struct{}) []cache.Key { return []cache.Key{StatusesKey(in.ws)} },
		Success:     func(statusRef, struct{}) string { return "Column deleted" },
		ErrorTitle:  "Could not delete column",
		Workspace:   func(in statusRef) string { return in.ws },
	})
	return err
}
