package crm

import (
	"context"
	"strings"

	"crm-backend/internal/cache"
	"crm-backend/internal/models"
	"crm-backend/internal/remote"
)

func (s *Service) Subtasks(ctx context.Context, ws, jobID string) cache.Result[[]models.JobSubtask] {
	return cache.NewQuery(s.qc, SubtasksKey(ws, jobID), func(ctx context.Context) ([]models.JobSubtask, error) {
		var out []models.JobSubtask
		q := remote.Where(remote.Eq("job_id", jobID)).OrderBy("position", false).OrderBy("created_at", false)
		err := s.db.Select(ctx, "job_subtasks", q, &out)
		return out, err
	}, listRead).Get(ctx)
}

type subtask struct {
	ws, jobID, id string
	req           models.SubtaskRequest
}

func subtaskOptions(errorTitle string) cache.MutationOptions[subtask, models.JobSubtask] {
	return cache.MutationOptions[subtask, models.JobSubtask]{
		Invalidates: func(in subtask, _ models.JobSubtask) []cache.Key { return []cache.Key{SubtasksKey(in.ws, in.jobID)} },
		ErrorTitle:  errorTitle,
		Workspace:   func(in subtask) string { return in.ws },
	}
}

func (s *Service) CreateSubtask(ctx context.Context, ws, jobID string, req models.SubtaskRequest) (models.JobSubtask, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		ve := &models.ValidationError{}
		ve.Add("title", "required")
		return models.JobSubtask{}, ve
	}
	return mutate(ctx, s, subtask{ws: ws, jobID: jobID, req: req}, func(ctx context.Context, in subtask) (models.JobSubtask, error) {
		existing := s.Subtasks(ctx, in.ws, in.jobID)
		row := map[string]interface{}{
			"job_id":   in.jobID,
			"title":    in.req.Title,
			"position": len(existing.Data),
		}
		if in.req.Done != nil {
			row["done"] = *in.req.Done
		}
		var st models.JobSubtask
		err := s.db.Insert(ctx, "job_subtasks", row, &st)
		return st, err
	}, subtaskOptions("Could not add subtask"))
}

func (s *Service) UpdateSubtask(ctx context.Context, ws, jobID, id string, req models.SubtaskRequest) (models.JobSubtask, error) {
	return mutate(ctx, s, subtask{ws: ws, jobID: jobID, id: id, req: req}, func(ctx context.Context, in subtask) (models.JobSubtask, error) {
		patch := map[string]interface{}{}
		if t := strings.TrimSpace(in.req.Title); t != "" {
			patch["title"] = t
		}
		if in.req.Done != nil {
			patch["done"] = *in.req.Done
		}
		var st models.JobSubtask
		if len(patch) == 0 {
			return st, &remote.Error{Status: 400, Message: "nothing to update"}
		}
		err := s.db.Update(ctx, "job_subtasks", []remote.Filter{remote.Eq("id", in.id), remote.Eq("job_id", in.jobID)}, patch, &st)
		return st, err
	}, subtaskOptions("Could not update subtask"))
}

func (s *Service) DeleteSubtask(ctx context.Context, ws, jobID, id string) error {
	_, err := mutate(ctx, s, subtask{ws: ws, jobID: jobID, id: id}, func(ctx context.Context, in subtask) (models.JobSubtask, error) {
		return models.JobSubtask{}, s.db.Delete(ctx, "job_subtasks", []remote.Filter{remote.Eq("id", in.id), remote.Eq("job_id", in.jobID)})
	}, subtaskOptions("Could not delete subtask"))
	return err
}

func (s *Service) Comments(ctx context.Context, ws, jobID string) cache.Result[[]models.JobComment] {
	return cache.NewQuery(s.qc, CommentsKey(ws, jobID), func(ctx context.Context) ([]models.JobComment, error) {
		var out []models.JobComment
		err := s.db.Select(ctx, "job_comments", remote.Where(remote.Eq("job_id", jobID)).OrderBy("created_at", false), &out)
		return out, err
	}, listRead).Get(ctx)
}

type comment struct {
	ws, jobID, id, userID string
	body                  string
}

func commentOptions(errorTitle string) cache.MutationOptions[comment, models.JobComment] {
	return cache.MutationOptions[comment, models.JobComment]{
		Invalidates: func(in comment, _ models.JobComment) []cache.Key { return []cache.Key{CommentsKey(in.ws, in.jobID)} },
		ErrorTitle:  errorTitle,
		Workspace:   func(in comment) string { return in.ws },
	}
}

func (s *Service) AddComment(ctx context.Context, ws, jobID, userID, body string) (models.JobComment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		ve := &models.ValidationError{}
		ve.Add("body", "required")
		return models.JobComment{}, ve
	}
	return mutate(ctx, s, comment{ws: ws, jobID: jobID, userID: userID, body: body}, func(ctx context.Context, in comment) (models.JobComment, error) {
		var c models.JobComment
		err := s.db.Insert(ctx, "job_comments", map[string]interface{}{
			"job_id":  in.jobID,
			"user_id": in.userID,
			"body":    in.body,
		}, &c)
		return c, err
	}, commentOptions("Could not add comment"))
}

func (s *Service) UpdateComment(ctx context.Context, ws, jobID, id, userID, body string) (models.JobComment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		ve := &models.ValidationError{}
		ve.Add("body", "required")
		return models.JobComment{}, ve
	}
	return mutate(ctx, s, comment{ws: ws, jobID: jobID, id: id, userID: userID, body: body}, func(ctx context.Context, in comment) (models.JobComment, error) {
		var c models.JobComment
		err := s.db.Update(ctx, "job_comments",
			[]remote.Filter{remote.Eq("id", in.id), remote.Eq("job_id", in.jobID), remote.Eq("user_id", in.userID)},
			map[string]interface{}{"body": in.body}, &c)
		return c, err
	}, commentOptions("Could not update comment"))
}

// DeleteComment removes a comment written by userID.
func (s *Service) DeleteComment(ctx context.Context, ws, jobID, id, userID string) error {
	_, err := mutate(ctx, s, comment{ws: ws, jobID: jobID, id: id, userID: userID}, func(ctx context.Context, in comment) (models.JobComment, error) {
		return models.JobComment{}, s.db.Delete(ctx, "job_comments",
			[]remote.Filter{remote.Eq("id", in.id), remote.Eq("job_id", in.jobID), remote.Eq("user_id", in.userID)})
	}, commentOptions("Could not delete comment"))
	return err
}
