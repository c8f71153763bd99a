package crm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"crm-backend/internal/cache"
	"crm-backend/internal/models"
	"crm-backend/internal/remote"
)

// JobFilter narrows the jobs list. Zero fields do not filter.
type JobFilter struct {
	TagIDs     []string
	Status     models.JobStatus
	AssignedTo string
}

// MatchTags reports whether a job's tags pass a tag filter: an empty filter
// passes everything, otherwise at least one tag must be shared.
func MatchTags(jobTags, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(jobTags))
	for _, t := range jobTags {
		set[t] = struct{}{}
	}
	for _, t := range filter {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func (f JobFilter) Match(j models.Job) bool {
	if !MatchTags(j.Tags, f.TagIDs) {
		return false
	}
	if !f.Status.IsZero() && j.Status != f.Status {
		return false
	}
	if f.AssignedTo != "" && (j.AssignedTo == nil || j.AssignedTo.String() != f.AssignedTo) {
		return false
	}
	return true
}

func (s *Service) jobsQuery(ws string, opts cache.QueryOptions) *cache.Query[[]models.Job] {
	return cache.NewQuery(s.qc, JobsKey(ws), func(ctx context.Context) ([]models.Job, error) {
		var out []models.Job
		q := remote.Where(remote.Eq("workspace_id", ws)).OrderBy("created_at", true)
		if err := s.db.Select(ctx, "jobs", q, &out); err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		return out, nil
	}, opts)
}

// ListJobs reads every job of the workspace through the cache and applies the
// filter in memory.
func (s *Service) ListJobs(ctx context.Context, ws string, f JobFilter) cache.Result[[]models.Job] {
	res := s.jobsQuery(ws, listRead).Get(ctx)
	if res.Err != nil {
		return res
	}
	filtered := make([]models.Job, 0, len(res.Data))
	for _, j := range res.Data {
		if f.Match(j) {
			filtered = append(filtered, j)
		}
	}
	res.Data = filtered
	return res
}

func (s *Service) Job(ctx context.Context, ws, id string) (models.Job, error) {
	res := s.jobsQuery(ws, listRead).Get(ctx)
	if res.Err != nil {
		return models.Job{}, res.Err
	}
	for _, j := range res.Data {
		if j.ID.String() == id {
			return j, nil
		}
	}
	var j models.Job
	err := s.db.Select(ctx, "jobs", remote.Where(remote.Eq("id", id), remote.Eq("workspace_id", ws)), &j)
	return j, err
}

type createJob struct {
	ws  string
	req models.CreateJobRequest
}

func (s *Service) CreateJob(ctx context.Context, ws string, req models.CreateJobRequest) (models.Job, error) {
	req.Title = strings.TrimSpace(req.Title)
	ve := &models.ValidationError{}
	if req.Title == "" {
		ve.Add("title", "required")
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	} else if !req.Priority.Valid() {
		ve.Add("priority", "must be one of low, medium, high, urgent")
	}
	if err := ve.OrNil(); err != nil {
		return models.Job{}, err
	}
	if req.Status.IsZero() {
		req.Status = models.Fixed(models.StatusTodo)
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}

	return mutate(ctx, s, createJob{ws: ws, req: req}, func(ctx context.Context, in createJob) (models.Job, error) {
		row := map[string]interface{}{
			"workspace_id": in.ws,
			"title":        in.req.Title,
			"description":  in.req.Description,
			"status":       in.req.Status,
			"priority":     in.req.Priority,
			"assigned_to":  in.req.AssignedTo,
			"due_date":     in.req.DueDate,
			"tags":         in.req.Tags,
		}
		var job models.Job
		if err := s.db.Insert(ctx, "jobs", row, &job); err != nil {
			return job, fmt.Errorf("create job: %w", err)
		}
		return job, nil
	}, cache.MutationOptions[createJob, models.Job]{
		Invalidates: func(in createJob, _ models.Job) []cache.Key { return []cache.Key{JobsKey(in.ws)} },
		Success:     func(_ createJob, j models.Job) string { return fmt.Sprintf("Job %q created", j.Title) },
		ErrorTitle:  "Could not create job",
		Workspace:   func(in createJob) string { return in.ws },
	})
}

type patchJob struct {
	ws, id string
	patch  map[string]interface{}
}

func (s *Service) UpdateJob(ctx context.Context, ws, id string, req models.UpdateJobRequest) (models.Job, error) {
	ve := &models.ValidationError{}
	patch := map[string]interface{}{"updated_at": s.now()}
	if req.Title != nil {
		if t := strings.TrimSpace(*req.Title); t == "" {
			ve.Add("title", "required")
		} else {
			patch["title"] = t
		}
	}
	if req.Description != nil {
		patch["description"] = *req.Description
	}
	if req.Priority != nil {
		if !req.Priority.Valid() {
			ve.Add("priority", "must be one of low, medium, high, urgent")
		}
		patch["priority"] = *req.Priority
	}
	if req.AssignedTo != nil {
		patch["assigned_to"] = req.AssignedTo
	}
	if req.DueDate != nil {
		patch["due_date"] = req.DueDate
	}
	if req.Tags != nil {
		patch["tags"] = req.Tags
	}
	if err := ve.OrNil(); err != nil {
		return models.Job{}, err
	}
	return s.patchJob(ctx, patchJob{ws: ws, id: id, patch: patch}, "Job updated", "Could not update job")
}

// MoveJob sets the job's column. Custom column ids are not checked against the
// workspace's statuses.
func (s *Service) MoveJob(ctx context.Context, ws, id string, status models.JobStatus) (models.Job, error) {
	if status.IsZero() {
		return models.Job{}, models.ErrInvalidStatus
	}
	patch := map[string]interface{}{"status": status, "updated_at": s.now()}
	return s.patchJob(ctx, patchJob{ws: ws, id: id, patch: patch}, "", "Could not move job")
}

func (s *Service) patchJob(ctx context.Context, in patchJob, success, errorTitle string) (models.Job, error) {
	return mutate(ctx, s, in, func(ctx context.Context, in patchJob) (models.Job, error) {
		var job models.Job
		err := s.db.Update(ctx, "jobs", []remote.Filter{remote.Eq("id", in.id), remote.Eq("workspace_id", in.ws)}, in.patch, &job)
		return job, err
	}, cache.MutationOptions[patchJob, models.Job]{
		Invalidates: func(in patchJob, _ models.Job) []cache.Key { return []cache.Key{JobsKey(in.ws)} },
		Success:     func(patchJob, models.Job) string { return success },
		ErrorTitle:  errorTitle,
		Workspace:   func(in patchJob) string { return in.ws },
	})
}

type jobRef struct {
	ws, id string
}

func (s *Service) DeleteJob(ctx context.Context, ws, id string) error {
	_, err := mutate(ctx, s, jobRef{ws, id}, func(ctx context.Context, in jobRef) (struct{}, error) {
		return struct{}{}, s.db.Delete(ctx, "jobs", []remote.Filter{remote.Eq("id", in.id), remote.Eq("workspace_id", in.ws)})
	}, cache.MutationOptions[jobRef, struct{}]{
		Invalidates: func(in jobRef, _ struct{}) []cache.Key {
			return []cache.Key{
				JobsKey(in.ws),
				TimeLogsKey(in.ws, in.id),
				SubtasksKey(in.ws, in.id),
				CommentsKey(in.ws, in.id),
			}
		},
		Success:    func(jobRef, struct{}) string { return "Job deleted" },
		ErrorTitle: "Could not delete job",
		Workspace:  func(in jobRef) string { return in.ws },
	})
	return err
}

// Column is one kanban column with its jobs.
type Column struct {
	Status models.JobStatus `json:"status"`
	Label  string           `json:"label"`
	Color  string           `json:"color,omitempty"`
	Custom bool             `json:"custom"`
	Jobs   []models.Job     `json:"jobs"`
}

type Board struct {
	Columns []Column `json:"columns"`
	// Orphaned holds jobs whose custom column no longer exists.
	Orphaned []models.Job `json:"orphaned,omitempty"`
}

// Board groups the jobs into the fixed columns followed by the custom
// columns in position order.
func (s *Service) Board(ctx context.Context, ws string, f JobFilter) (Board, error) {
	jobs := s.ListJobs(ctx, ws, f)
	if jobs.Err != nil {
		return Board{}, jobs.Err
	}
	statuses := s.ListStatuses(ctx, ws)
	if statuses.Err != nil {
		return Board{}, statuses.Err
	}
	return BuildBoard(jobs.Data, statuses.Data), nil
}

func BuildBoard(jobs []models.Job, statuses []models.CustomStatus) Board {
	var b Board
	index := make(map[string]int)
	for _, f := range models.FixedStatuses() {
		index[f.String()] = len(b.Columns)
		b.Columns = append(b.Columns, Column{Status: models.Fixed(f), Label: f.Label(), Jobs: []models.Job{}})
	}

	custom := append([]models.CustomStatus(nil), statuses...)
	sort.SliceStable(custom, func(i, j int) bool { return custom[i].Position < custom[j].Position })
	for _, cs := range custom {
		index[cs.Status().String()] = len(b.Columns)
		b.Columns = append(b.Columns, Column{Status: cs.Status(), Label: cs.Label, Color: cs.Color, Custom: true, Jobs: []models.Job{}})
	}

	for _, j := range jobs {
		i, ok := index[j.Status.String()]
		if !ok {
			b.Orphaned = append(b.Orphaned, j)
			continue
		}
		b.Columns[i].Jobs = append(b.Columns[i].Jobs, j)
	}
	return b
}
