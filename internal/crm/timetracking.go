package crm

import (
	"context"
	"fmt"
	"math"
	"time"

	"crm-backend/internal/cache"
	"crm-backend/internal/models"
	"crm-backend/internal/remote"
)

func (s *Service) timeLogsQuery(ws, jobID string) *cache.Query[[]models.JobTimeLog] {
	return cache.NewQuery(s.qc, TimeLogsKey(ws, jobID), func(ctx context.Context) ([]models.JobTimeLog, error) {
		var out []models.JobTimeLog
		q := remote.Where(remote.Eq("job_id", jobID)).OrderBy("start_time", true)
		if err := s.db.Select(ctx, "job_time_logs", q, &out); err != nil {
			return nil, fmt.Errorf("list time logs: %w", err)
		}
		return out, nil
	}, itemRead)
}

func (s *Service) TimeLogs(ctx context.Context, ws, jobID string) cache.Result[[]models.JobTimeLog] {
	return s.timeLogsQuery(ws, jobID).Get(ctx)
}

func activeLog(logs []models.JobTimeLog, userID string) *models.JobTimeLog {
	for i := range logs {
		if logs[i].Running() && logs[i].UserID.String() == userID {
			l := logs[i]
			return &l
		}
	}
	return nil
}

// ActiveLog returns the open log of userID on the job, or nil. The list is
// fetched, not served from a possibly stale cache entry.
func (s *Service) ActiveLog(ctx context.Context, ws, jobID, userID string) (*models.JobTimeLog, error) {
	res := s.timeLogsQuery(ws, jobID).Fetch(ctx)
	if res.Err != nil {
		return nil, res.Err
	}
	return activeLog(res.Data, userID), nil
}

// TotalHours sums the closed logs of a job.
func (s *Service) TotalHours(ctx context.Context, ws, jobID string) (float64, error) {
	res := s.TimeLogs(ctx, ws, jobID)
	if res.Err != nil {
		return 0, res.Err
	}
	return sumHours(res.Data), nil
}

func sumHours(logs []models.JobTimeLog) float64 {
	var total float64
	for _, l := range logs {
		if l.Hours != nil {
			total += *l.Hours
		}
	}
	return math.Round(total*1e6) / 1e6
}

type timer struct {
	ws, jobID, userID string
	logID             string
	note              string
}

// StartTimer opens a log for the user on the job. It is refused with
// ErrTimerRunning while the user already has an open log there; the partial
// unique index on open logs turns a lost race into the same error.
func (s *Service) StartTimer(ctx context.Context, ws, jobID, userID, note string) (models.JobTimeLog, error) {
	in := timer{ws: ws, jobID: jobID, userID: userID, note: note}
	return mutate(ctx, s, in, func(ctx context.Context, in timer) (models.JobTimeLog, error) {
		active, err := s.ActiveLog(ctx, in.ws, in.jobID, in.userID)
		if err != nil {
			return models.JobTimeLog{}, err
		}
		if active != nil {
			return *active, models.ErrTimerRunning
		}

		var log models.JobTimeLog
		err = s.db.Insert(ctx, "job_time_logs", map[string]interface{}{
			"job_id":     in.jobID,
			"user_id":    in.userID,
			"start_time": s.now().UTC(),
			"note":       in.note,
		}, &log)
		if remote.IsConflict(err) {
			return log, models.ErrTimerRunning
		}
		return log, err
	}, cache.MutationOptions[timer, models.JobTimeLog]{
		Invalidates:  func(in timer, _ models.JobTimeLog) []cache.Key { return []cache.Key{TimeLogsKey(in.ws, in.jobID)} },
		Success:      func(timer, models.JobTimeLog) string { return "Timer started" },
		SuccessTitle: "Time tracking",
		ErrorTitle:   "Could not start timer",
		Workspace:    func(in timer) string { return in.ws },
	})
}

// StopTimer closes the user's open log. logID must be the id of that log.
// end_time is kept strictly after start_time and hours is the elapsed time
// rounded to 6 decimals. The job's total is refreshed afterwards.
func (s *Service) StopTimer(ctx context.Context, ws, jobID, userID, logID string) (models.JobTimeLog, error) {
	in := timer{ws: ws, jobID: jobID, userID: userID, logID: logID}
	return mutate(ctx, s, in, func(ctx context.Context, in timer) (models.JobTimeLog, error) {
		active, err := s.ActiveLog(ctx, in.ws, in.jobID, in.userID)
		if err != nil {
			return models.JobTimeLog{}, err
		}
		if active == nil || active.ID.String() != in.logID {
			return models.JobTimeLog{}, models.ErrNoActiveTimer
		}

		end := s.now().UTC()
		if !end.After(active.StartTime) {
			end = active.StartTime.Add(time.Microsecond)
		}
		hours := models.DurationHours(end.Sub(active.StartTime))

		var log models.JobTimeLog
		err = s.db.Update(ctx, "job_time_logs",
			[]remote.Filter{remote.Eq("id", in.logID), remote.IsNull("end_time")},
			map[string]interface{}{"end_time": end, "hours": hours}, &log)
		if remote.IsNotFound(err) {
			return log, models.ErrNoActiveTimer
		}
		if err != nil {
			return log, err
		}

		logs := s.timeLogsQuery(in.ws, in.jobID).Fetch(ctx)
		if logs.Err == nil {
			total := sumHours(logs.Data)
			if err := s.db.Update(ctx, "jobs", []remote.Filter{remote.Eq("id", in.jobID), remote.Eq("workspace_id", in.ws)},
				map[string]interface{}{"total_hours": total}, nil); err != nil {
				s.log.WithError(err).WithField("job_id", in.jobID).Warn("could not update job total hours")
			}
		}
		return log, nil
	}, cache.MutationOptions[timer, models.JobTimeLog]{
		Invalidates: func(in timer, _ models.JobTimeLog) []cache.Key {
			return []cache.Key{TimeLogsKey(in.ws, in.jobID), JobsKey(in.ws)}
		},
		Success: func(_ timer, l models.JobTimeLog) string {
			if l.Hours == nil {
				return "Timer stopped"
			}
			return fmt.Sprintf("Logged %.2f hours", *l.Hours)
		},
		SuccessTitle: "Time tracking",
		ErrorTitle:   "Could not stop timer",
		Workspace:    func(in timer) string { return in.ws },
	})
}
