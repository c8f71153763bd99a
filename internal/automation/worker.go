package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"crm-backend/internal/config"
)

const queue = "automation"

// RedisOpt parses the Redis URL asynq connects with.
func RedisOpt(url string) (asynq.RedisConnOpt, error) {
	if url == "" {
		return nil, errors.New("asynq: redis url is not set")
	}
	opt, err := asynq.ParseRedisURI(url)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return opt, nil
}

// Enqueuer schedules on-demand runs. At most one run per workspace is
// pending at a time.
type Enqueuer struct {
	client *asynq.Client
	window time.Duration
}

func NewEnqueuer(opt asynq.RedisConnOpt, cfg config.AutomationConfig) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(opt), window: cfg.Interval}
}

// Enqueue returns false when a run for ws is already pending.
func (e *Enqueuer) Enqueue(ctx context.Context, ws string) (bool, error) {
	task, err := NewProcessTask(ws)
	if err != nil {
		return false, err
	}
	_, err = e.client.EnqueueContext(ctx, task, enqueueOptions(e.window)...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue automation for %s: %w", ws, err)
	}
	return true, nil
}

func (e *Enqueuer) Close() error { return e.client.Close() }

func enqueueOptions(window time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queue),
		asynq.Unique(window),
		asynq.MaxRetry(2),
		asynq.Timeout(window),
	}
}

// Scheduler enqueues a run for every configured workspace each interval.
type Scheduler struct {
	scheduler *asynq.Scheduler
	log       logrus.FieldLogger
}

func NewScheduler(opt asynq.RedisConnOpt, cfg config.AutomationConfig, log logrus.FieldLogger) (*Scheduler, error) {
	log = log.WithField("component", "automation")
	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Logger:   log,
		LogLevel: asynq.WarnLevel,
		EnqueueErrorHandler: func(task *asynq.Task, _ []asynq.Option, err error) {
			if !errors.Is(err, asynq.ErrDuplicateTask) {
				log.WithError(err).WithField("payload", string(task.Payload())).Warn("scheduled automation enqueue failed")
			}
		},
	})

	spec := "@every " + cfg.Interval.String()
	for _, ws := range cfg.Workspaces {
		task, err := NewProcessTask(ws)
		if err != nil {
			return nil, err
		}
		if _, err := s.Register(spec, task, enqueueOptions(cfg.Interval)...); err != nil {
			return nil, fmt.Errorf("register automation for %s: %w", ws, err)
		}
	}
	return &Scheduler{scheduler: s, log: log}, nil
}

// Run blocks until ctx ends and then stops the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	<-ctx.Done()
	s.scheduler.Shutdown()
	return nil
}

// Server consumes automation tasks.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(opt asynq.RedisConnOpt, cfg config.AutomationConfig, p *Processor, log logrus.FieldLogger) *Server {
	log = log.WithField("component", "automation")
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      log,
		LogLevel:    asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.WithError(err).WithField("task", task.Type()).Error("automation task failed")
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TypeProcess, p)
	return &Server{server: srv, mux: mux}
}

// Run starts the server and shuts it down gracefully when ctx ends.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}
