package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"crm-backend/internal/models"
)

// Sink receives user-facing toasts.
type Sink interface {
	Push(ctx context.Context, t models.Toast)
}

// MutationOptions declares what a write invalidates and how it is announced.
type MutationOptions[In, Out any] struct {
	Invalidates  func(in In, out Out) []Key
	Success      func(in In, out Out) string
	SuccessTitle string
	ErrorTitle   string
	// Translate turns a failure into the toast message. Defaults to err.Error().
	Translate func(err error) string
	// Workspace scopes the toast; empty means global.
	Workspace func(in In) string
}

// Mutation is a pessimistic write: nothing in the cache changes until the
// remote call succeeds. Failures are never retried.
type Mutation[In, Out any] struct {
	client *QueryClient
	sink   Sink
	run    func(ctx context.Context, in In) (Out, error)
	opts   MutationOptions[In, Out]

	mu      sync.Mutex
	pending int
	lastErr error
}

func NewMutation[In, Out any](c *QueryClient, sink Sink, run func(ctx context.Context, in In) (Out, error), opts MutationOptions[In, Out]) *Mutation[In, Out] {
	if opts.Translate == nil {
		opts.Translate = func(err error) string { return err.Error() }
	}
	if opts.ErrorTitle == "" {
		opts.ErrorTitle = "Error"
	}
	if opts.SuccessTitle == "" {
		opts.SuccessTitle = "Success"
	}
	return &Mutation[In, Out]{client: c, sink: sink, run: run, opts: opts}
}

// Mutate runs the write. On success the declared keys are invalidated, their
// mounted queries refetched, and a success toast pushed. On failure an error
// toast is pushed and the error returned.
func (m *Mutation[In, Out]) Mutate(ctx context.Context, in In) (Out, error) {
	m.mu.Lock()
	m.pending++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.pending--
		m.mu.Unlock()
	}()

	out, err := m.run(ctx, in)

	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()

	ws := ""
	if m.opts.Workspace != nil {
		ws = m.opts.Workspace(in)
	}

	if err != nil {
		m.push(ctx, models.ToastError, m.opts.ErrorTitle, m.opts.Translate(err), ws)
		return out, err
	}

	if m.opts.Invalidates != nil {
		if keys := m.opts.Invalidates(in, out); len(keys) > 0 {
			if ierr := m.client.InvalidateQueries(ctx, keys...); ierr != nil {
				m.client.log.WithError(ierr).Warn("refetch after mutation failed")
			}
		}
	}
	if m.opts.Success != nil {
		if msg := m.opts.Success(in, out); msg != "" {
			m.push(ctx, models.ToastSuccess, m.opts.SuccessTitle, msg, ws)
		}
	}
	return out, nil
}

func (m *Mutation[In, Out]) push(ctx context.Context, level models.ToastLevel, title, msg, ws string) {
	if m.sink == nil {
		return
	}
	m.sink.Push(ctx, models.Toast{
		ID:          uuid.New(),
		Level:       level,
		Title:       title,
		Message:     msg,
		WorkspaceID: ws,
		CreatedAt:   time.Now(),
	})
}

func (m *Mutation[In, Out]) IsPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending > 0
}

func (m *Mutation[In, Out]) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}
