package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-backend/internal/models"
)

func newTestClient(t *testing.T) (*QueryClient, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return NewQueryClient(NewStore(), Options{RetryDelay: time.Millisecond}, log), hook
}

func TestConcurrentQueriesShareOneRequest(t *testing.T) {
	qc, _ := newTestClient(t)
	key := NewKey("conversations", "ws1")

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) ([]string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return []string{"c1"}, nil
	}

	a := NewQuery(qc, key, fetch, QueryOptions{})
	b := NewQuery(qc, key, fetch, QueryOptions{})

	var wg sync.WaitGroup
	results := make([]Result[[]string], 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = a.Get(context.Background())
	}()
	<-started
	go func() {
		defer wg.Done()
		results[1] = b.Get(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, []string{"c1"}, r.Data)
	}
	assert.Equal(t, int64(2), qc.Stats().Shared)
}

func TestFreshEntryServedWithoutRequest(t *testing.T) {
	qc, _ := newTestClient(t)
	var calls atomic.Int32
	q := NewQuery(qc, NewKey("leads", "ws1"), func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}, QueryOptions{StaleTime: time.Minute})

	first := q.Get(context.Background())
	second := q.Get(context.Background())

	assert.Equal(t, 1, first.Data)
	assert.Equal(t, 1, second.Data)
	assert.False(t, second.IsStale)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), qc.Stats().Hits)
}

func TestStaleEntryServedWhileRevalidating(t *testing.T) {
	qc, _ := newTestClient(t)
	now := time.Now()
	qc.store.now = func() time.Time { return now }

	var calls atomic.Int32
	q := NewQuery(qc, NewKey("jobs", "ws1"), func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}, QueryOptions{StaleTime: time.Second})

	require.Equal(t, 1, q.Get(context.Background()).Data)

	now = now.Add(2 * time.Second)
	res := q.Get(context.Background())
	assert.True(t, res.IsStale)
	assert.Equal(t, 1, res.Data)

	require.Eventually(t, func() bool {
		e, ok := qc.store.Get(q.Key())
		return ok && e.Value == 2
	}, time.Second, 5*time.Millisecond)
}

func TestInvalidationRefetchesEachObservedKeyOnce(t *testing.T) {
	qc, _ := newTestClient(t)
	ctx := context.Background()

	counts := map[string]*atomic.Int32{"jobs": {}, "statuses": {}}
	mk := func(name string) func(context.Context) (int, error) {
		return func(ctx context.Context) (int, error) {
			return int(counts[name].Add(1)), nil
		}
	}

	jobsKey := NewKey("jobs", "ws1", "all")
	statusKey := NewKey("statuses", "ws1")
	jobsA := NewQuery(qc, jobsKey, mk("jobs"), QueryOptions{})
	jobsB := NewQuery(qc, jobsKey, mk("jobs"), QueryOptions{})
	statuses := NewQuery(qc, statusKey, mk("statuses"), QueryOptions{})

	jobsA.Get(ctx)
	statuses.Get(ctx)

	var mu sync.Mutex
	seen := map[string]int{}
	observe := func(name string) func(Result[int]) {
		return func(Result[int]) {
			mu.Lock()
			seen[name]++
			mu.Unlock()
		}
	}
	defer jobsA.Observe(observe("jobsA"))()
	defer jobsB.Observe(observe("jobsB"))()
	defer statuses.Observe(observe("statuses"))()

	require.NoError(t, qc.InvalidateQueries(ctx, NewKey("jobs", "ws1"), statusKey))

	assert.Equal(t, int32(2), counts["jobs"].Load())
	assert.Equal(t, int32(2), counts["statuses"].Load())
	mu.Lock()
	assert.Equal(t, map[string]int{"jobsA": 1, "jobsB": 1, "statuses": 1}, seen)
	mu.Unlock()
}

func TestUnobservedKeyIsOnlyMarkedStale(t *testing.T) {
	qc, _ := newTestClient(t)
	var calls atomic.Int32
	q := NewQuery(qc, NewKey("leads", "ws1"), func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}, QueryOptions{StaleTime: time.Hour})

	q.Get(context.Background())
	require.NoError(t, qc.InvalidateQueries(context.Background(), NewKey("leads")))
	assert.Equal(t, int32(1), calls.Load())

	e, ok := qc.store.Get(q.Key())
	require.True(t, ok)
	assert.True(t, e.Stale)
}

func TestInvalidatedEntryIsRefetchedOnRead(t *testing.T) {
	qc, _ := newTestClient(t)
	var calls atomic.Int32
	q := NewQuery(qc, NewKey("subtasks", "ws1", "job1"), func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}, QueryOptions{StaleTime: time.Hour})

	require.Equal(t, 1, q.Get(context.Background()).Data)
	require.NoError(t, qc.InvalidateQueries(context.Background(), NewKey("subtasks", "ws1")))

	res := q.Get(context.Background())
	assert.Equal(t, 2, res.Data)
	assert.False(t, res.IsStale)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDiscardedFetchReturnsNewerValue(t *testing.T) {
	qc, _ := newTestClient(t)
	ctx := context.Background()
	key := NewKey("conversations", "ws1")

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	q := NewQuery(qc, key, func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return "old", nil
		}
		return "new", nil
	}, QueryOptions{StaleTime: time.Hour})

	slow := make(chan Result[string], 1)
	go func() { slow <- q.Fetch(ctx) }()
	<-started

	require.NoError(t, qc.InvalidateQueries(ctx, key))
	require.Equal(t, "new", q.Fetch(ctx).Data)

	close(release)
	res := <-slow
	require.NoError(t, res.Err)
	assert.Equal(t, "new", res.Data)

	e, ok := qc.store.Get(key)
	require.True(t, ok)
	assert.Equal(t, "new", e.Value)
	assert.Equal(t, int64(1), qc.Stats().Discarded)
}

func TestReadRetriesWithFixedDelay(t *testing.T) {
	qc, _ := newTestClient(t)
	var calls atomic.Int32
	q := NewQuery(qc, NewKey("messages", "c1"), func(ctx context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("Failed to fetch")
		}
		return "ok", nil
	}, QueryOptions{Retry: 3})

	res := q.Fetch(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, "ok", res.Data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReadRetriesStopOnCancel(t *testing.T) {
	qc, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	q := NewQuery(qc, NewKey("messages", "c2"), func(ctx context.Context) (string, error) {
		calls.Add(1)
		cancel()
		return "", errors.New("boom")
	}, QueryOptions{Retry: 3, RetryDelay: time.Hour})

	res := q.Fetch(ctx)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFallbackEmptyIsObservable(t *testing.T) {
	qc, hook := newTestClient(t)
	q := NewQuery(qc, NewKey("conversations", "ws1"), func(ctx context.Context) ([]string, error) {
		return nil, errors.New("relation does not exist")
	}, QueryOptions{Retry: -1, Fallback: FallbackEmpty})

	res := q.Get(context.Background())
	assert.NoError(t, res.Err)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Data)
	assert.Equal(t, int64(1), qc.Stats().Degraded)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["fallback"] == "empty" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestFallbackPropagateReturnsError(t *testing.T) {
	qc, _ := newTestClient(t)
	q := NewQuery(qc, NewKey("leads", "ws1"), func(ctx context.Context) (int, error) {
		return 0, errors.New("permission denied")
	}, QueryOptions{Retry: -1})

	res := q.Get(context.Background())
	assert.EqualError(t, res.Err, "permission denied")
	assert.False(t, res.Degraded)
}

type recordingSink struct {
	mu     sync.Mutex
	toasts []models.Toast
}

func (s *recordingSink) Push(_ context.Context, t models.Toast) {
	s.mu.Lock()
	s.toasts = append(s.toasts, t)
	s.mu.Unlock()
}

func TestMutationInvalidatesAndToasts(t *testing.T) {
	qc, _ := newTestClient(t)
	sink := &recordingSink{}
	ctx := context.Background()

	var fetches atomic.Int32
	list := NewQuery(qc, NewKey("jobs", "ws1"), func(ctx context.Context) (int, error) {
		return int(fetches.Add(1)), nil
	}, QueryOptions{})
	list.Get(ctx)
	defer list.Observe(func(Result[int]) {})()

	create := NewMutation(qc, sink, func(ctx context.Context, title string) (string, error) {
		return "job-" + title, nil
	}, MutationOptions[string, string]{
		Invalidates: func(string, string) []Key { return []Key{NewKey("jobs", "ws1")} },
		Success:     func(in, out string) string { return "Job created" },
		Workspace:   func(string) string { return "ws1" },
	})

	out, err := create.Mutate(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "job-a", out)
	assert.Equal(t, int32(2), fetches.Load())
	assert.False(t, create.IsPending())

	require.Len(t, sink.toasts, 1)
	assert.Equal(t, models.ToastSuccess, sink.toasts[0].Level)
	assert.Equal(t, "ws1", sink.toasts[0].WorkspaceID)
}

func TestMutationFailureIsNotRetried(t *testing.T) {
	qc, _ := newTestClient(t)
	sink := &recordingSink{}

	var calls atomic.Int32
	del := NewMutation(qc, sink, func(ctx context.Context, id string) (struct{}, error) {
		calls.Add(1)
		return struct{}{}, errors.New("violates foreign key constraint")
	}, MutationOptions[string, struct{}]{
		ErrorTitle: "Could not delete",
		Translate:  func(err error) string { return "translated: " + err.Error() },
	})

	_, err := del.Mutate(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, err, del.LastError())

	require.Len(t, sink.toasts, 1)
	assert.Equal(t, models.ToastError, sink.toasts[0].Level)
	assert.Equal(t, "Could not delete", sink.toasts[0].Title)
	assert.Equal(t, "translated: violates foreign key constraint", sink.toasts[0].Message)
}
