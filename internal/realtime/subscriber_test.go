package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-backend/internal/cache"
)

type row struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func rowEvent(typ EventType, r row) ChangeEvent {
	raw, _ := json.Marshal(r)
	ev := ChangeEvent{Type: typ, Table: "messages", WorkspaceID: "ws1"}
	if typ == Delete {
		ev.Old = raw
	} else {
		ev.New = raw
	}
	return ev
}

func newTestSubscriber(t *testing.T) (*Subscriber, *MemorySource, *cache.QueryClient) {
	t.Helper()
	log, _ := test.NewNullLogger()
	src := NewMemorySource()
	qc := cache.NewQueryClient(cache.NewStore(), cache.Options{RetryDelay: time.Millisecond}, log)
	return NewSubscriber(src, log), src, qc
}

func TestLastUnsubscribeClosesChannel(t *testing.T) {
	sub, src, _ := newTestSubscriber(t)
	ctx := context.Background()
	topic := WorkspaceTopic("leads", "ws1")

	noop := BindingFunc(func(context.Context, ChangeEvent) error { return nil })
	first, err := sub.Subscribe(ctx, topic, noop)
	require.NoError(t, err)
	second, err := sub.Subscribe(ctx, topic, noop)
	require.NoError(t, err)

	assert.Equal(t, 1, src.OpenChannels())
	assert.Equal(t, []string{"leads:workspace_id=eq.ws1"}, sub.Topics())

	first()
	first()
	assert.Equal(t, 1, src.OpenChannels())

	second()
	assert.Equal(t, 0, src.OpenChannels())
	assert.Empty(t, sub.Topics())
}

func TestBindingErrorsAreContained(t *testing.T) {
	sub, src, _ := newTestSubscriber(t)
	ctx := context.Background()

	var calls []string
	unsub1, err := sub.Subscribe(ctx, TableTopic("leads"), BindingFunc(func(context.Context, ChangeEvent) error {
		calls = append(calls, "failing")
		return errors.New("boom")
	}))
	require.NoError(t, err)
	defer unsub1()
	unsub2, err := sub.Subscribe(ctx, TableTopic("leads"), BindingFunc(func(context.Context, ChangeEvent) error {
		calls = append(calls, "ok")
		return nil
	}))
	require.NoError(t, err)
	defer unsub2()

	require.NoError(t, src.Publish(ctx, ChangeEvent{Type: Update, Table: "leads"}))
	assert.Equal(t, []string{"failing", "ok"}, calls)
}

func TestMergeListInsertIsIdempotent(t *testing.T) {
	sub, src, qc := newTestSubscriber(t)
	ctx := context.Background()
	key := cache.NewKey("messages", "ws1", "c1")
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	qc.Set(key, []row{{ID: "m1", Body: "hi", CreatedAt: t0}})

	unsub, err := sub.Subscribe(ctx, WorkspaceTopic("messages", "ws1"), MergeList(qc, key, ListMerge[row]{
		ID:   func(r row) string { return r.ID },
		Less: func(a, b row) bool { return a.CreatedAt.Before(b.CreatedAt) },
	}))
	require.NoError(t, err)
	defer unsub()

	var events int
	stop := qc.Store().Subscribe(key, func(cache.Event) { events++ })
	defer stop()

	require.NoError(t, src.Publish(ctx, rowEvent(Insert, row{ID: "m1", Body: "dup", CreatedAt: t0})))
	assert.Equal(t, 0, events)

	early := row{ID: "m0", Body: "earlier", CreatedAt: t0.Add(-time.Minute)}
	require.NoError(t, src.Publish(ctx, rowEvent(Insert, early)))
	require.NoError(t, src.Publish(ctx, rowEvent(Insert, early)))
	assert.Equal(t, 1, events)

	e, ok := qc.Store().Get(key)
	require.True(t, ok)
	want := []row{early, {ID: "m1", Body: "hi", CreatedAt: t0}}
	if diff := cmp.Diff(want, e.Value.([]row)); diff != "" {
		t.Fatalf("merged list mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeListUpdateAndDelete(t *testing.T) {
	sub, src, qc := newTestSubscriber(t)
	ctx := context.Background()
	key := cache.NewKey("messages", "ws1", "c1")

	qc.Set(key, []row{{ID: "m1", Status: "delivered"}, {ID: "m2", Status: "sent"}})

	rank := map[string]int{"sending": 1, "sent": 2, "delivered": 3, "read": 4}
	unsub, err := sub.Subscribe(ctx, TableTopic("messages"), MergeList(qc, key, ListMerge[row]{
		ID:     func(r row) string { return r.ID },
		Accept: func(old, new row) bool { return rank[new.Status] > rank[old.Status] },
	}))
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, src.Publish(ctx, rowEvent(Update, row{ID: "m1", Status: "sent"})))
	require.NoError(t, src.Publish(ctx, rowEvent(Update, row{ID: "m2", Status: "read"})))
	require.NoError(t, src.Publish(ctx, rowEvent(Delete, row{ID: "m1"})))

	e, _ := qc.Store().Get(key)
	assert.Equal(t, []row{{ID: "m2", Status: "read"}}, e.Value)
}

func TestMergeListSkipsUncachedList(t *testing.T) {
	sub, src, qc := newTestSubscriber(t)
	ctx := context.Background()
	key := cache.NewKey("messages", "ws1", "c9")

	unsub, err := sub.Subscribe(ctx, TableTopic("messages"), MergeList(qc, key, ListMerge[row]{
		ID: func(r row) string { return r.ID },
	}))
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, src.Publish(ctx, rowEvent(Insert, row{ID: "m1"})))
	_, ok := qc.Store().Get(key)
	assert.False(t, ok)
}

func TestInvalidateBindingRefetchesMountedQuery(t *testing.T) {
	sub, src, qc := newTestSubscriber(t)
	ctx := context.Background()
	key := cache.NewKey("leads", "ws1")

	var fetches atomic.Int32
	q := cache.NewQuery(qc, key, func(context.Context) (int, error) {
		return int(fetches.Add(1)), nil
	}, cache.QueryOptions{StaleTime: time.Hour})
	q.Get(ctx)
	defer q.Observe(func(cache.Result[int]) {})()

	unsub, err := sub.Subscribe(ctx, WorkspaceTopic("leads", "ws1"), Invalidate(qc, cache.NewKey("leads", "ws1")))
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, src.Publish(ctx, ChangeEvent{Type: Insert, Table: "leads", WorkspaceID: "ws1"}))
	require.NoError(t, src.Publish(ctx, ChangeEvent{Type: Insert, Table: "leads", WorkspaceID: "ws2"}))
	require.Eventually(t, func() bool {
		e, ok := qc.Store().Get(key)
		return ok && e.Value == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestSlowRefetchDoesNotHoldBackEvents(t *testing.T) {
	sub, src, qc := newTestSubscriber(t)
	ctx := context.Background()
	key := cache.NewKey("jobs", "ws1")

	release := make(chan struct{})
	var fetches atomic.Int32
	q := cache.NewQuery(qc, key, func(ctx context.Context) (int, error) {
		if fetches.Add(1) > 1 {
			select {
			case <-release:
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		return int(fetches.Load()), nil
	}, cache.QueryOptions{StaleTime: time.Hour})
	q.Get(ctx)
	defer q.Observe(func(cache.Result[int]) {})()

	var seen atomic.Int32
	topic := WorkspaceTopic("jobs", "ws1")
	unsubInvalidate, err := sub.Subscribe(ctx, topic, Invalidate(qc, key))
	require.NoError(t, err)
	defer unsubInvalidate()
	unsubCount, err := sub.Subscribe(ctx, topic, BindingFunc(func(context.Context, ChangeEvent) error {
		seen.Add(1)
		return nil
	}))
	require.NoError(t, err)
	defer unsubCount()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = src.Publish(ctx, ChangeEvent{Type: Update, Table: "jobs", WorkspaceID: "ws1"})
		_ = src.Publish(ctx, ChangeEvent{Type: Update, Table: "jobs", WorkspaceID: "ws1"})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("events were held back by a pending refetch")
	}
	assert.Equal(t, int32(2), seen.Load())

	e, ok := qc.Store().Get(key)
	require.True(t, ok)
	assert.True(t, e.Stale)

	close(release)
	require.Eventually(t, func() bool {
		e, ok := qc.Store().Get(key)
		return ok && !e.Stale
	}, time.Second, 5*time.Millisecond)
}

// gatedSource holds Open for one table until gate is closed.
type gatedSource struct {
	*MemorySource
	table   string
	gate    chan struct{}
	opening chan struct{}
}

func (g *gatedSource) Open(ctx context.Context, topic Topic, handler func(ChangeEvent)) (Channel, error) {
	if topic.Table == g.table {
		g.opening <- struct{}{}
		<-g.gate
	}
	return g.MemorySource.Open(ctx, topic, handler)
}

func TestSlowOpenDoesNotBlockOtherTopics(t *testing.T) {
	log, _ := test.NewNullLogger()
	src := &gatedSource{MemorySource: NewMemorySource(), table: "jobs", gate: make(chan struct{}), opening: make(chan struct{}, 2)}
	sub := NewSubscriber(src, log)
	ctx := context.Background()

	var seen atomic.Int32
	unsub, err := sub.Subscribe(ctx, WorkspaceTopic("leads", "ws1"), BindingFunc(func(context.Context, ChangeEvent) error {
		seen.Add(1)
		return nil
	}))
	require.NoError(t, err)
	defer unsub()

	noop := BindingFunc(func(context.Context, ChangeEvent) error { return nil })
	opened := make(chan func(), 2)
	for i := 0; i < 2; i++ {
		go func() {
			u, err := sub.Subscribe(ctx, WorkspaceTopic("jobs", "ws1"), noop)
			if err == nil {
				opened <- u
			}
		}()
	}
	<-src.opening
	<-src.opening

	require.NoError(t, src.Publish(ctx, ChangeEvent{Type: Insert, Table: "leads", WorkspaceID: "ws1"}))
	assert.Equal(t, int32(1), seen.Load())

	close(src.gate)
	first, second := <-opened, <-opened
	assert.Equal(t, 2, src.OpenChannels())
	assert.Equal(t, []string{"jobs:workspace_id=eq.ws1", "leads:workspace_id=eq.ws1"}, sub.Topics())

	first()
	assert.Equal(t, 2, src.OpenChannels())
	second()
	assert.Equal(t, 1, src.OpenChannels())
}
