package automation

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-backend/internal/cache"
	"crm-backend/internal/crm"
)

type stubFunctions struct {
	reply  string
	err    error
	names  []string
	bodies []map[string]string
}

func (s *stubFunctions) Invoke(_ context.Context, name string, body interface{}, dest interface{}) error {
	s.names = append(s.names, name)
	s.bodies = append(s.bodies, body.(map[string]string))
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.reply), dest)
}

func newProcessor(t *testing.T, fn *stubFunctions) (*Processor, *cache.QueryClient) {
	t.Helper()
	log, _ := test.NewNullLogger()
	qc := cache.NewQueryClient(cache.NewStore(), cache.Options{RetryDelay: time.Millisecond}, log)
	return NewProcessor(fn, qc, log), qc
}

func observeInbox(t *testing.T, qc *cache.QueryClient, ws string) *atomic.Int32 {
	t.Helper()
	var fetches atomic.Int32
	q := cache.NewQuery(qc, crm.ConversationsKey(ws), func(context.Context) (int, error) {
		return int(fetches.Add(1)), nil
	}, cache.QueryOptions{})
	q.Get(context.Background())
	t.Cleanup(q.Observe(func(cache.Result[int]) {}))
	return &fetches
}

func TestProcessTaskInvalidatesInboxWhenItemsProcessed(t *testing.T) {
	fn := &stubFunctions{reply: `{"success":true,"processed":3}`}
	p, qc := newProcessor(t, fn)
	fetches := observeInbox(t, qc, "ws1")

	task, err := NewProcessTask("ws1")
	require.NoError(t, err)
	require.NoError(t, p.ProcessTask(context.Background(), task))

	assert.Equal(t, []string{crm.FnProcessAutomation}, fn.names)
	assert.Equal(t, map[string]string{"workspace_id": "ws1"}, fn.bodies[0])
	assert.Equal(t, int32(2), fetches.Load())
}

func TestProcessTaskWithNothingProcessedLeavesCache(t *testing.T) {
	fn := &stubFunctions{reply: `{"success":true,"processed":0}`}
	p, qc := newProcessor(t, fn)
	fetches := observeInbox(t, qc, "ws1")

	task, _ := NewProcessTask("ws1")
	require.NoError(t, p.ProcessTask(context.Background(), task))
	assert.Equal(t, int32(1), fetches.Load())
}

func TestProcessTaskFailures(t *testing.T) {
	t.Run("remote error is returned for retry", func(t *testing.T) {
		p, _ := newProcessor(t, &stubFunctions{err: errors.New("gateway timeout")})
		task, _ := NewProcessTask("ws1")
		err := p.ProcessTask(context.Background(), task)
		assert.EqualError(t, err, "gateway timeout")
		assert.False(t, errors.Is(err, asynq.SkipRetry))
	})

	t.Run("unsuccessful envelope", func(t *testing.T) {
		p, _ := newProcessor(t, &stubFunctions{reply: `{"success":false,"error":"queue locked"}`})
		task, _ := NewProcessTask("ws1")
		assert.ErrorContains(t, p.ProcessTask(context.Background(), task), "queue locked")
	})

	t.Run("bad payload is not retried", func(t *testing.T) {
		fn := &stubFunctions{}
		p, _ := newProcessor(t, fn)
		err := p.ProcessTask(context.Background(), asynq.NewTask(TypeProcess, []byte(`{}`)))
		assert.ErrorIs(t, err, asynq.SkipRetry)
		assert.Empty(t, fn.names)
	})
}

func TestNewProcessTask(t *testing.T) {
	task, err := NewProcessTask("ws9")
	require.NoError(t, err)
	assert.Equal(t, TypeProcess, task.Type())
	assert.JSONEq(t, `{"workspace_id":"ws9"}`, string(task.Payload()))

	_, err = NewProcessTask("")
	assert.Error(t, err)
}
