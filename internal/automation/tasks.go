// Package automation runs the workspace automation queue on an asynq worker.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"crm-backend/internal/cache"
	"crm-backend/internal/crm"
	"crm-backend/internal/remote"
)

const TypeProcess = "automation:process"

type Payload struct {
	WorkspaceID string `json:"workspace_id"`
}

func NewProcessTask(ws string) (*asynq.Task, error) {
	if ws == "" {
		return nil, errors.New("automation: workspace is required")
	}
	payload, err := json.Marshal(Payload{WorkspaceID: ws})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcess, payload), nil
}

type result struct {
	remote.FunctionResult
	Processed int `json:"processed"`
}

// Processor handles automation:process tasks.
type Processor struct {
	fn  remote.Functions
	qc  *cache.QueryClient
	log logrus.FieldLogger
}

func NewProcessor(fn remote.Functions, qc *cache.QueryClient, log logrus.FieldLogger) *Processor {
	return &Processor{fn: fn, qc: qc, log: log.WithField("component", "automation")}
}

var _ asynq.Handler = (*Processor)(nil)

// ProcessTask invokes the remote queue processor for one workspace. When it
// reports processed items, the workspace's inbox and threads are invalidated.
func (p *Processor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var pl Payload
	if err := json.Unmarshal(t.Payload(), &pl); err != nil || pl.WorkspaceID == "" {
		return fmt.Errorf("automation: bad payload %q: %w", t.Payload(), asynq.SkipRetry)
	}
	log := p.log.WithField("workspace_id", pl.WorkspaceID)

	started := time.Now()
	var res result
	err := p.fn.Invoke(ctx, crm.FnProcessAutomation, map[string]string{"workspace_id": pl.WorkspaceID}, &res)
	if err == nil {
		err = res.Err(crm.FnProcessAutomation)
	}
	if err != nil {
		log.WithError(err).Warn("automation run failed")
		return err
	}

	log.WithFields(logrus.Fields{
		"processed": res.Processed,
		"took":      time.Since(started).String(),
	}).Info("automation run finished")

	if res.Processed > 0 {
		return p.qc.InvalidateQueries(ctx, crm.ConversationsKey(pl.WorkspaceID), crm.WorkspaceMessagesKey(pl.WorkspaceID))
	}
	return nil
}
