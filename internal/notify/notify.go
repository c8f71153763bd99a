// Package notify delivers user-facing toasts: it logs them, keeps the most
// recent ones per workspace and forwards them to connected clients.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"crm-backend/internal/models"
)

const defaultRecent = 50

type Sink interface {
	Push(ctx context.Context, t models.Toast)
}

// Forwarder receives every toast after it is recorded.
type Forwarder interface {
	Forward(t models.Toast)
}

type ForwarderFunc func(t models.Toast)

func (f ForwarderFunc) Forward(t models.Toast) { f(t) }

type Notifier struct {
	log   logrus.FieldLogger
	limit int

	mu         sync.RWMutex
	recent     map[string][]models.Toast
	forwarders []Forwarder
}

func NewNotifier(log logrus.FieldLogger, limit int) *Notifier {
	if limit <= 0 {
		limit = defaultRecent
	}
	return &Notifier{
		log:    log.WithField("component", "notify"),
		limit:  limit,
		recent: make(map[string][]models.Toast),
	}
}

func (n *Notifier) AddForwarder(f Forwarder) {
	n.mu.Lock()
	n.forwarders = append(n.forwarders, f)
	n.mu.Unlock()
}

func (n *Notifier) Push(ctx context.Context, t models.Toast) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	entry := n.log.WithFields(logrus.Fields{
		"toast_level":  t.Level,
		"title":        t.Title,
		"workspace_id": t.WorkspaceID,
	})
	if t.Level == models.ToastError {
		entry.Warn(t.Message)
	} else {
		entry.Info(t.Message)
	}

	n.mu.Lock()
	list := append(n.recent[t.WorkspaceID], t)
	if len(list) > n.limit {
		list = list[len(list)-n.limit:]
	}
	n.recent[t.WorkspaceID] = list
	forwarders := append([]Forwarder(nil), n.forwarders...)
	n.mu.Unlock()

	for _, f := range forwarders {
		f.Forward(t)
	}
}

// Recent returns the latest toasts of a workspace, newest last.
func (n *Notifier) Recent(workspaceID string) []models.Toast {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]models.Toast(nil), n.recent[workspaceID]...)
}

// Success and Failure are shorthands used outside mutations.
func (n *Notifier) Success(ctx context.Context, workspaceID, title, msg string) {
	n.Push(ctx, models.Toast{Level: models.ToastSuccess, Title: title, Message: msg, WorkspaceID: workspaceID})
}

func (n *Notifier) Failure(ctx context.Context, workspaceID, title string, err error) {
	n.Push(ctx, models.Toast{Level: models.ToastError, Title: title, Message: Translate(err), WorkspaceID: workspaceID})
}
