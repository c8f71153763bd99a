package crm

import (
	"crm-backend/internal/cache"
	"crm-backend/internal/models"
	"crm-backend/internal/realtime"
)

// Watches are the realtime subscriptions of a workspace room. Conversations,
// leads and jobs are invalidated and refetched; messages are merged into the
// cached thread directly.
func (s *Service) Watches(ws string) []realtime.Watch {
	return []realtime.Watch{
		{Topic: realtime.WorkspaceTopic("conversations", ws), Binding: realtime.Invalidate(s.qc, ConversationsKey(ws))},
		{Topic: realtime.WorkspaceTopic("messages", ws), Binding: realtime.MergeList(s.qc, cache.Key{}, MessageMerge(ws))},
		{Topic: realtime.WorkspaceTopic("leads", ws), Binding: realtime.Invalidate(s.qc, LeadsKey(ws))},
		{Topic: realtime.WorkspaceTopic("lead_tags", ws), Binding: realtime.Invalidate(s.qc, LeadTagsKey(ws))},
		{Topic: realtime.WorkspaceTopic("jobs", ws), Binding: realtime.Invalidate(s.qc, JobsKey(ws))},
		{Topic: realtime.WorkspaceTopic("job_statuses", ws), Binding: realtime.Invalidate(s.qc, StatusesKey(ws))},
	}
}

// MessageMerge folds message events into the thread of their conversation,
// ordered by creation time. Updates that would move the status backwards are
// ignored.
func MessageMerge(ws string) realtime.ListMerge[models.Message] {
	return realtime.ListMerge[models.Message]{
		ID:   func(m models.Message) string { return m.ID.String() },
		Less: func(a, b models.Message) bool { return a.CreatedAt.Before(b.CreatedAt) },
		Accept: func(old, next models.Message) bool {
			return old.Status == next.Status || old.Status.CanAdvance(next.Status)
		},
		KeyOf: func(m models.Message) cache.Key { return MessagesKey(ws, m.ConversationID.String()) },
	}
}

// Mount keeps the workspace's lists observed while a browser session is
// connected, so invalidations refetch them right away instead of on the next
// read.
func (s *Service) Mount(ws string) func() {
	unmounts := []func(){
		s.conversationsQuery(ws).Observe(func(cache.Result[[]models.Conversation]) {}),
		s.leadsQuery(ws, listRead).Observe(func(cache.Result[[]models.Lead]) {}),
		s.jobsQuery(ws, listRead).Observe(func(cache.Result[[]models.Job]) {}),
		s.statusesQuery(ws).Observe(func(cache.Result[[]models.CustomStatus]) {}),
	}

	return func() {
		for _, u := range unmounts {
			u()
		}
	}
}
