package crm

import "crm-backend/internal/cache"

// Cache keys. The workspace is always the second part so invalidations can be
// routed to the workspace's websocket room.

func ConversationsKey(ws string) cache.Key { return cache.NewKey("conversations", ws) }

func ConversationKey(ws, id string) cache.Key { return cache.NewKey("conversations", ws, id) }

func MessagesKey(ws, conversationID string) cache.Key {
	return cache.NewKey("messages", ws, conversationID)
}

// WorkspaceMessagesKey covers the threads of every conversation in ws.
func WorkspaceMessagesKey(ws string) cache.Key { return cache.NewKey("messages", ws) }

func LeadsKey(ws string) cache.Key { return cache.NewKey("leads", ws) }

func LeadKey(ws, id string) cache.Key { return cache.NewKey("leads", ws, id) }

func TagsKey(ws string) cache.Key { return cache.NewKey("tags", ws) }

func LeadTagsKey(ws string) cache.Key { return cache.NewKey("lead_tags", ws) }

func JobsKey(ws string) cache.Key { return cache.NewKey("jobs", ws) }

func StatusesKey(ws string) cache.Key { return cache.NewKey("statuses", ws) }

func TimeLogsKey(ws, jobID string) cache.Key { return cache.NewKey("time_logs", ws, jobID) }

func SubtasksKey(ws, jobID string) cache.Key { return cache.NewKey("subtasks", ws, jobID) }

func CommentsKey(ws, jobID string) cache.Key { return cache.NewKey("comments", ws, jobID) }

func MembersKey(ws string) cache.Key { return cache.NewKey("members", ws) }

// WorkspacesKey is keyed by user; it is not routed to any room.
func WorkspacesKey(userID string) cache.Key { return cache.NewKey("workspaces", "user:"+userID) }
