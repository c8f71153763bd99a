package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crm-backend/internal/cache"
	"crm-backend/internal/models"
	"crm-backend/internal/remote"
)

func (s *Service) conversationsQuery(ws string) *cache.Query[[]models.Conversation] {
	return cache.NewQuery(s.qc, ConversationsKey(ws), func(ctx context.Context) ([]models.Conversation, error) {
		var out []models.Conversation
		q := remote.Where(remote.Eq("workspace_id", ws)).OrderBy("last_message_at", true)
		if err := s.db.Select(ctx, "conversations", q, &out); err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		return out, nil
	}, listRead)
}

// ListConversations returns the workspace inbox, most recent first.
func (s *Service) ListConversations(ctx context.Context, ws string) cache.Result[[]models.Conversation] {
	return s.conversationsQuery(ws).Get(ctx)
}

func (s *Service) Conversation(ctx context.Context, ws, id string) cache.Result[models.Conversation] {
	return cache.NewQuery(s.qc, ConversationKey(ws, id), func(ctx context.Context) (models.Conversation, error) {
		var c models.Conversation
		err := s.db.Select(ctx, "conversations", remote.Where(remote.Eq("id", id), remote.Eq("workspace_id", ws)), &c)
		return c, err
	}, itemRead).Get(ctx)
}

func (s *Service) messagesQuery(ws, conversationID string) *cache.Query[[]models.Message] {
	return cache.NewQuery(s.qc, MessagesKey(ws, conversationID), func(ctx context.Context) ([]models.Message, error) {
		var out []models.Message
		q := remote.Where(remote.Eq("conversation_id", conversationID), remote.Eq("workspace_id", ws)).
			OrderBy("created_at", false)
		if err := s.db.Select(ctx, "messages", q, &out); err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		return out, nil
	}, listRead)
}

// Messages returns a conversation's messages, oldest first.
func (s *Service) Messages(ctx context.Context, ws, conversationID string) cache.Result[[]models.Message] {
	return s.messagesQuery(ws, conversationID).Get(ctx)
}

type ensureConversation struct {
	ws    string
	phone string
	name  string
}

// EnsureConversation returns the conversation for phone, creating it when
// absent. A conversation is linked to a lead only when a lead with the same
// normalized phone exists; an unlinked conversation is linked as soon as one
// does.
func (s *Service) EnsureConversation(ctx context.Context, ws, phone, name string) (models.Conversation, error) {
	normalized := models.NormalizePhone(phone)
	if normalized == "" {
		ve := &models.ValidationError{}
		ve.Add("phone", "must contain digits")
		return models.Conversation{}, ve
	}

	in := ensureConversation{ws: ws, phone: normalized, name: strings.TrimSpace(name)}
	return mutate(ctx, s, in, s.ensureConversation, cache.MutationOptions[ensureConversation, models.Conversation]{
		Invalidates: func(in ensureConversation, c models.Conversation) []cache.Key {
			return []cache.Key{ConversationsKey(in.ws)}
		},
		ErrorTitle: "Could not open conversation",
		Workspace:  func(in ensureConversation) string { return in.ws },
	})
}

func (s *Service) ensureConversation(ctx context.Context, in ensureConversation) (models.Conversation, error) {
	lead, err := s.FindLeadByPhone(ctx, in.ws, in.phone)
	if err != nil {
		return models.Conversation{}, err
	}

	existing, err := s.findConversation(ctx, in.ws, in.phone)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return models.Conversation{}, err
	}
	if err == nil {
		if existing.LeadID == nil && lead != nil {
			return s.linkLead(ctx, in.ws, existing.ID.String(), lead.ID.String())
		}
		return existing, nil
	}

	row := map[string]interface{}{
		"workspace_id": in.ws,
		"phone":        in.phone,
		"name":         in.name,
	}
	if lead != nil {
		row["lead_id"] = lead.ID.String()
		if in.name == "" {
			row["name"] = lead.Name
		}
	}

	var created models.Conversation
	err = s.db.Insert(ctx, "conversations", row, &created)
	if remote.IsConflict(err) {
		// Created concurrently by another request.
		return s.findConversation(ctx, in.ws, in.phone)
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return created, nil
}

func (s *Service) findConversation(ctx context.Context, ws, phone string) (models.Conversation, error) {
	var c models.Conversation
	err := s.db.Select(ctx, "conversations", remote.Where(remote.Eq("workspace_id", ws), remote.Eq("phone", phone)).WithLimit(1), &c)
	return c, err
}

func (s *Service) linkLead(ctx context.Context, ws, conversationID, leadID string) (models.Conversation, error) {
	var c models.Conversation
	err := s.db.Update(ctx, "conversations",
		[]remote.Filter{remote.Eq("id", conversationID), remote.Eq("workspace_id", ws)},
		map[string]interface{}{"lead_id": leadID}, &c)
	if err != nil {
		return c, fmt.Errorf("link conversation %s: %w", conversationID, err)
	}
	return c, nil
}

type conversationLead struct {
	ws, conversationID, leadID string
}

// LinkLead attaches a conversation to a lead explicitly.
func (s *Service) LinkLead(ctx context.Context, ws, conversationID, leadID string) (models.Conversation, error) {
	in := conversationLead{ws: ws, conversationID: conversationID, leadID: leadID}
	return mutate(ctx, s, in, func(ctx context.Context, in conversationLead) (models.Conversation, error) {
		return s.linkLead(ctx, in.ws, in.conversationID, in.leadID)
	}, cache.MutationOptions[conversationLead, models.Conversation]{
		Invalidates: func(in conversationLead, _ models.Conversation) []cache.Key {
			return []cache.Key{ConversationsKey(in.ws)}
		},
		Success:    func(conversationLead, models.Conversation) string { return "Conversation linked to lead" },
		ErrorTitle: "Could not link lead",
		Workspace:  func(in conversationLead) string { return in.ws },
	})
}

type conversationRef struct {
	ws, id string
}

func (s *Service) MarkRead(ctx context.Context, ws, conversationID string) error {
	_, err := mutate(ctx, s, conversationRef{ws, conversationID}, func(ctx context.Context, in conversationRef) (struct{}, error) {
		return struct{}{}, s.db.Update(ctx, "conversations",
			[]remote.Filter{remote.Eq("id", in.id), remote.Eq("workspace_id", in.ws)},
			map[string]interface{}{"unread": false}, nil)
	}, cache.MutationOptions[conversationRef, struct{}]{
		Invalidates: func(in conversationRef, _ struct{}) []cache.Key {
			return []cache.Key{ConversationsKey(in.ws)}
		},
		ErrorTitle: "Could not mark conversation as read",
		Workspace:  func(in conversationRef) string { return in.ws },
	})
	return err
}

// DeleteConversation removes the messages first and then the conversation.
func (s *Service) DeleteConversation(ctx context.Context, ws, conversationID string) error {
	_, err := mutate(ctx, s, conversationRef{ws, conversationID}, func(ctx context.Context, in conversationRef) (struct{}, error) {
		if err := s.db.Delete(ctx, "messages", []remote.Filter{remote.Eq("conversation_id", in.id), remote.Eq("workspace_id", in.ws)}); err != nil {
			return struct{}{}, fmt.Errorf("delete messages: %w", err)
		}
		if err := s.db.Delete(ctx, "conversations", []remote.Filter{remote.Eq("id", in.id), remote.Eq("workspace_id", in.ws)}); err != nil {
			return struct{}{}, fmt.Errorf("delete conversation: %w", err)
		}
		return struct{}{}, nil
	}, cache.MutationOptions[conversationRef, struct{}]{
		Invalidates: func(in conversationRef, _ struct{}) []cache.Key {
			return []cache.Key{ConversationsKey(in.ws), MessagesKey(in.ws, in.id)}
		},
		Success:    func(conversationRef, struct{}) string { return "Conversation deleted" },
		ErrorTitle: "Could not delete conversation",
		Workspace:  func(in conversationRef) string { return in.ws },
	})
	return err
}

type sendMessage struct {
	ws             string
	conversationID string
	req            models.SendMessageRequest
}

type sendResult struct {
	remote.FunctionResult
	ExternalID string `json:"external_id"`
}

// SendMessage records an outbound message and hands it to the WhatsApp
// function. A rejected send leaves the message in status failed.
func (s *Service) SendMessage(ctx context.Context, ws, conversationID string, req models.SendMessageRequest) (models.Message, error) {
	req.Body = strings.TrimSpace(req.Body)
	if req.Kind == "" {
		req.Kind = models.KindText
		if req.MediaMime != nil {
			req.Kind = models.KindForMime(*req.MediaMime)
		}
	}
	ve := &models.ValidationError{}
	if req.Body == "" && req.MediaURL == nil {
		ve.Add("body", "required")
	}
	if req.Kind != models.KindText && req.MediaURL == nil {
		ve.Add("media_url", "required for "+string(req.Kind)+" messages")
	}
	if err := ve.OrNil(); err != nil {
		return models.Message{}, err
	}

	in := sendMessage{ws: ws, conversationID: conversationID, req: req}
	return mutate(ctx, s, in, s.sendMessage, cache.MutationOptions[sendMessage, models.Message]{
		Invalidates: func(in sendMessage, _ models.Message) []cache.Key {
			return []cache.Key{MessagesKey(in.ws, in.conversationID), ConversationsKey(in.ws)}
		},
		ErrorTitle: "Message not sent",
		Workspace:  func(in sendMessage) string { return in.ws },
	})
}

func (s *Service) sendMessage(ctx context.Context, in sendMessage) (models.Message, error) {
	conv := s.Conversation(ctx, in.ws, in.conversationID)
	if conv.Err != nil {
		return models.Message{}, conv.Err
	}

	row := map[string]interface{}{
		"conversation_id": in.conversationID,
		"workspace_id":    in.ws,
		"direction":       models.Outbound,
		"kind":            in.req.Kind,
		"body":            in.req.Body,
		"media_url":       in.req.MediaURL,
		"media_name":      in.req.MediaName,
		"media_mime":      in.req.MediaMime,
		"status":          models.MessageSending,
	}
	var msg models.Message
	if err := s.db.Insert(ctx, "messages", row, &msg); err != nil {
		return msg, fmt.Errorf("store message: %w", err)
	}

	var res sendResult
	err := s.fn.Invoke(ctx, FnSendWhatsApp, map[string]interface{}{
		"message_id":      msg.ID.String(),
		"conversation_id": in.conversationID,
		"workspace_id":    in.ws,
		"phone":           conv.Data.Phone,
		"body":            in.req.Body,
		"kind":            in.req.Kind,
		"media_url":       in.req.MediaURL,
	}, &res)
	if err == nil {
		err = res.Err(FnSendWhatsApp)
	}
	if err != nil {
		if _, serr := s.setStatus(ctx, in.ws, msg, models.MessageFailed, ""); serr != nil {
			s.log.WithError(serr).WithField("message_id", msg.ID).Warn("could not mark message failed")
		}
		return msg, err
	}

	msg, err = s.setStatus(ctx, in.ws, msg, models.MessageSent, res.ExternalID)
	if err != nil {
		return msg, err
	}

	if err := s.db.Update(ctx, "conversations",
		[]remote.Filter{remote.Eq("id", in.conversationID), remote.Eq("workspace_id", in.ws)},
		map[string]interface{}{"last_message_at": s.now()}, nil); err != nil {
		s.log.WithError(err).WithField("conversation_id", in.conversationID).Warn("could not touch conversation")
	}
	return msg, nil
}

// setStatus moves msg forward to status. The update is conditional on the
// status msg was read with so a concurrent webhook cannot be overwritten.
func (s *Service) setStatus(ctx context.Context, ws string, msg models.Message, status models.MessageStatus, externalID string) (models.Message, error) {
	if msg.Status == status {
		return msg, nil
	}
	if !msg.Status.CanAdvance(status) {
		return msg, models.ErrStatusRegression
	}
	patch := map[string]interface{}{"status": status, "updated_at": s.now()}
	if externalID != "" {
		patch["external_id"] = externalID
	}
	var out models.Message
	err := s.db.Update(ctx, "messages", []remote.Filter{
		remote.Eq("id", msg.ID.String()),
		remote.Eq("workspace_id", ws),
		remote.Eq("status", msg.Status),
	}, patch, &out)
	return out, err
}

type messageStatus struct {
	ws        string
	messageID string
	status    models.MessageStatus
}

// ApplyStatus records a delivery receipt. Statuses only move forward and
// failed is terminal; a repeated receipt is a no-op.
func (s *Service) ApplyStatus(ctx context.Context, ws, messageID string, status models.MessageStatus) (models.Message, error) {
	if !status.Valid() {
		return models.Message{}, models.ErrInvalidStatus
	}
	in := messageStatus{ws: ws, messageID: messageID, status: status}
	return mutate(ctx, s, in, func(ctx context.Context, in messageStatus) (models.Message, error) {
		var err error
		for attempt := 0; attempt < 2; attempt++ {
			var msg models.Message
			if err = s.db.Select(ctx, "messages", remote.Where(remote.Eq("id", in.messageID), remote.Eq("workspace_id", in.ws)), &msg); err != nil {
				return msg, err
			}
			msg, err = s.setStatus(ctx, in.ws, msg, in.status, "")
			if !errors.Is(err, remote.ErrNotFound) {
				return msg, err
			}
		}
		return models.Message{}, err
	}, cache.MutationOptions[messageStatus, models.Message]{
		Invalidates: func(in messageStatus, m models.Message) []cache.Key {
			return []cache.Key{MessagesKey(in.ws, m.ConversationID.String())}
		},
		ErrorTitle: "Could not update message status",
		Workspace:  func(in messageStatus) string { return in.ws },
	})
}
