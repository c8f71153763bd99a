package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindAudio    MessageKind = "audio"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
)

// MessageStatus is the delivery status of a WhatsApp message.
// It only moves forward: sending -> sent -> delivered -> read. failed is terminal.
type MessageStatus string

const (
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessageSending:
		return 1
	case MessageSent:
		return 2
	case MessageDelivered:
		return 3
	case MessageRead:
		return 4
	}
	return 0
}

func (s MessageStatus) Valid() bool {
	return s == MessageFailed || s.rank() > 0
}

// CanAdvance reports whether a message in status s may move to status to.
func (s MessageStatus) CanAdvance(to MessageStatus) bool {
	if !to.Valid() || s == MessageFailed {
		return false
	}
	if to == MessageFailed {
		return s != MessageRead
	}
	return to.rank() > s.rank()
}

type Message struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	ConversationID uuid.UUID     `json:"conversation_id" db:"conversation_id"`
	WorkspaceID    uuid.UUID     `json:"workspace_id" db:"workspace_id"`
	Direction      Direction     `json:"direction" db:"direction"`
	Kind           MessageKind   `json:"kind" db:"kind"`
	Body           string        `json:"body" db:"body"`
	MediaURL       *string       `json:"media_url,omitempty" db:"media_url"`
	MediaName      *string       `json:"media_name,omitempty" db:"media_name"`
	MediaMime      *string       `json:"media_mime,omitempty" db:"media_mime"`
	Status         MessageStatus `json:"status" db:"status"`
	ExternalID     *string       `json:"external_id,omitempty" db:"external_id"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

type SendMessageRequest struct {
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	MediaURL  *string     `json:"media_url"`
	MediaName *string     `json:"media_name"`
	MediaMime *string     `json:"media_mime"`
}

// KindForMime maps an uploaded file's MIME type to the message body variant.
func KindForMime(mime string) MessageKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case mime == "":
		return KindText
	}
	return KindDocument
}
