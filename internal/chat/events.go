// Package chat is the real-time core: per-room sessions that persist
// messages through the service layer, publish them into a durable
// per-room stream with consumer-group semantics, and fan them out to
// connected clients with self-dedup.
package chat

import (
	"encoding/json"
	"time"

	"roomhub/pkg/domain"
)

// Client frame types.
const (
	FrameText   = "text"
	FrameDelete = "delete"
	FrameUpdate = "update"
)

// Event actions.
const (
	ActionNew    = "new"
	ActionDelete = "delete"
	ActionUpdate = "update"
)

// ClientFrame is the inbound JSON envelope.
type ClientFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// MessagePayload is the serialized message carried on new events.
type MessagePayload struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	ParentID  string    `json:"parentId,omitempty"`
	IsEdited  bool      `json:"isEdited"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Event is the outbound frame, both broadcast in-process and appended
// to the stream.
type Event struct {
	Type      string          `json:"type"`
	Action    string          `json:"action"`
	Message   *MessagePayload `json:"message,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Body      string          `json:"body,omitempty"`
	IsEdited  bool            `json:"isEdited,omitempty"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
}

func payloadFromMessage(m domain.Message) *MessagePayload {
	return &MessagePayload{
		ID:        m.ID,
		RoomID:    m.RoomID,
		AuthorID:  m.AuthorID,
		Body:      m.Body,
		ParentID:  m.ParentID,
		IsEdited:  m.IsEdited,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func newMessageEvent(m domain.Message) Event {
	return Event{Type: "chat_message", Action: ActionNew, Message: payloadFromMessage(m)}
}

func updateMessageEvent(m domain.Message) Event {
	updated := m.UpdatedAt
	return Event{
		Type:      "chat_message",
		Action:    ActionUpdate,
		MessageID: m.ID,
		Body:      m.Body,
		IsEdited:  m.IsEdited,
		UpdatedAt: &updated,
	}
}

func deleteMessageEvent(id string) Event {
	return Event{Type: "chat_message", Action: ActionDelete, MessageID: id}
}

// errorFrame is sent inline to the offending client only.
func errorFrame(msg string) []byte {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return data
}
