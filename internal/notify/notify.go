// Package notify publishes domain events to a message broker so
// out-of-process workers (mailers, moderation dashboards) can react
// without coupling to the request path. Publish failures are logged
// and swallowed by callers; notifications are best effort.
package notify

import (
	"context"
	"time"
)

// Event types carried on the notifications queue.
const (
	EventInviteSent      = "invite.sent"
	EventInviteAccepted  = "invite.accepted"
	EventInviteDeclined  = "invite.declined"
	EventInviteCancelled = "invite.cancelled"
	EventReportFiled     = "report.filed"
	EventReportResolved  = "report.resolved"
	EventRoomDeleted     = "room.deleted"
)

// Event is the JSON payload published for every domain event.
type Event struct {
	Type       string         `json:"type"`
	RoomID     string         `json:"roomId,omitempty"`
	ActorID    string         `json:"actorId,omitempty"`
	SubjectID  string         `json:"subjectId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher sends events to the broker.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event. Used in tests and when no broker is
// configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
