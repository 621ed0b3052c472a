// Package app is the service layer. Every operation takes the acting
// principal explicitly, runs its authorization gates server-side, and
// mutates state inside a single store transaction so cross-row
// invariants hold under concurrent callers.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"roomhub/internal/notify"
	"roomhub/internal/util"
	"roomhub/pkg/apperror"
	"roomhub/pkg/domain"
	"roomhub/pkg/storage"
	"roomhub/pkg/store"
)

// Default role names created for every room.
const (
	RoleNameOwner  = "OWNER"
	RoleNameMember = "MEMBER"
)

// Config wires the application's collaborators.
type Config struct {
	Store         store.Store
	Notifier      notify.Publisher
	Objects       storage.ObjectStore
	Logger        *slog.Logger
	PresignExpiry time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// App is the core application service.
type App struct {
	store         store.Store
	notifier      notify.Publisher
	objects       storage.ObjectStore
	log           *slog.Logger
	presignExpiry time.Duration
	now           func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:         cfg.Store,
		notifier:      cfg.Notifier,
		objects:       cfg.Objects,
		log:           cfg.Logger,
		presignExpiry: cfg.PresignExpiry,
		now:           cfg.Now,
	}, nil
}

// Store exposes the underlying store for collaborators that need read
// access (the chat broker, the HTTP layer's user lookup).
func (a *App) Store() store.Store { return a.store }

// notifyEvent publishes best effort; the request path never fails on a
// broker outage.
func (a *App) notifyEvent(ctx context.Context, ev notify.Event) {
	ev.OccurredAt = a.now()
	if err := a.notifier.Publish(ctx, ev); err != nil {
		a.log.Warn("event publish failed", "type", ev.Type, "room_id", ev.RoomID, "error", err)
	}
}

// audit appends a room audit entry; failures are logged, not surfaced.
func (a *App) audit(ctx context.Context, s store.Store, roomID, actorID, action string, payload map[string]any) {
	entry := domain.AuditEntry{
		ID:        util.NewID(),
		RoomID:    roomID,
		ActorID:   actorID,
		Action:    action,
		Payload:   payload,
		CreatedAt: a.now(),
	}
	if err := s.AppendAudit(ctx, entry); err != nil {
		a.log.Warn("audit append failed", "room_id", roomID, "action", action, "error", err)
	}
}

// translateDuplicate maps a unique-violation from the store into the
// caller-facing CONFLICT kind; other errors become INTERNAL.
func translateDuplicate(err error, msg string) error {
	if errors.Is(err, store.ErrDuplicate) {
		return apperror.Conflict(msg)
	}
	return apperror.Internal(err)
}

// getRoom loads a room or fails NOT_FOUND.
func getRoom(ctx context.Context, s store.Store, roomID string) (domain.Room, error) {
	room, ok, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, apperror.Internal(err)
	}
	if !ok {
		return domain.Room{}, apperror.NotFound("room")
	}
	return room, nil
}

// getMembership loads the actor's membership in the room, or nil when
// the user is not a participant.
func getMembership(ctx context.Context, s store.Store, userID, roomID string) (*domain.Membership, error) {
	m, ok, err := s.GetMembership(ctx, userID, roomID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// requireMembership loads the actor's membership or fails
// PERMISSION_DENIED. Room operations never reveal NOT_FOUND to
// outsiders of private rooms.
func requireMembership(ctx context.Context, s store.Store, userID, roomID string) (domain.Membership, error) {
	m, err := getMembership(ctx, s, userID, roomID)
	if err != nil {
		return domain.Membership{}, err
	}
	if m == nil {
		return domain.Membership{}, apperror.PermissionDenied("not a participant of this room")
	}
	return *m, nil
}
