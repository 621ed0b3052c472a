// Package store is the persistence port for the identity and room
// state. GormStore backs it with Postgres; MemoryStore backs the test
// suites. Lookups return (zero, false, nil) when the row is absent;
// uniqueness violations surface as ErrDuplicate.
package store

import (
	"context"
	"time"

	"roomhub/pkg/domain"
)

// Store defines persistence operations for users, rooms, roles,
// participants, invites, messages, reports, attachments and audit.
type Store interface {
	// WithTx runs fn against a transactional view of the store. The
	// mutations commit iff fn returns nil. Cross-row invariants are
	// checked inside fn so concurrent writers are arbitrated by the
	// database constraints.
	WithTx(ctx context.Context, fn func(Store) error) error

	// users
	CreateUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)
	UpdateUser(ctx context.Context, u domain.User) error

	// rooms
	CreateRoom(ctx context.Context, r domain.Room) error
	GetRoom(ctx context.Context, id string) (domain.Room, bool, error)
	GetRoomByHostSlug(ctx context.Context, hostUsername, slug string) (domain.Room, bool, error)
	UpdateRoom(ctx context.Context, r domain.Room) error
	DeleteRoom(ctx context.Context, id string) error

	// topics
	GetOrCreateTopic(ctx context.Context, name string) (domain.Topic, error)
	ReplaceRoomTopics(ctx context.Context, roomID string, topicIDs []string) error
	ListRoomTopics(ctx context.Context, roomID string) ([]domain.Topic, error)

	// permissions
	SeedPermissions(ctx context.Context, perms []domain.Permission) error
	ListPermissions(ctx context.Context) ([]domain.Permission, error)

	// roles
	CreateRole(ctx context.Context, r domain.Role) error
	GetRole(ctx context.Context, id string) (domain.Role, bool, error)
	GetRoleByName(ctx context.Context, roomID, name string) (domain.Role, bool, error)
	UpdateRole(ctx context.Context, r domain.Role) error
	DeleteRole(ctx context.Context, id string) error
	ListRoomRoles(ctx context.Context, roomID string) ([]domain.Role, error)
	CountRoleParticipants(ctx context.Context, roleID string) (int64, error)
	CountRolePendingInvites(ctx context.Context, roleID string) (int64, error)
	ReassignRoleParticipants(ctx context.Context, fromRoleID, toRoleID string) (int64, error)
	ReassignRolePendingInvites(ctx context.Context, fromRoleID, toRoleID string) (int64, error)

	// participants
	CreateParticipant(ctx context.Context, p domain.Participant) error
	GetParticipant(ctx context.Context, id string) (domain.Participant, bool, error)
	GetMembership(ctx context.Context, userID, roomID string) (domain.Membership, bool, error)
	UpdateParticipantRole(ctx context.Context, participantID, roleID string) error
	DeleteParticipant(ctx context.Context, id string) error
	ListRoomParticipants(ctx context.Context, roomID string) ([]domain.Participant, error)

	// invites
	CreateInvite(ctx context.Context, inv domain.Invite) error
	GetInvite(ctx context.Context, id string) (domain.Invite, bool, error)
	GetInviteByToken(ctx context.Context, token string) (domain.Invite, bool, error)
	HasPendingInvite(ctx context.Context, roomID, inviteeID string) (bool, error)
	// TransitionInvite flips status from → to and reports whether the
	// row was in the from state. The compare-and-set closes the race
	// between concurrent accept/decline/cancel/expire.
	TransitionInvite(ctx context.Context, id string, from, to domain.InviteStatus) (bool, error)
	ExpirePendingInvites(ctx context.Context, now time.Time) (int64, error)
	ListInvitesForUser(ctx context.Context, inviteeID string) ([]domain.Invite, error)

	// messages
	CreateMessage(ctx context.Context, m domain.Message) error
	GetMessage(ctx context.Context, id string) (domain.Message, bool, error)
	UpdateMessage(ctx context.Context, m domain.Message) error
	DeleteMessage(ctx context.Context, id string) error
	ListRoomMessages(ctx context.Context, roomID string, limit int) ([]domain.Message, error)

	// reports
	CreateReport(ctx context.Context, r domain.Report) error
	GetReport(ctx context.Context, id string) (domain.Report, bool, error)
	HasActiveReport(ctx context.Context, roomID, reporterID string) (bool, error)
	UpdateReport(ctx context.Context, r domain.Report) error

	// attachments
	CreateAttachment(ctx context.Context, a domain.Attachment) error
	GetAttachment(ctx context.Context, id string) (domain.Attachment, bool, error)
	ListRoomAttachments(ctx context.Context, roomID string) ([]domain.Attachment, error)

	// audit
	AppendAudit(ctx context.Context, e domain.AuditEntry) error
	ListRoomAudit(ctx context.Context, roomID string, limit int) ([]domain.AuditEntry, error)
}
