package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	IsActive     bool   `gorm:"not null;default:true"`
	IsStaff      bool   `gorm:"not null;default:false"`
	IsSuperuser  bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type RoomModel struct {
	ID            string `gorm:"primaryKey"`
	HostID        string `gorm:"not null;index;uniqueIndex:idx_room_host_name,priority:1;uniqueIndex:idx_room_host_slug,priority:1"`
	Name          string `gorm:"not null;uniqueIndex:idx_room_host_name,priority:2"`
	Slug          string `gorm:"not null;uniqueIndex:idx_room_host_slug,priority:2"`
	Description   string
	Visibility    string  `gorm:"not null"`
	DefaultRoleID *string `gorm:"index"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type TopicModel struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

type RoomTopicModel struct {
	RoomID  string `gorm:"primaryKey"`
	TopicID string `gorm:"primaryKey"`
}

type PermissionModel struct {
	Code        string `gorm:"primaryKey"`
	Description string `gorm:"not null"`
}

type RoleModel struct {
	ID          string `gorm:"primaryKey"`
	RoomID      string `gorm:"not null;index;uniqueIndex:idx_role_room_name,priority:1"`
	Name        string `gorm:"not null;uniqueIndex:idx_role_room_name,priority:2"`
	Description string
	Priority    int       `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type RolePermissionModel struct {
	RoleID         string `gorm:"primaryKey"`
	PermissionCode string `gorm:"primaryKey"`
}

type ParticipantModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_participant_user_room,priority:1"`
	RoomID    string    `gorm:"not null;index;uniqueIndex:idx_participant_user_room,priority:2"`
	RoleID    string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type InviteModel struct {
	ID        string `gorm:"primaryKey"`
	RoomID    string `gorm:"not null;index:idx_invite_room_invitee,priority:1"`
	InviterID string `gorm:"not null;index"`
	InviteeID string `gorm:"not null;index:idx_invite_room_invitee,priority:2"`
	RoleID    string `gorm:"not null;index"`
	Token     string `gorm:"uniqueIndex;not null"`
	Status    string `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID        string  `gorm:"primaryKey"`
	RoomID    string  `gorm:"not null;index:idx_message_room_created,priority:1"`
	AuthorID  string  `gorm:"not null;index"`
	Body      string  `gorm:"type:text;not null"`
	ParentID  *string `gorm:"index"`
	IsEdited  bool    `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null;index:idx_message_room_created,priority:2"`
	UpdatedAt time.Time `gorm:"not null"`
}

type ReportModel struct {
	ID            string `gorm:"primaryKey"`
	RoomID        string `gorm:"not null;index:idx_report_room_reporter,priority:1"`
	ReporterID    string `gorm:"not null;index:idx_report_room_reporter,priority:2"`
	Reason        string `gorm:"not null"`
	Body          string `gorm:"type:text"`
	Status        string `gorm:"not null;index"`
	ModeratorID   *string
	ModeratorNote string
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type AttachmentModel struct {
	ID          string `gorm:"primaryKey"`
	RoomID      string `gorm:"not null;index"`
	UploaderID  string `gorm:"not null;index"`
	Filename    string `gorm:"not null"`
	ContentType string `gorm:"not null"`
	SizeBytes   int64  `gorm:"not null"`
	StorageKey  string `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type AuditModel struct {
	ID        string         `gorm:"primaryKey"`
	RoomID    string         `gorm:"not null;index"`
	ActorID   string         `gorm:"not null"`
	Action    string         `gorm:"not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
}
