package domain

import (
	"strings"
	"time"
	"unicode"
)

// Visibility controls who can view a room.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// InviteStatus is the invite state machine. PENDING is the only
// non-terminal state.
type InviteStatus string

const (
	InvitePending   InviteStatus = "PENDING"
	InviteAccepted  InviteStatus = "ACCEPTED"
	InviteDeclined  InviteStatus = "DECLINED"
	InviteExpired   InviteStatus = "EXPIRED"
	InviteCancelled InviteStatus = "CANCELLED"
)

// ReportStatus tracks the moderation workflow for a report.
type ReportStatus string

const (
	ReportPending     ReportStatus = "PENDING"
	ReportUnderReview ReportStatus = "UNDER_REVIEW"
	ReportResolved    ReportStatus = "RESOLVED"
	ReportDismissed   ReportStatus = "DISMISSED"
)

// ReportReason enumerates why a room was reported.
type ReportReason string

const (
	ReasonSpam          ReportReason = "SPAM"
	ReasonHarassment    ReportReason = "HARASSMENT"
	ReasonInappropriate ReportReason = "INAPPROPRIATE"
	ReasonOther         ReportReason = "OTHER"
)

// Permission codes form a closed set seeded once at startup.
const (
	PermRoomDelete           = "room.delete"
	PermRoomUpdate           = "room.update"
	PermRoomManageVisibility = "room.manage_visibility"
	PermRoomInvite           = "room.invite"
	PermRoomKick             = "room.kick"
	PermRoomRoleManage       = "room.role_manage"
	PermRoomDeleteMessage    = "room.delete_message"
	PermRoomUploadFile       = "room.upload_file"
)

// AllPermissionCodes returns the closed permission set in a stable order.
func AllPermissionCodes() []string {
	return []string{
		PermRoomDelete,
		PermRoomUpdate,
		PermRoomManageVisibility,
		PermRoomInvite,
		PermRoomKick,
		PermRoomRoleManage,
		PermRoomDeleteMessage,
		PermRoomUploadFile,
	}
}

// Role priority bounds. Higher priority means more privilege; equal
// priority roles cannot affect each other.
const (
	MinRolePriority = 0
	MaxRolePriority = 100
)

// MaxMessageLen bounds chat message bodies.
const MaxMessageLen = 2048

type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	IsActive     bool
	IsStaff      bool
	IsSuperuser  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Authenticated reports whether the value represents a real principal.
// The zero User is the anonymous principal and never passes checks.
func (u User) Authenticated() bool { return u.ID != "" }

type Topic struct {
	ID   string
	Name string
}

type Room struct {
	ID            string
	HostID        string
	Name          string
	Slug          string
	Description   string
	Visibility    Visibility
	DefaultRoleID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Permission struct {
	Code        string
	Description string
}

type Role struct {
	ID          string
	RoomID      string
	Name        string
	Description string
	Priority    int
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasPermission reports whether the role grants the given code.
func (r Role) HasPermission(code string) bool {
	for _, p := range r.Permissions {
		if p == code {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every requested code is granted.
func (r Role) HasAllPermissions(codes []string) bool {
	for _, c := range codes {
		if !r.HasPermission(c) {
			return false
		}
	}
	return true
}

type Participant struct {
	ID        string
	UserID    string
	RoomID    string
	RoleID    string
	CreatedAt time.Time
}

// Membership is a participant with its role preloaded. Authorization
// predicates operate on this shape so hot paths never refetch.
type Membership struct {
	Participant Participant
	Role        Role
}

type Invite struct {
	ID        string
	RoomID    string
	InviterID string
	InviteeID string
	RoleID    string
	Token     string
	Status    InviteStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether a pending invite has passed its deadline.
func (i Invite) Expired(now time.Time) bool {
	return i.Status == InvitePending && now.After(i.ExpiresAt)
}

type Message struct {
	ID        string
	RoomID    string
	AuthorID  string
	Body      string
	ParentID  string
	IsEdited  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Report struct {
	ID            string
	RoomID        string
	ReporterID    string
	Reason        ReportReason
	Body          string
	Status        ReportStatus
	ModeratorID   string
	ModeratorNote string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports count against the one-active-report-per-(reporter, room) slot.
func (r Report) Active() bool {
	return r.Status == ReportPending || r.Status == ReportUnderReview
}

type Attachment struct {
	ID          string
	RoomID      string
	UploaderID  string
	Filename    string
	ContentType string
	SizeBytes   int64
	StorageKey  string
	CreatedAt   time.Time
}

type AuditEntry struct {
	ID        string
	RoomID    string
	ActorID   string
	Action    string
	Payload   map[string]any
	CreatedAt time.Time
}

// NormalizeUsername lower-cases and trims a username into slug shape.
func NormalizeUsername(username string) string {
	return Slugify(username)
}

// Slugify produces a lower-case slug: letters and digits preserved,
// runs of anything else collapse into single hyphens.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteRune('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// ValidTopicName accepts letters only, per the topic contract.
func ValidTopicName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
