package store

import (
	"context"

	"roomhub/pkg/domain"
)

// DefaultPermissions is the closed permission set seeded at startup.
// Codes are immutable after seeding; re-seeding is a no-op.
func DefaultPermissions() []domain.Permission {
	return []domain.Permission{
		{Code: domain.PermRoomDelete, Description: "Delete the room"},
		{Code: domain.PermRoomUpdate, Description: "Update room name, description and topics"},
		{Code: domain.PermRoomManageVisibility, Description: "Change room visibility"},
		{Code: domain.PermRoomInvite, Description: "Invite users to the room"},
		{Code: domain.PermRoomKick, Description: "Remove participants from the room"},
		{Code: domain.PermRoomRoleManage, Description: "Create, update and delete roles"},
		{Code: domain.PermRoomDeleteMessage, Description: "Delete other users' messages"},
		{Code: domain.PermRoomUploadFile, Description: "Upload files to the room"},
	}
}

// EnsurePermissions seeds the global permission set.
func EnsurePermissions(ctx context.Context, s Store) error {
	return s.SeedPermissions(ctx, DefaultPermissions())
}
