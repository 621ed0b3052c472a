package app

import (
	"context"
	"strings"

	"roomhub/internal/access"
	"roomhub/internal/util"
	"roomhub/pkg/apperror"
	"roomhub/pkg/domain"
	"roomhub/pkg/store"
)

// CreateRoleInput carries the role creation form.
type CreateRoleInput struct {
	Name        string
	Description string
	Priority    int
	Permissions []string
}

// UpdateRoleInput updates role fields; nil pointers leave a field
// unchanged, a non-nil Permissions replaces the set.
type UpdateRoleInput struct {
	Name        *string
	Description *string
	Priority    *int
	Permissions []string
}

// DeleteRoleResult reports how many references were moved to the
// substitution role before the delete.
type DeleteRoleResult struct {
	ParticipantsReassigned int64
	InvitesReassigned      int64
}

func validateRoleName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 64 {
		return apperror.FieldValidation("name", "name must be 1 to 64 characters")
	}
	return nil
}

func validatePriority(priority int) error {
	if priority < domain.MinRolePriority || priority > domain.MaxRolePriority {
		return apperror.FieldValidation("priority", "priority must be between 0 and 100")
	}
	return nil
}

func validatePermissionCodes(ctx context.Context, s store.Store, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	known, err := s.ListPermissions(ctx)
	if err != nil {
		return apperror.Internal(err)
	}
	valid := make(map[string]bool, len(known))
	for _, p := range known {
		valid[p.Code] = true
	}
	for _, c := range codes {
		if !valid[c] {
			return apperror.FieldValidation("permissions", "unknown permission code: "+c)
		}
	}
	return nil
}

// roleManageGate runs the shared precondition chain for role
// mutations: participant, then room.role_manage, then the strict
// priority bound, then the subset check. Order matters so the caller
// learns the least about state they cannot touch.
func roleManageGate(ctx context.Context, s store.Store, actor domain.User, roomID string, priority int, perms []string) (domain.Membership, error) {
	m, err := requireMembership(ctx, s, actor.ID, roomID)
	if err != nil {
		return domain.Membership{}, err
	}
	if !access.HasPermission(actor, &m, domain.PermRoomRoleManage) {
		return domain.Membership{}, apperror.PermissionDenied("missing room.role_manage permission")
	}
	if priority >= m.Role.Priority {
		return domain.Membership{}, apperror.PermissionDenied("priority must be strictly below your own")
	}
	if !access.PermissionSubset(m, perms) {
		return domain.Membership{}, apperror.PermissionDenied("cannot grant permissions you do not hold")
	}
	return m, nil
}

// CreateRole creates a custom role in the room.
func (a *App) CreateRole(ctx context.Context, actor domain.User, roomID string, in CreateRoleInput) (domain.Role, error) {
	if err := validateRoleName(in.Name); err != nil {
		return domain.Role{}, err
	}
	if err := validatePriority(in.Priority); err != nil {
		return domain.Role{}, err
	}

	var created domain.Role
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := getRoom(ctx, tx, roomID); err != nil {
			return err
		}
		if err := validatePermissionCodes(ctx, tx, in.Permissions); err != nil {
			return err
		}
		if _, err := roleManageGate(ctx, tx, actor, roomID, in.Priority, in.Permissions); err != nil {
			return err
		}
		now := a.now()
		role := domain.Role{
			ID:          util.NewID(),
			RoomID:      roomID,
			Name:        strings.TrimSpace(in.Name),
			Description: strings.TrimSpace(in.Description),
			Priority:    in.Priority,
			Permissions: in.Permissions,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateRole(ctx, role); err != nil {
			return translateDuplicate(err, "role name already exists in room")
		}
		a.audit(ctx, tx, roomID, actor.ID, "role.created", map[string]any{"role_id": role.ID, "name": role.Name, "priority": role.Priority})
		created = role
		return nil
	})
	if err != nil {
		return domain.Role{}, err
	}
	return created, nil
}

// UpdateRole applies field updates under the create gates plus the
// dominance check on the target role itself.
func (a *App) UpdateRole(ctx context.Context, actor domain.User, roleID string, in UpdateRoleInput) (domain.Role, error) {
	var updated domain.Role
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		role, ok, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("role")
		}

		priority := role.Priority
		if in.Priority != nil {
			if err := validatePriority(*in.Priority); err != nil {
				return err
			}
			priority = *in.Priority
		}
		perms := in.Permissions
		if perms == nil {
			perms = role.Permissions
		} else if err := validatePermissionCodes(ctx, tx, perms); err != nil {
			return err
		}

		m, err := roleManageGate(ctx, tx, actor, role.RoomID, priority, perms)
		if err != nil {
			return err
		}
		if !access.CanAffectRole(m, role) {
			return apperror.PermissionDenied("cannot affect a role at or above your priority")
		}

		if in.Name != nil {
			if err := validateRoleName(*in.Name); err != nil {
				return err
			}
			role.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			role.Description = strings.TrimSpace(*in.Description)
		}
		role.Priority = priority
		role.Permissions = perms
		role.UpdatedAt = a.now()
		if err := tx.UpdateRole(ctx, role); err != nil {
			return translateDuplicate(err, "role name already exists in room")
		}
		a.audit(ctx, tx, role.RoomID, actor.ID, "role.updated", map[string]any{"role_id": role.ID})
		updated = role
		return nil
	})
	if err != nil {
		return domain.Role{}, err
	}
	return updated, nil
}

// DeleteRole removes a role. When participants or pending invites
// still reference it a substitution role in the same room is required;
// the references are bulk-moved and the counts reported. Everything
// happens in one transaction so a failure rolls the whole thing back.
func (a *App) DeleteRole(ctx context.Context, actor domain.User, roleID, substitutionRoleID string) (DeleteRoleResult, error) {
	var result DeleteRoleResult
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		role, ok, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("role")
		}
		m, err := requireMembership(ctx, tx, actor.ID, role.RoomID)
		if err != nil {
			return err
		}
		if !access.HasPermission(actor, &m, domain.PermRoomRoleManage) {
			return apperror.PermissionDenied("missing room.role_manage permission")
		}
		if !access.CanAffectRole(m, role) {
			return apperror.PermissionDenied("cannot affect a role at or above your priority")
		}

		room, err := getRoom(ctx, tx, role.RoomID)
		if err != nil {
			return err
		}
		if room.DefaultRoleID == role.ID {
			return apperror.FieldValidation("role", "cannot delete the room's default role")
		}

		participants, err := tx.CountRoleParticipants(ctx, roleID)
		if err != nil {
			return apperror.Internal(err)
		}
		invites, err := tx.CountRolePendingInvites(ctx, roleID)
		if err != nil {
			return apperror.Internal(err)
		}

		if participants > 0 || invites > 0 {
			if substitutionRoleID == "" {
				return apperror.FieldValidation("substitution_role", "role is still referenced; a substitution role is required")
			}
			sub, ok, err := tx.GetRole(ctx, substitutionRoleID)
			if err != nil {
				return apperror.Internal(err)
			}
			if !ok {
				return apperror.NotFound("substitution role")
			}
			if sub.RoomID != role.RoomID {
				return apperror.FieldValidation("substitution_role", "substitution role must belong to the same room")
			}
			if sub.ID == role.ID {
				return apperror.FieldValidation("substitution_role", "substitution role must differ from the deleted role")
			}
			result.ParticipantsReassigned, err = tx.ReassignRoleParticipants(ctx, roleID, sub.ID)
			if err != nil {
				return apperror.Internal(err)
			}
			result.InvitesReassigned, err = tx.ReassignRolePendingInvites(ctx, roleID, sub.ID)
			if err != nil {
				return apperror.Internal(err)
			}
		}

		if err := tx.DeleteRole(ctx, roleID); err != nil {
			return apperror.Internal(err)
		}
		a.audit(ctx, tx, role.RoomID, actor.ID, "role.deleted", map[string]any{
			"role_id":                 role.ID,
			"participants_reassigned": result.ParticipantsReassigned,
			"invites_reassigned":      result.InvitesReassigned,
		})
		return nil
	})
	if err != nil {
		return DeleteRoleResult{}, err
	}
	return result, nil
}

// AssignPermissions adds codes to the role's permission set.
func (a *App) AssignPermissions(ctx context.Context, actor domain.User, roleID string, codes []string) (domain.Role, error) {
	return a.mutatePermissions(ctx, actor, roleID, codes, func(role *domain.Role, codes []string) {
		for _, c := range codes {
			if !role.HasPermission(c) {
				role.Permissions = append(role.Permissions, c)
			}
		}
	})
}

// RemovePermissions removes codes from the role's permission set.
func (a *App) RemovePermissions(ctx context.Context, actor domain.User, roleID string, codes []string) (domain.Role, error) {
	return a.mutatePermissions(ctx, actor, roleID, codes, func(role *domain.Role, codes []string) {
		drop := make(map[string]bool, len(codes))
		for _, c := range codes {
			drop[c] = true
		}
		kept := role.Permissions[:0]
		for _, p := range role.Permissions {
			if !drop[p] {
				kept = append(kept, p)
			}
		}
		role.Permissions = kept
	})
}

func (a *App) mutatePermissions(ctx context.Context, actor domain.User, roleID string, codes []string, apply func(*domain.Role, []string)) (domain.Role, error) {
	var updated domain.Role
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		role, ok, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("role")
		}
		if err := validatePermissionCodes(ctx, tx, codes); err != nil {
			return err
		}
		m, err := roleManageGate(ctx, tx, actor, role.RoomID, role.Priority, codes)
		if err != nil {
			return err
		}
		if !access.CanAffectRole(m, role) {
			return apperror.PermissionDenied("cannot affect a role at or above your priority")
		}
		apply(&role, codes)
		role.UpdatedAt = a.now()
		if err := tx.UpdateRole(ctx, role); err != nil {
			return apperror.Internal(err)
		}
		updated = role
		return nil
	})
	if err != nil {
		return domain.Role{}, err
	}
	return updated, nil
}

// ListRoomRoles returns the room's roles. Participants only.
func (a *App) ListRoomRoles(ctx context.Context, actor domain.User, roomID string) ([]domain.Role, error) {
	m, err := getMembership(ctx, a.store, actor.ID, roomID)
	if err != nil {
		return nil, err
	}
	if m == nil && !actor.IsSuperuser {
		return nil, apperror.PermissionDenied("not a participant of this room")
	}
	roles, err := a.store.ListRoomRoles(ctx, roomID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return roles, nil
}
