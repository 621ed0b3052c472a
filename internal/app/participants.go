package app

import (
	"context"

	"roomhub/internal/access"
	"roomhub/internal/util"
	"roomhub/pkg/apperror"
	"roomhub/pkg/domain"
	"roomhub/pkg/store"
)

// AddParticipant inserts a membership row directly. Used by the invite
// accept path and by internal bootstrap; it carries no authorization
// of its own beyond the structural invariants.
func (a *App) AddParticipant(ctx context.Context, s store.Store, userID, roomID, roleID string) (domain.Participant, error) {
	role, ok, err := s.GetRole(ctx, roleID)
	if err != nil {
		return domain.Participant{}, apperror.Internal(err)
	}
	if !ok {
		return domain.Participant{}, apperror.NotFound("role")
	}
	if role.RoomID != roomID {
		return domain.Participant{}, apperror.FieldValidation("role", "role does not belong to this room")
	}
	p := domain.Participant{
		ID:        util.NewID(),
		UserID:    userID,
		RoomID:    roomID,
		RoleID:    roleID,
		CreatedAt: a.now(),
	}
	if err := s.CreateParticipant(ctx, p); err != nil {
		return domain.Participant{}, translateDuplicate(err, "user already participates in this room")
	}
	return p, nil
}

// ChangeParticipantRole moves a participant onto a new role. The actor
// must hold room.role_manage and dominate both the participant's
// current role and the new one.
func (a *App) ChangeParticipantRole(ctx context.Context, actor domain.User, participantID, newRoleID string) (domain.Participant, error) {
	var updated domain.Participant
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		p, ok, err := tx.GetParticipant(ctx, participantID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("participant")
		}
		newRole, ok, err := tx.GetRole(ctx, newRoleID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("role")
		}
		if newRole.RoomID != p.RoomID {
			return apperror.FieldValidation("role", "role does not belong to this room")
		}
		currentRole, ok, err := tx.GetRole(ctx, p.RoleID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.Internal(errInconsistentRole(p.RoleID))
		}

		m, err := requireMembership(ctx, tx, actor.ID, p.RoomID)
		if err != nil {
			return err
		}
		if !access.HasPermission(actor, &m, domain.PermRoomRoleManage) {
			return apperror.PermissionDenied("missing room.role_manage permission")
		}
		if !access.CanAffectRole(m, newRole) || !access.CanAffectRole(m, currentRole) {
			return apperror.PermissionDenied("cannot affect a role at or above your priority")
		}

		if err := tx.UpdateParticipantRole(ctx, p.ID, newRole.ID); err != nil {
			return apperror.Internal(err)
		}
		a.audit(ctx, tx, p.RoomID, actor.ID, "participant.role_changed", map[string]any{
			"participant_id": p.ID,
			"from_role_id":   currentRole.ID,
			"to_role_id":     newRole.ID,
		})
		p.RoleID = newRole.ID
		updated = p
		return nil
	})
	if err != nil {
		return domain.Participant{}, err
	}
	return updated, nil
}

// RemoveParticipant kicks a participant, or lets a user leave.
// Self-removal is always allowed; kicking requires priority dominance
// over the target's role plus either room.role_manage or the narrower
// room.kick grant.
func (a *App) RemoveParticipant(ctx context.Context, actor domain.User, participantID string) error {
	return a.store.WithTx(ctx, func(tx store.Store) error {
		p, ok, err := tx.GetParticipant(ctx, participantID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("participant")
		}

		action := "participant.left"
		if p.UserID != actor.ID {
			action = "participant.kicked"
			targetRole, ok, err := tx.GetRole(ctx, p.RoleID)
			if err != nil {
				return apperror.Internal(err)
			}
			if !ok {
				return apperror.Internal(errInconsistentRole(p.RoleID))
			}
			m, err := requireMembership(ctx, tx, actor.ID, p.RoomID)
			if err != nil {
				return err
			}
			if !access.HasPermission(actor, &m, domain.PermRoomRoleManage) &&
				!access.HasPermission(actor, &m, domain.PermRoomKick) {
				return apperror.PermissionDenied("missing room.role_manage or room.kick permission")
			}
			if !access.CanAffectRole(m, targetRole) {
				return apperror.PermissionDenied("cannot affect a role at or above your priority")
			}
		}

		if err := tx.DeleteParticipant(ctx, p.ID); err != nil {
			return apperror.Internal(err)
		}
		a.audit(ctx, tx, p.RoomID, actor.ID, action, map[string]any{"user_id": p.UserID})
		return nil
	})
}

// ListRoomParticipants returns the room's members, viewable by anyone
// who can view the room.
func (a *App) ListRoomParticipants(ctx context.Context, actor domain.User, roomID string) ([]domain.Participant, error) {
	room, err := getRoom(ctx, a.store, roomID)
	if err != nil {
		return nil, err
	}
	visible, err := a.CanView(ctx, actor, room)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, apperror.NotFound("room")
	}
	participants, err := a.store.ListRoomParticipants(ctx, roomID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return participants, nil
}

type errInconsistentRole string

func (e errInconsistentRole) Error() string {
	return "participant references missing role " + string(e)
}
