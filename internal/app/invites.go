package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"roomhub/internal/access"
	"roomhub/internal/notify"
	"roomhub/internal/util"
	"roomhub/pkg/apperror"
	"roomhub/pkg/domain"
	"roomhub/pkg/store"
)

// newInviteToken returns an opaque 32-byte hex token.
func newInviteToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// SendInviteInput carries the invite form.
type SendInviteInput struct {
	RoomID    string
	InviteeID string
	RoleID    string
	ExpiresAt time.Time
}

// SendInvite issues a pending invite. The one-pending-per-(room,
// invitee) slot is enforced both here and by the store's unique
// constraint, which arbitrates concurrent senders.
func (a *App) SendInvite(ctx context.Context, actor domain.User, in SendInviteInput) (domain.Invite, error) {
	if !in.ExpiresAt.After(a.now()) {
		return domain.Invite{}, apperror.FieldValidation("expires_at", "expiry must be in the future")
	}

	var created domain.Invite
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := getRoom(ctx, tx, in.RoomID); err != nil {
			return err
		}
		m, err := requireMembership(ctx, tx, actor.ID, in.RoomID)
		if err != nil {
			return err
		}
		if !access.HasPermission(actor, &m, domain.PermRoomInvite) {
			return apperror.PermissionDenied("missing room.invite permission")
		}

		role, ok, err := tx.GetRole(ctx, in.RoleID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("role")
		}
		if role.RoomID != in.RoomID {
			return apperror.FieldValidation("role", "role does not belong to this room")
		}

		invitee, ok, err := tx.GetUser(ctx, in.InviteeID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("invitee")
		}
		existing, err := getMembership(ctx, tx, invitee.ID, in.RoomID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperror.FieldValidation("invitee", "user is already a participant")
		}
		pending, err := tx.HasPendingInvite(ctx, in.RoomID, invitee.ID)
		if err != nil {
			return apperror.Internal(err)
		}
		if pending {
			return apperror.Conflict("a pending invite already exists for this user")
		}

		now := a.now()
		inv := domain.Invite{
			ID:        util.NewID(),
			RoomID:    in.RoomID,
			InviterID: actor.ID,
			InviteeID: invitee.ID,
			RoleID:    role.ID,
			Token:     newInviteToken(),
			Status:    domain.InvitePending,
			CreatedAt: now,
			ExpiresAt: in.ExpiresAt.UTC(),
		}
		if err := tx.CreateInvite(ctx, inv); err != nil {
			return translateDuplicate(err, "a pending invite already exists for this user")
		}
		a.audit(ctx, tx, in.RoomID, actor.ID, "invite.sent", map[string]any{"invite_id": inv.ID, "invitee_id": invitee.ID})
		created = inv
		return nil
	})
	if err != nil {
		return domain.Invite{}, err
	}
	a.notifyEvent(ctx, notify.Event{
		Type:      notify.EventInviteSent,
		RoomID:    created.RoomID,
		ActorID:   actor.ID,
		SubjectID: created.InviteeID,
		Data:      map[string]any{"invite_id": created.ID},
	})
	return created, nil
}

// AcceptInvite turns a pending invite into a participant row. The
// status flip is a compare-and-set so a concurrent decline, cancel or
// expiry makes exactly one of the operations win. A participant
// uniqueness violation leaves the invite PENDING and returns CONFLICT.
func (a *App) AcceptInvite(ctx context.Context, actor domain.User, inviteID string) (domain.Participant, error) {
	var participant domain.Participant
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		inv, ok, err := tx.GetInvite(ctx, inviteID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("invite")
		}
		if inv.InviteeID != actor.ID {
			return apperror.PermissionDenied("invite belongs to another user")
		}
		inv, err = a.lazyExpire(ctx, tx, inv)
		if err != nil {
			return err
		}
		if inv.Status != domain.InvitePending {
			return apperror.InvalidState("invite is " + string(inv.Status))
		}

		participant, err = a.AddParticipant(ctx, tx, actor.ID, inv.RoomID, inv.RoleID)
		if err != nil {
			return err
		}
		flipped, err := tx.TransitionInvite(ctx, inv.ID, domain.InvitePending, domain.InviteAccepted)
		if err != nil {
			return apperror.Internal(err)
		}
		if !flipped {
			return apperror.InvalidState("invite is no longer pending")
		}
		a.audit(ctx, tx, inv.RoomID, actor.ID, "invite.accepted", map[string]any{"invite_id": inv.ID})
		return nil
	})
	if err != nil {
		return domain.Participant{}, err
	}
	a.notifyEvent(ctx, notify.Event{
		Type:      notify.EventInviteAccepted,
		RoomID:    participant.RoomID,
		ActorID:   actor.ID,
		SubjectID: actor.ID,
	})
	return participant, nil
}

// DeclineInvite declines a pending invite. Invitee only.
func (a *App) DeclineInvite(ctx context.Context, actor domain.User, inviteID string) error {
	inv, err := a.transitionOwnInvite(ctx, actor, inviteID, false, domain.InviteDeclined, "invite.declined")
	if err != nil {
		return err
	}
	a.notifyEvent(ctx, notify.Event{
		Type:      notify.EventInviteDeclined,
		RoomID:    inv.RoomID,
		ActorID:   actor.ID,
		SubjectID: inv.InviterID,
	})
	return nil
}

// CancelInvite cancels a pending invite. Inviter only. The row is kept
// with a terminal CANCELLED status so the invite history survives; the
// pending slot for the invitee is freed either way.
func (a *App) CancelInvite(ctx context.Context, actor domain.User, inviteID string) error {
	inv, err := a.transitionOwnInvite(ctx, actor, inviteID, true, domain.InviteCancelled, "invite.cancelled")
	if err != nil {
		return err
	}
	a.notifyEvent(ctx, notify.Event{
		Type:      notify.EventInviteCancelled,
		RoomID:    inv.RoomID,
		ActorID:   actor.ID,
		SubjectID: inv.InviteeID,
	})
	return nil
}

func (a *App) transitionOwnInvite(ctx context.Context, actor domain.User, inviteID string, asInviter bool, to domain.InviteStatus, auditAction string) (domain.Invite, error) {
	var result domain.Invite
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		inv, ok, err := tx.GetInvite(ctx, inviteID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("invite")
		}
		if asInviter && inv.InviterID != actor.ID {
			return apperror.PermissionDenied("only the inviter can cancel")
		}
		if !asInviter && inv.InviteeID != actor.ID {
			return apperror.PermissionDenied("invite belongs to another user")
		}
		inv, err = a.lazyExpire(ctx, tx, inv)
		if err != nil {
			return err
		}
		if inv.Status != domain.InvitePending {
			return apperror.InvalidState("invite is " + string(inv.Status))
		}
		flipped, err := tx.TransitionInvite(ctx, inv.ID, domain.InvitePending, to)
		if err != nil {
			return apperror.Internal(err)
		}
		if !flipped {
			return apperror.InvalidState("invite is no longer pending")
		}
		a.audit(ctx, tx, inv.RoomID, actor.ID, auditAction, map[string]any{"invite_id": inv.ID})
		inv.Status = to
		result = inv
		return nil
	})
	if err != nil {
		return domain.Invite{}, err
	}
	return result, nil
}

// GetInviteByToken resolves an invite by its opaque token, applying
// the pending → expired transition first so a stale PENDING status is
// never exposed.
func (a *App) GetInviteByToken(ctx context.Context, token string) (domain.Invite, error) {
	inv, ok, err := a.store.GetInviteByToken(ctx, token)
	if err != nil {
		return domain.Invite{}, apperror.Internal(err)
	}
	if !ok {
		return domain.Invite{}, apperror.NotFound("invite")
	}
	inv, err = a.lazyExpire(ctx, a.store, inv)
	if err != nil {
		return domain.Invite{}, err
	}
	return inv, nil
}

// ListInvitesForUser returns the user's invites, batch-applying lazy
// expiration so no stale PENDING rows leak out.
func (a *App) ListInvitesForUser(ctx context.Context, actor domain.User) ([]domain.Invite, error) {
	if _, err := a.store.ExpirePendingInvites(ctx, a.now()); err != nil {
		return nil, apperror.Internal(err)
	}
	invites, err := a.store.ListInvitesForUser(ctx, actor.ID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return invites, nil
}

// ExpirePendingInvites is the sweeper entry point; it flips every
// overdue PENDING invite to EXPIRED and reports how many changed.
// Idempotent, converges with the lazy per-row path.
func (a *App) ExpirePendingInvites(ctx context.Context) (int64, error) {
	n, err := a.store.ExpirePendingInvites(ctx, a.now())
	if err != nil {
		return 0, apperror.Internal(err)
	}
	if n > 0 {
		a.log.Info("expired pending invites", "count", n)
	}
	return n, nil
}

// lazyExpire applies the overdue pending → expired transition for one
// invite and returns the fresh state. The CAS makes concurrent callers
// converge on a single transition.
func (a *App) lazyExpire(ctx context.Context, s store.Store, inv domain.Invite) (domain.Invite, error) {
	if !inv.Expired(a.now()) {
		return inv, nil
	}
	if _, err := s.TransitionInvite(ctx, inv.ID, domain.InvitePending, domain.InviteExpired); err != nil {
		return domain.Invite{}, apperror.Internal(err)
	}
	fresh, ok, err := s.GetInvite(ctx, inv.ID)
	if err != nil {
		return domain.Invite{}, apperror.Internal(err)
	}
	if !ok {
		return domain.Invite{}, apperror.NotFound("invite")
	}
	return fresh, nil
}
