package app

import (
	"context"
	"strings"

	"roomhub/internal/access"
	"roomhub/internal/notify"
	"roomhub/internal/util"
	"roomhub/pkg/apperror"
	"roomhub/pkg/domain"
	"roomhub/pkg/store"
)

// CreateRoomInput carries the room creation form.
type CreateRoomInput struct {
	Name        string
	Description string
	Topics      []string
	Visibility  domain.Visibility
}

func (in *CreateRoomInput) validate() map[string][]string {
	fields := map[string][]string{}
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 128 {
		fields["name"] = append(fields["name"], "name must be 1 to 128 characters")
	}
	if domain.Slugify(name) == "" && name != "" {
		fields["name"] = append(fields["name"], "name must contain letters or digits")
	}
	switch in.Visibility {
	case "", domain.VisibilityPublic, domain.VisibilityPrivate:
	default:
		fields["visibility"] = append(fields["visibility"], "visibility must be PUBLIC or PRIVATE")
	}
	for _, t := range in.Topics {
		if !domain.ValidTopicName(t) {
			fields["topics"] = append(fields["topics"], "topic names must contain letters only: "+t)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// CreateRoom creates a room with its default roles, topics and the
// host's OWNER participation, all in one transaction.
func (a *App) CreateRoom(ctx context.Context, actor domain.User, in CreateRoomInput) (domain.Room, error) {
	if !actor.Authenticated() {
		return domain.Room{}, apperror.PermissionDenied("authentication required")
	}
	if fields := in.validate(); fields != nil {
		return domain.Room{}, apperror.Validation("invalid room input", fields)
	}
	if in.Visibility == "" {
		in.Visibility = domain.VisibilityPublic
	}

	now := a.now()
	room := domain.Room{
		ID:          util.NewID(),
		HostID:      actor.ID,
		Name:        strings.TrimSpace(in.Name),
		Slug:        domain.Slugify(in.Name),
		Description: strings.TrimSpace(in.Description),
		Visibility:  in.Visibility,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := a.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateRoom(ctx, room); err != nil {
			return translateDuplicate(err, "you already host a room with this name")
		}
		if err := attachTopics(ctx, tx, room.ID, in.Topics); err != nil {
			return err
		}
		owner, member, err := a.CreateDefaultRoles(ctx, tx, room.ID)
		if err != nil {
			return err
		}
		room.DefaultRoleID = member.ID
		if err := tx.UpdateRoom(ctx, room); err != nil {
			return apperror.Internal(err)
		}
		participant := domain.Participant{
			ID:        util.NewID(),
			UserID:    actor.ID,
			RoomID:    room.ID,
			RoleID:    owner.ID,
			CreatedAt: now,
		}
		if err := tx.CreateParticipant(ctx, participant); err != nil {
			return translateDuplicate(err, "host already participates")
		}
		a.audit(ctx, tx, room.ID, actor.ID, "room.created", map[string]any{"name": room.Name})
		return nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return room, nil
}

// CreateDefaultRoles is the idempotent room bootstrap: OWNER holds
// every permission at the top priority, MEMBER holds none at the
// bottom. Existing defaults are returned untouched.
func (a *App) CreateDefaultRoles(ctx context.Context, s store.Store, roomID string) (owner, member domain.Role, err error) {
	owner, err = a.ensureRole(ctx, s, roomID, RoleNameOwner, domain.MaxRolePriority, domain.AllPermissionCodes())
	if err != nil {
		return domain.Role{}, domain.Role{}, err
	}
	member, err = a.ensureRole(ctx, s, roomID, RoleNameMember, domain.MinRolePriority, nil)
	if err != nil {
		return domain.Role{}, domain.Role{}, err
	}
	return owner, member, nil
}

func (a *App) ensureRole(ctx context.Context, s store.Store, roomID, name string, priority int, perms []string) (domain.Role, error) {
	existing, ok, err := s.GetRoleByName(ctx, roomID, name)
	if err != nil {
		return domain.Role{}, apperror.Internal(err)
	}
	if ok {
		return existing, nil
	}
	now := a.now()
	role := domain.Role{
		ID:          util.NewID(),
		RoomID:      roomID,
		Name:        name,
		Priority:    priority,
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.CreateRole(ctx, role); err != nil {
		return domain.Role{}, translateDuplicate(err, "role name already exists in room")
	}
	return role, nil
}

func attachTopics(ctx context.Context, s store.Store, roomID string, names []string) error {
	ids := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		topic, err := s.GetOrCreateTopic(ctx, name)
		if err != nil {
			return apperror.Internal(err)
		}
		ids = append(ids, topic.ID)
	}
	if err := s.ReplaceRoomTopics(ctx, roomID, ids); err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// UpdateRoomInput updates room fields; nil pointers leave a field
// unchanged, a non-nil Topics replaces the set.
type UpdateRoomInput struct {
	Name        *string
	Description *string
	Visibility  *domain.Visibility
	Topics      []string
}

// UpdateRoom applies field updates. Requires room.update; visibility
// changes additionally require room.manage_visibility.
func (a *App) UpdateRoom(ctx context.Context, actor domain.User, roomID string, in UpdateRoomInput) (domain.Room, error) {
	var updated domain.Room
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		room, err := getRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		m, err := getMembership(ctx, tx, actor.ID, roomID)
		if err != nil {
			return err
		}
		if !access.HasPermission(actor, m, domain.PermRoomUpdate) {
			return apperror.PermissionDenied("missing room.update permission")
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" || len(name) > 128 {
				return apperror.FieldValidation("name", "name must be 1 to 128 characters")
			}
			room.Name = name
			room.Slug = domain.Slugify(name)
		}
		if in.Description != nil {
			room.Description = strings.TrimSpace(*in.Description)
		}
		if in.Visibility != nil {
			if *in.Visibility != domain.VisibilityPublic && *in.Visibility != domain.VisibilityPrivate {
				return apperror.FieldValidation("visibility", "visibility must be PUBLIC or PRIVATE")
			}
			if !access.HasPermission(actor, m, domain.PermRoomManageVisibility) {
				return apperror.PermissionDenied("missing room.manage_visibility permission")
			}
			room.Visibility = *in.Visibility
		}
		if in.Topics != nil {
			for _, t := range in.Topics {
				if !domain.ValidTopicName(strings.TrimSpace(t)) {
					return apperror.FieldValidation("topics", "topic names must contain letters only")
				}
			}
			if err := attachTopics(ctx, tx, roomID, in.Topics); err != nil {
				return err
			}
		}
		room.UpdatedAt = a.now()
		if err := tx.UpdateRoom(ctx, room); err != nil {
			return translateDuplicate(err, "you already host a room with this name")
		}
		a.audit(ctx, tx, roomID, actor.ID, "room.updated", nil)
		updated = room
		return nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return updated, nil
}

// DeleteRoom removes the room and everything it owns.
func (a *App) DeleteRoom(ctx context.Context, actor domain.User, roomID string) error {
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := getRoom(ctx, tx, roomID); err != nil {
			return err
		}
		m, err := getMembership(ctx, tx, actor.ID, roomID)
		if err != nil {
			return err
		}
		if !access.HasPermission(actor, m, domain.PermRoomDelete) {
			return apperror.PermissionDenied("missing room.delete permission")
		}
		if err := tx.DeleteRoom(ctx, roomID); err != nil {
			return apperror.Internal(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.notifyEvent(ctx, notify.Event{Type: notify.EventRoomDeleted, RoomID: roomID, ActorID: actor.ID})
	return nil
}

// GetRoom loads a room, enforcing visibility for private rooms.
func (a *App) GetRoom(ctx context.Context, actor domain.User, roomID string) (domain.Room, error) {
	room, err := getRoom(ctx, a.store, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	ok, err := a.CanView(ctx, actor, room)
	if err != nil {
		return domain.Room{}, err
	}
	if !ok {
		return domain.Room{}, apperror.NotFound("room")
	}
	return room, nil
}

// GetRoomByHostSlug resolves a room by its host's username and slug.
func (a *App) GetRoomByHostSlug(ctx context.Context, actor domain.User, host, slug string) (domain.Room, error) {
	room, ok, err := a.store.GetRoomByHostSlug(ctx, domain.NormalizeUsername(host), slug)
	if err != nil {
		return domain.Room{}, apperror.Internal(err)
	}
	if !ok {
		return domain.Room{}, apperror.NotFound("room")
	}
	visible, err := a.CanView(ctx, actor, room)
	if err != nil {
		return domain.Room{}, err
	}
	if !visible {
		return domain.Room{}, apperror.NotFound("room")
	}
	return room, nil
}

// CanView reports whether the user may see the room: public rooms are
// visible to everyone, private rooms to participants and superusers.
func (a *App) CanView(ctx context.Context, user domain.User, room domain.Room) (bool, error) {
	if room.Visibility == domain.VisibilityPublic {
		return true, nil
	}
	if !user.Authenticated() {
		return false, nil
	}
	if user.IsSuperuser {
		return true, nil
	}
	m, err := getMembership(ctx, a.store, user.ID, room.ID)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

// ListRoomTopics returns the room's topic set.
func (a *App) ListRoomTopics(ctx context.Context, roomID string) ([]domain.Topic, error) {
	topics, err := a.store.ListRoomTopics(ctx, roomID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return topics, nil
}

// ListRoomAudit returns recent audit entries. Host or staff only.
func (a *App) ListRoomAudit(ctx context.Context, actor domain.User, roomID string, limit int) ([]domain.AuditEntry, error) {
	room, err := getRoom(ctx, a.store, roomID)
	if err != nil {
		return nil, err
	}
	if room.HostID != actor.ID && !actor.IsStaff && !actor.IsSuperuser {
		return nil, apperror.PermissionDenied("audit log is host only")
	}
	entries, err := a.store.ListRoomAudit(ctx, roomID, limit)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return entries, nil
}
