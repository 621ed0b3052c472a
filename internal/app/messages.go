package app

import (
	"context"
	"strings"
	"unicode/utf8"

	"roomhub/internal/access"
	"roomhub/internal/util"
	"roomhub/pkg/apperror"
	"roomhub/pkg/domain"
	"roomhub/pkg/store"
)

func validateBody(body string) error {
	if body == "" || utf8.RuneCountInString(body) > domain.MaxMessageLen {
		return apperror.FieldValidation("body", "body must be 1 to 2048 characters")
	}
	return nil
}

// CreateMessage posts a message to the room. Posting is a membership
// right; no extra permission applies.
func (a *App) CreateMessage(ctx context.Context, actor domain.User, roomID, body, parentID string) (domain.Message, error) {
	body = strings.TrimSpace(body)
	if err := validateBody(body); err != nil {
		return domain.Message{}, err
	}

	var created domain.Message
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := getRoom(ctx, tx, roomID); err != nil {
			return err
		}
		if _, err := requireMembership(ctx, tx, actor.ID, roomID); err != nil {
			return err
		}
		if parentID != "" {
			parent, ok, err := tx.GetMessage(ctx, parentID)
			if err != nil {
				return apperror.Internal(err)
			}
			if !ok {
				return apperror.NotFound("parent message")
			}
			if parent.RoomID != roomID {
				return apperror.FieldValidation("parent", "parent message belongs to another room")
			}
		}
		now := a.now()
		msg := domain.Message{
			ID:        util.NewID(),
			RoomID:    roomID,
			AuthorID:  actor.ID,
			Body:      body,
			ParentID:  parentID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return apperror.Internal(err)
		}
		created = msg
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	return created, nil
}

// UpdateMessage edits the body. Author only; marks the message edited.
func (a *App) UpdateMessage(ctx context.Context, actor domain.User, messageID, body string) (domain.Message, error) {
	body = strings.TrimSpace(body)
	if err := validateBody(body); err != nil {
		return domain.Message{}, err
	}

	var updated domain.Message
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		msg, ok, err := tx.GetMessage(ctx, messageID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("message")
		}
		if msg.AuthorID != actor.ID {
			return apperror.PermissionDenied("only the author can edit a message")
		}
		msg.Body = body
		msg.IsEdited = true
		msg.UpdatedAt = a.now()
		if err := tx.UpdateMessage(ctx, msg); err != nil {
			return apperror.Internal(err)
		}
		updated = msg
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	return updated, nil
}

// DeleteMessage removes a message. Author, or a holder of
// room.delete_message in the message's room.
func (a *App) DeleteMessage(ctx context.Context, actor domain.User, messageID string) (domain.Message, error) {
	var deleted domain.Message
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		msg, ok, err := tx.GetMessage(ctx, messageID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("message")
		}
		if msg.AuthorID != actor.ID {
			m, err := getMembership(ctx, tx, actor.ID, msg.RoomID)
			if err != nil {
				return err
			}
			if !access.HasPermission(actor, m, domain.PermRoomDeleteMessage) {
				return apperror.PermissionDenied("missing room.delete_message permission")
			}
		}
		if err := tx.DeleteMessage(ctx, msg.ID); err != nil {
			return apperror.Internal(err)
		}
		deleted = msg
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	return deleted, nil
}

// GetMessage loads a message by id.
func (a *App) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	msg, ok, err := a.store.GetMessage(ctx, id)
	if err != nil {
		return domain.Message{}, apperror.Internal(err)
	}
	if !ok {
		return domain.Message{}, apperror.NotFound("message")
	}
	return msg, nil
}

// ListRoomMessages returns recent messages for a viewable room.
func (a *App) ListRoomMessages(ctx context.Context, actor domain.User, roomID string, limit int) ([]domain.Message, error) {
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
	messages, err := a.store.ListRoomMessages(ctx, roomID, limit)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return messages, nil
}
