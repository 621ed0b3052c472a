package app

import (
	"context"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"roomhub/internal/access"
	"roomhub/internal/util"
	"roomhub/pkg/apperror"
	"roomhub/pkg/domain"
)

// MaxAttachmentBytes caps a single upload.
const MaxAttachmentBytes = 64 << 20

// UploadAttachment stores a file for the room and records its
// metadata. Requires room.upload_file.
func (a *App) UploadAttachment(ctx context.Context, actor domain.User, roomID, filename string, r io.Reader, size int64) (domain.Attachment, error) {
	if a.objects == nil {
		return domain.Attachment{}, apperror.InvalidState("object storage is not configured")
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return domain.Attachment{}, apperror.FieldValidation("filename", "filename required")
	}
	if size <= 0 || size > MaxAttachmentBytes {
		return domain.Attachment{}, apperror.FieldValidation("size", "file size must be positive and at most 64 MiB")
	}

	if _, err := getRoom(ctx, a.store, roomID); err != nil {
		return domain.Attachment{}, err
	}
	m, err := getMembership(ctx, a.store, actor.ID, roomID)
	if err != nil {
		return domain.Attachment{}, err
	}
	if !access.HasPermission(actor, m, domain.PermRoomUploadFile) {
		return domain.Attachment{}, apperror.PermissionDenied("missing room.upload_file permission")
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	id := util.NewID()
	key := path.Join("rooms", roomID, id)

	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return domain.Attachment{}, apperror.Internal(err)
	}
	attachment := domain.Attachment{
		ID:          id,
		RoomID:      roomID,
		UploaderID:  actor.ID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   size,
		StorageKey:  key,
		CreatedAt:   a.now(),
	}
	if err := a.store.CreateAttachment(ctx, attachment); err != nil {
		_ = a.objects.Delete(ctx, key)
		return domain.Attachment{}, apperror.Internal(err)
	}
	return attachment, nil
}

// GetAttachmentURL returns a presigned download URL for participants
// of the room.
func (a *App) GetAttachmentURL(ctx context.Context, actor domain.User, attachmentID string) (string, error) {
	if a.objects == nil {
		return "", apperror.InvalidState("object storage is not configured")
	}
	attachment, ok, err := a.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return "", apperror.Internal(err)
	}
	if !ok {
		return "", apperror.NotFound("attachment")
	}
	room, err := getRoom(ctx, a.store, attachment.RoomID)
	if err != nil {
		return "", err
	}
	visible, err := a.CanView(ctx, actor, room)
	if err != nil {
		return "", err
	}
	if !visible {
		return "", apperror.NotFound("attachment")
	}
	url, err := a.objects.PresignGet(ctx, attachment.StorageKey, a.presignExpiry)
	if err != nil {
		return "", apperror.Internal(err)
	}
	return url, nil
}

// ListRoomAttachments returns the room's attachment metadata.
func (a *App) ListRoomAttachments(ctx context.Context, actor domain.User, roomID string) ([]domain.Attachment, error) {
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
	attachments, err := a.store.ListRoomAttachments(ctx, roomID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return attachments, nil
}
