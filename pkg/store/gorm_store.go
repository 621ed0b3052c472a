package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"roomhub/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations. Partial unique
// indexes enforce the one-pending-invite and one-active-report slots
// at the database level; services translate violations to CONFLICT.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&UserModel{}, &RoomModel{}, &TopicModel{}, &RoomTopicModel{},
		&PermissionModel{}, &RoleModel{}, &RolePermissionModel{},
		&ParticipantModel{}, &InviteModel{}, &MessageModel{},
		&ReportModel{}, &AttachmentModel{}, &AuditModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_invite_one_pending
		ON invite_models (room_id, invitee_id) WHERE status = 'PENDING'
	`).Error; err != nil {
		return nil, fmt.Errorf("create pending invite index: %w", err)
	}
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_report_one_active
		ON report_models (room_id, reporter_id)
		WHERE status IN ('PENDING', 'UNDER_REVIEW')
	`).Error; err != nil {
		return nil, fmt.Errorf("create active report index: %w", err)
	}
	return &GormStore{db: db}, nil
}

// WithTx runs fn inside a database transaction.
func (s *GormStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) create(ctx context.Context, model any) error {
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// users

func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return s.create(ctx, &model)
}

func (s *GormStore) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "email = ?", email).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "username = ?", username).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) UpdateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Save(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// rooms

func (s *GormStore) CreateRoom(ctx context.Context, r domain.Room) error {
	model := roomToModel(r)
	return s.create(ctx, &model)
}

func (s *GormStore) GetRoom(ctx context.Context, id string) (domain.Room, bool, error) {
	var model RoomModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Room{}, false, nil
		}
		return domain.Room{}, false, err
	}
	return roomFromModel(model), true, nil
}

func (s *GormStore) GetRoomByHostSlug(ctx context.Context, hostUsername, slug string) (domain.Room, bool, error) {
	var model RoomModel
	err := s.db.WithContext(ctx).
		Joins("JOIN user_models ON user_models.id = room_models.host_id").
		Where("user_models.username = ? AND room_models.slug = ?", hostUsername, slug).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Room{}, false, nil
		}
		return domain.Room{}, false, err
	}
	return roomFromModel(model), true, nil
}

func (s *GormStore) UpdateRoom(ctx context.Context, r domain.Room) error {
	model := roomToModel(r)
	if err := s.db.WithContext(ctx).Save(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// DeleteRoom removes a room and everything it owns.
func (s *GormStore) DeleteRoom(ctx context.Context, id string) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("role_id IN (?)",
		db.Session(&gorm.Session{NewDB: true}).Model(&RoleModel{}).Select("id").Where("room_id = ?", id),
	).Delete(&RolePermissionModel{}).Error; err != nil {
		return err
	}
	for _, model := range []any{
		&ParticipantModel{}, &InviteModel{}, &MessageModel{},
		&ReportModel{}, &AttachmentModel{}, &RoomTopicModel{},
		&AuditModel{}, &RoleModel{},
	} {
		if err := db.Where("room_id = ?", id).Delete(model).Error; err != nil {
			return err
		}
	}
	return db.Delete(&RoomModel{}, "id = ?", id).Error
}

// topics

func (s *GormStore) GetOrCreateTopic(ctx context.Context, name string) (domain.Topic, error) {
	var model TopicModel
	err := s.db.WithContext(ctx).First(&model, "name = ?", name).Error
	if err == nil {
		return domain.Topic{ID: model.ID, Name: model.Name}, nil
	}
	if err != gorm.ErrRecordNotFound {
		return domain.Topic{}, err
	}
	model = TopicModel{ID: newID(), Name: name}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			// lost the race; fetch the winner
			if err := s.db.WithContext(ctx).First(&model, "name = ?", name).Error; err != nil {
				return domain.Topic{}, err
			}
			return domain.Topic{ID: model.ID, Name: model.Name}, nil
		}
		return domain.Topic{}, err
	}
	return domain.Topic{ID: model.ID, Name: model.Name}, nil
}

func (s *GormStore) ReplaceRoomTopics(ctx context.Context, roomID string, topicIDs []string) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("room_id = ?", roomID).Delete(&RoomTopicModel{}).Error; err != nil {
		return err
	}
	for _, topicID := range topicIDs {
		if err := db.Create(&RoomTopicModel{RoomID: roomID, TopicID: topicID}).Error; err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *GormStore) ListRoomTopics(ctx context.Context, roomID string) ([]domain.Topic, error) {
	var models []TopicModel
	err := s.db.WithContext(ctx).
		Joins("JOIN room_topic_models ON room_topic_models.topic_id = topic_models.id").
		Where("room_topic_models.room_id = ?", roomID).
		Order("topic_models.name ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	topics := make([]domain.Topic, 0, len(models))
	for _, m := range models {
		topics = append(topics, domain.Topic{ID: m.ID, Name: m.Name})
	}
	return topics, nil
}

// permissions

func (s *GormStore) SeedPermissions(ctx context.Context, perms []domain.Permission) error {
	db := s.db.WithContext(ctx)
	for _, p := range perms {
		model := PermissionModel{Code: p.Code, Description: p.Description}
		if err := db.Create(&model).Error; err != nil && !isUniqueViolation(err) {
			return err
		}
	}
	return nil
}

func (s *GormStore) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	var models []PermissionModel
	if err := s.db.WithContext(ctx).Order("code ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	perms := make([]domain.Permission, 0, len(models))
	for _, m := range models {
		perms = append(perms, domain.Permission{Code: m.Code, Description: m.Description})
	}
	return perms, nil
}

// roles

func (s *GormStore) CreateRole(ctx context.Context, r domain.Role) error {
	model := roleToModel(r)
	if err := s.create(ctx, &model); err != nil {
		return err
	}
	return s.replaceRolePermissions(ctx, r.ID, r.Permissions)
}

func (s *GormStore) GetRole(ctx context.Context, id string) (domain.Role, bool, error) {
	var model RoleModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Role{}, false, nil
		}
		return domain.Role{}, false, err
	}
	return s.roleWithPermissions(ctx, model)
}

func (s *GormStore) GetRoleByName(ctx context.Context, roomID, name string) (domain.Role, bool, error) {
	var model RoleModel
	err := s.db.WithContext(ctx).First(&model, "room_id = ? AND name = ?", roomID, name).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Role{}, false, nil
		}
		return domain.Role{}, false, err
	}
	return s.roleWithPermissions(ctx, model)
}

func (s *GormStore) UpdateRole(ctx context.Context, r domain.Role) error {
	model := roleToModel(r)
	if err := s.db.WithContext(ctx).Save(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return s.replaceRolePermissions(ctx, r.ID, r.Permissions)
}

func (s *GormStore) DeleteRole(ctx context.Context, id string) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("role_id = ?", id).Delete(&RolePermissionModel{}).Error; err != nil {
		return err
	}
	return db.Delete(&RoleModel{}, "id = ?", id).Error
}

func (s *GormStore) ListRoomRoles(ctx context.Context, roomID string) ([]domain.Role, error) {
	var models []RoleModel
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("priority DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	roles := make([]domain.Role, 0, len(models))
	for _, m := range models {
		role, _, err := s.roleWithPermissions(ctx, m)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (s *GormStore) CountRoleParticipants(ctx context.Context, roleID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ParticipantModel{}).Where("role_id = ?", roleID).Count(&count).Error
	return count, err
}

func (s *GormStore) CountRolePendingInvites(ctx context.Context, roleID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&InviteModel{}).
		Where("role_id = ? AND status = ?", roleID, string(domain.InvitePending)).
		Count(&count).Error
	return count, err
}

func (s *GormStore) ReassignRoleParticipants(ctx context.Context, fromRoleID, toRoleID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&ParticipantModel{}).
		Where("role_id = ?", fromRoleID).
		Update("role_id", toRoleID)
	return res.RowsAffected, res.Error
}

func (s *GormStore) ReassignRolePendingInvites(ctx context.Context, fromRoleID, toRoleID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&InviteModel{}).
		Where("role_id = ? AND status = ?", fromRoleID, string(domain.InvitePending)).
		Update("role_id", toRoleID)
	return res.RowsAffected, res.Error
}

func (s *GormStore) roleWithPermissions(ctx context.Context, model RoleModel) (domain.Role, bool, error) {
	var links []RolePermissionModel
	if err := s.db.WithContext(ctx).Where("role_id = ?", model.ID).Order("permission_code ASC").Find(&links).Error; err != nil {
		return domain.Role{}, false, err
	}
	role := roleFromModel(model)
	role.Permissions = make([]string, 0, len(links))
	for _, l := range links {
		role.Permissions = append(role.Permissions, l.PermissionCode)
	}
	return role, true, nil
}

func (s *GormStore) replaceRolePermissions(ctx context.Context, roleID string, codes []string) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("role_id = ?", roleID).Delete(&RolePermissionModel{}).Error; err != nil {
		return err
	}
	for _, code := range codes {
		if err := db.Create(&RolePermissionModel{RoleID: roleID, PermissionCode: code}).Error; err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// participants

func (s *GormStore) CreateParticipant(ctx context.Context, p domain.Participant) error {
	model := participantToModel(p)
	return s.create(ctx, &model)
}

func (s *GormStore) GetParticipant(ctx context.Context, id string) (domain.Participant, bool, error) {
	var model ParticipantModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Participant{}, false, nil
		}
		return domain.Participant{}, false, err
	}
	return participantFromModel(model), true, nil
}

func (s *GormStore) GetMembership(ctx context.Context, userID, roomID string) (domain.Membership, bool, error) {
	var model ParticipantModel
	err := s.db.WithContext(ctx).First(&model, "user_id = ? AND room_id = ?", userID, roomID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Membership{}, false, nil
		}
		return domain.Membership{}, false, err
	}
	role, ok, err := s.GetRole(ctx, model.RoleID)
	if err != nil {
		return domain.Membership{}, false, err
	}
	if !ok {
		return domain.Membership{}, false, fmt.Errorf("participant %s references missing role %s", model.ID, model.RoleID)
	}
	return domain.Membership{Participant: participantFromModel(model), Role: role}, true, nil
}

func (s *GormStore) UpdateParticipantRole(ctx context.Context, participantID, roleID string) error {
	return s.db.WithContext(ctx).Model(&ParticipantModel{}).
		Where("id = ?", participantID).
		Update("role_id", roleID).Error
}

func (s *GormStore) DeleteParticipant(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&ParticipantModel{}, "id = ?", id).Error
}

func (s *GormStore) ListRoomParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	var models []ParticipantModel
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	parts := make([]domain.Participant, 0, len(models))
	for _, m := range models {
		parts = append(parts, participantFromModel(m))
	}
	return parts, nil
}

// invites

func (s *GormStore) CreateInvite(ctx context.Context, inv domain.Invite) error {
	model := inviteToModel(inv)
	return s.create(ctx, &model)
}

func (s *GormStore) GetInvite(ctx context.Context, id string) (domain.Invite, bool, error) {
	var model InviteModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Invite{}, false, nil
		}
		return domain.Invite{}, false, err
	}
	return inviteFromModel(model), true, nil
}

func (s *GormStore) GetInviteByToken(ctx context.Context, token string) (domain.Invite, bool, error) {
	var model InviteModel
	if err := s.db.WithContext(ctx).First(&model, "token = ?", token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Invite{}, false, nil
		}
		return domain.Invite{}, false, err
	}
	return inviteFromModel(model), true, nil
}

func (s *GormStore) HasPendingInvite(ctx context.Context, roomID, inviteeID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&InviteModel{}).
		Where("room_id = ? AND invitee_id = ? AND status = ?", roomID, inviteeID, string(domain.InvitePending)).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) TransitionInvite(ctx context.Context, id string, from, to domain.InviteStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&InviteModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) ExpirePendingInvites(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&InviteModel{}).
		Where("status = ? AND expires_at < ?", string(domain.InvitePending), now).
		Update("status", string(domain.InviteExpired))
	return res.RowsAffected, res.Error
}

func (s *GormStore) ListInvitesForUser(ctx context.Context, inviteeID string) ([]domain.Invite, error) {
	var models []InviteModel
	if err := s.db.WithContext(ctx).Where("invitee_id = ?", inviteeID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	invites := make([]domain.Invite, 0, len(models))
	for _, m := range models {
		invites = append(invites, inviteFromModel(m))
	}
	return invites, nil
}

// messages

func (s *GormStore) CreateMessage(ctx context.Context, m domain.Message) error {
	model := messageToModel(m)
	return s.create(ctx, &model)
}

func (s *GormStore) GetMessage(ctx context.Context, id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

func (s *GormStore) UpdateMessage(ctx context.Context, m domain.Message) error {
	model := messageToModel(m)
	return s.db.WithContext(ctx).Save(&model).Error
}

func (s *GormStore) DeleteMessage(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&MessageModel{}, "id = ?", id).Error
}

func (s *GormStore) ListRoomMessages(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []MessageModel
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

// reports

func (s *GormStore) CreateReport(ctx context.Context, r domain.Report) error {
	model := reportToModel(r)
	return s.create(ctx, &model)
}

func (s *GormStore) GetReport(ctx context.Context, id string) (domain.Report, bool, error) {
	var model ReportModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Report{}, false, nil
		}
		return domain.Report{}, false, err
	}
	return reportFromModel(model), true, nil
}

func (s *GormStore) HasActiveReport(ctx context.Context, roomID, reporterID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ReportModel{}).
		Where("room_id = ? AND reporter_id = ? AND status IN ?",
			roomID, reporterID,
			[]string{string(domain.ReportPending), string(domain.ReportUnderReview)}).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) UpdateReport(ctx context.Context, r domain.Report) error {
	model := reportToModel(r)
	if err := s.db.WithContext(ctx).Save(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// attachments

func (s *GormStore) CreateAttachment(ctx context.Context, a domain.Attachment) error {
	model := attachmentToModel(a)
	return s.create(ctx, &model)
}

func (s *GormStore) GetAttachment(ctx context.Context, id string) (domain.Attachment, bool, error) {
	var model AttachmentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Attachment{}, false, nil
		}
		return domain.Attachment{}, false, err
	}
	return attachmentFromModel(model), true, nil
}

func (s *GormStore) ListRoomAttachments(ctx context.Context, roomID string) ([]domain.Attachment, error) {
	var models []AttachmentModel
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	atts := make([]domain.Attachment, 0, len(models))
	for _, m := range models {
		atts = append(atts, attachmentFromModel(m))
	}
	return atts, nil
}

// audit

func (s *GormStore) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	model := AuditModel{
		ID:        e.ID,
		RoomID:    e.RoomID,
		ActorID:   e.ActorID,
		Action:    e.Action,
		Payload:   datatypes.JSON(payload),
		CreatedAt: e.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ListRoomAudit(ctx context.Context, roomID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []AuditModel
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	entries := make([]domain.AuditEntry, 0, len(models))
	for _, m := range models {
		entry := domain.AuditEntry{
			ID:        m.ID,
			RoomID:    m.RoomID,
			ActorID:   m.ActorID,
			Action:    m.Action,
			CreatedAt: m.CreatedAt,
		}
		if len(m.Payload) > 0 {
			_ = json.Unmarshal(m.Payload, &entry.Payload)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
