package store

import (
	"github.com/google/uuid"

	"roomhub/pkg/domain"
)

func newID() string { return uuid.NewString() }

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		IsActive:     u.IsActive,
		IsStaff:      u.IsStaff,
		IsSuperuser:  u.IsSuperuser,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		IsActive:     m.IsActive,
		IsStaff:      m.IsStaff,
		IsSuperuser:  m.IsSuperuser,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func roomToModel(r domain.Room) RoomModel {
	model := RoomModel{
		ID:          r.ID,
		HostID:      r.HostID,
		Name:        r.Name,
		Slug:        r.Slug,
		Description: r.Description,
		Visibility:  string(r.Visibility),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.DefaultRoleID != "" {
		roleID := r.DefaultRoleID
		model.DefaultRoleID = &roleID
	}
	return model
}

func roomFromModel(m RoomModel) domain.Room {
	room := domain.Room{
		ID:          m.ID,
		HostID:      m.HostID,
		Name:        m.Name,
		Slug:        m.Slug,
		Description: m.Description,
		Visibility:  domain.Visibility(m.Visibility),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.DefaultRoleID != nil {
		room.DefaultRoleID = *m.DefaultRoleID
	}
	return room
}

func roleToModel(r domain.Role) RoleModel {
	return RoleModel{
		ID:          r.ID,
		RoomID:      r.RoomID,
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func roleFromModel(m RoleModel) domain.Role {
	return domain.Role{
		ID:          m.ID,
		RoomID:      m.RoomID,
		Name:        m.Name,
		Description: m.Description,
		Priority:    m.Priority,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func participantToModel(p domain.Participant) ParticipantModel {
	return ParticipantModel{
		ID:        p.ID,
		UserID:    p.UserID,
		RoomID:    p.RoomID,
		RoleID:    p.RoleID,
		CreatedAt: p.CreatedAt,
	}
}

func participantFromModel(m ParticipantModel) domain.Participant {
	return domain.Participant{
		ID:        m.ID,
		UserID:    m.UserID,
		RoomID:    m.RoomID,
		RoleID:    m.RoleID,
		CreatedAt: m.CreatedAt,
	}
}

func inviteToModel(i domain.Invite) InviteModel {
	return InviteModel{
		ID:        i.ID,
		RoomID:    i.RoomID,
		InviterID: i.InviterID,
		InviteeID: i.InviteeID,
		RoleID:    i.RoleID,
		Token:     i.Token,
		Status:    string(i.Status),
		CreatedAt: i.CreatedAt,
		ExpiresAt: i.ExpiresAt,
	}
}

func inviteFromModel(m InviteModel) domain.Invite {
	return domain.Invite{
		ID:        m.ID,
		RoomID:    m.RoomID,
		InviterID: m.InviterID,
		InviteeID: m.InviteeID,
		RoleID:    m.RoleID,
		Token:     m.Token,
		Status:    domain.InviteStatus(m.Status),
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	model := MessageModel{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		AuthorID:  msg.AuthorID,
		Body:      msg.Body,
		IsEdited:  msg.IsEdited,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}
	if msg.ParentID != "" {
		parentID := msg.ParentID
		model.ParentID = &parentID
	}
	return model
}

func messageFromModel(m MessageModel) domain.Message {
	msg := domain.Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		AuthorID:  m.AuthorID,
		Body:      m.Body,
		IsEdited:  m.IsEdited,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.ParentID != nil {
		msg.ParentID = *m.ParentID
	}
	return msg
}

func reportToModel(r domain.Report) ReportModel {
	model := ReportModel{
		ID:            r.ID,
		RoomID:        r.RoomID,
		ReporterID:    r.ReporterID,
		Reason:        string(r.Reason),
		Body:          r.Body,
		Status:        string(r.Status),
		ModeratorNote: r.ModeratorNote,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.ModeratorID != "" {
		moderatorID := r.ModeratorID
		model.ModeratorID = &moderatorID
	}
	return model
}

func reportFromModel(m ReportModel) domain.Report {
	report := domain.Report{
		ID:            m.ID,
		RoomID:        m.RoomID,
		ReporterID:    m.ReporterID,
		Reason:        domain.ReportReason(m.Reason),
		Body:          m.Body,
		Status:        domain.ReportStatus(m.Status),
		ModeratorNote: m.ModeratorNote,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.ModeratorID != nil {
		report.ModeratorID = *m.ModeratorID
	}
	return report
}

func attachmentToModel(a domain.Attachment) AttachmentModel {
	return AttachmentModel{
		ID:          a.ID,
		RoomID:      a.RoomID,
		UploaderID:  a.UploaderID,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		SizeBytes:   a.SizeBytes,
		StorageKey:  a.StorageKey,
		CreatedAt:   a.CreatedAt,
	}
}

func attachmentFromModel(m AttachmentModel) domain.Attachment {
	return domain.Attachment{
		ID:          m.ID,
		RoomID:      m.RoomID,
		UploaderID:  m.UploaderID,
		Filename:    m.Filename,
		ContentType: m.ContentType,
		SizeBytes:   m.SizeBytes,
		StorageKey:  m.StorageKey,
		CreatedAt:   m.CreatedAt,
	}
}
