// Package server exposes the HTTP and WebSocket surface. Handlers stay
// thin: decode, call the service layer, map the error kind to a status
// code.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"roomhub/internal/app"
	"roomhub/internal/chat"
	"roomhub/internal/usertoken"
	"roomhub/internal/util"
	"roomhub/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Broker         *chat.Broker
	TokenVerifier  *usertoken.Verifier
	TokenIssuer    *usertoken.Issuer
	TrustedProxies *util.TrustedProxies
}

// Server routes requests to the service layer.
type Server struct {
	app      *app.App
	broker   *chat.Broker
	verifier *usertoken.Verifier
	issuer   *usertoken.Issuer
	trusted  *util.TrustedProxies
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:      cfg.App,
		broker:   cfg.Broker,
		verifier: cfg.TokenVerifier,
		issuer:   cfg.TokenIssuer,
		trusted:  cfg.TrustedProxies,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler wrapped in the shared
// middleware stack.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(s.trusted, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.Handle("GET /auth/me", s.withUser(s.handleMe))

	// rooms
	s.mux.Handle("POST /rooms", s.withUser(s.handleCreateRoom))
	s.mux.Handle("GET /rooms/{roomID}", s.withOptionalUser(s.handleGetRoom))
	s.mux.Handle("PATCH /rooms/{roomID}", s.withUser(s.handleUpdateRoom))
	s.mux.Handle("DELETE /rooms/{roomID}", s.withUser(s.handleDeleteRoom))
	s.mux.Handle("GET /rooms/{roomID}/participants", s.withOptionalUser(s.handleListParticipants))
	s.mux.Handle("GET /rooms/{roomID}/audit", s.withUser(s.handleListAudit))

	// roles
	s.mux.Handle("GET /rooms/{roomID}/roles", s.withUser(s.handleListRoles))
	s.mux.Handle("POST /rooms/{roomID}/roles", s.withUser(s.handleCreateRole))
	s.mux.Handle("PATCH /roles/{roleID}", s.withUser(s.handleUpdateRole))
	s.mux.Handle("DELETE /roles/{roleID}", s.withUser(s.handleDeleteRole))
	s.mux.Handle("POST /roles/{roleID}/permissions", s.withUser(s.handleAssignPermissions))
	s.mux.Handle("DELETE /roles/{roleID}/permissions", s.withUser(s.handleRemovePermissions))

	// participants
	s.mux.Handle("PATCH /participants/{participantID}/role", s.withUser(s.handleChangeParticipantRole))
	s.mux.Handle("DELETE /participants/{participantID}", s.withUser(s.handleRemoveParticipant))

	// invites
	s.mux.Handle("POST /invites", s.withUser(s.handleSendInvite))
	s.mux.Handle("GET /invites", s.withUser(s.handleListInvites))
	s.mux.Handle("GET /invites/token/{token}", s.withUser(s.handleGetInviteByToken))
	s.mux.Handle("POST /invites/{inviteID}/accept", s.withUser(s.handleAcceptInvite))
	s.mux.Handle("POST /invites/{inviteID}/decline", s.withUser(s.handleDeclineInvite))
	s.mux.Handle("POST /invites/{inviteID}/cancel", s.withUser(s.handleCancelInvite))

	// messages
	s.mux.Handle("GET /rooms/{roomID}/messages", s.withOptionalUser(s.handleListMessages))
	s.mux.Handle("POST /rooms/{roomID}/messages", s.withUser(s.handleCreateMessage))
	s.mux.Handle("PATCH /messages/{messageID}", s.withUser(s.handleUpdateMessage))
	s.mux.Handle("DELETE /messages/{messageID}", s.withUser(s.handleDeleteMessage))

	// reports
	s.mux.Handle("POST /rooms/{roomID}/reports", s.withUser(s.handleFileReport))
	s.mux.Handle("GET /reports/{reportID}", s.withUser(s.handleGetReport))
	s.mux.Handle("POST /reports/{reportID}/claim", s.withUser(s.handleClaimReport))
	s.mux.Handle("POST /reports/{reportID}/resolve", s.withUser(s.handleResolveReport))
	s.mux.Handle("POST /reports/{reportID}/dismiss", s.withUser(s.handleDismissReport))

	// attachments
	s.mux.Handle("POST /rooms/{roomID}/attachments", s.withUser(s.handleUploadAttachment))
	s.mux.Handle("GET /rooms/{roomID}/attachments", s.withUser(s.handleListAttachments))
	s.mux.Handle("GET /attachments/{attachmentID}/url", s.withUser(s.handleAttachmentURL))

	// chat
	s.mux.HandleFunc("GET /ws/rooms/{host}/{slug}", s.handleChatSocket)
	s.mux.Handle("GET /rooms/by/{host}/{slug}/history", s.withUser(s.handleChatHistory))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

// userFromToken resolves the bearer token to an active user.
func (s *Server) userFromToken(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.userFromRawToken(r, token)
}

func (s *Server) userFromRawToken(r *http.Request, token string) (domain.User, bool) {
	subject, err := s.verifier.VerifySubject(token)
	if err != nil {
		return domain.User{}, false
	}
	user, err := s.app.GetUser(r.Context(), subject)
	if err != nil || !user.IsActive {
		return domain.User{}, false
	}
	return user, true
}

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.userFromToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

// withOptionalUser passes the anonymous principal when no valid token
// is present; visibility rules decide what the caller sees.
func (s *Server) withOptionalUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := s.userFromToken(r)
		next(w, r, user)
	})
}

// auth

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.RegisterUser(r.Context(), app.RegisterUserInput(in))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Authenticate(r.Context(), in.Email, in.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.issuer.Issue(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, user)
}

// rooms

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Topics      []string `json:"topics"`
		Visibility  string   `json:"visibility"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	room, err := s.app.CreateRoom(r.Context(), user, app.CreateRoomInput{
		Name:        in.Name,
		Description: in.Description,
		Topics:      in.Topics,
		Visibility:  domain.Visibility(in.Visibility),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request, user domain.User) {
	room, err := s.app.GetRoom(r.Context(), user, r.PathValue("roomID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	topics, err := s.app.ListRoomTopics(r.Context(), room.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room, "topics": topics})
}

func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in struct {
		Name        *string  `json:"name"`
		Description *string  `json:"description"`
		Visibility  *string  `json:"visibility"`
		Topics      []string `json:"topics"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	update := app.UpdateRoomInput{Name: in.Name, Description: in.Description, Topics: in.Topics}
	if in.Visibility != nil {
		v := domain.Visibility(*in.Visibility)
		update.Visibility = &v
	}
	room, err := s.app.UpdateRoom(r.Context(), user, r.PathValue("roomID"), update)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeleteRoom(r.Context(), user, r.PathValue("roomID")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request, user domain.User) {
	participants, err := s.app.ListRoomParticipants(r.Context(), user, r.PathValue("roomID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": participants})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.app.ListRoomAudit(r.Context(), user, r.PathValue("roomID"), limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// roles

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request, user domain.User) {
	roles, err := s.app.ListRoomRoles(r.Context(), user, r.PathValue("roomID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Priority    int      `json:"priority"`
		Permissions []string `json:"permissions"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	role, err := s.app.CreateRole(r.Context(), user, r.PathValue("roomID"), app.CreateRoleInput(in))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in struct {
		Name        *string  `json:"name"`
		Description *string  `json:"description"`
		Priority    *int     `json:"priority"`
		Permissions []string `json:"permissions"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	role, err := s.app.UpdateRole(r.Context(), user, r.PathValue("roleID"), app.UpdateRoleInput(in))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request, user domain.User) {
	substitution := r.URL.Query().Get("substitution_role")
	result, err := s.app.DeleteRole(r.Context(), user, r.PathValue("roleID"), substitution)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":                 true,
		"participants_reassigned": result.ParticipantsReassigned,
		"invites_reassigned":      result.InvitesReassigned,
	})
}

func (s *Server) handleAssignPermissions(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.handlePermissionChange(w, r, user, s.app.AssignPermissions)
}

func (s *Server) handleRemovePermissions(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.handlePermissionChange(w, r, user, s.app.RemovePermissions)
}

func (s *Server) handlePermissionChange(w http.ResponseWriter, r *http.Request, user domain.User,
	op func(ctx context.Context, actor domain.User, roleID string, codes []string) (domain.Role, error)) {
	var in struct {
		Permissions []string `json:"permissions"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	role, err := op(r.Context(), user, r.PathValue("roleID"), in.Permissions)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// participants

func (s *Server) handleChangeParticipantRole(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in struct {
		RoleID string `json:"roleId"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := s.app.ChangeParticipantRole(r.Context(), user, r.PathValue("participantID"), in.RoleID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.RemoveParticipant(r.Context(), user, r.PathValue("participantID")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// invites

func (s *Server) handleSendInvite(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in struct {
		RoomID    string    `json:"roomId"`
		InviteeID string    `json:"inviteeId"`
		RoleID    string    `json:"roleId"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	invite, err := s.app.SendInvite(r.Context(), user, app.SendInviteInput(in))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request, user domain.User) {
	invites, err := s.app.ListInvitesForUser(r.Context(), user)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": invites})
}

func (s *Server) handleGetInviteByToken(w http.ResponseWriter, r *http.Request, user domain.User) {
	invite, err := s.app.GetInviteByToken(r.Context(), r.PathValue("token"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if invite.InviteeID != user.ID && invite.InviterID != user.ID && !user.IsStaff && !user.IsSuperuser {
		writeError(w, http.StatusNotFound, "invite not found")
		return
	}
	writeJSON(w, http.StatusOK, invite)
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request, user domain.User) {
	p, err := s.app.AcceptInvite(r.Context(), user, r.PathValue("inviteID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeclineInvite(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeclineInvite(r.Context(), user, r.PathValue("inviteID")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelInvite(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.CancelInvite(r.Context(), user, r.PathValue("inviteID")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// messages

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := s.app.ListRoomMessages(r.Context(), user, r.PathValue("roomID"), limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in struct {
		Body     string `json:"body"`
		ParentID string `json:"parentId"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := s.app.CreateMessage(r.Context(), user, r.PathValue("roomID"), in.Body, in.ParentID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := s.app.UpdateMessage(r.Context(), user, r.PathValue("messageID"), in.Body)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	if _, err := s.app.DeleteMessage(r.Context(), user, r.PathValue("messageID")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// reports

func (s *Server) handleFileReport(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in struct {
		Reason string `json:"reason"`
		Body   string `json:"body"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	report, err := s.app.FileReport(r.Context(), user, r.PathValue("roomID"), domain.ReportReason(in.Reason), in.Body)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request, user domain.User) {
	report, err := s.app.GetReport(r.Context(), user, r.PathValue("reportID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleClaimReport(w http.ResponseWriter, r *http.Request, user domain.User) {
	report, err := s.app.ClaimReport(r.Context(), user, r.PathValue("reportID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleResolveReport(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.handleCloseReport(w, r, user, s.app.ResolveReport)
}

func (s *Server) handleDismissReport(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.handleCloseReport(w, r, user, s.app.DismissReport)
}

func (s *Server) handleCloseReport(w http.ResponseWriter, r *http.Request, user domain.User,
	op func(ctx context.Context, actor domain.User, reportID, note string) (domain.Report, error)) {
	var in struct {
		Note string `json:"note"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	report, err := op(r.Context(), user, r.PathValue("reportID"), in.Note)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// attachments

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := r.ParseMultipartForm(app.MaxAttachmentBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()
	attachment, err := s.app.UploadAttachment(r.Context(), user, r.PathValue("roomID"), header.Filename, file, header.Size)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attachment)
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request, user domain.User) {
	attachments, err := s.app.ListRoomAttachments(r.Context(), user, r.PathValue("roomID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": attachments})
}

func (s *Server) handleAttachmentURL(w http.ResponseWriter, r *http.Request, user domain.User) {
	url, err := s.app.GetAttachmentURL(r.Context(), user, r.PathValue("attachmentID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// chat history backfill

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request, user domain.User) {
	host, slug := r.PathValue("host"), r.PathValue("slug")
	if _, err := s.app.GetRoomByHostSlug(r.Context(), user, host, slug); err != nil {
		writeAppError(w, err)
		return
	}
	count, _ := strconv.ParseInt(r.URL.Query().Get("count"), 10, 64)
	entries, err := s.broker.History(r.Context(), host, slug, r.URL.Query().Get("start"), count)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	type historyEntry struct {
		ID        string `json:"id"`
		Data      string `json:"data"`
		Timestamp string `json:"timestamp"`
	}
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{ID: e.ID, Data: e.Fields["data"], Timestamp: e.Fields["timestamp"]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
