package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"roomhub/pkg/domain"
)

// MemoryStore keeps all state in-process. It backs the test suites and
// mirrors GormStore semantics: the same uniqueness slots, the same
// ErrDuplicate translation, and transactional rollback via snapshot.
type MemoryStore struct {
	mu sync.Mutex
	st *memState
	tx bool
}

type memState struct {
	users        map[string]domain.User
	rooms        map[string]domain.Room
	topics       map[string]domain.Topic
	roomTopics   map[string][]string
	perms        map[string]domain.Permission
	roles        map[string]domain.Role
	participants map[string]domain.Participant
	invites      map[string]domain.Invite
	messages     map[string]domain.Message
	reports      map[string]domain.Report
	attachments  map[string]domain.Attachment
	audits       []domain.AuditEntry
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

func newMemState() *memState {
	return &memState{
		users:        make(map[string]domain.User),
		rooms:        make(map[string]domain.Room),
		topics:       make(map[string]domain.Topic),
		roomTopics:   make(map[string][]string),
		perms:        make(map[string]domain.Permission),
		roles:        make(map[string]domain.Role),
		participants: make(map[string]domain.Participant),
		invites:      make(map[string]domain.Invite),
		messages:     make(map[string]domain.Message),
		reports:      make(map[string]domain.Report),
		attachments:  make(map[string]domain.Attachment),
	}
}

func (s *memState) clone() *memState {
	out := newMemState()
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.rooms {
		out.rooms[k] = v
	}
	for k, v := range s.topics {
		out.topics[k] = v
	}
	for k, v := range s.roomTopics {
		out.roomTopics[k] = append([]string(nil), v...)
	}
	for k, v := range s.perms {
		out.perms[k] = v
	}
	for k, v := range s.roles {
		v.Permissions = append([]string(nil), v.Permissions...)
		out.roles[k] = v
	}
	for k, v := range s.participants {
		out.participants[k] = v
	}
	for k, v := range s.invites {
		out.invites[k] = v
	}
	for k, v := range s.messages {
		out.messages[k] = v
	}
	for k, v := range s.reports {
		out.reports[k] = v
	}
	for k, v := range s.attachments {
		out.attachments[k] = v
	}
	out.audits = append([]domain.AuditEntry(nil), s.audits...)
	return out
}

// WithTx serializes writers and rolls back by discarding the snapshot
// when fn fails. Nested calls run in the enclosing transaction.
func (m *MemoryStore) WithTx(_ context.Context, fn func(Store) error) error {
	if m.tx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.st.clone()
	txStore := &MemoryStore{st: snapshot, tx: true}
	if err := fn(txStore); err != nil {
		return err
	}
	m.st = snapshot
	return nil
}

func (m *MemoryStore) lock() {
	if !m.tx {
		m.mu.Lock()
	}
}

func (m *MemoryStore) unlock() {
	if !m.tx {
		m.mu.Unlock()
	}
}

// users

func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	m.lock()
	defer m.unlock()
	for _, existing := range m.st.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return ErrDuplicate
		}
	}
	m.st.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (domain.User, bool, error) {
	m.lock()
	defer m.unlock()
	u, ok := m.st.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.lock()
	defer m.unlock()
	for _, u := range m.st.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (domain.User, bool, error) {
	m.lock()
	defer m.unlock()
	for _, u := range m.st.users {
		if u.Username == username {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, u domain.User) error {
	m.lock()
	defer m.unlock()
	for id, existing := range m.st.users {
		if id != u.ID && (existing.Email == u.Email || existing.Username == u.Username) {
			return ErrDuplicate
		}
	}
	m.st.users[u.ID] = u
	return nil
}

// rooms

func (m *MemoryStore) CreateRoom(_ context.Context, r domain.Room) error {
	m.lock()
	defer m.unlock()
	for _, existing := range m.st.rooms {
		if existing.HostID == r.HostID && (existing.Name == r.Name || existing.Slug == r.Slug) {
			return ErrDuplicate
		}
	}
	m.st.rooms[r.ID] = r
	return nil
}

func (m *MemoryStore) GetRoom(_ context.Context, id string) (domain.Room, bool, error) {
	m.lock()
	defer m.unlock()
	r, ok := m.st.rooms[id]
	return r, ok, nil
}

func (m *MemoryStore) GetRoomByHostSlug(_ context.Context, hostUsername, slug string) (domain.Room, bool, error) {
	m.lock()
	defer m.unlock()
	var hostID string
	for _, u := range m.st.users {
		if u.Username == hostUsername {
			hostID = u.ID
			break
		}
	}
	if hostID == "" {
		return domain.Room{}, false, nil
	}
	for _, r := range m.st.rooms {
		if r.HostID == hostID && r.Slug == slug {
			return r, true, nil
		}
	}
	return domain.Room{}, false, nil
}

func (m *MemoryStore) UpdateRoom(_ context.Context, r domain.Room) error {
	m.lock()
	defer m.unlock()
	for id, existing := range m.st.rooms {
		if id != r.ID && existing.HostID == r.HostID && (existing.Name == r.Name || existing.Slug == r.Slug) {
			return ErrDuplicate
		}
	}
	m.st.rooms[r.ID] = r
	return nil
}

func (m *MemoryStore) DeleteRoom(_ context.Context, id string) error {
	m.lock()
	defer m.unlock()
	delete(m.st.rooms, id)
	delete(m.st.roomTopics, id)
	for k, v := range m.st.roles {
		if v.RoomID == id {
			delete(m.st.roles, k)
		}
	}
	for k, v := range m.st.participants {
		if v.RoomID == id {
			delete(m.st.participants, k)
		}
	}
	for k, v := range m.st.invites {
		if v.RoomID == id {
			delete(m.st.invites, k)
		}
	}
	for k, v := range m.st.messages {
		if v.RoomID == id {
			delete(m.st.messages, k)
		}
	}
	for k, v := range m.st.reports {
		if v.RoomID == id {
			delete(m.st.reports, k)
		}
	}
	for k, v := range m.st.attachments {
		if v.RoomID == id {
			delete(m.st.attachments, k)
		}
	}
	kept := m.st.audits[:0]
	for _, e := range m.st.audits {
		if e.RoomID != id {
			kept = append(kept, e)
		}
	}
	m.st.audits = kept
	return nil
}

// topics

func (m *MemoryStore) GetOrCreateTopic(_ context.Context, name string) (domain.Topic, error) {
	m.lock()
	defer m.unlock()
	for _, t := range m.st.topics {
		if t.Name == name {
			return t, nil
		}
	}
	t := domain.Topic{ID: newID(), Name: name}
	m.st.topics[t.ID] = t
	return t, nil
}

func (m *MemoryStore) ReplaceRoomTopics(_ context.Context, roomID string, topicIDs []string) error {
	m.lock()
	defer m.unlock()
	m.st.roomTopics[roomID] = append([]string(nil), topicIDs...)
	return nil
}

func (m *MemoryStore) ListRoomTopics(_ context.Context, roomID string) ([]domain.Topic, error) {
	m.lock()
	defer m.unlock()
	topics := make([]domain.Topic, 0, len(m.st.roomTopics[roomID]))
	for _, id := range m.st.roomTopics[roomID] {
		if t, ok := m.st.topics[id]; ok {
			topics = append(topics, t)
		}
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })
	return topics, nil
}

// permissions

func (m *MemoryStore) SeedPermissions(_ context.Context, perms []domain.Permission) error {
	m.lock()
	defer m.unlock()
	for _, p := range perms {
		if _, ok := m.st.perms[p.Code]; !ok {
			m.st.perms[p.Code] = p
		}
	}
	return nil
}

func (m *MemoryStore) ListPermissions(_ context.Context) ([]domain.Permission, error) {
	m.lock()
	defer m.unlock()
	perms := make([]domain.Permission, 0, len(m.st.perms))
	for _, p := range m.st.perms {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}

// roles

func (m *MemoryStore) CreateRole(_ context.Context, r domain.Role) error {
	m.lock()
	defer m.unlock()
	for _, existing := range m.st.roles {
		if existing.RoomID == r.RoomID && existing.Name == r.Name {
			return ErrDuplicate
		}
	}
	r.Permissions = append([]string(nil), r.Permissions...)
	m.st.roles[r.ID] = r
	return nil
}

func (m *MemoryStore) GetRole(_ context.Context, id string) (domain.Role, bool, error) {
	m.lock()
	defer m.unlock()
	r, ok := m.st.roles[id]
	if ok {
		r.Permissions = append([]string(nil), r.Permissions...)
	}
	return r, ok, nil
}

func (m *MemoryStore) GetRoleByName(_ context.Context, roomID, name string) (domain.Role, bool, error) {
	m.lock()
	defer m.unlock()
	for _, r := range m.st.roles {
		if r.RoomID == roomID && r.Name == name {
			r.Permissions = append([]string(nil), r.Permissions...)
			return r, true, nil
		}
	}
	return domain.Role{}, false, nil
}

func (m *MemoryStore) UpdateRole(_ context.Context, r domain.Role) error {
	m.lock()
	defer m.unlock()
	for id, existing := range m.st.roles {
		if id != r.ID && existing.RoomID == r.RoomID && existing.Name == r.Name {
			return ErrDuplicate
		}
	}
	r.Permissions = append([]string(nil), r.Permissions...)
	m.st.roles[r.ID] = r
	return nil
}

func (m *MemoryStore) DeleteRole(_ context.Context, id string) error {
	m.lock()
	defer m.unlock()
	delete(m.st.roles, id)
	return nil
}

func (m *MemoryStore) ListRoomRoles(_ context.Context, roomID string) ([]domain.Role, error) {
	m.lock()
	defer m.unlock()
	roles := make([]domain.Role, 0)
	for _, r := range m.st.roles {
		if r.RoomID == roomID {
			r.Permissions = append([]string(nil), r.Permissions...)
			roles = append(roles, r)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Priority > roles[j].Priority })
	return roles, nil
}

func (m *MemoryStore) CountRoleParticipants(_ context.Context, roleID string) (int64, error) {
	m.lock()
	defer m.unlock()
	var count int64
	for _, p := range m.st.participants {
		if p.RoleID == roleID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CountRolePendingInvites(_ context.Context, roleID string) (int64, error) {
	m.lock()
	defer m.unlock()
	var count int64
	for _, inv := range m.st.invites {
		if inv.RoleID == roleID && inv.Status == domain.InvitePending {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ReassignRoleParticipants(_ context.Context, fromRoleID, toRoleID string) (int64, error) {
	m.lock()
	defer m.unlock()
	var count int64
	for id, p := range m.st.participants {
		if p.RoleID == fromRoleID {
			p.RoleID = toRoleID
			m.st.participants[id] = p
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ReassignRolePendingInvites(_ context.Context, fromRoleID, toRoleID string) (int64, error) {
	m.lock()
	defer m.unlock()
	var count int64
	for id, inv := range m.st.invites {
		if inv.RoleID == fromRoleID && inv.Status == domain.InvitePending {
			inv.RoleID = toRoleID
			m.st.invites[id] = inv
			count++
		}
	}
	return count, nil
}

// participants

func (m *MemoryStore) CreateParticipant(_ context.Context, p domain.Participant) error {
	m.lock()
	defer m.unlock()
	for _, existing := range m.st.participants {
		if existing.UserID == p.UserID && existing.RoomID == p.RoomID {
			return ErrDuplicate
		}
	}
	m.st.participants[p.ID] = p
	return nil
}

func (m *MemoryStore) GetParticipant(_ context.Context, id string) (domain.Participant, bool, error) {
	m.lock()
	defer m.unlock()
	p, ok := m.st.participants[id]
	return p, ok, nil
}

func (m *MemoryStore) GetMembership(_ context.Context, userID, roomID string) (domain.Membership, bool, error) {
	m.lock()
	defer m.unlock()
	for _, p := range m.st.participants {
		if p.UserID == userID && p.RoomID == roomID {
			role := m.st.roles[p.RoleID]
			role.Permissions = append([]string(nil), role.Permissions...)
			return domain.Membership{Participant: p, Role: role}, true, nil
		}
	}
	return domain.Membership{}, false, nil
}

func (m *MemoryStore) UpdateParticipantRole(_ context.Context, participantID, roleID string) error {
	m.lock()
	defer m.unlock()
	p, ok := m.st.participants[participantID]
	if !ok {
		return nil
	}
	p.RoleID = roleID
	m.st.participants[participantID] = p
	return nil
}

func (m *MemoryStore) DeleteParticipant(_ context.Context, id string) error {
	m.lock()
	defer m.unlock()
	delete(m.st.participants, id)
	return nil
}

func (m *MemoryStore) ListRoomParticipants(_ context.Context, roomID string) ([]domain.Participant, error) {
	m.lock()
	defer m.unlock()
	parts := make([]domain.Participant, 0)
	for _, p := range m.st.participants {
		if p.RoomID == roomID {
			parts = append(parts, p)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].CreatedAt.Before(parts[j].CreatedAt) })
	return parts, nil
}

// invites

func (m *MemoryStore) CreateInvite(_ context.Context, inv domain.Invite) error {
	m.lock()
	defer m.unlock()
	for _, existing := range m.st.invites {
		if existing.Token == inv.Token {
			return ErrDuplicate
		}
		if inv.Status == domain.InvitePending &&
			existing.RoomID == inv.RoomID &&
			existing.InviteeID == inv.InviteeID &&
			existing.Status == domain.InvitePending {
			return ErrDuplicate
		}
	}
	m.st.invites[inv.ID] = inv
	return nil
}

func (m *MemoryStore) GetInvite(_ context.Context, id string) (domain.Invite, bool, error) {
	m.lock()
	defer m.unlock()
	inv, ok := m.st.invites[id]
	return inv, ok, nil
}

func (m *MemoryStore) GetInviteByToken(_ context.Context, token string) (domain.Invite, bool, error) {
	m.lock()
	defer m.unlock()
	for _, inv := range m.st.invites {
		if inv.Token == token {
			return inv, true, nil
		}
	}
	return domain.Invite{}, false, nil
}

func (m *MemoryStore) HasPendingInvite(_ context.Context, roomID, inviteeID string) (bool, error) {
	m.lock()
	defer m.unlock()
	for _, inv := range m.st.invites {
		if inv.RoomID == roomID && inv.InviteeID == inviteeID && inv.Status == domain.InvitePending {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) TransitionInvite(_ context.Context, id string, from, to domain.InviteStatus) (bool, error) {
	m.lock()
	defer m.unlock()
	inv, ok := m.st.invites[id]
	if !ok || inv.Status != from {
		return false, nil
	}
	inv.Status = to
	m.st.invites[id] = inv
	return true, nil
}

func (m *MemoryStore) ExpirePendingInvites(_ context.Context, now time.Time) (int64, error) {
	m.lock()
	defer m.unlock()
	var count int64
	for id, inv := range m.st.invites {
		if inv.Status == domain.InvitePending && inv.ExpiresAt.Before(now) {
			inv.Status = domain.InviteExpired
			m.st.invites[id] = inv
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListInvitesForUser(_ context.Context, inviteeID string) ([]domain.Invite, error) {
	m.lock()
	defer m.unlock()
	invites := make([]domain.Invite, 0)
	for _, inv := range m.st.invites {
		if inv.InviteeID == inviteeID {
			invites = append(invites, inv)
		}
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].CreatedAt.After(invites[j].CreatedAt) })
	return invites, nil
}

// messages

func (m *MemoryStore) CreateMessage(_ context.Context, msg domain.Message) error {
	m.lock()
	defer m.unlock()
	m.st.messages[msg.ID] = msg
	return nil
}

func (m *MemoryStore) GetMessage(_ context.Context, id string) (domain.Message, bool, error) {
	m.lock()
	defer m.unlock()
	msg, ok := m.st.messages[id]
	return msg, ok, nil
}

func (m *MemoryStore) UpdateMessage(_ context.Context, msg domain.Message) error {
	m.lock()
	defer m.unlock()
	m.st.messages[msg.ID] = msg
	return nil
}

func (m *MemoryStore) DeleteMessage(_ context.Context, id string) error {
	m.lock()
	defer m.unlock()
	delete(m.st.messages, id)
	return nil
}

func (m *MemoryStore) ListRoomMessages(_ context.Context, roomID string, limit int) ([]domain.Message, error) {
	m.lock()
	defer m.unlock()
	if limit <= 0 {
		limit = 50
	}
	msgs := make([]domain.Message, 0)
	for _, msg := range m.st.messages {
		if msg.RoomID == roomID {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// reports

func (m *MemoryStore) CreateReport(_ context.Context, r domain.Report) error {
	m.lock()
	defer m.unlock()
	if r.Active() {
		for _, existing := range m.st.reports {
			if existing.RoomID == r.RoomID && existing.ReporterID == r.ReporterID && existing.Active() {
				return ErrDuplicate
			}
		}
	}
	m.st.reports[r.ID] = r
	return nil
}

func (m *MemoryStore) GetReport(_ context.Context, id string) (domain.Report, bool, error) {
	m.lock()
	defer m.unlock()
	r, ok := m.st.reports[id]
	return r, ok, nil
}

func (m *MemoryStore) HasActiveReport(_ context.Context, roomID, reporterID string) (bool, error) {
	m.lock()
	defer m.unlock()
	for _, r := range m.st.reports {
		if r.RoomID == roomID && r.ReporterID == reporterID && r.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) UpdateReport(_ context.Context, r domain.Report) error {
	m.lock()
	defer m.unlock()
	m.st.reports[r.ID] = r
	return nil
}

// attachments

func (m *MemoryStore) CreateAttachment(_ context.Context, a domain.Attachment) error {
	m.lock()
	defer m.unlock()
	m.st.attachments[a.ID] = a
	return nil
}

func (m *MemoryStore) GetAttachment(_ context.Context, id string) (domain.Attachment, bool, error) {
	m.lock()
	defer m.unlock()
	a, ok := m.st.attachments[id]
	return a, ok, nil
}

func (m *MemoryStore) ListRoomAttachments(_ context.Context, roomID string) ([]domain.Attachment, error) {
	m.lock()
	defer m.unlock()
	atts := make([]domain.Attachment, 0)
	for _, a := range m.st.attachments {
		if a.RoomID == roomID {
			atts = append(atts, a)
		}
	}
	sort.Slice(atts, func(i, j int) bool { return atts[i].CreatedAt.Before(atts[j].CreatedAt) })
	return atts, nil
}

// audit

func (m *MemoryStore) AppendAudit(_ context.Context, e domain.AuditEntry) error {
	m.lock()
	defer m.unlock()
	m.st.audits = append(m.st.audits, e)
	return nil
}

func (m *MemoryStore) ListRoomAudit(_ context.Context, roomID string, limit int) ([]domain.AuditEntry, error) {
	m.lock()
	defer m.unlock()
	if limit <= 0 {
		limit = 100
	}
	entries := make([]domain.AuditEntry, 0)
	for i := len(m.st.audits) - 1; i >= 0 && len(entries) < limit; i-- {
		if m.st.audits[i].RoomID == roomID {
			entries = append(entries, m.st.audits[i])
		}
	}
	return entries, nil
}
