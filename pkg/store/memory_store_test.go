package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"roomhub/pkg/domain"
)

func TestMemoryStoreParticipantUniquePerRoom(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := domain.Participant{ID: "p1", UserID: "u1", RoomID: "r1", RoleID: "role1", CreatedAt: time.Now()}
	if err := s.CreateParticipant(ctx, p); err != nil {
		t.Fatalf("create participant: %v", err)
	}
	dup := domain.Participant{ID: "p2", UserID: "u1", RoomID: "r1", RoleID: "role2", CreatedAt: time.Now()}
	if err := s.CreateParticipant(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second (user, room) participant, got %v", err)
	}
	other := domain.Participant{ID: "p3", UserID: "u1", RoomID: "r2", RoleID: "role1", CreatedAt: time.Now()}
	if err := s.CreateParticipant(ctx, other); err != nil {
		t.Fatalf("same user in another room should be allowed: %v", err)
	}
}

func TestMemoryStoreOnePendingInvitePerSlot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	inv := domain.Invite{
		ID: "i1", RoomID: "r1", InviterID: "u1", InviteeID: "u2", RoleID: "role1",
		Token: "tok-1", Status: domain.InvitePending,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.CreateInvite(ctx, inv); err != nil {
		t.Fatalf("create invite: %v", err)
	}
	second := inv
	second.ID = "i2"
	second.Token = "tok-2"
	if err := s.CreateInvite(ctx, second); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second pending invite, got %v", err)
	}

	// once the first leaves PENDING the slot frees up
	if ok, err := s.TransitionInvite(ctx, "i1", domain.InvitePending, domain.InviteDeclined); err != nil || !ok {
		t.Fatalf("transition: ok=%v err=%v", ok, err)
	}
	if err := s.CreateInvite(ctx, second); err != nil {
		t.Fatalf("create after slot freed: %v", err)
	}
}

func TestMemoryStoreTransitionInviteCAS(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	inv := domain.Invite{
		ID: "i1", RoomID: "r1", InviterID: "u1", InviteeID: "u2", RoleID: "role1",
		Token: "tok-1", Status: domain.InvitePending,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.CreateInvite(ctx, inv); err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if ok, _ := s.TransitionInvite(ctx, "i1", domain.InvitePending, domain.InviteAccepted); !ok {
		t.Fatalf("first transition should apply")
	}
	if ok, _ := s.TransitionInvite(ctx, "i1", domain.InvitePending, domain.InviteDeclined); ok {
		t.Fatalf("transition from non-source state should not apply")
	}
	got, _, _ := s.GetInvite(ctx, "i1")
	if got.Status != domain.InviteAccepted {
		t.Fatalf("status = %s, want ACCEPTED", got.Status)
	}
}

func TestMemoryStoreExpirePendingInvites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	stale := domain.Invite{
		ID: "i1", RoomID: "r1", InviterID: "u1", InviteeID: "u2", RoleID: "role1",
		Token: "tok-1", Status: domain.InvitePending,
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	fresh := domain.Invite{
		ID: "i2", RoomID: "r1", InviterID: "u1", InviteeID: "u3", RoleID: "role1",
		Token: "tok-2", Status: domain.InvitePending,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.CreateInvite(ctx, stale); err != nil {
		t.Fatalf("create stale: %v", err)
	}
	if err := s.CreateInvite(ctx, fresh); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	count, err := s.ExpirePendingInvites(ctx, now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 1 {
		t.Fatalf("expired %d invites, want 1", count)
	}
	// idempotent
	count, err = s.ExpirePendingInvites(ctx, now)
	if err != nil || count != 0 {
		t.Fatalf("second sweep: count=%d err=%v, want 0 nil", count, err)
	}
	got, _, _ := s.GetInvite(ctx, "i2")
	if got.Status != domain.InvitePending {
		t.Fatalf("fresh invite expired unexpectedly: %s", got.Status)
	}
}

func TestMemoryStoreWithTxRollback(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateRole(ctx, domain.Role{ID: "role1", RoomID: "r1", Name: "Mod", Priority: 50}); err != nil {
			return err
		}
		if err := tx.CreateParticipant(ctx, domain.Participant{ID: "p1", UserID: "u1", RoomID: "r1", RoleID: "role1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx should propagate the error, got %v", err)
	}
	if _, ok, _ := s.GetRole(ctx, "role1"); ok {
		t.Fatalf("role should have rolled back")
	}
	if _, ok, _ := s.GetParticipant(ctx, "p1"); ok {
		t.Fatalf("participant should have rolled back")
	}
}

func TestMemoryStoreWithTxCommit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Store) error {
		return tx.CreateRole(ctx, domain.Role{ID: "role1", RoomID: "r1", Name: "Mod", Priority: 50})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if _, ok, _ := s.GetRole(ctx, "role1"); !ok {
		t.Fatalf("role should have committed")
	}
}

func TestMemoryStoreSeedPermissionsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := EnsurePermissions(ctx, s); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := EnsurePermissions(ctx, s); err != nil {
		t.Fatalf("re-seed: %v", err)
	}
	perms, err := s.ListPermissions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(perms) != len(domain.AllPermissionCodes()) {
		t.Fatalf("got %d permissions, want %d", len(perms), len(domain.AllPermissionCodes()))
	}
}

func TestMemoryStoreRoomDeleteCascades(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if err := s.CreateRoom(ctx, domain.Room{ID: "r1", HostID: "u1", Name: "General", Slug: "general", Visibility: domain.VisibilityPublic, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	_ = s.CreateRole(ctx, domain.Role{ID: "role1", RoomID: "r1", Name: "Owner", Priority: 100})
	_ = s.CreateParticipant(ctx, domain.Participant{ID: "p1", UserID: "u1", RoomID: "r1", RoleID: "role1"})
	_ = s.CreateMessage(ctx, domain.Message{ID: "m1", RoomID: "r1", AuthorID: "u1", Body: "hi", CreatedAt: now, UpdatedAt: now})
	_ = s.CreateInvite(ctx, domain.Invite{ID: "i1", RoomID: "r1", InviterID: "u1", InviteeID: "u2", RoleID: "role1", Token: "tok", Status: domain.InvitePending, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})

	if err := s.DeleteRoom(ctx, "r1"); err != nil {
		t.Fatalf("delete room: %v", err)
	}
	if _, ok, _ := s.GetRole(ctx, "role1"); ok {
		t.Fatalf("role survived cascade")
	}
	if _, ok, _ := s.GetParticipant(ctx, "p1"); ok {
		t.Fatalf("participant survived cascade")
	}
	if _, ok, _ := s.GetMessage(ctx, "m1"); ok {
		t.Fatalf("message survived cascade")
	}
	if _, ok, _ := s.GetInvite(ctx, "i1"); ok {
		t.Fatalf("invite survived cascade")
	}
}
