package access

import (
	"testing"

	"roomhub/pkg/domain"
)

func membership(priority int, perms ...string) domain.Membership {
	return domain.Membership{
		Participant: domain.Participant{ID: "p1", UserID: "u1", RoomID: "r1", RoleID: "role1"},
		Role:        domain.Role{ID: "role1", RoomID: "r1", Priority: priority, Permissions: perms},
	}
}

func TestHasPermission(t *testing.T) {
	user := domain.User{ID: "u1", IsActive: true}
	m := membership(50, domain.PermRoomInvite)

	if !HasPermission(user, &m, domain.PermRoomInvite) {
		t.Fatal("granted permission should pass")
	}
	if HasPermission(user, &m, domain.PermRoomDelete) {
		t.Fatal("missing permission should fail")
	}
	if HasPermission(user, nil, domain.PermRoomInvite) {
		t.Fatal("non-participant should fail")
	}
}

func TestHasPermissionAnonymous(t *testing.T) {
	m := membership(50, domain.PermRoomInvite)
	if HasPermission(domain.User{}, &m, domain.PermRoomInvite) {
		t.Fatal("anonymous principal must always fail")
	}
}

func TestHasPermissionSuperuserBypass(t *testing.T) {
	super := domain.User{ID: "u9", IsSuperuser: true}
	if !HasPermission(super, nil, domain.PermRoomDelete) {
		t.Fatal("superuser bypasses permission checks")
	}
}

func TestCanAffectRole(t *testing.T) {
	actor := membership(50)
	cases := []struct {
		name     string
		priority int
		want     bool
	}{
		{"lower priority", 49, true},
		{"equal priority", 50, false},
		{"higher priority", 51, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := domain.Role{Priority: tc.priority}
			if got := CanAffectRole(actor, target); got != tc.want {
				t.Fatalf("CanAffectRole(priority=%d) = %v, want %v", tc.priority, got, tc.want)
			}
		})
	}
}

func TestPermissionSubset(t *testing.T) {
	actor := membership(50, domain.PermRoomInvite, domain.PermRoomKick)

	if !PermissionSubset(actor, []string{domain.PermRoomInvite}) {
		t.Fatal("subset should pass")
	}
	if !PermissionSubset(actor, nil) {
		t.Fatal("empty set is always a subset")
	}
	if PermissionSubset(actor, []string{domain.PermRoomInvite, domain.PermRoomRoleManage}) {
		t.Fatal("superset should fail")
	}
}
