// Package access implements the authorization predicates every
// privileged operation combines: permission lookup, priority dominance
// and permission-subset checks. The predicates are pure functions over
// preloaded memberships so hot paths (per-frame checks in the chat
// broker) never touch the database.
package access

import "roomhub/pkg/domain"

// HasPermission reports whether the user holds the permission in the
// room. Superusers always pass; the anonymous principal never does.
// m is the user's membership in the room, nil when not a participant.
func HasPermission(u domain.User, m *domain.Membership, code string) bool {
	if !u.Authenticated() {
		return false
	}
	if u.IsSuperuser {
		return true
	}
	if m == nil {
		return false
	}
	return m.Role.HasPermission(code)
}

// CanAffectRole reports whether the actor's priority strictly dominates
// the target role. Equal priority cannot affect, which blocks peer-rank
// sabotage and self-role mutation. Superusers get no bypass here.
func CanAffectRole(actor domain.Membership, target domain.Role) bool {
	return actor.Role.Priority > target.Priority
}

// PermissionSubset reports whether every requested permission is
// already held by the actor's role. Granting beyond one's own set is
// privilege escalation.
func PermissionSubset(actor domain.Membership, requested []string) bool {
	return actor.Role.HasAllPermissions(requested)
}
