// Package permission holds the static role → permission tables and the actor/target override table.
// It performs no I/O; every lookup is a pure function of its arguments.
package permission

import (
	"sort"
	"strings"

	"org-access-core/internal/membership/domain"
)

// Version identifies the revision of the tables below. Recorded on audit entries so a decision can be
// re-evaluated against the table that produced it.
const Version = "2026-01"

// Permission is a dot-scoped resource.action string. A trailing ".*" grants every action under the prefix.
type Permission string

const (
	OrganizationRead     Permission = "organization.read"
	OrganizationUpdate   Permission = "organization.update"
	OrganizationTransfer Permission = "organization.transfer"
	OrganizationDelete   Permission = "organization.delete"

	MembersRead       Permission = "members.read"
	MembersInvite     Permission = "members.invite"
	MembersUpdateRole Permission = "members.update_role"
	MembersRemove     Permission = "members.remove"
	MembersAll        Permission = "members.*"

	ApplicationsRead   Permission = "applications.read"
	ApplicationsCreate Permission = "applications.create"
	ApplicationsAll    Permission = "applications.*"

	AuditRead Permission = "audit.read"

	BillingRead   Permission = "billing.read"
	BillingManage Permission = "billing.manage"
	BillingAll    Permission = "billing.*"
)

// Role sets are enumerated explicitly. Administrator does not inherit from Owner.
var rolePermissions = map[domain.Role][]Permission{
	domain.RoleOwner: {
		OrganizationRead, OrganizationUpdate, OrganizationTransfer, OrganizationDelete,
		MembersAll, ApplicationsAll, AuditRead, BillingAll,
	},
	domain.RoleAdministrator: {
		OrganizationRead, OrganizationUpdate,
		MembersAll, ApplicationsAll, AuditRead, BillingRead,
	},
	domain.RoleViewer: {
		OrganizationRead, MembersRead, ApplicationsRead,
	},
}

// Set is a role's permission set.
type Set map[Permission]struct{}

// For returns the permission set of role. Unknown roles get an empty set.
// The returned set is a fresh copy; callers may modify it.
func For(role domain.Role) Set {
	perms := rolePermissions[role]
	out := make(Set, len(perms))
	for _, p := range perms {
		out[p] = struct{}{}
	}
	return out
}

// Has reports whether s grants p, either exactly or via a wildcard entry whose prefix ends at a dot boundary.
func (s Set) Has(p Permission) bool {
	if _, ok := s[p]; ok {
		return true
	}
	for granted := range s {
		if matches(granted, p) {
			return true
		}
	}
	return false
}

// Sorted returns the set's members in lexical order.
func (s Set) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Allows reports whether role's generic permission set grants p.
func Allows(role domain.Role, p Permission) bool {
	for _, granted := range rolePermissions[role] {
		if granted == p || matches(granted, p) {
			return true
		}
	}
	return false
}

// matches implements wildcard grants: "members.*" matches "members.remove" and "members.keys.rotate",
// never "members" and never "membersx.remove".
func matches(granted, p Permission) bool {
	g := string(granted)
	if !strings.HasSuffix(g, ".*") {
		return false
	}
	prefix := strings.TrimSuffix(g, "*")
	s := string(p)
	return len(s) > len(prefix) && strings.HasPrefix(s, prefix) && !strings.HasSuffix(s, ".*")
}

// Valid reports whether p is syntactically a resource.action permission.
func Valid(p Permission) bool {
	s := string(p)
	i := strings.Index(s, ".")
	return i > 0 && i < len(s)-1 && !strings.Contains(s, "..")
}
