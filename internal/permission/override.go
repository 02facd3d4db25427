package permission

import "org-access-core/internal/membership/domain"

// Override is one row of the actor-role vs target-role exception table.
// When a row matches an operation it is authoritative; the generic permission set is not consulted.
type Override struct {
	Actor   domain.Role
	Target  domain.Role
	Action  Permission
	Allowed bool
}

var overrides = []Override{
	{Actor: domain.RoleAdministrator, Target: domain.RoleAdministrator, Action: MembersRemove, Allowed: true},
	{Actor: domain.RoleAdministrator, Target: domain.RoleAdministrator, Action: MembersUpdateRole, Allowed: false},
	{Actor: domain.RoleAdministrator, Target: domain.RoleOwner, Action: MembersRemove, Allowed: false},
	{Actor: domain.RoleAdministrator, Target: domain.RoleOwner, Action: MembersUpdateRole, Allowed: false},
	// The owner leaves only through an ownership transfer.
	{Actor: domain.RoleOwner, Target: domain.RoleOwner, Action: MembersRemove, Allowed: false},
	{Actor: domain.RoleOwner, Target: domain.RoleOwner, Action: MembersUpdateRole, Allowed: false},
}

// LookupOverride returns the verdict of the override row for (actor, target, action) and whether one exists.
// Actions match exactly; wildcards do not apply to the override table.
func LookupOverride(actor, target domain.Role, action Permission) (allowed bool, found bool) {
	for _, o := range overrides {
		if o.Actor == actor && o.Target == target && o.Action == action {
			return o.Allowed, true
		}
	}
	return false, false
}

// Overrides returns a copy of the override table.
func Overrides() []Override {
	out := make([]Override, len(overrides))
	copy(out, overrides)
	return out
}
