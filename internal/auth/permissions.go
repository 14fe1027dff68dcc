package auth

import "github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"

// Permissions is the set of capabilities a request's user holds
type Permissions struct {
	admin bool
	set   map[domain.Permission]struct{}
}

// NewPermissions builds a permission set; admins hold every permission
func NewPermissions(isAdmin bool, perms []domain.Permission) Permissions {
	set := make(map[domain.Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return Permissions{admin: isAdmin, set: set}
}

// Has reports whether the permission is held
func (p Permissions) Has(perm domain.Permission) bool {
	if p.admin {
		return true
	}
	_, ok := p.set[perm]
	return ok
}

// HasAny reports whether at least one of the permissions is held
func (p Permissions) HasAny(perms ...domain.Permission) bool {
	for _, perm := range perms {
		if p.Has(perm) {
			return true
		}
	}
	return false
}

// List returns the held permissions in display order
func (p Permissions) List() []domain.Permission {
	out := []domain.Permission{}
	for _, perm := range domain.AllPermissions {
		if p.Has(perm) {
			out = append(out, perm)
		}
	}
	return out
}
