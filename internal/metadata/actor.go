package metadata

import "strings"

// Actor is the caller an operation runs on behalf of.
type Actor struct {
	ID           string   `json:"id"`
	Roles        []string `json:"roles"`
	Capabilities []string `json:"capabilities,omitempty"`
	IP           string   `json:"ip,omitempty"`
	SessionID    string   `json:"-"`
}

// HasRole checks whether the actor has a specific role. Role names are
// compared case-insensitively.
func (a *Actor) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the actor has the admin role.
func (a *Actor) IsAdmin() bool {
	return a.HasRole("admin")
}

// Can reports whether the actor holds capability, either directly or as a role.
func (a *Actor) Can(capability string) bool {
	if a == nil {
		return false
	}
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return a.HasRole(capability)
}

// Anonymous reports whether no authenticated actor is present.
func (a *Actor) Anonymous() bool {
	return a == nil || a.ID == ""
}

// Identifier returns the actor id, or "" for anonymous callers.
func (a *Actor) Identifier() string {
	if a == nil {
		return ""
	}
	return a.ID
}
