// Package permission decides whether an actor may act on a table or row.
package permission

import (
	"fmt"

	"entityflow/internal/metadata"
)

const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Manager answers permission questions for one actor.
type Manager interface {
	CanCreate(actor *metadata.Actor, tbl *metadata.Table) bool
	CanRead(actor *metadata.Actor, tbl *metadata.Table, record metadata.Record) bool
	CanUpdate(actor *metadata.Actor, tbl *metadata.Table, record metadata.Record) bool
	CanDelete(actor *metadata.Actor, tbl *metadata.Table, record metadata.Record) bool
}

// Policy evaluates the permissions and row_level_security sections of the
// table metadata. Admins bypass every check. When an action has no roles
// configured the outcome depends on FailClosed.
type Policy struct {
	FailClosed bool
}

func (p Policy) CanCreate(actor *metadata.Actor, tbl *metadata.Table) bool {
	return p.allowed(actor, tbl, ActionCreate, nil)
}

func (p Policy) CanRead(actor *metadata.Actor, tbl *metadata.Table, record metadata.Record) bool {
	return p.allowed(actor, tbl, ActionRead, record)
}

func (p Policy) CanUpdate(actor *metadata.Actor, tbl *metadata.Table, record metadata.Record) bool {
	return p.allowed(actor, tbl, ActionUpdate, record)
}

func (p Policy) CanDelete(actor *metadata.Actor, tbl *metadata.Table, record metadata.Record) bool {
	return p.allowed(actor, tbl, ActionDelete, record)
}

func (p Policy) allowed(actor *metadata.Actor, tbl *metadata.Table, action string, record metadata.Record) bool {
	if actor.IsAdmin() {
		return true
	}

	roles, configured := tbl.Meta.Roles(action)
	if !configured {
		if p.FailClosed {
			return false
		}
	} else if !hasRoleIntersection(actor, roles) {
		return false
	}

	if record != nil && !ownsRow(actor, tbl.Meta, record) {
		return false
	}
	return true
}

// ownsRow applies row-level security to an existing row.
func ownsRow(actor *metadata.Actor, md *metadata.TableMetadata, record metadata.Record) bool {
	rls := md.RowLevelSecurity
	if !rls.Enabled {
		return true
	}
	for _, c := range rls.Capabilities {
		if actor.Can(c) {
			return true
		}
	}
	if actor.Anonymous() {
		return false
	}
	return fmt.Sprintf("%v", record[md.OwnerField()]) == actor.ID
}

// ReadFilter returns the owner column and value reads must be limited to,
// or ok=false when the actor may see every row.
func ReadFilter(actor *metadata.Actor, md *metadata.TableMetadata) (column, value string, ok bool) {
	rls := md.RowLevelSecurity
	if !rls.Enabled || actor.IsAdmin() {
		return "", "", false
	}
	for _, c := range rls.Capabilities {
		if actor.Can(c) {
			return "", "", false
		}
	}
	return md.OwnerField(), actor.Identifier(), true
}

func hasRoleIntersection(actor *metadata.Actor, policyRoles []string) bool {
	for _, pr := range policyRoles {
		if pr == "*" || actor.HasRole(pr) {
			return true
		}
	}
	return false
}
