// Package access wires the permission resolution engine to its
// collaborator stores: the role store, the group store, and the individual
// override store. It owns the resolved-permission cache, the authorization
// middleware, and the administrative HTTP surface for roles, groups,
// memberships, and overrides.
package access

import (
	"sort"
	"time"

	"github.com/compasshq/compass/internal/permission"
)

// Role is a named role owning one total permission set. A user references
// exactly one role at any time.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Group owns one total permission set; membership is many-to-many.
type Group struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleGrants carries a role's grant map out of the role store.
type RoleGrants struct {
	RoleID int64
	Grants map[permission.Capability]bool
}

// GroupGrants carries one group's grant map out of the group store.
type GroupGrants struct {
	GroupID int64
	Name    string
	Grants  map[permission.Capability]bool
}

// OverrideRecord is a user's individual override: a partial grant map that
// replaces computed values for every capability it defines. The version
// changes on every write and keys the resolved-permission cache.
type OverrideRecord struct {
	UserID    int64
	Grants    map[permission.Capability]bool
	Version   string
	UpdatedBy int64
	UpdatedAt time.Time
}

// Snapshot is one best-effort read of all three sources for a user. The
// stores are independently stale relative to one another; no cross-store
// transaction is attempted.
type Snapshot struct {
	UserID   int64
	Role     RoleGrants
	Groups   []GroupGrants
	Override *OverrideRecord
}

// GroupIDs returns the sorted group IDs of the snapshot.
func (s Snapshot) GroupIDs() []int64 {
	ids := make([]int64, 0, len(s.Groups))
	for _, g := range s.Groups {
		ids = append(ids, g.GroupID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OverrideVersion returns the override version or "" when absent.
func (s Snapshot) OverrideVersion() string {
	if s.Override == nil {
		return ""
	}
	return s.Override.Version
}

// SecuritySummary is the auditable view of one user's effective access:
// the resolved capability map, where each value came from, and which
// sources were degraded fail-closed.
type SecuritySummary struct {
	UserID          int64                            `json:"userId"`
	RoleID          int64                            `json:"roleId"`
	GroupIDs        []int64                          `json:"groupIds"`
	OverrideVersion string                           `json:"overrideVersion,omitempty"`
	Resolved        map[permission.Capability]bool   `json:"resolved"`
	Provenance      map[permission.Capability]string `json:"provenance"`
	Degraded        []string                         `json:"degraded,omitempty"`
}
