package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/compasshq/compass/internal/permission"
	"github.com/compasshq/compass/internal/shared"
)

const pgUniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for roles, groups,
// memberships, and overrides.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RoleForUser loads the grant map of the user's role. A user without a role
// is a data-integrity violation reported as shared.ErrMissingRole.
func (r *Repository) RoleForUser(ctx context.Context, userID int64) (RoleGrants, error) {
	var roleID *int64
	err := r.pool.QueryRow(ctx, `SELECT role_id FROM users WHERE id = $1`, userID).Scan(&roleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleGrants{}, shared.ErrNotFound
		}
		return RoleGrants{}, err
	}
	if roleID == nil {
		return RoleGrants{}, shared.ErrMissingRole
	}

	grants, err := r.capabilityRows(ctx, `SELECT capability, allowed FROM role_capabilities WHERE role_id = $1`, *roleID)
	if err != nil {
		return RoleGrants{}, err
	}
	return RoleGrants{RoleID: *roleID, Grants: grants}, nil
}

// GroupsForUser loads the grant maps of every group the user belongs to.
func (r *Repository) GroupsForUser(ctx context.Context, userID int64) ([]GroupGrants, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.name, gc.capability, gc.allowed
		FROM group_members gm
		JOIN user_groups g ON g.id = gm.group_id
		LEFT JOIN group_capabilities gc ON gc.group_id = g.id
		WHERE gm.user_id = $1
		ORDER BY g.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int64]*GroupGrants)
	var order []int64
	for rows.Next() {
		var (
			id         int64
			name       string
			capability *string
			allowed    *bool
		)
		if err := rows.Scan(&id, &name, &capability, &allowed); err != nil {
			return nil, err
		}
		grp, ok := byID[id]
		if !ok {
			grp = &GroupGrants{GroupID: id, Name: name, Grants: make(map[permission.Capability]bool)}
			byID[id] = grp
			order = append(order, id)
		}
		if capability != nil && allowed != nil {
			grp.Grants[permission.Capability(*capability)] = *allowed
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups := make([]GroupGrants, 0, len(order))
	for _, id := range order {
		groups = append(groups, *byID[id])
	}
	return groups, nil
}

// OverrideForUser loads the user's individual override, nil when absent.
func (r *Repository) OverrideForUser(ctx context.Context, userID int64) (*OverrideRecord, error) {
	record := OverrideRecord{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT version, updated_by, updated_at FROM user_overrides WHERE user_id = $1`, userID).
		Scan(&record.Version, &record.UpdatedBy, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	grants, err := r.capabilityRows(ctx, `SELECT capability, allowed FROM user_override_grants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	record.Grants = grants
	return &record, nil
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("access: role name required")
	}
	var role Role
	err := r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, description, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())
		 RETURNING id, name, description, created_at, updated_at`,
		name, strings.TrimSpace(description)).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, mapPgError(err)
	}
	return role, nil
}

// SetRoleGrants replaces the role's grant map atomically.
func (r *Repository) SetRoleGrants(ctx context.Context, roleID int64, grants map[permission.Capability]bool) error {
	return r.replaceGrants(ctx, "role_capabilities", "role_id", roleID, grants)
}

// AssignRole points the user at a role. The reference is single-valued by
// schema; assigning replaces any previous role.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1`, userID, roleID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListGroups returns all groups ordered by name.
func (r *Repository) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, created_at, updated_at FROM user_groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var group Group
		if err := rows.Scan(&group.ID, &group.Name, &group.Description, &group.CreatedAt, &group.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groups, nil
}

// CreateGroup inserts a new group.
func (r *Repository) CreateGroup(ctx context.Context, name, description string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, errors.New("access: group name required")
	}
	var group Group
	err := r.pool.QueryRow(ctx,
		`INSERT INTO user_groups (name, description, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())
		 RETURNING id, name, description, created_at, updated_at`,
		name, strings.TrimSpace(description)).
		Scan(&group.ID, &group.Name, &group.Description, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return Group{}, mapPgError(err)
	}
	return group, nil
}

// SetGroupGrants replaces the group's grant map atomically.
func (r *Repository) SetGroupGrants(ctx context.Context, groupID int64, grants map[permission.Capability]bool) error {
	return r.replaceGrants(ctx, "group_capabilities", "group_id", groupID, grants)
}

// AddGroupMember creates a (user, group) membership row.
func (r *Repository) AddGroupMember(ctx context.Context, groupID, userID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id, created_at) VALUES ($1, $2, NOW())`, groupID, userID)
	return mapPgError(err)
}

// RemoveGroupMember deletes a membership row.
func (r *Repository) RemoveGroupMember(ctx context.Context, groupID, userID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// PutOverride writes the user's override with a fresh version, replacing
// any previous grants. Creation is an explicit administrative action.
func (r *Repository) PutOverride(ctx context.Context, userID int64, grants map[permission.Capability]bool, updatedBy int64) (OverrideRecord, error) {
	version := uuid.NewString()
	now := time.Now().UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return OverrideRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO user_overrides (user_id, version, updated_by, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET version = $2, updated_by = $3, updated_at = $4`,
		userID, version, updatedBy, now)
	if err != nil {
		return OverrideRecord{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM user_override_grants WHERE user_id = $1`, userID); err != nil {
		return OverrideRecord{}, err
	}
	for capability, allowed := range grants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_override_grants (user_id, capability, allowed) VALUES ($1, $2, $3)`,
			userID, string(capability), allowed); err != nil {
			return OverrideRecord{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return OverrideRecord{}, err
	}
	return OverrideRecord{UserID: userID, Grants: grants, Version: version, UpdatedBy: updatedBy, UpdatedAt: now}, nil
}

// ClearOverride removes the user's override entirely.
func (r *Repository) ClearOverride(ctx context.Context, userID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM user_override_grants WHERE user_id = $1`, userID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM user_overrides WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return tx.Commit(ctx)
}

// CountOverrides returns the number of users with an active override.
func (r *Repository) CountOverrides(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_overrides`).Scan(&n)
	return n, err
}

func (r *Repository) capabilityRows(ctx context.Context, query string, id int64) (map[permission.Capability]bool, error) {
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := make(map[permission.Capability]bool)
	for rows.Next() {
		var (
			capability string
			allowed    bool
		)
		if err := rows.Scan(&capability, &allowed); err != nil {
			return nil, err
		}
		grants[permission.Capability(capability)] = allowed
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *Repository) replaceGrants(ctx context.Context, table, column string, id int64, grants map[permission.Capability]bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, column), id); err != nil {
		return err
	}
	for capability, allowed := range grants {
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (%s, capability, allowed) VALUES ($1, $2, $3)`, table, column),
			id, string(capability), allowed); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return shared.ErrDuplicate
	}
	return err
}
