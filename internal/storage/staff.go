package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// --- Staff role methods ---

// ListStaffRoles returns all roles with their permissions, highest rank first
func (s *Store) ListStaffRoles(ctx context.Context) ([]domain.StaffRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_name, color, hierarchy_level, discord_role_id, created_at
		FROM staff_roles ORDER BY hierarchy_level DESC, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []domain.StaffRole
	byID := make(map[int64]int)
	for rows.Next() {
		role, err := scanStaffRole(rows)
		if err != nil {
			return nil, err
		}
		byID[role.ID] = len(roles)
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	permRows, err := s.db.QueryContext(ctx, `SELECT role_id, permission FROM role_permissions ORDER BY permission`)
	if err != nil {
		return nil, err
	}
	defer permRows.Close()
	for permRows.Next() {
		var roleID int64
		var perm domain.Permission
		if err := permRows.Scan(&roleID, &perm); err != nil {
			return nil, err
		}
		if i, ok := byID[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, perm)
		}
	}
	return roles, permRows.Err()
}

// GetStaffRole returns one role with its permissions
func (s *Store) GetStaffRole(ctx context.Context, id int64) (*domain.StaffRole, error) {
	role, err := scanStaffRole(s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, color, hierarchy_level, discord_role_id, created_at
		FROM staff_roles WHERE id = ?
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	role.Permissions, err = s.GetRolePermissions(ctx, id)
	if err != nil {
		return nil, err
	}
	return role, nil
}

func scanStaffRole(sc scanner) (*domain.StaffRole, error) {
	var r domain.StaffRole
	var color, discordRole sql.NullString
	if err := sc.Scan(&r.ID, &r.Name, &r.DisplayName, &color, &r.HierarchyLevel, &discordRole, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Color = scanNullStringValue(color)
	r.DiscordRoleID = scanNullStringValue(discordRole)
	r.Permissions = []domain.Permission{}
	return &r, nil
}

// CreateStaffRole inserts a role and its permissions
func (s *Store) CreateStaffRole(ctx context.Context, role *domain.StaffRole) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO staff_roles (name, display_name, color, hierarchy_level, discord_role_id)
		VALUES (?, ?, ?, ?, ?)
	`, role.Name, role.DisplayName, nullString(role.Color), role.HierarchyLevel, nullString(role.DiscordRoleID))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("staff role %s: %w", role.Name, ErrConflict)
		}
		return err
	}
	role.ID, _ = result.LastInsertId()

	if err := replacePermissions(ctx, tx, role.ID, role.Permissions); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateStaffRole updates a role's fields (not its permissions)
func (s *Store) UpdateStaffRole(ctx context.Context, role *domain.StaffRole) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE staff_roles SET name = ?, display_name = ?, color = ?, hierarchy_level = ?, discord_role_id = ?
		WHERE id = ?
	`, role.Name, role.DisplayName, nullString(role.Color), role.HierarchyLevel, nullString(role.DiscordRoleID), role.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("staff role %s: %w", role.Name, ErrConflict)
		}
		return err
	}
	return requireAffected(result)
}

// DeleteStaffRole removes a role; members keep their account without a role
func (s *Store) DeleteStaffRole(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM staff_roles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// SetRolePermissions replaces the permission set of a role
func (s *Store) SetRolePermissions(ctx context.Context, roleID int64, perms []domain.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM staff_roles WHERE id = ?`, roleID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	if err := replacePermissions(ctx, tx, roleID, perms); err != nil {
		return err
	}
	return tx.Commit()
}

func replacePermissions(ctx context.Context, tx *sql.Tx, roleID int64, perms []domain.Permission) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = ?`, roleID); err != nil {
		return err
	}
	for _, p := range perms {
		if !domain.ValidPermission(p) {
			return fmt.Errorf("%w: unknown permission %q", domain.ErrValidation, p)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO role_permissions (role_id, permission) VALUES (?, ?)
		`, roleID, string(p)); err != nil {
			return err
		}
	}
	return nil
}

// GetRolePermissions returns the permissions granted to a role
func (s *Store) GetRolePermissions(ctx context.Context, roleID int64) ([]domain.Permission, error) {
	return s.queryPermissions(ctx, `
		SELECT permission FROM role_permissions WHERE role_id = ? ORDER BY permission
	`, roleID)
}

// GetUserPermissions returns the permissions a user holds through their staff role
func (s *Store) GetUserPermissions(ctx context.Context, userID int64) ([]domain.Permission, error) {
	return s.queryPermissions(ctx, `
		SELECT rp.permission
		FROM users u
		JOIN role_permissions rp ON rp.role_id = u.staff_role_id
		WHERE u.id = ?
		ORDER BY rp.permission
	`, userID)
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...any) ([]domain.Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []domain.Permission{}
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ManagedDiscordRoles returns every Discord role id attached to a staff role
func (s *Store) ManagedDiscordRoles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT discord_role_id FROM staff_roles
		WHERE discord_role_id IS NOT NULL AND discord_role_id != ''
		ORDER BY discord_role_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
