package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// --- User methods ---

// User represents a staff account
type User struct {
	ID                     int64
	Username               string
	Email                  string
	PasswordHash           string
	IsAdmin                bool
	StaffRoleID            *int64
	StaffRoleName          string
	DiscordID              string
	NotifyChat             bool
	PasswordChangeRequired bool
	CreatedAt              time.Time
	LastLogin              *time.Time
}

// NewUser holds the fields needed to create an account
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	IsAdmin      bool
	StaffRoleID  *int64
	DiscordID    string
}

// UserUpdate holds the editable profile fields of an account
type UserUpdate struct {
	Email       string
	StaffRoleID *int64
	DiscordID   string
	NotifyChat  bool
	IsAdmin     bool
}

const userSelect = `SELECT ` + userColumns + ` FROM users u LEFT JOIN staff_roles r ON r.id = u.staff_role_id`

// CreateUser creates a new user account that must change its password on first login
func (s *Store) CreateUser(ctx context.Context, u NewUser) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, is_admin, staff_role_id, discord_id, password_change_required)
		VALUES (?, ?, ?, ?, ?, ?, TRUE)
	`, u.Username, nullString(u.Email), u.PasswordHash, u.IsAdmin, u.StaffRoleID, nullString(u.DiscordID))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("user %s: %w", u.Username, ErrConflict)
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE u.username = ?`, username))
	return user, notFound(err)
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE u.id = ?`, id))
	return user, notFound(err)
}

// DeleteUser removes a user by ID
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteUserByUsername removes a user by username
func (s *Store) DeleteUserByUsername(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return err
	}
	if err := requireAffected(result); err != nil {
		return fmt.Errorf("user %s: %w", username, err)
	}
	return nil
}

// ListUsers returns all users with details
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	return s.queryUsers(ctx, userSelect+` ORDER BY u.username`)
}

// ListChatNotificationRecipients returns users who want missed-chat emails
func (s *Store) ListChatNotificationRecipients(ctx context.Context) ([]User, error) {
	return s.queryUsers(ctx, userSelect+` WHERE u.notify_chat = TRUE AND u.email IS NOT NULL AND u.email != '' ORDER BY u.id`)
}

// ListUsersWithDiscord returns users linked to a Discord account
func (s *Store) ListUsersWithDiscord(ctx context.Context) ([]User, error) {
	return s.queryUsers(ctx, userSelect+` WHERE u.discord_id IS NOT NULL AND u.discord_id != '' ORDER BY u.id`)
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// UpdateUser replaces the editable profile fields of a user
func (s *Store) UpdateUser(ctx context.Context, id int64, u UserUpdate) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = ?, staff_role_id = ?, discord_id = ?, notify_chat = ?, is_admin = ?
		WHERE id = ?
	`, nullString(u.Email), u.StaffRoleID, nullString(u.DiscordID), u.NotifyChat, u.IsAdmin, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// UpdateUserLastLogin updates the last login timestamp
func (s *Store) UpdateUserLastLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login = ? WHERE id = ?
	`, formatTimestamp(time.Now()), userID)
	return err
}

// UpdateUserPassword updates a user's password and clears the password_change_required flag
func (s *Store) UpdateUserPassword(ctx context.Context, userID int64, newPasswordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, password_change_required = FALSE WHERE id = ?
	`, newPasswordHash, userID)
	return err
}

// ResetUserPassword sets a new temporary password (admin action)
func (s *Store) ResetUserPassword(ctx context.Context, userID int64, newPasswordHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, password_change_required = TRUE WHERE id = ?
	`, newPasswordHash, userID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// UpdateUserAdmin updates the admin status of a user
func (s *Store) UpdateUserAdmin(ctx context.Context, userID int64, isAdmin bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_admin = ? WHERE id = ?
	`, isAdmin, userID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// --- Session methods ---

// Session is a login session; the JWT id points at it
type Session struct {
	ID        string
	UserID    int64
	IPAddress string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// CreateSession stores a new login session
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, ip_address, user_agent, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, nullString(sess.IPAddress), nullString(sess.UserAgent),
		formatTimestamp(sess.CreatedAt), formatTimestamp(sess.ExpiresAt))
	return err
}

// GetActiveSession returns a session that is neither revoked nor expired
func (s *Store) GetActiveSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var ip, ua sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, ip_address, user_agent, created_at, expires_at
		FROM sessions
		WHERE id = ? AND revoked_at IS NULL AND expires_at > ?
	`, id, formatTimestamp(time.Now())).Scan(&sess.ID, &sess.UserID, &ip, &ua, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	sess.IPAddress = scanNullStringValue(ip)
	sess.UserAgent = scanNullStringValue(ua)
	return &sess, nil
}

// RevokeSession marks a session as logged out
func (s *Store) RevokeSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
	`, formatTimestamp(time.Now()), id)
	return err
}

// RevokeUserSessions logs a user out everywhere, optionally keeping one session
func (s *Store) RevokeUserSessions(ctx context.Context, userID int64, keepID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND id != ? AND revoked_at IS NULL
	`, formatTimestamp(time.Now()), userID, keepID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CleanupExpiredSessions removes sessions that expired or were revoked before the cutoff
func (s *Store) CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)
	`, formatTimestamp(now), formatTimestamp(now.Add(-24*time.Hour)))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
