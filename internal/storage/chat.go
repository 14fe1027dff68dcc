package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// ErrChatClosed is returned when a message is posted to a closed session
var ErrChatClosed = errors.New("chat session is closed")

const chatSessionSelect = `SELECT ` + chatSessionColumns + ` FROM chat_sessions c LEFT JOIN users u ON u.id = c.assigned_to`

// CreateChatSession stores a new waiting session owned by the visitor token
func (s *Store) CreateChatSession(ctx context.Context, c *domain.ChatSession, visitorToken string) error {
	now := time.Now().UTC()
	c.Status = domain.ChatWaiting
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, visitor_name, visitor_email, subject, visitor_token, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.VisitorName, nullString(c.VisitorEmail), nullString(c.Subject), visitorToken,
		c.Status, formatTimestamp(now), formatTimestamp(now))
	return err
}

// GetChatSession returns a session by ID
func (s *Store) GetChatSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	c, err := scanChatSession(s.db.QueryRowContext(ctx, chatSessionSelect+` WHERE c.id = ?`, id))
	return c, notFound(err)
}

// CheckChatToken reports whether token belongs to the session's visitor
func (s *Store) CheckChatToken(ctx context.Context, sessionID, token string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_sessions WHERE id = ? AND visitor_token = ?
	`, sessionID, token).Scan(&n)
	return n > 0, err
}

// ListChatSessions returns sessions in a status (or all when empty), newest first
func (s *Store) ListChatSessions(ctx context.Context, status domain.ChatStatus, limit int) ([]domain.ChatSession, error) {
	limit = clampLimit(limit, 50, 200)
	query := chatSessionSelect
	var args []any
	if status != "" {
		query += ` WHERE c.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY c.created_at DESC LIMIT ?`
	args = append(args, limit)
	return s.queryChatSessions(ctx, query, args...)
}

func (s *Store) queryChatSessions(ctx context.Context, query string, args ...any) ([]domain.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.ChatSession{}
	for rows.Next() {
		c, err := scanChatSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *c)
	}
	return sessions, rows.Err()
}

// AddChatMessage appends a message. The first staff reply on a waiting
// session activates it and assigns it to that staff member.
func (s *Store) AddChatMessage(ctx context.Context, m *domain.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var status domain.ChatStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM chat_sessions WHERE id = ?`, m.SessionID).Scan(&status); err != nil {
		return notFound(err)
	}
	if status == domain.ChatClosed {
		return ErrChatClosed
	}

	m.CreatedAt = time.Now().UTC()
	now := formatTimestamp(m.CreatedAt)
	result, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, sender_type, sender_name, user_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.SessionID, m.SenderType, m.SenderName, m.UserID, m.Body, now)
	if err != nil {
		return err
	}
	m.ID, _ = result.LastInsertId()

	if m.SenderType == domain.SenderStaff && status == domain.ChatWaiting {
		_, err = tx.ExecContext(ctx, `
			UPDATE chat_sessions SET status = ?, assigned_to = ?, updated_at = ? WHERE id = ?
		`, domain.ChatActive, m.UserID, now, m.SessionID)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, now, m.SessionID)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListChatMessages returns a session's messages after the given message ID
func (s *Store) ListChatMessages(ctx context.Context, sessionID string, afterID int64) ([]domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender_type, sender_name, user_id, body, created_at
		FROM chat_messages WHERE session_id = ? AND id > ?
		ORDER BY id
	`, sessionID, afterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		var m domain.ChatMessage
		var userID sql.NullInt64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderType, &m.SenderName, &userID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.UserID = scanNullInt64Ptr(userID)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CloseChatSession ends a conversation
func (s *Store) CloseChatSession(ctx context.Context, id string) error {
	now := formatTimestamp(time.Now())
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET status = ?, closed_at = ?, updated_at = ? WHERE id = ? AND status != ?
	`, domain.ChatClosed, now, now, id, domain.ChatClosed)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// FindUnansweredSessions returns waiting sessions created before the cutoff
// that have no staff reply and no missed-chat record yet
func (s *Store) FindUnansweredSessions(ctx context.Context, before time.Time) ([]domain.ChatSession, error) {
	return s.queryChatSessions(ctx, chatSessionSelect+`
		WHERE c.status = ?
		  AND c.created_at < ?
		  AND NOT EXISTS (SELECT 1 FROM chat_messages m WHERE m.session_id = c.id AND m.sender_type = ?)
		  AND NOT EXISTS (SELECT 1 FROM missed_chats mc WHERE mc.session_id = c.id)
		ORDER BY c.created_at
	`, domain.ChatWaiting, formatTimestamp(before), domain.SenderStaff)
}

// RecordMissedChat inserts a missed-chat record unless one already exists.
// It reports whether a row was inserted.
func (s *Store) RecordMissedChat(ctx context.Context, sessionID string, detectedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO missed_chats (session_id, detected_at) VALUES (?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`, sessionID, formatTimestamp(detectedAt))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

// MarkMissedChatNotified records how many staff members were emailed
func (s *Store) MarkMissedChatNotified(ctx context.Context, sessionID string, notified int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE missed_chats SET notified = ? WHERE session_id = ?`, notified, sessionID)
	return err
}

// ListMissedChats returns missed chats detected since the given time, newest first
func (s *Store) ListMissedChats(ctx context.Context, since time.Time, limit int) ([]domain.MissedChat, error) {
	limit = clampLimit(limit, 50, 500)
	rows, err := s.db.QueryContext(ctx, `
		SELECT mc.id, mc.session_id, c.visitor_name, c.visitor_email, c.subject, c.created_at, mc.detected_at, mc.notified
		FROM missed_chats mc
		JOIN chat_sessions c ON c.id = mc.session_id
		WHERE mc.detected_at >= ?
		ORDER BY mc.detected_at DESC
		LIMIT ?
	`, formatTimestamp(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	missed := []domain.MissedChat{}
	for rows.Next() {
		var m domain.MissedChat
		var email, subject sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.VisitorName, &email, &subject, &m.WaitingSince, &m.DetectedAt, &m.Notified); err != nil {
			return nil, err
		}
		m.VisitorEmail = scanNullStringValue(email)
		m.Subject = scanNullStringValue(subject)
		missed = append(missed, m)
	}
	return missed, rows.Err()
}

// CountOpenChats returns how many sessions are waiting or active
func (s *Store) CountOpenChats(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_sessions WHERE status IN (?, ?)
	`, domain.ChatWaiting, domain.ChatActive).Scan(&n)
	return n, err
}

// CountMissedChatsSince returns how many chats were missed since the given time
func (s *Store) CountMissedChatsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM missed_chats WHERE detected_at >= ?
	`, formatTimestamp(since)).Scan(&n)
	return n, err
}
