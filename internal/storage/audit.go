package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// --- Audit log methods ---

// InsertAuditLog appends an entry to the security log
func (s *Store) InsertAuditLog(ctx context.Context, l *domain.AuditLog) error {
	if l.Severity == "" {
		l.Severity = domain.SeverityInfo
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	var details sql.NullString
	if len(l.Details) > 0 {
		b, err := json.Marshal(l.Details)
		if err != nil {
			return err
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (actor_id, actor_name, action, target_type, target_id, details, ip_address, severity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ActorID, nullString(l.ActorName), l.Action, nullString(l.TargetType), nullString(l.TargetID),
		details, nullString(l.IPAddress), l.Severity, formatTimestamp(l.CreatedAt))
	if err != nil {
		return err
	}
	l.ID, _ = result.LastInsertId()
	return nil
}

// AuditFilter defines filters for querying the audit log
type AuditFilter struct {
	Action   string
	Severity string
	ActorID  *int64
	Since    *time.Time
	BeforeID *int64
	Limit    int
}

// ListAuditLogs returns entries newest first
func (s *Store) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]domain.AuditLog, error) {
	filter.Limit = clampLimit(filter.Limit, 100, 500)

	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE 1=1`
	var args []any
	if filter.Action != "" {
		query += ` AND action = ?`
		args = append(args, filter.Action)
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, filter.Severity)
	}
	if filter.ActorID != nil {
		query += ` AND actor_id = ?`
		args = append(args, *filter.ActorID)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, formatTimestamp(*filter.Since))
	}
	if filter.BeforeID != nil {
		query += ` AND id < ?`
		args = append(args, *filter.BeforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []domain.AuditLog{}
	for rows.Next() {
		l, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

// --- Kill switch methods ---

// GetKillSwitch returns the current kill switch state
func (s *Store) GetKillSwitch(ctx context.Context) (*domain.KillSwitch, error) {
	var ks domain.KillSwitch
	var reason, updatedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT active, reason, updated_by, updated_at FROM kill_switch WHERE id = 1
	`).Scan(&ks.Active, &reason, &updatedBy, &ks.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	ks.Reason = scanNullStringValue(reason)
	ks.UpdatedBy = scanNullStringValue(updatedBy)
	return &ks, nil
}

// SetKillSwitch turns the kill switch on or off
func (s *Store) SetKillSwitch(ctx context.Context, active bool, reason, updatedBy string) (*domain.KillSwitch, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kill_switch (id, active, reason, updated_by, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			active = excluded.active,
			reason = excluded.reason,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`, active, nullString(reason), nullString(updatedBy), formatTimestamp(now))
	if err != nil {
		return nil, err
	}
	return &domain.KillSwitch{Active: active, Reason: reason, UpdatedBy: updatedBy, UpdatedAt: now.Truncate(time.Second)}, nil
}
