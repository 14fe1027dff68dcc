package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// Null scanner helpers - reduce repetitive nil-checking code

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time.UTC()
		return &t
	}
	return nil
}

func scanNullInt64Ptr(ni sql.NullInt64) *int64 {
	if ni.Valid {
		return &ni.Int64
	}
	return nil
}

// nullString stores empty strings as NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTimestamp formats an optional time for storage
func nullTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTimestamp(*t)
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

const userColumns = `u.id, u.username, u.email, u.password_hash, u.is_admin, u.staff_role_id,
	r.name, u.discord_id, u.notify_chat, u.password_change_required, u.created_at, u.last_login`

// scanUser scans a user row from the database
func scanUser(s scanner) (*User, error) {
	var user User
	var email, roleName, discordID sql.NullString
	var lastLogin sql.NullTime
	var roleID sql.NullInt64
	err := s.Scan(&user.ID, &user.Username, &email, &user.PasswordHash, &user.IsAdmin,
		&roleID, &roleName, &discordID, &user.NotifyChat, &user.PasswordChangeRequired,
		&user.CreatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	user.Email = scanNullStringValue(email)
	user.StaffRoleID = scanNullInt64Ptr(roleID)
	user.StaffRoleName = scanNullStringValue(roleName)
	user.DiscordID = scanNullStringValue(discordID)
	user.LastLogin = scanNullTime(lastLogin)
	return &user, nil
}

const applicationColumns = `a.id, a.type_id, t.name, a.applicant_name, a.applicant_email, a.discord_id,
	a.discord_tag, a.answers, a.status, a.review_notes, a.reviewed_by, a.reviewed_at, a.created_at, a.updated_at`

// scanApplication scans an application joined with its type name
func scanApplication(s scanner) (*domain.Application, error) {
	var a domain.Application
	var email, discordID, discordTag, notes sql.NullString
	var answers string
	var reviewedBy sql.NullInt64
	var reviewedAt sql.NullTime
	err := s.Scan(&a.ID, &a.TypeID, &a.TypeName, &a.ApplicantName, &email, &discordID,
		&discordTag, &answers, &a.Status, &notes, &reviewedBy, &reviewedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ApplicantEmail = scanNullStringValue(email)
	a.DiscordID = scanNullStringValue(discordID)
	a.DiscordTag = scanNullStringValue(discordTag)
	a.ReviewNotes = scanNullStringValue(notes)
	a.ReviewedBy = scanNullInt64Ptr(reviewedBy)
	a.ReviewedAt = scanNullTime(reviewedAt)
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return nil, err
	}
	return &a, nil
}

const chatSessionColumns = `c.id, c.visitor_name, c.visitor_email, c.subject, c.status, c.assigned_to,
	u.username, c.created_at, c.updated_at, c.closed_at`

// scanChatSession scans a chat session joined with the assigned staff username
func scanChatSession(s scanner) (*domain.ChatSession, error) {
	var c domain.ChatSession
	var email, subject, assignedName sql.NullString
	var assignedTo sql.NullInt64
	var closedAt sql.NullTime
	err := s.Scan(&c.ID, &c.VisitorName, &email, &subject, &c.Status, &assignedTo,
		&assignedName, &c.CreatedAt, &c.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	c.VisitorEmail = scanNullStringValue(email)
	c.Subject = scanNullStringValue(subject)
	c.AssignedTo = scanNullInt64Ptr(assignedTo)
	c.AssignedName = scanNullStringValue(assignedName)
	c.ClosedAt = scanNullTime(closedAt)
	return &c, nil
}

const auditColumns = `id, actor_id, actor_name, action, target_type, target_id, details, ip_address, severity, created_at`

// scanAuditLog scans an audit row, decoding the JSON details column
func scanAuditLog(s scanner) (*domain.AuditLog, error) {
	var l domain.AuditLog
	var actorID sql.NullInt64
	var actorName, targetType, targetID, details, ip sql.NullString
	err := s.Scan(&l.ID, &actorID, &actorName, &l.Action, &targetType, &targetID, &details, &ip, &l.Severity, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.ActorID = scanNullInt64Ptr(actorID)
	l.ActorName = scanNullStringValue(actorName)
	l.TargetType = scanNullStringValue(targetType)
	l.TargetID = scanNullStringValue(targetID)
	l.IPAddress = scanNullStringValue(ip)
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &l.Details); err != nil {
			return nil, err
		}
	}
	return &l, nil
}
