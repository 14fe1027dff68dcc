package domain

import "time"

// Audit severities
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ValidSeverity checks if a severity string is valid
func ValidSeverity(s string) bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// Audit actions written by the portal itself
const (
	AuditLogin              = "auth.login"
	AuditLoginFailed        = "auth.login_failed"
	AuditLogout             = "auth.logout"
	AuditPasswordChanged    = "auth.password_changed"
	AuditApplicationReview  = "application.review"
	AuditKillSwitch         = "security.kill_switch"
	AuditUserCreated        = "user.created"
	AuditUserUpdated        = "user.updated"
	AuditUserDeleted        = "user.deleted"
	AuditRoleChanged        = "staff_role.changed"
	AuditDiscordSync        = "discord.role_sync"
	AuditDiscordGrant       = "discord.grant_role"
	AuditPartnerChanged     = "partner.changed"
	AuditRconCommand        = "server.rcon"
	AuditEmailSent          = "email.sent"
	AuditPaymentReceived    = "payment.received"
	AuditPermissionDenied   = "auth.permission_denied"
	AuditKillSwitchBlocked  = "security.kill_switch_blocked"
	AuditTemplateChanged    = "email.template_changed"
	AuditSubscriptionChange = "payment.subscription_changed"
)

// AuditLog is a security or staff-action log entry
type AuditLog struct {
	ID         int64          `json:"id"`
	ActorID    *int64         `json:"actor_id,omitempty"`
	ActorName  string         `json:"actor_name,omitempty"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	Severity   string         `json:"severity"`
	CreatedAt  time.Time      `json:"created_at"`
}

// KillSwitch blocks write traffic across the portal while active
type KillSwitch struct {
	Active    bool      `json:"active"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
