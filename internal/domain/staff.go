package domain

import "time"

// Permission names a capability a staff role can hold
type Permission string

const (
	PermApplicationsView   Permission = "applications.view"
	PermApplicationsReview Permission = "applications.review"
	PermApplicationsManage Permission = "applications.manage"
	PermRulesManage        Permission = "rules.manage"
	PermTeamManage         Permission = "team.manage"
	PermPartnersManage     Permission = "partners.manage"
	PermStaffManage        Permission = "staff.manage"
	PermChatRespond        Permission = "chat.respond"
	PermAnalyticsView      Permission = "analytics.view"
	PermPaymentsManage     Permission = "payments.manage"
	PermSecurityManage     Permission = "security.manage"
	PermDiscordManage      Permission = "discord.manage"
	PermEmailManage        Permission = "email.manage"
	PermServersRcon        Permission = "servers.rcon"
)

// AllPermissions lists every permission in display order
var AllPermissions = []Permission{
	PermApplicationsView, PermApplicationsReview, PermApplicationsManage,
	PermRulesManage, PermTeamManage, PermPartnersManage, PermStaffManage,
	PermChatRespond, PermAnalyticsView, PermPaymentsManage,
	PermSecurityManage, PermDiscordManage, PermEmailManage, PermServersRcon,
}

// ValidPermission checks if a permission string is known
func ValidPermission(p Permission) bool {
	for _, known := range AllPermissions {
		if known == p {
			return true
		}
	}
	return false
}

// StaffRole is a staff rank; DiscordRoleID is the guild role members of this rank get
type StaffRole struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	DisplayName    string       `json:"display_name"`
	Color          string       `json:"color,omitempty"`
	HierarchyLevel int          `json:"hierarchy_level"`
	DiscordRoleID  string       `json:"discord_role_id,omitempty"`
	Permissions    []Permission `json:"permissions"`
	CreatedAt      time.Time    `json:"created_at"`
}
