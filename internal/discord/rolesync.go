package discord

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
)

// ErrMissingID is returned when a grant has no user or role id
var ErrMissingID = errors.New("discord user id and role id are required")

// RoleStore is what the syncer reads from and audits to
type RoleStore interface {
	ListUsersWithDiscord(ctx context.Context) ([]storage.User, error)
	ListStaffRoles(ctx context.Context) ([]domain.StaffRole, error)
	InsertAuditLog(ctx context.Context, l *domain.AuditLog) error
}

// SyncFailure describes one user whose roles could not be synced
type SyncFailure struct {
	Username  string `json:"username"`
	DiscordID string `json:"discord_id"`
	Error     string `json:"error"`
}

// SyncReport summarises one role sync run
type SyncReport struct {
	Checked  int           `json:"checked"`
	Updated  int           `json:"updated"`
	Added    int           `json:"roles_added"`
	Removed  int           `json:"roles_removed"`
	Failures []SyncFailure `json:"failures"`
	Duration time.Duration `json:"duration_ns"`
}

// DiffRoles returns the roles to add and remove so that current matches desired.
// Roles outside managed are never touched.
func DiffRoles(current, desired, managed []string) (add, remove []string) {
	managedSet := toSet(managed)
	currentSet := toSet(current)
	desiredSet := make(map[string]bool, len(desired))
	for _, r := range desired {
		if managedSet[r] {
			desiredSet[r] = true
		}
	}

	for r := range desiredSet {
		if !currentSet[r] {
			add = append(add, r)
		}
	}
	for r := range currentSet {
		if managedSet[r] && !desiredSet[r] {
			remove = append(remove, r)
		}
	}
	sort.Strings(add)
	sort.Strings(remove)
	return add, remove
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		if item != "" {
			set[item] = true
		}
	}
	return set
}

// RoleSyncer applies staff role assignments to guild members
type RoleSyncer struct {
	api     API
	store   RoleStore
	guildID string
}

// NewRoleSyncer creates a syncer for one guild
func NewRoleSyncer(api API, store RoleStore, guildID string) *RoleSyncer {
	return &RoleSyncer{api: api, store: store, guildID: guildID}
}

// Sync brings every linked staff member's managed roles in line with their staff role.
// A failure for one member is recorded in the report and the run continues.
func (s *RoleSyncer) Sync(ctx context.Context) (*SyncReport, error) {
	start := time.Now()

	roles, err := s.store.ListStaffRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading staff roles: %w", err)
	}
	users, err := s.store.ListUsersWithDiscord(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}

	roleByStaffRole := make(map[int64]string, len(roles))
	var managed []string
	for _, r := range roles {
		if r.DiscordRoleID != "" {
			roleByStaffRole[r.ID] = r.DiscordRoleID
			managed = append(managed, r.DiscordRoleID)
		}
	}

	report := &SyncReport{Failures: []SyncFailure{}}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Checked++

		var desired []string
		if u.StaffRoleID != nil {
			if roleID, ok := roleByStaffRole[*u.StaffRoleID]; ok {
				desired = append(desired, roleID)
			}
		}

		added, removed, err := s.syncMember(ctx, u.DiscordID, desired, managed)
		report.Added += added
		report.Removed += removed
		if added+removed > 0 {
			report.Updated++
		}
		if err != nil {
			zap.L().Warn("role sync failed for member",
				zap.String("username", u.Username), zap.String("discord_id", u.DiscordID), zap.Error(err))
			report.Failures = append(report.Failures, SyncFailure{
				Username:  u.Username,
				DiscordID: u.DiscordID,
				Error:     err.Error(),
			})
		}
	}
	report.Duration = time.Since(start)

	severity := domain.SeverityInfo
	if len(report.Failures) > 0 {
		severity = domain.SeverityWarning
	}
	if err := s.store.InsertAuditLog(ctx, &domain.AuditLog{
		ActorName: "role-sync",
		Action:    domain.AuditDiscordSync,
		Severity:  severity,
		Details: map[string]any{
			"checked":  report.Checked,
			"updated":  report.Updated,
			"added":    report.Added,
			"removed":  report.Removed,
			"failures": len(report.Failures),
		},
	}); err != nil {
		zap.L().Error("writing role sync audit entry", zap.Error(err))
	}

	zap.L().Info("discord role sync finished",
		zap.Int("checked", report.Checked),
		zap.Int("updated", report.Updated),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (s *RoleSyncer) syncMember(ctx context.Context, discordID string, desired, managed []string) (added, removed int, err error) {
	member, err := s.api.GuildMember(s.guildID, discordID, discordgo.WithContext(ctx))
	if err != nil {
		return 0, 0, fmt.Errorf("fetching member: %w", err)
	}

	toAdd, toRemove := DiffRoles(member.Roles, desired, managed)
	for _, roleID := range toAdd {
		if err := s.api.GuildMemberRoleAdd(s.guildID, discordID, roleID, discordgo.WithContext(ctx)); err != nil {
			return added, removed, fmt.Errorf("adding role %s: %w", roleID, err)
		}
		added++
	}
	for _, roleID := range toRemove {
		if err := s.api.GuildMemberRoleRemove(s.guildID, discordID, roleID, discordgo.WithContext(ctx)); err != nil {
			return added, removed, fmt.Errorf("removing role %s: %w", roleID, err)
		}
		removed++
	}
	return added, removed, nil
}

// GrantRole adds a single role to a guild member, e.g. the whitelist role on approval
func (s *RoleSyncer) GrantRole(ctx context.Context, discordID, roleID string) error {
	if discordID == "" || roleID == "" {
		return ErrMissingID
	}
	if err := s.api.GuildMemberRoleAdd(s.guildID, discordID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("granting role %s to %s: %w", roleID, discordID, err)
	}
	return nil
}
