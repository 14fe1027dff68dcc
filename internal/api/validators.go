package api

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

var (
	hexColorRegex     = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	roleNameRegex     = regexp.MustCompile(`^[a-z0-9_-]{2,32}$`)
	twitchLoginRegex  = regexp.MustCompile(`^[a-zA-Z0-9_]{4,25}$`)
	templateNameRegex = regexp.MustCompile(`^[a-z0-9_]{2,64}$`)
)

const (
	minPasswordLength = 8
	maxChatBody       = 2000
)

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// parseBeforeID parses and validates a cursor-based pagination parameter
func parseBeforeID(r *http.Request) *int64 {
	if b := r.URL.Query().Get("before"); b != "" {
		if parsed, err := strconv.ParseInt(b, 10, 64); err == nil && parsed > 0 {
			return &parsed
		}
	}
	return nil
}

// parseWindow reads an "hours" parameter capped at maxHours and returns the window start
func parseWindow(r *http.Request, defaultHours, maxHours int) time.Time {
	hours := defaultHours
	if h := r.URL.Query().Get("hours"); h != "" {
		if parsed, err := strconv.Atoi(h); err == nil && parsed > 0 && parsed <= maxHours {
			hours = parsed
		}
	}
	return time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
}

// parseSince reads an RFC 3339 "since" parameter
func parseSince(r *http.Request) (*time.Time, error) {
	s := r.URL.Query().Get("since")
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, badRequest("since must be an RFC 3339 timestamp")
	}
	return &t, nil
}

// validateURL accepts empty strings and absolute http(s) URLs
func validateURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s must be an http(s) URL", domain.ErrValidation, field)
	}
	return nil
}

// validatePassword enforces the minimum password length
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return badRequest(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	return nil
}

func validateStaffRole(role *domain.StaffRole) error {
	if !roleNameRegex.MatchString(role.Name) {
		return fmt.Errorf("%w: name must be 2-32 lowercase letters, digits, dashes or underscores", domain.ErrValidation)
	}
	if strings.TrimSpace(role.DisplayName) == "" {
		role.DisplayName = role.Name
	}
	if role.Color != "" && !hexColorRegex.MatchString(role.Color) {
		return fmt.Errorf("%w: color must look like #1a2b3c", domain.ErrValidation)
	}
	return validatePermissions(role.Permissions)
}

func validatePermissions(perms []domain.Permission) error {
	for _, p := range perms {
		if !domain.ValidPermission(p) {
			return fmt.Errorf("%w: unknown permission %q", domain.ErrValidation, p)
		}
	}
	return nil
}

func validateRule(rule *domain.Rule) error {
	if rule.CategoryID <= 0 {
		return fmt.Errorf("%w: category_id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(rule.Title) == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	return nil
}

func validateTeamMember(m *domain.TeamMember) error {
	if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.RoleTitle) == "" {
		return fmt.Errorf("%w: name and role_title are required", domain.ErrValidation)
	}
	return validateURL("avatar_url", m.AvatarURL)
}

func validatePartner(p *domain.Partner) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if p.TwitchLogin != "" && !twitchLoginRegex.MatchString(p.TwitchLogin) {
		return fmt.Errorf("%w: twitch_login is not a valid Twitch login", domain.ErrValidation)
	}
	if err := validateURL("website_url", p.WebsiteURL); err != nil {
		return err
	}
	return validateURL("discord_invite", p.DiscordInvite)
}

func validatePackage(p *domain.Package) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if p.PriceCents <= 0 && p.StripePriceID == "" {
		return fmt.Errorf("%w: price_cents or stripe_price_id is required", domain.ErrValidation)
	}
	switch p.Interval {
	case "", "month", "year":
	default:
		return fmt.Errorf("%w: interval must be empty, month or year", domain.ErrValidation)
	}
	if p.Currency == "" {
		p.Currency = "usd"
	}
	p.Currency = strings.ToLower(p.Currency)
	return nil
}

func validateEmailTemplate(t *domain.EmailTemplate) error {
	if !templateNameRegex.MatchString(t.Name) {
		return fmt.Errorf("%w: template name must be lowercase letters, digits or underscores", domain.ErrValidation)
	}
	if strings.TrimSpace(t.Subject) == "" || strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: subject and body are required", domain.ErrValidation)
	}
	return nil
}
