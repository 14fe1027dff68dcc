package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// --- Rule methods ---

// ListRuleCategories returns categories with their rules attached.
// When activeOnly is set, inactive rules are left out.
func (s *Store) ListRuleCategories(ctx context.Context, activeOnly bool) ([]domain.RuleCategory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, sort_order, created_at FROM rule_categories ORDER BY sort_order, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []domain.RuleCategory{}
	byID := make(map[int64]int)
	for rows.Next() {
		var c domain.RuleCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.SortOrder, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Rules = []domain.Rule{}
		byID[c.ID] = len(categories)
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rules, err := s.ListRules(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if i, ok := byID[r.CategoryID]; ok {
			categories[i].Rules = append(categories[i].Rules, r)
		}
	}
	return categories, nil
}

// CreateRuleCategory inserts a category
func (s *Store) CreateRuleCategory(ctx context.Context, c *domain.RuleCategory) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_categories (name, sort_order) VALUES (?, ?)
	`, c.Name, c.SortOrder)
	if err != nil {
		return err
	}
	c.ID, _ = result.LastInsertId()
	return nil
}

// UpdateRuleCategory renames or reorders a category
func (s *Store) UpdateRuleCategory(ctx context.Context, c *domain.RuleCategory) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rule_categories SET name = ?, sort_order = ? WHERE id = ?
	`, c.Name, c.SortOrder, c.ID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteRuleCategory removes a category and its rules
func (s *Store) DeleteRuleCategory(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rule_categories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// ListRules returns rules in display order
func (s *Store) ListRules(ctx context.Context, activeOnly bool) ([]domain.Rule, error) {
	query := `SELECT id, category_id, title, content, sort_order, active, updated_at FROM rules`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY category_id, sort_order, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var r domain.Rule
		if err := rows.Scan(&r.ID, &r.CategoryID, &r.Title, &r.Content, &r.SortOrder, &r.Active, &r.UpdatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// CreateRule inserts a rule
func (s *Store) CreateRule(ctx context.Context, r *domain.Rule) error {
	r.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (category_id, title, content, sort_order, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.CategoryID, r.Title, r.Content, r.SortOrder, r.Active, formatTimestamp(r.UpdatedAt))
	if err != nil {
		return err
	}
	r.ID, _ = result.LastInsertId()
	return nil
}

// UpdateRule replaces a rule's fields
func (s *Store) UpdateRule(ctx context.Context, r *domain.Rule) error {
	r.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules SET category_id = ?, title = ?, content = ?, sort_order = ?, active = ?, updated_at = ?
		WHERE id = ?
	`, r.CategoryID, r.Title, r.Content, r.SortOrder, r.Active, formatTimestamp(r.UpdatedAt), r.ID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteRule soft deletes a rule
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules SET active = FALSE, updated_at = ? WHERE id = ?
	`, formatTimestamp(time.Now()), id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// --- Team member methods ---

// ListTeamMembers returns team members in display order
func (s *Store) ListTeamMembers(ctx context.Context, activeOnly bool) ([]domain.TeamMember, error) {
	query := `SELECT id, name, role_title, bio, avatar_url, discord_tag, sort_order, active, created_at FROM team_members`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY sort_order, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []domain.TeamMember{}
	for rows.Next() {
		var m domain.TeamMember
		var bio, avatar, tag sql.NullString
		if err := rows.Scan(&m.ID, &m.Name, &m.RoleTitle, &bio, &avatar, &tag, &m.SortOrder, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Bio = scanNullStringValue(bio)
		m.AvatarURL = scanNullStringValue(avatar)
		m.DiscordTag = scanNullStringValue(tag)
		members = append(members, m)
	}
	return members, rows.Err()
}

// CreateTeamMember inserts a team member
func (s *Store) CreateTeamMember(ctx context.Context, m *domain.TeamMember) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (name, role_title, bio, avatar_url, discord_tag, sort_order, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.Name, m.RoleTitle, nullString(m.Bio), nullString(m.AvatarURL), nullString(m.DiscordTag), m.SortOrder, m.Active)
	if err != nil {
		return err
	}
	m.ID, _ = result.LastInsertId()
	return nil
}

// UpdateTeamMember replaces a team member's fields
func (s *Store) UpdateTeamMember(ctx context.Context, m *domain.TeamMember) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE team_members SET name = ?, role_title = ?, bio = ?, avatar_url = ?, discord_tag = ?, sort_order = ?, active = ?
		WHERE id = ?
	`, m.Name, m.RoleTitle, nullString(m.Bio), nullString(m.AvatarURL), nullString(m.DiscordTag), m.SortOrder, m.Active, m.ID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// SetTeamMemberAvatar points a member at a newly uploaded avatar
func (s *Store) SetTeamMemberAvatar(ctx context.Context, id int64, url string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE team_members SET avatar_url = ? WHERE id = ?`, url, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteTeamMember soft deletes a team member
func (s *Store) DeleteTeamMember(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE team_members SET active = FALSE WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// --- Partner methods ---

const partnerColumns = `id, name, description, website_url, logo_url, twitch_login, discord_invite, sort_order, active, created_at`

func scanPartner(sc scanner) (*domain.Partner, error) {
	var p domain.Partner
	var desc, website, logo, twitch, invite sql.NullString
	if err := sc.Scan(&p.ID, &p.Name, &desc, &website, &logo, &twitch, &invite, &p.SortOrder, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Description = scanNullStringValue(desc)
	p.WebsiteURL = scanNullStringValue(website)
	p.LogoURL = scanNullStringValue(logo)
	p.TwitchLogin = scanNullStringValue(twitch)
	p.DiscordInvite = scanNullStringValue(invite)
	return &p, nil
}

// ListPartners returns partners in display order
func (s *Store) ListPartners(ctx context.Context, activeOnly bool) ([]domain.Partner, error) {
	query := `SELECT ` + partnerColumns + ` FROM partners`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY sort_order, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	partners := []domain.Partner{}
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, err
		}
		partners = append(partners, *p)
	}
	return partners, rows.Err()
}

// GetPartner returns a partner by ID
func (s *Store) GetPartner(ctx context.Context, id int64) (*domain.Partner, error) {
	p, err := scanPartner(s.db.QueryRowContext(ctx, `SELECT `+partnerColumns+` FROM partners WHERE id = ?`, id))
	return p, notFound(err)
}

// CreatePartner inserts a partner
func (s *Store) CreatePartner(ctx context.Context, p *domain.Partner) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO partners (name, description, website_url, logo_url, twitch_login, discord_invite, sort_order, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Name, nullString(p.Description), nullString(p.WebsiteURL), nullString(p.LogoURL),
		nullString(p.TwitchLogin), nullString(p.DiscordInvite), p.SortOrder, p.Active)
	if err != nil {
		return err
	}
	p.ID, _ = result.LastInsertId()
	return nil
}

// UpdatePartner replaces a partner's fields
func (s *Store) UpdatePartner(ctx context.Context, p *domain.Partner) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE partners SET name = ?, description = ?, website_url = ?, logo_url = ?, twitch_login = ?,
			discord_invite = ?, sort_order = ?, active = ?
		WHERE id = ?
	`, p.Name, nullString(p.Description), nullString(p.WebsiteURL), nullString(p.LogoURL),
		nullString(p.TwitchLogin), nullString(p.DiscordInvite), p.SortOrder, p.Active, p.ID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeletePartner soft deletes a partner
func (s *Store) DeletePartner(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE partners SET active = FALSE WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// PartnerTwitchLogins returns the Twitch logins of active partners
func (s *Store) PartnerTwitchLogins(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT lower(twitch_login) FROM partners
		WHERE active = TRUE AND twitch_login IS NOT NULL AND twitch_login != ''
		ORDER BY 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logins []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		logins = append(logins, l)
	}
	return logins, rows.Err()
}

// --- Email template methods ---

// ListEmailTemplates returns all stored templates
func (s *Store) ListEmailTemplates(ctx context.Context) ([]domain.EmailTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, subject, body, updated_at FROM email_templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []domain.EmailTemplate{}
	for rows.Next() {
		var t domain.EmailTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// GetEmailTemplate returns a template by name
func (s *Store) GetEmailTemplate(ctx context.Context, name string) (*domain.EmailTemplate, error) {
	var t domain.EmailTemplate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, subject, body, updated_at FROM email_templates WHERE name = ?
	`, name).Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// UpsertEmailTemplate creates or replaces a template by name
func (s *Store) UpsertEmailTemplate(ctx context.Context, t *domain.EmailTemplate) error {
	t.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_templates (name, subject, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			subject = excluded.subject,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, t.Name, t.Subject, t.Body, formatTimestamp(t.UpdatedAt))
	if err != nil {
		return err
	}
	// Always query for the ID (LastInsertId unreliable with ON CONFLICT)
	return s.db.QueryRowContext(ctx, `SELECT id FROM email_templates WHERE name = ?`, t.Name).Scan(&t.ID)
}

// DeleteEmailTemplate removes a template so the built-in fallback is used again
func (s *Store) DeleteEmailTemplate(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM email_templates WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return requireAffected(result)
}
