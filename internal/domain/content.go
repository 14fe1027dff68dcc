package domain

import "time"

// RuleCategory groups server rules on the public rules page
type RuleCategory struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sort_order"`
	Rules     []Rule    `json:"rules,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Rule is a single server rule; Content is markdown, HTML is rendered on read
type Rule struct {
	ID         int64     `json:"id"`
	CategoryID int64     `json:"category_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	HTML       string    `json:"html,omitempty"`
	SortOrder  int       `json:"sort_order"`
	Active     bool      `json:"active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TeamMember is shown on the public team page
type TeamMember struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	RoleTitle  string    `json:"role_title"`
	Bio        string    `json:"bio,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	DiscordTag string    `json:"discord_tag,omitempty"`
	SortOrder  int       `json:"sort_order"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Partner is a community partner (streamer, other server, sponsor)
type Partner struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	WebsiteURL    string    `json:"website_url,omitempty"`
	LogoURL       string    `json:"logo_url,omitempty"`
	TwitchLogin   string    `json:"twitch_login,omitempty"`
	DiscordInvite string    `json:"discord_invite,omitempty"`
	SortOrder     int       `json:"sort_order"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

// EmailTemplate is a named, editable email; Body is markdown with text/template actions
type EmailTemplate struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}
