package domain

import "time"

// CFX platform status levels, ordered by severity
const (
	CFXOperational = "operational"
	CFXMaintenance = "maintenance"
	CFXDegraded    = "degraded"
	CFXMajorOutage = "major_outage"
)

// CFXSeverity ranks a status so the worst one can be picked
func CFXSeverity(status string) int {
	switch status {
	case CFXMaintenance:
		return 1
	case CFXDegraded:
		return 2
	case CFXMajorOutage:
		return 3
	default:
		return 0
	}
}

// CFXIncident is one entry of the status page feed
type CFXIncident struct {
	Title     string    `json:"title"`
	Link      string    `json:"link,omitempty"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CFXStatus is the classified state of the CFX platform
type CFXStatus struct {
	Status    string        `json:"status"`
	Incidents []CFXIncident `json:"incidents"`
	CheckedAt time.Time     `json:"checked_at"`
}

// ServerListing is what the CFX server list knows about a join code
type ServerListing struct {
	JoinCode   string `json:"join_code"`
	Hostname   string `json:"hostname"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	GameType   string `json:"game_type,omitempty"`
	MapName    string `json:"map_name,omitempty"`
}

// Stream is a live Twitch stream of a partner
type Stream struct {
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	Title        string    `json:"title"`
	GameName     string    `json:"game_name,omitempty"`
	ViewerCount  int       `json:"viewer_count"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// DashboardSummary feeds the staff dashboard cards
type DashboardSummary struct {
	Applications    map[ApplicationStatus]int `json:"applications"`
	OpenChats       int                       `json:"open_chats"`
	MissedChatsWeek int                       `json:"missed_chats_week"`
	PlayersOnline   int                       `json:"players_online"`
	ServersOnline   int                       `json:"servers_online"`
	Finance         *FinancialSummary         `json:"finance,omitempty"`
	KillSwitch      KillSwitch                `json:"kill_switch"`
	GeneratedAt     time.Time                 `json:"generated_at"`
}
