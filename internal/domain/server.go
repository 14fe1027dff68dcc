package domain

import (
	"regexp"
	"strings"
	"time"
)

// Server represents a FiveM server being monitored
type Server struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	JoinCode  string    `json:"join_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ServerStatus represents the current state of a server from its query endpoints
type ServerStatus struct {
	ServerID      int64             `json:"server_id"`
	Name          string            `json:"name"`
	Address       string            `json:"address"`
	Hostname      string            `json:"hostname,omitempty"`
	GameType      string            `json:"game_type,omitempty"`
	MapName       string            `json:"map_name,omitempty"`
	Version       string            `json:"version,omitempty"`
	Players       []PlayerStatus    `json:"players"`
	PlayerCount   int               `json:"player_count"`
	MaxPlayers    int               `json:"max_players"`
	ResourceCount int               `json:"resource_count"`
	LatencyMs     int64             `json:"latency_ms"`
	Online        bool              `json:"online"`
	LastUpdated   time.Time         `json:"last_updated"`
	ServerVars    map[string]string `json:"server_vars,omitempty"`
}

// PlayerStatus represents a player currently connected to a server
type PlayerStatus struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	CleanName string `json:"clean_name"`
	Ping      int    `json:"ping"`
	DiscordID string `json:"discord_id,omitempty"` // from the discord: identifier, when present
}

// ServerSnapshot is a persisted performance sample for analytics widgets
type ServerSnapshot struct {
	ID         int64     `json:"id"`
	ServerID   int64     `json:"server_id"`
	Online     bool      `json:"online"`
	Players    int       `json:"players"`
	MaxPlayers int       `json:"max_players"`
	LatencyMs  int64     `json:"latency_ms"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ServerStats aggregates snapshots over a window
type ServerStats struct {
	ServerID      int64     `json:"server_id"`
	Since         time.Time `json:"since"`
	Samples       int       `json:"samples"`
	AvgPlayers    float64   `json:"avg_players"`
	PeakPlayers   int       `json:"peak_players"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	UptimePercent float64   `json:"uptime_percent"`
}

// colorCodeRegex matches the ^0-^9 color codes FiveM inherits from Quake
var colorCodeRegex = regexp.MustCompile(`\^[0-9]`)

// CleanPlayerName removes color codes from a player or host name
func CleanPlayerName(name string) string {
	return strings.TrimSpace(colorCodeRegex.ReplaceAllString(name, ""))
}

// DiscordIDFromIdentifiers extracts the Discord user id from FiveM identifiers
func DiscordIDFromIdentifiers(identifiers []string) string {
	for _, id := range identifiers {
		if after, ok := strings.CutPrefix(id, "discord:"); ok {
			return after
		}
	}
	return ""
}
