// Package discord keeps staff Discord roles in line with portal staff roles
// and posts portal notifications to a guild channel.
package discord

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// ErrNotConfigured is returned when no bot token or guild is configured
var ErrNotConfigured = errors.New("discord integration not configured")

// API is the subset of the Discord REST API the portal uses.
// *discordgo.Session satisfies it.
type API interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// NewSession creates a REST-only bot session; no gateway connection is opened
func NewSession(botToken string) (*discordgo.Session, error) {
	if botToken == "" {
		return nil, ErrNotConfigured
	}
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.UserAgent = "nexus-portal (https://github.com/Morfar22/nexus-rp-portal-sub003)"
	return session, nil
}
