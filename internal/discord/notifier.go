package discord

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// Embed colors
const (
	colorInfo    = 0x3498db
	colorSuccess = 0x2ecc71
	colorWarning = 0xf1c40f
	colorDanger  = 0xe74c3c
)

// Subscriber delivers bus events to a handler
type Subscriber interface {
	Subscribe(handler func(domain.Event)) (func(), error)
}

// Notifier posts selected portal events to a Discord channel
type Notifier struct {
	api       API
	channelID string
	publicURL string
}

// NewNotifier creates a notifier for one channel
func NewNotifier(api API, channelID, publicURL string) *Notifier {
	return &Notifier{api: api, channelID: channelID, publicURL: strings.TrimSuffix(publicURL, "/")}
}

// Start subscribes to the bus; call the returned func to stop
func (n *Notifier) Start(sub Subscriber) (func(), error) {
	return sub.Subscribe(n.Handle)
}

// Handle posts an embed for the event if it is one the channel cares about
func (n *Notifier) Handle(evt domain.Event) {
	embed, err := n.embedFor(evt)
	if err != nil {
		zap.L().Warn("decoding event for discord", zap.String("event", evt.Type), zap.Error(err))
		return
	}
	if embed == nil {
		return
	}
	if !evt.Timestamp.IsZero() {
		embed.Timestamp = evt.Timestamp.Format("2006-01-02T15:04:05Z07:00")
	}
	if _, err := n.api.ChannelMessageSendEmbed(n.channelID, embed); err != nil {
		zap.L().Error("posting discord notification", zap.String("event", evt.Type), zap.Error(err))
	}
}

func (n *Notifier) embedFor(evt domain.Event) (*discordgo.MessageEmbed, error) {
	switch evt.Type {
	case domain.EventApplicationSubmit:
		var app domain.ApplicationEvent
		if err := decodeData(evt.Data, &app); err != nil {
			return nil, err
		}
		return &discordgo.MessageEmbed{
			Title:       "New application",
			Description: fmt.Sprintf("**%s** applied for **%s**", app.ApplicantName, app.TypeName),
			URL:         n.link(fmt.Sprintf("/admin/applications/%d", app.ApplicationID)),
			Color:       colorInfo,
		}, nil

	case domain.EventApplicationReviewed:
		var app domain.ApplicationEvent
		if err := decodeData(evt.Data, &app); err != nil {
			return nil, err
		}
		color := colorWarning
		switch app.Status {
		case domain.ApplicationApproved:
			color = colorSuccess
		case domain.ApplicationRejected:
			color = colorDanger
		}
		embed := &discordgo.MessageEmbed{
			Title:       "Application reviewed",
			Description: fmt.Sprintf("**%s** (%s) is now **%s**", app.ApplicantName, app.TypeName, app.Status),
			URL:         n.link(fmt.Sprintf("/admin/applications/%d", app.ApplicationID)),
			Color:       color,
		}
		if app.ReviewedBy != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Reviewer", Value: app.ReviewedBy, Inline: true})
		}
		return embed, nil

	case domain.EventKillSwitch:
		var ks domain.KillSwitchEvent
		if err := decodeData(evt.Data, &ks); err != nil {
			return nil, err
		}
		embed := &discordgo.MessageEmbed{
			Title:       "Kill switch disengaged",
			Description: fmt.Sprintf("Write access restored by **%s**", ks.UpdatedBy),
			Color:       colorSuccess,
		}
		if ks.Active {
			embed.Title = "Kill switch engaged"
			embed.Description = fmt.Sprintf("Write access blocked by **%s**", ks.UpdatedBy)
			embed.Color = colorDanger
		}
		if ks.Reason != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Reason", Value: ks.Reason})
		}
		return embed, nil

	case domain.EventMissedChat:
		var mc domain.MissedChat
		if err := decodeData(evt.Data, &mc); err != nil {
			return nil, err
		}
		embed := &discordgo.MessageEmbed{
			Title:       "Missed chat",
			Description: fmt.Sprintf("**%s** has been waiting since %s with no reply", mc.VisitorName, mc.WaitingSince.Format("15:04 MST")),
			URL:         n.link("/admin/chat"),
			Color:       colorWarning,
		}
		if mc.Subject != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Subject", Value: mc.Subject})
		}
		return embed, nil
	}
	return nil, nil
}

func (n *Notifier) link(path string) string {
	if n.publicURL == "" {
		return ""
	}
	return n.publicURL + path
}

// decodeData converts an event payload into v. Payloads that crossed the bus
// arrive as generic JSON maps.
func decodeData(data any, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
