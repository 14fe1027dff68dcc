package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/events"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/mail"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
)

// MissedChatStore is what missed-chat detection reads and writes
type MissedChatStore interface {
	FindUnansweredSessions(ctx context.Context, before time.Time) ([]domain.ChatSession, error)
	RecordMissedChat(ctx context.Context, sessionID string, detectedAt time.Time) (bool, error)
	MarkMissedChatNotified(ctx context.Context, sessionID string, notified int) error
	ListChatNotificationRecipients(ctx context.Context) ([]storage.User, error)
}

// TemplateMailer sends named email templates
type TemplateMailer interface {
	Enabled() bool
	SendTemplate(ctx context.Context, name string, to []string, data any) (string, error)
}

// MissedChatEmail is the data the missed_chat template renders
type MissedChatEmail struct {
	VisitorName  string
	VisitorEmail string
	Subject      string
	WaitingSince time.Time
	PortalURL    string
}

// MissedChatJob flags chats nobody answered within the threshold
type MissedChatJob struct {
	store     MissedChatStore
	mailer    TemplateMailer
	publisher events.Publisher
	threshold time.Duration
	publicURL string
	now       func() time.Time
}

// NewMissedChatJob creates the job; mailer and publisher may be nil
func NewMissedChatJob(store MissedChatStore, mailer TemplateMailer, publisher events.Publisher, threshold time.Duration, publicURL string) *MissedChatJob {
	return &MissedChatJob{
		store:     store,
		mailer:    mailer,
		publisher: publisher,
		threshold: threshold,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		now:       time.Now,
	}
}

// Run records every newly missed chat once and notifies staff about it.
// It returns how many chats were newly recorded.
func (j *MissedChatJob) Run(ctx context.Context) (int, error) {
	now := j.now().UTC()
	sessions, err := j.store.FindUnansweredSessions(ctx, now.Add(-j.threshold))
	if err != nil {
		return 0, fmt.Errorf("finding unanswered chats: %w", err)
	}
	if len(sessions) == 0 {
		return 0, nil
	}

	var recipients []storage.User
	if j.mailer != nil && j.mailer.Enabled() {
		recipients, err = j.store.ListChatNotificationRecipients(ctx)
		if err != nil {
			return 0, fmt.Errorf("loading notification recipients: %w", err)
		}
	}

	recorded := 0
	for _, session := range sessions {
		inserted, err := j.store.RecordMissedChat(ctx, session.ID, now)
		if err != nil {
			return recorded, fmt.Errorf("recording missed chat %s: %w", session.ID, err)
		}
		if !inserted {
			continue
		}
		recorded++

		notified := j.notify(ctx, session, recipients)
		if err := j.store.MarkMissedChatNotified(ctx, session.ID, notified); err != nil {
			zap.L().Error("marking missed chat notified", zap.String("session_id", session.ID), zap.Error(err))
		}

		if j.publisher != nil {
			evt := domain.NewEvent(domain.EventMissedChat, domain.MissedChat{
				SessionID:    session.ID,
				VisitorName:  session.VisitorName,
				VisitorEmail: session.VisitorEmail,
				Subject:      session.Subject,
				WaitingSince: session.CreatedAt,
				DetectedAt:   now,
				Notified:     notified,
			})
			if err := j.publisher.Publish(ctx, evt); err != nil {
				zap.L().Warn("publishing missed chat event", zap.Error(err))
			}
		}
	}

	if recorded > 0 {
		zap.L().Info("missed chats detected", zap.Int("count", recorded), zap.Int("recipients", len(recipients)))
	}
	return recorded, nil
}

// notify emails each recipient separately and returns how many sends succeeded
func (j *MissedChatJob) notify(ctx context.Context, session domain.ChatSession, recipients []storage.User) int {
	data := MissedChatEmail{
		VisitorName:  session.VisitorName,
		VisitorEmail: session.VisitorEmail,
		Subject:      session.Subject,
		WaitingSince: session.CreatedAt,
		PortalURL:    j.publicURL,
	}
	sent := 0
	for _, u := range recipients {
		if _, err := j.mailer.SendTemplate(ctx, mail.TemplateMissedChat, []string{u.Email}, data); err != nil {
			zap.L().Warn("emailing missed chat", zap.String("username", u.Username), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}
