package mail

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
)

// ErrUnknownTemplate is returned for names with neither a stored nor a built-in template
var ErrUnknownTemplate = errors.New("unknown email template")

// TemplateStore loads admin-edited templates
type TemplateStore interface {
	GetEmailTemplate(ctx context.Context, name string) (*domain.EmailTemplate, error)
}

// Mailer renders named templates and sends them
type Mailer struct {
	sender    Sender
	store     TemplateStore
	templates *Templates
}

// NewMailer creates a mailer. A nil sender makes every send fail with ErrNotConfigured.
func NewMailer(sender Sender, store TemplateStore, templates *Templates) *Mailer {
	return &Mailer{sender: sender, store: store, templates: templates}
}

// Enabled reports whether a sender is configured
func (m *Mailer) Enabled() bool {
	return m.sender != nil
}

// Template returns the stored template, or the built-in one of that name
func (m *Mailer) Template(ctx context.Context, name string) (domain.EmailTemplate, error) {
	tpl, err := m.store.GetEmailTemplate(ctx, name)
	if err == nil {
		return *tpl, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.EmailTemplate{}, fmt.Errorf("loading template %s: %w", name, err)
	}
	if fallback, ok := FallbackTemplate(name); ok {
		return fallback, nil
	}
	return domain.EmailTemplate{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
}

// SendTemplate renders the named template with data and sends it to the recipients
func (m *Mailer) SendTemplate(ctx context.Context, name string, to []string, data any) (string, error) {
	if m.sender == nil {
		return "", ErrNotConfigured
	}
	tpl, err := m.Template(ctx, name)
	if err != nil {
		return "", err
	}
	subject, body, err := m.templates.Render(tpl, data)
	if err != nil {
		return "", err
	}

	id, err := m.sender.Send(ctx, Message{To: to, Subject: subject, HTML: body})
	if err != nil {
		return "", err
	}
	zap.L().Info("email sent", zap.String("template", name), zap.Int("recipients", len(to)), zap.String("id", id))
	return id, nil
}

// SendRaw sends an ad hoc markdown message
func (m *Mailer) SendRaw(ctx context.Context, to []string, subject, markdown string) (string, error) {
	if m.sender == nil {
		return "", ErrNotConfigured
	}
	body, err := m.templates.Markdown(markdown)
	if err != nil {
		return "", err
	}
	return m.sender.Send(ctx, Message{To: to, Subject: subject, HTML: body})
}
