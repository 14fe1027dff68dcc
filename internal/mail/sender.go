// Package mail renders portal email templates and sends them through Resend.
package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// ErrNotConfigured is returned when no Resend API key is configured
var ErrNotConfigured = errors.New("email not configured")

// Message is a rendered email
type Message struct {
	To      []string
	Subject string
	HTML    string
}

// Sender delivers rendered messages
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ResendSender sends mail with the Resend API
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender creates a sender; from is the verified sender address
func NewResendSender(apiKey, from string) (*ResendSender, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	return &ResendSender{client: resend.NewClient(apiKey), from: from}, nil
}

// Send delivers the message and returns Resend's message id
func (s *ResendSender) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", errors.New("no recipients")
	}
	resp, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return "", fmt.Errorf("sending email: %w", err)
	}
	return resp.Id, nil
}
