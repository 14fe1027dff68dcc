package mail

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// Built-in template names
const (
	TemplateApplicationReceived = "application_received"
	TemplateApplicationApproved = "application_approved"
	TemplateApplicationRejected = "application_rejected"
	TemplateMissedChat          = "missed_chat"
)

// fallbackTemplates are used when the store has no template of that name
var fallbackTemplates = map[string]domain.EmailTemplate{
	TemplateApplicationReceived: {
		Name:    TemplateApplicationReceived,
		Subject: "We received your {{.TypeName}} application",
		Body: `Hi {{.ApplicantName}},

Thanks for applying for **{{.TypeName}}**. Our staff will review your application soon.

You can check your status at any time in the portal.`,
	},
	TemplateApplicationApproved: {
		Name:    TemplateApplicationApproved,
		Subject: "Your {{.TypeName}} application was approved",
		Body: `Hi {{.ApplicantName}},

Good news: your **{{.TypeName}}** application has been **approved**.
{{if .ReviewNotes}}
> {{.ReviewNotes}}
{{end}}
See you in the city!`,
	},
	TemplateApplicationRejected: {
		Name:    TemplateApplicationRejected,
		Subject: "Your {{.TypeName}} application",
		Body: `Hi {{.ApplicantName}},

Unfortunately your **{{.TypeName}}** application was not accepted this time.
{{if .ReviewNotes}}
> {{.ReviewNotes}}
{{end}}
You are welcome to apply again later.`,
	},
	TemplateMissedChat: {
		Name:    TemplateMissedChat,
		Subject: "Missed chat from {{.VisitorName}}",
		Body: `**{{.VisitorName}}**{{if .VisitorEmail}} ({{.VisitorEmail}}){{end}} started a chat at {{.WaitingSince.Format "15:04 MST"}} and nobody has answered yet.
{{if .Subject}}
Subject: *{{.Subject}}*
{{end}}
[Open the chat queue]({{.PortalURL}}/admin/chat)`,
	},
}

// FallbackTemplate returns the built-in template of that name
func FallbackTemplate(name string) (domain.EmailTemplate, bool) {
	t, ok := fallbackTemplates[name]
	return t, ok
}

// Templates renders email templates: text/template over subject and body, then markdown to HTML
type Templates struct {
	md goldmark.Markdown
}

// NewTemplates creates a renderer. Raw HTML in template bodies is escaped.
func NewTemplates() *Templates {
	return &Templates{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// Render returns the rendered subject and HTML body
func (t *Templates) Render(tpl domain.EmailTemplate, data any) (subject, body string, err error) {
	subject, err = execute(tpl.Name+".subject", tpl.Subject, data)
	if err != nil {
		return "", "", err
	}
	subject = strings.Join(strings.Fields(subject), " ")

	markdown, err := execute(tpl.Name+".body", tpl.Body, data)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := t.md.Convert([]byte(markdown), &buf); err != nil {
		return "", "", fmt.Errorf("rendering markdown for %s: %w", tpl.Name, err)
	}
	return subject, buf.String(), nil
}

// Markdown converts a markdown document to HTML; rules use it too
func (t *Templates) Markdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := t.md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func execute(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return buf.String(), nil
}
