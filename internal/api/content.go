package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/jobs"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/mail"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/media"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/twitch"
)

// handlePublicRules returns active rules grouped by category with rendered HTML
func (r *Router) handlePublicRules(w http.ResponseWriter, req *http.Request) {
	categories, err := r.store.ListRuleCategories(req.Context(), true)
	if err != nil {
		writeFailure(w, req, err, "rules")
		return
	}

	visible := make([]domain.RuleCategory, 0, len(categories))
	for _, c := range categories {
		if len(c.Rules) == 0 {
			continue
		}
		for i := range c.Rules {
			html, err := r.templates.Markdown(c.Rules[i].Content)
			if err != nil {
				zap.L().Warn("rendering rule", zap.Int64("rule_id", c.Rules[i].ID), zap.Error(err))
				continue
			}
			c.Rules[i].HTML = html
		}
		visible = append(visible, c)
	}
	writeJSON(w, http.StatusOK, visible)
}

func (r *Router) handlePublicTeam(w http.ResponseWriter, req *http.Request) {
	members, err := r.store.ListTeamMembers(req.Context(), true)
	if err != nil {
		writeFailure(w, req, err, "team")
		return
	}
	if members == nil {
		members = []domain.TeamMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (r *Router) handlePublicPartners(w http.ResponseWriter, req *http.Request) {
	partners, err := r.store.ListPartners(req.Context(), true)
	if err != nil {
		writeFailure(w, req, err, "partners")
		return
	}
	if partners == nil {
		partners = []domain.Partner{}
	}
	writeJSON(w, http.StatusOK, partners)
}

// handlePublicStreams returns partners that are live on Twitch
func (r *Router) handlePublicStreams(w http.ResponseWriter, req *http.Request) {
	if r.streams == nil {
		writeJSON(w, http.StatusOK, []domain.Stream{})
		return
	}
	streams, err := r.streams.LiveStreams(req.Context())
	if errors.Is(err, twitch.ErrNotConfigured) {
		writeJSON(w, http.StatusOK, []domain.Stream{})
		return
	}
	if err != nil {
		zap.L().Warn("twitch streams unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "streams unavailable")
		return
	}
	if streams == nil {
		streams = []domain.Stream{}
	}
	writeJSON(w, http.StatusOK, streams)
}

// --- Rules ---

// handleListRuleCategories returns every category with inactive rules included
func (r *Router) handleListRuleCategories(w http.ResponseWriter, req *http.Request) {
	categories, err := r.store.ListRuleCategories(req.Context(), false)
	if err != nil {
		writeFailure(w, req, err, "rule categories")
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (r *Router) handleCreateRuleCategory(w http.ResponseWriter, req *http.Request) {
	var c domain.RuleCategory
	if !decodeJSON(w, req, &c) {
		return
	}
	if strings.TrimSpace(c.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	c.Rules = nil
	if err := r.store.CreateRuleCategory(req.Context(), &c); err != nil {
		writeFailure(w, req, err, "rule category")
		return
	}
	c.CreatedAt = time.Now().UTC()
	writeJSON(w, http.StatusCreated, c)
}

func (r *Router) handleUpdateRuleCategory(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "rule category")
	if !ok {
		return
	}
	var c domain.RuleCategory
	if !decodeJSON(w, req, &c) {
		return
	}
	if strings.TrimSpace(c.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	c.ID = id
	c.Rules = nil
	if err := r.store.UpdateRuleCategory(req.Context(), &c); err != nil {
		writeFailure(w, req, err, "rule category")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (r *Router) handleDeleteRuleCategory(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "rule category")
	if !ok {
		return
	}
	if err := r.store.DeleteRuleCategory(req.Context(), id); err != nil {
		writeFailure(w, req, err, "rule category")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "rule category deleted"})
}

func (r *Router) handleCreateRule(w http.ResponseWriter, req *http.Request) {
	rule := domain.Rule{Active: true}
	if !decodeJSON(w, req, &rule) {
		return
	}
	if err := validateRule(&rule); err != nil {
		writeFailure(w, req, err, "rule")
		return
	}
	rule.HTML = ""
	if err := r.store.CreateRule(req.Context(), &rule); err != nil {
		writeFailure(w, req, err, "rule")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (r *Router) handleUpdateRule(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "rule")
	if !ok {
		return
	}
	var rule domain.Rule
	if !decodeJSON(w, req, &rule) {
		return
	}
	rule.ID = id
	if err := validateRule(&rule); err != nil {
		writeFailure(w, req, err, "rule")
		return
	}
	rule.HTML = ""
	if err := r.store.UpdateRule(req.Context(), &rule); err != nil {
		writeFailure(w, req, err, "rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (r *Router) handleDeleteRule(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "rule")
	if !ok {
		return
	}
	if err := r.store.DeleteRule(req.Context(), id); err != nil {
		writeFailure(w, req, err, "rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "rule deactivated"})
}

// --- Team ---

func (r *Router) handleListTeam(w http.ResponseWriter, req *http.Request) {
	members, err := r.store.ListTeamMembers(req.Context(), false)
	if err != nil {
		writeFailure(w, req, err, "team")
		return
	}
	if members == nil {
		members = []domain.TeamMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (r *Router) handleCreateTeamMember(w http.ResponseWriter, req *http.Request) {
	m := domain.TeamMember{Active: true}
	if !decodeJSON(w, req, &m) {
		return
	}
	if err := validateTeamMember(&m); err != nil {
		writeFailure(w, req, err, "team member")
		return
	}
	if err := r.store.CreateTeamMember(req.Context(), &m); err != nil {
		writeFailure(w, req, err, "team member")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (r *Router) handleUpdateTeamMember(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "team member")
	if !ok {
		return
	}
	var m domain.TeamMember
	if !decodeJSON(w, req, &m) {
		return
	}
	m.ID = id
	if err := validateTeamMember(&m); err != nil {
		writeFailure(w, req, err, "team member")
		return
	}
	if err := r.store.UpdateTeamMember(req.Context(), &m); err != nil {
		writeFailure(w, req, err, "team member")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (r *Router) handleDeleteTeamMember(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "team member")
	if !ok {
		return
	}
	if err := r.store.DeleteTeamMember(req.Context(), id); err != nil {
		writeFailure(w, req, err, "team member")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "team member deactivated"})
}

// --- Uploads ---

// readUpload stores the multipart "file" field as a thumbnail and returns its URL
func (r *Router) readUpload(w http.ResponseWriter, req *http.Request) (string, bool) {
	if r.media == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads are not configured")
		return "", false
	}

	req.Body = http.MaxBytesReader(w, req.Body, media.MaxUploadBytes+(64<<10))
	file, _, err := req.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, media.ErrTooLarge.Error())
			return "", false
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return "", false
	}
	defer file.Close()

	url, err := r.media.Save(file)
	switch {
	case errors.Is(err, media.ErrInvalidImage), errors.Is(err, media.ErrTooManyPixels):
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	case errors.Is(err, media.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return "", false
	case err != nil:
		writeFailure(w, req, err, "upload")
		return "", false
	}
	return url, true
}

// handleUploadAvatar replaces a team member's avatar with an uploaded image
func (r *Router) handleUploadAvatar(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "team member")
	if !ok {
		return
	}

	members, err := r.store.ListTeamMembers(req.Context(), false)
	if err != nil {
		writeFailure(w, req, err, "team member")
		return
	}
	var previous string
	found := false
	for _, m := range members {
		if m.ID == id {
			previous, found = m.AvatarURL, true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "team member not found")
		return
	}

	url, ok := r.readUpload(w, req)
	if !ok {
		return
	}
	if err := r.store.SetTeamMemberAvatar(req.Context(), id, url); err != nil {
		r.media.Delete(url)
		writeFailure(w, req, err, "team member")
		return
	}
	if err := r.media.Delete(previous); err != nil {
		zap.L().Warn("removing old avatar", zap.String("url", previous), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"avatar_url": url})
}

// handleUploadPartnerLogo replaces a partner's logo with an uploaded image
func (r *Router) handleUploadPartnerLogo(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "partner")
	if !ok {
		return
	}
	partner, err := r.store.GetPartner(req.Context(), id)
	if err != nil {
		writeFailure(w, req, err, "partner")
		return
	}

	url, ok := r.readUpload(w, req)
	if !ok {
		return
	}
	previous := partner.LogoURL
	partner.LogoURL = url
	if err := r.store.UpdatePartner(req.Context(), partner); err != nil {
		r.media.Delete(url)
		writeFailure(w, req, err, "partner")
		return
	}
	if err := r.media.Delete(previous); err != nil {
		zap.L().Warn("removing old logo", zap.String("url", previous), zap.Error(err))
	}

	r.audit(req, authFrom(req), domain.AuditPartnerChanged, domain.SeverityInfo, "partner", strconv.FormatInt(id, 10),
		map[string]any{"op": "logo"})
	writeJSON(w, http.StatusOK, map[string]string{"logo_url": url})
}

// --- Email templates ---

// EmailTemplateView is a template as the editor sees it
type EmailTemplateView struct {
	domain.EmailTemplate
	BuiltIn    bool `json:"built_in"`
	Customized bool `json:"customized"`
}

// handleListEmailTemplates returns stored templates plus built-ins that were never customized
func (r *Router) handleListEmailTemplates(w http.ResponseWriter, req *http.Request) {
	stored, err := r.store.ListEmailTemplates(req.Context())
	if err != nil {
		writeFailure(w, req, err, "email templates")
		return
	}

	views := []EmailTemplateView{}
	seen := make(map[string]bool)
	for _, t := range stored {
		_, builtIn := mail.FallbackTemplate(t.Name)
		views = append(views, EmailTemplateView{EmailTemplate: t, BuiltIn: builtIn, Customized: true})
		seen[t.Name] = true
	}
	for _, name := range []string{
		mail.TemplateApplicationReceived,
		mail.TemplateApplicationApproved,
		mail.TemplateApplicationRejected,
		mail.TemplateMissedChat,
	} {
		if seen[name] {
			continue
		}
		t, _ := mail.FallbackTemplate(name)
		views = append(views, EmailTemplateView{EmailTemplate: t, BuiltIn: true})
	}
	writeJSON(w, http.StatusOK, views)
}

// handleSaveEmailTemplate creates or replaces a template after checking it renders
func (r *Router) handleSaveEmailTemplate(w http.ResponseWriter, req *http.Request) {
	var t domain.EmailTemplate
	if !decodeJSON(w, req, &t) {
		return
	}
	t.Name = req.PathValue("name")
	if err := validateEmailTemplate(&t); err != nil {
		writeFailure(w, req, err, "email template")
		return
	}
	if _, _, err := r.templates.Render(t, sampleTemplateData(t.Name)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := r.store.UpsertEmailTemplate(req.Context(), &t); err != nil {
		writeFailure(w, req, err, "email template")
		return
	}

	r.audit(req, authFrom(req), domain.AuditTemplateChanged, domain.SeverityInfo, "email_template", t.Name,
		map[string]any{"op": "save"})
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteEmailTemplate drops a customization so the built-in is used again
func (r *Router) handleDeleteEmailTemplate(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if err := r.store.DeleteEmailTemplate(req.Context(), name); err != nil {
		writeFailure(w, req, err, "email template")
		return
	}
	r.audit(req, authFrom(req), domain.AuditTemplateChanged, domain.SeverityInfo, "email_template", name,
		map[string]any{"op": "delete"})
	writeJSON(w, http.StatusOK, map[string]string{"message": "email template deleted"})
}

// PreviewRequest optionally carries an unsaved draft
type PreviewRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// handlePreviewEmailTemplate renders a draft, or the current template, with sample data
func (r *Router) handlePreviewEmailTemplate(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	var draft PreviewRequest
	if !decodeJSON(w, req, &draft) {
		return
	}

	var tpl domain.EmailTemplate
	if draft.Subject != "" || draft.Body != "" {
		tpl = domain.EmailTemplate{Name: name, Subject: draft.Subject, Body: draft.Body}
	} else {
		stored, err := r.currentTemplate(req, name)
		if err != nil {
			writeFailure(w, req, err, "email template")
			return
		}
		tpl = stored
	}

	subject, html, err := r.templates.Render(tpl, sampleTemplateData(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"subject": subject, "html": html})
}

// currentTemplate returns the stored template or its built-in fallback
func (r *Router) currentTemplate(req *http.Request, name string) (domain.EmailTemplate, error) {
	if r.mailer != nil {
		return r.mailer.Template(req.Context(), name)
	}
	stored, err := r.store.GetEmailTemplate(req.Context(), name)
	if err == nil {
		return *stored, nil
	}
	if fallback, ok := mail.FallbackTemplate(name); ok {
		return fallback, nil
	}
	return domain.EmailTemplate{}, err
}

// ApplicationEmail is the data application templates render
type ApplicationEmail struct {
	ApplicantName string
	TypeName      string
	ReviewNotes   string
}

// sampleTemplateData is the data previews and save-time checks render with.
// Built-in names get the struct their sender passes; other templates are sent
// with free-form data from the send-email function, so they get a map.
func sampleTemplateData(name string) any {
	switch name {
	case mail.TemplateMissedChat:
		return jobs.MissedChatEmail{
			VisitorName:  "Jane Doe",
			VisitorEmail: "jane@example.com",
			Subject:      "Whitelist question",
			WaitingSince: time.Now().Add(-15 * time.Minute),
			PortalURL:    "https://portal.example.com",
		}
	case mail.TemplateApplicationReceived, mail.TemplateApplicationApproved, mail.TemplateApplicationRejected:
		return ApplicationEmail{ApplicantName: "Jane Doe", TypeName: "Whitelist", ReviewNotes: "Welcome aboard."}
	}
	return map[string]any{"ApplicantName": "Jane Doe", "TypeName": "Whitelist", "ReviewNotes": "Welcome aboard."}
}
