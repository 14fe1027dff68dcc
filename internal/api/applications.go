package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/mail"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
)

// handlePublicApplicationTypes returns the forms applicants can fill in
func (r *Router) handlePublicApplicationTypes(w http.ResponseWriter, req *http.Request) {
	types, err := r.store.ListApplicationTypes(req.Context(), true)
	if err != nil {
		writeFailure(w, req, err, "application types")
		return
	}
	if types == nil {
		types = []domain.ApplicationType{}
	}
	writeJSON(w, http.StatusOK, types)
}

// SubmitResponse is returned to the applicant. The token is needed to withdraw.
type SubmitResponse struct {
	Application    *domain.Application `json:"application"`
	ApplicantToken string              `json:"applicant_token"`
}

func (r *Router) handleSubmitApplication(w http.ResponseWriter, req *http.Request) {
	var sub domain.ApplicationSubmission
	if !decodeJSON(w, req, &sub) {
		return
	}

	appType, err := r.store.GetApplicationType(req.Context(), sub.TypeID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !appType.Active) {
		writeError(w, http.StatusBadRequest, "unknown application type")
		return
	}
	if err != nil {
		writeFailure(w, req, err, "application type")
		return
	}
	if err := sub.Validate(appType); err != nil {
		writeFailure(w, req, err, "application")
		return
	}

	token := uuid.NewString()
	app, err := r.store.CreateApplication(req.Context(), sub, token)
	if err != nil {
		writeFailure(w, req, err, "application")
		return
	}

	zap.L().Info("application submitted",
		zap.Int64("application_id", app.ID),
		zap.String("type", appType.Name),
		zap.String("ip", r.clientIP(req)))

	r.publish(req.Context(), domain.NewEvent(domain.EventApplicationSubmit, applicationEvent(app, "")))
	r.emailApplicant(req.Context(), app, mail.TemplateApplicationReceived)

	writeJSON(w, http.StatusCreated, SubmitResponse{Application: app, ApplicantToken: token})
}

// WithdrawRequest carries the token handed out on submission
type WithdrawRequest struct {
	Token string `json:"token"`
}

func (r *Router) handleWithdrawApplication(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "application")
	if !ok {
		return
	}
	var body WithdrawRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	app, err := r.store.WithdrawApplication(req.Context(), id, body.Token)
	if err != nil {
		writeFailure(w, req, err, "application")
		return
	}
	r.publish(req.Context(), domain.NewEvent(domain.EventApplicationWithdraw, applicationEvent(app, "")))
	writeJSON(w, http.StatusOK, app)
}

// handleListApplications lists applications newest first.
// Query: status, type_id, before, limit.
func (r *Router) handleListApplications(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	filter := storage.ApplicationFilter{Limit: parseLimit(req, 50, 200), BeforeID: parseBeforeID(req)}

	if s := q.Get("status"); s != "" {
		status := domain.ApplicationStatus(s)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	if s := q.Get("type_id"); s != "" {
		typeID, err := strconv.ParseInt(s, 10, 64)
		if err != nil || typeID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid type_id")
			return
		}
		filter.TypeID = typeID
	}

	apps, err := r.store.ListApplications(req.Context(), filter)
	if err != nil {
		writeFailure(w, req, err, "applications")
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (r *Router) handleGetApplication(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "application")
	if !ok {
		return
	}
	app, err := r.store.GetApplication(req.Context(), id)
	if err != nil {
		writeFailure(w, req, err, "application")
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// ReviewResponse reports the new state and what follow-ups happened
type ReviewResponse struct {
	Application *domain.Application `json:"application"`
	RoleGranted bool                `json:"role_granted"`
	EmailSent   bool                `json:"email_sent"`
}

// handleReviewApplication moves an application to a new status. Approval grants
// the type's Discord role; approval and rejection email the applicant.
func (r *Router) handleReviewApplication(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "application")
	if !ok {
		return
	}
	var review domain.ApplicationReview
	if !decodeJSON(w, req, &review) {
		return
	}
	if !review.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if review.Status == domain.ApplicationWithdrawn {
		writeError(w, http.StatusBadRequest, "only the applicant can withdraw an application")
		return
	}

	ac := authFrom(req)
	app, err := r.store.ReviewApplication(req.Context(), id, review, ac.actorID())
	if err != nil {
		writeFailure(w, req, err, "application")
		return
	}

	idStr := strconv.FormatInt(app.ID, 10)
	r.audit(req, ac, domain.AuditApplicationReview, domain.SeverityInfo, "application", idStr,
		map[string]any{"status": app.Status, "type": app.TypeName})
	r.publish(req.Context(), domain.NewEvent(domain.EventApplicationReviewed, applicationEvent(app, ac.user.Username)))

	resp := ReviewResponse{Application: app}
	switch app.Status {
	case domain.ApplicationApproved:
		resp.RoleGranted = r.grantApplicationRole(req, ac, app)
		resp.EmailSent = r.emailApplicant(req.Context(), app, mail.TemplateApplicationApproved)
	case domain.ApplicationRejected:
		resp.EmailSent = r.emailApplicant(req.Context(), app, mail.TemplateApplicationRejected)
	}
	writeJSON(w, http.StatusOK, resp)
}

// grantApplicationRole gives the applicant the Discord role tied to the application type
func (r *Router) grantApplicationRole(req *http.Request, ac *authContext, app *domain.Application) bool {
	if r.roles == nil || app.DiscordID == "" {
		return false
	}
	appType, err := r.store.GetApplicationType(req.Context(), app.TypeID)
	if err != nil {
		zap.L().Error("loading application type for role grant", zap.Int64("type_id", app.TypeID), zap.Error(err))
		return false
	}
	if appType.DiscordRoleID == "" {
		return false
	}

	if err := r.roles.GrantRole(req.Context(), app.DiscordID, appType.DiscordRoleID); err != nil {
		zap.L().Warn("granting discord role",
			zap.Int64("application_id", app.ID),
			zap.String("discord_id", app.DiscordID),
			zap.Error(err))
		r.audit(req, ac, domain.AuditDiscordGrant, domain.SeverityWarning, "application", strconv.FormatInt(app.ID, 10),
			map[string]any{"discord_id": app.DiscordID, "role_id": appType.DiscordRoleID, "error": err.Error()})
		return false
	}
	r.audit(req, ac, domain.AuditDiscordGrant, domain.SeverityInfo, "application", strconv.FormatInt(app.ID, 10),
		map[string]any{"discord_id": app.DiscordID, "role_id": appType.DiscordRoleID})
	return true
}

// emailApplicant sends one of the application templates when the applicant left an address
func (r *Router) emailApplicant(ctx context.Context, app *domain.Application, template string) bool {
	if r.mailer == nil || !r.mailer.Enabled() || app.ApplicantEmail == "" {
		return false
	}
	data := ApplicationEmail{ApplicantName: app.ApplicantName, TypeName: app.TypeName, ReviewNotes: app.ReviewNotes}
	if _, err := r.mailer.SendTemplate(ctx, template, []string{app.ApplicantEmail}, data); err != nil {
		zap.L().Warn("emailing applicant",
			zap.Int64("application_id", app.ID),
			zap.String("template", template),
			zap.Error(err))
		return false
	}
	return true
}

func applicationEvent(app *domain.Application, reviewer string) domain.ApplicationEvent {
	return domain.ApplicationEvent{
		ApplicationID: app.ID,
		TypeName:      app.TypeName,
		ApplicantName: app.ApplicantName,
		Status:        app.Status,
		ReviewedBy:    reviewer,
	}
}

// --- Application types ---

func (r *Router) handleListApplicationTypes(w http.ResponseWriter, req *http.Request) {
	types, err := r.store.ListApplicationTypes(req.Context(), false)
	if err != nil {
		writeFailure(w, req, err, "application types")
		return
	}
	if types == nil {
		types = []domain.ApplicationType{}
	}
	writeJSON(w, http.StatusOK, types)
}

func (r *Router) handleCreateApplicationType(w http.ResponseWriter, req *http.Request) {
	t := domain.ApplicationType{Active: true}
	if !decodeJSON(w, req, &t) {
		return
	}
	if err := t.Validate(); err != nil {
		writeFailure(w, req, err, "application type")
		return
	}
	if t.Questions == nil {
		t.Questions = []domain.Question{}
	}
	if err := r.store.CreateApplicationType(req.Context(), &t); err != nil {
		writeFailure(w, req, err, "application type")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (r *Router) handleUpdateApplicationType(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "application type")
	if !ok {
		return
	}
	var t domain.ApplicationType
	if !decodeJSON(w, req, &t) {
		return
	}
	t.ID = id
	if err := t.Validate(); err != nil {
		writeFailure(w, req, err, "application type")
		return
	}
	if t.Questions == nil {
		t.Questions = []domain.Question{}
	}
	if err := r.store.UpdateApplicationType(req.Context(), &t); err != nil {
		writeFailure(w, req, err, "application type")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteApplicationType deletes a type, or deactivates it when it has submissions
func (r *Router) handleDeleteApplicationType(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "application type")
	if !ok {
		return
	}
	if err := r.store.DeleteApplicationType(req.Context(), id); err != nil {
		writeFailure(w, req, err, "application type")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "application type removed"})
}
