package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/discord"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/twitch"
)

// FunctionRequest is the body of every function call
type FunctionRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// functionCall is one invocation of a function action
type functionCall struct {
	req  *http.Request
	ac   *authContext
	data json.RawMessage
}

// decode unmarshals the call's data; a missing data field decodes as {}
func (c *functionCall) decode(v any) error {
	data := bytes.TrimSpace(c.data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return badRequest("invalid data: " + err.Error())
	}
	return nil
}

// functionAction is one action of a function. An empty perm only needs a signed-in user.
type functionAction struct {
	perm domain.Permission
	run  func(ctx context.Context, call *functionCall) (any, error)
}

// registerFunctions builds the function registry
func (r *Router) registerFunctions() map[string]map[string]functionAction {
	return map[string]map[string]functionAction{
		"partners": {
			"list":   {domain.PermPartnersManage, r.fnListPartners},
			"create": {domain.PermPartnersManage, r.fnCreatePartner},
			"update": {domain.PermPartnersManage, r.fnUpdatePartner},
			"delete": {domain.PermPartnersManage, r.fnDeletePartner},
		},
		"kill-switch": {
			"status": {domain.PermSecurityManage, r.fnKillSwitchStatus},
			"toggle": {domain.PermSecurityManage, r.fnKillSwitchToggle},
		},
		"security-log": {
			"log":  {"", r.fnSecurityLog},
			"list": {domain.PermSecurityManage, r.fnSecurityLogList},
		},
		"discord-sync": {
			"sync":       {domain.PermDiscordManage, r.fnDiscordSync},
			"grant-role": {domain.PermDiscordManage, r.fnDiscordGrant},
		},
		"send-email": {
			"send": {domain.PermEmailManage, r.fnSendEmail},
		},
		"cfx-status": {
			"get": {"", r.fnCFXStatus},
		},
		"server-stats": {
			"current": {domain.PermAnalyticsView, r.fnServerStatsCurrent},
			"history": {domain.PermAnalyticsView, r.fnServerStatsHistory},
		},
		"twitch-streams": {
			"live": {"", r.fnTwitchLive},
		},
	}
}

// handleFunction dispatches POST /api/functions/{name} to the named action
func (r *Router) handleFunction(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	actions, ok := r.functions[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown function "+name)
		return
	}

	var body FunctionRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	action, ok := actions[body.Action]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q for %s", body.Action, name))
		return
	}

	ac := authFrom(req)
	if action.perm != "" && !ac.perms.Has(action.perm) {
		r.denied(req, ac, action.perm)
		writeError(w, http.StatusForbidden, "missing permission "+string(action.perm))
		return
	}

	result, err := action.run(req.Context(), &functionCall{req: req, ac: ac, data: body.Data})
	if err != nil {
		writeFailure(w, req, err, name)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- partners ---

type partnerIDData struct {
	ID int64 `json:"id"`
}

func (r *Router) fnListPartners(ctx context.Context, call *functionCall) (any, error) {
	var data struct {
		ActiveOnly bool `json:"active_only"`
	}
	if err := call.decode(&data); err != nil {
		return nil, err
	}
	partners, err := r.store.ListPartners(ctx, data.ActiveOnly)
	if err != nil {
		return nil, err
	}
	if partners == nil {
		partners = []domain.Partner{}
	}
	return partners, nil
}

func (r *Router) fnCreatePartner(ctx context.Context, call *functionCall) (any, error) {
	p := domain.Partner{Active: true}
	if err := call.decode(&p); err != nil {
		return nil, err
	}
	if err := validatePartner(&p); err != nil {
		return nil, err
	}
	if err := r.store.CreatePartner(ctx, &p); err != nil {
		return nil, err
	}
	r.audit(call.req, call.ac, domain.AuditPartnerChanged, domain.SeverityInfo, "partner", strconv.FormatInt(p.ID, 10),
		map[string]any{"op": "create", "name": p.Name})
	return p, nil
}

func (r *Router) fnUpdatePartner(ctx context.Context, call *functionCall) (any, error) {
	var p domain.Partner
	if err := call.decode(&p); err != nil {
		return nil, err
	}
	if p.ID <= 0 {
		return nil, badRequest("id is required")
	}
	if err := validatePartner(&p); err != nil {
		return nil, err
	}
	if p.LogoURL == "" {
		// Logos are replaced through the upload endpoint; keep the current one
		current, err := r.store.GetPartner(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.LogoURL = current.LogoURL
	}
	if err := r.store.UpdatePartner(ctx, &p); err != nil {
		return nil, err
	}
	r.audit(call.req, call.ac, domain.AuditPartnerChanged, domain.SeverityInfo, "partner", strconv.FormatInt(p.ID, 10),
		map[string]any{"op": "update", "name": p.Name, "active": p.Active})
	return p, nil
}

func (r *Router) fnDeletePartner(ctx context.Context, call *functionCall) (any, error) {
	var data partnerIDData
	if err := call.decode(&data); err != nil {
		return nil, err
	}
	if data.ID <= 0 {
		return nil, badRequest("id is required")
	}
	if err := r.store.DeletePartner(ctx, data.ID); err != nil {
		return nil, err
	}
	r.audit(call.req, call.ac, domain.AuditPartnerChanged, domain.SeverityInfo, "partner", strconv.FormatInt(data.ID, 10),
		map[string]any{"op": "delete"})
	return map[string]any{"deleted": true, "id": data.ID}, nil
}

// --- kill-switch ---

func (r *Router) fnKillSwitchStatus(ctx context.Context, call *functionCall) (any, error) {
	return r.store.GetKillSwitch(ctx)
}

func (r *Router) fnKillSwitchToggle(ctx context.Context, call *functionCall) (any, error) {
	var data KillSwitchRequest
	if err := call.decode(&data); err != nil {
		return nil, err
	}
	return r.setKillSwitch(call.req, call.ac, data)
}

// --- security-log ---

// SecurityLogData is a security event reported by the dashboard itself
type SecurityLogData struct {
	Action     string         `json:"action"`
	Severity   string         `json:"severity"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Details    map[string]any `json:"details"`
}

// clientActionPrefix namespaces reported events so they cannot pose as server-written ones
const clientActionPrefix = "client."

func (r *Router) fnSecurityLog(ctx context.Context, call *functionCall) (any, error) {
	var data SecurityLogData
	if err := call.decode(&data); err != nil {
		return nil, err
	}
	data.Action = strings.TrimSpace(data.Action)
	if data.Action == "" || len(data.Action) > 64 {
		return nil, badRequest("action is required and must be at most 64 characters")
	}
	if data.Severity == "" {
		data.Severity = domain.SeverityInfo
	}
	if !domain.ValidSeverity(data.Severity) {
		return nil, badRequest("invalid severity")
	}
	if !strings.HasPrefix(data.Action, clientActionPrefix) {
		data.Action = clientActionPrefix + data.Action
	}

	entry := &domain.AuditLog{
		ActorID:    call.ac.actorID(),
		ActorName:  call.ac.user.Username,
		Action:     data.Action,
		TargetType: data.TargetType,
		TargetID:   data.TargetID,
		Details:    data.Details,
		IPAddress:  r.clientIP(call.req),
		Severity:   data.Severity,
	}
	if err := r.store.InsertAuditLog(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// SecurityLogQuery filters the security log
type SecurityLogQuery struct {
	Action   string     `json:"action"`
	Severity string     `json:"severity"`
	ActorID  *int64     `json:"actor_id"`
	Since    *time.Time `json:"since"`
	BeforeID *int64     `json:"before"`
	Limit    int        `json:"limit"`
}

func (r *Router) fnSecurityLogList(ctx context.Context, call *functionCall) (any, error) {
	var q SecurityLogQuery
	if err := call.decode(&q); err != nil {
		return nil, err
	}
	if q.Severity != "" && !domain.ValidSeverity(q.Severity) {
		return nil, badRequest("invalid severity")
	}
	return r.store.ListAuditLogs(ctx, storage.AuditFilter{
		Action:   q.Action,
		Severity: q.Severity,
		ActorID:  q.ActorID,
		Since:    q.Since,
		BeforeID: q.BeforeID,
		Limit:    q.Limit,
	})
}

// --- discord-sync ---

func (r *Router) fnDiscordSync(ctx context.Context, call *functionCall) (any, error) {
	if r.roles == nil {
		return nil, unavailable("discord is not configured")
	}
	report, err := r.roles.Sync(ctx)
	if err != nil {
		return nil, err
	}
	zap.L().Info("discord role sync requested",
		zap.String("by", call.ac.user.Username),
		zap.Int("updated", report.Updated),
		zap.Int("failures", len(report.Failures)))
	return report, nil
}

// GrantRoleData names the member and role for a one-off grant
type GrantRoleData struct {
	DiscordID string `json:"discord_id"`
	RoleID    string `json:"role_id"`
}

func (r *Router) fnDiscordGrant(ctx context.Context, call *functionCall) (any, error) {
	if r.roles == nil {
		return nil, unavailable("discord is not configured")
	}
	var data GrantRoleData
	if err := call.decode(&data); err != nil {
		return nil, err
	}
	err := r.roles.GrantRole(ctx, data.DiscordID, data.RoleID)
	if errors.Is(err, discord.ErrMissingID) {
		return nil, badRequest(err.Error())
	}
	details := map[string]any{"discord_id": data.DiscordID, "role_id": data.RoleID}
	if err != nil {
		details["error"] = err.Error()
		r.audit(call.req, call.ac, domain.AuditDiscordGrant, domain.SeverityWarning, "discord_member", data.DiscordID, details)
		return nil, err
	}
	r.audit(call.req, call.ac, domain.AuditDiscordGrant, domain.SeverityInfo, "discord_member", data.DiscordID, details)
	return map[string]bool{"granted": true}, nil
}

// --- send-email ---

// SendEmailData sends either a named template or an ad hoc markdown message
type SendEmailData struct {
	To       []string       `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
	Subject  string         `json:"subject"`
	Body     string         `json:"body"`
}

// maxRecipients bounds one send
const maxRecipients = 50

func (r *Router) fnSendEmail(ctx context.Context, call *functionCall) (any, error) {
	if r.mailer == nil || !r.mailer.Enabled() {
		return nil, unavailable("email is not configured")
	}
	var data SendEmailData
	if err := call.decode(&data); err != nil {
		return nil, err
	}
	if len(data.To) == 0 || len(data.To) > maxRecipients {
		return nil, badRequest(fmt.Sprintf("between 1 and %d recipients are required", maxRecipients))
	}
	for _, addr := range data.To {
		if _, err := mail.ParseAddress(addr); err != nil {
			return nil, badRequest("invalid recipient " + addr)
		}
	}

	var id string
	var err error
	switch {
	case data.Template != "":
		id, err = r.mailer.SendTemplate(ctx, data.Template, data.To, data.Data)
	case strings.TrimSpace(data.Subject) != "" && strings.TrimSpace(data.Body) != "":
		id, err = r.mailer.SendRaw(ctx, data.To, data.Subject, data.Body)
	default:
		return nil, badRequest("template, or subject and body, are required")
	}
	if err != nil {
		return nil, err
	}

	r.audit(call.req, call.ac, domain.AuditEmailSent, domain.SeverityInfo, "email", id,
		map[string]any{"template": data.Template, "recipients": len(data.To)})
	return map[string]string{"id": id}, nil
}

// --- cfx-status ---

func (r *Router) fnCFXStatus(ctx context.Context, call *functionCall) (any, error) {
	if r.cfx == nil {
		return nil, unavailable("cfx status is not configured")
	}
	return r.cfx.Check(ctx)
}

// --- server-stats ---

func (r *Router) fnServerStatsCurrent(ctx context.Context, call *functionCall) (any, error) {
	return r.statuses(), nil
}

// ServerHistoryData selects a server and window in hours
type ServerHistoryData struct {
	ServerID int64 `json:"server_id"`
	Hours    int   `json:"hours"`
}

// ServerHistory is the aggregate plus the samples behind it
type ServerHistory struct {
	Stats     *domain.ServerStats     `json:"stats"`
	Snapshots []domain.ServerSnapshot `json:"snapshots"`
}

func (r *Router) fnServerStatsHistory(ctx context.Context, call *functionCall) (any, error) {
	var data ServerHistoryData
	if err := call.decode(&data); err != nil {
		return nil, err
	}
	if data.ServerID <= 0 {
		return nil, badRequest("server_id is required")
	}
	if data.Hours <= 0 || data.Hours > 24*30 {
		data.Hours = 24
	}
	since := time.Now().UTC().Add(-time.Duration(data.Hours) * time.Hour)

	stats, err := r.store.GetServerStats(ctx, data.ServerID, since)
	if err != nil {
		return nil, err
	}
	snaps, err := r.store.GetSnapshots(ctx, data.ServerID, since, 0)
	if err != nil {
		return nil, err
	}
	return ServerHistory{Stats: stats, Snapshots: snaps}, nil
}

// --- twitch-streams ---

func (r *Router) fnTwitchLive(ctx context.Context, call *functionCall) (any, error) {
	if r.streams == nil {
		return []domain.Stream{}, nil
	}
	streams, err := r.streams.LiveStreams(ctx)
	if errors.Is(err, twitch.ErrNotConfigured) {
		return []domain.Stream{}, nil
	}
	if err != nil {
		return nil, err
	}
	return streams, nil
}
