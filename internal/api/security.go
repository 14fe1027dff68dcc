package api

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
)

// maxKillSwitchReason bounds the reason shown to blocked visitors
const maxKillSwitchReason = 500

// handleListAuditLog returns audit entries newest first.
// Query: action, severity, actor_id, since (RFC 3339), before, limit.
func (r *Router) handleListAuditLog(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	filter := storage.AuditFilter{
		Action:   q.Get("action"),
		Severity: q.Get("severity"),
		BeforeID: parseBeforeID(req),
		Limit:    parseLimit(req, 100, 500),
	}
	if filter.Severity != "" && !domain.ValidSeverity(filter.Severity) {
		writeError(w, http.StatusBadRequest, "invalid severity")
		return
	}
	if s := q.Get("actor_id"); s != "" {
		actor, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid actor_id")
			return
		}
		filter.ActorID = &actor
	}
	since, err := parseSince(req)
	if err != nil {
		writeFailure(w, req, err, "audit log")
		return
	}
	filter.Since = since

	logs, err := r.store.ListAuditLogs(req.Context(), filter)
	if err != nil {
		writeFailure(w, req, err, "audit log")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (r *Router) handleGetKillSwitch(w http.ResponseWriter, req *http.Request) {
	ks, err := r.store.GetKillSwitch(req.Context())
	if err != nil {
		writeFailure(w, req, err, "kill switch")
		return
	}
	writeJSON(w, http.StatusOK, ks)
}

// KillSwitchRequest turns the kill switch on or off
type KillSwitchRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

func (r *Router) handleSetKillSwitch(w http.ResponseWriter, req *http.Request) {
	var body KillSwitchRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	ks, err := r.setKillSwitch(req, authFrom(req), body)
	if err != nil {
		writeFailure(w, req, err, "kill switch")
		return
	}
	writeJSON(w, http.StatusOK, ks)
}

// setKillSwitch stores the new state, audits it as critical and broadcasts it
func (r *Router) setKillSwitch(req *http.Request, ac *authContext, body KillSwitchRequest) (*domain.KillSwitch, error) {
	reason := strings.TrimSpace(body.Reason)
	if body.Active && reason == "" {
		return nil, badRequest("a reason is required to activate the kill switch")
	}
	if len(reason) > maxKillSwitchReason {
		return nil, badRequest("reason is too long")
	}
	if !body.Active {
		reason = ""
	}

	ks, err := r.store.SetKillSwitch(req.Context(), body.Active, reason, ac.user.Username)
	if err != nil {
		return nil, err
	}

	zap.L().Warn("kill switch changed",
		zap.Bool("active", ks.Active),
		zap.String("reason", ks.Reason),
		zap.String("by", ac.user.Username))
	r.audit(req, ac, domain.AuditKillSwitch, domain.SeverityCritical, "kill_switch", "1",
		map[string]any{"active": ks.Active, "reason": ks.Reason})
	r.publish(req.Context(), domain.NewEvent(domain.EventKillSwitch, domain.KillSwitchEvent{
		Active:    ks.Active,
		Reason:    ks.Reason,
		UpdatedBy: ks.UpdatedBy,
	}))
	return ks, nil
}
