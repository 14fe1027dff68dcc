package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/collector"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// maxRconCommand bounds a single console line
const maxRconCommand = 512

// RconRequest is the request body for RCON commands
type RconRequest struct {
	Command string `json:"command"`
}

// RconResponse is the response body for RCON commands
type RconResponse struct {
	Output string `json:"output"`
}

// handleRconCommand executes a console command on a server and audits it
func (r *Router) handleRconCommand(w http.ResponseWriter, req *http.Request) {
	serverID, ok := pathID(w, req, "server")
	if !ok {
		return
	}

	var rconReq RconRequest
	if !decodeJSON(w, req, &rconReq) {
		return
	}
	rconReq.Command = strings.TrimSpace(rconReq.Command)
	if rconReq.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	if len(rconReq.Command) > maxRconCommand || strings.ContainsAny(rconReq.Command, "\r\n") {
		writeError(w, http.StatusBadRequest, "command must be a single line of at most 512 characters")
		return
	}
	if r.manager == nil {
		writeError(w, http.StatusServiceUnavailable, "server monitoring is not running")
		return
	}

	ac := authFrom(req)
	output, err := r.manager.ExecuteRcon(serverID, rconReq.Command)
	details := map[string]any{"command": rconReq.Command}
	if err != nil {
		details["error"] = err.Error()
	}
	r.audit(req, ac, domain.AuditRconCommand, domain.SeverityWarning, "server", strconv.FormatInt(serverID, 10), details)

	switch {
	case errors.Is(err, collector.ErrServerNotFound):
		writeError(w, http.StatusNotFound, "server not found")
	case errors.Is(err, collector.ErrRconNotConfigured):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		zap.L().Warn("rcon command failed", zap.Int64("server_id", serverID), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, RconResponse{Output: output})
	}
}

// handleRconStatus returns whether RCON is available for a server
func (r *Router) handleRconStatus(w http.ResponseWriter, req *http.Request) {
	serverID, ok := pathID(w, req, "server")
	if !ok {
		return
	}
	hasRcon := r.manager != nil && r.manager.HasRconAccess(serverID)
	writeJSON(w, http.StatusOK, map[string]bool{"available": hasRcon})
}
