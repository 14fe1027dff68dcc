package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/collector"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// apiError carries an HTTP status through code paths that return plain errors
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &apiError{status: http.StatusBadRequest, msg: msg}
}

func forbidden(msg string) error {
	return &apiError{status: http.StatusForbidden, msg: msg}
}

func unavailable(msg string) error {
	return &apiError{status: http.StatusServiceUnavailable, msg: msg}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps a service or store error to a status code. Unknown errors
// are logged and hidden behind a generic message.
func writeFailure(w http.ResponseWriter, req *http.Request, err error, what string) {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		writeError(w, ae.status, ae.msg)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, storage.ErrChatClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("what", what),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process "+what)
	}
}

// decodeJSON reads a bounded JSON body into v, writing a 400 on failure
func decodeJSON(w http.ResponseWriter, req *http.Request, v any) bool {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// parseID parses an ID from the URL path
func parseID(req *http.Request, param string) (int64, error) {
	idStr := req.PathValue(param)
	return strconv.ParseInt(idStr, 10, 64)
}

// pathID parses an ID path value, writing a 400 naming the entity on failure
func pathID(w http.ResponseWriter, req *http.Request, what string) (int64, bool) {
	id, err := parseID(req, "id")
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+what+" id")
		return 0, false
	}
	return id, true
}

// handleHealth reports whether the database answers
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetServers returns the live status of every configured server
func (r *Router) handleGetServers(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.statuses())
}

// handleGetServerStatus returns current status for a server
func (r *Router) handleGetServerStatus(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "server")
	if !ok {
		return
	}

	if r.manager == nil {
		writeError(w, http.StatusServiceUnavailable, "server monitoring is not running")
		return
	}
	status := r.manager.GetServerStatus(id)
	if status == nil {
		writeError(w, http.StatusNotFound, "server status not available")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleJoinCodeLookup asks the CFX server list about a join code
func (r *Router) handleJoinCodeLookup(w http.ResponseWriter, req *http.Request) {
	if r.serverList == nil {
		writeError(w, http.StatusServiceUnavailable, "server list lookup not configured")
		return
	}
	listing, err := r.serverList.Lookup(req.Context(), req.PathValue("code"))
	switch {
	case errors.Is(err, collector.ErrInvalidJoinCode):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, collector.ErrServerNotFound):
		writeError(w, http.StatusNotFound, "no server is listed under that join code")
	case err != nil:
		zap.L().Warn("join code lookup failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "server list unavailable")
	default:
		writeJSON(w, http.StatusOK, listing)
	}
}

// PublicServer is a server status without player identifiers
type PublicServer struct {
	ServerID    int64     `json:"server_id"`
	Name        string    `json:"name"`
	JoinCode    string    `json:"join_code,omitempty"`
	Hostname    string    `json:"hostname,omitempty"`
	Online      bool      `json:"online"`
	PlayerCount int       `json:"player_count"`
	MaxPlayers  int       `json:"max_players"`
	LastUpdated time.Time `json:"last_updated"`
}

// PublicStatusResponse is what the public site's status widget shows
type PublicStatusResponse struct {
	Servers    []PublicServer    `json:"servers"`
	CFX        *domain.CFXStatus `json:"cfx,omitempty"`
	KillSwitch struct {
		Active bool   `json:"active"`
		Reason string `json:"reason,omitempty"`
	} `json:"kill_switch"`
}

// handlePublicStatus combines game servers, the CFX platform and the kill switch
func (r *Router) handlePublicStatus(w http.ResponseWriter, req *http.Request) {
	var resp PublicStatusResponse

	joinCodes := make(map[int64]string)
	if r.manager != nil {
		for _, srv := range r.manager.Servers() {
			joinCodes[srv.ID] = srv.JoinCode
		}
	}
	resp.Servers = []PublicServer{}
	for _, st := range r.statuses() {
		resp.Servers = append(resp.Servers, PublicServer{
			ServerID:    st.ServerID,
			Name:        st.Name,
			JoinCode:    joinCodes[st.ServerID],
			Hostname:    domain.CleanPlayerName(st.Hostname),
			Online:      st.Online,
			PlayerCount: st.PlayerCount,
			MaxPlayers:  st.MaxPlayers,
			LastUpdated: st.LastUpdated,
		})
	}

	if r.cfx != nil {
		cfx, err := r.cfx.Check(req.Context())
		if err != nil {
			zap.L().Warn("cfx status unavailable", zap.Error(err))
		}
		resp.CFX = cfx
	}

	ks, err := r.store.GetKillSwitch(req.Context())
	if err != nil {
		writeFailure(w, req, err, "status")
		return
	}
	resp.KillSwitch.Active = ks.Active
	resp.KillSwitch.Reason = ks.Reason

	writeJSON(w, http.StatusOK, resp)
}

// statuses returns the monitor's statuses, or none when monitoring is off
func (r *Router) statuses() []domain.ServerStatus {
	if r.manager == nil {
		return []domain.ServerStatus{}
	}
	return r.manager.GetAllStatuses()
}
