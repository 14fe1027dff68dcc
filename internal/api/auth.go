package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/auth"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
)

type ctxKey int

const authKey ctxKey = iota

// authContext is the verified identity behind a request
type authContext struct {
	claims *auth.Claims
	user   *storage.User
	perms  auth.Permissions
}

func (ac *authContext) actorID() *int64 {
	id := ac.user.ID
	return &id
}

// bearerToken extracts the token from the Authorization header
func bearerToken(req *http.Request) string {
	authHeader := req.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

// authenticate validates the request's bearer token
func (r *Router) authenticate(req *http.Request) (*authContext, error) {
	return r.authenticateToken(req.Context(), bearerToken(req))
}

// authenticateToken validates a JWT and the session it points at, then loads
// the account and its permissions. Account state comes from the store so a
// demoted or deleted user loses access immediately.
func (r *Router) authenticateToken(ctx context.Context, token string) (*authContext, error) {
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	claims, err := r.auth.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	sess, err := r.store.GetActiveSession(ctx, claims.SessionID())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, auth.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.UserID {
		return nil, auth.ErrInvalidToken
	}

	user, err := r.store.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, auth.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	perms, err := r.store.GetUserPermissions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &authContext{claims: claims, user: user, perms: auth.NewPermissions(user.IsAdmin, perms)}, nil
}

// authFrom returns the identity stored by requireAuth
func authFrom(req *http.Request) *authContext {
	ac, _ := req.Context().Value(authKey).(*authContext)
	return ac
}

// requireAuth is middleware that validates the token and session before calling the handler
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ac, err := r.authenticate(req)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				zap.L().Error("authenticating request", zap.Error(err))
			}
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, req.WithContext(context.WithValue(req.Context(), authKey, ac)))
	}
}

// requirePermission is middleware that authenticates and checks one permission
func (r *Router) requirePermission(perm domain.Permission, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		ac := authFrom(req)
		if !ac.perms.Has(perm) {
			r.denied(req, ac, perm)
			writeError(w, http.StatusForbidden, "missing permission "+string(perm))
			return
		}
		next(w, req)
	})
}

// denied records a permission failure in the security log
func (r *Router) denied(req *http.Request, ac *authContext, perm domain.Permission) {
	r.audit(req, ac, domain.AuditPermissionDenied, domain.SeverityWarning, "path", req.URL.Path,
		map[string]any{"permission": string(perm), "method": req.Method})
}

// audit appends to the security log; failures are logged, never returned
func (r *Router) audit(req *http.Request, ac *authContext, action, severity, targetType, targetID string, details map[string]any) {
	entry := &domain.AuditLog{
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		IPAddress:  r.clientIP(req),
		Severity:   severity,
	}
	if ac != nil {
		entry.ActorID = ac.actorID()
		entry.ActorName = ac.user.Username
	}
	if err := r.store.InsertAuditLog(req.Context(), entry); err != nil {
		zap.L().Error("writing audit log", zap.String("action", action), zap.Error(err))
	}
}

// publish sends an event on the bus when one is configured
func (r *Router) publish(ctx context.Context, evt domain.Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, evt); err != nil {
		zap.L().Warn("publishing event", zap.String("event", evt.Type), zap.Error(err))
	}
}

// LoginRequest is the request body for login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response body for successful login
type LoginResponse struct {
	Token                  string              `json:"token"`
	ExpiresAt              time.Time           `json:"expires_at"`
	Username               string              `json:"username"`
	IsAdmin                bool                `json:"is_admin"`
	StaffRole              string              `json:"staff_role,omitempty"`
	Permissions            []domain.Permission `json:"permissions"`
	PasswordChangeRequired bool                `json:"password_change_required"`
}

// handleLogin authenticates a user, opens a session and returns a JWT for it
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var login LoginRequest
	if !decodeJSON(w, req, &login) {
		return
	}

	if login.Username == "" || login.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := r.store.GetUserByUsername(req.Context(), login.Username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeFailure(w, req, err, "login")
		return
	}
	if err != nil || !auth.CheckPassword(login.Password, user.PasswordHash) {
		r.audit(req, nil, domain.AuditLoginFailed, domain.SeverityWarning, "user", login.Username, nil)
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
		return
	}

	token, expiresAt, err := r.openSession(req, user)
	if err != nil {
		writeFailure(w, req, err, "login")
		return
	}

	if err := r.store.UpdateUserLastLogin(req.Context(), user.ID); err != nil {
		zap.L().Warn("updating last login", zap.Error(err))
	}

	perms, err := r.store.GetUserPermissions(req.Context(), user.ID)
	if err != nil {
		writeFailure(w, req, err, "login")
		return
	}
	ac := &authContext{user: user, perms: auth.NewPermissions(user.IsAdmin, perms)}
	r.audit(req, ac, domain.AuditLogin, domain.SeverityInfo, "user", strconv.FormatInt(user.ID, 10), nil)

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:                  token,
		ExpiresAt:              expiresAt,
		Username:               user.Username,
		IsAdmin:                user.IsAdmin,
		StaffRole:              user.StaffRoleName,
		Permissions:            ac.perms.List(),
		PasswordChangeRequired: user.PasswordChangeRequired,
	})
}

// openSession stores a session row and signs a token pointing at it
func (r *Router) openSession(req *http.Request, user *storage.User) (string, time.Time, error) {
	sess := &storage.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		IPAddress: r.clientIP(req),
		UserAgent: req.UserAgent(),
		ExpiresAt: time.Now().UTC().Add(r.auth.TokenDuration()),
	}
	if err := r.store.CreateSession(req.Context(), sess); err != nil {
		return "", time.Time{}, err
	}
	return r.auth.GenerateToken(auth.TokenRequest{
		SessionID:              sess.ID,
		UserID:                 user.ID,
		Username:               user.Username,
		IsAdmin:                user.IsAdmin,
		PasswordChangeRequired: user.PasswordChangeRequired,
	})
}

// handleLogout revokes the session behind the token
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	ac, err := r.authenticate(req)
	if err == nil {
		if err := r.store.RevokeSession(req.Context(), ac.claims.SessionID()); err != nil && !errors.Is(err, storage.ErrNotFound) {
			writeFailure(w, req, err, "logout")
			return
		}
		r.wsHub.DropSession(ac.claims.SessionID())
		r.audit(req, ac, domain.AuditLogout, domain.SeverityInfo, "user", strconv.FormatInt(ac.user.ID, 10), nil)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuthCheck checks if the current token is valid
func (r *Router) handleAuthCheck(w http.ResponseWriter, req *http.Request) {
	ac, err := r.authenticate(req)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated":            true,
		"user_id":                  ac.user.ID,
		"username":                 ac.user.Username,
		"is_admin":                 ac.user.IsAdmin,
		"staff_role":               ac.user.StaffRoleName,
		"permissions":              ac.perms.List(),
		"password_change_required": ac.user.PasswordChangeRequired,
		"expires_at":               ac.claims.ExpiresAt.Time,
	})
}

// ChangePasswordRequest is the request body for password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleChangePassword lets users change their own password. Every other
// session of the account is revoked.
func (r *Router) handleChangePassword(w http.ResponseWriter, req *http.Request) {
	ac := authFrom(req)

	var body ChangePasswordRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if err := validatePassword(body.NewPassword); err != nil {
		writeFailure(w, req, err, "password")
		return
	}
	if !auth.CheckPassword(body.CurrentPassword, ac.user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(body.NewPassword)
	if err != nil {
		writeFailure(w, req, err, "password")
		return
	}
	if err := r.store.UpdateUserPassword(req.Context(), ac.user.ID, hash); err != nil {
		writeFailure(w, req, err, "password")
		return
	}
	revoked, err := r.store.RevokeUserSessions(req.Context(), ac.user.ID, ac.claims.SessionID())
	if err != nil {
		writeFailure(w, req, err, "password")
		return
	}
	r.wsHub.DropUser(ac.user.ID, ac.claims.SessionID())

	// Reissue for the same session with password_change_required cleared
	newToken, expiresAt, err := r.auth.GenerateToken(auth.TokenRequest{
		SessionID: ac.claims.SessionID(),
		UserID:    ac.user.ID,
		Username:  ac.user.Username,
		IsAdmin:   ac.user.IsAdmin,
	})
	if err != nil {
		writeFailure(w, req, err, "token")
		return
	}

	r.audit(req, ac, domain.AuditPasswordChanged, domain.SeverityInfo, "user", strconv.FormatInt(ac.user.ID, 10),
		map[string]any{"revoked_sessions": revoked})

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "password changed successfully",
		"token":      newToken,
		"expires_at": expiresAt,
	})
}

// UserResponse is a user without the password hash
type UserResponse struct {
	ID                     int64      `json:"id"`
	Username               string     `json:"username"`
	Email                  string     `json:"email,omitempty"`
	IsAdmin                bool       `json:"is_admin"`
	StaffRoleID            *int64     `json:"staff_role_id,omitempty"`
	StaffRole              string     `json:"staff_role,omitempty"`
	DiscordID              string     `json:"discord_id,omitempty"`
	NotifyChat             bool       `json:"notify_chat"`
	PasswordChangeRequired bool       `json:"password_change_required"`
	CreatedAt              time.Time  `json:"created_at"`
	LastLogin              *time.Time `json:"last_login,omitempty"`
}

func userResponse(u storage.User) UserResponse {
	return UserResponse{
		ID:                     u.ID,
		Username:               u.Username,
		Email:                  u.Email,
		IsAdmin:                u.IsAdmin,
		StaffRoleID:            u.StaffRoleID,
		StaffRole:              u.StaffRoleName,
		DiscordID:              u.DiscordID,
		NotifyChat:             u.NotifyChat,
		PasswordChangeRequired: u.PasswordChangeRequired,
		CreatedAt:              u.CreatedAt,
		LastLogin:              u.LastLogin,
	}
}

// handleListUsers returns all staff accounts
func (r *Router) handleListUsers(w http.ResponseWriter, req *http.Request) {
	users, err := r.store.ListUsers(req.Context())
	if err != nil {
		writeFailure(w, req, err, "users")
		return
	}

	response := make([]UserResponse, len(users))
	for i, u := range users {
		response[i] = userResponse(u)
	}
	writeJSON(w, http.StatusOK, response)
}

// CreateUserRequest is the request body for creating a staff account
type CreateUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	IsAdmin     bool   `json:"is_admin"`
	StaffRoleID *int64 `json:"staff_role_id,omitempty"`
	DiscordID   string `json:"discord_id"`
}

// handleCreateUser creates a staff account that must change its password on first login
func (r *Router) handleCreateUser(w http.ResponseWriter, req *http.Request) {
	ac := authFrom(req)

	var body CreateUserRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	body.Username = strings.TrimSpace(body.Username)
	if body.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if err := validatePassword(body.Password); err != nil {
		writeFailure(w, req, err, "user")
		return
	}
	if body.IsAdmin && !ac.user.IsAdmin {
		writeError(w, http.StatusForbidden, "only admins can create admins")
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		writeFailure(w, req, err, "user")
		return
	}

	id, err := r.store.CreateUser(req.Context(), storage.NewUser{
		Username:     body.Username,
		Email:        body.Email,
		PasswordHash: hash,
		IsAdmin:      body.IsAdmin,
		StaffRoleID:  body.StaffRoleID,
		DiscordID:    body.DiscordID,
	})
	if err != nil {
		writeFailure(w, req, err, "user")
		return
	}

	r.audit(req, ac, domain.AuditUserCreated, domain.SeverityInfo, "user", strconv.FormatInt(id, 10),
		map[string]any{"username": body.Username, "is_admin": body.IsAdmin})
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "message": "user created"})
}

// UpdateUserRequest is the request body for updating user properties; absent fields are kept
type UpdateUserRequest struct {
	Email       *string `json:"email,omitempty"`
	IsAdmin     *bool   `json:"is_admin,omitempty"`
	StaffRoleID *int64  `json:"staff_role_id,omitempty"`
	ClearRole   bool    `json:"clear_role,omitempty"`
	DiscordID   *string `json:"discord_id,omitempty"`
	NotifyChat  *bool   `json:"notify_chat,omitempty"`
}

// handleUpdateUser updates user properties
func (r *Router) handleUpdateUser(w http.ResponseWriter, req *http.Request) {
	ac := authFrom(req)
	userID, ok := pathID(w, req, "user")
	if !ok {
		return
	}

	var body UpdateUserRequest
	if !decodeJSON(w, req, &body) {
		return
	}

	user, err := r.store.GetUserByID(req.Context(), userID)
	if err != nil {
		writeFailure(w, req, err, "user")
		return
	}

	update := storage.UserUpdate{
		Email:       user.Email,
		StaffRoleID: user.StaffRoleID,
		DiscordID:   user.DiscordID,
		NotifyChat:  user.NotifyChat,
		IsAdmin:     user.IsAdmin,
	}
	if body.Email != nil {
		update.Email = strings.TrimSpace(*body.Email)
	}
	if body.DiscordID != nil {
		update.DiscordID = strings.TrimSpace(*body.DiscordID)
	}
	if body.NotifyChat != nil {
		update.NotifyChat = *body.NotifyChat
	}
	if body.StaffRoleID != nil {
		update.StaffRoleID = body.StaffRoleID
	}
	if body.ClearRole {
		update.StaffRoleID = nil
	}
	if body.IsAdmin != nil && *body.IsAdmin != user.IsAdmin {
		if !ac.user.IsAdmin {
			writeError(w, http.StatusForbidden, "only admins can change admin status")
			return
		}
		if user.ID == ac.user.ID {
			writeError(w, http.StatusForbidden, "cannot change your own admin status")
			return
		}
		update.IsAdmin = *body.IsAdmin
	}

	if err := r.store.UpdateUser(req.Context(), userID, update); err != nil {
		writeFailure(w, req, err, "user")
		return
	}

	severity := domain.SeverityInfo
	if update.IsAdmin != user.IsAdmin {
		severity = domain.SeverityCritical
	}
	r.audit(req, ac, domain.AuditUserUpdated, severity, "user", strconv.FormatInt(userID, 10),
		map[string]any{"username": user.Username, "is_admin": update.IsAdmin})
	writeJSON(w, http.StatusOK, map[string]string{"message": "user updated"})
}

// handleDeleteUser deletes a staff account
func (r *Router) handleDeleteUser(w http.ResponseWriter, req *http.Request) {
	ac := authFrom(req)
	userID, ok := pathID(w, req, "user")
	if !ok {
		return
	}

	// Prevent self-deletion
	if userID == ac.user.ID {
		writeError(w, http.StatusForbidden, "cannot delete yourself")
		return
	}

	user, err := r.store.GetUserByID(req.Context(), userID)
	if err != nil {
		writeFailure(w, req, err, "user")
		return
	}
	if user.IsAdmin && !ac.user.IsAdmin {
		writeError(w, http.StatusForbidden, "only admins can delete admins")
		return
	}
	if err := r.store.DeleteUser(req.Context(), userID); err != nil {
		writeFailure(w, req, err, "user")
		return
	}
	r.wsHub.DropUser(userID, "")

	r.audit(req, ac, domain.AuditUserDeleted, domain.SeverityWarning, "user", strconv.FormatInt(userID, 10),
		map[string]any{"username": user.Username})
	writeJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

// ResetPasswordRequest is the request body for admin password reset
type ResetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// handleResetUserPassword sets a temporary password and signs the user out everywhere
func (r *Router) handleResetUserPassword(w http.ResponseWriter, req *http.Request) {
	ac := authFrom(req)
	userID, ok := pathID(w, req, "user")
	if !ok {
		return
	}

	var body ResetPasswordRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if err := validatePassword(body.NewPassword); err != nil {
		writeFailure(w, req, err, "password")
		return
	}

	hash, err := auth.HashPassword(body.NewPassword)
	if err != nil {
		writeFailure(w, req, err, "password")
		return
	}
	if err := r.store.ResetUserPassword(req.Context(), userID, hash); err != nil {
		writeFailure(w, req, err, "user")
		return
	}
	if _, err := r.store.RevokeUserSessions(req.Context(), userID, ""); err != nil {
		writeFailure(w, req, err, "sessions")
		return
	}
	r.wsHub.DropUser(userID, "")

	r.audit(req, ac, domain.AuditPasswordChanged, domain.SeverityWarning, "user", strconv.FormatInt(userID, 10),
		map[string]any{"reset_by_staff": true})
	writeJSON(w, http.StatusOK, map[string]string{"message": "password reset"})
}
