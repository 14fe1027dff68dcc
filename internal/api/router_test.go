package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/auth"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/discord"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/mail"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (f *fakeSender) Send(ctx context.Context, msg mail.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeSender) messages() []mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mail.Message(nil), f.sent...)
}

type grant struct{ discordID, roleID string }

type fakeRoles struct {
	mu     sync.Mutex
	grants []grant
	syncs  int
}

func (f *fakeRoles) Sync(ctx context.Context) (*discord.SyncReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return &discord.SyncReport{Checked: 3, Updated: 1}, nil
}

func (f *fakeRoles) GrantRole(ctx context.Context, discordID, roleID string) error {
	if discordID == "" || roleID == "" {
		return discord.ErrMissingID
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, grant{discordID, roleID})
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *capturePublisher) Publish(ctx context.Context, evt domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	t      *testing.T
	store  *storage.Store
	router *Router
	sender *fakeSender
	roles  *fakeRoles
	pub    *capturePublisher
}

func newTestEnv(t *testing.T, configure ...func(*Deps)) *testEnv {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{t: t, store: store, sender: &fakeSender{}, roles: &fakeRoles{}, pub: &capturePublisher{}}
	templates := mail.NewTemplates()
	deps := Deps{
		Store:     store,
		Auth:      auth.NewService("test-secret-with-enough-length", time.Hour),
		Roles:     env.roles,
		Mailer:    mail.NewMailer(env.sender, store, templates),
		Templates: templates,
		Publisher: env.pub,
	}
	for _, fn := range configure {
		fn(&deps)
	}
	env.router = NewRouter(deps)
	return env
}

// createStaff adds an account holding the given permissions through a fresh role
func (e *testEnv) createStaff(username string, isAdmin bool, perms ...domain.Permission) int64 {
	e.t.Helper()
	ctx := context.Background()
	hash, err := auth.HashPassword("correct-horse")
	require.NoError(e.t, err)

	var roleID *int64
	if len(perms) > 0 {
		role := &domain.StaffRole{Name: username + "-role", DisplayName: username, Permissions: perms}
		require.NoError(e.t, e.store.CreateStaffRole(ctx, role))
		roleID = &role.ID
	}
	id, err := e.store.CreateUser(ctx, storage.NewUser{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		StaffRoleID:  roleID,
	})
	require.NoError(e.t, err)
	return id
}

// login signs in through the API and returns the bearer token
func (e *testEnv) login(username string) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/auth/login", LoginRequest{Username: username, Password: "correct-horse"}, "")
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func (e *testEnv) do(method, path string, body any, token string, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) auditActions() []string {
	e.t.Helper()
	logs, err := e.store.ListAuditLogs(context.Background(), storage.AuditFilter{})
	require.NoError(e.t, err)
	var actions []string
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	return actions
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])
}

func TestLoginCheckLogout(t *testing.T) {
	env := newTestEnv(t)
	env.createStaff("jensen", false, domain.PermChatRespond)

	rec := env.do(http.MethodPost, "/api/auth/login", LoginRequest{Username: "jensen", Password: "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, env.auditActions(), domain.AuditLoginFailed)

	token := env.login("jensen")

	rec = env.do(http.MethodGet, "/api/auth/check", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, check["authenticated"])
	assert.Equal(t, "jensen", check["username"])
	assert.Equal(t, []any{string(domain.PermChatRespond)}, check["permissions"])

	rec = env.do(http.MethodPost, "/api/auth/logout", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The token still verifies but its session is revoked
	rec = env.do(http.MethodGet, "/api/auth/check", nil, token)
	assert.Equal(t, false, decodeBody[map[string]any](t, rec)["authenticated"])
	rec = env.do(http.MethodGet, "/api/chat/sessions", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePasswordClearsFlag(t *testing.T) {
	env := newTestEnv(t)
	env.createStaff("jensen", false)
	token := env.login("jensen")

	rec := env.do(http.MethodPost, "/api/auth/change-password",
		ChangePasswordRequest{CurrentPassword: "correct-horse", NewPassword: "short"}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/auth/change-password",
		ChangePasswordRequest{CurrentPassword: "correct-horse", NewPassword: "battery-staple"}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	newToken := decodeBody[map[string]any](t, rec)["token"].(string)

	rec = env.do(http.MethodGet, "/api/auth/check", nil, newToken)
	check := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, check["authenticated"])
	assert.Equal(t, false, check["password_change_required"])
}

func TestPermissionDeniedIsAudited(t *testing.T) {
	env := newTestEnv(t)
	env.createStaff("helper", false, domain.PermChatRespond)
	token := env.login("helper")

	rec := env.do(http.MethodGet, "/api/security/audit-log", nil, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "missing permission security.manage", decodeBody[map[string]string](t, rec)["error"])
	assert.Contains(t, env.auditActions(), domain.AuditPermissionDenied)

	rec = env.do(http.MethodGet, "/api/users", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeletedUserLosesAccess(t *testing.T) {
	env := newTestEnv(t)
	id := env.createStaff("leaver", false, domain.PermChatRespond)
	token := env.login("leaver")

	require.NoError(t, env.store.DeleteUser(context.Background(), id))
	rec := env.do(http.MethodGet, "/api/chat/sessions", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserManagement(t *testing.T) {
	env := newTestEnv(t)
	env.createStaff("lead", false, domain.PermStaffManage)
	token := env.login("lead")

	rec := env.do(http.MethodPost, "/api/users", CreateUserRequest{Username: "rookie", Password: "long-enough", IsAdmin: true}, token)
	assert.Equal(t, http.StatusForbidden, rec.Code, "only admins create admins")

	rec = env.do(http.MethodPost, "/api/users", CreateUserRequest{Username: "rookie", Password: "long-enough"}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/users", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeBody[[]UserResponse](t, rec)
	assert.Len(t, users, 2)
	assert.NotContains(t, rec.Body.String(), "password_hash")
	assert.Contains(t, env.auditActions(), domain.AuditUserCreated)
}

func TestStaffRoles(t *testing.T) {
	env := newTestEnv(t)
	env.createStaff("root", true)
	token := env.login("root")

	rec := env.do(http.MethodPost, "/api/staff-roles", domain.StaffRole{
		Name: "moderator", DisplayName: "Moderator", Color: "#ff0000",
		Permissions: []domain.Permission{domain.PermChatRespond},
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	role := decodeBody[domain.StaffRole](t, rec)

	rec = env.do(http.MethodPut, "/api/staff-roles/"+itoa(role.ID)+"/permissions",
		SetPermissionsRequest{Permissions: []domain.Permission{"bogus.perm"}}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPut, "/api/staff-roles/"+itoa(role.ID)+"/permissions",
		SetPermissionsRequest{Permissions: []domain.Permission{domain.PermChatRespond, domain.PermRulesManage}}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.ElementsMatch(t, []domain.Permission{domain.PermChatRespond, domain.PermRulesManage},
		decodeBody[domain.StaffRole](t, rec).Permissions)
}

func TestKillSwitchBlocksWrites(t *testing.T) {
	env := newTestEnv(t)
	env.createStaff("root", true)
	env.createStaff("mod", false, domain.PermRulesManage, domain.PermSecurityManage)
	adminToken := env.login("root")
	modToken := env.login("mod")

	rec := env.do(http.MethodPut, "/api/security/kill-switch", KillSwitchRequest{Active: true}, modToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a reason is required")

	rec = env.do(http.MethodPut, "/api/security/kill-switch", KillSwitchRequest{Active: true, Reason: "incident"}, modToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, env.pub.types(), domain.EventKillSwitch)

	category := domain.RuleCategory{Name: "General"}
	rec = env.do(http.MethodPost, "/api/rule-categories", category, modToken)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decodeBody[map[string]string](t, rec)["error"], "incident")
	assert.Contains(t, env.auditActions(), domain.AuditKillSwitchBlocked)

	// Reads, admins and sign-in keep working
	rec = env.do(http.MethodGet, "/api/rule-categories", nil, modToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPost, "/api/rule-categories", category, adminToken)
	assert.Equal(t, http.StatusCreated, rec.Code)
	env.login("mod")

	rec = env.do(http.MethodGet, "/api/public/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[PublicStatusResponse](t, rec)
	assert.True(t, status.KillSwitch.Active)
	assert.Equal(t, "incident", status.KillSwitch.Reason)

	rec = env.do(http.MethodPut, "/api/security/kill-switch", KillSwitchRequest{Active: false}, modToken)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPost, "/api/rule-categories", domain.RuleCategory{Name: "Roleplay"}, modToken)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t)
	var last int
	for i := 0; i < 11; i++ {
		rec := env.do(http.MethodPost, "/api/auth/login", LoginRequest{Username: "nobody", Password: "x"}, "")
		last = rec.Code
		if i < 10 {
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		} else {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestLoginRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	env := newTestEnv(t)
	var limited int
	for i := 0; i < 40; i++ {
		rec := env.do(http.MethodPost, "/api/auth/login", LoginRequest{Username: "nobody", Password: "x"}, "",
			"X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.GreaterOrEqual(t, limited, 25, "forwarded headers from an untrusted peer must not open new buckets")
}

func TestLoginRateLimitBehindTrustedProxy(t *testing.T) {
	// httptest requests come from 192.0.2.1
	env := newTestEnv(t, func(d *Deps) {
		d.TrustedProxies = []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")}
	})

	for i := 0; i < 11; i++ {
		rec := env.do(http.MethodPost, "/api/auth/login", LoginRequest{Username: "nobody", Password: "x"}, "",
			"X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "each forwarded client has its own bucket")
	}

	var last int
	for i := 0; i < 11; i++ {
		// the spoofed leftmost entry is ignored; the proxy appended the real hop
		rec := env.do(http.MethodPost, "/api/auth/login", LoginRequest{Username: "nobody", Password: "x"}, "",
			"X-Forwarded-For", fmt.Sprintf("10.9.9.%d, 198.51.100.7", i))
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestClientIP(t *testing.T) {
	r := &Router{trustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}}
	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct peer", "198.51.100.1:5000", "", "", "198.51.100.1"},
		{"untrusted peer ignores headers", "198.51.100.1:5000", "1.2.3.4", "5.6.7.8", "198.51.100.1"},
		{"trusted proxy forwards", "10.0.0.5:443", "203.0.113.9", "", "203.0.113.9"},
		{"rightmost untrusted hop", "10.0.0.5:443", "1.1.1.1, 203.0.113.9, 10.0.0.7", "", "203.0.113.9"},
		{"real ip header", "10.0.0.5:443", "", "203.0.113.10", "203.0.113.10"},
		{"trusted without headers", "10.0.0.5:443", "", "", "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, r.clientIP(req))
		})
	}
}

func TestAuditLogFilters(t *testing.T) {
	env := newTestEnv(t)
	env.createStaff("root", true)
	token := env.login("root")
	env.do(http.MethodPost, "/api/auth/login", LoginRequest{Username: "root", Password: "nope"}, "")

	rec := env.do(http.MethodGet, "/api/security/audit-log?severity=warning", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeBody[[]domain.AuditLog](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.AuditLoginFailed, logs[0].Action)

	rec = env.do(http.MethodGet, "/api/security/audit-log?severity=loud", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodGet, "/api/security/audit-log?since=yesterday", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStaticSPAFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>portal</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o644))

	env := newTestEnv(t, func(d *Deps) { d.StaticDir = dir })

	rec := env.do(http.MethodGet, "/apply/whitelist", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portal")
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	rec = env.do(http.MethodGet, "/assets/app.js", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/javascript"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")

	rec = env.do(http.MethodGet, "/api/does-not-exist", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicStatusWithoutMonitoring(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/public/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[PublicStatusResponse](t, rec)
	assert.Empty(t, status.Servers)
	assert.Nil(t, status.CFX)
	assert.False(t, status.KillSwitch.Active)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
