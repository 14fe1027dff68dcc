package api

import (
	"context"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/time/rate"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/auth"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/discord"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/events"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/mail"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/media"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/payments"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
)

// ServerMonitor is the live view of the game servers
type ServerMonitor interface {
	Servers() []domain.Server
	GetServerStatus(serverID int64) *domain.ServerStatus
	GetAllStatuses() []domain.ServerStatus
	ExecuteRcon(serverID int64, command string) (string, error)
	HasRconAccess(serverID int64) bool
}

// StatusChecker reports the CFX platform status
type StatusChecker interface {
	Check(ctx context.Context) (*domain.CFXStatus, error)
}

// JoinCodeLookup resolves cfx.re join codes
type JoinCodeLookup interface {
	Lookup(ctx context.Context, joinCode string) (*domain.ServerListing, error)
}

// StreamLister returns partners' live streams
type StreamLister interface {
	LiveStreams(ctx context.Context) ([]domain.Stream, error)
}

// RoleManager changes Discord guild roles
type RoleManager interface {
	Sync(ctx context.Context) (*discord.SyncReport, error)
	GrantRole(ctx context.Context, discordID, roleID string) error
}

// EventSubscriber delivers bus events to a handler
type EventSubscriber interface {
	Subscribe(handler func(domain.Event)) (func(), error)
}

// Deps are the router's collaborators. Integrations that are not configured
// are left nil and their endpoints answer 503.
type Deps struct {
	Store      *storage.Store
	Auth       *auth.Service
	Servers    ServerMonitor
	CFX        StatusChecker
	ServerList JoinCodeLookup
	Streams    StreamLister
	Roles      RoleManager
	Payments   *payments.Service
	Mailer     *mail.Mailer
	Templates  *mail.Templates
	Media      *media.Store
	Publisher  events.Publisher
	StaticDir  string
	PublicURL  string

	// TrustedProxies are the peers whose forwarding headers name the client
	TrustedProxies []netip.Prefix
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux        *http.ServeMux
	store      *storage.Store
	auth       *auth.Service
	manager    ServerMonitor
	cfx        StatusChecker
	serverList JoinCodeLookup
	streams    StreamLister
	roles      RoleManager
	payments   *payments.Service
	mailer     *mail.Mailer
	templates  *mail.Templates
	media      *media.Store
	publisher  events.Publisher
	wsHub      *WebSocketHub
	staticDir  string
	publicURL  string
	functions  map[string]map[string]functionAction

	trustedProxies []netip.Prefix

	loginLimiter    *ipLimiter
	submitLimiter   *ipLimiter
	chatLimiter     *ipLimiter
	messageLimiter  *ipLimiter
	checkoutLimiter *ipLimiter

	plain   http.Handler
	handler http.Handler
}

// NewRouter creates a new HTTP router
func NewRouter(deps Deps) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		store:      deps.Store,
		auth:       deps.Auth,
		manager:    deps.Servers,
		cfx:        deps.CFX,
		serverList: deps.ServerList,
		streams:    deps.Streams,
		roles:      deps.Roles,
		payments:   deps.Payments,
		mailer:     deps.Mailer,
		templates:  deps.Templates,
		media:      deps.Media,
		publisher:  deps.Publisher,
		wsHub:      NewWebSocketHub(),
		staticDir:  deps.StaticDir,
		publicURL:  strings.TrimSuffix(deps.PublicURL, "/"),

		trustedProxies: deps.TrustedProxies,

		loginLimiter:    newIPLimiter(rate.Every(6*time.Second), 10),
		submitLimiter:   newIPLimiter(rate.Every(10*time.Minute), 3),
		chatLimiter:     newIPLimiter(rate.Every(time.Minute), 3),
		messageLimiter:  newIPLimiter(rate.Every(time.Second), 10),
		checkoutLimiter: newIPLimiter(rate.Every(10*time.Second), 5),
	}
	if r.templates == nil {
		r.templates = mail.NewTemplates()
	}
	r.functions = r.registerFunctions()

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.rateLimited(r.loginLimiter, r.handleLogin))
	r.mux.HandleFunc("POST /api/auth/logout", r.handleLogout)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)
	r.mux.HandleFunc("POST /api/auth/change-password", r.requireAuth(r.handleChangePassword))

	// Staff accounts and roles
	r.mux.HandleFunc("GET /api/users", r.requirePermission(domain.PermStaffManage, r.handleListUsers))
	r.mux.HandleFunc("POST /api/users", r.requirePermission(domain.PermStaffManage, r.handleCreateUser))
	r.mux.HandleFunc("PATCH /api/users/{id}", r.requirePermission(domain.PermStaffManage, r.handleUpdateUser))
	r.mux.HandleFunc("DELETE /api/users/{id}", r.requirePermission(domain.PermStaffManage, r.handleDeleteUser))
	r.mux.HandleFunc("POST /api/users/{id}/reset-password", r.requirePermission(domain.PermStaffManage, r.handleResetUserPassword))

	r.mux.HandleFunc("GET /api/permissions", r.requireAuth(r.handleListPermissions))
	r.mux.HandleFunc("GET /api/staff-roles", r.requirePermission(domain.PermStaffManage, r.handleListStaffRoles))
	r.mux.HandleFunc("POST /api/staff-roles", r.requirePermission(domain.PermStaffManage, r.handleCreateStaffRole))
	r.mux.HandleFunc("PUT /api/staff-roles/{id}", r.requirePermission(domain.PermStaffManage, r.handleUpdateStaffRole))
	r.mux.HandleFunc("DELETE /api/staff-roles/{id}", r.requirePermission(domain.PermStaffManage, r.handleDeleteStaffRole))
	r.mux.HandleFunc("PUT /api/staff-roles/{id}/permissions", r.requirePermission(domain.PermStaffManage, r.handleSetRolePermissions))

	// Public site
	r.mux.HandleFunc("GET /api/public/rules", r.handlePublicRules)
	r.mux.HandleFunc("GET /api/public/team", r.handlePublicTeam)
	r.mux.HandleFunc("GET /api/public/partners", r.handlePublicPartners)
	r.mux.HandleFunc("GET /api/public/application-types", r.handlePublicApplicationTypes)
	r.mux.HandleFunc("GET /api/public/packages", r.handlePublicPackages)
	r.mux.HandleFunc("GET /api/public/status", r.handlePublicStatus)
	r.mux.HandleFunc("GET /api/public/streams", r.handlePublicStreams)

	// Applications
	r.mux.HandleFunc("POST /api/public/applications", r.rateLimited(r.submitLimiter, r.handleSubmitApplication))
	r.mux.HandleFunc("POST /api/public/applications/{id}/withdraw", r.handleWithdrawApplication)
	r.mux.HandleFunc("GET /api/applications", r.requirePermission(domain.PermApplicationsView, r.handleListApplications))
	r.mux.HandleFunc("GET /api/applications/{id}", r.requirePermission(domain.PermApplicationsView, r.handleGetApplication))
	r.mux.HandleFunc("POST /api/applications/{id}/review", r.requirePermission(domain.PermApplicationsReview, r.handleReviewApplication))
	r.mux.HandleFunc("GET /api/application-types", r.requirePermission(domain.PermApplicationsManage, r.handleListApplicationTypes))
	r.mux.HandleFunc("POST /api/application-types", r.requirePermission(domain.PermApplicationsManage, r.handleCreateApplicationType))
	r.mux.HandleFunc("PUT /api/application-types/{id}", r.requirePermission(domain.PermApplicationsManage, r.handleUpdateApplicationType))
	r.mux.HandleFunc("DELETE /api/application-types/{id}", r.requirePermission(domain.PermApplicationsManage, r.handleDeleteApplicationType))

	// Rules
	r.mux.HandleFunc("GET /api/rule-categories", r.requirePermission(domain.PermRulesManage, r.handleListRuleCategories))
	r.mux.HandleFunc("POST /api/rule-categories", r.requirePermission(domain.PermRulesManage, r.handleCreateRuleCategory))
	r.mux.HandleFunc("PUT /api/rule-categories/{id}", r.requirePermission(domain.PermRulesManage, r.handleUpdateRuleCategory))
	r.mux.HandleFunc("DELETE /api/rule-categories/{id}", r.requirePermission(domain.PermRulesManage, r.handleDeleteRuleCategory))
	r.mux.HandleFunc("POST /api/rules", r.requirePermission(domain.PermRulesManage, r.handleCreateRule))
	r.mux.HandleFunc("PUT /api/rules/{id}", r.requirePermission(domain.PermRulesManage, r.handleUpdateRule))
	r.mux.HandleFunc("DELETE /api/rules/{id}", r.requirePermission(domain.PermRulesManage, r.handleDeleteRule))

	// Team and partner media
	r.mux.HandleFunc("GET /api/team", r.requirePermission(domain.PermTeamManage, r.handleListTeam))
	r.mux.HandleFunc("POST /api/team", r.requirePermission(domain.PermTeamManage, r.handleCreateTeamMember))
	r.mux.HandleFunc("PUT /api/team/{id}", r.requirePermission(domain.PermTeamManage, r.handleUpdateTeamMember))
	r.mux.HandleFunc("DELETE /api/team/{id}", r.requirePermission(domain.PermTeamManage, r.handleDeleteTeamMember))
	r.mux.HandleFunc("POST /api/team/{id}/avatar", r.requirePermission(domain.PermTeamManage, r.handleUploadAvatar))
	r.mux.HandleFunc("POST /api/partners/{id}/logo", r.requirePermission(domain.PermPartnersManage, r.handleUploadPartnerLogo))

	// Live chat
	r.mux.HandleFunc("POST /api/public/chat", r.rateLimited(r.chatLimiter, r.handleStartChat))
	r.mux.HandleFunc("GET /api/public/chat/{id}/messages", r.handleVisitorMessages)
	r.mux.HandleFunc("POST /api/public/chat/{id}/messages", r.rateLimited(r.messageLimiter, r.handleVisitorSend))
	r.mux.HandleFunc("POST /api/public/chat/{id}/close", r.handleVisitorClose)
	r.mux.HandleFunc("GET /api/chat/sessions", r.requirePermission(domain.PermChatRespond, r.handleListChats))
	r.mux.HandleFunc("GET /api/chat/sessions/{id}", r.requirePermission(domain.PermChatRespond, r.handleGetChat))
	r.mux.HandleFunc("POST /api/chat/sessions/{id}/messages", r.requirePermission(domain.PermChatRespond, r.handleStaffReply))
	r.mux.HandleFunc("POST /api/chat/sessions/{id}/close", r.requirePermission(domain.PermChatRespond, r.handleStaffClose))
	r.mux.HandleFunc("GET /api/chat/missed", r.requirePermission(domain.PermChatRespond, r.handleListMissedChats))

	// Analytics
	r.mux.HandleFunc("GET /api/analytics/dashboard", r.requirePermission(domain.PermAnalyticsView, r.handleDashboard))
	r.mux.HandleFunc("GET /api/analytics/servers/{id}/stats", r.requirePermission(domain.PermAnalyticsView, r.handleServerStats))
	r.mux.HandleFunc("GET /api/analytics/servers/{id}/history", r.requirePermission(domain.PermAnalyticsView, r.handleServerHistory))
	r.mux.HandleFunc("GET /api/analytics/finance", r.requirePermission(domain.PermAnalyticsView, r.handleFinancialSummary))
	r.mux.HandleFunc("GET /api/analytics/revenue", r.requirePermission(domain.PermAnalyticsView, r.handleRevenueByMonth))

	// Game servers
	r.mux.HandleFunc("GET /api/servers", r.requireAuth(r.handleGetServers))
	r.mux.HandleFunc("GET /api/servers/{id}/status", r.requireAuth(r.handleGetServerStatus))
	r.mux.HandleFunc("GET /api/servers/{id}/rcon-status", r.requireAuth(r.handleRconStatus))
	r.mux.HandleFunc("POST /api/servers/{id}/rcon", r.requirePermission(domain.PermServersRcon, r.handleRconCommand))
	r.mux.HandleFunc("GET /api/join-codes/{code}", r.requireAuth(r.handleJoinCodeLookup))

	// Payments
	r.mux.HandleFunc("POST /api/public/checkout", r.rateLimited(r.checkoutLimiter, r.handleCheckout))
	r.mux.HandleFunc("POST /api/webhooks/stripe", r.handleStripeWebhook)
	r.mux.HandleFunc("GET /api/packages", r.requirePermission(domain.PermPaymentsManage, r.handleListPackages))
	r.mux.HandleFunc("POST /api/packages", r.requirePermission(domain.PermPaymentsManage, r.handleCreatePackage))
	r.mux.HandleFunc("PUT /api/packages/{id}", r.requirePermission(domain.PermPaymentsManage, r.handleUpdatePackage))
	r.mux.HandleFunc("DELETE /api/packages/{id}", r.requirePermission(domain.PermPaymentsManage, r.handleDeletePackage))
	r.mux.HandleFunc("GET /api/payments", r.requirePermission(domain.PermPaymentsManage, r.handleListPayments))
	r.mux.HandleFunc("GET /api/subscriptions", r.requirePermission(domain.PermPaymentsManage, r.handleListSubscriptions))

	// Security
	r.mux.HandleFunc("GET /api/security/audit-log", r.requirePermission(domain.PermSecurityManage, r.handleListAuditLog))
	r.mux.HandleFunc("GET /api/security/kill-switch", r.requirePermission(domain.PermSecurityManage, r.handleGetKillSwitch))
	r.mux.HandleFunc("PUT /api/security/kill-switch", r.requirePermission(domain.PermSecurityManage, r.handleSetKillSwitch))

	// Email templates
	r.mux.HandleFunc("GET /api/email-templates", r.requirePermission(domain.PermEmailManage, r.handleListEmailTemplates))
	r.mux.HandleFunc("PUT /api/email-templates/{name}", r.requirePermission(domain.PermEmailManage, r.handleSaveEmailTemplate))
	r.mux.HandleFunc("DELETE /api/email-templates/{name}", r.requirePermission(domain.PermEmailManage, r.handleDeleteEmailTemplate))
	r.mux.HandleFunc("POST /api/email-templates/{name}/preview", r.requirePermission(domain.PermEmailManage, r.handlePreviewEmailTemplate))

	// Function calls
	r.mux.HandleFunc("POST /api/functions/{name}", r.requireAuth(r.handleFunction))

	// WebSocket endpoints
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)
	r.mux.HandleFunc("GET /ws/chat", r.handleChatWebSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	// Uploaded images
	if r.media != nil {
		r.mux.Handle("GET /uploads/", http.StripPrefix(media.PublicPrefix, noDirListing(http.FileServer(http.Dir(r.media.Dir())))))
	}

	// Static files - only serve if staticDir is configured
	if r.staticDir != "" {
		r.mux.HandleFunc("GET /", r.handleStatic)
	}

	r.plain = r.accessLog(cors(r.killSwitchGuard(r.mux)))
	r.handler = gzhttp.GzipHandler(r.plain)
	return r
}

// ServeHTTP implements http.Handler. WebSocket upgrades skip compression.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/ws" || strings.HasPrefix(req.URL.Path, "/ws/") {
		r.plain.ServeHTTP(w, req)
		return
	}
	r.handler.ServeHTTP(w, req)
}

// StartWebSocketHub starts the hub and feeds it every event published on the bus.
// The returned func unsubscribes and stops the hub.
func (r *Router) StartWebSocketHub(sub EventSubscriber) (func(), error) {
	go r.wsHub.Run()

	unsubscribe, err := sub.Subscribe(r.wsHub.Broadcast)
	if err != nil {
		r.wsHub.Stop()
		return nil, err
	}
	return func() {
		unsubscribe()
		r.wsHub.Stop()
	}, nil
}

// noDirListing hides directory indexes of a file server
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "" || strings.HasSuffix(req.URL.Path, "/") {
			http.NotFound(w, req)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// handleStatic serves static files from the configured directory
// For SPA support, serves index.html for any path that doesn't match a file
func (r *Router) handleStatic(w http.ResponseWriter, req *http.Request) {
	// Unknown API paths should not fall back to the SPA
	if strings.HasPrefix(req.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	path := filepath.Clean(req.URL.Path)
	if path == "/" {
		path = "/index.html"
	}

	fullPath := filepath.Join(r.staticDir, path)

	// Security: ensure the path is within staticDir
	absStaticDir, _ := filepath.Abs(r.staticDir)
	absPath, _ := filepath.Abs(fullPath)
	if !strings.HasPrefix(absPath, absStaticDir) {
		http.NotFound(w, req)
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		// SPA fallback: serve index.html for unknown paths
		fullPath = filepath.Join(r.staticDir, "index.html")
		if _, err := os.Stat(fullPath); err != nil {
			http.NotFound(w, req)
			return
		}
	}

	if contentType := getContentType(fullPath); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	// Hashed build assets can be cached; index.html must be revalidated
	if strings.HasPrefix(path, "/assets/") {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}

	http.ServeFile(w, req, fullPath)
}

// getContentType returns the content type for a file based on extension
func getContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js", ".mjs":
		return "application/javascript; charset=utf-8"
	case ".json", ".webmanifest":
		return "application/json; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".woff2":
		return "font/woff2"
	case ".ico":
		return "image/x-icon"
	default:
		return ""
	}
}
