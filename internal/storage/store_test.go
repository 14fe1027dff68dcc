package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// newTestStore opens a migrated SQLite database under a temp dir
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createUser(t *testing.T, s *Store, username string) int64 {
	t.Helper()
	id, err := s.CreateUser(context.Background(), NewUser{Username: username, PasswordHash: "hash"})
	require.NoError(t, err)
	return id
}

func TestMigrationVersion(t *testing.T) {
	s := newTestStore(t)
	version, dirty, err := s.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Migrating again is a no-op
	require.NoError(t, s.Migrate())
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	role := &domain.StaffRole{Name: "moderator", DisplayName: "Moderator", HierarchyLevel: 10, DiscordRoleID: "111"}
	require.NoError(t, s.CreateStaffRole(ctx, role))

	id, err := s.CreateUser(ctx, NewUser{Username: "jensen", Email: "jensen@example.com", PasswordHash: "hash", StaffRoleID: &role.ID})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, NewUser{Username: "jensen", PasswordHash: "hash"})
	assert.ErrorIs(t, err, ErrConflict)

	u, err := s.GetUserByUsername(ctx, "jensen")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "moderator", u.StaffRoleName)
	assert.True(t, u.PasswordChangeRequired)
	assert.Nil(t, u.LastLogin)

	require.NoError(t, s.UpdateUserPassword(ctx, id, "newhash"))
	require.NoError(t, s.UpdateUserLastLogin(ctx, id))
	u, err = s.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, u.PasswordChangeRequired)
	assert.NotNil(t, u.LastLogin)

	require.NoError(t, s.UpdateUser(ctx, id, UserUpdate{Email: "jensen@example.com", StaffRoleID: &role.ID, DiscordID: "123456789012345678", NotifyChat: true}))
	recipients, err := s.ListChatNotificationRecipients(ctx)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	withDiscord, err := s.ListUsersWithDiscord(ctx)
	require.NoError(t, err)
	require.Len(t, withDiscord, 1)

	_, err = s.GetUserByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteUserByUsername(ctx, "nobody"), ErrNotFound)
	require.NoError(t, s.DeleteUser(ctx, id))
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := createUser(t, s, "admin")

	now := time.Now().UTC()
	require.NoError(t, s.CreateSession(ctx, &Session{ID: "a", UserID: userID, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.CreateSession(ctx, &Session{ID: "b", UserID: userID, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.CreateSession(ctx, &Session{ID: "old", UserID: userID, ExpiresAt: now.Add(-time.Hour)}))

	sess, err := s.GetActiveSession(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, userID, sess.UserID)

	_, err = s.GetActiveSession(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RevokeSession(ctx, "a"))
	_, err = s.GetActiveSession(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.RevokeUserSessions(ctx, userID, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n) // only "old" was still unrevoked besides "b"
	_, err = s.GetActiveSession(ctx, "b")
	require.NoError(t, err)

	removed, err := s.CleanupExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestStaffRolePermissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	role := &domain.StaffRole{Name: "support", DisplayName: "Support", Permissions: []domain.Permission{domain.PermChatRespond}}
	require.NoError(t, s.CreateStaffRole(ctx, role))

	err := s.SetRolePermissions(ctx, role.ID, []domain.Permission{"nope"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, s.SetRolePermissions(ctx, role.ID, []domain.Permission{domain.PermChatRespond, domain.PermApplicationsView}))
	assert.ErrorIs(t, s.SetRolePermissions(ctx, 999, nil), ErrNotFound)

	uid, err := s.CreateUser(ctx, NewUser{Username: "helper", PasswordHash: "x", StaffRoleID: &role.ID})
	require.NoError(t, err)
	perms, err := s.GetUserPermissions(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, []domain.Permission{domain.PermApplicationsView, domain.PermChatRespond}, perms)

	roles, err := s.ListStaffRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Len(t, roles[0].Permissions, 2)

	role.DiscordRoleID = "222"
	require.NoError(t, s.UpdateStaffRole(ctx, role))
	managed, err := s.ManagedDiscordRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"222"}, managed)

	require.NoError(t, s.DeleteStaffRole(ctx, role.ID))
	u, err := s.GetUserByID(ctx, uid)
	require.NoError(t, err)
	assert.Nil(t, u.StaffRoleID)
}

func TestApplicationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reviewer := createUser(t, s, "reviewer")

	typ := &domain.ApplicationType{
		Name:      "Whitelist",
		Questions: []domain.Question{{ID: "age", Label: "Age", Required: true}},
		Active:    true,
	}
	require.NoError(t, s.CreateApplicationType(ctx, typ))

	sub := domain.ApplicationSubmission{TypeID: typ.ID, ApplicantName: "Mads", Answers: map[string]string{"age": "24"}}
	app, err := s.CreateApplication(ctx, sub, "token-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationPending, app.Status)
	assert.Equal(t, "Whitelist", app.TypeName)
	assert.Equal(t, "24", app.Answers["age"])

	app, err = s.ReviewApplication(ctx, app.ID, domain.ApplicationReview{Status: domain.ApplicationUnderReview}, &reviewer)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationUnderReview, app.Status)

	app, err = s.ReviewApplication(ctx, app.ID, domain.ApplicationReview{Status: domain.ApplicationApproved, Notes: "welcome"}, &reviewer)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationApproved, app.Status)
	assert.Equal(t, "welcome", app.ReviewNotes)
	require.NotNil(t, app.ReviewedBy)
	assert.Equal(t, reviewer, *app.ReviewedBy)

	_, err = s.ReviewApplication(ctx, app.ID, domain.ApplicationReview{Status: domain.ApplicationRejected}, &reviewer)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.ReviewApplication(ctx, 999, domain.ApplicationReview{Status: domain.ApplicationRejected}, &reviewer)
	assert.ErrorIs(t, err, ErrNotFound)

	second, err := s.CreateApplication(ctx, sub, "token-2")
	require.NoError(t, err)
	_, err = s.WithdrawApplication(ctx, second.ID, "token-1")
	assert.ErrorIs(t, err, ErrNotFound)
	withdrawn, err := s.WithdrawApplication(ctx, second.ID, "token-2")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationWithdrawn, withdrawn.Status)

	counts, err := s.CountApplicationsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.ApplicationApproved])
	assert.Equal(t, 1, counts[domain.ApplicationWithdrawn])
	assert.Equal(t, 0, counts[domain.ApplicationPending])

	approved, err := s.ListApplications(ctx, ApplicationFilter{Status: domain.ApplicationApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)

	all, err := s.ListApplications(ctx, ApplicationFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, second.ID, all[0].ID)
	older, err := s.ListApplications(ctx, ApplicationFilter{BeforeID: &all[0].ID})
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, app.ID, older[0].ID)

	// A type with submissions is deactivated instead of removed
	require.NoError(t, s.DeleteApplicationType(ctx, typ.ID))
	active, err := s.ListApplicationTypes(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRulesTeamPartners(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cat := &domain.RuleCategory{Name: "General"}
	require.NoError(t, s.CreateRuleCategory(ctx, cat))
	r1 := &domain.Rule{CategoryID: cat.ID, Title: "No RDM", Content: "**Never** random deathmatch.", Active: true}
	r2 := &domain.Rule{CategoryID: cat.ID, Title: "Old rule", Active: true, SortOrder: 1}
	require.NoError(t, s.CreateRule(ctx, r1))
	require.NoError(t, s.CreateRule(ctx, r2))
	require.NoError(t, s.DeleteRule(ctx, r2.ID))

	public, err := s.ListRuleCategories(ctx, true)
	require.NoError(t, err)
	require.Len(t, public, 1)
	require.Len(t, public[0].Rules, 1)
	assert.Equal(t, "No RDM", public[0].Rules[0].Title)

	staffView, err := s.ListRuleCategories(ctx, false)
	require.NoError(t, err)
	assert.Len(t, staffView[0].Rules, 2)

	m := &domain.TeamMember{Name: "Frederik", RoleTitle: "Owner", Active: true}
	require.NoError(t, s.CreateTeamMember(ctx, m))
	require.NoError(t, s.SetTeamMemberAvatar(ctx, m.ID, "/uploads/a.png"))
	members, err := s.ListTeamMembers(ctx, true)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "/uploads/a.png", members[0].AvatarURL)

	p := &domain.Partner{Name: "StreamerDK", TwitchLogin: "StreamerDK", Active: true}
	require.NoError(t, s.CreatePartner(ctx, p))
	logins, err := s.PartnerTwitchLogins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"streamerdk"}, logins)

	require.NoError(t, s.DeletePartner(ctx, p.ID))
	partners, err := s.ListPartners(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, partners)
	assert.ErrorIs(t, s.DeletePartner(ctx, 999), ErrNotFound)
}

func TestChatFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	staffID := createUser(t, s, "support")

	c := &domain.ChatSession{ID: "chat-1", VisitorName: "Guest"}
	require.NoError(t, s.CreateChatSession(ctx, c, "visitor-token"))

	ok, err := s.CheckChatToken(ctx, "chat-1", "visitor-token")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.CheckChatToken(ctx, "chat-1", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddChatMessage(ctx, &domain.ChatMessage{SessionID: "chat-1", SenderType: domain.SenderVisitor, SenderName: "Guest", Body: "hello?"}))

	unanswered, err := s.FindUnansweredSessions(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, unanswered, 1)

	reply := &domain.ChatMessage{SessionID: "chat-1", SenderType: domain.SenderStaff, SenderName: "support", UserID: &staffID, Body: "hi!"}
	require.NoError(t, s.AddChatMessage(ctx, reply))
	got, err := s.GetChatSession(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChatActive, got.Status)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, staffID, *got.AssignedTo)
	assert.Equal(t, "support", got.AssignedName)

	messages, err := s.ListChatMessages(ctx, "chat-1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	after, err := s.ListChatMessages(ctx, "chat-1", messages[0].ID)
	require.NoError(t, err)
	assert.Len(t, after, 1)

	open, err := s.CountOpenChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, open)

	require.NoError(t, s.CloseChatSession(ctx, "chat-1"))
	assert.ErrorIs(t, s.CloseChatSession(ctx, "chat-1"), ErrNotFound)
	err = s.AddChatMessage(ctx, &domain.ChatMessage{SessionID: "chat-1", SenderType: domain.SenderVisitor, SenderName: "Guest", Body: "bye"})
	assert.ErrorIs(t, err, ErrChatClosed)
	assert.ErrorIs(t, s.AddChatMessage(ctx, &domain.ChatMessage{SessionID: "missing", SenderType: domain.SenderVisitor, Body: "x"}), ErrNotFound)
}

func TestRecordMissedChatOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateChatSession(ctx, &domain.ChatSession{ID: "chat-2", VisitorName: "Guest", VisitorEmail: "g@example.com"}, "tok"))

	inserted, err := s.RecordMissedChat(ctx, "chat-2", time.Now())
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.RecordMissedChat(ctx, "chat-2", time.Now())
	require.NoError(t, err)
	assert.False(t, inserted)

	// Once recorded, the session is no longer reported as unanswered
	unanswered, err := s.FindUnansweredSessions(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, unanswered)

	require.NoError(t, s.MarkMissedChatNotified(ctx, "chat-2", 3))
	missed, err := s.ListMissedChats(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, 3, missed[0].Notified)
	assert.Equal(t, "g@example.com", missed[0].VisitorEmail)

	n, err := s.CountMissedChatsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPaymentsAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	monthly := &domain.Package{Name: "Supporter", PriceCents: 5000, Currency: "dkk", StripePriceID: "price_1", Interval: domain.IntervalMonth, Active: true}
	yearly := &domain.Package{Name: "Patron", PriceCents: 120000, Currency: "dkk", StripePriceID: "price_2", Interval: domain.IntervalYear, Active: true}
	require.NoError(t, s.CreatePackage(ctx, monthly))
	require.NoError(t, s.CreatePackage(ctx, yearly))

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	pay := &domain.Payment{StripeSessionID: "cs_1", PackageID: &monthly.ID, AmountCents: 5000, Currency: "dkk", CreatedAt: now}
	inserted, err := s.RecordPayment(ctx, pay)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.RecordPayment(ctx, &domain.Payment{StripeSessionID: "cs_1", AmountCents: 5000, Currency: "dkk", CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = s.RecordPayment(ctx, &domain.Payment{StripeSessionID: "cs_0", AmountCents: 2500, Currency: "dkk", CreatedAt: now.AddDate(0, -1, 0)})
	require.NoError(t, err)

	require.NoError(t, s.UpsertSubscription(ctx, &domain.Subscription{StripeSubscriptionID: "sub_1", PackageID: &monthly.ID, Status: domain.SubscriptionActive}))
	require.NoError(t, s.UpsertSubscription(ctx, &domain.Subscription{StripeSubscriptionID: "sub_2", PackageID: &yearly.ID, Status: domain.SubscriptionActive}))
	sub := &domain.Subscription{StripeSubscriptionID: "sub_2", Status: domain.SubscriptionCanceled}
	require.NoError(t, s.UpsertSubscription(ctx, sub))
	assert.NotZero(t, sub.ID)

	summary, err := s.GetFinancialSummary(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), summary.RevenueThisMonth)
	assert.Equal(t, int64(2500), summary.RevenueLastMonth)
	assert.Equal(t, 1, summary.ActiveSubscriptions)
	assert.Equal(t, int64(5000), summary.MRR)
	assert.Equal(t, "dkk", summary.Currency)

	months, err := s.GetRevenueByMonth(ctx, 3, "", now)
	require.NoError(t, err)
	require.Len(t, months, 3)
	assert.Equal(t, "2026-01", months[0].Month)
	assert.Equal(t, int64(0), months[0].AmountCents)
	assert.Equal(t, int64(2500), months[1].AmountCents)
	assert.Equal(t, int64(5000), months[2].AmountCents)

	subs, err := s.ListSubscriptions(ctx, domain.SubscriptionCanceled)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.NotNil(t, subs[0].PackageID)
	assert.Equal(t, yearly.ID, *subs[0].PackageID)
}

func TestFinancialSummaryKeepsCurrenciesApart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dkk := &domain.Package{Name: "Supporter", PriceCents: 5000, Currency: "dkk", StripePriceID: "price_1", Interval: domain.IntervalMonth, Active: true}
	eur := &domain.Package{Name: "Patron", PriceCents: 12000, Currency: "eur", StripePriceID: "price_2", Interval: domain.IntervalYear, Active: true}
	require.NoError(t, s.CreatePackage(ctx, dkk))
	require.NoError(t, s.CreatePackage(ctx, eur))

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	_, err := s.RecordPayment(ctx, &domain.Payment{StripeSessionID: "cs_1", AmountCents: 12000, Currency: "EUR", CreatedAt: now.Add(-2 * time.Hour)})
	require.NoError(t, err)
	_, err = s.RecordPayment(ctx, &domain.Payment{StripeSessionID: "cs_2", AmountCents: 5000, Currency: "DKK", CreatedAt: now.Add(-time.Hour)})
	require.NoError(t, err)

	require.NoError(t, s.UpsertSubscription(ctx, &domain.Subscription{StripeSubscriptionID: "sub_1", PackageID: &dkk.ID, Status: domain.SubscriptionActive}))
	require.NoError(t, s.UpsertSubscription(ctx, &domain.Subscription{StripeSubscriptionID: "sub_2", PackageID: &eur.ID, Status: domain.SubscriptionActive}))
	require.NoError(t, s.UpsertSubscription(ctx, &domain.Subscription{StripeSubscriptionID: "sub_3", Status: domain.SubscriptionActive}))

	summary, err := s.GetFinancialSummary(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, "dkk", summary.Currency, "latest payment decides the primary currency")
	assert.Equal(t, int64(5000), summary.RevenueThisMonth)
	assert.Equal(t, int64(5000), summary.MRR)
	assert.Equal(t, 3, summary.ActiveSubscriptions)
	assert.Equal(t, []domain.CurrencyTotals{
		{Currency: "dkk", RevenueThisMonth: 5000, ActiveSubscriptions: 1, MRR: 5000},
		{Currency: "eur", RevenueThisMonth: 12000, ActiveSubscriptions: 1, MRR: 1000},
	}, summary.ByCurrency)

	months, err := s.GetRevenueByMonth(ctx, 1, "EUR", now)
	require.NoError(t, err)
	require.Len(t, months, 1)
	assert.Equal(t, int64(12000), months[0].AmountCents)
}

func TestEnsureSubscriptionKeepsStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pkg := &domain.Package{Name: "Supporter", PriceCents: 5000, Currency: "dkk", StripePriceID: "price_1", Interval: domain.IntervalMonth, Active: true}
	require.NoError(t, s.CreatePackage(ctx, pkg))

	require.NoError(t, s.UpsertSubscription(ctx, &domain.Subscription{StripeSubscriptionID: "sub_1", Status: domain.SubscriptionCanceled}))

	sub := &domain.Subscription{StripeSubscriptionID: "sub_1", StripeCustomerID: "cus_1", PackageID: &pkg.ID, Status: domain.SubscriptionActive}
	require.NoError(t, s.EnsureSubscription(ctx, sub))
	assert.Equal(t, domain.SubscriptionCanceled, sub.Status)

	subs, err := s.ListSubscriptions(ctx, "")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, domain.SubscriptionCanceled, subs[0].Status)
	assert.Equal(t, "cus_1", subs[0].StripeCustomerID)
	require.NotNil(t, subs[0].PackageID)
	assert.Equal(t, pkg.ID, *subs[0].PackageID)

	fresh := &domain.Subscription{StripeSubscriptionID: "sub_2", Status: domain.SubscriptionActive}
	require.NoError(t, s.EnsureSubscription(ctx, fresh))
	assert.NotZero(t, fresh.ID)
	assert.Equal(t, domain.SubscriptionActive, fresh.Status)
}

func TestServerSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srv := &domain.Server{Name: "Nexus #1", Address: "127.0.0.1:30120", JoinCode: "abc123"}
	require.NoError(t, s.UpsertServer(ctx, srv))
	id := srv.ID
	srv.Name = "Nexus Main"
	require.NoError(t, s.UpsertServer(ctx, srv))
	assert.Equal(t, id, srv.ID)

	base := time.Now().UTC().Add(-time.Hour)
	samples := []domain.ServerSnapshot{
		{ServerID: id, Online: true, Players: 10, MaxPlayers: 64, LatencyMs: 20, RecordedAt: base},
		{ServerID: id, Online: true, Players: 30, MaxPlayers: 64, LatencyMs: 40, RecordedAt: base.Add(time.Minute)},
		{ServerID: id, Online: false, RecordedAt: base.Add(2 * time.Minute)},
		{ServerID: id, Online: true, Players: 5, MaxPlayers: 64, LatencyMs: 10, RecordedAt: base.Add(-48 * time.Hour)},
	}
	for i := range samples {
		require.NoError(t, s.RecordSnapshot(ctx, &samples[i]))
	}

	stats, err := s.GetServerStats(ctx, id, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Samples)
	assert.InDelta(t, 20.0, stats.AvgPlayers, 0.001)
	assert.Equal(t, 30, stats.PeakPlayers)
	assert.InDelta(t, 30.0, stats.AvgLatencyMs, 0.001)
	assert.InDelta(t, 66.666, stats.UptimePercent, 0.01)

	pruned, err := s.PruneSnapshots(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	history, err := s.GetSnapshots(ctx, id, base.Add(-72*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	empty, err := s.GetServerStats(ctx, 999, base)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Samples)
}

func TestAuditAndKillSwitch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	actor := createUser(t, s, "admin")

	require.NoError(t, s.InsertAuditLog(ctx, &domain.AuditLog{ActorID: &actor, ActorName: "admin", Action: domain.AuditLogin}))
	require.NoError(t, s.InsertAuditLog(ctx, &domain.AuditLog{Action: domain.AuditLoginFailed, Severity: domain.SeverityWarning,
		Details: map[string]any{"username": "ghost"}, IPAddress: "10.0.0.1"}))

	logs, err := s.ListAuditLogs(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.AuditLoginFailed, logs[0].Action)
	assert.Equal(t, "ghost", logs[0].Details["username"])

	warnings, err := s.ListAuditLogs(ctx, AuditFilter{Severity: domain.SeverityWarning})
	require.NoError(t, err)
	assert.Len(t, warnings, 1)

	byActor, err := s.ListAuditLogs(ctx, AuditFilter{ActorID: &actor})
	require.NoError(t, err)
	require.Len(t, byActor, 1)
	assert.Equal(t, domain.SeverityInfo, byActor[0].Severity)

	ks, err := s.GetKillSwitch(ctx)
	require.NoError(t, err)
	assert.False(t, ks.Active)

	_, err = s.SetKillSwitch(ctx, true, "raid in progress", "admin")
	require.NoError(t, err)
	ks, err = s.GetKillSwitch(ctx)
	require.NoError(t, err)
	assert.True(t, ks.Active)
	assert.Equal(t, "raid in progress", ks.Reason)
	assert.Equal(t, "admin", ks.UpdatedBy)
}

func TestEmailTemplates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tpl := &domain.EmailTemplate{Name: "missed_chat", Subject: "Missed chat", Body: "Hello"}
	require.NoError(t, s.UpsertEmailTemplate(ctx, tpl))
	first := tpl.ID
	tpl.Subject = "Missed chat from {{.VisitorName}}"
	require.NoError(t, s.UpsertEmailTemplate(ctx, tpl))
	assert.Equal(t, first, tpl.ID)

	got, err := s.GetEmailTemplate(ctx, "missed_chat")
	require.NoError(t, err)
	assert.Equal(t, "Missed chat from {{.VisitorName}}", got.Subject)

	require.NoError(t, s.DeleteEmailTemplate(ctx, "missed_chat"))
	_, err = s.GetEmailTemplate(ctx, "missed_chat")
	assert.ErrorIs(t, err, ErrNotFound)
}
