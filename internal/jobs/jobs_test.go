package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/discord"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type sentMail struct {
	name string
	to   []string
	data any
}

type fakeMailer struct {
	mu      sync.Mutex
	sent    []sentMail
	failFor string
}

func (f *fakeMailer) Enabled() bool { return true }

func (f *fakeMailer) SendTemplate(ctx context.Context, name string, to []string, data any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(to) > 0 && to[0] == f.failFor {
		return "", errors.New("mailbox unavailable")
	}
	f.sent = append(f.sent, sentMail{name: name, to: to, data: data})
	return "id", nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *capturePublisher) Publish(ctx context.Context, evt domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func addStaff(t *testing.T, s *storage.Store, username, email string, notify bool) {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateUser(ctx, storage.NewUser{Username: username, Email: email, PasswordHash: "hash"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateUser(ctx, id, storage.UserUpdate{Email: email, NotifyChat: notify}))
}

func TestMissedChatJobRecordsOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	addStaff(t, store, "alice", "alice@example.com", true)
	addStaff(t, store, "bob", "bob@example.com", true)
	addStaff(t, store, "carol", "carol@example.com", false)

	waiting := &domain.ChatSession{ID: "chat-1", VisitorName: "Visitor", Subject: "Whitelist question"}
	require.NoError(t, store.CreateChatSession(ctx, waiting, "token-1"))
	answered := &domain.ChatSession{ID: "chat-2", VisitorName: "Other"}
	require.NoError(t, store.CreateChatSession(ctx, answered, "token-2"))
	staffID := int64(1)
	require.NoError(t, store.AddChatMessage(ctx, &domain.ChatMessage{
		SessionID: "chat-2", SenderType: domain.SenderStaff, SenderName: "alice", UserID: &staffID, Body: "hi!",
	}))

	mailer := &fakeMailer{failFor: "bob@example.com"}
	pub := &capturePublisher{}
	job := NewMissedChatJob(store, mailer, pub, 10*time.Minute, "https://portal.example.com/")
	job.now = func() time.Time { return time.Now().Add(15 * time.Minute) }

	n, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"alice@example.com"}, mailer.sent[0].to)
	data := mailer.sent[0].data.(MissedChatEmail)
	assert.Equal(t, "Visitor", data.VisitorName)
	assert.Equal(t, "https://portal.example.com", data.PortalURL)

	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventMissedChat, pub.events[0].Type)
	assert.Equal(t, 1, pub.events[0].Data.(domain.MissedChat).Notified)

	// a second pass finds nothing new
	n, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, mailer.sent, 1)
	assert.Len(t, pub.events, 1)

	missed, err := store.ListMissedChats(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, "chat-1", missed[0].SessionID)
	assert.Equal(t, 1, missed[0].Notified)
}

func TestMissedChatJobRespectsThreshold(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateChatSession(ctx, &domain.ChatSession{ID: "fresh", VisitorName: "V"}, "tok"))

	job := NewMissedChatJob(store, nil, nil, 10*time.Minute, "")
	n, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type fakeMissedStore struct {
	sessions []domain.ChatSession
	inserted map[string]bool
}

func (f *fakeMissedStore) FindUnansweredSessions(ctx context.Context, before time.Time) ([]domain.ChatSession, error) {
	return f.sessions, nil
}

func (f *fakeMissedStore) RecordMissedChat(ctx context.Context, sessionID string, detectedAt time.Time) (bool, error) {
	if f.inserted[sessionID] {
		return false, nil
	}
	f.inserted[sessionID] = true
	return true, nil
}

func (f *fakeMissedStore) MarkMissedChatNotified(ctx context.Context, sessionID string, notified int) error {
	return nil
}

func (f *fakeMissedStore) ListChatNotificationRecipients(ctx context.Context) ([]storage.User, error) {
	return nil, nil
}

func TestMissedChatJobSkipsConcurrentlyRecorded(t *testing.T) {
	store := &fakeMissedStore{
		sessions: []domain.ChatSession{{ID: "a"}, {ID: "b"}},
		inserted: map[string]bool{"a": true},
	}
	pub := &capturePublisher{}
	n, err := NewMissedChatJob(store, nil, pub, time.Minute, "").Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "b", pub.events[0].Data.(domain.MissedChat).SessionID)
}

func TestRunnerRunsJobsUntilStopped(t *testing.T) {
	r := NewRunner()
	var runs atomic.Int32
	r.Add("tick", 5*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("keeps going")
	})
	r.Add("disabled", 0, func(ctx context.Context) error {
		t.Error("disabled job ran")
		return nil
	})
	assert.Equal(t, []string{"tick"}, r.Names())

	r.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	r.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestRunnerStopTwice(t *testing.T) {
	r := NewRunner()
	r.Add("tick", time.Hour, func(ctx context.Context) error { return nil })
	r.Start(context.Background())

	r.Stop()
	assert.NotPanics(t, r.Stop)
}

func TestRunNow(t *testing.T) {
	r := NewRunner()
	r.Add("boom", time.Hour, func(ctx context.Context) error { panic("oops") })
	r.Add("ok", time.Hour, func(ctx context.Context) error { return nil })

	assert.NoError(t, r.RunNow(context.Background(), "ok"))
	err := r.RunNow(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.ErrorIs(t, r.RunNow(context.Background(), "missing"), ErrUnknownJob)
}

type fakeSyncer struct{ calls int }

func (f *fakeSyncer) Sync(ctx context.Context) (*discord.SyncReport, error) {
	f.calls++
	return &discord.SyncReport{}, nil
}

func TestTaskAdapters(t *testing.T) {
	ctx := context.Background()
	syncer := &fakeSyncer{}
	require.NoError(t, RoleSync(syncer)(ctx))
	assert.Equal(t, 1, syncer.calls)

	store := newTestStore(t)
	id, err := store.CreateUser(ctx, storage.NewUser{Username: "alice", PasswordHash: "hash"})
	require.NoError(t, err)
	require.NoError(t, store.CreateSession(ctx, &storage.Session{
		ID: "expired", UserID: id, ExpiresAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, SessionCleanup(store)(ctx))

	_, err = store.GetActiveSession(ctx, "expired")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
