package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/config"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

type fakeQuerier struct {
	mu       sync.Mutex
	statuses map[string]*domain.ServerStatus
}

func (f *fakeQuerier) set(address string, players ...domain.PlayerStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[address] = &domain.ServerStatus{
		Address:     address,
		Online:      true,
		Players:     players,
		PlayerCount: len(players),
		MaxPlayers:  32,
		LastUpdated: time.Now().UTC(),
	}
}

func (f *fakeQuerier) QueryStatus(ctx context.Context, address string) (*domain.ServerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[address]
	if !ok {
		return nil, errors.New("connection refused")
	}
	copied := *status
	return &copied, nil
}

type fakeSnapshotStore struct {
	mu        sync.Mutex
	nextID    int64
	snapshots []domain.ServerSnapshot
	pruned    time.Time
}

func (f *fakeSnapshotStore) UpsertServer(ctx context.Context, srv *domain.Server) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	srv.ID = f.nextID
	return nil
}

func (f *fakeSnapshotStore) RecordSnapshot(ctx context.Context, snap *domain.ServerSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, *snap)
	return nil
}

func (f *fakeSnapshotStore) PruneSnapshots(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = before
	return 3, nil
}

type fakeRcon struct {
	address, password, command string
}

func (f *fakeRcon) Command(address, password, command string) (string, error) {
	f.address, f.password, f.command = address, password, command
	return "ok", nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestManager(t *testing.T) (*ServerManager, *fakeQuerier, *fakeSnapshotStore, *fakeRcon, *recordingPublisher) {
	t.Helper()
	cfg := config.FiveMConfig{
		PollInterval:      time.Hour,
		SnapshotRetention: 7 * 24 * time.Hour,
		Servers: []config.FiveMServer{
			{Name: "main", Address: "10.0.0.1:30120", RconPassword: "hunter2"},
			{Name: "dev", Address: "10.0.0.2:30120"},
		},
	}
	querier := &fakeQuerier{statuses: map[string]*domain.ServerStatus{}}
	store := &fakeSnapshotStore{}
	rcon := &fakeRcon{}
	pub := &recordingPublisher{}
	m := NewServerManager(cfg, store, querier, rcon, pub)
	require.NoError(t, m.Register(context.Background()))
	return m, querier, store, rcon, pub
}

func TestPollAllRecordsStatusAndSnapshots(t *testing.T) {
	m, querier, store, _, pub := newTestManager(t)
	querier.set("10.0.0.1:30120", domain.PlayerStatus{ID: 1, Name: "Alice"})

	m.PollAll(context.Background())

	main := m.GetServerStatus(1)
	require.NotNil(t, main)
	assert.True(t, main.Online)
	assert.Equal(t, "main", main.Name)
	assert.Equal(t, 1, main.PlayerCount)

	dev := m.GetServerStatus(2)
	require.NotNil(t, dev)
	assert.False(t, dev.Online, "unreachable server is reported offline")

	assert.Len(t, store.snapshots, 2)
	assert.Len(t, pub.ofType(domain.EventServerUpdate), 2)
	assert.Empty(t, pub.ofType(domain.EventPlayerJoin), "first poll has no baseline")

	statuses := m.GetAllStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, int64(1), statuses[0].ServerID)
}

func TestPollAllEmitsJoinAndLeave(t *testing.T) {
	m, querier, _, _, pub := newTestManager(t)
	querier.set("10.0.0.1:30120", domain.PlayerStatus{ID: 1, Name: "Alice"}, domain.PlayerStatus{ID: 2, Name: "Bob", CleanName: "Bob", DiscordID: "42"})
	m.PollAll(context.Background())

	querier.set("10.0.0.1:30120", domain.PlayerStatus{ID: 1, Name: "Alice"}, domain.PlayerStatus{ID: 3, Name: "Carol"})
	m.PollAll(context.Background())

	joins := pub.ofType(domain.EventPlayerJoin)
	require.Len(t, joins, 1)
	assert.Equal(t, "Carol", joins[0].Data.(domain.PlayerJoinEvent).Player.Name)

	leaves := pub.ofType(domain.EventPlayerLeave)
	require.Len(t, leaves, 1)
	leave := leaves[0].Data.(domain.PlayerLeaveEvent)
	assert.Equal(t, "Bob", leave.PlayerName)
	assert.Equal(t, "42", leave.DiscordID)
	assert.Equal(t, int64(1), leaves[0].ServerID)
}

func TestExecuteRcon(t *testing.T) {
	m, _, _, rcon, _ := newTestManager(t)

	out, err := m.ExecuteRcon(1, "status")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "10.0.0.1:30120", rcon.address)
	assert.Equal(t, "hunter2", rcon.password)

	_, err = m.ExecuteRcon(2, "status")
	assert.ErrorIs(t, err, ErrRconNotConfigured)
	assert.False(t, m.HasRconAccess(2))

	_, err = m.ExecuteRcon(99, "status")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestPruneUsesRetention(t *testing.T) {
	m, _, store, _, _ := newTestManager(t)
	m.Prune(context.Background())

	expected := time.Now().Add(-7 * 24 * time.Hour)
	assert.WithinDuration(t, expected, store.pruned, time.Minute)
}

func TestServersOrdered(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	servers := m.Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, "main", servers[0].Name)
	assert.Equal(t, "dev", servers[1].Name)
}

func TestStartStop(t *testing.T) {
	cfg := config.FiveMConfig{PollInterval: 10 * time.Millisecond, SnapshotRetention: time.Hour,
		Servers: []config.FiveMServer{{Name: "main", Address: "a:1"}}}
	querier := &fakeQuerier{statuses: map[string]*domain.ServerStatus{}}
	m := NewServerManager(cfg, &fakeSnapshotStore{}, querier, &fakeRcon{}, nil)

	require.NoError(t, m.Start(context.Background()))
	assert.Eventually(t, func() bool { return m.GetServerStatus(1) != nil }, time.Second, 10*time.Millisecond)
	m.Stop()
	assert.NotPanics(t, m.Stop)
}
