package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/config"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/events"
)

// ErrServerNotFound is returned for unknown server IDs
var ErrServerNotFound = errors.New("server not found")

// ErrRconNotConfigured is returned when a server has no rcon password
var ErrRconNotConfigured = errors.New("rcon not configured for this server")

// StatusQuerier fetches the live state of a server
type StatusQuerier interface {
	QueryStatus(ctx context.Context, address string) (*domain.ServerStatus, error)
}

// RconSender executes rcon commands
type RconSender interface {
	Command(address, password, command string) (string, error)
}

// SnapshotStore persists servers and their performance samples
type SnapshotStore interface {
	UpsertServer(ctx context.Context, srv *domain.Server) error
	RecordSnapshot(ctx context.Context, snap *domain.ServerSnapshot) error
	PruneSnapshots(ctx context.Context, before time.Time) (int64, error)
}

// ServerManager polls all configured FiveM servers
type ServerManager struct {
	cfg       config.FiveMConfig
	store     SnapshotStore
	querier   StatusQuerier
	rcon      RconSender
	publisher events.Publisher

	mu      sync.RWMutex
	servers map[int64]*serverState
	done    chan struct{}
	wg      sync.WaitGroup // track goroutine completion for graceful shutdown

	stopOnce sync.Once
}

// serverState tracks the current state of a monitored server
type serverState struct {
	server       domain.Server
	rconPassword string
	status       *domain.ServerStatus
}

// NewServerManager creates a new manager
func NewServerManager(cfg config.FiveMConfig, store SnapshotStore, querier StatusQuerier, rcon RconSender, publisher events.Publisher) *ServerManager {
	return &ServerManager{
		cfg:       cfg,
		store:     store,
		querier:   querier,
		rcon:      rcon,
		publisher: publisher,
		servers:   make(map[int64]*serverState),
		done:      make(chan struct{}),
	}
}

// Register upserts the configured servers without starting the poll loop
func (m *ServerManager) Register(ctx context.Context) error {
	for _, srv := range m.cfg.Servers {
		dbSrv := &domain.Server{
			Name:     srv.Name,
			Address:  srv.Address,
			JoinCode: srv.JoinCode,
		}
		if err := m.store.UpsertServer(ctx, dbSrv); err != nil {
			return fmt.Errorf("registering server %s: %w", srv.Name, err)
		}

		m.mu.Lock()
		m.servers[dbSrv.ID] = &serverState{server: *dbSrv, rconPassword: srv.RconPassword}
		m.mu.Unlock()
	}
	return nil
}

// Start registers all servers and begins polling
func (m *ServerManager) Start(ctx context.Context) error {
	if err := m.Register(ctx); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.pollLoop(ctx)

	m.wg.Add(1)
	go m.pruneLoop(ctx)

	zap.L().Info("server manager started", zap.Int("servers", len(m.cfg.Servers)))
	return nil
}

// Stop stops all polling
func (m *ServerManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		zap.L().Info("server manager stopped")
	})
}

// GetServerStatus returns the current status for a server
func (m *ServerManager) GetServerStatus(serverID int64) *domain.ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.servers[serverID]; ok {
		return state.status
	}
	return nil
}

// GetAllStatuses returns current status for all servers
func (m *ServerManager) GetAllStatuses() []domain.ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := []domain.ServerStatus{}
	for _, state := range m.servers {
		if state.status != nil {
			statuses = append(statuses, *state.status)
		}
	}

	// Sort by server ID for consistent ordering
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ServerID < statuses[j].ServerID
	})

	return statuses
}

// Servers returns the registered servers ordered by ID
func (m *ServerManager) Servers() []domain.Server {
	m.mu.RLock()
	defer m.mu.RUnlock()

	servers := make([]domain.Server, 0, len(m.servers))
	for _, state := range m.servers {
		servers = append(servers, state.server)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })
	return servers
}

// ExecuteRcon sends an rcon command to a server and returns the response
func (m *ServerManager) ExecuteRcon(serverID int64, command string) (string, error) {
	m.mu.RLock()
	state, ok := m.servers[serverID]
	m.mu.RUnlock()

	if !ok {
		return "", ErrServerNotFound
	}
	if state.rconPassword == "" {
		return "", ErrRconNotConfigured
	}

	return m.rcon.Command(state.server.Address, state.rconPassword, command)
}

// HasRconAccess checks if a server has rcon configured
func (m *ServerManager) HasRconAccess(serverID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.servers[serverID]
	return ok && state.rconPassword != ""
}

// pollLoop periodically queries all servers
func (m *ServerManager) pollLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	// Initial poll
	m.PollAll(ctx)

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PollAll(ctx)
		}
	}
}

// PollAll queries every server once, records a snapshot and emits events
func (m *ServerManager) PollAll(ctx context.Context) {
	m.mu.RLock()
	states := make([]*serverState, 0, len(m.servers))
	for _, state := range m.servers {
		states = append(states, state)
	}
	m.mu.RUnlock()

	for _, state := range states {
		m.pollServer(ctx, state)
	}
}

func (m *ServerManager) pollServer(ctx context.Context, state *serverState) {
	serverID := state.server.ID
	status, err := m.querier.QueryStatus(ctx, state.server.Address)
	if err != nil {
		zap.L().Warn("polling server failed", zap.String("server", state.server.Name), zap.Error(err))
		status = &domain.ServerStatus{
			Address:     state.server.Address,
			Online:      false,
			LastUpdated: time.Now().UTC(),
			Players:     []domain.PlayerStatus{},
		}
	}
	status.ServerID = serverID
	status.Name = state.server.Name

	m.mu.Lock()
	previous := state.status
	state.status = status
	m.mu.Unlock()

	if err := m.store.RecordSnapshot(ctx, &domain.ServerSnapshot{
		ServerID:   serverID,
		Online:     status.Online,
		Players:    status.PlayerCount,
		MaxPlayers: status.MaxPlayers,
		LatencyMs:  status.LatencyMs,
		RecordedAt: status.LastUpdated,
	}); err != nil {
		zap.L().Error("recording snapshot", zap.Int64("server_id", serverID), zap.Error(err))
	}

	if previous != nil {
		joined, left := diffPlayers(previous.Players, status.Players)
		for _, p := range joined {
			m.emit(ctx, domain.Event{Type: domain.EventPlayerJoin, ServerID: serverID, Data: domain.PlayerJoinEvent{Player: p}})
		}
		for _, p := range left {
			m.emit(ctx, domain.Event{Type: domain.EventPlayerLeave, ServerID: serverID,
				Data: domain.PlayerLeaveEvent{PlayerName: p.CleanName, DiscordID: p.DiscordID}})
		}
	}

	m.emit(ctx, domain.Event{Type: domain.EventServerUpdate, ServerID: serverID, Data: status})
}

// diffPlayers compares two player lists by server slot ID and name
func diffPlayers(before, after []domain.PlayerStatus) (joined, left []domain.PlayerStatus) {
	key := func(p domain.PlayerStatus) string { return fmt.Sprintf("%d/%s", p.ID, p.Name) }

	prev := make(map[string]bool, len(before))
	for _, p := range before {
		prev[key(p)] = true
	}
	curr := make(map[string]bool, len(after))
	for _, p := range after {
		curr[key(p)] = true
		if !prev[key(p)] {
			joined = append(joined, p)
		}
	}
	for _, p := range before {
		if !curr[key(p)] {
			left = append(left, p)
		}
	}
	return joined, left
}

// emit publishes an event; a publish failure is logged and dropped
func (m *ServerManager) emit(ctx context.Context, event domain.Event) {
	if m.publisher == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	if err := m.publisher.Publish(ctx, event); err != nil {
		zap.L().Warn("publishing event", zap.String("event", event.Type), zap.Error(err))
	}
}

// pruneLoop removes snapshots older than the retention once a day
func (m *ServerManager) pruneLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	m.Prune(ctx)
	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Prune(ctx)
		}
	}
}

// Prune deletes snapshots outside the retention window
func (m *ServerManager) Prune(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.SnapshotRetention)
	if count, err := m.store.PruneSnapshots(ctx, cutoff); err != nil {
		zap.L().Error("pruning snapshots", zap.Error(err))
	} else if count > 0 {
		zap.L().Info("pruned server snapshots", zap.Int64("count", count))
	}
}
