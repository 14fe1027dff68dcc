package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// --- Server methods ---

// UpsertServer creates or updates a server
func (s *Store) UpsertServer(ctx context.Context, srv *domain.Server) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (name, address, join_code)
		VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			join_code = excluded.join_code
	`, srv.Name, srv.Address, nullString(srv.JoinCode))
	if err != nil {
		return err
	}

	// Always query for the ID (LastInsertId unreliable with ON CONFLICT)
	return s.db.QueryRowContext(ctx, "SELECT id, created_at FROM servers WHERE address = ?", srv.Address).Scan(&srv.ID, &srv.CreatedAt)
}

// GetServers returns all servers
func (s *Store) GetServers(ctx context.Context) ([]domain.Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, join_code, created_at FROM servers ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	servers := []domain.Server{}
	for rows.Next() {
		var srv domain.Server
		var joinCode sql.NullString
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.Address, &joinCode, &srv.CreatedAt); err != nil {
			return nil, err
		}
		srv.JoinCode = scanNullStringValue(joinCode)
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// GetServerByID returns a server by ID
func (s *Store) GetServerByID(ctx context.Context, id int64) (*domain.Server, error) {
	var srv domain.Server
	var joinCode sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, join_code, created_at FROM servers WHERE id = ?
	`, id).Scan(&srv.ID, &srv.Name, &srv.Address, &joinCode, &srv.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	srv.JoinCode = scanNullStringValue(joinCode)
	return &srv, nil
}

// --- Snapshot methods ---

// RecordSnapshot stores one performance sample
func (s *Store) RecordSnapshot(ctx context.Context, snap *domain.ServerSnapshot) error {
	if snap.RecordedAt.IsZero() {
		snap.RecordedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO server_snapshots (server_id, online, players, max_players, latency_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.ServerID, snap.Online, snap.Players, snap.MaxPlayers, snap.LatencyMs, formatTimestamp(snap.RecordedAt))
	if err != nil {
		return err
	}
	snap.ID, _ = result.LastInsertId()
	return nil
}

// GetSnapshots returns a server's samples since the given time, oldest first
func (s *Store) GetSnapshots(ctx context.Context, serverID int64, since time.Time, limit int) ([]domain.ServerSnapshot, error) {
	limit = clampLimit(limit, 1000, 10000)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, server_id, online, players, max_players, latency_ms, recorded_at
		FROM server_snapshots
		WHERE server_id = ? AND recorded_at >= ?
		ORDER BY recorded_at
		LIMIT ?
	`, serverID, formatTimestamp(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snaps := []domain.ServerSnapshot{}
	for rows.Next() {
		var snap domain.ServerSnapshot
		if err := rows.Scan(&snap.ID, &snap.ServerID, &snap.Online, &snap.Players, &snap.MaxPlayers, &snap.LatencyMs, &snap.RecordedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// GetServerStats aggregates a server's samples since the given time
func (s *Store) GetServerStats(ctx context.Context, serverID int64, since time.Time) (*domain.ServerStats, error) {
	stats := domain.ServerStats{ServerID: serverID, Since: since.UTC()}
	var avgPlayers, avgLatency, uptime sql.NullFloat64
	var peak sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			AVG(CASE WHEN online THEN players END),
			MAX(players),
			AVG(CASE WHEN online THEN latency_ms END),
			100.0 * SUM(CASE WHEN online THEN 1 ELSE 0 END) / COUNT(*)
		FROM server_snapshots
		WHERE server_id = ? AND recorded_at >= ?
	`, serverID, formatTimestamp(since)).Scan(&stats.Samples, &avgPlayers, &peak, &avgLatency, &uptime)
	if err != nil {
		return nil, err
	}
	stats.AvgPlayers = avgPlayers.Float64
	stats.PeakPlayers = int(peak.Int64)
	stats.AvgLatencyMs = avgLatency.Float64
	stats.UptimePercent = uptime.Float64
	return &stats, nil
}

// PruneSnapshots removes samples recorded before the cutoff
func (s *Store) PruneSnapshots(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM server_snapshots WHERE recorded_at < ?
	`, formatTimestamp(before))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
