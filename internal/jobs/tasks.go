package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/discord"
)

// Job names
const (
	JobMissedChats    = "missed-chats"
	JobRoleSync       = "role-sync"
	JobSessionCleanup = "session-cleanup"
)

// RoleSyncer runs a Discord role sync
type RoleSyncer interface {
	Sync(ctx context.Context) (*discord.SyncReport, error)
}

// SessionStore removes expired login sessions
type SessionStore interface {
	CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// MissedChats adapts the missed-chat job to the runner
func MissedChats(j *MissedChatJob) Func {
	return func(ctx context.Context) error {
		_, err := j.Run(ctx)
		return err
	}
}

// RoleSync adapts a role syncer to the runner
func RoleSync(s RoleSyncer) Func {
	return func(ctx context.Context) error {
		_, err := s.Sync(ctx)
		return err
	}
}

// SessionCleanup deletes expired and long-revoked sessions
func SessionCleanup(store SessionStore) Func {
	return func(ctx context.Context) error {
		n, err := store.CleanupExpiredSessions(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		if n > 0 {
			zap.L().Info("removed expired sessions", zap.Int64("count", n))
		}
		return nil
	}
}
