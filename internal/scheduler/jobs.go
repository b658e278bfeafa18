package scheduler

import (
	"context"
	"log/slog"

	"github.com/user/gptrelay/internal/types"
)

// SessionStatsSource reports the in-memory session table size.
type SessionStatsSource interface {
	Stats() types.SessionStats
}

// Pruner trims a store to at most max entries.
type Pruner interface {
	Prune(max int) (int, error)
}

// StatsJob logs the session table size.
func StatsJob(schedule string, sessions SessionStatsSource) Job {
	return Job{
		Name:     "session-stats",
		Schedule: schedule,
		Run: func(ctx context.Context) {
			st := sessions.Stats()
			slog.Info("session stats", "sessions", st.Sessions, "messages", st.Messages)
		},
	}
}

// PruneJob trims the Q&A cache to max entries. A non-positive max makes it
// a no-op.
func PruneJob(schedule string, store Pruner, max int) Job {
	return Job{
		Name:     "qa-prune",
		Schedule: schedule,
		Run: func(ctx context.Context) {
			removed, err := store.Prune(max)
			if err != nil {
				slog.Error("qa prune failed", "error", err)
				return
			}
			if removed > 0 {
				slog.Info("qa cache pruned", "removed", removed, "max_entries", max)
			}
		},
	}
}
