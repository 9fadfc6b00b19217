package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is one run of the supervised dev server. A run opens on start and
// closes on stop; Uniq ties the two together across restarts of the control
// plane itself.
type Record struct {
	PID         int
	Port        int
	Command     string
	StartedAt   time.Time
	StoppedAt   sql.NullTime
	Running     bool
	ForceKilled bool
	ExitNote    sql.NullString
	UpdatedAt   time.Time
}

// Key returns the run's unique key.
func (r Record) Key() string { return UniqueKey(r.PID, r.StartedAt) }

// UniqueKey derives a stable identifier for one run from its pid and start
// time. PIDs alone recycle; the pair does not within any realistic horizon.
func UniqueKey(pid int, startedAt time.Time) string {
	return fmt.Sprintf("%d-%d", pid, startedAt.UTC().UnixNano())
}

// Store persists dev server run history. A nil store is valid configuration;
// recording is then skipped entirely.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordStart(ctx context.Context, rec Record) error
	RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, forceKilled bool, exitNote string) error
	LastRun(ctx context.Context) (Record, error)
	Close() error
}
