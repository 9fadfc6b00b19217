package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devplane/devplane/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// The DSN is a filesystem path; ":memory:" gives an in-memory database.
type DB struct {
	db *sql.DB
}

func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dev_server_runs(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pid INTEGER NOT NULL,
			port INTEGER NOT NULL,
			command TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP NULL,
			running BOOLEAN NOT NULL,
			force_killed BOOLEAN NOT NULL DEFAULT 0,
			exit_note TEXT NULL,
			uniq TEXT NOT NULL UNIQUE,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dev_server_runs_running ON dev_server_runs(running);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordStart(ctx context.Context, rec store.Record) error {
	rec.Running = true
	rec.StoppedAt = sql.NullTime{}
	rec.ExitNote = sql.NullString{}
	rec.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dev_server_runs(pid, port, command, started_at, stopped_at, running, force_killed, exit_note, uniq, updated_at)
		VALUES(?, ?, ?, ?, NULL, 1, 0, NULL, ?, ?)
		ON CONFLICT(uniq) DO UPDATE SET
			pid=excluded.pid,
			port=excluded.port,
			command=excluded.command,
			started_at=excluded.started_at,
			running=excluded.running,
			stopped_at=NULL,
			exit_note=NULL,
			updated_at=excluded.updated_at;`,
		rec.PID, rec.Port, rec.Command, rec.StartedAt.UTC(), rec.Key(), rec.UpdatedAt)
	return err
}

func (s *DB) RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, forceKilled bool, exitNote string) error {
	var note sql.NullString
	if exitNote != "" {
		note = sql.NullString{String: exitNote, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE dev_server_runs
		SET running=0, stopped_at=?, force_killed=?, exit_note=?, updated_at=?
		WHERE uniq=?;`, stoppedAt.UTC(), forceKilled, note, time.Now().UTC(), uniq)
	return err
}

func (s *DB) LastRun(ctx context.Context) (store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pid, port, command, started_at, stopped_at, running, force_killed, exit_note, updated_at
		FROM dev_server_runs ORDER BY started_at DESC LIMIT 1;`)
	var rec store.Record
	err := row.Scan(&rec.PID, &rec.Port, &rec.Command, &rec.StartedAt, &rec.StoppedAt,
		&rec.Running, &rec.ForceKilled, &rec.ExitNote, &rec.UpdatedAt)
	if err != nil {
		return store.Record{}, err
	}
	return rec, nil
}
