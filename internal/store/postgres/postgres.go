package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/devplane/devplane/internal/store"
)

// DB implements store.Store for PostgreSQL via the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dev_server_runs(
			id BIGSERIAL PRIMARY KEY,
			pid INTEGER NOT NULL,
			port INTEGER NOT NULL,
			command TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			stopped_at TIMESTAMPTZ NULL,
			running BOOLEAN NOT NULL,
			force_killed BOOLEAN NOT NULL DEFAULT false,
			exit_note TEXT NULL,
			uniq TEXT NOT NULL UNIQUE,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dev_server_runs_running ON dev_server_runs(running);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordStart(ctx context.Context, rec store.Record) error {
	rec.UpdatedAt = time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dev_server_runs(pid, port, command, started_at, stopped_at, running, force_killed, exit_note, uniq, updated_at)
		VALUES($1,$2,$3,$4,NULL,true,false,NULL,$5,$6)
		ON CONFLICT(uniq) DO UPDATE SET
			pid=EXCLUDED.pid,
			port=EXCLUDED.port,
			command=EXCLUDED.command,
			started_at=EXCLUDED.started_at,
			running=EXCLUDED.running,
			stopped_at=NULL,
			exit_note=NULL,
			updated_at=EXCLUDED.updated_at;`,
		rec.PID, rec.Port, rec.Command, rec.StartedAt.UTC(), rec.Key(), rec.UpdatedAt)
	return err
}

func (p *DB) RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, forceKilled bool, exitNote string) error {
	var note sql.NullString
	if exitNote != "" {
		note = sql.NullString{String: exitNote, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE dev_server_runs
		SET running=false, stopped_at=$1, force_killed=$2, exit_note=$3, updated_at=$4
		WHERE uniq=$5;`, stoppedAt.UTC(), forceKilled, note, time.Now().UTC(), uniq)
	return err
}

func (p *DB) LastRun(ctx context.Context) (store.Record, error) {
	row := p.db.QueryRowContext(ctx, `
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
