package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rankwatch/rankwatch/pkg/model"
)

//go:embed schema.sql
var schema string

// ErrNoCheckpoint is returned by LastRun for a task that never completed.
var ErrNoCheckpoint = errors.New("no checkpoint")

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Tx is a storage session. It is only valid inside the callback given to
// Update or View.
type Tx struct {
	tx *sql.Tx
}

// Update runs fn in a read-write transaction. The transaction commits when fn
// returns nil and rolls back on an error or a panic, which is re-raised.
func (d *DB) Update(ctx context.Context, fn func(*Tx) error) (err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(&Tx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// View runs fn in a transaction that is always rolled back.
func (d *DB) View(ctx context.Context, fn func(*Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(&Tx{tx: tx})
}

// LastRun returns the last successful completion of a task.
func (d *DB) LastRun(ctx context.Context, name string) (time.Time, error) {
	var s string
	err := d.sql.QueryRowContext(ctx, "SELECT last_run FROM tasks WHERE name = ?", name).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNoCheckpoint
	}
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(sql.NullString{String: s, Valid: true}), nil
}

// MarkRun records a successful completion of a task.
func (d *DB) MarkRun(ctx context.Context, name string, at time.Time) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO tasks(name, last_run) VALUES(?, ?)
ON CONFLICT(name) DO UPDATE SET last_run = excluded.last_run`, name, at.UTC().Format(timeLayout))
	return err
}

// Checkpoints lists every task checkpoint ordered by name.
func (d *DB) Checkpoints(ctx context.Context) ([]model.TaskCheckpoint, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT name, last_run FROM tasks ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TaskCheckpoint
	for rows.Next() {
		var c model.TaskCheckpoint
		var last sql.NullString
		if err := rows.Scan(&c.Name, &last); err != nil {
			return nil, err
		}
		c.LastRun = parseTime(last)
		out = append(out, c)
	}
	return out, rows.Err()
}

type ServerStats struct {
	Server    string
	Users     int
	Scores    int
	Snapshots int
	Clans     int
}

// GetStats counts the stored rows per server.
func (d *DB) GetStats(ctx context.Context) ([]ServerStats, error) {
	query := `
		SELECT
			server,
			SUM(users),
			SUM(scores),
			SUM(snapshots),
			SUM(clans)
		FROM (
			SELECT server, COUNT(*) AS users, 0 AS scores, 0 AS snapshots, 0 AS clans FROM users GROUP BY server
			UNION ALL
			SELECT server, 0, COUNT(*), 0, 0 FROM scores GROUP BY server
			UNION ALL
			SELECT server, 0, 0, COUNT(*), 0 FROM stats GROUP BY server
			UNION ALL
			SELECT server, 0, 0, 0, COUNT(*) FROM clans GROUP BY server
		)
		GROUP BY
			server
		ORDER BY
			server;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ServerStats
	for rows.Next() {
		var s ServerStats
		if err := rows.Scan(&s.Server, &s.Users, &s.Scores, &s.Snapshots, &s.Clans); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}
