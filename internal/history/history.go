// Package history keeps a SQLite journal of completed test results.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/simgunz/udp-ip-stack/internal/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       TEXT    NOT NULL UNIQUE,
	direction        TEXT    NOT NULL,
	target           TEXT    NOT NULL,
	throughput_mbps  REAL    NOT NULL,
	loss_percent     REAL    NOT NULL,
	packet_target    INTEGER NOT NULL,
	sent_count       INTEGER NOT NULL,
	received_count   INTEGER NOT NULL,
	correct_count    INTEGER NOT NULL,
	elapsed_ns       INTEGER NOT NULL,
	started_at_ns    INTEGER NOT NULL,
	finished_at_ns   INTEGER NOT NULL,
	malformed_report INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS results_finished ON results (finished_at_ns);
`

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts res. Recording the same session twice is a no-op.
func (s *Store) Record(ctx context.Context, res engine.Result) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO results (
	session_id, direction, target, throughput_mbps, loss_percent,
	packet_target, sent_count, received_count, correct_count,
	elapsed_ns, started_at_ns, finished_at_ns, malformed_report
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.SessionID,
		res.Direction.String(),
		res.Target,
		res.ThroughputMBps,
		res.LossPercent,
		res.PacketTarget,
		res.SentCount,
		res.ReceivedCount,
		int64(res.CorrectCount),
		int64(res.Elapsed),
		res.StartedAt.UnixNano(),
		res.FinishedAt.UnixNano(),
		res.MalformedReport,
	)
	return err
}

// Recent returns up to limit results, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]engine.Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, direction, target, throughput_mbps, loss_percent,
	packet_target, sent_count, received_count, correct_count,
	elapsed_ns, started_at_ns, finished_at_ns, malformed_report
FROM results ORDER BY finished_at_ns DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Result
	for rows.Next() {
		var (
			res                   engine.Result
			direction             string
			correct, elapsed      int64
			startedAt, finishedAt int64
		)
		if err := rows.Scan(
			&res.SessionID, &direction, &res.Target, &res.ThroughputMBps, &res.LossPercent,
			&res.PacketTarget, &res.SentCount, &res.ReceivedCount, &correct,
			&elapsed, &startedAt, &finishedAt, &res.MalformedReport,
		); err != nil {
			return nil, err
		}
		if err := res.Direction.UnmarshalText([]byte(direction)); err != nil {
			return nil, err
		}
		res.CorrectCount = uint64(correct)
		res.Elapsed = time.Duration(elapsed)
		res.StartedAt = time.Unix(0, startedAt).UTC()
		res.FinishedAt = time.Unix(0, finishedAt).UTC()
		out = append(out, res)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep rows and returns how many were deleted.
// keep <= 0 disables pruning.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM results WHERE id NOT IN (
	SELECT id FROM results ORDER BY finished_at_ns DESC, id DESC LIMIT ?
)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
