// Package sqlite provides the gateway's durable audit trail: lifecycle
// transition history and rolling performance snapshots. The gateway only
// writes these; nothing in it reads snapshots back into the in-memory
// ledger on startup. It is explicitly not a model weights store — that
// remains the plugin's concern (spec non-goal). Uses WAL mode for
// concurrent reads and crash-safe writes, mirroring the teacher's
// single-writer SQLite setup.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/turtacn/inferserve/internal/domain"
	"github.com/turtacn/inferserve/internal/ledger"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/audit.db. Enables WAL
// mode, foreign keys, and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "audit.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer; WAL mode still lets readers proceed.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS model_transitions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			model_id      TEXT NOT NULL,
			phase         TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			occurred_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_model ON model_transitions(model_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS model_snapshots (
			model_id        TEXT PRIMARY KEY,
			total           INTEGER NOT NULL DEFAULT 0,
			success         INTEGER NOT NULL DEFAULT 0,
			failure         INTEGER NOT NULL DEFAULT 0,
			ewma_latency_ms REAL NOT NULL DEFAULT 0,
			p50_ms          REAL NOT NULL DEFAULT 0,
			p95_ms          REAL NOT NULL DEFAULT 0,
			p99_ms          REAL NOT NULL DEFAULT 0,
			updated_at      INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Lifecycle transitions ──────────────────────────────────────────────────

// Transition is one recorded lifecycle phase change.
type Transition struct {
	ModelID      domain.ModelId
	Phase        domain.StatusPhase
	ErrorMessage string
	OccurredAt   time.Time
}

// RecordTransition appends one lifecycle phase change to the audit trail.
// It never errors out a caller's lifecycle operation; failures here are
// logged by the caller, not propagated as a lifecycle failure.
func (d *DB) RecordTransition(id domain.ModelId, phase domain.StatusPhase, errMsg string) error {
	_, err := d.db.Exec(
		`INSERT INTO model_transitions (model_id, phase, error_message, occurred_at) VALUES (?, ?, ?, ?)`,
		string(id), string(phase), errMsg, time.Now().Unix(),
	)
	return err
}

// ListTransitions returns a model's transition history, oldest first.
func (d *DB) ListTransitions(id domain.ModelId) ([]Transition, error) {
	rows, err := d.db.Query(
		`SELECT model_id, phase, error_message, occurred_at
		 FROM model_transitions WHERE model_id = ? ORDER BY occurred_at ASC, id ASC`,
		string(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneTransitions deletes transition history older than before, bounding
// the audit trail's growth for long-lived models.
func (d *DB) PruneTransitions(before time.Time) error {
	_, err := d.db.Exec(`DELETE FROM model_transitions WHERE occurred_at < ?`, before.Unix())
	return err
}

// ─── Performance snapshots ──────────────────────────────────────────────────

// SaveSnapshot persists the current ledger.Snapshot for a model, overwriting
// any prior snapshot row. The gateway calls it periodically; LoadSnapshot
// is not called by the gateway, so a restarted process starts from a blank
// ledger.
func (d *DB) SaveSnapshot(id domain.ModelId, s ledger.Snapshot) error {
	_, err := d.db.Exec(
		`INSERT INTO model_snapshots (model_id, total, success, failure, ewma_latency_ms, p50_ms, p95_ms, p99_ms, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(model_id) DO UPDATE SET
			total=excluded.total,
			success=excluded.success,
			failure=excluded.failure,
			ewma_latency_ms=excluded.ewma_latency_ms,
			p50_ms=excluded.p50_ms,
			p95_ms=excluded.p95_ms,
			p99_ms=excluded.p99_ms,
			updated_at=excluded.updated_at`,
		string(id), s.Total, s.Success, s.Failure,
		s.EWMALatencyMs, s.P50Ms, s.P95Ms, s.P99Ms, time.Now().Unix(),
	)
	return err
}

// LoadSnapshot retrieves the last persisted snapshot for a model. The bool
// return is false if no snapshot has ever been saved for that model.
func (d *DB) LoadSnapshot(id domain.ModelId) (ledger.Snapshot, bool, error) {
	row := d.db.QueryRow(
		`SELECT total, success, failure, ewma_latency_ms, p50_ms, p95_ms, p99_ms
		 FROM model_snapshots WHERE model_id = ?`, string(id),
	)
	var s ledger.Snapshot
	err := row.Scan(&s.Total, &s.Success, &s.Failure, &s.EWMALatencyMs, &s.P50Ms, &s.P95Ms, &s.P99Ms)
	if err == sql.ErrNoRows {
		return ledger.Snapshot{}, false, nil
	}
	if err != nil {
		return ledger.Snapshot{}, false, err
	}
	return s, true, nil
}

// DeleteSnapshot removes a model's persisted snapshot, called when a model
// is unregistered so stale history doesn't resurface if the id is reused.
func (d *DB) DeleteSnapshot(id domain.ModelId) error {
	_, err := d.db.Exec(`DELETE FROM model_snapshots WHERE model_id = ?`, string(id))
	return err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransition(s scanner) (Transition, error) {
	var t Transition
	var modelID, phase string
	var occurredAt int64

	if err := s.Scan(&modelID, &phase, &t.ErrorMessage, &occurredAt); err != nil {
		return Transition{}, err
	}
	t.ModelID = domain.ModelId(modelID)
	t.Phase = domain.StatusPhase(phase)
	t.OccurredAt = time.Unix(occurredAt, 0)
	return t, nil
}
