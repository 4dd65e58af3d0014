// Package journal persists an append-only SQLite log of actionable score
// results (everything except HOLD) for later review. The service never
// reads the journal back; it exists for the paper-trading audit trail.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sharif3/momentum-trader/internal/model"
)

// Journal is a single-writer SQLite signal log.
type Journal struct {
	db   *sql.DB
	stmt *sql.Stmt
	now  func() time.Time
}

// New opens (or creates) the journal database with WAL mode.
func New(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         INTEGER NOT NULL,
			ticker     TEXT    NOT NULL,
			signal     TEXT    NOT NULL,
			state      TEXT    NOT NULL,
			confidence REAL    NOT NULL,
			size_hint  REAL    NOT NULL,
			entry_lo   REAL,
			entry_hi   REAL,
			stop       REAL,
			detail     TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_signals_ticker_ts ON signals(ticker, ts);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}

	stmt, err := db.Prepare(`
		INSERT INTO signals (ts, ticker, signal, state, confidence, size_hint, entry_lo, entry_hi, stop, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: prepare: %w", err)
	}

	slog.Info("journal opened", "path", path)
	return &Journal{db: db, stmt: stmt, now: time.Now}, nil
}

// Record appends one actionable result. HOLDs are skipped — they are the
// steady state and would swamp the log.
func (j *Journal) Record(res model.ScoreResult) {
	if res.Signal == model.SignalHold {
		return
	}
	var entryLo, entryHi, stop interface{}
	if res.EntryRange != nil {
		entryLo, entryHi = res.EntryRange.Lo, res.EntryRange.Hi
	}
	if res.Stop != nil {
		stop = *res.Stop
	}
	detail, _ := json.Marshal(res.Audit)

	_, err := j.stmt.Exec(
		j.now().UnixMilli(), res.Ticker, string(res.Signal), string(res.State),
		res.Confidence, res.SizeHint, entryLo, entryHi, stop, string(detail),
	)
	if err != nil {
		slog.Warn("journal insert failed", "ticker", res.Ticker, "err", err)
	}
}

// Close releases the database.
func (j *Journal) Close() error {
	if j.stmt != nil {
		j.stmt.Close()
	}
	return j.db.Close()
}
