package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rewired-gh/almacross/internal/logger"
	"github.com/rewired-gh/almacross/internal/models"
)

// SQLiteStore keeps all state in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/almacross/state.db. A file that is not
// a readable SQLite database is moved aside and replaced by an empty one.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "almacross", "state.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := openSQLite(dbPath)
	if err != nil && isCorrupt(err) && dbPath != ":memory:" {
		logger.Warn("State database %s is corrupt, starting from empty state: %v", dbPath, err)
		if mvErr := quarantine(dbPath); mvErr != nil {
			return nil, fmt.Errorf("failed to move corrupt database aside: %w", mvErr)
		}
		db, err = openSQLite(dbPath)
	}
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return db, nil
}

// isCorrupt reports SQLITE_NOTADB and SQLITE_CORRUPT failures.
func isCorrupt(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
		return true
	}
	return false
}

// quarantine renames dbPath and its WAL sidecars to <name>.corrupt-<unix>.
func quarantine(dbPath string) error {
	suffix := fmt.Sprintf(".corrupt-%d", time.Now().Unix())
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Rename(p, p+suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alert_state (
			id                INTEGER PRIMARY KEY CHECK (id = 1),
			last_candle_time  INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id              TEXT PRIMARY KEY,
			symbol          TEXT NOT NULL,
			kline_interval  TEXT NOT NULL,
			direction       TEXT NOT NULL,
			candle_time     INTEGER NOT NULL,
			close_price     REAL NOT NULL,
			short_window    INTEGER NOT NULL,
			long_window     INTEGER NOT NULL,
			short_alma      REAL NOT NULL,
			long_alma       REAL NOT NULL,
			detected_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts(detected_at)`,
		`CREATE TABLE IF NOT EXISTS run_lock (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			owner       TEXT NOT NULL,
			expires_at  INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Lock takes the single-row run lock, replacing it only when expired.
func (s *SQLiteStore) Lock(ctx context.Context, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	owner := uuid.New().String()
	now := time.Now()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_lock (id, owner, expires_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE run_lock.expires_at <= ?`,
		owner, now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrLocked
	}

	return func() {
		if _, err := s.db.Exec(`DELETE FROM run_lock WHERE id = 1 AND owner = ?`, owner); err != nil {
			logger.Warn("Failed to release run lock: %v", err)
		}
	}, nil
}

// Load returns the persisted alert state, or the empty state when none is
// stored or the row cannot be read.
func (s *SQLiteStore) Load(ctx context.Context) models.AlertState {
	var lastCandle, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_candle_time, updated_at FROM alert_state WHERE id = 1`,
	).Scan(&lastCandle, &updatedAt)
	if err == sql.ErrNoRows {
		return models.AlertState{}
	}
	if err != nil {
		logger.Warn("Alert state unreadable, treating as empty: %v", err)
		return models.AlertState{}
	}
	return models.AlertState{
		LastAlertedCandle: lastCandle,
		HasAlerted:        true,
		UpdatedAt:         time.Unix(0, updatedAt),
	}
}

// Save overwrites the persisted alert state.
func (s *SQLiteStore) Save(ctx context.Context, state models.AlertState) error {
	if !state.HasAlerted {
		return ErrEmptyState
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alert_state (id, last_candle_time, updated_at)
		VALUES (1, ?, ?)`,
		state.LastAlertedCandle, state.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// AddAlert appends a delivered alert to the history. An empty ID is filled in.
func (s *SQLiteStore) AddAlert(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts
			(id, symbol, kline_interval, direction, candle_time, close_price,
			 short_window, long_window, short_alma, long_alma, detected_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		alert.ID, alert.Symbol, alert.Interval, alert.Event.String(), alert.CandleTime, alert.Close,
		alert.ShortWindow, alert.LongWindow, alert.ShortALMA, alert.LongALMA,
		alert.DetectedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *SQLiteStore) RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, kline_interval, direction, candle_time, close_price,
		       short_window, long_window, short_alma, long_alma, detected_at
		FROM alerts ORDER BY detected_at DESC, candle_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		var a models.Alert
		var direction string
		var detectedAtNano int64

		err := rows.Scan(
			&a.ID, &a.Symbol, &a.Interval, &direction, &a.CandleTime, &a.Close,
			&a.ShortWindow, &a.LongWindow, &a.ShortALMA, &a.LongALMA, &detectedAtNano,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		a.Event = parseDirection(direction)
		a.DetectedAt = time.Unix(0, detectedAtNano)
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

func parseDirection(s string) models.CrossEvent {
	switch s {
	case models.CrossBullish.String():
		return models.CrossBullish
	case models.CrossBearish.String():
		return models.CrossBearish
	default:
		return models.CrossNone
	}
}
