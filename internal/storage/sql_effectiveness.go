package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/logging"
	"rail-conflict-advisor/internal/types"
)

const effectivenessSchema = `
CREATE TABLE IF NOT EXISTS strategy_effectiveness (
	conflict_type TEXT NOT NULL,
	strategy TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	version BIGINT NOT NULL,
	samples BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (conflict_type, strategy)
)`

// SQLEffectivenessStore keeps the effectiveness table in SQLite or PostgreSQL.
// Versions are checked in the WHERE clause so concurrent writers never
// overwrite each other silently.
type SQLEffectivenessStore struct {
	db      *sql.DB
	dialect string
	logger  logging.Logger
	now     func() time.Time
}

// NewSQLEffectivenessStore opens the database and creates the table.
// driver is one of sqlite3, sqlite or postgres.
func NewSQLEffectivenessStore(ctx context.Context, driver, dsn string, logger logging.Logger) (*SQLEffectivenessStore, error) {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	var db *sql.DB
	var err error
	switch driver {
	case "sqlite3", "sqlite":
		driver = "sqlite3"
		db, err = sql.Open(driver, sqliteDSN(dsn))
		if err == nil {
			// a single writer avoids SQLITE_BUSY under WAL
			db.SetMaxOpenConns(1)
		}
	case "postgres":
		db, err = sql.Open(driver, dsn)
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(time.Hour)
		}
	default:
		return nil, adverrors.NewConfigurationError(fmt.Sprintf("unsupported effectiveness driver %q", driver), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, effectivenessSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create effectiveness table: %w", err)
	}

	logger.Info("Effectiveness store ready", "driver", driver)
	return &SQLEffectivenessStore{
		db:      db,
		dialect: driver,
		logger:  logger.WithComponent("effectiveness_store"),
		now:     time.Now,
	}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_journal_mode=WAL&_sync=NORMAL&_busy_timeout=5000"
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *SQLEffectivenessStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLEffectivenessStore) Get(ctx context.Context, key types.EffectivenessKey) (Score, error) {
	var score Score
	var updated int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT value, version, samples, updated_at FROM strategy_effectiveness WHERE conflict_type = ? AND strategy = ?`),
		string(key.ConflictType), string(key.Strategy),
	).Scan(&score.Value, &score.Version, &score.Samples, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Score{}, adverrors.NewNotFoundError("effectiveness score", key.String())
	}
	if err != nil {
		return Score{}, fmt.Errorf("failed to read effectiveness %s: %w", key, err)
	}
	score.UpdatedAt = time.Unix(0, updated).UTC()
	return score, nil
}

func (s *SQLEffectivenessStore) Snapshot(ctx context.Context) (map[types.EffectivenessKey]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT conflict_type, strategy, value FROM strategy_effectiveness`)
	if err != nil {
		return nil, fmt.Errorf("failed to read effectiveness table: %w", err)
	}
	defer rows.Close()

	out := make(map[types.EffectivenessKey]float64)
	for rows.Next() {
		var conflictType, strategy string
		var value float64
		if err := rows.Scan(&conflictType, &strategy, &value); err != nil {
			return nil, fmt.Errorf("failed to scan effectiveness row: %w", err)
		}
		out[types.EffectivenessKey{
			ConflictType: types.ConflictType(conflictType),
			Strategy:     types.Strategy(strategy),
		}] = value
	}
	return out, rows.Err()
}

func (s *SQLEffectivenessStore) CompareAndSwap(ctx context.Context, key types.EffectivenessKey, expected int64, value float64) (Score, error) {
	if value < 0 || value > 1 {
		return Score{}, adverrors.NewValidationError("value", "effectiveness must be in [0,1]", value)
	}
	now := s.now().UTC()

	if expected == 0 {
		_, err := s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO strategy_effectiveness (conflict_type, strategy, value, version, samples, updated_at) VALUES (?, ?, ?, 1, 1, ?)`),
			string(key.ConflictType), string(key.Strategy), value, now.UnixNano())
		if err != nil {
			if isWriteRace(err) {
				return Score{}, adverrors.NewVersionConflictError(key.String(), expected)
			}
			return Score{}, fmt.Errorf("failed to insert effectiveness %s: %w", key, err)
		}
		return Score{Value: value, Version: 1, Samples: 1, UpdatedAt: now}, nil
	}

	var samples int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`UPDATE strategy_effectiveness
		 SET value = ?, version = version + 1, samples = samples + 1, updated_at = ?
		 WHERE conflict_type = ? AND strategy = ? AND version = ?
		 RETURNING samples`),
		value, now.UnixNano(), string(key.ConflictType), string(key.Strategy), expected,
	).Scan(&samples)
	if errors.Is(err, sql.ErrNoRows) {
		return Score{}, adverrors.NewVersionConflictError(key.String(), expected)
	}
	if err != nil {
		if isWriteRace(err) {
			return Score{}, adverrors.NewVersionConflictError(key.String(), expected)
		}
		return Score{}, fmt.Errorf("failed to update effectiveness %s: %w", key, err)
	}
	return Score{Value: value, Version: expected + 1, Samples: samples, UpdatedAt: now}, nil
}

func (s *SQLEffectivenessStore) Close() error {
	return s.db.Close()
}

// isWriteRace reports driver errors caused by a concurrent writer
func isWriteRace(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001":
			return true
		}
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint || liteErr.Code == sqlite3.ErrBusy
	}
	return false
}
