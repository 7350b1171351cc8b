// Package candle implements CandleStore: the one persisted entity kept as
// an embedded table rather than a JSON file, backed by modernc.org/sqlite
// with a single-writer handle and idempotent CREATE TABLE IF NOT EXISTS
// migration shape.
package candle

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS candles (
    symbol    TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    mts       INTEGER NOT NULL,
    open      REAL NOT NULL,
    close     REAL NOT NULL,
    high      REAL NOT NULL,
    low       REAL NOT NULL,
    volume    REAL NOT NULL,
    PRIMARY KEY (symbol, timeframe, mts)
);

CREATE INDEX IF NOT EXISTS idx_candles_pair_mts ON candles(symbol, timeframe, mts DESC);
`

// Candle is one OHLCV bar.
type Candle struct {
	MTS    int64
	Open   float64
	Close  float64
	High   float64
	Low    float64
	Volume float64
}

// Store is the embedded per-(symbol,timeframe) OHLCV table with retention.
// Single-writer concurrency discipline : one *sql.DB with
// SetMaxOpenConns(1), exactly as db.New.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) the SQLite database at path and applies schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("candle store: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("candle store: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("candle store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("candle store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Store upserts candles for (symbol, timeframe) keyed on mts.
func (s *Store) Store(symbol, timeframe string, candles []Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("candle store: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO candles (symbol, timeframe, mts, open, close, high, low, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, mts) DO UPDATE SET
			open=excluded.open, close=excluded.close, high=excluded.high,
			low=excluded.low, volume=excluded.volume
	`)
	if err != nil {
		return fmt.Errorf("candle store: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(symbol, timeframe, c.MTS, c.Open, c.Close, c.High, c.Low, c.Volume); err != nil {
			return fmt.Errorf("candle store: upsert: %w", err)
		}
	}
	return tx.Commit()
}

// Load returns up to limit candles for (symbol, timeframe), newest first.
func (s *Store) Load(symbol, timeframe string, limit int) ([]Candle, error) {
	rows, err := s.db.Query(`
		SELECT mts, open, close, high, low, volume FROM candles
		WHERE symbol = ? AND timeframe = ?
		ORDER BY mts DESC LIMIT ?
	`, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("candle store: load: %w", err)
	}
	defer rows.Close()

	var out []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.MTS, &c.Open, &c.Close, &c.High, &c.Low, &c.Volume); err != nil {
			return nil, fmt.Errorf("candle store: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetLast returns the most recent candle for (symbol, timeframe), or ok=false
// if none exists.
func (s *Store) GetLast(symbol, timeframe string) (c Candle, ok bool, err error) {
	rows, err := s.Load(symbol, timeframe, 1)
	if err != nil {
		return Candle{}, false, err
	}
	if len(rows) == 0 {
		return Candle{}, false, nil
	}
	return rows[0], true, nil
}

// EnforceRetention deletes rows older than maxDays, then trims each
// (symbol,timeframe) pair to at most maxRowsPerPair newest rows.
func (s *Store) EnforceRetention(maxDays int, maxRowsPerPair int) error {
	cutoffMTS := time.Now().AddDate(0, 0, -maxDays).UnixMilli()
	if _, err := s.db.Exec(`DELETE FROM candles WHERE mts < ?`, cutoffMTS); err != nil {
		return fmt.Errorf("candle store: retention by age: %w", err)
	}

	pairs, err := s.distinctPairs()
	if err != nil {
		return err
	}
	for _, p := range pairs {
		_, err := s.db.Exec(`
			DELETE FROM candles
			WHERE symbol = ? AND timeframe = ? AND mts NOT IN (
				SELECT mts FROM candles
				WHERE symbol = ? AND timeframe = ?
				ORDER BY mts DESC LIMIT ?
			)
		`, p.symbol, p.timeframe, p.symbol, p.timeframe, maxRowsPerPair)
		if err != nil {
			return fmt.Errorf("candle store: retention trim %s/%s: %w", p.symbol, p.timeframe, err)
		}
	}
	return nil
}

type pairKey struct{ symbol, timeframe string }

func (s *Store) distinctPairs() ([]pairKey, error) {
	rows, err := s.db.Query(`SELECT DISTINCT symbol, timeframe FROM candles`)
	if err != nil {
		return nil, fmt.Errorf("candle store: distinct pairs: %w", err)
	}
	defer rows.Close()

	var out []pairKey
	for rows.Next() {
		var p pairKey
		if err := rows.Scan(&p.symbol, &p.timeframe); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
