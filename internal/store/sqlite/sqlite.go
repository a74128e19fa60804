// Package sqlite implements domain store interfaces on a single-file SQLite
// database using the pure-Go driver, so demo installs need no CGo toolchain.
package sqlite

import (
	"database/sql"
	"fmt"
	"math/big"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id              TEXT PRIMARY KEY,
    owner           TEXT NOT NULL,
    base_asset      TEXT NOT NULL,
    quote_asset     TEXT NOT NULL,
    yield_leg_id    TEXT NOT NULL,
    yield_liquidity TEXT NOT NULL DEFAULT '0',
    yield_amount0   TEXT NOT NULL DEFAULT '0',
    yield_amount1   TEXT NOT NULL DEFAULT '0',
    hedge_id        TEXT NOT NULL,
    hedge_value     TEXT NOT NULL DEFAULT '0',
    reference_price TEXT NOT NULL DEFAULT '0',
    status          TEXT NOT NULL DEFAULT 'active',
    yield_closed    INTEGER NOT NULL DEFAULT 0,
    hedge_closed    INTEGER NOT NULL DEFAULT 0,
    opened_at       TEXT NOT NULL,
    closed_at       TEXT,
    updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS hedge_positions (
    id                  TEXT PRIMARY KEY,
    owner               TEXT NOT NULL,
    collateral_asset    TEXT NOT NULL,
    shorted_asset       TEXT NOT NULL,
    principal           TEXT NOT NULL DEFAULT '0',
    leverage            TEXT NOT NULL DEFAULT '0',
    loan_amount         TEXT NOT NULL DEFAULT '0',
    collateral_supplied TEXT NOT NULL DEFAULT '0',
    debt_borrowed       TEXT NOT NULL DEFAULT '0',
    state               TEXT NOT NULL DEFAULT 'requested',
    opened_at           TEXT NOT NULL,
    closed_at           TEXT,
    updated_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT NOT NULL,
    detail     TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_owner  ON positions(owner, opened_at DESC);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status, closed_at);
CREATE INDEX IF NOT EXISTS idx_hedge_state      ON hedge_positions(state, closed_at);
CREATE INDEX IF NOT EXISTS idx_audit_created    ON audit_log(created_at DESC);
`

// Store owns the database handle shared by the per-entity stores.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// SQLite is single-writer; one connection avoids SQLITE_BUSY and keeps
	// ":memory:" databases on a single instance.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying handle for the per-entity stores.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeFormat is RFC 3339 with fixed nanosecond width so lexicographic
// ordering of stored timestamps matches chronological ordering in SQL
// comparisons.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: malformed timestamp %q: %w", s, err)
	}
	return t, nil
}

// encodeTimePtr maps a nil pointer to SQL NULL.
func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := decodeTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// big.Int fields persist as decimal text, matching the postgres stores.

func encodeBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("sqlite: malformed numeric %q", s)
	}
	return v, nil
}
