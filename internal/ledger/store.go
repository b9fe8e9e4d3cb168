package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"market_maker/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id         TEXT PRIMARY KEY,
	pair       TEXT NOT NULL,
	side       INTEGER NOT NULL,
	mode       INTEGER NOT NULL,
	entry      TEXT NOT NULL,
	quantity   TEXT NOT NULL,
	opened_at  INTEGER NOT NULL,
	UNIQUE(pair, side, mode)
);

CREATE TABLE IF NOT EXISTS trades (
	id         TEXT PRIMARY KEY,
	pair       TEXT NOT NULL,
	side       INTEGER NOT NULL,
	mode       INTEGER NOT NULL,
	entry      TEXT NOT NULL,
	exit       TEXT NOT NULL,
	quantity   TEXT NOT NULL,
	pnl_usd    TEXT NOT NULL,
	opened_at  INTEGER NOT NULL,
	closed_at  INTEGER NOT NULL
);
`

// SQLiteStore is the mattn/go-sqlite3-backed implementation of Store
// (spec §6, Persisted state).
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) the ledger database at path
// and ensures its schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger store: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger store: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// InsertPosition writes or replaces the position row for its (pair, side,
// mode) key — used both for new opens and for averaging-up updates.
func (s *SQLiteStore) InsertPosition(ctx context.Context, p model.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (id, pair, side, mode, entry, quantity, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair, side, mode) DO UPDATE SET
			entry = excluded.entry,
			quantity = excluded.quantity
	`, p.ID, p.Pair, int(p.Side), int(p.Mode), p.Entry.String(), p.Quantity.String(), p.OpenedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("ledger store: insert position: %w", err)
	}
	return nil
}

// DeletePositionAndInsertTrade removes the open position at key and
// records the closing trade in a single transaction (spec §4.3).
func (s *SQLiteStore) DeletePositionAndInsertTrade(ctx context.Context, key model.PositionKey, t model.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE pair = ? AND side = ? AND mode = ?`,
		key.Pair, int(key.Side), int(key.Mode)); err != nil {
		return fmt.Errorf("ledger store: delete position: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades (id, pair, side, mode, entry, exit, quantity, pnl_usd, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Pair, int(t.Side), int(t.Mode), t.Entry.String(), t.Exit.String(), t.Quantity.String(),
		t.PnLUSD.String(), t.OpenedAt.UnixMilli(), t.ClosedAt.UnixMilli()); err != nil {
		return fmt.Errorf("ledger store: insert trade: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger store: commit: %w", err)
	}
	return nil
}

// LoadPositions reads every open position, used at startup.
func (s *SQLiteStore) LoadPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, pair, side, mode, entry, quantity, opened_at FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("ledger store: load positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var (
			p                  model.Position
			side, mode         int
			entry, qty         string
			openedAtMillis     int64
		)
		if err := rows.Scan(&p.ID, &p.Pair, &side, &mode, &entry, &qty, &openedAtMillis); err != nil {
			return nil, fmt.Errorf("ledger store: scan position: %w", err)
		}
		p.Side = model.Side(side)
		p.Mode = model.Mode(mode)
		p.Entry, _ = decimal.NewFromString(entry)
		p.Quantity, _ = decimal.NewFromString(qty)
		p.OpenedAt = time.UnixMilli(openedAtMillis)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RealizedPnL24h sums pnl_usd for trades closed within the last 24 hours
// in the given mode, for the Snapshot's rolling PnL figure.
func (s *SQLiteStore) RealizedPnL24h(ctx context.Context, mode model.Mode) (decimal.Decimal, error) {
	cutoff := time.Now().Add(-24 * time.Hour).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `SELECT pnl_usd FROM trades WHERE mode = ? AND closed_at >= ?`, int(mode), cutoff)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger store: realized pnl: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("ledger store: scan pnl: %w", err)
		}
		d, _ := decimal.NewFromString(raw)
		total = total.Add(d)
	}
	return total, rows.Err()
}
