package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trendline/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		strategy     TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		market       TEXT NOT NULL,
		start_ms     INTEGER NOT NULL,
		end_ms       INTEGER NOT NULL,
		cash         REAL NOT NULL,
		config       TEXT NOT NULL,
		status       TEXT NOT NULL,
		final_value  REAL NOT NULL DEFAULT 0,
		total_return REAL NOT NULL DEFAULT 0,
		max_drawdown REAL NOT NULL DEFAULT 0,
		trade_count  INTEGER NOT NULL DEFAULT 0,
		created_ms   INTEGER NOT NULL,
		finished_ms  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id           TEXT PRIMARY KEY,
		run_id       TEXT NOT NULL REFERENCES runs(id),
		symbol       TEXT NOT NULL,
		side         TEXT NOT NULL,
		type         TEXT NOT NULL,
		status       TEXT NOT NULL,
		qty          INTEGER NOT NULL,
		filled_qty   INTEGER NOT NULL,
		filled_price REAL NOT NULL,
		commission   REAL NOT NULL,
		created_ms   INTEGER NOT NULL,
		updated_ms   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_run ON orders(run_id, created_ms)`,
	`CREATE TABLE IF NOT EXISTS trades (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL REFERENCES runs(id),
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		entry_ms    INTEGER NOT NULL,
		exit_ms     INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price  REAL NOT NULL,
		gross_pnl   REAL NOT NULL,
		net_pnl     REAL NOT NULL,
		commission  REAL NOT NULL,
		bars_held   INTEGER NOT NULL,
		exit_reason TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS trades_run ON trades(run_id, seq)`,
	`CREATE TABLE IF NOT EXISTS events (
		seq     INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id  TEXT NOT NULL REFERENCES runs(id),
		time_ms INTEGER NOT NULL,
		kind    TEXT NOT NULL,
		message TEXT NOT NULL,
		attrs   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS events_run ON events(run_id, kind, seq)`,
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; also keeps :memory: databases on a single connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range append([]string{`PRAGMA foreign_keys = ON`, `PRAGMA busy_timeout = 5000`}, migrations...) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func ms(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMS(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// CreateRun inserts a run in the running state.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *Run) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Status = "running"
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(id, strategy, symbol, market, start_ms, end_ms, cash, config, status, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Strategy, r.Symbol, r.Market, ms(r.Start), ms(r.End), r.Cash, r.Config, r.Status, ms(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, r *Run) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET
		status = ?, final_value = ?, total_return = ?, max_drawdown = ?, trade_count = ?, finished_ms = ?
		WHERE id = ?`,
		r.Status, r.FinalValue, r.TotalReturn, r.MaxDrawdown, r.TradeCount, ms(r.FinishedAt), r.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, strategy, symbol, market, start_ms, end_ms, cash, config, status,
	final_value, total_return, max_drawdown, trade_count, created_ms, finished_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var start, end, created, finished int64
	if err := row.Scan(&r.ID, &r.Strategy, &r.Symbol, &r.Market, &start, &end, &r.Cash, &r.Config, &r.Status,
		&r.FinalValue, &r.TotalReturn, &r.MaxDrawdown, &r.TradeCount, &created, &finished); err != nil {
		return nil, err
	}
	r.Start, r.End = fromMS(start), fromMS(end)
	r.CreatedAt, r.FinishedAt = fromMS(created), fromMS(finished)
	return &r, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_ms DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// SaveOrder inserts or updates an order belonging to a run.
func (s *SQLiteStore) SaveOrder(ctx context.Context, runID string, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO orders
		(id, run_id, symbol, side, type, status, qty, filled_qty, filled_price, commission, created_ms, updated_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, filled_qty = excluded.filled_qty,
			filled_price = excluded.filled_price, commission = excluded.commission,
			updated_ms = excluded.updated_ms`,
		o.ID, runID, o.Symbol, string(o.Side), string(o.Type), string(o.Status), o.Qty, o.FilledQty,
		o.FilledAvgPrice, o.Commission, ms(o.CreatedAt), ms(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

// ListOrders returns a run's orders in creation order.
func (s *SQLiteStore) ListOrders(ctx context.Context, runID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, symbol, side, type, status, qty, filled_qty, filled_price,
		commission, created_ms, updated_ms FROM orders WHERE run_id = ? ORDER BY created_ms, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var side, typ, status string
		var created, updated int64
		if err := rows.Scan(&o.ID, &o.Symbol, &side, &typ, &status, &o.Qty, &o.FilledQty, &o.FilledAvgPrice,
			&o.Commission, &created, &updated); err != nil {
			return nil, err
		}
		o.Side, o.Type, o.Status = domain.OrderSide(side), domain.OrderType(typ), domain.OrderStatus(status)
		o.CreatedAt, o.UpdatedAt = fromMS(created), fromMS(updated)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ---------------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------------

// SaveTrades appends closed trades to a run in one transaction.
func (s *SQLiteStore) SaveTrades(ctx context.Context, runID string, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trades
		(run_id, symbol, side, qty, entry_ms, exit_ms, entry_price, exit_price, gross_pnl, net_pnl,
		 commission, bars_held, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx, runID, t.Symbol, string(t.Side), t.Qty, ms(t.EntryTime), ms(t.ExitTime),
			t.EntryPrice, t.ExitPrice, t.GrossPnL, t.NetPnL, t.Commission, t.BarsHeld, string(t.ExitReason)); err != nil {
			return fmt.Errorf("save trade: %w", err)
		}
	}
	return tx.Commit()
}

// ListTrades returns a run's trades in the order they were saved.
func (s *SQLiteStore) ListTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, side, qty, entry_ms, exit_ms, entry_price, exit_price,
		gross_pnl, net_pnl, commission, bars_held, exit_reason FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, reason string
		var entry, exit int64
		if err := rows.Scan(&t.Symbol, &side, &t.Qty, &entry, &exit, &t.EntryPrice, &t.ExitPrice,
			&t.GrossPnL, &t.NetPnL, &t.Commission, &t.BarsHeld, &reason); err != nil {
			return nil, err
		}
		t.Side, t.ExitReason = domain.PositionSide(side), domain.ExitReason(reason)
		t.EntryTime, t.ExitTime = fromMS(entry), fromMS(exit)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// SaveEvent appends one engine event to a run.
func (s *SQLiteStore) SaveEvent(ctx context.Context, runID string, ev domain.Event) error {
	attrs, err := json.Marshal(ev.Attrs)
	if err != nil {
		return fmt.Errorf("encode event attrs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO events (run_id, time_ms, kind, message, attrs) VALUES (?, ?, ?, ?, ?)`,
		runID, ms(ev.Time), string(ev.Kind), ev.Message, string(attrs))
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// ListEvents returns a run's events of the given kinds in recording order.
// Numeric attributes come back as float64.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, kinds ...domain.EventKind) ([]domain.Event, error) {
	query := `SELECT time_ms, kind, message, attrs FROM events WHERE run_id = ?`
	args := []any{runID}
	if len(kinds) > 0 {
		query += ` AND kind IN (?` + strings.Repeat(`, ?`, len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var t int64
		var kind, attrs string
		if err := rows.Scan(&t, &kind, &ev.Message, &attrs); err != nil {
			return nil, err
		}
		ev.Time, ev.Kind = fromMS(t), domain.EventKind(kind)
		if attrs != "" && attrs != "null" {
			if err := json.Unmarshal([]byte(attrs), &ev.Attrs); err != nil {
				return nil, fmt.Errorf("decode event attrs: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// EventRecorder writes engine events for one run. It satisfies the engine's
// Recorder interface; write failures are logged, not returned.
type EventRecorder struct {
	Store RunStore
	RunID string
	Kinds map[domain.EventKind]bool // nil records every kind
	Log   *slog.Logger
}

// Record implements engine.Recorder.
func (r *EventRecorder) Record(ctx context.Context, ev domain.Event) {
	if r.Kinds != nil && !r.Kinds[ev.Kind] {
		return
	}
	if err := r.Store.SaveEvent(ctx, r.RunID, ev); err != nil {
		log := r.Log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("record event", "run_id", r.RunID, "error", err)
	}
}
