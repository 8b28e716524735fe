package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/domain"
)

// Journal persists an audit trail of closed positions and rebalance fills
// in Postgres. A nil *Journal is a valid no-op: every method returns
// immediately, so callers never branch on whether journaling is enabled.
type Journal struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS closed_positions (
	id            BIGSERIAL PRIMARY KEY,
	symbol        TEXT             NOT NULL,
	order_id      TEXT             NOT NULL,
	quantity      DOUBLE PRECISION NOT NULL,
	entry_price   DOUBLE PRECISION NOT NULL,
	exit_price    DOUBLE PRECISION NOT NULL,
	entry_time    TIMESTAMPTZ      NOT NULL,
	exit_time     TIMESTAMPTZ      NOT NULL,
	pnl_usd       DOUBLE PRECISION NOT NULL,
	pnl_pct       DOUBLE PRECISION NOT NULL,
	close_reason  TEXT             NOT NULL,
	recorded_at   TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rebalance_trades (
	id             BIGSERIAL PRIMARY KEY,
	run_id         TEXT             NOT NULL,
	symbol         TEXT             NOT NULL,
	side           TEXT             NOT NULL,
	notional_usd   DOUBLE PRECISION NOT NULL,
	fill_price     DOUBLE PRECISION NOT NULL,
	fill_quantity  DOUBLE PRECISION NOT NULL,
	current_weight DOUBLE PRECISION NOT NULL,
	target_weight  DOUBLE PRECISION NOT NULL,
	reason         TEXT             NOT NULL,
	executed_at    TIMESTAMPTZ      NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_closed_positions_symbol ON closed_positions (symbol);
CREATE INDEX IF NOT EXISTS idx_rebalance_trades_run ON rebalance_trades (run_id);
`

// Open connects to Postgres and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal connect: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	log.Info().Msg("trade journal ready")
	return &Journal{db: db}, nil
}

// NewWithDB wraps an existing connection, for tests.
func NewWithDB(db *sqlx.DB) *Journal {
	return &Journal{db: db}
}

// RecordClose journals one closed position.
func (j *Journal) RecordClose(ctx context.Context, p domain.Position) error {
	if j == nil {
		return nil
	}
	if p.ExitTime == nil {
		return fmt.Errorf("journal close %s: position has no exit", p.Symbol)
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO closed_positions
			(symbol, order_id, quantity, entry_price, exit_price, entry_time, exit_time, pnl_usd, pnl_pct, close_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.Symbol, p.OrderID, p.Quantity, p.EntryPrice, p.ExitPrice,
		p.EntryTime, *p.ExitTime, p.PnLUSD, p.PnLPct, string(p.CloseReason),
	)
	if err != nil {
		return fmt.Errorf("journal close %s: %w", p.Symbol, err)
	}
	return nil
}

// RecordRebalanceTrade journals one executed rebalance fill under a run id.
func (j *Journal) RecordRebalanceTrade(ctx context.Context, runID string, trade domain.Trade, fillPrice, fillQty float64, executedAt time.Time) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO rebalance_trades
			(run_id, symbol, side, notional_usd, fill_price, fill_quantity, current_weight, target_weight, reason, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		runID, trade.Symbol, string(trade.Side), trade.NotionalUSD,
		fillPrice, fillQty, trade.CurrentWeight, trade.TargetWeight, trade.Reason, executedAt,
	)
	if err != nil {
		return fmt.Errorf("journal rebalance trade %s: %w", trade.Symbol, err)
	}
	return nil
}

// ClosedRow is a flat row from the closed_positions table.
type ClosedRow struct {
	Symbol      string    `db:"symbol"`
	Quantity    float64   `db:"quantity"`
	EntryPrice  float64   `db:"entry_price"`
	ExitPrice   float64   `db:"exit_price"`
	ExitTime    time.Time `db:"exit_time"`
	PnLUSD      float64   `db:"pnl_usd"`
	CloseReason string    `db:"close_reason"`
}

// RecentCloses returns the latest journaled closes, newest first.
func (j *Journal) RecentCloses(ctx context.Context, limit int) ([]ClosedRow, error) {
	if j == nil {
		return nil, nil
	}
	var rows []ClosedRow
	err := j.db.SelectContext(ctx, &rows, `
		SELECT symbol, quantity, entry_price, exit_price, exit_time, pnl_usd, close_reason
		FROM closed_positions
		ORDER BY exit_time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal recent closes: %w", err)
	}
	return rows, nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
