package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Side is the direction of an order or trade intent.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Direction is the polarity attached to a scored input.
type Direction string

const (
	DirectionBullish Direction = "BULLISH"
	DirectionNeutral Direction = "NEUTRAL"
	DirectionBearish Direction = "BEARISH"
)

// PositionStatus tracks the position lifecycle. A closed position is
// terminal; a new BUY always creates a fresh record.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// CloseReason is the reason code recorded when a position leaves the
// active set. Exit evaluation selects exactly one, in priority order.
type CloseReason string

const (
	CloseStopLoss        CloseReason = "stop_loss"
	CloseTakeProfit      CloseReason = "take_profit"
	CloseMaxHold         CloseReason = "max_hold"
	CloseSignalExit      CloseReason = "signal_exit"
	CloseExternalClosure CloseReason = "external_closure"
)

// ScoredInput is a single upstream observation: a sentiment conviction or a
// fundamentals composite score for one symbol. Immutable once produced.
type ScoredInput struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Score     float64   `json:"score"` // 0-100
	Direction Direction `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate rejects malformed inputs so a single bad item can be dropped
// without aborting the tick.
func (s ScoredInput) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("scored input: empty symbol")
	}
	if math.IsNaN(s.Score) || math.IsInf(s.Score, 0) {
		return fmt.Errorf("scored input %s: non-finite score", s.Symbol)
	}
	if s.Score < 0 || s.Score > 100 {
		return fmt.Errorf("scored input %s: score %.2f out of range [0,100]", s.Symbol, s.Score)
	}
	switch s.Direction {
	case DirectionBullish, DirectionNeutral, DirectionBearish:
	default:
		return fmt.Errorf("scored input %s: unknown direction %q", s.Symbol, s.Direction)
	}
	return nil
}

// TradeSignal is a proposed entry or exit produced by the signal generator.
type TradeSignal struct {
	SignalID    string    `json:"signal_id"`
	InputID     string    `json:"input_id"`
	Symbol      string    `json:"symbol"`
	Action      Side      `json:"action"`
	Conviction  float64   `json:"conviction"`
	NotionalUSD float64   `json:"notional_usd"` // 0 on SELL: full existing quantity
	GeneratedAt time.Time `json:"generated_at"`
}

// Position is a tracked holding with its entry metadata and exit levels.
type Position struct {
	Symbol       string         `json:"symbol"`
	OrderID      string         `json:"order_id"`
	Quantity     float64        `json:"quantity"`
	EntryPrice   float64        `json:"entry_price"`
	NotionalUSD  float64        `json:"notional_usd"`
	EntryTime    time.Time      `json:"entry_time"`
	StopLoss     float64        `json:"stop_loss"`
	TakeProfit   float64        `json:"take_profit"`
	MaxHoldUntil time.Time      `json:"max_hold_until"`
	Status       PositionStatus `json:"status"`
	Reconciled   bool           `json:"reconciled,omitempty"`

	ExitPrice   float64     `json:"exit_price,omitempty"`
	ExitTime    *time.Time  `json:"exit_time,omitempty"`
	PnLUSD      float64     `json:"pnl_usd,omitempty"`
	PnLPct      float64     `json:"pnl_pct,omitempty"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
}

// UnrealizedPnL returns the mark-to-market P&L at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity
}

// Validate enforces the open-position invariants: positive quantity and,
// for long entries, stop < entry < take-profit.
func (p Position) Validate() error {
	if p.Status == StatusOpen && p.Quantity <= 0 {
		return fmt.Errorf("position %s: non-positive quantity %.4f", p.Symbol, p.Quantity)
	}
	if math.IsNaN(p.EntryPrice) || math.IsInf(p.EntryPrice, 0) || p.EntryPrice <= 0 {
		return fmt.Errorf("position %s: invalid entry price %.4f", p.Symbol, p.EntryPrice)
	}
	if p.StopLoss >= p.EntryPrice {
		return fmt.Errorf("position %s: stop loss %.4f >= entry %.4f", p.Symbol, p.StopLoss, p.EntryPrice)
	}
	if p.TakeProfit <= p.EntryPrice {
		return fmt.Errorf("position %s: take profit %.4f <= entry %.4f", p.Symbol, p.TakeProfit, p.EntryPrice)
	}
	return nil
}

// RiskState holds the capital base and realized P&L ledgers. It is part of
// the persisted snapshot, so risk counters survive restarts.
type RiskState struct {
	CapitalUSD       float64            `json:"capital_usd"`
	DailyPnL         map[string]float64 `json:"daily_pnl"`   // "2006-01-02" -> USD
	MonthlyPnL       map[string]float64 `json:"monthly_pnl"` // "2006-01" -> USD
	UnrealizedPnLUSD float64            `json:"unrealized_pnl_usd"`
	DailyHalted      bool               `json:"daily_halted"`
	MonthlyHalted    bool               `json:"monthly_halted"`
	DailyResetAt     time.Time          `json:"daily_reset_at"`
	MonthlyResetAt   time.Time          `json:"monthly_reset_at"`
}

// NewRiskState returns an empty ledger for the given capital base.
func NewRiskState(capitalUSD float64) *RiskState {
	return &RiskState{
		CapitalUSD: capitalUSD,
		DailyPnL:   make(map[string]float64),
		MonthlyPnL: make(map[string]float64),
	}
}

// DayKey and MonthKey are the ledger key formats.
const (
	DayKey   = "2006-01-02"
	MonthKey = "2006-01"
)

// Record adds realized P&L to the daily and monthly ledgers.
func (r *RiskState) Record(pnlUSD float64, at time.Time) {
	if r.DailyPnL == nil {
		r.DailyPnL = make(map[string]float64)
	}
	if r.MonthlyPnL == nil {
		r.MonthlyPnL = make(map[string]float64)
	}
	r.DailyPnL[at.UTC().Format(DayKey)] += pnlUSD
	r.MonthlyPnL[at.UTC().Format(MonthKey)] += pnlUSD
}

// RealizedDaily returns the realized P&L recorded for the given day.
func (r *RiskState) RealizedDaily(at time.Time) float64 {
	return r.DailyPnL[at.UTC().Format(DayKey)]
}

// RealizedMonthly returns the realized P&L recorded for the given month.
func (r *RiskState) RealizedMonthly(at time.Time) float64 {
	return r.MonthlyPnL[at.UTC().Format(MonthKey)]
}

// Holding is a broker-reported position, the authoritative truth used for
// startup reconciliation and weight computation.
type Holding struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AvgCost      float64 `json:"avg_cost"`
	CurrentPrice float64 `json:"current_price,omitempty"`
	MarketValue  float64 `json:"market_value,omitempty"`
}

// Trade is an ephemeral rebalancing intent. It is produced and consumed
// within one cycle and never persisted on its own.
type Trade struct {
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	NotionalUSD   float64 `json:"notional_usd"`
	CurrentWeight float64 `json:"current_weight"`
	TargetWeight  float64 `json:"target_weight"`
	Reason        string  `json:"reason"`
}
