// Package broker defines the order-execution boundary and its
// implementations. The core only calls these interfaces; the wire protocol
// behind them is a collaborator concern.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/equityrun/internal/domain"
)

// ErrOrderRejected marks a permanent order failure that must not be retried.
var ErrOrderRejected = errors.New("order rejected")

// OrderRequest specifies an order by notional value. Fractional shares are
// assumed; sizing in currency keeps the decision engine price-agnostic.
type OrderRequest struct {
	Symbol      string
	Side        domain.Side
	NotionalUSD float64
	// Quantity, when > 0, overrides NotionalUSD (used for full exits).
	Quantity    float64
	TimeInForce string
}

// Fill is the execution result. A partial fill reports the filled quantity;
// the caller records the position at the filled amount, not the requested
// one.
type Fill struct {
	OrderID     string
	Symbol      string
	Side        domain.Side
	Price       float64
	Quantity    float64
	NotionalUSD float64
	FilledAt    time.Time
	Partial     bool
}

// Account is the broker-reported account summary.
type Account struct {
	EquityUSD float64
	CashUSD   float64
}

// Broker is the execution venue as seen by the engine.
type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error)
	OpenPositions(ctx context.Context) ([]domain.Holding, error)
	LatestPrice(ctx context.Context, symbol string) (float64, error)
	GetAccount(ctx context.Context) (Account, error)
}
