package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/equityrun/internal/domain"
)

// Paper is an in-memory broker that fills orders immediately at the last
// known price. It backs local runs and tests; the fill math mirrors the
// live venue (notional or quantity sizing, cash accounting).
type Paper struct {
	mu       sync.Mutex
	cash     float64
	prices   map[string]float64
	holdings map[string]*domain.Holding
	// FillRatio < 1 simulates partial fills. Defaults to 1.
	fillRatio float64
}

// NewPaper creates a paper broker with the given starting cash.
func NewPaper(cashUSD float64) *Paper {
	return &Paper{
		cash:      cashUSD,
		prices:    make(map[string]float64),
		holdings:  make(map[string]*domain.Holding),
		fillRatio: 1.0,
	}
}

// SetPrice sets the quoted price for a symbol.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetFillRatio makes subsequent BUY orders fill only the given fraction.
func (p *Paper) SetFillRatio(r float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fillRatio = r
}

// Seed installs an existing holding, for reconciliation tests.
func (p *Paper) Seed(h domain.Holding) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := h
	p.holdings[h.Symbol] = &c
}

func (p *Paper) SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[req.Symbol]
	if !ok || price <= 0 {
		return Fill{}, fmt.Errorf("%w: no quote for %s", ErrOrderRejected, req.Symbol)
	}

	qty := req.Quantity
	if qty <= 0 {
		qty = req.NotionalUSD / price
	}

	switch req.Side {
	case domain.SideBuy:
		qty *= p.fillRatio
		cost := qty * price
		if cost > p.cash {
			return Fill{}, fmt.Errorf("%w: insufficient cash for %s", ErrOrderRejected, req.Symbol)
		}
		p.cash -= cost
		h, ok := p.holdings[req.Symbol]
		if !ok {
			p.holdings[req.Symbol] = &domain.Holding{Symbol: req.Symbol, Quantity: qty, AvgCost: price}
		} else {
			total := h.Quantity + qty
			h.AvgCost = (h.AvgCost*h.Quantity + price*qty) / total
			h.Quantity = total
		}
	case domain.SideSell:
		h, ok := p.holdings[req.Symbol]
		if !ok || h.Quantity <= 0 {
			return Fill{}, fmt.Errorf("%w: no holding to sell for %s", ErrOrderRejected, req.Symbol)
		}
		if qty > h.Quantity {
			qty = h.Quantity
		}
		p.cash += qty * price
		h.Quantity -= qty
		if h.Quantity <= 1e-12 {
			delete(p.holdings, req.Symbol)
		}
	default:
		return Fill{}, fmt.Errorf("%w: unknown side %q", ErrOrderRejected, req.Side)
	}

	return Fill{
		OrderID:     uuid.NewString(),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Price:       price,
		Quantity:    qty,
		NotionalUSD: qty * price,
		FilledAt:    time.Now().UTC(),
		Partial:     req.Side == domain.SideBuy && p.fillRatio < 1,
	}, nil
}

func (p *Paper) OpenPositions(ctx context.Context) ([]domain.Holding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		c := *h
		if price, ok := p.prices[h.Symbol]; ok {
			c.CurrentPrice = price
			c.MarketValue = price * h.Quantity
		}
		out = append(out, c)
	}
	return out, nil
}

func (p *Paper) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("paper broker: no quote for %s", symbol)
	}
	return price, nil
}

func (p *Paper) GetAccount(ctx context.Context) (Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.cash
	for _, h := range p.holdings {
		if price, ok := p.prices[h.Symbol]; ok {
			equity += price * h.Quantity
		} else {
			equity += h.AvgCost * h.Quantity
		}
	}
	return Account{EquityUSD: equity, CashUSD: p.cash}, nil
}
