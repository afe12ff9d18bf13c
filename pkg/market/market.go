// Package market implements a multi-outcome prediction market priced by a
// Logarithmic Market Scoring Rule market maker. A Market owns the declared
// outcome set, the liquidity parameter b, the outstanding-share quantities,
// and an append-only trade log; all pricing math lives in pkg/lmsr.
package market

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lithammer/shortuuid"
	"github.com/rs/zerolog/log"

	"github.com/kpello/lmsrmarket/pkg/lmsr"
)

var (
	ErrInvalidParameter = errors.New("market: invalid parameter")
	ErrUnknownOutcome   = errors.New("market: unknown outcome")
	ErrInvalidTrade     = errors.New("market: invalid trade")
)

// Trade is one committed trade: negative shares are a sale, and Cost is the
// signed cost function delta the trader paid (or was credited). Trades are
// immutable once appended to the log.
type Trade struct {
	ID      string
	Outcome string
	Shares  float64
	Cost    float64
}

// Bet is a trade request before it has been applied.
type Bet struct {
	Outcome string
	Shares  float64
}

// Quote is a snapshot of the per-outcome prices and the cost function
// value. Prices sum to 1 within floating-point tolerance.
type Quote struct {
	Prices map[string]float64
	Cost   float64
}

// TradeResult is the outcome of a successful trade application: the
// committed trade record and the quote over the updated market.
type TradeResult struct {
	Trade Trade
	Quote Quote
}

// ReplayError reports the position of the first bet in a replayed sequence
// that failed to apply. Bets before Index remain committed; matched trades
// are irrevocable.
type ReplayError struct {
	Index int
	Err   error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("market: replay failed at bet %d: %v", e.Index, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }

// Market is a single LMSR market. The outcome set and b are fixed at
// creation; the quantity vector and trade log change only through
// ApplyTrade. A Market is safe for concurrent use; trade application is
// serialized per instance.
type Market struct {
	id       string
	b        float64
	outcomes []string
	index    map[string]int

	mu         sync.RWMutex
	quantities []float64
	trades     []Trade
}

// New creates a market over the given outcome set with every quantity at
// zero. The set needs at least two distinct outcomes and b must be
// positive. Outcome order is preserved for reporting.
func New(outcomes []string, b float64) (*Market, error) {
	if b <= 0 {
		return nil, fmt.Errorf("%w: liquidity must be positive, got %v", ErrInvalidParameter, b)
	}
	if len(outcomes) < 2 {
		return nil, fmt.Errorf("%w: need at least two outcomes, got %d", ErrInvalidParameter, len(outcomes))
	}
	index := make(map[string]int, len(outcomes))
	for i, o := range outcomes {
		if o == "" {
			return nil, fmt.Errorf("%w: empty outcome name", ErrInvalidParameter)
		}
		if _, dup := index[o]; dup {
			return nil, fmt.Errorf("%w: duplicate outcome %q", ErrInvalidParameter, o)
		}
		index[o] = i
	}
	m := &Market{
		id:         shortuuid.New(),
		b:          b,
		outcomes:   append([]string(nil), outcomes...),
		index:      index,
		quantities: make([]float64, len(outcomes)),
	}
	log.Debug().Str("market", m.id).Float64("b", b).Int("outcomes", len(outcomes)).Msg("created-market")
	return m, nil
}

// ID returns the market's generated identifier.
func (m *Market) ID() string { return m.id }

// Liquidity returns the market's b parameter.
func (m *Market) Liquidity() float64 { return m.b }

// Outcomes returns a copy of the declared outcome set in creation order.
func (m *Market) Outcomes() []string {
	return append([]string(nil), m.outcomes...)
}

// Quantities returns a copy of the outstanding shares per outcome.
func (m *Market) Quantities() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qs := make(map[string]float64, len(m.outcomes))
	for i, o := range m.outcomes {
		qs[o] = m.quantities[i]
	}
	return qs
}

// TradeLog returns a copy of the committed trades in application order.
func (m *Market) TradeLog() []Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Trade(nil), m.trades...)
}

// Quote returns the current per-outcome prices and the cost function value.
// It has no side effects; repeated calls without an intervening trade
// return identical results.
func (m *Market) Quote() (*Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quoteOf(m.quantities)
}

func (m *Market) quoteOf(quantities []float64) (*Quote, error) {
	prices, err := lmsr.Prices(m.b, quantities)
	if err != nil {
		return nil, err
	}
	cost, err := lmsr.Cost(m.b, quantities)
	if err != nil {
		return nil, err
	}
	q := &Quote{Prices: make(map[string]float64, len(m.outcomes)), Cost: cost}
	for i, o := range m.outcomes {
		q.Prices[o] = prices[i]
	}
	return q, nil
}

// ApplyTrade buys (or, with negative shares, sells) shares of the given
// outcome. The trade cost is the cost function delta across the trade. The
// quantity vector and the trade log commit together; on any error the
// market is left untouched. Zero-share trades are rejected rather than
// logged as no-ops.
func (m *Market) ApplyTrade(outcome string, shares float64) (*TradeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.index[outcome]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutcome, outcome)
	}
	if shares == 0 {
		return nil, fmt.Errorf("%w: zero shares of %q", ErrInvalidTrade, outcome)
	}

	cost, err := lmsr.TradeCost(m.b, shares, m.quantities, idx)
	if err != nil {
		return nil, err
	}
	next := append([]float64(nil), m.quantities...)
	next[idx] += shares
	quote, err := m.quoteOf(next)
	if err != nil {
		return nil, err
	}

	trade := Trade{ID: shortuuid.New(), Outcome: outcome, Shares: shares, Cost: cost}
	m.quantities = next
	m.trades = append(m.trades, trade)

	log.Debug().Str("market", m.id).Str("trade", trade.ID).Str("outcome", outcome).
		Float64("shares", shares).Float64("cost", cost).Msg("applied-trade")
	return &TradeResult{Trade: trade, Quote: *quote}, nil
}

// Replay applies a sequence of bets in order via ApplyTrade. It stops at
// the first bet that fails and reports its position as a *ReplayError;
// earlier trades stay committed.
func (m *Market) Replay(bets []Bet) error {
	for i, bet := range bets {
		if _, err := m.ApplyTrade(bet.Outcome, bet.Shares); err != nil {
			return &ReplayError{Index: i, Err: err}
		}
	}
	return nil
}
