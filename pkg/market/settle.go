package market

import (
	"fmt"
	"math"
)

// TradeSettlement is the resolution of a single trade: each share of the
// winning outcome pays $1, every other share pays $0, and Profit is the
// payout net of what the trade cost.
type TradeSettlement struct {
	TradeID string
	Outcome string
	Shares  float64
	Cost    float64
	Payout  float64
	Profit  float64
}

// Settlement is the post-resolution accounting for a trade log.
// TotalPayout and NetProfit are keyed by hypothetical winner: TotalPayout[o]
// is what the market maker pays out if o wins (the shares sold of o), and
// NetProfit[o] = TotalPayout[o] − TotalCost is the traders' aggregate
// profit in that case. MaxLoss is b·ln(N), the bound on the market maker's
// loss regardless of trade sequence or result.
type Settlement struct {
	WinningOutcome string
	PerTrade       []TradeSettlement
	TotalCost      float64
	TotalPayout    map[string]float64
	NetProfit      map[string]float64
	MaxLoss        float64
}

// Settle computes payouts and profits for a trade log once the winning
// outcome is known. It reads only its arguments: settling is repeatable
// and never mutates market state. Trades referencing outcomes outside the
// declared set are rejected, as is an unknown winner.
func Settle(b float64, outcomes []string, trades []Trade, winningOutcome string) (*Settlement, error) {
	if b <= 0 {
		return nil, fmt.Errorf("%w: liquidity must be positive, got %v", ErrInvalidParameter, b)
	}
	declared := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		declared[o] = true
	}
	if !declared[winningOutcome] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutcome, winningOutcome)
	}

	s := &Settlement{
		WinningOutcome: winningOutcome,
		PerTrade:       make([]TradeSettlement, 0, len(trades)),
		TotalPayout:    make(map[string]float64, len(outcomes)),
		NetProfit:      make(map[string]float64, len(outcomes)),
		MaxLoss:        b * math.Log(float64(len(outcomes))),
	}
	for _, o := range outcomes {
		s.TotalPayout[o] = 0
	}

	for i, t := range trades {
		if !declared[t.Outcome] {
			return nil, fmt.Errorf("%w: trade %d references %q", ErrUnknownOutcome, i, t.Outcome)
		}
		payout := float64(0)
		if t.Outcome == winningOutcome {
			payout = t.Shares
		}
		s.PerTrade = append(s.PerTrade, TradeSettlement{
			TradeID: t.ID,
			Outcome: t.Outcome,
			Shares:  t.Shares,
			Cost:    t.Cost,
			Payout:  payout,
			Profit:  payout - t.Cost,
		})
		s.TotalCost += t.Cost
		s.TotalPayout[t.Outcome] += t.Shares
	}
	for _, o := range outcomes {
		s.NetProfit[o] = s.TotalPayout[o] - s.TotalCost
	}
	return s, nil
}

// Settle resolves the market's own trade log against the winning outcome.
func (m *Market) Settle(winningOutcome string) (*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Settle(m.b, m.outcomes, m.trades, winningOutcome)
}
