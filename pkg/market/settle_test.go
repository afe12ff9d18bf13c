package market

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/matryer/is"

	"github.com/kpello/lmsrmarket/pkg/lmsr"
)

func TestSettleBinarySeries(t *testing.T) {
	is := is.New(t)
	m, _ := New([]string{"yes", "no"}, 10)
	err := m.Replay([]Bet{
		{"yes", 5}, {"no", 3}, {"yes", 5}, {"yes", 4},
		{"yes", 10}, {"yes", 10}, {"yes", 5}, {"no", 5},
	})
	is.NoErr(err)

	s, err := m.Settle("yes")
	is.NoErr(err)
	is.Equal(s.WinningOutcome, "yes")
	is.Equal(s.TotalPayout["yes"], float64(39))
	is.Equal(s.TotalPayout["no"], float64(8))
	is.True(withinEpsilon(s.MaxLoss, 10*math.Log(2)))

	// total cost telescopes to C(final) − C(0).
	final, _ := lmsr.Cost(10, []float64{39, 8})
	initial, _ := lmsr.Cost(10, []float64{0, 0})
	is.True(withinEpsilon(s.TotalCost, final-initial))

	is.True(withinEpsilon(s.NetProfit["yes"], 39-s.TotalCost))
	is.True(withinEpsilon(s.NetProfit["no"], 8-s.TotalCost))
}

func TestSettlePerTrade(t *testing.T) {
	is := is.New(t)
	m, _ := New([]string{"yes", "no"}, 10)
	is.NoErr(m.Replay([]Bet{{"yes", 5}, {"no", 3}, {"yes", 5}}))

	s, err := m.Settle("yes")
	is.NoErr(err)
	is.Equal(len(s.PerTrade), 3)

	log := m.TradeLog()
	for i, ts := range s.PerTrade {
		is.Equal(ts.TradeID, log[i].ID)
		if ts.Outcome == "yes" {
			is.Equal(ts.Payout, ts.Shares)
		} else {
			is.Equal(ts.Payout, float64(0))
		}
		is.True(withinEpsilon(ts.Profit, ts.Payout-ts.Cost))
	}
}

func TestSettleUnknownWinner(t *testing.T) {
	is := is.New(t)
	m, _ := New([]string{"yes", "no"}, 10)
	m.ApplyTrade("yes", 5)
	_, err := m.Settle("nonexistent")
	is.True(errors.Is(err, ErrUnknownOutcome))
}

func TestSettleEmptyLog(t *testing.T) {
	is := is.New(t)
	m, _ := New([]string{"a", "b", "c"}, 50)
	s, err := m.Settle("b")
	is.NoErr(err)
	is.Equal(s.TotalCost, float64(0))
	is.Equal(s.TotalPayout["b"], float64(0))
	is.True(withinEpsilon(s.MaxLoss, 50*math.Log(3)))
}

func TestSettleRepeatableAndReadOnly(t *testing.T) {
	is := is.New(t)
	m, _ := New([]string{"yes", "no"}, 10)
	is.NoErr(m.Replay([]Bet{{"yes", 5}, {"no", 3}}))
	before, _ := m.Quote()

	s1, err := m.Settle("no")
	is.NoErr(err)
	s2, err := m.Settle("no")
	is.NoErr(err)
	is.Equal(s1, s2)

	after, _ := m.Quote()
	is.Equal(before, after)
	is.Equal(len(m.TradeLog()), 2)
}

func TestSettleRejectsCorruptLog(t *testing.T) {
	is := is.New(t)
	trades := []Trade{
		{ID: "t1", Outcome: "yes", Shares: 5, Cost: 2.6},
		{ID: "t2", Outcome: "maybe", Shares: 5, Cost: 2.6},
	}
	_, err := Settle(10, []string{"yes", "no"}, trades, "yes")
	is.True(errors.Is(err, ErrUnknownOutcome))
}

func TestSettleMultiOptionSeries(t *testing.T) {
	is := is.New(t)
	options := []string{"Grant", "JB", "Connor", "David", "Bill", "Matt"}
	m, _ := New(options, 50)
	err := m.Replay([]Bet{
		{"Grant", 50}, {"JB", 30}, {"Connor", 15}, {"David", 24}, {"Bill", 20},
		{"Matt", 20}, {"Grant", 75}, {"JB", 25}, {"Connor", 10}, {"David", 10},
		{"Bill", 10}, {"Matt", 15}, {"Grant", 10}, {"JB", 10}, {"Connor", 5},
		{"David", 5}, {"Bill", 50}, {"Matt", 5}, {"Connor", 5}, {"David", 50},
		{"Bill", 5}, {"Matt", 50},
	})
	is.NoErr(err)

	s, err := m.Settle("Grant")
	is.NoErr(err)
	is.Equal(s.TotalPayout["Grant"], float64(135))
	is.Equal(s.TotalPayout["Bill"], float64(85))
	is.True(withinEpsilon(s.MaxLoss, 50*math.Log(6)))

	// the maker's loss never exceeds b·ln(N), whoever wins.
	for _, opt := range options {
		is.True(s.TotalPayout[opt]-s.TotalCost <= s.MaxLoss+Epsilon)
	}
}

func TestMaxLossBoundUnderRandomTrading(t *testing.T) {
	is := is.New(t)
	rng := rand.New(rand.NewSource(99))
	for round := 0; round < 20; round++ {
		m, _ := New([]string{"a", "b", "c", "d"}, 12)
		outcomes := m.Outcomes()
		for i := 0; i < 50; i++ {
			shares := rng.Float64()*80 - 25
			if shares == 0 {
				continue
			}
			_, err := m.ApplyTrade(outcomes[rng.Intn(len(outcomes))], shares)
			is.NoErr(err)
		}
		for _, winner := range outcomes {
			s, err := m.Settle(winner)
			is.NoErr(err)
			is.True(s.TotalPayout[winner]-s.TotalCost <= s.MaxLoss+Epsilon)
		}
	}
}
