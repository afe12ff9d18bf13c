// Command simulate replays a betting scenario through an LMSR market and
// prints the per-trade quotes, the final market state, and, if the scenario
// declares a winner, the settlement report.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kpello/lmsrmarket/pkg/market"
)

type scenario struct {
	B        float64  `toml:"b"`
	Outcomes []string `toml:"outcomes"`
	Winner   string   `toml:"winner"`
	Bets     []bet    `toml:"bets"`
}

type bet struct {
	Outcome string  `toml:"outcome"`
	Shares  float64 `toml:"shares"`
}

func main() {
	scenarioPath := flag.String("scenario", "scenario.toml", "path to a TOML scenario file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var sc scenario
	if _, err := toml.DecodeFile(*scenarioPath, &sc); err != nil {
		log.Fatal().Err(err).Str("scenario", *scenarioPath).Msg("decode-scenario")
	}

	m, err := market.New(sc.Outcomes, sc.B)
	if err != nil {
		log.Fatal().Err(err).Msg("create-market")
	}

	fmt.Printf("LMSR market over %d outcomes (b=%g)\n", len(sc.Outcomes), sc.B)
	for i, bt := range sc.Bets {
		res, err := m.ApplyTrade(bt.Outcome, bt.Shares)
		if err != nil {
			log.Fatal().Err(err).Int("bet", i+1).Msg("apply-trade")
		}
		fmt.Printf("\nTrade %d: %g shares of %q\n", i+1, bt.Shares, bt.Outcome)
		fmt.Printf("  cost: $%.4f\n", res.Trade.Cost)
		for _, o := range m.Outcomes() {
			fmt.Printf("  price %-10s $%.4f\n", o, res.Quote.Prices[o])
		}
	}

	quote, err := m.Quote()
	if err != nil {
		log.Fatal().Err(err).Msg("quote")
	}
	qs := m.Quantities()
	fmt.Printf("\nFinal market state (cost function value $%.4f):\n", quote.Cost)
	for _, o := range m.Outcomes() {
		fmt.Printf("  %-10s %8.2f shares  $%.4f\n", o, qs[o], quote.Prices[o])
	}

	if sc.Winner == "" {
		return
	}
	settlement, err := m.Settle(sc.Winner)
	if err != nil {
		log.Fatal().Err(err).Str("winner", sc.Winner).Msg("settle")
	}
	fmt.Printf("\nSettlement: %q wins\n", sc.Winner)
	for i, ts := range settlement.PerTrade {
		fmt.Printf("  trade %d (%g of %q): cost $%.4f, payout $%.2f, profit $%.4f\n",
			i+1, ts.Shares, ts.Outcome, ts.Cost, ts.Payout, ts.Profit)
	}
	fmt.Printf("\nTotal cost of all trades: $%.4f\n", settlement.TotalCost)
	for _, o := range m.Outcomes() {
		fmt.Printf("Payout if %q wins: $%.2f (net profit $%.4f)\n",
			o, settlement.TotalPayout[o], settlement.NetProfit[o])
	}
	fmt.Printf("Maximum possible market maker loss: $%.4f\n", settlement.MaxLoss)
}
