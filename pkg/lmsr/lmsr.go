// package lmsr implements the pricing math for a Logarithmic Market
// Scoring Rule market maker.

package lmsr

import (
	"errors"
	"math"
)

var (
	ErrEmptyInput       = errors.New("lmsr: empty share vector")
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter must be positive")
)

// LogSumExp returns log(Σ e^{x_i}) for the given values. The largest value
// is factored out first so that every exponent argument is ≤ 0; summing
// e^{x_i} directly overflows float64 once any x_i passes ~709.
func LogSumExp(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrEmptyInput
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	sum := float64(0)
	for _, x := range xs {
		sum += math.Exp(x - m)
	}
	return m + math.Log(sum), nil
}

// Cost calculates the LMSR cost function C(q) = b·log(Σ e^{q_i/b}) given a
// liquidity constant (b) and the number of outstanding shares for all
// outcomes, represented as an array.
func Cost(b float64, allShares []float64) (float64, error) {
	if b <= 0 {
		return 0, ErrInvalidLiquidity
	}
	scaled := make([]float64, len(allShares))
	for i, s := range allShares {
		scaled[i] = s / b
	}
	lse, err := LogSumExp(scaled)
	if err != nil {
		return 0, err
	}
	return b * lse, nil
}

// Prices calculates the price of every outcome: e^{q_i/b} / Σ_j e^{q_j/b},
// evaluated with the same max shift as LogSumExp so large share counts do
// not overflow. Prices fall in (0,1] and sum to 1.
func Prices(b float64, allShares []float64) ([]float64, error) {
	if b <= 0 {
		return nil, ErrInvalidLiquidity
	}
	if len(allShares) == 0 {
		return nil, ErrEmptyInput
	}
	m := allShares[0]
	for _, s := range allShares[1:] {
		if s > m {
			m = s
		}
	}
	prices := make([]float64, len(allShares))
	sum := float64(0)
	for i, s := range allShares {
		e := math.Exp((s - m) / b)
		prices[i] = e
		sum += e
	}
	for i := range prices {
		prices[i] /= sum
	}
	return prices, nil
}

// Price calculates the price of a single outcome given a liquidity constant
// (b), the number of outstanding shares for all outcomes, and the index of
// this outcome in the array.
func Price(b float64, allShares []float64, shareIdx int) (float64, error) {
	prices, err := Prices(b, allShares)
	if err != nil {
		return 0, err
	}
	return prices[shareIdx], nil
}

// TradeCost calculates the price of buying `shares` shares of the outcome
// at index idx: the cost function delta across the trade. A negative share
// count is a sale and yields a negative cost (a credit). The input vector
// is not modified.
func TradeCost(b float64, shares float64, allShares []float64, idx int) (float64, error) {
	costBefore, err := Cost(b, allShares)
	if err != nil {
		return 0, err
	}
	after := make([]float64, len(allShares))
	copy(after, allShares)
	after[idx] += shares
	costAfter, err := Cost(b, after)
	if err != nil {
		return 0, err
	}
	return costAfter - costBefore, nil
}
