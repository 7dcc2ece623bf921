package venue

import (
	"time"

	"strategy-coordinator/internal/strategy"
)

// Side is the order side on the venue book.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that unwinds a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderIntent is one leg order derived from a purchase. It is never persisted.
type OrderIntent struct {
	ID            string
	StrategyID    uint64
	MarketID      string
	TokenID       string
	Side          Side
	QuoteAmount   uint64
	LimitPriceBps uint32
}

// Status is the terminal state of a submitted intent.
type Status string

const (
	StatusFulfilled Status = "fulfilled"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// ExecutionResult records what happened to an intent.
type ExecutionResult struct {
	Intent  OrderIntent
	Status  Status
	Reason  string
	OrderID string
}

// MarketStatus is the venue's view of a market's lifecycle.
type MarketStatus struct {
	MarketID string
	Active   bool
	Closed   bool
	EndDate  time.Time
}

// Matured reports whether the market can be settled at now.
// A zero EndDate never matures by time alone.
func (m MarketStatus) Matured(now time.Time) bool {
	if m.Closed {
		return true
	}
	return !m.EndDate.IsZero() && !now.Before(m.EndDate)
}

// sharesFor converts a USDC quote at a bps price into outcome-token base units.
func sharesFor(quoteAmount uint64, priceBps uint32) (uint64, error) {
	return strategy.MulDiv(quoteAmount, strategy.MaxBps, uint64(priceBps))
}
