package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is the latest observed USD price for one asset. ObservedAt is
// non-decreasing per symbol; quotes older than the configured staleness
// threshold are excluded from health evaluation.
type PriceQuote struct {
	Symbol     string
	Price      decimal.Decimal
	Decimals   int32
	ObservedAt time.Time
}

// StaleAt reports whether the quote is older than threshold at the given time.
func (q PriceQuote) StaleAt(now time.Time, threshold time.Duration) bool {
	return now.Sub(q.ObservedAt) > threshold
}
