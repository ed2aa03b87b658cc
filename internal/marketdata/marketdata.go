package marketdata

import (
	"context"
	"time"
)

// Bar is one OHLCV observation for an instrument.
// Volume is nil when the upstream reports no volume for the slot.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume *int64
}

// Meta is instrument metadata as reported by the data source.
// Currency may be empty when the source does not report one.
type Meta struct {
	Symbol   string
	Currency string
}

// Gateway provides raw market data for an instrument symbol.
// An empty bar slice means "no data for these parameters", not an error.
type Gateway interface {
	Bars(ctx context.Context, symbol, period, interval string) ([]Bar, error)
	Metadata(ctx context.Context, symbol string) (Meta, error)
}
