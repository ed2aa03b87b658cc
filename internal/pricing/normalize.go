package pricing

import (
    "math"
    "time"

    "github.com/shopspring/decimal"

    "github.com/fontanamichele/Lira-quotes/internal/marketdata"
)

// round4 rounds to 4 decimal places, half away from zero. NaN and Inf
// pass through untouched (decimal cannot represent them, and provider
// garbage is not sanitized here).
func round4(v float64) float64 {
    if math.IsNaN(v) || math.IsInf(v, 0) {
        return v
    }
    f, _ := decimal.NewFromFloat(v).Round(4).Float64()
    return f
}

// normalizePoint applies a conversion factor to a single price and tags it
// with the target currency and the current time.
func normalizePoint(ticker string, price, rate float64, currency string) PricePoint {
    return PricePoint{
        Ticker:    ticker,
        Price:     round4(price * rate),
        Currency:  currency,
        Timestamp: time.Now(),
    }
}

// normalizeBar converts each OHLC field independently. The bar's date and
// volume pass through untouched; volume is never currency-converted.
func normalizeBar(ticker string, b marketdata.Bar, rate float64, currency string) PriceBar {
    return PriceBar{
        Ticker:   ticker,
        Date:     Date(b.Time),
        Open:     round4(b.Open * rate),
        High:     round4(b.High * rate),
        Low:      round4(b.Low * rate),
        Close:    round4(b.Close * rate),
        Volume:   b.Volume,
        Currency: currency,
    }
}
