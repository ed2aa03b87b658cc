package pricing

import (
    "context"
    "strings"
)

// PivotCurrency is the single reference currency through which all
// indirect conversions are composed. It is also the fallback whenever a
// native currency cannot be determined.
const PivotCurrency = "USD"

// fxPairSuffix marks provider FX pair symbols (e.g. "EURUSD=X"). Quotes
// for such pairs are USD-denominated by provider convention.
const fxPairSuffix = "=X"

// currentPeriod/currentInterval are the chart parameters used for "latest
// price" and exchange-rate lookups: the most recent 1-minute bar of the
// current day.
const (
    currentPeriod   = "1d"
    currentInterval = "1m"
)

// NativeCurrency reports the currency a ticker is natively quoted in,
// uppercased. It never fails: metadata problems are logged and fall back
// to PivotCurrency so the rest of the pipeline can proceed.
func (s *Service) NativeCurrency(ctx context.Context, ticker string) string {
    if strings.HasSuffix(ticker, fxPairSuffix) {
        return PivotCurrency
    }
    meta, err := s.gw.Metadata(ctx, ticker)
    if err != nil {
        s.cfg.Logger.Printf("warning: could not determine currency for %s: %v", ticker, err)
        return PivotCurrency
    }
    currency := strings.TrimSpace(meta.Currency)
    if currency == "" {
        return PivotCurrency
    }
    return strings.ToUpper(currency)
}
