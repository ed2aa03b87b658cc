package pricing

import (
    "context"
    "log"
    "strings"
    "sync"
    "time"

    "github.com/fontanamichele/Lira-quotes/internal/marketdata"
)

// PricePoint is one current-price observation, already converted to the
// requested currency.
type PricePoint struct {
    Ticker    string    `json:"ticker"`
    Price     float64   `json:"price"`
    Currency  string    `json:"currency"`
    Timestamp time.Time `json:"timestamp"`
}

// PriceBar is one historical observation, converted to the requested
// currency. Volume is omitted when the source reported none.
type PriceBar struct {
    Ticker   string  `json:"ticker"`
    Date     Date    `json:"date"`
    Open     float64 `json:"open"`
    High     float64 `json:"high"`
    Low      float64 `json:"low"`
    Close    float64 `json:"close"`
    Volume   *int64  `json:"volume,omitempty"`
    Currency string  `json:"currency"`
}

// Date marshals as a calendar date (YYYY-MM-DD).
type Date time.Time

func (d Date) MarshalJSON() ([]byte, error) {
    return []byte(`"` + time.Time(d).Format("2006-01-02") + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
    t, err := time.Parse(`"2006-01-02"`, string(b))
    if err != nil { return err }
    *d = Date(t)
    return nil
}

// BatchResult carries the per-instrument outcome of one batch request:
// successfully converted records in input order, plus the tickers that
// produced nothing.
type BatchResult[T any] struct {
    Successes []T
    Failed    []string
}

type Config struct {
    // MaxConcurrency bounds how many tickers of one batch are processed
    // in parallel. Defaults to 4 when <= 0.
    MaxConcurrency int
    Logger         *log.Logger
}

// Service converts raw gateway prices into a caller-chosen currency.
// It keeps no state between requests; rates and metadata are re-resolved
// on every call.
type Service struct {
    cfg Config
    gw  marketdata.Gateway
}

func New(cfg Config, gw marketdata.Gateway) *Service {
    if cfg.MaxConcurrency <= 0 { cfg.MaxConcurrency = 4 }
    if cfg.Logger == nil { cfg.Logger = log.Default() }
    return &Service{cfg: cfg, gw: gw}
}

// CurrentPrices returns the latest price for each ticker, converted to
// currency. Tickers that yield no data are reported in Failed; the call
// errors only when every ticker failed (or the list was empty).
func (s *Service) CurrentPrices(ctx context.Context, tickers []string, currency string) (BatchResult[PricePoint], error) {
    var res BatchResult[PricePoint]
    if len(tickers) == 0 {
        return res, ErrNoInstruments
    }
    target := normalizeCurrency(currency)
    rates := s.newRateResolver()

    points := make([]*PricePoint, len(tickers))
    s.forEach(ctx, tickers, func(ctx context.Context, i int, ticker string) {
        points[i] = s.currentOne(ctx, rates, ticker, target)
    })

    for i, ticker := range tickers {
        if points[i] == nil {
            res.Failed = append(res.Failed, ticker)
            continue
        }
        res.Successes = append(res.Successes, *points[i])
    }
    if len(res.Successes) == 0 {
        return res, &NoValidDataError{Kind: "prices", Requested: tickers, Failed: res.Failed}
    }
    return res, nil
}

// HistoricalPrices returns converted bars for each ticker over
// period/interval. Same failure rules as CurrentPrices; one unresolvable
// ticker never aborts its siblings.
func (s *Service) HistoricalPrices(ctx context.Context, tickers []string, currency, period, interval string) (BatchResult[PriceBar], error) {
    var res BatchResult[PriceBar]
    if len(tickers) == 0 {
        return res, ErrNoInstruments
    }
    target := normalizeCurrency(currency)
    rates := s.newRateResolver()

    series := make([][]PriceBar, len(tickers))
    s.forEach(ctx, tickers, func(ctx context.Context, i int, ticker string) {
        series[i] = s.historicalOne(ctx, rates, ticker, target, period, interval)
    })

    for i, ticker := range tickers {
        if len(series[i]) == 0 {
            res.Failed = append(res.Failed, ticker)
            continue
        }
        res.Successes = append(res.Successes, series[i]...)
    }
    if len(res.Successes) == 0 {
        return res, &NoValidDataError{Kind: "historical data", Requested: tickers, Failed: res.Failed}
    }
    return res, nil
}

// forEach runs fn for every ticker with bounded parallelism. Each ticker's
// chain is sequential; tickers share no mutable state beyond the batch
// rate memo, so order of completion does not matter.
func (s *Service) forEach(ctx context.Context, tickers []string, fn func(ctx context.Context, i int, ticker string)) {
    sem := make(chan struct{}, s.cfg.MaxConcurrency)
    var wg sync.WaitGroup
    for i, ticker := range tickers {
        i, ticker := i, ticker
        wg.Add(1)
        go func() {
            defer wg.Done()
            select {
            case sem <- struct{}{}:
                defer func() { <-sem }()
            case <-ctx.Done():
                return
            }
            fn(ctx, i, ticker)
        }()
    }
    wg.Wait()
}

// currentOne resolves one ticker's latest price. Returns nil when the
// ticker has no usable data.
func (s *Service) currentOne(ctx context.Context, rates *rateResolver, ticker, target string) *PricePoint {
    bars, err := s.gw.Bars(ctx, ticker, currentPeriod, currentInterval)
    if err != nil {
        s.cfg.Logger.Printf("error fetching price for %s: %v", ticker, err)
        return nil
    }
    if len(bars) == 0 {
        s.cfg.Logger.Printf("warning: no data available for ticker %s", ticker)
        return nil
    }
    price := bars[len(bars)-1].Close

    rate := 1.0
    if native := s.NativeCurrency(ctx, ticker); native != target {
        rate = rates.Rate(ctx, native, target)
    }
    p := normalizePoint(ticker, price, rate, target)
    return &p
}

// historicalOne resolves one ticker's converted bar series. Returns nil
// when the ticker has no usable data.
func (s *Service) historicalOne(ctx context.Context, rates *rateResolver, ticker, target, period, interval string) []PriceBar {
    bars, err := s.gw.Bars(ctx, ticker, period, interval)
    if err != nil {
        s.cfg.Logger.Printf("error fetching historical data for %s: %v", ticker, err)
        return nil
    }
    if len(bars) == 0 {
        s.cfg.Logger.Printf("warning: no historical data for ticker %s (period=%s, interval=%s)", ticker, period, interval)
        return nil
    }

    rate := 1.0
    if native := s.NativeCurrency(ctx, ticker); native != target {
        rate = rates.Rate(ctx, native, target)
    }
    out := make([]PriceBar, 0, len(bars))
    for _, b := range bars {
        out = append(out, normalizeBar(ticker, b, rate, target))
    }
    return out
}

func normalizeCurrency(c string) string {
    c = strings.ToUpper(strings.TrimSpace(c))
    if c == "" {
        return PivotCurrency
    }
    return c
}
