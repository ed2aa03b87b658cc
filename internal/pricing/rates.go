package pricing

import (
    "context"
    "sync"

    "golang.org/x/sync/singleflight"
)

// rateResolver computes conversion factors for one batch request. Results
// are memoized and concurrent lookups of the same pair are coalesced, so a
// batch of many same-currency tickers costs one upstream call per pair.
// Nothing survives the batch; staleness stays bounded to "this request".
type rateResolver struct {
    svc *Service
    sf  singleflight.Group

    mu   sync.Mutex
    memo map[string]float64
}

func (s *Service) newRateResolver() *rateResolver {
    return &rateResolver{svc: s, memo: make(map[string]float64)}
}

// Rate returns the factor converting from -> to, such that
// target_amount = source_amount * rate. It never fails: any lookup problem
// is logged and falls back to the neutral 1.0, which callers must treat as
// "possibly undetermined" rather than guaranteed parity.
func (r *rateResolver) Rate(ctx context.Context, from, to string) float64 {
    if from == to {
        return 1.0
    }
    key := from + "->" + to
    r.mu.Lock()
    if v, ok := r.memo[key]; ok {
        r.mu.Unlock()
        return v
    }
    r.mu.Unlock()

    v, _, _ := r.sf.Do(key, func() (any, error) {
        return r.resolve(ctx, from, to), nil
    })
    rate := v.(float64)

    r.mu.Lock()
    r.memo[key] = rate
    r.mu.Unlock()
    return rate
}

func (r *rateResolver) resolve(ctx context.Context, from, to string) float64 {
    switch {
    case from == PivotCurrency:
        // Provider pairs are quoted as {CUR}USD=X (USD per CUR), so the
        // USD -> CUR factor is the reciprocal of the latest close.
        last, ok := r.lastClose(ctx, to+PivotCurrency+fxPairSuffix, from, to)
        if !ok || last == 0 {
            return 1.0
        }
        return 1.0 / last
    case to == PivotCurrency:
        last, ok := r.lastClose(ctx, from+PivotCurrency+fxPairSuffix, from, to)
        if !ok {
            return 1.0
        }
        return last
    default:
        // Neither side is the pivot: compose through it. Exactly one level
        // of indirection, never a general graph walk.
        return r.Rate(ctx, from, PivotCurrency) * r.Rate(ctx, PivotCurrency, to)
    }
}

// lastClose fetches the most recent 1-minute close for an FX pair symbol.
// ok is false when the pair yielded nothing.
func (r *rateResolver) lastClose(ctx context.Context, pair, from, to string) (float64, bool) {
    bars, err := r.svc.gw.Bars(ctx, pair, currentPeriod, currentInterval)
    if err != nil {
        r.svc.cfg.Logger.Printf("error fetching exchange rate %s to %s: %v", from, to, err)
        return 0, false
    }
    if len(bars) == 0 {
        r.svc.cfg.Logger.Printf("warning: could not fetch exchange rate for %s to %s", from, to)
        return 0, false
    }
    return bars[len(bars)-1].Close, true
}
