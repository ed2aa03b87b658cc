package ratelimit

import (
    "context"
    "sync"
    "time"

    "github.com/fontanamichele/Lira-quotes/internal/marketdata"
)

// MinInterval wraps a gateway and enforces a minimum time between upstream
// calls. Concurrent calls wait until the interval has elapsed since the last
// call, or return early if the context is canceled.
type MinInterval struct {
    G        marketdata.Gateway
    Interval time.Duration
    mu       sync.Mutex
    last     time.Time
}

func (m *MinInterval) Bars(ctx context.Context, symbol, period, interval string) ([]marketdata.Bar, error) {
    if err := m.gate(ctx); err != nil { return nil, err }
    bars, err := m.G.Bars(ctx, symbol, period, interval)
    m.stamp()
    return bars, err
}

func (m *MinInterval) Metadata(ctx context.Context, symbol string) (marketdata.Meta, error) {
    if err := m.gate(ctx); err != nil { return marketdata.Meta{}, err }
    meta, err := m.G.Metadata(ctx, symbol)
    m.stamp()
    return meta, err
}

func (m *MinInterval) gate(ctx context.Context) error {
    if m.Interval <= 0 { return nil }
    // simple gate: ensure at least Interval since last
    m.mu.Lock()
    wait := time.Until(m.last.Add(m.Interval))
    m.mu.Unlock()
    if wait > 0 {
        t := time.NewTimer(wait)
        defer t.Stop()
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-t.C:
        }
    }
    return nil
}

func (m *MinInterval) stamp() {
    if m.Interval <= 0 { return }
    m.mu.Lock()
    m.last = time.Now()
    m.mu.Unlock()
}
