package pricing

import (
    "context"
    "errors"
    "io"
    "log"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/fontanamichele/Lira-quotes/internal/marketdata"
)

// fakeGateway serves canned bars and metadata and records every call.
type fakeGateway struct {
    mu       sync.Mutex
    bars     map[string][]marketdata.Bar
    barsErr  map[string]error
    meta     map[string]marketdata.Meta
    metaErr  map[string]error
    barCalls []string
}

func newFakeGateway() *fakeGateway {
    return &fakeGateway{
        bars:    map[string][]marketdata.Bar{},
        barsErr: map[string]error{},
        meta:    map[string]marketdata.Meta{},
        metaErr: map[string]error{},
    }
}

func (f *fakeGateway) Bars(_ context.Context, symbol, period, interval string) ([]marketdata.Bar, error) {
    f.mu.Lock()
    f.barCalls = append(f.barCalls, symbol)
    f.mu.Unlock()
    if err, ok := f.barsErr[symbol]; ok { return nil, err }
    return f.bars[symbol], nil
}

func (f *fakeGateway) Metadata(_ context.Context, symbol string) (marketdata.Meta, error) {
    if err, ok := f.metaErr[symbol]; ok { return marketdata.Meta{}, err }
    return f.meta[symbol], nil
}

func (f *fakeGateway) barCallCount(symbol string) int {
    f.mu.Lock()
    defer f.mu.Unlock()
    n := 0
    for _, s := range f.barCalls {
        if s == symbol { n++ }
    }
    return n
}

func (f *fakeGateway) setSeries(symbol string, closes ...float64) {
    bars := make([]marketdata.Bar, 0, len(closes))
    for i, c := range closes {
        v := int64(1000 * (i + 1))
        bars = append(bars, marketdata.Bar{
            Time:   time.Date(2025, 3, 1+i, 0, 0, 0, 0, time.UTC),
            Open:   c * 0.99,
            High:   c * 1.01,
            Low:    c * 0.98,
            Close:  c,
            Volume: &v,
        })
    }
    f.bars[symbol] = bars
}

func newTestService(gw marketdata.Gateway) *Service {
    return New(Config{Logger: log.New(io.Discard, "", 0)}, gw)
}

func TestCurrentPrices_IdentityConversion(t *testing.T) {
    gw := newFakeGateway()
    gw.setSeries("AAPL", 123.456789)
    gw.meta["AAPL"] = marketdata.Meta{Symbol: "AAPL", Currency: "USD"}

    svc := newTestService(gw)
    res, err := svc.CurrentPrices(t.Context(), []string{"AAPL"}, "USD")
    if err != nil {
        t.Fatalf("unexpected error: %v", err)
    }
    if len(res.Successes) != 1 || len(res.Failed) != 0 {
        t.Fatalf("unexpected result: %+v", res)
    }
    got := res.Successes[0]
    if got.Price != 123.4568 {
        t.Fatalf("want 123.4568, got %v", got.Price)
    }
    if got.Currency != "USD" || got.Ticker != "AAPL" {
        t.Fatalf("unexpected point: %+v", got)
    }
    if got.Timestamp.IsZero() {
        t.Fatal("timestamp not stamped")
    }
    // Identity conversion must not touch any FX pair.
    for _, s := range gw.barCalls {
        if s != "AAPL" {
            t.Fatalf("unexpected gateway call for %s", s)
        }
    }
}

func TestCurrentPrices_InvertsPivotToTarget(t *testing.T) {
    gw := newFakeGateway()
    gw.setSeries("AAPL", 100)
    gw.setSeries("EURUSD=X", 1.1)
    gw.meta["AAPL"] = marketdata.Meta{Symbol: "AAPL", Currency: "USD"}

    svc := newTestService(gw)
    res, err := svc.CurrentPrices(t.Context(), []string{"AAPL"}, "EUR")
    if err != nil {
        t.Fatalf("unexpected error: %v", err)
    }
    // USD -> EUR via EURUSD=X close 1.1: 100 * (1/1.1) = 90.9091
    if got := res.Successes[0].Price; got != 90.9091 {
        t.Fatalf("want 90.9091, got %v", got)
    }
    if res.Successes[0].Currency != "EUR" {
        t.Fatalf("unexpected currency: %s", res.Successes[0].Currency)
    }
}

func TestCurrentPrices_DirectToPivot(t *testing.T) {
    gw := newFakeGateway()
    gw.setSeries("SAP.DE", 100)
    gw.setSeries("EURUSD=X", 1.1)
    gw.meta["SAP.DE"] = marketdata.Meta{Symbol: "SAP.DE", Currency: "EUR"}

    svc := newTestService(gw)
    res, err := svc.CurrentPrices(t.Context(), []string{"SAP.DE"}, "USD")
    if err != nil {
        t.Fatalf("unexpected error: %v", err)
    }
    // EUR -> USD uses the close directly: 100 * 1.1
    if got := res.Successes[0].Price; got != 110.0 {
        t.Fatalf("want 110, got %v", got)
    }
}

func TestRate_Identity_NoGatewayCall(t *testing.T) {
    gw := newFakeGateway()
    svc := newTestService(gw)
    r := svc.newRateResolver()
    if got := r.Rate(t.Context(), "EUR", "EUR"); got != 1.0 {
        t.Fatalf("want 1.0, got %v", got)
    }
    if len(gw.barCalls) != 0 {
        t.Fatalf("identity rate must not hit the gateway: %v", gw.barCalls)
    }
}

func TestRate_Inversion(t *testing.T) {
    gw := newFakeGateway()
    gw.setSeries("EURUSD=X", 1.1)
    svc := newTestService(gw)
    r := svc.newRateResolver()

    if got, want := r.Rate(t.Context(), "USD", "EUR"), 1.0/1.1; got != want {
        t.Fatalf("USD->EUR: want %v, got %v", want, got)
    }
    if got := r.Rate(t.Context(), "EUR", "USD"); got != 1.1 {
        t.Fatalf("EUR->USD: want 1.1, got %v", got)
    }
}

func TestRate_PivotComposition(t *testing.T) {
    gw := newFakeGateway()
    gw.setSeries("EURUSD=X", 1.1)
    gw.setSeries("GBPUSD=X", 1.25)
    svc := newTestService(gw)

    r := svc.newRateResolver()
    cross := r.Rate(t.Context(), "EUR", "GBP")

    // A -> B must equal A -> USD times USD -> B.
    r2 := svc.newRateResolver()
    legs := r2.Rate(t.Context(), "EUR", "USD") * r2.Rate(t.Context(), "USD", "GBP")
    if cross != legs {
        t.Fatalf("pivot composition broken: cross=%v legs=%v", cross, legs)
    }
    if want := 1.1 * (1.0 / 1.25); cross != want {
        t.Fatalf("want %v, got %v", want, cross)
    }
}

func TestRate_FallbackOnGatewayError(t *testing.T) {
    gw := newFakeGateway()
    gw.barsErr["EURUSD=X"] = errors.New("boom")
    svc := newTestService(gw)
    r := svc.newRateResolver()
    if got := r.Rate(t.Context(), "EUR", "USD"); got != 1.0 {
        t.Fatalf("want neutral 1.0 on error, got %v", got)
    }
}

func TestRate_FallbackOnEmptyBars(t *testing.T) {
    gw := newFakeGateway()
    svc := newTestService(gw)
    r := svc.newRateResolver()
    if got := r.Rate(t.Context(), "USD", "JPY"); got != 1.0 {
        t.Fatalf("want neutral 1.0 on no data, got %v", got)
    }
}

func TestRate_MemoizedWithinBatch(t *testing.T) {
    gw := newFakeGateway()
    gw.setSeries("EURUSD=X", 1.1)
    svc := newTestService(gw)
    r := svc.newRateResolver()

    first := r.Rate(t.Context(), "EUR", "USD")
    second := r.Rate(t.Context(), "EUR", "USD")
    if first != second {
        t.Fatalf("memoized rate changed: %v vs %v", first, second)
    }
    if n := gw.barCallCount("EURUSD=X"); n != 1 {
        t.Fatalf("want a single upstream lookup, got %d", n)
    }
}

func TestNativeCurrency(t *testing.T) {
    gw := newFakeGateway()
    gw.meta["SAP.DE"] = marketdata.Meta{Symbol: "SAP.DE", Currency: "eur"}
    gw.meta["MYSTERY"] = marketdata.Meta{Symbol: "MYSTERY"}
    gw.metaErr["BROKEN"] = errors.New("metadata down")
    svc := newTestService(gw)

    cases := []struct {
        ticker string
        want   string
    }{
        {"EURUSD=X", "USD"}, // FX pairs are USD-quoted by convention
        {"SAP.DE", "EUR"},   // uppercased
        {"MYSTERY", "USD"},  // missing currency falls back
        {"BROKEN", "USD"},   // errors are swallowed
    }
    for _, tc := range cases {
        if got := svc.NativeCurrency(t.Context(), tc.ticker); got != tc.want {
            t.Errorf("NativeCurrency(%s): want %s, got %s", tc.ticker, tc.want, got)
        }
    }
}

func TestCurrentPrices_PartialFailure(t *testing.T) {
    gw := newFakeGateway()
    gw.setSeries("A", 10)
    gw.setSeries("C", 30)
    gw.meta["A"] = marketdata.Meta{Currency: "USD"}
    gw.meta["C"] = marketdata.Meta{Currency: "USD"}
    // B has no data at all

    svc := newTestService(gw)
    res, err := svc.CurrentPrices(t.Context(), []string{"A", "B", "C"}, "USD")
    if err != nil {
        t.Fatalf("partial failure must not fail the batch: %v", err)
    }
    if len(res.Successes) != 2 {
        t.Fatalf("want 2 successes, got %d: %+v", len(res.Successes), res.Successes)
    }
    if res.Successes[0].Ticker != "A" || res.Successes[1].Ticker != "C" {
        t.Fatalf("input order not preserved: %+v", res.Successes)
    }
    if len(res.Failed) != 1 || res.Failed[0] != "B" {
        t.Fatalf("want failed [B], got %v", res.Failed)
    }
}

func TestCurrentPrices_AllFail(t *testing.T) {
    gw := newFakeGateway()
    svc := newTestService(gw)

    _, err := svc.CurrentPrices(t.Context(), []string{"X", "Y"}, "USD")
    var noData *NoValidDataError
    if !errors.As(err, &noData) {
        t.Fatalf("want NoValidDataError, got %v", err)
    }
    if len(noData.Requested) != 2 || noData.Requested[0] != "X" || noData.Requested[1] != "Y" {
        t.Fatalf("requested set not reported: %+v", noData)
    }
    if len(noData.Failed) != 2 {
        t.Fatalf("failed set not reported: %+v", noData)
    }
    for _, s := range []string{"X", "Y"} {
        if msg := noData.Error(); !strings.Contains(msg, s) {
            t.Fatalf("error message %q does not name %s", msg, s)
        }
    }
}

func TestCurrentPrices_EmptyInput(t *testing.T) {
    svc := newTestService(newFakeGateway())
    _, err := svc.CurrentPrices(t.Context(), nil, "USD")
    if !errors.Is(err, ErrNoInstruments) {
        t.Fatalf("want ErrNoInstruments, got %v", err)
    }
    _, err = svc.HistoricalPrices(t.Context(), []string{}, "USD", "1mo", "1d")
    if !errors.Is(err, ErrNoInstruments) {
        t.Fatalf("want ErrNoInstruments, got %v", err)
    }
}

func TestCurrentPrices_MetadataFailureStillSucceeds(t *testing.T) {
    gw := newFakeGateway()
    gw.setSeries("AAPL", 50)
    gw.metaErr["AAPL"] = errors.New("metadata down")

    svc := newTestService(gw)
    res, err := svc.CurrentPrices(t.Context(), []string{"AAPL"}, "USD")
    if err != nil {
        t.Fatalf("metadata failure must not fail the ticker: %v", err)
    }
    // Fallback native USD equals target, so the raw close passes through.
    if got := res.Successes[0].Price; got != 50.0 {
        t.Fatalf("want 50, got %v", got)
    }
}

func TestHistoricalPrices_ConvertsEachFieldIndependently(t *testing.T) {
    gw := newFakeGateway()
    vol := int64(777)
    gw.bars["SAP.DE"] = []marketdata.Bar{{
        Time:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
        Open:   10.11111,
        High:   12.22222,
        Low:    9.33333,
        Close:  11.44444,
        Volume: &vol,
    }}
    gw.setSeries("EURUSD=X", 2)
    gw.meta["SAP.DE"] = marketdata.Meta{Currency: "EUR"}

    svc := newTestService(gw)
    res, err := svc.HistoricalPrices(t.Context(), []string{"SAP.DE"}, "USD", "1mo", "1d")
    if err != nil {
        t.Fatalf("unexpected error: %v", err)
    }
    b := res.Successes[0]
    if b.Open != 20.2222 || b.High != 24.4444 || b.Low != 18.6667 || b.Close != 22.8889 {
        t.Fatalf("unexpected OHLC: %+v", b)
    }
    if b.Volume == nil || *b.Volume != 777 {
        t.Fatalf("volume must pass through unconverted: %+v", b.Volume)
    }
    if b.Currency != "USD" {
        t.Fatalf("unexpected currency: %s", b.Currency)
    }
    if time.Time(b.Date) != time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) {
        t.Fatalf("date not preserved: %v", time.Time(b.Date))
    }
}

func TestHistoricalPrices_VolumeAbsentStaysAbsent(t *testing.T) {
    gw := newFakeGateway()
    gw.bars["IDX"] = []marketdata.Bar{{
        Time:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
        Open:  1, High: 1, Low: 1, Close: 1,
    }}
    gw.meta["IDX"] = marketdata.Meta{Currency: "USD"}

    svc := newTestService(gw)
    res, err := svc.HistoricalPrices(t.Context(), []string{"IDX"}, "USD", "1mo", "1d")
    if err != nil {
        t.Fatalf("unexpected error: %v", err)
    }
    if res.Successes[0].Volume != nil {
        t.Fatalf("missing volume must stay absent, got %v", *res.Successes[0].Volume)
    }
}

func TestHistoricalPrices_PartialFailureAndOrder(t *testing.T) {
    gw := newFakeGateway()
    tickers := []string{"T0", "T1", "T2", "T3", "T4", "T5", "T6", "T7"}
    for i, tk := range tickers {
        if tk == "T3" {
            continue // no data
        }
        gw.setSeries(tk, float64(100+i), float64(101+i))
        gw.meta[tk] = marketdata.Meta{Currency: "USD"}
    }

    svc := New(Config{MaxConcurrency: 3, Logger: log.New(io.Discard, "", 0)}, gw)
    res, err := svc.HistoricalPrices(t.Context(), tickers, "USD", "5d", "1d")
    if err != nil {
        t.Fatalf("unexpected error: %v", err)
    }
    if len(res.Failed) != 1 || res.Failed[0] != "T3" {
        t.Fatalf("want failed [T3], got %v", res.Failed)
    }
    // Bars must come out grouped by ticker in input order despite
    // concurrent processing.
    var order []string
    for _, b := range res.Successes {
        if len(order) == 0 || order[len(order)-1] != b.Ticker {
            order = append(order, b.Ticker)
        }
    }
    want := []string{"T0", "T1", "T2", "T4", "T5", "T6", "T7"}
    if len(order) != len(want) {
        t.Fatalf("want order %v, got %v", want, order)
    }
    for i := range want {
        if order[i] != want[i] {
            t.Fatalf("want order %v, got %v", want, order)
        }
    }
}

func TestHistoricalPrices_SharedRateResolvedOnce(t *testing.T) {
    gw := newFakeGateway()
    for _, tk := range []string{"SAP.DE", "BMW.DE", "ADS.DE"} {
        gw.setSeries(tk, 100, 101)
        gw.meta[tk] = marketdata.Meta{Currency: "EUR"}
    }
    gw.setSeries("EURUSD=X", 1.1)

    svc := New(Config{MaxConcurrency: 1, Logger: log.New(io.Discard, "", 0)}, gw)
    _, err := svc.HistoricalPrices(t.Context(), []string{"SAP.DE", "BMW.DE", "ADS.DE"}, "USD", "5d", "1d")
    if err != nil {
        t.Fatalf("unexpected error: %v", err)
    }
    if n := gw.barCallCount("EURUSD=X"); n != 1 {
        t.Fatalf("rate should be resolved once per batch, got %d lookups", n)
    }
}

func TestRound4(t *testing.T) {
    cases := []struct {
        in   float64
        want float64
    }{
        {123.456789, 123.4568},
        {1.0, 1.0},
        {0.00004999, 0.0},
        {0.00005, 0.0001},
        {-2.71828, -2.7183},
    }
    for _, tc := range cases {
        if got := round4(tc.in); got != tc.want {
            t.Errorf("round4(%v): want %v, got %v", tc.in, tc.want, got)
        }
    }
}
