package main

import (
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "log"
    "os"
    "strings"
    "time"

    "github.com/fontanamichele/Lira-quotes/internal/config"
    "github.com/fontanamichele/Lira-quotes/internal/httpx"
    "github.com/fontanamichele/Lira-quotes/internal/marketdata"
    "github.com/fontanamichele/Lira-quotes/internal/marketdata/ratelimit"
    "github.com/fontanamichele/Lira-quotes/internal/pricing"
)

func main() {
    var tickersCSV string
    var currency string
    var historical bool
    var period string
    var interval string
    var timeout int
    var configPath string

    flag.StringVar(&tickersCSV, "tickers", getenv("TICKERS", "AAPL"), "comma-separated ticker symbols")
    flag.StringVar(&currency, "currency", getenv("CURRENCY", ""), "target currency (defaults to config)")
    flag.BoolVar(&historical, "historical", false, "fetch a historical series instead of current prices")
    flag.StringVar(&period, "period", getenv("PERIOD", "1mo"), "historical period (1d, 5d, 1mo, 3mo, 6mo, 1y, 2y, 5y, 10y, ytd, max)")
    flag.StringVar(&interval, "interval", getenv("INTERVAL", "1d"), "historical interval (1m, 5m, 15m, 1h, 1d, 1wk, 1mo)")
    flag.IntVar(&timeout, "timeout", getenvInt("REQUEST_TIMEOUT_SEC", 30), "request timeout seconds")
    flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
    flag.Parse()

    cfg, err := config.Load(configPath)
    if err != nil { log.Fatalf("config: %v", err) }
    if currency == "" { currency = cfg.Pricing.DefaultCurrency }
    if timeout != 0 { cfg.Server.RequestTimeoutSec = timeout }

    httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
    httpClient.UserAgent = "lira-quotes/1.0"

    var gw marketdata.Gateway = marketdata.NewYahooGateway(
        marketdata.WithBaseURL(cfg.Yahoo.BaseURL),
        marketdata.WithHTTPClient(httpClient.HTTP),
    )
    if cfg.Yahoo.MaxRequestsPerMinute > 0 {
        rate := float64(cfg.Yahoo.MaxRequestsPerMinute) / 60.0
        burst := cfg.Yahoo.Burst
        if burst <= 0 { burst = 1 }
        gw = &ratelimit.TokenBucketGateway{G: gw, TB: ratelimit.NewTokenBucket(rate, burst)}
    } else if cfg.Yahoo.MinRequestIntervalSec > 0 {
        gw = &ratelimit.MinInterval{G: gw, Interval: time.Duration(cfg.Yahoo.MinRequestIntervalSec) * time.Second}
    }

    svc := pricing.New(pricing.Config{MaxConcurrency: cfg.Pricing.MaxConcurrency}, gw)
    tickers := splitCSV(tickersCSV)

    ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.RequestTimeoutSec)*time.Second)
    defer cancel()

    enc := json.NewEncoder(os.Stdout)
    enc.SetIndent("", "  ")
    if historical {
        res, err := svc.HistoricalPrices(ctx, tickers, currency, period, interval)
        if err != nil { log.Fatalf("historical prices: %v", err) }
        if len(res.Failed) > 0 { log.Printf("failed tickers: %v", res.Failed) }
        _ = enc.Encode(res.Successes)
        return
    }
    res, err := svc.CurrentPrices(ctx, tickers, currency)
    if err != nil { log.Fatalf("current prices: %v", err) }
    if len(res.Failed) > 0 { log.Printf("failed tickers: %v", res.Failed) }
    _ = enc.Encode(res.Successes)
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}

func getenv(key, def string) string { if v := os.Getenv(key); v != "" { return v }; return def }
func getenvInt(key string, def int) int {
    if v := os.Getenv(key); v != "" {
        var x int
        _, _ = fmt.Sscanf(v, "%d", &x)
        if x != 0 { return x }
    }
    return def
}
