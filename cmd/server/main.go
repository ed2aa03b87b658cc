package main

import (
    "compress/gzip"
    "context"
    "encoding/json"
    "errors"
    "io"
    "log"
    "net/http"
    "os"
    "os/signal"
    "strings"
    "sync"
    "syscall"
    "time"

    "github.com/google/uuid"

    "github.com/fontanamichele/Lira-quotes/internal/config"
    "github.com/fontanamichele/Lira-quotes/internal/httpx"
    "github.com/fontanamichele/Lira-quotes/internal/marketdata"
    "github.com/fontanamichele/Lira-quotes/internal/marketdata/ratelimit"
    "github.com/fontanamichele/Lira-quotes/internal/pricing"
)

const serviceVersion = "1.0.0"

func main() {
    // Config
    cfgPath := os.Getenv("CONFIG_FILE")
    cfg, err := config.Load(cfgPath)
    if err != nil { log.Fatalf("config: %v", err) }
    port := cfg.Server.Port
    timeoutSec := cfg.Server.RequestTimeoutSec

    httpClient := httpx.New(time.Duration(timeoutSec) * time.Second)
    httpClient.UserAgent = "lira-quotes/1.0"

    gw := buildGateway(cfg, httpClient)
    svc := pricing.New(pricing.Config{MaxConcurrency: cfg.Pricing.MaxConcurrency}, gw)

    mux := http.NewServeMux()
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Path != "/" {
            http.NotFound(w, r)
            return
        }
        writeJSON(w, http.StatusOK, map[string]string{"message": "Lira Quotes API", "version": serviceVersion})
    })
    mux.HandleFunc("/prices/current", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        handleCurrentPrices(w, r, svc, cfg.Pricing.DefaultCurrency)
    })
    mux.HandleFunc("/prices/historical", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        handleHistoricalPrices(w, r, svc, cfg.Pricing.DefaultCurrency)
    })

    srv := &http.Server{
        Addr:              ":" + port,
        Handler:           withJSONHeaders(withGzip(withRequestID(recoverPanic(limitBody(mux))))),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        WriteTimeout:      30 * time.Second,
        IdleTimeout:       60 * time.Second,
    }

    go func() {
        log.Printf("server listening on :%s", port)
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatalf("server: %v", err)
        }
    }()

    // graceful shutdown
    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()
    <-ctx.Done()
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _ = srv.Shutdown(shutdownCtx)
}

func buildGateway(cfg config.Config, httpClient *httpx.Client) marketdata.Gateway {
    var gw marketdata.Gateway = marketdata.NewYahooGateway(
        marketdata.WithBaseURL(cfg.Yahoo.BaseURL),
        marketdata.WithHTTPClient(httpClient.HTTP),
    )
    // Prefer token bucket with burst if RPM is set, otherwise use min-interval
    if cfg.Yahoo.MaxRequestsPerMinute > 0 {
        rate := float64(cfg.Yahoo.MaxRequestsPerMinute) / 60.0
        burst := cfg.Yahoo.Burst
        if burst <= 0 { burst = 1 }
        gw = &ratelimit.TokenBucketGateway{G: gw, TB: ratelimit.NewTokenBucket(rate, burst)}
    } else if cfg.Yahoo.MinRequestIntervalSec > 0 {
        interval := time.Duration(cfg.Yahoo.MinRequestIntervalSec) * time.Second
        gw = &ratelimit.MinInterval{G: gw, Interval: interval}
    }
    return gw
}

func handleCurrentPrices(w http.ResponseWriter, r *http.Request, svc *pricing.Service, defaultCurrency string) {
    tickers, ok := parseTickers(w, r)
    if !ok { return }
    currency := pickCurrency(r, defaultCurrency)

    ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
    defer cancel()
    res, err := svc.CurrentPrices(ctx, tickers, currency)
    if err != nil {
        writeBatchError(w, err)
        return
    }
    if len(res.Failed) > 0 {
        log.Printf("current prices: %d of %d tickers failed: %v", len(res.Failed), len(tickers), res.Failed)
    }
    writeJSON(w, http.StatusOK, res.Successes)
}

func handleHistoricalPrices(w http.ResponseWriter, r *http.Request, svc *pricing.Service, defaultCurrency string) {
    tickers, ok := parseTickers(w, r)
    if !ok { return }
    currency := pickCurrency(r, defaultCurrency)
    period := r.URL.Query().Get("period")
    if period == "" { period = "1mo" }
    interval := r.URL.Query().Get("interval")
    if interval == "" { interval = "1d" }

    ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
    defer cancel()
    res, err := svc.HistoricalPrices(ctx, tickers, currency, period, interval)
    if err != nil {
        writeBatchError(w, err)
        return
    }
    if len(res.Failed) > 0 {
        log.Printf("historical prices: %d of %d tickers failed: %v", len(res.Failed), len(tickers), res.Failed)
    }
    writeJSON(w, http.StatusOK, res.Successes)
}

// parseTickers accepts repeated tickers params and/or CSV values.
func parseTickers(w http.ResponseWriter, r *http.Request) ([]string, bool) {
    var tickers []string
    for _, v := range r.URL.Query()["tickers"] {
        tickers = append(tickers, splitCSV(v)...)
    }
    if len(tickers) == 0 {
        http.Error(w, "at least one ticker must be provided", http.StatusBadRequest)
        return nil, false
    }
    if len(tickers) > 1000 {
        http.Error(w, "too many tickers (max 1000)", http.StatusBadRequest)
        return nil, false
    }
    return tickers, true
}

func pickCurrency(r *http.Request, def string) string {
    if v := strings.TrimSpace(r.URL.Query().Get("currency")); v != "" {
        return v
    }
    return def
}

func writeBatchError(w http.ResponseWriter, err error) {
    var noData *pricing.NoValidDataError
    switch {
    case errors.Is(err, pricing.ErrNoInstruments):
        http.Error(w, err.Error(), http.StatusBadRequest)
    case errors.As(err, &noData):
        http.Error(w, noData.Error(), http.StatusNotFound)
    default:
        http.Error(w, "internal server error", http.StatusInternalServerError)
    }
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.WriteHeader(status)
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    _ = enc.Encode(v)
}

func withJSONHeaders(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json; charset=utf-8")
        // Basic CORS for browser usage; adjust as needed.
        w.Header().Set("Access-Control-Allow-Origin", "*")
        w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
        w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
        if r.Method == http.MethodOptions {
            w.WriteHeader(http.StatusNoContent)
            return
        }
        next.ServeHTTP(w, r)
    })
}

// withGzip compresses response when client supports gzip.
func withGzip(next http.Handler) http.Handler {
    var gzPool = sync.Pool{New: func() any {
        // Prefer best speed to reduce CPU usage since payloads are JSON
        w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
        return w
    }}
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
            next.ServeHTTP(w, r)
            return
        }
        gz := gzPool.Get().(*gzip.Writer)
        gz.Reset(w)
        defer func() {
            _ = gz.Close()
            gz.Reset(io.Discard)
            gzPool.Put(gz)
        }()
        w.Header().Set("Content-Encoding", "gzip")
        w.Header().Add("Vary", "Accept-Encoding")
        gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
        next.ServeHTTP(gw, r)
    })
}

type gzipResponseWriter struct {
    http.ResponseWriter
    Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
    return g.Writer.Write(b)
}

// withRequestID tags request and response with an X-Request-ID for
// correlation in logs.
func withRequestID(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        id := r.Header.Get("X-Request-ID")
        if id == "" { id = uuid.NewString() }
        w.Header().Set("X-Request-ID", id)
        next.ServeHTTP(w, r)
    })
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
    const maxBody = 1 << 20 // 1MB
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Body != nil {
            r.Body = http.MaxBytesReader(w, r.Body, maxBody)
        }
        next.ServeHTTP(w, r)
    })
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        defer func() {
            if rec := recover(); rec != nil {
                http.Error(w, "internal server error", http.StatusInternalServerError)
            }
        }()
        next.ServeHTTP(w, r)
    })
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
