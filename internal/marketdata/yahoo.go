package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=marketdata_test -destination=mock_http_client_test.go -source=yahoo.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultBaseURL = "https://query1.finance.yahoo.com"

// YahooGateway implements Gateway against the Yahoo Finance v8 chart API.
// Concurrent identical chart requests are coalesced into a single upstream
// call; nothing is retained across requests.
type YahooGateway struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header

	sf singleflight.Group
}

// YahooOption is a configuration option for the Yahoo gateway.
type YahooOption func(*YahooGateway)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) YahooOption {
	return func(g *YahooGateway) {
		g.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(httpClient HTTPClient) YahooOption {
	return func(g *YahooGateway) {
		g.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) YahooOption {
	return func(g *YahooGateway) {
		for key, values := range header {
			for _, value := range values {
				g.header.Add(key, value)
			}
		}
	}
}

// NewYahooGateway creates a new Yahoo Finance gateway.
func NewYahooGateway(options ...YahooOption) *YahooGateway {
	g := &YahooGateway{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	// Yahoo rejects requests without a browser-looking agent.
	g.header.Set("User-Agent", "Mozilla/5.0")
	for _, option := range options {
		option(g)
	}
	return g
}

// yahooChart is the response structure from the Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency string `json:"currency"`
				Symbol   string `json:"symbol"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []interface{} `json:"open"`
					High   []interface{} `json:"high"`
					Low    []interface{} `json:"low"`
					Close  []interface{} `json:"close"`
					Volume []interface{} `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Bars returns chart bars for symbol over period/interval, oldest first.
// An empty slice with nil error means Yahoo had no data for the parameters.
func (g *YahooGateway) Bars(ctx context.Context, symbol, period, interval string) ([]Bar, error) {
	bars, _, err := g.fetchChart(ctx, symbol, period, interval)
	return bars, err
}

// Metadata reports instrument metadata. It rides on a minimal chart request
// since the chart payload carries the quote currency.
func (g *YahooGateway) Metadata(ctx context.Context, symbol string) (Meta, error) {
	_, meta, err := g.fetchChart(ctx, symbol, "1d", "1d")
	return meta, err
}

func (g *YahooGateway) fetchChart(ctx context.Context, symbol, period, interval string) ([]Bar, Meta, error) {
	type chartResult struct {
		bars []Bar
		meta Meta
	}
	key := symbol + "|" + period + "|" + interval
	v, err, _ := g.sf.Do(key, func() (any, error) {
		bars, meta, err := g.doFetchChart(ctx, symbol, period, interval)
		if err != nil {
			return nil, err
		}
		return chartResult{bars: bars, meta: meta}, nil
	})
	if err != nil {
		return nil, Meta{}, err
	}
	res := v.(chartResult)
	return res.bars, res.meta, nil
}

func (g *YahooGateway) doFetchChart(ctx context.Context, symbol, period, interval string) ([]Bar, Meta, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&range=%s",
		g.baseURL, url.PathEscape(symbol), url.QueryEscape(interval), url.QueryEscape(period))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header = g.header.Clone()

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, Meta{}, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return nil, Meta{}, fmt.Errorf("yahoo: status %d: %s", resp.StatusCode, truncate(body, 2<<10))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, Meta{}, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, Meta{}, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, Meta{}, nil
	}

	result := chart.Chart.Result[0]
	meta := Meta{Symbol: result.Meta.Symbol, Currency: result.Meta.Currency}
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, meta, nil
	}

	quote := result.Indicators.Quote[0]
	bars := make([]Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o := toFloat(at(quote.Open, i))
		h := toFloat(at(quote.High, i))
		l := toFloat(at(quote.Low, i))
		c := toFloat(at(quote.Close, i))
		if o == 0 && h == 0 && l == 0 && c == 0 {
			continue // skip null slots (holidays etc.)
		}
		bars = append(bars, Bar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: toVolume(at(quote.Volume, i)),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, meta, nil
}

func at(vals []interface{}, i int) interface{} {
	if i < 0 || i >= len(vals) {
		return nil
	}
	return vals[i]
}

func toFloat(v interface{}) float64 {
	if v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// toVolume maps a nullable volume slot to a concrete value, or nil for
// null/non-numeric slots.
func toVolume(v interface{}) *int64 {
	if v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		iv := int64(n)
		return &iv
	case int:
		iv := int64(n)
		return &iv
	default:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
