package pricing

import (
    "errors"
    "fmt"
    "strings"
)

// ErrNoInstruments rejects a batch request with an empty ticker list
// before any processing starts.
var ErrNoInstruments = errors.New("at least one ticker must be provided")

// NoValidDataError reports that every ticker of a batch failed. Partial
// results never produce this; it is the only per-batch error condition.
type NoValidDataError struct {
    Kind      string // "prices" or "historical data"
    Requested []string
    Failed    []string
}

func (e *NoValidDataError) Error() string {
    var b strings.Builder
    fmt.Fprintf(&b, "no valid %s found for the provided tickers: [%s]", e.Kind, strings.Join(e.Requested, ", "))
    if len(e.Failed) > 0 {
        fmt.Fprintf(&b, ". Failed tickers: [%s]", strings.Join(e.Failed, ", "))
    }
    return b.String()
}
