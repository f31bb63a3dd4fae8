// Package fare prices a seat selection through the quoting service and falls back
// to a flat per-seat fare whenever a quote cannot be obtained.
package fare

import (
	"context"
	"errors"
	"log/slog"

	"bus_pos/api"
)

var errMissingInput = errors.New("trip, route and seat count are required for a quote")

type Quoter interface {
	QuoteFare(ctx context.Context, tripID string, originSequence, destinationSequence, seatCount int) (api.FareQuote, error)
}

type Selection struct {
	TripID              string
	OriginSequence      int
	DestinationSequence int
	SeatCount           int
}

func (s Selection) complete() bool {
	return s.TripID != "" && s.OriginSequence < s.DestinationSequence && s.SeatCount > 0
}

type Quote struct {
	Total    int64
	Currency string
	// Fallback is set when Total came from the flat per-seat fare.
	Fallback bool
	Err      error
}

type Calculator struct {
	quoter          Quoter
	flatFarePerSeat int64
	currency        string
	logger          *slog.Logger
}

func NewCalculator(quoter Quoter, flatFarePerSeat int64, currency string, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		quoter:          quoter,
		flatFarePerSeat: flatFarePerSeat,
		currency:        currency,
		logger:          logger,
	}
}

func (c *Calculator) FlatFarePerSeat() int64 { return c.flatFarePerSeat }

// Fallback is the deterministic total used when no quote is available.
func (c *Calculator) Fallback(seatCount int) int64 {
	if seatCount <= 0 {
		return 0
	}
	return int64(seatCount) * c.flatFarePerSeat
}

// Quote never fails: any quoting problem yields the flat fallback with Err set.
// Nothing is cached between calls.
func (c *Calculator) Quote(ctx context.Context, sel Selection) Quote {
	if !sel.complete() {
		return c.fallback(sel, errMissingInput)
	}

	quote, err := c.quoter.QuoteFare(ctx, sel.TripID, sel.OriginSequence, sel.DestinationSequence, sel.SeatCount)
	if err != nil {
		c.logger.Warn("Fare quote failed, using flat fare", "trip_id", sel.TripID, "seats", sel.SeatCount, "error", err)
		return c.fallback(sel, err)
	}
	if quote.TotalForAllPassengers < 0 {
		return c.fallback(sel, errors.New("quote returned a negative total"))
	}

	currency := quote.Currency
	if currency == "" {
		currency = c.currency
	}
	return Quote{Total: quote.TotalForAllPassengers, Currency: currency}
}

func (c *Calculator) fallback(sel Selection, err error) Quote {
	return Quote{
		Total:    c.Fallback(sel.SeatCount),
		Currency: c.currency,
		Fallback: true,
		Err:      err,
	}
}
