package fare

import (
	"context"
	"errors"
	"testing"

	"bus_pos/api"

	"github.com/stretchr/testify/assert"
)

type quoterFunc func(ctx context.Context, tripID string, o, d, n int) (api.FareQuote, error)

func (f quoterFunc) QuoteFare(ctx context.Context, tripID string, o, d, n int) (api.FareQuote, error) {
	return f(ctx, tripID, o, d, n)
}

func TestQuoteUsesService(t *testing.T) {
	calls := 0
	calc := NewCalculator(quoterFunc(func(_ context.Context, tripID string, o, d, n int) (api.FareQuote, error) {
		calls++
		assert.Equal(t, "trip-1", tripID)
		assert.Equal(t, 2, n)
		return api.FareQuote{TotalForAllPassengers: 420000}, nil
	}), 150000, "IDR", nil)

	sel := Selection{TripID: "trip-1", OriginSequence: 1, DestinationSequence: 3, SeatCount: 2}
	quote := calc.Quote(context.Background(), sel)
	assert.Equal(t, int64(420000), quote.Total)
	assert.Equal(t, "IDR", quote.Currency)
	assert.False(t, quote.Fallback)

	calc.Quote(context.Background(), sel)
	assert.Equal(t, 2, calls, "quotes are never cached")
}

func TestQuoteFallsBack(t *testing.T) {
	failing := quoterFunc(func(context.Context, string, int, int, int) (api.FareQuote, error) {
		return api.FareQuote{}, errors.New("quote service down")
	})
	unused := quoterFunc(func(context.Context, string, int, int, int) (api.FareQuote, error) {
		t.Fatal("quoter must not be called for incomplete selections")
		return api.FareQuote{}, nil
	})

	tests := []struct {
		name   string
		quoter Quoter
		sel    Selection
		want   int64
	}{
		{name: "service error", quoter: failing, sel: Selection{TripID: "t", OriginSequence: 1, DestinationSequence: 2, SeatCount: 2}, want: 300000},
		{name: "missing trip", quoter: unused, sel: Selection{OriginSequence: 1, DestinationSequence: 2, SeatCount: 3}, want: 450000},
		{name: "inverted route", quoter: unused, sel: Selection{TripID: "t", OriginSequence: 3, DestinationSequence: 2, SeatCount: 1}, want: 150000},
		{name: "no seats", quoter: unused, sel: Selection{TripID: "t", OriginSequence: 1, DestinationSequence: 2}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote := NewCalculator(tt.quoter, 150000, "IDR", nil).Quote(context.Background(), tt.sel)
			assert.True(t, quote.Fallback)
			assert.Error(t, quote.Err)
			assert.Equal(t, tt.want, quote.Total)
		})
	}
}
