package booking

import (
	"context"

	"bus_pos/fare"
)

func selectionOf(state State) fare.Selection {
	origin, destination := state.sequences()
	return fare.Selection{
		TripID:              state.tripID(),
		OriginSequence:      origin,
		DestinationSequence: destination,
		SeatCount:           len(state.SelectedSeats),
	}
}

func keyOf(state State) fareKey {
	sel := selectionOf(state)
	return fareKey{tripID: sel.TripID, origin: sel.OriginSequence, destination: sel.DestinationSequence, seats: sel.SeatCount}
}

// requestFare starts a quote when the priced inputs changed since the last request.
// Results of superseded requests are dropped.
func (c *Controller) requestFare(state State) {
	key := keyOf(state)

	c.fareMu.Lock()
	if key == c.lastFareKey && c.fareSeq > 0 {
		c.fareMu.Unlock()
		return
	}
	c.lastFareKey = key
	c.fareSeq++
	seq := c.fareSeq
	c.farePending = true
	c.fareWG.Add(1)
	c.fareMu.Unlock()

	sel := selectionOf(state)
	go func() {
		defer c.fareWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.fareTimeout)
		defer cancel()
		quote := c.fares.Quote(ctx, sel)

		c.fareMu.Lock()
		defer c.fareMu.Unlock()
		if seq != c.fareSeq {
			return
		}
		c.lastQuote = quote
		c.farePending = false
	}()
}

// storeQuote records a quote computed synchronously for the current inputs.
func (c *Controller) storeQuote(key fareKey, quote fare.Quote) {
	c.fareMu.Lock()
	defer c.fareMu.Unlock()
	if key == c.lastFareKey {
		c.lastQuote = quote
	}
}

// Total is the last known fare total; while a quote is pending it is the previous one.
func (c *Controller) Total() int64 {
	c.fareMu.Lock()
	defer c.fareMu.Unlock()
	return c.lastQuote.Total
}

func (c *Controller) Quote() fare.Quote {
	c.fareMu.Lock()
	defer c.fareMu.Unlock()
	return c.lastQuote
}

func (c *Controller) FarePending() bool {
	c.fareMu.Lock()
	defer c.fareMu.Unlock()
	return c.farePending
}

// SettleFare waits for in-flight quotes to finish.
func (c *Controller) SettleFare() {
	c.fareWG.Wait()
}
