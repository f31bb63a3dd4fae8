package main

import (
	"time"

	"bus_pos/api"
)

const (
	TripStatusScheduled = "SCHEDULED"
	TripStatusCanceled  = "CANCELED"
)

// Trip is one dated run of a base schedule. Stops are numbered 1..StopCount; leg i
// runs from stop i+1 to stop i+2.
type Trip struct {
	ID          string
	BaseID      string
	OutletID    string
	ServiceDate string
	Status      string
	StopCount   int
	FarePerLeg  int64
	Currency    string
	Layout      api.Layout
}

// Legs returns the leg indexes covered between two stop sequences.
func (t Trip) Legs(originSequence, destinationSequence int) []int {
	legs := make([]int, 0, destinationSequence-originSequence)
	for seq := originSequence; seq < destinationSequence; seq++ {
		legs = append(legs, seq-1)
	}
	return legs
}

func (t Trip) ValidRoute(originSequence, destinationSequence int) bool {
	return originSequence >= 1 && originSequence < destinationSequence && destinationSequence <= t.StopCount
}

func (t Trip) HasSeat(seatNumber string) bool {
	for _, seat := range t.Layout.Seats {
		if seat.Number == seatNumber {
			return true
		}
	}
	return false
}

func (t Trip) Fare(originSequence, destinationSequence, seats int) int64 {
	return t.FarePerLeg * int64(destinationSequence-originSequence) * int64(seats)
}

type TripStatusRequest struct {
	Status string `json:"status"`
}

type MaterializeRequest struct {
	BaseID      string `json:"baseId"`
	ServiceDate string `json:"serviceDate"`
}

type MaterializeResponse struct {
	TripID  string `json:"tripId"`
	Created bool   `json:"created"`
}

type TicketVerification struct {
	Valid     bool     `json:"valid"`
	BookingID string   `json:"bookingId,omitempty"`
	TripID    string   `json:"tripId,omitempty"`
	Seats     []string `json:"seats,omitempty"`
}

// BookingCreatedMessage is published on the booking queue for the ticket issuer.
type BookingCreatedMessage struct {
	BookingID           string          `json:"booking_id"`
	BookingCode         string          `json:"booking_code"`
	TripID              string          `json:"trip_id"`
	OutletID            string          `json:"outlet_id"`
	OriginSequence      int             `json:"origin_sequence"`
	DestinationSequence int             `json:"destination_sequence"`
	Seats               []string        `json:"seats"`
	Passengers          []api.Passenger `json:"passengers"`
	FarePerSeat         int64           `json:"fare_per_seat"`
	Currency            string          `json:"currency"`
	CreatedAt           time.Time       `json:"created_at"`
}
