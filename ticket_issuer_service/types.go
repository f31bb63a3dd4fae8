package main

import (
	"time"

	"bus_pos/api"
)

// BookingCreatedMessage is consumed from the booking queue.
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

type TicketData struct {
	TicketNumber  string
	SeatNumber    string
	PassengerName string
	Price         int64
}
