package api

import "time"

type HoldRequest struct {
	TripID              string `json:"tripId"`
	SeatNumber          string `json:"seatNumber"`
	OriginSequence      int    `json:"originSequence"`
	DestinationSequence int    `json:"destinationSequence"`
	TTLSeconds          int    `json:"ttlSeconds"`
}

type Hold struct {
	HolderReference string    `json:"holderReference"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

type SeatAvailability struct {
	Available bool `json:"available"`
	Held      bool `json:"held"`
}

type LayoutSeat struct {
	Number string `json:"number"`
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Deck   int    `json:"deck,omitempty"`
}

type Layout struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Seats []LayoutSeat `json:"seats"`
}

type Seatmap struct {
	TripID              string                      `json:"tripId"`
	OriginSequence      int                         `json:"originSequence"`
	DestinationSequence int                         `json:"destinationSequence"`
	Layout              Layout                      `json:"layout"`
	Seats               map[string]SeatAvailability `json:"seats"`
}

type FareQuote struct {
	TotalForAllPassengers int64  `json:"totalForAllPassengers"`
	Currency              string `json:"currency"`
}

type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "cash"
	PaymentQR      PaymentMethod = "qr"
	PaymentEwallet PaymentMethod = "ewallet"
	PaymentBank    PaymentMethod = "bank"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentQR, PaymentEwallet, PaymentBank:
		return true
	}
	return false
}

type Passenger struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone,omitempty"`
	IDNumber string `json:"idNumber,omitempty"`
}

type Payment struct {
	Method PaymentMethod `json:"method"`
	Amount int64         `json:"amount"`
}

// BookingRequest is the write-once snapshot submitted for one checkout.
type BookingRequest struct {
	OutletID            string      `json:"outletId"`
	TripID              string      `json:"tripId"`
	OriginStopID        string      `json:"originStopId"`
	DestinationStopID   string      `json:"destinationStopId"`
	OriginSequence      int         `json:"originSequence"`
	DestinationSequence int         `json:"destinationSequence"`
	Seats               []string    `json:"seats"`
	Passengers          []Passenger `json:"passengers"`
	Payment             Payment     `json:"payment"`
	HolderReferences    []string    `json:"holderReferences,omitempty"`
}

type Booking struct {
	ID                  string      `json:"id"`
	Code                string      `json:"code"`
	TripID              string      `json:"tripId"`
	OriginSequence      int         `json:"originSequence"`
	DestinationSequence int         `json:"destinationSequence"`
	Seats               []string    `json:"seats"`
	Passengers          []Passenger `json:"passengers"`
	Payment             Payment     `json:"payment"`
	Total               int64       `json:"total"`
	Currency            string      `json:"currency"`
	CreatedAt           time.Time   `json:"createdAt"`
}

type PrintPayload struct {
	BookingCode string   `json:"bookingCode"`
	TripID      string   `json:"tripId"`
	Seats       []string `json:"seats"`
	Total       int64    `json:"total"`
	Currency    string   `json:"currency"`
	TicketToken string   `json:"ticketToken"`
}

type BookingResult struct {
	Booking      Booking      `json:"booking"`
	PrintPayload PrintPayload `json:"printPayload"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeSeatHeld         = "SEAT_HELD"
	CodeSeatHeldByCaller = "SEAT_HELD_BY_CALLER"
	CodeSeatSold         = "SEAT_SOLD"
	CodeHoldNotFound     = "HOLD_NOT_FOUND"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeTripNotFound     = "TRIP_NOT_FOUND"
	CodeTripCanceled     = "TRIP_CANCELED"
)

// Headers shared by the client and the reservation service.
const (
	HeaderSessionID      = "X-Session-Id"
	HeaderIdempotencyKey = "Idempotency-Key"
)
