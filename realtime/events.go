package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

type EventKind string

const (
	KindTripStatusChanged EventKind = "TRIP_STATUS_CHANGED"
	KindTripCanceled      EventKind = "TRIP_CANCELED"
	KindHoldsReleased     EventKind = "HOLDS_RELEASED"
	KindTripMaterialized  EventKind = "TRIP_MATERIALIZED"
	KindInventoryUpdated  EventKind = "INVENTORY_UPDATED"
)

// Event is one of the payload types below.
type Event interface {
	Kind() EventKind
}

type TripStatusChanged struct {
	TripID string `json:"tripId"`
	Status string `json:"status"`
}

type TripCanceled struct {
	TripID string `json:"tripId"`
}

// HoldsReleased without SeatNumbers means every hold on the trip was released.
type HoldsReleased struct {
	TripID      string   `json:"tripId"`
	SeatNumbers []string `json:"seatNumbers,omitempty"`
}

type TripMaterialized struct {
	BaseID      string `json:"baseId"`
	ServiceDate string `json:"serviceDate"`
	TripID      string `json:"tripId"`
}

type InventoryUpdated struct {
	TripID     string `json:"tripId"`
	SeatNumber string `json:"seatNumber"`
	LegIndexes []int  `json:"legIndexes,omitempty"`
}

func (TripStatusChanged) Kind() EventKind { return KindTripStatusChanged }
func (TripCanceled) Kind() EventKind      { return KindTripCanceled }
func (HoldsReleased) Kind() EventKind     { return KindHoldsReleased }
func (TripMaterialized) Kind() EventKind  { return KindTripMaterialized }
func (InventoryUpdated) Kind() EventKind  { return KindInventoryUpdated }

// Envelope is the frame carried on the wire for every event.
type Envelope struct {
	Type    EventKind       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var ErrUnknownEvent = errors.New("unknown event type")

var decoders = map[EventKind]func(json.RawMessage) (Event, error){
	KindTripStatusChanged: decodeAs[TripStatusChanged],
	KindTripCanceled:      decodeAs[TripCanceled],
	KindHoldsReleased:     decodeAs[HoldsReleased],
	KindTripMaterialized:  decodeAs[TripMaterialized],
	KindInventoryUpdated:  decodeAs[InventoryUpdated],
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Decode parses a wire frame into its typed event.
func Decode(data []byte) (Event, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	decode, ok := decoders[envelope.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Type)
	}
	event, err := decode(envelope.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", envelope.Type, err)
	}
	return event, nil
}

// Encode wraps an event in its envelope.
func Encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event.Kind(), err)
	}
	return json.Marshal(Envelope{Type: event.Kind(), Payload: payload})
}
