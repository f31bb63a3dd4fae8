package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bus_pos/api"
	"bus_pos/config"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReservations serves the slice of the reservation API the agent uses.
type fakeReservations struct {
	mu          sync.Mutex
	taken       map[string]bool
	holds       map[string]string
	released    []string
	bookings    []api.BookingRequest
	keys        []string
	sessions    map[string]bool
	bookingCode string
	bookingErr  *api.ErrorResponse
}

func newFakeReservations(t *testing.T) (*fakeReservations, *httptest.Server) {
	t.Helper()
	f := &fakeReservations{
		taken:       map[string]bool{},
		holds:       map[string]string{},
		sessions:    map[string]bool{},
		bookingCode: "BKTEST01",
	}

	r := mux.NewRouter()
	r.HandleFunc("/holds", f.createHold).Methods(http.MethodPost)
	r.HandleFunc("/holds/{ref}", f.releaseHold).Methods(http.MethodDelete)
	r.HandleFunc("/trips/{id}/seatmap", f.seatmap).Methods(http.MethodGet)
	r.HandleFunc("/trips/{id}/fare", f.fare).Methods(http.MethodGet)
	r.HandleFunc("/bookings", f.createBooking).Methods(http.MethodPost)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return f, server
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeReservations) createHold(w http.ResponseWriter, r *http.Request) {
	var req api.HoldRequest
	json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[r.Header.Get(api.HeaderSessionID)] = true
	if f.taken[req.SeatNumber] {
		writeTestJSON(w, http.StatusConflict, api.ErrorResponse{Error: "seat is held", Code: api.CodeSeatHeld})
		return
	}
	ref := fmt.Sprintf("ref-%s", req.SeatNumber)
	f.holds[ref] = req.SeatNumber
	writeTestJSON(w, http.StatusCreated, api.Hold{HolderReference: ref, ExpiresAt: time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)})
}

func (f *fakeReservations) releaseHold(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.holds[ref]; !ok {
		writeTestJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "hold not found", Code: api.CodeHoldNotFound})
		return
	}
	delete(f.holds, ref)
	f.released = append(f.released, ref)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeReservations) seatmap(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seats := map[string]api.SeatAvailability{}
	layout := api.Layout{ID: "layout-2x2"}
	for i, seat := range []string{"A1", "A2", "B1", "B2"} {
		layout.Seats = append(layout.Seats, api.LayoutSeat{Number: seat, Row: i/2 + 1, Col: i%2 + 1})
		seats[seat] = api.SeatAvailability{Available: true}
	}
	writeTestJSON(w, http.StatusOK, api.Seatmap{TripID: mux.Vars(r)["id"], Layout: layout, Seats: seats})
}

func (f *fakeReservations) fare(w http.ResponseWriter, r *http.Request) {
	var seats int
	fmt.Sscan(r.URL.Query().Get("seats"), &seats)
	writeTestJSON(w, http.StatusOK, api.FareQuote{TotalForAllPassengers: int64(seats) * 100000, Currency: "IDR"})
}

func (f *fakeReservations) createBooking(w http.ResponseWriter, r *http.Request) {
	var req api.BookingRequest
	json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings = append(f.bookings, req)
	f.keys = append(f.keys, r.Header.Get(api.HeaderIdempotencyKey))
	if f.bookingErr != nil {
		writeTestJSON(w, http.StatusConflict, f.bookingErr)
		return
	}
	total := int64(len(req.Seats)) * 100000
	writeTestJSON(w, http.StatusCreated, api.BookingResult{
		Booking: api.Booking{ID: "b-1", Code: f.bookingCode, TripID: req.TripID, Seats: req.Seats, Total: total, Currency: "IDR"},
		PrintPayload: api.PrintPayload{
			BookingCode: f.bookingCode, TripID: req.TripID, Seats: req.Seats, Total: total, Currency: "IDR", TicketToken: "token",
		},
	})
}

func testAgentConfig(apiURL string) config.Agent {
	return config.Agent{
		ReservationAPIURL: apiURL,
		SessionID:         "s-test",
		HoldTTL:           2 * time.Minute,
		FlatFarePerSeat:   150000,
		Currency:          "IDR",
		FareTimeout:       time.Second,
	}
}

func testBookOptions() bookOptions {
	return bookOptions{
		outletID:        "outlet-1",
		tripID:          "trip-1",
		originStop:      "stop-1",
		destinationStop: "stop-3",
		originSeq:       1,
		destinationSeq:  3,
		seats:           []string{"A1", "A2"},
		passengers:      []string{"Sari Dewi", " Budi "},
		phones:          []string{"0812"},
		paymentMethod:   string(api.PaymentCash),
	}
}

func TestBookCreatesBookingWithQuotedTotal(t *testing.T) {
	reservations, server := newFakeReservations(t)
	var out bytes.Buffer
	a := newAgent(testAgentConfig(server.URL), &out, slog.New(slog.NewTextHandler(io.Discard, nil)), false)

	result, err := a.book(context.Background(), testBookOptions())
	require.NoError(t, err)
	assert.Equal(t, "BKTEST01", result.Booking.Code)

	require.Len(t, reservations.bookings, 1)
	req := reservations.bookings[0]
	assert.Equal(t, "outlet-1", req.OutletID)
	assert.Equal(t, []string{"A1", "A2"}, req.Seats)
	assert.ElementsMatch(t, []string{"ref-A1", "ref-A2"}, req.HolderReferences)
	assert.Equal(t, api.Payment{Method: api.PaymentCash, Amount: 200000}, req.Payment)
	assert.Equal(t, []api.Passenger{{FullName: "Sari Dewi", Phone: "0812"}, {FullName: "Budi"}}, req.Passengers)
	assert.NotEmpty(t, reservations.keys[0])
	assert.Equal(t, map[string]bool{"s-test": true}, reservations.sessions)
	assert.Empty(t, reservations.released, "holds are consumed by the booking")

	var printed bytes.Buffer
	printConfirmation(&printed, result)
	assert.Contains(t, printed.String(), "Booking BKTEST01 confirmed")
	assert.Contains(t, printed.String(), "Seats:  A1, A2")
	assert.Contains(t, printed.String(), "Total:  200000 IDR")
}

func TestBookReleasesHoldsWhenSubmissionFails(t *testing.T) {
	reservations, server := newFakeReservations(t)
	reservations.bookingErr = &api.ErrorResponse{Error: "seat is sold", Code: api.CodeSeatSold}
	var out bytes.Buffer
	a := newAgent(testAgentConfig(server.URL), &out, slog.New(slog.NewTextHandler(io.Discard, nil)), false)

	_, err := a.book(context.Background(), testBookOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrSeatSold)
	assert.ElementsMatch(t, []string{"ref-A1", "ref-A2"}, reservations.released)
	assert.Contains(t, out.String(), "[error]")
}

func TestBookStopsWhenSeatIsTaken(t *testing.T) {
	reservations, server := newFakeReservations(t)
	reservations.taken["A2"] = true
	var out bytes.Buffer
	a := newAgent(testAgentConfig(server.URL), &out, slog.New(slog.NewTextHandler(io.Discard, nil)), false)

	_, err := a.book(context.Background(), testBookOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "select seat A2")
	assert.Empty(t, reservations.bookings)
	assert.Equal(t, []string{"ref-A1"}, reservations.released)
	assert.Contains(t, out.String(), "Seat A2 was just taken")
}

func TestBookRejectsUnderpayment(t *testing.T) {
	reservations, server := newFakeReservations(t)
	opts := testBookOptions()
	opts.amount = 1000
	a := newAgent(testAgentConfig(server.URL), io.Discard, slog.New(slog.NewTextHandler(io.Discard, nil)), false)

	_, err := a.book(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pay at least 200000")
	assert.Empty(t, reservations.bookings)
	assert.Len(t, reservations.released, 2)
}

func TestPassengerList(t *testing.T) {
	opts := testBookOptions()
	opts.passengers = opts.passengers[:1]
	_, err := opts.passengerList()
	assert.EqualError(t, err, "1 passengers for 2 seats")

	opts = testBookOptions()
	opts.phones = []string{"1", "2", "3"}
	_, err = opts.passengerList()
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"loud":    slog.LevelInfo,
	}
	for input, want := range tests {
		assert.Equal(t, want, parseLevel(input), input)
	}
}
