package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bus_pos/api"
	"bus_pos/realtime"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	trips     map[string]Trip
	bases     map[string]Trip
	bookings  map[string]api.Booking
	insertErr error
}

func (f *fakeStore) GetTrip(_ context.Context, tripID string) (Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trip, ok := f.trips[tripID]
	if !ok {
		return Trip{}, errTripNotFound
	}
	return trip, nil
}

func (f *fakeStore) SetTripStatus(_ context.Context, tripID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	trip, ok := f.trips[tripID]
	if !ok {
		return errTripNotFound
	}
	trip.Status = status
	f.trips[tripID] = trip
	return nil
}

func (f *fakeStore) MaterializeTrip(_ context.Context, baseID, serviceDate, tripID string) (Trip, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, trip := range f.trips {
		if trip.BaseID == baseID && trip.ServiceDate == serviceDate {
			return trip, false, nil
		}
	}
	base, ok := f.bases[baseID]
	if !ok {
		return Trip{}, false, errBaseNotFound
	}
	trip := base
	trip.ID = tripID
	trip.BaseID = baseID
	trip.ServiceDate = serviceDate
	trip.Status = TripStatusScheduled
	f.trips[tripID] = trip
	return trip, true, nil
}

func (f *fakeStore) BookingByKey(_ context.Context, key string) (api.Booking, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	booking, ok := f.bookings[key]
	return booking, ok, nil
}

func (f *fakeStore) InsertBooking(_ context.Context, key, _ string, booking api.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.bookings[key]; ok {
		return errDuplicateBookingKey
	}
	f.bookings[key] = booking
	return nil
}

type fakeLedger struct {
	mu   sync.Mutex
	sold map[string]string
}

func ledgerKey(tripID, seat string, leg int) string {
	return fmt.Sprintf("%s/%s/%d", tripID, seat, leg)
}

func (f *fakeLedger) SoldSeats(_ context.Context, tripID string, legs []int) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sold := make(map[string]bool)
	for key := range f.sold {
		parts := strings.Split(key, "/")
		if parts[0] != tripID {
			continue
		}
		for _, leg := range legs {
			if parts[2] == fmt.Sprint(leg) {
				sold[parts[1]] = true
			}
		}
	}
	return sold, nil
}

func (f *fakeLedger) Sell(_ context.Context, tripID, bookingID string, seats []string, legs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, seat := range seats {
		for _, leg := range legs {
			if _, ok := f.sold[ledgerKey(tripID, seat, leg)]; ok {
				return errSeatSold
			}
		}
	}
	for _, seat := range seats {
		for _, leg := range legs {
			f.sold[ledgerKey(tripID, seat, leg)] = bookingID
		}
	}
	return nil
}

func (f *fakeLedger) Unsell(_ context.Context, tripID, bookingID string, seats []string, legs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, seat := range seats {
		for _, leg := range legs {
			key := ledgerKey(tripID, seat, leg)
			if f.sold[key] == bookingID {
				delete(f.sold, key)
			}
		}
	}
	return nil
}

type publishedEvent struct {
	event  realtime.Event
	topics []string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) Publish(_ context.Context, event realtime.Event, scopes ...realtime.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	topics := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		topics = append(topics, scope.Topic())
	}
	f.events = append(f.events, publishedEvent{event: event, topics: topics})
	return nil
}

func (f *fakePublisher) ofKind(kind realtime.EventKind) []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedEvent
	for _, e := range f.events {
		if e.event.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []BookingCreatedMessage
}

func (f *fakeQueue) BookingCreated(_ context.Context, msg BookingCreatedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

type testEnv struct {
	mr     *miniredis.Miniredis
	store  *fakeStore
	ledger *fakeLedger
	events *fakePublisher
	queue  *fakeQueue
	srv    *server
	http   *httptest.Server
}

var testNow = time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)

func testTrip() Trip {
	return Trip{
		ID:          "trip-1",
		BaseID:      "base-1",
		OutletID:    "outlet-1",
		ServiceDate: "2026-10-17",
		Status:      TripStatusScheduled,
		StopCount:   4,
		FarePerLeg:  50000,
		Currency:    "IDR",
		Layout: api.Layout{ID: "layout-2x2", Seats: []api.LayoutSeat{
			{Number: "A1", Row: 1, Col: 1}, {Number: "A2", Row: 1, Col: 2},
			{Number: "B1", Row: 2, Col: 1}, {Number: "B2", Row: 2, Col: 2},
		}},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr, rdb := newTestRedis(t)
	base := testTrip()
	base.ID = "base-1"

	env := &testEnv{
		mr: mr,
		store: &fakeStore{
			trips:    map[string]Trip{"trip-1": testTrip()},
			bases:    map[string]Trip{"base-1": base},
			bookings: map[string]api.Booking{},
		},
		ledger: &fakeLedger{sold: map[string]string{}},
		events: &fakePublisher{},
		queue:  &fakeQueue{},
	}
	registry := prometheus.NewRegistry()
	env.srv = &server{
		holds:      newHoldStore(rdb),
		ledger:     env.ledger,
		store:      env.store,
		events:     env.events,
		queue:      env.queue,
		tickets:    ticketSigner{secret: []byte("test-secret")},
		metrics:    newMetrics(registry),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        func() time.Time { return testNow },
		defaultTTL: 10 * time.Minute,
		maxTTL:     30 * time.Minute,
		corsOrigin: "*",
	}
	env.http = httptest.NewServer(env.srv.routes(registry))
	t.Cleanup(env.http.Close)
	return env
}

func (e *testEnv) client(sessionID string) *api.Client {
	return api.NewClient(e.http.URL, sessionID)
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.http.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func holdReq(seat string, origin, destination int) api.HoldRequest {
	return api.HoldRequest{TripID: "trip-1", SeatNumber: seat, OriginSequence: origin, DestinationSequence: destination, TTLSeconds: 120}
}

func statusCode(t *testing.T, err error) (int, string) {
	t.Helper()
	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	return statusErr.StatusCode, statusErr.Code
}

func TestHoldLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent, other := env.client("s-1"), env.client("s-2")

	hold, err := agent.CreateHold(ctx, holdReq("A1", 1, 3))
	require.NoError(t, err)
	assert.NotEmpty(t, hold.HolderReference)
	assert.Equal(t, 2*time.Minute, env.mr.TTL("hold:trip-1:A1:0"))

	_, err = other.CreateHold(ctx, holdReq("A1", 2, 4))
	assert.ErrorIs(t, err, api.ErrSeatHeld)
	_, err = agent.CreateHold(ctx, holdReq("A1", 1, 3))
	assert.ErrorIs(t, err, api.ErrSeatHeldByCaller)
	_, err = other.CreateHold(ctx, holdReq("A1", 3, 4))
	require.NoError(t, err, "disjoint legs")

	seatmap, err := other.GetSeatmap(ctx, "trip-1", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, api.SeatAvailability{Held: true}, seatmap.Seats["A1"])
	assert.Equal(t, api.SeatAvailability{Available: true}, seatmap.Seats["A2"])
	assert.Len(t, seatmap.Layout.Seats, 4)

	assert.ErrorIs(t, other.ReleaseHold(ctx, hold.HolderReference), api.ErrHoldNotFound)
	require.NoError(t, agent.ReleaseHold(ctx, hold.HolderReference))
	assert.ErrorIs(t, agent.ReleaseHold(ctx, hold.HolderReference), api.ErrHoldNotFound)

	seatmap, err = other.GetSeatmap(ctx, "trip-1", 1, 3)
	require.NoError(t, err)
	assert.True(t, seatmap.Seats["A1"].Available)

	updates := env.events.ofKind(realtime.KindInventoryUpdated)
	require.Len(t, updates, 2)
	assert.Equal(t, realtime.InventoryUpdated{TripID: "trip-1", SeatNumber: "A1", LegIndexes: []int{0, 1}}, updates[0].event)
	assert.Equal(t, []string{"events:trip:trip-1", "events:outlet:outlet-1:2026-10-17"}, updates[0].topics)

	released := env.events.ofKind(realtime.KindHoldsReleased)
	require.Len(t, released, 1)
	assert.Equal(t, realtime.HoldsReleased{TripID: "trip-1", SeatNumbers: []string{"A1"}}, released[0].event)

	assert.Equal(t, 2.0, testutil.ToFloat64(env.srv.metrics.holdsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.holdsReleased))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.holdConflicts.WithLabelValues(api.CodeSeatHeld)))
}

func TestCreateHoldRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.sold[ledgerKey("trip-1", "B2", 1)] = "b-0"

	_, err := env.client("").CreateHold(ctx, holdReq("A1", 1, 3))
	status, code := statusCode(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeInvalidRequest, code)

	agent := env.client("s-1")
	tests := []struct {
		name   string
		req    api.HoldRequest
		status int
		code   string
	}{
		{name: "unknown trip", req: api.HoldRequest{TripID: "nope", SeatNumber: "A1", OriginSequence: 1, DestinationSequence: 2}, status: http.StatusNotFound, code: api.CodeTripNotFound},
		{name: "inverted route", req: holdReq("A1", 3, 1), status: http.StatusBadRequest, code: api.CodeInvalidRequest},
		{name: "past last stop", req: holdReq("A1", 1, 5), status: http.StatusBadRequest, code: api.CodeInvalidRequest},
		{name: "unknown seat", req: holdReq("Z9", 1, 2), status: http.StatusBadRequest, code: api.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agent.CreateHold(ctx, tt.req)
			status, code := statusCode(t, err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}

	_, err = agent.CreateHold(ctx, holdReq("B2", 1, 3))
	assert.ErrorIs(t, err, api.ErrSeatSold)
	_, err = agent.CreateHold(ctx, holdReq("B2", 3, 4))
	assert.NoError(t, err, "sold only on leg 1")
}

func TestHoldTTLIsClamped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent := env.client("s-1")

	req := holdReq("A1", 1, 2)
	req.TTLSeconds = 0
	_, err := agent.CreateHold(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, env.mr.TTL("hold:trip-1:A1:0"))

	req = holdReq("A2", 1, 2)
	req.TTLSeconds = 7200
	_, err = agent.CreateHold(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, env.mr.TTL("hold:trip-1:A2:0"))
}

func TestFareQuote(t *testing.T) {
	env := newTestEnv(t)

	quote, err := env.client("s-1").QuoteFare(context.Background(), "trip-1", 1, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, api.FareQuote{TotalForAllPassengers: 300000, Currency: "IDR"}, quote)

	_, err = env.client("s-1").QuoteFare(context.Background(), "trip-1", 1, 4, 0)
	status, _ := statusCode(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}

func bookingReq(refs []string, amount int64, seats ...string) api.BookingRequest {
	passengers := make([]api.Passenger, len(seats))
	for i := range seats {
		passengers[i] = api.Passenger{FullName: fmt.Sprintf("Passenger %d", i+1)}
	}
	return api.BookingRequest{
		OutletID:            "outlet-1",
		TripID:              "trip-1",
		OriginStopID:        "stop-1",
		DestinationStopID:   "stop-3",
		OriginSequence:      1,
		DestinationSequence: 3,
		Seats:               seats,
		Passengers:          passengers,
		Payment:             api.Payment{Method: api.PaymentCash, Amount: amount},
		HolderReferences:    refs,
	}
}

func TestCreateBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent := env.client("s-1")

	var refs []string
	for _, seat := range []string{"A1", "A2"} {
		hold, err := agent.CreateHold(ctx, holdReq(seat, 1, 3))
		require.NoError(t, err)
		refs = append(refs, hold.HolderReference)
	}

	result, err := agent.CreateBooking(ctx, bookingReq(refs, 200000, "A1", "A2"), "key-1")
	require.NoError(t, err)
	booking := result.Booking
	assert.Equal(t, int64(200000), booking.Total)
	assert.Equal(t, "IDR", booking.Currency)
	assert.True(t, strings.HasPrefix(booking.Code, "BK"))
	assert.True(t, testNow.Equal(booking.CreatedAt))
	assert.Equal(t, booking.Code, result.PrintPayload.BookingCode)

	claims, err := env.srv.tickets.Verify(result.PrintPayload.TicketToken)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, claims.BookingID)
	assert.Equal(t, []string{"A1", "A2"}, claims.Seats)

	assert.Equal(t, booking.ID, env.ledger.sold[ledgerKey("trip-1", "A1", 0)])
	assert.Equal(t, booking.ID, env.ledger.sold[ledgerKey("trip-1", "A2", 1)])
	assert.False(t, env.mr.Exists("hold:trip-1:A1:0"))
	assert.False(t, env.mr.Exists(holdRefKey(refs[1])))

	require.Len(t, env.queue.messages, 1)
	assert.Equal(t, int64(100000), env.queue.messages[0].FarePerSeat)
	assert.Equal(t, "outlet-1", env.queue.messages[0].OutletID)

	replay, err := agent.CreateBooking(ctx, bookingReq(refs, 200000, "A1", "A2"), "key-1")
	require.NoError(t, err)
	assert.Equal(t, booking.ID, replay.Booking.ID)
	assert.Len(t, env.queue.messages, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.bookingReplays))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.bookingsCreated))

	seatmap, err := agent.GetSeatmap(ctx, "trip-1", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, api.SeatAvailability{}, seatmap.Seats["A1"], "sold on leg 1")
	assert.True(t, seatmap.Seats["B1"].Available)

	_, err = env.client("s-2").CreateHold(ctx, holdReq("A1", 2, 3))
	assert.ErrorIs(t, err, api.ErrSeatSold)
	_, err = env.client("s-2").CreateHold(ctx, holdReq("A1", 3, 4))
	assert.NoError(t, err)
}

func TestCreateBookingRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent := env.client("s-1")

	_, err := env.client("s-2").CreateHold(ctx, holdReq("B1", 2, 3))
	require.NoError(t, err)
	env.ledger.sold[ledgerKey("trip-1", "B2", 0)] = "b-0"

	_, err = agent.CreateBooking(ctx, bookingReq(nil, 100000, "A1"), "")
	status, code := statusCode(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeInvalidRequest, code)

	_, err = agent.CreateBooking(ctx, bookingReq(nil, 99999, "A1"), "key-short")
	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, statusErr.Message, "below total 100000")

	invalid := bookingReq(nil, 500000, "A1", "A1")
	invalid.Passengers = invalid.Passengers[:1]
	invalid.Payment.Method = "cheque"
	_, err = agent.CreateBooking(ctx, invalid, "key-invalid")
	require.ErrorAs(t, err, &statusErr)
	assert.Contains(t, statusErr.Message, "seat A1 listed more than once")
	assert.Contains(t, statusErr.Message, "1 passengers for 2 seats")
	assert.Contains(t, statusErr.Message, `payment method "cheque" is not supported`)

	_, err = agent.CreateBooking(ctx, bookingReq(nil, 100000, "B1"), "key-held")
	assert.ErrorIs(t, err, api.ErrSeatHeld)

	_, err = agent.CreateBooking(ctx, bookingReq(nil, 100000, "B2"), "key-sold")
	assert.ErrorIs(t, err, api.ErrSeatSold)

	assert.Empty(t, env.queue.messages)
	assert.Empty(t, env.store.bookings)
}

func TestCreateBookingStoreFailureReturnsSeats(t *testing.T) {
	env := newTestEnv(t)
	env.store.insertErr = errors.New("connection reset")

	_, err := env.client("s-1").CreateBooking(context.Background(), bookingReq(nil, 100000, "A1"), "key-1")
	status, _ := statusCode(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Empty(t, env.ledger.sold)
}

func TestCancelTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agent := env.client("s-1")

	_, err := agent.CreateHold(ctx, holdReq("A1", 1, 3))
	require.NoError(t, err)

	resp := env.post(t, "/trips/trip-1/cancel", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, TripStatusCanceled, env.store.trips["trip-1"].Status)
	assert.False(t, env.mr.Exists("hold:trip-1:A1:0"))

	canceled := env.events.ofKind(realtime.KindTripCanceled)
	require.Len(t, canceled, 1)
	assert.Equal(t, realtime.TripCanceled{TripID: "trip-1"}, canceled[0].event)
	released := env.events.ofKind(realtime.KindHoldsReleased)
	require.Len(t, released, 1)
	assert.Empty(t, released[0].event.(realtime.HoldsReleased).SeatNumbers)

	_, err = agent.CreateHold(ctx, holdReq("A2", 1, 3))
	_, code := statusCode(t, err)
	assert.Equal(t, api.CodeTripCanceled, code)

	seatmap, err := agent.GetSeatmap(ctx, "trip-1", 1, 3)
	require.NoError(t, err)
	for seat, availability := range seatmap.Seats {
		assert.False(t, availability.Available, seat)
	}

	assert.Equal(t, http.StatusNotFound, env.post(t, "/trips/nope/cancel", "").StatusCode)
}

func TestTripStatusChange(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/trips/trip-1/status", `{"status":"departed"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "DEPARTED", env.store.trips["trip-1"].Status)

	changes := env.events.ofKind(realtime.KindTripStatusChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, realtime.TripStatusChanged{TripID: "trip-1", Status: "DEPARTED"}, changes[0].event)

	assert.Equal(t, http.StatusBadRequest, env.post(t, "/trips/trip-1/status", `{}`).StatusCode)

	resp = env.post(t, "/trips/trip-1/status", `{"status":"canceled"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Len(t, env.events.ofKind(realtime.KindTripCanceled), 1)
}

func TestMaterializeTrip(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/trips/materialize", `{"baseId":"base-1","serviceDate":"2026-10-20"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"created":true`)

	events := env.events.ofKind(realtime.KindTripMaterialized)
	require.Len(t, events, 1)
	materialized := events[0].event.(realtime.TripMaterialized)
	assert.Equal(t, "base-1", materialized.BaseID)
	assert.Equal(t, "2026-10-20", materialized.ServiceDate)
	assert.Equal(t, []string{"events:base:base-1", "events:outlet:outlet-1:2026-10-20"}, events[0].topics)

	resp = env.post(t, "/trips/materialize", `{"baseId":"base-1","serviceDate":"2026-10-20"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, env.events.ofKind(realtime.KindTripMaterialized), 1)

	assert.Equal(t, http.StatusNotFound, env.post(t, "/trips/materialize", `{"baseId":"base-9","serviceDate":"2026-10-20"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.post(t, "/trips/materialize", `{"baseId":"base-1","serviceDate":"20/10/2026"}`).StatusCode)
}

func TestVerifyTicket(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.srv.tickets.Sign(api.Booking{ID: "b-1", Code: "BKTEST", TripID: "trip-1", Seats: []string{"A1"}, CreatedAt: testNow})
	require.NoError(t, err)

	resp, err := http.Get(env.http.URL + "/tickets/verify?token=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/tickets/verify", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	forged, err := ticketSigner{secret: []byte("other")}.Sign(api.Booking{ID: "b-1", CreatedAt: testNow})
	require.NoError(t, err)
	resp3, err := http.Get(env.http.URL + "/tickets/verify?token=" + forged)
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp3.StatusCode)
}

func TestMetricsAndPreflight(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.client("s-1").CreateHold(context.Background(), holdReq("A1", 1, 2))
	require.NoError(t, err)

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "bus_pos_holds_created_total 1")

	req, err := http.NewRequest(http.MethodOptions, env.http.URL+"/bookings", nil)
	require.NoError(t, err)
	preflight, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer preflight.Body.Close()
	assert.Equal(t, http.StatusNoContent, preflight.StatusCode)
	assert.Contains(t, preflight.Header.Get("Access-Control-Allow-Headers"), api.HeaderIdempotencyKey)
}
