package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bus_pos/api"
	"bus_pos/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type server struct {
	holds      *holdStore
	ledger     seatLedger
	store      bookingStore
	events     eventPublisher
	queue      bookingQueue
	tickets    ticketSigner
	metrics    *metrics
	logger     *slog.Logger
	now        func() time.Time
	defaultTTL time.Duration
	maxTTL     time.Duration
	corsOrigin string
}

func (s *server) routes(gatherer prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/holds", s.handleCreateHold).Methods(http.MethodPost)
	r.HandleFunc("/holds/{ref}", s.handleReleaseHold).Methods(http.MethodDelete)
	r.HandleFunc("/trips/materialize", s.handleMaterializeTrip).Methods(http.MethodPost)
	r.HandleFunc("/trips/{id}/seatmap", s.handleSeatmap).Methods(http.MethodGet)
	r.HandleFunc("/trips/{id}/fare", s.handleFare).Methods(http.MethodGet)
	r.HandleFunc("/trips/{id}/status", s.handleTripStatus).Methods(http.MethodPost)
	r.HandleFunc("/trips/{id}/cancel", s.handleCancelTrip).Methods(http.MethodPost)
	r.HandleFunc("/bookings", s.handleCreateBooking).Methods(http.MethodPost)
	r.HandleFunc("/tickets/verify", s.handleVerifyTicket).Methods(http.MethodGet)
	r.HandleFunc("/health-check", healthCheckHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return withCORS(s.corsOrigin, r)
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "OK")
}

func withCORS(origin string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", "Authorization", api.HeaderSessionID, api.HeaderIdempotencyKey,
		}, ", "))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}

func sessionFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := r.Header.Get(api.HeaderSessionID)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "missing "+api.HeaderSessionID+" header")
		return "", false
	}
	return sessionID, true
}

// loadTrip writes the error response itself and reports whether the caller may go on.
func (s *server) loadTrip(w http.ResponseWriter, r *http.Request, tripID string) (Trip, bool) {
	trip, err := s.store.GetTrip(r.Context(), tripID)
	if errors.Is(err, errTripNotFound) {
		writeError(w, http.StatusNotFound, api.CodeTripNotFound, fmt.Sprintf("trip %s not found", tripID))
		return Trip{}, false
	}
	if err != nil {
		s.logger.Error("Failed to load trip", "trip_id", tripID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to load trip")
		return Trip{}, false
	}
	return trip, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("query parameter %s must be an integer, got %q", name, raw)
	}
	return value, nil
}

func (s *server) publish(ctx context.Context, event realtime.Event, scopes ...realtime.Subscription) {
	if err := s.events.Publish(ctx, event, scopes...); err != nil {
		s.logger.Warn("Failed to publish realtime event", "type", event.Kind(), "error", err)
		return
	}
	s.metrics.eventsPublished.WithLabelValues(string(event.Kind())).Inc()
}

func (s *server) handleCreateHold(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	var req api.HoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "invalid request body")
		return
	}
	if req.TripID == "" || req.SeatNumber == "" {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "tripId and seatNumber are required")
		return
	}

	trip, ok := s.loadTrip(w, r, req.TripID)
	if !ok {
		return
	}
	if trip.Status == TripStatusCanceled {
		writeError(w, http.StatusConflict, api.CodeTripCanceled, fmt.Sprintf("trip %s is canceled", trip.ID))
		return
	}
	if !trip.ValidRoute(req.OriginSequence, req.DestinationSequence) {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest,
			fmt.Sprintf("invalid route %d to %d", req.OriginSequence, req.DestinationSequence))
		return
	}
	if !trip.HasSeat(req.SeatNumber) {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Sprintf("seat %s is not in the layout", req.SeatNumber))
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	legs := trip.Legs(req.OriginSequence, req.DestinationSequence)
	sold, err := s.ledger.SoldSeats(r.Context(), trip.ID, legs)
	if err != nil {
		s.logger.Error("Failed to read seat ledger", "trip_id", trip.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to read seat ledger")
		return
	}
	if sold[req.SeatNumber] {
		s.metrics.holdConflicts.WithLabelValues(api.CodeSeatSold).Inc()
		writeError(w, http.StatusConflict, api.CodeSeatSold, fmt.Sprintf("seat %s is sold", req.SeatNumber))
		return
	}

	reference, expiresAt, err := s.holds.Acquire(r.Context(), sessionID, trip.ID, req.SeatNumber, legs, ttl)
	switch {
	case errors.Is(err, errSeatHeld):
		s.metrics.holdConflicts.WithLabelValues(api.CodeSeatHeld).Inc()
		writeError(w, http.StatusConflict, api.CodeSeatHeld, fmt.Sprintf("seat %s is held", req.SeatNumber))
		return
	case errors.Is(err, errSeatHeldByCaller):
		s.metrics.holdConflicts.WithLabelValues(api.CodeSeatHeldByCaller).Inc()
		writeError(w, http.StatusConflict, api.CodeSeatHeldByCaller, fmt.Sprintf("seat %s is already held by this session", req.SeatNumber))
		return
	case err != nil:
		s.logger.Error("Failed to acquire hold", "trip_id", trip.ID, "seat", req.SeatNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to acquire hold")
		return
	}

	s.metrics.holdsCreated.Inc()
	s.logger.Info("Seat held", "trip_id", trip.ID, "seat", req.SeatNumber, "legs", legs, "session_id", sessionID, "ttl", ttl)
	s.publish(r.Context(), realtime.InventoryUpdated{TripID: trip.ID, SeatNumber: req.SeatNumber, LegIndexes: legs}, tripScopes(trip)...)

	writeJSON(w, http.StatusCreated, api.Hold{HolderReference: reference, ExpiresAt: expiresAt})
}

func (s *server) handleReleaseHold(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionFrom(w, r)
	if !ok {
		return
	}
	reference := mux.Vars(r)["ref"]

	record, err := s.holds.Release(r.Context(), sessionID, reference)
	if errors.Is(err, errHoldNotFound) {
		writeError(w, http.StatusNotFound, api.CodeHoldNotFound, fmt.Sprintf("hold %s not found", reference))
		return
	}
	if err != nil {
		s.logger.Error("Failed to release hold", "reference", reference, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to release hold")
		return
	}

	s.metrics.holdsReleased.Inc()
	s.logger.Info("Seat released", "trip_id", record.TripID, "seat", record.SeatNumber, "session_id", sessionID)

	scopes := []realtime.Subscription{realtime.TripSubscription(record.TripID)}
	if trip, err := s.store.GetTrip(r.Context(), record.TripID); err == nil {
		scopes = tripScopes(trip)
	}
	s.publish(r.Context(), realtime.HoldsReleased{TripID: record.TripID, SeatNumbers: []string{record.SeatNumber}}, scopes...)

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSeatmap(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["id"]
	origin, err := queryInt(r, "origin")
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}
	destination, err := queryInt(r, "destination")
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}

	trip, ok := s.loadTrip(w, r, tripID)
	if !ok {
		return
	}
	if !trip.ValidRoute(origin, destination) {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Sprintf("invalid route %d to %d", origin, destination))
		return
	}

	legs := trip.Legs(origin, destination)
	seats := make([]string, 0, len(trip.Layout.Seats))
	for _, seat := range trip.Layout.Seats {
		seats = append(seats, seat.Number)
	}

	sold, err := s.ledger.SoldSeats(r.Context(), trip.ID, legs)
	if err != nil {
		s.logger.Error("Failed to read seat ledger", "trip_id", trip.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to read seat ledger")
		return
	}
	held, _, err := s.holds.HeldSeats(r.Context(), r.Header.Get(api.HeaderSessionID), trip.ID, seats, legs)
	if err != nil {
		s.logger.Error("Failed to read holds", "trip_id", trip.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to read holds")
		return
	}

	seatmap := api.Seatmap{
		TripID:              trip.ID,
		OriginSequence:      origin,
		DestinationSequence: destination,
		Layout:              trip.Layout,
		Seats:               make(map[string]api.SeatAvailability, len(seats)),
	}
	for _, seat := range seats {
		switch {
		case sold[seat]:
			seatmap.Seats[seat] = api.SeatAvailability{}
		case held[seat]:
			seatmap.Seats[seat] = api.SeatAvailability{Held: true}
		case trip.Status == TripStatusCanceled:
			seatmap.Seats[seat] = api.SeatAvailability{}
		default:
			seatmap.Seats[seat] = api.SeatAvailability{Available: true}
		}
	}

	writeJSON(w, http.StatusOK, seatmap)
}

func (s *server) handleFare(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["id"]
	var params [3]int
	for i, name := range []string{"origin", "destination", "seats"} {
		value, err := queryInt(r, name)
		if err != nil {
			writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
			return
		}
		params[i] = value
	}
	origin, destination, seats := params[0], params[1], params[2]
	if seats < 1 {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "seats must be at least 1")
		return
	}

	trip, ok := s.loadTrip(w, r, tripID)
	if !ok {
		return
	}
	if !trip.ValidRoute(origin, destination) {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Sprintf("invalid route %d to %d", origin, destination))
		return
	}

	writeJSON(w, http.StatusOK, api.FareQuote{
		TotalForAllPassengers: trip.Fare(origin, destination, seats),
		Currency:              trip.Currency,
	})
}

// validateBooking returns every problem with the request, or nil.
func validateBooking(trip Trip, req api.BookingRequest) []string {
	var problems []string
	if !trip.ValidRoute(req.OriginSequence, req.DestinationSequence) {
		problems = append(problems, fmt.Sprintf("invalid route %d to %d", req.OriginSequence, req.DestinationSequence))
	}
	if len(req.Seats) == 0 {
		problems = append(problems, "no seats")
	}
	seen := make(map[string]bool, len(req.Seats))
	for _, seat := range req.Seats {
		switch {
		case seen[seat]:
			problems = append(problems, fmt.Sprintf("seat %s listed more than once", seat))
		case !trip.HasSeat(seat):
			problems = append(problems, fmt.Sprintf("seat %s is not in the layout", seat))
		}
		seen[seat] = true
	}
	if len(req.Passengers) != len(req.Seats) {
		problems = append(problems, fmt.Sprintf("%d passengers for %d seats", len(req.Passengers), len(req.Seats)))
	}
	for i, passenger := range req.Passengers {
		if strings.TrimSpace(passenger.FullName) == "" {
			problems = append(problems, fmt.Sprintf("passenger %d has no name", i+1))
		}
	}
	if !req.Payment.Method.Valid() {
		problems = append(problems, fmt.Sprintf("payment method %q is not supported", req.Payment.Method))
	}
	if len(problems) == 0 {
		if total := trip.Fare(req.OriginSequence, req.DestinationSequence, len(req.Seats)); req.Payment.Amount < total {
			problems = append(problems, fmt.Sprintf("payment %d is below total %d", req.Payment.Amount, total))
		}
	}
	return problems
}

func (s *server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get(api.HeaderIdempotencyKey)
	if idempotencyKey == "" {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "missing "+api.HeaderIdempotencyKey+" header")
		return
	}
	sessionID, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	var req api.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "invalid request body")
		return
	}

	if existing, found, err := s.store.BookingByKey(r.Context(), idempotencyKey); err != nil {
		s.logger.Error("Failed to look up booking", "idempotency_key", idempotencyKey, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to look up booking")
		return
	} else if found {
		s.metrics.bookingReplays.Inc()
		s.logger.Info("Replaying booking", "booking_id", existing.ID, "idempotency_key", idempotencyKey)
		s.writeBookingResult(w, http.StatusOK, existing)
		return
	}

	trip, ok := s.loadTrip(w, r, req.TripID)
	if !ok {
		return
	}
	if trip.Status == TripStatusCanceled {
		s.metrics.bookingFailures.WithLabelValues(api.CodeTripCanceled).Inc()
		writeError(w, http.StatusConflict, api.CodeTripCanceled, fmt.Sprintf("trip %s is canceled", trip.ID))
		return
	}
	if problems := validateBooking(trip, req); len(problems) > 0 {
		s.metrics.bookingFailures.WithLabelValues(api.CodeInvalidRequest).Inc()
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, strings.Join(problems, "; "))
		return
	}

	legs := trip.Legs(req.OriginSequence, req.DestinationSequence)
	_, heldByOther, err := s.holds.HeldSeats(r.Context(), sessionID, trip.ID, req.Seats, legs)
	if err != nil {
		s.logger.Error("Failed to read holds", "trip_id", trip.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to read holds")
		return
	}
	for _, seat := range req.Seats {
		if heldByOther[seat] {
			s.metrics.bookingFailures.WithLabelValues(api.CodeSeatHeld).Inc()
			writeError(w, http.StatusConflict, api.CodeSeatHeld, fmt.Sprintf("seat %s is held by another session", seat))
			return
		}
	}

	booking := api.Booking{
		ID:                  uuid.NewString(),
		Code:                generateBookingCode(),
		TripID:              trip.ID,
		OriginSequence:      req.OriginSequence,
		DestinationSequence: req.DestinationSequence,
		Seats:               req.Seats,
		Passengers:          req.Passengers,
		Payment:             req.Payment,
		Total:               trip.Fare(req.OriginSequence, req.DestinationSequence, len(req.Seats)),
		Currency:            trip.Currency,
		CreatedAt:           s.now().UTC().Truncate(time.Microsecond),
	}

	if err := s.ledger.Sell(r.Context(), trip.ID, booking.ID, booking.Seats, legs); errors.Is(err, errSeatSold) {
		s.metrics.bookingFailures.WithLabelValues(api.CodeSeatSold).Inc()
		writeError(w, http.StatusConflict, api.CodeSeatSold, "one or more seats are sold")
		return
	} else if err != nil {
		s.logger.Error("Failed to sell seats", "trip_id", trip.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to sell seats")
		return
	}

	if err := s.store.InsertBooking(r.Context(), idempotencyKey, req.OutletID, booking); err != nil {
		if unsellErr := s.ledger.Unsell(context.WithoutCancel(r.Context()), trip.ID, booking.ID, booking.Seats, legs); unsellErr != nil {
			s.logger.Error("Failed to return seats after booking insert failed", "booking_id", booking.ID, "error", unsellErr)
		}
		if errors.Is(err, errDuplicateBookingKey) {
			if existing, found, lookupErr := s.store.BookingByKey(r.Context(), idempotencyKey); lookupErr == nil && found {
				s.metrics.bookingReplays.Inc()
				s.writeBookingResult(w, http.StatusOK, existing)
				return
			}
		}
		s.logger.Error("Failed to store booking", "booking_id", booking.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to store booking")
		return
	}

	s.metrics.bookingsCreated.Inc()
	s.logger.Info("Booking created", "booking_id", booking.ID, "code", booking.Code, "trip_id", trip.ID,
		"seats", booking.Seats, "total", booking.Total, "session_id", sessionID)

	if err := s.holds.ReleaseSession(r.Context(), sessionID, trip.ID, booking.Seats, legs, req.HolderReferences); err != nil {
		s.logger.Warn("Failed to release holds after booking", "booking_id", booking.ID, "error", err)
	}
	for _, seat := range booking.Seats {
		s.publish(r.Context(), realtime.InventoryUpdated{TripID: trip.ID, SeatNumber: seat, LegIndexes: legs}, tripScopes(trip)...)
	}

	if err := s.queue.BookingCreated(r.Context(), BookingCreatedMessage{
		BookingID:           booking.ID,
		BookingCode:         booking.Code,
		TripID:              trip.ID,
		OutletID:            req.OutletID,
		OriginSequence:      booking.OriginSequence,
		DestinationSequence: booking.DestinationSequence,
		Seats:               booking.Seats,
		Passengers:          booking.Passengers,
		FarePerSeat:         trip.Fare(booking.OriginSequence, booking.DestinationSequence, 1),
		Currency:            booking.Currency,
		CreatedAt:           booking.CreatedAt,
	}); err != nil {
		s.logger.Warn("Failed to queue booking for ticket issue", "booking_id", booking.ID, "error", err)
	}

	s.writeBookingResult(w, http.StatusCreated, booking)
}

func (s *server) writeBookingResult(w http.ResponseWriter, status int, booking api.Booking) {
	token, err := s.tickets.Sign(booking)
	if err != nil {
		s.logger.Error("Failed to sign ticket token", "booking_id", booking.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to sign ticket")
		return
	}
	writeJSON(w, status, api.BookingResult{
		Booking: booking,
		PrintPayload: api.PrintPayload{
			BookingCode: booking.Code,
			TripID:      booking.TripID,
			Seats:       booking.Seats,
			Total:       booking.Total,
			Currency:    booking.Currency,
			TicketToken: token,
		},
	})
}

func (s *server) handleTripStatus(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["id"]
	var req TripStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Status) == "" {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "status is required")
		return
	}
	status := strings.ToUpper(strings.TrimSpace(req.Status))
	if status == TripStatusCanceled {
		s.handleCancelTrip(w, r)
		return
	}

	trip, ok := s.loadTrip(w, r, tripID)
	if !ok {
		return
	}
	if err := s.store.SetTripStatus(r.Context(), trip.ID, status); err != nil {
		s.logger.Error("Failed to update trip status", "trip_id", trip.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to update trip status")
		return
	}

	s.logger.Info("Trip status changed", "trip_id", trip.ID, "from", trip.Status, "to", status)
	s.publish(r.Context(), realtime.TripStatusChanged{TripID: trip.ID, Status: status}, tripScopes(trip)...)
	w.WriteHeader(http.StatusNoContent)
}

// handleCancelTrip marks the trip canceled and drops every hold on it.
func (s *server) handleCancelTrip(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["id"]
	trip, ok := s.loadTrip(w, r, tripID)
	if !ok {
		return
	}
	if err := s.store.SetTripStatus(r.Context(), trip.ID, TripStatusCanceled); err != nil {
		s.logger.Error("Failed to cancel trip", "trip_id", trip.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to cancel trip")
		return
	}

	released, err := s.holds.ReleaseTrip(r.Context(), trip.ID)
	if err != nil {
		s.logger.Warn("Failed to release holds of canceled trip", "trip_id", trip.ID, "error", err)
	}

	s.logger.Info("Trip canceled", "trip_id", trip.ID, "released_seats", len(released))
	scopes := tripScopes(trip)
	s.publish(r.Context(), realtime.TripCanceled{TripID: trip.ID}, scopes...)
	s.publish(r.Context(), realtime.HoldsReleased{TripID: trip.ID}, scopes...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleMaterializeTrip(w http.ResponseWriter, r *http.Request) {
	var req MaterializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "invalid request body")
		return
	}
	if req.BaseID == "" {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "baseId is required")
		return
	}
	if _, err := time.Parse(time.DateOnly, req.ServiceDate); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "serviceDate must be YYYY-MM-DD")
		return
	}

	trip, created, err := s.store.MaterializeTrip(r.Context(), req.BaseID, req.ServiceDate, uuid.NewString())
	if errors.Is(err, errBaseNotFound) {
		writeError(w, http.StatusNotFound, api.CodeTripNotFound, fmt.Sprintf("trip base %s not found", req.BaseID))
		return
	}
	if err != nil {
		s.logger.Error("Failed to materialize trip", "base_id", req.BaseID, "service_date", req.ServiceDate, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to materialize trip")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.logger.Info("Trip materialized", "trip_id", trip.ID, "base_id", req.BaseID, "service_date", req.ServiceDate)
		s.publish(r.Context(), realtime.TripMaterialized{BaseID: req.BaseID, ServiceDate: req.ServiceDate, TripID: trip.ID},
			realtime.BaseSubscription(req.BaseID), realtime.OutletDateSubscription(trip.OutletID, req.ServiceDate))
	}
	writeJSON(w, status, MaterializeResponse{TripID: trip.ID, Created: created})
}

func (s *server) handleVerifyTicket(w http.ResponseWriter, r *http.Request) {
	token := ticketTokenFromRequest(r)
	if token == "" {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "missing ticket token")
		return
	}

	claims, err := s.tickets.Verify(token)
	if err != nil {
		s.logger.Info("Ticket verification failed", "error", err)
		writeJSON(w, http.StatusUnauthorized, TicketVerification{Valid: false})
		return
	}
	writeJSON(w, http.StatusOK, TicketVerification{
		Valid:     true,
		BookingID: claims.BookingID,
		TripID:    claims.TripID,
		Seats:     claims.Seats,
	})
}

func generateBookingCode() string {
	return "BK" + randomString(8)
}

func randomString(length int) string {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
