package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bus_pos/api"

	"github.com/lib/pq"
)

var (
	errTripNotFound        = errors.New("trip not found")
	errBaseNotFound        = errors.New("trip base not found")
	errDuplicateBookingKey = errors.New("booking with this idempotency key already exists")
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS trip_bases (
	id           TEXT PRIMARY KEY,
	outlet_id    TEXT NOT NULL,
	stop_count   INTEGER NOT NULL,
	fare_per_leg BIGINT NOT NULL,
	currency     TEXT NOT NULL,
	layout       JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS trips (
	id           TEXT PRIMARY KEY,
	base_id      TEXT NOT NULL REFERENCES trip_bases (id),
	outlet_id    TEXT NOT NULL,
	service_date TEXT NOT NULL,
	status       TEXT NOT NULL,
	stop_count   INTEGER NOT NULL,
	fare_per_leg BIGINT NOT NULL,
	currency     TEXT NOT NULL,
	layout       JSONB NOT NULL,
	UNIQUE (base_id, service_date)
);

CREATE TABLE IF NOT EXISTS bookings (
	id                   TEXT PRIMARY KEY,
	code                 TEXT NOT NULL UNIQUE,
	idempotency_key      TEXT NOT NULL UNIQUE,
	trip_id              TEXT NOT NULL REFERENCES trips (id),
	outlet_id            TEXT NOT NULL,
	origin_sequence      INTEGER NOT NULL,
	destination_sequence INTEGER NOT NULL,
	seats                JSONB NOT NULL,
	passengers           JSONB NOT NULL,
	payment_method       TEXT NOT NULL,
	payment_amount       BIGINT NOT NULL,
	total                BIGINT NOT NULL,
	currency             TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL
);`

type bookingStore interface {
	GetTrip(ctx context.Context, tripID string) (Trip, error)
	SetTripStatus(ctx context.Context, tripID, status string) error
	MaterializeTrip(ctx context.Context, baseID, serviceDate, tripID string) (Trip, bool, error)
	BookingByKey(ctx context.Context, idempotencyKey string) (api.Booking, bool, error)
	InsertBooking(ctx context.Context, idempotencyKey, outletID string, booking api.Booking) error
}

type postgresStore struct {
	db *sql.DB
}

func newPostgresStore(db *sql.DB) *postgresStore {
	return &postgresStore{db: db}
}

func (s *postgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const tripColumns = `id, base_id, outlet_id, service_date, status, stop_count, fare_per_leg, currency, layout`

func (s *postgresStore) GetTrip(ctx context.Context, tripID string) (Trip, error) {
	var trip Trip
	var layout []byte
	err := s.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, tripID).Scan(
		&trip.ID, &trip.BaseID, &trip.OutletID, &trip.ServiceDate, &trip.Status,
		&trip.StopCount, &trip.FarePerLeg, &trip.Currency, &layout,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Trip{}, errTripNotFound
	}
	if err != nil {
		return Trip{}, fmt.Errorf("load trip %s: %w", tripID, err)
	}
	if err := json.Unmarshal(layout, &trip.Layout); err != nil {
		return Trip{}, fmt.Errorf("decode layout of trip %s: %w", tripID, err)
	}
	return trip, nil
}

func (s *postgresStore) SetTripStatus(ctx context.Context, tripID, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE trips SET status = $2 WHERE id = $1`, tripID, status)
	if err != nil {
		return fmt.Errorf("update status of trip %s: %w", tripID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errTripNotFound
	}
	return nil
}

// MaterializeTrip creates the dated trip for a base schedule unless it already
// exists. The bool reports whether a new trip was created.
func (s *postgresStore) MaterializeTrip(ctx context.Context, baseID, serviceDate, tripID string) (Trip, bool, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM trips WHERE base_id = $1 AND service_date = $2`, baseID, serviceDate).Scan(&existing)
	switch {
	case err == nil:
		trip, err := s.GetTrip(ctx, existing)
		return trip, false, err
	case !errors.Is(err, sql.ErrNoRows):
		return Trip{}, false, fmt.Errorf("look up trip for base %s on %s: %w", baseID, serviceDate, err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO trips (`+tripColumns+`)
		SELECT $1, id, outlet_id, $2, $3, stop_count, fare_per_leg, currency, layout
		FROM trip_bases WHERE id = $4`,
		tripID, serviceDate, TripStatusScheduled, baseID)
	if err != nil {
		return Trip{}, false, fmt.Errorf("materialize base %s on %s: %w", baseID, serviceDate, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Trip{}, false, err
	}
	if affected == 0 {
		return Trip{}, false, errBaseNotFound
	}

	trip, err := s.GetTrip(ctx, tripID)
	return trip, true, err
}

func (s *postgresStore) BookingByKey(ctx context.Context, idempotencyKey string) (api.Booking, bool, error) {
	var booking api.Booking
	var seats, passengers []byte
	var method string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, trip_id, origin_sequence, destination_sequence, seats, passengers,
		       payment_method, payment_amount, total, currency, created_at
		FROM bookings WHERE idempotency_key = $1`, idempotencyKey).Scan(
		&booking.ID, &booking.Code, &booking.TripID, &booking.OriginSequence, &booking.DestinationSequence,
		&seats, &passengers, &method, &booking.Payment.Amount, &booking.Total, &booking.Currency, &booking.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Booking{}, false, nil
	}
	if err != nil {
		return api.Booking{}, false, fmt.Errorf("load booking for key %s: %w", idempotencyKey, err)
	}

	booking.Payment.Method = api.PaymentMethod(method)
	if err := json.Unmarshal(seats, &booking.Seats); err != nil {
		return api.Booking{}, false, fmt.Errorf("decode seats of booking %s: %w", booking.ID, err)
	}
	if err := json.Unmarshal(passengers, &booking.Passengers); err != nil {
		return api.Booking{}, false, fmt.Errorf("decode passengers of booking %s: %w", booking.ID, err)
	}
	booking.CreatedAt = booking.CreatedAt.UTC()
	return booking, true, nil
}

func (s *postgresStore) InsertBooking(ctx context.Context, idempotencyKey, outletID string, booking api.Booking) error {
	seats, err := json.Marshal(booking.Seats)
	if err != nil {
		return err
	}
	passengers, err := json.Marshal(booking.Passengers)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, code, idempotency_key, trip_id, outlet_id, origin_sequence, destination_sequence,
		                      seats, passengers, payment_method, payment_amount, total, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		booking.ID, booking.Code, idempotencyKey, booking.TripID, outletID, booking.OriginSequence, booking.DestinationSequence,
		seats, passengers, string(booking.Payment.Method), booking.Payment.Amount, booking.Total, booking.Currency,
		booking.CreatedAt.UTC().Truncate(time.Microsecond),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errDuplicateBookingKey
	}
	if err != nil {
		return fmt.Errorf("insert booking %s: %w", booking.ID, err)
	}
	return nil
}
