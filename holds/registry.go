// Package holds tracks the seats the local agent session has reserved and expires
// them on a one-second tick.
//
// The reservation service is authoritative. Local expiry only drives the countdown
// and notifications; seat selectability is always decided from server availability.
package holds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"bus_pos/api"
	"bus_pos/notify"
)

// ErrHoldConflict is returned when another holder owns the seat on the requested legs.
var ErrHoldConflict = errors.New("seat is held by another holder")

// ServiceError wraps transport and server faults from the reservation service.
type ServiceError struct {
	Op   string
	Seat string
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s hold for seat %s: %v", e.Op, e.Seat, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Service is the slice of the reservation API the registry needs.
type Service interface {
	CreateHold(ctx context.Context, req api.HoldRequest) (api.Hold, error)
	ReleaseHold(ctx context.Context, holderReference string) error
}

type SeatHold struct {
	HolderReference     string
	SeatNumber          string
	TripID              string
	OriginSequence      int
	DestinationSequence int
	ExpiresAt           time.Time
}

type Request struct {
	TripID              string
	SeatNumber          string
	OriginSequence      int
	DestinationSequence int
	TTL                 time.Duration
}

const TickInterval = time.Second

type Registry struct {
	service   Service
	notifier  notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
	onExpired func(SeatHold)

	mu    sync.Mutex
	holds map[string]SeatHold
}

type Option func(*Registry)

func WithNotifier(n notify.Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithClock replaces time.Now; tests drive expiry with it.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithExpiryHook is called once for every hold evicted by the sweeper.
func WithExpiryHook(fn func(SeatHold)) Option {
	return func(r *Registry) { r.onExpired = fn }
}

func NewRegistry(service Service, opts ...Option) *Registry {
	r := &Registry{
		service: service,
		logger:  slog.Default(),
		now:     time.Now,
		holds:   make(map[string]SeatHold),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.notifier == nil {
		r.notifier = notify.LogNotifier{Logger: r.logger}
	}
	return r
}

// Create reserves a seat. A seat the session already holds on the server is a
// success and leaves the local records untouched.
func (r *Registry) Create(ctx context.Context, req Request) error {
	ttlSeconds := int(req.TTL / time.Second)
	if ttlSeconds <= 0 {
		return &ServiceError{Op: "create", Seat: req.SeatNumber, Err: fmt.Errorf("ttl must be at least one second, got %s", req.TTL)}
	}

	hold, err := r.service.CreateHold(ctx, api.HoldRequest{
		TripID:              req.TripID,
		SeatNumber:          req.SeatNumber,
		OriginSequence:      req.OriginSequence,
		DestinationSequence: req.DestinationSequence,
		TTLSeconds:          ttlSeconds,
	})
	switch {
	case errors.Is(err, api.ErrSeatHeldByCaller):
		r.logger.Debug("Seat already held by this session", "trip_id", req.TripID, "seat", req.SeatNumber)
		return nil
	case errors.Is(err, api.ErrSeatHeld), errors.Is(err, api.ErrSeatSold):
		return fmt.Errorf("seat %s: %w", req.SeatNumber, ErrHoldConflict)
	case err != nil:
		return &ServiceError{Op: "create", Seat: req.SeatNumber, Err: err}
	}

	record := SeatHold{
		HolderReference:     hold.HolderReference,
		SeatNumber:          req.SeatNumber,
		TripID:              req.TripID,
		OriginSequence:      req.OriginSequence,
		DestinationSequence: req.DestinationSequence,
		ExpiresAt:           r.now().Add(time.Duration(ttlSeconds) * time.Second),
	}

	r.mu.Lock()
	r.holds[req.SeatNumber] = record
	r.mu.Unlock()

	r.logger.Info("Seat held", "trip_id", req.TripID, "seat", req.SeatNumber, "expires_at", record.ExpiresAt)
	return nil
}

// Release gives a seat back. The local record is dropped only once the service
// confirms; a hold the service no longer knows about counts as confirmed.
func (r *Registry) Release(ctx context.Context, seatNumber string) error {
	r.mu.Lock()
	record, ok := r.holds[seatNumber]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	err := r.service.ReleaseHold(ctx, record.HolderReference)
	if err != nil && !errors.Is(err, api.ErrHoldNotFound) {
		return &ServiceError{Op: "release", Seat: seatNumber, Err: err}
	}

	r.mu.Lock()
	if current, ok := r.holds[seatNumber]; ok && current.HolderReference == record.HolderReference {
		delete(r.holds, seatNumber)
	}
	r.mu.Unlock()

	r.logger.Info("Seat released", "trip_id", record.TripID, "seat", seatNumber)
	return nil
}

// ReleaseAll releases every held seat. Failures do not stop the batch; they are
// joined into the returned error and their records stay.
func (r *Registry) ReleaseAll(ctx context.Context) error {
	var errs []error
	for _, hold := range r.Holds() {
		if err := r.Release(ctx, hold.SeatNumber); err != nil {
			r.logger.Warn("Failed to release seat", "seat", hold.SeatNumber, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forget drops local records without calling the service. It is for holds the
// server has already consumed, such as seats sold by a booking.
func (r *Registry) Forget(seatNumbers ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, seat := range seatNumbers {
		delete(r.holds, seat)
	}
}

// TTLRemaining returns the seconds left on the hold, rounded up so that it only
// reaches zero once the hold has expired. Zero means not held or expired.
func (r *Registry) TTLRemaining(seatNumber string) int {
	r.mu.Lock()
	record, ok := r.holds[seatNumber]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	remaining := record.ExpiresAt.Sub(r.now())
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

func (r *Registry) IsHeld(seatNumber string) bool {
	r.mu.Lock()
	record, ok := r.holds[seatNumber]
	r.mu.Unlock()
	return ok && record.ExpiresAt.After(r.now())
}

// Get returns the record for a seat, expired or not.
func (r *Registry) Get(seatNumber string) (SeatHold, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.holds[seatNumber]
	return record, ok
}

// Holds returns a snapshot ordered by seat number.
func (r *Registry) Holds() []SeatHold {
	r.mu.Lock()
	out := make([]SeatHold, 0, len(r.holds))
	for _, hold := range r.holds {
		out = append(out, hold)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SeatNumber < out[j].SeatNumber })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holds)
}

// Sweep evicts every hold whose expiry is not in the future and notifies once per
// evicted seat.
func (r *Registry) Sweep() []SeatHold {
	now := r.now()

	r.mu.Lock()
	var expired []SeatHold
	for seat, hold := range r.holds {
		if !hold.ExpiresAt.After(now) {
			expired = append(expired, hold)
			delete(r.holds, seat)
		}
	}
	r.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].SeatNumber < expired[j].SeatNumber })
	for _, hold := range expired {
		r.logger.Info("Seat hold expired", "trip_id", hold.TripID, "seat", hold.SeatNumber)
		r.notifier.Notify(notify.Notice{
			Level:   notify.LevelWarning,
			Message: fmt.Sprintf("Hold expired for seat %s", hold.SeatNumber),
		})
		if r.onExpired != nil {
			r.onExpired(hold)
		}
	}
	return expired
}

// Run sweeps every TickInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
