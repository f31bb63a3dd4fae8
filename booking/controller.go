// Package booking drives the point-of-sale checkout: outlet, trip, route, seats,
// passengers, payment and confirmation. It gates each step, keeps the fare total
// current and submits the booking exactly once per submit action.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bus_pos/api"
	"bus_pos/fare"
	"bus_pos/holds"
	"bus_pos/notify"

	"github.com/lucsky/cuid"
)

// HoldManager is the part of the hold registry the flow uses.
type HoldManager interface {
	ReleaseAll(ctx context.Context) error
	Get(seatNumber string) (holds.SeatHold, bool)
	Forget(seatNumbers ...string)
}

type FareSource interface {
	Quote(ctx context.Context, sel fare.Selection) fare.Quote
}

type BookingCreator interface {
	CreateBooking(ctx context.Context, req api.BookingRequest, idempotencyKey string) (api.BookingResult, error)
}

type fareKey struct {
	tripID              string
	origin, destination int
	seats               int
}

type Controller struct {
	holds       HoldManager
	fares       FareSource
	bookings    BookingCreator
	notifier    notify.Notifier
	logger      *slog.Logger
	fareTimeout time.Duration
	newKey      func() string

	mu           sync.Mutex
	state        State
	confirmation *api.BookingResult
	submitting   bool
	// generation changes whenever the selection is thrown away.
	generation uint64

	fareMu      sync.Mutex
	fareWG      sync.WaitGroup
	fareSeq     uint64
	lastFareKey fareKey
	lastQuote   fare.Quote
	farePending bool
}

type Option func(*Controller)

func WithNotifier(n notify.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithFareTimeout(d time.Duration) Option {
	return func(c *Controller) { c.fareTimeout = d }
}

// WithIdempotencyKeys replaces the key generator.
func WithIdempotencyKeys(fn func() string) Option {
	return func(c *Controller) { c.newKey = fn }
}

func NewController(holdManager HoldManager, fares FareSource, bookings BookingCreator, opts ...Option) *Controller {
	c := &Controller{
		holds:       holdManager,
		fares:       fares,
		bookings:    bookings,
		logger:      slog.Default(),
		fareTimeout: 5 * time.Second,
		newKey:      NewIdempotencyKey,
		state:       newState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = notify.LogNotifier{Logger: c.logger}
	}
	return c
}

// NewIdempotencyKey combines a millisecond timestamp with a random cuid, unique per
// submission attempt.
func NewIdempotencyKey() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), cuid.New())
}

// State returns a copy of the current flow state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

func (c *Controller) CurrentStep() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CurrentStep
}

// Confirmation returns the booking once the flow has reached the terminal step.
func (c *Controller) Confirmation() (api.BookingResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmation == nil {
		return api.BookingResult{}, false
	}
	return *c.confirmation, true
}

func (c *Controller) CanProceed(step Step) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.canProceed(step)
}

func (c *Controller) StepStatuses() []StepStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.state.CurrentStep
	statuses := make([]StepStatus, 0, int(StepConfirmation))
	for step := StepOutlet; step <= StepConfirmation; step++ {
		complete := c.state.canProceed(step)
		if step == StepConfirmation {
			complete = c.confirmation != nil
		}
		statuses = append(statuses, StepStatus{
			Step:      step,
			Title:     step.String(),
			Complete:  complete,
			Current:   step == current,
			Reachable: step <= current && current != StepConfirmation || step == current,
		})
	}
	return statuses
}

func (c *Controller) NextStep() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.state.CurrentStep
	if current == StepConfirmation {
		return ErrFlowComplete
	}
	if current == StepPayment {
		// Confirmation is only reached through CreateBooking.
		return &StepBlockedError{Step: current}
	}
	if !c.state.canProceed(current) {
		return &StepBlockedError{Step: current}
	}
	c.state.CurrentStep = current + 1
	return nil
}

func (c *Controller) PrevStep() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.CurrentStep {
	case StepConfirmation:
		return ErrFlowComplete
	case StepOutlet:
		return nil
	}
	c.state.CurrentStep--
	return nil
}

// SetCurrentStep jumps directly to step, which may not be past the current step.
func (c *Controller) SetCurrentStep(step Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.state.CurrentStep
	if current == StepConfirmation {
		return ErrFlowComplete
	}
	if !step.Valid() || step > current {
		return &StepJumpError{From: current, To: step}
	}
	c.state.CurrentStep = step
	return nil
}

// SelectOutlet sets the outlet. A different outlet invalidates every downstream
// choice: trip, route, seats, passengers and payment are cleared and all holds are
// released.
func (c *Controller) SelectOutlet(ctx context.Context, outlet Outlet) error {
	c.mu.Lock()
	if c.state.CurrentStep == StepConfirmation {
		c.mu.Unlock()
		return ErrFlowComplete
	}
	if c.state.Outlet != nil && c.state.Outlet.ID == outlet.ID {
		c.state.Outlet = &outlet
		c.mu.Unlock()
		return nil
	}

	c.state.Outlet = &outlet
	c.generation++
	c.state.Trip = nil
	c.state.OriginStop = nil
	c.state.DestinationStop = nil
	c.state.OriginSequence = nil
	c.state.DestinationSequence = nil
	c.state.SelectedSeats = nil
	c.state.Passengers = nil
	c.state.Payment = nil
	if c.state.CurrentStep > StepTrip {
		c.state.CurrentStep = StepTrip
	}
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.logger.Info("Outlet selected", "outlet_id", outlet.ID)
	c.requestFare(snapshot)

	if err := c.holds.ReleaseAll(ctx); err != nil {
		c.report(notify.LevelError, "Some seats could not be released after changing outlet: %v", err)
		return fmt.Errorf("release holds: %w", err)
	}
	return nil
}

// SelectTrip sets the trip. Seats are kept; they are only cleared by an outlet
// change or a reset.
func (c *Controller) SelectTrip(trip Trip) error {
	c.mu.Lock()
	if c.state.CurrentStep == StepConfirmation {
		c.mu.Unlock()
		return ErrFlowComplete
	}
	c.state.Trip = &trip
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.logger.Info("Trip selected", "trip_id", trip.ID)
	c.requestFare(snapshot)
	return nil
}

func (c *Controller) SelectRoute(origin, destination Stop) error {
	if origin.Sequence >= destination.Sequence {
		return fmt.Errorf("%w: %s (%d) to %s (%d)", ErrInvalidRoute, origin.Name, origin.Sequence, destination.Name, destination.Sequence)
	}

	c.mu.Lock()
	if c.state.CurrentStep == StepConfirmation {
		c.mu.Unlock()
		return ErrFlowComplete
	}
	originSeq, destinationSeq := origin.Sequence, destination.Sequence
	c.state.OriginStop = &origin
	c.state.DestinationStop = &destination
	c.state.OriginSequence = &originSeq
	c.state.DestinationSequence = &destinationSeq
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.requestFare(snapshot)
	return nil
}

// AddSeat appends a seat to the selection.
func (c *Controller) AddSeat(seatNumber string) error {
	seatNumber = strings.TrimSpace(seatNumber)
	if seatNumber == "" {
		return ErrBlankSeat
	}

	c.mu.Lock()
	if c.state.CurrentStep == StepConfirmation {
		c.mu.Unlock()
		return ErrFlowComplete
	}
	for _, seat := range c.state.SelectedSeats {
		if seat == seatNumber {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateSeat, seatNumber)
		}
	}
	c.state.SelectedSeats = append(c.state.SelectedSeats, seatNumber)
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.requestFare(snapshot)
	return nil
}

// RemoveSeat drops a seat from the selection. Passengers are left as entered, so a
// removed seat leaves the passenger step blocked until passengers are fixed.
func (c *Controller) RemoveSeat(seatNumber string) bool {
	c.mu.Lock()
	if c.state.CurrentStep == StepConfirmation {
		c.mu.Unlock()
		return false
	}
	idx := -1
	for i, seat := range c.state.SelectedSeats {
		if seat == seatNumber {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	c.state.SelectedSeats = append(c.state.SelectedSeats[:idx:idx], c.state.SelectedSeats[idx+1:]...)
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.requestFare(snapshot)
	return true
}

func (c *Controller) SetPassengers(passengers []api.Passenger) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.CurrentStep == StepConfirmation {
		return ErrFlowComplete
	}
	c.state.Passengers = append([]api.Passenger(nil), passengers...)
	return nil
}

// SetPassenger fills the passenger for the seat at index, growing the list with
// blank passengers when needed.
func (c *Controller) SetPassenger(index int, passenger api.Passenger) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.CurrentStep == StepConfirmation {
		return ErrFlowComplete
	}
	if index < 0 || index >= len(c.state.SelectedSeats) {
		return fmt.Errorf("passenger index %d out of range for %d seats", index, len(c.state.SelectedSeats))
	}
	for len(c.state.Passengers) <= index {
		c.state.Passengers = append(c.state.Passengers, api.Passenger{})
	}
	c.state.Passengers[index] = passenger
	return nil
}

func (c *Controller) SetPayment(payment api.Payment) error {
	if !payment.Method.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPayment, payment.Method)
	}
	if payment.Amount < 0 {
		return fmt.Errorf("payment amount cannot be negative: %d", payment.Amount)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.CurrentStep == StepConfirmation {
		return ErrFlowComplete
	}
	c.state.Payment = &payment
	return nil
}

// CreateBooking validates the whole flow, recomputes the fare, checks the payment
// covers it and submits once with a fresh idempotency key. On success the flow moves
// to Confirmation and the sold seats leave the hold registry; on failure it stays put
// and the held seats are kept.
func (c *Controller) CreateBooking(ctx context.Context) (api.BookingResult, error) {
	c.mu.Lock()
	if c.state.CurrentStep == StepConfirmation {
		c.mu.Unlock()
		return api.BookingResult{}, ErrFlowComplete
	}
	if c.submitting {
		c.mu.Unlock()
		return api.BookingResult{}, ErrSubmissionInProgress
	}
	state := c.state.clone()
	generation := c.generation
	if verr := state.validate(); verr != nil {
		c.mu.Unlock()
		c.report(notify.LevelError, "%s", verr.Error())
		return api.BookingResult{}, verr
	}
	c.submitting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.submitting = false
		c.mu.Unlock()
	}()

	quote := c.fares.Quote(ctx, selectionOf(state))
	c.storeQuote(keyOf(state), quote)
	if state.Payment.Amount < quote.Total {
		err := &PaymentShortfallError{Amount: state.Payment.Amount, Total: quote.Total, Currency: quote.Currency}
		c.report(notify.LevelError, "%s", err.Error())
		return api.BookingResult{}, err
	}

	req := c.buildRequest(state)
	key := c.newKey()
	c.logger.Info("Submitting booking", "trip_id", req.TripID, "seats", req.Seats, "idempotency_key", key)

	result, err := c.bookings.CreateBooking(ctx, req, key)
	if err != nil {
		serr := &SubmissionError{Err: err}
		c.report(notify.LevelError, "%s", serr.Error())
		return api.BookingResult{}, serr
	}

	// the server consumed the holds when it sold the seats
	c.holds.Forget(req.Seats...)

	c.mu.Lock()
	current := c.generation == generation
	if current {
		c.confirmation = &result
		c.state.CurrentStep = StepConfirmation
	}
	c.mu.Unlock()

	c.logger.Info("Booking created", "booking_id", result.Booking.ID, "code", result.Booking.Code)
	if !current {
		c.report(notify.LevelWarning, "Booking %s was created after the flow was reset; it is not shown as confirmed", result.Booking.Code)
		return result, ErrFlowReset
	}
	c.notifier.Notify(notify.Notice{Level: notify.LevelInfo, Message: fmt.Sprintf("Booking %s created", result.Booking.Code)})
	return result, nil
}

func (c *Controller) buildRequest(state State) api.BookingRequest {
	origin, destination := state.sequences()
	req := api.BookingRequest{
		TripID:              state.tripID(),
		OriginStopID:        state.OriginStop.ID,
		DestinationStopID:   state.DestinationStop.ID,
		OriginSequence:      origin,
		DestinationSequence: destination,
		Seats:               state.SelectedSeats,
		Passengers:          state.Passengers,
		Payment:             *state.Payment,
	}
	if state.Outlet != nil {
		req.OutletID = state.Outlet.ID
	}
	for _, seat := range state.SelectedSeats {
		if hold, ok := c.holds.Get(seat); ok && hold.TripID == req.TripID {
			req.HolderReferences = append(req.HolderReferences, hold.HolderReference)
		}
	}
	return req
}

// Reset empties the flow. Holds are not touched; use Restart to also release them.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.state = newState()
	c.confirmation = nil
	c.generation++
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.requestFare(snapshot)
}

// Restart releases every hold and resets the flow for a new transaction.
func (c *Controller) Restart(ctx context.Context) error {
	err := c.holds.ReleaseAll(ctx)
	c.Reset()
	if err != nil {
		c.report(notify.LevelWarning, "Some seats could not be released: %v", err)
		return fmt.Errorf("release holds: %w", err)
	}
	return nil
}

func (c *Controller) report(level notify.Level, format string, args ...any) {
	c.notifier.Notify(notify.Notice{Level: level, Message: fmt.Sprintf(format, args...)})
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
