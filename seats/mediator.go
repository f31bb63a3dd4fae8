// Package seats decides, per seat, whether the agent may pick it. Server-reported
// availability always wins over the local hold registry.
package seats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bus_pos/api"
	"bus_pos/booking"
	"bus_pos/holds"
	"bus_pos/notify"
	"bus_pos/realtime"
)

var (
	ErrNoSeatmap       = errors.New("seatmap not loaded")
	ErrSeatUnavailable = errors.New("seat is not available")
)

type HoldRegistry interface {
	Create(ctx context.Context, req holds.Request) error
	Release(ctx context.Context, seatNumber string) error
	IsHeld(seatNumber string) bool
	TTLRemaining(seatNumber string) int
}

type SeatmapSource interface {
	GetSeatmap(ctx context.Context, tripID string, originSequence, destinationSequence int) (api.Seatmap, error)
}

// Selection is the flow's seat list.
type Selection interface {
	AddSeat(seatNumber string) error
	RemoveSeat(seatNumber string) bool
}

// EventSource is the part of realtime.Channel the mediator listens to.
type EventSource interface {
	On(kind realtime.EventKind, handler realtime.Handler) func()
	OnConnectionChange(fn func(connected bool)) func()
	Connected() bool
}

type SeatState struct {
	SeatNumber   string
	Selectable   bool
	Blocked      bool
	HeldByMe     bool
	TTLRemaining int
	// StaleLocalHold is set when the local registry still counts a hold the server
	// reports as free.
	StaleLocalHold bool
}

type Mediator struct {
	holds     HoldRegistry
	seatmaps  SeatmapSource
	selection Selection
	holdTTL   time.Duration
	notifier  notify.Notifier
	logger    *slog.Logger

	mu          sync.Mutex
	tripID      string
	origin      int
	destination int
	seatmap     *api.Seatmap
	conflicted  map[string]bool
	stale       bool
	events      EventSource
	refreshing  sync.WaitGroup
}

type Option func(*Mediator)

func WithNotifier(n notify.Notifier) Option {
	return func(m *Mediator) { m.notifier = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Mediator) { m.logger = logger }
}

func NewMediator(registry HoldRegistry, seatmaps SeatmapSource, selection Selection, holdTTL time.Duration, opts ...Option) *Mediator {
	m := &Mediator{
		holds:      registry,
		seatmaps:   seatmaps,
		selection:  selection,
		holdTTL:    holdTTL,
		logger:     slog.Default(),
		conflicted: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = notify.LogNotifier{Logger: m.logger}
	}
	return m
}

// Refresh loads server availability for the trip and leg range. Seats blocked by a
// hold conflict become selectable again if the server now reports them free.
func (m *Mediator) Refresh(ctx context.Context, tripID string, originSequence, destinationSequence int) error {
	seatmap, err := m.seatmaps.GetSeatmap(ctx, tripID, originSequence, destinationSequence)
	if err != nil {
		m.mu.Lock()
		m.stale = true
		m.mu.Unlock()
		return fmt.Errorf("load seatmap for trip %s: %w", tripID, err)
	}

	m.mu.Lock()
	m.tripID = tripID
	m.origin = originSequence
	m.destination = destinationSequence
	m.seatmap = &seatmap
	m.conflicted = make(map[string]bool)
	m.stale = false
	m.mu.Unlock()
	return nil
}

// RefreshCurrent reloads the seatmap last passed to Refresh.
func (m *Mediator) RefreshCurrent(ctx context.Context) error {
	m.mu.Lock()
	tripID, origin, destination := m.tripID, m.origin, m.destination
	m.mu.Unlock()
	if tripID == "" {
		return ErrNoSeatmap
	}
	return m.Refresh(ctx, tripID, origin, destination)
}

// Stale reports whether the seatmap should be reloaded before it is trusted.
func (m *Mediator) Stale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seatmap == nil || m.stale {
		return true
	}
	return m.events != nil && !m.events.Connected()
}

func (m *Mediator) State(seatNumber string) SeatState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(seatNumber)
}

// States lists every seat of the layout in layout order.
func (m *Mediator) States() []SeatState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seatmap == nil {
		return nil
	}
	out := make([]SeatState, 0, len(m.seatmap.Layout.Seats))
	for _, seat := range m.seatmap.Layout.Seats {
		out = append(out, m.stateLocked(seat.Number))
	}
	return out
}

func (m *Mediator) stateLocked(seatNumber string) SeatState {
	state := SeatState{SeatNumber: seatNumber}
	if m.seatmap == nil {
		state.Blocked = true
		return state
	}
	availability, known := m.seatmap.Seats[seatNumber]
	localHeld := m.holds.IsHeld(seatNumber)

	switch {
	case !known, m.conflicted[seatNumber]:
		state.Blocked = true
	case availability.Available:
		state.Selectable = true
		state.StaleLocalHold = localHeld
	case availability.Held && localHeld:
		state.HeldByMe = true
		state.TTLRemaining = m.holds.TTLRemaining(seatNumber)
	default:
		state.Blocked = true
	}
	return state
}

// Select holds the seat and adds it to the flow. A conflict keeps the seat blocked
// until the next refresh.
func (m *Mediator) Select(ctx context.Context, seatNumber string) error {
	m.mu.Lock()
	if m.seatmap == nil {
		m.mu.Unlock()
		return ErrNoSeatmap
	}
	state := m.stateLocked(seatNumber)
	tripID, origin, destination := m.tripID, m.origin, m.destination
	m.mu.Unlock()

	if state.HeldByMe {
		return m.addToSelection(seatNumber)
	}
	if !state.Selectable {
		return fmt.Errorf("%w: %s", ErrSeatUnavailable, seatNumber)
	}

	err := m.holds.Create(ctx, holds.Request{
		TripID:              tripID,
		SeatNumber:          seatNumber,
		OriginSequence:      origin,
		DestinationSequence: destination,
		TTL:                 m.holdTTL,
	})
	if errors.Is(err, holds.ErrHoldConflict) {
		m.mu.Lock()
		m.conflicted[seatNumber] = true
		m.mu.Unlock()
		m.notifier.Notify(notify.Notice{Level: notify.LevelWarning, Message: fmt.Sprintf("Seat %s was just taken, pick another seat", seatNumber)})
		return err
	}
	if err != nil {
		m.notifier.Notify(notify.Notice{Level: notify.LevelError, Message: fmt.Sprintf("Could not hold seat %s: %v", seatNumber, err)})
		return err
	}

	m.mu.Lock()
	if m.seatmap != nil && m.tripID == tripID {
		m.seatmap.Seats[seatNumber] = api.SeatAvailability{Available: false, Held: true}
	}
	m.mu.Unlock()

	return m.addToSelection(seatNumber)
}

func (m *Mediator) addToSelection(seatNumber string) error {
	if err := m.selection.AddSeat(seatNumber); err != nil && !errors.Is(err, booking.ErrDuplicateSeat) {
		return err
	}
	return nil
}

// Deselect releases the seat, drops it from the flow and reloads the seatmap. When
// the release fails the seat stays selected and held.
func (m *Mediator) Deselect(ctx context.Context, seatNumber string) error {
	if err := m.holds.Release(ctx, seatNumber); err != nil {
		m.notifier.Notify(notify.Notice{Level: notify.LevelError, Message: fmt.Sprintf("Could not release seat %s: %v", seatNumber, err)})
		return err
	}
	m.selection.RemoveSeat(seatNumber)

	// availability after a release comes from the server
	m.mu.Lock()
	loaded := m.seatmap != nil
	m.stale = loaded
	m.mu.Unlock()
	if !loaded {
		return nil
	}
	if err := m.RefreshCurrent(ctx); err != nil {
		m.logger.Warn("Seatmap refresh after release failed", "seat", seatNumber, "error", err)
	}
	return nil
}

// Watch refreshes the seatmap whenever the event source reports a change to the
// current trip, and after every reconnect. The returned func stops watching.
func (m *Mediator) Watch(ctx context.Context, events EventSource) func() {
	m.mu.Lock()
	m.events = events
	m.mu.Unlock()

	onTrip := func(tripID string) {
		m.mu.Lock()
		current := m.tripID
		if tripID != current || current == "" {
			m.mu.Unlock()
			return
		}
		m.stale = true
		m.mu.Unlock()
		m.refreshAsync(ctx)
	}

	stops := []func(){
		events.On(realtime.KindHoldsReleased, func(e realtime.Event) { onTrip(e.(realtime.HoldsReleased).TripID) }),
		events.On(realtime.KindInventoryUpdated, func(e realtime.Event) { onTrip(e.(realtime.InventoryUpdated).TripID) }),
		events.On(realtime.KindTripStatusChanged, func(e realtime.Event) { onTrip(e.(realtime.TripStatusChanged).TripID) }),
		events.On(realtime.KindTripCanceled, func(e realtime.Event) {
			canceled := e.(realtime.TripCanceled)
			m.mu.Lock()
			current := m.tripID
			m.mu.Unlock()
			if canceled.TripID == current {
				m.notifier.Notify(notify.Notice{Level: notify.LevelWarning, Message: fmt.Sprintf("Trip %s was canceled", canceled.TripID)})
			}
			onTrip(canceled.TripID)
		}),
		events.OnConnectionChange(func(connected bool) {
			m.mu.Lock()
			hasTrip := m.tripID != ""
			if !connected {
				m.stale = true
			}
			m.mu.Unlock()
			if connected && hasTrip {
				m.refreshAsync(ctx)
			}
		}),
	}

	return func() {
		for _, stop := range stops {
			stop()
		}
		m.mu.Lock()
		if m.events == events {
			m.events = nil
		}
		m.mu.Unlock()
	}
}

func (m *Mediator) refreshAsync(ctx context.Context) {
	m.refreshing.Add(1)
	go func() {
		defer m.refreshing.Done()
		if err := m.RefreshCurrent(ctx); err != nil && !errors.Is(err, ErrNoSeatmap) {
			m.logger.Warn("Seatmap refresh failed", "error", err)
		}
	}()
}

// Wait blocks until background refreshes finish.
func (m *Mediator) Wait() {
	m.refreshing.Wait()
}
