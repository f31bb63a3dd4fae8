package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bus_pos/api"
	"bus_pos/booking"
	"bus_pos/config"
	"bus_pos/fare"
	"bus_pos/holds"
	"bus_pos/notify"
	"bus_pos/realtime"
	"bus_pos/seats"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type bookOptions struct {
	outletID        string
	outletName      string
	tripID          string
	baseID          string
	serviceDate     string
	originStop      string
	destinationStop string
	originSeq       int
	destinationSeq  int
	seats           []string
	passengers      []string
	phones          []string
	paymentMethod   string
	amount          int64
	realtime        bool
}

func (o bookOptions) passengerList() ([]api.Passenger, error) {
	if len(o.passengers) != len(o.seats) {
		return nil, fmt.Errorf("%d passengers for %d seats", len(o.passengers), len(o.seats))
	}
	if len(o.phones) > len(o.passengers) {
		return nil, fmt.Errorf("%d phone numbers for %d passengers", len(o.phones), len(o.passengers))
	}
	passengers := make([]api.Passenger, len(o.passengers))
	for i, name := range o.passengers {
		passengers[i] = api.Passenger{FullName: strings.TrimSpace(name)}
		if i < len(o.phones) {
			passengers[i].Phone = o.phones[i]
		}
	}
	return passengers, nil
}

func bookCmd() *cobra.Command {
	opts := bookOptions{}

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Hold seats and create a booking in one run",
		Example: `  pos_agent book --outlet OUT-1 --trip T-100 --origin-seq 1 --destination-seq 3 \
    --seat A1 --seat A2 --passenger "Sari Dewi" --passenger "Budi" --payment cash`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := newAgent(config.LoadAgent(), cmd.OutOrStdout(), slog.Default(), opts.realtime)
			result, err := a.book(ctx, opts)
			if err != nil {
				return err
			}
			printConfirmation(cmd.OutOrStdout(), result)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.outletID, "outlet", "", "Outlet id")
	flags.StringVar(&opts.outletName, "outlet-name", "", "Outlet display name")
	flags.StringVar(&opts.tripID, "trip", "", "Trip id")
	flags.StringVar(&opts.baseID, "base", "", "Trip base id")
	flags.StringVar(&opts.serviceDate, "date", "", "Service date (YYYY-MM-DD)")
	flags.StringVar(&opts.originStop, "origin", "", "Origin stop id")
	flags.StringVar(&opts.destinationStop, "destination", "", "Destination stop id")
	flags.IntVar(&opts.originSeq, "origin-seq", 0, "Origin stop sequence")
	flags.IntVar(&opts.destinationSeq, "destination-seq", 0, "Destination stop sequence")
	flags.StringArrayVar(&opts.seats, "seat", nil, "Seat number (repeatable, in passenger order)")
	flags.StringArrayVar(&opts.passengers, "passenger", nil, "Passenger full name (repeatable, one per seat)")
	flags.StringArrayVar(&opts.phones, "phone", nil, "Passenger phone (repeatable, optional)")
	flags.StringVar(&opts.paymentMethod, "payment", string(api.PaymentCash), "Payment method (cash, qr, ewallet, bank)")
	flags.Int64Var(&opts.amount, "amount", 0, "Amount paid; 0 pays the quoted total")
	flags.BoolVar(&opts.realtime, "realtime", true, "Follow realtime events while booking")
	for _, name := range []string{"outlet", "trip", "origin-seq", "destination-seq", "seat", "passenger"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

// agent wires the booking core the way a point-of-sale terminal runs it.
type agent struct {
	cfg        config.Agent
	sessionID  string
	registry   *holds.Registry
	controller *booking.Controller
	mediator   *seats.Mediator
	events     *realtime.Channel
	logger     *slog.Logger
}

func newAgent(cfg config.Agent, out io.Writer, logger *slog.Logger, withRealtime bool) *agent {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	notifier := notify.Func(func(n notify.Notice) {
		fmt.Fprintf(out, "[%s] %s\n", n.Level, n.Message)
	})

	client := api.NewClient(cfg.ReservationAPIURL, sessionID)
	registry := holds.NewRegistry(client, holds.WithNotifier(notifier), holds.WithLogger(logger))
	calculator := fare.NewCalculator(client, cfg.FlatFarePerSeat, cfg.Currency, logger)
	controller := booking.NewController(registry, calculator, client,
		booking.WithNotifier(notifier),
		booking.WithLogger(logger),
		booking.WithFareTimeout(cfg.FareTimeout),
	)
	mediator := seats.NewMediator(registry, client, controller, cfg.HoldTTL,
		seats.WithNotifier(notifier),
		seats.WithLogger(logger),
	)

	a := &agent{
		cfg:        cfg,
		sessionID:  sessionID,
		registry:   registry,
		controller: controller,
		mediator:   mediator,
		logger:     logger,
	}
	if withRealtime {
		a.events = realtime.NewChannel(realtime.Config{
			URL:                  cfg.RealtimeURL,
			Header:               http.Header{api.HeaderSessionID: []string{sessionID}},
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			Logger:               logger,
		})
	}
	return a
}

// book walks every step of the flow. Seats still held when it fails are released.
func (a *agent) book(ctx context.Context, opts bookOptions) (result api.BookingResult, err error) {
	passengers, err := opts.passengerList()
	if err != nil {
		return api.BookingResult{}, err
	}

	a.logger.Info("Booking session started", "session_id", a.sessionID, "reservation_api", a.cfg.ReservationAPIURL)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.registry.Run(runCtx)

	if a.events != nil {
		if err := a.events.Subscribe(realtime.TripSubscription(opts.tripID)); err != nil {
			return api.BookingResult{}, err
		}
		stopWatching := a.mediator.Watch(runCtx, a.events)
		defer stopWatching()
		if err := a.events.Start(runCtx); err != nil {
			return api.BookingResult{}, err
		}
		defer a.events.Close()
	}

	defer func() {
		a.mediator.Wait()
		if err == nil {
			return
		}
		if releaseErr := a.registry.ReleaseAll(context.WithoutCancel(ctx)); releaseErr != nil {
			a.logger.Warn("Some seats stay held until their holds expire", "error", releaseErr)
		}
	}()

	outletName := opts.outletName
	if outletName == "" {
		outletName = opts.outletID
	}
	if err := a.controller.SelectOutlet(ctx, booking.Outlet{ID: opts.outletID, Name: outletName}); err != nil {
		return api.BookingResult{}, err
	}
	if err := a.controller.NextStep(); err != nil {
		return api.BookingResult{}, err
	}

	if err := a.controller.SelectTrip(booking.Trip{
		ID:          opts.tripID,
		BaseID:      opts.baseID,
		ServiceDate: opts.serviceDate,
		Label:       opts.tripID,
	}); err != nil {
		return api.BookingResult{}, err
	}
	if err := a.controller.NextStep(); err != nil {
		return api.BookingResult{}, err
	}

	origin := booking.Stop{ID: opts.originStop, Name: stopName(opts.originStop, opts.originSeq), Sequence: opts.originSeq}
	destination := booking.Stop{ID: opts.destinationStop, Name: stopName(opts.destinationStop, opts.destinationSeq), Sequence: opts.destinationSeq}
	if err := a.controller.SelectRoute(origin, destination); err != nil {
		return api.BookingResult{}, err
	}
	if err := a.controller.NextStep(); err != nil {
		return api.BookingResult{}, err
	}

	if err := a.mediator.Refresh(ctx, opts.tripID, opts.originSeq, opts.destinationSeq); err != nil {
		return api.BookingResult{}, err
	}
	for _, seat := range opts.seats {
		if err := a.mediator.Select(ctx, seat); err != nil {
			return api.BookingResult{}, fmt.Errorf("select seat %s: %w", seat, err)
		}
	}
	if err := a.controller.NextStep(); err != nil {
		return api.BookingResult{}, err
	}

	if err := a.controller.SetPassengers(passengers); err != nil {
		return api.BookingResult{}, err
	}
	if err := a.controller.NextStep(); err != nil {
		return api.BookingResult{}, err
	}

	amount := opts.amount
	if amount == 0 {
		a.controller.SettleFare()
		quote := a.controller.Quote()
		if quote.Fallback {
			a.logger.Warn("Paying the flat fare estimate", "total", quote.Total, "error", quote.Err)
		}
		amount = quote.Total
	}
	if err := a.controller.SetPayment(api.Payment{Method: api.PaymentMethod(opts.paymentMethod), Amount: amount}); err != nil {
		return api.BookingResult{}, err
	}

	result, err = a.controller.CreateBooking(ctx)
	if err != nil {
		var shortfall *booking.PaymentShortfallError
		if errors.As(err, &shortfall) {
			return api.BookingResult{}, fmt.Errorf("%w (pay at least %d)", err, shortfall.Total)
		}
		return api.BookingResult{}, err
	}
	return result, nil
}

func stopName(id string, sequence int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("stop %d", sequence)
}

func printConfirmation(out io.Writer, result api.BookingResult) {
	p := result.PrintPayload
	fmt.Fprintf(out, "Booking %s confirmed\n", p.BookingCode)
	fmt.Fprintf(out, "  Trip:   %s\n", p.TripID)
	fmt.Fprintf(out, "  Seats:  %s\n", strings.Join(p.Seats, ", "))
	fmt.Fprintf(out, "  Total:  %d %s\n", p.Total, p.Currency)
	fmt.Fprintf(out, "  Ticket: %s\n", p.TicketToken)
}
