package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bus_pos/config"
	"bus_pos/realtime"

	"github.com/spf13/cobra"
)

type watchOptions struct {
	tripIDs     []string
	baseIDs     []string
	outletID    string
	serviceDate string
}

func (o watchOptions) subscriptions() ([]realtime.Subscription, error) {
	var subs []realtime.Subscription
	for _, id := range o.tripIDs {
		subs = append(subs, realtime.TripSubscription(id))
	}
	for _, id := range o.baseIDs {
		subs = append(subs, realtime.BaseSubscription(id))
	}
	if o.outletID != "" || o.serviceDate != "" {
		subs = append(subs, realtime.OutletDateSubscription(o.outletID, o.serviceDate))
	}
	if len(subs) == 0 {
		return nil, errors.New("nothing to watch: pass --trip, --base or --outlet with --date")
	}
	for _, sub := range subs {
		if err := sub.Validate(); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

func watchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print realtime trip, hold and inventory events",
		RunE: func(cmd *cobra.Command, args []string) error {
			subs, err := opts.subscriptions()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, config.LoadAgent(), subs, cmd.OutOrStdout(), slog.Default())
		},
	}
	cmd.Flags().StringSliceVar(&opts.tripIDs, "trip", nil, "Trip id to watch (repeatable)")
	cmd.Flags().StringSliceVar(&opts.baseIDs, "base", nil, "Trip base id to watch for materialized trips (repeatable)")
	cmd.Flags().StringVar(&opts.outletID, "outlet", "", "Outlet id, with --date, to watch every trip of a service day")
	cmd.Flags().StringVar(&opts.serviceDate, "date", "", "Service date (YYYY-MM-DD) for --outlet")
	return cmd
}

// watch prints one JSON line per event until ctx ends or the channel gives up.
func watch(ctx context.Context, cfg config.Agent, subs []realtime.Subscription, out io.Writer, logger *slog.Logger) error {
	ch := realtime.NewChannel(realtime.Config{
		URL:                  cfg.RealtimeURL,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Logger:               logger,
	})
	defer ch.Close()

	for _, sub := range subs {
		if err := ch.Subscribe(sub); err != nil {
			return err
		}
	}

	printEvent := func(event realtime.Event) {
		payload, _ := json.Marshal(event)
		fmt.Fprintf(out, "%s %s\n", event.Kind(), payload)
	}
	for _, kind := range []realtime.EventKind{
		realtime.KindTripStatusChanged,
		realtime.KindTripCanceled,
		realtime.KindHoldsReleased,
		realtime.KindTripMaterialized,
		realtime.KindInventoryUpdated,
	} {
		ch.On(kind, printEvent)
	}
	ch.OnConnectionChange(func(connected bool) {
		if connected {
			fmt.Fprintln(out, "# connected")
		} else {
			fmt.Fprintln(out, "# disconnected")
		}
	})

	if err := ch.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-ch.Done():
		if ctx.Err() == nil {
			return errors.New("realtime channel stopped")
		}
	}
	return nil
}
