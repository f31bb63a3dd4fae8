package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	holdsCreated    prometheus.Counter
	holdConflicts   *prometheus.CounterVec
	holdsReleased   prometheus.Counter
	bookingsCreated prometheus.Counter
	bookingReplays  prometheus.Counter
	bookingFailures *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		holdsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bus_pos",
			Name:      "holds_created_total",
			Help:      "Seat holds granted.",
		}),
		holdConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bus_pos",
			Name:      "hold_conflicts_total",
			Help:      "Hold requests refused, by reason.",
		}, []string{"code"}),
		holdsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bus_pos",
			Name:      "holds_released_total",
			Help:      "Seat holds released by their owner.",
		}),
		bookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bus_pos",
			Name:      "bookings_created_total",
			Help:      "Bookings written.",
		}),
		bookingReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bus_pos",
			Name:      "booking_replays_total",
			Help:      "Booking requests answered from an earlier attempt with the same idempotency key.",
		}),
		bookingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bus_pos",
			Name:      "booking_failures_total",
			Help:      "Booking requests rejected, by error code.",
		}, []string{"code"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bus_pos",
			Name:      "realtime_events_published_total",
			Help:      "Realtime events published, by type.",
		}, []string{"type"}),
	}
	reg.MustRegister(
		m.holdsCreated,
		m.holdConflicts,
		m.holdsReleased,
		m.bookingsCreated,
		m.bookingReplays,
		m.bookingFailures,
		m.eventsPublished,
	)
	return m
}
