package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bus_pos/realtime"

	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
)

type eventPublisher interface {
	Publish(ctx context.Context, event realtime.Event, scopes ...realtime.Subscription) error
}

// redisEventPublisher publishes realtime envelopes on the redis channel of every
// scope; the event hub forwards them to subscribed agents.
type redisEventPublisher struct {
	rdb *redis.Client
}

func (p *redisEventPublisher) Publish(ctx context.Context, event realtime.Event, scopes ...realtime.Subscription) error {
	data, err := realtime.Encode(event)
	if err != nil {
		return err
	}

	var errs []error
	for _, scope := range scopes {
		if err := p.rdb.Publish(ctx, scope.Topic(), data).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish %s to %s: %w", event.Kind(), scope.Topic(), err))
		}
	}
	return errors.Join(errs...)
}

// tripScopes lists the scopes that observe changes to one trip.
func tripScopes(trip Trip) []realtime.Subscription {
	scopes := []realtime.Subscription{realtime.TripSubscription(trip.ID)}
	if trip.OutletID != "" && trip.ServiceDate != "" {
		scopes = append(scopes, realtime.OutletDateSubscription(trip.OutletID, trip.ServiceDate))
	}
	return scopes
}

type bookingQueue interface {
	BookingCreated(ctx context.Context, msg BookingCreatedMessage) error
}

type rabbitBookingQueue struct {
	channel *amqp.Channel
	queue   string
}

func (q *rabbitBookingQueue) BookingCreated(_ context.Context, msg BookingCreatedMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.channel.Publish("", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.BookingID,
		Timestamp:    msg.CreatedAt,
		Body:         body,
	})
}
