package main

import (
	"errors"
	"fmt"

	"github.com/streadway/amqp"
)

const consumerTag = "ticket_issuer"

// bookingConsumer owns the broker connection the issuer reads booking.created
// messages from. Deliveries are acknowledged by the issuer, never automatically.
type bookingConsumer struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
}

func dialBookingConsumer(url, queueName string, prefetch int) (*bookingConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	c := &bookingConsumer{conn: conn, channel: channel}

	if err := channel.Qos(prefetch, 0, false); err != nil {
		c.Close()
		return nil, fmt.Errorf("set prefetch %d: %w", prefetch, err)
	}
	// durable, matching the publisher's declaration in reservation_service
	if _, err := channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	c.deliveries, err = channel.Consume(queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("consume queue %s: %w", queueName, err)
	}
	return c, nil
}

// Close stops delivery first so unacknowledged bookings go back to the queue.
func (c *bookingConsumer) Close() error {
	var errs []error
	if c.deliveries != nil {
		errs = append(errs, c.channel.Cancel(consumerTag, false))
	}
	errs = append(errs, c.channel.Close(), c.conn.Close())
	return errors.Join(errs...)
}
