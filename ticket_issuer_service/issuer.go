package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"
)

var errMalformedMessage = errors.New("malformed booking message")

const schema = `
CREATE TABLE IF NOT EXISTS tickets (
	ticket_number        TEXT PRIMARY KEY,
	booking_id           TEXT NOT NULL,
	booking_code         TEXT NOT NULL,
	trip_id              TEXT NOT NULL,
	seat_number          TEXT NOT NULL,
	passenger_name       TEXT NOT NULL,
	origin_sequence      INTEGER NOT NULL,
	destination_sequence INTEGER NOT NULL,
	price                BIGINT NOT NULL,
	currency             TEXT NOT NULL,
	issued_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (booking_id, seat_number)
);`

const insertTicketQuery = `INSERT INTO tickets
	(ticket_number, booking_id, booking_code, trip_id, seat_number, passenger_name,
	 origin_sequence, destination_sequence, price, currency)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (booking_id, seat_number) DO NOTHING`

// issuer turns booking.created messages into one ticket row per seat.
type issuer struct {
	db     *sql.DB
	logger *slog.Logger
}

func (i *issuer) Migrate(ctx context.Context) error {
	_, err := i.db.ExecContext(ctx, schema)
	return err
}

// ticketsFor pairs seats with passengers in order.
func ticketsFor(msg BookingCreatedMessage) ([]TicketData, error) {
	if msg.BookingID == "" || msg.BookingCode == "" || msg.TripID == "" {
		return nil, fmt.Errorf("%w: booking id, code and trip are required", errMalformedMessage)
	}
	if len(msg.Seats) == 0 || len(msg.Seats) != len(msg.Passengers) {
		return nil, fmt.Errorf("%w: %d seats for %d passengers", errMalformedMessage, len(msg.Seats), len(msg.Passengers))
	}

	tickets := make([]TicketData, len(msg.Seats))
	for idx, seat := range msg.Seats {
		tickets[idx] = TicketData{
			TicketNumber:  msg.BookingCode + "-" + seat,
			SeatNumber:    seat,
			PassengerName: msg.Passengers[idx].FullName,
			Price:         msg.FarePerSeat,
		}
	}
	return tickets, nil
}

func (i *issuer) issueTickets(ctx context.Context, msg BookingCreatedMessage, tickets []TicketData) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	for _, ticket := range tickets {
		_, err := tx.ExecContext(ctx, insertTicketQuery,
			ticket.TicketNumber,
			msg.BookingID,
			msg.BookingCode,
			msg.TripID,
			ticket.SeatNumber,
			ticket.PassengerName,
			msg.OriginSequence,
			msg.DestinationSequence,
			ticket.Price,
			msg.Currency,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert ticket %s: %w", ticket.TicketNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (i *issuer) handleBookingCreatedMessages(ctx context.Context, messages <-chan amqp.Delivery) {
	for message := range messages {
		i.handleMessage(ctx, message)
	}
}

// handleMessage drops malformed messages and requeues a failed insert once.
func (i *issuer) handleMessage(ctx context.Context, message amqp.Delivery) {
	data := BookingCreatedMessage{}
	if err := json.Unmarshal(message.Body, &data); err != nil {
		i.logger.Warn("Failed to decode message", "message_id", message.MessageId, "error", err)
		message.Nack(false, false)
		return
	}

	tickets, err := ticketsFor(data)
	if err != nil {
		i.logger.Warn("Dropping booking message", "booking_id", data.BookingID, "error", err)
		message.Nack(false, false)
		return
	}

	if err := i.issueTickets(ctx, data, tickets); err != nil {
		requeue := !message.Redelivered
		i.logger.Error("Failed to issue tickets", "booking_id", data.BookingID, "requeue", requeue, "error", err)
		message.Nack(false, requeue)
		return
	}

	i.logger.Info("Tickets issued", "booking_id", data.BookingID, "booking_code", data.BookingCode,
		"trip_id", data.TripID, "tickets", len(tickets))
	message.Ack(false)
}
