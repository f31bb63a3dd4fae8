package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"
)

var errSeatSold = errors.New("seat is sold")

// seatLedger records sold seats per leg. Selling is all-or-nothing across every
// seat and leg of a booking.
type seatLedger interface {
	SoldSeats(ctx context.Context, tripID string, legs []int) (map[string]bool, error)
	Sell(ctx context.Context, tripID, bookingID string, seats []string, legs []int) error
	Unsell(ctx context.Context, tripID, bookingID string, seats []string, legs []int) error
}

type etcdLedger struct {
	client *clientv3.Client
}

func newEtcdLedger(client *clientv3.Client) *etcdLedger {
	return &etcdLedger{client: client}
}

func soldPrefix(tripID string) string {
	return fmt.Sprintf("trip:%s:sold:", tripID)
}

func soldKey(tripID, seatNumber string, leg int) string {
	return fmt.Sprintf("%s%s:%d", soldPrefix(tripID), seatNumber, leg)
}

// parseSoldKey splits "trip:{id}:sold:{seat}:{leg}" after the trip prefix.
func parseSoldKey(prefix, key string) (string, int, bool) {
	rest := strings.TrimPrefix(key, prefix)
	sep := strings.LastIndexByte(rest, ':')
	if sep <= 0 {
		return "", 0, false
	}
	leg, err := strconv.Atoi(rest[sep+1:])
	if err != nil {
		return "", 0, false
	}
	return rest[:sep], leg, true
}

// SoldSeats returns the seats sold on any of the given legs.
func (l *etcdLedger) SoldSeats(ctx context.Context, tripID string, legs []int) (map[string]bool, error) {
	prefix := soldPrefix(tripID)
	resp, err := l.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("read sold seats for trip %s: %w", tripID, err)
	}

	wanted := make(map[int]bool, len(legs))
	for _, leg := range legs {
		wanted[leg] = true
	}

	sold := make(map[string]bool)
	for _, kv := range resp.Kvs {
		seat, leg, ok := parseSoldKey(prefix, string(kv.Key))
		if ok && wanted[leg] {
			sold[seat] = true
		}
	}
	return sold, nil
}

// Sell writes one key per seat and leg in a single transaction guarded on none of
// them existing yet.
func (l *etcdLedger) Sell(ctx context.Context, tripID, bookingID string, seats []string, legs []int) error {
	var conditions []clientv3.Cmp
	var puts []clientv3.Op
	for _, seat := range seats {
		for _, leg := range legs {
			key := soldKey(tripID, seat, leg)
			conditions = append(conditions, clientv3.Compare(clientv3.CreateRevision(key), "=", 0))
			puts = append(puts, clientv3.OpPut(key, bookingID))
		}
	}

	transactionResponse, err := l.client.Txn(ctx).
		If(conditions...).
		Then(puts...).
		Commit()
	if err != nil {
		return fmt.Errorf("sell seats on trip %s: %w", tripID, err)
	}
	if !transactionResponse.Succeeded {
		return errSeatSold
	}
	return nil
}

// Unsell removes the keys a booking wrote. Keys owned by another booking are left alone.
func (l *etcdLedger) Unsell(ctx context.Context, tripID, bookingID string, seats []string, legs []int) error {
	var errs []error
	for _, seat := range seats {
		for _, leg := range legs {
			key := soldKey(tripID, seat, leg)
			_, err := l.client.Txn(ctx).
				If(clientv3.Compare(clientv3.Value(key), "=", bookingID)).
				Then(clientv3.OpDelete(key)).
				Commit()
			if err != nil {
				errs = append(errs, fmt.Errorf("unsell %s: %w", key, err))
			}
		}
	}
	return errors.Join(errs...)
}
