package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	errSeatHeld         = errors.New("seat is held by another session")
	errSeatHeldByCaller = errors.New("seat is already held by this session")
	errHoldNotFound     = errors.New("hold not found")
)

// acquireScript sets every leg key of one seat, or none of them. Values are
// "session|reference". Returns {"ok", ref}, {"own", ref} or {"held", ""}.
var acquireScript = redis.NewScript(`
local owned = 0
local ownRef = ""
for i, key in ipairs(KEYS) do
	local value = redis.call("GET", key)
	if value then
		local sep = string.find(value, "|", 1, true)
		if string.sub(value, 1, sep - 1) ~= ARGV[1] then
			return {"held", ""}
		end
		owned = owned + 1
		ownRef = string.sub(value, sep + 1)
	end
end
if owned == #KEYS then
	return {"own", ownRef}
end
for i, key in ipairs(KEYS) do
	redis.call("SET", key, ARGV[1] .. "|" .. ARGV[2], "PX", ARGV[3])
end
redis.call("SET", ARGV[4], ARGV[5], "PX", ARGV[3])
return {"ok", ARGV[2]}
`)

// releaseScript deletes the leg keys still owned by the given value.
var releaseScript = redis.NewScript(`
local removed = 0
for i, key in ipairs(KEYS) do
	if redis.call("GET", key) == ARGV[1] then
		redis.call("DEL", key)
		removed = removed + 1
	end
end
return removed
`)

type holdRecord struct {
	Reference  string `json:"reference"`
	SessionID  string `json:"sessionId"`
	TripID     string `json:"tripId"`
	SeatNumber string `json:"seatNumber"`
	Legs       []int  `json:"legs"`
}

// holdStore keeps seat holds in redis, one key per seat and leg so that holds on
// disjoint legs of the same seat do not collide.
type holdStore struct {
	rdb *redis.Client
	now func() time.Time
}

func newHoldStore(rdb *redis.Client) *holdStore {
	return &holdStore{rdb: rdb, now: time.Now}
}

func holdKey(tripID, seatNumber string, leg int) string {
	return fmt.Sprintf("hold:%s:%s:%d", tripID, seatNumber, leg)
}

func holdRefKey(reference string) string {
	return "holdref:" + reference
}

func legKeys(tripID, seatNumber string, legs []int) []string {
	keys := make([]string, 0, len(legs))
	for _, leg := range legs {
		keys = append(keys, holdKey(tripID, seatNumber, leg))
	}
	return keys
}

// Acquire holds a seat on the given legs for ttl. It returns errSeatHeldByCaller
// with the existing reference when the session already holds every leg.
func (s *holdStore) Acquire(ctx context.Context, sessionID, tripID, seatNumber string, legs []int, ttl time.Duration) (string, time.Time, error) {
	reference := uuid.NewString()
	record, err := json.Marshal(holdRecord{
		Reference:  reference,
		SessionID:  sessionID,
		TripID:     tripID,
		SeatNumber: seatNumber,
		Legs:       legs,
	})
	if err != nil {
		return "", time.Time{}, err
	}

	result, err := acquireScript.Run(ctx, s.rdb, legKeys(tripID, seatNumber, legs),
		sessionID, reference, ttl.Milliseconds(), holdRefKey(reference), string(record)).StringSlice()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("acquire hold on %s/%s: %w", tripID, seatNumber, err)
	}

	switch result[0] {
	case "held":
		return "", time.Time{}, errSeatHeld
	case "own":
		return result[1], time.Time{}, errSeatHeldByCaller
	}
	return reference, s.now().Add(ttl), nil
}

// Release drops a hold by reference. Only the owning session may release it;
// anyone else gets errHoldNotFound.
func (s *holdStore) Release(ctx context.Context, sessionID, reference string) (holdRecord, error) {
	raw, err := s.rdb.Get(ctx, holdRefKey(reference)).Result()
	if errors.Is(err, redis.Nil) {
		return holdRecord{}, errHoldNotFound
	}
	if err != nil {
		return holdRecord{}, fmt.Errorf("load hold %s: %w", reference, err)
	}

	var record holdRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return holdRecord{}, fmt.Errorf("decode hold %s: %w", reference, err)
	}
	if record.SessionID != sessionID {
		return holdRecord{}, errHoldNotFound
	}

	owner := record.SessionID + "|" + record.Reference
	if err := releaseScript.Run(ctx, s.rdb, legKeys(record.TripID, record.SeatNumber, record.Legs), owner).Err(); err != nil {
		return holdRecord{}, fmt.Errorf("release hold %s: %w", reference, err)
	}
	if err := s.rdb.Del(ctx, holdRefKey(reference)).Err(); err != nil {
		return holdRecord{}, fmt.Errorf("drop hold index %s: %w", reference, err)
	}
	return record, nil
}

// HeldSeats reports, for each seat, whether any of its legs is held by anyone and
// whether any is held by someone other than sessionID.
func (s *holdStore) HeldSeats(ctx context.Context, sessionID, tripID string, seats []string, legs []int) (held map[string]bool, heldByOther map[string]bool, err error) {
	held = make(map[string]bool, len(seats))
	heldByOther = make(map[string]bool, len(seats))
	if len(seats) == 0 || len(legs) == 0 {
		return held, heldByOther, nil
	}

	keys := make([]string, 0, len(seats)*len(legs))
	for _, seat := range seats {
		keys = append(keys, legKeys(tripID, seat, legs)...)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("read holds for trip %s: %w", tripID, err)
	}

	for i, value := range values {
		owner, ok := value.(string)
		if !ok {
			continue
		}
		seat := seats[i/len(legs)]
		held[seat] = true
		if !strings.HasPrefix(owner, sessionID+"|") {
			heldByOther[seat] = true
		}
	}
	return held, heldByOther, nil
}

// ReleaseSession drops the session's holds on the given seats and legs, whatever
// their references. Used after a booking sells the seats.
func (s *holdStore) ReleaseSession(ctx context.Context, sessionID, tripID string, seats []string, legs []int, references []string) error {
	keys := make([]string, 0, len(seats)*len(legs))
	for _, seat := range seats {
		keys = append(keys, legKeys(tripID, seat, legs)...)
	}

	pipe := s.rdb.TxPipeline()
	for _, key := range keys {
		value, err := s.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read hold %s: %w", key, err)
		}
		if strings.HasPrefix(value, sessionID+"|") {
			pipe.Del(ctx, key)
		}
	}
	for _, reference := range references {
		pipe.Del(ctx, holdRefKey(reference))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("release session holds on trip %s: %w", tripID, err)
	}
	return nil
}

// ReleaseTrip drops every hold on a trip and returns the affected seats.
func (s *holdStore) ReleaseTrip(ctx context.Context, tripID string) ([]string, error) {
	seen := make(map[string]bool)
	var seats []string

	iter := s.rdb.Scan(ctx, 0, fmt.Sprintf("hold:%s:*", tripID), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		value, err := s.rdb.Get(ctx, key).Result()
		if err == nil {
			if sep := strings.IndexByte(value, '|'); sep >= 0 {
				s.rdb.Del(ctx, holdRefKey(value[sep+1:]))
			}
		}
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return seats, fmt.Errorf("drop hold %s: %w", key, err)
		}

		parts := strings.Split(key, ":")
		if len(parts) == 4 && !seen[parts[2]] {
			seen[parts[2]] = true
			seats = append(seats, parts[2])
		}
	}
	if err := iter.Err(); err != nil {
		return seats, fmt.Errorf("scan holds for trip %s: %w", tripID, err)
	}
	sort.Strings(seats)
	return seats, nil
}
