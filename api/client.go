// Package api is the HTTP client for the reservation service: holds, seatmaps, fare
// quotes and booking creation.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSeatHeld means another session holds the seat on an overlapping leg.
	ErrSeatHeld = errors.New("seat is held by another session")
	// ErrSeatHeldByCaller means this session already holds the seat for the same legs.
	ErrSeatHeldByCaller = errors.New("seat is already held by this session")
	// ErrSeatSold means the seat is sold on an overlapping leg.
	ErrSeatSold     = errors.New("seat is sold")
	ErrHoldNotFound = errors.New("hold not found")
)

// StatusError is returned for any non-success response that has no sentinel mapping.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("reservation API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("reservation API returned status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the reservation service at baseURL. sessionID
// identifies the agent session as a hold owner.
func NewClient(baseURL, sessionID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sessionID:  sessionID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SessionID() string { return c.sessionID }

func (c *Client) CreateHold(ctx context.Context, req HoldRequest) (Hold, error) {
	var hold Hold
	err := c.do(ctx, http.MethodPost, "/holds", nil, req, nil, &hold)
	return hold, err
}

func (c *Client) ReleaseHold(ctx context.Context, holderReference string) error {
	return c.do(ctx, http.MethodDelete, "/holds/"+url.PathEscape(holderReference), nil, nil, nil, nil)
}

func (c *Client) GetSeatmap(ctx context.Context, tripID string, originSequence, destinationSequence int) (Seatmap, error) {
	query := url.Values{}
	query.Set("origin", strconv.Itoa(originSequence))
	query.Set("destination", strconv.Itoa(destinationSequence))

	var seatmap Seatmap
	err := c.do(ctx, http.MethodGet, "/trips/"+url.PathEscape(tripID)+"/seatmap", query, nil, nil, &seatmap)
	return seatmap, err
}

func (c *Client) QuoteFare(ctx context.Context, tripID string, originSequence, destinationSequence, seatCount int) (FareQuote, error) {
	query := url.Values{}
	query.Set("origin", strconv.Itoa(originSequence))
	query.Set("destination", strconv.Itoa(destinationSequence))
	query.Set("seats", strconv.Itoa(seatCount))

	var quote FareQuote
	err := c.do(ctx, http.MethodGet, "/trips/"+url.PathEscape(tripID)+"/fare", query, nil, nil, &quote)
	return quote, err
}

// CreateBooking submits a booking. Retrying with the same idempotencyKey returns
// the booking created by the first successful attempt.
func (c *Client) CreateBooking(ctx context.Context, req BookingRequest, idempotencyKey string) (BookingResult, error) {
	headers := http.Header{}
	headers.Set(HeaderIdempotencyKey, idempotencyKey)

	var result BookingResult
	err := c.do(ctx, http.MethodPost, "/bookings", nil, req, headers, &result)
	return result, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, headers http.Header, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sessionID != "" {
		req.Header.Set(HeaderSessionID, c.sessionID)
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call reservation API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil {
		body.Error = strings.TrimSpace(string(raw))
	}

	switch body.Code {
	case CodeSeatHeldByCaller:
		return ErrSeatHeldByCaller
	case CodeSeatHeld:
		return fmt.Errorf("%w: %s", ErrSeatHeld, body.Error)
	case CodeSeatSold:
		return fmt.Errorf("%w: %s", ErrSeatSold, body.Error)
	case CodeHoldNotFound:
		return ErrHoldNotFound
	}
	if resp.StatusCode == http.StatusNotFound && body.Code == "" && resp.Request != nil &&
		resp.Request.Method == http.MethodDelete && strings.Contains(resp.Request.URL.Path, "/holds/") {
		return ErrHoldNotFound
	}

	return &StatusError{StatusCode: resp.StatusCode, Code: body.Code, Message: body.Error}
}
