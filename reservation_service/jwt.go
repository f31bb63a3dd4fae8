package main

import (
	"fmt"
	"net/http"
	"strings"

	"bus_pos/api"

	"github.com/golang-jwt/jwt/v5"
)

// TicketClaims are carried by the token printed as the receipt QR code.
type TicketClaims struct {
	BookingID string   `json:"booking_id"`
	TripID    string   `json:"trip_id"`
	Seats     []string `json:"seats"`
	jwt.RegisteredClaims
}

type ticketSigner struct {
	secret []byte
}

func (s ticketSigner) Sign(booking api.Booking) (string, error) {
	claims := TicketClaims{
		BookingID: booking.ID,
		TripID:    booking.TripID,
		Seats:     booking.Seats,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       booking.Code,
			Issuer:   "bus_pos",
			IssuedAt: jwt.NewNumericDate(booking.CreatedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s ticketSigner) Verify(tokenString string) (TicketClaims, error) {
	claims := TicketClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || token == nil || !token.Valid {
		return TicketClaims{}, fmt.Errorf("invalid ticket token: %w", err)
	}
	return claims, nil
}

// ticketTokenFromRequest reads the token from the Authorization header first and
// falls back to the token query parameter used by handheld scanners.
func ticketTokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if tokenString, ok := strings.CutPrefix(authHeader, "Bearer "); ok && tokenString != "" {
		return tokenString
	}
	return r.URL.Query().Get("token")
}
