package booking

import (
	"fmt"
	"strings"
)

// canProceed is the gate for leaving step.
func (s State) canProceed(step Step) bool {
	switch step {
	case StepOutlet:
		return s.Outlet != nil
	case StepTrip:
		return s.Trip != nil
	case StepRoute:
		return s.OriginStop != nil && s.DestinationStop != nil
	case StepSeats:
		return len(s.SelectedSeats) > 0
	case StepPassengers:
		if len(s.Passengers) != len(s.SelectedSeats) {
			return false
		}
		for _, p := range s.Passengers {
			if strings.TrimSpace(p.FullName) == "" {
				return false
			}
		}
		return true
	case StepPayment:
		return s.Payment != nil
	}
	return false
}

// validate collects every violation instead of stopping at the first.
func (s State) validate() *ValidationError {
	var violations []string
	add := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	if s.Trip == nil || s.Trip.ID == "" {
		add("trip not selected")
	}
	if s.OriginStop == nil {
		add("origin stop not selected")
	}
	if s.DestinationStop == nil {
		add("destination stop not selected")
	}
	if s.OriginSequence == nil {
		add("origin sequence missing")
	}
	if s.DestinationSequence == nil {
		add("destination sequence missing")
	}
	if s.OriginSequence != nil && s.DestinationSequence != nil && *s.OriginSequence >= *s.DestinationSequence {
		add("origin sequence %d must be before destination sequence %d", *s.OriginSequence, *s.DestinationSequence)
	}

	if len(s.SelectedSeats) == 0 {
		add("no seats selected")
	}
	seen := make(map[string]bool, len(s.SelectedSeats))
	for i, seat := range s.SelectedSeats {
		trimmed := strings.TrimSpace(seat)
		if trimmed == "" {
			add("seat %d is blank", i+1)
			continue
		}
		if seen[trimmed] {
			add("seat %s selected more than once", trimmed)
		}
		seen[trimmed] = true
	}

	if len(s.Passengers) != len(s.SelectedSeats) {
		add("passenger count mismatch: %d passengers for %d seats", len(s.Passengers), len(s.SelectedSeats))
	}
	for i, p := range s.Passengers {
		if strings.TrimSpace(p.FullName) == "" {
			add("passenger %d has no name", i+1)
		}
	}

	if s.Payment == nil {
		add("payment not provided")
	} else if !s.Payment.Method.Valid() {
		add("payment method %q is not supported", s.Payment.Method)
	}

	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}
