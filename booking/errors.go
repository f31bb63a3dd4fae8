package booking

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFlowComplete         = errors.New("booking flow is complete; restart to book again")
	ErrSubmissionInProgress = errors.New("a booking submission is already in progress")
	ErrInvalidRoute         = errors.New("origin must come before destination")
	ErrDuplicateSeat        = errors.New("seat is already selected")
	ErrBlankSeat            = errors.New("seat number is blank")
	ErrUnknownPayment       = errors.New("payment method is not supported")
	// ErrFlowReset comes back together with the created booking when the flow was
	// reset or switched outlet while the submission was in flight.
	ErrFlowReset            = errors.New("booking flow was reset during submission")
)

// StepBlockedError is returned when a step's requirements are not met.
type StepBlockedError struct {
	Step Step
}

func (e *StepBlockedError) Error() string {
	return fmt.Sprintf("step %s is not complete", e.Step)
}

// StepJumpError is returned for direct jumps past the current step.
type StepJumpError struct {
	From, To Step
}

func (e *StepJumpError) Error() string {
	return fmt.Sprintf("cannot jump from %s to %s", e.From, e.To)
}

// ValidationError lists every problem found in a booking before submission.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "booking is invalid: " + strings.Join(e.Violations, "; ")
}

type PaymentShortfallError struct {
	Amount   int64
	Total    int64
	Currency string
}

func (e *PaymentShortfallError) Error() string {
	return fmt.Sprintf("payment of %d is below the total of %d %s", e.Amount, e.Total, e.Currency)
}

// SubmissionError wraps a booking endpoint failure after validation passed. Seats
// stay held so the agent can retry.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("booking submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
