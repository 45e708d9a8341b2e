package domain

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusReversed  Status = "REVERSED"
)

// allowedTransitions lists the legal status changes. Staying in the same
// status is always allowed and not listed.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusPending:   true,
		StatusCancelled: true,
		StatusReversed:  true,
	},
	StatusCancelled: {
		StatusPending: true,
	},
	StatusReversed: {},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	return allowedTransitions[s][next]
}

// ValidateTransition returns ErrInvalidStatusTransition for illegal moves.
func ValidateTransition(from, to Status) error {
	if !to.IsValid() {
		return ErrInvalidStatus
	}
	if !from.CanTransitionTo(to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return "invalid status transition from " + string(e.From) + " to " + string(e.To)
}

// Unwrap lets errors.Is match ErrInvalidStatusTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidStatusTransition
}
