package domain

import "errors"

// Domain errors
var (
	// Reservation errors
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrReservationExpired    = errors.New("reservation has expired")
	ErrAlreadyPaid           = errors.New("reservation already paid")
	ErrDuplicateRegistration = errors.New("a paid registration already exists for this identity")
	ErrSpotUnavailable       = errors.New("no spots available")
	ErrWaitingList           = errors.New("event is on waiting list")
	ErrStaleCache            = errors.New("cached reservation belongs to another event")

	// Process errors
	ErrProcessInFlight  = errors.New("reservation process already running")
	ErrNotRetriable     = errors.New("reservation process cannot be retried")
	ErrNothingToResume  = errors.New("no reservation ready for checkout")
	ErrCheckoutNotFound = errors.New("checkout not found")
	ErrCheckoutClosed   = errors.New("checkout already finished")

	// Payment errors
	ErrPaymentBlocked             = errors.New("a payment was just submitted, wait before trying again")
	ErrCardCooldown               = errors.New("card payments are paused after a failure")
	ErrInstallmentNotFound        = errors.New("installment option not found")
	ErrInvalidAmount              = errors.New("charge amount must be positive")
	ErrUnrecognizedChargeResponse = errors.New("unrecognized payment response")

	// Validation errors
	ErrInvalidEventID          = errors.New("invalid event id")
	ErrInvalidUserType         = errors.New("invalid user type")
	ErrInvalidReprocessRequest = errors.New("invalid reprocess request")
)

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrDuplicateRegistration) ||
		errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrProcessInFlight)
}

// IsExpiredError checks if the error is an expiration error
func IsExpiredError(err error) bool {
	return errors.Is(err, ErrReservationExpired) ||
		errors.Is(err, ErrReservationNotFound)
}

// IsThrottleError checks if the error comes from the anti-abuse guards
func IsThrottleError(err error) bool {
	return errors.Is(err, ErrPaymentBlocked) ||
		errors.Is(err, ErrCardCooldown)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidEventID) ||
		errors.Is(err, ErrInvalidUserType) ||
		errors.Is(err, ErrInvalidReprocessRequest) ||
		errors.Is(err, ErrInstallmentNotFound) ||
		errors.Is(err, ErrInvalidAmount)
}
