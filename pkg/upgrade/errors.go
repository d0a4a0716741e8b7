package upgrade

import "errors"

var (
	// ErrValidation is returned for malformed or missing request fields
	ErrValidation = errors.New("validation error")

	// ErrAuthentication is returned when a webhook signature does not match
	ErrAuthentication = errors.New("authentication failed")

	// ErrProviderUnavailable is returned when the payment provider answers non-2xx or times out
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrPaymentNotFound is returned when the provider does not know the payment id
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrUserNotFound is returned when a payment cannot be attributed to an existing account
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidPaymentType is returned for a method outside the supported set
	ErrInvalidPaymentType = errors.New("invalid payment type")

	// ErrMissingCardToken is returned when a card payment has no card token
	ErrMissingCardToken = errors.New("missing card token")

	// ErrPlanNotFound is returned for a plan id that is not in the catalog
	ErrPlanNotFound = errors.New("plan not found")

	// ErrAccountNotFound is returned by a Store when no account exists for the user
	ErrAccountNotFound = errors.New("account not found")

	// ErrVersionConflict is returned by a Store when the expected version is stale
	ErrVersionConflict = errors.New("account version conflict")

	// ErrConflictRetriesExhausted is returned when the engine keeps losing the CAS race
	ErrConflictRetriesExhausted = errors.New("account update retries exhausted")

	// ErrStorageUnavailable is returned when the backing store cannot be reached
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrPlanRequired is returned when an account's effective plan does not cover the required one
	ErrPlanRequired = errors.New("plan required")
)

// IsValidation reports whether err should be surfaced to the caller as a 400.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidPaymentType) ||
		errors.Is(err, ErrMissingCardToken) ||
		errors.Is(err, ErrPlanNotFound)
}
