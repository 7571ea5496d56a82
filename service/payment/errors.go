package payment

import "errors"

var (
	// ErrNotFound is returned for unknown request ids.
	ErrNotFound = errors.New("payment request not found")

	// ErrPaymentRequired is returned when an export is attempted without a
	// paid, unused request matching the wallet, export type and date range.
	ErrPaymentRequired = errors.New("payment required")

	// ErrNotPending is returned by stores when a transition is attempted on a
	// request that already left the pending state.
	ErrNotPending = errors.New("payment request is not pending")

	// ErrSignatureClaimed is returned by stores when a transaction signature
	// already settled another request.
	ErrSignatureClaimed = errors.New("transaction signature already settled a request")

	// ErrAlreadyConsumed is returned by stores when a paid request has already
	// unlocked its export.
	ErrAlreadyConsumed = errors.New("payment request was already used for an export")

	// ErrInvalidRequest is returned for malformed create parameters.
	ErrInvalidRequest = errors.New("invalid payment request")
)
