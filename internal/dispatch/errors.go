package dispatch

import "errors"

// Failure classes of the offer protocol. Everything else bubbling out of the
// package is a transient store/channel error and safe to retry while the
// offer TTL has not elapsed.
var (
	// ErrOrderTaken is the lost-race rejection: another captain's claim
	// already succeeded. Expected, non-exceptional, never retried.
	ErrOrderTaken = errors.New("order no longer available")
	// ErrOfferExpired marks an offer acted on after its local TTL elapsed.
	// Treated as a decline, not surfaced as a failure.
	ErrOfferExpired = errors.New("offer expired")
	// ErrOrderNotFound rejects actions on orders that do not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDeliveryNotFound rejects workflow transitions on missing deliveries.
	ErrDeliveryNotFound = errors.New("delivery not found")
	// ErrNotOwner rejects workflow transitions by a captain that does not own
	// the delivery.
	ErrNotOwner = errors.New("delivery not owned by captain")
	// ErrBadTransition rejects workflow transitions that skip states or run
	// backwards.
	ErrBadTransition = errors.New("invalid status transition")
)

// IsValidation reports whether err is a user-facing validation rejection
// rather than a transient failure worth retrying.
func IsValidation(err error) bool {
	return errors.Is(err, ErrOrderTaken) ||
		errors.Is(err, ErrOfferExpired) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrDeliveryNotFound) ||
		errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrBadTransition)
}
