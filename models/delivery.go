package models

// DeliveryStatus represents the progress of a claimed delivery.
type DeliveryStatus string

const (
	DeliveryStatusAccepted       DeliveryStatus = "accepted"
	DeliveryStatusPickedUp       DeliveryStatus = "picked_up"
	DeliveryStatusOutForDelivery DeliveryStatus = "out_for_delivery"
	DeliveryStatusDelivered      DeliveryStatus = "delivered"
)

// deliveryNext maps each status to the only status it may advance to.
var deliveryNext = map[DeliveryStatus]DeliveryStatus{
	DeliveryStatusAccepted:       DeliveryStatusPickedUp,
	DeliveryStatusPickedUp:       DeliveryStatusOutForDelivery,
	DeliveryStatusOutForDelivery: DeliveryStatusDelivered,
}

// Next returns the immediate next status in the workflow, or "" if terminal.
func (s DeliveryStatus) Next() DeliveryStatus {
	return deliveryNext[s]
}

// CanAdvanceTo reports whether to is the immediate next workflow status.
// Skipping states is never allowed.
func (s DeliveryStatus) CanAdvanceTo(to DeliveryStatus) bool {
	next, ok := deliveryNext[s]
	return ok && next == to
}

// Delivery represents a claimed delivery with a one-to-one relation to Order.
// A row is created at the moment a captain's claim succeeds; the unique index
// on order_id backs the at-most-one-claim invariant at the schema level.
type Delivery struct {
	ID          int64          `db:"id" json:"id"`
	OrderID     int64          `db:"order_id" json:"order_id"`
	CaptainID   int64          `db:"captain_id" json:"captain_id"`
	Status      DeliveryStatus `db:"status" json:"status"`
	DeliveryFee float64        `db:"delivery_fee" json:"delivery_fee"`
	// PickupTime and DeliveryTime are stamped on the picked_up and delivered
	// transitions respectively. Nullable in DB.
	PickupTime   *string `db:"pickup_time" json:"pickup_time,omitempty"`
	DeliveryTime *string `db:"delivery_time" json:"delivery_time,omitempty"`
	// CaptainRating is set by the customer after delivery (out of protocol scope
	// beyond storage). Nullable in DB.
	CaptainRating *float64 `db:"captain_rating" json:"captain_rating,omitempty"`
}
