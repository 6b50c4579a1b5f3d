package models

// OrderStatus represents the current progress of an order.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusAccepted       OrderStatus = "accepted"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// orderRank maps statuses to their position in the forward lifecycle.
// Cancellation sits outside the rank order and is handled separately.
var orderRank = map[OrderStatus]int{
	OrderStatusPending:        0,
	OrderStatusAccepted:       1,
	OrderStatusPreparing:      2,
	OrderStatusReady:          3,
	OrderStatusOutForDelivery: 4,
	OrderStatusCompleted:      5,
}

// CanAdvanceTo reports whether to is the immediate next forward status.
func (s OrderStatus) CanAdvanceTo(to OrderStatus) bool {
	from, ok := orderRank[s]
	next, ok2 := orderRank[to]
	return ok && ok2 && next == from+1
}

// CanCancel reports whether an order in this status may still be cancelled.
// Cancellation is terminal from any non-completed state.
func (s OrderStatus) CanCancel() bool {
	return s != OrderStatusCompleted && s != OrderStatusCancelled
}

// Order represents a customer order placed with a home-kitchen seller.
// SellerID and CustomerID reference the users table.
type Order struct {
	ID          int64       `db:"id" json:"id"`
	SellerID    int64       `db:"seller_id" json:"seller_id"`
	CustomerID  int64       `db:"customer_id" json:"customer_id"`
	Address     string      `db:"address" json:"address"`
	PickupLat   float64     `db:"pickup_lat" json:"pickup_lat"`
	PickupLng   float64     `db:"pickup_lng" json:"pickup_lng"`
	DropoffLat  float64     `db:"dropoff_lat" json:"dropoff_lat"`
	DropoffLng  float64     `db:"dropoff_lng" json:"dropoff_lng"`
	Total       float64     `db:"total" json:"total"`
	DeliveryFee float64     `db:"delivery_fee" json:"delivery_fee"`
	Status      OrderStatus `db:"status" json:"status"`
	PlacedAt    string      `db:"placed_at" json:"placed_at"`
	// ReadyAt is set when the order first reaches status "ready" and is the
	// timestamp offer expiry is computed from. Nullable in DB; pointer to
	// distinguish null vs zero.
	ReadyAt *string `db:"ready_at" json:"ready_at,omitempty"`
}
