package models

import "time"

// NotificationType distinguishes offer fan-out rows from plain status updates.
type NotificationType string

const (
	// NotificationTypeDeliveryOffer is a time-boxed delivery offer to a captain.
	NotificationTypeDeliveryOffer NotificationType = "delivery_offer"
	// NotificationTypeStatusUpdate informs a customer or seller of a
	// delivery/order status change.
	NotificationTypeStatusUpdate NotificationType = "status_update"
)

// Notification is a per-user message row. For delivery offers the row IS the
// offer: CreatedAt plus a fixed TTL defines its implicit expiry, and IsRead
// marks per-captain dismissal (accept, decline, or expiry).
type Notification struct {
	ID        string           `db:"id" json:"id"` // uuid
	UserID    int64            `db:"user_id" json:"user_id"`
	Type      NotificationType `db:"type" json:"type"`
	OrderID   int64            `db:"order_id" json:"order_id"`
	Message   string           `db:"message" json:"message"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	IsRead    bool             `db:"is_read" json:"is_read"`
}

// ExpiresAt returns the implicit expiry of an offer notification for the
// given TTL.
func (n *Notification) ExpiresAt(ttl time.Duration) time.Time {
	return n.CreatedAt.Add(ttl)
}
