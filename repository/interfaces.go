package repository

import (
	"context"
	"time"

	"captainDispatch/models"
)

// UserRepositoryI defines operations on User entities.
type UserRepositoryI interface {
	Create(ctx context.Context, username, role string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// OrderRepositoryI defines operations on Order entities.
type OrderRepositoryI interface {
	Create(ctx context.Context, o *models.Order) (*models.Order, error)
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	// AdvanceStatus conditionally moves an order from one status to the next.
	// Returns false when the order is not currently in the expected status.
	AdvanceStatus(ctx context.Context, id int64, from, to models.OrderStatus) (bool, error)
	// MarkReady moves preparing -> ready and stamps ready_at.
	MarkReady(ctx context.Context, id int64, readyAt time.Time) (bool, error)
	// ListReady returns ready orders whose ready_at is newer than since.
	ListReady(ctx context.Context, since time.Time) ([]models.Order, error)
	Cancel(ctx context.Context, id int64) (bool, error)
}

// DeliveryRepositoryI defines operations on Delivery entities, including the
// conditional-update primitives the offer protocol's exclusivity rests on.
type DeliveryRepositoryI interface {
	// TryClaim atomically claims a ready order for a captain. Exactly one
	// concurrent caller per order observes claimed=true.
	TryClaim(ctx context.Context, orderID, captainID int64) (*models.Delivery, bool, error)
	// AdvanceStatus conditionally advances a delivery owned by captainID from
	// one status to the adjacent next one. Returns false when the row is not in
	// the expected status or not owned by the captain.
	AdvanceStatus(ctx context.Context, deliveryID, captainID int64, from, to models.DeliveryStatus, at time.Time) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.Delivery, error)
	GetByOrderID(ctx context.Context, orderID int64) (*models.Delivery, error)
	GetActiveForCaptain(ctx context.Context, captainID int64) (*models.Delivery, error)
}

// CaptainRepositoryI defines operations on Captain entities.
type CaptainRepositoryI interface {
	Create(ctx context.Context, c *models.Captain) (*models.Captain, error)
	GetByID(ctx context.Context, id int64) (*models.Captain, error)
	GetByName(ctx context.Context, name string) (*models.Captain, error)
	SetAvailable(ctx context.Context, id int64, available bool) error
	UpdateLocation(ctx context.Context, id int64, lat, lng float64) error
	// ListEligible returns available captains with no active delivery.
	ListEligible(ctx context.Context) ([]models.Captain, error)
}

// NotificationRepositoryI defines operations on Notification rows.
type NotificationRepositoryI interface {
	Create(ctx context.Context, n *models.Notification) error
	// MarkRead is idempotent: marking an already-read row is a no-op.
	MarkRead(ctx context.Context, id string) error
	MarkReadForOrder(ctx context.Context, userID, orderID int64) error
	ListUnreadForUser(ctx context.Context, userID int64) ([]models.Notification, error)
	GetByID(ctx context.Context, id string) (*models.Notification, error)
}
