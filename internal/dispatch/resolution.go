package dispatch

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"captainDispatch/internal/events"
	"captainDispatch/models"
	"captainDispatch/repository"
)

// Resolver performs the accept/decline transitions for delivery offers.
// Exclusivity is guaranteed solely by DeliveryRepository.TryClaim's
// conditional update — nothing here coordinates captains client-side.
type Resolver struct {
	orders        repository.OrderRepositoryI
	deliveries    repository.DeliveryRepositoryI
	notifications repository.NotificationRepositoryI
	bus           events.Bus

	// DialogTTL bounds the accept/decline dialog (120s by observation).
	DialogTTL time.Duration
	Now       func() time.Time
}

// NewResolver wires a resolver over the given store and event channel.
func NewResolver(orders repository.OrderRepositoryI, deliveries repository.DeliveryRepositoryI, notifications repository.NotificationRepositoryI, bus events.Bus, dialogTTL time.Duration) *Resolver {
	if dialogTTL <= 0 {
		dialogTTL = 2 * time.Minute
	}
	return &Resolver{
		orders:        orders,
		deliveries:    deliveries,
		notifications: notifications,
		bus:           bus,
		DialogTTL:     dialogTTL,
		Now:           time.Now,
	}
}

// Accept attempts to claim the offered order for the captain.
//
// Returns ErrOfferExpired when the offer's local TTL already elapsed (handled
// as a decline), ErrOrderTaken when another captain won the race or the order
// otherwise left "ready" (user-facing, no retry), ErrOrderNotFound for
// dangling offers, and wraps transient store errors so the captain may retry
// while TTL remains.
func (r *Resolver) Accept(ctx context.Context, captain *models.Captain, n *models.Notification) (*models.Delivery, error) {
	if r.Now().After(n.ExpiresAt(r.DialogTTL)) {
		// Stale dialog state: resolve as a decline, not a failure.
		if err := r.Decline(ctx, n); err != nil {
			log.Printf("resolve: dismiss expired offer %s: %v", n.ID, err)
		}
		return nil, ErrOfferExpired
	}

	// Re-fetch before writing so a stale UI cannot even attempt a claim on an
	// order known to be gone. The conditional update below remains the
	// authoritative gate.
	o, err := r.orders.GetByID(ctx, n.OrderID)
	if err != nil {
		return nil, fmt.Errorf("accept offer %s: %w", n.ID, err)
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	if o.Status != models.OrderStatusReady {
		r.dismiss(ctx, n)
		return nil, ErrOrderTaken
	}

	d, claimed, err := r.deliveries.TryClaim(ctx, o.ID, captain.ID)
	if err != nil {
		return nil, fmt.Errorf("claim order %d: %w", o.ID, err)
	}
	if !claimed {
		r.dismiss(ctx, n)
		return nil, ErrOrderTaken
	}

	// Consumed: retract the offer from this captain's own list. Other
	// captains' lists drop the order via the propagated order update.
	r.dismiss(ctx, n)

	r.publishOrderUpdate(ctx, o.ID)
	r.publishDeliveryInsert(ctx, d)
	r.notifyClaim(ctx, o, captain)

	return d, nil
}

// Decline dismisses the offer for this captain only: the notification is
// marked read and Order/Delivery rows are never touched, so other captains'
// view of the offer is unaffected. Idempotent — declining twice, or after
// expiry, is the same as declining once.
func (r *Resolver) Decline(ctx context.Context, n *models.Notification) error {
	if err := r.notifications.MarkRead(ctx, n.ID); err != nil {
		return fmt.Errorf("decline offer %s: %w", n.ID, err)
	}
	return nil
}

func (r *Resolver) dismiss(ctx context.Context, n *models.Notification) {
	if err := r.notifications.MarkRead(ctx, n.ID); err != nil {
		log.Printf("resolve: mark offer %s read: %v", n.ID, err)
	}
}

// notifyClaim emits the captain-assigned status updates to the order's seller
// and customer. Notification failures are logged, never fatal to the claim.
func (r *Resolver) notifyClaim(ctx context.Context, o *models.Order, captain *models.Captain) {
	msg := fmt.Sprintf("Captain %s picked up delivery for order #%d", captain.Name, o.ID)
	for _, userID := range []int64{o.SellerID, o.CustomerID} {
		n := &models.Notification{
			UserID:    userID,
			Type:      models.NotificationTypeStatusUpdate,
			OrderID:   o.ID,
			Message:   msg,
			CreatedAt: r.Now().UTC(),
		}
		if err := r.notifications.Create(ctx, n); err != nil {
			log.Printf("resolve: claim notice for user %d: %v", userID, err)
			continue
		}
		r.publishNotificationInsert(ctx, n)
	}
}

func (r *Resolver) publishOrderUpdate(ctx context.Context, orderID int64) {
	o, err := r.orders.GetByID(ctx, orderID)
	if err != nil || o == nil {
		log.Printf("resolve: reload order %d for publish: %v", orderID, err)
		return
	}
	payload, err := events.MarshalPayload(o)
	if err != nil {
		log.Printf("resolve: marshal order %d: %v", orderID, err)
		return
	}
	if err := r.bus.Publish(ctx, events.Change{
		Table:   events.TableOrders,
		Op:      events.OpUpdate,
		Key:     strconv.FormatInt(o.ID, 10),
		Payload: payload,
	}); err != nil {
		log.Printf("resolve: publish order %d: %v", orderID, err)
	}
}

func (r *Resolver) publishDeliveryInsert(ctx context.Context, d *models.Delivery) {
	payload, err := events.MarshalPayload(d)
	if err != nil {
		log.Printf("resolve: marshal delivery %d: %v", d.ID, err)
		return
	}
	if err := r.bus.Publish(ctx, events.Change{
		Table:   events.TableDeliveries,
		Op:      events.OpInsert,
		Key:     strconv.FormatInt(d.ID, 10),
		Payload: payload,
	}); err != nil {
		log.Printf("resolve: publish delivery %d: %v", d.ID, err)
	}
}

func (r *Resolver) publishNotificationInsert(ctx context.Context, n *models.Notification) {
	payload, err := events.MarshalPayload(n)
	if err != nil {
		log.Printf("resolve: marshal notification %s: %v", n.ID, err)
		return
	}
	if err := r.bus.Publish(ctx, events.Change{
		Table:   events.TableNotifications,
		Op:      events.OpInsert,
		Key:     n.ID,
		Payload: payload,
	}); err != nil {
		log.Printf("resolve: publish notification %s: %v", n.ID, err)
	}
}
