package dispatch

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"captainDispatch/internal/events"
	"captainDispatch/internal/geo"
	"captainDispatch/models"
	"captainDispatch/repository"
)

// Broadcaster turns an order's transition to "ready" into one delivery-offer
// notification per eligible captain, and serves the read-time-filtered list
// of available orders. It never mutates Order or Delivery rows.
type Broadcaster struct {
	orders        repository.OrderRepositoryI
	captains      repository.CaptainRepositoryI
	notifications repository.NotificationRepositoryI
	bus           events.Bus

	// AvailabilityTTL bounds how long a ready order stays listed; distinct
	// from the dialog TTL by observation (180s vs 120s).
	AvailabilityTTL time.Duration
	Now             func() time.Time

	sub *events.Subscription
}

// NewBroadcaster wires a broadcaster over the given store and event channel.
func NewBroadcaster(orders repository.OrderRepositoryI, captains repository.CaptainRepositoryI, notifications repository.NotificationRepositoryI, bus events.Bus, availabilityTTL time.Duration) *Broadcaster {
	if availabilityTTL <= 0 {
		availabilityTTL = 3 * time.Minute
	}
	return &Broadcaster{
		orders:          orders,
		captains:        captains,
		notifications:   notifications,
		bus:             bus,
		AvailabilityTTL: availabilityTTL,
		Now:             time.Now,
	}
}

// Start subscribes to order updates and fans out offers whenever an order
// reaches "ready".
func (b *Broadcaster) Start() {
	b.sub = b.bus.Subscribe(events.TableOrders, func(c events.Change) bool {
		if c.Op != events.OpUpdate {
			return false
		}
		var o models.Order
		if err := c.Decode(&o); err != nil {
			return false
		}
		return o.Status == models.OrderStatusReady
	}, func(c events.Change) {
		var o models.Order
		if err := c.Decode(&o); err != nil {
			log.Printf("broadcast: decode ready order: %v", err)
			return
		}
		if _, err := b.BroadcastReady(context.Background(), &o); err != nil {
			// No retry queue: the still-ready order is picked up by the next
			// AvailableOrders refresh.
			log.Printf("broadcast: order %d skipped: %v", o.ID, err)
		}
	})
}

// Stop removes the order subscription.
func (b *Broadcaster) Stop() {
	if b.sub != nil {
		b.bus.Unsubscribe(b.sub)
		b.sub = nil
	}
}

// BroadcastReady creates one delivery-offer notification per eligible captain
// for a ready order, nearest captains first. The notification's created_at is
// the order's ready_at so every client computes the same expiry. Returns the
// number of captains notified.
func (b *Broadcaster) BroadcastReady(ctx context.Context, o *models.Order) (int, error) {
	if o == nil || o.Status != models.OrderStatusReady {
		return 0, fmt.Errorf("order is not ready for broadcast")
	}
	createdAt := b.Now().UTC()
	if o.ReadyAt != nil {
		if t, err := models.ParseTime(*o.ReadyAt); err == nil {
			createdAt = t
		}
	}

	eligible, err := b.captains.ListEligible(ctx)
	if err != nil {
		return 0, fmt.Errorf("list eligible captains: %w", err)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		di := geo.HaversineMiles(eligible[i].Lat, eligible[i].Lng, o.PickupLat, o.PickupLng)
		dj := geo.HaversineMiles(eligible[j].Lat, eligible[j].Lng, o.PickupLat, o.PickupLng)
		return di < dj
	})

	notified := 0
	for i := range eligible {
		c := &eligible[i]
		n := &models.Notification{
			UserID:    c.UserID,
			Type:      models.NotificationTypeDeliveryOffer,
			OrderID:   o.ID,
			Message:   fmt.Sprintf("New delivery available: order #%d, fee %.2f", o.ID, o.DeliveryFee),
			CreatedAt: createdAt,
		}
		if err := b.notifications.Create(ctx, n); err != nil {
			log.Printf("broadcast: notify captain %d for order %d: %v", c.ID, o.ID, err)
			continue
		}
		notified++
		b.publishNotification(ctx, n)
	}
	return notified, nil
}

// AvailableOrders returns the orders a captain may still pick up: status
// "ready" and ready_at inside the availability window. Purely a read-time
// filter — no expiry job writes anything.
func (b *Broadcaster) AvailableOrders(ctx context.Context) ([]models.Order, error) {
	return b.orders.ListReady(ctx, b.Now().Add(-b.AvailabilityTTL))
}

func (b *Broadcaster) publishNotification(ctx context.Context, n *models.Notification) {
	payload, err := events.MarshalPayload(n)
	if err != nil {
		log.Printf("broadcast: marshal notification %s: %v", n.ID, err)
		return
	}
	if err := b.bus.Publish(ctx, events.Change{
		Table:   events.TableNotifications,
		Op:      events.OpInsert,
		Key:     n.ID,
		Payload: payload,
	}); err != nil {
		log.Printf("broadcast: publish notification %s: %v", n.ID, err)
	}
}
