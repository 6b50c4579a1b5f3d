package dispatch

import (
	"context"
	"testing"
	"time"

	"captainDispatch/internal/db"
	"captainDispatch/internal/events"
	"captainDispatch/models"
	"captainDispatch/repository"
)

// env bundles a live in-memory store, the in-process event channel and the
// three dispatch components over them, with a frozen clock.
type env struct {
	users         *repository.UserRepository
	orders        *repository.OrderRepository
	captains      *repository.CaptainRepository
	deliveries    *repository.DeliveryRepository
	notifications *repository.NotificationRepository
	bus           *events.MemoryBus

	broadcaster *Broadcaster
	resolver    *Resolver
	workflow    *Workflow

	now time.Time

	seller   *models.User
	customer *models.User
}

func newEnv(t *testing.T, name string) *env {
	t.Helper()
	d, err := db.Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	e := &env{
		users:         repository.NewUserRepository(d),
		orders:        repository.NewOrderRepository(d),
		captains:      repository.NewCaptainRepository(d),
		deliveries:    repository.NewDeliveryRepository(d),
		notifications: repository.NewNotificationRepository(d),
		bus:           events.NewMemoryBus(),
		now:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return e.now }

	e.broadcaster = NewBroadcaster(e.orders, e.captains, e.notifications, e.bus, 3*time.Minute)
	e.broadcaster.Now = clock
	e.resolver = NewResolver(e.orders, e.deliveries, e.notifications, e.bus, 2*time.Minute)
	e.resolver.Now = clock
	e.workflow = NewWorkflow(e.orders, e.deliveries, e.notifications, e.bus)
	e.workflow.Now = clock

	ctx := context.Background()
	e.seller, err = e.users.Create(ctx, "seller", models.RoleSeller)
	if err != nil {
		t.Fatalf("create seller: %v", err)
	}
	e.customer, err = e.users.Create(ctx, "customer", models.RoleCustomer)
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return e
}

func (e *env) newCaptain(t *testing.T, name string, lat, lng float64) *models.Captain {
	t.Helper()
	ctx := context.Background()
	u, err := e.users.Create(ctx, name, models.RoleCaptain)
	if err != nil {
		t.Fatalf("create captain user: %v", err)
	}
	c, err := e.captains.Create(ctx, &models.Captain{UserID: u.ID, Name: name, Available: true, Lat: lat, Lng: lng})
	if err != nil {
		t.Fatalf("create captain: %v", err)
	}
	return c
}

// newReadyOrder creates an order and walks it to ready, stamping ready_at at
// the env clock.
func (e *env) newReadyOrder(t *testing.T) *models.Order {
	t.Helper()
	ctx := context.Background()
	o, err := e.orders.Create(ctx, &models.Order{SellerID: e.seller.ID, CustomerID: e.customer.ID, PickupLat: 31.95, PickupLng: 35.93, DeliveryFee: 3})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	for _, step := range [][2]models.OrderStatus{
		{models.OrderStatusPending, models.OrderStatusAccepted},
		{models.OrderStatusAccepted, models.OrderStatusPreparing},
	} {
		if ok, err := e.orders.AdvanceStatus(ctx, o.ID, step[0], step[1]); err != nil || !ok {
			t.Fatalf("advance %s -> %s: ok=%v err=%v", step[0], step[1], ok, err)
		}
	}
	if ok, err := e.orders.MarkReady(ctx, o.ID, e.now); err != nil || !ok {
		t.Fatalf("mark ready: ok=%v err=%v", ok, err)
	}
	o2, err := e.orders.GetByID(ctx, o.ID)
	if err != nil || o2 == nil {
		t.Fatalf("reload ready order: %+v err=%v", o2, err)
	}
	return o2
}

// offerFor fabricates the offer notification a broadcast would have produced
// for this captain and order.
func (e *env) offerFor(t *testing.T, c *models.Captain, o *models.Order) *models.Notification {
	t.Helper()
	createdAt := e.now
	if o.ReadyAt != nil {
		ts, err := models.ParseTime(*o.ReadyAt)
		if err != nil {
			t.Fatalf("parse ready_at: %v", err)
		}
		createdAt = ts
	}
	n := &models.Notification{
		UserID:    c.UserID,
		Type:      models.NotificationTypeDeliveryOffer,
		OrderID:   o.ID,
		Message:   "offer",
		CreatedAt: createdAt,
	}
	if err := e.notifications.Create(context.Background(), n); err != nil {
		t.Fatalf("create offer notification: %v", err)
	}
	return n
}

// collect subscribes to a table and records every matching change.
func (e *env) collect(table string) *[]events.Change {
	var got []events.Change
	e.bus.Subscribe(table, nil, func(c events.Change) {
		got = append(got, c)
	})
	return &got
}
