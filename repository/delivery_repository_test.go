package repository

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"captainDispatch/internal/db"
	"captainDispatch/models"
)

func seedCaptain(t *testing.T, users *UserRepository, captains *CaptainRepository, name string) *models.Captain {
	t.Helper()
	ctx := context.Background()
	u, err := users.Create(ctx, name, models.RoleCaptain)
	if err != nil {
		t.Fatalf("create captain user: %v", err)
	}
	c, err := captains.Create(ctx, &models.Captain{UserID: u.ID, Name: name, Available: true})
	if err != nil {
		t.Fatalf("create captain: %v", err)
	}
	return c
}

func TestDeliveryRepository_TryClaim_ExactlyOneWinner(t *testing.T) {
	d, err := db.Open("file:claimrepo?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	users := NewUserRepository(d)
	orders := NewOrderRepository(d)
	captains := NewCaptainRepository(d)
	deliveries := NewDeliveryRepository(d)
	ctx := context.Background()

	seller, customer := seedUsers(t, users)
	c1 := seedCaptain(t, users, captains, "cap1")
	c2 := seedCaptain(t, users, captains, "cap2")

	o, err := orders.Create(ctx, &models.Order{SellerID: seller.ID, CustomerID: customer.ID, DeliveryFee: 4.5})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := d.Exec(`UPDATE orders SET status = ?, ready_at = ? WHERE id = ?`,
		string(models.OrderStatusReady), models.FormatTime(time.Now().UTC()), o.ID); err != nil {
		t.Fatalf("seed ready order: %v", err)
	}

	dv, claimed, err := deliveries.TryClaim(ctx, o.ID, c1.ID)
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	if dv.OrderID != o.ID || dv.CaptainID != c1.ID || dv.Status != models.DeliveryStatusAccepted {
		t.Fatalf("unexpected delivery: %+v", dv)
	}
	if dv.DeliveryFee != 4.5 {
		t.Fatalf("delivery fee not copied from order: %+v", dv)
	}

	// Second captain loses: claimed=false, no error.
	dv2, claimed2, err := deliveries.TryClaim(ctx, o.ID, c2.ID)
	if err != nil {
		t.Fatalf("losing claim errored: %v", err)
	}
	if claimed2 || dv2 != nil {
		t.Fatalf("second claim must lose: claimed=%v delivery=%+v", claimed2, dv2)
	}

	// The order left ready exactly once.
	o2, _ := orders.GetByID(ctx, o.ID)
	if o2.Status != models.OrderStatusOutForDelivery {
		t.Fatalf("order status after claim: %s", o2.Status)
	}
}

func TestDeliveryRepository_TryClaim_Concurrent(t *testing.T) {
	d, err := db.Open("file:claimrace?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	users := NewUserRepository(d)
	orders := NewOrderRepository(d)
	captains := NewCaptainRepository(d)
	deliveries := NewDeliveryRepository(d)
	ctx := context.Background()

	seller, customer := seedUsers(t, users)
	var caps []*models.Captain
	for _, name := range []string{"r1", "r2", "r3", "r4", "r5"} {
		caps = append(caps, seedCaptain(t, users, captains, name))
	}

	o, err := orders.Create(ctx, &models.Order{SellerID: seller.ID, CustomerID: customer.ID})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := d.Exec(`UPDATE orders SET status = ?, ready_at = ? WHERE id = ?`,
		string(models.OrderStatusReady), models.FormatTime(time.Now().UTC()), o.ID); err != nil {
		t.Fatalf("seed ready order: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for _, c := range caps {
		wg.Add(1)
		go func(captainID int64) {
			defer wg.Done()
			// Shared-cache sqlite can report a transient table lock; retry
			// until the claim resolves to a definitive win or loss.
			for i := 0; i < 100; i++ {
				_, claimed, err := deliveries.TryClaim(ctx, o.ID, captainID)
				if err != nil {
					if strings.Contains(err.Error(), "locked") {
						time.Sleep(5 * time.Millisecond)
						continue
					}
					t.Errorf("claim captain %d: %v", captainID, err)
					return
				}
				if claimed {
					mu.Lock()
					winners++
					mu.Unlock()
				}
				return
			}
			t.Errorf("claim captain %d never resolved", captainID)
		}(c.ID)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	var count int
	if err := d.QueryRow(`SELECT COUNT(*) FROM deliveries WHERE order_id = ?`, o.ID).Scan(&count); err != nil {
		t.Fatalf("count deliveries: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one delivery row, got %d", count)
	}
}

func TestDeliveryRepository_AdvanceStatus_SequenceAndOwnership(t *testing.T) {
	d, err := db.Open("file:advrepo?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	users := NewUserRepository(d)
	orders := NewOrderRepository(d)
	captains := NewCaptainRepository(d)
	deliveries := NewDeliveryRepository(d)
	ctx := context.Background()

	seller, customer := seedUsers(t, users)
	owner := seedCaptain(t, users, captains, "owner")
	other := seedCaptain(t, users, captains, "other")

	o, err := orders.Create(ctx, &models.Order{SellerID: seller.ID, CustomerID: customer.ID})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := d.Exec(`UPDATE orders SET status = ?, ready_at = ? WHERE id = ?`,
		string(models.OrderStatusReady), models.FormatTime(time.Now().UTC()), o.ID); err != nil {
		t.Fatalf("seed ready order: %v", err)
	}
	dv, claimed, err := deliveries.TryClaim(ctx, o.ID, owner.ID)
	if err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Skipping a state is rejected before touching the store.
	if _, err := deliveries.AdvanceStatus(ctx, dv.ID, owner.ID, models.DeliveryStatusAccepted, models.DeliveryStatusDelivered, at); err == nil {
		t.Fatalf("skipping states must be rejected")
	}
	// A non-owner affects zero rows.
	if ok, err := deliveries.AdvanceStatus(ctx, dv.ID, other.ID, models.DeliveryStatusAccepted, models.DeliveryStatusPickedUp, at); err != nil || ok {
		t.Fatalf("non-owner advance: ok=%v err=%v", ok, err)
	}

	if ok, err := deliveries.AdvanceStatus(ctx, dv.ID, owner.ID, models.DeliveryStatusAccepted, models.DeliveryStatusPickedUp, at); err != nil || !ok {
		t.Fatalf("accepted -> picked_up: ok=%v err=%v", ok, err)
	}
	dv2, _ := deliveries.GetByID(ctx, dv.ID)
	if dv2.Status != models.DeliveryStatusPickedUp || dv2.PickupTime == nil || *dv2.PickupTime != models.FormatTime(at) {
		t.Fatalf("pickup not stamped: %+v", dv2)
	}

	// Replaying the consumed transition affects zero rows.
	if ok, _ := deliveries.AdvanceStatus(ctx, dv.ID, owner.ID, models.DeliveryStatusAccepted, models.DeliveryStatusPickedUp, at); ok {
		t.Fatalf("replayed transition must not apply")
	}

	if ok, err := deliveries.AdvanceStatus(ctx, dv.ID, owner.ID, models.DeliveryStatusPickedUp, models.DeliveryStatusOutForDelivery, at); err != nil || !ok {
		t.Fatalf("picked_up -> out_for_delivery: ok=%v err=%v", ok, err)
	}
	end := at.Add(20 * time.Minute)
	if ok, err := deliveries.AdvanceStatus(ctx, dv.ID, owner.ID, models.DeliveryStatusOutForDelivery, models.DeliveryStatusDelivered, end); err != nil || !ok {
		t.Fatalf("out_for_delivery -> delivered: ok=%v err=%v", ok, err)
	}
	dv3, _ := deliveries.GetByID(ctx, dv.ID)
	if dv3.Status != models.DeliveryStatusDelivered || dv3.DeliveryTime == nil || *dv3.DeliveryTime != models.FormatTime(end) {
		t.Fatalf("delivery not stamped: %+v", dv3)
	}

	// Delivered completes the order in the same transaction.
	o2, _ := orders.GetByID(ctx, o.ID)
	if o2.Status != models.OrderStatusCompleted {
		t.Fatalf("order status after delivered: %s", o2.Status)
	}

	// Active lookup sees nothing once delivered.
	if active, _ := deliveries.GetActiveForCaptain(ctx, owner.ID); active != nil {
		t.Fatalf("delivered delivery still active: %+v", active)
	}
	if byOrder, _ := deliveries.GetByOrderID(ctx, o.ID); byOrder == nil || byOrder.ID != dv.ID {
		t.Fatalf("GetByOrderID mismatch: %+v", byOrder)
	}
}
