package dispatch

import (
	"context"
	"errors"
	"testing"

	"captainDispatch/internal/events"
	"captainDispatch/models"
)

func claimedDelivery(t *testing.T, e *env, c *models.Captain) (*models.Order, *models.Delivery) {
	t.Helper()
	ctx := context.Background()
	o := e.newReadyOrder(t)
	n := e.offerFor(t, c, o)
	d, err := e.resolver.Accept(ctx, c, n)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return o, d
}

func TestWorkflow_Advance_FullSequence(t *testing.T) {
	e := newEnv(t, "wfseq")
	ctx := context.Background()
	c := e.newCaptain(t, "wf-cap", 0, 0)
	o, d := claimedDelivery(t, e, c)

	deliveryChanges := e.collect(events.TableDeliveries)
	orderChanges := e.collect(events.TableOrders)

	d, err := e.workflow.Advance(ctx, c, d.ID, models.DeliveryStatusPickedUp)
	if err != nil {
		t.Fatalf("advance picked_up: %v", err)
	}
	if d.Status != models.DeliveryStatusPickedUp || d.PickupTime == nil {
		t.Fatalf("after picked_up: %+v", d)
	}

	d, err = e.workflow.Advance(ctx, c, d.ID, models.DeliveryStatusOutForDelivery)
	if err != nil {
		t.Fatalf("advance out_for_delivery: %v", err)
	}

	d, err = e.workflow.Advance(ctx, c, d.ID, models.DeliveryStatusDelivered)
	if err != nil {
		t.Fatalf("advance delivered: %v", err)
	}
	if d.Status != models.DeliveryStatusDelivered || d.DeliveryTime == nil {
		t.Fatalf("after delivered: %+v", d)
	}

	// Delivered completes the order.
	o2, _ := e.orders.GetByID(ctx, o.ID)
	if o2.Status != models.OrderStatusCompleted {
		t.Fatalf("order after delivered: %s", o2.Status)
	}

	// One delivery update per transition; one order update on delivered.
	if len(*deliveryChanges) != 3 {
		t.Fatalf("delivery changes = %d, want 3", len(*deliveryChanges))
	}
	if len(*orderChanges) != 1 {
		t.Fatalf("order changes = %d, want 1", len(*orderChanges))
	}

	// The customer heard about every step.
	got, _ := e.notifications.ListUnreadForUser(ctx, e.customer.ID)
	var updates int
	for _, n := range got {
		if n.Type == models.NotificationTypeStatusUpdate && n.OrderID == o.ID {
			updates++
		}
	}
	if updates < 3 {
		t.Fatalf("customer status updates = %d, want >= 3", updates)
	}
}

func TestWorkflow_Advance_Rejections(t *testing.T) {
	e := newEnv(t, "wfreject")
	ctx := context.Background()
	owner := e.newCaptain(t, "wf-owner", 0, 0)
	stranger := e.newCaptain(t, "wf-stranger", 0, 0)
	_, d := claimedDelivery(t, e, owner)

	if _, err := e.workflow.Advance(ctx, owner, 9999, models.DeliveryStatusPickedUp); !errors.Is(err, ErrDeliveryNotFound) {
		t.Fatalf("missing delivery err = %v", err)
	}
	if _, err := e.workflow.Advance(ctx, stranger, d.ID, models.DeliveryStatusPickedUp); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("stranger err = %v", err)
	}
	// Skipping a state.
	if _, err := e.workflow.Advance(ctx, owner, d.ID, models.DeliveryStatusDelivered); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("skip err = %v", err)
	}
	// Running backwards.
	if _, err := e.workflow.Advance(ctx, owner, d.ID, models.DeliveryStatusAccepted); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("backward err = %v", err)
	}
	// Replaying a consumed transition.
	if _, err := e.workflow.Advance(ctx, owner, d.ID, models.DeliveryStatusPickedUp); err != nil {
		t.Fatalf("advance picked_up: %v", err)
	}
	if _, err := e.workflow.Advance(ctx, owner, d.ID, models.DeliveryStatusPickedUp); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("replay err = %v", err)
	}

	// Every rejection is validation, not transient.
	for _, err := range []error{ErrDeliveryNotFound, ErrNotOwner, ErrBadTransition} {
		if !IsValidation(err) {
			t.Fatalf("%v not classed as validation", err)
		}
	}
}
