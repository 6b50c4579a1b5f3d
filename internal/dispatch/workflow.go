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

// Workflow advances a claimed delivery through its post-acceptance states:
// accepted -> picked_up -> out_for_delivery -> delivered. Transitions are
// strictly sequential and callable only by the owning captain; rejections are
// validation errors, never retried.
type Workflow struct {
	orders        repository.OrderRepositoryI
	deliveries    repository.DeliveryRepositoryI
	notifications repository.NotificationRepositoryI
	bus           events.Bus

	Now func() time.Time
}

// NewWorkflow wires a workflow over the given store and event channel.
func NewWorkflow(orders repository.OrderRepositoryI, deliveries repository.DeliveryRepositoryI, notifications repository.NotificationRepositoryI, bus events.Bus) *Workflow {
	return &Workflow{
		orders:        orders,
		deliveries:    deliveries,
		notifications: notifications,
		bus:           bus,
		Now:           time.Now,
	}
}

// Advance moves the delivery to the requested status. The repository's
// conditional update re-checks status and ownership at write time, so two
// racing advances cannot both apply. Reaching delivered also completes the
// order and stamps delivery_time (inside the same store transaction).
func (w *Workflow) Advance(ctx context.Context, captain *models.Captain, deliveryID int64, to models.DeliveryStatus) (*models.Delivery, error) {
	d, err := w.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("get delivery %d: %w", deliveryID, err)
	}
	if d == nil {
		return nil, ErrDeliveryNotFound
	}
	if d.CaptainID != captain.ID {
		return nil, ErrNotOwner
	}
	if !d.Status.CanAdvanceTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, d.Status, to)
	}

	ok, err := w.deliveries.AdvanceStatus(ctx, d.ID, captain.ID, d.Status, to, w.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("advance delivery %d: %w", d.ID, err)
	}
	if !ok {
		// The row moved underneath us between read and write.
		return nil, fmt.Errorf("%w: delivery %d is no longer %s", ErrBadTransition, d.ID, d.Status)
	}

	d, err = w.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("reload delivery %d: %w", deliveryID, err)
	}

	w.publishDeliveryUpdate(ctx, d)
	if to == models.DeliveryStatusDelivered {
		w.publishOrderUpdate(ctx, d.OrderID)
	}
	w.notifyCustomer(ctx, captain, d, to)

	return d, nil
}

// notifyCustomer emits a status_update notification to the order's customer
// for every transition. Failures are logged, never fatal to the transition.
func (w *Workflow) notifyCustomer(ctx context.Context, captain *models.Captain, d *models.Delivery, to models.DeliveryStatus) {
	o, err := w.orders.GetByID(ctx, d.OrderID)
	if err != nil || o == nil {
		log.Printf("workflow: load order %d for notice: %v", d.OrderID, err)
		return
	}
	var msg string
	switch to {
	case models.DeliveryStatusPickedUp:
		msg = fmt.Sprintf("Captain %s picked up your order #%d", captain.Name, o.ID)
	case models.DeliveryStatusOutForDelivery:
		msg = fmt.Sprintf("Your order #%d is on its way", o.ID)
	case models.DeliveryStatusDelivered:
		msg = fmt.Sprintf("Your order #%d was delivered", o.ID)
	default:
		msg = fmt.Sprintf("Your order #%d is now %s", o.ID, to)
	}
	n := &models.Notification{
		UserID:    o.CustomerID,
		Type:      models.NotificationTypeStatusUpdate,
		OrderID:   o.ID,
		Message:   msg,
		CreatedAt: w.Now().UTC(),
	}
	if err := w.notifications.Create(ctx, n); err != nil {
		log.Printf("workflow: status notice for user %d: %v", o.CustomerID, err)
		return
	}
	payload, err := events.MarshalPayload(n)
	if err != nil {
		return
	}
	_ = w.bus.Publish(ctx, events.Change{Table: events.TableNotifications, Op: events.OpInsert, Key: n.ID, Payload: payload})
}

func (w *Workflow) publishDeliveryUpdate(ctx context.Context, d *models.Delivery) {
	payload, err := events.MarshalPayload(d)
	if err != nil {
		log.Printf("workflow: marshal delivery %d: %v", d.ID, err)
		return
	}
	if err := w.bus.Publish(ctx, events.Change{
		Table:   events.TableDeliveries,
		Op:      events.OpUpdate,
		Key:     strconv.FormatInt(d.ID, 10),
		Payload: payload,
	}); err != nil {
		log.Printf("workflow: publish delivery %d: %v", d.ID, err)
	}
}

func (w *Workflow) publishOrderUpdate(ctx context.Context, orderID int64) {
	o, err := w.orders.GetByID(ctx, orderID)
	if err != nil || o == nil {
		log.Printf("workflow: reload order %d for publish: %v", orderID, err)
		return
	}
	payload, err := events.MarshalPayload(o)
	if err != nil {
		return
	}
	if err := w.bus.Publish(ctx, events.Change{
		Table:   events.TableOrders,
		Op:      events.OpUpdate,
		Key:     strconv.FormatInt(o.ID, 10),
		Payload: payload,
	}); err != nil {
		log.Printf("workflow: publish order %d: %v", orderID, err)
	}
}
