package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"captainDispatch/models"
)

// DeliveryRepository owns the Delivery table and the two conditional-update
// primitives the offer protocol depends on. Neither primitive ever does a
// plain read-then-write: exclusivity comes from the status condition inside
// the UPDATE itself.
type DeliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository creates a new DeliveryRepository.
func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

const deliveryColumns = `id, order_id, captain_id, status, delivery_fee, pickup_time, delivery_time, captain_rating`

// TryClaim attempts to claim a ready order for a captain. In one transaction
// it conditionally advances the order ready -> out_for_delivery and inserts
// the delivery row. The conditional UPDATE is the exclusivity gate: of any
// number of concurrent callers, only the one that still observes
// status='ready' affects a row; everyone else gets claimed=false. The unique
// index on deliveries.order_id backs the same invariant at the schema level.
func (r *DeliveryRepository) TryClaim(ctx context.Context, orderID, captainID int64) (*models.Delivery, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ? AND status = ?`,
		string(models.OrderStatusOutForDelivery), orderID, string(models.OrderStatusReady))
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		// Someone else already claimed it (or the order left 'ready' some other
		// way). Not an error: the caller lost the race.
		return nil, false, nil
	}

	ins, err := tx.ExecContext(ctx, `
INSERT INTO deliveries (order_id, captain_id, status, delivery_fee)
SELECT id, ?, ?, delivery_fee FROM orders WHERE id = ?`,
		captainID, string(models.DeliveryStatusAccepted), orderID)
	if err != nil {
		return nil, false, err
	}
	deliveryID, err := ins.LastInsertId()
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	d, err := r.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, false, err
	}
	if d == nil {
		return nil, false, fmt.Errorf("claimed delivery not found: id=%d", deliveryID)
	}
	return d, true, nil
}

// AdvanceStatus conditionally advances a delivery owned by captainID from one
// workflow status to the adjacent next one, stamping pickup_time or
// delivery_time where the transition calls for it. Reaching 'delivered' also
// completes the order in the same transaction. Zero rows affected means the
// delivery was not in `from` or not owned by the captain.
func (r *DeliveryRepository) AdvanceStatus(ctx context.Context, deliveryID, captainID int64, from, to models.DeliveryStatus, at time.Time) (bool, error) {
	if !from.CanAdvanceTo(to) {
		return false, fmt.Errorf("delivery status %s cannot advance to %s", from, to)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var res sql.Result
	switch to {
	case models.DeliveryStatusPickedUp:
		res, err = tx.ExecContext(ctx, `UPDATE deliveries SET status = ?, pickup_time = ? WHERE id = ? AND captain_id = ? AND status = ?`,
			string(to), models.FormatTime(at), deliveryID, captainID, string(from))
	case models.DeliveryStatusDelivered:
		res, err = tx.ExecContext(ctx, `UPDATE deliveries SET status = ?, delivery_time = ? WHERE id = ? AND captain_id = ? AND status = ?`,
			string(to), models.FormatTime(at), deliveryID, captainID, string(from))
	default:
		res, err = tx.ExecContext(ctx, `UPDATE deliveries SET status = ? WHERE id = ? AND captain_id = ? AND status = ?`,
			string(to), deliveryID, captainID, string(from))
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if to == models.DeliveryStatusDelivered {
		if _, err := tx.ExecContext(ctx, `
UPDATE orders SET status = ?
WHERE id = (SELECT order_id FROM deliveries WHERE id = ?) AND status = ?`,
			string(models.OrderStatusCompleted), deliveryID, string(models.OrderStatusOutForDelivery)); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetByID fetches a delivery by its ID.
func (r *DeliveryRepository) GetByID(ctx context.Context, id int64) (*models.Delivery, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id)
	return scanDelivery(row)
}

// GetByOrderID fetches the delivery for an order, if one has been claimed.
func (r *DeliveryRepository) GetByOrderID(ctx context.Context, orderID int64) (*models.Delivery, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE order_id = ?`, orderID)
	return scanDelivery(row)
}

// GetActiveForCaptain returns the captain's delivery still in flight, if any.
func (r *DeliveryRepository) GetActiveForCaptain(ctx context.Context, captainID int64) (*models.Delivery, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `
SELECT `+deliveryColumns+`
FROM deliveries
WHERE captain_id = ? AND status != ?
ORDER BY id DESC LIMIT 1`, captainID, string(models.DeliveryStatusDelivered))
	return scanDelivery(row)
}

func scanDelivery(row rowScanner) (*models.Delivery, error) {
	var d models.Delivery
	var status string
	var pickupTime, deliveryTime sql.NullString
	var rating sql.NullFloat64
	if err := row.Scan(&d.ID, &d.OrderID, &d.CaptainID, &status, &d.DeliveryFee, &pickupTime, &deliveryTime, &rating); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.Status = models.DeliveryStatus(status)
	if pickupTime.Valid {
		v := pickupTime.String
		d.PickupTime = &v
	}
	if deliveryTime.Valid {
		v := deliveryTime.String
		d.DeliveryTime = &v
	}
	if rating.Valid {
		v := rating.Float64
		d.CaptainRating = &v
	}
	return &d, nil
}
