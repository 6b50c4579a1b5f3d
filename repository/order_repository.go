package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"captainDispatch/models"
)

// OrderRepository is the core repository for Order entities.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, seller_id, customer_id, address, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, total, delivery_fee, status, placed_at, ready_at`

// Create inserts a new order. Status defaults to 'pending' if empty.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) (*models.Order, error) {
	if o == nil {
		return nil, errors.New("order is nil")
	}
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// INSERT and then query back to capture placed_at
	res, err := r.db.ExecContext(ctx, `INSERT INTO orders (seller_id, customer_id, address, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, total, delivery_fee, status) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		o.SellerID, o.CustomerID, o.Address, o.PickupLat, o.PickupLng, o.DropoffLat, o.DropoffLng, o.Total, o.DeliveryFee, string(o.Status))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	o2, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o2 == nil {
		return nil, fmt.Errorf("created order not found: id=%d", id)
	}
	return o2, nil
}

// GetByID fetches an order by its ID.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

// AdvanceStatus conditionally moves an order from one status to another.
// The WHERE clause on the current status makes this safe under concurrent
// writers: zero rows affected means the order was no longer in `from`.
func (r *OrderRepository) AdvanceStatus(ctx context.Context, id int64, from, to models.OrderStatus) (bool, error) {
	if !from.CanAdvanceTo(to) {
		return false, fmt.Errorf("order status %s cannot advance to %s", from, to)
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkReady moves an order from preparing to ready and stamps ready_at, which
// anchors every offer TTL computed for this order.
func (r *OrderRepository) MarkReady(ctx context.Context, id int64, readyAt time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET status = ?, ready_at = ? WHERE id = ? AND status = ?`,
		string(models.OrderStatusReady), models.FormatTime(readyAt), id, string(models.OrderStatusPreparing))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListReady returns orders still in 'ready' whose ready_at is newer than
// since. Availability is a read-time filter: no stored expiry state exists,
// so an order silently drops out of this list once ready_at ages past the
// availability window.
func (r *OrderRepository) ListReady(ctx context.Context, since time.Time) ([]models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE status = ? AND ready_at IS NOT NULL AND ready_at > ?
ORDER BY ready_at ASC, id ASC`, string(models.OrderStatusReady), models.FormatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// Cancel marks an order cancelled. Cancellation is terminal from any
// non-completed state; completed and already-cancelled orders are left alone.
func (r *OrderRepository) Cancel(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ? AND status NOT IN (?, ?)`,
		string(models.OrderStatusCancelled), id, string(models.OrderStatusCompleted), string(models.OrderStatusCancelled))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var status string
	var readyAt sql.NullString
	if err := row.Scan(&o.ID, &o.SellerID, &o.CustomerID, &o.Address, &o.PickupLat, &o.PickupLng, &o.DropoffLat, &o.DropoffLng, &o.Total, &o.DeliveryFee, &status, &o.PlacedAt, &readyAt); err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	if readyAt.Valid {
		v := readyAt.String
		o.ReadyAt = &v
	}
	return &o, nil
}

func scanOrderRows(rows *sql.Rows) ([]models.Order, error) {
	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
