package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"captainDispatch/models"
)

// NotificationRepository is the repository for Notification rows. Offer rows
// are per-captain and uncontended, so plain writes are fine here; the
// protocol's atomicity lives in DeliveryRepository.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, user_id, type, order_id, message, created_at, is_read`

// Create inserts a notification row. A uuid ID is generated if empty and
// CreatedAt defaults to now.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n == nil {
		return errors.New("notification is nil")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `INSERT INTO notifications (id, user_id, type, order_id, message, created_at, is_read) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.UserID, string(n.Type), n.OrderID, n.Message, models.FormatTime(n.CreatedAt), n.IsRead)
	return err
}

// MarkRead marks a notification dismissed for its user. Idempotent: marking
// an already-read or missing row is a no-op.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	return err
}

// MarkReadForOrder dismisses every unread notification a user holds for an
// order. Used to retract an offer from one captain's view.
func (r *NotificationRepository) MarkReadForOrder(ctx context.Context, userID, orderID int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE user_id = ? AND order_id = ? AND is_read = 0`, userID, orderID)
	return err
}

// ListUnreadForUser returns a user's pending notifications, oldest first.
func (r *NotificationRepository) ListUnreadForUser(ctx context.Context, userID int64) ([]models.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE user_id = ? AND is_read = 0 ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID fetches a notification by its uuid.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return n, nil
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	var typ, createdAt string
	if err := row.Scan(&n.ID, &n.UserID, &typ, &n.OrderID, &n.Message, &createdAt, &n.IsRead); err != nil {
		return nil, err
	}
	n.Type = models.NotificationType(typ)
	t, err := models.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	n.CreatedAt = t
	return &n, nil
}
