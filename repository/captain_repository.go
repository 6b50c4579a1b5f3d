package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"captainDispatch/models"
)

// CaptainRepository is the repository for Captain entities.
type CaptainRepository struct {
	db *sql.DB
}

// NewCaptainRepository creates a new CaptainRepository.
func NewCaptainRepository(db *sql.DB) *CaptainRepository {
	return &CaptainRepository{db: db}
}

const captainColumns = `id, user_id, name, phone, available, lat, lng`

// Create inserts a new captain.
func (r *CaptainRepository) Create(ctx context.Context, c *models.Captain) (*models.Captain, error) {
	if c == nil {
		return nil, errors.New("captain is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `INSERT INTO captains (user_id, name, phone, available, lat, lng) VALUES (?,?,?,?,?,?)`,
		c.UserID, c.Name, c.Phone, c.Available, c.Lat, c.Lng)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// GetByID fetches a captain by ID.
func (r *CaptainRepository) GetByID(ctx context.Context, id int64) (*models.Captain, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+captainColumns+` FROM captains WHERE id = ?`, id)
	return scanCaptain(row)
}

// GetByName fetches a captain by name.
func (r *CaptainRepository) GetByName(ctx context.Context, name string) (*models.Captain, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+captainColumns+` FROM captains WHERE name = ?`, name)
	return scanCaptain(row)
}

// SetAvailable toggles a captain's availability for offers.
func (r *CaptainRepository) SetAvailable(ctx context.Context, id int64, available bool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE captains SET available = ? WHERE id = ?`, available, id)
	return err
}

// UpdateLocation updates a captain's last reported position.
func (r *CaptainRepository) UpdateLocation(ctx context.Context, id int64, lat, lng float64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE captains SET lat = ?, lng = ? WHERE id = ?`, lat, lng, id)
	return err
}

// ListEligible returns captains that may receive a delivery offer: marked
// available and not currently carrying an undelivered delivery. The LEFT JOIN
// exclusion keeps this a single query.
func (r *CaptainRepository) ListEligible(ctx context.Context) ([]models.Captain, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
SELECT c.id, c.user_id, c.name, c.phone, c.available, c.lat, c.lng
FROM captains c
LEFT JOIN deliveries d ON d.captain_id = c.id AND d.status != ?
WHERE c.available = 1 AND d.id IS NULL
ORDER BY c.id ASC`, string(models.DeliveryStatusDelivered))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Captain
	for rows.Next() {
		var c models.Captain
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &c.Available, &c.Lat, &c.Lng); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanCaptain(row rowScanner) (*models.Captain, error) {
	var c models.Captain
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &c.Available, &c.Lat, &c.Lng); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
