package models

// Captain represents a delivery captain.
// Available marks a captain as online and willing to take offers; eligibility
// for a broadcast additionally requires no active delivery in flight.
type Captain struct {
	ID        int64   `db:"id" json:"id"`
	UserID    int64   `db:"user_id" json:"user_id"`
	Name      string  `db:"name" json:"name"`
	Phone     string  `db:"phone" json:"phone"`
	Available bool    `db:"available" json:"available"`
	Lat       float64 `db:"lat" json:"lat"`
	Lng       float64 `db:"lng" json:"lng"`
}
