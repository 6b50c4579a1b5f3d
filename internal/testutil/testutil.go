package testutil

import (
	"database/sql"
	"net/http"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"

	"captainDispatch/internal/db"
)

// OpenInMemoryDB opens an in-memory SQLite database and applies migrations.
// Caller is responsible for closing the DB, typically via t.Cleanup.
func OpenInMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	// Shared cache so that multiple connections observe the same database,
	// which the concurrent claim tests rely on.
	d, err := db.Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// GenerateJWTHS256 returns a signed JWT string with the minimal claims the
// auth layer reads.
func GenerateJWTHS256(t *testing.T, secret, name, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"name": name,
		"role": role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// AddBearer sets the Authorization header with the given token.
func AddBearer(r *http.Request, token string) {
	r.Header.Set("Authorization", "Bearer "+token)
}
