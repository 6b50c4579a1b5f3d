package repository

import (
	"context"
	"testing"

	"captainDispatch/internal/db"
	"captainDispatch/models"
)

func TestUserRepository_Create_GetByUsername(t *testing.T) {
	d, err := db.Open("file:userrepo?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	users := NewUserRepository(d)
	ctx := context.Background()

	u, err := users.Create(ctx, "amal", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 || u.Role != models.RoleCustomer {
		t.Fatalf("unexpected user: %+v", u)
	}

	capUser, err := users.Create(ctx, "Cap One", "CAPTAIN")
	if err != nil {
		t.Fatalf("create captain user: %v", err)
	}
	if capUser.Role != models.RoleCaptain {
		t.Fatalf("role not normalized: %+v", capUser)
	}

	if _, err := users.Create(ctx, "  ", ""); err == nil {
		t.Fatalf("blank username must be rejected")
	}
	if _, err := users.Create(ctx, "amal", ""); err == nil {
		t.Fatalf("duplicate username must be rejected")
	}

	got, err := users.GetByUsername(ctx, "amal")
	if err != nil || got == nil || got.ID != u.ID {
		t.Fatalf("get by username: %+v err=%v", got, err)
	}
	if missing, err := users.GetByUsername(ctx, "ghost"); err != nil || missing != nil {
		t.Fatalf("missing user should be nil,nil: %+v err=%v", missing, err)
	}
}
