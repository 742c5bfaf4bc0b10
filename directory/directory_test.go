package directory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"communitychat/database"
	"communitychat/models"
)

type presenceSet map[int64]bool

func (p presenceSet) IsUserOnline(id int64) bool { return p[id] }

func newStore(t *testing.T) *database.Store {
	t.Helper()
	s, err := database.Open(context.Background(), database.DriverSQLite,
		"file:"+filepath.Join(t.TempDir(), "dir.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *database.Store, users ...models.User) {
	t.Helper()
	for i := range users {
		if err := s.UpsertUser(context.Background(), &users[i]); err != nil {
			t.Fatal(err)
		}
	}
}

func TestListPartners(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seed(t, s,
		models.User{ID: 1, DisplayName: "Front desk", Role: models.RoleAdmin},
		models.User{ID: 10, DisplayName: "Apt 4B", Role: models.RoleResident},
	)

	for _, m := range []struct {
		from, to int64
	}{{10, 1}, {10, 1}, {1, 77}} {
		if _, err := s.Append(ctx, m.from, m.to, "x"); err != nil {
			t.Fatal(err)
		}
	}

	d := New(s, s, 0)
	d.SetPresence(presenceSet{10: true})

	partners, err := d.ListPartners(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(partners) != 2 {
		t.Fatalf("got %d partners: %+v", len(partners), partners)
	}

	byID := map[int64]models.ChatPartner{}
	for _, p := range partners {
		if _, dup := byID[p.ID]; dup {
			t.Fatalf("duplicate partner %d", p.ID)
		}
		byID[p.ID] = p
	}

	if p := byID[10]; p.UnreadCount != 2 || p.DisplayName != "Apt 4B" || !p.Online {
		t.Fatalf("partner 10 = %+v", p)
	}
	// 77 is not in the user directory; it must still be listed.
	if p := byID[77]; p.DisplayName != models.FallbackName(77) || p.UnreadCount != 0 || p.Online {
		t.Fatalf("partner 77 = %+v", p)
	}

	again, err := d.ListPartners(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := range partners {
		if again[i] != partners[i] {
			t.Fatalf("listing is not stable: %+v vs %+v", again, partners)
		}
	}
}

func TestListPartnersReflectsMarkRead(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d := New(s, s, 0)

	if _, err := s.Append(ctx, 10, 1, "Hello"); err != nil {
		t.Fatal(err)
	}
	partners, err := d.ListPartners(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(partners) != 1 || partners[0].UnreadCount != 1 {
		t.Fatalf("before mark read: %+v", partners)
	}

	if _, err := s.MarkRead(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}
	partners, err = d.ListPartners(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if partners[0].UnreadCount != 0 {
		t.Fatalf("after mark read: %+v", partners)
	}
}

func TestDefaultAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("lowest admin id", func(t *testing.T) {
		s := newStore(t)
		seed(t, s,
			models.User{ID: 5, DisplayName: "Night shift", Role: models.RoleAdmin},
			models.User{ID: 2, DisplayName: "Manager", Role: models.RoleAdmin},
			models.User{ID: 1, DisplayName: "Resident", Role: models.RoleResident},
		)
		got, err := New(s, s, 0).DefaultAdmin(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != 2 || got.DisplayName != "Manager" || got.Role != models.RoleAdmin {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("configured admin", func(t *testing.T) {
		s := newStore(t)
		seed(t, s,
			models.User{ID: 2, DisplayName: "Manager", Role: models.RoleAdmin},
			models.User{ID: 7, DisplayName: "Concierge", Role: models.RoleAdmin},
		)
		d := New(s, s, 7)
		d.SetPresence(presenceSet{7: true})
		got, err := d.DefaultAdmin(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != 7 || !got.Online {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("configured admin missing from directory", func(t *testing.T) {
		s := newStore(t)
		got, err := New(s, s, 1).DefaultAdmin(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != 1 || got.Role != models.RoleAdmin {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("no admin", func(t *testing.T) {
		s := newStore(t)
		if _, err := New(s, s, 0).DefaultAdmin(ctx); !errors.Is(err, ErrNoAdmin) {
			t.Fatalf("got %v", err)
		}
	})
}

func TestRole(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s,
		models.User{ID: 10, DisplayName: "Apt 4B"},
		models.User{ID: 5, DisplayName: "Caretaker", Role: models.RoleAdmin},
	)
	d := New(s, s, 3)

	tests := []struct {
		id    int64
		role  models.Role
		known bool
	}{
		{10, models.RoleResident, true},
		{5, models.RoleAdmin, true},
		{3, models.RoleAdmin, true}, // pinned admin without a row
		{4, "", false},
		{0, "", false},
		{-1, "", false},
	}
	for _, tt := range tests {
		role, known, err := d.Role(ctx, tt.id)
		if err != nil {
			t.Fatal(err)
		}
		if role != tt.role || known != tt.known {
			t.Errorf("Role(%d) = %q, %v, want %q, %v", tt.id, role, known, tt.role, tt.known)
		}
	}
}
