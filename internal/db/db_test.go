package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetupSeedsAccounts(t *testing.T) {
	s := openTestStore(t)
	if s.IsConfigured() {
		t.Fatal("empty store reports configured")
	}

	admin := Account{Login: "admin", Password: HashPassword("adminpass"), Name: "Administrator", Privs: ^uint64(0)}
	if err := s.Setup(admin); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	// Seeding again must not fail or duplicate.
	if err := s.Setup(admin); err != nil {
		t.Fatalf("second Setup: %v", err)
	}
	if !s.IsConfigured() {
		t.Fatal("store not configured after Setup")
	}

	got, err := s.LoadAccount("admin")
	if err != nil {
		t.Fatalf("LoadAccount: %v", err)
	}
	if got.Privs != ^uint64(0) {
		t.Errorf("privs = %x, want all bits", got.Privs)
	}
	if !got.CheckPassword("adminpass") || got.CheckPassword("wrong") {
		t.Error("password check mismatch")
	}
	list, _ := s.ListAccounts()
	if len(list) != 1 {
		t.Errorf("accounts = %d, want 1", len(list))
	}
}

func TestAccountLifecycle(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.LoadAccount("nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadAccount missing: err = %v", err)
	}

	a := &Account{Login: "bob", Password: HashPassword("pw"), Name: "Bob", Privs: 1 << 63}
	if err := s.SaveAccount(a); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	if a.ID == 0 {
		t.Fatal("ID not assigned")
	}
	dup := &Account{Login: "bob", Password: "x"}
	if err := s.SaveAccount(dup); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate insert: err = %v", err)
	}

	a.Name = "Robert"
	a.LastLogin = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SaveAccount(a); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.LoadAccount("bob")
	if err != nil {
		t.Fatalf("LoadAccount: %v", err)
	}
	if got.Name != "Robert" || !got.HasPriv(1<<63) || got.HasPriv(1) {
		t.Errorf("loaded %+v", got)
	}
	if !got.LastLogin.Equal(a.LastLogin) {
		t.Errorf("last login = %v, want %v", got.LastLogin, a.LastLogin)
	}

	if err := s.DeleteAccount("bob"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if err := s.DeleteAccount("bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: err = %v", err)
	}
}

func TestNewsPaging(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bodies := []string{"first", "second post", "third", "fourth post"}
	for i, body := range bodies {
		p := &NewsPost{Nick: "nick", Login: "guest", Body: body, Date: base.Add(time.Duration(i) * time.Hour)}
		if err := s.SaveNewsPost(p); err != nil {
			t.Fatalf("SaveNewsPost: %v", err)
		}
	}

	tests := []struct {
		name          string
		limit, offset int
		search        string
		want          []string
		total         int
	}{
		{"all", 0, 0, "", []string{"fourth post", "third", "second post", "first"}, 4},
		{"limit", 2, 0, "", []string{"fourth post", "third"}, 4},
		{"offset", 2, 1, "", []string{"third", "second post"}, 4},
		{"offset only", 0, 3, "", []string{"first"}, 4},
		{"search", 0, 0, "post", []string{"fourth post", "second post"}, 2},
		{"no match", 10, 0, "zzz", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts, total, err := s.LoadNewsPosts(tt.limit, tt.offset, tt.search)
			if err != nil {
				t.Fatalf("LoadNewsPosts: %v", err)
			}
			if total != tt.total {
				t.Errorf("total = %d, want %d", total, tt.total)
			}
			if len(posts) != len(tt.want) {
				t.Fatalf("got %d posts, want %d", len(posts), len(tt.want))
			}
			for i, p := range posts {
				if p.Body != tt.want[i] {
					t.Errorf("post %d = %q, want %q", i, p.Body, tt.want[i])
				}
			}
		})
	}
}

func TestBanlist(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	if _, banned, err := s.CheckBanlist("10.0.0.1"); err != nil || banned {
		t.Fatalf("unbanned address: banned=%v err=%v", banned, err)
	}

	if err := s.AddBan(Ban{Address: "10.0.0.1", Reason: "flood"}); err != nil {
		t.Fatalf("AddBan: %v", err)
	}
	if err := s.AddBan(Ban{Address: "10.0.0.2", Reason: "temp", Expires: now.Add(time.Hour)}); err != nil {
		t.Fatalf("AddBan: %v", err)
	}
	if err := s.AddBan(Ban{Address: "10.0.0.3", Reason: "old", Created: now.Add(-2 * time.Hour), Expires: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("AddBan: %v", err)
	}

	checks := []struct {
		addr   string
		banned bool
		reason string
	}{
		{"10.0.0.1", true, "flood"},
		{"10.0.0.2", true, "temp"},
		{"10.0.0.3", false, ""},
	}
	for _, c := range checks {
		reason, banned, err := s.CheckBanlist(c.addr)
		if err != nil {
			t.Fatalf("CheckBanlist(%s): %v", c.addr, err)
		}
		if banned != c.banned || reason != c.reason {
			t.Errorf("CheckBanlist(%s) = %q, %v; want %q, %v", c.addr, reason, banned, c.reason, c.banned)
		}
	}

	n, err := s.PruneBans(now)
	if err != nil {
		t.Fatalf("PruneBans: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	bans, _ := s.ListBans()
	if len(bans) != 2 {
		t.Errorf("bans left = %d, want 2", len(bans))
	}

	if err := s.RemoveBan("10.0.0.1"); err != nil {
		t.Fatalf("RemoveBan: %v", err)
	}
	if err := s.RemoveBan("10.0.0.1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second RemoveBan: err = %v", err)
	}
}

func TestMigrateRecordsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, err := s.db.Version(); err != nil || v != len(schema) {
		t.Fatalf("Version = %d, %v; want %d", v, err, len(schema))
	}
	if err := s.SaveAccount(&Account{Login: "kept", Password: HashPassword("")}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Reopening applies nothing and keeps the data.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.LoadAccount("kept"); err != nil {
		t.Fatalf("account lost on reopen: %v", err)
	}
}

func TestMigrateFailureRollsBack(t *testing.T) {
	d, err := NewDatabase(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	steps := []string{"CREATE TABLE a (x INTEGER)", "CREATE TABLE broken ("}
	if err := d.Migrate(steps); err == nil {
		t.Fatal("expected the broken step to fail")
	}
	if v, _ := d.Version(); v != 1 {
		t.Fatalf("Version = %d, want 1", v)
	}
}
