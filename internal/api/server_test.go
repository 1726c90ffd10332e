package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/phxd-project/phxd/internal/config"
	"github.com/phxd-project/phxd/internal/db"
	"github.com/phxd-project/phxd/internal/events"
	"github.com/phxd-project/phxd/internal/metrics"
	"github.com/phxd-project/phxd/internal/server"
)

type testAPI struct {
	*Server
	store db.Store
	bus   *events.EventBus
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Files.Root = dir
	cfg.API.RateLimitRPS = 0

	store, err := db.Open(filepath.Join(dir, "phxd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Setup(server.DefaultAccounts()...); err != nil {
		t.Fatalf("setup store: %v", err)
	}
	bus := events.NewEventBus()
	m := metrics.New()
	hl := server.New(cfg, server.Options{Store: store, Bus: bus, Metrics: m})
	t.Cleanup(func() {
		bus.Stop()
		store.Close()
	})

	s := NewServer(cfg, Options{
		Hotline: hl,
		Store:   store,
		Bus:     bus,
		Metrics: m,
		Version: "test",
	})
	return &testAPI{Server: s, store: store, bus: bus}
}

func (ta *testAPI) do(method, path, login, password string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if login != "" {
		req.SetBasicAuth(login, password)
	}
	w := httptest.NewRecorder()
	ta.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestPublicRoutes(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodGet, "/api/public/ping", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ping status = %d", w.Code)
	}
	if got := decode(t, w)["version"]; got != "test" {
		t.Errorf("version = %v", got)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}

	w = ta.do(http.MethodGet, "/api/public/server_info", "", "", nil)
	info := decode(t, w)
	if info["name"] != "phxd" || info["users"] != float64(0) {
		t.Errorf("server info = %v", info)
	}
}

func TestAuth(t *testing.T) {
	ta := newTestAPI(t)

	tests := []struct {
		name     string
		login    string
		password string
		want     int
	}{
		{"no credentials", "", "", http.StatusUnauthorized},
		{"unknown login", "nobody", "x", http.StatusUnauthorized},
		{"wrong password", "admin", "wrong", http.StatusUnauthorized},
		{"missing privilege", "guest", "", http.StatusForbidden},
		{"admin", "admin", "adminpass", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ta.do(http.MethodGet, "/api/configure/accounts", tt.login, tt.password, nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestMonitorRoutes(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodGet, "/api/monitor/users", "guest", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("users status = %d", w.Code)
	}
	if got := decode(t, w)["total"]; got != float64(0) {
		t.Errorf("total users = %v", got)
	}

	w = ta.do(http.MethodGet, "/api/monitor/transfers", "guest", "", nil)
	if got := decode(t, w)["transfers"]; got == nil {
		t.Error("transfers should be an empty list, not null")
	}
}

func TestControlRoutes(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodPost, "/api/control/broadcast", "admin", "adminpass", map[string]string{"message": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("broadcast status = %d", w.Code)
	}
	w = ta.do(http.MethodPost, "/api/control/broadcast", "admin", "adminpass", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty broadcast status = %d", w.Code)
	}

	w = ta.do(http.MethodPost, "/api/control/kick/42", "admin", "adminpass", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("kick of missing user status = %d", w.Code)
	}
	w = ta.do(http.MethodPost, "/api/control/kick/abc", "admin", "adminpass", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("kick of bad uid status = %d", w.Code)
	}
	w = ta.do(http.MethodPost, "/api/control/broadcast", "guest", "", map[string]string{"message": "x"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("guest broadcast status = %d", w.Code)
	}
}

func TestAccountRoutes(t *testing.T) {
	ta := newTestAPI(t)
	privs := server.Privs(server.PermReadChat)

	w := ta.do(http.MethodPost, "/api/configure/accounts", "admin", "adminpass", map[string]any{
		"login": "dave", "password": "secret", "name": "Dave", "privs": privs,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), db.HashPassword("secret")) {
		t.Fatal("password digest leaked in response")
	}

	w = ta.do(http.MethodPost, "/api/configure/accounts", "admin", "adminpass", map[string]any{
		"login": "dave", "name": "David",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d", w.Code)
	}
	acct, err := ta.store.LoadAccount("dave")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Name != "David" || !acct.CheckPassword("secret") || acct.Privs != privs {
		t.Fatalf("account after update = %+v", acct)
	}

	w = ta.do(http.MethodGet, "/api/configure/accounts", "admin", "adminpass", nil)
	if got := decode(t, w)["total"]; got != float64(3) {
		t.Errorf("total accounts = %v", got)
	}

	w = ta.do(http.MethodDelete, "/api/configure/accounts/dave", "admin", "adminpass", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = ta.do(http.MethodDelete, "/api/configure/accounts/dave", "admin", "adminpass", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", w.Code)
	}
	w = ta.do(http.MethodDelete, "/api/configure/accounts/admin", "admin", "adminpass", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("self delete status = %d", w.Code)
	}
}

func TestBanRoutes(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(http.MethodPost, "/api/configure/bans", "admin", "adminpass", map[string]string{
		"address": "10.0.0.9", "reason": "spam", "duration": "1h",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("ban status = %d: %s", w.Code, w.Body.String())
	}
	if reason, banned, _ := ta.store.CheckBanlist("10.0.0.9"); !banned || reason != "spam" {
		t.Fatalf("banlist = %q, %v", reason, banned)
	}

	w = ta.do(http.MethodPost, "/api/configure/bans", "admin", "adminpass", map[string]string{
		"address": "10.0.0.9", "duration": "soon",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad duration status = %d", w.Code)
	}

	w = ta.do(http.MethodGet, "/api/configure/bans", "admin", "adminpass", nil)
	if got := decode(t, w)["total"]; got != float64(1) {
		t.Errorf("total bans = %v", got)
	}

	w = ta.do(http.MethodDelete, "/api/configure/bans/10.0.0.9", "admin", "adminpass", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unban status = %d", w.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	ta := newTestAPI(t)
	w := ta.do(http.MethodGet, "/metrics", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
}

func TestNotFound(t *testing.T) {
	ta := newTestAPI(t)
	w := ta.do(http.MethodGet, "/api/nothing", "", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	if !rl.allow("1.2.3.4", now) || !rl.allow("1.2.3.4", now) {
		t.Fatal("burst rejected")
	}
	if rl.allow("1.2.3.4", now) {
		t.Fatal("request beyond burst allowed")
	}
	if !rl.allow("5.6.7.8", now) {
		t.Fatal("other client limited")
	}
	if !rl.allow("1.2.3.4", now.Add(time.Second)) {
		t.Fatal("bucket did not refill")
	}
}

func TestEventStream(t *testing.T) {
	ta := newTestAPI(t)
	srv := httptest.NewServer(ta.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/monitor/events?types=chat.broadcast"
	header := http.Header{}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.SetBasicAuth("admin", "adminpass")
	header.Set("Authorization", req.Header.Get("Authorization"))

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered after the upgrade; publish until the
	// first event arrives.
	got := make(chan events.Event, 1)
	go func() {
		var e events.Event
		if err := conn.ReadJSON(&e); err == nil {
			got <- e
		}
	}()
	deadline := time.After(3 * time.Second)
	for {
		ta.bus.Publish(events.EventUserLogin, "test", nil)
		ta.bus.Publish(events.EventBroadcast, "test", "hello")
		select {
		case e := <-got:
			if e.Type != events.EventBroadcast {
				t.Fatalf("event type = %s, want only chat.broadcast", e.Type)
			}
			return
		case <-deadline:
			t.Fatal("no event received")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
