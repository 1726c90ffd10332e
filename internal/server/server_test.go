package server

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phxd-project/phxd/internal/config"
	"github.com/phxd-project/phxd/internal/db"
	"github.com/phxd-project/phxd/internal/protocol"
)

type fakeSession struct {
	mu      sync.Mutex
	sent    []*protocol.Packet
	flushed bool
	closed  bool
}

func (f *fakeSession) Send(p *protocol.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.flushed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeSession) CloseAfterFlush() {
	f.mu.Lock()
	f.flushed = true
	f.mu.Unlock()
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// take returns and forgets everything sent so far.
func (f *fakeSession) take() []*protocol.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

func (f *fakeSession) ofKind(kind uint32) []*protocol.Packet {
	var out []*protocol.Packet
	for _, p := range f.take() {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// reply returns the single task reply sent since the last take.
func (f *fakeSession) reply(t *testing.T) *protocol.Packet {
	t.Helper()
	replies := f.ofKind(protocol.TypeTaskReply)
	if len(replies) != 1 {
		t.Fatalf("got %d task replies, want 1", len(replies))
	}
	return replies[0]
}

type testServer struct {
	*Server
	t      *testing.T
	nextID uint64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Files.Root = filepath.Join(dir, "files")
	if err := os.MkdirAll(cfg.Files.Root, 0755); err != nil {
		t.Fatal(err)
	}
	store, err := db.Open(filepath.Join(dir, "phxd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	seed := append(DefaultAccounts(), db.Account{
		Login:    "uploader",
		Password: db.HashPassword("up"),
		Name:     "Uploader",
		Privs:    Privs(PermUploadFiles, PermDownloadFiles, PermReadChat, PermSendChat),
	})
	if err := store.Setup(seed...); err != nil {
		t.Fatalf("setup store: %v", err)
	}
	s := New(cfg, Options{Store: store})
	t.Cleanup(func() {
		s.Bus().Stop()
		store.Close()
	})
	return &testServer{Server: s, t: t}
}

func (ts *testServer) connect() (uint64, *fakeSession) {
	ts.nextID++
	sess := &fakeSession{}
	ts.Server.connect(ts.nextID, "10.0.0.1", sess)
	return ts.nextID, sess
}

func loginPacket(login, password, nick string) *protocol.Packet {
	p := protocol.NewPacket(protocol.TypeLogin)
	p.Seq = 1
	p.Add(protocol.DataLogin, protocol.Obfuscate(login))
	p.Add(protocol.DataPassword, protocol.Obfuscate(password))
	p.AddString(protocol.DataNick, nick)
	p.AddNumber(protocol.DataIcon, 128)
	return p
}

// login connects a session and logs it in, discarding the login traffic.
func (ts *testServer) login(login, password, nick string) (uint64, *fakeSession, *User) {
	ts.t.Helper()
	id, sess := ts.connect()
	ts.receive(id, loginPacket(login, password, nick))
	reply := sess.reply(ts.t)
	if reply.IsError() {
		ts.t.Fatalf("login %s failed: %s", login, reply.GetString(protocol.DataError, ""))
	}
	return id, sess, ts.clients[id]
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	_, first, _ := ts.login("guest", "", "alice")

	id, sess := ts.connect()
	ts.receive(id, loginPacket("admin", "adminpass", "bob"))

	packets := sess.take()
	var reply, join *protocol.Packet
	for _, p := range packets {
		switch p.Kind {
		case protocol.TypeTaskReply:
			reply = p
		case protocol.TypeServerUserChange:
			join = p
		}
	}
	if reply == nil || reply.IsError() {
		t.Fatalf("no successful login reply in %v", packets)
	}
	if reply.Seq != 1 {
		t.Errorf("reply seq = %d, want 1", reply.Seq)
	}
	if got := reply.GetString(protocol.DataServerName, ""); got != "phxd" {
		t.Errorf("server name = %q", got)
	}
	uid := reply.GetNumber(protocol.DataUID, 0)
	if uid == 0 {
		t.Error("login reply carries no uid")
	}
	if join == nil || join.GetNumber(protocol.DataJoin, 0) != 1 {
		t.Fatal("joining user did not see its own join")
	}

	changes := first.ofKind(protocol.TypeServerUserChange)
	if len(changes) != 1 {
		t.Fatalf("existing user got %d user changes, want 1", len(changes))
	}
	if got := changes[0].GetNumber(protocol.DataUID, 0); got != uid {
		t.Errorf("user change uid = %d, want %d", got, uid)
	}
	if changes[0].GetNumber(protocol.DataStatus, 0)&protocol.StatusAdmin == 0 {
		t.Error("admin status bit not set for a user with kick privilege")
	}
	if ts.UserCount() != 2 {
		t.Errorf("UserCount = %d, want 2", ts.UserCount())
	}
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name     string
		login    string
		password string
		want     string
	}{
		{"unknown login", "nobody", "x", "Login is incorrect."},
		{"wrong password", "admin", "nope", "Password is incorrect."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			id, sess := ts.connect()
			ts.receive(id, loginPacket(tt.login, tt.password, "x"))
			reply := sess.reply(t)
			if !reply.IsError() || reply.GetString(protocol.DataError, "") != tt.want {
				t.Fatalf("reply = %v, want error %q", reply, tt.want)
			}
			if !sess.flushed {
				t.Error("fatal login error did not close the connection")
			}
			if ts.clients[id].Valid {
				t.Error("user marked valid after failed login")
			}
		})
	}
}

func TestLoginTwice(t *testing.T) {
	ts := newTestServer(t)
	id, sess, _ := ts.login("guest", "", "alice")
	ts.receive(id, loginPacket("guest", "", "alice"))
	reply := sess.reply(t)
	if reply.GetString(protocol.DataError, "") != "You are already logged in." {
		t.Fatalf("reply = %v", reply)
	}
	if sess.flushed {
		t.Error("second login closed the connection")
	}
}

func TestRequiresLogin(t *testing.T) {
	ts := newTestServer(t)
	id, sess := ts.connect()

	chat := protocol.NewPacket(protocol.TypeUserList)
	chat.Seq = 7
	ts.receive(id, chat)
	reply := sess.reply(t)
	if reply.Seq != 7 || reply.GetString(protocol.DataError, "") != "You must log in first." {
		t.Fatalf("reply = %v", reply)
	}

	ping := protocol.NewPacket(protocol.TypePing)
	ping.Seq = 8
	ts.receive(id, ping)
	if reply := sess.reply(t); reply.IsError() {
		t.Fatalf("ping before login failed: %v", reply)
	}
}

func TestUnknownPacketType(t *testing.T) {
	ts := newTestServer(t)
	id, sess, _ := ts.login("guest", "", "alice")
	p := protocol.NewPacket(9999)
	p.Seq = 3
	ts.receive(id, p)
	if got := sess.take(); len(got) != 0 {
		t.Fatalf("unknown packet produced %d packets", len(got))
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	ts := newTestServer(t)
	id, sess, _ := ts.login("guest", "", "alice")
	ts.handlers[protocol.TypeUserList] = func(*Server, *User, *protocol.Packet) error {
		panic("boom")
	}
	p := protocol.NewPacket(protocol.TypeUserList)
	p.Seq = 4
	ts.receive(id, p)
	reply := sess.reply(t)
	if reply.GetString(protocol.DataError, "") != genericError {
		t.Fatalf("reply = %v", reply)
	}
	if sess.flushed || sess.closed {
		t.Error("panic closed the connection")
	}
}

func TestPermissionDenied(t *testing.T) {
	ts := newTestServer(t)
	id, sess, _ := ts.login("guest", "", "alice")
	p := protocol.NewPacket(protocol.TypeAccountCreate)
	p.Seq = 2
	p.Add(protocol.DataLogin, protocol.Obfuscate("eve"))
	ts.receive(id, p)
	reply := sess.reply(t)
	if reply.GetString(protocol.DataError, "") != "You are not allowed to create accounts." {
		t.Fatalf("reply = %v", reply)
	}
}

func TestUserList(t *testing.T) {
	ts := newTestServer(t)
	ts.login("guest", "", "alice")
	id, sess, _ := ts.login("guest", "", "bob")

	p := protocol.NewPacket(protocol.TypeUserList)
	p.Seq = 5
	ts.receive(id, p)
	reply := sess.reply(t)
	users := reply.GetObjects(protocol.DataUser)
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
}

func TestUserInfo(t *testing.T) {
	ts := newTestServer(t)
	_, _, alice := ts.login("guest", "", "alice")
	id, sess, _ := ts.login("guest", "", "bob")

	p := protocol.NewPacket(protocol.TypeUserInfo)
	p.Seq = 6
	p.AddNumber(protocol.DataUID, uint64(alice.UID))
	ts.receive(id, p)
	reply := sess.reply(t)
	text := reply.GetString(protocol.DataString, "")
	for _, want := range []string{"nickname: alice\r", "   login: guest\r", "No file transfers.\r"} {
		if !strings.Contains(text, want) {
			t.Errorf("user info missing %q in %q", want, text)
		}
	}
}

func TestKickAndTemporaryBan(t *testing.T) {
	ts := newTestServer(t)
	_, victim, guest := ts.login("guest", "", "alice")
	adminID, adminSess, _ := ts.login("admin", "adminpass", "root")

	p := protocol.NewPacket(protocol.TypeKick)
	p.Seq = 9
	p.AddNumber(protocol.DataUID, uint64(guest.UID))
	p.AddNumber(protocol.DataBan, 1)
	ts.receive(adminID, p)
	if reply := adminSess.reply(t); reply.IsError() {
		t.Fatalf("kick failed: %v", reply)
	}
	if !victim.closed {
		t.Fatal("kicked user not disconnected")
	}

	id, sess := ts.connect()
	ts.receive(id, loginPacket("guest", "", "alice"))
	reply := sess.reply(t)
	if got := reply.GetString(protocol.DataError, ""); got != "You are banned: Temporary ban." {
		t.Fatalf("login after ban = %q", got)
	}
}

func TestKickRequiresPrivilege(t *testing.T) {
	ts := newTestServer(t)
	_, _, admin := ts.login("admin", "adminpass", "root")
	id, sess, _ := ts.login("guest", "", "alice")

	p := protocol.NewPacket(protocol.TypeKick)
	p.Seq = 10
	p.AddNumber(protocol.DataUID, uint64(admin.UID))
	ts.receive(id, p)
	reply := sess.reply(t)
	if got := reply.GetString(protocol.DataError, ""); got != "You do not have permission to disconnect users." {
		t.Fatalf("reply = %q", got)
	}
}

func TestDisconnectAnnouncesLeave(t *testing.T) {
	ts := newTestServer(t)
	_, watcher, _ := ts.login("guest", "", "alice")
	id, _, leaver := ts.login("guest", "", "bob")
	watcher.take()

	ts.disconnect(id)
	leaves := watcher.ofKind(protocol.TypeServerUserLeave)
	if len(leaves) != 1 || leaves[0].GetNumber(protocol.DataUID, 0) != uint64(leaver.UID) {
		t.Fatalf("leave packets = %v", leaves)
	}
	if ts.UserCount() != 1 {
		t.Errorf("UserCount = %d, want 1", ts.UserCount())
	}
}

func TestCheckIdleAndAwayReset(t *testing.T) {
	ts := newTestServer(t)
	id, sess, u := ts.login("guest", "", "alice")
	u.LastPacket = time.Now().Add(-time.Hour)

	if n := ts.CheckIdle(time.Now()); n != 1 {
		t.Fatalf("CheckIdle = %d, want 1", n)
	}
	if uint64(u.Status)&protocol.StatusAway == 0 {
		t.Fatal("idle user not away")
	}
	sess.take()

	ping := protocol.NewPacket(protocol.TypePing)
	ts.receive(id, ping)
	if uint64(u.Status)&protocol.StatusAway == 0 {
		t.Fatal("ping cleared away status")
	}

	list := protocol.NewPacket(protocol.TypeUserList)
	ts.receive(id, list)
	if uint64(u.Status)&protocol.StatusAway != 0 {
		t.Fatal("activity did not clear away status")
	}
}

func TestUserFlatten(t *testing.T) {
	u := newUser(7, "10.0.0.1", nil)
	u.SetNick("a<b>:c")
	if u.Nick != "abc" {
		t.Fatalf("nick = %q", u.Nick)
	}
	u.Icon = 0x0102
	u.Status = 0x0003

	want := []byte{0, 7, 1, 2, 0, 3, 0, 3, 'a', 'b', 'c'}
	if got := u.Flatten(); string(got) != string(want) {
		t.Fatalf("Flatten = %v, want %v", got, want)
	}

	u.Color = 0xFF8800
	got := u.Flatten()
	if len(got) != len(want)+4 || string(got[len(want):]) != "\x00\xff\x88\x00" {
		t.Fatalf("Flatten with color = %v", got)
	}
}
