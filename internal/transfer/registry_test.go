package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phxd-project/phxd/internal/events"
)

type closeRecorder struct{ closed int }

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func newDownload(t *testing.T) *Outgoing {
	t.Helper()
	o, err := NewOutgoing("f", "", Owner{UID: 9}, &memSource{data: []byte("abc")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestRegistryAssignsIncreasingIDs(t *testing.T) {
	r := NewRegistry(time.Minute, nil)
	a := r.Register(newDownload(t))
	b := r.Register(newDownload(t))
	if a.ID() != 1 || b.ID() != 2 {
		t.Errorf("ids = %d, %d", a.ID(), b.ID())
	}
	if r.Count() != 2 {
		t.Errorf("Count() = %d", r.Count())
	}
	if len(r.ForOwner(9)) != 2 || len(r.ForOwner(1)) != 0 {
		t.Error("ForOwner() mismatch")
	}
}

func TestRegistryMatch(t *testing.T) {
	r := NewRegistry(time.Minute, nil)
	up := NewIncoming("u", "", Owner{}, &memDest{})
	r.Register(up)
	down := r.Register(newDownload(t))

	if got := r.Match(99, 0); got != nil {
		t.Error("Match(unknown) returned a transfer")
	}
	if got := r.Match(up.ID(), 4096); got != up {
		t.Fatalf("Match() = %v", got)
	}
	if up.Total() != 4096 || !up.Started() {
		t.Errorf("upload total = %d started = %v", up.Total(), up.Started())
	}
	if got := r.Match(up.ID(), 4096); got != nil {
		t.Error("second Match() for a started transfer succeeded")
	}

	total := down.Total()
	r.Match(down.ID(), 1)
	if down.Total() != total {
		t.Error("download total overwritten by handshake size")
	}
}

func TestRegistryClosedEmitsOnce(t *testing.T) {
	bus := events.NewEventBus()
	var mu sync.Mutex
	seen := map[events.EventType]int{}
	wait := make(chan struct{}, 4)
	for _, et := range []events.EventType{events.EventTransferCompleted, events.EventTransferAborted} {
		bus.Subscribe(et, "test", func(ctx context.Context, e events.Event) error {
			mu.Lock()
			seen[e.Type]++
			mu.Unlock()
			wait <- struct{}{}
			return nil
		})
	}

	r := NewRegistry(time.Minute, bus)
	done := r.Register(newDownload(t)).(*Outgoing)
	r.Match(done.ID(), 0)
	drain(t, done)
	aborted := r.Register(newDownload(t))
	r.Match(aborted.ID(), 0)

	r.Closed(done)
	r.Closed(done)
	r.Closed(aborted)

	for i := 0; i < 2; i++ {
		select {
		case <-wait:
		case <-time.After(time.Second):
			t.Fatal("events not delivered")
		}
	}
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if seen[events.EventTransferCompleted] != 1 || seen[events.EventTransferAborted] != 1 {
		t.Errorf("events = %v", seen)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d after close", r.Count())
	}
}

func TestRegistrySweepClosesConnection(t *testing.T) {
	r := NewRegistry(30*time.Second, nil)
	stale := r.Register(newDownload(t))
	conn := &closeRecorder{}
	stale.Bind(conn)
	fresh := r.Register(newDownload(t))

	dead := r.Sweep(time.Now().Add(10 * time.Second))
	if len(dead) != 0 {
		t.Fatalf("swept %d fresh transfers", len(dead))
	}

	fresh.Start()
	dead = r.Sweep(time.Now().Add(31 * time.Second))
	if len(dead) != 2 {
		t.Fatalf("swept %d, want 2", len(dead))
	}
	if conn.closed != 1 {
		t.Errorf("bound connection closed %d times", conn.closed)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d", r.Count())
	}
	if _, ok := r.Get(stale.ID()); ok {
		t.Error("stale transfer still registered")
	}
}
