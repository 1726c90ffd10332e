package transfer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phxd-project/phxd/internal/events"
)

// Registry tracks transfers from the request packet until their transfer
// connection closes or they time out.
type Registry struct {
	mu        sync.Mutex
	lastID    uint32
	transfers []Transfer
	timeout   time.Duration
	bus       *events.EventBus
	logger    zerolog.Logger
}

// NewRegistry creates a registry. Transfers idle longer than timeout are
// removed by Sweep. bus may be nil.
func NewRegistry(timeout time.Duration, bus *events.EventBus) *Registry {
	return &Registry{
		timeout: timeout,
		bus:     bus,
		logger:  log.With().Str("component", "xfer").Logger(),
	}
}

// Register assigns the next id to t and stores it.
func (r *Registry) Register(t Transfer) Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastID++
	t.setID(r.lastID)
	r.transfers = append(r.transfers, t)
	r.logger.Debug().Uint32("id", r.lastID).Str("name", t.Name()).Bool("incoming", t.IsIncoming()).Msg("transfer registered")
	return t
}

// Match finds the pending transfer for a transfer connection handshake and
// starts it. Uploads registered without a size take the handshake's size.
// It returns nil for unknown ids and for transfers already started.
func (r *Registry) Match(id, size uint32) Transfer {
	r.mu.Lock()
	var found Transfer
	for _, t := range r.transfers {
		if t.ID() == id && !t.Started() {
			found = t
			break
		}
	}
	if found != nil {
		if found.IsIncoming() && found.Total() == 0 {
			found.SetTotal(uint64(size))
		}
		found.Start()
	}
	r.mu.Unlock()

	if found == nil {
		return nil
	}
	r.logger.Info().Str("xfer", found.String()).Msg("[xfer] started")
	r.publish(events.EventTransferStarted, found)
	return found
}

// Get returns a registered transfer by id.
func (r *Registry) Get(id uint32) (Transfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.transfers {
		if t.ID() == id {
			return t, true
		}
	}
	return nil, false
}

// Closed releases t after its transfer connection is gone and reports it
// as completed or aborted. Transfers already removed are only finished.
func (r *Registry) Closed(t Transfer) {
	if err := t.Finish(); err != nil {
		r.logger.Warn().Err(err).Uint32("id", t.ID()).Msg("failed to finish transfer")
	}
	if !r.remove(t) {
		return
	}
	if t.IsComplete() {
		r.logger.Info().Str("xfer", t.String()).Msg("[xfer] completed")
		r.publish(events.EventTransferCompleted, t)
	} else {
		r.logger.Info().Str("xfer", t.String()).Msg("[xfer] aborted")
		r.publish(events.EventTransferAborted, t)
	}
}

// Cancel drops a transfer that will never connect, for example because the
// reply announcing it could not be built.
func (r *Registry) Cancel(t Transfer) {
	if r.remove(t) {
		t.Finish()
	}
}

// Sweep removes transfers idle for longer than the timeout, closing their
// transfer connections. It returns the removed transfers.
func (r *Registry) Sweep(now time.Time) []Transfer {
	r.mu.Lock()
	var dead, alive []Transfer
	for _, t := range r.transfers {
		if now.Sub(t.LastActivity()) > r.timeout {
			dead = append(dead, t)
		} else {
			alive = append(alive, t)
		}
	}
	r.transfers = alive
	r.mu.Unlock()

	for _, t := range dead {
		r.logger.Info().Str("xfer", t.String()).Msg("[xfer] timed out")
		if err := t.Abort(); err != nil {
			r.logger.Debug().Err(err).Uint32("id", t.ID()).Msg("closing timed out transfer connection")
		}
		t.Finish()
		r.publish(events.EventTransferTimedOut, t)
	}
	return dead
}

// List returns a snapshot of registered transfers.
func (r *Registry) List() []Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transfer, len(r.transfers))
	copy(out, r.transfers)
	return out
}

// ForOwner returns the transfers requested by one user.
func (r *Registry) ForOwner(uid uint16) []Transfer {
	var out []Transfer
	for _, t := range r.List() {
		if t.Owner().UID == uid {
			out = append(out, t)
		}
	}
	return out
}

// Count returns the number of registered transfers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}

func (r *Registry) remove(t Transfer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.transfers {
		if x == t {
			r.transfers = append(r.transfers[:i], r.transfers[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) publish(et events.EventType, t Transfer) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(et, "xfer", t.Payload())
}
