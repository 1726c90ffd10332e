package transfer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/phxd-project/phxd/internal/events"
)

// Owner identifies the user that requested a transfer.
type Owner struct {
	UID   uint16
	Login string
	Nick  string
	Addr  string
}

// Transfer is one upload or download, alive from the request packet until
// its transfer connection closes.
type Transfer interface {
	ID() uint32
	IsIncoming() bool
	Name() string
	Path() string
	Owner() Owner
	Total() uint64
	SetTotal(total uint64)
	Transferred() uint64
	IsComplete() bool
	Start()
	Started() bool
	LastActivity() time.Time
	Bind(conn io.Closer)
	Abort() error
	Finish() error
	Payload() events.TransferPayload
	String() string

	setID(id uint32)
}

// Info holds the bookkeeping shared by uploads and downloads.
type Info struct {
	mu           sync.Mutex
	id           uint32
	incoming     bool
	name         string
	path         string
	owner        Owner
	total        uint64
	transferred  uint64
	started      bool
	startTime    time.Time
	lastActivity time.Time
	conn         io.Closer
}

func newInfo(name, path string, owner Owner, incoming bool) *Info {
	return &Info{
		name:         name,
		path:         path,
		owner:        owner,
		incoming:     incoming,
		lastActivity: time.Now(),
	}
}

// ID returns the registry-assigned identifier.
func (i *Info) ID() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.id
}

func (i *Info) setID(id uint32) {
	i.mu.Lock()
	i.id = id
	i.mu.Unlock()
}

// IsIncoming reports whether this is an upload.
func (i *Info) IsIncoming() bool { return i.incoming }

// Name returns the file name shown to users.
func (i *Info) Name() string { return i.name }

// Path returns the file path on disk.
func (i *Info) Path() string { return i.path }

// Owner returns the requesting user.
func (i *Info) Owner() Owner { return i.owner }

// Total returns the expected byte count including fork framing.
func (i *Info) Total() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.total
}

// SetTotal updates the expected byte count.
func (i *Info) SetTotal(total uint64) {
	i.mu.Lock()
	i.total = total
	i.mu.Unlock()
}

// Transferred returns the bytes moved so far.
func (i *Info) Transferred() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.transferred
}

func (i *Info) advance(n int) {
	i.mu.Lock()
	i.transferred += uint64(n)
	i.lastActivity = time.Now()
	i.mu.Unlock()
}

// Start marks the transfer connection as established.
func (i *Info) Start() {
	i.mu.Lock()
	i.started = true
	i.startTime = time.Now()
	i.lastActivity = i.startTime
	i.mu.Unlock()
}

// Started reports whether a transfer connection has been matched.
func (i *Info) Started() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.started
}

// LastActivity returns the time bytes last moved.
func (i *Info) LastActivity() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastActivity
}

// Bind attaches the transfer connection so a timeout can close it.
func (i *Info) Bind(conn io.Closer) {
	i.mu.Lock()
	i.conn = conn
	i.mu.Unlock()
}

// Abort closes the bound transfer connection, if any.
func (i *Info) Abort() error {
	i.mu.Lock()
	conn := i.conn
	i.conn = nil
	i.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// BytesPerSecond returns the average rate since Start.
func (i *Info) BytesPerSecond() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.started {
		return 0
	}
	elapsed := time.Since(i.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(i.transferred) / elapsed
}

// Percent returns progress as 0-100.
func (i *Info) Percent() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.total == 0 {
		return 0
	}
	p := int(i.transferred * 100 / i.total)
	if p > 100 {
		p = 100
	}
	return p
}

func (i *Info) payload(complete bool) events.TransferPayload {
	return events.TransferPayload{
		ID:          i.ID(),
		Incoming:    i.incoming,
		Name:        i.name,
		Path:        i.path,
		OwnerUID:    i.owner.UID,
		OwnerLogin:  i.owner.Login,
		OwnerNick:   i.owner.Nick,
		OwnerAddr:   i.owner.Addr,
		Total:       i.Total(),
		Transferred: i.Transferred(),
		Complete:    complete,
		Started:     i.Started(),
		BytesPerSec: i.BytesPerSecond(),
	}
}

// String describes the transfer for user info and logs.
func (i *Info) String() string {
	dir := "download"
	if i.incoming {
		dir = "upload"
	}
	return fmt.Sprintf("[%d] %s %q %d%% (%s/s)", i.ID(), dir, i.name, i.Percent(), FormatBytes(uint64(i.BytesPerSecond())))
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
