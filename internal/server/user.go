package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/phxd-project/phxd/internal/db"
	"github.com/phxd-project/phxd/internal/events"
	"github.com/phxd-project/phxd/internal/protocol"
	"github.com/phxd-project/phxd/internal/transfer"
)

const (
	defaultNick = "unnamed"
	defaultIcon = 500

	// NoColor marks a user without a nick color.
	NoColor int64 = -1
)

// User is the session state of one control connection. A user becomes
// Valid once the login succeeds.
type User struct {
	UID        uint16
	Addr       string
	Nick       string
	Icon       uint16
	Status     uint16
	Color      int64
	Gif        []byte
	Account    *db.Account
	Valid      bool
	Away       bool
	LastPacket time.Time
	LoginTime  time.Time

	conn session
}

func newUser(uid uint16, addr string, conn session) *User {
	now := time.Now()
	return &User{
		UID:        uid,
		Addr:       addr,
		Nick:       defaultNick,
		Icon:       defaultIcon,
		Color:      NoColor,
		LastPacket: now,
		conn:       conn,
	}
}

// SetNick stores nick without the characters reserved by chat formatting.
func (u *User) SetNick(nick string) {
	u.Nick = strings.Map(func(r rune) rune {
		switch r {
		case ':', '<', '>':
			return -1
		}
		return r
	}, nick)
}

// HasPerm reports whether the user's account grants perm.
func (u *User) HasPerm(perm Perm) bool {
	return u.Account.HasPriv(perm.Mask())
}

// Login returns the account login, or "" before login.
func (u *User) Login() string {
	if u.Account == nil {
		return ""
	}
	return u.Account.Login
}

// Flatten encodes the user-list entry: uid, icon, status, nick length,
// nick and, when set, the color.
func (u *User) Flatten() []byte {
	b := protocol.NewBuilder().
		WriteUint16(u.UID).
		WriteUint16(u.Icon).
		WriteUint16(u.Status).
		WriteUint16(uint16(len(u.Nick))).
		WriteBytes([]byte(u.Nick))
	if u.Color >= 0 {
		b.WriteUint32(uint32(u.Color))
	}
	return b.Build()
}

func (u *User) setStatus(bit uint64, on bool) {
	if on {
		u.Status |= uint16(bit)
	} else {
		u.Status &^= uint16(bit)
	}
}

func (u *User) owner() transfer.Owner {
	return transfer.Owner{UID: u.UID, Login: u.Login(), Nick: u.Nick, Addr: u.Addr}
}

func (u *User) payload() events.UserPayload {
	return events.UserPayload{
		UID:    u.UID,
		Nick:   u.Nick,
		Login:  u.Login(),
		Addr:   u.Addr,
		Icon:   u.Icon,
		Status: u.Status,
	}
}

func (u *User) String() string {
	return fmt.Sprintf("<%s:%s>", u.Nick, u.Login())
}

// UserInfo is a snapshot of a logged in user.
type UserInfo struct {
	UID       uint16    `json:"uid"`
	Nick      string    `json:"nick"`
	Login     string    `json:"login"`
	Addr      string    `json:"addr"`
	Icon      uint16    `json:"icon"`
	Status    uint16    `json:"status"`
	Idle      string    `json:"idle"`
	LoginTime time.Time `json:"login_time"`
}
