package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/phxd-project/phxd/internal/protocol"
)

// DefaultTrackerPort is the UDP port trackers listen on for updates.
const DefaultTrackerPort = 5499

// TrackerUpdate is the datagram a server sends to register with a tracker.
type TrackerUpdate struct {
	Port        uint16
	Users       uint16
	ServerID    uint32
	Name        string
	Description string
	Password    string
}

// MarshalBinary encodes cmd(2)=1 port(2) users(2) zero(2) id(4) followed by
// the name, description and password as length-prefixed strings.
func (u TrackerUpdate) MarshalBinary() ([]byte, error) {
	return protocol.NewBuilder().
		WriteUint16(1).
		WriteUint16(u.Port).
		WriteUint16(u.Users).
		WriteUint16(0).
		WriteUint32(u.ServerID).
		WritePString(u.Name).
		WritePString(u.Description).
		WritePString(u.Password).
		Build(), nil
}

// ParseTrackerUpdate decodes an update datagram.
func ParseTrackerUpdate(b []byte) (TrackerUpdate, error) {
	if len(b) < 12 {
		return TrackerUpdate{}, protocol.ErrIncomplete
	}
	if binary.BigEndian.Uint16(b[0:2]) != 1 {
		return TrackerUpdate{}, errors.New("not a tracker update")
	}
	u := TrackerUpdate{
		Port:     binary.BigEndian.Uint16(b[2:4]),
		Users:    binary.BigEndian.Uint16(b[4:6]),
		ServerID: binary.BigEndian.Uint32(b[8:12]),
	}
	rest := b[12:]
	var fields [3]string
	for i := range fields {
		if len(rest) < 1 || len(rest) < 1+int(rest[0]) {
			break
		}
		n := int(rest[0])
		fields[i] = protocol.DecodeString(rest[1 : 1+n])
		rest = rest[1+n:]
	}
	u.Name, u.Description, u.Password = fields[0], fields[1], fields[2]
	return u, nil
}

// TrackerPinger announces the server to a list of trackers.
type TrackerPinger struct {
	addrs []string
}

// NewTrackerPinger creates a pinger. Addresses without a port use
// DefaultTrackerPort.
func NewTrackerPinger(addrs []string) *TrackerPinger {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if _, _, err := net.SplitHostPort(a); err != nil {
			a = net.JoinHostPort(a, fmt.Sprint(DefaultTrackerPort))
		}
		out = append(out, a)
	}
	return &TrackerPinger{addrs: out}
}

// Ping sends one update to every tracker. Failures are logged and the
// last one is returned.
func (p *TrackerPinger) Ping(ctx context.Context, u TrackerUpdate) error {
	data, _ := u.MarshalBinary()
	var lastErr error
	for _, addr := range p.addrs {
		if err := sendDatagram(ctx, addr, data); err != nil {
			log.Warn().Err(err).Str("tracker", addr).Msg("tracker update failed")
			lastErr = err
			continue
		}
		log.Debug().Str("tracker", addr).Uint16("users", u.Users).Msg("tracker updated")
	}
	return lastErr
}

func sendDatagram(ctx context.Context, addr string, data []byte) error {
	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("dial tracker: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write tracker update: %w", err)
	}
	return nil
}
