package server

import (
	"time"

	"github.com/phxd-project/phxd/internal/db"
)

// tempBan blocks an address until expires. Temporary bans live in memory
// only and are lost on restart.
type tempBan struct {
	reason  string
	expires time.Time
}

func (s *Server) addTempBan(addr, reason string) {
	d := s.cfg.BanTime()
	if d <= 0 {
		return
	}
	s.tempBans[addr] = tempBan{reason: reason, expires: time.Now().Add(d)}
}

// checkBan consults the temporary bans, then the stored ban list. A store
// failure is logged and lets the user in.
func (s *Server) checkBan(addr string) (string, bool) {
	if b, ok := s.tempBans[addr]; ok {
		if time.Now().Before(b.expires) {
			return b.reason, true
		}
		delete(s.tempBans, addr)
	}
	reason, banned, err := s.store.CheckBanlist(addr)
	if err != nil {
		s.logger.Warn().Err(err).Str("addr", addr).Msg("ban list lookup failed")
		return "", false
	}
	return reason, banned
}

// Ban adds a stored ban and disconnects every session from addr.
func (s *Server) Ban(addr, reason string, d time.Duration) error {
	b := db.Ban{Address: addr, Reason: reason, Created: time.Now()}
	if d > 0 {
		b.Expires = b.Created.Add(d)
	}
	if err := s.store.AddBan(b); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byUID {
		if u.Addr == addr {
			s.disconnectUser(u, false, "ban")
		}
	}
	return nil
}

// PruneBans drops expired temporary and stored bans.
func (s *Server) PruneBans(now time.Time) (int, error) {
	s.mu.Lock()
	n := 0
	for addr, b := range s.tempBans {
		if !now.Before(b.expires) {
			delete(s.tempBans, addr)
			n++
		}
	}
	s.mu.Unlock()

	stored, err := s.store.PruneBans(now)
	return n + stored, err
}
