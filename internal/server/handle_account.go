package server

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/phxd-project/phxd/internal/db"
	"github.com/phxd-project/phxd/internal/protocol"
)

// passwordPlaceholder is sent in place of the stored digest. Clients echo
// it back when the password was left untouched.
var passwordPlaceholder = []byte{0}

func passwordUnchanged(b []byte) bool {
	return b == nil || bytes.Equal(b, passwordPlaceholder)
}

func (s *Server) loadAccount(login string) (*db.Account, error) {
	acct, err := s.store.LoadAccount(login)
	if errors.Is(err, db.ErrNotFound) {
		return nil, Fail("Invalid account.")
	}
	if err != nil {
		return nil, fmt.Errorf("load account %q: %w", login, err)
	}
	return acct, nil
}

func (s *Server) handleAccountRead(u *User, p *protocol.Packet) error {
	login := p.GetString(protocol.DataLogin, "")
	acct, err := s.store.LoadAccount(login)
	if errors.Is(err, db.ErrNotFound) {
		return Fail("Error loading account.")
	}
	if err != nil {
		return err
	}

	reply := p.Response()
	reply.Add(protocol.DataLogin, protocol.Obfuscate(acct.Login))
	reply.Add(protocol.DataPassword, passwordPlaceholder)
	reply.AddString(protocol.DataNick, acct.Name)
	if err := reply.AddNumberBits(protocol.DataPrivs, acct.Privs, 64); err != nil {
		return err
	}
	s.sendTo(reply, u)
	return nil
}

func (s *Server) handleAccountModify(u *User, p *protocol.Packet) error {
	login := protocol.Deobfuscate(p.GetBinary(protocol.DataLogin, nil))
	acct, err := s.loadAccount(login)
	if err != nil {
		return err
	}

	acct.Name = p.GetString(protocol.DataNick, "")
	acct.Privs = p.GetNumber(protocol.DataPrivs, 0)
	if pw := p.GetBinary(protocol.DataPassword, nil); !passwordUnchanged(pw) {
		acct.Password = db.HashPassword(protocol.Deobfuscate(pw))
	}
	if err := s.store.SaveAccount(acct); err != nil {
		return fmt.Errorf("save account %q: %w", login, err)
	}
	s.refreshAccount(acct)
	s.sendTo(p.Response(), u)
	s.logger.Info().Str("login", login).Str("by", u.String()).Msg("[account] modified")
	return nil
}

// refreshAccount copies a saved account into the sessions logged in with it
// and re-announces their admin status.
func (s *Server) refreshAccount(acct *db.Account) {
	for _, other := range s.users() {
		if other.Account == nil || other.Account.Login != acct.Login {
			continue
		}
		*other.Account = *acct
		other.setStatus(protocol.StatusAdmin, other.HasPerm(PermKickUsers))
		s.sendUserChange(other, false)
	}
}

func (s *Server) handleAccountCreate(u *User, p *protocol.Packet) error {
	login := protocol.Deobfuscate(p.GetBinary(protocol.DataLogin, nil))
	if login == "" {
		return Fail("Invalid account.")
	}
	acct := &db.Account{
		Login:    login,
		Password: db.HashPassword(protocol.Deobfuscate(p.GetBinary(protocol.DataPassword, nil))),
		Name:     p.GetString(protocol.DataNick, ""),
		Privs:    p.GetNumber(protocol.DataPrivs, 0),
	}
	err := s.store.SaveAccount(acct)
	if errors.Is(err, db.ErrExists) {
		return Fail("Login already exists.")
	}
	if err != nil {
		return fmt.Errorf("create account %q: %w", login, err)
	}
	s.sendTo(p.Response(), u)
	s.logger.Info().Str("login", login).Str("by", u.String()).Msg("[account] created")
	return nil
}

func (s *Server) handleAccountDelete(u *User, p *protocol.Packet) error {
	login := protocol.Deobfuscate(p.GetBinary(protocol.DataLogin, nil))
	err := s.store.DeleteAccount(login)
	if errors.Is(err, db.ErrNotFound) {
		return Fail("Invalid account.")
	}
	if err != nil {
		return fmt.Errorf("delete account %q: %w", login, err)
	}
	s.sendTo(p.Response(), u)
	s.logger.Info().Str("login", login).Str("by", u.String()).Msg("[account] deleted")
	return nil
}

func (s *Server) handleAccountSelfModify(u *User, p *protocol.Packet) error {
	acct := *u.Account
	if p.Has(protocol.DataString) {
		acct.Profile = p.GetString(protocol.DataString, "")
	}
	if pw := p.GetBinary(protocol.DataPassword, nil); !passwordUnchanged(pw) {
		acct.Password = db.HashPassword(protocol.Deobfuscate(pw))
	}
	if err := s.store.SaveAccount(&acct); err != nil {
		return fmt.Errorf("save account %q: %w", acct.Login, err)
	}
	*u.Account = acct
	s.sendTo(p.Response(), u)
	s.logger.Info().Str("user", u.String()).Msg("[account] self-modify")
	return nil
}

func (s *Server) handlePermissionList(u *User, p *protocol.Packet) error {
	reply := p.Response()
	if err := permissionList(reply); err != nil {
		return err
	}
	s.sendTo(reply, u)
	return nil
}
