package server

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/phxd-project/phxd/internal/db"
	"github.com/phxd-project/phxd/internal/events"
	"github.com/phxd-project/phxd/internal/protocol"
	"github.com/phxd-project/phxd/internal/util"
)

const guestLogin = "guest"

func (s *Server) handleLogin(u *User, p *protocol.Packet) error {
	if u.Valid {
		return Fail("You are already logged in.")
	}
	login := guestLogin
	if b := p.GetBinary(protocol.DataLogin, nil); b != nil {
		login = protocol.Deobfuscate(b)
	}
	password := protocol.Deobfuscate(p.GetBinary(protocol.DataPassword, nil))

	if reason, banned := s.checkBan(u.Addr); banned {
		return Fatal("You are banned: " + reason)
	}

	acct, err := s.store.LoadAccount(login)
	if errors.Is(err, db.ErrNotFound) {
		return Fatal("Login is incorrect.")
	}
	if err != nil {
		return err
	}
	if !acct.CheckPassword(password) {
		return Fatal("Password is incorrect.")
	}
	u.Account = acct
	u.Valid = true
	u.LoginTime = time.Now()
	s.applyUserChange(u, p, true)

	acct.LastLogin = u.LoginTime
	if err := s.store.SaveAccount(acct); err != nil {
		s.logger.Warn().Err(err).Str("login", acct.Login).Msg("failed to record last login")
	}
	s.metrics.SetUsersOnline(len(s.users()))
	s.bus.Publish(events.EventUserLogin, "server", u.payload())

	reply := p.Response()
	reply.AddString(protocol.DataServerName, s.cfg.GetServer().Name)
	reply.AddNumber(protocol.DataOption, protocol.CapabilityNews)
	reply.AddNumber(protocol.DataUID, uint64(u.UID))
	s.sendTo(reply, u)

	if agreement := s.cfg.GetServer().Agreement; agreement != "" && !u.HasPerm(PermNoAgreement) {
		ag := protocol.NewPacket(protocol.TypeServerAgreement)
		ag.AddString(protocol.DataString, agreement)
		s.sendTo(ag, u)
	}
	s.logger.Info().Str("user", u.String()).Str("addr", u.Addr).Msg("[login] successful login")
	return nil
}

func (s *Server) handleUserChange(u *User, p *protocol.Packet) error {
	s.applyUserChange(u, p, false)
	return nil
}

// applyUserChange takes the nick, icon and color from p, enforces the
// account's naming rule and announces the result.
func (s *Server) applyUserChange(u *User, p *protocol.Packet, join bool) {
	oldNick := u.Nick
	nick := p.GetString(protocol.DataNick, u.Nick)
	if limit := s.cfg.GetChat().MaxNickLen; limit > 0 {
		nick = truncateRunes(nick, limit)
	}
	u.SetNick(nick)
	u.Icon = uint16(p.GetNumber(protocol.DataIcon, uint64(u.Icon)))
	if c, ok := p.Get(protocol.DataColor); ok {
		if v, ok := c.Number(); ok {
			u.Color = int64(v & 0xFFFFFFFF)
		}
	}

	u.setStatus(protocol.StatusAdmin, u.HasPerm(PermKickUsers))
	if !u.HasPerm(PermUseAnyName) && u.Account != nil {
		u.SetNick(u.Account.Name)
	}

	s.sendUserChange(u, join)
	if !join {
		payload := u.payload()
		payload.OldNick = oldNick
		s.bus.Publish(events.EventUserChange, "server", payload)
	}
}

func (s *Server) handleUserList(u *User, p *protocol.Packet) error {
	reply := p.Response()
	for _, other := range s.users() {
		reply.Add(protocol.DataUser, other.Flatten())
	}
	s.sendTo(reply, u)
	return nil
}

const userInfoFormat = "nickname: %s\r     uid: %d\r   login: %s\rrealname: %s\r address: %s\r    idle: %s\r"

const infoRule = "--------------------------------\r"

func (s *Server) handleUserInfo(u *User, p *protocol.Packet) error {
	who := s.userByUID(uint16(p.GetNumber(protocol.DataUID, 0)))
	if who == nil || who.Account == nil {
		return Fail("Invalid user.")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, userInfoFormat, who.Nick, who.UID, who.Account.Login, who.Account.Name,
		who.Addr, util.FormatElapsed(time.Since(who.LastPacket)))
	sb.WriteString(infoRule)
	xfers := s.xfers.ForOwner(who.UID)
	for _, t := range xfers {
		sb.WriteString(t.String())
		sb.WriteString("\r")
	}
	if len(xfers) == 0 {
		sb.WriteString("No file transfers.\r")
	}
	sb.WriteString(infoRule)

	reply := p.Response()
	reply.AddNumber(protocol.DataUID, uint64(who.UID))
	reply.AddString(protocol.DataNick, who.Nick)
	reply.AddString(protocol.DataString, sb.String())
	s.sendTo(reply, u)
	return nil
}

func (s *Server) handleUserInfoUnformatted(u *User, p *protocol.Packet) error {
	who := s.userByUID(uint16(p.GetNumber(protocol.DataUID, 0)))
	if who == nil || who.Account == nil {
		return Fail("Invalid user.")
	}
	reply := p.Response()
	reply.AddNumber(protocol.DataUID, uint64(who.UID))
	reply.AddString(protocol.DataNick, who.Nick)
	reply.AddString(protocol.DataLogin, who.Account.Login)
	reply.AddString(protocol.DataString, who.Account.Name)
	reply.AddString(protocol.DataIP, who.Addr)
	s.sendTo(reply, u)
	return nil
}

func (s *Server) handleKick(u *User, p *protocol.Packet) error {
	who := s.userByUID(uint16(p.GetNumber(protocol.DataUID, 0)))
	if err := s.kick(u, who, p.GetNumber(protocol.DataBan, 0) != 0); err != nil {
		return err
	}
	s.sendTo(p.Response(), u)
	return nil
}

// kick disconnects who on behalf of u. Users without the kick privilege
// may only disconnect their own ghosts, and never as guest.
func (s *Server) kick(u, who *User, ban bool) error {
	if who == nil || who.Account == nil {
		return Fail("Invalid user.")
	}
	me := strings.ToLower(u.Login())
	you := strings.ToLower(who.Login())
	if !u.HasPerm(PermKickUsers) && (me != you || me == guestLogin) {
		return Fail("You do not have permission to disconnect users.")
	}
	if me != you && who.HasPerm(PermKickProtect) {
		return Fail(who.Nick + " cannot be disconnected.")
	}
	s.disconnectUser(who, ban, u.String())
	return nil
}

func (s *Server) handlePing(u *User, p *protocol.Packet) error {
	s.sendTo(p.Response(), u)
	return nil
}

func truncateRunes(str string, max int) string {
	if utf8.RuneCountInString(str) <= max {
		return str
	}
	return string([]rune(str)[:max])
}
