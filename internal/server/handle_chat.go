package server

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/phxd-project/phxd/internal/events"
	"github.com/phxd-project/phxd/internal/protocol"
)

func (s *Server) handleChat(u *User, p *protocol.Packet) error {
	text := p.GetString(protocol.DataString, "")
	opt := p.GetNumber(protocol.DataOption, 0)
	ref := uint32(p.GetNumber(protocol.DataChatID, 0))

	if !u.HasPerm(PermSendChat) || strings.TrimSpace(text) == "" {
		return nil
	}
	var chat *Chat
	if ref != 0 {
		chat = s.chatByID(ref)
		if chat == nil || !chat.hasUser(u) {
			return nil
		}
	}

	cc := s.cfg.GetChat()
	format := cc.Format
	prefix := cc.PrefixLen
	if cc.PrefixAddNickLen {
		prefix += utf8.RuneCountInString(u.Nick)
	}
	if opt > 0 {
		format = cc.EmoteFormat
		prefix = cc.EmotePrefixLen + utf8.RuneCountInString(u.Nick)
	}

	text = strings.ReplaceAll(text, "\n", "\r")
	for _, line := range strings.Split(text, "\r") {
		if cc.MaxChatLen > 0 {
			line = truncateRunes(line, cc.MaxChatLen)
		}
		if strings.TrimSpace(line) == "" || s.dispatchCommand(u, line, ref) {
			continue
		}
		out := protocol.NewPacket(protocol.TypeServerChat)
		out.AddNumber(protocol.DataUID, uint64(u.UID))
		out.AddNumber(protocol.DataOffset, uint64(prefix))
		out.AddString(protocol.DataString, fmt.Sprintf(format, u.Nick, line))
		if opt > 0 {
			out.AddNumber(protocol.DataOption, opt)
		}
		if chat != nil {
			out.AddNumberBits(protocol.DataChatID, uint64(chat.ID), 32)
			s.sendTo(out, chat.Users...)
			continue
		}
		s.sendFiltered(out, func(other *User) bool { return other.HasPerm(PermReadChat) })
		s.bus.Publish(events.EventChatPublic, "server", events.ChatPayload{
			UID:   u.UID,
			Nick:  u.Nick,
			Login: u.Login(),
			Emote: opt > 0,
			Text:  line,
		})
	}
	return nil
}

func (s *Server) handleChatCreate(u *User, p *protocol.Packet) error {
	who := s.userByUID(uint16(p.GetNumber(protocol.DataUID, 0)))

	chat := s.createChat()
	chat.addUser(u)

	reply := p.Response()
	reply.AddNumberBits(protocol.DataChatID, uint64(chat.ID), 32)
	addUserFields(reply, u)
	s.sendTo(reply, u)

	if who != nil && who.Valid && who != u {
		chat.Invites[who.UID] = true
		s.sendTo(chatInvite(chat, u), who)
	}
	return nil
}

func (s *Server) handleChatInvite(u *User, p *protocol.Packet) error {
	who := s.userByUID(uint16(p.GetNumber(protocol.DataUID, 0)))
	chat := s.chatByID(uint32(p.GetNumber(protocol.DataChatID, 0)))

	switch {
	case who == nil || !who.Valid:
		return Fail("Invalid user.")
	case chat == nil:
		return Fail("Invalid chat.")
	case who == u, chat.hasInvite(who):
		return nil
	case !chat.hasUser(u):
		return Fail("You are not in this chat.")
	case chat.hasUser(who):
		return nil
	}
	chat.Invites[who.UID] = true
	s.sendTo(chatInvite(chat, u), who)
	return nil
}

func chatInvite(chat *Chat, from *User) *protocol.Packet {
	invite := protocol.NewPacket(protocol.TypeServerChatInvite)
	invite.AddNumberBits(protocol.DataChatID, uint64(chat.ID), 32)
	invite.AddNumber(protocol.DataUID, uint64(from.UID))
	invite.AddString(protocol.DataNick, from.Nick)
	return invite
}

func (s *Server) handleChatDecline(u *User, p *protocol.Packet) error {
	chat := s.chatByID(uint32(p.GetNumber(protocol.DataChatID, 0)))
	if chat == nil || !chat.hasInvite(u) {
		return nil
	}
	delete(chat.Invites, u.UID)
	decline := protocol.NewPacket(protocol.TypeServerChat)
	decline.AddNumberBits(protocol.DataChatID, uint64(chat.ID), 32)
	decline.AddString(protocol.DataString, fmt.Sprintf("\r< %s has declined the invitation to chat >", u.Nick))
	s.sendTo(decline, chat.Users...)
	return nil
}

func (s *Server) handleChatJoin(u *User, p *protocol.Packet) error {
	chat := s.chatByID(uint32(p.GetNumber(protocol.DataChatID, 0)))
	if chat == nil {
		return Fail("Invalid chat.")
	}
	if !chat.hasInvite(u) {
		return Fail("You were not invited to this chat.")
	}

	join := protocol.NewPacket(protocol.TypeServerChatUserChange)
	join.AddNumberBits(protocol.DataChatID, uint64(chat.ID), 32)
	addUserFields(join, u)
	s.sendTo(join, chat.Users...)

	chat.addUser(u)
	delete(chat.Invites, u.UID)

	reply := p.Response()
	for _, member := range chat.Users {
		reply.Add(protocol.DataUser, member.Flatten())
	}
	reply.AddString(protocol.DataSubject, chat.Subject)
	s.sendTo(reply, u)
	return nil
}

func (s *Server) handleChatLeave(u *User, p *protocol.Packet) error {
	chat := s.chatByID(uint32(p.GetNumber(protocol.DataChatID, 0)))
	if chat == nil || !chat.hasUser(u) {
		return nil
	}
	s.removeFromChat(chat, u)
	return nil
}

func (s *Server) handleChatSubject(u *User, p *protocol.Packet) error {
	chat := s.chatByID(uint32(p.GetNumber(protocol.DataChatID, 0)))
	if chat == nil || !chat.hasUser(u) {
		return nil
	}
	chat.Subject = p.GetString(protocol.DataSubject, "")

	subject := protocol.NewPacket(protocol.TypeServerChatSubject)
	subject.AddNumberBits(protocol.DataChatID, uint64(chat.ID), 32)
	subject.AddString(protocol.DataSubject, chat.Subject)
	s.sendTo(subject, chat.Users...)
	return nil
}
