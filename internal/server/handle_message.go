package server

import (
	"github.com/phxd-project/phxd/internal/protocol"
)

func (s *Server) handleMessage(u *User, p *protocol.Packet) error {
	who := s.userByUID(uint16(p.GetNumber(protocol.DataUID, 0)))
	if who == nil || !who.Valid {
		return Fail("Invalid user.")
	}
	text := p.GetString(protocol.DataString, "")
	if limit := s.cfg.GetChat().MaxMsgLen; limit > 0 {
		text = truncateRunes(text, limit)
	}

	msg := protocol.NewPacket(protocol.TypeServerMsg)
	msg.AddNumber(protocol.DataUID, uint64(u.UID))
	msg.AddString(protocol.DataNick, u.Nick)
	msg.AddString(protocol.DataString, text)
	s.sendTo(msg, who)
	s.sendTo(p.Response(), u)
	return nil
}

func (s *Server) handleBroadcast(u *User, p *protocol.Packet) error {
	s.broadcast(p.GetString(protocol.DataString, ""))
	s.sendTo(p.Response(), u)
	return nil
}
