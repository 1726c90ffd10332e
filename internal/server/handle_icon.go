package server

import (
	"bytes"
	"image/gif"

	"github.com/phxd-project/phxd/internal/protocol"
)

const (
	iconWidth  = 232
	iconHeight = 18
)

// verifyIcon checks a custom icon against the size limit and requires a
// 232x18 GIF image.
func (s *Server) verifyIcon(data []byte) error {
	if limit := s.cfg.GetIcons().MaxGIFSize; limit > 0 && len(data) > limit {
		return Fail("GIF icon too large.")
	}
	cfg, err := gif.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Fail("Icon must be in GIF format.")
	}
	if cfg.Width != iconWidth || cfg.Height != iconHeight {
		return Fail("GIF icon must be 232x18 pixels.")
	}
	return nil
}

func (s *Server) sendIconChange(u *User) {
	change := protocol.NewPacket(protocol.TypeServerIconChange)
	change.AddNumber(protocol.DataUID, uint64(u.UID))
	s.sendAll(change)
}

func (s *Server) handleIconList(u *User, p *protocol.Packet) error {
	reply := p.Response()
	for _, other := range s.users() {
		entry := protocol.NewBuilder().
			WriteUint16(other.UID).
			WriteUint16(uint16(len(other.Gif))).
			WriteBytes(other.Gif).
			Build()
		reply.Add(protocol.DataGifList, entry)
	}
	s.sendTo(reply, u)
	return nil
}

func (s *Server) handleIconSet(u *User, p *protocol.Packet) error {
	if !s.cfg.GetIcons().Enabled {
		return Fail("Custom icons are disabled.")
	}
	data := p.GetBinary(protocol.DataGifIcon, nil)
	if err := s.verifyIcon(data); err != nil {
		return err
	}
	u.Gif = data
	s.sendTo(p.Response(), u)
	s.sendIconChange(u)
	return nil
}

func (s *Server) handleIconGet(u *User, p *protocol.Packet) error {
	who := s.userByUID(uint16(p.GetNumber(protocol.DataUID, 0)))
	if who == nil || !who.Valid {
		return Fail("Invalid user.")
	}
	reply := p.Response()
	reply.AddNumber(protocol.DataUID, uint64(who.UID))
	reply.Add(protocol.DataGifIcon, who.Gif)
	s.sendTo(reply, u)
	return nil
}
