package server

import (
	"github.com/phxd-project/phxd/internal/protocol"
)

// Chat is a private chat room. Invites holds the uids that may join.
type Chat struct {
	ID      uint32
	Users   []*User
	Invites map[uint16]bool
	Subject string
}

func (c *Chat) hasUser(u *User) bool {
	for _, member := range c.Users {
		if member == u {
			return true
		}
	}
	return false
}

func (c *Chat) addUser(u *User) {
	if !c.hasUser(u) {
		c.Users = append(c.Users, u)
	}
}

func (c *Chat) removeUser(u *User) {
	for i, member := range c.Users {
		if member == u {
			c.Users = append(c.Users[:i], c.Users[i+1:]...)
			return
		}
	}
}

func (c *Chat) hasInvite(u *User) bool {
	return c.Invites[u.UID]
}

func (s *Server) createChat() *Chat {
	s.lastChatID++
	for s.lastChatID == 0 || s.chats[s.lastChatID] != nil {
		s.lastChatID++
	}
	c := &Chat{ID: s.lastChatID, Invites: make(map[uint16]bool)}
	s.chats[c.ID] = c
	return c
}

func (s *Server) chatByID(id uint32) *Chat {
	if id == 0 {
		return nil
	}
	return s.chats[id]
}

// removeFromChat takes u out of c, telling the remaining members or
// dropping the chat when it becomes empty.
func (s *Server) removeFromChat(c *Chat, u *User) {
	c.removeUser(u)
	if len(c.Users) == 0 {
		delete(s.chats, c.ID)
		return
	}
	leave := protocol.NewPacket(protocol.TypeServerChatUserLeave)
	leave.AddNumberBits(protocol.DataChatID, uint64(c.ID), 32)
	leave.AddNumber(protocol.DataUID, uint64(u.UID))
	s.sendTo(leave, c.Users...)
}

// leaveChats removes a disconnected user from every chat and invite list.
func (s *Server) leaveChats(u *User) {
	for _, c := range s.chats {
		delete(c.Invites, u.UID)
		if c.hasUser(u) {
			s.removeFromChat(c, u)
		}
	}
}

// addUserFields appends the member description used by chat replies.
func addUserFields(p *protocol.Packet, u *User) {
	p.AddNumber(protocol.DataUID, uint64(u.UID))
	p.AddString(protocol.DataNick, u.Nick)
	p.AddNumber(protocol.DataIcon, uint64(u.Icon))
	p.AddNumber(protocol.DataStatus, uint64(u.Status))
	if u.Color >= 0 {
		p.AddNumberBits(protocol.DataColor, uint64(u.Color), 32)
	}
}
