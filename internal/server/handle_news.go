package server

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/phxd-project/phxd/internal/db"
	"github.com/phxd-project/phxd/internal/events"
	"github.com/phxd-project/phxd/internal/protocol"
)

// maxNewsText is the largest news string a single object can carry.
const maxNewsText = 0xFFFF

func (s *Server) formatPost(post db.NewsPost) string {
	nc := s.cfg.GetNews()
	return fmt.Sprintf(nc.Format, post.Nick, post.Login, post.Date.Format(nc.DateLayout), post.Body)
}

// newsQuery reads the paging fields shared by both news readers.
func (s *Server) newsQuery(p *protocol.Packet) (limit, offset int, search string) {
	limit = int(p.GetNumber(protocol.DataLimit, uint64(s.cfg.GetNews().DefaultLimit)))
	offset = int(p.GetNumber(protocol.DataOffset, 0))
	search = p.GetString(protocol.DataSearch, "")
	return limit, offset, search
}

func (s *Server) handleNewsGet(u *User, p *protocol.Packet) error {
	limit, offset, search := s.newsQuery(p)
	posts, count, err := s.store.LoadNewsPosts(limit, offset, search)
	if err != nil {
		return fmt.Errorf("load news: %w", err)
	}

	var sb strings.Builder
	for _, post := range posts {
		sb.WriteString(s.formatPost(post))
	}

	reply := p.Response()
	reply.AddString(protocol.DataString, truncateBytes(sb.String(), maxNewsText))
	reply.AddNumber(protocol.DataLimit, uint64(limit))
	reply.AddNumber(protocol.DataOffset, uint64(offset))
	reply.AddNumber(protocol.DataCount, uint64(count))
	s.sendTo(reply, u)
	return nil
}

func (s *Server) handleNewsGetUnformatted(u *User, p *protocol.Packet) error {
	limit, offset, search := s.newsQuery(p)
	posts, count, err := s.store.LoadNewsPosts(limit, offset, search)
	if err != nil {
		return fmt.Errorf("load news: %w", err)
	}

	reply := p.Response()
	reply.AddNumber(protocol.DataLimit, uint64(limit))
	reply.AddNumber(protocol.DataOffset, uint64(offset))
	reply.AddNumber(protocol.DataCount, uint64(count))
	for _, post := range posts {
		c := protocol.NewContainer()
		c.AddNumber(protocol.DataPostID, uint64(post.ID))
		c.AddString(protocol.DataNick, post.Nick)
		c.AddString(protocol.DataLogin, post.Login)
		c.Add(protocol.DataDateCreated, protocol.EncodeDate(post.Date))
		c.AddString(protocol.DataString, post.Body)
		if err := reply.AddContainer(protocol.DataPost, c); err != nil {
			return err
		}
	}
	s.sendTo(reply, u)
	return nil
}

func (s *Server) handleNewsPost(u *User, p *protocol.Packet) error {
	body := p.GetString(protocol.DataString, "")
	if body == "" {
		return Fail("News post is empty.")
	}
	post := &db.NewsPost{
		Nick:  u.Nick,
		Login: u.Login(),
		Body:  body,
		Date:  time.Now(),
	}
	if err := s.store.SaveNewsPost(post); err != nil {
		return fmt.Errorf("save news post: %w", err)
	}

	notify := protocol.NewPacket(protocol.TypeServerNewsPost)
	notify.AddString(protocol.DataString, s.formatPost(*post))
	s.sendFiltered(notify, func(other *User) bool { return other.HasPerm(PermReadNews) })
	s.sendTo(p.Response(), u)

	s.bus.Publish(events.EventNewsPosted, "server", events.NewsPayload{
		ID:    post.ID,
		Nick:  post.Nick,
		Login: post.Login,
		Body:  post.Body,
	})
	return nil
}

// truncateBytes cuts str to at most max bytes without splitting a rune.
func truncateBytes(str string, max int) string {
	if len(str) <= max {
		return str
	}
	for max > 0 && !utf8.RuneStart(str[max]) {
		max--
	}
	return str[:max]
}
