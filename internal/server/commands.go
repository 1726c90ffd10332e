package server

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/phxd-project/phxd/internal/protocol"
	"github.com/phxd-project/phxd/internal/util"
)

// Command handles one "/name args" chat line. ref is the private chat the
// line was typed in, zero for public chat.
type Command func(s *Server, u *User, args string, ref uint32)

func (s *Server) chatCommands() map[string]Command {
	return map[string]Command{
		"away":      (*Server).cmdAway,
		"broadcast": (*Server).cmdBroadcast,
		"color":     (*Server).cmdColor,
		"find":      (*Server).cmdFind,
		"icon":      (*Server).cmdIcon,
		"kick":      (*Server).cmdKick,
		"me":        (*Server).cmdMe,
		"mimic":     (*Server).cmdMimic,
		"uptime":    (*Server).cmdUptime,
		"xfers":     (*Server).cmdXfers,
	}
}

// dispatchCommand runs line as a chat command and reports whether it was
// one. Unknown commands are left for the chat.
func (s *Server) dispatchCommand(u *User, line string, ref uint32) bool {
	if !strings.HasPrefix(line, "/") {
		return false
	}
	name, args, _ := strings.Cut(line[1:], " ")
	cmd, ok := s.commands[strings.ToLower(name)]
	if !ok {
		return false
	}
	s.logger.Debug().Str("user", u.String()).Str("command", name).Msg("chat command")
	cmd(s, u, strings.TrimSpace(args), ref)
	return true
}

// sendChatLine sends server text to u alone, in the chat it came from.
func (s *Server) sendChatLine(u *User, text string, ref uint32) {
	chat := protocol.NewPacket(protocol.TypeServerChat)
	chat.AddString(protocol.DataString, text)
	if ref > 0 {
		chat.AddNumberBits(protocol.DataChatID, uint64(ref), 32)
	}
	s.sendTo(chat, u)
}

func (s *Server) cmdAway(u *User, args string, ref uint32) {
	u.Away = !u.Away
	old := u.Status
	u.setStatus(protocol.StatusAway, u.Away)
	if u.Status != old {
		s.sendUserChange(u, false)
	}
}

func (s *Server) cmdBroadcast(u *User, args string, ref uint32) {
	if args != "" && u.HasPerm(PermBroadcast) {
		s.broadcast(args)
	}
}

func (s *Server) cmdMe(u *User, args string, ref uint32) {
	chat := protocol.NewPacket(protocol.TypeChat)
	chat.AddString(protocol.DataString, args)
	chat.AddNumber(protocol.DataOption, 1)
	if ref > 0 {
		chat.AddNumberBits(protocol.DataChatID, uint64(ref), 32)
	}
	s.handleChat(u, chat)
}

func (s *Server) cmdUptime(u *User, args string, ref uint32) {
	days, hours, mins, secs := util.Uptime(s.uptime())
	text := fmt.Sprintf("\r > Uptime: %d days, %d hours, %d minutes, and %d seconds.", days, hours, mins, secs)
	if host, err := util.HostUptime(); err == nil {
		text += "\r > Host uptime: " + util.FormatElapsed(host)
	}
	s.sendChatLine(u, text, ref)
}

func (s *Server) cmdXfers(u *User, args string, ref uint32) {
	if !u.HasPerm(PermUserInfo) {
		return
	}
	xfers := s.xfers.List()
	var sb strings.Builder
	if len(xfers) == 0 {
		sb.WriteString("\r > No file transfers in progress.")
	} else {
		sb.WriteString("\r > File transfers:")
		for _, t := range xfers {
			fmt.Fprintf(&sb, "\r > (%s) %s", t.Owner().Nick, t)
		}
	}
	s.sendChatLine(u, sb.String(), ref)
}

// maxFindResults bounds the reply of /find to what one chat packet holds.
const maxFindResults = 200

func (s *Server) cmdFind(u *User, args string, ref uint32) {
	if args == "" {
		return
	}
	root := s.cfg.GetFiles().Root
	needle := strings.ToUpper(args)
	var matches []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == root {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.Contains(strings.ToUpper(name), needle) {
			return nil
		}
		rel := strings.TrimPrefix(path, root)
		if d.IsDir() {
			matches = append(matches, "+ "+rel)
		} else {
			matches = append(matches, "- "+rel)
		}
		if len(matches) >= maxFindResults {
			return filepath.SkipAll
		}
		return nil
	})

	found := "(none)"
	if len(matches) > 0 {
		found = strings.Join(matches, "\r > ")
	}
	text := fmt.Sprintf("\r > --- search results for '%s' ------------\r > %s", args, found)
	s.sendChatLine(u, truncateBytes(text, maxNewsText), ref)
}

// cmdColor sets a nick color: "/color rrggbb" or, with the modify accounts
// privilege, "/color uid rrggbb".
func (s *Server) cmdColor(u *User, args string, ref uint32) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return
	}
	target := u
	rgb := parts[0]
	if len(parts) > 1 {
		if !u.HasPerm(PermModifyUsers) {
			return
		}
		target = s.userFromArg(parts[0])
		rgb = parts[1]
	}
	if target == nil {
		return
	}
	rgb = strings.TrimPrefix(rgb, "#")
	if len(rgb) != 6 {
		return
	}
	color, err := strconv.ParseUint(rgb, 16, 32)
	if err != nil {
		return
	}
	target.Color = int64(color)
	s.sendUserChange(target, false)
}

func (s *Server) cmdKick(u *User, args string, ref uint32) {
	for _, field := range strings.Fields(args) {
		who := s.userFromArg(field)
		if who == nil {
			continue
		}
		if err := s.kick(u, who, false); err != nil {
			s.sendChatLine(u, "\r > "+err.Error(), ref)
		}
	}
}

// cmdMimic copies another user's icon and color: "/mimic uid" or, with
// the modify accounts privilege, "/mimic target source".
func (s *Server) cmdMimic(u *User, args string, ref uint32) {
	target, source := s.targetAndSource(u, args)
	if target == nil || source == nil {
		return
	}
	target.Gif = source.Gif
	target.Color = source.Color
	s.sendIconChange(target)
	s.sendUserChange(target, false)
}

// cmdIcon copies another user's custom icon.
func (s *Server) cmdIcon(u *User, args string, ref uint32) {
	target, source := s.targetAndSource(u, args)
	if target == nil || source == nil {
		return
	}
	target.Gif = source.Gif
	s.sendIconChange(target)
}

func (s *Server) targetAndSource(u *User, args string) (*User, *User) {
	parts := strings.Fields(args)
	switch {
	case len(parts) == 1:
		return u, s.userFromArg(parts[0])
	case len(parts) > 1 && u.HasPerm(PermModifyUsers):
		return s.userFromArg(parts[0]), s.userFromArg(parts[1])
	}
	return nil, nil
}

func (s *Server) userFromArg(arg string) *User {
	uid, err := strconv.ParseUint(arg, 10, 16)
	if err != nil {
		return nil
	}
	who := s.userByUID(uint16(uid))
	if who == nil || !who.Valid {
		return nil
	}
	return who
}

func (s *Server) uptime() time.Duration {
	return time.Since(s.startTime)
}
