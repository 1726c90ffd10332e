package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/phxd-project/phxd/internal/events"
	"github.com/phxd-project/phxd/internal/util"
)

// ChatLog appends public chat and presence changes to one text file per
// day, named YYYY-MM-DD.txt.
type ChatLog struct {
	mu     sync.Mutex
	dir    string
	day    string
	file   *os.File
	logger zerolog.Logger
}

// NewChatLog creates a log writing into dir. Files are opened lazily.
func NewChatLog(dir string) *ChatLog {
	return &ChatLog{
		dir:    dir,
		logger: util.ComponentLogger("chatlog"),
	}
}

// Subscribe records chat and presence events published on bus, in the
// order they were published.
func (l *ChatLog) Subscribe(bus *events.EventBus) {
	bus.SubscribeOrdered(events.EventChatPublic, "chatlog", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.ChatPayload)
		if !ok || p.ChatID != 0 {
			return nil
		}
		kind := "CHAT"
		if p.Emote {
			kind = "EMOTE"
		}
		return l.Write(e.Time, p.Login, p.Nick, kind, p.Text)
	})
	bus.SubscribeOrdered(events.EventUserLogin, "chatlog", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.UserPayload); ok {
			return l.Write(e.Time, p.Login, p.Nick, "JOIN", "")
		}
		return nil
	})
	bus.SubscribeOrdered(events.EventUserChange, "chatlog", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.UserPayload); ok && p.Nick != p.OldNick {
			return l.Write(e.Time, p.Login, p.Nick, "CHANGE", p.OldNick)
		}
		return nil
	})
	bus.SubscribeOrdered(events.EventUserLeave, "chatlog", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.UserPayload); ok {
			return l.Write(e.Time, p.Login, p.Nick, "LEAVE", "")
		}
		return nil
	})
}

// Write appends one tab separated line stamped with at, switching files
// when the day changes.
func (l *ChatLog) Write(at time.Time, login, nick, kind, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotate(at); err != nil {
		l.logger.Warn().Err(err).Msg("failed to open chat log")
		return err
	}
	line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s", at.Format("15:04:05"), login, nick, kind, text)
	_, err := fmt.Fprintln(l.file, strings.TrimSpace(line))
	return err
}

func (l *ChatLog) rotate(now time.Time) error {
	day := now.Format("2006-01-02")
	if l.file != nil && day == l.day {
		return nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(l.dir, day+".txt"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.file = f
	l.day = day
	return nil
}

// Close closes the current file.
func (l *ChatLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
