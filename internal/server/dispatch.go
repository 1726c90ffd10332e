package server

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/phxd-project/phxd/internal/protocol"
)

// PacketHandler processes one client transaction. Returning a
// *HandlerError sends its message as an error reply.
type PacketHandler func(s *Server, u *User, p *protocol.Packet) error

// packetHandlers maps every supported transaction type to its handler.
func (s *Server) packetHandlers() map[uint32]PacketHandler {
	return map[uint32]PacketHandler{
		// user
		protocol.TypeLogin:               (*Server).handleLogin,
		protocol.TypeUserChange:          (*Server).handleUserChange,
		protocol.TypeUserList:            (*Server).handleUserList,
		protocol.TypeUserInfo:            requirePerm(PermUserInfo, "view user information", (*Server).handleUserInfo),
		protocol.TypeUserInfoUnformatted: requirePerm(PermUserInfo, "view user information", (*Server).handleUserInfoUnformatted),
		protocol.TypeKick:                (*Server).handleKick,
		protocol.TypePing:                (*Server).handlePing,

		// chat
		protocol.TypeChat:        (*Server).handleChat,
		protocol.TypeChatCreate:  requirePerm(PermCreateChats, "create private chats", (*Server).handleChatCreate),
		protocol.TypeChatInvite:  (*Server).handleChatInvite,
		protocol.TypeChatDecline: (*Server).handleChatDecline,
		protocol.TypeChatJoin:    (*Server).handleChatJoin,
		protocol.TypeChatLeave:   (*Server).handleChatLeave,
		protocol.TypeChatSubject: (*Server).handleChatSubject,

		// messages
		protocol.TypeMsg:       requirePerm(PermSendMessages, "send messages", (*Server).handleMessage),
		protocol.TypeBroadcast: requirePerm(PermBroadcast, "broadcast messages", (*Server).handleBroadcast),

		// news
		protocol.TypeNewsGet:            requirePerm(PermReadNews, "read the news", (*Server).handleNewsGet),
		protocol.TypeNewsPost:           requirePerm(PermPostNews, "post news", (*Server).handleNewsPost),
		protocol.TypeNewsGetUnformatted: requirePerm(PermReadNews, "read the news", (*Server).handleNewsGetUnformatted),

		// accounts
		protocol.TypeAccountRead:       requirePerm(PermReadUsers, "view accounts", (*Server).handleAccountRead),
		protocol.TypeAccountModify:     requirePerm(PermModifyUsers, "modify accounts", (*Server).handleAccountModify),
		protocol.TypeAccountCreate:     requirePerm(PermCreateUsers, "create accounts", (*Server).handleAccountCreate),
		protocol.TypeAccountDelete:     requirePerm(PermDeleteUsers, "delete accounts", (*Server).handleAccountDelete),
		protocol.TypeAccountSelfModify: requirePerm(PermChangePassword, "modify your account", (*Server).handleAccountSelfModify),
		protocol.TypePermissionList:    (*Server).handlePermissionList,

		// files
		protocol.TypeFileList:    (*Server).handleFileList,
		protocol.TypeFileGet:     requirePerm(PermDownloadFiles, "download files", (*Server).handleFileGet),
		protocol.TypeFilePut:     requirePerm(PermUploadFiles, "upload files", (*Server).handleFilePut),
		protocol.TypeFileDelete:  (*Server).handleFileDelete,
		protocol.TypeFileMkdir:   requirePerm(PermCreateFolders, "create folders", (*Server).handleFileMkdir),
		protocol.TypeFileMove:    (*Server).handleFileMove,
		protocol.TypeFileGetInfo: (*Server).handleFileGetInfo,
		protocol.TypeFileSetInfo: (*Server).handleFileSetInfo,

		// icons
		protocol.TypeIconList: (*Server).handleIconList,
		protocol.TypeIconSet:  (*Server).handleIconSet,
		protocol.TypeIconGet:  (*Server).handleIconGet,
	}
}

// requirePerm wraps h so it only runs for users holding perm.
func requirePerm(perm Perm, action string, h PacketHandler) PacketHandler {
	return func(s *Server, u *User, p *protocol.Packet) error {
		if !u.HasPerm(perm) {
			return Fail(fmt.Sprintf("You are not allowed to %s.", action))
		}
		return h(s, u, p)
	}
}

// dispatch runs the handler for p and turns its outcome into a reply.
// Handler errors become error replies, fatal ones close the connection
// after the reply is flushed, and panics are contained to the packet.
func (s *Server) dispatch(u *User, p *protocol.Packet) {
	typeName := strconv.FormatUint(uint64(p.Kind), 10)
	_, span := s.tracer.Start(s.ctx, "hotline.packet "+typeName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int("hotline.type", int(p.Kind)),
			attribute.Int("hotline.seq", int(p.Seq)),
			attribute.Int("hotline.uid", int(u.UID)),
		))
	start := time.Now()
	outcome := "ok"
	defer func() {
		s.metrics.PacketHandled(typeName, outcome, time.Since(start))
		span.End()
	}()

	defer func() {
		if r := recover(); r != nil {
			outcome = "internal"
			s.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Uint32("type", p.Kind).
				Str("user", u.String()).
				Msg("handler panic")
			span.SetStatus(codes.Error, "panic")
			s.sendTo(p.Error(genericError), u)
		}
	}()

	h, ok := s.handlers[p.Kind]
	if !ok {
		outcome = "unknown"
		s.logger.Debug().Uint32("type", p.Kind).Str("user", u.String()).Msg("unhandled packet type")
		return
	}

	var err error
	if !u.Valid && p.Kind != protocol.TypeLogin && p.Kind != protocol.TypePing {
		err = Fail("You must log in first.")
	} else {
		err = h(s, u, p)
	}
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var herr *HandlerError
	if !errors.As(err, &herr) {
		outcome = "internal"
		s.logger.Error().Err(err).Uint32("type", p.Kind).Str("user", u.String()).Msg("handler failed")
		s.sendTo(p.Error(genericError), u)
		return
	}

	s.sendTo(p.Error(herr.Msg), u)
	if herr.Fatal {
		outcome = "fatal"
		s.logger.Debug().Str("user", u.String()).Str("reason", herr.Msg).Msg("fatal error, disconnecting")
		u.conn.CloseAfterFlush()
		return
	}
	outcome = "fail"
}
