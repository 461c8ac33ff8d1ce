package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"coedit.org/internal/audit"
	"coedit.org/internal/obs"
	"coedit.org/internal/protocol"
	"coedit.org/internal/session"
)

const readBufferSize = 4096

// connSender serializes writes to one connection so a broadcast and a direct
// response never interleave mid-frame.
type connSender struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *connSender) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(payload)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	snd := &connSender{conn: conn}
	limiter := rate.NewLimiter(rate.Limit(s.rps), s.burst)

	obs.ConnOpened()
	defer obs.ConnClosed()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	ctx = audit.WithConnID(ctx, connID)

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			s.teardown(connID)
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			s.teardown(connID)
			return
		}

		req, err := protocol.Decode(buf[:n])
		if err != nil {
			s.respondError(connID, snd, err)
			continue
		}

		if _, ok := req.(protocol.DisconnectRequest); ok {
			s.disconnect(connID)
			return
		}

		start := s.now()
		err = s.dispatch(ctx, connID, snd, req)
		status := "ok"
		if err != nil {
			status = "error"
			s.respondError(connID, snd, err)
		}
		obs.ObserveRequest(req.Code().String(), status, start)
		obs.LogRequest(connID, req.Code().String(), status, start)
	}
}

func (s *Server) dispatch(ctx context.Context, connID string, snd session.Sender, req protocol.Request) error {
	switch r := req.(type) {
	case protocol.LoginRequest:
		return s.login(ctx, connID, snd, r)
	case protocol.SignupRequest:
		return s.signup(ctx, connID, snd, r)
	case protocol.LogoutRequest:
		return s.logout(connID, snd)
	case protocol.ForgotPasswordRequest:
		return s.forgotPassword(ctx, connID, snd, r)
	case protocol.InsertRequest:
		return s.insert(connID, r)
	case protocol.DeleteRequest:
		return s.deleteRange(connID, r)
	case protocol.ReplaceRequest:
		return s.replace(connID, r)
	case protocol.CreateDocRequest:
		return s.createDoc(ctx, connID, snd, r)
	case protocol.DeleteDocRequest:
		return s.deleteDoc(ctx, connID, snd, r)
	case protocol.JoinDocRequest:
		return s.joinDoc(ctx, connID, snd, r)
	case protocol.LeaveDocRequest:
		return s.leaveDoc(connID, snd)
	case protocol.ListDocsRequest:
		return s.listDocs(connID, snd)
	case protocol.InitialContentRequest:
		return s.initialContent(connID, snd, r)
	case protocol.GetUsersRequest:
		return s.getUsers(connID, snd)
	case protocol.GetUsersOnDocRequest:
		return s.getUsersOnDoc(connID, snd, r)
	case protocol.GetMessagesRequest:
		return s.getMessages(ctx, connID, snd, r)
	case protocol.PostMessageRequest:
		return s.postMessage(ctx, connID, r)
	case protocol.RequestPermissionRequest:
		return s.requestPermission(ctx, connID, snd, r)
	case protocol.ApprovePermissionRequest:
		return s.approvePermission(ctx, connID, snd, r)
	case protocol.RejectPermissionRequest:
		return s.rejectPermission(ctx, connID, snd, r)
	case protocol.ListPermissionReqRequest:
		return s.listPermissionRequests(ctx, connID, snd)
	default:
		return errors.New("unhandled request")
	}
}

// respondError sends the generic failure response. A session inside a
// document receives the authoritative file content so the client can resync;
// everyone else receives the error text.
func (s *Server) respondError(connID string, snd session.Sender, cause error) {
	if sess, ok := s.reg.Lookup(connID); ok && sess.Document != "" {
		if data, err := s.content.Read(sess.Document); err == nil {
			_ = snd.Send(protocol.NewBuilder(protocol.RespError).Str(data).Bytes())
			return
		}
	}
	_ = snd.Send(protocol.NewBuilder(protocol.RespError).Raw(cause.Error()).Bytes())
}

// disconnect handles an explicit disconnect request: cleanup plus notices.
func (s *Server) disconnect(connID string) {
	s.teardown(connID)
}

// teardown removes a connection's session and room membership, notifying
// peers. Safe to call more than once; later calls are no-ops.
func (s *Server) teardown(connID string) {
	sess, ok := s.reg.Lookup(connID)
	if !ok {
		return
	}
	if sess.Document != "" {
		notice := protocol.NewBuilder(protocol.NoticeUserLeftDoc).
			Str(sess.Username).Str(sess.Document).Bytes()
		// Raw registry broadcast here: a failed peer will be torn down by
		// its own read loop, recursing from teardown would not terminate.
		s.reg.Broadcast(notice, connID, session.ScopeDocument)
		s.rooms.Leave(sess.Document, connID)
	}
	s.reg.Remove(connID)
	off := protocol.NewBuilder(protocol.NoticeUserOffline).Str(sess.Username).Bytes()
	s.reg.Broadcast(off, connID, session.ScopeLobby)
}

// broadcast fans payload out and tears down any connection whose send
// failed.
func (s *Server) broadcast(payload []byte, excludeConn string, scope session.Scope) {
	failed := s.reg.Broadcast(payload, excludeConn, scope)
	name := "document"
	if scope == session.ScopeLobby {
		name = "lobby"
	}
	obs.ObserveBroadcast(name, len(failed))
	for _, id := range failed {
		s.teardown(id)
	}
}
