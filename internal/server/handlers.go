package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"coedit.org/internal/audit"
	"coedit.org/internal/protocol"
	"coedit.org/internal/room"
	"coedit.org/internal/session"
	"coedit.org/internal/store"
)

// resolveUser accepts a username or an email address and returns the
// account, so clients can log in with either.
func (s *Server) resolveUser(ctx context.Context, identity string) (store.User, error) {
	u, err := s.store.UserByName(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return s.store.UserByEmail(ctx, identity)
	}
	return u, err
}

func (s *Server) login(ctx context.Context, connID string, snd session.Sender, req protocol.LoginRequest) error {
	u, err := s.resolveUser(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return store.ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	if err := s.store.CheckPassword(ctx, u.Username, req.Password); err != nil {
		return err
	}
	if _, err := s.reg.Register(connID, u.ID, u.Username, u.Email, snd); err != nil {
		return err
	}

	resp := protocol.NewBuilder(protocol.RespLogin).
		Str(u.Username).Raw(strconv.FormatInt(u.ID, 10)).Bytes()
	if err := snd.Send(resp); err != nil {
		return err
	}
	s.broadcast(protocol.NewBuilder(protocol.NoticeUserOnline).Str(u.Username).Bytes(),
		connID, session.ScopeLobby)
	_ = audit.LogEvent(ctx, "user.login", map[string]any{"username": u.Username})
	return nil
}

func (s *Server) signup(ctx context.Context, connID string, snd session.Sender, req protocol.SignupRequest) error {
	u, err := s.store.CreateUser(ctx, req.Username, req.Password, req.Email)
	if errors.Is(err, store.ErrAlreadyExists) {
		return errors.New("invalid name or email")
	}
	if err != nil {
		return err
	}
	// A fresh account is logged in immediately.
	if _, err := s.reg.Register(connID, u.ID, u.Username, u.Email, snd); err != nil {
		return err
	}

	resp := protocol.NewBuilder(protocol.RespSignup).
		Raw(strconv.FormatInt(u.ID, 10)).Bytes()
	if err := snd.Send(resp); err != nil {
		return err
	}
	s.broadcast(protocol.NewBuilder(protocol.NoticeUserOnline).Str(u.Username).Bytes(),
		connID, session.ScopeLobby)
	_ = audit.LogEvent(ctx, "user.signup", map[string]any{"username": u.Username})
	return nil
}

func (s *Server) logout(connID string, snd session.Sender) error {
	if _, err := s.sessionFor(connID); err != nil {
		return err
	}
	if err := snd.Send(protocol.Encode(protocol.RespLogout)); err != nil {
		return err
	}
	// The connection survives a logout; the client may log in again.
	s.teardown(connID)
	return nil
}

func (s *Server) forgotPassword(ctx context.Context, connID string, snd session.Sender, req protocol.ForgotPasswordRequest) error {
	u, err := s.resolveUser(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return store.ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	if s.reg.Active(u.Username, u.Email) {
		return errors.New("user logged in, can't change password")
	}
	if err := s.store.ChangePassword(ctx, u.Username, req.OldPassword, req.NewPassword); err != nil {
		return err
	}
	// A successful password change doubles as a login.
	if _, err := s.reg.Register(connID, u.ID, u.Username, u.Email, snd); err != nil {
		return err
	}

	resp := protocol.NewBuilder(protocol.RespForgotPassword).
		Str(u.Username).Raw(strconv.FormatInt(u.ID, 10)).Bytes()
	if err := snd.Send(resp); err != nil {
		return err
	}
	s.broadcast(protocol.NewBuilder(protocol.NoticeUserOnline).Str(u.Username).Bytes(),
		connID, session.ScopeLobby)
	_ = audit.LogEvent(ctx, "user.password_change", map[string]any{"username": u.Username})
	return nil
}

func (s *Server) createDoc(ctx context.Context, connID string, snd session.Sender, req protocol.CreateDocRequest) error {
	sess, err := s.sessionFor(connID)
	if err != nil {
		return err
	}
	doc, err := s.store.CreateDocument(ctx, req.Name, sess.UserID)
	if errors.Is(err, store.ErrAlreadyExists) {
		return errors.New("document already exists")
	}
	if err != nil {
		return err
	}
	if err := s.content.Create(req.Name); err != nil {
		return err
	}
	if err := s.store.CreateChat(ctx, req.Name); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return err
	}
	if err := s.store.GrantPermission(ctx, sess.UserID, doc.ID); err != nil {
		return err
	}

	if err := snd.Send(protocol.NewBuilder(protocol.RespCreateDoc).Str(req.Name).Bytes()); err != nil {
		return err
	}

	// The creator goes straight into the new document.
	s.rooms.OpenOrJoin(req.Name, connID)
	_ = s.rooms.WithLock(req.Name, func(r *room.Room) error {
		r.Append(room.Action{
			Kind:      room.KindCreateDocument,
			AuthorID:  sess.UserID,
			Timestamp: s.now().UnixMilli(),
		})
		return nil
	})

	s.broadcast(protocol.NewBuilder(protocol.NoticeDocAdded).Str(req.Name).Bytes(),
		connID, session.ScopeLobby)
	s.broadcast(protocol.NewBuilder(protocol.NoticeUserJoinedDoc).Str(sess.Username).Str(req.Name).Bytes(),
		connID, session.ScopeLobby)
	if err := s.reg.SetDocument(connID, req.Name); err != nil {
		return err
	}

	_ = audit.LogEvent(ctx, "document.create", map[string]any{
		"document": req.Name, "owner": sess.Username,
	})
	return nil
}

func (s *Server) deleteDoc(ctx context.Context, connID string, snd session.Sender, req protocol.DeleteDocRequest) error {
	sess, err := s.sessionFor(connID)
	if err != nil {
		return err
	}
	if err := s.rooms.Delete(req.Name); errors.Is(err, room.ErrOccupied) {
		return errors.New("cannot delete, someone is inside")
	}
	doc, err := s.store.DocumentByName(ctx, req.Name)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("no such document")
	}
	if err != nil {
		return err
	}
	allowed, err := s.store.HasPermission(ctx, sess.UserID, doc.ID)
	if err != nil {
		return err
	}
	if !allowed {
		return errPermissionDenied
	}

	if err := s.content.Delete(req.Name); err != nil {
		return err
	}
	if err := s.store.DeleteChat(ctx, req.Name); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, req.Name); err != nil {
		return err
	}
	if err := s.store.RevokePermissions(ctx, doc.ID); err != nil {
		return err
	}
	if err := s.store.DeletePermissionRequestsForDocument(ctx, doc.ID); err != nil {
		return err
	}

	if err := snd.Send(protocol.NewBuilder(protocol.RespDeleteDoc).Str(req.Name).Bytes()); err != nil {
		return err
	}
	s.broadcast(protocol.NewBuilder(protocol.NoticeDocRemoved).Str(req.Name).Bytes(),
		connID, session.ScopeLobby)

	_ = audit.LogEvent(ctx, "document.delete", map[string]any{
		"document": req.Name, "by": sess.Username,
	})
	return nil
}

func (s *Server) joinDoc(ctx context.Context, connID string, snd session.Sender, req protocol.JoinDocRequest) error {
	sess, err := s.sessionFor(connID)
	if err != nil {
		return err
	}
	doc, err := s.store.DocumentByName(ctx, req.Name)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("no such document")
	}
	if err != nil {
		return err
	}
	allowed, err := s.store.HasPermission(ctx, sess.UserID, doc.ID)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("you are not allowed to join %s", req.Name)
	}

	if err := snd.Send(protocol.NewBuilder(protocol.RespJoinDoc).Str(req.Name).Bytes()); err != nil {
		return err
	}

	s.rooms.OpenOrJoin(req.Name, connID)
	if err := s.reg.SetDocument(connID, req.Name); err != nil {
		return err
	}

	notice := protocol.NewBuilder(protocol.NoticeUserJoinedDoc).
		Str(sess.Username).Str(req.Name).Bytes()
	s.broadcast(notice, connID, session.ScopeDocument)
	s.broadcast(notice, connID, session.ScopeLobby)
	return nil
}

func (s *Server) leaveDoc(connID string, snd session.Sender) error {
	sess, err := s.documentSessionFor(connID)
	if err != nil {
		return err
	}
	doc := sess.Document

	if err := snd.Send(protocol.Encode(protocol.RespLeaveDoc)); err != nil {
		return err
	}

	notice := protocol.NewBuilder(protocol.NoticeUserLeftDoc).
		Str(sess.Username).Str(doc).Bytes()
	// Document peers first, while the session still counts as inside.
	s.broadcast(notice, connID, session.ScopeDocument)
	s.broadcast(notice, connID, session.ScopeLobby)

	s.rooms.Leave(doc, connID)
	return s.reg.SetDocument(connID, "")
}

func (s *Server) listDocs(connID string, snd session.Sender) error {
	if _, err := s.sessionFor(connID); err != nil {
		return err
	}
	names, err := s.content.List()
	if err != nil {
		return err
	}
	b := protocol.NewBuilder(protocol.RespListDocs)
	for _, name := range names {
		b.Str(name)
	}
	return snd.Send(b.Bytes())
}

func (s *Server) initialContent(connID string, snd session.Sender, req protocol.InitialContentRequest) error {
	sess, err := s.documentSessionFor(connID)
	if err != nil {
		return err
	}
	data, err := s.content.Read(req.Name)
	if err != nil {
		return err
	}
	_ = s.rooms.WithLock(req.Name, func(r *room.Room) error {
		r.Append(room.Action{
			Kind:      room.KindInitialLoad,
			AuthorID:  sess.UserID,
			Timestamp: s.now().UnixMilli(),
		})
		return nil
	})
	return snd.Send(protocol.NewBuilder(protocol.RespInitialContent).Str(data).Bytes())
}

func (s *Server) getUsers(connID string, snd session.Sender) error {
	if _, err := s.sessionFor(connID); err != nil {
		return err
	}
	b := protocol.NewBuilder(protocol.RespGetUsers)
	for _, sess := range s.reg.Snapshot() {
		b.Str(sess.Username).Str(sess.Document)
	}
	return snd.Send(b.Bytes())
}

func (s *Server) getUsersOnDoc(connID string, snd session.Sender, req protocol.GetUsersOnDocRequest) error {
	if _, err := s.sessionFor(connID); err != nil {
		return err
	}
	b := protocol.NewBuilder(protocol.RespGetUsersOnDoc)
	for _, id := range s.rooms.Participants(req.Name) {
		if sess, ok := s.reg.Lookup(id); ok {
			b.Str(sess.Username)
		}
	}
	return snd.Send(b.Bytes())
}

func (s *Server) getMessages(ctx context.Context, connID string, snd session.Sender, req protocol.GetMessagesRequest) error {
	if _, err := s.sessionFor(connID); err != nil {
		return err
	}
	blob, err := s.store.ChatData(ctx, req.Name)
	if err != nil {
		return err
	}
	transcript, err := s.cipher.Decrypt(ctx, blob)
	if err != nil {
		return err
	}
	return snd.Send(protocol.NewBuilder(protocol.RespGetMessages).Raw(transcript).Bytes())
}

// frameStr is the transcript framing: 5-digit length then the raw bytes,
// the same convention the wire uses.
func frameStr(s string) string {
	return fmt.Sprintf("%05d%s", len(s), s)
}

func (s *Server) postMessage(ctx context.Context, connID string, req protocol.PostMessageRequest) error {
	sess, err := s.sessionFor(connID)
	if err != nil {
		return err
	}
	blob, err := s.store.ChatData(ctx, req.Doc)
	if err != nil {
		return err
	}
	transcript, err := s.cipher.Decrypt(ctx, blob)
	if err != nil {
		return err
	}
	transcript += frameStr(req.Data) + frameStr(sess.Username)
	sealed, err := s.cipher.Encrypt(ctx, transcript)
	if err != nil {
		return err
	}
	if err := s.store.UpdateChat(ctx, req.Doc, sealed); err != nil {
		return err
	}

	// Peers inside the document see the message; the author renders their
	// own copy locally and gets no echo.
	payload := protocol.NewBuilder(protocol.RespPostMessage).
		Str(req.Data).Str(sess.Username).Bytes()
	s.broadcast(payload, connID, session.ScopeDocument)
	return nil
}

func (s *Server) requestPermission(ctx context.Context, connID string, snd session.Sender, req protocol.RequestPermissionRequest) error {
	sess, err := s.sessionFor(connID)
	if err != nil {
		return err
	}
	doc, err := s.store.DocumentByName(ctx, req.Doc)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("no such document")
	}
	if err != nil {
		return err
	}
	if _, err := s.store.CreatePermissionRequest(ctx, sess.UserID, doc.ID, doc.OwnerID); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return errors.New("request already exists, waiting for the owner of the file to approve")
		}
		return err
	}
	return snd.Send(protocol.NewBuilder(protocol.RespRequestPermission).Str(req.Doc).Bytes())
}

func (s *Server) approvePermission(ctx context.Context, connID string, snd session.Sender, req protocol.ApprovePermissionRequest) error {
	sess, err := s.sessionFor(connID)
	if err != nil {
		return err
	}
	doc, err := s.store.DocumentByName(ctx, req.Doc)
	if err != nil {
		return err
	}
	u, err := s.store.UserByName(ctx, req.Username)
	if err != nil {
		return err
	}
	if err := s.store.DeletePermissionRequest(ctx, u.ID, doc.ID); err != nil {
		return err
	}
	if err := s.store.GrantPermission(ctx, u.ID, doc.ID); err != nil {
		return err
	}
	if err := snd.Send(protocol.Encode(protocol.RespApprovePermission)); err != nil {
		return err
	}
	// Tell the requester right away when they are online.
	if peer, ok := s.reg.LookupUsername(req.Username); ok {
		_ = peer.Send(protocol.NewBuilder(protocol.RespApprovePermission).Str(req.Doc).Bytes())
	}
	_ = audit.LogEvent(ctx, "permission.approve", map[string]any{
		"document": req.Doc, "user": req.Username, "by": sess.Username,
	})
	return nil
}

func (s *Server) rejectPermission(ctx context.Context, connID string, snd session.Sender, req protocol.RejectPermissionRequest) error {
	sess, err := s.sessionFor(connID)
	if err != nil {
		return err
	}
	doc, err := s.store.DocumentByName(ctx, req.Doc)
	if err != nil {
		return err
	}
	u, err := s.store.UserByName(ctx, req.Username)
	if err != nil {
		return err
	}
	if err := s.store.DeletePermissionRequest(ctx, u.ID, doc.ID); err != nil {
		return err
	}
	if err := snd.Send(protocol.Encode(protocol.RespRejectPermission)); err != nil {
		return err
	}
	if peer, ok := s.reg.LookupUsername(req.Username); ok {
		_ = peer.Send(protocol.NewBuilder(protocol.RespRejectPermission).Str(req.Doc).Bytes())
	}
	_ = audit.LogEvent(ctx, "permission.reject", map[string]any{
		"document": req.Doc, "user": req.Username, "by": sess.Username,
	})
	return nil
}

func (s *Server) listPermissionRequests(ctx context.Context, connID string, snd session.Sender) error {
	sess, err := s.sessionFor(connID)
	if err != nil {
		return err
	}
	reqs, err := s.store.PermissionRequestsForOwner(ctx, sess.UserID)
	if err != nil {
		return err
	}
	b := protocol.NewBuilder(protocol.RespListPermissionReq)
	for _, r := range reqs {
		u, err := s.store.UserByID(ctx, r.UserID)
		if err != nil {
			return err
		}
		doc, err := s.store.DocumentByID(ctx, r.DocumentID)
		if err != nil {
			return err
		}
		b.Str(u.Username).Str(doc.Name)
	}
	return snd.Send(b.Bytes())
}

// Edit pipeline. All three mutations run under the document's room lock:
// resolve against history, apply to content, broadcast to peers, then
// append to history with a fresh server timestamp.

func (s *Server) insert(connID string, req protocol.InsertRequest) error {
	sess, err := s.documentSessionFor(connID)
	if err != nil {
		return err
	}
	return s.applyEdit(sess, room.Action{
		Kind:         room.KindInsert,
		AuthorID:     sess.UserID,
		Timestamp:    s.now().UnixMilli(),
		Index:        req.Index,
		InsertedLen:  len(req.Data) + req.NewlineCount,
		NewlineCount: req.NewlineCount,
		Data:         req.Data,
	})
}

func (s *Server) deleteRange(connID string, req protocol.DeleteRequest) error {
	sess, err := s.documentSessionFor(connID)
	if err != nil {
		return err
	}
	return s.applyEdit(sess, room.Action{
		Kind:         room.KindDelete,
		AuthorID:     sess.UserID,
		Timestamp:    s.now().UnixMilli(),
		Index:        req.Index,
		SelectionLen: req.Length,
		NewlineCount: req.NewlineCount,
	})
}

func (s *Server) replace(connID string, req protocol.ReplaceRequest) error {
	sess, err := s.documentSessionFor(connID)
	if err != nil {
		return err
	}
	return s.applyEdit(sess, room.Action{
		Kind:         room.KindReplace,
		AuthorID:     sess.UserID,
		Timestamp:    s.now().UnixMilli(),
		Index:        req.Index,
		SelectionLen: req.SelectionLength,
		InsertedLen:  len(req.Data),
		NewlineCount: req.NewlineCount,
		Data:         req.Data,
	})
}

func (s *Server) applyEdit(sess *session.Session, act room.Action) error {
	doc := sess.Document
	return s.rooms.WithLock(doc, func(r *room.Room) error {
		adj := r.Resolve(act)
		// The wire index counts newlines separately; the byte offset is
		// index plus the newline correction.
		pos := adj.Index + adj.NewlineCount

		var payload []byte
		var err error
		switch adj.Kind {
		case room.KindInsert:
			err = s.content.Insert(doc, adj.Data, pos)
			payload = protocol.NewBuilder(protocol.RespInsert).
				Str(adj.Data).Num(adj.Index).Num(adj.NewlineCount).Bytes()
		case room.KindDelete:
			err = s.content.DeleteRange(doc, adj.SelectionLen, pos)
			payload = protocol.NewBuilder(protocol.RespDelete).
				Num(adj.SelectionLen).Num(adj.Index).Num(adj.NewlineCount).Bytes()
		case room.KindReplace:
			err = s.content.Replace(doc, adj.SelectionLen, adj.Data, pos)
			payload = protocol.NewBuilder(protocol.RespReplace).
				Num(adj.SelectionLen).Str(adj.Data).Num(adj.Index).Num(adj.NewlineCount).Bytes()
		default:
			return errors.New("not an edit")
		}
		if err != nil {
			return err
		}

		s.broadcast(payload, sess.ConnID, session.ScopeDocument)

		// History records the action as applied, stamped when it committed.
		adj.Timestamp = s.now().UnixMilli()
		r.Append(adj)
		return nil
	})
}
