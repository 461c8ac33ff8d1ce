// Package protocol implements the wire codec: a 3-digit decimal opcode
// followed by fields that are either fixed-width 5-digit decimals or a
// 5-digit length prefix and that many raw bytes. Requests decode into one
// variant type per opcode; responses are assembled with the same framing.
package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports a framing failure: a non-numeric prefix or a
	// declared length that overruns the buffer.
	ErrMalformed = errors.New("protocol: malformed request")
	// ErrUnknownOpcode reports an opcode outside the dispatch table.
	ErrUnknownOpcode = errors.New("protocol: unknown opcode")
)

// Request is one decoded wire request.
type Request interface {
	Code() Code
}

type LoginRequest struct {
	Username string // may also carry an email; the server resolves it
	Password string
}

type SignupRequest struct {
	Username string
	Password string
	Email    string
}

type LogoutRequest struct{}

type ForgotPasswordRequest struct {
	Username    string
	OldPassword string
	NewPassword string
}

type InsertRequest struct {
	Data         string
	Index        int
	NewlineCount int
}

type DeleteRequest struct {
	Length       int
	Index        int
	NewlineCount int
}

type ReplaceRequest struct {
	SelectionLength int
	Data            string
	Index           int
	NewlineCount    int
}

type CreateDocRequest struct{ Name string }

type DeleteDocRequest struct{ Name string }

type JoinDocRequest struct{ Name string }

type LeaveDocRequest struct{}

type ListDocsRequest struct{}

type InitialContentRequest struct{ Name string }

type GetUsersRequest struct{}

type GetUsersOnDocRequest struct{ Name string }

type GetMessagesRequest struct{ Name string }

type PostMessageRequest struct {
	Doc  string
	Data string
}

type RequestPermissionRequest struct {
	Doc      string
	Username string
}

type ApprovePermissionRequest struct {
	Doc      string
	Username string
}

type RejectPermissionRequest struct {
	Doc      string
	Username string
}

type ListPermissionReqRequest struct{}

type DisconnectRequest struct{}

func (LoginRequest) Code() Code             { return CodeLogin }
func (SignupRequest) Code() Code            { return CodeSignup }
func (LogoutRequest) Code() Code            { return CodeLogout }
func (ForgotPasswordRequest) Code() Code    { return CodeForgotPassword }
func (InsertRequest) Code() Code            { return CodeInsert }
func (DeleteRequest) Code() Code            { return CodeDelete }
func (ReplaceRequest) Code() Code           { return CodeReplace }
func (CreateDocRequest) Code() Code         { return CodeCreateDoc }
func (DeleteDocRequest) Code() Code         { return CodeDeleteDoc }
func (JoinDocRequest) Code() Code           { return CodeJoinDoc }
func (LeaveDocRequest) Code() Code          { return CodeLeaveDoc }
func (ListDocsRequest) Code() Code          { return CodeListDocs }
func (InitialContentRequest) Code() Code    { return CodeInitialContent }
func (GetUsersRequest) Code() Code          { return CodeGetUsers }
func (GetUsersOnDocRequest) Code() Code     { return CodeGetUsersOnDoc }
func (GetMessagesRequest) Code() Code       { return CodeGetMessages }
func (PostMessageRequest) Code() Code       { return CodePostMessage }
func (RequestPermissionRequest) Code() Code { return CodeRequestPermission }
func (ApprovePermissionRequest) Code() Code { return CodeApprovePermission }
func (RejectPermissionRequest) Code() Code  { return CodeRejectPermission }
func (ListPermissionReqRequest) Code() Code { return CodeListPermissionReq }
func (DisconnectRequest) Code() Code        { return CodeDisconnect }

// reader walks a request body field by field.
type reader struct {
	buf []byte
	off int
}

func (r *reader) num(width int) (int, error) {
	if r.off+width > len(r.buf) {
		return 0, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, width, r.off, len(r.buf)-r.off)
	}
	n := 0
	for _, b := range r.buf[r.off : r.off+width] {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("%w: non-numeric prefix %q", ErrMalformed, b)
		}
		n = n*10 + int(b-'0')
	}
	r.off += width
	return n, nil
}

func (r *reader) num5() (int, error) { return r.num(5) }

// str5 reads a 5-digit length prefix followed by that many raw bytes.
func (r *reader) str5() (string, error) {
	n, err := r.num5()
	if err != nil {
		return "", err
	}
	if r.off+n > len(r.buf) {
		return "", fmt.Errorf("%w: declared length %d exceeds remaining %d bytes", ErrMalformed, n, len(r.buf)-r.off)
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s, nil
}

// rest consumes everything after the current offset.
func (r *reader) rest() string {
	s := string(r.buf[r.off:])
	r.off = len(r.buf)
	return s
}

var decoders = map[Code]func(*reader) (Request, error){
	CodeLogin:             decodeLogin,
	CodeSignup:            decodeSignup,
	CodeLogout:            func(*reader) (Request, error) { return LogoutRequest{}, nil },
	CodeForgotPassword:    decodeForgotPassword,
	CodeInsert:            decodeInsert,
	CodeDelete:            decodeDelete,
	CodeReplace:           decodeReplace,
	CodeCreateDoc:         func(r *reader) (Request, error) { return CreateDocRequest{Name: r.rest()}, nil },
	CodeDeleteDoc:         decodeDeleteDoc,
	CodeJoinDoc:           decodeJoinDoc,
	CodeLeaveDoc:          func(*reader) (Request, error) { return LeaveDocRequest{}, nil },
	CodeListDocs:          func(*reader) (Request, error) { return ListDocsRequest{}, nil },
	CodeInitialContent:    func(r *reader) (Request, error) { return InitialContentRequest{Name: r.rest()}, nil },
	CodeGetUsers:          func(*reader) (Request, error) { return GetUsersRequest{}, nil },
	CodeGetUsersOnDoc:     func(r *reader) (Request, error) { return GetUsersOnDocRequest{Name: r.rest()}, nil },
	CodeGetMessages:       func(r *reader) (Request, error) { return GetMessagesRequest{Name: r.rest()}, nil },
	CodePostMessage:       decodePostMessage,
	CodeRequestPermission: decodePermission(func(doc, user string) Request { return RequestPermissionRequest{doc, user} }),
	CodeApprovePermission: decodePermission(func(doc, user string) Request { return ApprovePermissionRequest{doc, user} }),
	CodeRejectPermission:  decodePermission(func(doc, user string) Request { return RejectPermissionRequest{doc, user} }),
	CodeListPermissionReq: func(*reader) (Request, error) { return ListPermissionReqRequest{}, nil },
	CodeDisconnect:        func(*reader) (Request, error) { return DisconnectRequest{}, nil },
}

// Decode parses one raw request. The opcode selects the field layout.
func Decode(raw []byte) (Request, error) {
	r := &reader{buf: raw}
	code, err := r.num(3)
	if err != nil {
		return nil, err
	}
	decode, ok := decoders[Code(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %03d", ErrUnknownOpcode, code)
	}
	return decode(r)
}

func decodeLogin(r *reader) (Request, error) {
	username, err := r.str5()
	if err != nil {
		return nil, err
	}
	password, err := r.str5()
	if err != nil {
		return nil, err
	}
	return LoginRequest{Username: username, Password: password}, nil
}

func decodeSignup(r *reader) (Request, error) {
	username, err := r.str5()
	if err != nil {
		return nil, err
	}
	password, err := r.str5()
	if err != nil {
		return nil, err
	}
	email, err := r.str5()
	if err != nil {
		return nil, err
	}
	return SignupRequest{Username: username, Password: password, Email: email}, nil
}

func decodeForgotPassword(r *reader) (Request, error) {
	username, err := r.str5()
	if err != nil {
		return nil, err
	}
	oldPassword, err := r.str5()
	if err != nil {
		return nil, err
	}
	newPassword, err := r.str5()
	if err != nil {
		return nil, err
	}
	return ForgotPasswordRequest{Username: username, OldPassword: oldPassword, NewPassword: newPassword}, nil
}

func decodeInsert(r *reader) (Request, error) {
	data, err := r.str5()
	if err != nil {
		return nil, err
	}
	index, err := r.num5()
	if err != nil {
		return nil, err
	}
	newlines, err := r.num5()
	if err != nil {
		return nil, err
	}
	return InsertRequest{Data: data, Index: index, NewlineCount: newlines}, nil
}

func decodeDelete(r *reader) (Request, error) {
	length, err := r.num5()
	if err != nil {
		return nil, err
	}
	index, err := r.num5()
	if err != nil {
		return nil, err
	}
	newlines, err := r.num5()
	if err != nil {
		return nil, err
	}
	return DeleteRequest{Length: length, Index: index, NewlineCount: newlines}, nil
}

func decodeReplace(r *reader) (Request, error) {
	selection, err := r.num5()
	if err != nil {
		return nil, err
	}
	data, err := r.str5()
	if err != nil {
		return nil, err
	}
	index, err := r.num5()
	if err != nil {
		return nil, err
	}
	newlines, err := r.num5()
	if err != nil {
		return nil, err
	}
	return ReplaceRequest{SelectionLength: selection, Data: data, Index: index, NewlineCount: newlines}, nil
}

func decodeDeleteDoc(r *reader) (Request, error) {
	name, err := r.str5()
	if err != nil {
		return nil, err
	}
	return DeleteDocRequest{Name: name}, nil
}

func decodeJoinDoc(r *reader) (Request, error) {
	name, err := r.str5()
	if err != nil {
		return nil, err
	}
	return JoinDocRequest{Name: name}, nil
}

func decodePostMessage(r *reader) (Request, error) {
	doc, err := r.str5()
	if err != nil {
		return nil, err
	}
	data, err := r.str5()
	if err != nil {
		return nil, err
	}
	return PostMessageRequest{Doc: doc, Data: data}, nil
}

func decodePermission(build func(doc, user string) Request) func(*reader) (Request, error) {
	return func(r *reader) (Request, error) {
		doc, err := r.str5()
		if err != nil {
			return nil, err
		}
		user, err := r.str5()
		if err != nil {
			return nil, err
		}
		return build(doc, user), nil
	}
}
