package protocol

import "strconv"

// Code is a 3-digit decimal opcode. Every wire message starts with one.
type Code int

// Request opcodes.
const (
	CodeLogin          Code = 100
	CodeSignup         Code = 101
	CodeLogout         Code = 102
	CodeForgotPassword Code = 103

	CodeInsert  Code = 110
	CodeDelete  Code = 111
	CodeReplace Code = 112

	CodeCreateDoc      Code = 120
	CodeDeleteDoc      Code = 121
	CodeJoinDoc        Code = 122
	CodeLeaveDoc       Code = 123
	CodeListDocs       Code = 124
	CodeInitialContent Code = 125

	CodeGetUsers      Code = 130
	CodeGetUsersOnDoc Code = 131

	CodeGetMessages Code = 140
	CodePostMessage Code = 141

	CodeRequestPermission Code = 150
	CodeApprovePermission Code = 151
	CodeRejectPermission  Code = 152
	CodeListPermissionReq Code = 153

	CodeDisconnect Code = 199
)

// Response opcodes mirror requests at +100.
const (
	RespLogin          Code = 200
	RespSignup         Code = 201
	RespLogout         Code = 202
	RespForgotPassword Code = 203

	RespInsert  Code = 210
	RespDelete  Code = 211
	RespReplace Code = 212

	RespCreateDoc      Code = 220
	RespDeleteDoc      Code = 221
	RespJoinDoc        Code = 222
	RespLeaveDoc       Code = 223
	RespListDocs       Code = 224
	RespInitialContent Code = 225

	RespGetUsers      Code = 230
	RespGetUsersOnDoc Code = 231

	RespGetMessages Code = 240
	RespPostMessage Code = 241

	RespRequestPermission Code = 250
	RespApprovePermission Code = 251
	RespRejectPermission  Code = 252
	RespListPermissionReq Code = 253
)

// Notice opcodes are pushed to peers without a matching request.
const (
	NoticeUserJoinedDoc Code = 260
	NoticeUserLeftDoc   Code = 261
	NoticeDocAdded      Code = 262
	NoticeDocRemoved    Code = 263
	NoticeUserOnline    Code = 264
	NoticeUserOffline   Code = 265
)

// RespError carries a human-readable failure back to the offending
// connection; it never terminates the connection by itself.
const RespError Code = 300

func (c Code) String() string {
	return strconv.Itoa(int(c))
}
