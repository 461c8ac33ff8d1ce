// Package store defines the persistence collaborator consulted by the sync
// engine for users, documents, permissions, permission requests and chat
// transcripts. The engine never owns this data; it only asks questions and
// issues writes at well-defined points.
package store

import "context"

// Store is implemented by Memory (in-process) and pg.Store (postgres).
type Store interface {
	// Users
	CreateUser(ctx context.Context, username, password, email string) (User, error)
	UserByName(ctx context.Context, username string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id int64) (User, error)
	CheckPassword(ctx context.Context, username, password string) error
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error

	// Documents
	CreateDocument(ctx context.Context, name string, ownerID int64) (Document, error)
	DocumentByName(ctx context.Context, name string) (Document, error)
	DocumentByID(ctx context.Context, id int64) (Document, error)
	DeleteDocument(ctx context.Context, name string) error

	// Permissions
	GrantPermission(ctx context.Context, userID, docID int64) error
	HasPermission(ctx context.Context, userID, docID int64) (bool, error)
	RevokePermissions(ctx context.Context, docID int64) error

	// Permission requests
	CreatePermissionRequest(ctx context.Context, userID, docID, ownerID int64) (PermissionRequest, error)
	PermissionRequestExists(ctx context.Context, userID, docID int64) (bool, error)
	PermissionRequestsForOwner(ctx context.Context, ownerID int64) ([]PermissionRequest, error)
	DeletePermissionRequest(ctx context.Context, userID, docID int64) error
	DeletePermissionRequestsForDocument(ctx context.Context, docID int64) error

	// Chat transcripts (opaque, already encoded by the chat cipher)
	CreateChat(ctx context.Context, doc string) error
	ChatData(ctx context.Context, doc string) (string, error)
	UpdateChat(ctx context.Context, doc, data string) error
	DeleteChat(ctx context.Context, doc string) error
}
