package store

import "time"

// User is a registered account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Document is the metadata record for one shared document.
type Document struct {
	ID        int64
	Name      string
	OwnerID   int64
	CreatedAt time.Time
}

// PermissionRequest is a pending ask for access to a document, addressed
// to its owner.
type PermissionRequest struct {
	ID         string
	UserID     int64
	DocumentID int64
	OwnerID    int64
	CreatedAt  time.Time
}
