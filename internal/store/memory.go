package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"coedit.org/internal/ids"
)

// Memory implements Store with in-process concurrency safety. It backs the
// server when no postgres DSN is configured and the connection-loop tests.
type Memory struct {
	mu         sync.RWMutex
	users      map[string]*User // keyed by username
	docs       map[string]*Document
	perms      map[int64]map[int64]bool // docID -> userID -> granted
	requests   []PermissionRequest
	chats      map[string]string
	nextUserID int64
	nextDocID  int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]*User),
		docs:  make(map[string]*Document),
		perms: make(map[int64]map[int64]bool),
		chats: make(map[string]string),
	}
}

func (m *Memory) CreateUser(ctx context.Context, username, password, email string) (User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return User{}, ErrAlreadyExists
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return User{}, ErrAlreadyExists
		}
	}
	m.nextUserID++
	u := &User{
		ID:           m.nextUserID,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[username] = u
	return *u, nil
}

func (m *Memory) UserByName(ctx context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (m *Memory) UserByEmail(ctx context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return *u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *Memory) UserByID(ctx context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ID == id {
			return *u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *Memory) CheckPassword(ctx context.Context, username, password string) error {
	m.mu.RLock()
	u, ok := m.users[username]
	m.mu.RUnlock()
	if !ok {
		return ErrInvalidCredentials
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (m *Memory) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if err := m.CheckPassword(ctx, username, oldPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *Memory) CreateDocument(ctx context.Context, name string, ownerID int64) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[name]; ok {
		return Document{}, ErrAlreadyExists
	}
	m.nextDocID++
	d := &Document{
		ID:        m.nextDocID,
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: time.Now().UTC(),
	}
	m.docs[name] = d
	return *d, nil
}

func (m *Memory) DocumentByName(ctx context.Context, name string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[name]
	if !ok {
		return Document{}, ErrNotFound
	}
	return *d, nil
}

func (m *Memory) DocumentByID(ctx context.Context, id int64) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.docs {
		if d.ID == id {
			return *d, nil
		}
	}
	return Document{}, ErrNotFound
}

func (m *Memory) DeleteDocument(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[name]; !ok {
		return ErrNotFound
	}
	delete(m.docs, name)
	return nil
}

func (m *Memory) GrantPermission(ctx context.Context, userID, docID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.perms[docID] == nil {
		m.perms[docID] = make(map[int64]bool)
	}
	m.perms[docID][userID] = true
	return nil
}

func (m *Memory) HasPermission(ctx context.Context, userID, docID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perms[docID][userID], nil
}

func (m *Memory) RevokePermissions(ctx context.Context, docID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.perms, docID)
	return nil
}

func (m *Memory) CreatePermissionRequest(ctx context.Context, userID, docID, ownerID int64) (PermissionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.UserID == userID && r.DocumentID == docID {
			return PermissionRequest{}, ErrAlreadyExists
		}
	}
	req := PermissionRequest{
		ID:         ids.New(),
		UserID:     userID,
		DocumentID: docID,
		OwnerID:    ownerID,
		CreatedAt:  time.Now().UTC(),
	}
	m.requests = append(m.requests, req)
	return req, nil
}

func (m *Memory) PermissionRequestExists(ctx context.Context, userID, docID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.requests {
		if r.UserID == userID && r.DocumentID == docID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) PermissionRequestsForOwner(ctx context.Context, ownerID int64) ([]PermissionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PermissionRequest
	for _, r := range m.requests {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) DeletePermissionRequest(ctx context.Context, userID, docID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.requests[:0]
	for _, r := range m.requests {
		if r.UserID == userID && r.DocumentID == docID {
			continue
		}
		kept = append(kept, r)
	}
	m.requests = kept
	return nil
}

func (m *Memory) DeletePermissionRequestsForDocument(ctx context.Context, docID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.requests[:0]
	for _, r := range m.requests {
		if r.DocumentID == docID {
			continue
		}
		kept = append(kept, r)
	}
	m.requests = kept
	return nil
}

func (m *Memory) CreateChat(ctx context.Context, doc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[doc]; ok {
		return ErrAlreadyExists
	}
	m.chats[doc] = ""
	return nil
}

func (m *Memory) ChatData(ctx context.Context, doc string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.chats[doc]
	if !ok {
		return "", ErrNotFound
	}
	return data, nil
}

func (m *Memory) UpdateChat(ctx context.Context, doc, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[doc]; !ok {
		return ErrNotFound
	}
	m.chats[doc] = data
	return nil
}

func (m *Memory) DeleteChat(ctx context.Context, doc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, doc)
	return nil
}
