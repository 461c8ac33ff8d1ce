// Package pg implements store.Store on postgres via the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"coedit.org/internal/ids"
	"coedit.org/internal/store"
)

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to postgres and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateUser(ctx context.Context, username, password, email string) (store.User, error) {
	hash, err := store.HashPassword(password)
	if err != nil {
		return store.User{}, err
	}
	var u store.User
	err = s.db.QueryRowContext(ctx, `
		insert into users(username, email, password_hash)
		values ($1, lower($2), $3)
		on conflict do nothing
		returning id, username, email, password_hash, created_at
	`, username, email, hash).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, store.ErrAlreadyExists
	}
	if err != nil {
		return store.User{}, err
	}
	return u, nil
}

func (s *Store) UserByName(ctx context.Context, username string) (store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, created_at
		from users where username=$1
	`, username))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, created_at
		from users where email=lower($1)
	`, email))
}

func (s *Store) UserByID(ctx context.Context, id int64) (store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, created_at
		from users where id=$1
	`, id))
}

func scanUser(row *sql.Row) (store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, store.ErrNotFound
	}
	if err != nil {
		return store.User{}, err
	}
	return u, nil
}

func (s *Store) CheckPassword(ctx context.Context, username, password string) error {
	u, err := s.UserByName(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return store.ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	if err := store.VerifyPassword(u.PasswordHash, password); err != nil {
		return store.ErrInvalidCredentials
	}
	return nil
}

func (s *Store) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if err := s.CheckPassword(ctx, username, oldPassword); err != nil {
		return err
	}
	hash, err := store.HashPassword(newPassword)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `update users set password_hash=$2 where username=$1`, username, hash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateDocument(ctx context.Context, name string, ownerID int64) (store.Document, error) {
	var d store.Document
	err := s.db.QueryRowContext(ctx, `
		insert into documents(name, owner_id)
		values ($1, $2)
		on conflict do nothing
		returning id, name, owner_id, created_at
	`, name, ownerID).Scan(&d.ID, &d.Name, &d.OwnerID, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, store.ErrAlreadyExists
	}
	if err != nil {
		return store.Document{}, err
	}
	return d, nil
}

func (s *Store) DocumentByName(ctx context.Context, name string) (store.Document, error) {
	var d store.Document
	err := s.db.QueryRowContext(ctx, `
		select id, name, owner_id, created_at from documents where name=$1
	`, name).Scan(&d.ID, &d.Name, &d.OwnerID, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, err
	}
	return d, nil
}

func (s *Store) DocumentByID(ctx context.Context, id int64) (store.Document, error) {
	var d store.Document
	err := s.db.QueryRowContext(ctx, `
		select id, name, owner_id, created_at from documents where id=$1
	`, id).Scan(&d.ID, &d.Name, &d.OwnerID, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, err
	}
	return d, nil
}

func (s *Store) DeleteDocument(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `delete from documents where name=$1`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GrantPermission(ctx context.Context, userID, docID int64) error {
	_, err := s.db.ExecContext(ctx, `
		insert into document_permissions(document_id, user_id)
		values ($1, $2) on conflict do nothing
	`, docID, userID)
	return err
}

func (s *Store) HasPermission(ctx context.Context, userID, docID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from document_permissions where document_id=$1 and user_id=$2
	`, docID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) RevokePermissions(ctx context.Context, docID int64) error {
	_, err := s.db.ExecContext(ctx, `delete from document_permissions where document_id=$1`, docID)
	return err
}

func (s *Store) CreatePermissionRequest(ctx context.Context, userID, docID, ownerID int64) (store.PermissionRequest, error) {
	req := store.PermissionRequest{
		ID:         ids.New(),
		UserID:     userID,
		DocumentID: docID,
		OwnerID:    ownerID,
		CreatedAt:  time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx, `
		insert into permission_requests(id, user_id, document_id, owner_id, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (user_id, document_id) do nothing
	`, req.ID, req.UserID, req.DocumentID, req.OwnerID, req.CreatedAt)
	if err != nil {
		return store.PermissionRequest{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.PermissionRequest{}, err
	}
	if n == 0 {
		return store.PermissionRequest{}, store.ErrAlreadyExists
	}
	return req, nil
}

func (s *Store) PermissionRequestExists(ctx context.Context, userID, docID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from permission_requests where user_id=$1 and document_id=$2
	`, userID, docID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) PermissionRequestsForOwner(ctx context.Context, ownerID int64) ([]store.PermissionRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, document_id, owner_id, created_at
		from permission_requests
		where owner_id=$1
		order by id asc
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PermissionRequest
	for rows.Next() {
		var r store.PermissionRequest
		if err := rows.Scan(&r.ID, &r.UserID, &r.DocumentID, &r.OwnerID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeletePermissionRequest(ctx context.Context, userID, docID int64) error {
	_, err := s.db.ExecContext(ctx, `
		delete from permission_requests where user_id=$1 and document_id=$2
	`, userID, docID)
	return err
}

func (s *Store) DeletePermissionRequestsForDocument(ctx context.Context, docID int64) error {
	_, err := s.db.ExecContext(ctx, `delete from permission_requests where document_id=$1`, docID)
	return err
}

func (s *Store) CreateChat(ctx context.Context, doc string) error {
	res, err := s.db.ExecContext(ctx, `
		insert into chats(document_name, data) values ($1, '')
		on conflict do nothing
	`, doc)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (s *Store) ChatData(ctx context.Context, doc string) (string, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `select data from chats where document_name=$1`, doc).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return data, nil
}

func (s *Store) UpdateChat(ctx context.Context, doc, data string) error {
	res, err := s.db.ExecContext(ctx, `update chats set data=$2 where document_name=$1`, doc, data)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteChat(ctx context.Context, doc string) error {
	_, err := s.db.ExecContext(ctx, `delete from chats where document_name=$1`, doc)
	return err
}
