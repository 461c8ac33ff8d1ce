package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"coedit.org/internal/store"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestUserByNameNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select id, username, email, password_hash, created_at").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "created_at"}))

	_, err := s.UserByName(context.Background(), "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckPassword(t *testing.T) {
	s, mock := newMock(t)
	hash, err := store.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	rows := sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "created_at"}).
		AddRow(int64(7), "alice", "alice@mail.io", hash, time.Now())
	mock.ExpectQuery("select id, username, email, password_hash, created_at").
		WithArgs("alice").WillReturnRows(rows)

	if err := s.CheckPassword(context.Background(), "alice", "s3cret"); err != nil {
		t.Fatalf("valid password rejected: %v", err)
	}
}

func TestCheckPasswordWrong(t *testing.T) {
	s, mock := newMock(t)
	hash, _ := store.HashPassword("s3cret")
	rows := sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "created_at"}).
		AddRow(int64(7), "alice", "alice@mail.io", hash, time.Now())
	mock.ExpectQuery("select id, username, email, password_hash, created_at").
		WithArgs("alice").WillReturnRows(rows)

	if err := s.CheckPassword(context.Background(), "alice", "nope"); !errors.Is(err, store.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCreateDocumentConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into documents").
		WithArgs("notes.txt", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id", "created_at"}))

	_, err := s.CreateDocument(context.Background(), "notes.txt", 1)
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select 1 from document_permissions").
		WithArgs(int64(3), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	ok, err := s.HasPermission(context.Background(), 2, 3)
	if err != nil || !ok {
		t.Fatalf("expected granted, got ok=%v err=%v", ok, err)
	}

	mock.ExpectQuery("select 1 from document_permissions").
		WithArgs(int64(3), int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	ok, err = s.HasPermission(context.Background(), 9, 3)
	if err != nil || ok {
		t.Fatalf("expected denied, got ok=%v err=%v", ok, err)
	}
}

func TestCreatePermissionRequestDuplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into permission_requests").
		WithArgs(sqlmock.AnyArg(), int64(2), int64(3), int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.CreatePermissionRequest(context.Background(), 2, 3, 1)
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUpdateChatMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update chats set data").
		WithArgs("notes.txt", "blob").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.UpdateChat(context.Background(), "notes.txt", "blob"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
