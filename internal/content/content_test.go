package content

import (
	"errors"
	"testing"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateReadDelete(t *testing.T) {
	s := newStore(t)
	if err := s.Create("notes.txt"); err != nil {
		t.Fatal(err)
	}
	if err := s.Create("notes.txt"); err == nil {
		t.Fatal("expected error creating existing document")
	}
	got, err := s.Read("notes.txt")
	if err != nil || got != "" {
		t.Fatalf("got %q, %v", got, err)
	}
	if err := s.Delete("notes.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read("notes.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete("notes.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSplices(t *testing.T) {
	s := newStore(t)
	if err := s.Create("doc.txt"); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert("doc.txt", "hello world", 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert("doc.txt", "big ", 6); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Read("doc.txt")
	if got != "hello big world" {
		t.Fatalf("after insert: %q", got)
	}

	if err := s.DeleteRange("doc.txt", 4, 6); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Read("doc.txt")
	if got != "hello world" {
		t.Fatalf("after delete: %q", got)
	}

	if err := s.Replace("doc.txt", 5, "earth", 6); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Read("doc.txt")
	if got != "hello earth" {
		t.Fatalf("after replace: %q", got)
	}
}

func TestSpliceBounds(t *testing.T) {
	s := newStore(t)
	if err := s.Create("doc.txt"); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert("doc.txt", "x", 5); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if err := s.DeleteRange("doc.txt", 1, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestBadNames(t *testing.T) {
	s := newStore(t)
	for _, name := range []string{"", "../escape.txt", "a/b.txt", ".hidden"} {
		if err := s.Create(name); !errors.Is(err, ErrBadName) {
			t.Fatalf("name %q: expected ErrBadName, got %v", name, err)
		}
	}
}

func TestList(t *testing.T) {
	s := newStore(t)
	for _, name := range []string{"b.txt", "a.txt"} {
		if err := s.Create(name); err != nil {
			t.Fatal(err)
		}
	}
	names, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Fatalf("unexpected listing: %v", names)
	}
}
