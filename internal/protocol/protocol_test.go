package protocol

import (
	"errors"
	"testing"
)

func TestDecodeLogin(t *testing.T) {
	raw := []byte("10000005alice00006secret")
	req, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	login, ok := req.(LoginRequest)
	if !ok {
		t.Fatalf("expected LoginRequest, got %T", req)
	}
	if login.Username != "alice" || login.Password != "secret" {
		t.Fatalf("unexpected fields: %+v", login)
	}
}

func TestDecodeSignup(t *testing.T) {
	raw := []byte("10100003bob00002pw00011bob@mail.io")
	req, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	signup := req.(SignupRequest)
	if signup.Username != "bob" || signup.Password != "pw" || signup.Email != "bob@mail.io" {
		t.Fatalf("unexpected fields: %+v", signup)
	}
}

func TestDecodeInsert(t *testing.T) {
	raw := []byte("11000005hello0001200001")
	req, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	ins := req.(InsertRequest)
	if ins.Data != "hello" || ins.Index != 12 || ins.NewlineCount != 1 {
		t.Fatalf("unexpected fields: %+v", ins)
	}
}

func TestDecodeDelete(t *testing.T) {
	raw := []byte("111000030001000000")
	req, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	del := req.(DeleteRequest)
	if del.Length != 3 || del.Index != 10 || del.NewlineCount != 0 {
		t.Fatalf("unexpected fields: %+v", del)
	}
}

func TestDecodeReplace(t *testing.T) {
	raw := []byte("1120000400002hi0000700000")
	req, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	rep := req.(ReplaceRequest)
	if rep.SelectionLength != 4 || rep.Data != "hi" || rep.Index != 7 || rep.NewlineCount != 0 {
		t.Fatalf("unexpected fields: %+v", rep)
	}
}

func TestDecodePostMessage(t *testing.T) {
	raw := []byte("14100009notes.txt00003hey")
	req, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	post := req.(PostMessageRequest)
	if post.Doc != "notes.txt" || post.Data != "hey" {
		t.Fatalf("unexpected fields: %+v", post)
	}
}

func TestDecodeLengthOverrun(t *testing.T) {
	raw := []byte("10000099alice")
	if _, err := Decode(raw); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeNonNumericPrefix(t *testing.T) {
	raw := []byte("100xxxxxalice00006secret")
	if _, err := Decode(raw); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	if _, err := Decode([]byte("77700001a")); !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("expected ErrUnknownOpcode, got %v", err)
	}
}

func TestDecodeTruncatedOpcode(t *testing.T) {
	if _, err := Decode([]byte("10")); !errors.Is(err, ErrMalformed) {
		t.Fatal("expected ErrMalformed on short opcode")
	}
}

func TestBuilderRoundTrip(t *testing.T) {
	msg := NewBuilder(CodeInsert).Str("hello").Num(12).Num(1).Bytes()
	req, err := Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	ins := req.(InsertRequest)
	if ins.Data != "hello" || ins.Index != 12 || ins.NewlineCount != 1 {
		t.Fatalf("round trip mismatch: %+v", ins)
	}
}

func TestBuilderExactBytes(t *testing.T) {
	got := NewBuilder(RespJoinDoc).Str("a.txt").Bytes()
	want := "22200005a.txt"
	if string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
