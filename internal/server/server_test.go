package server

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"coedit.org/internal/content"
	"coedit.org/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) set(ms int64) {
	c.mu.Lock()
	c.t = time.UnixMilli(ms)
	c.mu.Unlock()
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func newTestServer(t *testing.T) (*Server, *store.Memory, string, *fakeClock) {
	t.Helper()
	dir := t.TempDir()
	files, err := content.New(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatal(err)
	}
	mem := store.NewMemory()
	srv := New(Config{Store: mem, Content: files})
	clock := &fakeClock{t: time.UnixMilli(1)}
	srv.now = clock.now

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, mem, ln.Addr().String(), clock
}

type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msg string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(msg)); err != nil {
		c.t.Fatalf("send %q: %v", msg, err)
	}
}

// recv reads one TCP segment. The protocol has no outer framing, so small
// back-to-back pushes may coalesce; assertions use prefixes.
func (c *testClient) recv() string {
	c.t.Helper()
	buf := make([]byte, 8192)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := c.conn.Read(buf)
	if err != nil {
		c.t.Fatalf("recv: %v", err)
	}
	return string(buf[:n])
}

// drain discards everything already in flight for this client.
func (c *testClient) drain() {
	buf := make([]byte, 8192)
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		if _, err := c.conn.Read(buf); err != nil {
			return
		}
	}
}

func frame(s string) string {
	return padNum(len(s)) + s
}

func padNum(n int) string {
	digits := []byte("00000")
	for i := 4; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}

func signup(c *testClient, username, password, email string) string {
	c.t.Helper()
	c.send("101" + frame(username) + frame(password) + frame(email))
	got := c.recv()
	if !strings.HasPrefix(got, "201") {
		c.t.Fatalf("signup %s: got %q", username, got)
	}
	return got
}

func TestSignupThenDuplicateLogin(t *testing.T) {
	_, _, addr, _ := newTestServer(t)

	a := dialClient(t, addr)
	signup(a, "alice", "secret", "alice@mail.io")

	b := dialClient(t, addr)
	b.send("100" + frame("alice") + frame("secret"))
	got := b.recv()
	if !strings.HasPrefix(got, "300") {
		t.Fatalf("duplicate login should fail: %q", got)
	}

	// The first session must remain usable.
	a.drain()
	a.send("124")
	if got := a.recv(); !strings.HasPrefix(got, "224") {
		t.Fatalf("first session broken after duplicate login: %q", got)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	_, _, addr, _ := newTestServer(t)

	a := dialClient(t, addr)
	signup(a, "alice", "secret", "alice@mail.io")
	a.send("102")
	if got := a.recv(); !strings.HasPrefix(got, "202") {
		t.Fatalf("logout: %q", got)
	}

	a.send("100" + frame("alice") + frame("wrong"))
	if got := a.recv(); !strings.HasPrefix(got, "300") {
		t.Fatalf("bad password should fail: %q", got)
	}

	// Same connection can still log in correctly.
	a.send("100" + frame("alice") + frame("secret"))
	if got := a.recv(); !strings.HasPrefix(got, "200"+frame("alice")) {
		t.Fatalf("relogin: %q", got)
	}
}

func TestCreateDocAndInsert(t *testing.T) {
	srv, _, addr, _ := newTestServer(t)

	a := dialClient(t, addr)
	signup(a, "alice", "secret", "alice@mail.io")

	a.send("120doc.txt")
	if got := a.recv(); !strings.HasPrefix(got, "220"+frame("doc.txt")) {
		t.Fatalf("create doc: %q", got)
	}

	a.send("125doc.txt")
	if got := a.recv(); !strings.HasPrefix(got, "225"+frame("")) {
		t.Fatalf("initial content of empty doc: %q", got)
	}

	// The author gets no echo for edits; verify through the content store.
	a.send("110" + frame("hello") + padNum(0) + padNum(0))
	waitForContent(t, srv, "doc.txt", "hello")

	a.send("112" + padNum(5) + frame("bye") + padNum(0) + padNum(0))
	waitForContent(t, srv, "doc.txt", "bye")

	a.send("111" + padNum(2) + padNum(1) + padNum(0))
	waitForContent(t, srv, "doc.txt", "b")
}

func waitForContent(t *testing.T, srv *Server, doc, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := srv.content.Read(doc)
		if err == nil && got == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, err := srv.content.Read(doc)
	t.Fatalf("content = %q (err %v), want %q", got, err, want)
}

// joinSecond walks bob through the permission workflow into alice's document.
func joinSecond(t *testing.T, a, b *testClient, doc string) {
	t.Helper()
	b.send("150" + frame(doc) + frame("bob"))
	if got := b.recv(); !strings.HasPrefix(got, "250"+frame(doc)) {
		t.Fatalf("permission request: %q", got)
	}

	a.send("151" + frame(doc) + frame("bob"))
	if got := a.recv(); !strings.HasPrefix(got, "251") {
		t.Fatalf("approve: %q", got)
	}
	b.drain() // approval notice

	b.send("122" + frame(doc))
	if got := b.recv(); !strings.HasPrefix(got, "222"+frame(doc)) {
		t.Fatalf("join: %q", got)
	}
	a.drain() // join notice
}

func TestEditBroadcastWithConflictAdjustment(t *testing.T) {
	srv, _, addr, clock := newTestServer(t)

	a := dialClient(t, addr)
	signup(a, "alice", "secret", "alice@mail.io")
	a.send("120doc.txt")
	if got := a.recv(); !strings.HasPrefix(got, "220") {
		t.Fatalf("create: %q", got)
	}

	b := dialClient(t, addr)
	signup(b, "bob", "hunter", "bob@mail.io")
	joinSecond(t, a, b, "doc.txt")

	// Seed twenty bytes so later offsets stay in bounds.
	clock.set(500)
	a.send("110" + frame(strings.Repeat("a", 20)) + padNum(0) + padNum(0))
	if got := b.recv(); !strings.HasPrefix(got, "210") {
		t.Fatalf("seed broadcast: %q", got)
	}

	// Alice inserts at 5; bob's older edit at 10 arrives afterwards and
	// must shift forward past her three inserted bytes.
	clock.set(2000)
	a.send("110" + frame("abc") + padNum(5) + padNum(0))
	if got := b.recv(); !strings.HasPrefix(got, "210"+frame("abc")+padNum(5)) {
		t.Fatalf("insert broadcast: %q", got)
	}

	clock.set(1000)
	b.send("110" + frame("XY") + padNum(10) + padNum(0))
	got := a.recv()
	want := "210" + frame("XY") + padNum(13) + padNum(0)
	if got != want {
		t.Fatalf("adjusted broadcast = %q, want %q", got, want)
	}

	data, err := srv.content.Read("doc.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(data, "XY") || !strings.Contains(data, "abc") {
		t.Fatalf("final content missing edits: %q", data)
	}
}

func TestDeleteDocOccupiedThenAfterLeave(t *testing.T) {
	_, mem, addr, _ := newTestServer(t)

	a := dialClient(t, addr)
	signup(a, "alice", "secret", "alice@mail.io")
	a.send("120doc.txt")
	if got := a.recv(); !strings.HasPrefix(got, "220") {
		t.Fatalf("create: %q", got)
	}

	// Occupied: the delete fails and mutates nothing.
	a.send("121" + frame("doc.txt"))
	if got := a.recv(); !strings.HasPrefix(got, "300") {
		t.Fatalf("occupied delete should fail: %q", got)
	}
	if _, err := mem.DocumentByName(context.Background(), "doc.txt"); err != nil {
		t.Fatalf("document metadata mutated by failed delete: %v", err)
	}

	a.send("123")
	if got := a.recv(); !strings.HasPrefix(got, "223") {
		t.Fatalf("leave: %q", got)
	}

	a.send("121" + frame("doc.txt"))
	if got := a.recv(); !strings.HasPrefix(got, "221"+frame("doc.txt")) {
		t.Fatalf("delete after leave: %q", got)
	}
	if _, err := mem.DocumentByName(context.Background(), "doc.txt"); err == nil {
		t.Fatal("document metadata should be gone")
	}
	if _, err := mem.ChatData(context.Background(), "doc.txt"); err == nil {
		t.Fatal("chat should be gone")
	}
}

func TestChatPostAndFetch(t *testing.T) {
	_, _, addr, _ := newTestServer(t)

	a := dialClient(t, addr)
	signup(a, "alice", "secret", "alice@mail.io")
	a.send("120doc.txt")
	if got := a.recv(); !strings.HasPrefix(got, "220") {
		t.Fatalf("create: %q", got)
	}

	b := dialClient(t, addr)
	signup(b, "bob", "hunter", "bob@mail.io")
	joinSecond(t, a, b, "doc.txt")

	a.send("141" + frame("doc.txt") + frame("hey"))
	got := b.recv()
	want := "241" + frame("hey") + frame("alice")
	if got != want {
		t.Fatalf("chat broadcast = %q, want %q", got, want)
	}

	b.send("140doc.txt")
	got = b.recv()
	want = "240" + frame("hey") + frame("alice")
	if got != want {
		t.Fatalf("transcript = %q, want %q", got, want)
	}
}

func TestJoinWithoutPermission(t *testing.T) {
	_, _, addr, _ := newTestServer(t)

	a := dialClient(t, addr)
	signup(a, "alice", "secret", "alice@mail.io")
	a.send("120doc.txt")
	if got := a.recv(); !strings.HasPrefix(got, "220") {
		t.Fatalf("create: %q", got)
	}

	b := dialClient(t, addr)
	signup(b, "bob", "hunter", "bob@mail.io")
	b.send("122" + frame("doc.txt"))
	if got := b.recv(); !strings.HasPrefix(got, "300") {
		t.Fatalf("join without permission should fail: %q", got)
	}

	// A second identical permission request reports the pending one.
	b.send("150" + frame("doc.txt") + frame("bob"))
	if got := b.recv(); !strings.HasPrefix(got, "250") {
		t.Fatalf("first request: %q", got)
	}
	b.send("150" + frame("doc.txt") + frame("bob"))
	if got := b.recv(); !strings.HasPrefix(got, "300") {
		t.Fatalf("duplicate request should fail: %q", got)
	}
}

func TestListPermissionRequests(t *testing.T) {
	_, _, addr, _ := newTestServer(t)

	a := dialClient(t, addr)
	signup(a, "alice", "secret", "alice@mail.io")
	a.send("120doc.txt")
	if got := a.recv(); !strings.HasPrefix(got, "220") {
		t.Fatalf("create: %q", got)
	}

	b := dialClient(t, addr)
	signup(b, "bob", "hunter", "bob@mail.io")
	b.send("150" + frame("doc.txt") + frame("bob"))
	if got := b.recv(); !strings.HasPrefix(got, "250") {
		t.Fatalf("request: %q", got)
	}

	a.send("153")
	got := a.recv()
	want := "253" + frame("bob") + frame("doc.txt")
	if got != want {
		t.Fatalf("pending requests = %q, want %q", got, want)
	}
}

func TestUnknownOpcode(t *testing.T) {
	_, _, addr, _ := newTestServer(t)
	a := dialClient(t, addr)
	a.send("999")
	if got := a.recv(); !strings.HasPrefix(got, "300") {
		t.Fatalf("unknown opcode: %q", got)
	}
}

func TestDisconnectCleansRoom(t *testing.T) {
	_, _, addr, _ := newTestServer(t)

	a := dialClient(t, addr)
	signup(a, "alice", "secret", "alice@mail.io")
	a.send("120doc.txt")
	if got := a.recv(); !strings.HasPrefix(got, "220") {
		t.Fatalf("create: %q", got)
	}

	b := dialClient(t, addr)
	signup(b, "bob", "hunter", "bob@mail.io")
	joinSecond(t, a, b, "doc.txt")

	// Alice drops; bob gets the leave notice and becomes the last user, so
	// deleting the doc afterwards must require him to leave first.
	_ = a.conn.Close()
	got := b.recv()
	if !strings.HasPrefix(got, "261"+frame("alice")+frame("doc.txt")) {
		t.Fatalf("leave notice = %q", got)
	}

	b.send("123")
	if got := b.recv(); !strings.HasPrefix(got, "223") {
		t.Fatalf("leave: %q", got)
	}
	b.send("121" + frame("doc.txt"))
	if got := b.recv(); !strings.HasPrefix(got, "221") {
		t.Fatalf("delete after everyone left: %q", got)
	}
}

func TestGetUsersListsDocuments(t *testing.T) {
	_, _, addr, _ := newTestServer(t)

	a := dialClient(t, addr)
	signup(a, "alice", "secret", "alice@mail.io")
	a.send("120doc.txt")
	if got := a.recv(); !strings.HasPrefix(got, "220") {
		t.Fatalf("create: %q", got)
	}

	a.send("130")
	got := a.recv()
	want := "230" + frame("alice") + frame("doc.txt")
	if got != want {
		t.Fatalf("users = %q, want %q", got, want)
	}

	a.send("131doc.txt")
	got = a.recv()
	want = "231" + frame("alice")
	if got != want {
		t.Fatalf("users on doc = %q, want %q", got, want)
	}
}

func TestForgotPasswordRequiresLogout(t *testing.T) {
	_, _, addr, _ := newTestServer(t)

	a := dialClient(t, addr)
	signup(a, "alice", "secret", "alice@mail.io")

	a.send("103" + frame("alice") + frame("secret") + frame("next"))
	if got := a.recv(); !strings.HasPrefix(got, "300") {
		t.Fatalf("change while logged in should fail: %q", got)
	}

	a.send("102")
	if got := a.recv(); !strings.HasPrefix(got, "202") {
		t.Fatalf("logout: %q", got)
	}

	a.send("103" + frame("alice") + frame("secret") + frame("next"))
	if got := a.recv(); !strings.HasPrefix(got, "203"+frame("alice")) {
		t.Fatalf("password change: %q", got)
	}

	// The change acted as a login with the new password in force.
	a.send("102")
	if got := a.recv(); !strings.HasPrefix(got, "202") {
		t.Fatalf("logout: %q", got)
	}
	a.send("100" + frame("alice") + frame("next"))
	if got := a.recv(); !strings.HasPrefix(got, "200") {
		t.Fatalf("login with new password: %q", got)
	}
}

func TestContentFileOnDisk(t *testing.T) {
	srv, _, addr, _ := newTestServer(t)

	a := dialClient(t, addr)
	signup(a, "alice", "secret", "alice@mail.io")
	a.send("120notes.txt")
	if got := a.recv(); !strings.HasPrefix(got, "220") {
		t.Fatalf("create: %q", got)
	}
	a.send("110" + frame("on disk") + padNum(0) + padNum(0))
	waitForContent(t, srv, "notes.txt", "on disk")

	names, err := srv.content.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "notes.txt" {
		t.Fatalf("listing = %v", names)
	}
}
