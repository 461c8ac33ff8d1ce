// Smoke client: signs up, creates a document, pushes one insert, reads the
// content back, then cleans the document up.
package main

import (
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"
)

func main() {
	addr := os.Getenv("COEDIT_ADDR")
	if addr == "" {
		addr = "localhost:8820"
	}

	suffix := rand.New(rand.NewSource(time.Now().UnixNano())).Intn(100000)
	user := fmt.Sprintf("smoke%d", suffix)
	doc := fmt.Sprintf("smoke%d.txt", suffix)

	a := dial(addr)
	defer a.Close()

	send(a, "101"+frame(user)+frame("smokepass")+frame(user+"@smoke.test"))
	expect(a, "201")

	send(a, "120"+doc)
	expect(a, "220")

	send(a, "110"+frame("smoke test line")+num(0)+num(0))
	// Edits are not echoed; give the server a moment to apply.
	time.Sleep(200 * time.Millisecond)

	send(a, "125"+doc)
	got := expect(a, "225")
	if !strings.Contains(got, "smoke test line") {
		log.Fatalf("content readback missing insert: %q", got)
	}

	send(a, "123")
	expect(a, "223")
	send(a, "121"+frame(doc))
	expect(a, "221")

	fmt.Printf("✅ coeditd smoke test passed: user=%s doc=%s\n", user, doc)
}

func dial(addr string) net.Conn {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		log.Fatalf("dial coeditd at %s: %v", addr, err)
	}
	return conn
}

func send(conn net.Conn, msg string) {
	if _, err := conn.Write([]byte(msg)); err != nil {
		log.Fatalf("send %q: %v", msg, err)
	}
}

func expect(conn net.Conn, code string) string {
	buf := make([]byte, 1<<16)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		log.Fatalf("read: %v", err)
	}
	got := string(buf[:n])
	if !strings.HasPrefix(got, code) {
		log.Fatalf("expected response %s, got %q", code, got)
	}
	return got
}

func frame(s string) string {
	return num(len(s)) + s
}

func num(n int) string {
	return fmt.Sprintf("%05d", n)
}
